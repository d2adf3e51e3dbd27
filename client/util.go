package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dedis/raffle/core"
	"github.com/dedis/raffle/store"
	"github.com/dedis/raffle/utils"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

func readRoster(c *cli.Context) (*onet.Roster, error) {
	path := c.GlobalString("roster")
	if path == "" {
		return nil, xerrors.New("missing --roster")
	}
	return utils.ReadRoster(path)
}

func readSigner(c *cli.Context) (darc.Signer, error) {
	path := c.GlobalString("key")
	if path == "" {
		return darc.Signer{}, xerrors.New("missing --key")
	}
	return utils.ReadKey(path)
}

// argID parses the i-th positional argument as an id.
func argID(c *cli.Context, i int, name string) (core.ID, error) {
	if c.NArg() <= i {
		return core.ID{}, xerrors.Errorf("missing %s", name)
	}
	id, err := core.ParseID(c.Args().Get(i))
	if err != nil {
		return id, xerrors.Errorf("%s: %v", name, err)
	}
	return id, nil
}

func argUint(c *cli.Context, i int, name string, bits int) (uint64, error) {
	if c.NArg() <= i {
		return 0, xerrors.Errorf("missing %s", name)
	}
	v, err := strconv.ParseUint(c.Args().Get(i), 10, bits)
	if err != nil {
		return 0, xerrors.Errorf("%s: %v", name, err)
	}
	return v, nil
}

// parseEnd accepts a unix timestamp or a duration relative to now such as
// "+10m".
func parseEnd(s string, now time.Time) (int64, error) {
	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return 0, xerrors.Errorf("end: %v", err)
		}
		return now.Add(d).Unix(), nil
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("end: %v", err)
	}
	return ts, nil
}

func formatEvent(ev store.Event) string {
	ts := time.Unix(ev.Time, 0).UTC().Format(time.RFC3339)
	account := hex.EncodeToString(ev.Account)
	switch ev.Type {
	case store.EventCreated:
		return fmt.Sprintf("%s created by %s", ts, account)
	case store.EventTickets:
		return fmt.Sprintf("%s %s paid %d, %d tickets sold, fees %d", ts, account,
			ev.Amount, ev.Total, ev.Fees)
	case store.EventWinner:
		return fmt.Sprintf("%s ticket %d won, held by %s", ts, ev.Index, account)
	case store.EventClaim:
		return fmt.Sprintf("%s %s claimed %d, fees %d", ts, account, ev.Amount, ev.Fees)
	case store.EventClose:
		return fmt.Sprintf("%s closed, %d refunded to %s", ts, ev.Amount, account)
	}
	return fmt.Sprintf("%s %s", ts, ev.Type)
}

func printEvents(w io.Writer, events []store.Event) {
	for _, ev := range events {
		fmt.Fprintln(w, formatEvent(ev))
	}
}
