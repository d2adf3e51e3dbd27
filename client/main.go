package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/dedis/raffle/beacon"
	"github.com/dedis/raffle/core"
	"github.com/dedis/raffle/escrow"
	"github.com/dedis/raffle/raffle"
	"github.com/dedis/raffle/utils"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "raffle"
	app.Usage = "create, enter and settle raffles"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "roster, r", Usage: "group definition file"},
		cli.StringFlag{Name: "key, k", Usage: "account key file"},
		cli.IntFlag{Name: "debug, d", Usage: "debug level"},
	}
	app.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.GlobalInt("debug"))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:      "keygen",
			Usage:     "create a new account key",
			ArgsUsage: "FILE",
			Action:    keygen,
		},
		{
			Name:  "init",
			Usage: "initialize the raffle unit",
			Flags: []cli.Flag{
				cli.Int64Flag{Name: "buffer", Value: escrow.DefaultTimeBuffer,
					Usage: "seconds between the end of a raffle and its draw"},
				cli.Uint64Flag{Name: "faucet", Usage: "largest airdrop, 0 disables it"},
			},
			Action: initUnit,
		},
		{
			Name:      "account",
			Usage:     "show an account, the key's by default",
			ArgsUsage: "[ACCOUNT]",
			Action:    showAccount,
		},
		{
			Name:      "airdrop",
			Usage:     "fund the key's account from the faucet",
			ArgsUsage: "AMOUNT",
			Action:    airdrop,
		},
		{
			Name:  "create",
			Usage: "create a raffle with the key as authority",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "end", Usage: "unix timestamp or +duration"},
				cli.Uint64Flag{Name: "price", Usage: "ticket price"},
				cli.UintFlag{Name: "max", Usage: "maximum number of tickets"},
				cli.UintFlag{Name: "fee", Usage: "fee percent"},
			},
			Action: create,
		},
		{
			Name:      "buy",
			Usage:     "buy tickets",
			ArgsUsage: "RAFFLE AMOUNT",
			Action:    buy,
		},
		{
			Name:      "reveal",
			Usage:     "draw the winning ticket",
			ArgsUsage: "RAFFLE",
			Action:    reveal,
		},
		{
			Name:      "claim",
			Usage:     "claim the prize of a raffle the key won",
			ArgsUsage: "RAFFLE",
			Action:    claim,
		},
		{
			Name:      "close",
			Usage:     "close the entrant ledger and reclaim its rent",
			ArgsUsage: "RAFFLE",
			Action:    closeEntrants,
		},
		{
			Name:      "show",
			Usage:     "show a raffle",
			ArgsUsage: "RAFFLE",
			Action:    show,
		},
		{
			Name:      "events",
			Usage:     "list the events of a raffle",
			ArgsUsage: "RAFFLE",
			Action:    events,
		},
		{
			Name:  "beacon",
			Usage: "manage the randomness beacon",
			Subcommands: []cli.Command{
				{
					Name:  "dkg",
					Usage: "run the distributed key generation",
					Flags: []cli.Flag{
						cli.IntFlag{Name: "timeout", Value: 10, Usage: "seconds"},
					},
					Action: beaconDKG,
				},
				{
					Name:   "round",
					Usage:  "produce a new beacon round",
					Action: beaconRound,
				},
				{
					Name:   "latest",
					Usage:  "show the latest beacon round",
					Action: beaconLatest,
				},
			},
		},
	}
	return app
}

func keygen(c *cli.Context) error {
	if c.NArg() < 1 {
		return xerrors.New("missing key file")
	}
	signer := darc.NewSignerEd25519(nil, nil)
	if err := utils.WriteKey(c.Args().First(), signer); err != nil {
		return err
	}
	id, err := raffle.SignerID(signer)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, id)
	return nil
}

func raffleClient(c *cli.Context) (*raffle.Client, error) {
	roster, err := readRoster(c)
	if err != nil {
		return nil, err
	}
	signer, err := readSigner(c)
	if err != nil {
		return nil, err
	}
	return raffle.NewClient(roster, signer), nil
}

func initUnit(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	_, err = cl.InitUnit(&raffle.Config{
		TimeBuffer:  c.Int64("buffer"),
		FaucetLimit: c.Uint64("faucet"),
	})
	return err
}

func showAccount(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	var id core.ID
	if c.NArg() > 0 {
		id, err = argID(c, 0, "account")
	} else {
		id, err = cl.ID()
	}
	if err != nil {
		return err
	}
	reply, err := cl.GetAccount(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "account %s\nbalance %d\ncounter %d\n", id,
		reply.Balance, reply.Counter)
	return nil
}

func airdrop(c *cli.Context) error {
	amount, err := argUint(c, 0, "amount", 64)
	if err != nil {
		return err
	}
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	id, err := cl.ID()
	if err != nil {
		return err
	}
	reply, err := cl.Airdrop(id, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "balance %d\n", reply.Balance)
	return nil
}

func create(c *cli.Context) error {
	end, err := parseEnd(c.String("end"), time.Now())
	if err != nil {
		return err
	}
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.CreateRaffle(end, c.Uint64("price"), uint32(c.Uint("max")),
		uint32(c.Uint("fee")))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "raffle %x\nentrants %x\nrent %d\n", reply.RaffleID,
		reply.EntrantsID, reply.Rent)
	return nil
}

func buy(c *cli.Context) error {
	id, err := argID(c, 0, "raffle")
	if err != nil {
		return err
	}
	amount, err := argUint(c, 1, "amount", 32)
	if err != nil {
		return err
	}
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.BuyTickets(id, uint32(amount))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "paid %d, fee %d, %d tickets sold, fees %d\n",
		reply.Cost, reply.Fee, reply.Total, reply.AccumulatedFees)
	return nil
}

func reveal(c *cli.Context) error {
	id, err := argID(c, 0, "raffle")
	if err != nil {
		return err
	}
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.RevealWinner(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "ticket %d won, held by %x\n", reply.Index, reply.Winner)
	return nil
}

func claim(c *cli.Context) error {
	id, err := argID(c, 0, "raffle")
	if err != nil {
		return err
	}
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	info, err := cl.GetRaffle(id)
	if err != nil {
		return err
	}
	authority, err := core.NewID(info.Authority)
	if err != nil {
		return err
	}
	reply, err := cl.ClaimPrize(id, authority)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "prize %d, fees %d\n", reply.Prize, reply.Fees)
	return nil
}

func closeEntrants(c *cli.Context) error {
	id, err := argID(c, 0, "raffle")
	if err != nil {
		return err
	}
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.CloseEntrants(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "refund %d\n", reply.Refund)
	return nil
}

func show(c *cli.Context) error {
	id, err := argID(c, 0, "raffle")
	if err != nil {
		return err
	}
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	r, err := cl.GetRaffle(id)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "authority %x\nentrants %x\n", r.Authority, r.EntrantsID)
	fmt.Fprintf(w, "ends %s\n", time.Unix(r.EndTimestamp, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "price %d, fee %d%%, fees %d\n", r.TicketPrice, r.FeePercent,
		r.AccumulatedFees)
	if r.Closed {
		fmt.Fprintln(w, "entrants closed")
	} else {
		fmt.Fprintf(w, "tickets %d/%d\n", r.Total, r.MaxEntrants)
	}
	fmt.Fprintf(w, "escrow %d (floor %d)\n", r.Balance, r.Floor)
	if r.Drawn {
		fmt.Fprintf(w, "winner ticket %d, held by %x, claimed %t\n", r.WinnerIndex,
			r.Winner, r.Claimed)
	}
	return nil
}

func events(c *cli.Context) error {
	id, err := argID(c, 0, "raffle")
	if err != nil {
		return err
	}
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.GetEvents(id)
	if err != nil {
		return err
	}
	printEvents(c.App.Writer, reply.Events)
	return nil
}

func beaconClient(c *cli.Context) (*beacon.Client, error) {
	roster, err := readRoster(c)
	if err != nil {
		return nil, err
	}
	return beacon.NewClient(roster), nil
}

func beaconDKG(c *cli.Context) error {
	cl, err := beaconClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.InitDKG(c.Int("timeout"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "public %s\n", hex.EncodeToString(reply.Public))
	return nil
}

func printRound(c *cli.Context, round beacon.Round) {
	fmt.Fprintf(c.App.Writer, "round %d at %s\nsignature %x\n", round.Round,
		time.Unix(round.Time, 0).UTC().Format(time.RFC3339), round.Sig)
}

func beaconRound(c *cli.Context) error {
	cl, err := beaconClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.Randomness()
	if err != nil {
		return err
	}
	printRound(c, reply.Round)
	return nil
}

func beaconLatest(c *cli.Context) error {
	cl, err := beaconClient(c)
	if err != nil {
		return err
	}
	defer cl.Close()
	reply, err := cl.Latest()
	if err != nil {
		return err
	}
	printRound(c, reply.Round)
	return nil
}
