package store

import (
	"crypto/sha256"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/dedis/raffle/core"
	"github.com/dedis/raffle/escrow"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

func id(s string) core.ID {
	return core.ID(sha256.Sum256([]byte(s)))
}

func newStore(t *testing.T) *Store {
	dir, err := ioutil.TempDir("", "store")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	db, err := bbolt.Open(filepath.Join(dir, "raffle.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := New(db, []byte("escrow"))
	require.NoError(t, err)
	return s
}

func TestStore_Records(t *testing.T) {
	s := newStore(t)
	authority, entrantsID := id("authority"), id("entrants")
	env := escrow.Env{Now: 10, TimeBuffer: escrow.DefaultTimeBuffer}

	r, l, err := escrow.Create(env, authority, entrantsID, 20, 5, 3, 10)
	require.NoError(t, err)
	require.NoError(t, l.Append(id("buyer")))

	require.NoError(t, s.Update(func(txn *Txn) error {
		if err := txn.PutRaffle(r); err != nil {
			return err
		}
		return txn.PutEntrants(entrantsID, l)
	}))

	require.NoError(t, s.View(func(txn *Txn) error {
		got, err := txn.Raffle(r.ID)
		require.NoError(t, err)
		require.Equal(t, r, got)
		gotL, err := txn.Entrants(entrantsID)
		require.NoError(t, err)
		require.Equal(t, l, gotL)
		return nil
	}))

	require.NoError(t, s.Update(func(txn *Txn) error {
		return txn.DeleteEntrants(entrantsID)
	}))
	require.NoError(t, s.View(func(txn *Txn) error {
		_, err := txn.Entrants(entrantsID)
		require.True(t, xerrors.Is(err, ErrNotFound))
		_, err = txn.Raffle(id("missing"))
		require.True(t, xerrors.Is(err, ErrNotFound))
		return nil
	}))
}

func TestStore_Rollback(t *testing.T) {
	s := newStore(t)
	alice, bob := id("alice"), id("bob")
	require.NoError(t, s.Update(func(txn *Txn) error {
		_, err := txn.Vault().Credit(alice, 100)
		return err
	}))

	// A failure after a transfer discards the transfer too.
	boom := xerrors.New("boom")
	err := s.Update(func(txn *Txn) error {
		if err := txn.Vault().Transfer(alice, bob, 70); err != nil {
			return err
		}
		if err := txn.AppendEvent(id("raffle"), &Event{Type: EventTickets}); err != nil {
			return err
		}
		return boom
	})
	require.Equal(t, boom, err)

	require.NoError(t, s.View(func(txn *Txn) error {
		balance, err := txn.Vault().BalanceOf(alice)
		require.NoError(t, err)
		require.Equal(t, uint64(100), balance)
		balance, err = txn.Vault().BalanceOf(bob)
		require.NoError(t, err)
		require.Zero(t, balance)
		events, err := txn.Events(id("raffle"))
		require.NoError(t, err)
		require.Empty(t, events)
		return nil
	}))
}

func TestStore_Events(t *testing.T) {
	s := newStore(t)
	raffle := id("raffle")
	in := []Event{
		{Type: EventCreated, Time: 1, Account: id("a").Bytes()},
		{Type: EventTickets, Time: 2, Account: id("b").Bytes(), Amount: 3, Total: 3, Fees: 15},
		{Type: EventWinner, Time: 9, Index: 2},
	}
	for i := range in {
		require.NoError(t, s.Update(func(txn *Txn) error {
			return txn.AppendEvent(raffle, &in[i])
		}))
	}
	require.NoError(t, s.View(func(txn *Txn) error {
		events, err := txn.Events(raffle)
		require.NoError(t, err)
		require.Len(t, events, len(in))
		for i := range in {
			require.Equal(t, in[i].Type, events[i].Type)
			require.Equal(t, in[i].Time, events[i].Time)
			require.Equal(t, len(in[i].Account), len(events[i].Account))
			if len(in[i].Account) > 0 {
				require.Equal(t, in[i].Account, events[i].Account)
			}
			require.Equal(t, in[i].Amount, events[i].Amount)
			require.Equal(t, in[i].Total, events[i].Total)
			require.Equal(t, in[i].Fees, events[i].Fees)
			require.Equal(t, in[i].Index, events[i].Index)
		}
		other, err := txn.Events(id("other"))
		require.NoError(t, err)
		require.Empty(t, other)
		return nil
	}))
}
