// Package store persists the raffle unit's records in bbolt. Every raffle
// operation runs inside one Update: bbolt admits a single writer at a time
// and a returned error rolls back the whole transaction, fund movements
// included.
package store

import (
	"encoding/binary"

	"github.com/dedis/raffle/core"
	"github.com/dedis/raffle/custody"
	"github.com/dedis/raffle/escrow"
	"github.com/dedis/raffle/ledger"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var (
	rafflesBucket  = []byte("raffles")
	entrantsBucket = []byte("entrants")
	accountsBucket = []byte("accounts")
	eventsBucket   = []byte("events")
)

// ErrNotFound is returned for records that do not exist.
var ErrNotFound = xerrors.New("record not found")

// Event types.
const (
	EventCreated = "created"
	EventTickets = "tickets"
	EventWinner  = "winner"
	EventClaim   = "claim"
	EventClose   = "close"
)

// Event is one entry of a raffle's log. Which amounts are set depends on
// the type.
type Event struct {
	Type    string
	Time    int64
	Account []byte
	Amount  uint64
	Total   uint32
	Fees    uint64
	Index   uint32
}

// Store gives transactional access to the records kept under one bucket.
type Store struct {
	db     *bbolt.DB
	bucket []byte
}

// New creates the record buckets under bucket if needed.
func New(db *bbolt.DB, bucket []byte) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		for _, name := range [][]byte{rafflesBucket, entrantsBucket,
			accountsBucket, eventsBucket} {
			if _, err := root.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("creating buckets: %v", err)
	}
	return &Store{db: db, bucket: bucket}, nil
}

// Update runs f in a read-write transaction. The transaction commits only
// if f returns nil.
func (s *Store) Update(f func(*Txn) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return f(s.txn(tx))
	})
}

// View runs f in a read-only transaction.
func (s *Store) View(f func(*Txn) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return f(s.txn(tx))
	})
}

func (s *Store) txn(tx *bbolt.Tx) *Txn {
	return &Txn{root: tx.Bucket(s.bucket)}
}

// Txn is a view on the record buckets inside one bbolt transaction.
type Txn struct {
	root *bbolt.Bucket
}

func (t *Txn) bucket(name []byte) *bbolt.Bucket {
	return t.root.Bucket(name)
}

// Raffle loads the raffle record with the given id.
func (t *Txn) Raffle(id core.ID) (*escrow.Raffle, error) {
	buf := t.bucket(rafflesBucket).Get(id[:])
	if buf == nil {
		return nil, xerrors.Errorf("raffle %x: %w", id[:8], ErrNotFound)
	}
	var r escrow.Raffle
	if err := r.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *Txn) PutRaffle(r *escrow.Raffle) error {
	buf, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	return t.bucket(rafflesBucket).Put(r.ID[:], buf)
}

// Entrants loads the entrant ledger with the given id.
func (t *Txn) Entrants(id core.ID) (*ledger.Entrants, error) {
	buf := t.bucket(entrantsBucket).Get(id[:])
	if buf == nil {
		return nil, xerrors.Errorf("entrants %x: %w", id[:8], ErrNotFound)
	}
	var l ledger.Entrants
	if err := l.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *Txn) PutEntrants(id core.ID, l *ledger.Entrants) error {
	buf, err := l.MarshalBinary()
	if err != nil {
		return err
	}
	return t.bucket(entrantsBucket).Put(id[:], buf)
}

func (t *Txn) DeleteEntrants(id core.ID) error {
	return t.bucket(entrantsBucket).Delete(id[:])
}

// Vault returns the custody accounts of this transaction.
func (t *Txn) Vault() *custody.Vault {
	return custody.NewVault(t.bucket(accountsBucket))
}

// AppendEvent adds ev at the end of the raffle's log.
func (t *Txn) AppendEvent(raffle core.ID, ev *Event) error {
	log, err := t.bucket(eventsBucket).CreateBucketIfNotExists(raffle[:])
	if err != nil {
		return err
	}
	seq, err := log.NextSequence()
	if err != nil {
		return err
	}
	buf, err := protobuf.Encode(ev)
	if err != nil {
		return xerrors.Errorf("encoding event: %v", err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return log.Put(key, buf)
}

// Events returns the raffle's log in order.
func (t *Txn) Events(raffle core.ID) ([]Event, error) {
	log := t.bucket(eventsBucket).Bucket(raffle[:])
	if log == nil {
		return nil, nil
	}
	var events []Event
	err := log.ForEach(func(_, v []byte) error {
		var ev Event
		if err := protobuf.Decode(v, &ev); err != nil {
			return xerrors.Errorf("decoding event: %v", err)
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
