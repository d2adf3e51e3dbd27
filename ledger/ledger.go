// Package ledger holds the entrant ledger of a raffle: a pre-sized,
// append-only list of ticket holders.
package ledger

import (
	"github.com/dedis/raffle/core"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// Cap is the number of slots every ledger is allocated with.
const Cap = 1000

// Size is the storage footprint of a ledger, independent of Max: an 8-byte
// tag, Total, Max and the Cap slots.
const Size = 8 + 4 + 4 + core.IDLen*Cap

// Entrants is the ticket pool of one raffle. Only entries[:Total] hold
// participants.
type Entrants struct {
	Raffle core.ID
	Total  uint32
	Max    uint32

	entries [Cap]core.ID
}

// New returns an empty ledger owned by the given raffle.
func New(raffle core.ID, max uint32) (*Entrants, error) {
	if max == 0 || max > Cap {
		return nil, core.ErrInvalidMaxEntrants
	}
	return &Entrants{Raffle: raffle, Max: max}, nil
}

// Append registers one ticket for the participant.
func (e *Entrants) Append(participant core.ID) error {
	if e.Total >= e.Max {
		return core.ErrNotEnoughTicketsLeft
	}
	e.entries[e.Total] = participant
	e.Total++
	return nil
}

// At returns the holder of ticket i.
func (e *Entrants) At(i uint32) (core.ID, error) {
	if i >= e.Total {
		return core.ID{}, core.ErrInvalidPrizeIndex
	}
	return e.entries[i], nil
}

// Remaining is the number of tickets still for sale.
func (e *Entrants) Remaining() uint32 {
	return e.Max - e.Total
}

// Count returns how many tickets the participant holds.
func (e *Entrants) Count(participant core.ID) uint32 {
	var n uint32
	for _, id := range e.entries[:e.Total] {
		if id == participant {
			n++
		}
	}
	return n
}

// record is the persisted form; only the filled slots are written.
type record struct {
	Raffle  []byte
	Total   uint32
	Max     uint32
	Entries [][]byte
}

func (e *Entrants) MarshalBinary() ([]byte, error) {
	rec := record{
		Raffle:  e.Raffle.Bytes(),
		Total:   e.Total,
		Max:     e.Max,
		Entries: make([][]byte, e.Total),
	}
	for i := uint32(0); i < e.Total; i++ {
		rec.Entries[i] = e.entries[i].Bytes()
	}
	buf, err := protobuf.Encode(&rec)
	if err != nil {
		return nil, xerrors.Errorf("encoding entrants: %v", err)
	}
	return buf, nil
}

func (e *Entrants) UnmarshalBinary(buf []byte) error {
	var rec record
	if err := protobuf.Decode(buf, &rec); err != nil {
		return xerrors.Errorf("decoding entrants: %v", err)
	}
	if rec.Max > Cap || rec.Total > rec.Max || int(rec.Total) != len(rec.Entries) {
		return xerrors.Errorf("corrupted entrants: total=%d max=%d entries=%d",
			rec.Total, rec.Max, len(rec.Entries))
	}
	raffle, err := core.NewID(rec.Raffle)
	if err != nil {
		return err
	}
	*e = Entrants{Raffle: raffle, Total: rec.Total, Max: rec.Max}
	for i, buf := range rec.Entries {
		id, err := core.NewID(buf)
		if err != nil {
			return err
		}
		e.entries[i] = id
	}
	return nil
}
