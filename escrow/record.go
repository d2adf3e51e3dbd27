package escrow

import (
	"github.com/dedis/raffle/core"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

type record struct {
	ID              []byte
	Authority       []byte
	EntrantsID      []byte
	EndTimestamp    int64
	TicketPrice     uint64
	FeePercent      uint32
	AccumulatedFees uint64
	Drawn           bool
	WinnerIndex     uint32
	Claimed         bool
	Closed          bool
}

func (r *Raffle) MarshalBinary() ([]byte, error) {
	index, drawn := r.Winner.Index()
	rec := record{
		ID:              r.ID.Bytes(),
		Authority:       r.Authority.Bytes(),
		EntrantsID:      r.EntrantsID.Bytes(),
		EndTimestamp:    r.EndTimestamp,
		TicketPrice:     r.TicketPrice,
		FeePercent:      uint32(r.FeePercent),
		AccumulatedFees: r.AccumulatedFees,
		Drawn:           drawn,
		WinnerIndex:     index,
		Claimed:         r.Claimed,
		Closed:          r.Closed,
	}
	buf, err := protobuf.Encode(&rec)
	if err != nil {
		return nil, xerrors.Errorf("encoding raffle: %v", err)
	}
	return buf, nil
}

func (r *Raffle) UnmarshalBinary(buf []byte) error {
	var rec record
	if err := protobuf.Decode(buf, &rec); err != nil {
		return xerrors.Errorf("decoding raffle: %v", err)
	}
	if rec.FeePercent == 0 || rec.FeePercent > MaxFeePercent {
		return xerrors.Errorf("corrupted raffle: fee percent %d", rec.FeePercent)
	}
	if rec.Claimed && !rec.Drawn {
		return xerrors.New("corrupted raffle: claimed before drawn")
	}
	id, err := core.NewID(rec.ID)
	if err != nil {
		return err
	}
	authority, err := core.NewID(rec.Authority)
	if err != nil {
		return err
	}
	entrants, err := core.NewID(rec.EntrantsID)
	if err != nil {
		return err
	}
	*r = Raffle{
		ID:              id,
		Authority:       authority,
		EntrantsID:      entrants,
		EndTimestamp:    rec.EndTimestamp,
		TicketPrice:     rec.TicketPrice,
		FeePercent:      uint8(rec.FeePercent),
		AccumulatedFees: rec.AccumulatedFees,
		Winner:          NotDrawn(),
		Claimed:         rec.Claimed,
		Closed:          rec.Closed,
	}
	if rec.Drawn {
		r.Winner = Draw{drawn: true, index: rec.WinnerIndex}
	}
	return nil
}
