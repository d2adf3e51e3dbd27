// Package escrow implements the raffle record and the lifecycle operations
// that move it from open to drawn, claimed and closed.
//
// Operations are check-then-mutate: every precondition is verified before
// the record, the ledger or the custody is touched. The host runs each call
// inside a single storage transaction and discards all of its effects when
// an error is returned.
package escrow

import (
	"github.com/dedis/raffle/core"
	"github.com/dedis/raffle/draw"
	"github.com/dedis/raffle/ledger"
	"golang.org/x/xerrors"
)

// RecordSize is the storage footprint of a raffle record.
const RecordSize = 8 + 128

// DefaultTimeBuffer is the grace period, in seconds, between the end of a
// raffle and the moment its winner can be drawn.
const DefaultTimeBuffer = 1

// MaxFeePercent bounds the authority fee.
const MaxFeePercent = 100

// Custody moves value between storage objects. It must reject transfers
// that exceed the available balance or overflow the recipient.
type Custody interface {
	Transfer(from, to core.ID, amount uint64) error
	BalanceOf(obj core.ID) (uint64, error)
	// MinimumRetained is the floor below which obj cannot hold less value.
	MinimumRetained(obj core.ID) (uint64, error)
	// Release empties obj into to and frees its storage.
	Release(obj, to core.ID) error
}

// Feed supplies the public random seed consumed when drawing a winner.
type Feed interface {
	// Seed returns the first seed produced at or after notBefore. Seeds
	// produced later must not replace it.
	Seed(notBefore int64) ([draw.SeedLen]byte, error)
}

// Env carries what the host supplies to an operation.
type Env struct {
	Now        int64
	TimeBuffer int64
	Custody    Custody
}

// Raffle is the escrow record.
type Raffle struct {
	ID              core.ID
	Authority       core.ID
	EntrantsID      core.ID
	EndTimestamp    int64
	TicketPrice     uint64
	FeePercent      uint8
	AccumulatedFees uint64
	Winner          Draw
	Claimed         bool
	Closed          bool
}

// Create validates the parameters and returns a new open raffle together
// with its empty ledger.
func Create(env Env, authority, entrantsID core.ID, end int64, price uint64,
	maxEntrants uint32, feePercent uint8) (*Raffle, *ledger.Entrants, error) {
	if env.Now >= end {
		return nil, nil, core.ErrInvalidEndTimestamp
	}
	if price == 0 {
		return nil, nil, core.ErrInvalidTicketPrice
	}
	if maxEntrants == 0 || maxEntrants > ledger.Cap {
		return nil, nil, core.ErrInvalidMaxEntrants
	}
	if feePercent == 0 || feePercent > MaxFeePercent {
		return nil, nil, core.ErrInvalidAuthorityFeePercent
	}
	id := core.DeriveRaffleID(entrantsID)
	l, err := ledger.New(id, maxEntrants)
	if err != nil {
		return nil, nil, err
	}
	r := &Raffle{
		ID:           id,
		Authority:    authority,
		EntrantsID:   entrantsID,
		EndTimestamp: end,
		TicketPrice:  price,
		FeePercent:   feePercent,
		Winner:       NotDrawn(),
	}
	return r, l, nil
}

// Purchase is the accounting of one ticket purchase.
type Purchase struct {
	Cost uint64
	Fee  uint64
	Net  uint64
}

// BuyTickets registers amount tickets for buyer and moves the net price
// into the raffle's custody. The authority fee stays recorded against the
// escrow balance until the prize is claimed.
func (r *Raffle) BuyTickets(env Env, l *ledger.Entrants, buyer core.ID,
	amount uint32) (*Purchase, error) {
	if err := r.checkLedger(l); err != nil {
		return nil, err
	}
	if env.Now > r.EndTimestamp {
		return nil, core.ErrRaffleEnded
	}
	if l.Total >= l.Max || amount > l.Remaining() {
		return nil, core.ErrNotEnoughTicketsLeft
	}
	cost, err := core.Mul(r.TicketPrice, uint64(amount))
	if err != nil {
		return nil, err
	}
	// The fee is truncated per purchase, not on the running total.
	fee, err := core.Percent(cost, r.FeePercent)
	if err != nil {
		return nil, err
	}
	net, err := core.Sub(cost, fee)
	if err != nil {
		return nil, err
	}
	fees, err := core.Add(r.AccumulatedFees, fee)
	if err != nil {
		return nil, err
	}

	for i := uint32(0); i < amount; i++ {
		if err := l.Append(buyer); err != nil {
			return nil, err
		}
	}
	if err := env.Custody.Transfer(buyer, r.ID, net); err != nil {
		return nil, xerrors.Errorf("paying tickets: %w", err)
	}
	r.AccumulatedFees = fees
	return &Purchase{Cost: cost, Fee: fee, Net: net}, nil
}

// RevealWinner fixes the winning ticket from the feed's current seed. It
// succeeds at most once per raffle.
func (r *Raffle) RevealWinner(env Env, l *ledger.Entrants, feed Feed) (uint32, error) {
	if err := r.checkLedger(l); err != nil {
		return 0, err
	}
	drawAt, err := r.DrawTime(env.TimeBuffer)
	if err != nil {
		return 0, err
	}
	if env.Now < drawAt {
		return 0, core.ErrRaffleStillRunning
	}
	if l.Total == 0 {
		return 0, core.ErrInvalidCalculation
	}
	if r.Winner.IsDrawn() {
		return 0, core.ErrWinnersAlreadyDrawn
	}
	seed, err := feed.Seed(drawAt)
	if err != nil {
		return 0, xerrors.Errorf("reading seed (%v): %w", err, core.ErrRandomnessUnavailable)
	}
	index := draw.Winner(seed, l.Total)
	next, err := r.Winner.Draw(index)
	if err != nil {
		return 0, err
	}
	r.Winner = next
	return index, nil
}

// Payout is what a successful claim moved out of the escrow.
type Payout struct {
	Prize uint64
	Fees  uint64
}

// ClaimPrize pays the escrow balance above the storage floor and the
// recorded fees to the winner and the authority respectively. The caller
// must have checked that the fee recipient is the raffle's authority.
func (r *Raffle) ClaimPrize(env Env, l *ledger.Entrants, claimant core.ID) (*Payout, error) {
	if err := r.checkLedger(l); err != nil {
		return nil, err
	}
	index, drawn := r.Winner.Index()
	if !drawn {
		return nil, core.ErrWinnerNotDrawn
	}
	if r.Claimed {
		return nil, core.ErrPrizeAlreadyClaimed
	}
	winner, err := l.At(index)
	if err != nil {
		return nil, err
	}
	if winner != claimant {
		return nil, core.ErrNotWinner
	}

	prize, err := r.Prize(env.Custody)
	if err != nil {
		return nil, err
	}
	if prize == 0 {
		return nil, core.ErrNoPrize
	}
	if err := env.Custody.Transfer(r.ID, claimant, prize); err != nil {
		return nil, xerrors.Errorf("paying prize: %w", err)
	}
	if err := env.Custody.Transfer(r.ID, r.Authority, r.AccumulatedFees); err != nil {
		return nil, xerrors.Errorf("paying fees: %w", err)
	}
	r.Claimed = true
	return &Payout{Prize: prize, Fees: r.AccumulatedFees}, nil
}

// Prize derives the prize from the current escrow balance: whatever is
// above the storage floor and the fees owed to the authority.
func (r *Raffle) Prize(c Custody) (uint64, error) {
	balance, err := c.BalanceOf(r.ID)
	if err != nil {
		return 0, err
	}
	floor, err := c.MinimumRetained(r.ID)
	if err != nil {
		return 0, err
	}
	prize, err := core.Sub(balance, floor)
	if err != nil {
		return 0, err
	}
	return core.Sub(prize, r.AccumulatedFees)
}

// CloseAndReclaim releases the entrant ledger's storage back to the
// authority once the raffle is over, drawn and claimed. It returns the
// value refunded to the authority.
func (r *Raffle) CloseAndReclaim(env Env, l *ledger.Entrants, caller core.ID) (uint64, error) {
	if caller != r.Authority {
		return 0, core.ErrUnauthorized
	}
	if err := r.checkLedger(l); err != nil {
		return 0, err
	}
	drawAt, err := r.DrawTime(env.TimeBuffer)
	if err != nil {
		return 0, err
	}
	if env.Now < drawAt {
		return 0, core.ErrRaffleStillRunning
	}
	if !r.Winner.IsDrawn() {
		return 0, core.ErrWinnerNotDrawn
	}
	if !r.Claimed {
		return 0, core.ErrPrizeNotClaimed
	}
	refund, err := env.Custody.BalanceOf(r.EntrantsID)
	if err != nil {
		return 0, err
	}
	if err := env.Custody.Release(r.EntrantsID, r.Authority); err != nil {
		return 0, xerrors.Errorf("releasing entrants: %w", err)
	}
	r.Closed = true
	return refund, nil
}

// DrawTime is the first instant at which the winner can be drawn.
func (r *Raffle) DrawTime(buffer int64) (int64, error) {
	return core.AddTime(r.EndTimestamp, buffer)
}

func (r *Raffle) checkLedger(l *ledger.Entrants) error {
	if r.Closed {
		return core.ErrEntrantsClosed
	}
	if l == nil || l.Raffle != r.ID {
		return core.ErrEntrantsMismatch
	}
	return nil
}
