package raffle

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/dedis/raffle/core"
	"github.com/dedis/raffle/custody"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"golang.org/x/xerrors"
)

const (
	opCreate = "create_raffle"
	opBuy    = "buy_tickets"
	opClaim  = "claim_prize"
	opClose  = "close_entrants"
)

type digest struct {
	h hash.Hash
}

func newDigest(op string) *digest {
	d := &digest{h: sha256.New()}
	d.h.Write([]byte(op))
	return d
}

func (d *digest) put(b []byte) *digest {
	d.h.Write(b)
	return d
}

func (d *digest) putUint(v uint64) *digest {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	d.h.Write(buf)
	return d
}

func (d *digest) putInt(v int64) *digest {
	return d.putUint(uint64(v))
}

func (d *digest) sum() []byte {
	return d.h.Sum(nil)
}

// Hash is the message signed by the authority.
func (r *CreateRaffleRequest) Hash() []byte {
	return newDigest(opCreate).put(r.Authority).
		putInt(r.EndTimestamp).putUint(r.TicketPrice).
		putUint(uint64(r.MaxEntrants)).putUint(uint64(r.FeePercent)).
		putUint(r.Counter).sum()
}

// Hash is the message signed by the buyer.
func (r *BuyTicketsRequest) Hash() []byte {
	return newDigest(opBuy).put(r.RaffleID).put(r.Buyer).
		putUint(uint64(r.Amount)).putUint(r.Counter).sum()
}

// Hash is the message signed by the claimant.
func (r *ClaimPrizeRequest) Hash() []byte {
	return newDigest(opClaim).put(r.RaffleID).put(r.Claimant).
		put(r.Authority).putUint(r.Counter).sum()
}

// Hash is the message signed by the authority.
func (r *CloseEntrantsRequest) Hash() []byte {
	return newDigest(opClose).put(r.RaffleID).put(r.Authority).
		putUint(r.Counter).sum()
}

// authenticate checks that signer signed msg and consumes its next counter.
// Every failure is reported as ErrUnauthorized.
func authenticate(v *custody.Vault, signer []byte, counter uint64, msg, sig []byte) (core.ID, error) {
	id, err := core.NewID(signer)
	if err != nil {
		return id, xerrors.Errorf("signer (%v): %w", err, core.ErrUnauthorized)
	}
	pub, err := id.Point()
	if err != nil {
		return id, xerrors.Errorf("signer (%v): %w", err, core.ErrUnauthorized)
	}
	if err := schnorr.Verify(cothority.Suite, pub, msg, sig); err != nil {
		return id, xerrors.Errorf("signature (%v): %w", err, core.ErrUnauthorized)
	}
	if err := v.Bump(id, counter); err != nil {
		return id, err
	}
	return id, nil
}
