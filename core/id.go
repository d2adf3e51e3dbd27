package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// IDLen is the length of every identifier handled by the raffle units.
const IDLen = 32

// RaffleSeed prefixes the hash that derives a raffle id from its ledger id.
const RaffleSeed = "raffle"

// EntrantsSeed prefixes the hash that derives a ledger id from the
// authority creating it.
const EntrantsSeed = "entrants"

// ID identifies an account: a participant key, a raffle or an entrant
// ledger.
type ID [IDLen]byte

// NewID copies buf into an ID.
func NewID(buf []byte) (ID, error) {
	var id ID
	if len(buf) != IDLen {
		return id, xerrors.Errorf("invalid id length: %d", len(buf))
	}
	copy(id[:], buf)
	return id, nil
}

// IDFromPoint returns the identifier of an Ed25519 public key.
func IDFromPoint(p kyber.Point) (ID, error) {
	if p == nil {
		return ID{}, xerrors.New("missing public key")
	}
	buf, err := p.MarshalBinary()
	if err != nil {
		return ID{}, xerrors.Errorf("marshaling point: %v", err)
	}
	return NewID(buf)
}

// Point decodes the identifier back into a public key.
func (id ID) Point() (kyber.Point, error) {
	p := cothority.Suite.Point()
	if err := p.UnmarshalBinary(id[:]); err != nil {
		return nil, xerrors.Errorf("unmarshaling point: %v", err)
	}
	return p, nil
}

// RandomID returns a fresh identifier, used for new entrant ledgers.
func RandomID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return id, xerrors.Errorf("reading randomness: %v", err)
	}
	return id, nil
}

// DeriveRaffleID returns the id of the raffle that owns the given ledger.
func DeriveRaffleID(entrants ID) ID {
	h := sha256.New()
	h.Write([]byte(RaffleSeed))
	h.Write(entrants[:])
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// DeriveEntrantsID returns the id of the ledger created by authority with
// the request carrying counter. Counters are used once, so every ledger
// gets a fresh id that no key owns.
func DeriveEntrantsID(authority ID, counter uint64) ID {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, counter)
	h := sha256.New()
	h.Write([]byte(EntrantsSeed))
	h.Write(authority[:])
	h.Write(buf)
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) Bytes() []byte {
	buf := make([]byte, IDLen)
	copy(buf, id[:])
	return buf
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID decodes a hex-encoded identifier.
func ParseID(s string) (ID, error) {
	buf, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, xerrors.Errorf("decoding id: %v", err)
	}
	return NewID(buf)
}
