package beacon

/*
The beacon runs a DKG over the roster once and then signs a chain of rounds
with threshold BLS. The hash of the latest round signature is the public
random seed handed to the raffle unit.
*/

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/dedis/raffle/beacon/protocol"
	dkgprotocol "go.dedis.ch/cothority/v3/dkg/pedersen"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	dkg "go.dedis.ch/kyber/v3/share/dkg/pedersen"
	vss "go.dedis.ch/kyber/v3/share/vss/pedersen"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var serviceID onet.ServiceID
var suite = bn256.NewSuite()
var vssSuite = suite.G2().(vss.Suite)

const genesisMsg = "genesis_msg"

// ServiceName is the name of the beacon service
const ServiceName = "RandomnessBeacon"

var (
	// ErrNoRandomness: no DKG has run or no round has been signed yet.
	ErrNoRandomness = xerrors.New("no randomness available")
	// ErrStaleRandomness: the latest round is older than requested.
	ErrStaleRandomness = xerrors.New("latest round is too old")
	// ErrBadRandomness: the latest round does not verify.
	ErrBadRandomness = xerrors.New("round signature does not verify")
)

func init() {
	var err error
	serviceID, err = onet.RegisterNewService(ServiceName, newService)
	log.ErrFatal(err)
}

// Beacon holds the internal state of the service.
type Beacon struct {
	*onet.ServiceProcessor

	db     *bbolt.DB
	bucket []byte

	keypair *key.Pair

	mu           sync.Mutex
	distKeyStore *dkg.DistKeyShare
	pubPoly      *share.PubPoly
	now          func() time.Time
}

// InitDKG starts the DKG protocol.
func (s *Beacon) InitDKG(req *InitDKGRequest) (*InitDKGReply, error) {
	if req.Roster == nil {
		return nil, xerrors.New("missing roster")
	}
	tree := req.Roster.GenerateStar()
	pi, err := s.CreateProtocol(protocol.DKGProtoName, tree)
	if err != nil {
		return nil, err
	}
	setup := pi.(*dkgprotocol.Setup)
	setup.Wait = true
	if err := pi.Start(); err != nil {
		return nil, err
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-setup.Finished:
		if err := s.storeShare(setup); err != nil {
			return nil, err
		}
	case <-time.After(timeout):
		return nil, xerrors.New("dkg did not finish")
	}
	pub, err := s.publicBytes()
	if err != nil {
		return nil, err
	}
	log.Lvl2(s.ServerIdentity(), "dkg done")
	return &InitDKGReply{Public: pub}, nil
}

// Randomness has the roster sign the next round.
func (s *Beacon) Randomness(req *RandomnessRequest) (*RandomnessReply, error) {
	if req.Roster == nil {
		return nil, xerrors.New("missing roster")
	}
	prev, err := s.latest()
	if err != nil {
		return nil, err
	}
	pi, err := s.CreateProtocol(protocol.SignProtoName, req.Roster.GenerateStar())
	if err != nil {
		return nil, err
	}
	signPi := pi.(*protocol.SignProtocol)
	signPi.Msg = createNextMsg(prev)
	if err := pi.Start(); err != nil {
		return nil, err
	}

	select {
	case <-signPi.FinalSignature:
	case <-time.After(signPi.Timeout):
		return nil, xerrors.New("timeout waiting for final signature")
	}
	r, err := s.latest()
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNoRandomness
	}
	pub, err := s.publicBytes()
	if err != nil {
		return nil, err
	}
	log.Lvl2(s.ServerIdentity(), "round", r.Round, "signed")
	return &RandomnessReply{Round: *r, Public: pub}, nil
}

// Latest returns the most recent round accepted by this node.
func (s *Beacon) Latest(req *LatestRequest) (*LatestReply, error) {
	r, err := s.latest()
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNoRandomness
	}
	pub, err := s.publicBytes()
	if err != nil {
		return nil, err
	}
	return &LatestReply{Round: *r, Public: pub}, nil
}

// Seed returns the hash of the signature of the first round accepted at or
// after notBefore, in unix seconds.
func (s *Beacon) Seed(notBefore int64) ([sha256.Size]byte, error) {
	snap, err := s.Snapshot(notBefore)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return snap.Seed(notBefore)
}

// Snapshot captures the first round accepted at or after notBefore and the
// group key. Rounds signed later do not change it. Without such a round the
// snapshot holds the latest one. Callers holding a write transaction on the
// node database take the snapshot before opening it.
func (s *Beacon) Snapshot(notBefore int64) (*Snapshot, error) {
	r, err := s.firstSince(notBefore)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Round: r, Public: s.public()}, nil
}

// Snapshot is a frozen view of the beacon.
type Snapshot struct {
	Round  *Round
	Public kyber.Point
}

// Seed verifies the captured round and returns the hash of its signature.
func (snap *Snapshot) Seed(notBefore int64) ([sha256.Size]byte, error) {
	var seed [sha256.Size]byte
	r := snap.Round
	if r == nil || snap.Public == nil {
		return seed, ErrNoRandomness
	}
	if r.Time < notBefore {
		return seed, xerrors.Errorf("round %d at %d, need %d: %w", r.Round, r.Time,
			notBefore, ErrStaleRandomness)
	}
	if err := bls.Verify(suite, snap.Public, r.Prev, r.Sig); err != nil {
		return seed, xerrors.Errorf("round %d (%v): %w", r.Round, err, ErrBadRandomness)
	}
	return sha256.Sum256(r.Sig), nil
}

// SetClock replaces the clock used to timestamp accepted rounds.
func (s *Beacon) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// NewProtocol is a callback for creating protocols on non-root nodes.
func (s *Beacon) NewProtocol(tn *onet.TreeNodeInstance, conf *onet.GenericConfig) (onet.ProtocolInstance, error) {
	log.Lvl3(s.ServerIdentity(), tn.ProtocolName(), conf)
	switch tn.ProtocolName() {
	case protocol.DKGProtoName:
		pi, err := dkgprotocol.CustomSetup(tn, vssSuite, s.keypair)
		if err != nil {
			return nil, err
		}
		setup := pi.(*dkgprotocol.Setup)

		go func() {
			<-setup.Finished
			if err := s.storeShare(setup); err != nil {
				log.Error(s.ServerIdentity(), err)
			}
		}()
		return pi, nil
	case protocol.SignProtoName:
		return s.newSignProtocol(tn)
	default:
		return nil, xerrors.New("invalid protocol")
	}
}

func (s *Beacon) newSignProtocol(tn *onet.TreeNodeInstance) (onet.ProtocolInstance, error) {
	s.mu.Lock()
	sk, pk := s.distKeyStore, s.pubPoly
	s.mu.Unlock()
	if sk == nil {
		return nil, xerrors.New("dkg has not run on this node")
	}
	pi, err := protocol.NewSignProtocol(tn, sk.PriShare(), pk, suite)
	if err != nil {
		return nil, err
	}
	signPi := pi.(*protocol.SignProtocol)
	signPi.Verify = s.verify
	signPi.Accept = s.accept
	return pi, nil
}

func (s *Beacon) storeShare(setup *dkgprotocol.Setup) error {
	_, dks, err := setup.SharedSecret()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distKeyStore = dks
	s.pubPoly = share.NewPubPoly(vssSuite, vssSuite.Point().Base(), dks.Commitments())
	return nil
}

func (s *Beacon) public() kyber.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubPoly == nil {
		return nil
	}
	return s.pubPoly.Commit()
}

func (s *Beacon) publicBytes() ([]byte, error) {
	pub := s.public()
	if pub == nil {
		return nil, ErrNoRandomness
	}
	return pub.MarshalBinary()
}

func (s *Beacon) verify(msg []byte) error {
	prev, err := s.latest()
	if err != nil {
		return err
	}
	if !bytes.Equal(msg, createNextMsg(prev)) {
		return xerrors.New("bad message")
	}
	return nil
}

// accept appends the round signed over msg to the local chain.
func (s *Beacon) accept(msg, sig []byte) error {
	s.mu.Lock()
	now := s.now()
	s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		prev, err := lastRound(b)
		if err != nil {
			return err
		}
		if !bytes.Equal(msg, createNextMsg(prev)) {
			return xerrors.New("round message does not extend the chain")
		}
		r := Round{Prev: msg, Sig: sig, Time: now.Unix()}
		if prev != nil {
			r.Round = prev.Round + 1
			if r.Time < prev.Time {
				r.Time = prev.Time
			}
		}
		buf, err := protobuf.Encode(&r)
		if err != nil {
			return xerrors.Errorf("encoding round: %v", err)
		}
		return b.Put(roundKey(r.Round), buf)
	})
}

func (s *Beacon) latest() (*Round, error) {
	var r *Round
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		r, err = lastRound(tx.Bucket(s.bucket))
		return err
	})
	return r, err
}

// firstSince walks the chain back from the latest round. Acceptance times
// never decrease along the chain.
func (s *Beacon) firstSince(notBefore int64) (*Round, error) {
	var r *Round
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			cur := &Round{}
			if err := protobuf.Decode(v, cur); err != nil {
				return xerrors.Errorf("decoding round: %v", err)
			}
			if cur.Time < notBefore {
				if r == nil {
					r = cur
				}
				return nil
			}
			r = cur
		}
		return nil
	})
	return r, err
}

func lastRound(b *bbolt.Bucket) (*Round, error) {
	_, v := b.Cursor().Last()
	if v == nil {
		return nil, nil
	}
	var r Round
	if err := protobuf.Decode(v, &r); err != nil {
		return nil, xerrors.Errorf("decoding round: %v", err)
	}
	return &r, nil
}

func roundKey(round uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, round)
	return key
}

// createNextMsg returns the message of the round after prev: the round
// number followed by the previous signature.
func createNextMsg(prev *Round) []byte {
	if prev == nil {
		return []byte(genesisMsg)
	}
	rBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(rBuf, prev.Round+1)
	return append(rBuf, prev.Sig...)
}

func newService(c *onet.Context) (onet.Service, error) {
	db, bucket := c.GetAdditionalBucket([]byte("rounds"))
	s := &Beacon{
		ServiceProcessor: onet.NewServiceProcessor(c),
		db:               db,
		bucket:           bucket,
		keypair:          key.NewKeyPair(vssSuite),
		now:              time.Now,
	}
	if _, err := s.ProtocolRegister(protocol.DKGProtoName, func(n *onet.TreeNodeInstance) (onet.ProtocolInstance, error) {
		return dkgprotocol.CustomSetup(n, vssSuite, s.keypair)
	}); err != nil {
		return nil, err
	}
	if _, err := s.ProtocolRegister(protocol.SignProtoName, s.newSignProtocol); err != nil {
		return nil, err
	}
	if err := s.RegisterHandlers(s.InitDKG, s.Randomness, s.Latest); err != nil {
		return nil, err
	}
	return s, nil
}
