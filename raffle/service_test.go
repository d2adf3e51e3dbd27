package raffle

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/dedis/raffle/beacon"
	"github.com/dedis/raffle/core"
	"github.com/dedis/raffle/custody"
	"github.com/dedis/raffle/draw"
	"github.com/dedis/raffle/escrow"
	"github.com/dedis/raffle/ledger"
	"github.com/dedis/raffle/store"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

const (
	start = int64(1700000000)
	funds = uint64(1000000000)
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type user struct {
	signer  darc.Signer
	id      core.ID
	counter uint64
}

func newUser(t *testing.T) *user {
	signer := darc.NewSignerEd25519(nil, nil)
	id, err := SignerID(signer)
	require.NoError(t, err)
	return &user{signer: signer, id: id}
}

func (u *user) sign(t *testing.T, msg []byte) []byte {
	sig, err := u.signer.Sign(msg)
	require.NoError(t, err)
	return sig
}

func (u *user) next() uint64 {
	u.counter++
	return u.counter
}

type fixedFeed struct {
	seed [32]byte
	err  error
}

func (f fixedFeed) Seed(int64) ([32]byte, error) {
	return f.seed, f.err
}

type env struct {
	t         *testing.T
	local     *onet.LocalTest
	hosts     []*onet.Server
	roster    *onet.Roster
	root      *Service
	now       int64
	authority *user
}

func newEnv(t *testing.T, nodes int) *env {
	local := onet.NewTCPTest(cothority.Suite)
	hosts, roster, _ := local.GenTree(nodes, true)
	e := &env{t: t, local: local, hosts: hosts, roster: roster, now: start,
		authority: newUser(t)}
	e.root = local.GetServices(hosts, serviceID)[0].(*Service)
	e.root.SetClock(func() int64 { return e.now })
	_, err := e.root.InitUnit(&InitUnitRequest{Cfg: &Config{
		TimeBuffer:  escrow.DefaultTimeBuffer,
		FaucetLimit: funds,
	}})
	require.NoError(t, err)
	e.fund(e.authority, funds)
	return e
}

func (e *env) fund(u *user, amount uint64) {
	_, err := e.root.Airdrop(&AirdropRequest{Account: u.id.Bytes(), Amount: amount})
	require.NoError(e.t, err)
}

func (e *env) balance(id core.ID) uint64 {
	reply, err := e.root.GetAccount(&GetAccountRequest{Account: id.Bytes()})
	require.NoError(e.t, err)
	return reply.Balance
}

func (e *env) create(end int64, price uint64, max, fee uint32) (core.ID, error) {
	req := &CreateRaffleRequest{
		Authority:    e.authority.id.Bytes(),
		EndTimestamp: end,
		TicketPrice:  price,
		MaxEntrants:  max,
		FeePercent:   fee,
		Counter:      e.authority.counter + 1,
	}
	req.Signature = e.authority.sign(e.t, req.Hash())
	reply, err := e.root.CreateRaffle(req)
	if err != nil {
		return core.ID{}, err
	}
	e.authority.next()
	return core.NewID(reply.RaffleID)
}

func (e *env) buy(u *user, raffle core.ID, amount uint32) (*BuyTicketsReply, error) {
	req := &BuyTicketsRequest{
		RaffleID: raffle.Bytes(),
		Buyer:    u.id.Bytes(),
		Amount:   amount,
		Counter:  u.counter + 1,
	}
	req.Signature = u.sign(e.t, req.Hash())
	reply, err := e.root.BuyTickets(req)
	if err == nil {
		u.next()
	}
	return reply, err
}

func (e *env) claim(u *user, raffle core.ID, authority core.ID) (*ClaimPrizeReply, error) {
	req := &ClaimPrizeRequest{
		RaffleID:  raffle.Bytes(),
		Claimant:  u.id.Bytes(),
		Authority: authority.Bytes(),
		Counter:   u.counter + 1,
	}
	req.Signature = u.sign(e.t, req.Hash())
	reply, err := e.root.ClaimPrize(req)
	if err == nil {
		u.next()
	}
	return reply, err
}

func (e *env) close(raffle core.ID) (*CloseEntrantsReply, error) {
	req := &CloseEntrantsRequest{
		RaffleID:  raffle.Bytes(),
		Authority: e.authority.id.Bytes(),
		Counter:   e.authority.counter + 1,
	}
	req.Signature = e.authority.sign(e.t, req.Hash())
	reply, err := e.root.CloseEntrants(req)
	if err == nil {
		e.authority.next()
	}
	return reply, err
}

func (e *env) raffle(id core.ID) *GetRaffleReply {
	reply, err := e.root.GetRaffle(&GetRaffleRequest{RaffleID: id.Bytes()})
	require.NoError(e.t, err)
	return reply
}

// startBeacon runs the DKG with every beacon reading the test clock.
func (e *env) startBeacon() *beacon.Beacon {
	beaconID := onet.ServiceFactory.ServiceID(beacon.ServiceName)
	beacons := e.local.GetServices(e.hosts, beaconID)
	for _, b := range beacons {
		b.(*beacon.Beacon).SetClock(func() time.Time { return time.Unix(e.now, 0) })
	}
	bcn := beacons[0].(*beacon.Beacon)
	_, err := bcn.InitDKG(&beacon.InitDKGRequest{Roster: e.roster, Timeout: 5})
	require.NoError(e.t, err)
	time.Sleep(time.Second / 2)
	return bcn
}

func rents(t *testing.T) (uint64, uint64) {
	raffleRent, err := custody.RentExempt(escrow.RecordSize)
	require.NoError(t, err)
	ledgerRent, err := custody.RentExempt(ledger.Size)
	require.NoError(t, err)
	return raffleRent, ledgerRent
}

// TestService_Lifecycle runs a raffle against the randomness beacon of the
// roster.
func TestService_Lifecycle(t *testing.T) {
	e := newEnv(t, 4)
	defer e.local.CloseAll()
	raffleRent, ledgerRent := rents(t)

	buyer := newUser(t)
	e.fund(buyer, 100000)
	end := start + 10
	raffleID, err := e.create(end, 1000, 10, 5)
	require.NoError(t, err)
	require.Equal(t, funds-raffleRent-ledgerRent, e.balance(e.authority.id))

	reply, err := e.buy(buyer, raffleID, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(10000), reply.Cost)
	require.Equal(t, uint64(500), reply.Fee)
	require.Equal(t, uint32(10), reply.Total)
	require.Equal(t, uint64(500), reply.AccumulatedFees)
	require.Equal(t, uint64(100000-9500), e.balance(buyer.id))
	info := e.raffle(raffleID)
	require.Equal(t, raffleRent+9500, info.Balance)
	require.Equal(t, raffleRent, info.Floor)
	require.Equal(t, uint64(500), info.AccumulatedFees)

	_, err = e.root.RevealWinner(&RevealWinnerRequest{RaffleID: raffleID.Bytes()})
	require.True(t, xerrors.Is(err, core.ErrRaffleStillRunning))

	// Sign one beacon round once the raffle is over.
	e.now = end + escrow.DefaultTimeBuffer
	bcn := e.startBeacon()
	round, err := bcn.Randomness(&beacon.RandomnessRequest{Roster: e.roster})
	require.NoError(t, err)

	reveal, err := e.root.RevealWinner(&RevealWinnerRequest{RaffleID: raffleID.Bytes()})
	require.NoError(t, err)
	require.True(t, reveal.Index < 10)
	require.Equal(t, buyer.id.Bytes(), reveal.Winner)
	require.Equal(t, draw.Winner(sha256.Sum256(round.Round.Sig), 10), reveal.Index)
	_, err = e.root.RevealWinner(&RevealWinnerRequest{RaffleID: raffleID.Bytes()})
	require.True(t, xerrors.Is(err, core.ErrWinnersAlreadyDrawn))

	// The fees must go to the raffle's authority.
	_, err = e.claim(buyer, raffleID, buyer.id)
	require.True(t, xerrors.Is(err, core.ErrUnauthorized))

	_, err = e.close(raffleID)
	require.True(t, xerrors.Is(err, core.ErrPrizeNotClaimed))

	payout, err := e.claim(buyer, raffleID, e.authority.id)
	require.NoError(t, err)
	require.Equal(t, uint64(9000), payout.Prize)
	require.Equal(t, uint64(500), payout.Fees)
	require.Equal(t, uint64(99500), e.balance(buyer.id))
	_, err = e.claim(buyer, raffleID, e.authority.id)
	require.True(t, xerrors.Is(err, core.ErrPrizeAlreadyClaimed))

	refund, err := e.close(raffleID)
	require.NoError(t, err)
	require.Equal(t, ledgerRent, refund.Refund)
	require.Equal(t, funds-raffleRent+500, e.balance(e.authority.id))

	info = e.raffle(raffleID)
	require.True(t, info.Drawn)
	require.True(t, info.Claimed)
	require.True(t, info.Closed)
	require.Equal(t, raffleRent, info.Balance)
	_, err = e.buy(buyer, raffleID, 1)
	require.True(t, xerrors.Is(err, core.ErrEntrantsClosed))

	events, err := e.root.GetEvents(&GetEventsRequest{RaffleID: raffleID.Bytes()})
	require.NoError(t, err)
	var types []string
	for _, ev := range events.Events {
		types = append(types, ev.Type)
	}
	require.Equal(t, []string{store.EventCreated, store.EventTickets,
		store.EventWinner, store.EventClaim, store.EventClose}, types)
	require.Equal(t, uint64(10000), events.Events[1].Amount)
	require.Equal(t, uint64(500), events.Events[1].Fees)
	require.Equal(t, reveal.Index, events.Events[2].Index)
}

func TestService_EntrantsDerived(t *testing.T) {
	e := newEnv(t, 2)
	defer e.local.CloseAll()
	_, ledgerRent := rents(t)

	// A participant key without an account yet must never become a ledger.
	victim := newUser(t)
	first, err := e.create(start+10, 1000, 5, 5)
	require.NoError(t, err)
	second, err := e.create(start+10, 1000, 5, 5)
	require.NoError(t, err)

	a, b := e.raffle(first), e.raffle(second)
	require.Equal(t, core.DeriveEntrantsID(e.authority.id, 1).Bytes(), a.EntrantsID)
	require.Equal(t, core.DeriveEntrantsID(e.authority.id, 2).Bytes(), b.EntrantsID)
	require.NotEqual(t, a.EntrantsID, b.EntrantsID)
	require.NotEqual(t, victim.id.Bytes(), a.EntrantsID)

	// Closing the raffle refunds the ledger rent and nothing else.
	e.fund(victim, 5000)
	buyer := newUser(t)
	e.fund(buyer, 10000)
	_, err = e.buy(buyer, first, 1)
	require.NoError(t, err)
	e.now = start + 10 + escrow.DefaultTimeBuffer
	e.root.SetFeed(func(int64) (escrow.Feed, error) {
		return fixedFeed{seed: sha256.Sum256([]byte("seed"))}, nil
	})
	_, err = e.root.RevealWinner(&RevealWinnerRequest{RaffleID: first.Bytes()})
	require.NoError(t, err)
	_, err = e.claim(buyer, first, e.authority.id)
	require.NoError(t, err)
	refund, err := e.close(first)
	require.NoError(t, err)
	require.Equal(t, ledgerRent, refund.Refund)
	require.Equal(t, uint64(5000), e.balance(victim.id))
}

func TestService_LaterRoundsKeepWinner(t *testing.T) {
	e := newEnv(t, 4)
	defer e.local.CloseAll()
	end := start + 10
	raffleID, err := e.create(end, 1000, 100, 5)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		buyer := newUser(t)
		e.fund(buyer, 100000)
		_, err = e.buy(buyer, raffleID, 25)
		require.NoError(t, err)
	}

	e.now = end + escrow.DefaultTimeBuffer
	bcn := e.startBeacon()
	first, err := bcn.Randomness(&beacon.RandomnessRequest{Roster: e.roster})
	require.NoError(t, err)
	// Rounds requested after the draw time do not reroll the draw.
	for i := 0; i < 3; i++ {
		e.now++
		_, err = bcn.Randomness(&beacon.RandomnessRequest{Roster: e.roster})
		require.NoError(t, err)
	}

	reveal, err := e.root.RevealWinner(&RevealWinnerRequest{RaffleID: raffleID.Bytes()})
	require.NoError(t, err)
	require.Equal(t, draw.Winner(sha256.Sum256(first.Round.Sig), 100), reveal.Index)
}

func TestService_Authentication(t *testing.T) {
	e := newEnv(t, 2)
	defer e.local.CloseAll()
	raffleID, err := e.create(start+10, 1000, 10, 5)
	require.NoError(t, err)

	buyer, thief := newUser(t), newUser(t)
	e.fund(buyer, 10000)

	// Signed by someone else.
	req := &BuyTicketsRequest{RaffleID: raffleID.Bytes(), Buyer: buyer.id.Bytes(),
		Amount: 1, Counter: 1}
	req.Signature = thief.sign(t, req.Hash())
	_, err = e.root.BuyTickets(req)
	require.True(t, xerrors.Is(err, core.ErrUnauthorized))
	require.Equal(t, core.AuthorizationFailure, core.KindOf(err))

	// Tampered after signing.
	req.Signature = buyer.sign(t, req.Hash())
	req.Amount = 2
	_, err = e.root.BuyTickets(req)
	require.True(t, xerrors.Is(err, core.ErrUnauthorized))

	// Replayed.
	req.Amount = 1
	_, err = e.root.BuyTickets(req)
	require.NoError(t, err)
	_, err = e.root.BuyTickets(req)
	require.True(t, xerrors.Is(err, core.ErrUnauthorized))
	require.Equal(t, uint32(1), e.raffle(raffleID).Total)

	// Only the authority closes.
	closeReq := &CloseEntrantsRequest{RaffleID: raffleID.Bytes(),
		Authority: thief.id.Bytes(), Counter: 1}
	closeReq.Signature = thief.sign(t, closeReq.Hash())
	e.now = start + 100
	_, err = e.root.CloseEntrants(closeReq)
	require.True(t, xerrors.Is(err, core.ErrUnauthorized))
}

func TestService_FailedRequestRollsBack(t *testing.T) {
	e := newEnv(t, 2)
	defer e.local.CloseAll()
	raffleID, err := e.create(start+10, 1000, 5, 5)
	require.NoError(t, err)

	poor := newUser(t)
	e.fund(poor, 1500)
	_, err = e.buy(poor, raffleID, 2)
	require.True(t, xerrors.Is(err, custody.ErrInsufficientFunds))
	info := e.raffle(raffleID)
	require.Zero(t, info.Total)
	require.Zero(t, info.AccumulatedFees)
	require.Equal(t, uint64(1500), e.balance(poor.id))
	acc, err := e.root.GetAccount(&GetAccountRequest{Account: poor.id.Bytes()})
	require.NoError(t, err)
	require.Zero(t, acc.Counter)

	// Over capacity.
	rich := newUser(t)
	e.fund(rich, 100000)
	_, err = e.buy(rich, raffleID, 6)
	require.True(t, xerrors.Is(err, core.ErrNotEnoughTicketsLeft))
	_, err = e.buy(rich, raffleID, 5)
	require.NoError(t, err)
	_, err = e.buy(rich, raffleID, 1)
	require.True(t, xerrors.Is(err, core.ErrNotEnoughTicketsLeft))
	require.Equal(t, uint32(5), e.raffle(raffleID).Total)
}

func TestService_CreateValidation(t *testing.T) {
	e := newEnv(t, 2)
	defer e.local.CloseAll()
	before := e.balance(e.authority.id)

	_, err := e.create(start, 1000, 5, 5)
	require.True(t, xerrors.Is(err, core.ErrInvalidEndTimestamp))
	_, err = e.create(start+10, 0, 5, 5)
	require.True(t, xerrors.Is(err, core.ErrInvalidTicketPrice))
	_, err = e.create(start+10, 1000, ledger.Cap+1, 5)
	require.True(t, xerrors.Is(err, core.ErrInvalidMaxEntrants))
	_, err = e.create(start+10, 1000, 5, 0)
	require.True(t, xerrors.Is(err, core.ErrInvalidAuthorityFeePercent))
	_, err = e.create(start+10, 1000, 5, 356)
	require.True(t, xerrors.Is(err, core.ErrInvalidAuthorityFeePercent))
	require.Equal(t, before, e.balance(e.authority.id))

	// The authority must afford both storage objects.
	poor := newUser(t)
	e.fund(poor, 1000)
	e.authority = poor
	_, err = e.create(start+10, 1000, 5, 5)
	require.True(t, xerrors.Is(err, custody.ErrInsufficientFunds))
	require.Equal(t, uint64(1000), e.balance(poor.id))
}

func TestService_Feed(t *testing.T) {
	e := newEnv(t, 2)
	defer e.local.CloseAll()
	raffleID, err := e.create(start+10, 1000, 5, 5)
	require.NoError(t, err)
	buyer := newUser(t)
	e.fund(buyer, 100000)
	_, err = e.buy(buyer, raffleID, 3)
	require.NoError(t, err)
	e.now = start + 10 + escrow.DefaultTimeBuffer

	// No DKG has run: the beacon has nothing to offer.
	_, err = e.root.RevealWinner(&RevealWinnerRequest{RaffleID: raffleID.Bytes()})
	require.True(t, xerrors.Is(err, core.ErrRandomnessUnavailable))
	require.Equal(t, core.DataUnavailable, core.KindOf(err))

	e.root.SetFeed(func(int64) (escrow.Feed, error) {
		return fixedFeed{err: beacon.ErrStaleRandomness}, nil
	})
	_, err = e.root.RevealWinner(&RevealWinnerRequest{RaffleID: raffleID.Bytes()})
	require.True(t, xerrors.Is(err, core.ErrRandomnessUnavailable))
	require.False(t, e.raffle(raffleID).Drawn)

	e.root.SetFeed(func(int64) (escrow.Feed, error) {
		return fixedFeed{seed: sha256.Sum256([]byte("seed"))}, nil
	})
	reveal, err := e.root.RevealWinner(&RevealWinnerRequest{RaffleID: raffleID.Bytes()})
	require.NoError(t, err)
	info := e.raffle(raffleID)
	require.True(t, info.Drawn)
	require.Equal(t, reveal.Index, info.WinnerIndex)
	require.Equal(t, buyer.id.Bytes(), info.Winner)
}

func TestService_Config(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	hosts, _, _ := local.GenTree(1, true)
	defer local.CloseAll()
	s := local.GetServices(hosts, serviceID)[0].(*Service)
	account := newUser(t).id.Bytes()

	_, err := s.Airdrop(&AirdropRequest{Account: account, Amount: 1})
	require.Error(t, err)

	_, err = s.InitUnit(&InitUnitRequest{Cfg: &Config{TimeBuffer: -1}})
	require.Error(t, err)
	_, err = s.InitUnit(&InitUnitRequest{Cfg: &Config{TimeBuffer: 5, FaucetLimit: 10}})
	require.NoError(t, err)
	_, err = s.InitUnit(&InitUnitRequest{Cfg: &Config{TimeBuffer: 1}})
	require.Error(t, err)
	require.Equal(t, int64(5), s.config().TimeBuffer)

	_, err = s.Airdrop(&AirdropRequest{Account: account, Amount: 11})
	require.Error(t, err)
	reply, err := s.Airdrop(&AirdropRequest{Account: account, Amount: 10})
	require.NoError(t, err)
	require.Equal(t, uint64(10), reply.Balance)
}
