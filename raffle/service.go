package raffle

/*
The raffle unit hosts raffle escrows. Every request is applied as a single
bbolt transaction over the raffle record, its entrant ledger and the custody
accounts, so a failing request leaves no trace.
*/

import (
	"sync"
	"time"

	"github.com/dedis/raffle/beacon"
	"github.com/dedis/raffle/core"
	"github.com/dedis/raffle/custody"
	"github.com/dedis/raffle/escrow"
	"github.com/dedis/raffle/ledger"
	"github.com/dedis/raffle/store"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

var serviceID onet.ServiceID

// ServiceName is the name of the raffle unit.
const ServiceName = "RaffleService"

var configKey = []byte("config")

func init() {
	var err error
	serviceID, err = onet.RegisterNewService(ServiceName, newService)
	log.ErrFatal(err)
}

// Service holds the state of the raffle unit on one node.
type Service struct {
	*onet.ServiceProcessor

	store *store.Store

	mu  sync.Mutex
	cfg *Config

	now  func() int64
	feed func(notBefore int64) (escrow.Feed, error)
}

// InitUnit stores the unit configuration. It can only run once.
func (s *Service) InitUnit(req *InitUnitRequest) (*InitUnitReply, error) {
	if req.Cfg == nil {
		return nil, xerrors.New("missing config")
	}
	if req.Cfg.TimeBuffer < 0 {
		return nil, xerrors.Errorf("negative time buffer: %d", req.Cfg.TimeBuffer)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil {
		return nil, xerrors.New("unit already initialized")
	}
	if err := s.Save(configKey, req.Cfg); err != nil {
		log.Errorf("Could not save config: %v", err)
		return nil, err
	}
	s.cfg = req.Cfg
	log.Lvl2(s.ServerIdentity(), "unit initialized, time buffer", req.Cfg.TimeBuffer)
	return &InitUnitReply{}, nil
}

// Airdrop credits test funds, at most FaucetLimit per request.
func (s *Service) Airdrop(req *AirdropRequest) (*AirdropReply, error) {
	account, err := core.NewID(req.Account)
	if err != nil {
		return nil, err
	}
	cfg := s.config()
	if cfg.FaucetLimit == 0 {
		return nil, xerrors.New("faucet disabled")
	}
	if req.Amount > cfg.FaucetLimit {
		return nil, xerrors.Errorf("airdrop of %d above limit %d", req.Amount, cfg.FaucetLimit)
	}
	reply := &AirdropReply{}
	err = s.store.Update(func(txn *store.Txn) error {
		reply.Balance, err = txn.Vault().Credit(account, req.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// CreateRaffle allocates the raffle and its ledger, paid by the authority.
func (s *Service) CreateRaffle(req *CreateRaffleRequest) (*CreateRaffleReply, error) {
	// Out of range percentages map to 0 so that escrow.Create rejects them
	// in its usual order.
	var fee uint8
	if req.FeePercent <= escrow.MaxFeePercent {
		fee = uint8(req.FeePercent)
	}
	reply := &CreateRaffleReply{}
	err := s.store.Update(func(txn *store.Txn) error {
		vault := txn.Vault()
		authority, err := authenticate(vault, req.Authority, req.Counter, req.Hash(), req.Signature)
		if err != nil {
			return err
		}
		entrantsID := core.DeriveEntrantsID(authority, req.Counter)
		env := s.env(vault)
		r, l, err := escrow.Create(env, authority, entrantsID, req.EndTimestamp,
			req.TicketPrice, req.MaxEntrants, fee)
		if err != nil {
			return err
		}
		rentRaffle, err := vault.Allocate(r.ID, escrow.RecordSize, authority)
		if err != nil {
			return xerrors.Errorf("allocating raffle: %w", err)
		}
		rentLedger, err := vault.Allocate(entrantsID, ledger.Size, authority)
		if err != nil {
			return xerrors.Errorf("allocating entrants: %w", err)
		}
		if err := txn.PutRaffle(r); err != nil {
			return err
		}
		if err := txn.PutEntrants(entrantsID, l); err != nil {
			return err
		}
		reply.RaffleID = r.ID.Bytes()
		reply.EntrantsID = entrantsID.Bytes()
		reply.Rent = rentRaffle + rentLedger
		return txn.AppendEvent(r.ID, &store.Event{
			Type:    store.EventCreated,
			Time:    env.Now,
			Account: authority.Bytes(),
			Amount:  reply.Rent,
		})
	})
	if err != nil {
		log.Lvl2(s.ServerIdentity(), "create raffle failed:", err)
		return nil, err
	}
	log.Lvlf2("%v raffle %x created", s.ServerIdentity(), reply.RaffleID[:8])
	return reply, nil
}

// BuyTickets adds tickets for the buyer and escrows their net price.
func (s *Service) BuyTickets(req *BuyTicketsRequest) (*BuyTicketsReply, error) {
	raffleID, err := core.NewID(req.RaffleID)
	if err != nil {
		return nil, err
	}
	reply := &BuyTicketsReply{}
	err = s.store.Update(func(txn *store.Txn) error {
		vault := txn.Vault()
		buyer, err := authenticate(vault, req.Buyer, req.Counter, req.Hash(), req.Signature)
		if err != nil {
			return err
		}
		r, l, err := load(txn, raffleID)
		if err != nil {
			return err
		}
		env := s.env(vault)
		p, err := r.BuyTickets(env, l, buyer, req.Amount)
		if err != nil {
			return err
		}
		if err := s.save(txn, r, l); err != nil {
			return err
		}
		reply.Cost, reply.Fee, reply.Total = p.Cost, p.Fee, l.Total
		reply.AccumulatedFees = r.AccumulatedFees
		return txn.AppendEvent(r.ID, &store.Event{
			Type:    store.EventTickets,
			Time:    env.Now,
			Account: buyer.Bytes(),
			Amount:  p.Cost,
			Total:   l.Total,
			Fees:    r.AccumulatedFees,
		})
	})
	if err != nil {
		log.Lvl2(s.ServerIdentity(), "buy tickets failed:", err)
		return nil, err
	}
	log.Lvlf2("%v raffle %x: %d tickets, cost %d, fee %d, accumulated fees %d",
		s.ServerIdentity(), raffleID[:8], req.Amount, reply.Cost, reply.Fee,
		reply.AccumulatedFees)
	return reply, nil
}

// RevealWinner draws the winner from the local beacon.
func (s *Service) RevealWinner(req *RevealWinnerRequest) (*RevealWinnerReply, error) {
	raffleID, err := core.NewID(req.RaffleID)
	if err != nil {
		return nil, err
	}
	// The feed reads the node database and must not be opened inside the
	// write transaction.
	var drawAt int64
	err = s.store.View(func(txn *store.Txn) error {
		r, err := txn.Raffle(raffleID)
		if err != nil {
			return err
		}
		// On overflow RevealWinner fails before it reads the feed.
		drawAt, err = core.AddTime(r.EndTimestamp, s.config().TimeBuffer)
		if err != nil {
			drawAt = r.EndTimestamp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	feed, err := s.feed(drawAt)
	if err != nil {
		return nil, xerrors.Errorf("opening feed (%v): %w", err, core.ErrRandomnessUnavailable)
	}
	reply := &RevealWinnerReply{}
	err = s.store.Update(func(txn *store.Txn) error {
		r, l, err := load(txn, raffleID)
		if err != nil {
			return err
		}
		env := s.env(txn.Vault())
		index, err := r.RevealWinner(env, l, feed)
		if err != nil {
			return err
		}
		winner, err := l.At(index)
		if err != nil {
			return err
		}
		if err := txn.PutRaffle(r); err != nil {
			return err
		}
		reply.Index, reply.Winner = index, winner.Bytes()
		return txn.AppendEvent(r.ID, &store.Event{
			Type:    store.EventWinner,
			Time:    env.Now,
			Account: reply.Winner,
			Total:   l.Total,
			Index:   index,
		})
	})
	if err != nil {
		log.Lvl2(s.ServerIdentity(), "reveal failed:", err)
		return nil, err
	}
	log.Lvlf2("%v raffle %x: winning ticket %d", s.ServerIdentity(), raffleID[:8], reply.Index)
	return reply, nil
}

// ClaimPrize pays the winner and the authority.
func (s *Service) ClaimPrize(req *ClaimPrizeRequest) (*ClaimPrizeReply, error) {
	raffleID, err := core.NewID(req.RaffleID)
	if err != nil {
		return nil, err
	}
	reply := &ClaimPrizeReply{}
	err = s.store.Update(func(txn *store.Txn) error {
		vault := txn.Vault()
		claimant, err := authenticate(vault, req.Claimant, req.Counter, req.Hash(), req.Signature)
		if err != nil {
			return err
		}
		r, l, err := load(txn, raffleID)
		if err != nil {
			return err
		}
		authority, err := core.NewID(req.Authority)
		if err != nil || authority != r.Authority {
			return core.ErrUnauthorized
		}
		env := s.env(vault)
		payout, err := r.ClaimPrize(env, l, claimant)
		if err != nil {
			return err
		}
		if err := txn.PutRaffle(r); err != nil {
			return err
		}
		reply.Prize, reply.Fees = payout.Prize, payout.Fees
		return txn.AppendEvent(r.ID, &store.Event{
			Type:    store.EventClaim,
			Time:    env.Now,
			Account: claimant.Bytes(),
			Amount:  payout.Prize,
			Fees:    payout.Fees,
		})
	})
	if err != nil {
		log.Lvl2(s.ServerIdentity(), "claim failed:", err)
		return nil, err
	}
	log.Lvlf2("%v raffle %x: prize %d, fees %d", s.ServerIdentity(), raffleID[:8],
		reply.Prize, reply.Fees)
	return reply, nil
}

// CloseEntrants releases the ledger's storage to the authority.
func (s *Service) CloseEntrants(req *CloseEntrantsRequest) (*CloseEntrantsReply, error) {
	raffleID, err := core.NewID(req.RaffleID)
	if err != nil {
		return nil, err
	}
	reply := &CloseEntrantsReply{}
	err = s.store.Update(func(txn *store.Txn) error {
		vault := txn.Vault()
		caller, err := authenticate(vault, req.Authority, req.Counter, req.Hash(), req.Signature)
		if err != nil {
			return err
		}
		r, l, err := load(txn, raffleID)
		if err != nil {
			return err
		}
		env := s.env(vault)
		reply.Refund, err = r.CloseAndReclaim(env, l, caller)
		if err != nil {
			return err
		}
		if err := txn.DeleteEntrants(r.EntrantsID); err != nil {
			return err
		}
		if err := txn.PutRaffle(r); err != nil {
			return err
		}
		return txn.AppendEvent(r.ID, &store.Event{
			Type:    store.EventClose,
			Time:    env.Now,
			Account: caller.Bytes(),
			Amount:  reply.Refund,
		})
	})
	if err != nil {
		log.Lvl2(s.ServerIdentity(), "close failed:", err)
		return nil, err
	}
	log.Lvlf2("%v raffle %x closed, refund %d", s.ServerIdentity(), raffleID[:8], reply.Refund)
	return reply, nil
}

// GetRaffle returns the raffle, its ledger summary and its escrow balance.
func (s *Service) GetRaffle(req *GetRaffleRequest) (*GetRaffleReply, error) {
	raffleID, err := core.NewID(req.RaffleID)
	if err != nil {
		return nil, err
	}
	reply := &GetRaffleReply{}
	err = s.store.View(func(txn *store.Txn) error {
		r, l, err := load(txn, raffleID)
		if err != nil {
			return err
		}
		vault := txn.Vault()
		if reply.Balance, err = vault.BalanceOf(r.ID); err != nil {
			return err
		}
		if reply.Floor, err = vault.MinimumRetained(r.ID); err != nil {
			return err
		}
		reply.Authority = r.Authority.Bytes()
		reply.EntrantsID = r.EntrantsID.Bytes()
		reply.EndTimestamp = r.EndTimestamp
		reply.TicketPrice = r.TicketPrice
		reply.FeePercent = uint32(r.FeePercent)
		reply.AccumulatedFees = r.AccumulatedFees
		reply.Claimed = r.Claimed
		reply.Closed = r.Closed
		reply.WinnerIndex, reply.Drawn = r.Winner.Index()
		if l == nil {
			return nil
		}
		reply.Total, reply.MaxEntrants = l.Total, l.Max
		if reply.Drawn {
			winner, err := l.At(reply.WinnerIndex)
			if err != nil {
				return err
			}
			reply.Winner = winner.Bytes()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// GetAccount returns the balance and the replay counter of an account.
func (s *Service) GetAccount(req *GetAccountRequest) (*GetAccountReply, error) {
	account, err := core.NewID(req.Account)
	if err != nil {
		return nil, err
	}
	reply := &GetAccountReply{}
	err = s.store.View(func(txn *store.Txn) error {
		acc, err := txn.Vault().Account(account)
		if err != nil {
			return err
		}
		reply.Balance, reply.Counter = acc.Balance, acc.Counter
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// GetEvents returns the log of a raffle.
func (s *Service) GetEvents(req *GetEventsRequest) (*GetEventsReply, error) {
	raffleID, err := core.NewID(req.RaffleID)
	if err != nil {
		return nil, err
	}
	reply := &GetEventsReply{}
	err = s.store.View(func(txn *store.Txn) error {
		reply.Events, err = txn.Events(raffleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// SetClock replaces the unix clock of the unit.
func (s *Service) SetClock(now func() int64) {
	s.now = now
}

// SetFeed replaces the randomness feed of the unit. feed is called with the
// draw time of the raffle being revealed.
func (s *Service) SetFeed(feed func(notBefore int64) (escrow.Feed, error)) {
	s.feed = feed
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return Config{TimeBuffer: escrow.DefaultTimeBuffer}
	}
	return *s.cfg
}

func (s *Service) env(c escrow.Custody) escrow.Env {
	return escrow.Env{Now: s.now(), TimeBuffer: s.config().TimeBuffer, Custody: c}
}

func (s *Service) save(txn *store.Txn, r *escrow.Raffle, l *ledger.Entrants) error {
	if err := txn.PutRaffle(r); err != nil {
		return err
	}
	return txn.PutEntrants(r.EntrantsID, l)
}

// load returns the raffle and its ledger. The ledger of a closed raffle is
// gone and comes back nil.
func load(txn *store.Txn, id core.ID) (*escrow.Raffle, *ledger.Entrants, error) {
	r, err := txn.Raffle(id)
	if err != nil {
		return nil, nil, err
	}
	if r.Closed {
		return r, nil, nil
	}
	l, err := txn.Entrants(r.EntrantsID)
	if err != nil {
		return nil, nil, err
	}
	return r, l, nil
}

func (s *Service) beaconFeed(notBefore int64) (escrow.Feed, error) {
	b, ok := s.Service(beacon.ServiceName).(*beacon.Beacon)
	if !ok {
		return nil, xerrors.New("randomness beacon not running")
	}
	return b.Snapshot(notBefore)
}

func (s *Service) tryLoad() error {
	msg, err := s.Load(configKey)
	if err != nil {
		log.Errorf("Load config failed: %v", err)
		return err
	}
	if msg == nil {
		return nil
	}
	cfg, ok := msg.(*Config)
	if !ok {
		return xerrors.New("config of wrong type")
	}
	s.cfg = cfg
	return nil
}

func newService(c *onet.Context) (onet.Service, error) {
	db, bucket := c.GetAdditionalBucket([]byte("escrow"))
	st, err := store.New(db, bucket)
	if err != nil {
		return nil, err
	}
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
		store:            st,
		now:              func() int64 { return time.Now().Unix() },
	}
	s.feed = s.beaconFeed
	if err := s.RegisterHandlers(s.InitUnit, s.Airdrop, s.CreateRaffle,
		s.BuyTickets, s.RevealWinner, s.ClaimPrize, s.CloseEntrants,
		s.GetRaffle, s.GetAccount, s.GetEvents); err != nil {
		log.Errorf("couldn't register handlers: %v", err)
		return nil, err
	}
	if err := s.tryLoad(); err != nil {
		return nil, err
	}
	return s, nil
}

var _ escrow.Custody = (*custody.Vault)(nil)
