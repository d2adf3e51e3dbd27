package raffle

import (
	"github.com/dedis/raffle/store"
	"go.dedis.ch/onet/v3/network"
)

func init() {
	network.RegisterMessages(&Config{}, &InitUnitRequest{}, &InitUnitReply{},
		&AirdropRequest{}, &AirdropReply{},
		&CreateRaffleRequest{}, &CreateRaffleReply{},
		&BuyTicketsRequest{}, &BuyTicketsReply{},
		&RevealWinnerRequest{}, &RevealWinnerReply{},
		&ClaimPrizeRequest{}, &ClaimPrizeReply{},
		&CloseEntrantsRequest{}, &CloseEntrantsReply{},
		&GetRaffleRequest{}, &GetRaffleReply{},
		&GetAccountRequest{}, &GetAccountReply{},
		&GetEventsRequest{}, &GetEventsReply{})
}

// Config is the unit configuration. InitUnit accepts it from the first
// caller only, so the node operator sends it when the node comes up.
type Config struct {
	// TimeBuffer is the grace period in seconds between the end of a
	// raffle and the earliest draw.
	TimeBuffer int64
	// FaucetLimit caps a single airdrop. Zero disables the faucet. Airdrops
	// mint funds for anyone who asks and are meant for test deployments
	// only.
	FaucetLimit uint64
}

type InitUnitRequest struct {
	Cfg *Config
}

type InitUnitReply struct{}

// AirdropRequest credits test funds to an account.
type AirdropRequest struct {
	Account []byte
	Amount  uint64
}

type AirdropReply struct {
	Balance uint64
}

// CreateRaffleRequest is signed by the authority. The unit derives the id
// of the ledger from the authority and the counter.
type CreateRaffleRequest struct {
	Authority    []byte
	EndTimestamp int64
	TicketPrice  uint64
	MaxEntrants  uint32
	FeePercent   uint32
	Counter      uint64
	Signature    []byte
}

type CreateRaffleReply struct {
	RaffleID   []byte
	EntrantsID []byte
	// Rent is what the authority paid to allocate both storage objects.
	Rent uint64
}

// BuyTicketsRequest is signed by the buyer.
type BuyTicketsRequest struct {
	RaffleID  []byte
	Buyer     []byte
	Amount    uint32
	Counter   uint64
	Signature []byte
}

type BuyTicketsReply struct {
	Cost            uint64
	Fee             uint64
	AccumulatedFees uint64
	Total           uint32
}

// RevealWinnerRequest can be sent by anyone.
type RevealWinnerRequest struct {
	RaffleID []byte
}

type RevealWinnerReply struct {
	Index  uint32
	Winner []byte
}

// ClaimPrizeRequest is signed by the claimant. Authority is the fee
// recipient and must be the raffle's authority.
type ClaimPrizeRequest struct {
	RaffleID  []byte
	Claimant  []byte
	Authority []byte
	Counter   uint64
	Signature []byte
}

type ClaimPrizeReply struct {
	Prize uint64
	Fees  uint64
}

// CloseEntrantsRequest is signed by the authority.
type CloseEntrantsRequest struct {
	RaffleID  []byte
	Authority []byte
	Counter   uint64
	Signature []byte
}

type CloseEntrantsReply struct {
	Refund uint64
}

type GetRaffleRequest struct {
	RaffleID []byte
}

// GetRaffleReply describes a raffle, its ledger and its escrow.
type GetRaffleReply struct {
	Authority       []byte
	EntrantsID      []byte
	EndTimestamp    int64
	TicketPrice     uint64
	FeePercent      uint32
	AccumulatedFees uint64
	Drawn           bool
	WinnerIndex     uint32
	Winner          []byte
	Claimed         bool
	Closed          bool
	Total           uint32
	MaxEntrants     uint32
	Balance         uint64
	Floor           uint64
}

type GetAccountRequest struct {
	Account []byte
}

type GetAccountReply struct {
	Balance uint64
	Counter uint64
}

type GetEventsRequest struct {
	RaffleID []byte
}

type GetEventsReply struct {
	Events []store.Event
}
