package raffle

import (
	"github.com/dedis/raffle/core"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3"
	"golang.org/x/xerrors"
)

// Client talks to the raffle unit of the first roster node on behalf of
// one signer.
type Client struct {
	*onet.Client
	roster *onet.Roster
	signer darc.Signer
}

func NewClient(r *onet.Roster, signer darc.Signer) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r, signer: signer}
}

// ID returns the account id of the client's signer.
func (c *Client) ID() (core.ID, error) {
	return SignerID(c.signer)
}

// SignerID returns the account id of an Ed25519 signer.
func SignerID(signer darc.Signer) (core.ID, error) {
	if signer.Ed25519 == nil {
		return core.ID{}, xerrors.New("not an ed25519 signer")
	}
	return core.IDFromPoint(signer.Ed25519.Point)
}

func (c *Client) InitUnit(cfg *Config) (*InitUnitReply, error) {
	reply := &InitUnitReply{}
	err := c.SendProtobuf(c.roster.List[0], &InitUnitRequest{Cfg: cfg}, reply)
	return reply, err
}

// Airdrop asks the faucet for funds for account.
func (c *Client) Airdrop(account core.ID, amount uint64) (*AirdropReply, error) {
	req := &AirdropRequest{Account: account.Bytes(), Amount: amount}
	reply := &AirdropReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

// CreateRaffle creates a raffle with a fresh entrant ledger. The client's
// signer is the authority.
func (c *Client) CreateRaffle(end int64, price uint64, maxEntrants uint32,
	feePercent uint32) (*CreateRaffleReply, error) {
	me, counter, err := c.next()
	if err != nil {
		return nil, err
	}
	req := &CreateRaffleRequest{
		Authority:    me.Bytes(),
		EndTimestamp: end,
		TicketPrice:  price,
		MaxEntrants:  maxEntrants,
		FeePercent:   feePercent,
		Counter:      counter,
	}
	if req.Signature, err = c.signer.Sign(req.Hash()); err != nil {
		return nil, err
	}
	reply := &CreateRaffleReply{}
	err = c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) BuyTickets(raffle core.ID, amount uint32) (*BuyTicketsReply, error) {
	me, counter, err := c.next()
	if err != nil {
		return nil, err
	}
	req := &BuyTicketsRequest{
		RaffleID: raffle.Bytes(),
		Buyer:    me.Bytes(),
		Amount:   amount,
		Counter:  counter,
	}
	if req.Signature, err = c.signer.Sign(req.Hash()); err != nil {
		return nil, err
	}
	reply := &BuyTicketsReply{}
	err = c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) RevealWinner(raffle core.ID) (*RevealWinnerReply, error) {
	reply := &RevealWinnerReply{}
	err := c.SendProtobuf(c.roster.List[0], &RevealWinnerRequest{RaffleID: raffle.Bytes()}, reply)
	return reply, err
}

// ClaimPrize claims the prize for the client's signer and pays the fees to
// authority.
func (c *Client) ClaimPrize(raffle, authority core.ID) (*ClaimPrizeReply, error) {
	me, counter, err := c.next()
	if err != nil {
		return nil, err
	}
	req := &ClaimPrizeRequest{
		RaffleID:  raffle.Bytes(),
		Claimant:  me.Bytes(),
		Authority: authority.Bytes(),
		Counter:   counter,
	}
	if req.Signature, err = c.signer.Sign(req.Hash()); err != nil {
		return nil, err
	}
	reply := &ClaimPrizeReply{}
	err = c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) CloseEntrants(raffle core.ID) (*CloseEntrantsReply, error) {
	me, counter, err := c.next()
	if err != nil {
		return nil, err
	}
	req := &CloseEntrantsRequest{
		RaffleID:  raffle.Bytes(),
		Authority: me.Bytes(),
		Counter:   counter,
	}
	if req.Signature, err = c.signer.Sign(req.Hash()); err != nil {
		return nil, err
	}
	reply := &CloseEntrantsReply{}
	err = c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) GetRaffle(raffle core.ID) (*GetRaffleReply, error) {
	reply := &GetRaffleReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetRaffleRequest{RaffleID: raffle.Bytes()}, reply)
	return reply, err
}

func (c *Client) GetAccount(account core.ID) (*GetAccountReply, error) {
	reply := &GetAccountReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetAccountRequest{Account: account.Bytes()}, reply)
	return reply, err
}

func (c *Client) GetEvents(raffle core.ID) (*GetEventsReply, error) {
	reply := &GetEventsReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetEventsRequest{RaffleID: raffle.Bytes()}, reply)
	return reply, err
}

// next returns the signer's id and the counter its next request must carry.
func (c *Client) next() (core.ID, uint64, error) {
	me, err := c.ID()
	if err != nil {
		return me, 0, err
	}
	acc, err := c.GetAccount(me)
	if err != nil {
		return me, 0, xerrors.Errorf("reading counter: %v", err)
	}
	return me, acc.Counter + 1, nil
}
