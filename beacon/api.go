package beacon

import (
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/onet/v3"
)

type Client struct {
	*onet.Client
	roster *onet.Roster
}

func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

// InitDKG runs the distributed key generation over the whole roster.
func (c *Client) InitDKG(timeout int) (*InitDKGReply, error) {
	req := &InitDKGRequest{Roster: c.roster, Timeout: timeout}
	reply := &InitDKGReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) Randomness() (*RandomnessReply, error) {
	req := &RandomnessRequest{Roster: c.roster}
	reply := &RandomnessReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) Latest() (*LatestReply, error) {
	reply := &LatestReply{}
	err := c.SendProtobuf(c.roster.List[0], &LatestRequest{}, reply)
	return reply, err
}
