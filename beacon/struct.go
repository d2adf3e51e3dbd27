package beacon

import (
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
)

func init() {
	network.RegisterMessages(&InitDKGRequest{}, &InitDKGReply{},
		&RandomnessRequest{}, &RandomnessReply{}, &LatestRequest{},
		&LatestReply{})
}

type InitDKGRequest struct {
	Roster *onet.Roster
	// Timeout waiting for the DKG to finish, in seconds.
	Timeout int
}

// InitDKGReply carries the group public key.
type InitDKGReply struct {
	Public []byte
}

// RandomnessRequest asks the roster to sign the next round.
type RandomnessRequest struct {
	Roster *onet.Roster
}

// RandomnessReply is the round just produced.
type RandomnessReply struct {
	Round  Round
	Public []byte
}

type LatestRequest struct{}

// LatestReply is the most recent round accepted by the node.
type LatestReply struct {
	Round  Round
	Public []byte
}

// Round is one link of the beacon chain. Sig is the threshold BLS
// signature on Prev, the round message, and Time is when the node
// accepted it.
type Round struct {
	Round uint64
	Prev  []byte
	Sig   []byte
	Time  int64
}
