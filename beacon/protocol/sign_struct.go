package protocol

import "go.dedis.ch/onet/v3"

const DKGProtoName = "beacon_dkg"
const SignProtoName = "beacon_sign"

// Init carries the round message to sign.
type Init struct {
	Msg []byte
}
type initChan struct {
	*onet.TreeNode
	Init
}

// Sig contains one signature share.
type Sig struct {
	ThresholdSig []byte
}
type sigChan struct {
	*onet.TreeNode
	Sig
}

// Sync tells the root that a node has accepted the round.
type Sync struct{}

type syncChan struct {
	*onet.TreeNode
	Sync
}
