package protocol

import (
	"time"

	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/tbls"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// SignProtocol produces one threshold BLS signature over a round message.
// Every node recovers the full signature and hands it to Accept before the
// root returns it.
type SignProtocol struct {
	*onet.TreeNodeInstance
	Msg []byte

	Threshold int
	Timeout   time.Duration
	// Verify checks the proposed message against the local chain of rounds.
	Verify func(msg []byte) error
	// Accept is called on every node with the recovered signature.
	Accept func(msg, sig []byte) error

	FinalSignature chan []byte

	initChan chan initChan
	sigChan  chan sigChan
	syncChan chan syncChan

	sk    *share.PriShare
	pk    *share.PubPoly
	suite pairing.Suite
}

// NewSignProtocol initialises the structure for use in one round.
func NewSignProtocol(n *onet.TreeNodeInstance, sk *share.PriShare, pk *share.PubPoly,
	suite pairing.Suite) (onet.ProtocolInstance, error) {
	if sk == nil || pk == nil {
		return nil, xerrors.New("distributed key not set up")
	}
	numNodes := len(n.Roster().List)
	p := &SignProtocol{
		TreeNodeInstance: n,
		Threshold:        numNodes - (numNodes-1)/3,
		Timeout:          10 * time.Second,
		Verify:           func([]byte) error { return nil },
		Accept:           func([]byte, []byte) error { return nil },
		FinalSignature:   make(chan []byte, 1),
		sk:               sk,
		pk:               pk,
		suite:            suite,
	}
	if err := p.RegisterChannels(&p.initChan, &p.sigChan, &p.syncChan); err != nil {
		return nil, err
	}
	return p, nil
}

// Start implements the onet.ProtocolInstance interface.
func (p *SignProtocol) Start() error {
	if len(p.Msg) == 0 {
		return xerrors.New("empty message")
	}
	log.Lvl3(p.ServerIdentity(), "starting")
	return p.fullBroadcast(&Init{p.Msg})
}

// Dispatch implements the onet.ProtocolInstance interface.
func (p *SignProtocol) Dispatch() error {
	defer p.Done()
	var initMsg initChan
	select {
	case initMsg = <-p.initChan:
	case <-time.After(p.Timeout):
		return xerrors.New("time out while waiting for the round message")
	}
	if err := p.Verify(initMsg.Msg); err != nil {
		log.Error(p.ServerIdentity(), "refusing to sign:", err)
		return err
	}
	log.Lvl3(p.ServerIdentity(), "signing")
	sig, err := tbls.Sign(p.suite, p.sk, initMsg.Msg)
	if err != nil {
		return err
	}
	if err := p.fullBroadcast(&Sig{sig}); err != nil {
		return err
	}
	log.Lvl3(p.ServerIdentity(), "waiting for all signatures")
	n := len(p.List())
	sigs := make([][]byte, 0, n)
	for len(sigs) < n {
		select {
		case sigMsg := <-p.sigChan:
			sigs = append(sigs, sigMsg.ThresholdSig)
		case <-time.After(p.Timeout):
			return xerrors.Errorf("time out with %d of %d shares", len(sigs), n)
		}
	}
	finalSig, err := tbls.Recover(p.suite, p.pk, initMsg.Msg, sigs, p.Threshold, n)
	if err != nil {
		return xerrors.Errorf("recovering signature: %v", err)
	}
	if err := p.Accept(initMsg.Msg, finalSig); err != nil {
		return err
	}
	if p.IsRoot() {
		for i := 0; i < n-1; i++ {
			select {
			case <-p.syncChan:
			case <-time.After(p.Timeout):
				return xerrors.New("time out while synchronising")
			}
		}
		p.FinalSignature <- finalSig
		return nil
	}
	p.FinalSignature <- finalSig
	return p.SendTo(p.Root(), &Sync{})
}

func (p *SignProtocol) fullBroadcast(msg interface{}) error {
	n := len(p.List())
	errc := make(chan error, n)
	for _, treenode := range p.List() {
		go func(tn *onet.TreeNode) {
			errc <- p.SendTo(tn, msg)
		}(treenode)
	}
	for i := 0; i < n; i++ {
		if err := <-errc; err != nil {
			return err
		}
	}
	return nil
}
