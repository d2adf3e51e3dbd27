package main

import (
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dedis/raffle/beacon"
	"github.com/dedis/raffle/core"
	"github.com/dedis/raffle/escrow"
	"github.com/dedis/raffle/raffle"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/simul/monitor"
	"golang.org/x/xerrors"
)

// faucet funds every simulated account generously.
const faucet = uint64(1) << 40

type SimulationService struct {
	onet.SimulationBFTree
	NumParticipants int
	TicketsPerBuyer int
	MaxEntrants     int
	TicketPrice     uint64
	FeePercent      int
	// Duration is how long, in seconds, the raffle accepts tickets.
	Duration int
}

func init() {
	onet.SimulationRegister("RaffleSimulation", NewRaffleSimulation)
}

func NewRaffleSimulation(config string) (onet.Simulation, error) {
	ss := &SimulationService{}
	_, err := toml.Decode(config, ss)
	if err != nil {
		return nil, err
	}
	return ss, nil
}

func (s *SimulationService) Setup(dir string,
	hosts []string) (*onet.SimulationConfig, error) {
	sc := &onet.SimulationConfig{}
	s.CreateRoster(sc, hosts, 2000)
	err := s.CreateTree(sc)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SimulationService) Node(config *onet.SimulationConfig) error {
	index, _ := config.Roster.Search(config.Server.ServerIdentity.GetID())
	if index < 0 {
		log.Fatal("Didn't find this node in roster")
	}
	log.Lvl3("Initializing node-index", index)
	return s.SimulationBFTree.Node(config)
}

func (s *SimulationService) fund(roster *onet.Roster, signers []darc.Signer) error {
	cl := raffle.NewClient(roster, signers[0])
	defer cl.Close()
	for _, signer := range signers {
		id, err := raffle.SignerID(signer)
		if err != nil {
			return err
		}
		if _, err := cl.Airdrop(id, faucet); err != nil {
			log.Errorf("airdrop: %v", err)
			return err
		}
	}
	return nil
}

func (s *SimulationService) buyAll(roster *onet.Roster, raffleID core.ID,
	participants []darc.Signer) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(participants))
	for i, p := range participants {
		wg.Add(1)
		go func(idx int, signer darc.Signer) {
			defer wg.Done()
			cl := raffle.NewClient(roster, signer)
			defer cl.Close()
			m := monitor.NewTimeMeasure("buy")
			_, err := cl.BuyTickets(raffleID, uint32(s.TicketsPerBuyer))
			m.Record()
			if err != nil {
				log.Errorf("participant %d: %v", idx, err)
				errs <- err
			}
		}(i, p)
	}
	wg.Wait()
	close(errs)
	return <-errs
}

func (s *SimulationService) runRaffle(roster *onet.Roster) error {
	authority := darc.NewSignerEd25519(nil, nil)
	participants := make([]darc.Signer, s.NumParticipants)
	byID := make(map[core.ID]darc.Signer)
	for i := range participants {
		participants[i] = darc.NewSignerEd25519(nil, nil)
		id, err := raffle.SignerID(participants[i])
		if err != nil {
			return err
		}
		byID[id] = participants[i]
	}
	if err := s.fund(roster, append([]darc.Signer{authority}, participants...)); err != nil {
		return err
	}

	authCl := raffle.NewClient(roster, authority)
	defer authCl.Close()
	authID, err := authCl.ID()
	if err != nil {
		return err
	}
	end := time.Now().Unix() + int64(s.Duration)
	createMonitor := monitor.NewTimeMeasure("create")
	created, err := authCl.CreateRaffle(end, s.TicketPrice, uint32(s.MaxEntrants),
		uint32(s.FeePercent))
	if err != nil {
		log.Errorf("create raffle: %v", err)
		return err
	}
	createMonitor.Record()
	raffleID, err := core.NewID(created.RaffleID)
	if err != nil {
		return err
	}

	buyMonitor := monitor.NewTimeMeasure("buy_all")
	if err := s.buyAll(roster, raffleID, participants); err != nil {
		return err
	}
	buyMonitor.Record()

	// The beacon round has to be signed after the draw time.
	drawAt := end + escrow.DefaultTimeBuffer
	if wait := time.Until(time.Unix(drawAt, 0)); wait > 0 {
		time.Sleep(wait + time.Second)
	}
	randCl := beacon.NewClient(roster)
	defer randCl.Close()
	roundMonitor := monitor.NewTimeMeasure("beacon_round")
	if _, err := randCl.Randomness(); err != nil {
		log.Errorf("beacon round: %v", err)
		return err
	}
	roundMonitor.Record()

	revealMonitor := monitor.NewTimeMeasure("reveal")
	reveal, err := authCl.RevealWinner(raffleID)
	if err != nil {
		log.Errorf("reveal: %v", err)
		return err
	}
	revealMonitor.Record()
	winnerID, err := core.NewID(reveal.Winner)
	if err != nil {
		return err
	}
	winner, ok := byID[winnerID]
	if !ok {
		return xerrors.New("winner is not a participant")
	}

	winCl := raffle.NewClient(roster, winner)
	defer winCl.Close()
	claimMonitor := monitor.NewTimeMeasure("claim")
	payout, err := winCl.ClaimPrize(raffleID, authID)
	if err != nil {
		log.Errorf("claim: %v", err)
		return err
	}
	claimMonitor.Record()
	log.Lvlf1("ticket %d won %d, fees %d", reveal.Index, payout.Prize, payout.Fees)

	closeMonitor := monitor.NewTimeMeasure("close")
	if _, err := authCl.CloseEntrants(raffleID); err != nil {
		log.Errorf("close: %v", err)
		return err
	}
	closeMonitor.Record()
	return nil
}

func (s *SimulationService) Run(config *onet.SimulationConfig) error {
	roster := config.Roster
	cl := raffle.NewClient(roster, darc.NewSignerEd25519(nil, nil))
	defer cl.Close()
	_, err := cl.InitUnit(&raffle.Config{
		TimeBuffer:  escrow.DefaultTimeBuffer,
		FaucetLimit: faucet,
	})
	if err != nil {
		log.Errorf("initializing raffle unit: %v", err)
		return err
	}
	randCl := beacon.NewClient(roster)
	defer randCl.Close()
	dkgMonitor := monitor.NewTimeMeasure("dkg")
	if _, err := randCl.InitDKG(10); err != nil {
		log.Errorf("initializing DKG: %v", err)
		return err
	}
	dkgMonitor.Record()
	// Let the other nodes store their shares.
	time.Sleep(time.Second)

	for round := 0; round < s.Rounds; round++ {
		log.Lvl1("Starting round", round)
		if err := s.runRaffle(roster); err != nil {
			return err
		}
	}
	return nil
}
