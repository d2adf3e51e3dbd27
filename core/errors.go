package core

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind groups raffle errors by what went wrong.
type Kind int

const (
	KindUnknown Kind = iota
	// TimingViolation: the raffle is open when it must be over, or the
	// other way round.
	TimingViolation
	// CapacityExceeded: the entrant ledger has no room left.
	CapacityExceeded
	// InvalidConfiguration: bad creation parameters.
	InvalidConfiguration
	// ArithmeticOverflow: a checked computation failed.
	ArithmeticOverflow
	// AuthorizationFailure: wrong signer for a privileged or winner-gated
	// action.
	AuthorizationFailure
	// StateConflict: the raffle is not in the lifecycle state the
	// operation needs.
	StateConflict
	// DataUnavailable: the randomness feed is empty or malformed.
	DataUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	TimingViolation:      "timing violation",
	CapacityExceeded:     "capacity exceeded",
	InvalidConfiguration: "invalid configuration",
	ArithmeticOverflow:   "arithmetic overflow",
	AuthorizationFailure: "authorization failure",
	StateConflict:        "state conflict",
	DataUnavailable:      "data unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a raffle error. Codes are stable and cross the network in the
// error text.
type Error struct {
	Code uint32
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.msg, e.Code)
}

func newError(code uint32, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

var (
	ErrRaffleEnded                = newError(6000, TimingViolation, "raffle has ended")
	ErrInvalidPrizeIndex          = newError(6001, StateConflict, "invalid prize index")
	ErrNotEnoughTicketsLeft       = newError(6002, CapacityExceeded, "not enough tickets left")
	ErrNoPrize                    = newError(6003, StateConflict, "no prize")
	ErrInvalidCalculation         = newError(6004, ArithmeticOverflow, "invalid calculation")
	ErrInvalidEndTimestamp        = newError(6005, InvalidConfiguration, "end timestamp must be in the future")
	ErrInvalidTicketPrice         = newError(6006, InvalidConfiguration, "ticket price must be greater than 0")
	ErrInvalidMaxEntrants         = newError(6007, InvalidConfiguration, "max entrants must be greater than 0 and at most the ledger capacity")
	ErrInvalidAuthorityFeePercent = newError(6008, InvalidConfiguration, "authority fee percent must be in 1..100")
	ErrRaffleStillRunning         = newError(6009, TimingViolation, "raffle is still running")
	ErrWinnersAlreadyDrawn        = newError(6010, StateConflict, "winner already drawn")
	ErrWinnerNotDrawn             = newError(6011, StateConflict, "winner not drawn")
	ErrNotWinner                  = newError(6012, AuthorizationFailure, "user is not winner")
	ErrUnauthorized               = newError(6013, AuthorizationFailure, "unauthorized")
	ErrPrizeNotClaimed            = newError(6014, StateConflict, "prize not claimed")
	ErrPrizeAlreadyClaimed        = newError(6015, StateConflict, "prize already claimed")
	ErrRandomnessUnavailable      = newError(6016, DataUnavailable, "randomness unavailable")
	ErrEntrantsClosed             = newError(6017, StateConflict, "entrants ledger already closed")
	ErrEntrantsMismatch           = newError(6018, AuthorizationFailure, "entrants ledger does not belong to raffle")
)

// KindOf returns the kind of the first raffle error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
