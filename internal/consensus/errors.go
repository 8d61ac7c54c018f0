package consensus

import (
	"errors"
	"fmt"
	"math/big"
)

// Consensus message errors. A message failing with any of these is dropped;
// none of them is fatal to the engine.
var (
	ErrWrongStep        = errors.New("consensus: message does not match current step")
	ErrWrongRound       = errors.New("consensus: message round does not match current round")
	ErrWrongVote        = errors.New("consensus: vote for a different block hash")
	ErrUnknownStep      = errors.New("consensus: unknown step tag")
	ErrIneligibleSender = errors.New("consensus: ineligible sender")
	ErrInvalidSignature = errors.New("consensus: invalid signature")
	ErrInvalidMessage   = errors.New("consensus: malformed message")

	ErrNotProposer  = fmt.Errorf("%w: not the proposer", ErrIneligibleSender)
	ErrNotValidator = fmt.Errorf("%w: not a validator", ErrIneligibleSender)
)

// ErrStepContended means a step mutation found the step lock already held.
// Mutations are serialized by the event loop, so this is an internal
// invariant violation rather than a protocol error.
var ErrStepContended = errors.New("consensus: step lock contended")

// Engine lifecycle errors.
var (
	ErrEngineStopped  = errors.New("consensus: engine stopped")
	ErrAlreadyStarted = errors.New("consensus: engine already started")
)

// Header and transaction verification errors.
var (
	ErrInvalidSealArity  = errors.New("consensus: invalid seal arity")
	ErrInvalidSeal       = errors.New("consensus: invalid seal")
	ErrInvalidDifficulty = errors.New("consensus: invalid difficulty")
	ErrInvalidGasLimit   = errors.New("consensus: invalid gas limit")
	ErrRidiculousNumber  = errors.New("consensus: ridiculous block number")
	ErrInvalidTx         = errors.New("consensus: invalid transaction")
)

// SealArityError reports a header whose seal has the wrong number of entries.
type SealArityError struct {
	Expected int
	Found    int
}

func (e *SealArityError) Error() string {
	return fmt.Sprintf("%v: expected %d, found %d", ErrInvalidSealArity, e.Expected, e.Found)
}

func (e *SealArityError) Unwrap() error { return ErrInvalidSealArity }

// MismatchError reports a header value that must equal its parent's.
type MismatchError struct {
	Err      error
	Expected *big.Int
	Found    *big.Int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: expected %s, found %s", e.Err, e.Expected, e.Found)
}

func (e *MismatchError) Unwrap() error { return e.Err }

// OutOfBoundsError reports a header value outside its permitted range.
// A nil bound is open.
type OutOfBoundsError struct {
	Err   error
	Min   *uint64
	Max   *uint64
	Found uint64
}

func (e *OutOfBoundsError) Error() string {
	bound := func(b *uint64) string {
		if b == nil {
			return "-"
		}
		return fmt.Sprint(*b)
	}
	return fmt.Sprintf("%v: min %s, max %s, found %d", e.Err, bound(e.Min), bound(e.Max), e.Found)
}

func (e *OutOfBoundsError) Unwrap() error { return e.Err }

// rejectReason maps a message error to a metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrWrongRound):
		return "wrong_round"
	case errors.Is(err, ErrWrongStep):
		return "wrong_step"
	case errors.Is(err, ErrWrongVote):
		return "wrong_vote"
	case errors.Is(err, ErrUnknownStep):
		return "unknown_step"
	case errors.Is(err, ErrIneligibleSender):
		return "ineligible"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrInvalidMessage):
		return "malformed"
	case errors.Is(err, ErrStepContended):
		return "contended"
	default:
		return "other"
	}
}
