package consensus

import (
	"sync"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// Step is the live phase of the current round. The set of variants is
// closed: ProposeStep, *PrevoteStep, *PrecommitStep and *CommitStep.
type Step interface {
	RoundStep() RoundStep
	isStep()
}

// ProposeStep waits for the designated proposer's block hash.
type ProposeStep struct{}

// PrevoteStep waits for a quorum of prevotes on Votes.Hash().
type PrevoteStep struct {
	Votes *VoteCollector
}

// PrecommitStep waits for a quorum of precommits on Votes.Hash(). Seal
// accumulates one encoded signature per counted precommit, in arrival order.
type PrecommitStep struct {
	Votes *VoteCollector
	Seal  types.Seal
}

// CommitStep is terminal for the round: the agreed hash and its seal.
type CommitStep struct {
	Hash types.Hash
	Seal types.Seal
}

func (ProposeStep) RoundStep() RoundStep    { return RoundStepPropose }
func (*PrevoteStep) RoundStep() RoundStep   { return RoundStepPrevote }
func (*PrecommitStep) RoundStep() RoundStep { return RoundStepPrecommit }
func (*CommitStep) RoundStep() RoundStep    { return RoundStepCommit }

func (ProposeStep) isStep()    {}
func (*PrevoteStep) isStep()   {}
func (*PrecommitStep) isStep() {}
func (*CommitStep) isStep()    {}

// stepHash returns the block hash a step is working on.
func stepHash(s Step) types.Hash {
	switch s := s.(type) {
	case *PrevoteStep:
		return s.Votes.Hash()
	case *PrecommitStep:
		return s.Votes.Hash()
	case *CommitStep:
		return s.Hash
	default:
		return types.ZeroHash
	}
}

// stepCell holds the live step. Access is exclusive and never waits: a held
// lock means two mutations overlapped, which the event loop rules out.
type stepCell struct {
	mu   sync.Mutex
	step Step
}

// update runs fn on the current step under the lock. A non-nil step returned
// by fn replaces the current one in a single swap; nil leaves it in place.
func (c *stepCell) update(fn func(cur Step) (Step, error)) (Step, error) {
	if !c.mu.TryLock() {
		return nil, ErrStepContended
	}
	defer c.mu.Unlock()

	next, err := fn(c.step)
	if err != nil || next == nil {
		return nil, err
	}
	c.step = next
	return next, nil
}

// view runs fn on the current step under the lock without replacing it.
func (c *stepCell) view(fn func(cur Step)) error {
	if !c.mu.TryLock() {
		return ErrStepContended
	}
	defer c.mu.Unlock()
	fn(c.step)
	return nil
}
