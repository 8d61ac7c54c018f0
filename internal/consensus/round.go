package consensus

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// transition applies fn to the live step and, if fn produced a new step,
// runs the entry actions for it.
func (e *Engine) transition(fn func(cur Step) (Step, error)) error {
	next, err := e.step.update(fn)
	if err != nil {
		if errors.Is(err, ErrStepContended) {
			e.metrics.StepContention.Inc()
			e.logger.Error("step mutation overlapped another mutation", zap.Error(err))
		}
		return err
	}
	if next != nil {
		e.enter(next)
	}
	return nil
}

// enter rearms the step deadline and publishes the new step.
func (e *Engine) enter(next Step) {
	round := e.round.Load()
	rs := next.RoundStep()
	hash := stepHash(next)

	e.ticker.Schedule(round, rs)

	e.metrics.ConsensusRound.Set(float64(round))
	e.metrics.ConsensusStep.Set(float64(rs))
	e.metrics.ProposerNonce.Set(float64(e.nonce.Load()))

	e.logger.Debug("entered step",
		zap.Uint64("round", round),
		zap.Stringer("step", rs),
		zap.String("hash", hash.Hex()),
	)

	e.publishStep(StepEvent{
		Round:         round,
		Step:          rs,
		Proposer:      e.Proposer(),
		ProposerNonce: e.nonce.Load(),
		BlockHash:     hash,
	})

	if c, ok := next.(*CommitStep); ok {
		e.metrics.BlocksCommitted.Inc()
		e.metrics.SealSize.Observe(float64(len(c.Seal)))
		e.logger.Info("block committed",
			zap.Uint64("round", round),
			zap.String("hash", c.Hash.Hex()),
			zap.Int("seal", len(c.Seal)),
		)
		e.publishCommit(CommitEvent{
			Round:     round,
			BlockHash: c.Hash,
			Seal:      c.Seal.Copy(),
		})
	}
}

// toPropose advances the proposer nonce and resets the step to propose.
func (e *Engine) toPropose() error {
	return e.transition(func(Step) (Step, error) {
		e.nonce.Add(1)
		return ProposeStep{}, nil
	})
}

// proposeMessage accepts the proposer's block hash and opens the prevote step.
func (e *Engine) proposeMessage(hash types.Hash) error {
	return e.transition(func(cur Step) (Step, error) {
		if _, ok := cur.(ProposeStep); !ok {
			return nil, fmt.Errorf("%w: propose in %s", ErrWrongStep, cur.RoundStep())
		}
		return &PrevoteStep{
			Votes: NewVoteCollector(hash, e.validators.Addresses(), e.threshold),
		}, nil
	})
}

// prevoteMessage counts a prevote and opens the precommit step on quorum.
func (e *Engine) prevoteMessage(sender types.Address, hash types.Hash) error {
	return e.transition(func(cur Step) (Step, error) {
		s, ok := cur.(*PrevoteStep)
		if !ok {
			return nil, fmt.Errorf("%w: prevote in %s", ErrWrongStep, cur.RoundStep())
		}
		if s.Votes.Hash() != hash {
			return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongVote, hash.Hex(), s.Votes.Hash().Hex())
		}
		if s.Votes.Vote(sender) {
			e.metrics.VotesCounted.WithLabelValues(KindPrevote.String()).Inc()
		}
		if !s.Votes.IsWon() {
			return nil, nil
		}
		return &PrecommitStep{
			Votes: NewVoteCollector(hash, e.validators.Addresses(), e.threshold),
			Seal:  types.Seal{},
		}, nil
	})
}

// precommitMessage counts a precommit, appends its signature to the seal and
// commits on quorum.
func (e *Engine) precommitMessage(sender types.Address, signature []byte, hash types.Hash) error {
	return e.transition(func(cur Step) (Step, error) {
		s, ok := cur.(*PrecommitStep)
		if !ok {
			return nil, fmt.Errorf("%w: precommit in %s", ErrWrongStep, cur.RoundStep())
		}
		if s.Votes.Hash() != hash {
			return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongVote, hash.Hex(), s.Votes.Hash().Hex())
		}
		// The signature becomes a seal entry, so it must recover to the
		// sender over the block hash.
		signer, err := e.signers.RecoverAddress(hash, signature)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if signer != sender {
			return nil, fmt.Errorf("%w: signed by %s, sent by %s", ErrInvalidSignature, signer.Hex(), sender.Hex())
		}
		entry, err := encodeSealEntry(signature)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if s.Votes.Vote(sender) {
			e.metrics.VotesCounted.WithLabelValues(KindPrecommit.String()).Inc()
			s.Seal = append(s.Seal, entry)
		}
		if !s.Votes.IsWon() {
			return nil, nil
		}
		return &CommitStep{Hash: hash, Seal: s.Seal}, nil
	})
}

// toCommit jumps straight to the commit step.
func (e *Engine) toCommit(hash types.Hash, seal types.Seal) error {
	return e.transition(func(Step) (Step, error) {
		return &CommitStep{Hash: hash, Seal: seal.Copy()}, nil
	})
}

// handleTimeout advances the round and rotates the proposer when the
// current step's deadline expires.
func (e *Engine) handleTimeout(ti TimeoutInfo) {
	if !e.ticker.IsCurrent(ti) {
		e.logger.Debug("ignoring stale timeout",
			zap.Uint64("round", ti.Round),
			zap.Stringer("step", ti.Step),
		)
		return
	}

	e.metrics.TimeoutsTriggered.WithLabelValues(ti.Step.String()).Inc()
	round := e.round.Add(1)
	e.logger.Info("step timed out, advancing round",
		zap.Stringer("step", ti.Step),
		zap.Uint64("round", round),
		zap.Duration("timeout", ti.Duration),
	)

	if err := e.toPropose(); err != nil {
		e.logger.Error("failed to enter propose after timeout", zap.Error(err))
	}
}
