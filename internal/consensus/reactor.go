package consensus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// HandleMessage processes a consensus message from sender, who must already
// be authenticated by the network layer over raw. signature is the sender's
// seal signature over the block hash; only precommits use it. On success
// the raw message is returned unchanged for gossip relay.
func (e *Engine) HandleMessage(ctx context.Context, sender types.Address, signature, raw []byte) ([]byte, error) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		e.rejected(sender, nil, err)
		return nil, err
	}

	err = e.do(ctx, func() error {
		return e.dispatch(sender, signature, msg)
	})
	if err != nil {
		e.rejected(sender, msg, err)
		return nil, err
	}
	return raw, nil
}

// dispatch checks round and sender eligibility before routing msg to the
// step machine. Ineligible senders never reach vote accounting.
func (e *Engine) dispatch(sender types.Address, signature []byte, msg *ConsensusMessage) error {
	if round := e.round.Load(); msg.Round != round {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongRound, msg.Round, round)
	}

	switch msg.Kind {
	case KindPropose:
		if !e.IsProposer(sender) {
			return ErrNotProposer
		}
		return e.proposeMessage(msg.BlockHash)
	case KindPrevote:
		if !e.IsValidator(sender) {
			return ErrNotValidator
		}
		return e.prevoteMessage(sender, msg.BlockHash)
	case KindPrecommit:
		if !e.IsValidator(sender) {
			return ErrNotValidator
		}
		return e.precommitMessage(sender, signature, msg.BlockHash)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownStep, uint8(msg.Kind))
	}
}

func (e *Engine) rejected(sender types.Address, msg *ConsensusMessage, err error) {
	e.metrics.MessagesRejected.WithLabelValues(rejectReason(err)).Inc()
	fields := []zap.Field{
		zap.String("sender", sender.Hex()),
		zap.Error(err),
	}
	if msg != nil {
		fields = append(fields,
			zap.Uint64("round", msg.Round),
			zap.Stringer("kind", msg.Kind),
		)
	}
	e.logger.Debug("consensus message rejected", fields...)
}

// ToCommit moves the engine to the commit step for hash with the given seal,
// for commit evidence observed outside the vote sequence.
func (e *Engine) ToCommit(ctx context.Context, hash types.Hash, seal types.Seal) error {
	return e.do(ctx, func() error {
		return e.toCommit(hash, seal)
	})
}

// ToPropose rotates the proposer and resets the step to propose without
// changing the round.
func (e *Engine) ToPropose(ctx context.Context) error {
	return e.do(ctx, e.toPropose)
}

// GenerateSeal returns the committed seal if the engine is in the commit step
// for exactly header's bare hash.
func (e *Engine) GenerateSeal(ctx context.Context, header *types.Header) (types.Seal, bool) {
	want := header.BareHash()
	var (
		seal  types.Seal
		found bool
	)
	err := e.do(ctx, func() error {
		return e.step.view(func(cur Step) {
			if c, ok := cur.(*CommitStep); ok && c.Hash == want {
				seal, found = c.Seal.Copy(), true
			}
		})
	})
	if err != nil {
		e.logger.Debug("generate seal failed", zap.Error(err))
		return nil, false
	}
	return seal, found
}
