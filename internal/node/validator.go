package node

import (
	"context"
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/consensus"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/p2p"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// BlockSource supplies the block hash this node proposes when it is the
// proposer for a round.
type BlockSource interface {
	// NextBlock returns the candidate hash for round, or false when no block
	// is ready.
	NextBlock(ctx context.Context, round uint64) (types.Hash, bool)
}

// Broadcaster sends a signed packet to the network. The local engine must
// observe the packet before Broadcast returns.
type Broadcaster interface {
	Broadcast(ctx context.Context, p *p2p.Packet) error
}

// DevBlockSource proposes a deterministic placeholder hash per round. It is
// meant for local networks without an external block producer.
type DevBlockSource struct {
	chainID uint64
}

// NewDevBlockSource creates a DevBlockSource for chainID.
func NewDevBlockSource(chainID uint64) *DevBlockSource {
	return &DevBlockSource{chainID: chainID}
}

// NextBlock returns keccak(chainID || round).
func (s *DevBlockSource) NextBlock(_ context.Context, round uint64) (types.Hash, bool) {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], s.chainID)
	binary.BigEndian.PutUint64(buf[8:], round)
	return crypto.Keccak256(buf[:]), true
}

// Validator signs this node's own proposals and votes in response to the
// engine's step transitions.
type Validator struct {
	key    crypto.PrivateKey
	addr   types.Address
	engine *consensus.Engine
	source BlockSource
	out    Broadcaster
	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewValidator creates a local validator. source may be nil, in which case
// the node votes but never proposes.
func NewValidator(
	key crypto.PrivateKey,
	engine *consensus.Engine,
	source BlockSource,
	out Broadcaster,
	logger *zap.Logger,
) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := crypto.AddressOf(key)
	return &Validator{
		key:    key,
		addr:   addr,
		engine: engine,
		source: source,
		out:    out,
		logger: logger.Named("validator").With(zap.String("address", addr.Hex())),
	}
}

// Address returns the validator's address.
func (v *Validator) Address() types.Address {
	return v.addr
}

// Start subscribes to step events and begins signing.
func (v *Validator) Start(ctx context.Context) error {
	if !v.engine.IsValidator(v.addr) {
		v.logger.Warn("key is not in the validator set, running as observer")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	steps := v.engine.SubscribeSteps()

	// The engine may have entered its current propose step before we
	// subscribed. If it did so after, the same step is also queued.
	var handled *consensus.StepEvent
	if st, err := v.engine.Status(ctx); err == nil && st.Step == consensus.RoundStepPropose {
		ev := consensus.StepEvent{
			Round:         st.Round,
			Step:          st.Step,
			Proposer:      st.Proposer,
			ProposerNonce: st.ProposerNonce,
		}
		v.onStep(ctx, ev)
		handled = &ev
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer v.engine.UnsubscribeSteps(steps)
		v.run(ctx, steps, handled)
	}()
	return nil
}

// run signs for each step event until ctx ends. The queued copy of handled,
// if any, is dropped.
func (v *Validator) run(ctx context.Context, steps <-chan consensus.StepEvent, handled *consensus.StepEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-steps:
			if handled != nil && sameStep(ev, *handled) {
				handled = nil
				continue
			}
			v.onStep(ctx, ev)
		}
	}
}

// sameStep reports whether a and b describe the same step entry. The proposer
// nonce advances on every propose entry, so it tells re-entries apart.
func sameStep(a, b consensus.StepEvent) bool {
	return a.Round == b.Round && a.Step == b.Step && a.ProposerNonce == b.ProposerNonce
}

// Stop halts signing.
func (v *Validator) Stop() error {
	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()
	return nil
}

// Name implements Service.
func (v *Validator) Name() string { return "validator" }

func (v *Validator) onStep(ctx context.Context, ev consensus.StepEvent) {
	switch ev.Step {
	case consensus.RoundStepPropose:
		if ev.Proposer != v.addr || v.source == nil {
			return
		}
		hash, ok := v.source.NextBlock(ctx, ev.Round)
		if !ok {
			v.logger.Debug("no block to propose", zap.Uint64("round", ev.Round))
			return
		}
		v.send(ctx, consensus.NewMessage(ev.Round, consensus.KindPropose, hash))
	case consensus.RoundStepPrevote:
		v.send(ctx, consensus.NewMessage(ev.Round, consensus.KindPrevote, ev.BlockHash))
	case consensus.RoundStepPrecommit:
		v.send(ctx, consensus.NewMessage(ev.Round, consensus.KindPrecommit, ev.BlockHash))
	}
}

func (v *Validator) send(ctx context.Context, msg *consensus.ConsensusMessage) {
	pkt, err := p2p.SignPacket(v.key, msg)
	if err != nil {
		v.logger.Error("failed to sign message", zap.Stringer("kind", msg.Kind), zap.Error(err))
		return
	}
	if err := v.out.Broadcast(ctx, pkt); err != nil {
		// Usually the engine moved on before the vote was delivered.
		v.logger.Debug("broadcast rejected",
			zap.Stringer("kind", msg.Kind),
			zap.Uint64("round", msg.Round),
			zap.Error(err),
		)
		return
	}
	v.logger.Debug("broadcast",
		zap.Stringer("kind", msg.Kind),
		zap.Uint64("round", msg.Round),
		zap.String("hash", msg.BlockHash.Hex()),
	)
}
