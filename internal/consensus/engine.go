package consensus

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/telemetry"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

const (
	stepSubscriberBuffer   = 64
	commitSubscriberBuffer = 16
)

// Engine is the round-based BFT consensus state machine.
//
// While the event loop runs, every step mutation (network messages, commit
// evidence and fired timeouts) is executed by the loop goroutine. Before
// Start, operations run inline on the caller's goroutine.
type Engine struct {
	validators           *types.ValidatorSet
	threshold            int
	sealArity            int
	gasLimitBoundDivisor uint64
	chainID              *big.Int
	txSigner             gethtypes.Signer
	signers              *crypto.SignerCache
	logger               *zap.Logger
	metrics              *telemetry.Metrics

	round atomic.Uint64
	nonce atomic.Uint64
	step  stepCell

	ticker *TimeoutTicker
	calls  chan call

	// Lifecycle. lifeMu guards cancel and stopped.
	lifeMu   sync.Mutex
	running  atomic.Bool
	started  atomic.Bool
	stopped  bool
	done     chan struct{}
	doneOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	subMu      sync.Mutex
	stepSubs   []chan StepEvent
	commitSubs []chan CommitEvent
}

type call struct {
	fn   func() error
	done chan error
}

// NewEngine creates a consensus engine and enters the propose step of
// round 0.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	valSet, err := types.NewValidatorSet(cfg.Validators)
	if err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}
	if cfg.GasLimitBoundDivisor == 0 {
		return nil, fmt.Errorf("consensus: gas limit bound divisor must be positive")
	}
	if cfg.SealArity < 0 {
		return nil, fmt.Errorf("consensus: seal arity must not be negative")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}

	signers, err := crypto.NewSignerCache(cfg.SignerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}

	sealArity := cfg.SealArity
	if sealArity == 0 {
		sealArity = valSet.QuorumSize()
	}

	chainID := new(big.Int).SetUint64(cfg.ChainID)
	e := &Engine{
		validators:           valSet,
		threshold:            valSet.Threshold(),
		sealArity:            sealArity,
		gasLimitBoundDivisor: cfg.GasLimitBoundDivisor,
		chainID:              chainID,
		txSigner:             gethtypes.LatestSignerForChainID(chainID),
		signers:              signers,
		logger:               logger.Named("consensus"),
		metrics:              metrics,
		ticker:               NewTimeoutTicker(cfg.Timeouts),
		calls:                make(chan call),
		done:                 make(chan struct{}),
	}

	if err := e.toPropose(); err != nil {
		return nil, err
	}
	return e, nil
}

// Start runs the event loop until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.running.Store(true)
	e.ticker.Start()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.eventLoop(ctx)
	}()

	e.logger.Info("consensus engine started",
		zap.Uint64("round", e.Round()),
		zap.Int("validators", e.validators.Size()),
		zap.Int("threshold", e.threshold),
	)
	return nil
}

// Stop shuts down the event loop and cancels the outstanding timeout. An
// engine that was never started stops running inline calls as well.
func (e *Engine) Stop() error {
	e.lifeMu.Lock()
	e.stopped = true
	cancel := e.cancel
	e.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	} else {
		e.closeDone()
	}
	e.wg.Wait()
	e.ticker.Stop()
	return nil
}

func (e *Engine) closeDone() {
	e.doneOnce.Do(func() { close(e.done) })
}

// eventLoop is the single goroutine that mutates consensus state.
func (e *Engine) eventLoop(ctx context.Context) {
	defer func() {
		e.running.Store(false)
		e.closeDone()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-e.calls:
			c.done <- c.fn()

		case ti := <-e.ticker.Chan():
			e.handleTimeout(ti)
		}
	}
}

// do executes fn on the event loop, or inline if the loop is not running.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	if !e.running.Load() {
		select {
		case <-e.done:
			return ErrEngineStopped
		default:
		}
		return fn()
	}

	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case e.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}

	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Round returns the current round.
func (e *Engine) Round() uint64 {
	return e.round.Load()
}

// ProposerNonce returns the current proposer schedule nonce.
func (e *Engine) ProposerNonce() uint64 {
	return e.nonce.Load()
}

// Proposer returns the validator allowed to propose in the current attempt.
func (e *Engine) Proposer() types.Address {
	return e.validators.Proposer(e.nonce.Load())
}

// IsProposer reports whether addr is the current proposer.
func (e *Engine) IsProposer(addr types.Address) bool {
	return e.Proposer() == addr
}

// IsValidator reports whether addr belongs to the validator set.
func (e *Engine) IsValidator(addr types.Address) bool {
	return e.validators.Contains(addr)
}

// Threshold returns n*2/3; a step is won by strictly more votes.
func (e *Engine) Threshold() int {
	return e.threshold
}

// Validators returns the validator set.
func (e *Engine) Validators() *types.ValidatorSet {
	return e.validators
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.do(ctx, func() error {
		return e.step.view(func(cur Step) {
			st = Status{
				Round:         e.round.Load(),
				Step:          cur.RoundStep(),
				ProposerNonce: e.nonce.Load(),
				Proposer:      e.Proposer(),
				BlockHash:     stepHash(cur),
				Threshold:     e.threshold,
				Validators:    e.validators.Size(),
			}
			switch s := cur.(type) {
			case *PrevoteStep:
				st.Votes = s.Votes.Count()
			case *PrecommitStep:
				st.Votes = s.Votes.Count()
				st.SealSize = len(s.Seal)
			case *CommitStep:
				st.SealSize = len(s.Seal)
			}
		})
	})
	return st, err
}

// SubscribeSteps returns a channel receiving every step the engine enters.
// Events are dropped for a subscriber that falls behind.
func (e *Engine) SubscribeSteps() <-chan StepEvent {
	ch := make(chan StepEvent, stepSubscriberBuffer)
	e.subMu.Lock()
	e.stepSubs = append(e.stepSubs, ch)
	e.subMu.Unlock()
	return ch
}

// UnsubscribeSteps detaches a channel returned by SubscribeSteps.
func (e *Engine) UnsubscribeSteps(sub <-chan StepEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for i, ch := range e.stepSubs {
		if ch == sub {
			e.stepSubs = append(e.stepSubs[:i], e.stepSubs[i+1:]...)
			return
		}
	}
}

// SubscribeCommits returns a channel receiving every commit.
func (e *Engine) SubscribeCommits() <-chan CommitEvent {
	ch := make(chan CommitEvent, commitSubscriberBuffer)
	e.subMu.Lock()
	e.commitSubs = append(e.commitSubs, ch)
	e.subMu.Unlock()
	return ch
}

func (e *Engine) publishStep(ev StepEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.stepSubs {
		select {
		case ch <- ev:
		default:
			e.logger.Debug("step subscriber full, dropping event",
				zap.Stringer("step", ev.Step),
				zap.Uint64("round", ev.Round),
			)
		}
	}
}

func (e *Engine) publishCommit(ev CommitEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.commitSubs {
		select {
		case ch <- ev:
		default:
			e.logger.Warn("commit subscriber full, dropping event",
				zap.String("hash", ev.BlockHash.Hex()),
			)
		}
	}
}
