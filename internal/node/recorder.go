package node

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/consensus"
	"github.com/echenim/Bedrock/tendermint/internal/storage"
	"github.com/echenim/Bedrock/tendermint/internal/telemetry"
)

// CommitRecorder persists every commit the engine reaches.
type CommitRecorder struct {
	commits <-chan consensus.CommitEvent
	store   storage.SealStore
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCommitRecorder subscribes to engine commits. The subscription is taken
// immediately so commits reached before Start are not lost.
func NewCommitRecorder(
	engine *consensus.Engine,
	store storage.SealStore,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *CommitRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &CommitRecorder{
		commits: engine.SubscribeCommits(),
		store:   store,
		metrics: metrics,
		logger:  logger.Named("recorder"),
		now:     time.Now,
	}
}

// Start begins draining commit events into the store.
func (r *CommitRecorder) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-r.commits:
				r.record(ev)
			}
		}
	}()
	return nil
}

// Stop halts the recorder.
func (r *CommitRecorder) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return nil
}

// Name implements Service.
func (r *CommitRecorder) Name() string { return "recorder" }

func (r *CommitRecorder) record(ev consensus.CommitEvent) {
	rec := &storage.CommitRecord{
		Round:     ev.Round,
		BlockHash: ev.BlockHash,
		Seal:      ev.Seal,
		Time:      uint64(r.now().Unix()),
	}
	if err := r.store.SaveCommit(rec); err != nil {
		r.logger.Error("failed to store commit",
			zap.Uint64("round", ev.Round),
			zap.String("hash", ev.BlockHash.Hex()),
			zap.Error(err),
		)
		return
	}
	r.metrics.CommitsStored.Inc()
	r.logger.Info("commit stored",
		zap.Uint64("round", ev.Round),
		zap.String("hash", ev.BlockHash.Hex()),
		zap.Int("seal", len(ev.Seal)),
	)
}
