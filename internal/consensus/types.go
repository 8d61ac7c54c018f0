package consensus

import (
	"time"

	"go.uber.org/zap"

	"github.com/echenim/Bedrock/tendermint/internal/telemetry"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// RoundStep identifies a phase within a round.
type RoundStep uint8

const (
	RoundStepPropose RoundStep = iota
	RoundStepPrevote
	RoundStepPrecommit
	RoundStepCommit
)

func (s RoundStep) String() string {
	switch s {
	case RoundStepPropose:
		return "propose"
	case RoundStepPrevote:
		return "prevote"
	case RoundStepPrecommit:
		return "precommit"
	case RoundStepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// TimeoutConfig holds the deadline for each step.
type TimeoutConfig struct {
	Propose   time.Duration
	Prevote   time.Duration
	Precommit time.Duration
	Commit    time.Duration
}

// DefaultTimeoutConfig returns default step timeouts.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Propose:   3000 * time.Millisecond,
		Prevote:   1000 * time.Millisecond,
		Precommit: 1000 * time.Millisecond,
		Commit:    1000 * time.Millisecond,
	}
}

// For returns the timeout for the given step.
func (c TimeoutConfig) For(step RoundStep) time.Duration {
	switch step {
	case RoundStepPrevote:
		return c.Prevote
	case RoundStepPrecommit:
		return c.Precommit
	case RoundStepCommit:
		return c.Commit
	default:
		return c.Propose
	}
}

// StepEvent is published every time the engine enters a step.
type StepEvent struct {
	Round         uint64
	Step          RoundStep
	Proposer      types.Address
	ProposerNonce uint64
	// BlockHash is the hash being voted on; zero in the propose step.
	BlockHash types.Hash
}

// CommitEvent is published when the engine enters the commit step.
type CommitEvent struct {
	Round     uint64
	BlockHash types.Hash
	Seal      types.Seal
}

// Status is a point-in-time view of the engine.
type Status struct {
	Round         uint64
	Step          RoundStep
	ProposerNonce uint64
	Proposer      types.Address
	BlockHash     types.Hash
	Votes         int
	SealSize      int
	Threshold     int
	Validators    int
}

// EngineConfig holds configuration for the consensus engine.
type EngineConfig struct {
	Validators []types.Address
	Timeouts   TimeoutConfig

	// GasLimitBoundDivisor bounds the gas limit change between a parent and
	// child header to parent/divisor.
	GasLimitBoundDivisor uint64

	// SealArity is the number of seal entries a header must carry.
	// Zero means the quorum size.
	SealArity int

	ChainID         uint64
	SignerCacheSize int

	Metrics *telemetry.Metrics
	Logger  *zap.Logger
}

// DefaultEngineConfig returns an EngineConfig with sensible defaults.
// Validators must still be set.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Timeouts:             DefaultTimeoutConfig(),
		GasLimitBoundDivisor: 1024,
		ChainID:              1,
	}
}
