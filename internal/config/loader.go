package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LoadFile reads and parses a TOML config file, applies environment variable
// overrides, and validates the result.
// Config precedence: Environment variables → File → Defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse TOML: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFileOrDefault is LoadFile, falling back to the environment-adjusted
// defaults when path does not exist.
func LoadFileOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFile(path)
}

// applyEnvOverrides applies TENDERMINT_* environment variable overrides.
// Env var format: TENDERMINT_<SECTION>_<FIELD> (e.g., TENDERMINT_P2P_LISTEN_ADDR).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TENDERMINT_MONIKER"); v != "" {
		cfg.Moniker = v
	}
	if v := os.Getenv("TENDERMINT_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ChainID = n
		}
	}

	// Consensus.
	durations := map[string]*Duration{
		"TENDERMINT_CONSENSUS_TIMEOUT_PROPOSE":   &cfg.Consensus.TimeoutPropose,
		"TENDERMINT_CONSENSUS_TIMEOUT_PREVOTE":   &cfg.Consensus.TimeoutPrevote,
		"TENDERMINT_CONSENSUS_TIMEOUT_PRECOMMIT": &cfg.Consensus.TimeoutPrecommit,
		"TENDERMINT_CONSENSUS_TIMEOUT_COMMIT":    &cfg.Consensus.TimeoutCommit,
	}
	for env, dst := range durations {
		if v := os.Getenv(env); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration{d}
			}
		}
	}
	if v := os.Getenv("TENDERMINT_CONSENSUS_GAS_LIMIT_BOUND_DIVISOR"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Consensus.GasLimitBoundDivisor = n
		}
	}
	if v := os.Getenv("TENDERMINT_CONSENSUS_SEAL_ARITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Consensus.SealArity = n
		}
	}

	// Validator.
	if v := os.Getenv("TENDERMINT_VALIDATOR_ENABLED"); v != "" {
		cfg.Validator.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TENDERMINT_VALIDATOR_KEY_FILE"); v != "" {
		cfg.Validator.KeyFile = v
	}

	// P2P.
	if v := os.Getenv("TENDERMINT_P2P_LISTEN_ADDR"); v != "" {
		cfg.P2P.ListenAddr = v
	}
	if v := os.Getenv("TENDERMINT_P2P_SEEDS"); v != "" {
		cfg.P2P.Seeds = strings.Split(v, ",")
	}
	if v := os.Getenv("TENDERMINT_P2P_MAX_PEERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.P2P.MaxPeers = n
		}
	}

	// Storage.
	if v := os.Getenv("TENDERMINT_STORAGE_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("TENDERMINT_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}

	// RPC.
	if v := os.Getenv("TENDERMINT_RPC_GRPC_ADDR"); v != "" {
		cfg.RPC.GRPCAddr = v
	}

	// Admin.
	if v := os.Getenv("TENDERMINT_ADMIN_ENABLED"); v != "" {
		cfg.Admin.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TENDERMINT_ADMIN_ADDR"); v != "" {
		cfg.Admin.Addr = v
	}

	// Telemetry.
	if v := os.Getenv("TENDERMINT_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TENDERMINT_TELEMETRY_ADDR"); v != "" {
		cfg.Telemetry.Addr = v
	}
	if v := os.Getenv("TENDERMINT_TELEMETRY_LOG_LEVEL"); v != "" {
		cfg.Telemetry.LogLevel = v
	}
}
