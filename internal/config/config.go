package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration wraps time.Duration to support TOML string unmarshaling (e.g. "3s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the full node configuration.
type Config struct {
	Moniker string `toml:"moniker"`
	ChainID uint64 `toml:"chain_id"`

	Consensus ConsensusConfig `toml:"consensus"`
	Validator ValidatorConfig `toml:"validator"`
	P2P       P2PConfig       `toml:"p2p"`
	Storage   StorageConfig   `toml:"storage"`
	RPC       RPCConfig       `toml:"rpc"`
	Admin     AdminConfig     `toml:"admin"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ConsensusConfig holds consensus protocol parameters.
type ConsensusConfig struct {
	TimeoutPropose       Duration `toml:"timeout_propose"`
	TimeoutPrevote       Duration `toml:"timeout_prevote"`
	TimeoutPrecommit     Duration `toml:"timeout_precommit"`
	TimeoutCommit        Duration `toml:"timeout_commit"`
	GasLimitBoundDivisor uint64   `toml:"gas_limit_bound_divisor"`
	// SealArity of 0 means the quorum size of the validator set.
	SealArity       int `toml:"seal_arity"`
	SignerCacheSize int `toml:"signer_cache_size"`
}

// ValidatorConfig controls whether this node signs its own votes.
type ValidatorConfig struct {
	Enabled bool   `toml:"enabled"`
	KeyFile string `toml:"key_file"`
}

// P2PConfig holds peer-to-peer networking parameters.
type P2PConfig struct {
	ListenAddr string   `toml:"listen_addr"`
	Seeds      []string `toml:"seeds"`
	MaxPeers   int      `toml:"max_peers"`
}

// StorageConfig holds storage parameters.
type StorageConfig struct {
	DBPath  string `toml:"db_path"`
	Backend string `toml:"backend"`
}

// RPCConfig holds RPC server parameters.
type RPCConfig struct {
	GRPCAddr string `toml:"grpc_addr"`
}

// AdminConfig holds the debug HTTP endpoint parameters.
type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// TelemetryConfig holds observability parameters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	LogMode  string `toml:"log_mode"`
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Moniker: "tendermint-node",
		ChainID: 1,
		Consensus: ConsensusConfig{
			TimeoutPropose:       Duration{3 * time.Second},
			TimeoutPrevote:       Duration{1 * time.Second},
			TimeoutPrecommit:     Duration{1 * time.Second},
			TimeoutCommit:        Duration{1 * time.Second},
			GasLimitBoundDivisor: 1024,
			SealArity:            0,
			SignerCacheSize:      4096,
		},
		Validator: ValidatorConfig{
			Enabled: true,
			KeyFile: "validator_key",
		},
		P2P: P2PConfig{
			ListenAddr: "/ip4/0.0.0.0/udp/30303/quic-v1",
			Seeds:      nil,
			MaxPeers:   50,
		},
		Storage: StorageConfig{
			DBPath:  "data/sealstore",
			Backend: "pebble",
		},
		RPC: RPCConfig{
			GRPCAddr: "0.0.0.0:30304",
		},
		Admin: AdminConfig{
			Enabled: false,
			Addr:    "127.0.0.1:30305",
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Addr:     "0.0.0.0:30306",
			LogMode:  "production",
			LogLevel: "info",
		},
	}
}

// Validate checks config for invalid values.
func (c *Config) Validate() error {
	if c.Moniker == "" {
		return errors.New("config: moniker must not be empty")
	}
	if c.ChainID == 0 {
		return errors.New("config: chain_id must be > 0")
	}

	// Consensus.
	timeouts := map[string]Duration{
		"timeout_propose":   c.Consensus.TimeoutPropose,
		"timeout_prevote":   c.Consensus.TimeoutPrevote,
		"timeout_precommit": c.Consensus.TimeoutPrecommit,
		"timeout_commit":    c.Consensus.TimeoutCommit,
	}
	for name, d := range timeouts {
		if d.Duration <= 0 {
			return fmt.Errorf("config: consensus.%s must be > 0", name)
		}
	}
	if c.Consensus.GasLimitBoundDivisor == 0 {
		return errors.New("config: consensus.gas_limit_bound_divisor must be > 0")
	}
	if c.Consensus.SealArity < 0 {
		return errors.New("config: consensus.seal_arity must be >= 0")
	}

	if c.Validator.Enabled && c.Validator.KeyFile == "" {
		return errors.New("config: validator.key_file must not be empty when validator is enabled")
	}

	// P2P.
	if c.P2P.ListenAddr == "" {
		return errors.New("config: p2p.listen_addr must not be empty")
	}
	if c.P2P.MaxPeers <= 0 {
		return errors.New("config: p2p.max_peers must be > 0")
	}

	// Storage.
	validBackends := map[string]bool{"pebble": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("config: storage.backend must be 'pebble' or 'memory', got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "pebble" && c.Storage.DBPath == "" {
		return errors.New("config: storage.db_path must not be empty")
	}

	// RPC.
	if c.RPC.GRPCAddr == "" {
		return errors.New("config: rpc.grpc_addr must not be empty")
	}

	if c.Admin.Enabled && c.Admin.Addr == "" {
		return errors.New("config: admin.addr must not be empty when admin is enabled")
	}

	switch c.Telemetry.LogMode {
	case "development", "dev", "production", "prod":
	default:
		return fmt.Errorf("config: telemetry.log_mode must be 'development' or 'production', got %q", c.Telemetry.LogMode)
	}

	return nil
}

// WriteFile writes the config as TOML to path.
func (c *Config) WriteFile(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}
