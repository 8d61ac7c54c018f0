package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// GenesisDoc defines the initial state of the chain.
type GenesisDoc struct {
	ChainID         uint64             `json:"chain_id"`
	GenesisTime     time.Time          `json:"genesis_time"`
	Validators      []GenesisValidator `json:"validators"`
	ConsensusParams ConsensusParams    `json:"consensus_params"`
}

// GenesisValidator describes a validator in the genesis state.
type GenesisValidator struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// ConsensusParams holds genesis-level consensus parameters. Zero values
// leave the node config in effect.
type ConsensusParams struct {
	GasLimitBoundDivisor uint64 `json:"gas_limit_bound_divisor,omitempty"`
	SealArity            int    `json:"seal_arity,omitempty"`
}

// LoadGenesis reads and validates a genesis file from the given path.
func LoadGenesis(path string) (*GenesisDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read file: %w", err)
	}

	var gen GenesisDoc
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("genesis: parse JSON: %w", err)
	}

	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	return &gen, nil
}

// Validate checks the genesis document for structural validity.
func (g *GenesisDoc) Validate() error {
	if g.ChainID == 0 {
		return errors.New("chain_id must be > 0")
	}
	if g.GenesisTime.IsZero() {
		return errors.New("genesis_time must not be zero")
	}
	if len(g.Validators) == 0 {
		return errors.New("must have at least one validator")
	}
	if g.ConsensusParams.SealArity < 0 {
		return errors.New("consensus_params.seal_arity must be >= 0")
	}

	_, err := g.ValidatorAddresses()
	return err
}

// ValidatorAddresses returns the validator addresses in genesis order.
func (g *GenesisDoc) ValidatorAddresses() ([]types.Address, error) {
	addrs := make([]types.Address, len(g.Validators))
	for i, gv := range g.Validators {
		addr, err := types.AddressFromHex(gv.Address)
		if err != nil {
			return nil, fmt.Errorf("validator %d: %w", i, err)
		}
		addrs[i] = addr
	}
	if _, err := types.NewValidatorSet(addrs); err != nil {
		return nil, err
	}
	return addrs, nil
}

// SaveAs writes the genesis document as indented JSON.
func (g *GenesisDoc) SaveAs(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("genesis: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("genesis: write file: %w", err)
	}
	return nil
}
