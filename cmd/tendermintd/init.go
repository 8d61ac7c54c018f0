package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/echenim/Bedrock/tendermint/internal/config"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [moniker]",
		Short: "Initialize a new node home directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runInit,
	}

	cmd.Flags().String("home", defaultHome(), "node home directory")
	cmd.Flags().Uint64("chain-id", 1, "chain ID")
	cmd.Flags().StringSlice("validators", nil, "additional validator addresses, in proposer order after this node")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	moniker := args[0]
	homeDir, _ := cmd.Flags().GetString("home")
	chainID, _ := cmd.Flags().GetUint64("chain-id")
	extra, _ := cmd.Flags().GetStringSlice("validators")

	// Create home directory structure.
	dirs := []string{
		homeDir,
		filepath.Join(homeDir, "data"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	// Write default config.
	cfg := config.DefaultConfig()
	cfg.Moniker = moniker
	cfg.ChainID = chainID
	if err := cfg.Validate(); err != nil {
		return err
	}
	configPath := filepath.Join(homeDir, "config.toml")
	if err := cfg.WriteFile(configPath); err != nil {
		return err
	}

	// Generate validator key.
	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveKey(filepath.Join(homeDir, cfg.Validator.KeyFile), key); err != nil {
		return err
	}
	addr := crypto.AddressOf(key)

	// Write genesis.
	gen := &config.GenesisDoc{
		ChainID:     chainID,
		GenesisTime: time.Now().UTC().Truncate(time.Second),
		Validators:  []config.GenesisValidator{{Address: addr.Hex(), Name: moniker}},
	}
	for i, a := range extra {
		v, err := types.AddressFromHex(a)
		if err != nil {
			return fmt.Errorf("validator %d: %w", i, err)
		}
		gen.Validators = append(gen.Validators, config.GenesisValidator{
			Address: v.Hex(),
			Name:    fmt.Sprintf("validator-%d", i+1),
		})
	}
	if err := gen.Validate(); err != nil {
		return err
	}
	genesisPath := filepath.Join(homeDir, "genesis.json")
	if err := gen.SaveAs(genesisPath); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized tendermint node\n")
	fmt.Fprintf(out, "  Home:       %s\n", homeDir)
	fmt.Fprintf(out, "  Address:    %s\n", addr.Hex())
	fmt.Fprintf(out, "  Chain:      %d\n", chainID)
	fmt.Fprintf(out, "  Moniker:    %s\n", moniker)
	fmt.Fprintf(out, "  Validators: %d\n", len(gen.Validators))
	fmt.Fprintf(out, "\nStart with: tendermintd start --home %s\n", homeDir)

	return nil
}
