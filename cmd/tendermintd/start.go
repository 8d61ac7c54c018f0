package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/echenim/Bedrock/tendermint/internal/config"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/node"
	"github.com/echenim/Bedrock/tendermint/internal/telemetry"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the node",
		RunE:  runStart,
	}

	cmd.Flags().String("home", defaultHome(), "node home directory")
	cmd.Flags().String("config", "", "path to config file (default: <home>/config.toml)")
	cmd.Flags().String("genesis", "", "path to genesis file (default: <home>/genesis.json)")
	cmd.Flags().String("log-level", "", "override telemetry.log_level")
	cmd.Flags().Bool("dev-blocks", false, "propose deterministic placeholder blocks when this node is proposer")

	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	homeDir, _ := cmd.Flags().GetString("home")

	// Load config.
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = filepath.Join(homeDir, "config.toml")
	}
	cfg, err := config.LoadFileOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Telemetry.LogLevel = lvl
	}

	// Resolve paths relative to home dir.
	cfg.Storage.DBPath = resolve(homeDir, cfg.Storage.DBPath)
	cfg.Validator.KeyFile = resolve(homeDir, cfg.Validator.KeyFile)

	// Setup logger.
	logger, err := telemetry.NewLogger(cfg.Telemetry.LogMode, cfg.Telemetry.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Load genesis.
	genesisPath, _ := cmd.Flags().GetString("genesis")
	if genesisPath == "" {
		genesisPath = filepath.Join(homeDir, "genesis.json")
	}
	gen, err := config.LoadGenesis(genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	privKey, err := loadValidatorKey(cfg)
	if err != nil {
		return err
	}

	var source node.BlockSource
	if dev, _ := cmd.Flags().GetBool("dev-blocks"); dev {
		source = node.NewDevBlockSource(cfg.ChainID)
	}

	// Create and start node.
	n, err := node.NewNode(cfg, gen, privKey, source, logger)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	// Handle OS signals for graceful shutdown.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	logger.Info("node running, press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	return n.Stop()
}

// loadValidatorKey returns the validator key, or nil for an observer node
// without one.
func loadValidatorKey(cfg *config.Config) (crypto.PrivateKey, error) {
	if cfg.Validator.KeyFile == "" {
		return nil, nil
	}
	key, err := crypto.LoadKey(cfg.Validator.KeyFile)
	if err == nil {
		return key, nil
	}
	if !cfg.Validator.Enabled && errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return nil, fmt.Errorf("load validator key: %w", err)
}
