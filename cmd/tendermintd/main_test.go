package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/echenim/Bedrock/tendermint/internal/config"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "tendermintd v"+version) {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestStartCmd(t *testing.T) {
	cmd := newStartCmd()
	if cmd.Use != "start" {
		t.Errorf("expected Use='start', got '%s'", cmd.Use)
	}
	if cmd.Flags().Lookup("dev-blocks") == nil {
		t.Error("expected --dev-blocks flag")
	}
}

func TestInitCmd(t *testing.T) {
	cmd := newInitCmd()
	if cmd.Use != "init [moniker]" {
		t.Errorf("expected Use='init [moniker]', got '%s'", cmd.Use)
	}
}

func TestInitWritesHome(t *testing.T) {
	home := t.TempDir()
	other, _ := crypto.GenerateKey()

	out, err := execute(t, "init", "alpha",
		"--home", home,
		"--chain-id", "7",
		"--validators", crypto.AddressOf(other).Hex(),
	)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	cfg, err := config.LoadFile(filepath.Join(home, "config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Moniker != "alpha" || cfg.ChainID != 7 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	key, err := crypto.LoadKey(filepath.Join(home, cfg.Validator.KeyFile))
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if !strings.Contains(out, crypto.AddressOf(key).Hex()) {
		t.Errorf("init output should print the validator address: %q", out)
	}

	gen, err := config.LoadGenesis(filepath.Join(home, "genesis.json"))
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	addrs, err := gen.ValidatorAddresses()
	if err != nil {
		t.Fatalf("genesis addresses: %v", err)
	}
	if len(addrs) != 2 || addrs[0] != crypto.AddressOf(key) || addrs[1] != crypto.AddressOf(other) {
		t.Fatalf("unexpected genesis validators %v", addrs)
	}
	if gen.ChainID != 7 {
		t.Fatalf("expected genesis chain 7, got %d", gen.ChainID)
	}

	if _, err := os.Stat(filepath.Join(home, "data")); err != nil {
		t.Fatalf("expected data dir: %v", err)
	}
}

func TestInitRejectsBadValidator(t *testing.T) {
	if _, err := execute(t, "init", "alpha", "--home", t.TempDir(), "--validators", "0x1234"); err == nil {
		t.Fatal("expected error for malformed validator address")
	}
}

func TestInitRequiresMoniker(t *testing.T) {
	if _, err := execute(t, "init", "--home", t.TempDir()); err == nil {
		t.Fatal("expected error without moniker")
	}
}

func TestKeysGenerateAndShow(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "validator_key")

	out, err := execute(t, "keys", "generate", "--output", path)
	if err != nil {
		t.Fatalf("keys generate: %v", err)
	}
	key, err := crypto.LoadKey(path)
	if err != nil {
		t.Fatalf("load generated key: %v", err)
	}
	addr := crypto.AddressOf(key).Hex()
	if !strings.Contains(out, addr) {
		t.Fatalf("generate output missing address: %q", out)
	}

	out, err = execute(t, "keys", "show", "--home", home)
	if err != nil {
		t.Fatalf("keys show: %v", err)
	}
	if !strings.Contains(out, addr) {
		t.Fatalf("show output missing address: %q", out)
	}
}

func TestKeysShowMissingKey(t *testing.T) {
	if _, err := execute(t, "keys", "show", "--home", t.TempDir()); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestStartRequiresGenesis(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, "start", "--home", home)
	if err == nil || !strings.Contains(err.Error(), "genesis") {
		t.Fatalf("expected genesis error, got %v", err)
	}
}

func TestLoadValidatorKeyObserver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Validator.Enabled = false
	cfg.Validator.KeyFile = filepath.Join(t.TempDir(), "missing")

	key, err := loadValidatorKey(cfg)
	if err != nil {
		t.Fatalf("observer without key: %v", err)
	}
	if key != nil {
		t.Fatal("expected no key")
	}

	cfg.Validator.Enabled = true
	if _, err := loadValidatorKey(cfg); err == nil {
		t.Fatal("validator must fail without key")
	}
}

func TestResolve(t *testing.T) {
	if got := resolve("/home", "data/x"); got != filepath.Join("/home", "data/x") {
		t.Errorf("relative path: got %q", got)
	}
	if got := resolve("/home", "/abs"); got != "/abs" {
		t.Errorf("absolute path: got %q", got)
	}
	if got := resolve("/home", ""); got != "" {
		t.Errorf("empty path: got %q", got)
	}
}
