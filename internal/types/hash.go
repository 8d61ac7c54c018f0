package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// HashSize is the length of a Hash in bytes (Keccak-256).
const HashSize = common.HashLength

// AddressSize is the length of an Address in bytes.
const AddressSize = common.AddressLength

// Hash is a 32-byte Keccak-256 hash.
type Hash = common.Hash

// Address is a 20-byte validator/account identifier derived from a
// secp256k1 public key.
type Address = common.Address

// ZeroHash is the zero-value hash.
var ZeroHash Hash

// ZeroAddress is the zero-value address.
var ZeroAddress Address

// HashFromBytes creates a Hash from a byte slice, returning an error if
// the slice is not exactly 32 bytes.
func HashFromBytes(b []byte) (Hash, error) {
	if len(b) != HashSize {
		return ZeroHash, fmt.Errorf("invalid hash length: got %d, want %d", len(b), HashSize)
	}
	return common.BytesToHash(b), nil
}

// HashFromHex decodes a hex string (with or without 0x prefix) into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return ZeroHash, fmt.Errorf("invalid hex: %w", err)
	}
	return HashFromBytes(b)
}

// AddressFromBytes creates an Address from a byte slice, returning an error if
// the slice is not exactly 20 bytes.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return ZeroAddress, fmt.Errorf("invalid address length: got %d, want %d", len(b), AddressSize)
	}
	return common.BytesToAddress(b), nil
}

// AddressFromHex decodes a hex string (with or without 0x prefix) into an Address.
func AddressFromHex(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("invalid hex address %q", s)
	}
	return common.HexToAddress(s), nil
}
