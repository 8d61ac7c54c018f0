package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// SignatureLength is the size of a recoverable secp256k1 signature
// in [R || S || V] form.
const SignatureLength = ethcrypto.SignatureLength

// ErrInvalidSignatureLength is returned when a signature is not 65 bytes.
var ErrInvalidSignatureLength = errors.New("invalid signature length")

// PrivateKey is a secp256k1 private key.
type PrivateKey = *ecdsa.PrivateKey

// PublicKey is a secp256k1 public key.
type PublicKey = *ecdsa.PublicKey

// GenerateKey creates a new secp256k1 private key.
func GenerateKey() (PrivateKey, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest.
func Sign(key PrivateKey, digest types.Hash) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Recover returns the public key that produced sig over digest.
func Recover(digest types.Hash, sig []byte) (PublicKey, error) {
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidSignatureLength, len(sig), SignatureLength)
	}
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	return pub, nil
}

// RecoverAddress returns the address of the key that produced sig over digest.
func RecoverAddress(digest types.Hash, sig []byte) (types.Address, error) {
	pub, err := Recover(digest, sig)
	if err != nil {
		return types.ZeroAddress, err
	}
	return PubkeyToAddress(pub), nil
}

// PubkeyToAddress derives the 20-byte address of a public key.
func PubkeyToAddress(pub PublicKey) types.Address {
	return ethcrypto.PubkeyToAddress(*pub)
}

// AddressOf derives the address of a private key.
func AddressOf(key PrivateKey) types.Address {
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}

// Verify reports whether sig over digest was produced by addr.
func Verify(addr types.Address, digest types.Hash, sig []byte) bool {
	got, err := RecoverAddress(digest, sig)
	return err == nil && got == addr
}

// LoadKey reads a hex-encoded private key file.
func LoadKey(path string) (PrivateKey, error) {
	key, err := ethcrypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", path, err)
	}
	return key, nil
}

// SaveKey writes key to path as hex with 0600 permissions.
func SaveKey(path string, key PrivateKey) error {
	if err := ethcrypto.SaveECDSA(path, key); err != nil {
		return fmt.Errorf("save key %s: %w", path, err)
	}
	return nil
}
