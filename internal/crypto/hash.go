package crypto

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// Keccak256 computes the Keccak-256 hash of the concatenated inputs.
func Keccak256(data ...[]byte) types.Hash {
	return ethcrypto.Keccak256Hash(data...)
}
