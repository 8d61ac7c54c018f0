package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Seal is the consensus proof attached to a header: an ordered list of
// RLP-encoded validator signatures over the header's bare hash.
type Seal [][]byte

// Copy returns a deep copy of the seal.
func (s Seal) Copy() Seal {
	if s == nil {
		return nil
	}
	out := make(Seal, len(s))
	for i, entry := range s {
		out[i] = append([]byte(nil), entry...)
	}
	return out
}

// Header is the block header as seen by the consensus engine.
type Header struct {
	ParentHash Hash
	Coinbase   Address
	StateRoot  Hash
	TxRoot     Hash
	Number     uint64
	Difficulty *big.Int
	GasLimit   uint64
	GasUsed    uint64
	Time       uint64
	Extra      []byte
	Seal       Seal
}

// bareHeader mirrors Header without the seal field; its RLP encoding is what
// validators sign.
type bareHeader struct {
	ParentHash Hash
	Coinbase   Address
	StateRoot  Hash
	TxRoot     Hash
	Number     uint64
	Difficulty *big.Int
	GasLimit   uint64
	GasUsed    uint64
	Time       uint64
	Extra      []byte
}

// BareHash returns the Keccak-256 hash of the header without its seal.
func (h *Header) BareHash() Hash {
	b := bareHeader{
		ParentHash: h.ParentHash,
		Coinbase:   h.Coinbase,
		StateRoot:  h.StateRoot,
		TxRoot:     h.TxRoot,
		Number:     h.Number,
		Difficulty: h.difficulty(),
		GasLimit:   h.GasLimit,
		GasUsed:    h.GasUsed,
		Time:       h.Time,
		Extra:      h.Extra,
	}
	data, err := rlp.EncodeToBytes(&b)
	if err != nil {
		// rlp encoding of a fixed struct of supported kinds should not fail.
		panic(fmt.Sprintf("types: failed to encode bare header: %v", err))
	}
	return crypto.Keccak256Hash(data)
}

// Hash returns the Keccak-256 hash of the full header, seal included.
func (h *Header) Hash() Hash {
	data, err := h.Encode()
	if err != nil {
		panic(fmt.Sprintf("types: failed to encode header: %v", err))
	}
	return crypto.Keccak256Hash(data)
}

// Encode returns the RLP encoding of the header.
func (h *Header) Encode() ([]byte, error) {
	cp := *h
	cp.Difficulty = h.difficulty()
	return rlp.EncodeToBytes(&cp)
}

// DecodeHeader parses an RLP-encoded header.
func DecodeHeader(data []byte) (*Header, error) {
	var h Header
	if err := rlp.DecodeBytes(data, &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return &h, nil
}

// Copy returns a deep copy of the header.
func (h *Header) Copy() *Header {
	cp := *h
	cp.Difficulty = new(big.Int).Set(h.difficulty())
	cp.Extra = append([]byte(nil), h.Extra...)
	cp.Seal = h.Seal.Copy()
	return &cp
}

// DifficultyOrZero returns the header difficulty, treating nil as zero.
func (h *Header) DifficultyOrZero() *big.Int {
	return h.difficulty()
}

func (h *Header) difficulty() *big.Int {
	if h.Difficulty == nil {
		return new(big.Int)
	}
	return h.Difficulty
}
