package consensus

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// MessageKind is the step tag carried by a consensus message.
type MessageKind uint8

const (
	KindPropose MessageKind = iota
	KindPrevote
	KindPrecommit
)

func (k MessageKind) String() string {
	switch k {
	case KindPropose:
		return "propose"
	case KindPrevote:
		return "prevote"
	case KindPrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ConsensusMessage announces a block hash for one step of a round.
// Its wire form is the RLP list [round, kind, hash].
type ConsensusMessage struct {
	Round     uint64
	Kind      MessageKind
	BlockHash types.Hash
}

// NewMessage builds a message for the given round, kind and hash.
func NewMessage(round uint64, kind MessageKind, hash types.Hash) *ConsensusMessage {
	return &ConsensusMessage{Round: round, Kind: kind, BlockHash: hash}
}

// Encode returns the RLP encoding of the message.
func (m *ConsensusMessage) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(m)
}

// EncodeMessage is shorthand for NewMessage(...).Encode().
func EncodeMessage(round uint64, kind MessageKind, hash types.Hash) ([]byte, error) {
	return NewMessage(round, kind, hash).Encode()
}

// DecodeMessage parses a wire message. Tags outside propose/prevote/precommit
// fail with ErrUnknownStep.
func DecodeMessage(raw []byte) (*ConsensusMessage, error) {
	var m ConsensusMessage
	if err := rlp.DecodeBytes(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.Kind > KindPrecommit {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStep, uint8(m.Kind))
	}
	return &m, nil
}

// SigningHash returns the digest a validator signs to authenticate raw:
// keccak256 of the encoded message, so the signature binds round, kind and
// hash together.
func SigningHash(raw []byte) (types.Hash, error) {
	if _, err := DecodeMessage(raw); err != nil {
		return types.ZeroHash, err
	}
	return crypto.Keccak256(raw), nil
}

// SignMessage encodes a message and signs its SigningHash with key.
func SignMessage(key crypto.PrivateKey, m *ConsensusMessage) (raw, sig []byte, err error) {
	raw, err = m.Encode()
	if err != nil {
		return nil, nil, fmt.Errorf("encode message: %w", err)
	}
	digest, err := SigningHash(raw)
	if err != nil {
		return nil, nil, err
	}
	sig, err = crypto.Sign(key, digest)
	if err != nil {
		return nil, nil, err
	}
	return raw, sig, nil
}

// SignSeal signs a block hash for inclusion in the header seal. Precommits
// carry this signature alongside the message signature.
func SignSeal(key crypto.PrivateKey, hash types.Hash) ([]byte, error) {
	return crypto.Sign(key, hash)
}

// encodeSealEntry wraps a raw signature as one seal field.
func encodeSealEntry(sig []byte) ([]byte, error) {
	return rlp.EncodeToBytes(sig)
}

// decodeSealEntry unwraps one seal field into a raw signature.
func decodeSealEntry(entry []byte) ([]byte, error) {
	var sig []byte
	if err := rlp.DecodeBytes(entry, &sig); err != nil {
		return nil, err
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("seal entry: %w", crypto.ErrInvalidSignatureLength)
	}
	return sig, nil
}
