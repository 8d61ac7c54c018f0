package p2p

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/echenim/Bedrock/tendermint/internal/consensus"
	"github.com/echenim/Bedrock/tendermint/internal/crypto"
	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// MaxMessageSize is the maximum allowed packet size (64 KB). Consensus
// messages are a round, a tag and a hash, so anything larger is garbage.
const MaxMessageSize = 64 * 1024

var (
	ErrEmptyPacket   = errors.New("p2p: empty packet")
	ErrPacketTooBig  = errors.New("p2p: packet too large")
	ErrInvalidPacket = errors.New("p2p: invalid packet")
)

// Packet is the gossip envelope: a consensus message, the sender's
// signature over its signing hash, and for precommits the sender's seal
// signature over the block hash. Its wire form is the RLP list
// [signature, message] or [signature, message, seal].
type Packet struct {
	Signature []byte
	Message   []byte
	Seal      []byte `rlp:"optional"`
}

// NewPacket wraps a signed consensus message.
func NewPacket(signature, message []byte) *Packet {
	return &Packet{Signature: signature, Message: message}
}

// Encode serializes the packet.
func (p *Packet) Encode() ([]byte, error) {
	data, err := rlp.EncodeToBytes(p)
	if err != nil {
		return nil, fmt.Errorf("p2p: encode packet: %w", err)
	}
	return data, nil
}

// DecodePacket parses a wire-format packet.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPacketTooBig, len(data), MaxMessageSize)
	}
	var p Packet
	if err := rlp.DecodeBytes(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	if len(p.Signature) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, crypto.ErrInvalidSignatureLength)
	}
	if len(p.Seal) != 0 && len(p.Seal) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: seal: %v", ErrInvalidPacket, crypto.ErrInvalidSignatureLength)
	}
	return &p, nil
}

// Kind returns the step tag of the wrapped message.
func (p *Packet) Kind() (consensus.MessageKind, error) {
	m, err := consensus.DecodeMessage(p.Message)
	if err != nil {
		return 0, err
	}
	return m.Kind, nil
}

// Sender recovers the address that signed the wrapped message.
func (p *Packet) Sender(signers *crypto.SignerCache) (types.Address, error) {
	digest, err := consensus.SigningHash(p.Message)
	if err != nil {
		return types.ZeroAddress, err
	}
	if signers != nil {
		return signers.RecoverAddress(digest, p.Signature)
	}
	return crypto.RecoverAddress(digest, p.Signature)
}

// SignPacket builds and signs a packet for the given message. Precommits
// also carry a seal signature over the block hash.
func SignPacket(key crypto.PrivateKey, m *consensus.ConsensusMessage) (*Packet, error) {
	raw, sig, err := consensus.SignMessage(key, m)
	if err != nil {
		return nil, fmt.Errorf("p2p: sign message: %w", err)
	}
	p := NewPacket(sig, raw)
	if m.Kind == consensus.KindPrecommit {
		if p.Seal, err = consensus.SignSeal(key, m.BlockHash); err != nil {
			return nil, fmt.Errorf("p2p: sign seal: %w", err)
		}
	}
	return p, nil
}
