// Package storage persists committed seals produced by the consensus engine.
package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// ErrNotFound is returned when no commit is stored under the requested key.
var ErrNotFound = errors.New("storage: not found")

// Backend names accepted by Open.
const (
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

// CommitRecord is a committed block hash together with the seal that
// finalized it.
type CommitRecord struct {
	Round     uint64
	BlockHash types.Hash
	Seal      types.Seal
	Time      uint64
}

// SealStore stores commit records keyed by block hash.
type SealStore interface {
	// SaveCommit stores rec and marks it as the latest commit.
	SaveCommit(rec *CommitRecord) error
	// GetCommit returns the record for hash or ErrNotFound.
	GetCommit(hash types.Hash) (*CommitRecord, error)
	// LatestCommit returns the most recently saved record or ErrNotFound.
	LatestCommit() (*CommitRecord, error)
	Close() error
}

// Open returns the SealStore for the named backend. path is ignored for the
// memory backend.
func Open(backend, path string) (SealStore, error) {
	switch backend {
	case BackendPebble:
		return NewPebbleStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}

func encodeRecord(rec *CommitRecord) ([]byte, error) {
	data, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return nil, fmt.Errorf("storage: encode commit: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*CommitRecord, error) {
	var rec CommitRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode commit: %w", err)
	}
	return &rec, nil
}
