package storage

import (
	"sync"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// MemoryStore is an in-memory SealStore. Records are stored in their encoded
// form so both backends share the same codec.
type MemoryStore struct {
	mu      sync.RWMutex
	commits map[types.Hash][]byte
	latest  *types.Hash
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{commits: make(map[types.Hash][]byte)}
}

func (s *MemoryStore) SaveCommit(rec *CommitRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[rec.BlockHash] = data
	h := rec.BlockHash
	s.latest = &h
	return nil
}

func (s *MemoryStore) GetCommit(hash types.Hash) (*CommitRecord, error) {
	s.mu.RLock()
	data, ok := s.commits[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeRecord(data)
}

func (s *MemoryStore) LatestCommit() (*CommitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNotFound
	}
	return decodeRecord(s.commits[*s.latest])
}

func (s *MemoryStore) Close() error { return nil }
