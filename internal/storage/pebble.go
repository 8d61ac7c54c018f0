package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

var (
	commitPrefix = []byte("c/")
	latestKey    = []byte("latest")
)

// PebbleStore is a SealStore backed by a pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) a pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func commitKey(hash types.Hash) []byte {
	key := make([]byte, 0, len(commitPrefix)+types.HashSize)
	key = append(key, commitPrefix...)
	return append(key, hash.Bytes()...)
}

// SaveCommit writes the record and the latest pointer in one batch.
func (s *PebbleStore) SaveCommit(rec *CommitRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(commitKey(rec.BlockHash), data, nil); err != nil {
		return fmt.Errorf("storage: stage commit: %w", err)
	}
	if err := batch.Set(latestKey, rec.BlockHash.Bytes(), nil); err != nil {
		return fmt.Errorf("storage: stage latest: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("storage: commit batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) GetCommit(hash types.Hash) (*CommitRecord, error) {
	data, err := s.get(commitKey(hash))
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (s *PebbleStore) LatestCommit() (*CommitRecord, error) {
	raw, err := s.get(latestKey)
	if err != nil {
		return nil, err
	}
	hash, err := types.HashFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("storage: corrupt latest pointer: %w", err)
	}
	return s.GetCommit(hash)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// get returns a copy of the value under key; pebble's buffer is only valid
// until the closer runs.
func (s *PebbleStore) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get: %w", err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}
