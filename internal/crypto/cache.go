package crypto

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// DefaultSignerCacheSize is the number of recovered signers kept in memory.
const DefaultSignerCacheSize = 4096

// SignerCache memoizes signature recovery keyed by digest and signature.
// Seal verification re-checks the same signatures whenever a header is
// re-imported, so recoveries are cached in an ARC cache.
type SignerCache struct {
	cache *lru.ARCCache
}

// NewSignerCache creates a cache holding up to size recovered signers.
func NewSignerCache(size int) (*SignerCache, error) {
	if size <= 0 {
		size = DefaultSignerCacheSize
	}
	c, err := lru.NewARC(size)
	if err != nil {
		return nil, fmt.Errorf("signer cache: %w", err)
	}
	return &SignerCache{cache: c}, nil
}

// RecoverAddress returns the signer of sig over digest, consulting the cache first.
func (c *SignerCache) RecoverAddress(digest types.Hash, sig []byte) (types.Address, error) {
	key := Keccak256(digest[:], sig)
	if addr, ok := c.cache.Get(key); ok {
		return addr.(types.Address), nil
	}
	addr, err := RecoverAddress(digest, sig)
	if err != nil {
		return types.ZeroAddress, err
	}
	c.cache.Add(key, addr)
	return addr, nil
}

// Len returns the number of cached entries.
func (c *SignerCache) Len() int {
	return c.cache.Len()
}
