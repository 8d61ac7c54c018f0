package p2p

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/echenim/Bedrock/tendermint/internal/consensus"
)

// RateLimitConfig defines rate limits per message kind.
type RateLimitConfig struct {
	ProposeRate     float64 // proposals per second
	PrevoteRate     float64 // prevotes per second
	PrecommitRate   float64 // precommits per second
	GlobalRate      float64 // total messages per second per peer
	BurstMultiplier float64 // burst capacity = rate * multiplier
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		ProposeRate:     2,
		PrevoteRate:     20,
		PrecommitRate:   20,
		GlobalRate:      50,
		BurstMultiplier: 3,
	}
}

// tokenBucket implements a simple token bucket rate limiter.
type tokenBucket struct {
	tokens    float64
	maxTokens float64
	rate      float64 // tokens per second
	lastFill  time.Time
}

func newTokenBucket(rate, burstMultiplier float64) *tokenBucket {
	maxTokens := rate * burstMultiplier
	return &tokenBucket{
		tokens:    maxTokens,
		maxTokens: maxTokens,
		rate:      rate,
		lastFill:  time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastFill).Seconds() * tb.rate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastFill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

type peerBuckets struct {
	global   *tokenBucket
	kinds    [3]*tokenBucket // indexed by consensus.MessageKind
	lastSeen time.Time
}

// RateLimiter tracks per-peer, per-kind rate limits.
type RateLimiter struct {
	mu     sync.Mutex
	peers  map[peer.ID]*peerBuckets
	config RateLimitConfig
}

// NewRateLimiter creates a RateLimiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		peers:  make(map[peer.ID]*peerBuckets),
		config: cfg,
	}
}

func (rl *RateLimiter) getOrCreate(pid peer.ID) *peerBuckets {
	pb, ok := rl.peers[pid]
	if !ok {
		burst := rl.config.BurstMultiplier
		pb = &peerBuckets{
			global: newTokenBucket(rl.config.GlobalRate, burst),
			kinds: [3]*tokenBucket{
				consensus.KindPropose:   newTokenBucket(rl.config.ProposeRate, burst),
				consensus.KindPrevote:   newTokenBucket(rl.config.PrevoteRate, burst),
				consensus.KindPrecommit: newTokenBucket(rl.config.PrecommitRate, burst),
			},
		}
		rl.peers[pid] = pb
	}
	pb.lastSeen = time.Now()
	return pb
}

// Allow reports whether a message of the given kind from pid is within limits.
func (rl *RateLimiter) Allow(pid peer.ID, kind consensus.MessageKind) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	pb := rl.getOrCreate(pid)
	if !pb.global.allow() {
		return false
	}
	if int(kind) >= len(pb.kinds) {
		return true
	}
	return pb.kinds[kind].allow()
}

// Cleanup removes buckets for peers not seen in the given duration.
func (rl *RateLimiter) Cleanup(staleAfter time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-staleAfter)
	removed := 0
	for pid, pb := range rl.peers {
		if pb.lastSeen.Before(cutoff) {
			delete(rl.peers, pid)
			removed++
		}
	}
	return removed
}
