package consensus

import "github.com/echenim/Bedrock/tendermint/internal/types"

// VoteCollector counts distinct validator votes for one block hash within a
// single step. A fresh collector is created on every step transition so votes
// from an earlier step never count toward a later quorum.
type VoteCollector struct {
	hash      types.Hash
	threshold int
	pending   map[types.Address]struct{}
	voters    []types.Address
}

// NewVoteCollector creates a collector for hash. Only addresses in validators
// can ever be counted.
func NewVoteCollector(hash types.Hash, validators []types.Address, threshold int) *VoteCollector {
	pending := make(map[types.Address]struct{}, len(validators))
	for _, v := range validators {
		pending[v] = struct{}{}
	}
	return &VoteCollector{
		hash:      hash,
		threshold: threshold,
		pending:   pending,
	}
}

// Vote records a vote from voter and reports whether it was newly counted.
func (vc *VoteCollector) Vote(voter types.Address) bool {
	if _, ok := vc.pending[voter]; !ok {
		return false
	}
	delete(vc.pending, voter)
	vc.voters = append(vc.voters, voter)
	return true
}

// IsWon reports whether strictly more than threshold validators have voted.
func (vc *VoteCollector) IsWon() bool {
	return len(vc.voters) > vc.threshold
}

// Hash returns the block hash this collector counts votes for.
func (vc *VoteCollector) Hash() types.Hash {
	return vc.hash
}

// Count returns the number of distinct counted voters.
func (vc *VoteCollector) Count() int {
	return len(vc.voters)
}

// Threshold returns the count that must be exceeded to win.
func (vc *VoteCollector) Threshold() int {
	return vc.threshold
}

// Voters returns the counted voters in arrival order.
func (vc *VoteCollector) Voters() []types.Address {
	out := make([]types.Address, len(vc.voters))
	copy(out, vc.voters)
	return out
}
