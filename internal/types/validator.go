package types

import (
	"errors"
	"fmt"
)

// ValidatorSet is the ordered set of validator addresses taking part in
// consensus. It is immutable once created.
type ValidatorSet struct {
	validators []Address
	index      map[Address]int
}

// NewValidatorSet creates a ValidatorSet preserving the given order.
func NewValidatorSet(validators []Address) (*ValidatorSet, error) {
	if len(validators) == 0 {
		return nil, errors.New("validator set must not be empty")
	}

	index := make(map[Address]int, len(validators))
	for i, v := range validators {
		if v == ZeroAddress {
			return nil, fmt.Errorf("validator %d has zero address", i)
		}
		if _, dup := index[v]; dup {
			return nil, fmt.Errorf("duplicate validator %s", v.Hex())
		}
		index[v] = i
	}

	vals := make([]Address, len(validators))
	copy(vals, validators)

	return &ValidatorSet{
		validators: vals,
		index:      index,
	}, nil
}

// Size returns the number of validators.
func (vs *ValidatorSet) Size() int {
	return len(vs.validators)
}

// At returns the validator at position i.
func (vs *ValidatorSet) At(i int) Address {
	return vs.validators[i]
}

// Addresses returns a copy of the ordered validator addresses.
func (vs *ValidatorSet) Addresses() []Address {
	out := make([]Address, len(vs.validators))
	copy(out, vs.validators)
	return out
}

// Contains reports whether addr is a validator.
func (vs *ValidatorSet) Contains(addr Address) bool {
	_, ok := vs.index[addr]
	return ok
}

// IndexOf returns the position of addr in the set.
func (vs *ValidatorSet) IndexOf(addr Address) (int, bool) {
	i, ok := vs.index[addr]
	return i, ok
}

// Threshold returns n*2/3 using integer division. A step is won once
// strictly more than Threshold distinct validators have voted.
func (vs *ValidatorSet) Threshold() int {
	return len(vs.validators) * 2 / 3
}

// QuorumSize is the smallest number of distinct votes that wins a step.
func (vs *ValidatorSet) QuorumSize() int {
	return vs.Threshold() + 1
}

// Proposer returns the round-robin proposer for the given nonce:
// validators[nonce mod n].
func (vs *ValidatorSet) Proposer(nonce uint64) Address {
	return vs.validators[nonce%uint64(len(vs.validators))]
}
