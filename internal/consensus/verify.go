package consensus

import (
	"fmt"
	"math"
	"math/big"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/echenim/Bedrock/tendermint/internal/types"
)

// Engine metadata.
const (
	EngineName    = "Tendermint"
	EngineVersion = "1.0.0"
)

// Name returns the engine name.
func (e *Engine) Name() string { return EngineName }

// Version returns the engine version.
func (e *Engine) Version() string { return EngineVersion }

// SealFields returns the number of seal entries a header must carry.
func (e *Engine) SealFields() int { return e.sealArity }

// VerifyBlockBasic checks the seal arity of header.
func (e *Engine) VerifyBlockBasic(header *types.Header) error {
	if n := len(header.Seal); n != e.sealArity {
		return &SealArityError{Expected: e.sealArity, Found: n}
	}
	return nil
}

// VerifyBlockUnordered recovers every seal signature over the header's bare
// hash and requires strictly more than threshold distinct validators among
// the signers.
func (e *Engine) VerifyBlockUnordered(header *types.Header) error {
	err := e.verifySeal(header)
	result := "ok"
	if err != nil {
		result = "invalid"
	}
	e.metrics.SealsVerified.WithLabelValues(result).Inc()
	return err
}

func (e *Engine) verifySeal(header *types.Header) error {
	digest := header.BareHash()
	signers := make(map[types.Address]struct{}, len(header.Seal))
	for i, entry := range header.Seal {
		sig, err := decodeSealEntry(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrInvalidSeal, i, err)
		}
		addr, err := e.signers.RecoverAddress(digest, sig)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrInvalidSeal, i, err)
		}
		signers[addr] = struct{}{}
	}

	valid := 0
	for addr := range signers {
		if e.validators.Contains(addr) {
			valid++
		}
	}
	if valid <= e.threshold {
		return fmt.Errorf("%w: %d validator signatures, need more than %d", ErrInvalidSeal, valid, e.threshold)
	}
	return nil
}

// VerifyBlockFamily checks header against its parent: the number must be
// positive, the difficulty unchanged, and the gas limit strictly within
// parent ± parent/divisor.
func (e *Engine) VerifyBlockFamily(header, parent *types.Header) error {
	if header.Number == 0 {
		lowest := uint64(1)
		return &OutOfBoundsError{Err: ErrRidiculousNumber, Min: &lowest, Found: header.Number}
	}

	if header.DifficultyOrZero().Cmp(parent.DifficultyOrZero()) != 0 {
		return &MismatchError{
			Err:      ErrInvalidDifficulty,
			Expected: parent.DifficultyOrZero(),
			Found:    header.DifficultyOrZero(),
		}
	}

	minGas, maxGas := e.gasLimitBounds(parent.GasLimit)
	if header.GasLimit <= minGas || header.GasLimit >= maxGas {
		return &OutOfBoundsError{Err: ErrInvalidGasLimit, Min: &minGas, Max: &maxGas, Found: header.GasLimit}
	}
	return nil
}

func (e *Engine) gasLimitBounds(parent uint64) (lo, hi uint64) {
	delta := parent / e.gasLimitBoundDivisor
	lo = parent - delta
	hi = parent + delta
	if hi < parent {
		hi = math.MaxUint64
	}
	return lo, hi
}

// PopulateFromParent fills the consensus fields of a new header from its
// parent: the difficulty is inherited and the gas limit moves toward
// gasFloorTarget by less than parent/divisor.
func (e *Engine) PopulateFromParent(header, parent *types.Header, gasFloorTarget, _ uint64) {
	header.Difficulty = new(big.Int).Set(parent.DifficultyOrZero())

	gas := parent.GasLimit
	delta := gas / e.gasLimitBoundDivisor
	if gas < gasFloorTarget {
		header.GasLimit = min(gasFloorTarget, gas+delta-1)
	} else {
		header.GasLimit = max(gasFloorTarget, gas-delta+1)
	}
}

// VerifyTransactionBasic checks that the transaction signature values are in
// range, including the low-s rule.
func (e *Engine) VerifyTransactionBasic(tx *gethtypes.Transaction) error {
	v, r, s := tx.RawSignatureValues()
	if v == nil || r == nil || s == nil {
		return fmt.Errorf("%w: unsigned", ErrInvalidTx)
	}

	recID := new(big.Int).Set(v)
	if tx.Type() == gethtypes.LegacyTxType {
		if tx.Protected() {
			offset := new(big.Int).Mul(tx.ChainId(), big.NewInt(2))
			offset.Add(offset, big.NewInt(35))
			recID.Sub(recID, offset)
		} else {
			recID.Sub(recID, big.NewInt(27))
		}
	}
	if !recID.IsUint64() || recID.Uint64() > 1 {
		return fmt.Errorf("%w: bad recovery id %s", ErrInvalidTx, v)
	}
	if !ethcrypto.ValidateSignatureValues(byte(recID.Uint64()), r, s, true) {
		return fmt.Errorf("%w: signature values out of range", ErrInvalidTx)
	}
	return nil
}

// VerifyTransaction recovers the sender of tx under the engine's chain ID.
func (e *Engine) VerifyTransaction(tx *gethtypes.Transaction) (types.Address, error) {
	from, err := gethtypes.Sender(e.txSigner, tx)
	if err != nil {
		return types.ZeroAddress, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	return from, nil
}
