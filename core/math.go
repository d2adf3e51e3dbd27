package core

import (
	"math"

	"github.com/holiman/uint256"
)

// Monetary arithmetic never wraps: every helper fails with
// ErrInvalidCalculation instead.

func Add(x, y uint64) (uint64, error) {
	z, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(x), uint256.NewInt(y))
	if overflow || !z.IsUint64() {
		return 0, ErrInvalidCalculation
	}
	return z.Uint64(), nil
}

func Sub(x, y uint64) (uint64, error) {
	z, underflow := new(uint256.Int).SubOverflow(uint256.NewInt(x), uint256.NewInt(y))
	if underflow {
		return 0, ErrInvalidCalculation
	}
	return z.Uint64(), nil
}

func Mul(x, y uint64) (uint64, error) {
	z, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(x), uint256.NewInt(y))
	if overflow || !z.IsUint64() {
		return 0, ErrInvalidCalculation
	}
	return z.Uint64(), nil
}

// Percent returns floor(x * pct / 100). The product itself must fit in 64
// bits.
func Percent(x uint64, pct uint8) (uint64, error) {
	product, err := Mul(x, uint64(pct))
	if err != nil {
		return 0, err
	}
	return product / 100, nil
}

// AddTime adds a delay to a unix timestamp.
func AddTime(ts, delay int64) (int64, error) {
	if (delay > 0 && ts > math.MaxInt64-delay) ||
		(delay < 0 && ts < math.MinInt64-delay) {
		return 0, ErrInvalidCalculation
	}
	return ts + delay, nil
}
