// Package fixedpoint implements the engine's checked fixed-point money and
// price arithmetic. Two scalar types: Money carries
// collateral/PnL/broker-pool amounts at 10^6 precision; Price carries oracle
// prices at 10^8 precision. Every operation is checked: overflow or
// underflow returns a typed error instead of wrapping silently.
package fixedpoint

import (
	"errors"
	"math/big"
	"sync"
)

const (
	// MoneyScale is the fixed-point scale for collateral/PnL amounts (10^6).
	MoneyScale int64 = 1_000_000
	// PriceScale is the fixed-point scale for oracle prices (10^8).
	PriceScale int64 = 100_000_000
)

var (
	ErrOverflow    = errors.New("fixedpoint: overflow")
	ErrUnderflow   = errors.New("fixedpoint: underflow")
	ErrDivideByZero = errors.New("fixedpoint: divide by zero")
)

// Money is an unsigned 10^6 fixed-point amount. Collateral, PnL, broker pool,
// and insurance fund balances are all Money.
type Money uint64

// Price is a signed 10^8 fixed-point value. Signed because mark/entry price
// differences feed directly into PnL computation.
type Price int64

// int128Pool amortizes big.Int allocation for the multiply-then-divide path
// used by PnL and notional computation, the same pooling idiom the original design
// uses for its own intermediate-precision math.
var int128Pool = sync.Pool{
	New: func() interface{} { return new(big.Int) },
}

func getBig() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// Add returns a+b, or ErrOverflow if the unsigned sum would wrap.
func (a Money) Add(b Money) (Money, error) {
	r := a + b
	if r < a {
		return 0, ErrOverflow
	}
	return r, nil
}

// Sub returns a-b, or ErrUnderflow if b > a. Unsigned checked subtraction is
// how the ledger enforces invariant 2 (no field ever goes negative).
func (a Money) Sub(b Money) (Money, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// Cmp compares a to b: -1, 0, 1.
func (a Money) Cmp(b Money) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// DeviationBps computes |a-b| * 10000 / b, the basis-point deviation used by
// the oracle band check. It panics when b == 0 (division by zero), so
// callers must guard a zero reference themselves (the oracle never calls
// this with a zero reference price).
func DeviationBps(a, b Price) int64 {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	num := getBig()
	num.Mul(big.NewInt(int64(diff)), big.NewInt(10_000))
	den := big.NewInt(int64(b))
	if den.Sign() < 0 {
		den.Neg(den)
	}
	q := getBig()
	q.Quo(num, den)
	result := q.Int64()
	putBig(num)
	putBig(q)
	return result
}

// NormalizeAggregatorPrice scales a Chainlink-style aggregator answer at
// `decimals` into a 10^8 Price. If decimals < 8, scale up; if > 8, scale
// down; decimals == 8 is a no-op.
func NormalizeAggregatorPrice(answer int64, decimals int) (Price, error) {
	if answer <= 0 {
		return 0, ErrInvalidPrice
	}
	delta := 8 - decimals
	return scaleByPow10(answer, delta)
}

// NormalizeExpoPrice scales a Pyth-style (price, expo) pair into a 10^8
// Price: price * 10^(8+expo), handling the signed exponent.
func NormalizeExpoPrice(price int64, expo int) (Price, error) {
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	return scaleByPow10(price, 8+expo)
}

// ErrInvalidPrice signals a non-positive feed price.
var ErrInvalidPrice = errors.New("fixedpoint: invalid price")

func scaleByPow10(v int64, exp int) (Price, error) {
	if exp == 0 {
		return Price(v), nil
	}
	big10 := big.NewInt(10)
	factor := getBig()
	defer putBig(factor)
	if exp > 0 {
		factor.Exp(big10, big.NewInt(int64(exp)), nil)
		factor.Mul(factor, big.NewInt(v))
		if !factor.IsInt64() {
			return 0, ErrOverflow
		}
		return Price(factor.Int64()), nil
	}
	factor.Exp(big10, big.NewInt(int64(-exp)), nil)
	if factor.Sign() == 0 {
		return 0, ErrDivideByZero
	}
	num := big.NewInt(v)
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(num, factor, r)
	return Price(q.Int64()), nil
}

// PositionPnL computes the signed PnL for a position using a signed
// intermediate (markPrice - entryPrice) in 10^8, multiplied by size in 10^6,
// divided by 10^8, producing a signed 10^6 Money delta. sideSign is +1 for
// long, -1 for short.
func PositionPnL(sideSign int64, markPrice, entryPrice Price, size Money) int64 {
	priceDiff := int64(markPrice) - int64(entryPrice)
	num := getBig()
	num.Mul(big.NewInt(sideSign*priceDiff), big.NewInt(int64(size)))
	den := big.NewInt(PriceScale)
	q, r := getBig(), getBig()
	q.QuoRem(num, den, r)
	// the quotient truncates toward zero and the remainder is discarded —
	// no rounding mode is mandated for PnL, only for avg-entry.
	result := q.Int64()
	putBig(num)
	putBig(q)
	putBig(r)
	return result
}

// Notional computes |size| * markPrice / 10^8 as a Money magnitude, used by
// the overspend/margin-in-use computation.
func Notional(size Money, markPrice Price) (Money, error) {
	if markPrice < 0 {
		return 0, ErrInvalidPrice
	}
	num := getBig()
	num.Mul(big.NewInt(int64(size)), big.NewInt(int64(markPrice)))
	den := big.NewInt(PriceScale)
	q := getBig()
	q.Quo(num, den)
	if !q.IsUint64() {
		putBig(num)
		putBig(q)
		return 0, ErrOverflow
	}
	r := q.Uint64()
	putBig(num)
	putBig(q)
	return Money(r), nil
}
