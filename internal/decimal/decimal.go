package decimal

import (
	"math/big"
	"sync"
)

// StandardDecimals is the reference scale every cross-scale operation
// normalizes to before combining operands.
const StandardDecimals = 8

// int128Pool holds big.Ints for intermediate products so hot paths don't
// allocate. Values are wide enough that a*b at standard scale cannot overflow.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// pow10 returns 10^n as a fresh big.Int. n must be non-negative.
func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// toStandard rescales value from its own scale to StandardDecimals.
// Down-scaling truncates toward zero; no other rounding is applied.
// The returned big.Int comes from the pool; callers must putInt128 it.
func toStandard(value int64, decimals int32) *big.Int {
	result := getInt128()
	result.SetInt64(value)

	if decimals > StandardDecimals {
		result.Quo(result, pow10(decimals-StandardDecimals))
	} else if decimals < StandardDecimals {
		result.Mul(result, pow10(StandardDecimals-decimals))
	}

	return result
}

// fromStandard rescales a standard-scale value to targetDecimals.
// Down-scaling truncates toward zero.
func fromStandard(v *big.Int, targetDecimals int32) int64 {
	result := getInt128()
	defer putInt128(result)

	result.Set(v)
	if targetDecimals > StandardDecimals {
		result.Mul(result, pow10(targetDecimals-StandardDecimals))
	} else if targetDecimals < StandardDecimals {
		result.Quo(result, pow10(StandardDecimals-targetDecimals))
	}

	return result.Int64()
}

// ToStandard rescales value from its own scale to StandardDecimals.
// The result must fit in int64; operands combined further should go through
// Multiply/Subtract, which keep intermediates wide.
func ToStandard(value int64, decimals int32) int64 {
	v := toStandard(value, decimals)
	defer putInt128(v)
	return v.Int64()
}

// FromStandard rescales a standard-scale value to targetDecimals.
func FromStandard(value int64, targetDecimals int32) int64 {
	v := getInt128()
	defer putInt128(v)
	v.SetInt64(value)
	return fromStandard(v, targetDecimals)
}

// Multiply computes a*b across scales. Both operands are normalized to the
// standard scale, multiplied (leaving one redundant factor of 10^standard,
// which is divided out), then rescaled to resultDecimals.
func Multiply(a int64, aDecimals int32, b int64, bDecimals int32, resultDecimals int32) int64 {
	sa := toStandard(a, aDecimals)
	sb := toStandard(b, bDecimals)
	defer putInt128(sa)
	defer putInt128(sb)

	product := getInt128()
	defer putInt128(product)

	product.Mul(sa, sb)
	product.Quo(product, pow10(StandardDecimals))

	return fromStandard(product, resultDecimals)
}

// Subtract computes a-b across scales at resultDecimals.
func Subtract(a int64, aDecimals int32, b int64, bDecimals int32, resultDecimals int32) int64 {
	sa := toStandard(a, aDecimals)
	sb := toStandard(b, bDecimals)
	defer putInt128(sa)
	defer putInt128(sb)

	sa.Sub(sa, sb)

	return fromStandard(sa, resultDecimals)
}

// ConvertDecimals rescales a single quantity directly, without the
// standard-scale detour. Down-scaling truncates toward zero.
func ConvertDecimals(value int64, fromDecimals, toDecimals int32) int64 {
	if fromDecimals == toDecimals {
		return value
	}

	v := getInt128()
	defer putInt128(v)

	v.SetInt64(value)
	if fromDecimals > toDecimals {
		v.Quo(v, pow10(fromDecimals-toDecimals))
	} else {
		v.Mul(v, pow10(toDecimals-fromDecimals))
	}

	return v.Int64()
}

// PositionSize converts posted margin into asset units at priceDecimals scale:
// notional = margin * leverage (leverage carries zero decimals), then
// size = notional / price * 10^priceDecimals.
//
// The final division rounds half away from zero. Every other conversion in
// this package truncates toward zero; replayed logs depend on both behaviors
// staying exactly as they are.
func PositionSize(margin int64, marginDecimals int32, leverage int64, price int64, priceDecimals int32) int64 {
	notional := toStandard(margin, marginDecimals)
	standardPrice := toStandard(price, priceDecimals)
	defer putInt128(notional)
	defer putInt128(standardPrice)

	if standardPrice.Sign() == 0 {
		return 0
	}

	notional.Mul(notional, big.NewInt(leverage))
	notional.Mul(notional, pow10(priceDecimals))

	return roundDiv(notional, standardPrice)
}

// roundDiv divides num by den rounding half away from zero.
func roundDiv(num, den *big.Int) int64 {
	quo := getInt128()
	rem := getInt128()
	defer putInt128(quo)
	defer putInt128(rem)

	quo.QuoRem(num, den, rem)

	// |rem|*2 >= |den| rounds the magnitude up.
	rem.Abs(rem)
	rem.Lsh(rem, 1)

	absDen := getInt128()
	defer putInt128(absDen)
	absDen.Abs(den)

	result := quo.Int64()
	if rem.Cmp(absDen) >= 0 {
		if (num.Sign() < 0) != (den.Sign() < 0) {
			result--
		} else {
			result++
		}
	}

	return result
}
