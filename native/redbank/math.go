package redbank

import (
	"math/big"
)

var (
	// ray is the 1e27 fixed-point scale carried by market indices.
	ray    = mustBigInt("1000000000000000000000000000")
	oneInt = big.NewInt(1)
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// scaledLiquidity converts an underlying deposit amount to scaled units,
// truncating. Truncation on the way in means depositors can never mint more
// scaled units than their coins are worth.
func scaledLiquidity(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, ray)
	return scaled.Quo(scaled, index)
}

// underlyingLiquidity converts scaled deposit units back to underlying,
// truncating.
func underlyingLiquidity(scaled, index *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(scaled, index)
	return amount.Quo(amount, ray)
}

// scaledDebt converts an underlying debt amount to scaled units, rounding up
// so the protocol never under-accounts debt.
func scaledDebt(amount, index *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, ray)
	return ceilQuo(scaled, index)
}

// underlyingDebt converts scaled debt units back to underlying, rounding up.
func underlyingDebt(scaled, index *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(scaled, index)
	return ceilQuo(amount, ray)
}

// ScaleDeposit converts an underlying deposit amount to scaled units with the
// same truncation as the engine. Exposed for callers that attribute shares of
// a pooled position, like the credit manager's lend bookkeeping.
func ScaleDeposit(amount, index *big.Int) *big.Int { return scaledLiquidity(amount, index) }

// UnscaleDeposit converts scaled deposit units to underlying, truncating.
func UnscaleDeposit(scaled, index *big.Int) *big.Int { return underlyingLiquidity(scaled, index) }

// ScaleDebt converts an underlying debt amount to scaled units, rounding up.
func ScaleDebt(amount, index *big.Int) *big.Int { return scaledDebt(amount, index) }

// UnscaleDebt converts scaled debt units to underlying, rounding up.
func UnscaleDebt(scaled, index *big.Int) *big.Int { return underlyingDebt(scaled, index) }

// ceilQuo returns ceil(num/den) for positive den.
func ceilQuo(num, den *big.Int) *big.Int {
	if den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, oneInt)
	}
	return quo
}

// rayMul multiplies two ray-scaled values, truncating.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

// rayPow raises a ray-scaled base to an integer exponent by binary
// exponentiation, truncating after every multiply. The truncation order is
// part of the protocol's arithmetic contract: independent implementations must
// reproduce it bit for bit.
func rayPow(base *big.Int, exp uint64) *big.Int {
	result := new(big.Int).Set(ray)
	if base == nil || exp == 0 {
		return result
	}
	acc := new(big.Int).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result = rayMul(result, acc)
		}
		exp >>= 1
		if exp > 0 {
			acc = rayMul(acc, acc)
		}
	}
	return result
}

// ratToRay converts a rational to ray fixed point, truncating.
func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// mulRatTrunc multiplies an integer amount by a rational factor, truncating.
func mulRatTrunc(amount *big.Int, factor *big.Rat) *big.Int {
	if amount == nil || factor == nil {
		return big.NewInt(0)
	}
	product := new(big.Rat).Mul(new(big.Rat).SetInt(amount), factor)
	return new(big.Int).Quo(product.Num(), product.Denom())
}

// ratTrunc truncates a rational toward zero.
func ratTrunc(r *big.Rat) *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(r.Num(), r.Denom())
}

// divRatTrunc divides an integer amount by a rational divisor, truncating.
func divRatTrunc(amount *big.Int, divisor *big.Rat) *big.Int {
	if amount == nil || divisor == nil || divisor.Sign() == 0 {
		return big.NewInt(0)
	}
	quotient := new(big.Rat).Quo(new(big.Rat).SetInt(amount), divisor)
	return new(big.Int).Quo(quotient.Num(), quotient.Denom())
}
