package redbank

import (
	"math/big"
	"testing"
)

func TestScaledLiquidityRoundsDown(t *testing.T) {
	index := new(big.Int).Add(ray, big.NewInt(1))
	amount := big.NewInt(1_000_000)
	scaled := scaledLiquidity(amount, index)
	back := underlyingLiquidity(scaled, index)
	if back.Cmp(amount) > 0 {
		t.Fatalf("unscaled deposit %s exceeds original %s", back, amount)
	}
}

func TestScaledDebtRoundsUp(t *testing.T) {
	index := new(big.Int).Add(ray, big.NewInt(3))
	amount := big.NewInt(999_999)
	scaled := scaledDebt(amount, index)
	back := underlyingDebt(scaled, index)
	if back.Cmp(amount) < 0 {
		t.Fatalf("unscaled debt %s below original %s", back, amount)
	}
}

func TestRayPowIdentity(t *testing.T) {
	if got := rayPow(nil, 10); got.Cmp(ray) != 0 {
		t.Fatalf("nil base: got %s", got)
	}
	if got := rayPow(big.NewInt(12345), 0); got.Cmp(ray) != 0 {
		t.Fatalf("zero exponent: got %s", got)
	}
	base := new(big.Int).Add(ray, big.NewInt(7))
	if got := rayPow(base, 1); got.Cmp(base) != 0 {
		t.Fatalf("exponent one: got %s want %s", got, base)
	}
}

func TestRayPowMatchesIteratedMultiply(t *testing.T) {
	base := new(big.Int).Add(ray, mustBigInt("317097919837645865"))
	iterated := new(big.Int).Set(ray)
	for i := 0; i < 13; i++ {
		iterated = rayMul(iterated, base)
	}
	fast := rayPow(base, 13)
	diff := new(big.Int).Sub(iterated, fast)
	diff.Abs(diff)
	// Binary exponentiation truncates in a different order than naive
	// iteration; the drift must stay within a few ulps of the 27-decimal
	// scale.
	if diff.Cmp(big.NewInt(64)) > 0 {
		t.Fatalf("rayPow drift too large: %s", diff)
	}
}

func TestCompoundFactorExceedsLinear(t *testing.T) {
	rate := big.NewRat(1, 10)
	linear := linearFactor(rate, secondsPerYear)
	compound := compoundFactor(rate, secondsPerYear)
	if compound.Cmp(linear) <= 0 {
		t.Fatalf("compound factor %s not above linear %s over a full year", compound, linear)
	}
}

func TestMonotonicIndexGrowth(t *testing.T) {
	rate := big.NewRat(5, 100)
	prev := new(big.Int).Set(ray)
	for _, delta := range []uint64{1, 60, 3600, 86_400, secondsPerYear} {
		next := rayMul(ray, compoundFactor(rate, delta))
		if next.Cmp(prev) < 0 {
			t.Fatalf("index shrank at delta %d: %s < %s", delta, next, prev)
		}
		prev = next
	}
}

func TestMulRatTrunc(t *testing.T) {
	got := mulRatTrunc(big.NewInt(100), big.NewRat(1, 3))
	if got.Cmp(big.NewInt(33)) != 0 {
		t.Fatalf("got %s want 33", got)
	}
}

func TestDivRatTrunc(t *testing.T) {
	got := divRatTrunc(big.NewInt(100), big.NewRat(3, 1))
	if got.Cmp(big.NewInt(33)) != 0 {
		t.Fatalf("got %s want 33", got)
	}
	if got := divRatTrunc(big.NewInt(100), new(big.Rat)); got.Sign() != 0 {
		t.Fatalf("division by zero rat should yield zero, got %s", got)
	}
}
