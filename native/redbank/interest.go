package redbank

import "math/big"

// InterestRateModel is the two-slope utilization curve shared by all markets.
//
//	borrow_rate(u) = base + slope1 · u/u*                          u <= u*
//	               = base + slope1 + slope2 · (u - u*)/(1 - u*)    u >  u*
type InterestRateModel struct {
	Base               *big.Rat
	Slope1             *big.Rat
	Slope2             *big.Rat
	OptimalUtilization *big.Rat
}

// NewInterestRateModel constructs a model from decimal inputs, e.g. a 2% base
// rate is 0.02 and an 80% optimal utilization is 0.8.
func NewInterestRateModel(base, slope1, slope2, optimal float64) InterestRateModel {
	model := InterestRateModel{
		Base:               new(big.Rat),
		Slope1:             new(big.Rat),
		Slope2:             new(big.Rat),
		OptimalUtilization: new(big.Rat),
	}
	model.Base.SetFloat64(base)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.OptimalUtilization.SetFloat64(optimal)
	return model
}

// Clone returns a deep copy of the model.
func (m InterestRateModel) Clone() InterestRateModel {
	clone := InterestRateModel{
		Base:               new(big.Rat),
		Slope1:             new(big.Rat),
		Slope2:             new(big.Rat),
		OptimalUtilization: new(big.Rat),
	}
	if m.Base != nil {
		clone.Base.Set(m.Base)
	}
	if m.Slope1 != nil {
		clone.Slope1.Set(m.Slope1)
	}
	if m.Slope2 != nil {
		clone.Slope2.Set(m.Slope2)
	}
	if m.OptimalUtilization != nil {
		clone.OptimalUtilization.Set(m.OptimalUtilization)
	}
	return clone
}

// BorrowRate derives the yearly borrow rate at the given utilization.
func (m InterestRateModel) BorrowRate(utilization *big.Rat) *big.Rat {
	rate := cloneRat(m.Base)
	if utilization == nil || utilization.Sign() == 0 {
		return rate
	}
	optimal := cloneRat(m.OptimalUtilization)
	slope1 := cloneRat(m.Slope1)
	if optimal.Sign() == 0 || utilization.Cmp(optimal) <= 0 {
		// Region before the kink: slope1 scaled by u/u*.
		scaled := new(big.Rat).Set(utilization)
		if optimal.Sign() > 0 {
			scaled.Quo(scaled, optimal)
		}
		return rate.Add(rate, new(big.Rat).Mul(slope1, scaled))
	}

	rate.Add(rate, slope1)

	excess := new(big.Rat).Sub(utilization, optimal)
	span := new(big.Rat).Sub(big.NewRat(1, 1), optimal)
	if span.Sign() <= 0 {
		return rate
	}
	extra := new(big.Rat).Mul(cloneRat(m.Slope2), excess)
	extra.Quo(extra, span)
	return rate.Add(rate, extra)
}

// LiquidityRate derives the yearly rate credited to depositors:
// borrow_rate · u · (1 - reserve_factor).
func LiquidityRate(borrowRate, utilization, reserveFactor *big.Rat) *big.Rat {
	if borrowRate == nil || utilization == nil || utilization.Sign() == 0 {
		return new(big.Rat)
	}
	oneMinusReserve := big.NewRat(1, 1)
	if reserveFactor != nil {
		oneMinusReserve.Sub(oneMinusReserve, reserveFactor)
		if oneMinusReserve.Sign() < 0 {
			oneMinusReserve.SetInt64(0)
		}
	}
	rate := new(big.Rat).Mul(borrowRate, utilization)
	return rate.Mul(rate, oneMinusReserve)
}

// Utilization is debt underlying over liquidity underlying. Zero liquidity is
// defined as zero utilization.
func (m *Market) Utilization() *big.Rat {
	liquidity := underlyingLiquidity(m.CollateralTotalScaled, m.LiquidityIndex)
	if liquidity.Sign() == 0 {
		return new(big.Rat)
	}
	debt := underlyingDebt(m.DebtTotalScaled, m.BorrowIndex)
	if debt.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(debt, liquidity)
}

// linearFactor returns the ray factor 1 + rate·Δt/YEAR, truncated.
func linearFactor(rate *big.Rat, delta uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || delta == 0 {
		return new(big.Int).Set(ray)
	}
	growth := new(big.Rat).Set(rate)
	growth.Mul(growth, new(big.Rat).SetUint64(delta))
	growth.Quo(growth, new(big.Rat).SetUint64(secondsPerYear))
	factor := new(big.Rat).Add(big.NewRat(1, 1), growth)
	return ratToRay(factor)
}

// compoundFactor returns the ray factor (1 + rate/YEAR)^Δt with truncation at
// every step.
func compoundFactor(rate *big.Rat, delta uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || delta == 0 {
		return new(big.Int).Set(ray)
	}
	perSecond := new(big.Rat).Set(rate)
	perSecond.Quo(perSecond, new(big.Rat).SetUint64(secondsPerYear))
	base := ratToRay(new(big.Rat).Add(big.NewRat(1, 1), perSecond))
	return rayPow(base, delta)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestRateModel is a reasonable starting curve with a modest base
// rate and a kink at 80% utilization.
var DefaultInterestRateModel = NewInterestRateModel(0.02, 0.07, 0.45, 0.8)
