package redbank

import (
	"math/big"

	"marsbank/crypto"
	"marsbank/native/oracle"
)

// positionValues aggregates a user's priced position across all markets.
// Values are quote-denominated rationals. Uncollateralized debts are excluded
// from totalDebt because they are not secured by the position.
type positionValues struct {
	totalCollateral      *big.Rat
	maxLTVAdjusted       *big.Rat
	liqThresholdAdjusted *big.Rat
	totalDebt            *big.Rat
}

// userPositionValues walks the user's enabled collaterals and collateralized
// debts and values them with the given pricing kind.
func (e *Engine) userPositionValues(user crypto.Address, kind oracle.PricingKind) (*positionValues, error) {
	values := &positionValues{
		totalCollateral:      new(big.Rat),
		maxLTVAdjusted:       new(big.Rat),
		liqThresholdAdjusted: new(big.Rat),
		totalDebt:            new(big.Rat),
	}
	collaterals, err := e.state.UserCollaterals(user)
	if err != nil {
		return nil, err
	}
	for _, entry := range collaterals {
		if !entry.Collateral.Enabled || entry.Collateral.AmountScaled.Sign() == 0 {
			continue
		}
		market, err := e.ensureMarket(entry.Denom)
		if err != nil {
			return nil, err
		}
		assetParams, err := e.assetParams(entry.Denom)
		if err != nil {
			return nil, err
		}
		price, err := e.oracle.Price(entry.Denom, kind)
		if err != nil {
			return nil, err
		}
		underlying := underlyingLiquidity(entry.Collateral.AmountScaled, e.projectedLiquidityIndex(market))
		value := new(big.Rat).Mul(new(big.Rat).SetInt(underlying), price)
		values.totalCollateral.Add(values.totalCollateral, value)
		if assetParams.MaxLoanToValue != nil {
			values.maxLTVAdjusted.Add(values.maxLTVAdjusted, new(big.Rat).Mul(value, assetParams.MaxLoanToValue))
		}
		if assetParams.LiquidationThreshold != nil {
			values.liqThresholdAdjusted.Add(values.liqThresholdAdjusted, new(big.Rat).Mul(value, assetParams.LiquidationThreshold))
		}
	}

	debts, err := e.state.UserDebts(user)
	if err != nil {
		return nil, err
	}
	for _, entry := range debts {
		if entry.Debt.Uncollateralized || entry.Debt.AmountScaled.Sign() == 0 {
			continue
		}
		market, err := e.ensureMarket(entry.Denom)
		if err != nil {
			return nil, err
		}
		price, err := e.oracle.Price(entry.Denom, kind)
		if err != nil {
			return nil, err
		}
		underlying := underlyingDebt(entry.Debt.AmountScaled, e.projectedBorrowIndex(market))
		values.totalDebt.Add(values.totalDebt, new(big.Rat).Mul(new(big.Rat).SetInt(underlying), price))
	}
	return values, nil
}

// projectedLiquidityIndex returns the liquidity index the market would carry
// at the engine timestamp without mutating stored state.
func (e *Engine) projectedLiquidityIndex(market *Market) *big.Int {
	if e.timestamp <= market.IndexesLastUpdated || market.LiquidityRate == nil || market.LiquidityRate.Sign() <= 0 {
		return market.LiquidityIndex
	}
	delta := e.timestamp - market.IndexesLastUpdated
	return rayMul(market.LiquidityIndex, linearFactor(market.LiquidityRate, delta))
}

// projectedBorrowIndex returns the borrow index the market would carry at the
// engine timestamp without mutating stored state.
func (e *Engine) projectedBorrowIndex(market *Market) *big.Int {
	if e.timestamp <= market.IndexesLastUpdated || market.BorrowRate == nil || market.BorrowRate.Sign() <= 0 {
		return market.BorrowIndex
	}
	delta := e.timestamp - market.IndexesLastUpdated
	return rayMul(market.BorrowIndex, compoundFactor(market.BorrowRate, delta))
}

// LiquidationHealthFactor returns liq-threshold-adjusted collateral over debt
// under liquidation pricing. A nil factor means the user has no
// collateralized debt and is unconditionally healthy.
func (e *Engine) LiquidationHealthFactor(user crypto.Address) (*big.Rat, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	values, err := e.userPositionValues(user, oracle.KindLiquidation)
	if err != nil {
		return nil, err
	}
	if values.totalDebt.Sign() == 0 {
		return nil, nil
	}
	return new(big.Rat).Quo(values.liqThresholdAdjusted, values.totalDebt), nil
}

func (e *Engine) userHasDebt(user crypto.Address) (bool, error) {
	debts, err := e.state.UserDebts(user)
	if err != nil {
		return false, err
	}
	for _, entry := range debts {
		if !entry.Debt.Uncollateralized && entry.Debt.AmountScaled.Sign() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// healthyAfterCollateralChange values the position as if the user's scaled
// collateral in the given market were replaced by newScaled, and reports
// whether the liq-threshold health factor stays at or above one.
func (e *Engine) healthyAfterCollateralChange(user crypto.Address, denom string, newScaled *big.Int, market *Market) (bool, error) {
	values, err := e.userPositionValues(user, oracle.KindDefault)
	if err != nil {
		return false, err
	}
	if values.totalDebt.Sign() == 0 {
		return true, nil
	}

	collateral, err := e.state.GetCollateral(user, denom)
	if err != nil {
		return false, err
	}
	if collateral != nil && collateral.Enabled {
		assetParams, err := e.assetParams(denom)
		if err != nil {
			return false, err
		}
		price, err := e.oracle.Price(denom, oracle.KindDefault)
		if err != nil {
			return false, err
		}
		threshold := new(big.Rat)
		if assetParams.LiquidationThreshold != nil {
			threshold.Set(assetParams.LiquidationThreshold)
		}
		current := underlyingLiquidity(collateral.AmountScaled, market.LiquidityIndex)
		after := underlyingLiquidity(newScaled, market.LiquidityIndex)
		removed := new(big.Int).Sub(current, after)
		if removed.Sign() > 0 {
			removedValue := new(big.Rat).Mul(new(big.Rat).SetInt(removed), price)
			removedValue.Mul(removedValue, threshold)
			values.liqThresholdAdjusted.Sub(values.liqThresholdAdjusted, removedValue)
			if values.liqThresholdAdjusted.Sign() < 0 {
				values.liqThresholdAdjusted.SetInt64(0)
			}
		}
	}
	return values.liqThresholdAdjusted.Cmp(values.totalDebt) >= 0, nil
}
