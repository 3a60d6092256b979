package redbank

import (
	"math/big"

	"marsbank/crypto"
)

// Market returns a copy of the stored market, or nil when absent.
func (e *Engine) Market(denom string) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market, err := e.state.GetMarket(denom)
	if err != nil || market == nil {
		return nil, err
	}
	return market.Clone(), nil
}

// Markets returns copies of all stored markets.
func (e *Engine) Markets() ([]*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	markets, err := e.state.Markets()
	if err != nil {
		return nil, err
	}
	clones := make([]*Market, 0, len(markets))
	for _, market := range markets {
		clones = append(clones, market.Clone())
	}
	return clones, nil
}

// CollateralAmount returns the user's deposit in underlying units at the
// index projected to the engine timestamp. Zero when no position exists.
func (e *Engine) CollateralAmount(user crypto.Address, denom string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	collateral, err := e.state.GetCollateral(user, denom)
	if err != nil {
		return nil, err
	}
	if collateral == nil || collateral.AmountScaled.Sign() == 0 {
		return big.NewInt(0), nil
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return nil, err
	}
	return underlyingLiquidity(collateral.AmountScaled, e.projectedLiquidityIndex(market)), nil
}

// DebtAmount returns the user's debt in underlying units at the projected
// borrow index. Zero when no position exists.
func (e *Engine) DebtAmount(user crypto.Address, denom string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	debt, err := e.state.GetDebt(user, denom)
	if err != nil {
		return nil, err
	}
	if debt == nil || debt.AmountScaled.Sign() == 0 {
		return big.NewInt(0), nil
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return nil, err
	}
	return underlyingDebt(debt.AmountScaled, e.projectedBorrowIndex(market)), nil
}

// UserCollaterals lists the user's collateral positions with underlying
// amounts at projected indices.
func (e *Engine) UserCollaterals(user crypto.Address) (map[string]*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	entries, err := e.state.UserCollaterals(user)
	if err != nil {
		return nil, err
	}
	amounts := make(map[string]*big.Int, len(entries))
	for _, entry := range entries {
		market, err := e.ensureMarket(entry.Denom)
		if err != nil {
			return nil, err
		}
		amounts[entry.Denom] = underlyingLiquidity(entry.Collateral.AmountScaled, e.projectedLiquidityIndex(market))
	}
	return amounts, nil
}

// LoanLimit returns the user's uncollateralized credit line, nil when unset.
func (e *Engine) LoanLimit(user crypto.Address, denom string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.GetLoanLimit(user, denom)
}

// LiquidityIndex returns the market's liquidity index projected to the
// engine timestamp.
func (e *Engine) LiquidityIndex(denom string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return nil, err
	}
	return e.projectedLiquidityIndex(market), nil
}

// TotalDeposits returns the market's pooled deposits in underlying units.
func (e *Engine) TotalDeposits(denom string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return nil, err
	}
	return underlyingLiquidity(market.CollateralTotalScaled, e.projectedLiquidityIndex(market)), nil
}

// Utilization returns the market's current utilization ratio.
func (e *Engine) Utilization(denom string) (*big.Rat, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return nil, err
	}
	return market.Utilization(), nil
}
