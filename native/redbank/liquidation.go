package redbank

import (
	"math/big"

	"marsbank/core/events"
	"marsbank/crypto"
	nativecommon "marsbank/native/common"
	"marsbank/native/oracle"
)

// LiquidationResult reports the settled amounts of a liquidation call.
type LiquidationResult struct {
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	Refund           *big.Int
}

// Liquidate lets anyone repay part of an unhealthy borrower's debt in
// exchange for a bonus-discounted slice of one collateral. Repay size is
// bounded by the global close factor and by the collateral actually held.
func (e *Engine) Liquidate(liquidator, user crypto.Address, collateralDenom, debtDenom string, sentAmount *big.Int) (*LiquidationResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if sentAmount == nil || sentAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	limit, err := e.state.GetLoanLimit(user, debtDenom)
	if err != nil {
		return nil, err
	}
	if limit != nil && limit.Sign() > 0 {
		return nil, errUncollateralizedDebt
	}

	collateralMarket, err := e.ensureMarket(collateralDenom)
	if err != nil {
		return nil, err
	}
	debtMarket, err := e.ensureMarket(debtDenom)
	if err != nil {
		return nil, err
	}
	if err := e.applyAccumulatedInterests(collateralMarket); err != nil {
		return nil, err
	}
	if collateralDenom != debtDenom {
		if err := e.applyAccumulatedInterests(debtMarket); err != nil {
			return nil, err
		}
	} else {
		debtMarket = collateralMarket
	}

	collateral, err := e.state.GetCollateral(user, collateralDenom)
	if err != nil {
		return nil, err
	}
	if collateral == nil || !collateral.Enabled || collateral.AmountScaled.Sign() == 0 {
		return nil, errNoCollateral
	}
	debt, err := e.state.GetDebt(user, debtDenom)
	if err != nil {
		return nil, err
	}
	if debt == nil || debt.AmountScaled.Sign() == 0 {
		return nil, errNoDebt
	}
	if debt.Uncollateralized {
		return nil, errUncollateralizedDebt
	}

	healthFactor, err := e.LiquidationHealthFactor(user)
	if err != nil {
		return nil, err
	}
	if healthFactor == nil || healthFactor.Cmp(big.NewRat(1, 1)) >= 0 {
		return nil, errHealthyPosition
	}

	collateralParams, err := e.assetParams(collateralDenom)
	if err != nil {
		return nil, err
	}
	globals, err := e.params.Globals()
	if err != nil {
		return nil, err
	}
	closeFactor := big.NewRat(1, 2)
	if globals != nil && globals.CloseFactor != nil {
		closeFactor = globals.CloseFactor
	}
	bonus := new(big.Rat)
	if collateralParams.LiquidationBonus != nil {
		bonus.Set(collateralParams.LiquidationBonus)
	}

	priceDebt, err := e.oracle.Price(debtDenom, oracle.KindLiquidation)
	if err != nil {
		return nil, err
	}
	priceCollateral, err := e.oracle.Price(collateralDenom, oracle.KindLiquidation)
	if err != nil {
		return nil, err
	}

	owed := underlyingDebt(debt.AmountScaled, debtMarket.BorrowIndex)
	maxRepayable := mulRatTrunc(owed, closeFactor)
	repayAmount := new(big.Int).Set(sentAmount)
	if repayAmount.Cmp(maxRepayable) > 0 {
		repayAmount = maxRepayable
	}
	if repayAmount.Sign() == 0 {
		return nil, errInvalidAmount
	}

	onePlusBonus := new(big.Rat).Add(big.NewRat(1, 1), bonus)
	// Seized value is the repaid value grossed up by the bonus.
	seizeValue := new(big.Rat).Mul(new(big.Rat).SetInt(repayAmount), priceDebt)
	seizeValue.Mul(seizeValue, onePlusBonus)
	seizeAmount := ratTrunc(new(big.Rat).Quo(seizeValue, priceCollateral))

	userCollateral := underlyingLiquidity(collateral.AmountScaled, collateralMarket.LiquidityIndex)
	if seizeAmount.Cmp(userCollateral) > 0 {
		// The whole position is seized. Back-solve the repay that buys it:
		// strip the bonus first, then convert value to debt units, truncating
		// at each step so the liquidator is never overcharged.
		seizeAmount = userCollateral
		collateralValue := new(big.Rat).Mul(new(big.Rat).SetInt(userCollateral), priceCollateral)
		discounted := ratTrunc(new(big.Rat).Quo(collateralValue, onePlusBonus))
		repayAmount = divRatTrunc(discounted, priceDebt)
		if repayAmount.Sign() == 0 {
			return nil, errInvalidAmount
		}
	}

	refund := new(big.Int).Sub(sentAmount, repayAmount)

	// Settle debt.
	var repayScaled *big.Int
	if repayAmount.Cmp(owed) >= 0 {
		repayScaled = new(big.Int).Set(debt.AmountScaled)
	} else {
		repayScaled = scaledLiquidity(repayAmount, debtMarket.BorrowIndex)
		if repayScaled.Cmp(debt.AmountScaled) > 0 {
			repayScaled = new(big.Int).Set(debt.AmountScaled)
		}
	}
	if err := e.transfer(liquidator, e.moduleAddress, debtDenom, repayAmount); err != nil {
		return nil, err
	}
	debt.AmountScaled = new(big.Int).Sub(debt.AmountScaled, repayScaled)
	if debt.AmountScaled.Sign() == 0 {
		if err := e.state.DeleteDebt(user, debtDenom); err != nil {
			return nil, err
		}
	} else {
		if err := e.state.PutDebt(user, debtDenom, debt); err != nil {
			return nil, err
		}
	}
	debtMarket.DebtTotalScaled = new(big.Int).Sub(debtMarket.DebtTotalScaled, repayScaled)

	// Move collateral user -> liquidator in scaled units so it keeps earning
	// interest for the liquidator.
	var seizeScaled *big.Int
	if seizeAmount.Cmp(userCollateral) >= 0 {
		seizeScaled = new(big.Int).Set(collateral.AmountScaled)
	} else {
		seizeScaled = scaledLiquidity(seizeAmount, collateralMarket.LiquidityIndex)
		if seizeScaled.Cmp(collateral.AmountScaled) > 0 {
			seizeScaled = new(big.Int).Set(collateral.AmountScaled)
		}
	}
	collateral.AmountScaled = new(big.Int).Sub(collateral.AmountScaled, seizeScaled)
	if collateral.AmountScaled.Sign() == 0 {
		if err := e.state.DeleteCollateral(user, collateralDenom); err != nil {
			return nil, err
		}
	} else {
		if err := e.state.PutCollateral(user, collateralDenom, collateral); err != nil {
			return nil, err
		}
	}
	liquidatorCollateral, err := e.state.GetCollateral(liquidator, collateralDenom)
	if err != nil {
		return nil, err
	}
	if liquidatorCollateral == nil {
		liquidatorCollateral = &Collateral{AmountScaled: big.NewInt(0), Enabled: true}
	}
	liquidatorCollateral.AmountScaled = new(big.Int).Add(liquidatorCollateral.AmountScaled, seizeScaled)
	if err := e.state.PutCollateral(liquidator, collateralDenom, liquidatorCollateral); err != nil {
		return nil, err
	}

	e.updateInterestRates(debtMarket)
	if err := e.state.PutMarket(debtMarket); err != nil {
		return nil, err
	}
	if collateralDenom != debtDenom {
		e.updateInterestRates(collateralMarket)
		if err := e.state.PutMarket(collateralMarket); err != nil {
			return nil, err
		}
	}

	e.emitter.Emit(events.RedBankLiquidate{
		Liquidator:       liquidator,
		User:             user,
		CollateralDenom:  collateralDenom,
		DebtDenom:        debtDenom,
		DebtRepaid:       repayAmount,
		CollateralSeized: seizeAmount,
		Refund:           refund,
	})
	return &LiquidationResult{DebtRepaid: repayAmount, CollateralSeized: seizeAmount, Refund: refund}, nil
}
