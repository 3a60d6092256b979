// Package redbank implements the pooled money market: scaled-amount interest
// accounting, borrowing against priced collateral, and partial liquidations.
package redbank

import (
	"errors"
	"math/big"
	"strings"

	"marsbank/core/events"
	"marsbank/crypto"
	nativecommon "marsbank/native/common"
	"marsbank/native/oracle"
	"marsbank/native/params"
)

var (
	errNilState          = errors.New("red bank: state not configured")
	errNotOwner          = errors.New("red bank: caller is not the owner")
	errInvalidAmount     = errors.New("red bank: amount must be positive")
	errMarketNotFound    = errors.New("red bank: no market for denom")
	errMarketExists      = errors.New("red bank: market already initialised")
	errMarketInactive    = errors.New("red bank: market inactive")
	errDepositDisabled   = errors.New("red bank: deposit disabled for asset")
	errBorrowDisabled    = errors.New("red bank: borrow disabled for asset")
	errDepositCap        = errors.New("red bank: deposit cap exceeded")
	errNoParams          = errors.New("red bank: no risk params for denom")
	errInsufficientFunds = errors.New("red bank: insufficient balance")
	errNotEnoughLiquidity = errors.New("red bank: not enough market liquidity")
	errNoCollateral      = errors.New("red bank: no collateral position")
	errNoDebt            = errors.New("red bank: no debt position")

	errBorrowExceedsCollateral  = errors.New("red bank: BorrowAmountExceedsGivenCollateral")
	errUnhealthyAfterWithdraw   = errors.New("red bank: InvalidHealthFactorAfterWithdraw")
	errUnhealthyAfterDisabling  = errors.New("red bank: InvalidHealthFactorAfterDisablingCollateral")
	errHealthyPosition          = errors.New("red bank: CannotLiquidateHealthyPosition")
	errUncollateralizedDebt     = errors.New("red bank: cannot liquidate uncollateralized debt")
	errCreditLineExceeded       = errors.New("red bank: uncollateralized loan limit exceeded")
)

const moduleName = "redbank"

// Engine orchestrates the money-market state transitions.
type Engine struct {
	state            engineState
	moduleAddress    crypto.Address
	owner            crypto.Address
	rewardsCollector crypto.Address
	params           params.View
	oracle           oracle.Source
	emitter          events.Emitter
	pauses           nativecommon.PauseView
	timestamp        uint64
}

// NewEngine constructs a red bank engine bound to the module treasury address.
func NewEngine(moduleAddr, owner, rewardsCollector crypto.Address) *Engine {
	return &Engine{
		moduleAddress:    moduleAddr,
		owner:            owner,
		rewardsCollector: rewardsCollector,
		emitter:          events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetParams wires the risk parameter view.
func (e *Engine) SetParams(view params.View) {
	if e == nil {
		return
	}
	e.params = view
}

// SetOracle wires the price source.
func (e *Engine) SetOracle(source oracle.Source) {
	if e == nil {
		return
	}
	e.oracle = source
}

// SetEmitter wires the event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetTimestamp records the block time (unix seconds) used for accrual deltas.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.timestamp = ts
}

// ModuleAddress returns the treasury address holding pooled liquidity.
func (e *Engine) ModuleAddress() crypto.Address {
	return e.moduleAddress
}

// InitMarket creates the money market for denom. Owner only.
func (e *Engine) InitMarket(caller crypto.Address, denom string, model InterestRateModel, reserveFactor *big.Rat) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !caller.Equal(e.owner) {
		return errNotOwner
	}
	if strings.TrimSpace(denom) == "" {
		return errMarketNotFound
	}
	existing, err := e.state.GetMarket(denom)
	if err != nil {
		return err
	}
	if existing != nil {
		return errMarketExists
	}
	market := &Market{
		Denom:                 denom,
		LiquidityIndex:        new(big.Int).Set(ray),
		BorrowIndex:           new(big.Int).Set(ray),
		LiquidityRate:         new(big.Rat),
		BorrowRate:            model.BorrowRate(new(big.Rat)),
		CollateralTotalScaled: big.NewInt(0),
		DebtTotalScaled:       big.NewInt(0),
		ReserveFactor:         cloneRat(reserveFactor),
		InterestRateModel:     model.Clone(),
		IndexesLastUpdated:    e.timestamp,
		Active:                true,
	}
	return e.state.PutMarket(market)
}

// UpdateMarket swaps the rate model, reserve factor or active flag. Owner
// only. Interest accrues under the old parameters first.
func (e *Engine) UpdateMarket(caller crypto.Address, denom string, model *InterestRateModel, reserveFactor *big.Rat, active *bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !caller.Equal(e.owner) {
		return errNotOwner
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return err
	}
	if err := e.applyAccumulatedInterests(market); err != nil {
		return err
	}
	if model != nil {
		market.InterestRateModel = model.Clone()
	}
	if reserveFactor != nil {
		market.ReserveFactor = new(big.Rat).Set(reserveFactor)
	}
	if active != nil {
		market.Active = *active
	}
	e.updateInterestRates(market)
	return e.state.PutMarket(market)
}

// Deposit scales the amount at the current liquidity index and credits the
// user's collateral position.
func (e *Engine) Deposit(user crypto.Address, denom string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return err
	}
	if !market.Active {
		return errMarketInactive
	}
	assetParams, err := e.assetParams(denom)
	if err != nil {
		return err
	}
	if !assetParams.RedBank.DepositEnabled {
		return errDepositDisabled
	}
	if err := e.applyAccumulatedInterests(market); err != nil {
		return err
	}
	if assetParams.DepositCap != nil {
		total := underlyingLiquidity(market.CollateralTotalScaled, market.LiquidityIndex)
		total.Add(total, amount)
		if total.Cmp(assetParams.DepositCap) > 0 {
			return errDepositCap
		}
	}

	amountScaled := scaledLiquidity(amount, market.LiquidityIndex)
	if amountScaled.Sign() == 0 {
		return errInvalidAmount
	}

	if err := e.transfer(user, e.moduleAddress, denom, amount); err != nil {
		return err
	}

	collateral, err := e.state.GetCollateral(user, denom)
	if err != nil {
		return err
	}
	if collateral == nil {
		collateral = &Collateral{AmountScaled: big.NewInt(0), Enabled: true}
	}
	collateral.AmountScaled = new(big.Int).Add(collateral.AmountScaled, amountScaled)
	if err := e.state.PutCollateral(user, denom, collateral); err != nil {
		return err
	}

	market.CollateralTotalScaled = new(big.Int).Add(market.CollateralTotalScaled, amountScaled)
	e.updateInterestRates(market)
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emitter.Emit(events.RedBankDeposit{User: user, Denom: denom, Amount: amount, AmountScaled: amountScaled})
	return nil
}

// Withdraw converts scaled collateral back to underlying and releases it to
// the recipient. A nil amount withdraws the full position. When the user also
// has debt the post-withdrawal health factor must stay at or above one.
func (e *Engine) Withdraw(user crypto.Address, denom string, amount *big.Int, recipient crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount != nil && amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return nil, err
	}
	if !market.Active {
		return nil, errMarketInactive
	}
	if err := e.applyAccumulatedInterests(market); err != nil {
		return nil, err
	}

	collateral, err := e.state.GetCollateral(user, denom)
	if err != nil {
		return nil, err
	}
	if collateral == nil || collateral.AmountScaled.Sign() == 0 {
		return nil, errNoCollateral
	}

	available := underlyingLiquidity(collateral.AmountScaled, market.LiquidityIndex)
	var withdrawAmount *big.Int
	var withdrawScaled *big.Int
	if amount == nil || amount.Cmp(available) >= 0 {
		if amount != nil && amount.Cmp(available) > 0 {
			return nil, errInsufficientFunds
		}
		withdrawAmount = available
		withdrawScaled = new(big.Int).Set(collateral.AmountScaled)
	} else {
		withdrawAmount = new(big.Int).Set(amount)
		// Scale up so the position shrinks by at least the paid-out value.
		withdrawScaled = scaledDebt(withdrawAmount, market.LiquidityIndex)
		if withdrawScaled.Cmp(collateral.AmountScaled) > 0 {
			withdrawScaled = new(big.Int).Set(collateral.AmountScaled)
		}
	}

	hasDebt, err := e.userHasDebt(user)
	if err != nil {
		return nil, err
	}
	if hasDebt && collateral.Enabled {
		healthy, err := e.healthyAfterCollateralChange(user, denom, new(big.Int).Sub(collateral.AmountScaled, withdrawScaled), market)
		if err != nil {
			return nil, err
		}
		if !healthy {
			return nil, errUnhealthyAfterWithdraw
		}
	}

	collateral.AmountScaled = new(big.Int).Sub(collateral.AmountScaled, withdrawScaled)
	if collateral.AmountScaled.Sign() == 0 {
		if err := e.state.DeleteCollateral(user, denom); err != nil {
			return nil, err
		}
	} else {
		if err := e.state.PutCollateral(user, denom, collateral); err != nil {
			return nil, err
		}
	}

	market.CollateralTotalScaled = new(big.Int).Sub(market.CollateralTotalScaled, withdrawScaled)
	if err := e.transfer(e.moduleAddress, recipient, denom, withdrawAmount); err != nil {
		return nil, err
	}
	e.updateInterestRates(market)
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.RedBankWithdraw{User: user, Recipient: recipient, Denom: denom, Amount: withdrawAmount, AmountScaled: withdrawScaled})
	return withdrawAmount, nil
}

// Borrow draws underlying from the pool against the user's priced collateral,
// or against a configured credit line when one exists.
func (e *Engine) Borrow(user crypto.Address, denom string, amount *big.Int, recipient crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return err
	}
	if !market.Active {
		return errMarketInactive
	}
	assetParams, err := e.assetParams(denom)
	if err != nil {
		return err
	}
	if !assetParams.RedBank.BorrowEnabled {
		return errBorrowDisabled
	}
	if err := e.applyAccumulatedInterests(market); err != nil {
		return err
	}

	liquidity := e.availableLiquidity(market)
	if liquidity.Cmp(amount) < 0 {
		return errNotEnoughLiquidity
	}

	limit, err := e.state.GetLoanLimit(user, denom)
	if err != nil {
		return err
	}
	uncollateralized := limit != nil && limit.Sign() > 0

	debt, err := e.state.GetDebt(user, denom)
	if err != nil {
		return err
	}
	if debt == nil {
		debt = &Debt{AmountScaled: big.NewInt(0), Uncollateralized: uncollateralized}
	}

	if uncollateralized {
		owed := underlyingDebt(debt.AmountScaled, market.BorrowIndex)
		owed.Add(owed, amount)
		if owed.Cmp(limit) > 0 {
			return errCreditLineExceeded
		}
	} else {
		position, err := e.userPositionValues(user, oracle.KindDefault)
		if err != nil {
			return err
		}
		price, err := e.oracle.Price(denom, oracle.KindDefault)
		if err != nil {
			return err
		}
		borrowValue := new(big.Rat).Mul(new(big.Rat).SetInt(amount), price)
		debtAfter := new(big.Rat).Add(position.totalDebt, borrowValue)
		if debtAfter.Cmp(position.maxLTVAdjusted) > 0 {
			return errBorrowExceedsCollateral
		}
	}

	amountScaled := scaledDebt(amount, market.BorrowIndex)
	debt.AmountScaled = new(big.Int).Add(debt.AmountScaled, amountScaled)
	if err := e.state.PutDebt(user, denom, debt); err != nil {
		return err
	}

	market.DebtTotalScaled = new(big.Int).Add(market.DebtTotalScaled, amountScaled)
	if err := e.transfer(e.moduleAddress, recipient, denom, amount); err != nil {
		return err
	}
	e.updateInterestRates(market)
	if err := e.state.PutMarket(market); err != nil {
		return err
	}

	e.emitter.Emit(events.RedBankBorrow{User: user, Recipient: recipient, Denom: denom, Amount: amount, AmountScaled: amountScaled})
	return nil
}

// Repay burns debt against transferred funds. Overpayment beyond the
// outstanding amount is left with the payer and reported as a refund.
func (e *Engine) Repay(user crypto.Address, denom string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return nil, err
	}
	if err := e.applyAccumulatedInterests(market); err != nil {
		return nil, err
	}

	debt, err := e.state.GetDebt(user, denom)
	if err != nil {
		return nil, err
	}
	if debt == nil || debt.AmountScaled.Sign() == 0 {
		return nil, errNoDebt
	}

	owed := underlyingDebt(debt.AmountScaled, market.BorrowIndex)
	repayAmount := new(big.Int).Set(amount)
	refund := big.NewInt(0)
	if repayAmount.Cmp(owed) > 0 {
		refund = new(big.Int).Sub(repayAmount, owed)
		repayAmount = owed
	}

	var repayScaled *big.Int
	if repayAmount.Cmp(owed) == 0 {
		repayScaled = new(big.Int).Set(debt.AmountScaled)
	} else {
		// Truncate so a partial repay can never burn more scaled debt
		// than was paid for.
		repayScaled = scaledLiquidity(repayAmount, market.BorrowIndex)
		if repayScaled.Cmp(debt.AmountScaled) > 0 {
			repayScaled = new(big.Int).Set(debt.AmountScaled)
		}
	}

	if err := e.transfer(user, e.moduleAddress, denom, repayAmount); err != nil {
		return nil, err
	}

	debt.AmountScaled = new(big.Int).Sub(debt.AmountScaled, repayScaled)
	if debt.AmountScaled.Sign() == 0 {
		if err := e.state.DeleteDebt(user, denom); err != nil {
			return nil, err
		}
	} else {
		if err := e.state.PutDebt(user, denom, debt); err != nil {
			return nil, err
		}
	}

	market.DebtTotalScaled = new(big.Int).Sub(market.DebtTotalScaled, repayScaled)
	e.updateInterestRates(market)
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.RedBankRepay{User: user, Denom: denom, Amount: repayAmount, AmountScaled: repayScaled, Refund: refund})
	return refund, nil
}

// UpdateCollateralStatus toggles whether a collateral position contributes to
// borrowing power. Disabling re-checks health when the user carries debt.
func (e *Engine) UpdateCollateralStatus(user crypto.Address, denom string, enable bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	market, err := e.ensureMarket(denom)
	if err != nil {
		return err
	}
	collateral, err := e.state.GetCollateral(user, denom)
	if err != nil {
		return err
	}
	if collateral == nil || collateral.AmountScaled.Sign() == 0 {
		return errNoCollateral
	}
	if collateral.Enabled == enable {
		return nil
	}
	if !enable {
		if err := e.applyAccumulatedInterests(market); err != nil {
			return err
		}
		hasDebt, err := e.userHasDebt(user)
		if err != nil {
			return err
		}
		if hasDebt {
			healthy, err := e.healthyAfterCollateralChange(user, denom, big.NewInt(0), market)
			if err != nil {
				return err
			}
			if !healthy {
				return errUnhealthyAfterDisabling
			}
		}
		if err := e.state.PutMarket(market); err != nil {
			return err
		}
	}
	collateral.Enabled = enable
	if err := e.state.PutCollateral(user, denom, collateral); err != nil {
		return err
	}
	e.emitter.Emit(events.RedBankCollateralToggled{User: user, Denom: denom, Enabled: enable})
	return nil
}

// SetUncollateralizedLoanLimit grants or revokes a credit line. Owner only.
func (e *Engine) SetUncollateralizedLoanLimit(caller, user crypto.Address, denom string, limit *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !caller.Equal(e.owner) {
		return errNotOwner
	}
	if limit == nil || limit.Sign() < 0 {
		return errInvalidAmount
	}
	if _, err := e.ensureMarket(denom); err != nil {
		return err
	}
	return e.state.PutLoanLimit(user, denom, limit)
}

// --- internal helpers ---

func (e *Engine) ensureMarket(denom string) (*Market, error) {
	market, err := e.state.GetMarket(denom)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, errMarketNotFound
	}
	if market.LiquidityIndex == nil || market.LiquidityIndex.Sign() == 0 {
		market.LiquidityIndex = new(big.Int).Set(ray)
	}
	if market.BorrowIndex == nil || market.BorrowIndex.Sign() == 0 {
		market.BorrowIndex = new(big.Int).Set(ray)
	}
	if market.CollateralTotalScaled == nil {
		market.CollateralTotalScaled = big.NewInt(0)
	}
	if market.DebtTotalScaled == nil {
		market.DebtTotalScaled = big.NewInt(0)
	}
	if market.ReserveFactor == nil {
		market.ReserveFactor = new(big.Rat)
	}
	return market, nil
}

func (e *Engine) assetParams(denom string) (*params.AssetParams, error) {
	if e.params == nil {
		return nil, errNoParams
	}
	assetParams, err := e.params.AssetParams(denom)
	if err != nil {
		return nil, err
	}
	if assetParams == nil {
		return nil, errNoParams
	}
	return assetParams, nil
}

// applyAccumulatedInterests advances both indices to the current timestamp
// and mints the reserve-factor share of borrow interest to the rewards
// collector at the pre-accrual liquidity index.
func (e *Engine) applyAccumulatedInterests(market *Market) error {
	if market == nil {
		return errMarketNotFound
	}
	if e.timestamp <= market.IndexesLastUpdated {
		return nil
	}
	delta := e.timestamp - market.IndexesLastUpdated

	previousLiquidityIndex := new(big.Int).Set(market.LiquidityIndex)
	previousBorrowIndex := new(big.Int).Set(market.BorrowIndex)

	if market.LiquidityRate != nil && market.LiquidityRate.Sign() > 0 {
		market.LiquidityIndex = rayMul(previousLiquidityIndex, linearFactor(market.LiquidityRate, delta))
		if market.LiquidityIndex.Cmp(previousLiquidityIndex) < 0 {
			market.LiquidityIndex = previousLiquidityIndex
		}
	}
	if market.BorrowRate != nil && market.BorrowRate.Sign() > 0 {
		market.BorrowIndex = rayMul(previousBorrowIndex, compoundFactor(market.BorrowRate, delta))
		if market.BorrowIndex.Cmp(previousBorrowIndex) < 0 {
			market.BorrowIndex = previousBorrowIndex
		}
	}
	market.IndexesLastUpdated = e.timestamp

	// Protocol reward: the reserve-factor slice of the borrow interest that
	// accrued in this window, credited as scaled collateral at the index
	// before accrual so it dilutes depositors correctly.
	if market.ReserveFactor != nil && market.ReserveFactor.Sign() > 0 && market.DebtTotalScaled.Sign() > 0 {
		previousDebt := underlyingDebt(market.DebtTotalScaled, previousBorrowIndex)
		currentDebt := underlyingDebt(market.DebtTotalScaled, market.BorrowIndex)
		accrued := new(big.Int).Sub(currentDebt, previousDebt)
		if accrued.Sign() > 0 {
			reward := mulRatTrunc(accrued, market.ReserveFactor)
			if reward.Sign() > 0 {
				rewardScaled := scaledLiquidity(reward, previousLiquidityIndex)
				if rewardScaled.Sign() > 0 {
					collateral, err := e.state.GetCollateral(e.rewardsCollector, market.Denom)
					if err != nil {
						return err
					}
					if collateral == nil {
						collateral = &Collateral{AmountScaled: big.NewInt(0), Enabled: false}
					}
					collateral.AmountScaled = new(big.Int).Add(collateral.AmountScaled, rewardScaled)
					if err := e.state.PutCollateral(e.rewardsCollector, market.Denom, collateral); err != nil {
						return err
					}
					market.CollateralTotalScaled = new(big.Int).Add(market.CollateralTotalScaled, rewardScaled)
				}
			}
		}
	}

	e.emitter.Emit(events.RedBankInterestsUpdated{
		Denom:          market.Denom,
		LiquidityIndex: market.LiquidityIndex,
		BorrowIndex:    market.BorrowIndex,
		LiquidityRate:  market.LiquidityRate,
		BorrowRate:     market.BorrowRate,
	})
	return nil
}

// updateInterestRates recomputes both instantaneous rates from the
// post-change utilization.
func (e *Engine) updateInterestRates(market *Market) {
	utilization := market.Utilization()
	market.BorrowRate = market.InterestRateModel.BorrowRate(utilization)
	market.LiquidityRate = LiquidityRate(market.BorrowRate, utilization, market.ReserveFactor)
}

func (e *Engine) availableLiquidity(market *Market) *big.Int {
	liquidity := underlyingLiquidity(market.CollateralTotalScaled, market.LiquidityIndex)
	debt := underlyingDebt(market.DebtTotalScaled, market.BorrowIndex)
	liquidity.Sub(liquidity, debt)
	if liquidity.Sign() < 0 {
		return big.NewInt(0)
	}
	return liquidity
}

func (e *Engine) transfer(from, to crypto.Address, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := e.state.GetBalance(from, denom)
	if err != nil {
		return err
	}
	if fromBalance == nil || fromBalance.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	toBalance, err := e.state.GetBalance(to, denom)
	if err != nil {
		return err
	}
	if toBalance == nil {
		toBalance = big.NewInt(0)
	}
	if err := e.state.SetBalance(from, denom, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return e.state.SetBalance(to, denom, new(big.Int).Add(toBalance, amount))
}
