package creditmanager

import (
	"math/big"

	"marsbank/core/types"
	"marsbank/native/params"
	"marsbank/native/redbank"
)

func (e *Engine) assetParams(denom string) (*params.AssetParams, error) {
	record, err := e.params.AssetParams(denom)
	if err != nil {
		return nil, err
	}
	if record == nil || !record.CreditManager.Whitelisted {
		return nil, errNotWhitelisted
	}
	return record, nil
}

// deposit moves wallet funds into the account. The deposit cap counts both
// the red bank pool and everything the credit manager already holds.
func (e *Engine) deposit(account *Account, action Deposit) error {
	if err := action.Coin.Validate(); err != nil {
		return err
	}
	if action.Coin.Amount.Sign() <= 0 {
		return errInvalidAmount
	}
	record, err := e.assetParams(action.Coin.Denom)
	if err != nil {
		return err
	}
	if record.DepositCap != nil {
		pooled, err := e.redBank.TotalDeposits(action.Coin.Denom)
		if err != nil {
			return err
		}
		held, err := e.state.GetBalance(e.moduleAddress, action.Coin.Denom)
		if err != nil {
			return err
		}
		if held == nil {
			held = big.NewInt(0)
		}
		total := new(big.Int).Add(pooled, held)
		total.Add(total, action.Coin.Amount)
		if total.Cmp(record.DepositCap) > 0 {
			return errDepositCap
		}
	}
	if err := e.transfer(account.Owner, e.moduleAddress, action.Coin.Denom, action.Coin.Amount); err != nil {
		return err
	}
	return e.addCoin(account.ID, action.Coin.Denom, action.Coin.Amount)
}

func (e *Engine) withdraw(account *Account, action Withdraw) error {
	if err := action.Coin.Validate(); err != nil {
		return err
	}
	if action.Coin.Amount.Sign() <= 0 {
		return errInvalidAmount
	}
	recipient := account.Owner
	if action.Recipient != nil {
		recipient = *action.Recipient
	}
	if err := e.subCoin(account.ID, action.Coin.Denom, action.Coin.Amount); err != nil {
		return err
	}
	return e.transfer(e.moduleAddress, recipient, action.Coin.Denom, action.Coin.Amount)
}

// borrow draws from the shared red bank debt pool and issues pro-rata shares.
func (e *Engine) borrow(account *Account, action Borrow) error {
	if err := action.Coin.Validate(); err != nil {
		return err
	}
	if action.Coin.Amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if _, err := e.assetParams(action.Coin.Denom); err != nil {
		return err
	}
	shares, err := e.sharesForBorrow(action.Coin.Denom, action.Coin.Amount)
	if err != nil {
		return err
	}
	if err := e.redBank.Borrow(e.moduleAddress, action.Coin.Denom, action.Coin.Amount, e.moduleAddress); err != nil {
		return err
	}
	if err := e.mintDebtShares(account.ID, action.Coin.Denom, shares); err != nil {
		return err
	}
	return e.addCoin(account.ID, action.Coin.Denom, action.Coin.Amount)
}

// repay burns debt shares against the current account's coin balance,
// optionally settling another account's debt.
func (e *Engine) repay(account *Account, action Repay) error {
	targetID := account.ID
	if action.RecipientAccountID != "" {
		target, err := e.state.GetAccount(action.RecipientAccountID)
		if err != nil {
			return err
		}
		if target == nil {
			return errAccountNotFound
		}
		targetID = target.ID
	}
	owed, shares, totalShares, cmDebt, err := e.accountDebt(targetID, action.Denom)
	if err != nil {
		return err
	}
	if shares.Sign() == 0 {
		return errNoDebt
	}

	repayAmount := owed
	if action.Amount != nil {
		if action.Amount.Sign() <= 0 {
			return errInvalidAmount
		}
		if action.Amount.Cmp(owed) < 0 {
			repayAmount = action.Amount
		}
	}
	balance, err := e.coinBalance(account.ID, action.Denom)
	if err != nil {
		return err
	}
	if balance.Cmp(repayAmount) < 0 {
		if action.Amount != nil {
			return errInsufficientFunds
		}
		// Best effort full repay: pay what the balance covers.
		repayAmount = balance
		if repayAmount.Sign() == 0 {
			return errInsufficientFunds
		}
	}

	if err := e.settleDebt(targetID, action.Denom, repayAmount, owed, shares, totalShares, cmDebt); err != nil {
		return err
	}
	return e.subCoin(account.ID, action.Denom, repayAmount)
}

// repayFromWallet settles an account's debt with coins taken directly from
// the caller's wallet.
func (e *Engine) repayFromWallet(account *Account, action RepayFromWallet) error {
	if err := action.Coin.Validate(); err != nil {
		return err
	}
	if action.Coin.Amount.Sign() <= 0 {
		return errInvalidAmount
	}
	targetID := action.AccountID
	if targetID == "" {
		targetID = account.ID
	}
	target, err := e.state.GetAccount(targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return errAccountNotFound
	}
	owed, shares, totalShares, cmDebt, err := e.accountDebt(targetID, action.Coin.Denom)
	if err != nil {
		return err
	}
	if shares.Sign() == 0 {
		return errNoDebt
	}
	repayAmount := new(big.Int).Set(action.Coin.Amount)
	if repayAmount.Cmp(owed) > 0 {
		repayAmount = owed
	}
	if err := e.transfer(account.Owner, e.moduleAddress, action.Coin.Denom, repayAmount); err != nil {
		return err
	}
	return e.settleDebt(targetID, action.Coin.Denom, repayAmount, owed, shares, totalShares, cmDebt)
}

// lend deposits account coins into the red bank, tracked per account in
// scaled units so accrued interest flows back pro rata.
func (e *Engine) lend(account *Account, action Lend) error {
	if err := action.Coin.Validate(); err != nil {
		return err
	}
	if action.Coin.Amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := e.subCoin(account.ID, action.Coin.Denom, action.Coin.Amount); err != nil {
		return err
	}
	if err := e.redBank.Deposit(e.moduleAddress, action.Coin.Denom, action.Coin.Amount); err != nil {
		return err
	}
	index, err := e.redBank.LiquidityIndex(action.Coin.Denom)
	if err != nil {
		return err
	}
	scaled := redbank.ScaleDeposit(action.Coin.Amount, index)
	existing, err := e.state.GetLend(account.ID, action.Coin.Denom)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = big.NewInt(0)
	}
	return e.state.SetLend(account.ID, action.Coin.Denom, new(big.Int).Add(existing, scaled))
}

// reclaim withdraws a lend back into the account's coin balance. A nil
// amount reclaims the whole position.
func (e *Engine) reclaim(account *Account, action Reclaim) error {
	scaled, err := e.state.GetLend(account.ID, action.Denom)
	if err != nil {
		return err
	}
	if scaled == nil || scaled.Sign() == 0 {
		return errNoLend
	}
	index, err := e.redBank.LiquidityIndex(action.Denom)
	if err != nil {
		return err
	}
	available := redbank.UnscaleDeposit(scaled, index)

	var amount, scaledDelta *big.Int
	if action.Amount == nil || action.Amount.Cmp(available) >= 0 {
		if action.Amount != nil && action.Amount.Cmp(available) > 0 {
			return errInsufficientFunds
		}
		amount = available
		scaledDelta = new(big.Int).Set(scaled)
	} else {
		if action.Amount.Sign() <= 0 {
			return errInvalidAmount
		}
		amount = new(big.Int).Set(action.Amount)
		scaledDelta = redbank.ScaleDebt(amount, index)
		if scaledDelta.Cmp(scaled) > 0 {
			scaledDelta = new(big.Int).Set(scaled)
		}
	}
	if _, err := e.redBank.Withdraw(e.moduleAddress, action.Denom, amount, e.moduleAddress); err != nil {
		return err
	}
	if err := e.state.SetLend(account.ID, action.Denom, new(big.Int).Sub(scaled, scaledDelta)); err != nil {
		return err
	}
	return e.addCoin(account.ID, action.Denom, amount)
}

// swapExactIn swaps account coins, holding every trade to the global
// slippage policy against the swapper's own pre-trade estimate.
func (e *Engine) swapExactIn(account *Account, action SwapExactIn) error {
	if e.swapper == nil {
		return errNotConfigured
	}
	amountIn := action.AmountIn
	if amountIn == nil {
		balance, err := e.coinBalance(account.ID, action.DenomIn)
		if err != nil {
			return err
		}
		amountIn = balance
	}
	if amountIn.Sign() <= 0 {
		return errInvalidAmount
	}
	if action.MinReceive == nil || action.MinReceive.Sign() < 0 {
		return errSlippageTooLoose
	}

	expected, err := e.swapper.EstimateExactIn(action.DenomIn, amountIn, action.DenomOut)
	if err != nil {
		return err
	}
	if action.MinReceive.Cmp(e.slippageFloor(expected)) < 0 {
		return errSlippageTooLoose
	}

	if err := e.subCoin(account.ID, action.DenomIn, amountIn); err != nil {
		return err
	}
	received, err := e.swapper.SwapExactIn(action.DenomIn, amountIn, action.DenomOut)
	if err != nil {
		return err
	}
	if received.Cmp(action.MinReceive) < 0 {
		return errSlippageExceeded
	}
	if err := e.settleExternalTrade(map[string]*big.Int{action.DenomIn: amountIn}, map[string]*big.Int{action.DenomOut: received}); err != nil {
		return err
	}
	return e.addCoin(account.ID, action.DenomOut, received)
}

func (e *Engine) provideLiquidity(account *Account, action ProvideLiquidity) error {
	if e.zapper == nil {
		return errNotConfigured
	}
	if len(action.CoinsIn) == 0 {
		return errInvalidAmount
	}
	coins := types.Coins{}
	for _, coin := range action.CoinsIn {
		if err := coin.Validate(); err != nil {
			return err
		}
		if coin.Amount.Sign() <= 0 {
			return errInvalidAmount
		}
		coins.Add(coin)
	}
	if action.MinReceive == nil || action.MinReceive.Sign() < 0 {
		return errSlippageTooLoose
	}
	expected, err := e.zapper.EstimateProvideLiquidity(coins, action.LpDenom)
	if err != nil {
		return err
	}
	if action.MinReceive.Cmp(e.slippageFloor(expected)) < 0 {
		return errSlippageTooLoose
	}

	for denom, amount := range coins {
		if err := e.subCoin(account.ID, denom, amount); err != nil {
			return err
		}
	}
	received, err := e.zapper.ProvideLiquidity(coins, action.LpDenom)
	if err != nil {
		return err
	}
	if received.Cmp(action.MinReceive) < 0 {
		return errSlippageExceeded
	}
	if err := e.settleExternalTrade(coins, map[string]*big.Int{action.LpDenom: received}); err != nil {
		return err
	}
	return e.addCoin(account.ID, action.LpDenom, received)
}

func (e *Engine) withdrawLiquidity(account *Account, action WithdrawLiquidity) error {
	if e.zapper == nil {
		return errNotConfigured
	}
	amount := action.Amount
	if amount == nil {
		balance, err := e.coinBalance(account.ID, action.LpDenom)
		if err != nil {
			return err
		}
		amount = balance
	}
	if amount.Sign() <= 0 {
		return errInvalidAmount
	}
	expected, err := e.zapper.EstimateWithdrawLiquidity(action.LpDenom, amount)
	if err != nil {
		return err
	}
	for denom, minOut := range action.MinReceives {
		if minOut.Cmp(e.slippageFloor(expected.AmountOf(denom))) < 0 {
			return errSlippageTooLoose
		}
	}

	if err := e.subCoin(account.ID, action.LpDenom, amount); err != nil {
		return err
	}
	received, err := e.zapper.WithdrawLiquidity(action.LpDenom, amount)
	if err != nil {
		return err
	}
	for denom, minOut := range action.MinReceives {
		if received.AmountOf(denom).Cmp(minOut) < 0 {
			return errSlippageExceeded
		}
	}
	if err := e.settleExternalTrade(map[string]*big.Int{action.LpDenom: amount}, received); err != nil {
		return err
	}
	for denom, out := range received {
		if err := e.addCoin(account.ID, denom, out); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) stakeLp(account *Account, action StakeAstroLp) error {
	amount := action.Amount
	if amount == nil {
		balance, err := e.coinBalance(account.ID, action.LpDenom)
		if err != nil {
			return err
		}
		amount = balance
	}
	if amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := e.subCoin(account.ID, action.LpDenom, amount); err != nil {
		return err
	}
	position, err := e.state.GetLpPosition(account.ID, action.LpDenom)
	if err != nil {
		return err
	}
	if position == nil {
		position = &LpPosition{Denom: action.LpDenom, Staked: big.NewInt(0)}
	}
	position.Staked = new(big.Int).Add(position.Staked, amount)
	return e.state.SetLpPosition(account.ID, position)
}

func (e *Engine) unstakeLp(account *Account, action UnstakeAstroLp) error {
	position, err := e.state.GetLpPosition(account.ID, action.LpDenom)
	if err != nil {
		return err
	}
	if position == nil || position.Staked.Sign() == 0 {
		return errNoLend
	}
	amount := action.Amount
	if amount == nil {
		amount = position.Staked
	}
	if amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if amount.Cmp(position.Staked) > 0 {
		return errInsufficientFunds
	}
	position.Staked = new(big.Int).Sub(position.Staked, amount)
	if err := e.state.SetLpPosition(account.ID, position); err != nil {
		return err
	}
	return e.addCoin(account.ID, action.LpDenom, amount)
}

func (e *Engine) claimLpRewards(account *Account, action ClaimAstroLpRewards) error {
	if e.incentives == nil {
		return errNotConfigured
	}
	rewards, err := e.incentives.Claim(account.ID, action.LpDenom)
	if err != nil {
		return err
	}
	for denom, amount := range rewards {
		if amount.Sign() <= 0 {
			continue
		}
		// Rewards arrive from outside: credit the treasury and the account.
		held, err := e.state.GetBalance(e.moduleAddress, denom)
		if err != nil {
			return err
		}
		if held == nil {
			held = big.NewInt(0)
		}
		if err := e.state.SetBalance(e.moduleAddress, denom, new(big.Int).Add(held, amount)); err != nil {
			return err
		}
		if err := e.addCoin(account.ID, denom, amount); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) refundAll(account *Account) error {
	coins, err := e.state.CoinBalances(account.ID)
	if err != nil {
		return err
	}
	for _, coin := range coins.Sorted() {
		if err := e.subCoin(account.ID, coin.Denom, coin.Amount); err != nil {
			return err
		}
		if err := e.transfer(e.moduleAddress, account.Owner, coin.Denom, coin.Amount); err != nil {
			return err
		}
	}
	return nil
}

// slippageFloor is expected scaled down by the global max slippage.
func (e *Engine) slippageFloor(expected *big.Int) *big.Int {
	if expected == nil || expected.Sign() <= 0 {
		return big.NewInt(0)
	}
	keep := new(big.Rat).Sub(big.NewRat(1, 1), e.maxSlippage)
	if keep.Sign() <= 0 {
		return big.NewInt(0)
	}
	floor := new(big.Rat).Mul(new(big.Rat).SetInt(expected), keep)
	return new(big.Int).Quo(floor.Num(), floor.Denom())
}

// settleExternalTrade mirrors an external contract's coin movements onto the
// treasury balance: inputs leave, outputs arrive.
func (e *Engine) settleExternalTrade(outgoing, incoming map[string]*big.Int) error {
	for denom, amount := range outgoing {
		held, err := e.state.GetBalance(e.moduleAddress, denom)
		if err != nil {
			return err
		}
		if held == nil || held.Cmp(amount) < 0 {
			return errInsufficientFunds
		}
		if err := e.state.SetBalance(e.moduleAddress, denom, new(big.Int).Sub(held, amount)); err != nil {
			return err
		}
	}
	for denom, amount := range incoming {
		held, err := e.state.GetBalance(e.moduleAddress, denom)
		if err != nil {
			return err
		}
		if held == nil {
			held = big.NewInt(0)
		}
		if err := e.state.SetBalance(e.moduleAddress, denom, new(big.Int).Add(held, amount)); err != nil {
			return err
		}
	}
	return nil
}
