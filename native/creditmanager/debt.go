package creditmanager

import "math/big"

// The credit manager carries one aggregate borrow per denom in the red bank;
// accounts own pro-rata shares of it. Share issuance truncates and repayment
// valuation rounds the owed amount up, so the pool can never owe the red bank
// more than its accounts owe the pool.

// sharesForBorrow prices a new borrow in shares against the pool state before
// the borrow executes. The first borrow bootstraps shares one-to-one.
func (e *Engine) sharesForBorrow(denom string, amount *big.Int) (*big.Int, error) {
	totalShares, err := e.state.GetTotalDebtShares(denom)
	if err != nil {
		return nil, err
	}
	if totalShares == nil || totalShares.Sign() == 0 {
		return new(big.Int).Set(amount), nil
	}
	cmDebt, err := e.redBank.DebtAmount(e.moduleAddress, denom)
	if err != nil {
		return nil, err
	}
	if cmDebt.Sign() == 0 {
		return new(big.Int).Set(amount), nil
	}
	shares := new(big.Int).Mul(amount, totalShares)
	return shares.Quo(shares, cmDebt), nil
}

func (e *Engine) mintDebtShares(accountID, denom string, shares *big.Int) error {
	existing, err := e.state.GetDebtShares(accountID, denom)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = big.NewInt(0)
	}
	if err := e.state.SetDebtShares(accountID, denom, new(big.Int).Add(existing, shares)); err != nil {
		return err
	}
	total, err := e.state.GetTotalDebtShares(denom)
	if err != nil {
		return err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	return e.state.SetTotalDebtShares(denom, new(big.Int).Add(total, shares))
}

// accountDebt resolves an account's owed underlying for one denom together
// with the pool state it was derived from. The owed amount rounds up.
func (e *Engine) accountDebt(accountID, denom string) (owed, shares, totalShares, cmDebt *big.Int, err error) {
	shares, err = e.state.GetDebtShares(accountID, denom)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if shares == nil {
		shares = big.NewInt(0)
	}
	totalShares, err = e.state.GetTotalDebtShares(denom)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if totalShares == nil {
		totalShares = big.NewInt(0)
	}
	cmDebt, err = e.redBank.DebtAmount(e.moduleAddress, denom)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	owed = sharesToAmount(shares, totalShares, cmDebt)
	return owed, shares, totalShares, cmDebt, nil
}

// accountDebts lists every denom the account owes, in underlying units.
func (e *Engine) accountDebts(accountID string) (map[string]*big.Int, error) {
	allShares, err := e.state.DebtShares(accountID)
	if err != nil {
		return nil, err
	}
	debts := make(map[string]*big.Int, len(allShares))
	for denom, shares := range allShares {
		if shares == nil || shares.Sign() == 0 {
			continue
		}
		totalShares, err := e.state.GetTotalDebtShares(denom)
		if err != nil {
			return nil, err
		}
		cmDebt, err := e.redBank.DebtAmount(e.moduleAddress, denom)
		if err != nil {
			return nil, err
		}
		debts[denom] = sharesToAmount(shares, totalShares, cmDebt)
	}
	return debts, nil
}

// settleDebt pushes a repayment into the red bank and burns the matching
// share amount from the target account.
func (e *Engine) settleDebt(accountID, denom string, repayAmount, owed, shares, totalShares, cmDebt *big.Int) error {
	refund, err := e.redBank.Repay(e.moduleAddress, denom, repayAmount)
	if err != nil {
		return err
	}
	if refund != nil && refund.Sign() > 0 {
		// The pool owed less than the share math implied; the difference
		// stays with the treasury and the shares burn in full.
		repayAmount = new(big.Int).Sub(repayAmount, refund)
	}

	var burn *big.Int
	if repayAmount.Cmp(owed) >= 0 {
		burn = new(big.Int).Set(shares)
	} else {
		burn = new(big.Int).Mul(repayAmount, totalShares)
		burn.Quo(burn, cmDebt)
		if burn.Cmp(shares) > 0 {
			burn = new(big.Int).Set(shares)
		}
	}
	if err := e.state.SetDebtShares(accountID, denom, new(big.Int).Sub(shares, burn)); err != nil {
		return err
	}
	return e.state.SetTotalDebtShares(denom, new(big.Int).Sub(totalShares, burn))
}

// sharesToAmount converts shares to underlying owed, rounding up so accounts
// can never repay less than the pool owes on their behalf.
func sharesToAmount(shares, totalShares, cmDebt *big.Int) *big.Int {
	if shares == nil || shares.Sign() == 0 || totalShares == nil || totalShares.Sign() == 0 || cmDebt == nil || cmDebt.Sign() == 0 {
		return big.NewInt(0)
	}
	if shares.Cmp(totalShares) >= 0 {
		return new(big.Int).Set(cmDebt)
	}
	num := new(big.Int).Mul(shares, cmDebt)
	quo, rem := new(big.Int).QuoRem(num, totalShares, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}
