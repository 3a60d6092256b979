package creditmanager

import (
	"math/big"

	"marsbank/crypto"
	"marsbank/native/redbank"
)

// Account returns the stored account, or nil when absent.
func (e *Engine) Account(id string) (*Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.state.GetAccount(id)
	if err != nil || account == nil {
		return nil, err
	}
	return account.Clone(), nil
}

// AccountsByOwner lists the account ids minted to one owner.
func (e *Engine) AccountsByOwner(owner crypto.Address) ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.AccountsByOwner(owner)
}

// Positions snapshots everything the account holds and owes.
func (e *Engine) Positions(id string) (*PositionsSnapshot, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	account, err := e.state.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, errAccountNotFound
	}

	snapshot := &PositionsSnapshot{Account: *account}
	if snapshot.Coins, err = e.state.CoinBalances(id); err != nil {
		return nil, err
	}
	if snapshot.DebtShares, err = e.state.DebtShares(id); err != nil {
		return nil, err
	}
	if snapshot.Debts, err = e.accountDebts(id); err != nil {
		return nil, err
	}

	lends, err := e.state.Lends(id)
	if err != nil {
		return nil, err
	}
	snapshot.Lends = make(map[string]*big.Int, len(lends))
	for denom, scaled := range lends {
		amount, err := e.lendUnderlying(denom, scaled)
		if err != nil {
			return nil, err
		}
		snapshot.Lends[denom] = amount
	}

	if snapshot.Vaults, err = e.state.VaultPositions(id); err != nil {
		return nil, err
	}
	if snapshot.Lps, err = e.state.LpPositions(id); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// TotalDebtShares returns the pool-wide share supply for one denom.
func (e *Engine) TotalDebtShares(denom string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	total, err := e.state.GetTotalDebtShares(denom)
	if err != nil {
		return nil, err
	}
	if total == nil {
		return big.NewInt(0), nil
	}
	return total, nil
}

// VaultUtilization returns the base-token value of all shares the credit
// manager holds in one vault.
func (e *Engine) VaultUtilization(addr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.vaults == nil {
		return nil, errNotConfigured
	}
	total, err := e.state.GetVaultTotalShares(addr)
	if err != nil {
		return nil, err
	}
	if total == nil || total.Sign() == 0 {
		return big.NewInt(0), nil
	}
	vault, err := e.vaults.Vault(addr)
	if err != nil {
		return nil, err
	}
	return vault.PreviewRedeem(total)
}

func (e *Engine) lendUnderlying(denom string, scaled *big.Int) (*big.Int, error) {
	if scaled == nil || scaled.Sign() == 0 {
		return big.NewInt(0), nil
	}
	index, err := e.redBank.LiquidityIndex(denom)
	if err != nil {
		return nil, err
	}
	return redbank.UnscaleDeposit(scaled, index), nil
}
