// Package health values credit account positions and derives the health
// factors that gate borrowing and trigger liquidation.
package health

import (
	"math/big"

	"marsbank/crypto"
)

// AccountKind selects which risk parameter set applies to an account.
type AccountKind string

const (
	// AccountKindDefault uses the per-asset risk parameters as configured.
	AccountKindDefault AccountKind = "default"
	// AccountKindHLS restricts the account to one debt denom plus
	// correlated collateral and applies the tighter HLS parameter
	// overrides.
	AccountKindHLS AccountKind = "high_levered_strategy"
	// AccountKindFundManager marks vault-manager accounts; they are valued
	// like default accounts.
	AccountKindFundManager AccountKind = "fund_manager"
)

// CollateralPosition is a spot holding that counts towards collateral:
// either a deposit held by the credit account or a money-market lend.
type CollateralPosition struct {
	Denom  string
	Amount *big.Int
}

// DebtPosition is an outstanding borrow in underlying units.
type DebtPosition struct {
	Denom  string
	Amount *big.Int
}

// UnlockingTranche is a scheduled vault withdrawal. It is valued at the base
// token amount recorded when the unlock was requested, not at current share
// price.
type UnlockingTranche struct {
	ID         uint64
	Denom      string
	BaseAmount *big.Int
	ReleaseAt  uint64
}

// VaultPosition is an account's stake in one external vault.
type VaultPosition struct {
	Addr           crypto.Address
	LockedShares   *big.Int
	UnlockedShares *big.Int
	Unlocking      []UnlockingTranche
}

// Positions is the full valuation input for one account.
type Positions struct {
	Deposits []CollateralPosition
	Lends    []CollateralPosition
	Debts    []DebtPosition
	Vaults   []VaultPosition
}

// Values is the priced aggregate of an account's positions. Health factors
// are nil when the account carries no debt, which reads as unconditionally
// healthy.
type Values struct {
	TotalCollateral      *big.Rat
	TotalDebt            *big.Rat
	MaxLTVAdjusted       *big.Rat
	LiqThresholdAdjusted *big.Rat

	MaxLTVHealthFactor      *big.Rat
	LiquidationHealthFactor *big.Rat
}

// AboveMaxLTV reports whether the account has exhausted its borrowing power.
func (v *Values) AboveMaxLTV() bool {
	if v == nil || v.MaxLTVHealthFactor == nil {
		return false
	}
	return v.MaxLTVHealthFactor.Cmp(big.NewRat(1, 1)) < 0
}

// Liquidatable reports whether the account has crossed the liquidation
// threshold.
func (v *Values) Liquidatable() bool {
	if v == nil || v.LiquidationHealthFactor == nil {
		return false
	}
	return v.LiquidationHealthFactor.Cmp(big.NewRat(1, 1)) < 0
}
