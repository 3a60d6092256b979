// Package creditmanager implements per-account leveraged positions executed
// as atomic action sequences with a terminal health check.
package creditmanager

import (
	"math/big"

	"marsbank/core/types"
	"marsbank/crypto"
	"marsbank/native/health"
)

// Account is one credit account. Ownership is by address; the account id is a
// monotonically assigned decimal string.
type Account struct {
	ID    string
	Owner crypto.Address
	Kind  health.AccountKind
}

// Clone returns a copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// UnlockingTranche is one scheduled withdrawal from a locked vault. The base
// amount is fixed at request time and is what the health engine values.
type UnlockingTranche struct {
	ID         uint64
	Shares     *big.Int
	BaseDenom  string
	BaseAmount *big.Int
	ReleaseAt  uint64
}

// VaultPosition is an account's stake in one vault.
type VaultPosition struct {
	Vault          crypto.Address
	LockedShares   *big.Int
	UnlockedShares *big.Int
	Unlocking      []UnlockingTranche
}

// Empty reports whether the position holds nothing at all.
func (p *VaultPosition) Empty() bool {
	if p == nil {
		return true
	}
	if p.LockedShares != nil && p.LockedShares.Sign() > 0 {
		return false
	}
	if p.UnlockedShares != nil && p.UnlockedShares.Sign() > 0 {
		return false
	}
	return len(p.Unlocking) == 0
}

// LpPosition is an account's staked LP balance for one LP denom.
type LpPosition struct {
	Denom  string
	Staked *big.Int
}

// PositionsSnapshot is the full queryable state of one account.
type PositionsSnapshot struct {
	Account    Account
	Coins      types.Coins
	DebtShares map[string]*big.Int
	// Debts is the share-implied underlying owed per denom.
	Debts map[string]*big.Int
	// Lends is the underlying red bank deposit attributed to the account.
	Lends  map[string]*big.Int
	Vaults []VaultPosition
	Lps    []LpPosition
}

// engineState is the persistence surface of the credit manager. Missing
// records come back as nil without an error.
type engineState interface {
	GetAccount(id string) (*Account, error)
	PutAccount(account *Account) error
	AccountsByOwner(owner crypto.Address) ([]string, error)
	NextAccountID() (uint64, error)

	GetCoinBalance(id, denom string) (*big.Int, error)
	SetCoinBalance(id, denom string, amount *big.Int) error
	CoinBalances(id string) (types.Coins, error)

	GetDebtShares(id, denom string) (*big.Int, error)
	SetDebtShares(id, denom string, shares *big.Int) error
	DebtShares(id string) (map[string]*big.Int, error)
	GetTotalDebtShares(denom string) (*big.Int, error)
	SetTotalDebtShares(denom string, shares *big.Int) error

	GetLend(id, denom string) (*big.Int, error)
	SetLend(id, denom string, scaled *big.Int) error
	Lends(id string) (map[string]*big.Int, error)

	GetVaultPosition(id string, vault crypto.Address) (*VaultPosition, error)
	SetVaultPosition(id string, position *VaultPosition) error
	VaultPositions(id string) ([]VaultPosition, error)
	GetVaultTotalShares(vault crypto.Address) (*big.Int, error)
	SetVaultTotalShares(vault crypto.Address, shares *big.Int) error
	NextUnlockID() (uint64, error)

	GetLpPosition(id, denom string) (*LpPosition, error)
	SetLpPosition(id string, position *LpPosition) error
	LpPositions(id string) ([]LpPosition, error)

	GetBalance(addr crypto.Address, denom string) (*big.Int, error)
	SetBalance(addr crypto.Address, denom string, amount *big.Int) error
}

// MoneyMarket is the red bank surface the credit manager drives. All calls
// are made with the credit manager's own address as the user.
type MoneyMarket interface {
	Deposit(user crypto.Address, denom string, amount *big.Int) error
	Withdraw(user crypto.Address, denom string, amount *big.Int, recipient crypto.Address) (*big.Int, error)
	Borrow(user crypto.Address, denom string, amount *big.Int, recipient crypto.Address) error
	Repay(user crypto.Address, denom string, amount *big.Int) (*big.Int, error)
	CollateralAmount(user crypto.Address, denom string) (*big.Int, error)
	DebtAmount(user crypto.Address, denom string) (*big.Int, error)
	LiquidityIndex(denom string) (*big.Int, error)
	TotalDeposits(denom string) (*big.Int, error)
}

// Swapper executes exact-in swaps on behalf of the credit manager.
type Swapper interface {
	SwapExactIn(denomIn string, amountIn *big.Int, denomOut string) (*big.Int, error)
	EstimateExactIn(denomIn string, amountIn *big.Int, denomOut string) (*big.Int, error)
}

// Zapper provides and withdraws AMM liquidity.
type Zapper interface {
	ProvideLiquidity(coinsIn types.Coins, lpDenom string) (*big.Int, error)
	WithdrawLiquidity(lpDenom string, amount *big.Int) (types.Coins, error)
	EstimateProvideLiquidity(coinsIn types.Coins, lpDenom string) (*big.Int, error)
	EstimateWithdrawLiquidity(lpDenom string, amount *big.Int) (types.Coins, error)
}

// Vault is one external lockup vault denominated in a single base asset.
type Vault interface {
	BaseDenom() string
	DepositBase(amount *big.Int) (shares *big.Int, err error)
	Redeem(shares *big.Int) (amount *big.Int, err error)
	PreviewRedeem(shares *big.Int) (amount *big.Int, err error)
	// Lockup returns the unlock duration in seconds; locked is false for
	// vaults with instant withdrawal.
	Lockup() (seconds uint64, locked bool)
}

// VaultRegistry resolves vault addresses to their implementations.
type VaultRegistry interface {
	Vault(addr crypto.Address) (Vault, error)
}

// Incentives pays out staking rewards for staked LP positions.
type Incentives interface {
	Claim(accountID, lpDenom string) (types.Coins, error)
	Pending(accountID, lpDenom string) (types.Coins, error)
}
