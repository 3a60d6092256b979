package creditmanager

import (
	"math/big"

	"marsbank/core/types"
	"marsbank/crypto"
)

// Action is one step of an atomic update sequence. Actions execute strictly
// in declaration order; any failure reverts the whole sequence.
type Action interface {
	actionName() string
}

// Deposit moves funds from the caller's wallet into the account.
type Deposit struct {
	Coin types.Coin
}

// Withdraw sends account coins out to a recipient, defaulting to the owner.
type Withdraw struct {
	Coin      types.Coin
	Recipient *crypto.Address
}

// Borrow draws from the credit manager's shared red bank debt pool and issues
// pro-rata debt shares to the account.
type Borrow struct {
	Coin types.Coin
}

// Repay burns the account's debt shares. A nil amount repays everything the
// coin balance covers. RecipientAccountID repays another account's debt.
type Repay struct {
	Denom              string
	Amount             *big.Int
	RecipientAccountID string
}

// RepayFromWallet repays an account's debt with the caller's wallet funds
// instead of account coins.
type RepayFromWallet struct {
	AccountID string
	Coin      types.Coin
}

// Lend deposits account coins into the red bank, attributed to the account
// through scaled shares.
type Lend struct {
	Coin types.Coin
}

// Reclaim withdraws a red bank lend back into the account's coin balance. A
// nil amount reclaims the full position.
type Reclaim struct {
	Denom  string
	Amount *big.Int
}

// SwapExactIn swaps account coins through the external swapper. A nil amount
// swaps the full balance. MinReceive must survive the global slippage policy.
type SwapExactIn struct {
	DenomIn    string
	AmountIn   *big.Int
	DenomOut   string
	MinReceive *big.Int
}

// ProvideLiquidity zaps account coins into an LP token.
type ProvideLiquidity struct {
	CoinsIn    []types.Coin
	LpDenom    string
	MinReceive *big.Int
}

// WithdrawLiquidity unzaps an LP token back into its underlying coins.
type WithdrawLiquidity struct {
	LpDenom     string
	Amount      *big.Int
	MinReceives types.Coins
}

// EnterVault deposits account coins into a whitelisted vault.
type EnterVault struct {
	Vault crypto.Address
	Coin  types.Coin
}

// ExitVault redeems unlocked vault shares immediately. Locked vaults must go
// through RequestVaultUnlock instead.
type ExitVault struct {
	Vault  crypto.Address
	Shares *big.Int
}

// RequestVaultUnlock starts the unbonding clock on locked vault shares.
type RequestVaultUnlock struct {
	Vault  crypto.Address
	Shares *big.Int
}

// ExitVaultUnlocked claims a matured unlocking tranche.
type ExitVaultUnlocked struct {
	Vault crypto.Address
	ID    uint64
}

// StakeAstroLp stakes LP coins held by the account. A nil amount stakes the
// full balance.
type StakeAstroLp struct {
	LpDenom string
	Amount  *big.Int
}

// UnstakeAstroLp returns staked LP back to the account's coin balance. A nil
// amount unstakes everything.
type UnstakeAstroLp struct {
	LpDenom string
	Amount  *big.Int
}

// ClaimAstroLpRewards pulls pending staking rewards into the account.
type ClaimAstroLpRewards struct {
	LpDenom string
}

// RefundAllCoinBalances sweeps every coin balance back to the owner wallet.
type RefundAllCoinBalances struct{}

func (Deposit) actionName() string               { return "deposit" }
func (Withdraw) actionName() string              { return "withdraw" }
func (Borrow) actionName() string                { return "borrow" }
func (Repay) actionName() string                 { return "repay" }
func (RepayFromWallet) actionName() string       { return "repay_from_wallet" }
func (Lend) actionName() string                  { return "lend" }
func (Reclaim) actionName() string               { return "reclaim" }
func (SwapExactIn) actionName() string           { return "swap_exact_in" }
func (ProvideLiquidity) actionName() string      { return "provide_liquidity" }
func (WithdrawLiquidity) actionName() string     { return "withdraw_liquidity" }
func (EnterVault) actionName() string            { return "enter_vault" }
func (ExitVault) actionName() string             { return "exit_vault" }
func (RequestVaultUnlock) actionName() string    { return "request_vault_unlock" }
func (ExitVaultUnlocked) actionName() string     { return "exit_vault_unlocked" }
func (StakeAstroLp) actionName() string          { return "stake_astro_lp" }
func (UnstakeAstroLp) actionName() string        { return "unstake_astro_lp" }
func (ClaimAstroLpRewards) actionName() string   { return "claim_astro_lp_rewards" }
func (RefundAllCoinBalances) actionName() string { return "refund_all_coin_balances" }
