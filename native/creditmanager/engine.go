package creditmanager

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"marsbank/core/events"
	"marsbank/crypto"
	"marsbank/native/health"
	nativecommon "marsbank/native/common"
	"marsbank/native/oracle"
	"marsbank/native/params"
)

var (
	errNilState        = errors.New("credit manager: state not configured")
	errNotConfigured   = errors.New("credit manager: missing collaborator")
	errNotAccountOwner = errors.New("credit manager: caller does not own account")
	errAccountNotFound = errors.New("credit manager: no account for id")
	errInvalidAmount   = errors.New("credit manager: amount must be positive")
	errInvalidKind     = errors.New("credit manager: unknown account kind")
	errUnknownAction   = errors.New("credit manager: unknown action")

	errInsufficientFunds  = errors.New("credit manager: insufficient account balance")
	errNotWhitelisted     = errors.New("credit manager: asset not whitelisted")
	errVaultNotWhitelisted = errors.New("credit manager: vault not whitelisted")
	errDepositCap         = errors.New("credit manager: deposit cap exceeded")
	errVaultCap           = errors.New("credit manager: vault deposit cap exceeded")
	errNoDebt             = errors.New("credit manager: no debt shares for denom")
	errNoLend             = errors.New("credit manager: no lend position for denom")
	errNoVaultPosition    = errors.New("credit manager: no vault position")
	errNoUnlockingTranche = errors.New("credit manager: no unlocking position for id")
	errUnlockNotElapsed   = errors.New("credit manager: unlocking position not released yet")
	errTooManyUnlocking   = errors.New("credit manager: too many unlocking positions")
	errVaultLocked        = errors.New("credit manager: locked vault requires an unlock request")
	errVaultNotLocked     = errors.New("credit manager: vault has no lockup")
	errSlippageTooLoose   = errors.New("credit manager: min receive below slippage policy")
	errSlippageExceeded   = errors.New("credit manager: received less than min receive")

	errUnhealthy            = errors.New("credit manager: actions left account above max LTV")
	errBorrowExceedsCollateral = errors.New("credit manager: BorrowAmountExceedsGivenCollateral")
	errHLSDebtCount            = errors.New("credit manager: HLS account may carry one debt denom")
)

const (
	moduleName = "creditmanager"

	// defaultMaxUnlocking bounds the unbonding tranches per vault position.
	defaultMaxUnlocking = 100
)

// Atomic runs a mutation and rolls the backing store back when it errors.
type Atomic interface {
	Update(fn func() error) error
}

type passthroughAtomic struct{}

func (passthroughAtomic) Update(fn func() error) error { return fn() }

// Engine executes account action sequences against its collaborators.
type Engine struct {
	state         engineState
	moduleAddress crypto.Address
	params        params.View
	oracle        oracle.Source
	redBank       MoneyMarket
	swapper       Swapper
	zapper        Zapper
	vaults        VaultRegistry
	incentives    Incentives
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	atomic        Atomic
	timestamp     uint64

	maxSlippage  *big.Rat
	maxUnlocking int
}

// NewEngine constructs a credit manager bound to its treasury address.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		emitter:       events.NoopEmitter{},
		atomic:        passthroughAtomic{},
		maxSlippage:   big.NewRat(1, 20),
		maxUnlocking:  defaultMaxUnlocking,
	}
}

// SetState wires the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetParams wires the risk parameter view.
func (e *Engine) SetParams(view params.View) { e.params = view }

// SetOracle wires the price source.
func (e *Engine) SetOracle(source oracle.Source) { e.oracle = source }

// SetMoneyMarket wires the red bank.
func (e *Engine) SetMoneyMarket(market MoneyMarket) { e.redBank = market }

// SetSwapper wires the external swapper.
func (e *Engine) SetSwapper(swapper Swapper) { e.swapper = swapper }

// SetZapper wires the external zapper.
func (e *Engine) SetZapper(zapper Zapper) { e.zapper = zapper }

// SetVaults wires the vault registry.
func (e *Engine) SetVaults(registry VaultRegistry) { e.vaults = registry }

// SetIncentives wires the LP staking rewards collaborator.
func (e *Engine) SetIncentives(incentives Incentives) { e.incentives = incentives }

// SetEmitter wires the event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter != nil {
		e.emitter = emitter
	}
}

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetAtomic wires the transaction boundary used by UpdateCreditAccount.
func (e *Engine) SetAtomic(atomic Atomic) {
	if atomic != nil {
		e.atomic = atomic
	}
}

// SetTimestamp records the block time in unix seconds.
func (e *Engine) SetTimestamp(ts uint64) { e.timestamp = ts }

// SetMaxSlippage replaces the global slippage bound for swap and zap actions.
func (e *Engine) SetMaxSlippage(slippage *big.Rat) {
	if slippage != nil && slippage.Sign() >= 0 {
		e.maxSlippage = new(big.Rat).Set(slippage)
	}
}

// CreateAccount mints a new credit account for the owner and returns its id.
func (e *Engine) CreateAccount(owner crypto.Address, kind health.AccountKind) (string, error) {
	if e == nil || e.state == nil {
		return "", errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return "", err
	}
	switch kind {
	case health.AccountKindDefault, health.AccountKindHLS, health.AccountKindFundManager:
	default:
		return "", errInvalidKind
	}
	next, err := e.state.NextAccountID()
	if err != nil {
		return "", err
	}
	account := &Account{ID: strconv.FormatUint(next, 10), Owner: owner, Kind: kind}
	if err := e.state.PutAccount(account); err != nil {
		return "", err
	}
	e.emitter.Emit(events.AccountCreated{AccountID: account.ID, Owner: owner, Kind: string(kind)})
	return account.ID, nil
}

// UpdateCreditAccount applies the action sequence atomically and asserts the
// terminal health and HLS invariants. On any failure the whole sequence is
// rolled back.
func (e *Engine) UpdateCreditAccount(caller crypto.Address, accountID string, actions []Action) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.params == nil || e.oracle == nil || e.redBank == nil {
		return errNotConfigured
	}
	account, err := e.state.GetAccount(accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return errAccountNotFound
	}
	if !account.Owner.Equal(caller) {
		return errNotAccountOwner
	}

	return e.atomic.Update(func() error {
		before, err := e.accountHealth(account, oracle.KindDefault)
		if err != nil {
			return err
		}

		debtIncreased := false
		for _, action := range actions {
			increased, err := e.dispatch(account, action)
			if err != nil {
				return err
			}
			debtIncreased = debtIncreased || increased
		}

		after, err := e.accountHealth(account, oracle.KindDefault)
		if err != nil {
			return err
		}
		if err := e.assertHealthy(before, after, debtIncreased); err != nil {
			return err
		}
		if account.Kind == health.AccountKindHLS {
			if err := e.assertHLS(account); err != nil {
				return err
			}
		}
		for _, action := range actions {
			e.emitter.Emit(events.ActionExecuted{AccountID: account.ID, Action: action.actionName()})
		}
		return nil
	})
}

func (e *Engine) dispatch(account *Account, action Action) (debtIncreased bool, err error) {
	switch a := action.(type) {
	case Deposit:
		return false, e.deposit(account, a)
	case Withdraw:
		return false, e.withdraw(account, a)
	case Borrow:
		return true, e.borrow(account, a)
	case Repay:
		return false, e.repay(account, a)
	case RepayFromWallet:
		return false, e.repayFromWallet(account, a)
	case Lend:
		return false, e.lend(account, a)
	case Reclaim:
		return false, e.reclaim(account, a)
	case SwapExactIn:
		return false, e.swapExactIn(account, a)
	case ProvideLiquidity:
		return false, e.provideLiquidity(account, a)
	case WithdrawLiquidity:
		return false, e.withdrawLiquidity(account, a)
	case EnterVault:
		return false, e.enterVault(account, a)
	case ExitVault:
		return false, e.exitVault(account, a)
	case RequestVaultUnlock:
		return false, e.requestVaultUnlock(account, a)
	case ExitVaultUnlocked:
		return false, e.exitVaultUnlocked(account, a)
	case StakeAstroLp:
		return false, e.stakeLp(account, a)
	case UnstakeAstroLp:
		return false, e.unstakeLp(account, a)
	case ClaimAstroLpRewards:
		return false, e.claimLpRewards(account, a)
	case RefundAllCoinBalances:
		return false, e.refundAll(account)
	default:
		return false, fmt.Errorf("%w: %T", errUnknownAction, action)
	}
}

// assertHealthy enforces the terminal health rule: the account must be within
// max LTV, except that sequences which only improved an already-stressed
// position are allowed through.
func (e *Engine) assertHealthy(before, after *health.Values, debtIncreased bool) error {
	if !after.AboveMaxLTV() {
		return nil
	}
	if debtIncreased {
		return errBorrowExceedsCollateral
	}
	if before.MaxLTVHealthFactor != nil && after.MaxLTVHealthFactor != nil &&
		after.MaxLTVHealthFactor.Cmp(before.MaxLTVHealthFactor) >= 0 {
		return nil
	}
	return errUnhealthy
}

// assertHLS re-values the account under HLS rules, which rejects
// uncorrelated collateral, and bounds the account to a single debt denom.
func (e *Engine) assertHLS(account *Account) error {
	shares, err := e.state.DebtShares(account.ID)
	if err != nil {
		return err
	}
	debtDenoms := 0
	for _, amount := range shares {
		if amount != nil && amount.Sign() > 0 {
			debtDenoms++
		}
	}
	if debtDenoms > 1 {
		return errHLSDebtCount
	}
	if _, err := e.accountHealth(account, oracle.KindDefault); err != nil {
		return err
	}
	return nil
}

// accountHealth snapshots the account's positions and runs them through the
// health computer.
func (e *Engine) accountHealth(account *Account, pricing oracle.PricingKind) (*health.Values, error) {
	positions, err := e.healthPositions(account)
	if err != nil {
		return nil, err
	}
	computer := health.NewComputer(e.params, e.oracle, vaultValuer{registry: e.vaults})
	return computer.Compute(account.Kind, *positions, pricing)
}

func (e *Engine) healthPositions(account *Account) (*health.Positions, error) {
	positions := &health.Positions{}

	coins, err := e.state.CoinBalances(account.ID)
	if err != nil {
		return nil, err
	}
	for denom, amount := range coins {
		positions.Deposits = append(positions.Deposits, health.CollateralPosition{Denom: denom, Amount: amount})
	}
	lps, err := e.state.LpPositions(account.ID)
	if err != nil {
		return nil, err
	}
	for _, lp := range lps {
		positions.Deposits = append(positions.Deposits, health.CollateralPosition{Denom: lp.Denom, Amount: lp.Staked})
	}

	lends, err := e.state.Lends(account.ID)
	if err != nil {
		return nil, err
	}
	for denom, scaled := range lends {
		amount, err := e.lendUnderlying(denom, scaled)
		if err != nil {
			return nil, err
		}
		positions.Lends = append(positions.Lends, health.CollateralPosition{Denom: denom, Amount: amount})
	}

	debts, err := e.accountDebts(account.ID)
	if err != nil {
		return nil, err
	}
	for denom, amount := range debts {
		positions.Debts = append(positions.Debts, health.DebtPosition{Denom: denom, Amount: amount})
	}

	vaultPositions, err := e.state.VaultPositions(account.ID)
	if err != nil {
		return nil, err
	}
	for _, position := range vaultPositions {
		entry := health.VaultPosition{
			Addr:           position.Vault,
			LockedShares:   position.LockedShares,
			UnlockedShares: position.UnlockedShares,
		}
		for _, tranche := range position.Unlocking {
			entry.Unlocking = append(entry.Unlocking, health.UnlockingTranche{
				ID:         tranche.ID,
				Denom:      tranche.BaseDenom,
				BaseAmount: tranche.BaseAmount,
				ReleaseAt:  tranche.ReleaseAt,
			})
		}
		positions.Vaults = append(positions.Vaults, entry)
	}
	return positions, nil
}

// vaultValuer bridges the vault registry into the health computer.
type vaultValuer struct {
	registry VaultRegistry
}

func (v vaultValuer) PreviewRedeem(addr crypto.Address, shares *big.Int) (string, *big.Int, error) {
	if v.registry == nil {
		return "", nil, errNotConfigured
	}
	vault, err := v.registry.Vault(addr)
	if err != nil {
		return "", nil, err
	}
	amount, err := vault.PreviewRedeem(shares)
	if err != nil {
		return "", nil, err
	}
	return vault.BaseDenom(), amount, nil
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

func (e *Engine) coinBalance(id, denom string) (*big.Int, error) {
	balance, err := e.state.GetCoinBalance(id, denom)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (e *Engine) addCoin(id, denom string, amount *big.Int) error {
	balance, err := e.coinBalance(id, denom)
	if err != nil {
		return err
	}
	return e.state.SetCoinBalance(id, denom, new(big.Int).Add(balance, amount))
}

func (e *Engine) subCoin(id, denom string, amount *big.Int) error {
	balance, err := e.coinBalance(id, denom)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	return e.state.SetCoinBalance(id, denom, new(big.Int).Sub(balance, amount))
}
