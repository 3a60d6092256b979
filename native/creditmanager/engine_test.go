package creditmanager

import (
	"errors"
	"math/big"
	"testing"

	"marsbank/core/types"
	"marsbank/crypto"
	"marsbank/native/health"
	"marsbank/native/oracle"
	"marsbank/native/params"
	"marsbank/native/redbank"
	"marsbank/storage/statestore"
)

type staticParams struct {
	assets  map[string]*params.AssetParams
	vaults  map[string]*params.VaultConfig
	globals *params.Globals
}

func (s *staticParams) AssetParams(denom string) (*params.AssetParams, error) {
	return s.assets[denom], nil
}

func (s *staticParams) VaultConfig(addr crypto.Address) (*params.VaultConfig, error) {
	return s.vaults[addr.String()], nil
}

func (s *staticParams) Globals() (*params.Globals, error) {
	return s.globals, nil
}

type staticPrices map[string]*big.Rat

func (s staticPrices) Price(denom string, _ oracle.PricingKind) (*big.Rat, error) {
	price, ok := s[denom]
	if !ok {
		return nil, errors.New("no price")
	}
	return new(big.Rat).Set(price), nil
}

func testAddress(b byte) crypto.Address {
	var raw [20]byte
	raw[19] = b
	return crypto.NewAddress(crypto.MarsPrefix, raw[:])
}

type fakeSwapper struct {
	estimate *big.Int
	result   *big.Int
}

func (f *fakeSwapper) EstimateExactIn(_ string, _ *big.Int, _ string) (*big.Int, error) {
	return new(big.Int).Set(f.estimate), nil
}

func (f *fakeSwapper) SwapExactIn(_ string, _ *big.Int, _ string) (*big.Int, error) {
	return new(big.Int).Set(f.result), nil
}

type fakeVault struct {
	base     string
	lockup   uint64
	locked   bool
	perShare int64
}

func (v *fakeVault) BaseDenom() string { return v.base }

func (v *fakeVault) DepositBase(amount *big.Int) (*big.Int, error) {
	return new(big.Int).Div(amount, big.NewInt(v.perShare)), nil
}

func (v *fakeVault) Redeem(shares *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(shares, big.NewInt(v.perShare)), nil
}

func (v *fakeVault) PreviewRedeem(shares *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(shares, big.NewInt(v.perShare)), nil
}

func (v *fakeVault) Lockup() (uint64, bool) { return v.lockup, v.locked }

type fakeRegistry map[string]Vault

func (r fakeRegistry) Vault(addr crypto.Address) (Vault, error) {
	vault, ok := r[addr.String()]
	if !ok {
		return nil, errors.New("unknown vault")
	}
	return vault, nil
}

type testEnv struct {
	mem     *statestore.Memory
	engine  *Engine
	store   *Store
	redBank *redbank.Engine
	rbStore *redbank.Store
	prices  staticPrices
	view    *staticParams
	vaults  fakeRegistry

	cmAddr   crypto.Address
	rbAddr   crypto.Address
	owner    crypto.Address
	rewards  crypto.Address
	user     crypto.Address
	provider crypto.Address
}

const startTime = uint64(1_700_000_000)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		mem:      statestore.NewMemory(),
		cmAddr:   testAddress(0x01),
		rbAddr:   testAddress(0x02),
		owner:    testAddress(0x03),
		rewards:  testAddress(0x04),
		user:     testAddress(0x10),
		provider: testAddress(0x11),
		vaults:   fakeRegistry{},
	}
	env.prices = staticPrices{
		"uusd":  big.NewRat(1, 1),
		"uatom": big.NewRat(10, 1),
	}
	env.view = &staticParams{
		assets: map[string]*params.AssetParams{
			"uusd": {
				Denom:                "uusd",
				MaxLoanToValue:       new(big.Rat),
				LiquidationThreshold: new(big.Rat),
				RedBank:              params.RedBankSettings{DepositEnabled: true, BorrowEnabled: true},
				CreditManager:        params.CreditManagerSettings{Whitelisted: true},
			},
			"uatom": {
				Denom:                "uatom",
				MaxLoanToValue:       big.NewRat(7, 10),
				LiquidationThreshold: big.NewRat(3, 4),
				RedBank:              params.RedBankSettings{DepositEnabled: true, BorrowEnabled: true},
				CreditManager:        params.CreditManagerSettings{Whitelisted: true},
			},
		},
		vaults:  map[string]*params.VaultConfig{},
		globals: &params.Globals{CloseFactor: big.NewRat(1, 2), TargetHealthFactor: big.NewRat(6, 5)},
	}

	env.rbStore = redbank.NewStore(env.mem)
	env.redBank = redbank.NewEngine(env.rbAddr, env.owner, env.rewards)
	env.redBank.SetState(env.rbStore)
	env.redBank.SetParams(env.view)
	env.redBank.SetOracle(env.prices)
	env.redBank.SetTimestamp(startTime)
	for _, denom := range []string{"uusd", "uatom"} {
		if err := env.redBank.InitMarket(env.owner, denom, redbank.NewInterestRateModel(0.02, 0.07, 0.45, 0.8), big.NewRat(1, 5)); err != nil {
			t.Fatalf("init market %s: %v", denom, err)
		}
	}

	env.store = NewStore(env.mem)
	env.engine = NewEngine(env.cmAddr)
	env.engine.SetState(env.store)
	env.engine.SetParams(env.view)
	env.engine.SetOracle(env.prices)
	env.engine.SetMoneyMarket(env.redBank)
	env.engine.SetVaults(env.vaults)
	env.engine.SetAtomic(env.mem)
	env.engine.SetTimestamp(startTime)

	// The credit manager borrows from the pool on a credit line.
	unlimited := new(big.Int).Lsh(big.NewInt(1), 62)
	for _, denom := range []string{"uusd", "uatom"} {
		if err := env.redBank.SetUncollateralizedLoanLimit(env.owner, env.cmAddr, denom, unlimited); err != nil {
			t.Fatalf("set credit line: %v", err)
		}
	}

	// Seed pool liquidity.
	env.fund(t, env.provider, "uusd", 1_000_000)
	env.fund(t, env.provider, "uatom", 1_000_000)
	for _, denom := range []string{"uusd", "uatom"} {
		if err := env.redBank.Deposit(env.provider, denom, big.NewInt(1_000_000)); err != nil {
			t.Fatalf("seed pool %s: %v", denom, err)
		}
	}
	return env
}

func (env *testEnv) fund(t *testing.T, addr crypto.Address, denom string, amount int64) {
	t.Helper()
	balance, err := env.store.GetBalance(addr, denom)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if err := env.store.SetBalance(addr, denom, new(big.Int).Add(balance, big.NewInt(amount))); err != nil {
		t.Fatalf("set balance: %v", err)
	}
}

func (env *testEnv) newAccount(t *testing.T, kind health.AccountKind) string {
	t.Helper()
	id, err := env.engine.CreateAccount(env.user, kind)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return id
}

func (env *testEnv) coin(t *testing.T, id, denom string) *big.Int {
	t.Helper()
	balance, err := env.engine.state.GetCoinBalance(id, denom)
	if err != nil {
		t.Fatalf("get coin balance: %v", err)
	}
	if balance == nil {
		return big.NewInt(0)
	}
	return balance
}

func TestCreateAccountSequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	first := env.newAccount(t, health.AccountKindDefault)
	second := env.newAccount(t, health.AccountKindDefault)
	if first != "1" || second != "2" {
		t.Fatalf("ids %q %q want 1 2", first, second)
	}
	ids, err := env.engine.AccountsByOwner(env.user)
	if err != nil {
		t.Fatalf("accounts by owner: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("owner index has %d accounts want 2", len(ids))
	}
	if _, err := env.engine.CreateAccount(env.user, health.AccountKind("weird")); !errors.Is(err, errInvalidKind) {
		t.Fatalf("expected kind rejection, got %v", err)
	}
}

func TestBorrowAtCollateralLimit(t *testing.T) {
	env := newTestEnv(t)
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uatom", 100)

	// 100 uatom at price 10 and max LTV 0.7 supports exactly 700 uusd.
	err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uatom", 100)},
		Borrow{Coin: types.NewCoin64("uusd", 700)},
	})
	if err != nil {
		t.Fatalf("borrow at limit: %v", err)
	}
	if got := env.coin(t, id, "uusd"); got.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("account uusd %s want 700", got)
	}

	id2 := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uatom", 100)
	err = env.engine.UpdateCreditAccount(env.user, id2, []Action{
		Deposit{Coin: types.NewCoin64("uatom", 100)},
		Borrow{Coin: types.NewCoin64("uusd", 701)},
	})
	if !errors.Is(err, errBorrowExceedsCollateral) {
		t.Fatalf("expected collateral limit error, got %v", err)
	}
	// The whole sequence reverted, deposit included.
	if got := env.coin(t, id2, "uatom"); got.Sign() != 0 {
		t.Fatalf("account uatom %s want 0 after revert", got)
	}
	balance, err := env.store.GetBalance(env.user, "uatom")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("wallet uatom %s want 100 after revert", balance)
	}
}

func TestFailedSequenceRevertsCompletely(t *testing.T) {
	env := newTestEnv(t)
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uatom", 50)

	before := env.mem.Len()
	err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uatom", 50)},
		Lend{Coin: types.NewCoin64("uatom", 50)},
		Borrow{Coin: types.NewCoin64("uusd", 10_000)},
	})
	if !errors.Is(err, errBorrowExceedsCollateral) {
		t.Fatalf("expected failure, got %v", err)
	}
	if env.mem.Len() != before {
		t.Fatalf("store size changed across revert: %d -> %d", before, env.mem.Len())
	}
}

func TestRepayBurnsSharesAndRefunds(t *testing.T) {
	env := newTestEnv(t)
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uatom", 100)

	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uatom", 100)},
		Borrow{Coin: types.NewCoin64("uusd", 500)},
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	shares, err := env.store.GetDebtShares(id, "uusd")
	if err != nil || shares == nil {
		t.Fatalf("get shares: %v", err)
	}
	if shares.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("bootstrap shares %s want 500", shares)
	}

	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Repay{Denom: "uusd"},
	}); err != nil {
		t.Fatalf("repay: %v", err)
	}
	shares, err = env.store.GetDebtShares(id, "uusd")
	if err != nil {
		t.Fatalf("get shares: %v", err)
	}
	if shares != nil && shares.Sign() != 0 {
		t.Fatalf("shares %s want 0 after full repay", shares)
	}
	if got := env.coin(t, id, "uusd"); got.Sign() != 0 {
		t.Fatalf("account uusd %s want 0 after full repay", got)
	}
	total, err := env.engine.TotalDebtShares("uusd")
	if err != nil {
		t.Fatalf("total shares: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("total shares %s want 0", total)
	}
}

func TestDebtShareProportionality(t *testing.T) {
	env := newTestEnv(t)
	first := env.newAccount(t, health.AccountKindDefault)
	second := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uatom", 2_000)

	if err := env.engine.UpdateCreditAccount(env.user, first, []Action{
		Deposit{Coin: types.NewCoin64("uatom", 1_000)},
		Borrow{Coin: types.NewCoin64("uusd", 1_000)},
	}); err != nil {
		t.Fatalf("first borrow: %v", err)
	}

	// A year of compounding makes the pool's red bank debt grow before the
	// second account borrows.
	env.redBank.SetTimestamp(startTime + 31_536_000)
	env.engine.SetTimestamp(startTime + 31_536_000)

	if err := env.engine.UpdateCreditAccount(env.user, second, []Action{
		Deposit{Coin: types.NewCoin64("uatom", 1_000)},
		Borrow{Coin: types.NewCoin64("uusd", 500)},
	}); err != nil {
		t.Fatalf("second borrow: %v", err)
	}

	cmDebt, err := env.redBank.DebtAmount(env.cmAddr, "uusd")
	if err != nil {
		t.Fatalf("cm debt: %v", err)
	}
	firstDebt, err := env.engine.Positions(first)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	secondDebt, err := env.engine.Positions(second)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	sum := new(big.Int).Add(firstDebt.Debts["uusd"], secondDebt.Debts["uusd"])
	diff := new(big.Int).Sub(sum, cmDebt)
	diff.Abs(diff)
	// Per-account owed rounds up, so the sum may exceed the pool debt by at
	// most one unit per account.
	if diff.Cmp(big.NewInt(2)) > 0 {
		t.Fatalf("share sum %s vs pool debt %s drift %s", sum, cmDebt, diff)
	}
}

func TestLendAndReclaimWithInterest(t *testing.T) {
	env := newTestEnv(t)
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uusd", 10_000)

	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uusd", 10_000)},
		Lend{Coin: types.NewCoin64("uusd", 10_000)},
	}); err != nil {
		t.Fatalf("lend: %v", err)
	}
	if got := env.coin(t, id, "uusd"); got.Sign() != 0 {
		t.Fatalf("coins %s want 0 after lend", got)
	}

	// Someone borrows so the liquidity index moves.
	env.fund(t, env.provider, "uatom", 200_000)
	if err := env.redBank.Deposit(env.provider, "uatom", big.NewInt(200_000)); err != nil {
		t.Fatalf("provider deposit: %v", err)
	}
	if err := env.redBank.Borrow(env.provider, "uusd", big.NewInt(500_000), env.provider); err != nil {
		t.Fatalf("provider borrow: %v", err)
	}
	env.redBank.SetTimestamp(startTime + 31_536_000)
	env.engine.SetTimestamp(startTime + 31_536_000)

	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Reclaim{Denom: "uusd"},
	}); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	got := env.coin(t, id, "uusd")
	if got.Cmp(big.NewInt(10_000)) <= 0 {
		t.Fatalf("reclaimed %s, expected interest above principal", got)
	}
}

func TestSwapSlippagePolicy(t *testing.T) {
	env := newTestEnv(t)
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uatom", 10)

	swapper := &fakeSwapper{estimate: big.NewInt(100), result: big.NewInt(96)}
	env.engine.SetSwapper(swapper)

	deposit := Deposit{Coin: types.NewCoin64("uatom", 10)}

	// Floor with 5% max slippage on a 100 estimate is 95.
	err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		deposit,
		SwapExactIn{DenomIn: "uatom", DenomOut: "uusd", MinReceive: big.NewInt(94)},
	})
	if !errors.Is(err, errSlippageTooLoose) {
		t.Fatalf("expected loose-slippage rejection, got %v", err)
	}

	swapper.result = big.NewInt(94)
	err = env.engine.UpdateCreditAccount(env.user, id, []Action{
		deposit,
		SwapExactIn{DenomIn: "uatom", DenomOut: "uusd", MinReceive: big.NewInt(95)},
	})
	if !errors.Is(err, errSlippageExceeded) {
		t.Fatalf("expected slippage-exceeded rejection, got %v", err)
	}
	if got := env.coin(t, id, "uatom"); got.Sign() != 0 {
		t.Fatalf("reverted swap left coins %s", got)
	}

	swapper.result = big.NewInt(96)
	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		deposit,
		SwapExactIn{DenomIn: "uatom", DenomOut: "uusd", MinReceive: big.NewInt(95)},
	}); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got := env.coin(t, id, "uusd"); got.Cmp(big.NewInt(96)) != 0 {
		t.Fatalf("account uusd %s want 96", got)
	}
}

func TestRefundAllCoinBalances(t *testing.T) {
	env := newTestEnv(t)
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uatom", 30)
	env.fund(t, env.user, "uusd", 40)

	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uatom", 30)},
		Deposit{Coin: types.NewCoin64("uusd", 40)},
		RefundAllCoinBalances{},
	}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	for _, denom := range []string{"uatom", "uusd"} {
		if got := env.coin(t, id, denom); got.Sign() != 0 {
			t.Fatalf("account %s balance %s want 0", denom, got)
		}
	}
	balance, err := env.store.GetBalance(env.user, "uatom")
	if err != nil || balance.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("wallet uatom %s want 30 (%v)", balance, err)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t)
	id := env.newAccount(t, health.AccountKindDefault)
	stranger := testAddress(0x42)
	err := env.engine.UpdateCreditAccount(stranger, id, []Action{RefundAllCoinBalances{}})
	if !errors.Is(err, errNotAccountOwner) {
		t.Fatalf("expected ownership error, got %v", err)
	}
}

func TestHLSSingleDebtDenom(t *testing.T) {
	env := newTestEnv(t)
	env.view.assets["uatom"].CreditManager.HLS = &params.HLSParams{
		MaxLoanToValue:       big.NewRat(9, 10),
		LiquidationThreshold: big.NewRat(19, 20),
		CorrelatedDenoms:     []string{"uusd", "uatom"},
	}
	env.view.assets["uusd"].CreditManager.HLS = &params.HLSParams{
		MaxLoanToValue:       big.NewRat(9, 10),
		LiquidationThreshold: big.NewRat(19, 20),
		CorrelatedDenoms:     []string{"uusd", "uatom"},
	}
	id := env.newAccount(t, health.AccountKindHLS)
	env.fund(t, env.user, "uatom", 100)

	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uatom", 100)},
		Borrow{Coin: types.NewCoin64("uusd", 500)},
	}); err != nil {
		t.Fatalf("single debt denom: %v", err)
	}

	err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Borrow{Coin: types.NewCoin64("uatom", 10)},
	})
	if !errors.Is(err, errHLSDebtCount) {
		t.Fatalf("expected HLS debt count error, got %v", err)
	}
}
