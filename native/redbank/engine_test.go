package redbank

import (
	"errors"
	"math/big"
	"testing"

	"marsbank/crypto"
	"marsbank/native/oracle"
	"marsbank/native/params"
	"marsbank/storage/statestore"
)

type staticParams struct {
	assets  map[string]*params.AssetParams
	globals *params.Globals
}

func (s *staticParams) AssetParams(denom string) (*params.AssetParams, error) {
	return s.assets[denom], nil
}

func (s *staticParams) VaultConfig(crypto.Address) (*params.VaultConfig, error) {
	return nil, nil
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

type testEnv struct {
	engine *Engine
	store  *Store
	prices staticPrices
	params *staticParams

	module    crypto.Address
	owner     crypto.Address
	rewards   crypto.Address
	depositor crypto.Address
	borrower  crypto.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		module:    testAddress(0x01),
		owner:     testAddress(0x02),
		rewards:   testAddress(0x03),
		depositor: testAddress(0x10),
		borrower:  testAddress(0x11),
	}
	env.store = NewStore(statestore.NewMemory())
	env.prices = staticPrices{
		"uusd":  big.NewRat(1, 1),
		"umars": big.NewRat(2, 1),
	}
	env.params = &staticParams{
		assets: map[string]*params.AssetParams{
			"uusd": {
				Denom:                "uusd",
				MaxLoanToValue:       big.NewRat(1, 2),
				LiquidationThreshold: big.NewRat(3, 5),
				LiquidationBonus:     big.NewRat(1, 10),
				RedBank:              params.RedBankSettings{DepositEnabled: true, BorrowEnabled: true},
			},
			"umars": {
				Denom:                "umars",
				MaxLoanToValue:       big.NewRat(1, 2),
				LiquidationThreshold: big.NewRat(3, 5),
				LiquidationBonus:     big.NewRat(1, 10),
				RedBank:              params.RedBankSettings{DepositEnabled: true, BorrowEnabled: true},
			},
		},
		globals: &params.Globals{
			CloseFactor:        big.NewRat(1, 2),
			TargetHealthFactor: big.NewRat(6, 5),
		},
	}
	env.engine = NewEngine(env.module, env.owner, env.rewards)
	env.engine.SetState(env.store)
	env.engine.SetParams(env.params)
	env.engine.SetOracle(env.prices)
	env.engine.SetTimestamp(1_700_000_000)

	for _, denom := range []string{"uusd", "umars"} {
		if err := env.engine.InitMarket(env.owner, denom, NewInterestRateModel(0.02, 0.07, 0.45, 0.8), big.NewRat(1, 5)); err != nil {
			t.Fatalf("init market %s: %v", denom, err)
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

func (env *testEnv) balance(t *testing.T, addr crypto.Address, denom string) *big.Int {
	t.Helper()
	balance, err := env.store.GetBalance(addr, denom)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return balance
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, env.depositor, "uusd", 1_000)

	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := env.balance(t, env.depositor, "uusd"); got.Sign() != 0 {
		t.Fatalf("depositor balance after deposit: %s", got)
	}
	if got := env.balance(t, env.module, "uusd"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("module balance after deposit: %s", got)
	}

	withdrawn, err := env.engine.Withdraw(env.depositor, "uusd", nil, env.depositor)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("withdrawn %s want 1000", withdrawn)
	}
	if got := env.balance(t, env.depositor, "uusd"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("depositor balance after withdraw: %s", got)
	}
	collateral, err := env.store.GetCollateral(env.depositor, "uusd")
	if err != nil {
		t.Fatalf("get collateral: %v", err)
	}
	if collateral != nil {
		t.Fatalf("expected collateral position deleted, got %+v", collateral)
	}
}

func TestBorrowAgainstCollateral(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, env.depositor, "uusd", 10_000)
	env.fund(t, env.borrower, "umars", 1_000)

	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(10_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := env.engine.Deposit(env.borrower, "umars", big.NewInt(1_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}

	// 1000 umars at price 2 with 50% max LTV supports a 1000 uusd loan.
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(1_001), env.borrower); err == nil {
		t.Fatal("borrow above max LTV should fail")
	} else if !errors.Is(err, errBorrowExceedsCollateral) {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(1_000), env.borrower); err != nil {
		t.Fatalf("borrow at max LTV: %v", err)
	}
	if got := env.balance(t, env.borrower, "uusd"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("borrower uusd balance: %s", got)
	}

	market, err := env.store.GetMarket("uusd")
	if err != nil || market == nil {
		t.Fatalf("get market: %v", err)
	}
	if market.BorrowRate.Sign() <= 0 {
		t.Fatal("borrow rate should be positive at nonzero utilization")
	}
	if market.LiquidityRate.Sign() <= 0 {
		t.Fatal("liquidity rate should be positive at nonzero utilization")
	}
}

func TestBorrowLiquidityBound(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, env.depositor, "uusd", 500)
	env.fund(t, env.borrower, "umars", 100_000)

	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(500)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := env.engine.Deposit(env.borrower, "umars", big.NewInt(100_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(600), env.borrower)
	if !errors.Is(err, errNotEnoughLiquidity) {
		t.Fatalf("expected liquidity error, got %v", err)
	}
}

func TestRepayRefundsExcess(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, env.depositor, "uusd", 10_000)
	env.fund(t, env.borrower, "umars", 1_000)
	env.fund(t, env.borrower, "uusd", 500)

	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(10_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := env.engine.Deposit(env.borrower, "umars", big.NewInt(1_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(800), env.borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	refund, err := env.engine.Repay(env.borrower, "uusd", big.NewInt(1_300))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if refund.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("refund %s want 500", refund)
	}
	debt, err := env.store.GetDebt(env.borrower, "uusd")
	if err != nil {
		t.Fatalf("get debt: %v", err)
	}
	if debt != nil {
		t.Fatalf("expected debt deleted, got %+v", debt)
	}
	// Paid exactly 800: the 500 refund never left the wallet.
	if got := env.balance(t, env.borrower, "uusd"); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("borrower balance after repay: %s", got)
	}
}

func TestInterestAccrualOverYear(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, env.depositor, "uusd", 10_000)
	env.fund(t, env.borrower, "umars", 10_000)

	start := uint64(1_700_000_000)
	env.engine.SetTimestamp(start)
	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.engine.Deposit(env.borrower, "umars", big.NewInt(10_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(5_000), env.borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	env.engine.SetTimestamp(start + secondsPerYear)
	env.fund(t, env.borrower, "uusd", 5_000)
	refund, err := env.engine.Repay(env.borrower, "uusd", big.NewInt(10_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	repaid := new(big.Int).Sub(big.NewInt(10_000), refund)
	if repaid.Cmp(big.NewInt(5_000)) <= 0 {
		t.Fatalf("repaid %s, expected interest above principal", repaid)
	}

	market, err := env.store.GetMarket("uusd")
	if err != nil || market == nil {
		t.Fatalf("get market: %v", err)
	}
	if market.LiquidityIndex.Cmp(ray) <= 0 {
		t.Fatal("liquidity index should have grown")
	}
	if market.BorrowIndex.Cmp(ray) <= 0 {
		t.Fatal("borrow index should have grown")
	}

	// Reserve factor share lands with the rewards collector as collateral.
	reward, err := env.store.GetCollateral(env.rewards, "uusd")
	if err != nil {
		t.Fatalf("get rewards collateral: %v", err)
	}
	if reward == nil || reward.AmountScaled.Sign() <= 0 {
		t.Fatal("expected protocol reward collateral")
	}

	// The depositor's claim grew and stays covered by pool funds plus the
	// interest the borrower just paid in.
	withdrawn, err := env.engine.Withdraw(env.depositor, "uusd", nil, env.depositor)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(10_000)) <= 0 {
		t.Fatalf("withdrawn %s, expected growth above principal", withdrawn)
	}
}

func TestZeroDebtMarketAccruesNoInterestToDepositors(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, env.depositor, "uusd", 1_000)

	start := uint64(1_700_000_000)
	env.engine.SetTimestamp(start)
	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	env.engine.SetTimestamp(start + secondsPerYear)
	withdrawn, err := env.engine.Withdraw(env.depositor, "uusd", nil, env.depositor)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("withdrawn %s want exactly 1000 with zero utilization", withdrawn)
	}
}

func TestWithdrawBlockedByHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, env.depositor, "uusd", 10_000)
	env.fund(t, env.borrower, "umars", 1_000)

	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(10_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := env.engine.Deposit(env.borrower, "umars", big.NewInt(1_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(1_000), env.borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Liq threshold 0.6 on 2000 value covers 1200; anything leaving less
	// than 1000/0.6/2 umars behind breaks the position.
	_, err := env.engine.Withdraw(env.borrower, "umars", big.NewInt(500), env.borrower)
	if !errors.Is(err, errUnhealthyAfterWithdraw) {
		t.Fatalf("expected health error, got %v", err)
	}
	// Leaving 900 umars keeps 900*2*0.6 = 1080 >= 1000.
	if _, err := env.engine.Withdraw(env.borrower, "umars", big.NewInt(100), env.borrower); err != nil {
		t.Fatalf("small withdraw should pass: %v", err)
	}
}

func TestDisableCollateralHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, env.depositor, "uusd", 10_000)
	env.fund(t, env.borrower, "umars", 1_000)

	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(10_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := env.engine.Deposit(env.borrower, "umars", big.NewInt(1_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(500), env.borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	err := env.engine.UpdateCollateralStatus(env.borrower, "umars", false)
	if !errors.Is(err, errUnhealthyAfterDisabling) {
		t.Fatalf("expected disabling error, got %v", err)
	}
}

func TestDepositCap(t *testing.T) {
	env := newTestEnv(t)
	env.params.assets["uusd"].DepositCap = big.NewInt(1_500)
	env.fund(t, env.depositor, "uusd", 2_000)

	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit under cap: %v", err)
	}
	err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(1_000))
	if !errors.Is(err, errDepositCap) {
		t.Fatalf("expected cap error, got %v", err)
	}
}

func TestUncollateralizedLoanLimit(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, env.depositor, "uusd", 10_000)
	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(10_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	if err := env.engine.SetUncollateralizedLoanLimit(env.owner, env.borrower, "uusd", big.NewInt(2_000)); err != nil {
		t.Fatalf("set loan limit: %v", err)
	}
	if err := env.engine.SetUncollateralizedLoanLimit(env.borrower, env.borrower, "uusd", big.NewInt(9_999)); !errors.Is(err, errNotOwner) {
		t.Fatalf("non-owner should be rejected, got %v", err)
	}

	// No collateral at all, draws against the credit line.
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(2_000), env.borrower); err != nil {
		t.Fatalf("borrow within credit line: %v", err)
	}
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(1), env.borrower); !errors.Is(err, errCreditLineExceeded) {
		t.Fatalf("expected credit line error, got %v", err)
	}

	debt, err := env.store.GetDebt(env.borrower, "uusd")
	if err != nil || debt == nil {
		t.Fatalf("get debt: %v", err)
	}
	if !debt.Uncollateralized {
		t.Fatal("debt should be flagged uncollateralized")
	}

	// Credit-line debt is exempt from liquidation.
	env.fund(t, env.depositor, "uusd", 1_000)
	if _, err := env.engine.Liquidate(env.depositor, env.borrower, "umars", "uusd", big.NewInt(100)); !errors.Is(err, errUncollateralizedDebt) {
		t.Fatalf("expected uncollateralized rejection, got %v", err)
	}
}
