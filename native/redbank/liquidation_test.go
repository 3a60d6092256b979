package redbank

import (
	"errors"
	"math/big"
	"testing"

	"marsbank/native/params"
)

func TestLiquidateHealthyRejected(t *testing.T) {
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

	env.fund(t, env.depositor, "uusd", 500)
	_, err := env.engine.Liquidate(env.depositor, env.borrower, "umars", "uusd", big.NewInt(250))
	if !errors.Is(err, errHealthyPosition) {
		t.Fatalf("expected healthy rejection, got %v", err)
	}
}

func TestLiquidateCloseFactorCap(t *testing.T) {
	env := newTestEnv(t)
	liquidator := testAddress(0x20)
	env.fund(t, env.depositor, "uusd", 10_000)
	env.fund(t, env.borrower, "umars", 1_000)
	env.fund(t, liquidator, "uusd", 600)

	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(10_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := env.engine.Deposit(env.borrower, "umars", big.NewInt(1_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(1_000), env.borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Collateral price collapses from 2 to 0.8: threshold-adjusted value
	// 1000*0.8*0.6 = 480 against 1000 debt.
	env.prices["umars"] = big.NewRat(4, 5)

	result, err := env.engine.Liquidate(liquidator, env.borrower, "umars", "uusd", big.NewInt(600))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// Close factor halves the 1000 debt.
	if result.DebtRepaid.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("repaid %s want 500", result.DebtRepaid)
	}
	// Seized value 500*1*1.1 = 550 at price 0.8 is 687.5, truncated.
	if result.CollateralSeized.Cmp(big.NewInt(687)) != 0 {
		t.Fatalf("seized %s want 687", result.CollateralSeized)
	}
	if result.Refund.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("refund %s want 100", result.Refund)
	}
	if got := env.balance(t, liquidator, "uusd"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("liquidator balance %s want 100", got)
	}

	debt, err := env.store.GetDebt(env.borrower, "uusd")
	if err != nil || debt == nil {
		t.Fatalf("get debt: %v", err)
	}
	if got := underlyingDebt(debt.AmountScaled, ray); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("remaining debt %s want 500", got)
	}
	seized, err := env.store.GetCollateral(liquidator, "umars")
	if err != nil || seized == nil {
		t.Fatalf("get liquidator collateral: %v", err)
	}
	if got := underlyingLiquidity(seized.AmountScaled, ray); got.Cmp(big.NewInt(687)) != 0 {
		t.Fatalf("liquidator collateral %s want 687", got)
	}
}

func TestLiquidateFullCollateralBackSolve(t *testing.T) {
	env := newTestEnv(t)
	liquidator := testAddress(0x21)
	env.fund(t, env.depositor, "uusd", 10_000)
	env.fund(t, env.borrower, "umars", 100)
	env.fund(t, liquidator, "uusd", 100)

	if err := env.engine.Deposit(env.depositor, "uusd", big.NewInt(10_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := env.engine.Deposit(env.borrower, "umars", big.NewInt(100)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := env.engine.Borrow(env.borrower, "uusd", big.NewInt(100), env.borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Deep crash: 100 umars at 0.5 is worth 50 against 100 debt. The
	// bonus-grossed seize (50*1.1/0.5 = 110) exceeds the position, so the
	// whole balance is seized and the repay is solved backwards:
	// floor(floor(100*0.5 / 1.1) / 1) = 45.
	env.prices["umars"] = big.NewRat(1, 2)

	result, err := env.engine.Liquidate(liquidator, env.borrower, "umars", "uusd", big.NewInt(100))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.CollateralSeized.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("seized %s want full 100", result.CollateralSeized)
	}
	if result.DebtRepaid.Cmp(big.NewInt(45)) != 0 {
		t.Fatalf("repaid %s want 45", result.DebtRepaid)
	}
	if result.Refund.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("refund %s want 55", result.Refund)
	}

	collateral, err := env.store.GetCollateral(env.borrower, "umars")
	if err != nil {
		t.Fatalf("get collateral: %v", err)
	}
	if collateral != nil {
		t.Fatalf("expected collateral deleted, got %+v", collateral)
	}
	debt, err := env.store.GetDebt(env.borrower, "uusd")
	if err != nil || debt == nil {
		t.Fatalf("get debt: %v", err)
	}
	if got := underlyingDebt(debt.AmountScaled, ray); got.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("remaining debt %s want 55", got)
	}
}

func TestLiquidateLiteralAmounts(t *testing.T) {
	env := newTestEnv(t)
	liquidator := testAddress(0x22)
	env.params.assets["ucoll"] = &params.AssetParams{
		Denom:                "ucoll",
		MaxLoanToValue:       big.NewRat(1, 2),
		LiquidationThreshold: big.NewRat(3, 5),
		LiquidationBonus:     big.NewRat(1, 10),
		RedBank:              params.RedBankSettings{DepositEnabled: true, BorrowEnabled: true},
	}
	env.params.assets["udebt"] = &params.AssetParams{
		Denom:                "udebt",
		MaxLoanToValue:       big.NewRat(1, 2),
		LiquidationThreshold: big.NewRat(3, 5),
		LiquidationBonus:     big.NewRat(1, 10),
		RedBank:              params.RedBankSettings{DepositEnabled: true, BorrowEnabled: true},
	}
	env.prices["ucoll"] = big.NewRat(2, 1)
	env.prices["udebt"] = big.NewRat(1, 2)
	for _, denom := range []string{"ucoll", "udebt"} {
		if err := env.engine.InitMarket(env.owner, denom, NewInterestRateModel(0.02, 0.07, 0.45, 0.8), new(big.Rat)); err != nil {
			t.Fatalf("init market %s: %v", denom, err)
		}
	}

	env.fund(t, env.depositor, "udebt", 20_000_000)
	env.fund(t, env.borrower, "ucoll", 2_000_000)
	if err := env.engine.Deposit(env.depositor, "udebt", big.NewInt(20_000_000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := env.engine.Deposit(env.borrower, "ucoll", big.NewInt(2_000_000)); err != nil {
		t.Fatalf("collateral deposit: %v", err)
	}
	if err := env.engine.Borrow(env.borrower, "udebt", big.NewInt(3_000_000), env.borrower); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Debt appreciates to 1.1: threshold 2.4M against 3.3M owed.
	env.prices["udebt"] = big.NewRat(11, 10)

	env.fund(t, liquidator, "udebt", 10_000_000)
	result, err := env.engine.Liquidate(liquidator, env.borrower, "ucoll", "udebt", big.NewInt(400_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.DebtRepaid.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("repaid %s want 400000", result.DebtRepaid)
	}
	// 400000 * 1.1 * 1.1 / 2.0 = 242000.
	if result.CollateralSeized.Cmp(big.NewInt(242_000)) != 0 {
		t.Fatalf("seized %s want 242000", result.CollateralSeized)
	}
	if result.Refund.Sign() != 0 {
		t.Fatalf("refund %s want 0", result.Refund)
	}

	// Over-repay on the same position: capped at close_factor * remaining debt.
	remaining, err := env.store.GetDebt(env.borrower, "udebt")
	if err != nil || remaining == nil {
		t.Fatalf("get debt: %v", err)
	}
	owed := underlyingDebt(remaining.AmountScaled, ray)
	maxRepayable := new(big.Int).Div(owed, big.NewInt(2))
	result, err = env.engine.Liquidate(liquidator, env.borrower, "ucoll", "udebt", big.NewInt(9_000_000))
	if err != nil {
		t.Fatalf("second liquidate: %v", err)
	}
	if result.DebtRepaid.Cmp(maxRepayable) != 0 {
		t.Fatalf("repaid %s want close-factor cap %s", result.DebtRepaid, maxRepayable)
	}
	wantRefund := new(big.Int).Sub(big.NewInt(9_000_000), maxRepayable)
	if result.Refund.Cmp(wantRefund) != 0 {
		t.Fatalf("refund %s want %s", result.Refund, wantRefund)
	}
}
