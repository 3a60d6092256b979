package creditmanager

import (
	"errors"
	"math/big"
	"testing"

	"marsbank/core/types"
	"marsbank/crypto"
	"marsbank/native/health"
	"marsbank/native/params"
)

const lockupSeconds = uint64(86_400)

func addLockedVault(env *testEnv) (crypto.Address, *fakeVault) {
	addr := testAddress(0x20)
	vault := &fakeVault{base: "uusd", lockup: lockupSeconds, locked: true, perShare: 2}
	env.vaults[addr.String()] = vault
	env.view.vaults[addr.String()] = &params.VaultConfig{
		Addr:                 addr,
		MaxLoanToValue:       big.NewRat(3, 5),
		LiquidationThreshold: big.NewRat(7, 10),
		Whitelisted:          true,
	}
	return addr, vault
}

func TestVaultUnlockLifecycle(t *testing.T) {
	env := newTestEnv(t)
	vaultAddr, _ := addLockedVault(env)
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uusd", 1_000)

	// Exiting in the same breath as the unlock request must fail: the lockup
	// has not elapsed. The whole sequence, deposit included, rolls back.
	before := env.mem.Len()
	err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uusd", 1_000)},
		EnterVault{Vault: vaultAddr, Coin: types.NewCoin64("uusd", 1_000)},
		RequestVaultUnlock{Vault: vaultAddr},
		ExitVaultUnlocked{Vault: vaultAddr, ID: 1},
	})
	if !errors.Is(err, errUnlockNotElapsed) {
		t.Fatalf("expected unlock-not-elapsed, got %v", err)
	}
	if env.mem.Len() != before {
		t.Fatalf("store size changed across revert: %d -> %d", before, env.mem.Len())
	}

	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uusd", 1_000)},
		EnterVault{Vault: vaultAddr, Coin: types.NewCoin64("uusd", 1_000)},
		RequestVaultUnlock{Vault: vaultAddr},
	}); err != nil {
		t.Fatalf("enter and request: %v", err)
	}

	position, err := env.store.GetVaultPosition(id, vaultAddr)
	if err != nil || position == nil {
		t.Fatalf("vault position missing: %v", err)
	}
	if position.LockedShares.Sign() != 0 {
		t.Fatalf("locked shares %s want 0 after full unlock request", position.LockedShares)
	}
	if len(position.Unlocking) != 1 {
		t.Fatalf("unlocking tranches %d want 1", len(position.Unlocking))
	}
	tranche := position.Unlocking[0]
	if tranche.Shares.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("tranche shares %s want 500", tranche.Shares)
	}
	if tranche.BaseAmount.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("tranche base amount %s want 1000", tranche.BaseAmount)
	}
	if tranche.ReleaseAt != startTime+lockupSeconds {
		t.Fatalf("release at %d want %d", tranche.ReleaseAt, startTime+lockupSeconds)
	}

	// One second early is still too early.
	env.engine.SetTimestamp(tranche.ReleaseAt - 1)
	err = env.engine.UpdateCreditAccount(env.user, id, []Action{
		ExitVaultUnlocked{Vault: vaultAddr, ID: tranche.ID},
	})
	if !errors.Is(err, errUnlockNotElapsed) {
		t.Fatalf("expected unlock-not-elapsed, got %v", err)
	}

	env.engine.SetTimestamp(tranche.ReleaseAt)
	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		ExitVaultUnlocked{Vault: vaultAddr, ID: tranche.ID},
	}); err != nil {
		t.Fatalf("exit unlocked: %v", err)
	}
	if got := env.coin(t, id, "uusd"); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("account uusd %s want 1000 after redeem", got)
	}
	position, err = env.store.GetVaultPosition(id, vaultAddr)
	if err != nil {
		t.Fatalf("vault position: %v", err)
	}
	if position != nil && !position.Empty() {
		t.Fatalf("vault position not cleaned up: %+v", position)
	}
}

func TestLockedVaultRejectsDirectExit(t *testing.T) {
	env := newTestEnv(t)
	vaultAddr, _ := addLockedVault(env)
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uusd", 500)

	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uusd", 500)},
		EnterVault{Vault: vaultAddr, Coin: types.NewCoin64("uusd", 500)},
	}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		ExitVault{Vault: vaultAddr},
	})
	if !errors.Is(err, errVaultLocked) {
		t.Fatalf("expected locked-vault rejection, got %v", err)
	}
}

func TestUnlockedVaultRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	vaultAddr := testAddress(0x21)
	env.vaults[vaultAddr.String()] = &fakeVault{base: "uusd", perShare: 1}
	env.view.vaults[vaultAddr.String()] = &params.VaultConfig{
		Addr:                 vaultAddr,
		MaxLoanToValue:       big.NewRat(3, 5),
		LiquidationThreshold: big.NewRat(7, 10),
		Whitelisted:          true,
	}
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uusd", 300)

	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uusd", 300)},
		EnterVault{Vault: vaultAddr, Coin: types.NewCoin64("uusd", 300)},
		ExitVault{Vault: vaultAddr},
	}); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if got := env.coin(t, id, "uusd"); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("account uusd %s want 300", got)
	}
	total, err := env.store.GetVaultTotalShares(vaultAddr)
	if err != nil {
		t.Fatalf("vault totals: %v", err)
	}
	if total != nil && total.Sign() != 0 {
		t.Fatalf("vault total shares %s want 0", total)
	}
}

func TestVaultNotWhitelistedRejected(t *testing.T) {
	env := newTestEnv(t)
	vaultAddr := testAddress(0x22)
	env.vaults[vaultAddr.String()] = &fakeVault{base: "uusd", perShare: 1}
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uusd", 100)

	err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uusd", 100)},
		EnterVault{Vault: vaultAddr, Coin: types.NewCoin64("uusd", 100)},
	})
	if !errors.Is(err, errVaultNotWhitelisted) {
		t.Fatalf("expected whitelist rejection, got %v", err)
	}
}

func TestVaultDepositCap(t *testing.T) {
	env := newTestEnv(t)
	vaultAddr, _ := addLockedVault(env)
	env.view.vaults[vaultAddr.String()].DepositCap = big.NewInt(800)
	id := env.newAccount(t, health.AccountKindDefault)
	env.fund(t, env.user, "uusd", 1_000)

	err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uusd", 1_000)},
		EnterVault{Vault: vaultAddr, Coin: types.NewCoin64("uusd", 1_000)},
	})
	if !errors.Is(err, errVaultCap) {
		t.Fatalf("expected vault cap rejection, got %v", err)
	}
	if err := env.engine.UpdateCreditAccount(env.user, id, []Action{
		Deposit{Coin: types.NewCoin64("uusd", 1_000)},
		EnterVault{Vault: vaultAddr, Coin: types.NewCoin64("uusd", 800)},
	}); err != nil {
		t.Fatalf("enter under cap: %v", err)
	}
}
