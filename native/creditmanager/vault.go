package creditmanager

import (
	"math/big"

	"marsbank/core/events"
	"marsbank/crypto"
)

func (e *Engine) vaultAndConfig(addr crypto.Address) (Vault, error) {
	if e.vaults == nil {
		return nil, errNotConfigured
	}
	config, err := e.params.VaultConfig(addr)
	if err != nil {
		return nil, err
	}
	if config == nil || !config.Whitelisted {
		return nil, errVaultNotWhitelisted
	}
	return e.vaults.Vault(addr)
}

func (e *Engine) vaultPosition(accountID string, addr crypto.Address) (*VaultPosition, error) {
	position, err := e.state.GetVaultPosition(accountID, addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &VaultPosition{
			Vault:          addr,
			LockedShares:   big.NewInt(0),
			UnlockedShares: big.NewInt(0),
		}
	}
	return position, nil
}

// enterVault deposits the coin into the vault, crediting locked or unlocked
// shares depending on the vault's lockup.
func (e *Engine) enterVault(account *Account, action EnterVault) error {
	if err := action.Coin.Validate(); err != nil {
		return err
	}
	if action.Coin.Amount.Sign() <= 0 {
		return errInvalidAmount
	}
	vault, err := e.vaultAndConfig(action.Vault)
	if err != nil {
		return err
	}
	if vault.BaseDenom() != action.Coin.Denom {
		return errInvalidAmount
	}
	config, err := e.params.VaultConfig(action.Vault)
	if err != nil {
		return err
	}
	if config.DepositCap != nil {
		totalShares, err := e.state.GetVaultTotalShares(action.Vault)
		if err != nil {
			return err
		}
		held := big.NewInt(0)
		if totalShares != nil && totalShares.Sign() > 0 {
			held, err = vault.PreviewRedeem(totalShares)
			if err != nil {
				return err
			}
		}
		total := new(big.Int).Add(held, action.Coin.Amount)
		if total.Cmp(config.DepositCap) > 0 {
			return errVaultCap
		}
	}

	if err := e.subCoin(account.ID, action.Coin.Denom, action.Coin.Amount); err != nil {
		return err
	}
	shares, err := vault.DepositBase(action.Coin.Amount)
	if err != nil {
		return err
	}
	if err := e.settleExternalTrade(map[string]*big.Int{action.Coin.Denom: action.Coin.Amount}, nil); err != nil {
		return err
	}

	position, err := e.vaultPosition(account.ID, action.Vault)
	if err != nil {
		return err
	}
	if _, locked := vault.Lockup(); locked {
		position.LockedShares = new(big.Int).Add(position.LockedShares, shares)
	} else {
		position.UnlockedShares = new(big.Int).Add(position.UnlockedShares, shares)
	}
	if err := e.state.SetVaultPosition(account.ID, position); err != nil {
		return err
	}
	return e.addVaultTotal(action.Vault, shares)
}

// exitVault redeems unlocked shares immediately. Locked shares must pass
// through the two-phase unlock.
func (e *Engine) exitVault(account *Account, action ExitVault) error {
	vault, err := e.vaultAndConfig(action.Vault)
	if err != nil {
		return err
	}
	position, err := e.state.GetVaultPosition(account.ID, action.Vault)
	if err != nil {
		return err
	}
	if position == nil {
		return errNoVaultPosition
	}
	if _, locked := vault.Lockup(); locked {
		return errVaultLocked
	}

	shares := action.Shares
	if shares == nil {
		shares = position.UnlockedShares
	}
	if shares.Sign() <= 0 {
		return errInvalidAmount
	}
	if shares.Cmp(position.UnlockedShares) > 0 {
		return errInsufficientFunds
	}

	amount, err := vault.Redeem(shares)
	if err != nil {
		return err
	}
	if err := e.settleExternalTrade(nil, map[string]*big.Int{vault.BaseDenom(): amount}); err != nil {
		return err
	}
	position.UnlockedShares = new(big.Int).Sub(position.UnlockedShares, shares)
	if err := e.storeOrDeleteVaultPosition(account.ID, position); err != nil {
		return err
	}
	if err := e.subVaultTotal(action.Vault, shares); err != nil {
		return err
	}
	return e.addCoin(account.ID, vault.BaseDenom(), amount)
}

// requestVaultUnlock moves locked shares into an unbonding tranche whose
// base amount is frozen at request time.
func (e *Engine) requestVaultUnlock(account *Account, action RequestVaultUnlock) error {
	vault, err := e.vaultAndConfig(action.Vault)
	if err != nil {
		return err
	}
	lockup, locked := vault.Lockup()
	if !locked {
		return errVaultNotLocked
	}
	position, err := e.state.GetVaultPosition(account.ID, action.Vault)
	if err != nil {
		return err
	}
	if position == nil || position.LockedShares.Sign() == 0 {
		return errNoVaultPosition
	}
	if len(position.Unlocking) >= e.maxUnlocking {
		return errTooManyUnlocking
	}
	shares := action.Shares
	if shares == nil {
		shares = position.LockedShares
	}
	if shares.Sign() <= 0 {
		return errInvalidAmount
	}
	if shares.Cmp(position.LockedShares) > 0 {
		return errInsufficientFunds
	}

	baseAmount, err := vault.PreviewRedeem(shares)
	if err != nil {
		return err
	}
	id, err := e.state.NextUnlockID()
	if err != nil {
		return err
	}
	tranche := UnlockingTranche{
		ID:         id,
		Shares:     new(big.Int).Set(shares),
		BaseDenom:  vault.BaseDenom(),
		BaseAmount: baseAmount,
		ReleaseAt:  e.timestamp + lockup,
	}
	position.LockedShares = new(big.Int).Sub(position.LockedShares, shares)
	position.Unlocking = append(position.Unlocking, tranche)
	if err := e.state.SetVaultPosition(account.ID, position); err != nil {
		return err
	}
	e.emitter.Emit(events.VaultUnlockRequested{
		AccountID:  account.ID,
		Vault:      action.Vault,
		PositionID: tranche.ID,
		Shares:     tranche.Shares,
		ReleaseAt:  tranche.ReleaseAt,
	})
	return nil
}

// exitVaultUnlocked claims one matured tranche back into account coins.
func (e *Engine) exitVaultUnlocked(account *Account, action ExitVaultUnlocked) error {
	vault, err := e.vaultAndConfig(action.Vault)
	if err != nil {
		return err
	}
	position, err := e.state.GetVaultPosition(account.ID, action.Vault)
	if err != nil {
		return err
	}
	if position == nil {
		return errNoVaultPosition
	}
	index := -1
	for i, tranche := range position.Unlocking {
		if tranche.ID == action.ID {
			index = i
			break
		}
	}
	if index < 0 {
		return errNoUnlockingTranche
	}
	tranche := position.Unlocking[index]
	if e.timestamp < tranche.ReleaseAt {
		return errUnlockNotElapsed
	}

	amount, err := vault.Redeem(tranche.Shares)
	if err != nil {
		return err
	}
	if err := e.settleExternalTrade(nil, map[string]*big.Int{tranche.BaseDenom: amount}); err != nil {
		return err
	}
	position.Unlocking = append(position.Unlocking[:index], position.Unlocking[index+1:]...)
	if err := e.storeOrDeleteVaultPosition(account.ID, position); err != nil {
		return err
	}
	if err := e.subVaultTotal(action.Vault, tranche.Shares); err != nil {
		return err
	}
	return e.addCoin(account.ID, tranche.BaseDenom, amount)
}

func (e *Engine) storeOrDeleteVaultPosition(accountID string, position *VaultPosition) error {
	// Empty positions are still written; the store drops zero records.
	return e.state.SetVaultPosition(accountID, position)
}

func (e *Engine) addVaultTotal(addr crypto.Address, shares *big.Int) error {
	total, err := e.state.GetVaultTotalShares(addr)
	if err != nil {
		return err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	return e.state.SetVaultTotalShares(addr, new(big.Int).Add(total, shares))
}

func (e *Engine) subVaultTotal(addr crypto.Address, shares *big.Int) error {
	total, err := e.state.GetVaultTotalShares(addr)
	if err != nil {
		return err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	next := new(big.Int).Sub(total, shares)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	return e.state.SetVaultTotalShares(addr, next)
}
