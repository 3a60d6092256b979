package events

import (
	"math/big"
	"strconv"

	"marsbank/core/types"
	"marsbank/crypto"
)

const (
	// TypeAccountCreated is emitted when a credit account is minted.
	TypeAccountCreated = "creditmanager.account_created"
	// TypeActionExecuted is emitted for every applied credit account action.
	TypeActionExecuted = "creditmanager.action_executed"
	// TypeVaultUnlockRequested is emitted when a locked vault begins unlocking.
	TypeVaultUnlockRequested = "creditmanager.vault_unlock_requested"
)

type AccountCreated struct {
	AccountID string
	Owner     crypto.Address
	Kind      string
}

func (AccountCreated) EventType() string { return TypeAccountCreated }

func (e AccountCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeAccountCreated,
		Attributes: map[string]string{
			"action":     "create_credit_account",
			"account_id": e.AccountID,
			"owner":      e.Owner.String(),
			"kind":       e.Kind,
		},
	}
}

type ActionExecuted struct {
	AccountID string
	Action    string
	Denom     string
	Amount    *big.Int
}

func (ActionExecuted) EventType() string { return TypeActionExecuted }

func (e ActionExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeActionExecuted,
		Attributes: map[string]string{
			"action":     e.Action,
			"account_id": e.AccountID,
			"denom":      e.Denom,
			"amount":     bigString(e.Amount),
		},
	}
}

type VaultUnlockRequested struct {
	AccountID  string
	Vault      crypto.Address
	PositionID uint64
	Shares     *big.Int
	ReleaseAt  uint64
}

func (VaultUnlockRequested) EventType() string { return TypeVaultUnlockRequested }

func (e VaultUnlockRequested) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultUnlockRequested,
		Attributes: map[string]string{
			"action":      "request_vault_unlock",
			"account_id":  e.AccountID,
			"vault":       e.Vault.String(),
			"position_id": strconv.FormatUint(e.PositionID, 10),
			"shares":      bigString(e.Shares),
			"release_at":  strconv.FormatUint(e.ReleaseAt, 10),
		},
	}
}
