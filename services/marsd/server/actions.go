package server

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"marsbank/core/types"
	"marsbank/crypto"
	"marsbank/native/creditmanager"
)

var errBadAction = errors.New("invalid action")

// actionRequest is the wire form of one credit account action. Fields are
// shared across action types; each type reads the subset it needs.
type actionRequest struct {
	Type string `json:"type"`

	Denom  string `json:"denom,omitempty"`
	Amount string `json:"amount,omitempty"`

	DenomIn    string `json:"denom_in,omitempty"`
	AmountIn   string `json:"amount_in,omitempty"`
	DenomOut   string `json:"denom_out,omitempty"`
	MinReceive string `json:"min_receive,omitempty"`

	// Coins carries multi-coin inputs for liquidity provision.
	Coins map[string]string `json:"coins,omitempty"`
	// MinReceives bounds multi-coin outputs per denom.
	MinReceives map[string]string `json:"min_receives,omitempty"`

	LpDenom string `json:"lp_denom,omitempty"`

	Vault  string `json:"vault,omitempty"`
	Shares string `json:"shares,omitempty"`
	ID     uint64 `json:"id,omitempty"`

	Recipient          string `json:"recipient,omitempty"`
	RecipientAccountID string `json:"recipient_account_id,omitempty"`
}

func decodeActions(requests []actionRequest) ([]creditmanager.Action, error) {
	actions := make([]creditmanager.Action, 0, len(requests))
	for i, req := range requests {
		action, err := decodeAction(req)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func decodeAction(req actionRequest) (creditmanager.Action, error) {
	switch strings.TrimSpace(req.Type) {
	case "deposit":
		coin, err := decodeCoin(req.Denom, req.Amount, true)
		if err != nil {
			return nil, err
		}
		return creditmanager.Deposit{Coin: coin}, nil
	case "withdraw":
		coin, err := decodeCoin(req.Denom, req.Amount, true)
		if err != nil {
			return nil, err
		}
		action := creditmanager.Withdraw{Coin: coin}
		if strings.TrimSpace(req.Recipient) != "" {
			recipient, err := crypto.DecodeAddress(req.Recipient)
			if err != nil {
				return nil, err
			}
			action.Recipient = &recipient
		}
		return action, nil
	case "borrow":
		coin, err := decodeCoin(req.Denom, req.Amount, true)
		if err != nil {
			return nil, err
		}
		return creditmanager.Borrow{Coin: coin}, nil
	case "repay":
		amount, err := decodeOptionalAmount(req.Amount)
		if err != nil {
			return nil, err
		}
		return creditmanager.Repay{
			Denom:              req.Denom,
			Amount:             amount,
			RecipientAccountID: req.RecipientAccountID,
		}, nil
	case "repay_from_wallet":
		coin, err := decodeCoin(req.Denom, req.Amount, true)
		if err != nil {
			return nil, err
		}
		return creditmanager.RepayFromWallet{AccountID: req.RecipientAccountID, Coin: coin}, nil
	case "lend":
		coin, err := decodeCoin(req.Denom, req.Amount, true)
		if err != nil {
			return nil, err
		}
		return creditmanager.Lend{Coin: coin}, nil
	case "reclaim":
		amount, err := decodeOptionalAmount(req.Amount)
		if err != nil {
			return nil, err
		}
		return creditmanager.Reclaim{Denom: req.Denom, Amount: amount}, nil
	case "swap_exact_in":
		amountIn, err := decodeOptionalAmount(req.AmountIn)
		if err != nil {
			return nil, err
		}
		minReceive, err := decodeOptionalAmount(req.MinReceive)
		if err != nil {
			return nil, err
		}
		return creditmanager.SwapExactIn{
			DenomIn:    req.DenomIn,
			AmountIn:   amountIn,
			DenomOut:   req.DenomOut,
			MinReceive: minReceive,
		}, nil
	case "provide_liquidity":
		coins, err := decodeCoins(req.Coins)
		if err != nil {
			return nil, err
		}
		minReceive, err := decodeOptionalAmount(req.MinReceive)
		if err != nil {
			return nil, err
		}
		return creditmanager.ProvideLiquidity{CoinsIn: coins, LpDenom: req.LpDenom, MinReceive: minReceive}, nil
	case "withdraw_liquidity":
		amount, err := decodeOptionalAmount(req.Amount)
		if err != nil {
			return nil, err
		}
		minReceives, err := decodeAmounts(req.MinReceives)
		if err != nil {
			return nil, err
		}
		return creditmanager.WithdrawLiquidity{LpDenom: req.LpDenom, Amount: amount, MinReceives: types.Coins(minReceives)}, nil
	case "enter_vault":
		vault, err := crypto.DecodeAddress(req.Vault)
		if err != nil {
			return nil, err
		}
		coin, err := decodeCoin(req.Denom, req.Amount, true)
		if err != nil {
			return nil, err
		}
		return creditmanager.EnterVault{Vault: vault, Coin: coin}, nil
	case "exit_vault":
		vault, err := crypto.DecodeAddress(req.Vault)
		if err != nil {
			return nil, err
		}
		shares, err := decodeOptionalAmount(req.Shares)
		if err != nil {
			return nil, err
		}
		return creditmanager.ExitVault{Vault: vault, Shares: shares}, nil
	case "request_vault_unlock":
		vault, err := crypto.DecodeAddress(req.Vault)
		if err != nil {
			return nil, err
		}
		shares, err := decodeOptionalAmount(req.Shares)
		if err != nil {
			return nil, err
		}
		return creditmanager.RequestVaultUnlock{Vault: vault, Shares: shares}, nil
	case "exit_vault_unlocked":
		vault, err := crypto.DecodeAddress(req.Vault)
		if err != nil {
			return nil, err
		}
		return creditmanager.ExitVaultUnlocked{Vault: vault, ID: req.ID}, nil
	case "stake_astro_lp":
		amount, err := decodeOptionalAmount(req.Amount)
		if err != nil {
			return nil, err
		}
		return creditmanager.StakeAstroLp{LpDenom: req.LpDenom, Amount: amount}, nil
	case "unstake_astro_lp":
		amount, err := decodeOptionalAmount(req.Amount)
		if err != nil {
			return nil, err
		}
		return creditmanager.UnstakeAstroLp{LpDenom: req.LpDenom, Amount: amount}, nil
	case "claim_astro_lp_rewards":
		return creditmanager.ClaimAstroLpRewards{LpDenom: req.LpDenom}, nil
	case "refund_all_coin_balances":
		return creditmanager.RefundAllCoinBalances{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errBadAction, req.Type)
	}
}

func decodeCoin(denom, amount string, required bool) (types.Coin, error) {
	if strings.TrimSpace(denom) == "" {
		return types.Coin{}, fmt.Errorf("%w: denom is required", errBadAction)
	}
	parsed, err := parseAmount(amount, required)
	if err != nil {
		return types.Coin{}, fmt.Errorf("%w: %v", errBadAction, err)
	}
	if parsed == nil {
		return types.Coin{Denom: denom}, nil
	}
	return types.NewCoin(denom, parsed), nil
}

func decodeOptionalAmount(amount string) (*big.Int, error) {
	parsed, err := parseAmount(amount, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadAction, err)
	}
	return parsed, nil
}

func decodeCoins(raw map[string]string) ([]types.Coin, error) {
	coins := make([]types.Coin, 0, len(raw))
	for denom, amount := range raw {
		coin, err := decodeCoin(denom, amount, true)
		if err != nil {
			return nil, err
		}
		coins = append(coins, coin)
	}
	return coins, nil
}

func decodeAmounts(raw map[string]string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(raw))
	for denom, amount := range raw {
		parsed, err := parseAmount(amount, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadAction, err)
		}
		out[denom] = parsed
	}
	return out, nil
}
