package server

import (
	"math/big"

	"marsbank/native/creditmanager"
)

type vaultPositionResponse struct {
	Vault          string            `json:"vault"`
	LockedShares   string            `json:"locked_shares"`
	UnlockedShares string            `json:"unlocked_shares"`
	Unlocking      []trancheResponse `json:"unlocking,omitempty"`
}

type trancheResponse struct {
	ID         uint64 `json:"id"`
	Shares     string `json:"shares"`
	BaseDenom  string `json:"base_denom"`
	BaseAmount string `json:"base_amount"`
	ReleaseAt  uint64 `json:"release_at"`
}

type accountResponse struct {
	AccountID string                  `json:"account_id"`
	Owner     string                  `json:"owner"`
	Kind      string                  `json:"kind"`
	Coins     map[string]string       `json:"coins"`
	Debts     map[string]string       `json:"debts"`
	Lends     map[string]string       `json:"lends"`
	Vaults    []vaultPositionResponse `json:"vaults,omitempty"`
	StakedLps map[string]string       `json:"staked_lps,omitempty"`
}

func accountPositionsResponse(snapshot *creditmanager.PositionsSnapshot) accountResponse {
	resp := accountResponse{
		AccountID: snapshot.Account.ID,
		Owner:     snapshot.Account.Owner.String(),
		Kind:      string(snapshot.Account.Kind),
		Coins:     amountStrings(snapshot.Coins),
		Debts:     amountStrings(snapshot.Debts),
		Lends:     amountStrings(snapshot.Lends),
	}
	for _, vault := range snapshot.Vaults {
		entry := vaultPositionResponse{
			Vault:          vault.Vault.String(),
			LockedShares:   vault.LockedShares.String(),
			UnlockedShares: vault.UnlockedShares.String(),
		}
		for _, tranche := range vault.Unlocking {
			entry.Unlocking = append(entry.Unlocking, trancheResponse{
				ID:         tranche.ID,
				Shares:     tranche.Shares.String(),
				BaseDenom:  tranche.BaseDenom,
				BaseAmount: tranche.BaseAmount.String(),
				ReleaseAt:  tranche.ReleaseAt,
			})
		}
		resp.Vaults = append(resp.Vaults, entry)
	}
	if len(snapshot.Lps) > 0 {
		resp.StakedLps = make(map[string]string, len(snapshot.Lps))
		for _, lp := range snapshot.Lps {
			resp.StakedLps[lp.Denom] = lp.Staked.String()
		}
	}
	return resp
}

func amountStrings(amounts map[string]*big.Int) map[string]string {
	out := make(map[string]string, len(amounts))
	for denom, amount := range amounts {
		if amount == nil {
			continue
		}
		out[denom] = amount.String()
	}
	return out
}
