// Package params holds the governance-controlled risk parameters consumed by
// the red bank, the credit manager and the health computer.
package params

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"marsbank/crypto"
)

var (
	errEmptyDenom       = errors.New("params: denom must not be empty")
	errMissingRatio     = errors.New("params: ratio must be set")
	errRatioOutOfRange  = errors.New("params: ratio must be between 0 and 1")
	errThresholdTooLow  = errors.New("params: liquidation threshold must be >= max loan to value")
	errCloseFactorRange = errors.New("params: close factor must be between 0 and 1")
)

// RedBankSettings gates the money-market flows for an asset.
type RedBankSettings struct {
	DepositEnabled bool
	BorrowEnabled  bool
}

// HLSParams carries the tighter risk table applied to high-leverage strategy
// accounts, plus the set of denoms considered correlated with the strategy
// base asset.
type HLSParams struct {
	MaxLoanToValue       *big.Rat
	LiquidationThreshold *big.Rat
	CorrelatedDenoms     []string
}

// Clone returns a deep copy of the HLS parameters.
func (h *HLSParams) Clone() *HLSParams {
	if h == nil {
		return nil
	}
	clone := &HLSParams{
		CorrelatedDenoms: append([]string(nil), h.CorrelatedDenoms...),
	}
	if h.MaxLoanToValue != nil {
		clone.MaxLoanToValue = new(big.Rat).Set(h.MaxLoanToValue)
	}
	if h.LiquidationThreshold != nil {
		clone.LiquidationThreshold = new(big.Rat).Set(h.LiquidationThreshold)
	}
	return clone
}

// IsCorrelated reports whether denom belongs to the strategy's correlated set.
func (h *HLSParams) IsCorrelated(denom string) bool {
	if h == nil {
		return false
	}
	for _, d := range h.CorrelatedDenoms {
		if d == denom {
			return true
		}
	}
	return false
}

// CreditManagerSettings gates credit-account usage of an asset.
type CreditManagerSettings struct {
	Whitelisted bool
	HLS         *HLSParams
}

// AssetParams groups the per-denom risk parameters.
type AssetParams struct {
	Denom                string
	MaxLoanToValue       *big.Rat
	LiquidationThreshold *big.Rat
	LiquidationBonus     *big.Rat
	DepositCap           *big.Int
	RedBank              RedBankSettings
	CreditManager        CreditManagerSettings
}

// Clone returns a deep copy of the asset parameters.
func (p *AssetParams) Clone() *AssetParams {
	if p == nil {
		return nil
	}
	clone := &AssetParams{
		Denom:         p.Denom,
		RedBank:       p.RedBank,
		CreditManager: CreditManagerSettings{Whitelisted: p.CreditManager.Whitelisted, HLS: p.CreditManager.HLS.Clone()},
	}
	if p.MaxLoanToValue != nil {
		clone.MaxLoanToValue = new(big.Rat).Set(p.MaxLoanToValue)
	}
	if p.LiquidationThreshold != nil {
		clone.LiquidationThreshold = new(big.Rat).Set(p.LiquidationThreshold)
	}
	if p.LiquidationBonus != nil {
		clone.LiquidationBonus = new(big.Rat).Set(p.LiquidationBonus)
	}
	if p.DepositCap != nil {
		clone.DepositCap = new(big.Int).Set(p.DepositCap)
	}
	return clone
}

// Validate checks internal consistency of the asset parameters.
func (p *AssetParams) Validate() error {
	if p == nil || strings.TrimSpace(p.Denom) == "" {
		return errEmptyDenom
	}
	if err := validateRatio(p.MaxLoanToValue); err != nil {
		return fmt.Errorf("max loan to value for %s: %w", p.Denom, err)
	}
	if err := validateRatio(p.LiquidationThreshold); err != nil {
		return fmt.Errorf("liquidation threshold for %s: %w", p.Denom, err)
	}
	if p.LiquidationThreshold.Cmp(p.MaxLoanToValue) < 0 {
		return errThresholdTooLow
	}
	if p.LiquidationBonus != nil && p.LiquidationBonus.Sign() < 0 {
		return fmt.Errorf("liquidation bonus for %s: %w", p.Denom, errRatioOutOfRange)
	}
	return nil
}

// VaultConfig carries the risk parameters for a vault position.
type VaultConfig struct {
	Addr                 crypto.Address
	MaxLoanToValue       *big.Rat
	LiquidationThreshold *big.Rat
	DepositCap           *big.Int
	Whitelisted          bool
	HLS                  *HLSParams
}

// Clone returns a deep copy of the vault configuration.
func (v *VaultConfig) Clone() *VaultConfig {
	if v == nil {
		return nil
	}
	clone := &VaultConfig{
		Addr:        v.Addr,
		Whitelisted: v.Whitelisted,
		HLS:         v.HLS.Clone(),
	}
	if v.MaxLoanToValue != nil {
		clone.MaxLoanToValue = new(big.Rat).Set(v.MaxLoanToValue)
	}
	if v.LiquidationThreshold != nil {
		clone.LiquidationThreshold = new(big.Rat).Set(v.LiquidationThreshold)
	}
	if v.DepositCap != nil {
		clone.DepositCap = new(big.Int).Set(v.DepositCap)
	}
	return clone
}

// Validate checks internal consistency of the vault configuration.
func (v *VaultConfig) Validate() error {
	if v == nil || v.Addr.IsZero() {
		return errors.New("params: vault address must be set")
	}
	if err := validateRatio(v.MaxLoanToValue); err != nil {
		return fmt.Errorf("vault max loan to value: %w", err)
	}
	if err := validateRatio(v.LiquidationThreshold); err != nil {
		return fmt.Errorf("vault liquidation threshold: %w", err)
	}
	if v.LiquidationThreshold.Cmp(v.MaxLoanToValue) < 0 {
		return errThresholdTooLow
	}
	return nil
}

// Globals carries protocol-wide tunables.
type Globals struct {
	// CloseFactor bounds the fraction of a debt position repayable in a
	// single liquidation.
	CloseFactor *big.Rat
	// TargetHealthFactor is exposed to liquidators for sizing repays.
	TargetHealthFactor *big.Rat
}

// Validate checks the global parameter ranges.
func (g *Globals) Validate() error {
	if g == nil || g.CloseFactor == nil || g.CloseFactor.Sign() <= 0 || g.CloseFactor.Cmp(big.NewRat(1, 1)) > 0 {
		return errCloseFactorRange
	}
	if g.TargetHealthFactor != nil && g.TargetHealthFactor.Cmp(big.NewRat(1, 1)) < 0 {
		return errors.New("params: target health factor must be >= 1")
	}
	return nil
}

// View is the read surface the engines depend on. Absent records are returned
// as nil without an error.
type View interface {
	AssetParams(denom string) (*AssetParams, error)
	VaultConfig(addr crypto.Address) (*VaultConfig, error)
	Globals() (*Globals, error)
}

func validateRatio(r *big.Rat) error {
	if r == nil {
		return errMissingRatio
	}
	if r.Sign() < 0 || r.Cmp(big.NewRat(1, 1)) > 0 {
		return errRatioOutOfRange
	}
	return nil
}
