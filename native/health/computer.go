package health

import (
	"errors"
	"math/big"

	"marsbank/crypto"
	"marsbank/native/oracle"
	"marsbank/native/params"
)

var (
	ErrNoParams      = errors.New("health: no risk params for denom")
	ErrNoVaultConfig = errors.New("health: no config for vault")
	ErrMissingHLS    = errors.New("health: asset has no HLS params")
	ErrUncorrelated  = errors.New("health: collateral not correlated with HLS debt")
)

// VaultValuer converts vault shares into their current base-token redemption
// value.
type VaultValuer interface {
	PreviewRedeem(vault crypto.Address, shares *big.Int) (denom string, amount *big.Int, err error)
}

// Computer prices account positions against the oracle and risk parameters.
type Computer struct {
	params params.View
	oracle oracle.Source
	vaults VaultValuer
}

// NewComputer wires a computer to its collaborators. The vault valuer may be
// nil when no vault positions will be valued.
func NewComputer(view params.View, source oracle.Source, vaults VaultValuer) *Computer {
	return &Computer{params: view, oracle: source, vaults: vaults}
}

// Compute values every position with the given pricing kind and derives both
// health factors. For HLS accounts the per-asset HLS overrides replace the
// standard ratios and collateral must be correlated with the debt denom.
func (c *Computer) Compute(kind AccountKind, positions Positions, pricing oracle.PricingKind) (*Values, error) {
	if c == nil || c.params == nil || c.oracle == nil {
		return nil, errors.New("health: computer not configured")
	}
	values := &Values{
		TotalCollateral:      new(big.Rat),
		TotalDebt:            new(big.Rat),
		MaxLTVAdjusted:       new(big.Rat),
		LiqThresholdAdjusted: new(big.Rat),
	}

	hlsDebtDenom := ""
	if kind == AccountKindHLS {
		for _, debt := range positions.Debts {
			if debt.Amount != nil && debt.Amount.Sign() > 0 {
				hlsDebtDenom = debt.Denom
				break
			}
		}
	}

	for _, position := range positions.Deposits {
		if err := c.addCollateral(values, kind, hlsDebtDenom, position, pricing); err != nil {
			return nil, err
		}
	}
	for _, position := range positions.Lends {
		if err := c.addCollateral(values, kind, hlsDebtDenom, position, pricing); err != nil {
			return nil, err
		}
	}
	for _, vault := range positions.Vaults {
		if err := c.addVault(values, kind, hlsDebtDenom, vault, pricing); err != nil {
			return nil, err
		}
	}

	for _, debt := range positions.Debts {
		if debt.Amount == nil || debt.Amount.Sign() == 0 {
			continue
		}
		price, err := c.oracle.Price(debt.Denom, pricing)
		if err != nil {
			return nil, err
		}
		values.TotalDebt.Add(values.TotalDebt, new(big.Rat).Mul(new(big.Rat).SetInt(debt.Amount), price))
	}

	if values.TotalDebt.Sign() > 0 {
		values.MaxLTVHealthFactor = new(big.Rat).Quo(values.MaxLTVAdjusted, values.TotalDebt)
		values.LiquidationHealthFactor = new(big.Rat).Quo(values.LiqThresholdAdjusted, values.TotalDebt)
	}
	return values, nil
}

// collateralRatios resolves the LTV and liquidation threshold that apply to
// one collateral denom under the account kind. Non-whitelisted assets keep
// their market value but contribute nothing to borrowing power.
func (c *Computer) collateralRatios(kind AccountKind, hlsDebtDenom, denom string) (maxLTV, liqThreshold *big.Rat, err error) {
	assetParams, err := c.params.AssetParams(denom)
	if err != nil {
		return nil, nil, err
	}
	if assetParams == nil {
		return nil, nil, ErrNoParams
	}

	if kind == AccountKindHLS {
		hls := assetParams.CreditManager.HLS
		if hls == nil {
			return nil, nil, ErrMissingHLS
		}
		if hlsDebtDenom != "" && denom != hlsDebtDenom && !hls.IsCorrelated(hlsDebtDenom) {
			return nil, nil, ErrUncorrelated
		}
		return hls.MaxLoanToValue, hls.LiquidationThreshold, nil
	}

	if !assetParams.CreditManager.Whitelisted {
		return new(big.Rat), new(big.Rat), nil
	}
	return assetParams.MaxLoanToValue, assetParams.LiquidationThreshold, nil
}

func (c *Computer) addCollateral(values *Values, kind AccountKind, hlsDebtDenom string, position CollateralPosition, pricing oracle.PricingKind) error {
	if position.Amount == nil || position.Amount.Sign() == 0 {
		return nil
	}
	price, err := c.oracle.Price(position.Denom, pricing)
	if err != nil {
		return err
	}
	value := new(big.Rat).Mul(new(big.Rat).SetInt(position.Amount), price)
	values.TotalCollateral.Add(values.TotalCollateral, value)

	maxLTV, liqThreshold, err := c.collateralRatios(kind, hlsDebtDenom, position.Denom)
	if err != nil {
		return err
	}
	if maxLTV != nil {
		values.MaxLTVAdjusted.Add(values.MaxLTVAdjusted, new(big.Rat).Mul(value, maxLTV))
	}
	if liqThreshold != nil {
		values.LiqThresholdAdjusted.Add(values.LiqThresholdAdjusted, new(big.Rat).Mul(value, liqThreshold))
	}
	return nil
}

// addVault values locked and unlocked shares at their current redemption
// value under the vault's own ratios, and unlocking tranches at their
// recorded base amounts under the base asset's ratios.
func (c *Computer) addVault(values *Values, kind AccountKind, hlsDebtDenom string, vault VaultPosition, pricing oracle.PricingKind) error {
	config, err := c.params.VaultConfig(vault.Addr)
	if err != nil {
		return err
	}
	if config == nil {
		return ErrNoVaultConfig
	}

	shares := new(big.Int)
	if vault.LockedShares != nil {
		shares.Add(shares, vault.LockedShares)
	}
	if vault.UnlockedShares != nil {
		shares.Add(shares, vault.UnlockedShares)
	}
	if shares.Sign() > 0 {
		if c.vaults == nil {
			return errors.New("health: vault valuer not configured")
		}
		baseDenom, baseAmount, err := c.vaults.PreviewRedeem(vault.Addr, shares)
		if err != nil {
			return err
		}
		price, err := c.oracle.Price(baseDenom, pricing)
		if err != nil {
			return err
		}
		value := new(big.Rat).Mul(new(big.Rat).SetInt(baseAmount), price)
		values.TotalCollateral.Add(values.TotalCollateral, value)

		maxLTV, liqThreshold := config.MaxLoanToValue, config.LiquidationThreshold
		if kind == AccountKindHLS {
			if config.HLS == nil {
				return ErrMissingHLS
			}
			if hlsDebtDenom != "" && !config.HLS.IsCorrelated(hlsDebtDenom) {
				return ErrUncorrelated
			}
			maxLTV, liqThreshold = config.HLS.MaxLoanToValue, config.HLS.LiquidationThreshold
		} else if !config.Whitelisted {
			maxLTV, liqThreshold = new(big.Rat), new(big.Rat)
		}
		if maxLTV != nil {
			values.MaxLTVAdjusted.Add(values.MaxLTVAdjusted, new(big.Rat).Mul(value, maxLTV))
		}
		if liqThreshold != nil {
			values.LiqThresholdAdjusted.Add(values.LiqThresholdAdjusted, new(big.Rat).Mul(value, liqThreshold))
		}
	}

	for _, tranche := range vault.Unlocking {
		if err := c.addCollateral(values, kind, hlsDebtDenom, CollateralPosition{Denom: tranche.Denom, Amount: tranche.BaseAmount}, pricing); err != nil {
			return err
		}
	}
	return nil
}
