package events

import (
	"math/big"

	"marsbank/core/types"
	"marsbank/crypto"
)

const (
	// TypeRedBankDeposit is emitted when liquidity enters a money market.
	TypeRedBankDeposit = "redbank.deposit"
	// TypeRedBankWithdraw is emitted when liquidity leaves a money market.
	TypeRedBankWithdraw = "redbank.withdraw"
	// TypeRedBankBorrow is emitted when debt is drawn from a market.
	TypeRedBankBorrow = "redbank.borrow"
	// TypeRedBankRepay is emitted when outstanding debt is reduced.
	TypeRedBankRepay = "redbank.repay"
	// TypeRedBankLiquidate is emitted when collateral is seized against bad debt.
	TypeRedBankLiquidate = "redbank.liquidate"
	// TypeRedBankInterestsUpdated carries the refreshed indices and rates.
	TypeRedBankInterestsUpdated = "redbank.interests_updated"
	// TypeRedBankCollateralToggled is emitted when a collateral flag changes.
	TypeRedBankCollateralToggled = "redbank.collateral_toggled"
)

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func ratString(v *big.Rat) string {
	if v == nil {
		return "0"
	}
	return v.FloatString(18)
}

type RedBankDeposit struct {
	User         crypto.Address
	Denom        string
	Amount       *big.Int
	AmountScaled *big.Int
}

func (RedBankDeposit) EventType() string { return TypeRedBankDeposit }

func (e RedBankDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeRedBankDeposit,
		Attributes: map[string]string{
			"action":        "deposit",
			"user":          e.User.String(),
			"denom":         e.Denom,
			"amount":        bigString(e.Amount),
			"amount_scaled": bigString(e.AmountScaled),
		},
	}
}

type RedBankWithdraw struct {
	User         crypto.Address
	Recipient    crypto.Address
	Denom        string
	Amount       *big.Int
	AmountScaled *big.Int
}

func (RedBankWithdraw) EventType() string { return TypeRedBankWithdraw }

func (e RedBankWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeRedBankWithdraw,
		Attributes: map[string]string{
			"action":        "withdraw",
			"user":          e.User.String(),
			"recipient":     e.Recipient.String(),
			"denom":         e.Denom,
			"amount":        bigString(e.Amount),
			"amount_scaled": bigString(e.AmountScaled),
		},
	}
}

type RedBankBorrow struct {
	User         crypto.Address
	Recipient    crypto.Address
	Denom        string
	Amount       *big.Int
	AmountScaled *big.Int
}

func (RedBankBorrow) EventType() string { return TypeRedBankBorrow }

func (e RedBankBorrow) Event() *types.Event {
	return &types.Event{
		Type: TypeRedBankBorrow,
		Attributes: map[string]string{
			"action":        "borrow",
			"user":          e.User.String(),
			"recipient":     e.Recipient.String(),
			"denom":         e.Denom,
			"amount":        bigString(e.Amount),
			"amount_scaled": bigString(e.AmountScaled),
		},
	}
}

type RedBankRepay struct {
	User         crypto.Address
	Denom        string
	Amount       *big.Int
	AmountScaled *big.Int
	Refund       *big.Int
}

func (RedBankRepay) EventType() string { return TypeRedBankRepay }

func (e RedBankRepay) Event() *types.Event {
	return &types.Event{
		Type: TypeRedBankRepay,
		Attributes: map[string]string{
			"action":        "repay",
			"user":          e.User.String(),
			"denom":         e.Denom,
			"amount":        bigString(e.Amount),
			"amount_scaled": bigString(e.AmountScaled),
			"refund":        bigString(e.Refund),
		},
	}
}

type RedBankLiquidate struct {
	Liquidator       crypto.Address
	User             crypto.Address
	CollateralDenom  string
	DebtDenom        string
	DebtRepaid       *big.Int
	CollateralSeized *big.Int
	Refund           *big.Int
}

func (RedBankLiquidate) EventType() string { return TypeRedBankLiquidate }

func (e RedBankLiquidate) Event() *types.Event {
	return &types.Event{
		Type: TypeRedBankLiquidate,
		Attributes: map[string]string{
			"action":            "liquidate",
			"liquidator":        e.Liquidator.String(),
			"user":              e.User.String(),
			"collateral_denom":  e.CollateralDenom,
			"debt_denom":        e.DebtDenom,
			"debt_repaid":       bigString(e.DebtRepaid),
			"collateral_seized": bigString(e.CollateralSeized),
			"refund":            bigString(e.Refund),
		},
	}
}

type RedBankInterestsUpdated struct {
	Denom          string
	LiquidityIndex *big.Int
	BorrowIndex    *big.Int
	LiquidityRate  *big.Rat
	BorrowRate     *big.Rat
}

func (RedBankInterestsUpdated) EventType() string { return TypeRedBankInterestsUpdated }

func (e RedBankInterestsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRedBankInterestsUpdated,
		Attributes: map[string]string{
			"action":          "interests_updated",
			"denom":           e.Denom,
			"liquidity_index": bigString(e.LiquidityIndex),
			"borrow_index":    bigString(e.BorrowIndex),
			"liquidity_rate":  ratString(e.LiquidityRate),
			"borrow_rate":     ratString(e.BorrowRate),
		},
	}
}

type RedBankCollateralToggled struct {
	User    crypto.Address
	Denom   string
	Enabled bool
}

func (RedBankCollateralToggled) EventType() string { return TypeRedBankCollateralToggled }

func (e RedBankCollateralToggled) Event() *types.Event {
	enabled := "false"
	if e.Enabled {
		enabled = "true"
	}
	return &types.Event{
		Type: TypeRedBankCollateralToggled,
		Attributes: map[string]string{
			"action":  "update_collateral_status",
			"user":    e.User.String(),
			"denom":   e.Denom,
			"enabled": enabled,
		},
	}
}
