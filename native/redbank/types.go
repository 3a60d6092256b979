package redbank

import (
	"math/big"

	"marsbank/crypto"
)

// Market captures the per-asset money-market state. Indices are ray (1e27)
// fixed point and monotonically non-decreasing; rates are instantaneous yearly
// rationals recomputed after every utilization change.
type Market struct {
	Denom string
	// LiquidityIndex converts between deposit-scaled and deposit-underlying.
	LiquidityIndex *big.Int
	// BorrowIndex converts between debt-scaled and debt-underlying.
	BorrowIndex *big.Int
	// LiquidityRate is the current yearly rate credited to depositors.
	LiquidityRate *big.Rat
	// BorrowRate is the current yearly rate charged to borrowers.
	BorrowRate *big.Rat
	// CollateralTotalScaled is the sum of all scaled collateral positions.
	CollateralTotalScaled *big.Int
	// DebtTotalScaled is the sum of all scaled debt positions.
	DebtTotalScaled *big.Int
	// ReserveFactor is the fraction of borrow interest withheld as protocol
	// reward.
	ReserveFactor *big.Rat
	// InterestRateModel shapes the borrow rate response to utilization.
	InterestRateModel InterestRateModel
	// IndexesLastUpdated is the unix second of the last index refresh.
	IndexesLastUpdated uint64
	// Active gates all flows for the market.
	Active bool
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := &Market{
		Denom:              m.Denom,
		IndexesLastUpdated: m.IndexesLastUpdated,
		Active:             m.Active,
		InterestRateModel:  m.InterestRateModel.Clone(),
	}
	if m.LiquidityIndex != nil {
		clone.LiquidityIndex = new(big.Int).Set(m.LiquidityIndex)
	}
	if m.BorrowIndex != nil {
		clone.BorrowIndex = new(big.Int).Set(m.BorrowIndex)
	}
	if m.LiquidityRate != nil {
		clone.LiquidityRate = new(big.Rat).Set(m.LiquidityRate)
	}
	if m.BorrowRate != nil {
		clone.BorrowRate = new(big.Rat).Set(m.BorrowRate)
	}
	if m.CollateralTotalScaled != nil {
		clone.CollateralTotalScaled = new(big.Int).Set(m.CollateralTotalScaled)
	}
	if m.DebtTotalScaled != nil {
		clone.DebtTotalScaled = new(big.Int).Set(m.DebtTotalScaled)
	}
	if m.ReserveFactor != nil {
		clone.ReserveFactor = new(big.Rat).Set(m.ReserveFactor)
	}
	return clone
}

// Collateral is a user's deposit position in one market. The underlying
// amount is AmountScaled multiplied by the market's liquidity index.
type Collateral struct {
	AmountScaled *big.Int
	// Enabled positions contribute to the holder's borrowing power;
	// disabled positions still earn interest.
	Enabled bool
}

// Debt is a user's borrow position in one market. The underlying amount is
// AmountScaled multiplied by the borrow index, rounded up.
type Debt struct {
	AmountScaled *big.Int
	// Uncollateralized marks debts drawn against a credit line and exempt
	// from the loan-to-value check.
	Uncollateralized bool
}

// UserCollateral pairs a collateral position with its market denom for
// position iteration.
type UserCollateral struct {
	Denom      string
	Collateral Collateral
}

// UserDebt pairs a debt position with its market denom.
type UserDebt struct {
	Denom string
	Debt  Debt
}

// engineState is the persistence surface the engine depends on. Missing
// records are returned as nil without an error.
type engineState interface {
	GetMarket(denom string) (*Market, error)
	PutMarket(market *Market) error
	Markets() ([]*Market, error)

	GetCollateral(user crypto.Address, denom string) (*Collateral, error)
	PutCollateral(user crypto.Address, denom string, collateral *Collateral) error
	DeleteCollateral(user crypto.Address, denom string) error
	UserCollaterals(user crypto.Address) ([]UserCollateral, error)

	GetDebt(user crypto.Address, denom string) (*Debt, error)
	PutDebt(user crypto.Address, denom string, debt *Debt) error
	DeleteDebt(user crypto.Address, denom string) error
	UserDebts(user crypto.Address) ([]UserDebt, error)

	GetLoanLimit(user crypto.Address, denom string) (*big.Int, error)
	PutLoanLimit(user crypto.Address, denom string, limit *big.Int) error

	GetBalance(addr crypto.Address, denom string) (*big.Int, error)
	SetBalance(addr crypto.Address, denom string, amount *big.Int) error
}
