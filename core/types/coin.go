package types

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Coin pairs an asset denomination with an amount denominated in the asset's
// base units. Amounts are big integers to match on-chain precision.
type Coin struct {
	Denom  string   `json:"denom"`
	Amount *big.Int `json:"amount"`
}

// NewCoin constructs a coin with a defensive copy of the amount.
func NewCoin(denom string, amount *big.Int) Coin {
	c := Coin{Denom: strings.TrimSpace(denom), Amount: big.NewInt(0)}
	if amount != nil {
		c.Amount = new(big.Int).Set(amount)
	}
	return c
}

// NewCoin64 constructs a coin from an int64 amount. Test helper sugar.
func NewCoin64(denom string, amount int64) Coin {
	return NewCoin(denom, big.NewInt(amount))
}

// Clone returns a deep copy of the coin.
func (c Coin) Clone() Coin {
	return NewCoin(c.Denom, c.Amount)
}

// IsPositive reports whether the coin carries a strictly positive amount.
func (c Coin) IsPositive() bool {
	return c.Amount != nil && c.Amount.Sign() > 0
}

// IsZero reports whether the coin amount is nil or zero.
func (c Coin) IsZero() bool {
	return c.Amount == nil || c.Amount.Sign() == 0
}

func (c Coin) String() string {
	amount := "0"
	if c.Amount != nil {
		amount = c.Amount.String()
	}
	return fmt.Sprintf("%s%s", amount, c.Denom)
}

// Validate rejects coins with an empty denom or a missing/negative amount.
func (c Coin) Validate() error {
	if strings.TrimSpace(c.Denom) == "" {
		return fmt.Errorf("coin: denom must not be empty")
	}
	if c.Amount == nil || c.Amount.Sign() < 0 {
		return fmt.Errorf("coin: amount must be non-negative")
	}
	return nil
}

// Coins is a denom-keyed multiset of amounts.
type Coins map[string]*big.Int

// NewCoins builds a Coins set from the provided list, merging duplicates.
func NewCoins(coins ...Coin) Coins {
	out := make(Coins, len(coins))
	for _, coin := range coins {
		out.Add(coin)
	}
	return out
}

// Add merges a coin into the set. Zero and nil amounts are ignored.
func (c Coins) Add(coin Coin) {
	if coin.Amount == nil || coin.Amount.Sign() == 0 {
		return
	}
	if existing, ok := c[coin.Denom]; ok {
		c[coin.Denom] = new(big.Int).Add(existing, coin.Amount)
		return
	}
	c[coin.Denom] = new(big.Int).Set(coin.Amount)
}

// AmountOf returns the amount held for denom, zero when absent.
func (c Coins) AmountOf(denom string) *big.Int {
	if amount, ok := c[denom]; ok && amount != nil {
		return new(big.Int).Set(amount)
	}
	return big.NewInt(0)
}

// Sorted flattens the set into a deterministic denom-ordered list.
func (c Coins) Sorted() []Coin {
	denoms := make([]string, 0, len(c))
	for denom := range c {
		denoms = append(denoms, denom)
	}
	sort.Strings(denoms)
	out := make([]Coin, 0, len(denoms))
	for _, denom := range denoms {
		out = append(out, NewCoin(denom, c[denom]))
	}
	return out
}
