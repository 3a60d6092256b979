package redbank

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"marsbank/crypto"
	"marsbank/storage/statestore"
)

var (
	marketKeyPrefix     = []byte("redbank/market/")
	collateralKeyPrefix = []byte("redbank/collateral/")
	debtKeyPrefix       = []byte("redbank/debt/")
	loanLimitKeyPrefix  = []byte("redbank/limit/")
	balanceKeyPrefix    = []byte("bank/balance/")
)

func marketKey(denom string) []byte {
	return append(append([]byte{}, marketKeyPrefix...), []byte(denom)...)
}

func userPrefix(prefix []byte, user crypto.Address) []byte {
	key := append([]byte{}, prefix...)
	key = append(key, []byte(hex.EncodeToString(user.Bytes()))...)
	return append(key, '/')
}

func userDenomKey(prefix []byte, user crypto.Address, denom string) []byte {
	return append(userPrefix(prefix, user), []byte(denom)...)
}

// Store persists red bank state in a key-value store with RLP-encoded
// records. It satisfies the engine's state interface.
type Store struct {
	kv statestore.KVStore
}

// NewStore wraps the given key-value store.
func NewStore(kv statestore.KVStore) *Store {
	return &Store{kv: kv}
}

type storedMarket struct {
	Denom                 string
	LiquidityIndex        *big.Int
	BorrowIndex           *big.Int
	LiquidityRate         string
	BorrowRate            string
	CollateralTotalScaled *big.Int
	DebtTotalScaled       *big.Int
	ReserveFactor         string
	Base                  string
	Slope1                string
	Slope2                string
	OptimalUtilization    string
	IndexesLastUpdated    uint64
	Active                bool
}

type storedCollateral struct {
	AmountScaled *big.Int
	Enabled      bool
}

type storedDebt struct {
	AmountScaled     *big.Int
	Uncollateralized bool
}

func (s *Store) GetMarket(denom string) (*Market, error) {
	var stored storedMarket
	ok, err := s.kv.KVGet(marketKey(denom), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return decodeMarket(&stored)
}

func (s *Store) PutMarket(market *Market) error {
	if market == nil {
		return fmt.Errorf("red bank: market must not be nil")
	}
	return s.kv.KVPut(marketKey(market.Denom), encodeMarket(market))
}

func (s *Store) Markets() ([]*Market, error) {
	var markets []*Market
	err := s.kv.KVIterate(marketKeyPrefix, func(key, value []byte) error {
		var stored storedMarket
		if err := statestore.Decode(value, &stored); err != nil {
			return err
		}
		market, err := decodeMarket(&stored)
		if err != nil {
			return err
		}
		markets = append(markets, market)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return markets, nil
}

func (s *Store) GetCollateral(user crypto.Address, denom string) (*Collateral, error) {
	var stored storedCollateral
	ok, err := s.kv.KVGet(userDenomKey(collateralKeyPrefix, user, denom), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &Collateral{AmountScaled: normalizeBig(stored.AmountScaled), Enabled: stored.Enabled}, nil
}

func (s *Store) PutCollateral(user crypto.Address, denom string, collateral *Collateral) error {
	if collateral == nil {
		return fmt.Errorf("red bank: collateral must not be nil")
	}
	stored := storedCollateral{AmountScaled: normalizeBig(collateral.AmountScaled), Enabled: collateral.Enabled}
	return s.kv.KVPut(userDenomKey(collateralKeyPrefix, user, denom), stored)
}

func (s *Store) DeleteCollateral(user crypto.Address, denom string) error {
	return s.kv.KVDelete(userDenomKey(collateralKeyPrefix, user, denom))
}

func (s *Store) UserCollaterals(user crypto.Address) ([]UserCollateral, error) {
	prefix := userPrefix(collateralKeyPrefix, user)
	var entries []UserCollateral
	err := s.kv.KVIterate(prefix, func(key, value []byte) error {
		var stored storedCollateral
		if err := statestore.Decode(value, &stored); err != nil {
			return err
		}
		entries = append(entries, UserCollateral{
			Denom:      string(bytes.TrimPrefix(key, prefix)),
			Collateral: Collateral{AmountScaled: normalizeBig(stored.AmountScaled), Enabled: stored.Enabled},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetDebt(user crypto.Address, denom string) (*Debt, error) {
	var stored storedDebt
	ok, err := s.kv.KVGet(userDenomKey(debtKeyPrefix, user, denom), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &Debt{AmountScaled: normalizeBig(stored.AmountScaled), Uncollateralized: stored.Uncollateralized}, nil
}

func (s *Store) PutDebt(user crypto.Address, denom string, debt *Debt) error {
	if debt == nil {
		return fmt.Errorf("red bank: debt must not be nil")
	}
	stored := storedDebt{AmountScaled: normalizeBig(debt.AmountScaled), Uncollateralized: debt.Uncollateralized}
	return s.kv.KVPut(userDenomKey(debtKeyPrefix, user, denom), stored)
}

func (s *Store) DeleteDebt(user crypto.Address, denom string) error {
	return s.kv.KVDelete(userDenomKey(debtKeyPrefix, user, denom))
}

func (s *Store) UserDebts(user crypto.Address) ([]UserDebt, error) {
	prefix := userPrefix(debtKeyPrefix, user)
	var entries []UserDebt
	err := s.kv.KVIterate(prefix, func(key, value []byte) error {
		var stored storedDebt
		if err := statestore.Decode(value, &stored); err != nil {
			return err
		}
		entries = append(entries, UserDebt{
			Denom: string(bytes.TrimPrefix(key, prefix)),
			Debt:  Debt{AmountScaled: normalizeBig(stored.AmountScaled), Uncollateralized: stored.Uncollateralized},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetLoanLimit(user crypto.Address, denom string) (*big.Int, error) {
	var stored big.Int
	ok, err := s.kv.KVGet(userDenomKey(loanLimitKeyPrefix, user, denom), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &stored, nil
}

func (s *Store) PutLoanLimit(user crypto.Address, denom string, limit *big.Int) error {
	key := userDenomKey(loanLimitKeyPrefix, user, denom)
	if limit == nil || limit.Sign() == 0 {
		return s.kv.KVDelete(key)
	}
	return s.kv.KVPut(key, limit)
}

func (s *Store) GetBalance(addr crypto.Address, denom string) (*big.Int, error) {
	var stored big.Int
	ok, err := s.kv.KVGet(userDenomKey(balanceKeyPrefix, addr, denom), &stored)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	return &stored, nil
}

func (s *Store) SetBalance(addr crypto.Address, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("red bank: balance must not be negative")
	}
	key := userDenomKey(balanceKeyPrefix, addr, denom)
	if amount.Sign() == 0 {
		return s.kv.KVDelete(key)
	}
	return s.kv.KVPut(key, amount)
}

func encodeMarket(market *Market) *storedMarket {
	stored := &storedMarket{
		Denom:                 market.Denom,
		LiquidityIndex:        normalizeBig(market.LiquidityIndex),
		BorrowIndex:           normalizeBig(market.BorrowIndex),
		LiquidityRate:         encodeRat(market.LiquidityRate),
		BorrowRate:            encodeRat(market.BorrowRate),
		CollateralTotalScaled: normalizeBig(market.CollateralTotalScaled),
		DebtTotalScaled:       normalizeBig(market.DebtTotalScaled),
		ReserveFactor:         encodeRat(market.ReserveFactor),
		Base:                  encodeRat(market.InterestRateModel.Base),
		Slope1:                encodeRat(market.InterestRateModel.Slope1),
		Slope2:                encodeRat(market.InterestRateModel.Slope2),
		OptimalUtilization:    encodeRat(market.InterestRateModel.OptimalUtilization),
		IndexesLastUpdated:    market.IndexesLastUpdated,
		Active:                market.Active,
	}
	return stored
}

func decodeMarket(stored *storedMarket) (*Market, error) {
	market := &Market{
		Denom:                 stored.Denom,
		LiquidityIndex:        normalizeBig(stored.LiquidityIndex),
		BorrowIndex:           normalizeBig(stored.BorrowIndex),
		CollateralTotalScaled: normalizeBig(stored.CollateralTotalScaled),
		DebtTotalScaled:       normalizeBig(stored.DebtTotalScaled),
		IndexesLastUpdated:    stored.IndexesLastUpdated,
		Active:                stored.Active,
	}
	var err error
	if market.LiquidityRate, err = decodeRat(stored.LiquidityRate); err != nil {
		return nil, err
	}
	if market.BorrowRate, err = decodeRat(stored.BorrowRate); err != nil {
		return nil, err
	}
	if market.ReserveFactor, err = decodeRat(stored.ReserveFactor); err != nil {
		return nil, err
	}
	model := InterestRateModel{}
	if model.Base, err = decodeRat(stored.Base); err != nil {
		return nil, err
	}
	if model.Slope1, err = decodeRat(stored.Slope1); err != nil {
		return nil, err
	}
	if model.Slope2, err = decodeRat(stored.Slope2); err != nil {
		return nil, err
	}
	if model.OptimalUtilization, err = decodeRat(stored.OptimalUtilization); err != nil {
		return nil, err
	}
	market.InterestRateModel = model
	return market, nil
}

func encodeRat(r *big.Rat) string {
	if r == nil {
		return "0/1"
	}
	return r.RatString()
}

func decodeRat(s string) (*big.Rat, error) {
	if s == "" {
		return new(big.Rat), nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("red bank: invalid rational %q", s)
	}
	return r, nil
}

func normalizeBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
