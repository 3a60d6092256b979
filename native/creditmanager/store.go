package creditmanager

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"marsbank/core/types"
	"marsbank/crypto"
	"marsbank/native/health"
	"marsbank/storage/statestore"
)

var (
	accountKeyPrefix    = []byte("cm/account/")
	ownerIndexKeyPrefix = []byte("cm/owner/")
	coinKeyPrefix       = []byte("cm/coin/")
	debtShareKeyPrefix  = []byte("cm/debtshares/")
	totalShareKeyPrefix = []byte("cm/totaldebtshares/")
	lendKeyPrefix       = []byte("cm/lend/")
	vaultKeyPrefix      = []byte("cm/vault/")
	vaultTotalKeyPrefix = []byte("cm/vaulttotal/")
	lpKeyPrefix         = []byte("cm/lp/")
	cmBalanceKeyPrefix  = []byte("bank/balance/")

	accountSeqKey = []byte("cm/seq/account")
	unlockSeqKey  = []byte("cm/seq/unlock")
)

func accountKey(id string) []byte {
	return append(append([]byte{}, accountKeyPrefix...), []byte(id)...)
}

func ownerIndexPrefix(owner crypto.Address) []byte {
	key := append([]byte{}, ownerIndexKeyPrefix...)
	key = append(key, []byte(hex.EncodeToString(owner.Bytes()))...)
	return append(key, '/')
}

func scopedPrefix(prefix []byte, id string) []byte {
	key := append([]byte{}, prefix...)
	key = append(key, []byte(id)...)
	return append(key, '/')
}

func scopedKey(prefix []byte, id, suffix string) []byte {
	return append(scopedPrefix(prefix, id), []byte(suffix)...)
}

// Store persists credit manager state in a key-value store with RLP-encoded
// records.
type Store struct {
	kv statestore.KVStore
}

// NewStore wraps the given key-value store.
func NewStore(kv statestore.KVStore) *Store {
	return &Store{kv: kv}
}

type storedAccount struct {
	ID    string
	Owner []byte
	Kind  string
}

type storedTranche struct {
	ID         uint64
	Shares     *big.Int
	BaseDenom  string
	BaseAmount *big.Int
	ReleaseAt  uint64
}

type storedVaultPosition struct {
	Vault          []byte
	LockedShares   *big.Int
	UnlockedShares *big.Int
	Unlocking      []storedTranche
}

func (s *Store) GetAccount(id string) (*Account, error) {
	var stored storedAccount
	ok, err := s.kv.KVGet(accountKey(id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &Account{
		ID:    stored.ID,
		Owner: crypto.NewAddress(crypto.MarsPrefix, stored.Owner),
		Kind:  health.AccountKind(stored.Kind),
	}, nil
}

func (s *Store) PutAccount(account *Account) error {
	if account == nil {
		return fmt.Errorf("credit manager: account must not be nil")
	}
	stored := storedAccount{ID: account.ID, Owner: account.Owner.Bytes(), Kind: string(account.Kind)}
	if err := s.kv.KVPut(accountKey(account.ID), stored); err != nil {
		return err
	}
	indexKey := append(ownerIndexPrefix(account.Owner), []byte(account.ID)...)
	return s.kv.KVPut(indexKey, account.ID)
}

func (s *Store) AccountsByOwner(owner crypto.Address) ([]string, error) {
	prefix := ownerIndexPrefix(owner)
	var ids []string
	err := s.kv.KVIterate(prefix, func(key, _ []byte) error {
		ids = append(ids, string(bytes.TrimPrefix(key, prefix)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) NextAccountID() (uint64, error) {
	return s.nextSequence(accountSeqKey)
}

func (s *Store) NextUnlockID() (uint64, error) {
	return s.nextSequence(unlockSeqKey)
}

func (s *Store) nextSequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := s.kv.KVGet(key, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := s.kv.KVPut(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) GetCoinBalance(id, denom string) (*big.Int, error) {
	return s.getBig(scopedKey(coinKeyPrefix, id, denom))
}

func (s *Store) SetCoinBalance(id, denom string, amount *big.Int) error {
	return s.setBig(scopedKey(coinKeyPrefix, id, denom), amount)
}

func (s *Store) CoinBalances(id string) (types.Coins, error) {
	prefix := scopedPrefix(coinKeyPrefix, id)
	coins := types.Coins{}
	err := s.kv.KVIterate(prefix, func(key, value []byte) error {
		var amount big.Int
		if err := statestore.Decode(value, &amount); err != nil {
			return err
		}
		coins.Add(types.Coin{Denom: string(bytes.TrimPrefix(key, prefix)), Amount: &amount})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return coins, nil
}

func (s *Store) GetDebtShares(id, denom string) (*big.Int, error) {
	return s.getBig(scopedKey(debtShareKeyPrefix, id, denom))
}

func (s *Store) SetDebtShares(id, denom string, shares *big.Int) error {
	return s.setBig(scopedKey(debtShareKeyPrefix, id, denom), shares)
}

func (s *Store) DebtShares(id string) (map[string]*big.Int, error) {
	return s.bigsByPrefix(scopedPrefix(debtShareKeyPrefix, id))
}

func (s *Store) GetTotalDebtShares(denom string) (*big.Int, error) {
	return s.getBig(append(append([]byte{}, totalShareKeyPrefix...), []byte(denom)...))
}

func (s *Store) SetTotalDebtShares(denom string, shares *big.Int) error {
	return s.setBig(append(append([]byte{}, totalShareKeyPrefix...), []byte(denom)...), shares)
}

func (s *Store) GetLend(id, denom string) (*big.Int, error) {
	return s.getBig(scopedKey(lendKeyPrefix, id, denom))
}

func (s *Store) SetLend(id, denom string, scaled *big.Int) error {
	return s.setBig(scopedKey(lendKeyPrefix, id, denom), scaled)
}

func (s *Store) Lends(id string) (map[string]*big.Int, error) {
	return s.bigsByPrefix(scopedPrefix(lendKeyPrefix, id))
}

func (s *Store) GetVaultPosition(id string, vault crypto.Address) (*VaultPosition, error) {
	var stored storedVaultPosition
	ok, err := s.kv.KVGet(scopedKey(vaultKeyPrefix, id, hex.EncodeToString(vault.Bytes())), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return decodeVaultPosition(&stored), nil
}

func (s *Store) SetVaultPosition(id string, position *VaultPosition) error {
	if position == nil {
		return fmt.Errorf("credit manager: vault position must not be nil")
	}
	key := scopedKey(vaultKeyPrefix, id, hex.EncodeToString(position.Vault.Bytes()))
	if position.Empty() {
		return s.kv.KVDelete(key)
	}
	stored := storedVaultPosition{
		Vault:          position.Vault.Bytes(),
		LockedShares:   orZero(position.LockedShares),
		UnlockedShares: orZero(position.UnlockedShares),
	}
	for _, tranche := range position.Unlocking {
		stored.Unlocking = append(stored.Unlocking, storedTranche{
			ID:         tranche.ID,
			Shares:     orZero(tranche.Shares),
			BaseDenom:  tranche.BaseDenom,
			BaseAmount: orZero(tranche.BaseAmount),
			ReleaseAt:  tranche.ReleaseAt,
		})
	}
	return s.kv.KVPut(key, stored)
}

func (s *Store) VaultPositions(id string) ([]VaultPosition, error) {
	var positions []VaultPosition
	err := s.kv.KVIterate(scopedPrefix(vaultKeyPrefix, id), func(_, value []byte) error {
		var stored storedVaultPosition
		if err := statestore.Decode(value, &stored); err != nil {
			return err
		}
		positions = append(positions, *decodeVaultPosition(&stored))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

func (s *Store) GetVaultTotalShares(vault crypto.Address) (*big.Int, error) {
	return s.getBig(append(append([]byte{}, vaultTotalKeyPrefix...), []byte(hex.EncodeToString(vault.Bytes()))...))
}

func (s *Store) SetVaultTotalShares(vault crypto.Address, shares *big.Int) error {
	return s.setBig(append(append([]byte{}, vaultTotalKeyPrefix...), []byte(hex.EncodeToString(vault.Bytes()))...), shares)
}

func (s *Store) GetLpPosition(id, denom string) (*LpPosition, error) {
	amount, err := s.getBig(scopedKey(lpKeyPrefix, id, denom))
	if err != nil || amount == nil {
		return nil, err
	}
	return &LpPosition{Denom: denom, Staked: amount}, nil
}

func (s *Store) SetLpPosition(id string, position *LpPosition) error {
	if position == nil {
		return fmt.Errorf("credit manager: lp position must not be nil")
	}
	return s.setBig(scopedKey(lpKeyPrefix, id, position.Denom), position.Staked)
}

func (s *Store) LpPositions(id string) ([]LpPosition, error) {
	prefix := scopedPrefix(lpKeyPrefix, id)
	var positions []LpPosition
	err := s.kv.KVIterate(prefix, func(key, value []byte) error {
		var amount big.Int
		if err := statestore.Decode(value, &amount); err != nil {
			return err
		}
		positions = append(positions, LpPosition{Denom: string(bytes.TrimPrefix(key, prefix)), Staked: &amount})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return positions, nil
}

func (s *Store) GetBalance(addr crypto.Address, denom string) (*big.Int, error) {
	key := append(ownerBalancePrefix(addr), []byte(denom)...)
	amount, err := s.getBig(key)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (s *Store) SetBalance(addr crypto.Address, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("credit manager: balance must not be negative")
	}
	return s.setBig(append(ownerBalancePrefix(addr), []byte(denom)...), amount)
}

func ownerBalancePrefix(addr crypto.Address) []byte {
	key := append([]byte{}, cmBalanceKeyPrefix...)
	key = append(key, []byte(hex.EncodeToString(addr.Bytes()))...)
	return append(key, '/')
}

func (s *Store) getBig(key []byte) (*big.Int, error) {
	var amount big.Int
	ok, err := s.kv.KVGet(key, &amount)
	if err != nil || !ok {
		return nil, err
	}
	return &amount, nil
}

func (s *Store) setBig(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return s.kv.KVDelete(key)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("credit manager: amount must not be negative")
	}
	return s.kv.KVPut(key, amount)
}

func (s *Store) bigsByPrefix(prefix []byte) (map[string]*big.Int, error) {
	amounts := make(map[string]*big.Int)
	err := s.kv.KVIterate(prefix, func(key, value []byte) error {
		var amount big.Int
		if err := statestore.Decode(value, &amount); err != nil {
			return err
		}
		amounts[string(bytes.TrimPrefix(key, prefix))] = &amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amounts, nil
}

func decodeVaultPosition(stored *storedVaultPosition) *VaultPosition {
	position := &VaultPosition{
		Vault:          crypto.NewAddress(crypto.MarsPrefix, stored.Vault),
		LockedShares:   orZero(stored.LockedShares),
		UnlockedShares: orZero(stored.UnlockedShares),
	}
	for _, tranche := range stored.Unlocking {
		position.Unlocking = append(position.Unlocking, UnlockingTranche{
			ID:         tranche.ID,
			Shares:     orZero(tranche.Shares),
			BaseDenom:  tranche.BaseDenom,
			BaseAmount: orZero(tranche.BaseAmount),
			ReleaseAt:  tranche.ReleaseAt,
		})
	}
	return position
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
