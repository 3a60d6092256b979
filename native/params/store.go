package params

import (
	"fmt"
	"math/big"
	"strings"

	"marsbank/crypto"
	"marsbank/storage/statestore"
)

var (
	assetParamsPrefix = []byte("params/asset/")
	vaultConfigPrefix = []byte("params/vault/")
	globalsKey        = []byte("params/globals")
)

func assetParamsKey(denom string) []byte {
	trimmed := strings.TrimSpace(denom)
	buf := make([]byte, len(assetParamsPrefix)+len(trimmed))
	copy(buf, assetParamsPrefix)
	copy(buf[len(assetParamsPrefix):], trimmed)
	return buf
}

func vaultConfigKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", vaultConfigPrefix, addr.Bytes()))
}

type storedHLSParams struct {
	MaxLoanToValue       string
	LiquidationThreshold string
	CorrelatedDenoms     []string
}

type storedAssetParams struct {
	Denom                string
	MaxLoanToValue       string
	LiquidationThreshold string
	LiquidationBonus     string
	DepositCap           string
	DepositEnabled       bool
	BorrowEnabled        bool
	Whitelisted          bool
	HasHLS               bool
	HLS                  storedHLSParams
}

type storedVaultConfig struct {
	Addr                 []byte
	MaxLoanToValue       string
	LiquidationThreshold string
	DepositCap           string
	Whitelisted          bool
	HasHLS               bool
	HLS                  storedHLSParams
}

type storedGlobals struct {
	CloseFactor        string
	TargetHealthFactor string
}

// Store persists risk parameters in the shared state store.
type Store struct {
	kv statestore.KVStore
}

// NewStore constructs a Store backed by the provided key-value state.
func NewStore(kv statestore.KVStore) *Store {
	return &Store{kv: kv}
}

// SetAssetParams validates and persists the asset parameter record.
func (s *Store) SetAssetParams(p *AssetParams) error {
	if s == nil || s.kv == nil {
		return fmt.Errorf("params store: state not configured")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	stored := storedAssetParams{
		Denom:                p.Denom,
		MaxLoanToValue:       ratString(p.MaxLoanToValue),
		LiquidationThreshold: ratString(p.LiquidationThreshold),
		LiquidationBonus:     ratString(p.LiquidationBonus),
		DepositCap:           bigString(p.DepositCap),
		DepositEnabled:       p.RedBank.DepositEnabled,
		BorrowEnabled:        p.RedBank.BorrowEnabled,
		Whitelisted:          p.CreditManager.Whitelisted,
	}
	if p.CreditManager.HLS != nil {
		stored.HasHLS = true
		stored.HLS = storedHLSParams{
			MaxLoanToValue:       ratString(p.CreditManager.HLS.MaxLoanToValue),
			LiquidationThreshold: ratString(p.CreditManager.HLS.LiquidationThreshold),
			CorrelatedDenoms:     p.CreditManager.HLS.CorrelatedDenoms,
		}
	}
	return s.kv.KVPut(assetParamsKey(p.Denom), &stored)
}

// AssetParams loads the parameter record for denom, nil when absent.
func (s *Store) AssetParams(denom string) (*AssetParams, error) {
	if s == nil || s.kv == nil {
		return nil, fmt.Errorf("params store: state not configured")
	}
	var stored storedAssetParams
	ok, err := s.kv.KVGet(assetParamsKey(denom), &stored)
	if err != nil || !ok {
		return nil, err
	}
	p := &AssetParams{
		Denom: stored.Denom,
		RedBank: RedBankSettings{
			DepositEnabled: stored.DepositEnabled,
			BorrowEnabled:  stored.BorrowEnabled,
		},
		CreditManager: CreditManagerSettings{Whitelisted: stored.Whitelisted},
	}
	if p.MaxLoanToValue, err = ratFromString(stored.MaxLoanToValue); err != nil {
		return nil, err
	}
	if p.LiquidationThreshold, err = ratFromString(stored.LiquidationThreshold); err != nil {
		return nil, err
	}
	if p.LiquidationBonus, err = ratFromString(stored.LiquidationBonus); err != nil {
		return nil, err
	}
	if p.DepositCap, err = bigFromString(stored.DepositCap); err != nil {
		return nil, err
	}
	if stored.HasHLS {
		hls := &HLSParams{CorrelatedDenoms: stored.HLS.CorrelatedDenoms}
		if hls.MaxLoanToValue, err = ratFromString(stored.HLS.MaxLoanToValue); err != nil {
			return nil, err
		}
		if hls.LiquidationThreshold, err = ratFromString(stored.HLS.LiquidationThreshold); err != nil {
			return nil, err
		}
		p.CreditManager.HLS = hls
	}
	return p, nil
}

// SetVaultConfig validates and persists the vault configuration.
func (s *Store) SetVaultConfig(v *VaultConfig) error {
	if s == nil || s.kv == nil {
		return fmt.Errorf("params store: state not configured")
	}
	if err := v.Validate(); err != nil {
		return err
	}
	stored := storedVaultConfig{
		Addr:                 append([]byte(nil), v.Addr.Bytes()...),
		MaxLoanToValue:       ratString(v.MaxLoanToValue),
		LiquidationThreshold: ratString(v.LiquidationThreshold),
		DepositCap:           bigString(v.DepositCap),
		Whitelisted:          v.Whitelisted,
	}
	if v.HLS != nil {
		stored.HasHLS = true
		stored.HLS = storedHLSParams{
			MaxLoanToValue:       ratString(v.HLS.MaxLoanToValue),
			LiquidationThreshold: ratString(v.HLS.LiquidationThreshold),
			CorrelatedDenoms:     v.HLS.CorrelatedDenoms,
		}
	}
	return s.kv.KVPut(vaultConfigKey(v.Addr), &stored)
}

// VaultConfig loads the configuration for the vault address, nil when absent.
func (s *Store) VaultConfig(addr crypto.Address) (*VaultConfig, error) {
	if s == nil || s.kv == nil {
		return nil, fmt.Errorf("params store: state not configured")
	}
	var stored storedVaultConfig
	ok, err := s.kv.KVGet(vaultConfigKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	v := &VaultConfig{
		Addr:        crypto.NewAddress(crypto.MarsPrefix, stored.Addr),
		Whitelisted: stored.Whitelisted,
	}
	if v.MaxLoanToValue, err = ratFromString(stored.MaxLoanToValue); err != nil {
		return nil, err
	}
	if v.LiquidationThreshold, err = ratFromString(stored.LiquidationThreshold); err != nil {
		return nil, err
	}
	if v.DepositCap, err = bigFromString(stored.DepositCap); err != nil {
		return nil, err
	}
	if stored.HasHLS {
		hls := &HLSParams{CorrelatedDenoms: stored.HLS.CorrelatedDenoms}
		if hls.MaxLoanToValue, err = ratFromString(stored.HLS.MaxLoanToValue); err != nil {
			return nil, err
		}
		if hls.LiquidationThreshold, err = ratFromString(stored.HLS.LiquidationThreshold); err != nil {
			return nil, err
		}
		v.HLS = hls
	}
	return v, nil
}

// SetGlobals validates and persists the protocol-wide tunables.
func (s *Store) SetGlobals(g *Globals) error {
	if s == nil || s.kv == nil {
		return fmt.Errorf("params store: state not configured")
	}
	if err := g.Validate(); err != nil {
		return err
	}
	stored := storedGlobals{
		CloseFactor:        ratString(g.CloseFactor),
		TargetHealthFactor: ratString(g.TargetHealthFactor),
	}
	return s.kv.KVPut(globalsKey, &stored)
}

// Globals loads the protocol-wide tunables, nil when unset.
func (s *Store) Globals() (*Globals, error) {
	if s == nil || s.kv == nil {
		return nil, fmt.Errorf("params store: state not configured")
	}
	var stored storedGlobals
	ok, err := s.kv.KVGet(globalsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	g := &Globals{}
	if g.CloseFactor, err = ratFromString(stored.CloseFactor); err != nil {
		return nil, err
	}
	if g.TargetHealthFactor, err = ratFromString(stored.TargetHealthFactor); err != nil {
		return nil, err
	}
	return g, nil
}

func ratString(r *big.Rat) string {
	if r == nil {
		return ""
	}
	return r.RatString()
}

func ratFromString(s string) (*big.Rat, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("params store: invalid ratio %q", s)
	}
	return r, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func bigFromString(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("params store: invalid amount %q", s)
	}
	return v, nil
}
