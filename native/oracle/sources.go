package oracle

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

// FixedSource returns a constant price. Used for stable quote assets and in
// deterministic tests.
type FixedSource struct {
	Value *big.Rat
}

func (s *FixedSource) SourceType() string { return "fixed" }

func (s *FixedSource) Validate() error {
	if s == nil || s.Value == nil || s.Value.Sign() <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

func (s *FixedSource) Evaluate(uint64, PricingKind, lookupFn) (*big.Rat, error) {
	return new(big.Rat).Set(s.Value), nil
}

// Observation is one published price point from an external feed.
type Observation struct {
	Price       *big.Rat
	Confidence  *big.Rat
	PublishTime uint64
}

// PushSource holds the latest observation from a signed push feed (Pyth
// style). Staleness is bounded for both pricing kinds; the confidence bound is
// enforced only for Default pricing, with a looser ceiling for Liquidation.
type PushSource struct {
	mu sync.RWMutex

	// MaxStaleness is the maximum observation age in seconds.
	MaxStaleness uint64
	// MaxConfidence bounds confidence/price under Default pricing.
	MaxConfidence *big.Rat
	// LiquidationMaxConfidence bounds confidence/price under Liquidation
	// pricing. Zero disables the check for that kind.
	LiquidationMaxConfidence *big.Rat

	latest *Observation
}

func (s *PushSource) SourceType() string { return "push" }

func (s *PushSource) Validate() error {
	if s == nil {
		return errors.New("oracle: push source must not be nil")
	}
	if s.MaxStaleness == 0 {
		return errors.New("oracle: push source requires a staleness bound")
	}
	if s.MaxConfidence == nil || s.MaxConfidence.Sign() <= 0 {
		return errors.New("oracle: push source requires a confidence bound")
	}
	return nil
}

// Record stores a new observation. Older publish times than the current
// observation are rejected.
func (s *PushSource) Record(obs Observation) error {
	if s == nil {
		return errors.New("oracle: push source must not be nil")
	}
	if obs.Price == nil || obs.Price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil && obs.PublishTime < s.latest.PublishTime {
		return errors.New("oracle: observation older than current")
	}
	stored := Observation{
		Price:       new(big.Rat).Set(obs.Price),
		PublishTime: obs.PublishTime,
	}
	if obs.Confidence != nil {
		stored.Confidence = new(big.Rat).Set(obs.Confidence)
	}
	s.latest = &stored
	return nil
}

func (s *PushSource) Evaluate(now uint64, kind PricingKind, _ lookupFn) (*big.Rat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrStalePrice
	}
	if now > s.latest.PublishTime && now-s.latest.PublishTime > s.MaxStaleness {
		return nil, ErrStalePrice
	}
	bound := s.MaxConfidence
	if kind == KindLiquidation {
		bound = s.LiquidationMaxConfidence
	}
	if bound != nil && bound.Sign() > 0 && s.latest.Confidence != nil {
		ratio := new(big.Rat).Quo(s.latest.Confidence, s.latest.Price)
		if ratio.Cmp(bound) > 0 {
			return nil, ErrConfidenceWide
		}
	}
	return new(big.Rat).Set(s.latest.Price), nil
}

// RedemptionRateSource prices a staked/liquid-staking derivative as the base
// asset price multiplied by the posted redemption rate, capped by an upper
// bound to contain a manipulated rate feed.
type RedemptionRateSource struct {
	mu sync.RWMutex

	BaseDenom string
	MaxRate   *big.Rat

	rate      *big.Rat
	updatedAt uint64
	// MaxStaleness bounds the redemption rate age in seconds. Zero disables.
	MaxStaleness uint64
}

func (s *RedemptionRateSource) SourceType() string { return "redemption_rate" }

func (s *RedemptionRateSource) Validate() error {
	if s == nil {
		return errors.New("oracle: redemption rate source must not be nil")
	}
	if strings.TrimSpace(s.BaseDenom) == "" {
		return errors.New("oracle: redemption rate source requires a base denom")
	}
	if s.MaxRate == nil || s.MaxRate.Sign() <= 0 {
		return errors.New("oracle: redemption rate source requires an upper bound")
	}
	return nil
}

// SetRate records the posted redemption rate.
func (s *RedemptionRateSource) SetRate(rate *big.Rat, at uint64) error {
	if s == nil {
		return errors.New("oracle: redemption rate source must not be nil")
	}
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidPrice
	}
	s.mu.Lock()
	s.rate = new(big.Rat).Set(rate)
	s.updatedAt = at
	s.mu.Unlock()
	return nil
}

func (s *RedemptionRateSource) Evaluate(now uint64, kind PricingKind, lookup lookupFn) (*big.Rat, error) {
	s.mu.RLock()
	rate := s.rate
	updatedAt := s.updatedAt
	s.mu.RUnlock()
	if rate == nil {
		return nil, ErrStalePrice
	}
	if s.MaxStaleness > 0 && now > updatedAt && now-updatedAt > s.MaxStaleness {
		return nil, ErrStalePrice
	}
	if rate.Cmp(s.MaxRate) > 0 {
		return nil, errors.New("oracle: redemption rate above configured bound")
	}
	base, err := lookup(s.BaseDenom, kind)
	if err != nil {
		return nil, err
	}
	return new(big.Rat).Mul(base, rate), nil
}

// PoolObserver reports the current reserves and share supply of a
// constant-product pool.
type PoolObserver interface {
	PoolState() (reserve0, reserve1, shareSupply *big.Int, err error)
}

// XykLPSource prices a constant-product LP share from the pool's reserves and
// the underlying asset prices. The fair-value form 2*sqrt(r0*p0*r1*p1)/supply
// is manipulation resistant against reserve skews.
type XykLPSource struct {
	Denom0   string
	Denom1   string
	Observer PoolObserver
}

func (s *XykLPSource) SourceType() string { return "xyk_lp" }

func (s *XykLPSource) Validate() error {
	if s == nil {
		return errors.New("oracle: lp source must not be nil")
	}
	if strings.TrimSpace(s.Denom0) == "" || strings.TrimSpace(s.Denom1) == "" {
		return errors.New("oracle: lp source requires both pool denoms")
	}
	if s.Observer == nil {
		return errors.New("oracle: lp source requires a pool observer")
	}
	return nil
}

func (s *XykLPSource) Evaluate(now uint64, kind PricingKind, lookup lookupFn) (*big.Rat, error) {
	reserve0, reserve1, supply, err := s.Observer.PoolState()
	if err != nil {
		return nil, err
	}
	if supply == nil || supply.Sign() <= 0 {
		return nil, errors.New("oracle: lp share supply must be positive")
	}
	price0, err := lookup(s.Denom0, kind)
	if err != nil {
		return nil, err
	}
	price1, err := lookup(s.Denom1, kind)
	if err != nil {
		return nil, err
	}
	value0 := new(big.Rat).Mul(new(big.Rat).SetInt(reserve0), price0)
	value1 := new(big.Rat).Mul(new(big.Rat).SetInt(reserve1), price1)
	product := new(big.Rat).Mul(value0, value1)
	// Integer sqrt of num/den via sqrt(num*den)/den keeps the result exact
	// enough for valuation: both operands are already wei-scale integers.
	scaled := new(big.Int).Mul(product.Num(), product.Denom())
	root := new(big.Int).Sqrt(scaled)
	fair := new(big.Rat).SetFrac(root, product.Denom())
	fair.Mul(fair, big.NewRat(2, 1))
	return fair.Quo(fair, new(big.Rat).SetInt(supply)), nil
}
