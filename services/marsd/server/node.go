package server

import (
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"marsbank/config"
	"marsbank/crypto"
	"marsbank/native/creditmanager"
	"marsbank/native/oracle"
	"marsbank/native/params"
	"marsbank/native/redbank"
	"marsbank/storage/statestore"
)

// Node owns the persistent store and constructs engines bound to one
// transaction per top-level call, so every mutating request commits or rolls
// back as a unit.
type Node struct {
	db     *statestore.Bolt
	oracle *oracle.Engine
	logger *slog.Logger

	owner   crypto.Address
	rewards crypto.Address
	rbAddr  crypto.Address
	cmAddr  crypto.Address

	now func() uint64
}

// ModuleAddress derives the deterministic treasury address for a module name.
func ModuleAddress(name string) crypto.Address {
	digest := ethcrypto.Keccak256([]byte("module/" + name))
	return crypto.NewAddress(crypto.MarsPrefix, digest[len(digest)-20:])
}

// NewNode wires a node over the opened store.
func NewNode(db *statestore.Bolt, prices *oracle.Engine, owner, rewards crypto.Address, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		db:      db,
		oracle:  prices,
		logger:  logger,
		owner:   owner,
		rewards: rewards,
		rbAddr:  ModuleAddress("redbank"),
		cmAddr:  ModuleAddress("creditmanager"),
		now:     func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock overrides the node's time source for deterministic testing.
func (n *Node) SetClock(now func() uint64) {
	if now != nil {
		n.now = now
	}
}

func (n *Node) redBank(kv statestore.KVStore) *redbank.Engine {
	engine := redbank.NewEngine(n.rbAddr, n.owner, n.rewards)
	engine.SetState(redbank.NewStore(kv))
	engine.SetParams(params.NewStore(kv))
	engine.SetOracle(n.oracle)
	engine.SetTimestamp(n.now())
	return engine
}

func (n *Node) creditManager(kv statestore.KVStore) *creditmanager.Engine {
	engine := creditmanager.NewEngine(n.cmAddr)
	engine.SetState(creditmanager.NewStore(kv))
	engine.SetParams(params.NewStore(kv))
	engine.SetOracle(n.oracle)
	engine.SetMoneyMarket(n.redBank(kv))
	engine.SetTimestamp(n.now())
	return engine
}

// WithRedBank runs fn against a red bank engine inside one write transaction.
func (n *Node) WithRedBank(fn func(*redbank.Engine) error) error {
	return n.db.WithinTransaction(func(kv statestore.KVStore) error {
		return fn(n.redBank(kv))
	})
}

// ViewRedBank runs fn against a read-only red bank engine.
func (n *Node) ViewRedBank(fn func(*redbank.Engine) error) error {
	return n.db.View(func(kv statestore.KVStore) error {
		return fn(n.redBank(kv))
	})
}

// WithCreditManager runs fn against a credit manager inside one write
// transaction. The bolt transaction is the rollback boundary, so the engine
// keeps its passthrough atomic wiring.
func (n *Node) WithCreditManager(fn func(*creditmanager.Engine) error) error {
	return n.db.WithinTransaction(func(kv statestore.KVStore) error {
		return fn(n.creditManager(kv))
	})
}

// ViewCreditManager runs fn against a read-only credit manager.
func (n *Node) ViewCreditManager(fn func(*creditmanager.Engine) error) error {
	return n.db.View(func(kv statestore.KVStore) error {
		return fn(n.creditManager(kv))
	})
}

// Fund credits a wallet balance directly. Local-network faucet only.
func (n *Node) Fund(addr crypto.Address, denom string, amount *big.Int) error {
	return n.db.WithinTransaction(func(kv statestore.KVStore) error {
		store := redbank.NewStore(kv)
		balance, err := store.GetBalance(addr, denom)
		if err != nil {
			return err
		}
		return store.SetBalance(addr, denom, balance.Add(balance, amount))
	})
}

// Balance reads one wallet balance.
func (n *Node) Balance(addr crypto.Address, denom string) (*big.Int, error) {
	var balance *big.Int
	err := n.db.View(func(kv statestore.KVStore) error {
		var err error
		balance, err = redbank.NewStore(kv).GetBalance(addr, denom)
		return err
	})
	return balance, err
}

// ApplyGenesis seeds markets, risk parameters and fixed prices. Already-listed
// markets are left untouched so restarts are idempotent.
func (n *Node) ApplyGenesis(genesis *config.Genesis) error {
	if genesis == nil {
		return nil
	}
	for _, market := range genesis.Markets {
		if market.Price == "" {
			continue
		}
		price, err := config.ParseRat(market.Price)
		if err != nil {
			return fmt.Errorf("genesis price for %s: %w", market.Denom, err)
		}
		if err := n.oracle.SetSource(market.Denom, &oracle.FixedSource{Value: price}); err != nil {
			return err
		}
	}
	return n.db.WithinTransaction(func(kv statestore.KVStore) error {
		paramsStore := params.NewStore(kv)
		closeFactor, err := config.ParseRat(genesis.Globals.CloseFactor)
		if err != nil {
			return err
		}
		target, err := config.ParseOptionalRat(genesis.Globals.TargetHealthFactor)
		if err != nil {
			return err
		}
		if err := paramsStore.SetGlobals(&params.Globals{CloseFactor: closeFactor, TargetHealthFactor: target}); err != nil {
			return err
		}

		engine := n.redBank(kv)
		for _, market := range genesis.Markets {
			asset, err := genesisAssetParams(market)
			if err != nil {
				return err
			}
			if err := paramsStore.SetAssetParams(asset); err != nil {
				return err
			}
			existing, err := engine.Market(market.Denom)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			reserveFactor, err := config.ParseRat(market.ReserveFactor)
			if err != nil {
				return err
			}
			model := redbank.NewInterestRateModel(
				market.InterestModel.Base,
				market.InterestModel.Slope1,
				market.InterestModel.Slope2,
				market.InterestModel.OptimalUtilization,
			)
			if err := engine.InitMarket(n.owner, market.Denom, model, reserveFactor); err != nil {
				return err
			}
			// The credit manager draws on the pool through an open credit
			// line; its accounts carry the collateral instead.
			if err := engine.SetUncollateralizedLoanLimit(n.owner, n.cmAddr, market.Denom, creditManagerLoanLimit()); err != nil {
				return err
			}
			n.logger.Info("market listed", "denom", market.Denom)
		}
		return nil
	})
}

func creditManagerLoanLimit() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 120)
}

func genesisAssetParams(market config.GenesisMarket) (*params.AssetParams, error) {
	maxLTV, err := config.ParseRat(market.MaxLoanToValue)
	if err != nil {
		return nil, fmt.Errorf("genesis market %s: %w", market.Denom, err)
	}
	threshold, err := config.ParseRat(market.LiquidationThreshold)
	if err != nil {
		return nil, fmt.Errorf("genesis market %s: %w", market.Denom, err)
	}
	bonus, err := config.ParseOptionalRat(market.LiquidationBonus)
	if err != nil {
		return nil, fmt.Errorf("genesis market %s: %w", market.Denom, err)
	}
	cap, err := config.ParseOptionalBig(market.DepositCap)
	if err != nil {
		return nil, fmt.Errorf("genesis market %s: %w", market.Denom, err)
	}
	return &params.AssetParams{
		Denom:                market.Denom,
		MaxLoanToValue:       maxLTV,
		LiquidationThreshold: threshold,
		LiquidationBonus:     bonus,
		DepositCap:           cap,
		RedBank: params.RedBankSettings{
			DepositEnabled: market.DepositEnabled,
			BorrowEnabled:  market.BorrowEnabled,
		},
		CreditManager: params.CreditManagerSettings{Whitelisted: market.Whitelisted},
	}, nil
}
