// Package server exposes the lending protocol over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marsbank/crypto"
	"marsbank/native/creditmanager"
	"marsbank/native/health"
	"marsbank/native/redbank"
	"marsbank/observability/metrics"
)

// Server is the HTTP front end over a node.
type Server struct {
	node   *Node
	logger *slog.Logger
	faucet bool

	router http.Handler
}

// New constructs the routed server.
func New(node *Node, logger *slog.Logger, limit RateLimit, faucetEnabled bool) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{node: node, logger: logger, faucet: faucetEnabled}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(instrument)
	r.Use(newRateLimiter(limit).middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/redbank/markets", s.handleMarkets)
		r.Get("/redbank/markets/{denom}", s.handleMarket)
		r.Get("/redbank/positions/{address}", s.handleRedBankPositions)
		r.Post("/redbank/deposit", s.handleDeposit)
		r.Post("/redbank/withdraw", s.handleWithdraw)
		r.Post("/redbank/borrow", s.handleBorrow)
		r.Post("/redbank/repay", s.handleRepay)
		r.Post("/redbank/collateral", s.handleCollateralStatus)
		r.Post("/redbank/liquidate", s.handleLiquidate)

		r.Post("/accounts", s.handleCreateAccount)
		r.Get("/accounts/{id}", s.handleAccountPositions)
		r.Post("/accounts/{id}/actions", s.handleAccountActions)

		r.Get("/bank/balances/{address}/{denom}", s.handleBalance)
		if faucetEnabled {
			r.Post("/faucet", s.handleFaucet)
		}
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type marketResponse struct {
	Denom          string `json:"denom"`
	LiquidityIndex string `json:"liquidity_index"`
	BorrowIndex    string `json:"borrow_index"`
	LiquidityRate  string `json:"liquidity_rate"`
	BorrowRate     string `json:"borrow_rate"`
	TotalDeposits  string `json:"total_deposits"`
	Utilization    string `json:"utilization"`
	Active         bool   `json:"active"`
}

func (s *Server) marketResponse(engine *redbank.Engine, market *redbank.Market) marketResponse {
	resp := marketResponse{
		Denom:          market.Denom,
		LiquidityIndex: market.LiquidityIndex.String(),
		BorrowIndex:    market.BorrowIndex.String(),
		LiquidityRate:  market.LiquidityRate.FloatString(6),
		BorrowRate:     market.BorrowRate.FloatString(6),
		Active:         market.Active,
	}
	if total, err := engine.TotalDeposits(market.Denom); err == nil {
		resp.TotalDeposits = total.String()
	}
	if utilization, err := engine.Utilization(market.Denom); err == nil {
		resp.Utilization = utilization.FloatString(6)
		value, _ := utilization.Float64()
		metrics.Lending().SetUtilization(market.Denom, value)
	}
	return resp
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	var out []marketResponse
	err := s.node.ViewRedBank(func(engine *redbank.Engine) error {
		markets, err := engine.Markets()
		if err != nil {
			return err
		}
		for _, market := range markets {
			out = append(out, s.marketResponse(engine, market))
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	denom := chi.URLParam(r, "denom")
	var out *marketResponse
	err := s.node.ViewRedBank(func(engine *redbank.Engine) error {
		market, err := engine.Market(denom)
		if err != nil {
			return err
		}
		if market == nil {
			return nil
		}
		resp := s.marketResponse(engine, market)
		out = &resp
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no market for denom"))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type positionsResponse struct {
	Collaterals  map[string]string `json:"collaterals"`
	Debts        map[string]string `json:"debts"`
	HealthFactor string            `json:"health_factor,omitempty"`
}

func (s *Server) handleRedBankPositions(w http.ResponseWriter, r *http.Request) {
	user, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	out := positionsResponse{Collaterals: map[string]string{}, Debts: map[string]string{}}
	err = s.node.ViewRedBank(func(engine *redbank.Engine) error {
		markets, err := engine.Markets()
		if err != nil {
			return err
		}
		for _, market := range markets {
			if collateral, err := engine.CollateralAmount(user, market.Denom); err == nil && collateral.Sign() > 0 {
				out.Collaterals[market.Denom] = collateral.String()
			}
			if debt, err := engine.DebtAmount(user, market.Denom); err == nil && debt.Sign() > 0 {
				out.Debts[market.Denom] = debt.String()
			}
		}
		factor, err := engine.LiquidationHealthFactor(user)
		if err != nil {
			return err
		}
		if factor != nil {
			out.HealthFactor = factor.FloatString(6)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type bankRequest struct {
	Address   string `json:"address"`
	Denom     string `json:"denom"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	req, user, amount, ok := s.decodeBankRequest(w, r, true)
	if !ok {
		return
	}
	err := s.node.WithRedBank(func(engine *redbank.Engine) error {
		return engine.Deposit(user, req.Denom, amount)
	})
	metrics.Lending().ObserveOperation("deposit", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	req, user, amount, ok := s.decodeBankRequest(w, r, false)
	if !ok {
		return
	}
	recipient := user
	if strings.TrimSpace(req.Recipient) != "" {
		parsed, err := crypto.DecodeAddress(req.Recipient)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		recipient = parsed
	}
	var withdrawn *big.Int
	err := s.node.WithRedBank(func(engine *redbank.Engine) error {
		var err error
		withdrawn, err = engine.Withdraw(user, req.Denom, amount, recipient)
		return err
	})
	metrics.Lending().ObserveOperation("withdraw", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"withdrawn": withdrawn.String()})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	req, user, amount, ok := s.decodeBankRequest(w, r, true)
	if !ok {
		return
	}
	recipient := user
	if strings.TrimSpace(req.Recipient) != "" {
		parsed, err := crypto.DecodeAddress(req.Recipient)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		recipient = parsed
	}
	err := s.node.WithRedBank(func(engine *redbank.Engine) error {
		return engine.Borrow(user, req.Denom, amount, recipient)
	})
	metrics.Lending().ObserveOperation("borrow", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	req, user, amount, ok := s.decodeBankRequest(w, r, true)
	if !ok {
		return
	}
	var refund *big.Int
	err := s.node.WithRedBank(func(engine *redbank.Engine) error {
		var err error
		refund, err = engine.Repay(user, req.Denom, amount)
		return err
	})
	metrics.Lending().ObserveOperation("repay", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"refund": refund.String()})
}

type collateralStatusRequest struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
	Enable  bool   `json:"enable"`
}

func (s *Server) handleCollateralStatus(w http.ResponseWriter, r *http.Request) {
	var req collateralStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	user, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	err = s.node.WithRedBank(func(engine *redbank.Engine) error {
		return engine.UpdateCollateralStatus(user, req.Denom, req.Enable)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	User            string `json:"user"`
	CollateralDenom string `json:"collateral_denom"`
	DebtDenom       string `json:"debt_denom"`
	Amount          string `json:"amount"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	liquidator, err := crypto.DecodeAddress(req.Liquidator)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	user, err := crypto.DecodeAddress(req.User)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	amount, err := parseAmount(req.Amount, true)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	var result *redbank.LiquidationResult
	err = s.node.WithRedBank(func(engine *redbank.Engine) error {
		var err error
		result, err = engine.Liquidate(liquidator, user, req.CollateralDenom, req.DebtDenom, amount)
		return err
	})
	metrics.Lending().ObserveOperation("liquidate", err)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.Lending().ObserveLiquidation()
	writeJSON(w, http.StatusOK, map[string]string{
		"debt_repaid":       result.DebtRepaid.String(),
		"collateral_seized": result.CollateralSeized.String(),
		"refund":            result.Refund.String(),
	})
}

type createAccountRequest struct {
	Owner string `json:"owner"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	owner, err := crypto.DecodeAddress(req.Owner)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	kind := health.AccountKindDefault
	if strings.TrimSpace(req.Kind) != "" {
		kind = health.AccountKind(req.Kind)
	}
	var id string
	err = s.node.WithCreditManager(func(engine *creditmanager.Engine) error {
		var err error
		id, err = engine.CreateAccount(owner, kind)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"account_id": id})
}

func (s *Server) handleAccountPositions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var snapshot *creditmanager.PositionsSnapshot
	err := s.node.ViewCreditManager(func(engine *creditmanager.Engine) error {
		var err error
		snapshot, err = engine.Positions(id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountPositionsResponse(snapshot))
}

type accountActionsRequest struct {
	Caller  string          `json:"caller"`
	Actions []actionRequest `json:"actions"`
}

func (s *Server) handleAccountActions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req accountActionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	actions, err := decodeActions(req.Actions)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	err = s.node.WithCreditManager(func(engine *creditmanager.Engine) error {
		return engine.UpdateCreditAccount(caller, id, actions)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	for _, action := range req.Actions {
		metrics.Lending().ObserveAccountAction(action.Type)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	denom := chi.URLParam(r, "denom")
	balance, err := s.node.Balance(addr, denom)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"denom": denom, "amount": balance.String()})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req bankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	addr, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	amount, err := parseAmount(req.Amount, true)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := s.node.Fund(addr, req.Denom, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decodeBankRequest(w http.ResponseWriter, r *http.Request, amountRequired bool) (bankRequest, crypto.Address, *big.Int, bool) {
	var req bankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return req, crypto.Address{}, nil, false
	}
	user, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return req, crypto.Address{}, nil, false
	}
	amount, err := parseAmount(req.Amount, amountRequired)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return req, crypto.Address{}, nil, false
	}
	return req, user, amount, true
}

func parseAmount(s string, required bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		if required {
			return nil, fmt.Errorf("amount is required")
		}
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

// writeError maps engine failures to HTTP statuses: business rejections are
// client errors, everything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()
	if isBusinessError(err) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorBody(message))
}

func isBusinessError(err error) bool {
	message := err.Error()
	return strings.HasPrefix(message, "red bank:") ||
		strings.HasPrefix(message, "credit manager:") ||
		strings.HasPrefix(message, "oracle:") ||
		strings.HasPrefix(message, "params:") ||
		errors.Is(err, errBadAction)
}
