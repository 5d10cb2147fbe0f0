package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"secretinvest/internal/core"
	"secretinvest/internal/fhe"
	"secretinvest/internal/market"
	"secretinvest/internal/observability"
	"secretinvest/internal/reveal"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// callerHeader carries the authenticated caller address. In production
// this is set by the API gateway after signature verification.
const callerHeader = "X-Caller-Address"

// Server exposes the ledger engine over HTTP.
type Server struct {
	engine  *core.Engine
	reveal  *reveal.Authorizer
	prices  *market.PriceTable
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(
	engine *core.Engine,
	authorizer *reveal.Authorizer,
	prices *market.PriceTable,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		engine:  engine,
		reveal:  authorizer,
		prices:  prices,
		health:  health,
		metrics: metrics,
		log:     observability.NewLogger("server"),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.observe)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts/{address}/deposit", s.handleDeposit)
		r.Post("/accounts/{address}/withdraw", s.handleWithdraw)
		r.Get("/accounts/{address}/balance", s.handleGetBalance)

		r.Post("/positions", s.handleOpenPosition)
		r.Post("/positions/close", s.handleClosePosition)
		r.Get("/positions/{address}", s.handleGetPosition)

		r.Get("/prices", s.handleListPrices)
		r.Get("/prices/{instrument}", s.handleGetPrice)

		r.Put("/admin/prices/{instrument}", s.handleSetPrice)
		r.Post("/admin/ownership", s.handleTransferOwnership)

		r.Post("/reveal/grants", s.handleIssueGrant)
		r.Post("/reveal", s.handleReveal)
	})

	return r
}

// --- Request/response bodies ---

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type openPositionRequest struct {
	Instrument  string   `json:"instrument"`
	Ciphertexts []string `json:"ciphertexts"` // base64, [direction, quantity]
	Proof       string   `json:"proof"`       // base64
}

type closePositionRequest struct {
	Direction uint64 `json:"direction"`
	Quantity  uint64 `json:"quantity"`
}

type positionResponse struct {
	ID           string `json:"id"`
	Account      string `json:"account"`
	Instrument   string `json:"instrument"`
	OpenPrice    uint64 `json:"open_price"`
	OpenedAt     int64  `json:"opened_at"`
	DirectionRef string `json:"direction_ref"`
	QuantityRef  string `json:"quantity_ref"`
	StakeRef     string `json:"stake_ref"`
	Active       bool   `json:"active"`
}

type setPriceRequest struct {
	Price uint64 `json:"price"`
}

type ownershipRequest struct {
	NewOwner string `json:"new_owner"`
}

type grantRequest struct {
	Handles    []string `json:"handles"`
	TTLSeconds int64    `json:"ttl_seconds"`
}

type revealRequest struct {
	Token  string `json:"token"`
	Handle string `json:"handle"`
}

// --- Handlers ---

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.Deposit(address, req.Amount); err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":  address,
		"amount":   req.Amount,
		"sequence": s.engine.Sequence(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	// Withdrawals debit custody, so only the account itself may request one.
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		writeError(w, "missing "+callerHeader+" header", http.StatusBadRequest)
		return
	}
	if caller != address {
		writeError(w, "caller may only withdraw from its own account", http.StatusForbidden)
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.Withdraw(address, req.Amount); err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":  address,
		"amount":   req.Amount,
		"sequence": s.engine.Sequence(),
	})
}

// handleGetBalance returns the handle id of the caller's encrypted
// balance. The plaintext value is only obtainable through /v1/reveal.
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	handle, err := s.engine.BalanceHandle(address)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":     address,
		"balance_ref": string(handle),
	})
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		writeError(w, "missing "+callerHeader+" header", http.StatusBadRequest)
		return
	}

	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Instrument == "" {
		writeError(w, "instrument is required", http.StatusBadRequest)
		return
	}

	ciphertexts := make([][]byte, 0, len(req.Ciphertexts))
	for _, c := range req.Ciphertexts {
		raw, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			writeError(w, "ciphertexts must be base64", http.StatusBadRequest)
			return
		}
		ciphertexts = append(ciphertexts, raw)
	}
	proof, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		writeError(w, "proof must be base64", http.StatusBadRequest)
		return
	}

	pos, err := s.engine.OpenPosition(caller, req.Instrument, ciphertexts, proof)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPositionResponse(*pos))
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		writeError(w, "missing "+callerHeader+" header", http.StatusBadRequest)
		return
	}

	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.engine.ClosePosition(r.Context(), caller, req.Direction, req.Quantity)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":    caller,
		"win":        result.Win,
		"payout":     result.Payout,
		"payout_ref": result.PayoutRef,
	})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	pos, ok := s.engine.PositionFor(address)
	if !ok || !pos.Active {
		writeError(w, "no active position", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (s *Server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	instruments := s.prices.Instruments()

	out := make(map[string]uint64, len(instruments))
	for _, in := range instruments {
		price, err := s.prices.GetPrice(in)
		if err != nil {
			continue
		}
		out[in] = price
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":  s.prices.Owner(),
		"prices": out,
	})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	instrument := chi.URLParam(r, "instrument")

	price, err := s.prices.GetPrice(instrument)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instrument": instrument,
		"price":      price,
	})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		writeError(w, "missing "+callerHeader+" header", http.StatusBadRequest)
		return
	}
	instrument := chi.URLParam(r, "instrument")

	var req setPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.SetPrice(caller, instrument, req.Price); err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instrument": instrument,
		"price":      req.Price,
	})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		writeError(w, "missing "+callerHeader+" header", http.StatusBadRequest)
		return
	}

	var req ownershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.NewOwner == "" {
		writeError(w, "new_owner is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.TransferOwnership(caller, req.NewOwner); err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner": req.NewOwner,
	})
}

func (s *Server) handleIssueGrant(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		writeError(w, "missing "+callerHeader+" header", http.StatusBadRequest)
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Handles) == 0 {
		writeError(w, "handles is required", http.StatusBadRequest)
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	token, err := s.reveal.IssueToken(caller, req.Handles, ttl)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":   token,
		"expires": time.Now().Add(ttl).Unix(),
	})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(callerHeader)
	if caller == "" {
		writeError(w, "missing "+callerHeader+" header", http.StatusBadRequest)
		return
	}

	var req revealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	value, err := s.reveal.RequestReveal(req.Token, caller, fhe.Handle(req.Handle))
	if err != nil {
		if s.metrics != nil {
			s.metrics.RevealRequests.WithLabelValues("denied").Inc()
		}
		s.writeEngineError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RevealRequests.WithLabelValues("granted").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"handle": req.Handle,
		"value":  value,
	})
}

// --- Helpers ---

func toPositionResponse(pos core.Position) positionResponse {
	return positionResponse{
		ID:           pos.ID.String(),
		Account:      pos.Account,
		Instrument:   pos.Instrument,
		OpenPrice:    pos.OpenPrice,
		OpenedAt:     pos.OpenedAt,
		DirectionRef: string(pos.Direction),
		QuantityRef:  string(pos.Quantity),
		StakeRef:     string(pos.Stake),
		Active:       pos.Active,
	}
}

// writeEngineError maps domain errors to HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrZeroAmount),
		errors.Is(err, core.ErrAmountTooLarge),
		errors.Is(err, fhe.ErrInvalidProof),
		errors.Is(err, fhe.ErrStaleBinding):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrUnauthorized),
		errors.Is(err, reveal.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, market.ErrPriceNotSet),
		errors.Is(err, core.ErrNoActivePosition),
		errors.Is(err, fhe.ErrUnknownHandle):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPositionAlreadyOpen),
		errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, core.ErrSettlementUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// observe records request counts and latency per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		s.metrics.APIRequests.WithLabelValues(pattern, strconv.Itoa(ww.Status())).Inc()
		s.metrics.APIDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	})
}
