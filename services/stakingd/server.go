package stakingd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakeledger/native/staking"
	"stakeledger/observability"
)

// Service is the staking engine surface exposed over HTTP.
type Service interface {
	Stake(ctx context.Context, caller common.Address, amount *uint256.Int) (staking.Event, error)
	Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int) (staking.Event, error)
	GetReward(ctx context.Context, caller common.Address) (staking.Event, error)
	UpdateConfig(ctx context.Context, caller common.Address, cfg staking.Config) (staking.Event, error)
	Continue(ctx context.Context, caller common.Address, txid uint64) (staking.Event, error)
	Pool() staking.PoolState
	Stakers() map[common.Address]*staking.Staker
	Staker(id common.Address) (staking.StakerView, error)
	PendingReward(id common.Address) (*uint256.Int, error)
	Transactions() []*staking.Transaction
}

// ServerConfig captures the dependencies of the HTTP API.
type ServerConfig struct {
	Service     Service
	Auth        *Authenticator
	RateLimiter *RateLimiter
	Metrics     *observability.StakingdMetrics
	Logger      *slog.Logger
}

// Server exposes the staking request/response surface.
type Server struct {
	service Service
	auth    *Authenticator
	limiter *RateLimiter
	metrics *observability.StakingdMetrics
	logger  *slog.Logger
	router  http.Handler
}

// NewServer wires the chi router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("staking service required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	srv := &Server{
		service: cfg.Service,
		auth:    cfg.Auth,
		limiter: cfg.RateLimiter,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.limiter != nil && srv.metrics != nil {
		srv.limiter.onReject = func() { srv.metrics.RecordThrottle("rate_limit") }
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Group(func(mutating chi.Router) {
			if s.limiter != nil {
				mutating.Use(s.limiter.Middleware)
			}
			mutating.Post("/stake", s.handleStake)
			mutating.Post("/withdraw", s.handleWithdraw)
			mutating.Post("/reward", s.handleReward)
			mutating.Post("/config", s.handleConfig)
			mutating.Post("/continue", s.handleContinue)
		})
		api.Get("/pool", s.handlePool)
		api.Get("/stakers", s.handleStakers)
		api.Get("/stakers/{address}", s.handleStaker)
		api.Get("/stakers/{address}/reward", s.handlePendingReward)
		api.Get("/transactions", s.handleTransactions)
	})
	return otelhttp.NewHandler(r, "stakingd")
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Observe(route, status, time.Since(start))
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.Duration("elapsed", time.Since(start)))
	})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type configRequest struct {
	StakingToken     string `json:"staking_token"`
	RewardToken      string `json:"reward_token"`
	DistributionTime uint64 `json:"distribution_time"`
	RewardTotal      string `json:"reward_total"`
}

type continueRequest struct {
	TxID *uint64 `json:"txid"`
}

type eventResponse struct {
	Event  string  `json:"event"`
	TxID   *uint64 `json:"txid,omitempty"`
	Amount string  `json:"amount,omitempty"`
}

type errorResponse struct {
	Error string  `json:"error"`
	Code  string  `json:"code"`
	TxID  *uint64 `json:"txid,omitempty"`
}

type stakerResponse struct {
	Address       string `json:"address"`
	Balance       string `json:"balance"`
	RewardDebt    string `json:"reward_debt"`
	RewardAllowed string `json:"reward_allowed"`
	Distributed   string `json:"distributed"`
	Claimable     string `json:"claimable,omitempty"`
}

type poolResponse struct {
	Initialized         bool   `json:"initialized"`
	Pool                string `json:"pool"`
	Owner               string `json:"owner"`
	StakingToken        string `json:"staking_token"`
	RewardToken         string `json:"reward_token"`
	RewardTotal         string `json:"reward_total"`
	DistributionTime    uint64 `json:"distribution_time"`
	EmissionStartedAt   uint64 `json:"emission_started_at"`
	AllTimeEmitted      string `json:"all_time_emitted"`
	RewardEmitted       string `json:"reward_emitted"`
	RewardPerShare      string `json:"reward_per_share"`
	TotalStaked         string `json:"total_staked"`
	Stakers             int    `json:"stakers"`
	PendingTransactions int    `json:"pending_transactions"`
}

type transactionResponse struct {
	ID          uint64 `json:"txid"`
	Kind        string `json:"kind"`
	Caller      string `json:"caller"`
	Amount      string `json:"amount"`
	Done        bool   `json:"done"`
	InFlight    bool   `json:"in_flight"`
	Attempts    uint32 `json:"attempts"`
	CreatedAt   uint64 `json:"created_at"`
	CompletedAt uint64 `json:"completed_at,omitempty"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.handleAmount(w, r, s.service.Stake)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleAmount(w, r, s.service.Withdraw)
}

func (s *Server) handleAmount(w http.ResponseWriter, r *http.Request, op func(context.Context, common.Address, *uint256.Int) (staking.Event, error)) {
	caller, _ := CallerFromContext(r.Context())
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid amount %q", req.Amount), nil)
		return
	}
	reply, err := op(r.Context(), caller, amount)
	s.reply(w, reply, err)
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	reply, err := s.service.GetReward(r.Context(), caller)
	s.reply(w, reply, err)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req configRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	cfg, err := parseConfig(req.StakingToken, req.RewardToken, req.DistributionTime, req.RewardTotal)
	if err != nil && !errors.Is(err, staking.ErrZeroReward) && !errors.Is(err, staking.ErrZeroTime) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	// Schedule validation happens in the engine after the ownership check.
	reply, err := s.service.UpdateConfig(r.Context(), caller, cfg)
	s.reply(w, reply, err)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req continueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if req.TxID == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "txid required", nil)
		return
	}
	reply, err := s.service.Continue(r.Context(), caller, *req.TxID)
	s.reply(w, reply, err)
}

func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	pool := s.service.Pool()
	writeJSON(w, http.StatusOK, poolResponse{
		Initialized:         pool.Initialized,
		Pool:                pool.Pool.Hex(),
		Owner:               pool.Owner.Hex(),
		StakingToken:        pool.StakingToken.Hex(),
		RewardToken:         pool.RewardToken.Hex(),
		RewardTotal:         pool.RewardTotal.Dec(),
		DistributionTime:    pool.DistributionTime,
		EmissionStartedAt:   pool.EmissionStartedAt,
		AllTimeEmitted:      pool.AllTimeEmitted.Dec(),
		RewardEmitted:       pool.RewardEmitted.Dec(),
		RewardPerShare:      pool.RewardPerShare.Dec(),
		TotalStaked:         pool.TotalStaked.Dec(),
		Stakers:             pool.Stakers,
		PendingTransactions: pool.PendingTransactions,
	})
}

func (s *Server) handleStakers(w http.ResponseWriter, _ *http.Request) {
	stakers := s.service.Stakers()
	out := make(map[string]stakerResponse, len(stakers))
	for id, staker := range stakers {
		out[id.Hex()] = toStakerResponse(id, staker, nil)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStaker(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAddressParam(w, r)
	if !ok {
		return
	}
	view, err := s.service.Staker(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStakerResponse(id, view.Staker, view.Claimable))
}

func (s *Server) handlePendingReward(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAddressParam(w, r)
	if !ok {
		return
	}
	reward, err := s.service.PendingReward(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": id.Hex(), "reward": reward.Dec()})
}

func (s *Server) handleTransactions(w http.ResponseWriter, _ *http.Request) {
	txs := s.service.Transactions()
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionResponse{
			ID:          tx.ID,
			Kind:        tx.Action.Kind.String(),
			Caller:      tx.Action.Caller.Hex(),
			Amount:      tx.Action.Amount.Dec(),
			Done:        tx.Done,
			InFlight:    tx.InFlight(),
			Attempts:    tx.Attempts,
			CreatedAt:   tx.CreatedAt,
			CompletedAt: tx.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) reply(w http.ResponseWriter, reply staking.Event, err error) {
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	resp := eventResponse{Event: string(reply.Kind)}
	if reply.HasTxID() {
		txid := reply.TxID
		resp.TxID = &txid
	}
	if reply.Amount != nil {
		resp.Amount = reply.Amount.Dec()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout && status != http.StatusBadGateway {
		s.logger.Error("staking request failed", slog.Any("error", err))
	}
	var txid *uint64
	if id, ok := staking.TxIDFromError(err); ok {
		txid = &id
	}
	writeError(w, status, staking.ErrorCode(err), err.Error(), txid)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, staking.ErrZeroAmount),
		errors.Is(err, staking.ErrZeroReward),
		errors.Is(err, staking.ErrZeroTime):
		return http.StatusBadRequest
	case errors.Is(err, staking.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, staking.ErrStakerNotFound),
		errors.Is(err, staking.ErrUnknownTransaction):
		return http.StatusNotFound
	case errors.Is(err, staking.ErrInsufficientBalance),
		errors.Is(err, staking.ErrTransactionInFlight),
		errors.Is(err, staking.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, staking.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, staking.ErrTransferPending):
		return http.StatusGatewayTimeout
	case errors.Is(err, staking.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toStakerResponse(id common.Address, staker *staking.Staker, claimable *uint256.Int) stakerResponse {
	resp := stakerResponse{
		Address:       id.Hex(),
		Balance:       staker.Balance.Dec(),
		RewardDebt:    staker.RewardDebt.Dec(),
		RewardAllowed: staker.RewardAllowed.Dec(),
		Distributed:   staker.Distributed.Dec(),
	}
	if claimable != nil {
		resp.Claimable = claimable.Dec()
	}
	return resp
}

func parseAddressParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "address"))
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid address %q", raw), nil)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, txid *uint64) {
	writeJSON(w, status, errorResponse{Error: message, Code: code, TxID: txid})
}
