// Package api exposes the ledger over HTTP. Authentication happens upstream:
// the caller identity arrives in the X-Customer-ID and X-Admin headers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bank-ledger/pkg/ledger"
	"bank-ledger/pkg/logging"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	HeaderCustomerID = "X-Customer-ID"
	HeaderAdmin      = "X-Admin"
)

var errUnauthenticated = errors.New("authentication required")

// Server serves the ledger HTTP API.
type Server struct {
	svc    *ledger.Service
	logger *logging.Logger
	ready  func(ctx context.Context) error
	router *mux.Router
	server *http.Server
	config ServerConfig
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds the ledger call behind each request
	RequestTimeout time.Duration
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Logger *logging.Logger
	// Registry receives the HTTP metrics and backs /metrics. Nil serves the
	// default Prometheus registry without HTTP metrics.
	Registry *prometheus.Registry
	// Ready reports whether the backing services are usable; /health
	// returns 503 when it fails.
	Ready func(ctx context.Context) error
}

// NewServer builds the router for svc.
func NewServer(svc *ledger.Service, config ServerConfig, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}

	s := &Server{
		svc:    svc,
		logger: opts.Logger.Named("api"),
		ready:  opts.Ready,
		config: config,
	}

	r := mux.NewRouter()
	r.Use(s.requestLogger)
	if opts.Registry != nil {
		r.Use(newHTTPMetrics(opts.Registry).middleware)
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	} else {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/customers", s.handleOpenAccount).Methods(http.MethodPost)
	r.HandleFunc("/customers", s.handleCustomers).Methods(http.MethodGet)
	r.HandleFunc("/customers/{id:[0-9]+}/account", s.handleCustomerAccount).Methods(http.MethodGet)
	r.HandleFunc("/customers/{id:[0-9]+}/transactions", s.handleCustomerTransactions).Methods(http.MethodGet)

	r.HandleFunc("/accounts/me", s.handleMyAccount).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}", s.handleAccount).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id}", s.handleCloseAccount).Methods(http.MethodDelete)
	r.HandleFunc("/accounts/{id}/activate", s.handleSetActive(true)).Methods(http.MethodPut)
	r.HandleFunc("/accounts/{id}/deactivate", s.handleSetActive(false)).Methods(http.MethodPut)
	r.HandleFunc("/accounts/{id}/mutations", s.handleMutations).Methods(http.MethodGet)

	r.HandleFunc("/deposits", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/withdrawals", s.handleWithdraw).Methods(http.MethodPost)
	r.HandleFunc("/transfers", s.handleTransfer).Methods(http.MethodPost)

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("server listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

type customerResponse struct {
	ID         int64              `json:"id"`
	ExternalID uuid.UUID          `json:"external_id"`
	Name       string             `json:"name"`
	Email      string             `json:"email"`
	Account    accountStateResult `json:"account"`
}

type accountStateResult struct {
	ID            uuid.UUID `json:"id"`
	AccountNumber string    `json:"account_number"`
	Active        bool      `json:"active"`
}

func stateOf(a *ledger.Account) accountStateResult {
	return accountStateResult{ID: a.ExternalID, AccountNumber: a.Number, Active: a.Active}
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req ledger.NewCustomer
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	c, a, err := s.svc.OpenAccount(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, customerResponse{
		ID:         c.ID,
		ExternalID: c.ExternalID,
		Name:       c.DisplayName(),
		Email:      c.Email,
		Account:    stateOf(a),
	})
}

func (s *Server) handleMyAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	view, err := s.svc.AccountSummary(ctx, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndAccount(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	view, err := s.svc.AccountByExternalID(ctx, actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := s.actorAndAccount(w, r)
		if !ok {
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()

		set := s.svc.Deactivate
		if active {
			set = s.svc.Activate
		}
		acct, err := set(ctx, actor, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stateOf(acct))
	}
}

func (s *Server) handleCloseAccount(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndAccount(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.svc.CloseAccount(ctx, actor, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMutations(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := s.actorAndAccount(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	receipts, err := s.svc.Mutations(ctx, actor, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	customerID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, ledger.ErrCustomerNotFound)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	receipts, err := s.svc.CustomerTransactions(ctx, actor, customerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

type customerItem struct {
	ID             int64     `json:"id"`
	ExternalID     uuid.UUID `json:"external_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email"`
	IdentityNumber string    `json:"identity_number"`
	Address        string    `json:"address"`
	Sex            string    `json:"sex,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	customers, err := s.svc.Customers(ctx, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]customerItem, 0, len(customers))
	for _, c := range customers {
		items = append(items, customerItem{
			ID:             c.ID,
			ExternalID:     c.ExternalID,
			FirstName:      c.FirstName,
			LastName:       c.LastName,
			Email:          c.Email,
			IdentityNumber: c.IdentityNumber,
			Address:        c.Address,
			Sex:            c.Sex,
			CreatedAt:      c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCustomerAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	customerID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, ledger.ErrCustomerNotFound)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	view, err := s.svc.AccountByOwner(ctx, actor, customerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type amountRequest struct {
	Amount json.Number `json:"amount"`
}

type transferRequest struct {
	SenderCustomerID         int64       `json:"sender_customer_id"`
	DestinationAccountNumber string      `json:"destination_account_number"`
	Amount                   json.Number `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMovement(w, r, s.svc.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMovement(w, r, s.svc.Withdraw)
}

func (s *Server) handleMovement(w http.ResponseWriter, r *http.Request, move func(context.Context, ledger.Actor, decimal.Decimal) (*ledger.Receipt, error)) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := ledger.ParseAmount(req.Amount.String())
	if err != nil {
		s.writeError(w, r, ledger.NewFieldError("amount", err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	receipt, err := move(ctx, actor, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := ledger.ParseAmount(req.Amount.String())
	if err != nil {
		s.writeError(w, r, ledger.NewFieldError("amount", err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	receipt, err := s.svc.Transfer(ctx, actor, ledger.TransferRequest{
		SenderCustomerID:         req.SenderCustomerID,
		DestinationAccountNumber: req.DestinationAccountNumber,
		Amount:                   amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// actor reads the caller identity. Requests carrying neither a customer id
// nor the admin flag are rejected with 401.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (ledger.Actor, bool) {
	var actor ledger.Actor
	if v := r.Header.Get(HeaderCustomerID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": errUnauthenticated.Error()})
			return actor, false
		}
		actor.CustomerID = id
	}
	actor.Admin, _ = strconv.ParseBool(r.Header.Get(HeaderAdmin))

	if actor.CustomerID == 0 && !actor.Admin {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": errUnauthenticated.Error()})
		return actor, false
	}
	return actor, true
}

func (s *Server) actorAndAccount(w http.ResponseWriter, r *http.Request) (ledger.Actor, uuid.UUID, bool) {
	actor, ok := s.actor(w, r)
	if !ok {
		return actor, uuid.Nil, false
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, ledger.ErrAccountNotFound)
		return actor, uuid.Nil, false
	}
	return actor, id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.config.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

// writeError renders a ledger error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *ledger.FieldError
	switch {
	case errors.As(err, &fe):
		writeJSON(w, http.StatusBadRequest, map[string][]string{fe.Field: {fe.Message()}})
	case ledger.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": strings.TrimPrefix(err.Error(), "ledger: ")})
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
	case errors.Is(err, ledger.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "you do not have permission to perform this action"})
	case ledger.IsTransient(err):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "temporarily unavailable, retry later"})
	case errors.Is(err, context.Canceled):
		// client went away
		w.WriteHeader(499)
	default:
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
	}
}

// requestLogger tags each request with an id and logs its completion.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		l := s.logger.With(
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(srw, r.WithContext(logging.WithContext(r.Context(), l)))

		l.Debug("request served",
			zap.Int("status", srw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
