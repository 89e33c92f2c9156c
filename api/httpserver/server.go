// Package httpserver exposes the venue over REST plus a WebSocket
// execution feed. Sessions are bearer tokens issued by the auth
// endpoint; order book depth and health are public.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"baldr/domain/book"
	"baldr/domain/market"
	"baldr/service"
)

type Server struct {
	log    zerolog.Logger
	engine *service.Engine
	dist   *service.Distributor
	router *mux.Router
	http   *http.Server

	sessionsMu sync.RWMutex
	sessions   map[string]market.UserID // token -> user
}

func New(log zerolog.Logger, engine *service.Engine, dist *service.Distributor) *Server {
	s := &Server{
		log:      log,
		engine:   engine,
		dist:     dist,
		router:   mux.NewRouter(),
		sessions: make(map[string]market.UserID),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth", s.handleAuth).Methods("POST")
	api.HandleFunc("/orders", s.withUser(s.handleSubmitOrder)).Methods("POST")
	api.HandleFunc("/orders", s.withUser(s.handleOpenOrders)).Methods("GET")
	api.HandleFunc("/orders/cancel", s.withUser(s.handleCancelOrder)).Methods("POST")
	api.HandleFunc("/orders/modify", s.withUser(s.handleModifyOrder)).Methods("POST")
	api.HandleFunc("/orderbook/{symbol}", s.handleOrderbook).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start(addr string, readTimeout, writeTimeout, idleTimeout time.Duration) error {
	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	s.log.Info().Str("addr", addr).Msg("http server starting")

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ==============================
// Sessions
// ==============================

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, market.InvalidArgs, "malformed body")
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		respondError(w, http.StatusBadRequest, market.InvalidArgs, "user must be a uuid")
		return
	}

	token := uuid.NewString()
	s.sessionsMu.Lock()
	s.sessions[token] = user
	s.sessionsMu.Unlock()

	respondJSON(w, AuthResponse{Token: token, User: user.String()})
}

func (s *Server) userFromRequest(r *http.Request) (market.UserID, bool) {
	token := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = t
	} else if q := r.URL.Query().Get("token"); q != "" {
		token = q
	}
	if token == "" {
		return market.UserID{}, false
	}

	s.sessionsMu.RLock()
	user, ok := s.sessions[token]
	s.sessionsMu.RUnlock()
	return user, ok
}

func (s *Server) withUser(h func(http.ResponseWriter, *http.Request, market.UserID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.userFromRequest(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, market.NotAuthenticated, "authenticate first")
			return
		}
		h(w, r, user)
	}
}

// ==============================
// Order handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request, user market.UserID) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, market.InvalidArgs, "malformed body")
		return
	}

	side, err := market.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, market.InvalidArgs, err.Error())
		return
	}
	price, err := market.ParsePrice(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, market.InvalidArgs, err.Error())
		return
	}

	order, execs, err := s.engine.SubmitNew(user, market.Symbol(req.Symbol), side, price, market.Quantity(req.Quantity))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, SubmitResponse{
		Order:      orderInfo(order),
		Executions: executionInfos(execs, user),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request, user market.UserID) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, market.InvalidArgs, "malformed body")
		return
	}
	id, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, market.InvalidArgs, "orderId must be a uuid")
		return
	}

	cancelled, err := s.engine.SubmitCancel(user, id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(cancelled))
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request, user market.UserID) {
	var req ModifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, market.InvalidArgs, "malformed body")
		return
	}
	id, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, market.InvalidArgs, "orderId must be a uuid")
		return
	}

	var price market.Price
	if req.Price != "" {
		if price, err = market.ParsePrice(req.Price); err != nil {
			respondError(w, http.StatusBadRequest, market.InvalidArgs, err.Error())
			return
		}
	}

	order, execs, err := s.engine.SubmitModify(user, id, price, market.Quantity(req.Quantity))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, SubmitResponse{
		Order:      orderInfo(order),
		Executions: executionInfos(execs, user),
	})
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request, user market.UserID) {
	orders, err := s.engine.OpenOrders(user)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := market.Symbol(mux.Vars(r)["symbol"])

	depth := 0
	if v := r.URL.Query().Get("depth"); v != "" {
		depth, _ = strconv.Atoi(v)
	}

	bids, asks, err := s.engine.Depth(symbol, depth)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, OrderbookSnapshot{
		Symbol:    string(symbol),
		Bids:      priceLevels(bids),
		Asks:      priceLevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Ready() {
		respondError(w, http.StatusServiceUnavailable, market.Other, "recovering")
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func orderInfo(o market.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID.String(),
		Symbol:    string(o.Symbol),
		Side:      o.Side.String(),
		Price:     o.Price.String(),
		Remaining: int64(o.Quantity),
		Updated:   o.Updated.UnixNano(),
	}
}

func executionInfos(execs []market.Execution, user market.UserID) []ExecutionInfo {
	out := make([]ExecutionInfo, 0, len(execs))
	for _, x := range execs {
		if ue, ok := x.ForUser(user); ok {
			out = append(out, executionInfo(ue))
		}
	}
	return out
}

func executionInfo(ue market.UserExecution) ExecutionInfo {
	return ExecutionInfo{
		ID:       ue.ID.String(),
		OrderID:  ue.Order.String(),
		Symbol:   string(ue.Symbol),
		Side:     ue.Side.String(),
		Price:    ue.Price.String(),
		Quantity: int64(ue.Quantity),
		Time:     ue.TS.UnixNano(),
	}
}

func priceLevels(in []book.Level) []PriceLevel {
	out := make([]PriceLevel, len(in))
	for i, l := range in {
		out[i] = PriceLevel{Price: l.Price.String(), Quantity: int64(l.Quantity)}
	}
	return out
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code market.ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code.String(), Message: message})
}

func respondEngineError(w http.ResponseWriter, err error) {
	switch market.CodeOf(err) {
	case market.InvalidArgs:
		respondError(w, http.StatusBadRequest, market.InvalidArgs, err.Error())
	case market.NotFound:
		respondError(w, http.StatusNotFound, market.NotFound, err.Error())
	case market.NotAuthenticated:
		respondError(w, http.StatusUnauthorized, market.NotAuthenticated, err.Error())
	case market.AlreadySubscribed:
		respondError(w, http.StatusConflict, market.AlreadySubscribed, err.Error())
	default:
		if errors.Is(err, service.ErrNotReady) || errors.Is(err, service.ErrUnavailable) {
			respondError(w, http.StatusServiceUnavailable, market.Other, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, market.Other, err.Error())
	}
}
