// Package api is the REST and WebSocket view layer over a running simulation.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/app/core"
	"github.com/uhyunpark/stocksim/pkg/app/sim"
	"github.com/uhyunpark/stocksim/pkg/events"
	"github.com/uhyunpark/stocksim/pkg/storage"
)

const (
	defaultDepth        = 10
	defaultTradeLimit   = 50
	maxTradeLimit       = 500
	shutdownGracePeriod = 5 * time.Second
)

// Server provides the HTTP API for the simulation
type Server struct {
	sim     *sim.StockSim
	store   *storage.Store // nil disables trade history
	router  *mux.Router
	hub     *Hub
	log     *zap.Logger
	origins []string
	detach  func()
}

// NewServer creates an API server and subscribes its hub to the simulation bus.
func NewServer(s *sim.StockSim, store *storage.Store, origins []string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	srv := &Server{
		sim:     s,
		store:   store,
		router:  mux.NewRouter(),
		hub:     NewHub(log.Named("ws")),
		log:     log,
		origins: origins,
	}
	srv.setupRoutes()
	srv.detach = s.Bus().Subscribe(srv.onEvent)
	return srv
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Catalog
	api.HandleFunc("/instruments", s.handleListInstruments).Methods("GET")
	api.HandleFunc("/instruments", s.handleCreateInstrument).Methods("POST")
	api.HandleFunc("/instruments/{symbol}", s.handleGetInstrument).Methods("GET")
	api.HandleFunc("/instruments/{symbol}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/instruments/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Traders
	api.HandleFunc("/traders", s.handleListTraders).Methods("GET")
	api.HandleFunc("/traders", s.handleCreateTrader).Methods("POST")
	api.HandleFunc("/traders/{id}/portfolio", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/traders/{id}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/me", s.handleGetMe).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleCancelOrder).Methods("DELETE")

	// Simulation control
	api.HandleFunc("/sim", s.handleSimStatus).Methods("GET")
	api.HandleFunc("/sim/{action:start|pause}", s.handleSimControl).Methods("POST")
	api.HandleFunc("/sim/speed", s.handleSetSpeed).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start serves on addr until ctx is done, then shuts the listener and the
// hub down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	s.log.Info("api_listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		s.detach()
		return errors.Wrap(err, "api server")
	case <-ctx.Done():
	}

	s.detach()
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		return errors.Wrap(err, "api shutdown")
	}
	return nil
}

// ==============================
// Bus bridge
// ==============================

// onEvent runs on the publisher's goroutine; it only marshals and queues.
func (s *Server) onEvent(e events.Event) {
	switch e.Kind {
	case events.PriceUpdated:
		if !s.hub.HasSubscribers("prices") {
			return
		}
		all := s.sim.Prices()
		prices := make(map[string]decimal.Decimal, len(e.Symbols))
		for _, sym := range e.Symbols {
			if p, ok := all[sym]; ok {
				prices[sym] = p
			}
		}
		s.hub.BroadcastToChannel("prices", WSMessage{Type: "prices", Time: e.Time, Data: PriceUpdate{Prices: prices}})

	case events.TradeSettled:
		if e.Trade == nil {
			return
		}
		msg := WSMessage{Type: "trade", Time: e.Time, Data: tradeInfo(*e.Trade)}
		s.hub.BroadcastToChannel("trades", msg)
		s.hub.BroadcastToChannel("trades:"+e.Trade.Symbol, msg)

	case events.CatalogChanged:
		if !s.hub.HasSubscribers("catalog") {
			return
		}
		s.hub.BroadcastToChannel("catalog", WSMessage{Type: "catalog", Time: e.Time, Data: s.sim.Instruments()})

	case events.PortfolioChanged:
		channel := "portfolio:" + e.TraderID
		if !s.hub.HasSubscribers(channel) {
			return
		}
		view, err := s.sim.Portfolio(e.TraderID)
		if err != nil {
			s.log.Warn("ws_portfolio_lookup_failed", zap.String("trader", e.TraderID), zap.Error(err))
			return
		}
		s.hub.BroadcastToChannel(channel, WSMessage{Type: "portfolio", Time: e.Time, Data: view})
	}
}

// ==============================
// Catalog handlers
// ==============================

// handleListInstruments returns every instrument without history
func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Instruments())
}

// handleGetInstrument returns one instrument with its price history
func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	inst, err := s.sim.Instrument(mux.Vars(r)["symbol"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inst)
}

func (s *Server) handleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req CreateInstrumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inst, err := s.sim.CreateInstrument(core.InstrumentSpec{
		Symbol:       req.Symbol,
		Name:         req.Name,
		Category:     req.Category,
		TickSize:     req.TickSize,
		LotSize:      req.LotSize,
		InitialPrice: req.InitialPrice,
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, inst)
}

// handleGetBook returns aggregated depth, ?levels=N per side
func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	levels, ok := queryInt(w, r, "levels", defaultDepth)
	if !ok {
		return
	}
	depth, err := s.sim.Depth(symbol, levels)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	top, err := s.sim.TopOfBook(symbol)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, OrderbookSnapshot{
		Symbol:    depth.Symbol,
		Bids:      depth.Bids,
		Asks:      depth.Asks,
		LastPrice: top.LastPrice,
	})
}

// handleGetTrades returns recent persisted trades, newest first, ?limit=N
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	inst, err := s.sim.Instrument(mux.Vars(r)["symbol"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultTradeLimit)
	if !ok {
		return
	}
	limit = min(max(limit, 1), maxTradeLimit)

	if s.store == nil {
		respondJSON(w, http.StatusOK, []TradeInfo{})
		return
	}
	trades, err := s.store.LoadRecentTrades(inst.Symbol, limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tradeInfos(trades))
}

// ==============================
// Trader handlers
// ==============================

func (s *Server) handleListTraders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Traders())
}

func (s *Server) handleCreateTrader(w http.ResponseWriter, r *http.Request) {
	var req CreateTraderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	info, err := s.sim.CreateTrader(sim.TraderSpec{
		Kind:      req.Kind,
		ID:        req.ID,
		Name:      req.Name,
		Strategy:  req.Strategy,
		Watchlist: req.Watchlist,
		RandSeed:  req.Seed,
		Balance:   req.Balance,
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

// handleGetMe returns the trader the view acts for.
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	info, ok := s.sim.CurrentUser()
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no current user")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := s.sim.Portfolio(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.sim.History(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	resp := HistoryResponse{Orders: make([]OrderInfo, len(h.Orders)), Trades: tradeInfos(h.Trades)}
	for i, o := range h.Orders {
		resp.Orders[i] = orderInfo(o)
	}
	respondJSON(w, http.StatusOK, resp)
}

// ==============================
// Order handlers
// ==============================

// handleSubmitOrder places an order and returns its state after matching.
// A rejected order leaves no trace and maps to 4xx.
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.sim.PlaceOrder(sim.OrderRequest{
		TraderID: req.TraderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Price:    req.Price,
		Quantity: req.Size,
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SubmitOrderResponse{
		Order:     orderInfo(res.Order),
		Trades:    tradeInfos(res.Trades),
		Rested:    res.Rested,
		Cancelled: res.Cancelled,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	o, err := s.sim.Order(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orderInfo(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", err.Error())
		return
	}
	o, err := s.sim.CancelOrder(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orderInfo(o))
}

// ==============================
// Simulation handlers
// ==============================

func (s *Server) handleSimStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Status())
}

func (s *Server) handleSimControl(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["action"] {
	case "start":
		if err := s.sim.Start(); err != nil {
			s.respondErr(w, err)
			return
		}
	case "pause":
		s.sim.Pause()
	}
	respondJSON(w, http.StatusOK, s.sim.Status())
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req SetSpeedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.sim.SetSpeed(req.Speed); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.sim.Status())
}

// handleHealth returns simple health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"state":   s.sim.State(),
		"clients": s.hub.ClientCount(),
	})
}

// ==============================
// Helper Functions
// ==============================

// statusOf maps the error taxonomy onto HTTP status codes. Validation is
// checked first: an unknown trader on an order request is a bad request.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrUnknownStrategy):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, core.ErrUnknownInstrument), errors.Is(err, core.ErrUnknownTrader),
		errors.Is(err, core.ErrOrderNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrDuplicateInstrument), errors.Is(err, core.ErrDuplicateTrader):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, core.ErrInsufficientFunds), errors.Is(err, core.ErrInsufficientShares):
		return http.StatusUnprocessableEntity, "insufficient_holdings"
	case errors.Is(err, sim.ErrStopped):
		return http.StatusServiceUnavailable, "stopped"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	if status == http.StatusInternalServerError {
		s.log.Error("api_internal_error", zap.Error(err))
	}
	respondError(w, status, code, err.Error())
}

// decodeBody decodes a JSON request body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

// queryInt reads an optional integer query parameter, answering 400 when it
// is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", name+" must be an integer")
		return 0, false
	}
	return n, true
}

// respondJSON writes JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes error response
func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
