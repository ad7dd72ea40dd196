// Package sim is the exchange orchestrator. It owns the instrument catalog,
// the per-symbol books, the trader registry and the simulated clock, and routes
// every order, human or bot, through one placeOrder pipeline:
// validate, stamp, match, settle, publish.
package sim

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	wallclock "github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/market"
	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
	"github.com/uhyunpark/stocksim/pkg/app/core/settlement"
	"github.com/uhyunpark/stocksim/pkg/clock"
	"github.com/uhyunpark/stocksim/pkg/events"
)

// ErrStopped is returned by operations attempted after Shutdown.
var ErrStopped = errors.New("simulation stopped")

// State is the simulation lifecycle state.
type State int32

const (
	Paused State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "RUNNING"
	}
	return "PAUSED"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config holds the simulation parameters.
type Config struct {
	Start         time.Time     // initial simulated instant, zero means wall now
	Speed         float64       // simulated seconds per wall second
	PollInterval  time.Duration // ticker wall polling interval
	Workers       int           // bot executor size, zero means CPU count
	DrainTimeout  time.Duration // bound on executor drain at shutdown
	HistoryWindow int           // recent prices handed to strategies
}

func DefaultConfig() Config {
	return Config{
		Speed:         1,
		PollInterval:  100 * time.Millisecond,
		DrainTimeout:  5 * time.Second,
		HistoryWindow: 64,
	}
}

// Deps are the collaborators injected into the simulation.
type Deps struct {
	Wall wallclock.Clock // nil uses the real clock
	Bus  *events.Bus     // nil creates a private bus
	Log  *zap.Logger
}

// symbolBook serializes matching and settlement for one instrument.
type symbolBook struct {
	mu   sync.Mutex
	book *orderbook.OrderBook
}

// StockSim is the exchange. All methods are safe for concurrent use.
type StockSim struct {
	cfg Config
	log *zap.Logger

	clock  *clock.GameClock
	ticker *clock.Ticker
	bus    *events.Bus
	exec   *Executor

	instruments *market.Registry
	traders     *account.Registry
	settle      *settlement.Engine

	booksMu sync.RWMutex
	books   map[string]*symbolBook

	// settleMu is held for reading across every match and settlement group and
	// for writing by readers that need all portfolios at one consistent point.
	settleMu sync.RWMutex

	ordersMu sync.RWMutex
	orders   map[int64]*orderbook.Order
	nextID   atomic.Int64

	dirtyMu sync.Mutex
	dirty   map[string]struct{} // symbols traded by bots during the current tick

	lifeMu  sync.Mutex
	state   State
	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a paused simulation with an empty catalog.
func New(cfg Config, deps Deps) (*StockSim, error) {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	wall := deps.Wall
	if wall == nil {
		wall = wallclock.New()
	}
	start := cfg.Start
	if start.IsZero() {
		start = wall.Now().UTC()
	}

	gc, err := clock.NewGameClock(wall, start, cfg.Speed)
	if err != nil {
		return nil, errors.Wrap(err, "game clock")
	}
	gc.Pause()

	s := &StockSim{
		cfg:         cfg,
		log:         log,
		clock:       gc,
		bus:         bus,
		exec:        NewExecutor(cfg.Workers, log),
		instruments: market.NewRegistry(),
		traders:     account.NewRegistry(),
		books:       make(map[string]*symbolBook),
		orders:      make(map[int64]*orderbook.Order),
		dirty:       make(map[string]struct{}),
	}
	s.settle = settlement.NewEngine(s.traders, s.instruments, settlement.NewOwnerIndex(), log)
	s.ticker = clock.NewTicker(gc, cfg.PollInterval, s.onTick, log)
	return s, nil
}

func (s *StockSim) Bus() *events.Bus { return s.bus }

func (s *StockSim) Clock() *clock.GameClock { return s.clock }

// CreateInstrument registers a new instrument and its empty book.
func (s *StockSim) CreateInstrument(spec market.Spec) (market.Snapshot, error) {
	if s.stopped.Load() {
		return market.Snapshot{}, ErrStopped
	}
	inst, err := market.NewInstrument(spec, s.clock.Instant())
	if err != nil {
		return market.Snapshot{}, err
	}
	if err := s.addInstrument(inst); err != nil {
		return market.Snapshot{}, err
	}
	s.bus.Publish(events.Event{Kind: events.CatalogChanged, Time: s.clock.Instant(), Symbols: []string{inst.Symbol}})
	return inst.Snapshot(false), nil
}

func (s *StockSim) addInstrument(inst *market.Instrument) error {
	if err := s.instruments.Register(inst); err != nil {
		return err
	}
	s.booksMu.Lock()
	s.books[inst.Symbol] = &symbolBook{book: orderbook.NewOrderBook(inst.Symbol, inst.TickSize)}
	s.booksMu.Unlock()
	return nil
}

func (s *StockSim) book(symbol string) (*symbolBook, error) {
	s.booksMu.RLock()
	defer s.booksMu.RUnlock()
	b, ok := s.books[market.NormalizeSymbol(symbol)]
	if !ok {
		return nil, errors.Wrapf(market.ErrUnknownInstrument, "%q", symbol)
	}
	return b, nil
}

// OrderRequest is the input of PlaceOrder. Price is ignored for market orders.
type OrderRequest struct {
	TraderID string
	Symbol   string
	Side     orderbook.Side
	Type     orderbook.OrderType
	Price    decimal.Decimal
	Quantity int64
}

// Result is the outcome of one placed order.
type Result struct {
	Order     orderbook.Order   // state right after matching
	Trades    []orderbook.Trade // settled trades, in execution order
	Rested    bool
	Cancelled []int64 // resting orders dropped because their owner could not settle
}

// PlaceOrder is the single order entry point. Validation failures wrap
// orderbook.ErrValidation and leave no state behind.
func (s *StockSim) PlaceOrder(req OrderRequest) (Result, error) {
	res, batch, err := s.place(req, false)
	if err != nil {
		return Result{}, err
	}
	s.publish(batch, false)
	return res, nil
}

func (s *StockSim) place(req OrderRequest, bot bool) (Result, *settlement.Batch, error) {
	if s.stopped.Load() {
		return Result{}, nil, ErrStopped
	}
	trader, inst, err := s.validate(&req)
	if err != nil {
		level := s.log.Warn
		if bot {
			level = s.log.Debug
		}
		level("order_rejected",
			zap.String("trader", req.TraderID),
			zap.String("symbol", req.Symbol),
			zap.Stringer("side", req.Side),
			zap.Stringer("type", req.Type),
			zap.String("price", req.Price.String()),
			zap.Int64("qty", req.Quantity),
			zap.Error(err))
		return Result{}, nil, err
	}
	sb, err := s.book(inst.Symbol)
	if err != nil {
		return Result{}, nil, err
	}

	o := &orderbook.Order{
		ID:            s.nextID.Add(1),
		Side:          req.Side,
		Type:          req.Type,
		Symbol:        inst.Symbol,
		Price:         req.Price,
		TotalQuantity: req.Quantity,
		Remaining:     req.Quantity,
		Status:        orderbook.New,
		TraderID:      trader.ID,
	}
	// The owner must be known before the order can be matched.
	s.settle.Owners().Record(o.ID, trader.ID)
	if trader.History != nil {
		trader.History.RecordOrder(o.ID)
	}

	batch := &settlement.Batch{}
	matcher := orderbook.NewMatchingEngine(s.settle.Bind(batch), s.log)

	s.settleMu.RLock()
	defer s.settleMu.RUnlock()
	sb.mu.Lock()
	o.SubmittedAt = s.clock.Instant()
	s.ordersMu.Lock()
	s.orders[o.ID] = o
	s.ordersMu.Unlock()
	mr := matcher.Match(o, sb.book)
	res := Result{Order: *o, Trades: mr.Trades, Rested: mr.Rested, Cancelled: mr.Cancelled}
	sb.mu.Unlock()

	return res, batch, nil
}

func (s *StockSim) validate(req *OrderRequest) (*account.Trader, *market.Instrument, error) {
	if strings.TrimSpace(req.TraderID) == "" {
		return nil, nil, errors.Wrap(orderbook.ErrValidation, "trader id is required")
	}
	trader, err := s.traders.Get(req.TraderID)
	if err != nil {
		return nil, nil, errors.Wrapf(orderbook.ErrValidation, "%v", err)
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return nil, nil, errors.Wrap(orderbook.ErrValidation, "symbol is required")
	}
	inst, err := s.instruments.Get(req.Symbol)
	if err != nil {
		return nil, nil, errors.Wrapf(orderbook.ErrValidation, "%v", err)
	}
	if req.Side != orderbook.Buy && req.Side != orderbook.Sell {
		return nil, nil, errors.Wrapf(orderbook.ErrValidation, "invalid side %d", req.Side)
	}
	if err := inst.ValidateQuantity(req.Quantity); err != nil {
		return nil, nil, err
	}
	switch req.Type {
	case orderbook.Limit:
		if err := inst.ValidatePrice(req.Price); err != nil {
			return nil, nil, err
		}
	case orderbook.Market:
		req.Price = decimal.Zero
	default:
		return nil, nil, errors.Wrapf(orderbook.ErrValidation, "invalid order type %d", req.Type)
	}
	return trader, inst, nil
}

// publish sends a settled batch to the bus outside every book lock. Bot
// orders defer PriceUpdated to the end of their tick.
func (s *StockSim) publish(batch *settlement.Batch, deferPrice bool) {
	batch.Publish(s.bus)
	syms := batch.Symbols()
	if len(syms) == 0 {
		return
	}
	if deferPrice {
		s.dirtyMu.Lock()
		for _, sym := range syms {
			s.dirty[sym] = struct{}{}
		}
		s.dirtyMu.Unlock()
		return
	}
	s.bus.Publish(events.Event{Kind: events.PriceUpdated, Time: s.clock.Instant(), Symbols: syms})
}

// CancelOrder removes a resting order and marks it CANCELLED.
func (s *StockSim) CancelOrder(id int64) (orderbook.Order, error) {
	if s.stopped.Load() {
		return orderbook.Order{}, ErrStopped
	}
	o, sb, err := s.lookup(id)
	if err != nil {
		return orderbook.Order{}, err
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if _, ok := sb.book.Remove(id); !ok {
		return *o, errors.Wrapf(orderbook.ErrOrderNotFound, "order %d is not resting (%s)", id, o.Status)
	}
	if err := o.Cancel(); err != nil {
		return *o, err
	}
	return *o, nil
}

func (s *StockSim) lookup(id int64) (*orderbook.Order, *symbolBook, error) {
	s.ordersMu.RLock()
	o, ok := s.orders[id]
	s.ordersMu.RUnlock()
	if !ok {
		return nil, nil, errors.Wrapf(orderbook.ErrOrderNotFound, "order %d", id)
	}
	sb, err := s.book(o.Symbol)
	if err != nil {
		return nil, nil, err
	}
	return o, sb, nil
}

// Order returns a copy of any order ever placed, open or closed.
func (s *StockSim) Order(id int64) (orderbook.Order, error) {
	o, sb, err := s.lookup(id)
	if err != nil {
		return orderbook.Order{}, err
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return *o, nil
}

// Start resumes simulated time and bot ticks.
func (s *StockSim) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.stopped.Load() {
		return ErrStopped
	}
	if s.state == Running {
		return nil
	}
	s.clock.Resume()
	s.ticker.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.state = Running
	go func() {
		defer close(done)
		_ = s.ticker.Run(ctx)
	}()
	s.log.Info("simulation started", zap.Float64("speed", s.clock.Speed()), zap.Time("instant", s.clock.Instant()))
	return nil
}

// Pause stops scheduling ticks, waits for the current tick to finish and
// freezes simulated time. Must not be called from an event handler.
func (s *StockSim) Pause() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.pauseLocked()
}

func (s *StockSim) pauseLocked() {
	if s.state != Running {
		return
	}
	s.cancel()
	<-s.done
	s.clock.Pause()
	s.state = Paused
	s.log.Info("simulation paused", zap.Time("instant", s.clock.Instant()))
}

// SetSpeed changes the simulation speed without a jump in simulated time.
func (s *StockSim) SetSpeed(speed float64) error {
	if err := s.clock.SetSpeed(speed); err != nil {
		return errors.Wrapf(orderbook.ErrValidation, "%v", err)
	}
	s.log.Info("simulation speed changed", zap.Float64("speed", speed))
	return nil
}

// State returns the lifecycle state.
func (s *StockSim) State() State {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.state
}

// Shutdown pauses the simulation, rejects further orders and drains the bot
// executor. In-flight bot actions run to completion.
func (s *StockSim) Shutdown(ctx context.Context) error {
	s.lifeMu.Lock()
	s.pauseLocked()
	first := s.stopped.CompareAndSwap(false, true)
	s.lifeMu.Unlock()
	if !first {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DrainTimeout)
		defer cancel()
	}
	if err := s.exec.Shutdown(ctx); err != nil {
		s.log.Warn("executor drain incomplete", zap.Error(err))
		return err
	}
	s.log.Info("simulation stopped")
	return nil
}
