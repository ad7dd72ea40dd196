package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	wallclock "github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/market"
	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
	"github.com/uhyunpark/stocksim/pkg/app/core/strategy"
	"github.com/uhyunpark/stocksim/pkg/events"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) of(k events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func newTestSim(t *testing.T) (*StockSim, *wallclock.Mock, *recorder) {
	t.Helper()
	mock := wallclock.NewMock()
	s, err := New(Config{Start: t0, Speed: 1, PollInterval: 100 * time.Millisecond, Workers: 4}, Deps{Wall: mock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	rec := &recorder{}
	s.Bus().Subscribe(rec.handle)

	_, err = s.CreateInstrument(market.Spec{
		Symbol: "acme", Name: "Acme", Category: "tech", TickSize: d("0.01"), LotSize: 1, InitialPrice: d("150"),
	})
	require.NoError(t, err)
	rec.reset()
	return s, mock, rec
}

func addUser(t *testing.T, s *StockSim, id, balance string, shares int64) *account.Trader {
	t.Helper()
	_, err := s.CreateTrader(TraderSpec{Kind: account.User, ID: id, Balance: d(balance)})
	require.NoError(t, err)
	tr, err := s.traders.Get(id)
	require.NoError(t, err)
	if shares > 0 {
		require.NoError(t, tr.Portfolio.AddShares("ACME", shares, d("100"), t0))
	}
	return tr
}

func limit(trader string, side orderbook.Side, price string, qty int64) OrderRequest {
	return OrderRequest{TraderID: trader, Symbol: "ACME", Side: side, Type: orderbook.Limit, Price: d(price), Quantity: qty}
}

func TestPlaceOrder_PartialFill(t *testing.T) {
	s, _, rec := newTestSim(t)
	alice := addUser(t, s, "alice", "0", 50)
	bob := addUser(t, s, "bob", "20000", 0)

	sell, err := s.PlaceOrder(limit("alice", orderbook.Sell, "150", 50))
	require.NoError(t, err)
	assert.True(t, sell.Rested)

	rec.reset()
	buy, err := s.PlaceOrder(limit("bob", orderbook.Buy, "150", 100))
	require.NoError(t, err)

	require.Len(t, buy.Trades, 1)
	assert.Equal(t, int64(50), buy.Trades[0].Quantity)
	assert.True(t, buy.Trades[0].Price.Equal(d("150")))
	assert.Equal(t, orderbook.PartiallyFilled, buy.Order.Status)
	assert.Equal(t, int64(50), buy.Order.Remaining)
	assert.True(t, buy.Rested)

	filled, err := s.Order(sell.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Filled, filled.Status)

	top, err := s.TopOfBook("acme")
	require.NoError(t, err)
	assert.Nil(t, top.Ask, "filled sell left the book")
	require.NotNil(t, top.Bid)
	assert.Equal(t, int64(50), top.Bid.Qty)

	assert.True(t, bob.Portfolio.Balance().Equal(d("12500")))
	assert.True(t, alice.Portfolio.Balance().Equal(d("7500")))
	assert.Equal(t, int64(50), bob.Portfolio.Quantity("ACME"))
	assert.Equal(t, int64(0), alice.Portfolio.Quantity("ACME"))

	assert.Equal(t, []events.Kind{events.TradeSettled, events.PortfolioChanged, events.PortfolioChanged, events.PriceUpdated}, rec.kinds())

	inst, err := s.Instrument("ACME")
	require.NoError(t, err)
	assert.True(t, inst.CurrentPrice.Equal(d("150")))
	assert.Len(t, inst.History, 2)
}

func TestPlaceOrder_InsufficientFundsLeavesNoTrace(t *testing.T) {
	s, _, rec := newTestSim(t)
	alice := addUser(t, s, "alice", "0", 10)
	carol := addUser(t, s, "carol", "100", 0)

	sell, err := s.PlaceOrder(limit("alice", orderbook.Sell, "150", 10))
	require.NoError(t, err)
	rec.reset()

	buy, err := s.PlaceOrder(limit("carol", orderbook.Buy, "150", 10))
	require.NoError(t, err)
	assert.Empty(t, buy.Trades)
	assert.Equal(t, orderbook.Cancelled, buy.Order.Status)
	assert.False(t, buy.Rested, "a halted order never rests crossed")

	resting, err := s.Order(sell.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.New, resting.Status, "resting order is never marked filled without a transfer")
	assert.Equal(t, int64(10), resting.Remaining)

	assert.True(t, carol.Portfolio.Balance().Equal(d("100")))
	assert.Equal(t, int64(0), carol.Portfolio.Quantity("ACME"))
	assert.True(t, alice.Portfolio.Balance().IsZero())
	assert.Equal(t, int64(10), alice.Portfolio.Quantity("ACME"))
	assert.Empty(t, rec.of(events.TradeSettled))
}

func TestPlaceOrder_UnfundedRestingOrderIsDropped(t *testing.T) {
	s, _, _ := newTestSim(t)
	addUser(t, s, "alice", "0", 10)
	addUser(t, s, "carol", "100", 0)

	// carol can rest a bid she cannot pay for; it is dropped when hit
	bid, err := s.PlaceOrder(limit("carol", orderbook.Buy, "150", 10))
	require.NoError(t, err)
	require.True(t, bid.Rested)

	sell, err := s.PlaceOrder(limit("alice", orderbook.Sell, "149", 10))
	require.NoError(t, err)
	assert.Equal(t, []int64{bid.Order.ID}, sell.Cancelled)
	assert.Empty(t, sell.Trades)
	assert.True(t, sell.Rested)

	dropped, err := s.Order(bid.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Cancelled, dropped.Status)

	top, err := s.TopOfBook("ACME")
	require.NoError(t, err)
	assert.Nil(t, top.Bid)
	require.NotNil(t, top.Ask)
	assert.True(t, top.Ask.Price.Equal(d("149")))
}

func TestPlaceOrder_MarketRemainderCancelled(t *testing.T) {
	s, _, _ := newTestSim(t)
	addUser(t, s, "alice", "0", 5)
	addUser(t, s, "bob", "20000", 0)

	_, err := s.PlaceOrder(limit("alice", orderbook.Sell, "150", 5))
	require.NoError(t, err)

	res, err := s.PlaceOrder(OrderRequest{TraderID: "bob", Symbol: "ACME", Side: orderbook.Buy, Type: orderbook.Market, Quantity: 8})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(5), res.Trades[0].Quantity)
	assert.Equal(t, orderbook.Cancelled, res.Order.Status)
	assert.Equal(t, int64(3), res.Order.Remaining)
	assert.False(t, res.Rested)

	empty, err := s.PlaceOrder(OrderRequest{TraderID: "bob", Symbol: "ACME", Side: orderbook.Buy, Type: orderbook.Market, Quantity: 1})
	require.NoError(t, err)
	assert.Empty(t, empty.Trades)
	assert.Equal(t, orderbook.Cancelled, empty.Order.Status)
}

func TestPlaceOrder_Validation(t *testing.T) {
	s, _, rec := newTestSim(t)
	addUser(t, s, "bob", "1000", 0)

	tests := []struct {
		name string
		req  OrderRequest
	}{
		{"missing trader", OrderRequest{Symbol: "ACME", Side: orderbook.Buy, Type: orderbook.Limit, Price: d("1"), Quantity: 1}},
		{"unknown trader", limit("nobody", orderbook.Buy, "1", 1)},
		{"missing symbol", OrderRequest{TraderID: "bob", Side: orderbook.Buy, Type: orderbook.Limit, Price: d("1"), Quantity: 1}},
		{"unknown symbol", OrderRequest{TraderID: "bob", Symbol: "NOPE", Side: orderbook.Buy, Type: orderbook.Limit, Price: d("1"), Quantity: 1}},
		{"zero quantity", limit("bob", orderbook.Buy, "1", 0)},
		{"negative quantity", limit("bob", orderbook.Buy, "1", -5)},
		{"zero limit price", limit("bob", orderbook.Buy, "0", 1)},
		{"negative limit price", limit("bob", orderbook.Buy, "-1", 1)},
		{"off tick", limit("bob", orderbook.Buy, "1.005", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.PlaceOrder(tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, orderbook.ErrValidation)
		})
	}
	assert.Equal(t, 0, s.Status().Orders, "rejected orders leave no state")
	assert.Empty(t, rec.kinds())
}

func TestCancelOrder(t *testing.T) {
	s, _, _ := newTestSim(t)
	addUser(t, s, "bob", "20000", 0)

	res, err := s.PlaceOrder(limit("bob", orderbook.Buy, "140", 10))
	require.NoError(t, err)

	o, err := s.CancelOrder(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Cancelled, o.Status)

	_, err = s.CancelOrder(res.Order.ID)
	assert.ErrorIs(t, err, orderbook.ErrOrderNotFound)
	_, err = s.CancelOrder(999)
	assert.ErrorIs(t, err, orderbook.ErrOrderNotFound)

	depth, err := s.Depth("ACME", 0)
	require.NoError(t, err)
	assert.Empty(t, depth.Bids)
}

func TestHistory(t *testing.T) {
	s, _, _ := newTestSim(t)
	addUser(t, s, "alice", "0", 10)
	addUser(t, s, "bob", "20000", 0)
	_, err := s.CreateTrader(TraderSpec{Kind: account.Bot, ID: "bot-1", Strategy: "random", Balance: d("10")})
	require.NoError(t, err)

	_, err = s.PlaceOrder(limit("alice", orderbook.Sell, "150", 10))
	require.NoError(t, err)
	_, err = s.PlaceOrder(limit("bob", orderbook.Buy, "150", 4))
	require.NoError(t, err)

	h, err := s.History("BOB")
	require.NoError(t, err)
	require.Len(t, h.Orders, 1)
	assert.Equal(t, orderbook.Filled, h.Orders[0].Status)
	require.Len(t, h.Trades, 1)
	assert.Equal(t, int64(4), h.Trades[0].Quantity)

	h, err = s.History("alice")
	require.NoError(t, err)
	assert.Equal(t, orderbook.PartiallyFilled, h.Orders[0].Status)

	_, err = s.History("bot-1")
	assert.ErrorIs(t, err, orderbook.ErrValidation)
}

func TestCreateTrader(t *testing.T) {
	s, _, _ := newTestSim(t)

	_, err := s.CreateTrader(TraderSpec{Kind: account.User, ID: "Alice"})
	require.NoError(t, err)
	_, err = s.CreateTrader(TraderSpec{Kind: account.User, ID: "ALICE"})
	assert.ErrorIs(t, err, account.ErrDuplicateTrader)

	_, err = s.CreateTrader(TraderSpec{Kind: account.Bot, ID: "b1", Strategy: "yolo"})
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)

	_, err = s.CreateTrader(TraderSpec{Kind: account.User, ID: "u2", Strategy: "random"})
	assert.ErrorIs(t, err, orderbook.ErrValidation)

	info, err := s.CreateTrader(TraderSpec{Kind: account.Bot, ID: "w1", Strategy: "Watchlist", RandSeed: 7})
	require.NoError(t, err)
	assert.Equal(t, "watchlist", info.Strategy)
	assert.Equal(t, "IDLE", info.State)

	_, err = s.CreateInstrument(market.Spec{Symbol: "ACME", TickSize: d("1"), LotSize: 1, InitialPrice: d("1")})
	assert.ErrorIs(t, err, market.ErrDuplicateInstrument)
}

// spy records overlapping Decide calls and returns a fixed decision.
type spy struct {
	inFlight atomic.Int32
	overlaps atomic.Int32
	calls    atomic.Int32
	once     sync.Once
	first    strategy.Decision
	every    strategy.Decision
	panics   bool
}

func (s *spy) Kind() strategy.Kind { return strategy.Random }

func (s *spy) Decide(strategy.Market, strategy.Holdings) strategy.Decision {
	if s.inFlight.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	defer s.inFlight.Add(-1)
	s.calls.Add(1)
	if s.panics {
		panic("strategy blew up")
	}
	time.Sleep(200 * time.Microsecond)

	out := s.every
	s.once.Do(func() { out = s.first })
	return out
}

func addBot(t *testing.T, s *StockSim, id, balance string, strat strategy.Strategy) *account.Trader {
	t.Helper()
	b := account.NewBot(id, id, d(balance), strat)
	require.NoError(t, s.traders.Add(b))
	return b
}

func TestBots_NeverOverlap(t *testing.T) {
	s, _, _ := newTestSim(t)
	spies := make([]*spy, 16)
	bots := make([]*account.Trader, len(spies))
	for i := range spies {
		spies[i] = &spy{}
		bots[i] = addBot(t, s, "bot-"+string(rune('a'+i)), "1000", spies[i])
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				s.onTick(t0.Add(time.Duration(i) * time.Second))
			}
		}()
	}
	wg.Wait()
	s.exec.Wait()

	for i, sp := range spies {
		assert.Zero(t, sp.overlaps.Load(), "bot %d had overlapping action cycles", i)
		assert.Positive(t, sp.calls.Load())
		assert.Equal(t, account.Idle, bots[i].State())
	}
}

func TestBots_PanicReleasesBot(t *testing.T) {
	s, _, _ := newTestSim(t)
	b := addBot(t, s, "boom", "1000", &spy{panics: true})

	s.onTick(t0.Add(time.Second))
	s.onTick(t0.Add(2 * time.Second))
	assert.Equal(t, account.Idle, b.State())
	assert.Equal(t, int32(2), b.Strategy.(*spy).calls.Load())
}

func TestBots_TradeAndPriceUpdatedOncePerTick(t *testing.T) {
	s, _, rec := newTestSim(t)

	buyer := addBot(t, s, "buyer", "10000", &spy{first: strategy.Decision{Orders: []strategy.Request{
		{Symbol: "ACME", Side: orderbook.Buy, Type: orderbook.Limit, Price: d("150"), Quantity: 10},
	}}})
	seller := addBot(t, s, "seller", "0", &spy{first: strategy.Decision{Orders: []strategy.Request{
		{Symbol: "ACME", Side: orderbook.Sell, Type: orderbook.Limit, Price: d("150"), Quantity: 10},
	}}})
	require.NoError(t, seller.Portfolio.AddShares("ACME", 10, d("100"), t0))
	rec.reset()

	s.onTick(t0.Add(time.Second))

	assert.Len(t, rec.of(events.TradeSettled), 1)
	prices := rec.of(events.PriceUpdated)
	require.Len(t, prices, 1)
	assert.Equal(t, []string{"ACME"}, prices[0].Symbols)
	kinds := rec.kinds()
	assert.Equal(t, events.PriceUpdated, kinds[len(kinds)-1], "price update comes after every trade of the tick")

	assert.True(t, buyer.Portfolio.Balance().Add(seller.Portfolio.Balance()).Equal(d("10000")), "money is conserved")
	assert.Equal(t, int64(10), buyer.Portfolio.Quantity("ACME")+seller.Portfolio.Quantity("ACME"), "shares are conserved")

	rec.reset()
	s.onTick(t0.Add(2 * time.Second))
	assert.Empty(t, rec.of(events.PriceUpdated), "no trades, no price update")
}

func TestBots_DepositDecision(t *testing.T) {
	s, _, rec := newTestSim(t)
	b := addBot(t, s, "fund", "0", &spy{first: strategy.Decision{Deposit: d("2500")}})

	s.onTick(t0.Add(time.Second))
	assert.True(t, b.Portfolio.Balance().Equal(d("2500")))
	changed := rec.of(events.PortfolioChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "fund", changed[0].TraderID)
}

func TestLifecycle(t *testing.T) {
	s, mock, _ := newTestSim(t)
	sp := &spy{}
	addBot(t, s, "ticker", "1000", sp)

	assert.Equal(t, Paused, s.State())
	frozen := s.Clock().Instant()
	mock.Add(time.Hour)
	assert.Equal(t, frozen, s.Clock().Instant(), "initial state is paused")

	require.NoError(t, s.Start())
	assert.Equal(t, Running, s.State())
	assert.Eventually(t, func() bool {
		mock.Add(250 * time.Millisecond)
		return sp.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	s.Pause()
	assert.Equal(t, Paused, s.State())
	calls := sp.calls.Load()
	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, calls, sp.calls.Load(), "no ticks while paused")

	assert.ErrorIs(t, s.SetSpeed(-1), orderbook.ErrValidation)
	require.NoError(t, s.SetSpeed(10))
	assert.Equal(t, float64(10), s.Status().Speed)

	require.NoError(t, s.Shutdown(context.Background()))
	_, err := s.PlaceOrder(limit("ticker", orderbook.Buy, "1", 1))
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, s.Start(), ErrStopped)
	require.NoError(t, s.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	seed := Seed{
		Start: t0,
		Instruments: []InstrumentSeed{
			{Symbol: "ACME", Name: "Acme", Category: "tech", TickSize: d("0.01"), LotSize: 1, InitialPrice: d("150")},
			{Symbol: "bolt", Name: "Bolt", Category: "energy", TickSize: d("0.05"), LotSize: 10, InitialPrice: d("20")},
		},
		Traders: []TraderSeed{
			{ID: "alice", Kind: account.User, Balance: d("1000"), Positions: []PositionSeed{{Symbol: "acme", Quantity: 20, AverageCost: d("120")}}},
			{ID: "bob", Kind: account.User, Balance: d("50000")},
			{ID: "hodl", Kind: account.Bot, Strategy: "buy_and_hold", RandSeed: 1, Balance: d("900")},
			{ID: "watch", Kind: account.Bot, Strategy: "watchlist", Watchlist: []string{"BOLT"}, RandSeed: 2, Balance: d("900")},
		},
	}

	a, err := New(Config{}, Deps{Wall: wallclock.NewMock()})
	require.NoError(t, err)
	require.NoError(t, a.Load(seed))
	assert.Equal(t, t0, a.Clock().Instant())

	_, err = a.PlaceOrder(limit("alice", orderbook.Sell, "155", 20))
	require.NoError(t, err)
	_, err = a.PlaceOrder(limit("bob", orderbook.Buy, "155", 20))
	require.NoError(t, err)

	snap := a.Snapshot()
	require.Len(t, snap.Instruments, 2)
	assert.True(t, snap.Instruments[0].InitialPrice.Equal(d("155")))
	assert.Len(t, snap.Instruments[0].History, 2)
	require.Len(t, snap.Traders, 4)
	assert.Equal(t, []string{"BOLT"}, snap.Traders[3].Watchlist)

	b, err := New(Config{}, Deps{Wall: wallclock.NewMock()})
	require.NoError(t, err)
	require.NoError(t, b.Load(snap))
	assert.Equal(t, a.StateHash(), b.StateHash())

	bob, err := b.Portfolio("bob")
	require.NoError(t, err)
	pos, ok := bob.Position("ACME")
	require.True(t, ok)
	assert.Equal(t, int64(20), pos.Quantity)
	assert.True(t, bob.Equity.Equal(d("50000")), "bought at the current price")

	_, err = b.PlaceOrder(limit("bob", orderbook.Buy, "150", 1))
	require.NoError(t, err)
	assert.NotEqual(t, a.StateHash(), b.StateHash(), "a resting order changes the hash")
}

func TestLoad_RejectsBadSeed(t *testing.T) {
	s, err := New(Config{}, Deps{Wall: wallclock.NewMock()})
	require.NoError(t, err)

	err = s.Load(Seed{Traders: []TraderSeed{{ID: "x", Kind: account.Bot, Strategy: "mystery"}}})
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)

	err = s.Load(Seed{Traders: []TraderSeed{{ID: "y", Kind: account.User, Positions: []PositionSeed{{Symbol: "GHOST", Quantity: 1}}}}})
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)
}

func TestParseSeed(t *testing.T) {
	data := []byte(`
start: "2024-01-02T09:30:00Z"
instruments:
  - symbol: ACME
    name: Acme Corp
    category: tech
    tick_size: 0.01
    lot_size: 1
    initial_price: "150.25"
  - symbol: BOLT
    initial_price: 20
bots:
  - id: momo
    strategy: Momentum
    balance: 10000
    positions:
      - symbol: ACME
        quantity: 10
        average_cost: 140
`)
	seed, err := ParseSeed(data)
	require.NoError(t, err)
	assert.Equal(t, t0, seed.Start)
	require.Len(t, seed.Instruments, 2)
	assert.True(t, seed.Instruments[0].InitialPrice.Equal(d("150.25")))
	assert.True(t, seed.Instruments[1].TickSize.Equal(d("0.01")), "tick size defaults")
	assert.Equal(t, int64(1), seed.Instruments[1].LotSize)
	require.Len(t, seed.Bots(), 1)
	assert.Equal(t, int64(10), seed.Traders[0].Positions[0].Quantity)

	_, err = ParseSeed([]byte("bots:\n  - id: x\n    strategy: moon\n"))
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)

	_, err = ParseSeed([]byte("instruments:\n  - symbol: X\n    initial_price: abc\n"))
	assert.Error(t, err)
}

func TestBotGenerator(t *testing.T) {
	syms := []string{"ACME", "BOLT", "CRUX", "DYNE"}
	a := NewBotGenerator(syms, 42).GenerateBatch(50)
	b := NewBotGenerator(syms, 42).GenerateBatch(50)
	assert.Equal(t, a, b, "same seed, same bots")

	g := NewBotGenerator(syms, 7)
	bots := g.GenerateBatch(100)
	ids := map[string]bool{}
	total := 0
	for _, bot := range bots {
		assert.False(t, ids[bot.ID])
		ids[bot.ID] = true
		_, err := strategy.ParseKind(bot.Strategy)
		assert.NoError(t, err)
		if bot.Strategy == "watchlist" {
			assert.Len(t, bot.Watchlist, watchlistSize)
		}
	}
	for _, n := range g.Stats() {
		total += n
	}
	assert.Equal(t, 100, total)

	s, _, _ := newTestSim(t)
	n, err := s.AddBots(NewBotGenerator([]string{"ACME"}, 1).GenerateBatch(5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, s.Status().Bots)
}

func TestExecutor(t *testing.T) {
	e := NewExecutor(3, nil)
	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		require.True(t, e.Submit(func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		}))
	}
	require.True(t, e.Submit(func() { panic("task") }))
	e.Wait()
	assert.Equal(t, int32(20), ran.Load())

	var late atomic.Bool
	require.True(t, e.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		late.Store(true)
	}))
	require.NoError(t, e.Shutdown(context.Background()))
	assert.True(t, late.Load(), "shutdown drains in-flight tasks")
	assert.False(t, e.Submit(func() {}))
}

func TestExecutor_ShutdownTimeout(t *testing.T) {
	e := NewExecutor(1, nil)
	release := make(chan struct{})
	require.True(t, e.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := e.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	close(release)
	e.Wait()
}

// holdingsTotal sums cash and shares per symbol across every trader of a seed.
func holdingsTotal(seed Seed) (decimal.Decimal, map[string]int64) {
	cash := decimal.Zero
	shares := map[string]int64{}
	for _, tr := range seed.Traders {
		cash = cash.Add(tr.Balance)
		for _, p := range tr.Positions {
			shares[p.Symbol] += p.Quantity
		}
	}
	return cash, shares
}

func TestSnapshot_ConsistentWhileBotsTrade(t *testing.T) {
	s, _, rec := newTestSim(t)

	kinds := []string{"random", "buy_and_hold", "momentum", "day_trader", "panic_seller", "watchlist"}
	seed := Seed{Instruments: []InstrumentSeed{
		{Symbol: "BOLT", Name: "Bolt", Category: "energy", TickSize: d("0.05"), LotSize: 1, InitialPrice: d("42")},
	}}
	for i := 0; i < 60; i++ {
		seed.Traders = append(seed.Traders, TraderSeed{
			ID:       fmt.Sprintf("bot-%02d", i),
			Kind:     account.Bot,
			Strategy: kinds[i%len(kinds)],
			RandSeed: int64(i + 1),
			Balance:  d("10000"),
			Positions: []PositionSeed{
				{Symbol: "ACME", Quantity: 40, AverageCost: d("150")},
				{Symbol: "BOLT", Quantity: 100, AverageCost: d("42")},
			},
		})
	}
	require.NoError(t, s.Load(seed))

	wantCash, wantShares := holdingsTotal(s.Snapshot())
	require.True(t, wantCash.Equal(d("600000")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 200; i++ {
			s.onTick(t0.Add(time.Duration(i) * time.Second))
		}
	}()

	snapshots, torn := 0, 0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		cash, shares := holdingsTotal(s.Snapshot())
		snapshots++
		if !cash.Equal(wantCash) || !assert.ObjectsAreEqual(wantShares, shares) {
			torn++
		}
	}

	assert.Positive(t, snapshots)
	assert.Zero(t, torn, "a snapshot observed a partially applied transfer")
	assert.NotEmpty(t, rec.of(events.TradeSettled), "bots traded")

	cash, shares := holdingsTotal(s.Snapshot())
	assert.True(t, cash.Equal(wantCash), "cash is conserved: got %s", cash)
	assert.Equal(t, wantShares, shares, "shares are conserved")
}
