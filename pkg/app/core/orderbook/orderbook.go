package orderbook

import (
	"container/heap"
	"container/list"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// PriceLevel is an aggregated depth entry.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Qty    int64           `json:"qty"` // total remaining qty at this price level
	Orders int             `json:"orders"`
}

// Quote is one side of the top of book.
type Quote struct {
	Price   decimal.Decimal `json:"price"`
	Qty     int64           `json:"qty"`     // aggregated at the best level
	OrderID int64           `json:"orderId"` // first order in time priority
}

// TopOfBook is a value snapshot of the best bid and ask.
type TopOfBook struct {
	Symbol    string          `json:"symbol"`
	Bid       *Quote          `json:"bid,omitempty"`
	Ask       *Quote          `json:"ask,omitempty"`
	LastPrice decimal.Decimal `json:"lastPrice"`
}

// bookEntry locates a resting order: its level and its element in the level FIFO.
type bookEntry struct {
	side  Side
	level *priceLevel
	elem  *list.Element
}

// OrderBook stores the resting LIMIT orders of one instrument with price-time priority.
//
// Prices are bucketed by integer tick index. Each side is a heap of price levels
// (best level on top) and every level is a FIFO of orders, so the best order is
// always the front of the top level. An id index gives O(log n) cancellation of
// any resting order.
//
// OrderBook is not safe for concurrent use; the exchange serializes access per symbol.
type OrderBook struct {
	symbol   string
	tickSize decimal.Decimal

	bids *levelHeap
	asks *levelHeap

	bidLevels map[int64]*priceLevel // tick index -> level
	askLevels map[int64]*priceLevel

	index map[int64]*bookEntry // order ID -> location

	lastPrice decimal.Decimal // most recent execution price
}

// NewOrderBook creates an empty book. tickSize must be positive.
func NewOrderBook(symbol string, tickSize decimal.Decimal) *OrderBook {
	bids := &levelHeap{desc: true}
	asks := &levelHeap{desc: false}
	heap.Init(bids)
	heap.Init(asks)

	return &OrderBook{
		symbol:    symbol,
		tickSize:  tickSize,
		bids:      bids,
		asks:      asks,
		bidLevels: make(map[int64]*priceLevel),
		askLevels: make(map[int64]*priceLevel),
		index:     make(map[int64]*bookEntry),
	}
}

func (ob *OrderBook) Symbol() string { return ob.symbol }

// Ticks converts a price into its tick index. The price must be a positive
// multiple of the tick size.
func (ob *OrderBook) Ticks(price decimal.Decimal) (int64, error) {
	if !price.IsPositive() {
		return 0, errors.Wrapf(ErrValidation, "price must be positive: %s", price)
	}
	if !price.Mod(ob.tickSize).IsZero() {
		return 0, errors.Wrapf(ErrValidation, "price %s is not a multiple of tick size %s", price, ob.tickSize)
	}
	return price.Div(ob.tickSize).IntPart(), nil
}

func (ob *OrderBook) side(s Side) (*levelHeap, map[int64]*priceLevel) {
	if s == Buy {
		return ob.bids, ob.bidLevels
	}
	return ob.asks, ob.askLevels
}

// Add inserts a resting LIMIT order at the back of its price level.
func (ob *OrderBook) Add(o *Order) error {
	if o.Type != Limit {
		return errors.Wrapf(ErrValidation, "only limit orders rest, order %d is %s", o.ID, o.Type)
	}
	if !o.IsOpen() || o.Remaining <= 0 {
		return errors.Wrapf(ErrValidation, "order %d has nothing to rest", o.ID)
	}
	if _, exists := ob.index[o.ID]; exists {
		return errors.Newf("order %d already resting in %s", o.ID, ob.symbol)
	}
	ticks, err := ob.Ticks(o.Price)
	if err != nil {
		return err
	}

	h, levels := ob.side(o.Side)
	lvl, ok := levels[ticks]
	if !ok {
		// New price level - add to heap
		lvl = &priceLevel{ticks: ticks, price: o.Price, orders: list.New()}
		levels[ticks] = lvl
		heap.Push(h, lvl)
	}
	elem := lvl.orders.PushBack(o)
	ob.index[o.ID] = &bookEntry{side: o.Side, level: lvl, elem: elem}
	return nil
}

// Remove evicts a resting order. Its status is left untouched; the caller
// decides whether it was filled or cancelled.
func (ob *OrderBook) Remove(id int64) (*Order, bool) {
	ent, ok := ob.index[id]
	if !ok {
		return nil, false
	}
	o := ent.level.orders.Remove(ent.elem).(*Order)
	delete(ob.index, id)

	// If price level is now empty, remove from heap and map
	if ent.level.orders.Len() == 0 {
		h, levels := ob.side(ent.side)
		heap.Remove(h, ent.level.index)
		delete(levels, ent.level.ticks)
	}
	return o, true
}

// Get returns a resting order by id.
func (ob *OrderBook) Get(id int64) (*Order, bool) {
	ent, ok := ob.index[id]
	if !ok {
		return nil, false
	}
	return ent.elem.Value.(*Order), true
}

// BestBid returns the highest-priority resting bid, or nil.
func (ob *OrderBook) BestBid() *Order {
	return best(ob.bids)
}

// BestAsk returns the highest-priority resting ask, or nil.
func (ob *OrderBook) BestAsk() *Order {
	return best(ob.asks)
}

// Best returns the top resting order on side s.
func (ob *OrderBook) Best(s Side) *Order {
	if s == Buy {
		return ob.BestBid()
	}
	return ob.BestAsk()
}

func best(h *levelHeap) *Order {
	lvl := h.Peek()
	if lvl == nil {
		return nil
	}
	return lvl.orders.Front().Value.(*Order)
}

// Fill reduces a resting order's remaining quantity and records the execution price.
// A fully filled order stays in the book until Remove is called.
func (ob *OrderBook) Fill(o *Order, qty int64) error {
	if _, ok := ob.index[o.ID]; !ok {
		return errors.Wrapf(ErrOrderNotFound, "fill order %d in %s", o.ID, ob.symbol)
	}
	if err := o.Fill(qty); err != nil {
		return err
	}
	ob.lastPrice = o.Price
	return nil
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int {
	return len(ob.index)
}

// LastPrice returns the price of the most recent fill against this book.
func (ob *OrderBook) LastPrice() decimal.Decimal {
	return ob.lastPrice
}

// Top returns a value snapshot of the best bid and ask.
func (ob *OrderBook) Top() TopOfBook {
	top := TopOfBook{Symbol: ob.symbol, LastPrice: ob.lastPrice}
	if lvl := ob.bids.Peek(); lvl != nil {
		top.Bid = quoteOf(lvl)
	}
	if lvl := ob.asks.Peek(); lvl != nil {
		top.Ask = quoteOf(lvl)
	}
	return top
}

func quoteOf(lvl *priceLevel) *Quote {
	return &Quote{
		Price:   lvl.price,
		Qty:     lvl.quantity(),
		OrderID: lvl.orders.Front().Value.(*Order).ID,
	}
}

// BidLevels returns all bid price levels sorted high to low (best bid first).
func (ob *OrderBook) BidLevels() []PriceLevel {
	return levelsOf(ob.bids, func(a, b int64) bool { return a > b })
}

// AskLevels returns all ask price levels sorted low to high (best ask first).
func (ob *OrderBook) AskLevels() []PriceLevel {
	return levelsOf(ob.asks, func(a, b int64) bool { return a < b })
}

func levelsOf(h *levelHeap, better func(a, b int64) bool) []PriceLevel {
	sorted := make([]*priceLevel, len(h.levels))
	copy(sorted, h.levels)
	sort.Slice(sorted, func(i, j int) bool { return better(sorted[i].ticks, sorted[j].ticks) })

	levels := make([]PriceLevel, 0, len(sorted))
	for _, lvl := range sorted {
		levels = append(levels, PriceLevel{Price: lvl.price, Qty: lvl.quantity(), Orders: lvl.orders.Len()})
	}
	return levels
}

// Orders returns every resting order on side s in priority order.
func (ob *OrderBook) Orders(s Side) []*Order {
	h, _ := ob.side(s)
	sorted := make([]*priceLevel, len(h.levels))
	copy(sorted, h.levels)
	sort.Slice(sorted, func(i, j int) bool { return h.desc == (sorted[i].ticks > sorted[j].ticks) })

	var out []*Order
	for _, lvl := range sorted {
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(*Order))
		}
	}
	return out
}
