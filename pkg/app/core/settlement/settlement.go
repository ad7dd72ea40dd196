// Package settlement applies matched trades to trader portfolios.
package settlement

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/market"
	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
	"github.com/uhyunpark/stocksim/pkg/events"
)

// ErrUnresolvedParty is returned when a trade side has no known owner.
var ErrUnresolvedParty = errors.New("unresolved settlement party")

// OwnerIndex maps order ids to trader ids. An order must be recorded before
// it can be matched.
type OwnerIndex struct {
	mu     sync.RWMutex
	owners map[int64]string
}

func NewOwnerIndex() *OwnerIndex {
	return &OwnerIndex{owners: make(map[int64]string)}
}

// Record binds an order to its trader.
func (x *OwnerIndex) Record(orderID int64, traderID string) {
	x.mu.Lock()
	x.owners[orderID] = traderID
	x.mu.Unlock()
}

// Lookup returns the trader owning orderID.
func (x *OwnerIndex) Lookup(orderID int64) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.owners[orderID]
	return id, ok
}

// Len returns the number of indexed orders.
func (x *OwnerIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.owners)
}

// Batch collects the effects of the trades settled during one matching call
// so they can be published after the caller releases its locks.
type Batch struct {
	Trades  []orderbook.Trade
	events  []events.Event
	symbols map[string]struct{}
}

// Events returns the queued TradeSettled and PortfolioChanged events in order.
func (b *Batch) Events() []events.Event { return b.events }

// Symbols returns the instruments whose price changed, sorted.
func (b *Batch) Symbols() []string {
	out := make([]string, 0, len(b.symbols))
	for s := range b.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Publish sends the queued events to bus. PriceUpdated is left to the caller.
func (b *Batch) Publish(bus *events.Bus) {
	if bus == nil {
		return
	}
	for _, e := range b.events {
		bus.Publish(e)
	}
}

func (b *Batch) add(tr orderbook.Trade, traderIDs ...string) {
	b.Trades = append(b.Trades, tr)
	if b.symbols == nil {
		b.symbols = make(map[string]struct{})
	}
	b.symbols[tr.Symbol] = struct{}{}

	t := tr
	b.events = append(b.events, events.Event{Kind: events.TradeSettled, Time: tr.Timestamp, Trade: &t, Symbols: []string{tr.Symbol}})
	for _, id := range traderIDs {
		b.events = append(b.events, events.Event{Kind: events.PortfolioChanged, Time: tr.Timestamp, TraderID: id})
	}
}

// Engine settles trades against the trader and instrument registries.
type Engine struct {
	traders     *account.Registry
	instruments *market.Registry
	owners      *OwnerIndex
	log         *zap.Logger
}

func NewEngine(traders *account.Registry, instruments *market.Registry, owners *OwnerIndex, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{traders: traders, instruments: instruments, owners: owners, log: log}
}

// Owners returns the order owner index.
func (e *Engine) Owners() *OwnerIndex { return e.owners }

// Bind returns a Settler for the matching engine that queues effects into b.
func (e *Engine) Bind(b *Batch) orderbook.Settler {
	return boundSettler{e: e, b: b}
}

type boundSettler struct {
	e *Engine
	b *Batch
}

func (s boundSettler) SettleTrade(tr orderbook.Trade) error { return s.e.Settle(tr, s.b) }

func (e *Engine) party(orderID int64) (*account.Trader, error) {
	id, ok := e.owners.Lookup(orderID)
	if !ok {
		return nil, &orderbook.PartyError{OrderID: orderID, Err: errors.Wrapf(ErrUnresolvedParty, "order %d has no owner", orderID)}
	}
	t, err := e.traders.Get(id)
	if err != nil {
		return nil, &orderbook.PartyError{OrderID: orderID, Err: errors.Wrapf(ErrUnresolvedParty, "order %d: %v", orderID, err)}
	}
	return t, nil
}

// Settle applies tr as one indivisible group and queues its effects into b.
//
// Failures carry no side effects. A failure attributable to one side is
// returned as *orderbook.PartyError naming that side's order: an unknown owner,
// the buyer's insufficient funds or the seller's insufficient shares.
func (e *Engine) Settle(tr orderbook.Trade, b *Batch) error {
	buyer, err := e.party(tr.BuyOrderID)
	if err != nil {
		return e.fail(tr, err)
	}
	seller, err := e.party(tr.SellOrderID)
	if err != nil {
		return e.fail(tr, err)
	}
	inst, err := e.instruments.Get(tr.Symbol)
	if err != nil {
		return e.fail(tr, err)
	}

	err = account.Transfer(buyer.Portfolio, seller.Portfolio, inst.Symbol, tr.Quantity, tr.Price, tr.Timestamp)
	switch {
	case err == nil:
	case errors.Is(err, account.ErrInsufficientFunds):
		return e.fail(tr, &orderbook.PartyError{OrderID: tr.BuyOrderID, Err: err})
	case errors.Is(err, account.ErrInsufficientShares):
		return e.fail(tr, &orderbook.PartyError{OrderID: tr.SellOrderID, Err: err})
	default:
		return e.fail(tr, err)
	}

	for _, t := range []*account.Trader{buyer, seller} {
		if t.History != nil {
			t.History.RecordTrade(tr)
		}
		if buyer == seller {
			break
		}
	}
	inst.UpdatePrice(tr.Timestamp, tr.Price)

	if buyer == seller {
		b.add(tr, buyer.ID)
	} else {
		b.add(tr, buyer.ID, seller.ID)
	}
	return nil
}

func (e *Engine) fail(tr orderbook.Trade, err error) error {
	e.log.Warn("settlement_failed",
		zap.String("symbol", tr.Symbol),
		zap.Int64("buy_order", tr.BuyOrderID),
		zap.Int64("sell_order", tr.SellOrderID),
		zap.String("price", tr.Price.String()),
		zap.Int64("qty", tr.Quantity),
		zap.Error(err))
	return err
}
