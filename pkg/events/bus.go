// Package events is the notification bus between the exchange core and its
// observers (view layer, persistence, tests).
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

// Kind is the closed set of event variants.
type Kind int8

const (
	CatalogChanged Kind = iota
	PriceUpdated
	TradeSettled
	PortfolioChanged
)

func (k Kind) String() string {
	switch k {
	case CatalogChanged:
		return "catalog_changed"
	case PriceUpdated:
		return "price_updated"
	case TradeSettled:
		return "trade_settled"
	case PortfolioChanged:
		return "portfolio_changed"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is one notification. Which fields are set depends on Kind:
//
//	CatalogChanged   Symbols (added instruments)
//	PriceUpdated     Symbols (affected instruments, sorted)
//	TradeSettled     Trade
//	PortfolioChanged TraderID
type Event struct {
	Kind     Kind             `json:"kind"`
	Time     time.Time        `json:"time"`
	Symbols  []string         `json:"symbols,omitempty"`
	Trade    *orderbook.Trade `json:"trade,omitempty"`
	TraderID string           `json:"traderId,omitempty"`
}

// Handler receives events synchronously on the publisher's goroutine.
// It must not block and must not publish on the same bus.
type Handler func(Event)

type subscription struct {
	handler Handler
	kinds   map[Kind]bool // nil means every kind
}

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers h for the given kinds, or for every kind when none are
// given. The returned function unsubscribes; calling it twice is harmless.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) (unsubscribe func()) {
	sub := subscription{handler: h}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every matching subscriber in subscription order.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id, sub := range b.subs {
		if sub.kinds == nil || sub.kinds[e.Kind] {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = b.subs[id].handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
