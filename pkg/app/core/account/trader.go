package account

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
	"github.com/uhyunpark/stocksim/pkg/app/core/strategy"
)

// Kind distinguishes human users from bots
type Kind int8

const (
	User Kind = iota
	Bot
)

func (k Kind) String() string {
	switch k {
	case User:
		return "user"
	case Bot:
		return "bot"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind accepts "user" or "bot" in any case
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return User, nil
	case "bot":
		return Bot, nil
	}
	return 0, errors.Newf("unknown trader kind %q", s)
}

// BotState is the decision cycle state of a bot
type BotState int32

const (
	Idle BotState = iota
	Acting
)

func (s BotState) String() string {
	if s == Acting {
		return "ACTING"
	}
	return "IDLE"
}

func (s BotState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// NormalizeID is the canonical registry key form of a trader id
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Trader is a market participant owning exactly one portfolio.
// Users carry an order history; bots carry a strategy and a decision state.
type Trader struct {
	ID          string
	DisplayName string
	Kind        Kind
	Portfolio   *Portfolio

	History  *OrderHistory     // users only
	Strategy strategy.Strategy // bots only

	state atomic.Int32
}

// NewUser creates a human trader
func NewUser(id, name string, balance decimal.Decimal) *Trader {
	id = NormalizeID(id)
	return &Trader{
		ID:          id,
		DisplayName: name,
		Kind:        User,
		Portfolio:   NewPortfolio(id, balance),
		History:     &OrderHistory{},
	}
}

// NewBot creates a bot driven by strat
func NewBot(id, name string, balance decimal.Decimal, strat strategy.Strategy) *Trader {
	id = NormalizeID(id)
	return &Trader{
		ID:          id,
		DisplayName: name,
		Kind:        Bot,
		Portfolio:   NewPortfolio(id, balance),
		Strategy:    strat,
	}
}

// IsBot reports whether the trader is a bot
func (t *Trader) IsBot() bool { return t.Kind == Bot }

// TryAcquire moves the bot from IDLE to ACTING. It returns false if an
// action cycle is already in flight.
func (t *Trader) TryAcquire() bool {
	return t.state.CompareAndSwap(int32(Idle), int32(Acting))
}

// Release returns the bot to IDLE unconditionally
func (t *Trader) Release() {
	t.state.Store(int32(Idle))
}

// State returns the current decision state
func (t *Trader) State() BotState {
	return BotState(t.state.Load())
}

// OrderHistory is the append-only record of a user's orders and trades
type OrderHistory struct {
	mu     sync.RWMutex
	orders []int64
	trades []orderbook.Trade
}

// RecordOrder appends an order id
func (h *OrderHistory) RecordOrder(id int64) {
	h.mu.Lock()
	h.orders = append(h.orders, id)
	h.mu.Unlock()
}

// RecordTrade appends a settled trade
func (h *OrderHistory) RecordTrade(tr orderbook.Trade) {
	h.mu.Lock()
	h.trades = append(h.trades, tr)
	h.mu.Unlock()
}

// OrderIDs returns a copy of the order ids in submission order
func (h *OrderHistory) OrderIDs() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]int64(nil), h.orders...)
}

// Trades returns a copy of the recorded trades in settlement order
func (h *OrderHistory) Trades() []orderbook.Trade {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]orderbook.Trade(nil), h.trades...)
}
