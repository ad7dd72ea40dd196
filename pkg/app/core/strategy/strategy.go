// Package strategy holds the bot trading heuristics.
//
// A Strategy is a decision function over a read-only view of the market and of
// the bot's own holdings. It never touches books or portfolios; the orders it
// returns go through the same entry point as human orders. Strategies keep
// private state (tick counters, peaks, a random source) and are not safe for
// concurrent use, which the bot IDLE/ACTING state machine guarantees.
package strategy

import (
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

// ErrUnknownStrategy is a configuration error: the name matches no Kind.
var ErrUnknownStrategy = errors.New("unknown strategy")

type Kind int8

const (
	Random Kind = iota
	BuyAndHold
	Momentum
	DayTrader
	PanicSeller
	Watchlist
	Institutional
)

var kindNames = [...]string{
	Random:        "random",
	BuyAndHold:    "buy_and_hold",
	Momentum:      "momentum",
	DayTrader:     "day_trader",
	PanicSeller:   "panic_seller",
	Watchlist:     "watchlist",
	Institutional: "institutional",
}

// Kinds lists every strategy kind.
func Kinds() []Kind {
	return []Kind{Random, BuyAndHold, Momentum, DayTrader, PanicSeller, Watchlist, Institutional}
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
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

// ParseKind maps a configuration name to a Kind. Dashes, spaces and case are ignored.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	for k, s := range kindNames {
		if s == n {
			return Kind(k), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownStrategy, "%q", name)
}

// Quote is the read-only market view of one instrument.
type Quote struct {
	Symbol   string
	Price    decimal.Decimal
	TickSize decimal.Decimal
	LotSize  int64
	History  []decimal.Decimal // recent prices, oldest first, last == Price
}

// Market is the read-only market view handed to a strategy.
type Market struct {
	Now    time.Time
	Quotes []Quote // sorted by symbol
}

// Get returns the quote for symbol.
func (m Market) Get(symbol string) (Quote, bool) {
	i := sort.Search(len(m.Quotes), func(i int) bool { return m.Quotes[i].Symbol >= symbol })
	if i < len(m.Quotes) && m.Quotes[i].Symbol == symbol {
		return m.Quotes[i], true
	}
	return Quote{}, false
}

// Holding is one position as seen by a strategy.
type Holding struct {
	Quantity    int64
	AverageCost decimal.Decimal
}

// Holdings is the bot's own portfolio as seen by a strategy.
type Holdings struct {
	Balance   decimal.Decimal
	Positions map[string]Holding
}

// Quantity returns the shares held in symbol.
func (h Holdings) Quantity(symbol string) int64 {
	return h.Positions[symbol].Quantity
}

// Symbols returns the held symbols in sorted order.
func (h Holdings) Symbols() []string {
	out := make([]string, 0, len(h.Positions))
	for s, p := range h.Positions {
		if p.Quantity > 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Request is an order a strategy wants to place.
type Request struct {
	Symbol   string
	Side     orderbook.Side
	Type     orderbook.OrderType
	Price    decimal.Decimal // zero for market orders
	Quantity int64
}

// Decision is the outcome of one strategy evaluation.
type Decision struct {
	Orders []Request
	// Deposit is fresh cash credited to the bot before its orders are placed.
	Deposit decimal.Decimal
}

// Empty reports whether the decision does nothing.
func (d Decision) Empty() bool {
	return len(d.Orders) == 0 && !d.Deposit.IsPositive()
}

// Strategy decides what a bot does on one tick.
type Strategy interface {
	Kind() Kind
	Decide(m Market, h Holdings) Decision
}

// Options configures strategy construction.
type Options struct {
	// Seed for the strategy's private random source; zero picks a time-based seed.
	Seed int64
	// Watchlist is the fixed symbol set of the watchlist strategy.
	Watchlist []string
	// DepositEvery is the institutional cash injection period in ticks.
	DepositEvery int
	// DepositAmount is the institutional cash injection size.
	DepositAmount decimal.Decimal
}

// New constructs a strategy of the given kind.
func New(kind Kind, opts Options) (Strategy, error) {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	switch kind {
	case Random:
		return newRandom(rng), nil
	case BuyAndHold:
		return newBuyAndHold(rng), nil
	case Momentum:
		return newMomentum(rng), nil
	case DayTrader:
		return newDayTrader(rng), nil
	case PanicSeller:
		return newPanicSeller(rng), nil
	case Watchlist:
		if len(opts.Watchlist) == 0 {
			return nil, errors.New("watchlist strategy requires at least one symbol")
		}
		return newWatchlist(rng, opts.Watchlist), nil
	case Institutional:
		return newInstitutional(rng, opts.DepositEvery, opts.DepositAmount), nil
	}
	return nil, errors.Wrapf(ErrUnknownStrategy, "kind %d", kind)
}
