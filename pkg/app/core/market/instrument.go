package market

import (
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

// PricePoint is one entry of an instrument's price history.
type PricePoint struct {
	Time  time.Time       `json:"time"`
	Price decimal.Decimal `json:"price"`
}

// Spec holds the catalog parameters of an instrument.
type Spec struct {
	Symbol       string
	Name         string
	Category     string
	TickSize     decimal.Decimal // minimum price increment, e.g. 0.01
	LotSize      int64           // minimum quantity increment
	InitialPrice decimal.Decimal
}

// Validate checks parameter sanity.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return errors.Wrap(orderbook.ErrValidation, "symbol cannot be empty")
	}
	if !s.TickSize.IsPositive() {
		return errors.Wrapf(orderbook.ErrValidation, "tick size must be positive, got %s", s.TickSize)
	}
	if s.LotSize <= 0 {
		return errors.Wrapf(orderbook.ErrValidation, "lot size must be positive, got %d", s.LotSize)
	}
	if !s.InitialPrice.IsPositive() {
		return errors.Wrapf(orderbook.ErrValidation, "initial price must be positive, got %s", s.InitialPrice)
	}
	return nil
}

// NormalizeSymbol is the canonical catalog key form of a symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Instrument is a tradable security.
// Identity and precision fields are immutable after creation; the current price
// and history change only through UpdatePrice, called by settlement.
type Instrument struct {
	Symbol   string
	Name     string
	Category string
	TickSize decimal.Decimal
	LotSize  int64

	mu           sync.RWMutex
	currentPrice decimal.Decimal
	history      []PricePoint // append-only, ordered by insertion
}

// NewInstrument validates spec and creates an instrument whose history starts
// with the initial price at time at.
func NewInstrument(spec Spec, at time.Time) (*Instrument, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid instrument")
	}
	return &Instrument{
		Symbol:       NormalizeSymbol(spec.Symbol),
		Name:         spec.Name,
		Category:     spec.Category,
		TickSize:     spec.TickSize,
		LotSize:      spec.LotSize,
		currentPrice: spec.InitialPrice,
		history:      []PricePoint{{Time: at, Price: spec.InitialPrice}},
	}, nil
}

// Restore rebuilds an instrument from a persisted history. The last point is the current price.
func Restore(spec Spec, history []PricePoint) (*Instrument, error) {
	if len(history) == 0 {
		return nil, errors.Newf("instrument %s: empty price history", spec.Symbol)
	}
	spec.InitialPrice = history[len(history)-1].Price
	inst, err := NewInstrument(spec, history[0].Time)
	if err != nil {
		return nil, err
	}
	inst.history = append([]PricePoint(nil), history...)
	return inst, nil
}

// CurrentPrice returns the last execution price.
func (i *Instrument) CurrentPrice() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.currentPrice
}

// UpdatePrice sets the current price and appends a history point.
func (i *Instrument) UpdatePrice(at time.Time, price decimal.Decimal) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.currentPrice = price
	i.history = append(i.history, PricePoint{Time: at, Price: price})
}

// History returns a copy of the price history.
func (i *Instrument) History() []PricePoint {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]PricePoint, len(i.history))
	copy(out, i.history)
	return out
}

// RecentPrices returns up to n most recent prices, oldest first.
func (i *Instrument) RecentPrices(n int) []decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()
	start := len(i.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]decimal.Decimal, 0, len(i.history)-start)
	for _, p := range i.history[start:] {
		out = append(out, p.Price)
	}
	return out
}

// ValidatePrice checks tick alignment of a limit price.
func (i *Instrument) ValidatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return errors.Wrapf(orderbook.ErrValidation, "%s: price must be positive, got %s", i.Symbol, price)
	}
	if !price.Mod(i.TickSize).IsZero() {
		return errors.Wrapf(orderbook.ErrValidation, "%s: price %s is not a multiple of tick size %s", i.Symbol, price, i.TickSize)
	}
	return nil
}

// ValidateQuantity checks lot alignment.
func (i *Instrument) ValidateQuantity(qty int64) error {
	if qty <= 0 {
		return errors.Wrapf(orderbook.ErrValidation, "%s: quantity must be positive, got %d", i.Symbol, qty)
	}
	if qty%i.LotSize != 0 {
		return errors.Wrapf(orderbook.ErrValidation, "%s: quantity %d is not a multiple of lot size %d", i.Symbol, qty, i.LotSize)
	}
	return nil
}

// Snapshot is a value copy of an instrument.
type Snapshot struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	TickSize     decimal.Decimal `json:"tickSize"`
	LotSize      int64           `json:"lotSize"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	History      []PricePoint    `json:"history,omitempty"`
}

// Snapshot copies the instrument. History is included only when withHistory is set.
func (i *Instrument) Snapshot(withHistory bool) Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s := Snapshot{
		Symbol:       i.Symbol,
		Name:         i.Name,
		Category:     i.Category,
		TickSize:     i.TickSize,
		LotSize:      i.LotSize,
		CurrentPrice: i.currentPrice,
	}
	if withHistory {
		s.History = make([]PricePoint, len(i.history))
		copy(s.History, i.history)
	}
	return s
}

// Spec returns the catalog parameters, with the current price as initial price.
func (s Snapshot) Spec() Spec {
	return Spec{
		Symbol:       s.Symbol,
		Name:         s.Name,
		Category:     s.Category,
		TickSize:     s.TickSize,
		LotSize:      s.LotSize,
		InitialPrice: s.CurrentPrice,
	}
}
