package market

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateInstrument is returned when a symbol is already registered.
	ErrDuplicateInstrument = errors.New("instrument already registered")
	// ErrUnknownInstrument is returned for lookups of unregistered symbols.
	ErrUnknownInstrument = errors.New("instrument not found")
)

// Registry manages the instrument catalog in a thread-safe manner.
// Symbols are case-insensitive.
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument // normalized symbol -> instrument
}

// NewRegistry creates an empty catalog
func NewRegistry() *Registry {
	return &Registry{
		instruments: make(map[string]*Instrument),
	}
}

// Register adds an instrument to the catalog
// Returns ErrDuplicateInstrument if the symbol exists in any case
func (r *Registry) Register(inst *Instrument) error {
	if inst == nil {
		return errors.New("cannot register nil instrument")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeSymbol(inst.Symbol)
	if _, exists := r.instruments[key]; exists {
		return errors.Wrapf(ErrDuplicateInstrument, "symbol %s", key)
	}

	r.instruments[key] = inst
	return nil
}

// Get retrieves an instrument by symbol
func (r *Registry) Get(symbol string) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, exists := r.instruments[NormalizeSymbol(symbol)]
	if !exists {
		return nil, errors.Wrapf(ErrUnknownInstrument, "symbol %q", symbol)
	}
	return inst, nil
}

// List returns all instruments sorted by symbol
func (r *Registry) List() []*Instrument {
	r.mu.RLock()
	out := make([]*Instrument, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Snapshots copies every instrument, sorted by symbol
func (r *Registry) Snapshots(withHistory bool) []Snapshot {
	list := r.List()
	out := make([]Snapshot, 0, len(list))
	for _, inst := range list {
		out = append(out, inst.Snapshot(withHistory))
	}
	return out
}

// Prices returns the current price of every instrument
func (r *Registry) Prices() map[string]decimal.Decimal {
	list := r.List()
	out := make(map[string]decimal.Decimal, len(list))
	for _, inst := range list {
		out[inst.Symbol] = inst.CurrentPrice()
	}
	return out
}

// Count returns the total number of registered instruments
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}

// Exists checks if a symbol is registered
func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.instruments[NormalizeSymbol(symbol)]
	return exists
}
