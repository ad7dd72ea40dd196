package account

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	// ErrDuplicateTrader is returned when an id is already registered
	ErrDuplicateTrader = errors.New("trader already registered")
	// ErrUnknownTrader is returned for lookups of unregistered ids
	ErrUnknownTrader = errors.New("trader not found")
)

// Registry manages all traders in a thread-safe manner.
// Ids are case-insensitive. It also tracks the single current human user.
type Registry struct {
	mu      sync.RWMutex
	traders map[string]*Trader // normalized id -> trader
	current string             // id of the current user, "" if none
}

// NewRegistry creates an empty trader registry
func NewRegistry() *Registry {
	return &Registry{
		traders: make(map[string]*Trader),
	}
}

// Add registers a trader
// Returns ErrDuplicateTrader if the id exists in any case
func (r *Registry) Add(t *Trader) error {
	if t == nil {
		return errors.New("cannot register nil trader")
	}
	if t.ID == "" {
		return errors.New("trader id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeID(t.ID)
	if _, exists := r.traders[key]; exists {
		return errors.Wrapf(ErrDuplicateTrader, "id %s", key)
	}
	r.traders[key] = t
	return nil
}

// Get retrieves a trader by id
func (r *Registry) Get(id string) (*Trader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.traders[NormalizeID(id)]
	if !exists {
		return nil, errors.Wrapf(ErrUnknownTrader, "id %q", id)
	}
	return t, nil
}

// List returns all traders sorted by id
func (r *Registry) List() []*Trader {
	return r.filter(func(*Trader) bool { return true })
}

// Users returns human traders sorted by id
func (r *Registry) Users() []*Trader {
	return r.filter(func(t *Trader) bool { return t.Kind == User })
}

// Bots returns bots sorted by id
func (r *Registry) Bots() []*Trader {
	return r.filter(func(t *Trader) bool { return t.Kind == Bot })
}

func (r *Registry) filter(keep func(*Trader) bool) []*Trader {
	r.mu.RLock()
	out := make([]*Trader, 0, len(r.traders))
	for _, t := range r.traders {
		if keep(t) {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the total number of registered traders
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.traders)
}

// SetCurrentUser marks a registered user as the current human user
func (r *Registry) SetCurrentUser(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeID(id)
	t, exists := r.traders[key]
	if !exists {
		return errors.Wrapf(ErrUnknownTrader, "id %q", id)
	}
	if t.Kind != User {
		return errors.Newf("trader %s is a %s, not a user", key, t.Kind)
	}
	r.current = key
	return nil
}

// CurrentUser returns the current human user, if one is set
func (r *Registry) CurrentUser() (*Trader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == "" {
		return nil, false
	}
	return r.traders[r.current], true
}
