package sim

import (
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
	"github.com/uhyunpark/stocksim/pkg/app/core/strategy"
	"github.com/uhyunpark/stocksim/pkg/events"
)

// watchlistSize is how many symbols a watchlist bot picks when none are given.
const watchlistSize = 3

// TraderSpec is the input of CreateTrader. Strategy is required for bots and
// must be empty for users.
type TraderSpec struct {
	Kind      account.Kind
	ID        string
	Name      string
	Strategy  string
	Watchlist []string
	RandSeed  int64
	Balance   decimal.Decimal
}

// TraderInfo is the public view of a trader.
type TraderInfo struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Kind     account.Kind    `json:"kind"`
	Strategy string          `json:"strategy,omitempty"`
	State    string          `json:"state,omitempty"`
	Balance  decimal.Decimal `json:"balance"`
}

func infoOf(t *account.Trader) TraderInfo {
	info := TraderInfo{ID: t.ID, Name: t.DisplayName, Kind: t.Kind, Balance: t.Portfolio.Balance()}
	if t.IsBot() {
		info.State = t.State().String()
		if t.Strategy != nil {
			info.Strategy = t.Strategy.Kind().String()
		}
	}
	return info
}

// CreateTrader registers a user or a bot. Unknown strategy names fail with
// strategy.ErrUnknownStrategy; duplicate ids with account.ErrDuplicateTrader.
func (s *StockSim) CreateTrader(spec TraderSpec) (TraderInfo, error) {
	if s.stopped.Load() {
		return TraderInfo{}, ErrStopped
	}
	t, err := s.newTrader(spec)
	if err != nil {
		return TraderInfo{}, err
	}
	if err := s.traders.Add(t); err != nil {
		return TraderInfo{}, err
	}
	return infoOf(t), nil
}

func (s *StockSim) newTrader(spec TraderSpec) (*account.Trader, error) {
	if account.NormalizeID(spec.ID) == "" {
		return nil, errors.Wrap(orderbook.ErrValidation, "trader id is required")
	}
	if spec.Balance.IsNegative() {
		return nil, errors.Wrapf(orderbook.ErrValidation, "trader %s: negative balance %s", spec.ID, spec.Balance)
	}
	name := spec.Name
	if name == "" {
		name = spec.ID
	}

	switch spec.Kind {
	case account.User:
		if spec.Strategy != "" {
			return nil, errors.Wrapf(orderbook.ErrValidation, "user %s cannot have a strategy", spec.ID)
		}
		return account.NewUser(spec.ID, name, spec.Balance), nil
	case account.Bot:
		kind, err := strategy.ParseKind(spec.Strategy)
		if err != nil {
			return nil, errors.Wrapf(err, "bot %s", spec.ID)
		}
		seed := spec.RandSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		watch := spec.Watchlist
		if kind == strategy.Watchlist && len(watch) == 0 {
			watch = s.pickWatchlist(rand.New(rand.NewSource(seed)))
		}
		strat, err := strategy.New(kind, strategy.Options{Seed: seed, Watchlist: watch})
		if err != nil {
			return nil, errors.Wrapf(err, "bot %s", spec.ID)
		}
		return account.NewBot(spec.ID, name, spec.Balance, strat), nil
	}
	return nil, errors.Wrapf(orderbook.ErrValidation, "unknown trader kind %d", spec.Kind)
}

// pickWatchlist draws a few distinct catalog symbols.
func (s *StockSim) pickWatchlist(rng *rand.Rand) []string {
	list := s.instruments.List()
	rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	out := make([]string, 0, watchlistSize)
	for _, inst := range list[:min(watchlistSize, len(list))] {
		out = append(out, inst.Symbol)
	}
	return out
}

// SetCurrentUser selects the human user the view layer acts as.
func (s *StockSim) SetCurrentUser(id string) error {
	return s.traders.SetCurrentUser(id)
}

// CurrentUser returns the selected human user.
func (s *StockSim) CurrentUser() (TraderInfo, bool) {
	t, ok := s.traders.CurrentUser()
	if !ok {
		return TraderInfo{}, false
	}
	return infoOf(t), true
}

// Trader returns one trader.
func (s *StockSim) Trader(id string) (TraderInfo, error) {
	t, err := s.traders.Get(id)
	if err != nil {
		return TraderInfo{}, err
	}
	return infoOf(t), nil
}

// Traders lists all traders sorted by id.
func (s *StockSim) Traders() []TraderInfo {
	list := s.traders.List()
	out := make([]TraderInfo, 0, len(list))
	for _, t := range list {
		out = append(out, infoOf(t))
	}
	return out
}

// Deposit credits external cash to a trader.
func (s *StockSim) Deposit(id string, amount decimal.Decimal) error {
	t, err := s.traders.Get(id)
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return errors.Wrapf(orderbook.ErrValidation, "deposit must be positive, got %s", amount)
	}
	if err := t.Portfolio.Deposit(amount); err != nil {
		return err
	}
	s.bus.Publish(events.Event{Kind: events.PortfolioChanged, Time: s.clock.Instant(), TraderID: t.ID})
	return nil
}
