package sim

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/market"
	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

// Instruments lists the catalog sorted by symbol, without history.
func (s *StockSim) Instruments() []market.Snapshot {
	return s.instruments.Snapshots(false)
}

// Instrument returns one instrument with its full price history.
func (s *StockSim) Instrument(symbol string) (market.Snapshot, error) {
	inst, err := s.instruments.Get(symbol)
	if err != nil {
		return market.Snapshot{}, err
	}
	return inst.Snapshot(true), nil
}

// Prices returns the current price of every instrument.
func (s *StockSim) Prices() map[string]decimal.Decimal {
	return s.instruments.Prices()
}

// PortfolioView is a trader's holdings valued at current prices.
type PortfolioView struct {
	account.Snapshot
	Equity decimal.Decimal `json:"equity"`
}

// Portfolio returns a value copy of a trader's portfolio.
func (s *StockSim) Portfolio(traderID string) (PortfolioView, error) {
	t, err := s.traders.Get(traderID)
	if err != nil {
		return PortfolioView{}, err
	}
	snap := t.Portfolio.Snapshot(false)
	return PortfolioView{Snapshot: snap, Equity: snap.Equity(s.instruments.Prices())}, nil
}

// UserHistory is a user's own orders and settled trades, oldest first.
type UserHistory struct {
	Orders []orderbook.Order `json:"orders"`
	Trades []orderbook.Trade `json:"trades"`
}

// History returns a user's order and trade history. Bots keep none.
func (s *StockSim) History(userID string) (UserHistory, error) {
	t, err := s.traders.Get(userID)
	if err != nil {
		return UserHistory{}, err
	}
	if t.History == nil {
		return UserHistory{}, errors.Wrapf(orderbook.ErrValidation, "trader %s keeps no history", t.ID)
	}
	ids := t.History.OrderIDs()
	h := UserHistory{Orders: make([]orderbook.Order, 0, len(ids)), Trades: t.History.Trades()}
	for _, id := range ids {
		o, err := s.Order(id)
		if err != nil {
			continue
		}
		h.Orders = append(h.Orders, o)
	}
	return h, nil
}

// TopOfBook returns the best bid and ask of symbol.
func (s *StockSim) TopOfBook(symbol string) (orderbook.TopOfBook, error) {
	sb, err := s.book(symbol)
	if err != nil {
		return orderbook.TopOfBook{}, err
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.book.Top(), nil
}

// Depth is the aggregated book of one symbol.
type Depth struct {
	Symbol string                 `json:"symbol"`
	Bids   []orderbook.PriceLevel `json:"bids"`
	Asks   []orderbook.PriceLevel `json:"asks"`
}

// Depth returns up to levels price levels per side; zero or less returns all.
func (s *StockSim) Depth(symbol string, levels int) (Depth, error) {
	sb, err := s.book(symbol)
	if err != nil {
		return Depth{}, err
	}
	sb.mu.Lock()
	d := Depth{Symbol: sb.book.Symbol(), Bids: sb.book.BidLevels(), Asks: sb.book.AskLevels()}
	sb.mu.Unlock()

	if levels > 0 {
		d.Bids = d.Bids[:min(levels, len(d.Bids))]
		d.Asks = d.Asks[:min(levels, len(d.Asks))]
	}
	return d, nil
}

// Status summarizes the simulation.
type Status struct {
	State       State     `json:"state"`
	Speed       float64   `json:"speed"`
	Instant     time.Time `json:"instant"`
	Instruments int       `json:"instruments"`
	Traders     int       `json:"traders"`
	Bots        int       `json:"bots"`
	Orders      int       `json:"orders"`
}

func (s *StockSim) Status() Status {
	s.ordersMu.RLock()
	orders := len(s.orders)
	s.ordersMu.RUnlock()
	return Status{
		State:       s.State(),
		Speed:       s.clock.Speed(),
		Instant:     s.clock.Instant(),
		Instruments: s.instruments.Count(),
		Traders:     s.traders.Count(),
		Bots:        len(s.traders.Bots()),
		Orders:      orders,
	}
}
