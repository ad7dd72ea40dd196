package orderbook

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Settler applies the economic effects of a trade. It is called once per match,
// before either order is filled; an error means the trade did not happen.
type Settler interface {
	SettleTrade(Trade) error
}

// Result is the outcome of matching one incoming order.
type Result struct {
	Trades []Trade
	// Rested is true when the LIMIT remainder was added to the book.
	Rested bool
	// Cancelled lists resting orders dropped because their owner could not settle.
	Cancelled []int64
	// Failures holds every settlement error seen while matching.
	Failures []error
}

// Filled returns the total executed quantity.
func (r Result) Filled() int64 {
	var q int64
	for _, t := range r.Trades {
		q += t.Quantity
	}
	return q
}

// MatchingEngine matches incoming orders against a book by price-time priority.
type MatchingEngine struct {
	settler Settler
	log     *zap.Logger
}

// NewMatchingEngine builds an engine. A nil settler gives pure matching.
func NewMatchingEngine(settler Settler, log *zap.Logger) *MatchingEngine {
	if log == nil {
		log = zap.NewNop()
	}
	return &MatchingEngine{settler: settler, log: log}
}

// crosses reports whether incoming can trade against resting.
func crosses(incoming, resting *Order) bool {
	if incoming.Type == Market {
		return true
	}
	if incoming.Side == Buy {
		return incoming.Price.GreaterThanOrEqual(resting.Price)
	}
	return incoming.Price.LessThanOrEqual(resting.Price)
}

// Match executes incoming against the opposite side of book.
//
// Execution price is always the resting order's price and quantity is the smaller
// remainder. After the loop a LIMIT remainder rests, a MARKET remainder is cancelled.
// If settlement fails for the resting party, that resting order is removed and
// cancelled and matching moves on to the next one. Any other settlement failure
// stops matching and cancels the incoming remainder, so it can never rest crossed
// against the order it failed to trade with.
//
// The caller must hold exclusive access to book.
func (m *MatchingEngine) Match(incoming *Order, book *OrderBook) Result {
	var res Result
	halted := false

	for incoming.Remaining > 0 {
		resting := book.Best(incoming.Side.Opposite())
		if resting == nil || !crosses(incoming, resting) {
			break
		}

		qty := min(incoming.Remaining, resting.Remaining)
		trade := Trade{
			ID:        uuid.New(),
			Symbol:    book.Symbol(),
			Price:     resting.Price,
			Quantity:  qty,
			Timestamp: incoming.SubmittedAt,
			Aggressor: incoming.Side,
		}
		if incoming.Side == Buy {
			trade.BuyOrderID, trade.SellOrderID = incoming.ID, resting.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = resting.ID, incoming.ID
		}

		if m.settler != nil {
			if err := m.settler.SettleTrade(trade); err != nil {
				res.Failures = append(res.Failures, err)
				var pe *PartyError
				if errors.As(err, &pe) && pe.OrderID == resting.ID {
					book.Remove(resting.ID)
					_ = resting.Cancel()
					res.Cancelled = append(res.Cancelled, resting.ID)
					m.log.Warn("resting order dropped",
						zap.String("symbol", book.Symbol()),
						zap.Int64("order_id", resting.ID),
						zap.Error(err))
					continue
				}
				m.log.Warn("match halted",
					zap.String("symbol", book.Symbol()),
					zap.Int64("order_id", incoming.ID),
					zap.Error(err))
				halted = true
				break
			}
		}

		// Both fills are within range by construction of qty.
		_ = incoming.Fill(qty)
		_ = book.Fill(resting, qty)
		if resting.Remaining == 0 {
			book.Remove(resting.ID)
		}
		res.Trades = append(res.Trades, trade)
	}

	if incoming.Remaining > 0 {
		if incoming.Type == Limit && !halted {
			if err := book.Add(incoming); err != nil {
				m.log.Warn("rest failed", zap.Int64("order_id", incoming.ID), zap.Error(err))
				_ = incoming.Cancel()
			} else {
				res.Rested = true
			}
		} else {
			_ = incoming.Cancel()
		}
	}
	return res
}
