package strategy

import (
	"math/rand"

	"github.com/shopspring/decimal"
)

const (
	momentumLookback  = 10
	momentumThreshold = 0.02
	momentumSpend     = 0.10
)

// momentumStrategy buys instruments whose price rose more than the threshold over
// the lookback window and dumps instruments whose price fell as much.
type momentumStrategy struct {
	rng       *rand.Rand
	threshold decimal.Decimal
}

func newMomentum(rng *rand.Rand) *momentumStrategy {
	return &momentumStrategy{rng: rng, threshold: decimal.NewFromFloat(momentumThreshold)}
}

func (s *momentumStrategy) Kind() Kind { return Momentum }

func (s *momentumStrategy) Decide(m Market, h Holdings) Decision {
	var d Decision
	budget := h.Balance
	for _, q := range m.Quotes {
		chg, ok := change(q.History, momentumLookback)
		if !ok {
			continue
		}
		switch {
		case chg.GreaterThan(s.threshold):
			if req, ok := buyWith(q, fraction(budget, momentumSpend), 1.005); ok {
				d.Orders = append(d.Orders, req)
				budget = budget.Sub(req.Price.Mul(decimal.NewFromInt(req.Quantity)))
			}
		case chg.LessThan(s.threshold.Neg()):
			if req, ok := sellAll(q, h.Quantity(q.Symbol), 0); ok {
				d.Orders = append(d.Orders, req)
			}
		}
	}
	return d
}

const (
	dayTakeProfit = 0.01
	dayStopLoss   = 0.01
	dayBuyProb    = 0.50
	daySpend      = 0.05
)

// dayTraderStrategy trades often in small size, taking profit or cutting
// losses as soon as a position moves one percent.
type dayTraderStrategy struct {
	rng *rand.Rand
	tp  decimal.Decimal
	sl  decimal.Decimal
}

func newDayTrader(rng *rand.Rand) *dayTraderStrategy {
	return &dayTraderStrategy{
		rng: rng,
		tp:  decimal.NewFromFloat(1 + dayTakeProfit),
		sl:  decimal.NewFromFloat(1 - dayStopLoss),
	}
}

func (s *dayTraderStrategy) Kind() Kind { return DayTrader }

func (s *dayTraderStrategy) Decide(m Market, h Holdings) Decision {
	if len(m.Quotes) == 0 {
		return Decision{}
	}
	var d Decision
	for _, sym := range h.Symbols() {
		q, ok := m.Get(sym)
		if !ok {
			continue
		}
		pos := h.Positions[sym]
		if !pos.AverageCost.IsPositive() {
			continue
		}
		switch {
		case q.Price.GreaterThanOrEqual(pos.AverageCost.Mul(s.tp)):
			if req, ok := sellAll(q, pos.Quantity, 1.0); ok {
				d.Orders = append(d.Orders, req)
			}
		case q.Price.LessThanOrEqual(pos.AverageCost.Mul(s.sl)):
			if req, ok := sellAll(q, pos.Quantity, 0); ok {
				d.Orders = append(d.Orders, req)
			}
		}
	}
	if s.rng.Float64() < dayBuyProb {
		q := pick(s.rng, m.Quotes)
		if req, ok := buyWith(q, fraction(h.Balance, uniform(s.rng, 0.01, daySpend)), 1.0); ok {
			d.Orders = append(d.Orders, req)
		}
	}
	return d
}
