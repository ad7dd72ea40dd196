package strategy

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

const (
	defaultDepositEvery     = 60
	defaultDepositAmount    = 10000
	institutionalRebalEvery = 300
	institutionalInvested   = 0.90 // share of equity kept in the market
)

// institutionalStrategy injects cash on a fixed period and, rarely, rebalances
// toward an equal-weight allocation across all instruments.
type institutionalStrategy struct {
	rng           *rand.Rand
	tick          int
	depositEvery  int
	depositAmount decimal.Decimal
}

func newInstitutional(rng *rand.Rand, every int, amount decimal.Decimal) *institutionalStrategy {
	if every <= 0 {
		every = defaultDepositEvery
	}
	if !amount.IsPositive() {
		amount = decimal.NewFromInt(defaultDepositAmount)
	}
	return &institutionalStrategy{rng: rng, depositEvery: every, depositAmount: amount}
}

func (s *institutionalStrategy) Kind() Kind { return Institutional }

func (s *institutionalStrategy) Decide(m Market, h Holdings) Decision {
	if len(m.Quotes) == 0 {
		return Decision{}
	}
	s.tick++

	var d Decision
	if s.tick%s.depositEvery == 0 {
		d.Deposit = s.depositAmount
	}
	// The deposit lands after this decision, so it is invested on a later rebalance.
	if s.tick%institutionalRebalEvery == 0 {
		d.Orders = rebalance(m, h, h.Balance)
	}
	return d
}

// rebalance moves every holding toward an equal share of invested equity.
// Sells are listed first so their proceeds can fund the buys.
func rebalance(m Market, h Holdings, cash decimal.Decimal) []Request {
	equity := cash
	for _, q := range m.Quotes {
		equity = equity.Add(q.Price.Mul(decimal.NewFromInt(h.Quantity(q.Symbol))))
	}
	target := equity.Mul(decimal.NewFromFloat(institutionalInvested)).Div(decimal.NewFromInt(int64(len(m.Quotes))))

	var sells, buys []Request
	for _, q := range m.Quotes {
		if !q.Price.IsPositive() {
			continue
		}
		held := h.Quantity(q.Symbol)
		diff := target.Sub(q.Price.Mul(decimal.NewFromInt(held)))
		qty := roundLot(diff.Abs().Div(q.Price).Floor().IntPart(), q.LotSize)
		if qty <= 0 {
			continue
		}
		if diff.IsNegative() {
			if qty > held {
				qty = roundLot(held, q.LotSize)
			}
			if qty > 0 {
				sells = append(sells, limitOrder(q, orderbook.Sell, priceAt(q, 1.0), qty))
			}
			continue
		}
		buys = append(buys, limitOrder(q, orderbook.Buy, priceAt(q, 1.0), qty))
	}
	return append(sells, buys...)
}
