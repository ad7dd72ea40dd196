package strategy

import (
	"math/rand"

	"github.com/shopspring/decimal"
)

const (
	holdTarget  = 0.50 // sell once unrealized gain reaches 50%
	holdBuyProb = 0.05
	holdSpend   = 0.20
)

// buyAndHoldStrategy accumulates occasionally and sells a position only after
// a large unrealized gain.
type buyAndHoldStrategy struct {
	rng    *rand.Rand
	target decimal.Decimal
}

func newBuyAndHold(rng *rand.Rand) *buyAndHoldStrategy {
	return &buyAndHoldStrategy{rng: rng, target: decimal.NewFromFloat(1 + holdTarget)}
}

func (s *buyAndHoldStrategy) Kind() Kind { return BuyAndHold }

func (s *buyAndHoldStrategy) Decide(m Market, h Holdings) Decision {
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
		if pos.AverageCost.IsPositive() && q.Price.GreaterThanOrEqual(pos.AverageCost.Mul(s.target)) {
			if req, ok := sellAll(q, pos.Quantity, 1.0); ok {
				d.Orders = append(d.Orders, req)
			}
		}
	}
	if s.rng.Float64() < holdBuyProb {
		if req, ok := buyWith(pick(s.rng, m.Quotes), fraction(h.Balance, holdSpend), 1.0); ok {
			d.Orders = append(d.Orders, req)
		}
	}
	return d
}

const (
	panicDrawdown = 0.05
	panicDiscount = 0.97
	panicBuyProb  = 0.10
	panicSpend    = 0.10
)

// panicSellerStrategy tracks the peak price of every held symbol and dumps the
// whole position at a discount once the price falls 5% from that peak.
type panicSellerStrategy struct {
	rng   *rand.Rand
	peaks map[string]decimal.Decimal
	floor decimal.Decimal
}

func newPanicSeller(rng *rand.Rand) *panicSellerStrategy {
	return &panicSellerStrategy{
		rng:   rng,
		peaks: make(map[string]decimal.Decimal),
		floor: decimal.NewFromFloat(1 - panicDrawdown),
	}
}

func (s *panicSellerStrategy) Kind() Kind { return PanicSeller }

func (s *panicSellerStrategy) Decide(m Market, h Holdings) Decision {
	if len(m.Quotes) == 0 {
		return Decision{}
	}
	var d Decision
	held := make(map[string]struct{})
	for _, sym := range h.Symbols() {
		held[sym] = struct{}{}
		q, ok := m.Get(sym)
		if !ok {
			continue
		}
		peak, seen := s.peaks[sym]
		if !seen || q.Price.GreaterThan(peak) {
			peak = q.Price
			s.peaks[sym] = peak
		}
		if q.Price.LessThanOrEqual(peak.Mul(s.floor)) {
			if req, ok := sellAll(q, h.Quantity(sym), panicDiscount); ok {
				d.Orders = append(d.Orders, req)
				delete(s.peaks, sym)
			}
		}
	}
	for sym := range s.peaks {
		if _, ok := held[sym]; !ok {
			delete(s.peaks, sym)
		}
	}

	if len(d.Orders) == 0 && s.rng.Float64() < panicBuyProb {
		if req, ok := buyWith(pick(s.rng, m.Quotes), fraction(h.Balance, panicSpend), 1.0); ok {
			d.Orders = append(d.Orders, req)
		}
	}
	return d
}
