package strategy

import (
	"math/rand"

	"github.com/uhyunpark/stocksim/pkg/app/core/market"
	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

const (
	randomActProb   = 0.30
	randomLimitProb = 0.70
	randomBand      = 0.02 // limit prices within +/-2% of current
	randomMaxSpend  = 0.10 // of cash per buy
)

// randomStrategy trades a uniformly chosen instrument on a fraction of ticks.
type randomStrategy struct {
	rng *rand.Rand
}

func newRandom(rng *rand.Rand) *randomStrategy { return &randomStrategy{rng: rng} }

func (s *randomStrategy) Kind() Kind { return Random }

func (s *randomStrategy) Decide(m Market, h Holdings) Decision {
	if len(m.Quotes) == 0 || s.rng.Float64() >= randomActProb {
		return Decision{}
	}
	if req, ok := randomOrder(s.rng, pick(s.rng, m.Quotes), h, randomBand); ok {
		return Decision{Orders: []Request{req}}
	}
	return Decision{}
}

// randomOrder builds a buy or sell of q. A sell is only chosen when shares are held.
func randomOrder(rng *rand.Rand, q Quote, h Holdings, band float64) (Request, bool) {
	held := roundLot(h.Quantity(q.Symbol), q.LotSize)
	side := orderbook.Buy
	if held > 0 && rng.Intn(2) == 1 {
		side = orderbook.Sell
	}
	isLimit := rng.Float64() < randomLimitProb
	factor := 1 + uniform(rng, -band, band)

	if side == orderbook.Sell {
		qty := roundLot(1+rng.Int63n(held), q.LotSize)
		if qty <= 0 {
			qty = held
		}
		if !isLimit {
			return marketOrder(q, orderbook.Sell, qty), true
		}
		return limitOrder(q, orderbook.Sell, priceAt(q, factor), qty), true
	}

	budget := fraction(h.Balance, uniform(rng, 0.01, randomMaxSpend))
	if !isLimit {
		qty := affordable(budget, q.Price, q.LotSize)
		if qty <= 0 {
			return Request{}, false
		}
		return marketOrder(q, orderbook.Buy, qty), true
	}
	return buyWith(q, budget, factor)
}

// watchlistStrategy trades only a fixed symbol set chosen at construction.
type watchlistStrategy struct {
	rng     *rand.Rand
	symbols map[string]struct{}
}

const watchlistActProb = 0.40

func newWatchlist(rng *rand.Rand, symbols []string) *watchlistStrategy {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[market.NormalizeSymbol(s)] = struct{}{}
	}
	return &watchlistStrategy{rng: rng, symbols: set}
}

func (s *watchlistStrategy) Kind() Kind { return Watchlist }

// Symbols returns the watched symbols.
func (s *watchlistStrategy) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

func (s *watchlistStrategy) Decide(m Market, h Holdings) Decision {
	var watched []Quote
	for _, q := range m.Quotes {
		if _, ok := s.symbols[q.Symbol]; ok {
			watched = append(watched, q)
		}
	}
	if len(watched) == 0 || s.rng.Float64() >= watchlistActProb {
		return Decision{}
	}
	if req, ok := randomOrder(s.rng, pick(s.rng, watched), h, 0.01); ok {
		return Decision{Orders: []Request{req}}
	}
	return Decision{}
}
