package strategy

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

var one = decimal.NewFromInt(1)

// alignPrice rounds price down to a tick multiple, never below one tick.
func alignPrice(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	n := price.Div(tick).Floor()
	if n.LessThan(one) {
		n = one
	}
	return n.Mul(tick)
}

// priceAt returns the quote price scaled by factor, aligned to the tick size.
func priceAt(q Quote, factor float64) decimal.Decimal {
	return alignPrice(q.Price.Mul(decimal.NewFromFloat(factor)), q.TickSize)
}

func roundLot(qty, lot int64) int64 {
	if lot <= 1 {
		return qty
	}
	return qty / lot * lot
}

// affordable returns the largest lot-aligned quantity whose value at price fits in budget.
func affordable(budget, price decimal.Decimal, lot int64) int64 {
	if !budget.IsPositive() || !price.IsPositive() {
		return 0
	}
	return roundLot(budget.Div(price).Floor().IntPart(), lot)
}

// fraction returns balance x f.
func fraction(balance decimal.Decimal, f float64) decimal.Decimal {
	return balance.Mul(decimal.NewFromFloat(f))
}

// change returns the fractional price change over the last lookback points.
func change(history []decimal.Decimal, lookback int) (decimal.Decimal, bool) {
	if lookback <= 0 || len(history) <= lookback {
		return decimal.Zero, false
	}
	base := history[len(history)-1-lookback]
	if !base.IsPositive() {
		return decimal.Zero, false
	}
	last := history[len(history)-1]
	return last.Sub(base).Div(base), true
}

func limitOrder(q Quote, side orderbook.Side, price decimal.Decimal, qty int64) Request {
	return Request{Symbol: q.Symbol, Side: side, Type: orderbook.Limit, Price: price, Quantity: qty}
}

func marketOrder(q Quote, side orderbook.Side, qty int64) Request {
	return Request{Symbol: q.Symbol, Side: side, Type: orderbook.Market, Quantity: qty}
}

// sellAll returns a sell of the whole lot-aligned holding, or false if nothing can be sold.
func sellAll(q Quote, held int64, limitFactor float64) (Request, bool) {
	qty := roundLot(held, q.LotSize)
	if qty <= 0 {
		return Request{}, false
	}
	if limitFactor <= 0 {
		return marketOrder(q, orderbook.Sell, qty), true
	}
	return limitOrder(q, orderbook.Sell, priceAt(q, limitFactor), qty), true
}

// buyWith returns a limit buy spending at most budget, or false if not even one lot fits.
func buyWith(q Quote, budget decimal.Decimal, limitFactor float64) (Request, bool) {
	price := priceAt(q, limitFactor)
	qty := affordable(budget, price, q.LotSize)
	if qty <= 0 {
		return Request{}, false
	}
	return limitOrder(q, orderbook.Buy, price, qty), true
}

// uniform returns a float in [lo, hi).
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func pick(rng *rand.Rand, quotes []Quote) Quote {
	return quotes[rng.Intn(len(quotes))]
}
