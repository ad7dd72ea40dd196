package orderbook

import (
	"container/list"

	"github.com/shopspring/decimal"
)

// priceLevel is the FIFO queue of resting orders at one price.
type priceLevel struct {
	ticks  int64
	price  decimal.Decimal
	orders *list.List // *Order, oldest first
	index  int        // position in the owning levelHeap, -1 once removed
}

func (l *priceLevel) quantity() int64 {
	var total int64
	for e := l.orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*Order).Remaining
	}
	return total
}

// levelHeap implements heap.Interface over price levels.
// desc=true keeps the highest price on top (bids), desc=false the lowest (asks).
// Every level tracks its own index so an emptied level can be removed in O(log n).
// Use container/heap package to manipulate this heap (Init, Push, Pop, Remove)
type levelHeap struct {
	levels []*priceLevel
	desc   bool
}

func (h levelHeap) Len() int { return len(h.levels) }

func (h levelHeap) Less(i, j int) bool {
	if h.desc {
		return h.levels[i].ticks > h.levels[j].ticks
	}
	return h.levels[i].ticks < h.levels[j].ticks
}

func (h levelHeap) Swap(i, j int) {
	h.levels[i], h.levels[j] = h.levels[j], h.levels[i]
	h.levels[i].index = i
	h.levels[j].index = j
}

func (h *levelHeap) Push(x interface{}) {
	lvl := x.(*priceLevel)
	lvl.index = len(h.levels)
	h.levels = append(h.levels, lvl)
}

func (h *levelHeap) Pop() interface{} {
	old := h.levels
	n := len(old)
	lvl := old[n-1]
	old[n-1] = nil
	lvl.index = -1
	h.levels = old[0 : n-1]
	return lvl
}

// Peek returns the top level without removing it
func (h levelHeap) Peek() *priceLevel {
	if len(h.levels) == 0 {
		return nil
	}
	return h.levels[0]
}
