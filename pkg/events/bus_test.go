package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_TypedSubscription(t *testing.T) {
	b := NewBus()

	var prices, all []Kind
	b.Subscribe(func(e Event) { prices = append(prices, e.Kind) }, PriceUpdated)
	b.Subscribe(func(e Event) { all = append(all, e.Kind) })

	b.Publish(Event{Kind: TradeSettled})
	b.Publish(Event{Kind: PriceUpdated, Symbols: []string{"ACME"}})
	b.Publish(Event{Kind: PortfolioChanged, TraderID: "alice"})

	assert.Equal(t, []Kind{PriceUpdated}, prices)
	assert.Equal(t, []Kind{TradeSettled, PriceUpdated, PortfolioChanged}, all)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	calls := 0
	unsub := b.Subscribe(func(Event) { calls++ })

	b.Publish(Event{Kind: CatalogChanged})
	unsub()
	unsub()
	b.Publish(Event{Kind: CatalogChanged})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Len())
}

func TestBus_DeliveryOrderFollowsSubscription(t *testing.T) {
	b := NewBus()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe(func(Event) { order = append(order, i) })
	}
	b.Publish(Event{Kind: PriceUpdated})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestBus_UnsubscribeFromHandler(t *testing.T) {
	b := NewBus()
	var unsub func()
	calls := 0
	unsub = b.Subscribe(func(Event) {
		calls++
		unsub()
	})
	b.Publish(Event{Kind: TradeSettled})
	b.Publish(Event{Kind: TradeSettled})
	assert.Equal(t, 1, calls)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	count := 0
	b.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, TradeSettled)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Kind: TradeSettled})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1600, count)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "price_updated", PriceUpdated.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
