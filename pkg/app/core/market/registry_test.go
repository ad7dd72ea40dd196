package market

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func acme(symbol string) Spec {
	return Spec{
		Symbol:       symbol,
		Name:         "Acme Corp",
		Category:     "Industrials",
		TickSize:     decimal.RequireFromString("0.01"),
		LotSize:      1,
		InitialPrice: decimal.RequireFromString("100"),
	}
}

func TestRegistry_RegisterDuplicateCaseInsensitive(t *testing.T) {
	r := NewRegistry()

	inst, err := NewInstrument(acme("acme"), t0)
	require.NoError(t, err)
	assert.Equal(t, "ACME", inst.Symbol)
	require.NoError(t, r.Register(inst))

	dup, err := NewInstrument(acme("AcMe"), t0)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Register(dup), ErrDuplicateInstrument)
	assert.Equal(t, 1, r.Count())

	got, err := r.Get("Acme")
	require.NoError(t, err)
	assert.Same(t, inst, got)
	assert.True(t, r.Exists(" acme "))
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("NOPE")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	for _, s := range []string{"ZZZ", "AAA", "MMM"} {
		inst, err := NewInstrument(acme(s), t0)
		require.NoError(t, err)
		require.NoError(t, r.Register(inst))
	}
	var symbols []string
	for _, s := range r.Snapshots(false) {
		symbols = append(symbols, s.Symbol)
	}
	assert.Equal(t, []string{"AAA", "MMM", "ZZZ"}, symbols)
}

func TestInstrument_SpecValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"empty symbol", func(s *Spec) { s.Symbol = " " }},
		{"zero tick", func(s *Spec) { s.TickSize = decimal.Zero }},
		{"zero lot", func(s *Spec) { s.LotSize = 0 }},
		{"negative price", func(s *Spec) { s.InitialPrice = decimal.NewFromInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := acme("X")
			tt.mutate(&spec)
			_, err := NewInstrument(spec, t0)
			assert.ErrorIs(t, err, orderbook.ErrValidation)
		})
	}
}

func TestInstrument_UpdatePriceAppendsHistory(t *testing.T) {
	inst, err := NewInstrument(acme("ACME"), t0)
	require.NoError(t, err)

	inst.UpdatePrice(t0.Add(time.Second), decimal.RequireFromString("101.5"))
	inst.UpdatePrice(t0.Add(2*time.Second), decimal.RequireFromString("99"))

	assert.True(t, inst.CurrentPrice().Equal(decimal.NewFromInt(99)))
	h := inst.History()
	require.Len(t, h, 3)
	assert.True(t, h[1].Price.Equal(decimal.RequireFromString("101.5")))

	recent := inst.RecentPrices(2)
	require.Len(t, recent, 2)
	assert.True(t, recent[1].Equal(decimal.NewFromInt(99)))
	assert.Len(t, inst.RecentPrices(10), 3)

	snap := inst.Snapshot(true)
	inst.UpdatePrice(t0.Add(3*time.Second), decimal.NewFromInt(1))
	assert.Len(t, snap.History, 3, "snapshot must not alias history")

	restored, err := Restore(snap.Spec(), snap.History)
	require.NoError(t, err)
	assert.True(t, restored.CurrentPrice().Equal(decimal.NewFromInt(99)))
	assert.Len(t, restored.History(), 3)
}

func TestInstrument_ValidateOrderParams(t *testing.T) {
	spec := acme("ACME")
	spec.LotSize = 10
	inst, err := NewInstrument(spec, t0)
	require.NoError(t, err)

	assert.NoError(t, inst.ValidatePrice(decimal.RequireFromString("100.25")))
	assert.ErrorIs(t, inst.ValidatePrice(decimal.RequireFromString("100.255")), orderbook.ErrValidation)
	assert.ErrorIs(t, inst.ValidatePrice(decimal.Zero), orderbook.ErrValidation)

	assert.NoError(t, inst.ValidateQuantity(30))
	assert.ErrorIs(t, inst.ValidateQuantity(15), orderbook.ErrValidation)
	assert.ErrorIs(t, inst.ValidateQuantity(0), orderbook.ErrValidation)
}

func TestInstrument_ConcurrentUpdates(t *testing.T) {
	inst, err := NewInstrument(acme("ACME"), t0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				inst.UpdatePrice(t0, decimal.NewFromInt(int64(100+i)))
				_ = inst.Snapshot(true)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, inst.History(), 1+8*50)
}
