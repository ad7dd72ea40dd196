package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickFunc is invoked once per elapsed simulated second.
type TickFunc func(second time.Time)

// Ticker polls a GameClock at a fixed wall interval and fires one tick per
// simulated second boundary crossed since the previous poll, oldest first.
type Ticker struct {
	gc       *GameClock
	interval time.Duration
	onTick   TickFunc
	log      *zap.Logger

	mu   sync.Mutex
	last int64 // last observed simulated unix second
}

func NewTicker(gc *GameClock, interval time.Duration, onTick TickFunc, log *zap.Logger) *Ticker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Ticker{
		gc:       gc,
		interval: interval,
		onTick:   onTick,
		log:      log,
		last:     gc.Instant().Unix(),
	}
}

// Reset re-anchors on the current simulated second so the next poll does not
// replay seconds that passed while nobody was polling.
func (t *Ticker) Reset() {
	t.mu.Lock()
	t.last = t.gc.Instant().Unix()
	t.mu.Unlock()
}

// Poll fires the callback for every simulated second since the last poll and
// returns how many ticks fired. Callbacks run on the caller's goroutine.
func (t *Ticker) Poll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.gc.Instant().Unix()
	fired := 0
	for s := t.last + 1; s <= now; s++ {
		t.onTick(time.Unix(s, 0).UTC())
		fired++
	}
	if now > t.last {
		t.last = now
	}
	if fired > 1 {
		t.log.Debug("ticker caught up", zap.Int("ticks", fired))
	}
	return fired
}

// Run polls until ctx is done.
func (t *Ticker) Run(ctx context.Context) error {
	tk := t.gc.Wall().Ticker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			t.Poll()
		}
	}
}
