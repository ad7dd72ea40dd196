// Package clock provides simulated time for the exchange.
//
// GameClock maps wall time onto simulated time through a rebasable
// (simStart, realStart, speed) triple. The wall source is injected so tests
// can drive it with a mock.
package clock

import (
	"sync"
	"time"

	wallclock "github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
)

// GameClock is the simulated time source. Safe for concurrent use.
type GameClock struct {
	wall wallclock.Clock

	mu        sync.RWMutex
	simStart  time.Time
	realStart time.Time
	speed     float64
	paused    bool
}

// NewGameClock starts simulated time at start, advancing speed simulated
// seconds per wall second.
func NewGameClock(wall wallclock.Clock, start time.Time, speed float64) (*GameClock, error) {
	if speed < 0 {
		return nil, errors.Newf("speed must not be negative, got %v", speed)
	}
	if wall == nil {
		wall = wallclock.New()
	}
	return &GameClock{
		wall:      wall,
		simStart:  start,
		realStart: wall.Now(),
		speed:     speed,
	}, nil
}

// Wall returns the injected wall clock.
func (g *GameClock) Wall() wallclock.Clock { return g.wall }

// Instant returns the current simulated time.
func (g *GameClock) Instant() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.instantLocked(g.wall.Now())
}

func (g *GameClock) instantLocked(now time.Time) time.Time {
	if g.paused {
		return g.simStart
	}
	elapsed := now.Sub(g.realStart)
	return g.simStart.Add(time.Duration(float64(elapsed) * g.speed))
}

// rebaseLocked freezes the current instant into simStart and restarts the wall anchor.
func (g *GameClock) rebaseLocked() {
	now := g.wall.Now()
	g.simStart = g.instantLocked(now)
	g.realStart = now
}

// Speed returns the configured speed factor. It is kept while paused.
func (g *GameClock) Speed() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.speed
}

// SetSpeed changes the speed factor without a jump in simulated time.
func (g *GameClock) SetSpeed(speed float64) error {
	if speed < 0 {
		return errors.Newf("speed must not be negative, got %v", speed)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rebaseLocked()
	g.speed = speed
	return nil
}

// Pause freezes simulated time at the current instant.
func (g *GameClock) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.rebaseLocked()
	g.paused = true
}

// Resume continues simulated time from where Pause froze it.
func (g *GameClock) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.realStart = g.wall.Now()
	g.paused = false
}

// Paused reports whether simulated time is frozen.
func (g *GameClock) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// Rebase moves simulated time to instant, keeping speed and pause state.
func (g *GameClock) Rebase(instant time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.simStart = instant
	g.realStart = g.wall.Now()
}
