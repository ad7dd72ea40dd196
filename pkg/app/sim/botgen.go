package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/strategy"
)

// BotGenerator creates random bot seeds for load testing
type BotGenerator struct {
	symbols []string // catalog the bots may hold and watch
	next    int      // counter for unique bot ids
	rng     *rand.Rand

	generated map[strategy.Kind]int
}

// NewBotGenerator creates a generator over symbols. Zero seed is time-based.
func NewBotGenerator(symbols []string, seed int64) *BotGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &BotGenerator{
		symbols:   symbols,
		next:      1,
		rng:       rand.New(rand.NewSource(seed)),
		generated: make(map[strategy.Kind]int),
	}
}

// Generate creates one random bot
func (g *BotGenerator) Generate() TraderSeed {
	kinds := strategy.Kinds()
	kind := kinds[g.rng.Intn(len(kinds))]
	if kind == strategy.Watchlist && len(g.symbols) == 0 {
		kind = strategy.Random
	}

	// Starting cash between 5,000 and 100,000 in whole units
	balance := decimal.NewFromInt(int64(5000 + g.rng.Intn(95001)))

	b := TraderSeed{
		ID:       fmt.Sprintf("bot_%d", g.next),
		Name:     fmt.Sprintf("%s #%d", kind, g.next),
		Kind:     account.Bot,
		Strategy: kind.String(),
		RandSeed: g.rng.Int63(),
		Balance:  balance,
	}
	g.next++

	if kind == strategy.Watchlist {
		n := min(watchlistSize, len(g.symbols))
		for _, i := range g.rng.Perm(len(g.symbols))[:n] {
			b.Watchlist = append(b.Watchlist, g.symbols[i])
		}
	}
	g.generated[kind]++
	return b
}

// GenerateBatch creates count random bots
func (g *BotGenerator) GenerateBatch(count int) []TraderSeed {
	batch := make([]TraderSeed, count)
	for i := 0; i < count; i++ {
		batch[i] = g.Generate()
	}
	return batch
}

// Stats returns how many bots of each strategy were generated
func (g *BotGenerator) Stats() map[strategy.Kind]int {
	out := make(map[strategy.Kind]int, len(g.generated))
	for k, v := range g.generated {
		out[k] = v
	}
	return out
}
