package sim

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/market"
	"github.com/uhyunpark/stocksim/pkg/app/core/strategy"
)

// Seed is the persistence hand-off shape: the initial catalog and trader list
// on startup, and the pure state snapshot on shutdown.
type Seed struct {
	Start       time.Time        `json:"start"`
	Instruments []InstrumentSeed `json:"instruments"`
	Traders     []TraderSeed     `json:"traders"`
}

// InstrumentSeed describes one catalog entry. A non-empty History restores the
// price series; otherwise it starts at InitialPrice.
type InstrumentSeed struct {
	Symbol       string              `json:"symbol"`
	Name         string              `json:"name"`
	Category     string              `json:"category"`
	TickSize     decimal.Decimal     `json:"tickSize"`
	LotSize      int64               `json:"lotSize"`
	InitialPrice decimal.Decimal     `json:"initialPrice"`
	History      []market.PricePoint `json:"history,omitempty"`
}

func (s InstrumentSeed) spec() market.Spec {
	return market.Spec{
		Symbol:       s.Symbol,
		Name:         s.Name,
		Category:     s.Category,
		TickSize:     s.TickSize,
		LotSize:      s.LotSize,
		InitialPrice: s.InitialPrice,
	}
}

// PositionSeed is an opening position valued at AverageCost.
type PositionSeed struct {
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `json:"averageCost"`
}

// TraderSeed describes a user or a bot with its starting portfolio.
type TraderSeed struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      account.Kind    `json:"kind"`
	Strategy  string          `json:"strategy,omitempty"`
	Watchlist []string        `json:"watchlist,omitempty"`
	RandSeed  int64           `json:"randSeed,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	Positions []PositionSeed  `json:"positions,omitempty"`
}

// spec converts the seed into a trader creation request.
func (s TraderSeed) spec() TraderSpec {
	return TraderSpec{
		Kind:      s.Kind,
		ID:        s.ID,
		Name:      s.Name,
		Strategy:  s.Strategy,
		Watchlist: s.Watchlist,
		RandSeed:  s.RandSeed,
		Balance:   s.Balance,
	}
}

// Bots returns the bot entries of the seed.
func (s Seed) Bots() []TraderSeed {
	var out []TraderSeed
	for _, t := range s.Traders {
		if t.Kind == account.Bot {
			out = append(out, t)
		}
	}
	return out
}

// seed file layout; decimals are written as strings or plain numbers
type seedFile struct {
	Start       string `yaml:"start"`
	Instruments []struct {
		Symbol       string `yaml:"symbol"`
		Name         string `yaml:"name"`
		Category     string `yaml:"category"`
		TickSize     string `yaml:"tick_size"`
		LotSize      int64  `yaml:"lot_size"`
		InitialPrice string `yaml:"initial_price"`
	} `yaml:"instruments"`
	Bots []struct {
		ID        string   `yaml:"id"`
		Name      string   `yaml:"name"`
		Strategy  string   `yaml:"strategy"`
		Watchlist []string `yaml:"watchlist"`
		Seed      int64    `yaml:"seed"`
		Balance   string   `yaml:"balance"`
		Positions []struct {
			Symbol      string `yaml:"symbol"`
			Quantity    int64  `yaml:"quantity"`
			AverageCost string `yaml:"average_cost"`
		} `yaml:"positions"`
	} `yaml:"bots"`
}

// LoadSeedFile reads a YAML seed file.
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, errors.Wrapf(err, "read seed %s", path)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML seed. Unknown strategy names are a hard error.
func ParseSeed(data []byte) (Seed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Seed{}, errors.Wrap(err, "decode seed")
	}

	var seed Seed
	if f.Start != "" {
		t, err := time.Parse(time.RFC3339, f.Start)
		if err != nil {
			return Seed{}, errors.Wrapf(err, "seed start %q", f.Start)
		}
		seed.Start = t
	}

	for i, in := range f.Instruments {
		tick, err := parseDecimal(in.TickSize, "0.01")
		if err != nil {
			return Seed{}, errors.Wrapf(err, "instrument %d (%s) tick_size", i, in.Symbol)
		}
		px, err := parseDecimal(in.InitialPrice, "")
		if err != nil {
			return Seed{}, errors.Wrapf(err, "instrument %d (%s) initial_price", i, in.Symbol)
		}
		lot := in.LotSize
		if lot == 0 {
			lot = 1
		}
		seed.Instruments = append(seed.Instruments, InstrumentSeed{
			Symbol:       in.Symbol,
			Name:         in.Name,
			Category:     in.Category,
			TickSize:     tick,
			LotSize:      lot,
			InitialPrice: px,
		})
	}

	for i, b := range f.Bots {
		if _, err := strategy.ParseKind(b.Strategy); err != nil {
			return Seed{}, errors.Wrapf(err, "bot %d (%s)", i, b.ID)
		}
		bal, err := parseDecimal(b.Balance, "0")
		if err != nil {
			return Seed{}, errors.Wrapf(err, "bot %d (%s) balance", i, b.ID)
		}
		ts := TraderSeed{
			ID:        b.ID,
			Name:      b.Name,
			Kind:      account.Bot,
			Strategy:  b.Strategy,
			Watchlist: b.Watchlist,
			RandSeed:  b.Seed,
			Balance:   bal,
		}
		for _, p := range b.Positions {
			avg, err := parseDecimal(p.AverageCost, "0")
			if err != nil {
				return Seed{}, errors.Wrapf(err, "bot %s position %s", b.ID, p.Symbol)
			}
			ts.Positions = append(ts.Positions, PositionSeed{Symbol: p.Symbol, Quantity: p.Quantity, AverageCost: avg})
		}
		seed.Traders = append(seed.Traders, ts)
	}
	return seed, nil
}

func parseDecimal(s, def string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = def
	}
	if s == "" {
		return decimal.Zero, errors.New("missing value")
	}
	return decimal.NewFromString(s)
}
