package sim

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/market"
	"github.com/uhyunpark/stocksim/pkg/events"
)

// Load installs a seed: instruments first, then traders with their opening
// positions. A non-zero Start rebases simulated time. Only allowed while paused.
func (s *StockSim) Load(seed Seed) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	if s.State() != Paused {
		return errors.New("load requires a paused simulation")
	}
	if !seed.Start.IsZero() {
		s.clock.Rebase(seed.Start)
		s.ticker.Reset()
	}
	now := s.clock.Instant()

	symbols := make([]string, 0, len(seed.Instruments))
	for _, is := range seed.Instruments {
		var (
			inst *market.Instrument
			err  error
		)
		if len(is.History) > 0 {
			inst, err = market.Restore(is.spec(), is.History)
		} else {
			inst, err = market.NewInstrument(is.spec(), now)
		}
		if err != nil {
			return errors.Wrapf(err, "seed instrument %s", is.Symbol)
		}
		if err := s.addInstrument(inst); err != nil {
			return errors.Wrapf(err, "seed instrument %s", is.Symbol)
		}
		symbols = append(symbols, inst.Symbol)
	}

	for _, ts := range seed.Traders {
		t, err := s.newTrader(ts.spec())
		if err != nil {
			return errors.Wrap(err, "seed trader")
		}
		for _, p := range ts.Positions {
			sym := market.NormalizeSymbol(p.Symbol)
			if !s.instruments.Exists(sym) {
				return errors.Wrapf(market.ErrUnknownInstrument, "trader %s position %q", t.ID, p.Symbol)
			}
			if err := t.Portfolio.AddShares(sym, p.Quantity, p.AverageCost, now); err != nil {
				return errors.Wrapf(err, "trader %s position %s", t.ID, sym)
			}
		}
		if err := s.traders.Add(t); err != nil {
			return errors.Wrap(err, "seed trader")
		}
	}

	s.log.Info("seed loaded",
		zap.Int("instruments", len(seed.Instruments)),
		zap.Int("traders", len(seed.Traders)),
		zap.Time("instant", now))
	if len(symbols) > 0 {
		s.bus.Publish(events.Event{Kind: events.CatalogChanged, Time: now, Symbols: symbols})
	}
	return nil
}

// Snapshot returns the current instruments with their history and every
// trader's holdings, in the same shape Load accepts. Resting orders are not
// part of the snapshot.
func (s *StockSim) Snapshot() Seed {
	s.settleMu.Lock()
	defer s.settleMu.Unlock()

	seed := Seed{Start: s.clock.Instant()}
	for _, is := range s.instruments.Snapshots(true) {
		seed.Instruments = append(seed.Instruments, InstrumentSeed{
			Symbol:       is.Symbol,
			Name:         is.Name,
			Category:     is.Category,
			TickSize:     is.TickSize,
			LotSize:      is.LotSize,
			InitialPrice: is.CurrentPrice,
			History:      is.History,
		})
	}
	for _, t := range s.traders.List() {
		snap := t.Portfolio.Snapshot(false)
		ts := TraderSeed{
			ID:      t.ID,
			Name:    t.DisplayName,
			Kind:    t.Kind,
			Balance: snap.Balance,
		}
		if t.IsBot() && t.Strategy != nil {
			ts.Strategy = t.Strategy.Kind().String()
			if w, ok := t.Strategy.(interface{ Symbols() []string }); ok {
				ts.Watchlist = w.Symbols()
			}
		}
		for _, p := range snap.Positions {
			ts.Positions = append(ts.Positions, PositionSeed{Symbol: p.Symbol, Quantity: p.Quantity, AverageCost: p.AverageCost})
		}
		seed.Traders = append(seed.Traders, ts)
	}
	return seed
}

// StateHash is a deterministic SHA3-256 digest of the books, prices and
// portfolios.
//
// Hashed in order:
//  1. per symbol (sorted): symbol, current price, bid levels best first, ask levels best first
//  2. per trader (sorted by id): id, balance, positions sorted by symbol
func (s *StockSim) StateHash() [32]byte {
	s.settleMu.Lock()
	defer s.settleMu.Unlock()

	h := sha3.New256()
	var buf [8]byte
	putInt := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	putStr := func(str string) {
		putInt(int64(len(str)))
		h.Write([]byte(str))
	}

	s.booksMu.RLock()
	symbols := make([]string, 0, len(s.books))
	for sym := range s.books {
		symbols = append(symbols, sym)
	}
	s.booksMu.RUnlock()
	sort.Strings(symbols)

	for _, sym := range symbols {
		putStr(sym)
		if inst, err := s.instruments.Get(sym); err == nil {
			putStr(inst.CurrentPrice().String())
		}
		d, err := s.Depth(sym, 0)
		if err != nil {
			continue
		}
		putInt(int64(len(d.Bids)))
		for _, l := range d.Bids {
			putStr(l.Price.String())
			putInt(l.Qty)
		}
		putInt(int64(len(d.Asks)))
		for _, l := range d.Asks {
			putStr(l.Price.String())
			putInt(l.Qty)
		}
	}

	for _, t := range s.traders.List() {
		snap := t.Portfolio.Snapshot(false)
		putStr(t.ID)
		putStr(snap.Balance.String())
		for _, p := range snap.Positions {
			putStr(p.Symbol)
			putInt(p.Quantity)
			putStr(p.TotalCost.String())
		}
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AddBots creates the bots of a generated or seeded batch, skipping none: the
// first failure is returned along with how many were created.
func (s *StockSim) AddBots(bots []TraderSeed) (int, error) {
	for i, b := range bots {
		b.Kind = account.Bot
		if _, err := s.CreateTrader(b.spec()); err != nil {
			return i, err
		}
	}
	return len(bots), nil
}
