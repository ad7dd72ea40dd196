// Package storage persists simulation snapshots and settled trades in Pebble.
package storage

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
	"github.com/uhyunpark/stocksim/pkg/app/sim"
)

type Store struct {
	db *pebble.DB
}

// Open opens or creates a store in dir on the real filesystem.
func Open(dir string) (*Store, error) {
	return OpenFS(dir, vfs.Default)
}

// OpenFS opens a store on fs; tests pass vfs.NewMem().
func OpenFS(dir string, fs vfs.FS) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{FS: fs})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// snapshotMeta is the header written with every snapshot.
type snapshotMeta struct {
	SavedAt     time.Time `json:"savedAt"`
	Start       time.Time `json:"start"`
	Instruments int       `json:"instruments"`
	Traders     int       `json:"traders"`
}

// SaveSnapshot replaces the stored snapshot atomically.
func (s *Store) SaveSnapshot(seed sim.Seed) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, prefix := range []string{prefixInstrument, prefixUser, prefixBot} {
		p := []byte(prefix)
		if err := b.DeleteRange(p, keyUpperBound(p), nil); err != nil {
			return errors.Wrapf(err, "clear %s", prefix)
		}
	}

	for _, inst := range seed.Instruments {
		val, err := encodeJSON(inst)
		if err != nil {
			return errors.Wrapf(err, "instrument %s", inst.Symbol)
		}
		if err := b.Set(instrumentKey(inst.Symbol), val, nil); err != nil {
			return err
		}
	}
	for _, t := range seed.Traders {
		val, err := encodeJSON(t)
		if err != nil {
			return errors.Wrapf(err, "trader %s", t.ID)
		}
		key := userKey(t.ID)
		if t.Kind == account.Bot {
			key = botKey(t.ID)
		}
		if err := b.Set(key, val, nil); err != nil {
			return err
		}
	}

	meta, err := encodeJSON(snapshotMeta{
		SavedAt:     time.Now().UTC(),
		Start:       seed.Start,
		Instruments: len(seed.Instruments),
		Traders:     len(seed.Traders),
	})
	if err != nil {
		return err
	}
	if err := b.Set(metaSnapshotKey(), meta, nil); err != nil {
		return err
	}
	return errors.Wrap(b.Commit(pebble.Sync), "commit snapshot")
}

// LoadSnapshot returns the stored snapshot. ok is false when none was saved.
func (s *Store) LoadSnapshot() (seed sim.Seed, ok bool, err error) {
	val, closer, err := s.db.Get(metaSnapshotKey())
	if errors.Is(err, pebble.ErrNotFound) {
		return sim.Seed{}, false, nil
	}
	if err != nil {
		return sim.Seed{}, false, errors.Wrap(err, "get snapshot header")
	}
	var meta snapshotMeta
	err = decodeJSON(val, &meta)
	closer.Close()
	if err != nil {
		return sim.Seed{}, false, err
	}

	seed.Start = meta.Start
	if err := s.scan([]byte(prefixInstrument), func(v []byte) error {
		var inst sim.InstrumentSeed
		if err := decodeJSON(v, &inst); err != nil {
			return err
		}
		seed.Instruments = append(seed.Instruments, inst)
		return nil
	}); err != nil {
		return sim.Seed{}, false, errors.Wrap(err, "load instruments")
	}
	for _, prefix := range []string{prefixUser, prefixBot} {
		if err := s.scan([]byte(prefix), func(v []byte) error {
			var t sim.TraderSeed
			if err := decodeJSON(v, &t); err != nil {
				return err
			}
			seed.Traders = append(seed.Traders, t)
			return nil
		}); err != nil {
			return sim.Seed{}, false, errors.Wrap(err, "load traders")
		}
	}
	sort.Slice(seed.Traders, func(i, j int) bool { return seed.Traders[i].ID < seed.Traders[j].ID })

	if len(seed.Instruments) != meta.Instruments || len(seed.Traders) != meta.Traders {
		return sim.Seed{}, false, errors.Newf("snapshot is incomplete: header lists %d instruments and %d traders, found %d and %d",
			meta.Instruments, meta.Traders, len(seed.Instruments), len(seed.Traders))
	}
	return seed, true, nil
}

func (s *Store) scan(prefix []byte, fn func(v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// SaveTrade appends a settled trade. Trades are not synced individually; the
// next snapshot commit syncs the log.
func (s *Store) SaveTrade(tr orderbook.Trade) error {
	val, err := encodeGob(tr)
	if err != nil {
		return errors.Wrapf(err, "trade %s", tr.ID)
	}
	if err := s.db.Set(tradeKey(tr.Symbol, tr.Timestamp, tr.ID), val, pebble.NoSync); err != nil {
		return errors.Wrap(err, "save trade")
	}
	return nil
}

// LoadRecentTrades returns up to limit trades of symbol, newest first.
func (s *Store) LoadRecentTrades(symbol string, limit int) ([]orderbook.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []orderbook.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var tr orderbook.Trade
		if err := decodeGob(iter.Value(), &tr); err != nil {
			return nil, errors.Wrapf(err, "trade %s", iter.Key())
		}
		trades = append(trades, tr)
	}
	return trades, iter.Error()
}
