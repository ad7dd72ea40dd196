package storage

import (
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/events"
)

// Record subscribes to settled trades on bus and writes each one to store and
// journal. Either may be nil. The returned function unsubscribes.
func Record(bus *events.Bus, store *Store, journal Journal, log *zap.Logger) func() {
	if log == nil {
		log = zap.NewNop()
	}
	return bus.Subscribe(func(e events.Event) {
		if e.Trade == nil {
			return
		}
		if store != nil {
			if err := store.SaveTrade(*e.Trade); err != nil {
				log.Warn("trade_persist_failed", zap.String("trade", e.Trade.ID.String()), zap.Error(err))
			}
		}
		if journal != nil {
			if err := journal.Append(*e.Trade); err != nil {
				log.Warn("trade_journal_failed", zap.String("trade", e.Trade.ID.String()), zap.Error(err))
			}
		}
	}, events.TradeSettled)
}
