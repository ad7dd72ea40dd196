package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Key schema for Pebble storage:
//
//   meta:snapshot                       → snapshot header
//   inst:<symbol>                       → instrument with price history
//   user:<id>                           → user portfolio
//   bot:<id>                            → bot strategy and portfolio
//   trade:<symbol>:<unixnano>:<tradeID> → settled trade
//
// Snapshot keys are rewritten as a whole on every SaveSnapshot; trade keys
// only accumulate.

// Key prefixes
const (
	prefixInstrument = "inst:"
	prefixUser       = "user:"
	prefixBot        = "bot:"
	prefixTrade      = "trade:"
)

func metaSnapshotKey() []byte { return []byte("meta:snapshot") }

func instrumentKey(symbol string) []byte { return []byte(prefixInstrument + symbol) }

func userKey(id string) []byte { return []byte(prefixUser + id) }

func botKey(id string) []byte { return []byte(prefixBot + id) }

// tradeKey returns the key for a trade
// Format: "trade:{symbol}:{timestamp}:{tradeID}"
// Timestamp is zero-padded (20 digits) for lexicographic sorting
func tradeKey(symbol string, ts time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, symbol, ts.UnixNano(), id))
}

// tradePrefix returns the prefix for all trades of a symbol
// Format: "trade:{symbol}:"
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
