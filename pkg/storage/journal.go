package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

// Journal is an append-only log of settled trades.
type Journal interface {
	Append(tr orderbook.Trade) error
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal                   { return &NopJournal{} }
func (j *NopJournal) Append(orderbook.Trade) error { return nil }
func (j *NopJournal) Close() error                 { return nil }

// journalLine is one JSON line of the trade journal.
type journalLine struct {
	ID        uuid.UUID       `json:"id"`
	Time      time.Time       `json:"time"`
	Symbol    string          `json:"symbol"`
	Buy       int64           `json:"buy"`
	Sell      int64           `json:"sell"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"qty"`
	Aggressor orderbook.Side  `json:"aggressor"`
}

// FileJournal writes one JSON line per trade.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(tr orderbook.Trade) error {
	b, err := json.Marshal(journalLine{
		ID:        tr.ID,
		Time:      tr.Timestamp,
		Symbol:    tr.Symbol,
		Buy:       tr.BuyOrderID,
		Sell:      tr.SellOrderID,
		Price:     tr.Price,
		Quantity:  tr.Quantity,
		Aggressor: tr.Aggressor,
	})
	if err != nil {
		return errors.Wrap(err, "encode journal line")
	}
	b = append(b, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.f.Write(b)
	return errors.Wrap(err, "append journal")
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// ReadJournal decodes every trade in a journal file, oldest first.
func ReadJournal(path string) ([]orderbook.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}
	defer f.Close()

	var out []orderbook.Trade
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		var l journalLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			return out, errors.Wrapf(err, "journal line %d", n)
		}
		out = append(out, orderbook.Trade{
			ID:          l.ID,
			Symbol:      l.Symbol,
			BuyOrderID:  l.Buy,
			SellOrderID: l.Sell,
			Price:       l.Price,
			Quantity:    l.Quantity,
			Timestamp:   l.Time,
			Aggressor:   l.Aggressor,
		})
	}
	return out, sc.Err()
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
