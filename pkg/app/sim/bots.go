package sim

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/strategy"
	"github.com/uhyunpark/stocksim/pkg/events"
)

// onTick dispatches one decision task per idle bot, waits for all of them and
// then publishes a single PriceUpdated for every symbol they traded.
func (s *StockSim) onTick(second time.Time) {
	bots := s.traders.Bots()
	if len(bots) == 0 {
		return
	}
	view := s.marketView(second)

	dispatched, busy := 0, 0
	for _, b := range bots {
		if !b.TryAcquire() {
			busy++
			continue
		}
		bot := b
		if !s.exec.Submit(func() { s.act(bot, view) }) {
			bot.Release()
			continue
		}
		dispatched++
	}
	s.exec.Wait()
	s.flushPrices(second)

	s.log.Sugar().Debugw("tick_dispatched",
		"second", second,
		"bots", dispatched,
		"busy", busy)
}

func (s *StockSim) flushPrices(at time.Time) {
	s.dirtyMu.Lock()
	if len(s.dirty) == 0 {
		s.dirtyMu.Unlock()
		return
	}
	syms := make([]string, 0, len(s.dirty))
	for sym := range s.dirty {
		syms = append(syms, sym)
	}
	clear(s.dirty)
	s.dirtyMu.Unlock()

	sort.Strings(syms)
	s.bus.Publish(events.Event{Kind: events.PriceUpdated, Time: at, Symbols: syms})
}

// act runs one bot decision cycle. The bot goes back to IDLE whatever happens.
func (s *StockSim) act(bot *account.Trader, m strategy.Market) {
	defer bot.Release()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("bot_action_panic",
				zap.String("bot", bot.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	if bot.Strategy == nil {
		return
	}

	d := bot.Strategy.Decide(m, holdingsOf(bot.Portfolio.Snapshot(false)))
	if d.Empty() {
		return
	}
	if d.Deposit.IsPositive() {
		if err := bot.Portfolio.Deposit(d.Deposit); err == nil {
			s.bus.Publish(events.Event{Kind: events.PortfolioChanged, Time: m.Now, TraderID: bot.ID})
		}
	}
	for _, r := range d.Orders {
		_, batch, err := s.place(OrderRequest{
			TraderID: bot.ID,
			Symbol:   r.Symbol,
			Side:     r.Side,
			Type:     r.Type,
			Price:    r.Price,
			Quantity: r.Quantity,
		}, true)
		if err != nil {
			continue
		}
		s.publish(batch, true)
	}
}

// marketView builds the read-only market handed to every strategy for one tick.
func (s *StockSim) marketView(now time.Time) strategy.Market {
	list := s.instruments.List()
	m := strategy.Market{Now: now, Quotes: make([]strategy.Quote, 0, len(list))}
	for _, inst := range list {
		m.Quotes = append(m.Quotes, strategy.Quote{
			Symbol:   inst.Symbol,
			Price:    inst.CurrentPrice(),
			TickSize: inst.TickSize,
			LotSize:  inst.LotSize,
			History:  inst.RecentPrices(s.cfg.HistoryWindow),
		})
	}
	return m
}

func holdingsOf(snap account.Snapshot) strategy.Holdings {
	h := strategy.Holdings{Balance: snap.Balance, Positions: make(map[string]strategy.Holding, len(snap.Positions))}
	for _, p := range snap.Positions {
		h.Positions[p.Symbol] = strategy.Holding{Quantity: p.Quantity, AverageCost: p.AverageCost}
	}
	return h
}
