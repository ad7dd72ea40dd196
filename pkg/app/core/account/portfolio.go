package account

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
)

var (
	// ErrInsufficientFunds is returned when a withdrawal would make the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares is returned when removing more shares than are held.
	ErrInsufficientShares = errors.New("insufficient shares")
)

// CostPrecision is the number of decimal places kept for cost per share.
const CostPrecision = 10

// Lot is one entry of a position's trade log.
type Lot struct {
	Time     time.Time       `json:"time"`
	Side     orderbook.Side  `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Position tracks holdings of one symbol with a weighted-sum cost basis.
// Quantity and TotalCost are never negative.
type Position struct {
	Symbol    string
	Quantity  int64
	TotalCost decimal.Decimal
	Lots      []Lot
}

// AverageCost returns TotalCost / Quantity, or zero for an empty position.
func (p *Position) AverageCost() decimal.Decimal {
	if p.Quantity == 0 {
		return decimal.Zero
	}
	return p.TotalCost.Div(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL returns price x quantity - total cost.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.MarketValue(price).Sub(p.TotalCost)
}

// MarketValue returns price x quantity.
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

func (p *Position) add(qty int64, price decimal.Decimal, at time.Time) {
	p.Quantity += qty
	p.TotalCost = p.TotalCost.Add(price.Mul(decimal.NewFromInt(qty)))
	p.Lots = append(p.Lots, Lot{Time: at, Side: orderbook.Buy, Quantity: qty, Price: price})
}

// remove reduces cost proportionally: cost per share is rounded, then scaled by qty.
func (p *Position) remove(qty int64, price decimal.Decimal, at time.Time) {
	if qty == p.Quantity {
		p.TotalCost = decimal.Zero
	} else {
		perShare := p.TotalCost.DivRound(decimal.NewFromInt(p.Quantity), CostPrecision)
		p.TotalCost = p.TotalCost.Sub(perShare.Mul(decimal.NewFromInt(qty)))
		if p.TotalCost.IsNegative() {
			p.TotalCost = decimal.Zero
		}
	}
	p.Quantity -= qty
	p.Lots = append(p.Lots, Lot{Time: at, Side: orderbook.Sell, Quantity: qty, Price: price})
}

// Portfolio holds a trader's cash and positions. All methods are safe for concurrent use.
type Portfolio struct {
	owner string

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]*Position // symbol -> position
}

// NewPortfolio creates a portfolio with an opening cash balance.
func NewPortfolio(owner string, balance decimal.Decimal) *Portfolio {
	return &Portfolio{
		owner:     owner,
		balance:   balance,
		positions: make(map[string]*Position),
	}
}

// Owner returns the id of the trader owning the portfolio.
func (p *Portfolio) Owner() string { return p.owner }

// Balance returns the cash balance.
func (p *Portfolio) Balance() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// Deposit adds cash. Only a negative amount is refused.
func (p *Portfolio) Deposit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Newf("deposit amount must not be negative: %s", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = p.balance.Add(amount)
	return nil
}

// Withdraw deducts cash iff the resulting balance stays non-negative.
func (p *Portfolio) Withdraw(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Newf("withdraw amount must not be negative: %s", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withdrawLocked(amount)
}

func (p *Portfolio) withdrawLocked(amount decimal.Decimal) error {
	if p.balance.LessThan(amount) {
		return errors.Wrapf(ErrInsufficientFunds, "%s: have %s, need %s", p.owner, p.balance, amount)
	}
	p.balance = p.balance.Sub(amount)
	return nil
}

// AddShares adds qty shares bought at price to the position in symbol.
func (p *Portfolio) AddShares(symbol string, qty int64, price decimal.Decimal, at time.Time) error {
	if qty <= 0 {
		return errors.Newf("add shares: quantity must be positive, got %d", qty)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positionLocked(symbol).add(qty, price, at)
	return nil
}

// RemoveShares removes qty shares sold at price. It fails without mutation
// if qty exceeds the held quantity.
func (p *Portfolio) RemoveShares(symbol string, qty int64, price decimal.Decimal, at time.Time) error {
	if qty <= 0 {
		return errors.Newf("remove shares: quantity must be positive, got %d", qty)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(symbol, qty, price, at)
}

func (p *Portfolio) removeLocked(symbol string, qty int64, price decimal.Decimal, at time.Time) error {
	pos, ok := p.positions[symbol]
	if !ok || pos.Quantity < qty {
		held := int64(0)
		if ok {
			held = pos.Quantity
		}
		return errors.Wrapf(ErrInsufficientShares, "%s: %s holds %d, need %d", p.owner, symbol, held, qty)
	}
	pos.remove(qty, price, at)
	return nil
}

func (p *Portfolio) positionLocked(symbol string) *Position {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		p.positions[symbol] = pos
	}
	return pos
}

func (p *Portfolio) quantityLocked(symbol string) int64 {
	if pos, ok := p.positions[symbol]; ok {
		return pos.Quantity
	}
	return 0
}

// Quantity returns the shares held in symbol.
func (p *Portfolio) Quantity(symbol string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quantityLocked(symbol)
}

// PositionView is a value copy of a position.
type PositionView struct {
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	TotalCost   decimal.Decimal `json:"totalCost"`
	AverageCost decimal.Decimal `json:"averageCost"`
	Lots        []Lot           `json:"lots,omitempty"`
}

// Snapshot is a value copy of a portfolio.
type Snapshot struct {
	Owner     string          `json:"owner"`
	Balance   decimal.Decimal `json:"balance"`
	Positions []PositionView  `json:"positions"`
}

// Position returns the view of symbol, or false if nothing is held.
func (s Snapshot) Position(symbol string) (PositionView, bool) {
	for _, pv := range s.Positions {
		if pv.Symbol == symbol {
			return pv, true
		}
	}
	return PositionView{}, false
}

// Equity returns cash plus the market value of every position.
// Positions without a price are valued at cost.
func (s Snapshot) Equity(prices map[string]decimal.Decimal) decimal.Decimal {
	equity := s.Balance
	for _, pv := range s.Positions {
		if px, ok := prices[pv.Symbol]; ok {
			equity = equity.Add(px.Mul(decimal.NewFromInt(pv.Quantity)))
		} else {
			equity = equity.Add(pv.TotalCost)
		}
	}
	return equity
}

// Snapshot copies the portfolio. Empty positions are omitted; positions are
// sorted by symbol. Lots are copied only when withLots is set.
func (p *Portfolio) Snapshot(withLots bool) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{Owner: p.owner, Balance: p.balance, Positions: make([]PositionView, 0, len(p.positions))}
	for _, pos := range p.positions {
		if pos.Quantity == 0 {
			continue
		}
		pv := PositionView{
			Symbol:      pos.Symbol,
			Quantity:    pos.Quantity,
			TotalCost:   pos.TotalCost,
			AverageCost: pos.AverageCost(),
		}
		if withLots {
			pv.Lots = append([]Lot(nil), pos.Lots...)
		}
		s.Positions = append(s.Positions, pv)
	}
	sort.Slice(s.Positions, func(i, j int) bool { return s.Positions[i].Symbol < s.Positions[j].Symbol })
	return s
}
