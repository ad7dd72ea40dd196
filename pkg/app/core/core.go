// Package core re-exports the exchange domain types from their subpackages so
// outer layers (api, storage, cmd) can depend on a single import.
package core

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core/account"
	"github.com/uhyunpark/stocksim/pkg/app/core/market"
	"github.com/uhyunpark/stocksim/pkg/app/core/orderbook"
	"github.com/uhyunpark/stocksim/pkg/app/core/settlement"
	"github.com/uhyunpark/stocksim/pkg/app/core/strategy"
)

// From orderbook package
type (
	Side       = orderbook.Side
	OrderType  = orderbook.OrderType
	Status     = orderbook.Status
	Order      = orderbook.Order
	Trade      = orderbook.Trade
	PriceLevel = orderbook.PriceLevel
	TopOfBook  = orderbook.TopOfBook
	OrderBook  = orderbook.OrderBook
)

const (
	Buy    = orderbook.Buy
	Sell   = orderbook.Sell
	Limit  = orderbook.Limit
	Market = orderbook.Market
)

func NewOrderBook(symbol string, tickSize decimal.Decimal) *OrderBook {
	return orderbook.NewOrderBook(symbol, tickSize)
}

// From market package
type (
	Instrument         = market.Instrument
	InstrumentSpec     = market.Spec
	InstrumentSnapshot = market.Snapshot
	PricePoint         = market.PricePoint
)

// From account package
type (
	Trader            = account.Trader
	TraderKind        = account.Kind
	Portfolio         = account.Portfolio
	PortfolioSnapshot = account.Snapshot
	PositionView      = account.PositionView
)

const (
	UserKind = account.User
	BotKind  = account.Bot
)

// From strategy package
type StrategyKind = strategy.Kind

// Error taxonomy, for classification with errors.Is
var (
	ErrValidation          = orderbook.ErrValidation
	ErrOrderNotFound       = orderbook.ErrOrderNotFound
	ErrDuplicateInstrument = market.ErrDuplicateInstrument
	ErrUnknownInstrument   = market.ErrUnknownInstrument
	ErrDuplicateTrader     = account.ErrDuplicateTrader
	ErrUnknownTrader       = account.ErrUnknownTrader
	ErrInsufficientFunds   = account.ErrInsufficientFunds
	ErrInsufficientShares  = account.ErrInsufficientShares
	ErrUnresolvedParty     = settlement.ErrUnresolvedParty
	ErrUnknownStrategy     = strategy.ErrUnknownStrategy
)
