package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/stocksim/pkg/app/core"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// OrderInfo represents an order (open or historical)
type OrderInfo struct {
	ID        int64           `json:"id"`
	TraderID  string          `json:"traderId"`
	Symbol    string          `json:"symbol"`
	Side      core.Side       `json:"side"`
	Type      core.OrderType  `json:"type"`
	Price     decimal.Decimal `json:"price"` // zero for market orders
	Size      int64           `json:"size"`
	Filled    int64           `json:"filled"`
	Remaining int64           `json:"remaining"`
	Status    core.Status     `json:"status"`
	Timestamp time.Time       `json:"timestamp"` // simulated submission instant
}

func orderInfo(o core.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		TraderID:  o.TraderID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Type:      o.Type,
		Price:     o.Price,
		Size:      o.TotalQuantity,
		Filled:    o.Filled(),
		Remaining: o.Remaining,
		Status:    o.Status,
		Timestamp: o.SubmittedAt,
	}
}

// TradeInfo represents a settled trade
type TradeInfo struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	BuyOrderID  int64           `json:"buyOrderId"`
	SellOrderID int64           `json:"sellOrderId"`
	Price       decimal.Decimal `json:"price"`
	Size        int64           `json:"size"`
	Side        core.Side       `json:"side"` // aggressor side
	Timestamp   time.Time       `json:"timestamp"`
}

func tradeInfo(t core.Trade) TradeInfo {
	return TradeInfo{
		ID:          t.ID.String(),
		Symbol:      t.Symbol,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Price:       t.Price,
		Size:        t.Quantity,
		Side:        t.Aggressor,
		Timestamp:   t.Timestamp,
	}
}

func tradeInfos(ts []core.Trade) []TradeInfo {
	out := make([]TradeInfo, len(ts))
	for i, t := range ts {
		out[i] = tradeInfo(t)
	}
	return out
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	Symbol    string            `json:"symbol"`
	Bids      []core.PriceLevel `json:"bids"` // Sorted high to low
	Asks      []core.PriceLevel `json:"asks"` // Sorted low to high
	LastPrice decimal.Decimal   `json:"lastPrice"`
}

// HistoryResponse is a user's own orders and trades, oldest first
type HistoryResponse struct {
	Orders []OrderInfo `json:"orders"`
	Trades []TradeInfo `json:"trades"`
}

// SubmitOrderResponse is the response from order submission
type SubmitOrderResponse struct {
	Order     OrderInfo   `json:"order"`
	Trades    []TradeInfo `json:"trades"`
	Rested    bool        `json:"rested"`
	Cancelled []int64     `json:"cancelled,omitempty"` // resting orders dropped for failed settlement
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest is the payload for POST /api/v1/orders
type SubmitOrderRequest struct {
	TraderID string          `json:"traderId"`
	Symbol   string          `json:"symbol"`
	Side     core.Side       `json:"side"` // "BUY" or "SELL"
	Type     core.OrderType  `json:"type"` // "LIMIT" or "MARKET"
	Price    decimal.Decimal `json:"price"`
	Size     int64           `json:"size"`
}

// CreateInstrumentRequest is the payload for POST /api/v1/instruments
type CreateInstrumentRequest struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	TickSize     decimal.Decimal `json:"tickSize"`
	LotSize      int64           `json:"lotSize"`
	InitialPrice decimal.Decimal `json:"initialPrice"`
}

// CreateTraderRequest is the payload for POST /api/v1/traders
type CreateTraderRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      core.TraderKind `json:"kind"`               // "user" or "bot"
	Strategy  string          `json:"strategy,omitempty"` // bots only
	Watchlist []string        `json:"watchlist,omitempty"`
	Seed      int64           `json:"seed,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
}

// SetSpeedRequest is the payload for POST /api/v1/sim/speed
type SetSpeedRequest struct {
	Speed float64 `json:"speed"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`    // "prices", "trade", "catalog", "portfolio"
	Channel string      `json:"channel"` // channel the message was routed to
	Time    time.Time   `json:"time"`
	Data    interface{} `json:"data"` // Type-specific payload
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["prices", "trades", "portfolio:alice"]
}

// PriceUpdate is broadcast once per affected batch of symbols
type PriceUpdate struct {
	Prices map[string]decimal.Decimal `json:"prices"`
}
