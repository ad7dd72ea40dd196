package orderbook

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrValidation marks an order rejected before it reaches any book.
	ErrValidation = errors.New("order validation failed")
	// ErrOrderNotFound is returned when an order id is not resting in the book.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned on a fill or cancel of a terminal order.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, errors.Wrapf(ErrValidation, "unknown side %q", s)
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type OrderType int8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderType accepts "limit"/"market" in any case.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return Limit, nil
	case "MARKET":
		return Market, nil
	}
	return 0, errors.Wrapf(ErrValidation, "unknown order type %q", s)
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Status is the order lifecycle state.
// Allowed transitions: New -> PartiallyFilled -> Filled, and any open state -> Cancelled.
type Status int8

const (
	New Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case New:
		return "NEW"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{New, PartiallyFilled, Filled, Cancelled} {
		if strings.EqualFold(string(b), v.String()) {
			*s = v
			return nil
		}
	}
	return errors.Wrapf(ErrValidation, "unknown status %q", b)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled
}

// Order is a request to trade a quantity of one instrument.
// Orders are owned by their trader by id only; they are never deleted,
// a closed order is retained for history.
type Order struct {
	ID            int64
	Side          Side
	Type          OrderType
	Symbol        string
	Price         decimal.Decimal // limit price, zero for market orders
	TotalQuantity int64
	Remaining     int64
	Status        Status
	SubmittedAt   time.Time
	TraderID      string
}

// Filled returns the executed quantity.
func (o *Order) Filled() int64 {
	return o.TotalQuantity - o.Remaining
}

// IsOpen reports whether the order can still trade.
func (o *Order) IsOpen() bool {
	return !o.Status.Terminal()
}

// Fill executes qty of the order. Remaining quantity never increases.
func (o *Order) Fill(qty int64) error {
	if o.Status.Terminal() {
		return errors.Wrapf(ErrInvalidTransition, "fill order %d in status %s", o.ID, o.Status)
	}
	if qty <= 0 || qty > o.Remaining {
		return errors.Newf("fill quantity %d out of range for order %d (remaining %d)", qty, o.ID, o.Remaining)
	}
	o.Remaining -= qty
	if o.Remaining == 0 {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
	return nil
}

// Cancel closes an open order. The unfilled remainder is kept as-is for history.
func (o *Order) Cancel() error {
	if o.Status.Terminal() {
		return errors.Wrapf(ErrInvalidTransition, "cancel order %d in status %s", o.ID, o.Status)
	}
	o.Status = Cancelled
	return nil
}

// Trade is the immutable result of matching two opposing orders.
type Trade struct {
	ID          uuid.UUID
	Symbol      string
	BuyOrderID  int64
	SellOrderID int64
	Price       decimal.Decimal
	Quantity    int64
	Timestamp   time.Time
	Aggressor   Side // side of the incoming order
}

// Value returns price x quantity.
func (t Trade) Value() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// PartyError attributes a failed settlement to one of the two orders of a trade,
// so the matcher knows whether to drop the resting order or stop the incoming one.
type PartyError struct {
	OrderID int64
	Err     error
}

func (e *PartyError) Error() string {
	return "order " + strconv.FormatInt(e.OrderID, 10) + ": " + e.Err.Error()
}

func (e *PartyError) Unwrap() error { return e.Err }
