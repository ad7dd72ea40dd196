package account

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Transfer applies one trade to both portfolios as an indivisible group:
// the buyer pays price x qty and receives qty shares, the seller does the opposite.
//
// Both portfolios are locked in owner order for the whole group. Funds and
// shares are checked before anything mutates, so a failure leaves both
// portfolios untouched. The error wraps ErrInsufficientFunds (buyer side) or
// ErrInsufficientShares (seller side).
//
// A self-trade nets cash to zero and cycles the shares through the position
// log, leaving quantity unchanged.
func Transfer(buyer, seller *Portfolio, symbol string, qty int64, price decimal.Decimal, at time.Time) error {
	if qty <= 0 {
		return errors.Newf("transfer quantity must be positive, got %d", qty)
	}
	if buyer == nil || seller == nil {
		return errors.New("transfer requires both portfolios")
	}
	value := price.Mul(decimal.NewFromInt(qty))

	if buyer == seller {
		buyer.mu.Lock()
		defer buyer.mu.Unlock()
		if err := buyer.removeLocked(symbol, qty, price, at); err != nil {
			return err
		}
		buyer.positionLocked(symbol).add(qty, price, at)
		return nil
	}

	first, second := buyer, seller
	if seller.owner < buyer.owner {
		first, second = seller, buyer
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if buyer.balance.LessThan(value) {
		return errors.Wrapf(ErrInsufficientFunds, "%s: have %s, need %s", buyer.owner, buyer.balance, value)
	}
	if held := seller.quantityLocked(symbol); held < qty {
		return errors.Wrapf(ErrInsufficientShares, "%s: %s holds %d, need %d", seller.owner, symbol, held, qty)
	}

	// Checked above; none of these can fail now.
	_ = buyer.withdrawLocked(value)
	seller.balance = seller.balance.Add(value)
	_ = seller.removeLocked(symbol, qty, price, at)
	buyer.positionLocked(symbol).add(qty, price, at)
	return nil
}
