package account

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPortfolio_WithdrawDeposit(t *testing.T) {
	p := NewPortfolio("alice", d("100"))

	require.NoError(t, p.Withdraw(d("40")))
	assert.True(t, p.Balance().Equal(d("60")))

	err := p.Withdraw(d("60.01"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, p.Balance().Equal(d("60")), "failed withdraw must not mutate")

	require.NoError(t, p.Withdraw(d("60")))
	assert.True(t, p.Balance().IsZero())

	require.NoError(t, p.Deposit(d("12.5")))
	assert.True(t, p.Balance().Equal(d("12.5")))
	assert.Error(t, p.Deposit(d("-1")))
}

func TestPosition_CostBasis(t *testing.T) {
	p := NewPortfolio("alice", decimal.Zero)

	require.NoError(t, p.AddShares("ACME", 100, d("100"), t0))
	require.NoError(t, p.AddShares("ACME", 50, d("120"), t0))
	pv, ok := p.Snapshot(false).Position("ACME")
	require.True(t, ok)
	assert.Equal(t, int64(150), pv.Quantity)
	assert.Equal(t, "106.67", pv.AverageCost.StringFixed(2))

	require.NoError(t, p.RemoveShares("ACME", 75, d("130"), t0))
	pv, _ = p.Snapshot(false).Position("ACME")
	assert.Equal(t, int64(75), pv.Quantity)
	assert.Equal(t, "106.67", pv.AverageCost.StringFixed(2), "proportional sell keeps average cost")

	require.NoError(t, p.AddShares("ACME", 25, d("110"), t0))
	pv, _ = p.Snapshot(true).Position("ACME")
	assert.Equal(t, int64(100), pv.Quantity)
	assert.Equal(t, "107.50", pv.AverageCost.StringFixed(2))
	assert.Len(t, pv.Lots, 4)
}

func TestPosition_RemoveTooMany(t *testing.T) {
	p := NewPortfolio("alice", decimal.Zero)
	require.NoError(t, p.AddShares("ACME", 10, d("5"), t0))

	assert.ErrorIs(t, p.RemoveShares("ACME", 11, d("5"), t0), ErrInsufficientShares)
	assert.ErrorIs(t, p.RemoveShares("NOPE", 1, d("5"), t0), ErrInsufficientShares)
	assert.Equal(t, int64(10), p.Quantity("ACME"))

	require.NoError(t, p.RemoveShares("ACME", 10, d("5"), t0))
	assert.Equal(t, int64(0), p.Quantity("ACME"))
	_, held := p.Snapshot(false).Position("ACME")
	assert.False(t, held, "empty positions are omitted")
}

func TestPosition_UnrealizedPnL(t *testing.T) {
	pos := &Position{Symbol: "ACME"}
	assert.True(t, pos.AverageCost().IsZero())

	pos.add(10, d("50"), t0)
	assert.True(t, pos.UnrealizedPnL(d("55")).Equal(d("50")))
	assert.True(t, pos.UnrealizedPnL(d("45")).Equal(d("-50")))
	assert.True(t, pos.MarketValue(d("55")).Equal(d("550")))
}

func TestSnapshot_Equity(t *testing.T) {
	p := NewPortfolio("alice", d("1000"))
	require.NoError(t, p.AddShares("ACME", 10, d("50"), t0))
	require.NoError(t, p.AddShares("INIT", 2, d("10"), t0))

	eq := p.Snapshot(false).Equity(map[string]decimal.Decimal{"ACME": d("60")})
	assert.True(t, eq.Equal(d("1620")), "ACME at market, INIT at cost: got %s", eq)
}

func TestTransfer_Success(t *testing.T) {
	buyer := NewPortfolio("bob", d("1000"))
	seller := NewPortfolio("alice", d("0"))
	require.NoError(t, seller.AddShares("ACME", 20, d("40"), t0))

	require.NoError(t, Transfer(buyer, seller, "ACME", 10, d("50"), t0))

	assert.True(t, buyer.Balance().Equal(d("500")))
	assert.True(t, seller.Balance().Equal(d("500")))
	assert.Equal(t, int64(10), buyer.Quantity("ACME"))
	assert.Equal(t, int64(10), seller.Quantity("ACME"))

	pv, _ := buyer.Snapshot(false).Position("ACME")
	assert.True(t, pv.AverageCost.Equal(d("50")), "new lot uses the execution price")
}

func TestTransfer_InsufficientFundsNoSideEffects(t *testing.T) {
	buyer := NewPortfolio("bob", d("100"))
	seller := NewPortfolio("alice", d("7"))
	require.NoError(t, seller.AddShares("ACME", 20, d("40"), t0))

	err := Transfer(buyer, seller, "ACME", 10, d("50"), t0)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	assert.True(t, buyer.Balance().Equal(d("100")))
	assert.True(t, seller.Balance().Equal(d("7")))
	assert.Equal(t, int64(0), buyer.Quantity("ACME"))
	assert.Equal(t, int64(20), seller.Quantity("ACME"))
}

func TestTransfer_InsufficientShares(t *testing.T) {
	buyer := NewPortfolio("bob", d("1000"))
	seller := NewPortfolio("alice", d("0"))
	require.NoError(t, seller.AddShares("ACME", 5, d("40"), t0))

	err := Transfer(buyer, seller, "ACME", 10, d("50"), t0)
	assert.ErrorIs(t, err, ErrInsufficientShares)
	assert.True(t, buyer.Balance().Equal(d("1000")))
	assert.Equal(t, int64(5), seller.Quantity("ACME"))
}

func TestTransfer_SelfTrade(t *testing.T) {
	p := NewPortfolio("carol", d("10"))
	require.NoError(t, p.AddShares("ACME", 10, d("40"), t0))

	require.NoError(t, Transfer(p, p, "ACME", 10, d("50"), t0))
	assert.True(t, p.Balance().Equal(d("10")), "cash nets to zero")
	assert.Equal(t, int64(10), p.Quantity("ACME"))

	assert.ErrorIs(t, Transfer(p, p, "ACME", 11, d("50"), t0), ErrInsufficientShares)
}

// Opposite-direction transfers between the same pair must not deadlock.
func TestTransfer_ConcurrentOppositeDirections(t *testing.T) {
	a := NewPortfolio("a", d("100000"))
	b := NewPortfolio("b", d("100000"))
	require.NoError(t, a.AddShares("X", 1000, d("1"), t0))
	require.NoError(t, b.AddShares("X", 1000, d("1"), t0))

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = Transfer(a, b, "X", 1, d("1"), t0) }()
		go func() { defer wg.Done(); _ = Transfer(b, a, "X", 1, d("1"), t0) }()
	}
	wg.Wait()

	assert.True(t, a.Balance().Add(b.Balance()).Equal(d("200000")))
	assert.Equal(t, int64(2000), a.Quantity("X")+b.Quantity("X"))
}

func TestTransfer_ConservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(t, "traders")
		ps := make([]*Portfolio, n)
		for i := range ps {
			ps[i] = NewPortfolio(string(rune('a'+i)), decimal.NewFromInt(rapid.Int64Range(0, 5000).Draw(t, "cash")))
			if q := rapid.Int64Range(0, 100).Draw(t, "shares"); q > 0 {
				_ = ps[i].AddShares("X", q, decimal.NewFromInt(10), t0)
			}
		}
		cash, shares := totals(ps)

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			b := ps[rapid.IntRange(0, n-1).Draw(t, "buyer")]
			s := ps[rapid.IntRange(0, n-1).Draw(t, "seller")]
			qty := rapid.Int64Range(1, 40).Draw(t, "qty")
			price := decimal.New(rapid.Int64Range(1, 50000).Draw(t, "cents"), -2)
			_ = Transfer(b, s, "X", qty, price, t0)

			c, sh := totals(ps)
			if !c.Equal(cash) {
				t.Fatalf("cash changed: %s -> %s", cash, c)
			}
			if sh != shares {
				t.Fatalf("shares changed: %d -> %d", shares, sh)
			}
			for _, p := range ps {
				if p.Balance().IsNegative() {
					t.Fatalf("%s balance negative", p.Owner())
				}
				if pv, ok := p.Snapshot(false).Position("X"); ok && pv.TotalCost.IsNegative() {
					t.Fatalf("%s total cost negative", p.Owner())
				}
			}
		}
	})
}

func totals(ps []*Portfolio) (decimal.Decimal, int64) {
	cash := decimal.Zero
	var shares int64
	for _, p := range ps {
		cash = cash.Add(p.Balance())
		shares += p.Quantity("X")
	}
	return cash, shares
}

func TestTrader_BotStateCAS(t *testing.T) {
	bot := NewBot("Bot-1", "Bot One", d("100"), nil)
	assert.Equal(t, "bot-1", bot.ID)
	assert.Equal(t, Idle, bot.State())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bot.TryAcquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load(), "exactly one acquirer")
	assert.Equal(t, Acting, bot.State())

	bot.Release()
	assert.Equal(t, Idle, bot.State())
	assert.True(t, bot.TryAcquire())
}
