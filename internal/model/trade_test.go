package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func filledBuy() Order {
	return Order{ID: "buy-1", Side: SideBuy, State: OrderStateFilled, Volume: dec("100"), FilledVolume: dec("100"), AvgPrice: dec("1000")}
}

func newAcquired(t *testing.T) *TradeRecord {
	t.Helper()
	r := NewTradeRecord(Market{Base: "ETH", Quote: "USDT"}, dec("100000"), t0)
	require.NoError(t, r.SetBuy(filledBuy()))
	return r
}

func TestTradeRecord_PhasesOnlyMoveForward(t *testing.T) {
	r := newAcquired(t)

	require.NoError(t, r.Advance(Phase1, t0))
	assert.ErrorIs(t, r.Advance(Phase1, t0), ErrInvariantViolation)
	assert.ErrorIs(t, r.Advance(PhaseAcquired, t0), ErrInvariantViolation)

	require.NoError(t, r.Advance(Phase2, t0.Add(time.Minute)))
	assert.ErrorIs(t, r.Advance(Phase1, t0), ErrInvariantViolation)
	assert.Equal(t, Phase2, r.Phase)
	assert.Equal(t, t0.Add(time.Minute), r.PhaseAt)
}

func TestTradeRecord_NoPhaseWithoutBuy(t *testing.T) {
	r := NewTradeRecord(Market{Base: "ETH", Quote: "USDT"}, dec("100000"), t0)
	assert.ErrorIs(t, r.Advance(Phase1, t0), ErrInvariantViolation)

	pending := filledBuy()
	pending.State = OrderStatePending
	assert.ErrorIs(t, r.SetBuy(pending), ErrInvariantViolation)
	assert.ErrorIs(t, r.AttachSell(Order{ID: "sell-1"}), ErrInvariantViolation)
}

func TestTradeRecord_SingleLiveSell(t *testing.T) {
	r := newAcquired(t)
	require.NoError(t, r.Advance(Phase1, t0))

	first := Order{ID: "sell-2", Side: SideSell, State: OrderStatePending, Volume: dec("100")}
	require.NoError(t, r.AttachSell(first))
	assert.True(t, r.HasLiveSell())
	assert.ErrorIs(t, r.AttachSell(Order{ID: "sell-3"}), ErrInvariantViolation)

	// Closing requires a terminal observation of the same order.
	assert.ErrorIs(t, r.CloseSell(first), ErrInvariantViolation)
	other := first
	other.ID = "sell-9"
	other.State = OrderStateCancelled
	assert.ErrorIs(t, r.CloseSell(other), ErrInvariantViolation)

	first.State = OrderStateCancelled
	first.FilledVolume = dec("30")
	require.NoError(t, r.CloseSell(first))
	assert.False(t, r.HasLiveSell())
	assert.Equal(t, "30", r.SoldVolume().String())

	require.NoError(t, r.AttachSell(Order{ID: "sell-3", State: OrderStatePending, Volume: dec("70")}))
}

func TestTradeRecord_ProfitOnlyWhenResolved(t *testing.T) {
	r := newAcquired(t)
	require.NoError(t, r.Advance(Phase1, t0))
	assert.Nil(t, r.Profit)
	assert.False(t, r.IsResolved())

	sell := Order{ID: "sell-2", State: OrderStatePending, Volume: dec("100")}
	require.NoError(t, r.AttachSell(sell))
	assert.ErrorIs(t, r.Resolve(SellTypeProfit, dec("1"), t0), ErrInvariantViolation, "live sell blocks resolution")
	assert.Nil(t, r.Profit)

	sell.State = OrderStateFilled
	require.NoError(t, r.CloseSell(sell))
	assert.ErrorIs(t, r.Resolve(SellType("MAYBE"), dec("1"), t0), ErrInvariantViolation)

	require.NoError(t, r.Resolve(SellTypeLoss, dec("-5"), t0.Add(time.Hour)))
	require.NotNil(t, r.Profit)
	assert.Equal(t, "-5", r.Profit.String())
	assert.Equal(t, PhaseResolved, r.Phase)
	assert.Equal(t, Phase1, r.ResolvedIn)

	assert.ErrorIs(t, r.Resolve(SellTypeProfit, dec("5"), t0), ErrInvariantViolation, "sell type is assigned once")
	assert.Equal(t, SellTypeLoss, r.SellType)
}

func TestOrder_Amounts(t *testing.T) {
	o := Order{Volume: dec("100"), FilledVolume: dec("40"), AvgPrice: dec("1010.5")}
	assert.Equal(t, "60", o.Remaining().String())
	assert.Equal(t, "40420", o.Total().String())

	o.FilledVolume = dec("101")
	assert.True(t, o.Remaining().IsZero())
}

func TestParseMarket(t *testing.T) {
	m, err := ParseMarket("eth-usdt")
	require.NoError(t, err)
	assert.Equal(t, Market{Base: "ETH", Quote: "USDT"}, m)
	assert.Equal(t, "ETHUSDT", m.Symbol())
	assert.Equal(t, "ETH-USDT", m.String())

	m, err = ParseMarket("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", m.Symbol())

	for _, bad := range []string{"", "BTC", "BTC-", "-USDT", "A-B-C"} {
		_, err := ParseMarket(bad)
		assert.Error(t, err, bad)
	}
}
