package repository

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-trade-worker/internal/model"
)

var (
	ethUSDT = model.Market{Base: "ETH", Quote: "USDT"}
	t0      = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestRepo(t *testing.T, dir string) *TradeRepository {
	t.Helper()
	r := NewTradeRepository(NewStorage(), dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.now = func() time.Time { return t0 }
	require.NoError(t, r.Load())
	return r
}

func filledBuy() model.Order {
	return model.Order{
		ID: "buy-1", Market: ethUSDT, Side: model.SideBuy, Type: model.OrderTypeLimit,
		Price: dec("1000"), Volume: dec("100"), State: model.OrderStateFilled,
		FilledVolume: dec("100"), AvgPrice: dec("1000"), Fee: dec("100"),
	}
}

func restingSell(id string) model.Order {
	return model.Order{
		ID: id, Market: ethUSDT, Side: model.SideSell, Type: model.OrderTypeLimit,
		Price: dec("1010"), Volume: dec("100"), State: model.OrderStatePending,
	}
}

func TestTradeRepository_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	r := newTestRepo(t, dir)
	ctx := context.Background()

	require.NoError(t, r.RecordBuy(ctx, filledBuy()))
	e, ok := r.Get("buy-1")
	require.True(t, ok)
	assert.Equal(t, "1000", e.BuyPrice.String())
	assert.Equal(t, model.SellStatusNone, e.SellStatus)
	assert.False(t, e.Profit.Valid)

	require.NoError(t, r.RecordSellPlaced(ctx, "buy-1", restingSell("sell-2")))
	e, _ = r.Get("buy-1")
	assert.Equal(t, "sell-2", e.SellOrderID)
	assert.Equal(t, model.SellStatusPlaced, e.SellStatus)

	cancelled := restingSell("sell-2")
	cancelled.State = model.OrderStateCancelled
	require.NoError(t, r.RecordSellCancelled(ctx, "buy-1", cancelled))
	require.NoError(t, r.RecordSellCancelled(ctx, "buy-1", cancelled))
	e, _ = r.Get("buy-1")
	assert.Equal(t, 1, e.CancelledSells, "a retried cancel record counts once")

	final := restingSell("sell-3")
	final.State = model.OrderStateFilled
	final.FilledVolume = dec("100")
	final.AvgPrice = dec("995")
	final.Fee = dec("99.5")
	outcome := model.Outcome{
		TradeID: "buy-1", Market: ethUSDT, SellType: model.SellTypeLoss,
		Profit: dec("-699.5"), SellPrice: dec("995"), SellVolume: dec("100"),
		SellFee: dec("99.5"), ResolvedAt: t0.Add(10 * time.Minute),
	}
	require.NoError(t, r.RecordSellFinished(ctx, final, outcome))

	assert.Empty(t, r.GetOpen())
	e, ok = r.Get("buy-1")
	require.True(t, ok, "finished trades are read back from the history")
	assert.Equal(t, model.SellStatusFinished, e.SellStatus)
	assert.Equal(t, model.SellTypeLoss, e.SellType)
	require.True(t, e.Profit.Valid)
	assert.Equal(t, "-699.5", e.Profit.Decimal.String())
	require.NotNil(t, e.ClosedAt)
	assert.True(t, e.ClosedAt.Equal(t0.Add(10*time.Minute)))

	require.NoError(t, r.RecordSellFinished(ctx, final, outcome), "retry after archive is accepted")
}

func TestTradeRepository_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	r := newTestRepo(t, dir)
	require.NoError(t, r.RecordBuy(ctx, filledBuy()))
	require.NoError(t, r.RecordSellPlaced(ctx, "buy-1", restingSell("sell-2")))

	reopened := newTestRepo(t, dir)
	e, ok := reopened.Get("buy-1")
	require.True(t, ok)
	assert.Equal(t, "sell-2", e.SellOrderID)
	assert.Equal(t, "100", e.BuyFee.String())
}

func TestTradeRepository_UnknownTrade(t *testing.T) {
	r := newTestRepo(t, t.TempDir())
	ctx := context.Background()

	assert.Error(t, r.RecordSellPlaced(ctx, "buy-9", restingSell("sell-2")))
	assert.Error(t, r.RecordSellFinished(ctx, restingSell("sell-2"), model.Outcome{TradeID: "buy-9"}))
}

func TestStorage_WriteLeavesNoTempFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s := NewStorage()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, s.Write(path, map[string]int{"a": 1}))
	require.NoError(t, s.Write(path, map[string]int{"a": 2}))

	var got map[string]int
	require.NoError(t, s.Read(path, &got))
	assert.Equal(t, 2, got["a"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
