package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"spot-trade-worker/internal/model"
)

// acquire turns the budget into a filled, durably recorded buy.
func (e *Engine) acquire(ctx context.Context) (*model.TradeRecord, error) {
	rec := model.NewTradeRecord(e.market, e.budget, e.clock.Now())
	e.trade = rec

	if e.checkBalance {
		free := decimal.Zero
		err := e.watcher.Retry(ctx, "get_balance", func(ctx context.Context) error {
			b, err := e.exchange.GetAccountBalance(ctx, e.market.Quote)
			free = b
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("read %s balance: %w", e.market.Quote, err)
		}
		if free.LessThan(e.budget) {
			return nil, fmt.Errorf("%w: %s %s free, budget %s", model.ErrInsufficientBalance, free, e.market.Quote, e.budget)
		}
	}

	book, err := e.readBook(ctx)
	if err != nil {
		return nil, err
	}
	ask, ok := book.BestAsk()
	if !ok || !ask.IsPositive() {
		return nil, fmt.Errorf("no ask to buy at: %w", model.ErrEmptyOrderBook)
	}

	// Exact division; the gateway applies exchange lot rules at placement.
	volume := e.budget.Div(ask)

	// A buy is never re-sent after an ambiguous failure: a lost response could
	// mean a live order, and a duplicate buy would double the exposure.
	placed, err := e.exchange.PlaceOrder(ctx, model.OrderRequest{
		Market: e.market,
		Side:   model.SideBuy,
		Type:   model.OrderTypeLimit,
		Price:  ask,
		Volume: volume,
	})
	if err != nil {
		return nil, fmt.Errorf("place buy at %s: %w", ask, err)
	}
	e.metrics.OrderPlaced(string(model.SideBuy), string(model.OrderTypeLimit), "acquisition")
	e.log.Info("🛒 Buy order placed",
		"order_id", placed.ID,
		"price", placed.Price.String(),
		"volume", placed.Volume.String(),
		"best_ask", ask.String(),
	)

	filled, err := e.watcher.WaitFilled(ctx, e.market, placed.ID)
	if err != nil {
		return nil, fmt.Errorf("wait buy fill: %w", err)
	}
	if err := rec.SetBuy(filled); err != nil {
		return nil, err
	}

	if err := e.record(ctx, "record_buy", func(ctx context.Context) error {
		return e.ledger.RecordBuy(ctx, filled)
	}); err != nil {
		return nil, err
	}

	e.log.Info("✅ Buy filled and recorded",
		"trade_id", filled.ID,
		"avg_price", filled.AvgPrice.String(),
		"volume", filled.FilledVolume.String(),
		"fee", filled.Fee.String(),
		"elapsed_ms", e.elapsed().Milliseconds(),
	)
	e.notifier.Notify(ctx, model.EventBuyFilled, e.market, filled.ID)
	return rec, nil
}
