package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"spot-trade-worker/internal/model"
)

// liquidate cancels the active sell and re-enters at the best bid for the
// remaining volume. It reports raced=true when the exchange filled the order
// before the cancel took effect; no new order is placed in that case.
func (e *Engine) liquidate(ctx context.Context, rec *model.TradeRecord, reason string) (bool, error) {
	if rec.Sell == nil {
		return false, fmt.Errorf("%w: %s liquidation without an active sell", model.ErrInvariantViolation, reason)
	}
	active := *rec.Sell
	e.notifier.Notify(ctx, model.EventLiquidation, e.market, active.ID)
	e.log.Info("✂️ Cancelling sell order",
		"trade_id", rec.ID(),
		"order_id", active.ID,
		"reason", reason,
		"phase", rec.Phase.String(),
	)

	confirmed, err := e.cancelAndConfirm(ctx, active.ID)
	if err != nil {
		return false, err
	}
	if err := rec.CloseSell(confirmed); err != nil {
		return false, err
	}
	if confirmed.IsFilled() {
		e.log.Info("🏁 Sell filled before cancel took effect, treating as fill",
			"trade_id", rec.ID(),
			"order_id", confirmed.ID,
			"avg_price", confirmed.AvgPrice.String(),
		)
		return true, nil
	}

	e.metrics.OrderCancelled()
	e.log.Info("🚫 Sell order cancelled",
		"trade_id", rec.ID(),
		"order_id", confirmed.ID,
		"filled", confirmed.FilledVolume.String(),
		"remaining", confirmed.Remaining().String(),
	)
	if err := e.record(ctx, "record_sell_cancelled", func(ctx context.Context) error {
		return e.ledger.RecordSellCancelled(ctx, rec.ID(), confirmed)
	}); err != nil {
		return false, err
	}

	remaining := confirmed.Remaining()
	if !remaining.IsPositive() {
		// Cancelled with nothing left: every unit already sold.
		return true, nil
	}

	bid, err := e.bestBid(ctx)
	if err != nil {
		return false, err
	}
	if err := e.placeSell(ctx, rec, bid, remaining, reason); err != nil {
		return false, err
	}

	exit, err := e.watcher.WaitFilled(ctx, e.market, rec.Sell.ID)
	if err != nil {
		return false, fmt.Errorf("wait %s exit fill: %w", reason, err)
	}
	if err := rec.CloseSell(exit); err != nil {
		return false, err
	}
	e.log.Info("💸 Forced exit filled",
		"trade_id", rec.ID(),
		"order_id", exit.ID,
		"reason", reason,
		"avg_price", exit.AvgPrice.String(),
		"volume", exit.FilledVolume.String(),
		"elapsed_ms", e.elapsed().Milliseconds(),
	)
	return false, nil
}

// cancelAndConfirm cancels the order and polls it until it is terminal. The
// cancel ack is never trusted since a fill may have been in flight. Every
// poll that still finds the order live sends the cancel again, so a rejected
// cancel cannot stall the exit.
func (e *Engine) cancelAndConfirm(ctx context.Context, id string) (model.Order, error) {
	for attempt := 1; ; attempt++ {
		err := e.exchange.CancelOrder(ctx, e.market, id)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return model.Order{}, ctx.Err()
		case errors.Is(err, model.ErrOrderNotFound):
			// Usually already terminal; the read below decides.
		case model.IsTransient(err):
			e.log.Warn("⚠️ Transient error cancelling order", "order_id", id, "attempt", attempt, "error", err)
			e.metrics.TransientRetry("cancel_order")
		default:
			e.log.Warn("⚠️ Cancel not accepted, confirming order state", "order_id", id, "attempt", attempt, "error", err)
		}

		o, err := e.exchange.GetOrder(ctx, e.market, id)
		switch {
		case err == nil:
			if o.IsTerminal() {
				return *o, nil
			}
		case model.IsTransient(err):
			e.log.Warn("⚠️ Transient error polling order, retrying", "order_id", id, "attempt", attempt, "error", err)
			e.metrics.TransientRetry("get_order")
		default:
			return model.Order{}, fmt.Errorf("confirm cancel of %s: %w", id, err)
		}

		if err := e.watcher.Sleep(ctx); err != nil {
			return model.Order{}, err
		}
	}
}

// bestBid reads the book until it has a bid. An empty bid side is waited out
// like a transient error.
func (e *Engine) bestBid(ctx context.Context) (decimal.Decimal, error) {
	var bid decimal.Decimal
	err := e.watcher.Retry(ctx, "get_best_bid", func(ctx context.Context) error {
		book, err := e.exchange.GetOrderBook(ctx, e.market)
		if err != nil {
			return err
		}
		b, ok := book.BestBid()
		if !ok {
			return fmt.Errorf("%w: %w", model.ErrTransient, model.ErrEmptyOrderBook)
		}
		bid = b
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("read best bid: %w", err)
	}
	return bid, nil
}
