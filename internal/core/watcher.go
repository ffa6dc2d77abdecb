package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spot-trade-worker/internal/metrics"
	"spot-trade-worker/internal/model"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = time.Second

// Watcher polls the exchange at a fixed interval. It has no attempt cap: an
// external watchdog owns absolute limits on a stuck trade.
type Watcher struct {
	exchange Exchange
	clock    Clock
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewWatcher(exchange Exchange, clock Clock, interval time.Duration, log *slog.Logger, m *metrics.Metrics) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Watcher{
		exchange: exchange,
		clock:    clock,
		interval: interval,
		log:      log,
		metrics:  m,
	}
}

// WaitFilled blocks until the order is filled. An order that ends cancelled
// can never fill and fails the watch with model.ErrOrderCancelled.
func (w *Watcher) WaitFilled(ctx context.Context, market model.Market, id string) (model.Order, error) {
	o, err := w.WaitTerminal(ctx, market, id)
	if err != nil {
		return o, err
	}
	if !o.IsFilled() {
		return o, fmt.Errorf("watch order %s: %w", id, model.ErrOrderCancelled)
	}
	return o, nil
}

// WaitTerminal blocks until the order is filled or cancelled.
func (w *Watcher) WaitTerminal(ctx context.Context, market model.Market, id string) (model.Order, error) {
	start := w.clock.Now()
	for attempt := 1; ; attempt++ {
		o, err := w.exchange.GetOrder(ctx, market, id)
		switch {
		case err == nil:
			if o.IsTerminal() {
				w.log.Debug("Order reached terminal state",
					"order_id", id,
					"state", o.State,
					"filled", o.FilledVolume.String(),
					"avg_price", o.AvgPrice.String(),
					"polls", attempt,
					"waited_ms", w.clock.Now().Sub(start).Milliseconds(),
				)
				return *o, nil
			}
		case model.IsTransient(err):
			w.log.Warn("⚠️ Transient error polling order, retrying", "order_id", id, "attempt", attempt, "error", err)
			w.metrics.TransientRetry("get_order")
		default:
			return model.Order{}, fmt.Errorf("poll order %s: %w", id, err)
		}

		if err := w.Sleep(ctx); err != nil {
			return model.Order{}, err
		}
	}
}

// Retry runs fn until it succeeds or fails with a non-transient error.
// Transient failures wait one polling interval.
func (w *Watcher) Retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !model.IsTransient(err) {
			return err
		}
		w.log.Warn("⚠️ Transient exchange error, retrying", "op", op, "attempt", attempt, "error", err)
		w.metrics.TransientRetry(op)
		if err := w.Sleep(ctx); err != nil {
			return err
		}
	}
}

// Sleep suspends for one polling interval or until ctx is done.
func (w *Watcher) Sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.clock.After(w.interval):
		return nil
	}
}
