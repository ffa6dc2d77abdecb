package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spot-trade-worker/internal/metrics"
	"spot-trade-worker/internal/model"
)

// resolution is how the sell side ended, before profit decides the direction.
type resolution int

const (
	resolvedByFill resolution = iota
	resolvedByStop
	resolvedByTimeout
)

func (r resolution) String() string {
	switch r {
	case resolvedByFill:
		return "fill"
	case resolvedByStop:
		return "stop"
	case resolvedByTimeout:
		return "timeout"
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// percentOf returns price scaled by (1 + pct/100).
func percentOf(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(one.Add(pct.Div(hundred)))
}

// stopPrice is the bid at or below which a phase cuts the trade.
func stopPrice(buyPrice, lossPct decimal.Decimal) decimal.Decimal {
	return percentOf(buyPrice, lossPct.Neg())
}

// runLadder drives the sell side through PHASE1 and PHASE2 and returns how it
// resolved. The trade is left with no live sell order on success.
func (e *Engine) runLadder(ctx context.Context, rec *model.TradeRecord) (resolution, error) {
	buyPrice := rec.Buy.AvgPrice

	if err := e.enterPhase(rec, model.Phase1); err != nil {
		return 0, err
	}
	target := percentOf(buyPrice, e.phases.Phase1.ProfitPercent)
	if err := e.placeTargetSell(ctx, rec, target); err != nil {
		return 0, err
	}
	deadline := rec.PhaseAt.Add(e.phases.Phase1.Wait)
	e.log.Info("📈 Phase 1 started",
		"trade_id", rec.ID(),
		"buy_price", buyPrice.String(),
		"target", target.String(),
		"stop", stopPrice(buyPrice, e.phases.Phase1.LossPercent).String(),
		"deadline", deadline,
	)

	kind, done, err := e.supervise(ctx, rec, e.phases.Phase1.LossPercent, deadline)
	if err != nil || done {
		return kind, err
	}

	// The phase-1 order keeps resting; only the stop and the clock change.
	if err := e.enterPhase(rec, model.Phase2); err != nil {
		return 0, err
	}
	deadline = rec.PhaseAt.Add(e.phases.Phase2.Wait)
	e.log.Info("⏳ Phase 1 window elapsed, Phase 2 started",
		"trade_id", rec.ID(),
		"sell_id", rec.Sell.ID,
		"sell_price", rec.Sell.Price.String(),
		"stop", stopPrice(buyPrice, e.phases.Phase2.LossPercent).String(),
		"deadline", deadline,
		"elapsed_ms", e.elapsed().Milliseconds(),
	)

	// Phase 1 returned right after a tick; keep the polling cadence.
	if err := e.watcher.Sleep(ctx); err != nil {
		return 0, err
	}
	kind, done, err = e.supervise(ctx, rec, e.phases.Phase2.LossPercent, deadline)
	if err != nil || done {
		return kind, err
	}

	e.log.Info("⌛ Phase 2 deadline reached, forcing exit", "trade_id", rec.ID(), "elapsed_ms", e.elapsed().Milliseconds())
	raced, err := e.liquidate(ctx, rec, "timeout")
	if err != nil {
		return 0, err
	}
	if raced {
		return resolvedByFill, nil
	}
	return resolvedByTimeout, nil
}

func (e *Engine) enterPhase(rec *model.TradeRecord, p model.Phase) error {
	if err := rec.Advance(p, e.clock.Now()); err != nil {
		return err
	}
	e.metrics.PhaseEntered(p.String())
	return nil
}

// placeTargetSell rests the profit-taking order just in front of the book: the
// highest ask strictly between the buy price and the target, or the target
// itself when no such ask exists.
func (e *Engine) placeTargetSell(ctx context.Context, rec *model.TradeRecord, target decimal.Decimal) error {
	book, err := e.readBook(ctx)
	if err != nil {
		return err
	}
	price, ok := book.HighestAskBetween(rec.Buy.AvgPrice, target)
	if !ok {
		price = target
	}
	return e.placeSell(ctx, rec, price, e.sellableVolume(ctx, rec), "target")
}

// sellableVolume is the received buy volume not yet sold, capped by the free
// base balance when it can be read.
func (e *Engine) sellableVolume(ctx context.Context, rec *model.TradeRecord) decimal.Decimal {
	volume := rec.Buy.Received().Sub(rec.SoldVolume())
	if !e.checkBalance {
		return volume
	}
	free, err := e.exchange.GetAccountBalance(ctx, e.market.Base)
	if err != nil {
		e.log.Warn("⚠️ Could not read base balance, selling bought volume", "error", err)
		return volume
	}
	if free.LessThan(volume) {
		e.log.Warn("⚠️ Free balance below bought volume, adjusting sell", "wanted", volume.String(), "free", free.String())
		return free
	}
	return volume
}

// placeSell places a LIMIT sell and makes it the trade's active sell. Unlike
// the buy, a sell is retried on transient errors: the exchange locks the held
// volume, so a duplicate sell can never be funded.
func (e *Engine) placeSell(ctx context.Context, rec *model.TradeRecord, price, volume decimal.Decimal, reason string) error {
	if rec.Sell != nil {
		return fmt.Errorf("%w: new %s sell while %s is active", model.ErrInvariantViolation, reason, rec.Sell.ID)
	}
	if !volume.IsPositive() {
		return fmt.Errorf("%w: %s sell volume %s", model.ErrInvariantViolation, reason, volume)
	}

	var placed *model.Order
	err := e.watcher.Retry(ctx, "place_sell", func(ctx context.Context) error {
		o, err := e.exchange.PlaceOrder(ctx, model.OrderRequest{
			Market: e.market,
			Side:   model.SideSell,
			Type:   model.OrderTypeLimit,
			Price:  price,
			Volume: volume,
		})
		placed = o
		return err
	})
	if err != nil {
		return fmt.Errorf("place %s sell at %s: %w", reason, price, err)
	}
	if err := rec.AttachSell(*placed); err != nil {
		return err
	}
	e.metrics.OrderPlaced(string(model.SideSell), string(model.OrderTypeLimit), reason)
	e.log.Info("📤 Sell order placed",
		"trade_id", rec.ID(),
		"order_id", placed.ID,
		"reason", reason,
		"phase", rec.Phase.String(),
		"price", placed.Price.String(),
		"volume", placed.Volume.String(),
	)

	return e.record(ctx, "record_sell_placed", func(ctx context.Context) error {
		return e.ledger.RecordSellPlaced(ctx, rec.ID(), *placed)
	})
}

// snapshot is what one tick observed. A nil order or !hasBid means that read
// failed transiently and its rule is skipped this tick.
type snapshot struct {
	order  *model.Order
	bid    decimal.Decimal
	hasBid bool
}

// tick reads the active sell and the top bid concurrently and waits for both.
func (e *Engine) tick(ctx context.Context, rec *model.TradeRecord) (snapshot, error) {
	var snap snapshot
	sellID := rec.Sell.ID

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := e.exchange.GetOrder(gctx, e.market, sellID)
		if err != nil {
			if model.IsTransient(err) {
				e.log.Warn("⚠️ Transient error reading sell order", "order_id", sellID, "error", err)
				e.metrics.TransientRetry("get_order")
				return nil
			}
			return fmt.Errorf("read sell order %s: %w", sellID, err)
		}
		snap.order = o
		return nil
	})
	g.Go(func() error {
		book, err := e.exchange.GetOrderBook(gctx, e.market)
		if err != nil {
			if model.IsTransient(err) {
				e.log.Warn("⚠️ Transient error reading order book", "error", err)
				e.metrics.TransientRetry("get_order_book")
				return nil
			}
			return fmt.Errorf("read order book: %w", err)
		}
		snap.bid, snap.hasBid = book.BestBid()
		return nil
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

// supervise runs the tick loop of one phase. It returns done=false only when
// the deadline passed with neither a fill nor a stop.
func (e *Engine) supervise(ctx context.Context, rec *model.TradeRecord, lossPct decimal.Decimal, deadline time.Time) (resolution, bool, error) {
	phase := rec.Phase.String()
	stop := stopPrice(rec.Buy.AvgPrice, lossPct)
	tracker := metrics.NewTracker(phase)
	defer tracker.LogSummary(e.log)

	for {
		started := e.clock.Now()
		snap, err := e.tick(ctx, rec)
		if err != nil {
			return 0, false, err
		}
		tracker.Track(e.clock.Now().Sub(started))
		e.metrics.ObserveTick(phase, e.clock.Now().Sub(started))

		// 1. fill wins over a stale price
		if snap.order != nil {
			switch snap.order.State {
			case model.OrderStateFilled:
				if err := rec.CloseSell(*snap.order); err != nil {
					return 0, false, err
				}
				e.log.Info("💰 Sell order filled",
					"trade_id", rec.ID(),
					"order_id", snap.order.ID,
					"phase", phase,
					"avg_price", snap.order.AvgPrice.String(),
					"volume", snap.order.FilledVolume.String(),
					"elapsed_ms", e.elapsed().Milliseconds(),
				)
				return resolvedByFill, true, nil
			case model.OrderStateCancelled:
				// Cancelled outside the engine; re-enter at the bid.
				e.log.Warn("⚠️ Sell order cancelled externally, liquidating", "order_id", snap.order.ID, "phase", phase)
				return e.stopOut(ctx, rec, "external_cancel")
			default:
				if err := rec.UpdateSell(*snap.order); err != nil {
					return 0, false, err
				}
			}
		}

		// 2. loss threshold on the executable price
		if snap.hasBid && snap.bid.LessThanOrEqual(stop) {
			e.log.Warn("🛑 Loss threshold breached",
				"trade_id", rec.ID(),
				"phase", phase,
				"bid", snap.bid.String(),
				"stop", stop.String(),
				"elapsed_ms", e.elapsed().Milliseconds(),
			)
			return e.stopOut(ctx, rec, "stop_loss")
		}

		// 3. wall-clock deadline, re-evaluated each tick
		if !e.clock.Now().Before(deadline) {
			return 0, false, nil
		}

		if err := e.watcher.Sleep(ctx); err != nil {
			return 0, false, err
		}
	}
}

func (e *Engine) stopOut(ctx context.Context, rec *model.TradeRecord, reason string) (resolution, bool, error) {
	raced, err := e.liquidate(ctx, rec, reason)
	if err != nil {
		return 0, false, err
	}
	if raced {
		return resolvedByFill, true, nil
	}
	return resolvedByStop, true, nil
}
