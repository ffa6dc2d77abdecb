// Package core runs one spot trade from buy to terminal outcome.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"spot-trade-worker/internal/metrics"
	"spot-trade-worker/internal/model"
)

// ErrAcquisitionFailed wraps every failure that ends a trade before the buy
// is filled and recorded. No sell order exists when it is returned.
var ErrAcquisitionFailed = errors.New("acquisition failed")

// ledgerAttempts bounds retries of a failing ledger write.
const ledgerAttempts = 5

// Options carries everything one engine needs. Nothing is read from globals.
type Options struct {
	AppName      string
	Market       model.Market
	Budget       decimal.Decimal
	Phases       model.PhaseConfig
	PollInterval time.Duration
	// CheckBalance enables the quote pre-check before buying and caps the
	// sell volume by the free base balance.
	CheckBalance bool

	Exchange  Exchange
	Ledger    Ledger
	Notifier  Notifier
	Publisher OutcomePublisher
	Clock     Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Engine is single-use: one Engine, one trade.
type Engine struct {
	app          string
	market       model.Market
	budget       decimal.Decimal
	phases       model.PhaseConfig
	checkBalance bool

	exchange  Exchange
	ledger    Ledger
	notifier  Notifier
	publisher OutcomePublisher
	clock     Clock
	log       *slog.Logger
	metrics   *metrics.Metrics
	watcher   *Watcher

	trade *model.TradeRecord
}

func New(opts Options) (*Engine, error) {
	if opts.AppName == "" {
		return nil, fmt.Errorf("app name is required")
	}
	if opts.Market.Base == "" || opts.Market.Quote == "" {
		return nil, fmt.Errorf("market is required")
	}
	if !opts.Budget.IsPositive() {
		return nil, fmt.Errorf("budget must be positive, got %s", opts.Budget)
	}
	if err := opts.Phases.Validate(); err != nil {
		return nil, fmt.Errorf("invalid phase config: %w", err)
	}
	if opts.Exchange == nil {
		return nil, fmt.Errorf("exchange is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	// The process logger already carries the app name.
	log := opts.Logger.With("market", opts.Market.String())

	return &Engine{
		app:          opts.AppName,
		market:       opts.Market,
		budget:       opts.Budget,
		phases:       opts.Phases,
		checkBalance: opts.CheckBalance,
		exchange:     opts.Exchange,
		ledger:       opts.Ledger,
		notifier:     opts.Notifier,
		publisher:    opts.Publisher,
		clock:        opts.Clock,
		log:          log,
		metrics:      opts.Metrics,
		watcher:      NewWatcher(opts.Exchange, opts.Clock, opts.PollInterval, log, opts.Metrics),
	}, nil
}

// Run executes the whole trade. It returns an Outcome exactly when the trade
// resolved and was reported. Acquisition failures wrap ErrAcquisitionFailed.
func (e *Engine) Run(ctx context.Context) (*model.Outcome, error) {
	if e.trade != nil {
		return nil, fmt.Errorf("%w: engine already ran", model.ErrInvariantViolation)
	}
	e.log.Info("🚀 Trade worker starting",
		"budget", e.budget.String(),
		"phase1_wait", e.phases.Phase1.Wait.String(),
		"phase1_profit_pct", e.phases.Phase1.ProfitPercent.String(),
		"phase1_loss_pct", e.phases.Phase1.LossPercent.String(),
		"phase2_wait", e.phases.Phase2.Wait.String(),
		"phase2_loss_pct", e.phases.Phase2.LossPercent.String(),
	)

	rec, err := e.acquire(ctx)
	if err != nil {
		e.log.Error("❌ Acquisition failed, exiting without a sell", "error", err)
		orderID := ""
		if e.trade.Buy != nil {
			orderID = e.trade.Buy.ID
			e.log.Error("🚨 Buy filled but not recorded, position left open", "trade_id", orderID)
		}
		e.notifier.Notify(context.WithoutCancel(ctx), model.EventAcquisitionFailed, e.market, orderID)
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionFailed, err)
	}

	kind, err := e.runLadder(ctx, rec)
	if err != nil {
		e.abort(ctx, rec, err)
		return nil, err
	}

	outcome, err := e.finish(ctx, rec, kind)
	if err != nil {
		e.abort(ctx, rec, err)
		return nil, err
	}
	return outcome, nil
}

// Trade returns the record of the current or last run, nil before Run.
func (e *Engine) Trade() *model.TradeRecord {
	return e.trade
}

func (e *Engine) abort(ctx context.Context, rec *model.TradeRecord, err error) {
	sellID := ""
	if rec.Sell != nil {
		sellID = rec.Sell.ID
	}
	e.log.Error("🚨 Trade aborted after buy, manual review required",
		"trade_id", rec.ID(),
		"phase", rec.Phase.String(),
		"active_sell_id", sellID,
		"error", err,
	)
	e.notifier.Notify(context.WithoutCancel(ctx), model.EventTradeAborted, e.market, rec.ID())
}

// record retries a ledger write a bounded number of times.
func (e *Engine) record(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= ledgerAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		e.log.Warn("⚠️ Ledger write failed, retrying", "op", op, "attempt", attempt, "error", err)
		if attempt == ledgerAttempts {
			break
		}
		if serr := e.watcher.Sleep(ctx); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("ledger %s: %w", op, err)
}

func (e *Engine) readBook(ctx context.Context) (*model.OrderBook, error) {
	var book *model.OrderBook
	err := e.watcher.Retry(ctx, "get_order_book", func(ctx context.Context) error {
		b, err := e.exchange.GetOrderBook(ctx, e.market)
		book = b
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read order book: %w", err)
	}
	return book, nil
}

func (e *Engine) elapsed() time.Duration {
	if e.trade == nil {
		return 0
	}
	return e.clock.Now().Sub(e.trade.StartedAt)
}
