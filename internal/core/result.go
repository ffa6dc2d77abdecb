package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"spot-trade-worker/internal/model"
)

// settlement holds the realized totals of both legs at actual fill prices.
type settlement struct {
	BuyTotal   decimal.Decimal
	BuyFee     decimal.Decimal
	SellTotal  decimal.Decimal
	SellFee    decimal.Decimal
	SellVolume decimal.Decimal
}

func (s settlement) Profit() decimal.Decimal {
	return s.SellTotal.Sub(s.BuyTotal).Sub(s.SellFee.Add(s.BuyFee))
}

// SellPrice is the volume-weighted average over every sell leg.
func (s settlement) SellPrice() decimal.Decimal {
	if !s.SellVolume.IsPositive() {
		return decimal.Zero
	}
	return s.SellTotal.Div(s.SellVolume)
}

// settle sums the buy and every closed sell leg, including partial fills of
// sells that were later cancelled. Buy commission withheld in the base asset
// shows up as volume that was never sold, so only the quote fee is charged.
func settle(rec *model.TradeRecord) settlement {
	s := settlement{
		BuyTotal:   rec.Buy.Total(),
		BuyFee:     rec.Buy.Fee,
		SellTotal:  decimal.Zero,
		SellFee:    decimal.Zero,
		SellVolume: decimal.Zero,
	}
	for _, leg := range rec.ClosedSells {
		s.SellTotal = s.SellTotal.Add(leg.Total())
		s.SellFee = s.SellFee.Add(leg.Fee)
		s.SellVolume = s.SellVolume.Add(leg.FilledVolume)
	}
	return s
}

// classify maps how and where the trade resolved plus the sign of the
// fee-adjusted profit to its SellType, in every phase and for every
// resolution. A non-positive profit is never tagged as a profit.
func classify(kind resolution, phase model.Phase, isProfit bool) (model.SellType, error) {
	pick := func(win, lose model.SellType) model.SellType {
		if isProfit {
			return win
		}
		return lose
	}
	switch {
	case kind == resolvedByTimeout && phase == model.Phase2:
		return pick(model.SellTypeTimeoutProfit, model.SellTypeTimeoutLoss), nil
	case kind == resolvedByTimeout:
		return "", fmt.Errorf("%w: timeout resolution in %s", model.ErrInvariantViolation, phase)
	case phase == model.Phase1:
		return pick(model.SellTypeProfit, model.SellTypeLoss), nil
	case phase == model.Phase2:
		return pick(model.SellTypeStopProfit, model.SellTypeStopLoss), nil
	}
	return "", fmt.Errorf("%w: %s resolution in %s", model.ErrInvariantViolation, kind, phase)
}

// finish computes P&L, assigns the SellType and reports the outcome.
func (e *Engine) finish(ctx context.Context, rec *model.TradeRecord, kind resolution) (*model.Outcome, error) {
	if rec.Sell != nil {
		return nil, fmt.Errorf("%w: finishing with sell %s still active", model.ErrInvariantViolation, rec.Sell.ID)
	}
	if len(rec.ClosedSells) == 0 {
		return nil, fmt.Errorf("%w: finishing without a sell leg", model.ErrInvariantViolation)
	}

	s := settle(rec)
	profit := s.Profit()
	sellType, err := classify(kind, rec.Phase, profit.IsPositive())
	if err != nil {
		return nil, err
	}
	if err := rec.Resolve(sellType, profit, e.clock.Now()); err != nil {
		return nil, err
	}

	outcome := e.outcome(rec, s)
	last := rec.ClosedSells[len(rec.ClosedSells)-1]
	if err := e.record(ctx, "record_sell_finished", func(ctx context.Context) error {
		return e.ledger.RecordSellFinished(ctx, last, outcome)
	}); err != nil {
		return nil, err
	}

	e.log.Info("🏁 Trade resolved",
		"trade_id", outcome.TradeID,
		"sell_type", string(outcome.SellType),
		"resolution", kind.String(),
		"resolved_in", outcome.ResolvedIn.String(),
		"profit", outcome.Profit.String(),
		"buy_price", outcome.BuyPrice.String(),
		"sell_price", outcome.SellPrice.String(),
		"buy_fee", outcome.BuyFee.String(),
		"sell_fee", outcome.SellFee.String(),
		"elapsed_ms", outcome.ElapsedMs,
	)
	e.metrics.TradeResolved(string(sellType), profit.InexactFloat64(), rec.ResolvedAt.Sub(rec.StartedAt))

	if sellType.IsLoss() {
		e.notifier.Notify(ctx, model.EventLossOutcome, e.market, rec.ID())
	}
	if err := e.publisher.Publish(ctx, outcome); err != nil {
		e.log.Error("❌ Failed to publish outcome to manager", "trade_id", outcome.TradeID, "error", err)
	}
	return &outcome, nil
}

func (e *Engine) outcome(rec *model.TradeRecord, s settlement) model.Outcome {
	ids := make([]string, 0, len(rec.ClosedSells))
	for _, leg := range rec.ClosedSells {
		ids = append(ids, leg.ID)
	}
	return model.Outcome{
		App:          e.app,
		TradeID:      rec.ID(),
		Market:       rec.Market,
		SellType:     rec.SellType,
		IsProfit:     rec.Profit.IsPositive(),
		Profit:       *rec.Profit,
		Budget:       rec.Budget,
		BuyPrice:     rec.Buy.AvgPrice,
		BuyVolume:    rec.Buy.FilledVolume,
		BuyTotal:     s.BuyTotal,
		BuyFee:       s.BuyFee,
		SellPrice:    s.SellPrice(),
		SellVolume:   s.SellVolume,
		SellTotal:    s.SellTotal,
		SellFee:      s.SellFee,
		ResolvedIn:   rec.ResolvedIn,
		StartedAt:    rec.StartedAt,
		ResolvedAt:   rec.ResolvedAt,
		ElapsedMs:    rec.ResolvedAt.Sub(rec.StartedAt).Milliseconds(),
		SellOrderIDs: ids,
	}
}
