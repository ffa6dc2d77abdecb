package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is the engine's aggregate for one trade. It is owned by a single
// engine and is never shared, so it carries no lock.
type TradeRecord struct {
	Market      Market           `json:"market"`
	Budget      decimal.Decimal  `json:"budget"`
	Buy         *Order           `json:"buy,omitempty"`
	Sell        *Order           `json:"sell,omitempty"` // the live sell order, if any
	ClosedSells []Order          `json:"closedSells,omitempty"`
	Phase       Phase            `json:"phase"`
	ResolvedIn  Phase            `json:"resolvedIn,omitempty"`
	SellType    SellType         `json:"sellType,omitempty"`
	Profit      *decimal.Decimal `json:"profit,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	PhaseAt     time.Time        `json:"phaseAt"`
	ResolvedAt  time.Time        `json:"resolvedAt,omitempty"`
}

func NewTradeRecord(market Market, budget decimal.Decimal, startedAt time.Time) *TradeRecord {
	return &TradeRecord{
		Market:    market,
		Budget:    budget,
		Phase:     PhaseAcquired,
		StartedAt: startedAt,
		PhaseAt:   startedAt,
	}
}

// ID is the buy order id, the key the ledger files the trade under.
func (r *TradeRecord) ID() string {
	if r.Buy == nil {
		return ""
	}
	return r.Buy.ID
}

func (r *TradeRecord) SetBuy(o Order) error {
	if r.Buy != nil {
		return fmt.Errorf("%w: buy leg already set to %s", ErrInvariantViolation, r.Buy.ID)
	}
	if !o.IsFilled() {
		return fmt.Errorf("%w: buy %s is %s, not filled", ErrInvariantViolation, o.ID, o.State)
	}
	r.Buy = &o
	return nil
}

// Advance moves the trade forward. Backward or repeated transitions are rejected.
func (r *TradeRecord) Advance(to Phase, at time.Time) error {
	if to <= r.Phase {
		return fmt.Errorf("%w: phase %s cannot follow %s", ErrInvariantViolation, to, r.Phase)
	}
	if to >= Phase1 && r.Buy == nil {
		return fmt.Errorf("%w: %s entered without a filled buy", ErrInvariantViolation, to)
	}
	r.Phase = to
	r.PhaseAt = at
	return nil
}

// HasLiveSell reports whether a sell order is placed and not yet terminal.
func (r *TradeRecord) HasLiveSell() bool {
	return r.Sell != nil && !r.Sell.IsTerminal()
}

// AttachSell makes o the active sell order. It requires a filled buy and no
// other live sell.
func (r *TradeRecord) AttachSell(o Order) error {
	if r.Buy == nil || !r.Buy.IsFilled() {
		return fmt.Errorf("%w: sell %s placed before buy filled", ErrInvariantViolation, o.ID)
	}
	if r.Sell != nil {
		return fmt.Errorf("%w: sell %s placed while %s is still active", ErrInvariantViolation, o.ID, r.Sell.ID)
	}
	if r.IsResolved() {
		return fmt.Errorf("%w: sell %s placed on a resolved trade", ErrInvariantViolation, o.ID)
	}
	r.Sell = &o
	return nil
}

// UpdateSell refreshes the active sell with a newer observation of the same order.
func (r *TradeRecord) UpdateSell(o Order) error {
	if r.Sell == nil || r.Sell.ID != o.ID {
		return fmt.Errorf("%w: update for %s does not match active sell", ErrInvariantViolation, o.ID)
	}
	r.Sell = &o
	return nil
}

// CloseSell retires the active sell once the exchange reports it terminal.
// Any fills it carries count toward the sell leg.
func (r *TradeRecord) CloseSell(o Order) error {
	if r.Sell == nil {
		return fmt.Errorf("%w: no active sell to close for %s", ErrInvariantViolation, o.ID)
	}
	if r.Sell.ID != o.ID {
		return fmt.Errorf("%w: closing %s but active sell is %s", ErrInvariantViolation, o.ID, r.Sell.ID)
	}
	if !o.IsTerminal() {
		return fmt.Errorf("%w: sell %s is %s, not terminal", ErrInvariantViolation, o.ID, o.State)
	}
	r.ClosedSells = append(r.ClosedSells, o)
	r.Sell = nil
	return nil
}

// SoldVolume sums executed volume over the closed sell legs.
func (r *TradeRecord) SoldVolume() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range r.ClosedSells {
		sum = sum.Add(o.FilledVolume)
	}
	return sum
}

// Resolve assigns the outcome. It can happen once, with no live sell left.
func (r *TradeRecord) Resolve(t SellType, profit decimal.Decimal, at time.Time) error {
	if r.IsResolved() {
		return fmt.Errorf("%w: trade already resolved as %s", ErrInvariantViolation, r.SellType)
	}
	if !t.IsTerminal() {
		return fmt.Errorf("%w: %q is not a terminal sell type", ErrInvariantViolation, t)
	}
	if r.Sell != nil {
		return fmt.Errorf("%w: resolving with sell %s still active", ErrInvariantViolation, r.Sell.ID)
	}
	resolvedIn := r.Phase
	if err := r.Advance(PhaseResolved, at); err != nil {
		return err
	}
	r.ResolvedIn = resolvedIn
	r.SellType = t
	r.Profit = &profit
	r.ResolvedAt = at
	return nil
}

func (r *TradeRecord) IsResolved() bool {
	return r.Phase == PhaseResolved
}
