package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Phase is a stage of the trade. Values are ordered and only ever increase.
type Phase int

const (
	PhaseAcquired Phase = iota
	Phase1
	Phase2
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseAcquired:
		return "ACQUIRED"
	case Phase1:
		return "PHASE1"
	case Phase2:
		return "PHASE2"
	case PhaseResolved:
		return "RESOLVED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ACQUIRED":
		*p = PhaseAcquired
	case "PHASE1":
		*p = Phase1
	case "PHASE2":
		*p = Phase2
	case "RESOLVED":
		*p = PhaseResolved
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// SellType is the terminal classification of how the sell leg resolved.
type SellType string

const (
	SellTypeProfit        SellType = "PROFIT"
	SellTypeLoss          SellType = "LOSS"
	SellTypeStopProfit    SellType = "STOP_PROFIT"
	SellTypeStopLoss      SellType = "STOP_LOSS"
	SellTypeTimeoutProfit SellType = "TIMEOUT_PROFIT"
	SellTypeTimeoutLoss   SellType = "TIMEOUT_LOSS"
)

func (t SellType) IsTerminal() bool {
	switch t {
	case SellTypeProfit, SellTypeLoss, SellTypeStopProfit, SellTypeStopLoss, SellTypeTimeoutProfit, SellTypeTimeoutLoss:
		return true
	}
	return false
}

func (t SellType) IsLoss() bool {
	return t == SellTypeLoss || t == SellTypeStopLoss || t == SellTypeTimeoutLoss
}

// Phase1Config holds the tight first window: a profit target with a matching stop.
type Phase1Config struct {
	Wait          time.Duration   `json:"wait"`
	ProfitPercent decimal.Decimal `json:"profitPercent"`
	LossPercent   decimal.Decimal `json:"lossPercent"`
}

// Phase2Config has no profit target; the phase-1 sell order keeps resting.
type Phase2Config struct {
	Wait        time.Duration   `json:"wait"`
	LossPercent decimal.Decimal `json:"lossPercent"`
}

type PhaseConfig struct {
	Phase1 Phase1Config `json:"phase1"`
	Phase2 Phase2Config `json:"phase2"`
}

// Percentages are expressed in percent units: 1 means 1%.
func (c PhaseConfig) Validate() error {
	if c.Phase1.Wait <= 0 {
		return fmt.Errorf("phase1 wait must be positive, got %s", c.Phase1.Wait)
	}
	if c.Phase2.Wait < 0 {
		return fmt.Errorf("phase2 wait must not be negative, got %s", c.Phase2.Wait)
	}
	if !c.Phase1.ProfitPercent.IsPositive() {
		return fmt.Errorf("phase1 profit percent must be positive, got %s", c.Phase1.ProfitPercent)
	}
	hundred := decimal.NewFromInt(100)
	for name, p := range map[string]decimal.Decimal{
		"phase1 loss percent": c.Phase1.LossPercent,
		"phase2 loss percent": c.Phase2.LossPercent,
	} {
		if !p.IsPositive() || p.GreaterThanOrEqual(hundred) {
			return fmt.Errorf("%s must be in (0, 100), got %s", name, p)
		}
	}
	return nil
}

// Total is the worst-case time a trade spends in the ladder before forced exit.
func (c PhaseConfig) Total() time.Duration {
	return c.Phase1.Wait + c.Phase2.Wait
}
