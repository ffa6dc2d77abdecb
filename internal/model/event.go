package model

// EventKind tags an operator alert.
type EventKind string

const (
	EventAcquisitionFailed EventKind = "ACQUISITION_FAILED"
	EventBuyFilled         EventKind = "BUY_FILLED"
	EventLiquidation       EventKind = "LIQUIDATION"
	EventLossOutcome       EventKind = "LOSS_OUTCOME"
	EventTradeAborted      EventKind = "TRADE_ABORTED"
)
