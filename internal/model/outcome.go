package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the terminal result the Manager receives for one trade.
type Outcome struct {
	App          string          `json:"app"`
	TradeID      string          `json:"tradeId"`
	Market       Market          `json:"market"`
	SellType     SellType        `json:"sellType"`
	IsProfit     bool            `json:"isProfit"`
	Profit       decimal.Decimal `json:"profit"`
	Budget       decimal.Decimal `json:"budget"`
	BuyPrice     decimal.Decimal `json:"buyPrice"`
	BuyVolume    decimal.Decimal `json:"buyVolume"`
	BuyTotal     decimal.Decimal `json:"buyTotal"`
	BuyFee       decimal.Decimal `json:"buyFee"`
	SellPrice    decimal.Decimal `json:"sellPrice"`
	SellVolume   decimal.Decimal `json:"sellVolume"`
	SellTotal    decimal.Decimal `json:"sellTotal"`
	SellFee      decimal.Decimal `json:"sellFee"`
	ResolvedIn   Phase           `json:"resolvedIn"`
	StartedAt    time.Time       `json:"startedAt"`
	ResolvedAt   time.Time       `json:"resolvedAt"`
	ElapsedMs    int64           `json:"elapsedMs"`
	SellOrderIDs []string        `json:"sellOrderIds"`
}

// SellStatus tracks the latest sell event recorded against a trade.
type SellStatus string

const (
	SellStatusNone      SellStatus = ""
	SellStatusPlaced    SellStatus = "placed"
	SellStatusCancelled SellStatus = "cancelled"
	SellStatusFinished  SellStatus = "finished"
)

// LedgerEntry is the persisted row for one trade, keyed by the buy order id.
type LedgerEntry struct {
	BuyOrderID     string              `json:"buyOrderId"`
	Market         Market              `json:"market"`
	BuyPrice       decimal.Decimal     `json:"buyPrice"`
	BuyVolume      decimal.Decimal     `json:"buyVolume"`
	BuyFee         decimal.Decimal     `json:"buyFee"`
	SellOrderID    string              `json:"sellOrderId,omitempty"`
	SellPrice      decimal.Decimal     `json:"sellPrice"`
	SellVolume     decimal.Decimal     `json:"sellVolume"`
	SellFee        decimal.Decimal     `json:"sellFee"`
	SellStatus     SellStatus          `json:"sellStatus"`
	SellType       SellType            `json:"sellType,omitempty"`
	Profit         decimal.NullDecimal `json:"profit"`
	CancelledSells int                 `json:"cancelledSells"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	ClosedAt       *time.Time          `json:"closedAt,omitempty"`
}

func NewLedgerEntry(buy Order, at time.Time) LedgerEntry {
	return LedgerEntry{
		BuyOrderID: buy.ID,
		Market:     buy.Market,
		BuyPrice:   buy.AvgPrice,
		BuyVolume:  buy.FilledVolume,
		BuyFee:     buy.Fee,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func (e *LedgerEntry) SellPlaced(sell Order, at time.Time) {
	e.SellOrderID = sell.ID
	e.SellPrice = sell.Price
	e.SellVolume = sell.Volume
	e.SellFee = decimal.Zero
	e.SellStatus = SellStatusPlaced
	e.UpdatedAt = at
}

// SellCancelled records a cancelled sell. Repeating the call for the same
// order does not count it twice.
func (e *LedgerEntry) SellCancelled(sell Order, at time.Time) {
	if e.SellStatus == SellStatusCancelled && e.SellOrderID == sell.ID {
		return
	}
	e.SellOrderID = sell.ID
	e.SellPrice = sell.Price
	e.SellVolume = sell.FilledVolume
	e.SellFee = sell.Fee
	e.SellStatus = SellStatusCancelled
	e.CancelledSells++
	e.UpdatedAt = at
}

// Finish closes the row with the trade totals across every sell leg.
func (e *LedgerEntry) Finish(sell Order, o Outcome, at time.Time) {
	e.SellOrderID = sell.ID
	e.SellPrice = o.SellPrice
	e.SellVolume = o.SellVolume
	e.SellFee = o.SellFee
	e.SellStatus = SellStatusFinished
	e.SellType = o.SellType
	e.Profit = decimal.NewNullDecimal(o.Profit)
	closed := o.ResolvedAt
	if closed.IsZero() {
		closed = at
	}
	e.ClosedAt = &closed
	e.UpdatedAt = at
}
