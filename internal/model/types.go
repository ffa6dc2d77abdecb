package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market is the (base, quote) pair a worker trades for its whole lifetime.
type Market struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ParseMarket accepts "BTC-USDT" or "BTC/USDT".
func ParseMarket(s string) (Market, error) {
	sep := "-"
	if strings.Contains(s, "/") {
		sep = "/"
	}
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Market{}, fmt.Errorf("invalid market %q", s)
	}
	return Market{Base: parts[0], Quote: parts[1]}, nil
}

// Symbol renders the exchange symbol, e.g. BTCUSDT.
func (m Market) Symbol() string {
	return m.Base + m.Quote
}

func (m Market) String() string {
	return m.Base + "-" + m.Quote
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypePrice is a market order sized by quote funds instead of volume.
	OrderTypePrice OrderType = "PRICE"
)

type OrderState string

const (
	OrderStatePending         OrderState = "PENDING"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCancelled       OrderState = "CANCELLED"
)

// Order is the engine's view of an exchange order, as last observed by polling.
type Order struct {
	ID           string          `json:"id"`
	ClientID     string          `json:"clientId,omitempty"`
	Market       Market          `json:"market"`
	Side         OrderSide       `json:"side"`
	Type         OrderType       `json:"type"`
	Price        decimal.Decimal `json:"price"`
	Volume       decimal.Decimal `json:"volume"`
	State        OrderState      `json:"state"`
	FilledVolume decimal.Decimal `json:"filledVolume"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	Fee          decimal.Decimal `json:"fee"` // quote currency
	// BaseFee is commission withheld from bought base volume. It never
	// reaches the account, so it is not part of Fee.
	BaseFee      decimal.Decimal `json:"baseFee"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (o Order) IsFilled() bool {
	return o.State == OrderStateFilled
}

func (o Order) IsTerminal() bool {
	return o.State == OrderStateFilled || o.State == OrderStateCancelled
}

// Remaining is the requested volume not yet executed.
func (o Order) Remaining() decimal.Decimal {
	r := o.Volume.Sub(o.FilledVolume)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Received is the executed base volume credited to the account.
func (o Order) Received() decimal.Decimal {
	return o.FilledVolume.Sub(o.BaseFee)
}

// Total is the executed notional at the actual average fill price.
func (o Order) Total() decimal.Decimal {
	return o.AvgPrice.Mul(o.FilledVolume)
}

// OrderRequest is what the engine asks the gateway to place.
type OrderRequest struct {
	Market   Market
	Side     OrderSide
	Type     OrderType
	Volume   decimal.Decimal
	Price    decimal.Decimal
	Funds    decimal.Decimal // quote amount, PRICE orders only
	ClientID string
}

// Balance represents the free amount of one currency on the account
type Balance struct {
	Currency string          `json:"currency"`
	Free     decimal.Decimal `json:"free"`
	Locked   decimal.Decimal `json:"locked"`
}
