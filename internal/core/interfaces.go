package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"spot-trade-worker/internal/model"
)

// Exchange is the authenticated gateway the engine trades through. Every call
// except PlaceOrder is safe to repeat. Implementations wrap retryable failures
// with model.ErrTransient.
type Exchange interface {
	PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error)
	GetOrder(ctx context.Context, market model.Market, id string) (*model.Order, error)
	CancelOrder(ctx context.Context, market model.Market, id string) error
	GetOrderBook(ctx context.Context, market model.Market) (*model.OrderBook, error)
	GetAccountBalance(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Ledger persists the trade row keyed by the buy order id. A nil error means
// the write is durable.
type Ledger interface {
	RecordBuy(ctx context.Context, buy model.Order) error
	RecordSellPlaced(ctx context.Context, buyID string, sell model.Order) error
	RecordSellCancelled(ctx context.Context, buyID string, sell model.Order) error
	RecordSellFinished(ctx context.Context, sell model.Order, outcome model.Outcome) error
}

// Notifier delivers operator alerts. It must not block and has no error to
// report: a lost alert never aborts a trade.
type Notifier interface {
	Notify(ctx context.Context, kind model.EventKind, market model.Market, orderID string)
}

// OutcomePublisher hands the final Outcome to the Manager.
type OutcomePublisher interface {
	Publish(ctx context.Context, outcome model.Outcome) error
}

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.EventKind, model.Market, string) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.Outcome) error { return nil }
