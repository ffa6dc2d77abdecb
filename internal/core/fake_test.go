package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"spot-trade-worker/internal/model"
)

var testStart = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeClock advances only when the engine sleeps, so every loop runs instantly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testStart}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(dur time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(dur)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// bookAt builds a one-level bid side and the given asks.
func bookAt(bid string, asks ...string) model.OrderBook {
	b := model.OrderBook{Bids: []model.Level{{Price: d(bid), Size: d("10")}}}
	for _, a := range asks {
		b.Asks = append(b.Asks, model.Level{Price: d(a), Size: d("10")})
	}
	return b
}

// fakeExchange is a small matching simulation. Buys fill on the first poll at
// their limit price; sells fill at their limit once the scripted best bid
// reaches it.
type fakeExchange struct {
	mu    sync.Mutex
	clock *fakeClock

	book     func(elapsed time.Duration) model.OrderBook
	feeRate  decimal.Decimal
	balances map[string]decimal.Decimal

	// baseFeeOnBuys withholds buy commission from the bought volume.
	baseFeeOnBuys bool

	orders   map[string]*model.Order
	seq      int
	requests []model.OrderRequest
	cancels  []string

	failures         map[string][]error
	onCancel         func(o *model.Order) error
	onCall           func(op string, elapsed time.Duration)
	overlappingSells int
}

func newFakeExchange(clock *fakeClock, book func(elapsed time.Duration) model.OrderBook) *fakeExchange {
	return &fakeExchange{
		clock:    clock,
		book:     book,
		feeRate:  d("0.001"),
		balances: map[string]decimal.Decimal{},
		orders:   map[string]*model.Order{},
		failures: map[string][]error{},
	}
}

func (f *fakeExchange) elapsed() time.Duration {
	return f.clock.Now().Sub(testStart)
}

// failNext queues errors returned by the next calls of op.
func (f *fakeExchange) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeExchange) enter(ctx context.Context, op string) error {
	if f.onCall != nil {
		f.onCall(op, f.elapsed())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error) {
	if err := f.enter(ctx, "place"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.Side == model.SideSell {
		for _, o := range f.orders {
			if o.Side == model.SideSell && !o.IsTerminal() {
				f.overlappingSells++
			}
		}
	}
	f.seq++
	now := f.clock.Now()
	o := &model.Order{
		ID:           fmt.Sprintf("%s-%d", strings.ToLower(string(req.Side)), f.seq),
		Market:       req.Market,
		Side:         req.Side,
		Type:         req.Type,
		Price:        req.Price,
		Volume:       req.Volume,
		State:        model.OrderStatePending,
		FilledVolume: decimal.Zero,
		AvgPrice:     decimal.Zero,
		Fee:          decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.orders[o.ID] = o
	f.requests = append(f.requests, req)
	cp := *o
	return &cp, nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, market model.Market, id string) (*model.Order, error) {
	if err := f.enter(ctx, "get_order"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrOrderNotFound)
	}
	f.match(o)
	cp := *o
	return &cp, nil
}

func (f *fakeExchange) match(o *model.Order) {
	if o.IsTerminal() {
		return
	}
	if o.Side == model.SideBuy {
		f.fill(o, o.Price)
		return
	}
	if bid, ok := f.book(f.elapsed()).BestBid(); ok && bid.GreaterThanOrEqual(o.Price) {
		f.fill(o, o.Price)
	}
}

// fill executes the remaining volume at price on top of any earlier partial fill.
func (f *fakeExchange) fill(o *model.Order, price decimal.Decimal) {
	rest := o.Remaining()
	total := o.Total().Add(price.Mul(rest))
	o.FilledVolume = o.Volume
	o.AvgPrice = total.Div(o.Volume)
	if o.Side == model.SideBuy && f.baseFeeOnBuys {
		o.BaseFee = o.BaseFee.Add(rest.Mul(f.feeRate))
	} else {
		o.Fee = o.Fee.Add(price.Mul(rest).Mul(f.feeRate))
	}
	o.State = model.OrderStateFilled
	o.UpdatedAt = f.clock.Now()
}

func (f *fakeExchange) CancelOrder(ctx context.Context, market model.Market, id string) error {
	if err := f.enter(ctx, "cancel"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[id]
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, model.ErrOrderNotFound)
	}
	f.cancels = append(f.cancels, id)
	if f.onCancel != nil {
		return f.onCancel(o)
	}
	if o.IsTerminal() {
		return fmt.Errorf("cancel %s: %w", id, model.ErrOrderNotFound)
	}
	o.State = model.OrderStateCancelled
	o.UpdatedAt = f.clock.Now()
	return nil
}

func (f *fakeExchange) GetOrderBook(ctx context.Context, market model.Market) (*model.OrderBook, error) {
	if err := f.enter(ctx, "book"); err != nil {
		return nil, err
	}
	b := f.book(f.elapsed())
	b.Market = market
	return &b, nil
}

func (f *fakeExchange) GetAccountBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	if err := f.enter(ctx, "balance"); err != nil {
		return decimal.Zero, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[currency], nil
}

func (f *fakeExchange) sellRequests() []model.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.OrderRequest
	for _, r := range f.requests {
		if r.Side == model.SideSell {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeExchange) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeLedger struct {
	mu       sync.Mutex
	calls    []string
	outcomes []model.Outcome
	failures []error
}

func (l *fakeLedger) next(call string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		return err
	}
	l.calls = append(l.calls, call)
	return nil
}

func (l *fakeLedger) RecordBuy(_ context.Context, buy model.Order) error {
	return l.next("buy:" + buy.ID)
}

func (l *fakeLedger) RecordSellPlaced(_ context.Context, buyID string, sell model.Order) error {
	return l.next("sell_placed:" + sell.ID)
}

func (l *fakeLedger) RecordSellCancelled(_ context.Context, buyID string, sell model.Order) error {
	return l.next("sell_cancelled:" + sell.ID)
}

func (l *fakeLedger) RecordSellFinished(_ context.Context, sell model.Order, outcome model.Outcome) error {
	if err := l.next(fmt.Sprintf("sell_finished:%s:%s", sell.ID, outcome.SellType)); err != nil {
		return err
	}
	l.mu.Lock()
	l.outcomes = append(l.outcomes, outcome)
	l.mu.Unlock()
	return nil
}

func (l *fakeLedger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu    sync.Mutex
	kinds []model.EventKind
}

func (n *fakeNotifier) Notify(_ context.Context, kind model.EventKind, _ model.Market, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func (n *fakeNotifier) has(kind model.EventKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range n.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	mu       sync.Mutex
	outcomes []model.Outcome
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, o model.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return p.err
}

type harness struct {
	clock     *fakeClock
	exchange  *fakeExchange
	ledger    *fakeLedger
	notifier  *fakeNotifier
	publisher *fakePublisher
	engine    *Engine
}

func testPhases() model.PhaseConfig {
	return model.PhaseConfig{
		Phase1: model.Phase1Config{Wait: 30 * time.Minute, ProfitPercent: d("1"), LossPercent: d("0.5")},
		Phase2: model.Phase2Config{Wait: 60 * time.Minute, LossPercent: d("2")},
	}
}

func newHarness(t *testing.T, book func(elapsed time.Duration) model.OrderBook, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:     newFakeClock(),
		ledger:    &fakeLedger{},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
	}
	h.exchange = newFakeExchange(h.clock, book)

	o := Options{
		AppName:      "worker-test",
		Market:       model.Market{Base: "ETH", Quote: "USDT"},
		Budget:       d("100000"),
		Phases:       testPhases(),
		PollInterval: time.Second,
		Exchange:     h.exchange,
		Ledger:       h.ledger,
		Notifier:     h.notifier,
		Publisher:    h.publisher,
		Clock:        h.clock,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range opts {
		fn(&o)
	}
	e, err := New(o)
	require.NoError(t, err)
	h.engine = e
	return h
}
