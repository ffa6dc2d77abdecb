package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spot-trade-worker/internal/model"
)

const (
	MainnetURL = "https://api.binance.com"
	TestnetURL = "https://testnet.binance.vision"

	defaultDepth   = 20
	defaultTimeout = 10 * time.Second
)

// BinanceOptions configures the spot gateway.
type BinanceOptions struct {
	APIKey    string
	SecretKey string
	BaseURL   string // overrides Testnet when set
	Testnet   bool
	// FeeRate prices commissions paid in a third asset (BNB) as a share of
	// the quote amount.
	FeeRate    decimal.Decimal
	DepthLimit int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// BinanceGateway implements the engine's exchange gateway over the Binance
// spot REST API.
type BinanceGateway struct {
	client  *binance.Client
	feeRate decimal.Decimal
	depth   int
	log     *slog.Logger

	mu      sync.Mutex
	filters map[string]model.SymbolFilters
	fees    map[int64]orderFees // terminal orders only
}

func NewBinanceGateway(opts BinanceOptions) *BinanceGateway {
	client := binance.NewClient(opts.APIKey, opts.SecretKey)
	switch {
	case opts.BaseURL != "":
		client.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	case opts.Testnet:
		client.BaseURL = TestnetURL
	default:
		client.BaseURL = MainnetURL
	}
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	} else {
		client.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	depth := opts.DepthLimit
	if depth <= 0 {
		depth = defaultDepth
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &BinanceGateway{
		client:  client,
		feeRate: opts.FeeRate,
		depth:   depth,
		log:     log.With("component", "binance"),
		filters: make(map[string]model.SymbolFilters),
		fees:    make(map[int64]orderFees),
	}
}

// SyncTime aligns request timestamps with the server clock. Binance rejects
// signed requests that drift outside the receive window.
func (g *BinanceGateway) SyncTime(ctx context.Context) error {
	offset, err := g.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("sync server time: %w", g.classify(ctx, err))
	}
	g.log.Info("⏰ Time Synchronized", "offset_ms", offset)
	return nil
}

// Filters returns the symbol's trading rules, loading them once.
func (g *BinanceGateway) Filters(ctx context.Context, market model.Market) (model.SymbolFilters, error) {
	symbol := market.Symbol()
	g.mu.Lock()
	f, ok := g.filters[symbol]
	g.mu.Unlock()
	if ok {
		return f, nil
	}

	info, err := g.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return model.SymbolFilters{}, fmt.Errorf("exchange info %s: %w", symbol, g.classify(ctx, err))
	}
	f = model.SymbolFilters{Symbol: symbol}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, raw := range s.Filters {
			switch raw["filterType"] {
			case "PRICE_FILTER":
				f.TickSize = filterValue(raw, "tickSize")
			case "LOT_SIZE":
				f.StepSize = filterValue(raw, "stepSize")
				f.MinQty = filterValue(raw, "minQty")
			case "NOTIONAL", "MIN_NOTIONAL":
				f.MinNotional = filterValue(raw, "minNotional")
			}
		}
	}

	g.mu.Lock()
	g.filters[symbol] = f
	g.mu.Unlock()
	g.log.Info("📐 Symbol filters loaded",
		"symbol", symbol,
		"tick", f.TickSize.String(),
		"step", f.StepSize.String(),
		"min_qty", f.MinQty.String(),
		"min_notional", f.MinNotional.String())
	return f, nil
}

func filterValue(raw map[string]interface{}, key string) decimal.Decimal {
	s, _ := raw[key].(string)
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// PlaceOrder snaps price and volume to the symbol filters and submits the
// order once. Orders the filters would reject are refused locally.
func (g *BinanceGateway) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error) {
	f, err := g.Filters(ctx, req.Market)
	if err != nil {
		return nil, err
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = newClientOrderID(req.Side)
	}

	svc := g.client.NewCreateOrderService().
		Symbol(req.Market.Symbol()).
		Side(sideType(req.Side)).
		NewClientOrderID(clientID).
		NewOrderRespType(binance.NewOrderRespTypeFULL)

	switch req.Type {
	case model.OrderTypeLimit:
		price := f.SnapPrice(req.Price)
		volume := f.SnapVolume(req.Volume)
		if err := checkFilters(f, price, volume); err != nil {
			return nil, err
		}
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(price.String()).
			Quantity(volume.String())
	case model.OrderTypeMarket:
		volume := f.SnapVolume(req.Volume)
		if !volume.IsPositive() || volume.LessThan(f.MinQty) {
			return nil, fmt.Errorf("%w: volume %s below lot minimum %s", model.ErrOrderRejected, volume, f.MinQty)
		}
		svc = svc.Type(binance.OrderTypeMarket).Quantity(volume.String())
	case model.OrderTypePrice:
		if !req.Funds.IsPositive() {
			return nil, fmt.Errorf("%w: funds must be positive", model.ErrOrderRejected)
		}
		svc = svc.Type(binance.OrderTypeMarket).QuoteOrderQty(req.Funds.String())
	default:
		return nil, fmt.Errorf("%w: unsupported order type %q", model.ErrOrderRejected, req.Type)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("place %s %s: %w", req.Side, req.Market, g.classify(ctx, err))
	}

	o, err := toOrder(req.Market, rawOrder{
		ID:        res.OrderID,
		ClientID:  res.ClientOrderID,
		Side:      res.Side,
		Type:      res.Type,
		Price:     res.Price,
		OrigQty:   res.OrigQuantity,
		Executed:  res.ExecutedQuantity,
		CumQuote:  res.CummulativeQuoteQuantity,
		Status:    res.Status,
		CreatedMs: res.TransactTime,
		UpdatedMs: res.TransactTime,
	})
	if err != nil {
		return nil, err
	}
	for _, fill := range res.Fills {
		f, err := g.commission(req.Market, req.Side, fill.Commission, fill.CommissionAsset, fill.Price, fill.Quantity)
		if err != nil {
			return nil, err
		}
		o.Fee = o.Fee.Add(f.quote)
		o.BaseFee = o.BaseFee.Add(f.base)
	}
	return o, nil
}

func checkFilters(f model.SymbolFilters, price, volume decimal.Decimal) error {
	if !price.IsPositive() || !volume.IsPositive() {
		return fmt.Errorf("%w: price %s volume %s must be positive after rounding", model.ErrOrderRejected, price, volume)
	}
	if volume.LessThan(f.MinQty) {
		return fmt.Errorf("%w: volume %s below lot minimum %s", model.ErrOrderRejected, volume, f.MinQty)
	}
	if notional := price.Mul(volume); notional.LessThan(f.MinNotional) {
		return fmt.Errorf("%w: notional %s below minimum %s", model.ErrOrderRejected, notional, f.MinNotional)
	}
	return nil
}

// GetOrder reads the order and, once it is terminal, its commissions.
func (g *BinanceGateway) GetOrder(ctx context.Context, market model.Market, id string) (*model.Order, error) {
	orderID, err := parseOrderID(id)
	if err != nil {
		return nil, err
	}
	res, err := g.client.NewGetOrderService().Symbol(market.Symbol()).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, g.classify(ctx, err))
	}

	o, err := toOrder(market, rawOrder{
		ID:        res.OrderID,
		ClientID:  res.ClientOrderID,
		Side:      res.Side,
		Type:      res.Type,
		Price:     res.Price,
		OrigQty:   res.OrigQuantity,
		Executed:  res.ExecutedQuantity,
		CumQuote:  res.CummulativeQuoteQuantity,
		Status:    res.Status,
		CreatedMs: res.Time,
		UpdatedMs: res.UpdateTime,
	})
	if err != nil {
		return nil, err
	}
	if o.IsTerminal() && o.FilledVolume.IsPositive() {
		f, err := g.orderFee(ctx, market, o.Side, orderID)
		if err != nil {
			return nil, err
		}
		o.Fee, o.BaseFee = f.quote, f.base
	}
	return o, nil
}

func (g *BinanceGateway) orderFee(ctx context.Context, market model.Market, side model.OrderSide, orderID int64) (orderFees, error) {
	g.mu.Lock()
	f, ok := g.fees[orderID]
	g.mu.Unlock()
	if ok {
		return f, nil
	}

	trades, err := g.client.NewListTradesService().Symbol(market.Symbol()).OrderId(orderID).Do(ctx)
	if err != nil {
		return orderFees{}, fmt.Errorf("list trades %d: %w", orderID, g.classify(ctx, err))
	}
	f = orderFees{quote: decimal.Zero, base: decimal.Zero}
	for _, t := range trades {
		c, err := g.commission(market, side, t.Commission, t.CommissionAsset, t.Price, t.Quantity)
		if err != nil {
			return orderFees{}, err
		}
		f.quote = f.quote.Add(c.quote)
		f.base = f.base.Add(c.base)
	}

	g.mu.Lock()
	g.fees[orderID] = f
	g.mu.Unlock()
	return f, nil
}

// orderFees splits commissions into what was paid in quote terms and what was
// withheld from the base volume a buy received.
type orderFees struct {
	quote decimal.Decimal
	base  decimal.Decimal
}

// commission prices one fill's commission. A buy charged in the base asset
// keeps it in base units: the account simply receives less.
func (g *BinanceGateway) commission(market model.Market, side model.OrderSide, amount, asset, price, qty string) (orderFees, error) {
	c, err := parseDecimal("commission", amount)
	if err != nil {
		return orderFees{}, err
	}
	switch {
	case asset == market.Quote:
		return orderFees{quote: c, base: decimal.Zero}, nil
	case asset == market.Base && side == model.SideBuy:
		return orderFees{quote: decimal.Zero, base: c}, nil
	case asset == market.Base:
		p, err := parseDecimal("fill price", price)
		if err != nil {
			return orderFees{}, err
		}
		return orderFees{quote: c.Mul(p), base: decimal.Zero}, nil
	default:
		p, err := parseDecimal("fill price", price)
		if err != nil {
			return orderFees{}, err
		}
		q, err := parseDecimal("fill qty", qty)
		if err != nil {
			return orderFees{}, err
		}
		return orderFees{quote: p.Mul(q).Mul(g.feeRate), base: decimal.Zero}, nil
	}
}

func (g *BinanceGateway) CancelOrder(ctx context.Context, market model.Market, id string) error {
	orderID, err := parseOrderID(id)
	if err != nil {
		return err
	}
	if _, err := g.client.NewCancelOrderService().Symbol(market.Symbol()).OrderID(orderID).Do(ctx); err != nil {
		return fmt.Errorf("cancel order %s: %w", id, g.classify(ctx, err))
	}
	return nil
}

func (g *BinanceGateway) GetOrderBook(ctx context.Context, market model.Market) (*model.OrderBook, error) {
	res, err := g.client.NewDepthService().Symbol(market.Symbol()).Limit(g.depth).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("depth %s: %w", market, g.classify(ctx, err))
	}
	book := &model.OrderBook{
		Market: market,
		Bids:   make([]model.Level, 0, len(res.Bids)),
		Asks:   make([]model.Level, 0, len(res.Asks)),
		Time:   time.Now(),
	}
	for _, b := range res.Bids {
		l, err := toLevel(b.Price, b.Quantity)
		if err != nil {
			return nil, err
		}
		book.Bids = append(book.Bids, l)
	}
	for _, a := range res.Asks {
		l, err := toLevel(a.Price, a.Quantity)
		if err != nil {
			return nil, err
		}
		book.Asks = append(book.Asks, l)
	}
	return book, nil
}

// GetAccountBalance returns the free amount of currency. An asset missing
// from the account is a zero balance.
func (g *BinanceGateway) GetAccountBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	acc, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account: %w", g.classify(ctx, err))
	}
	for _, b := range acc.Balances {
		if strings.EqualFold(b.Asset, currency) {
			return parseDecimal("free balance", b.Free)
		}
	}
	return decimal.Zero, nil
}

type rawOrder struct {
	ID        int64
	ClientID  string
	Side      binance.SideType
	Type      binance.OrderType
	Price     string
	OrigQty   string
	Executed  string
	CumQuote  string
	Status    binance.OrderStatusType
	CreatedMs int64
	UpdatedMs int64
}

func toOrder(market model.Market, r rawOrder) (*model.Order, error) {
	price, err := parseDecimal("price", r.Price)
	if err != nil {
		return nil, err
	}
	volume, err := parseDecimal("origQty", r.OrigQty)
	if err != nil {
		return nil, err
	}
	executed, err := parseDecimal("executedQty", r.Executed)
	if err != nil {
		return nil, err
	}
	cumQuote, err := parseDecimal("cummulativeQuoteQty", r.CumQuote)
	if err != nil {
		return nil, err
	}
	state, err := orderState(r.Status)
	if err != nil {
		return nil, err
	}

	avg := decimal.Zero
	if executed.IsPositive() {
		avg = cumQuote.Div(executed)
	}
	o := &model.Order{
		ID:           strconv.FormatInt(r.ID, 10),
		ClientID:     r.ClientID,
		Market:       market,
		Side:         model.OrderSide(r.Side),
		Type:         orderType(r.Type),
		Price:        price,
		Volume:       volume,
		State:        state,
		FilledVolume: executed,
		AvgPrice:     avg,
		Fee:          decimal.Zero,
		BaseFee:      decimal.Zero,
	}
	if r.CreatedMs > 0 {
		o.CreatedAt = time.UnixMilli(r.CreatedMs).UTC()
	}
	if r.UpdatedMs > 0 {
		o.UpdatedAt = time.UnixMilli(r.UpdatedMs).UTC()
	}
	return o, nil
}

// orderState maps Binance statuses onto the engine's four states. Rejected
// and expired orders are terminal without a fill, so they read as cancelled.
func orderState(s binance.OrderStatusType) (model.OrderState, error) {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePendingCancel:
		return model.OrderStatePending, nil
	case binance.OrderStatusTypePartiallyFilled:
		return model.OrderStatePartiallyFilled, nil
	case binance.OrderStatusTypeFilled:
		return model.OrderStateFilled, nil
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected,
		binance.OrderStatusTypeExpired, "EXPIRED_IN_MATCH":
		return model.OrderStateCancelled, nil
	default:
		return "", fmt.Errorf("unknown order status %q", s)
	}
}

func orderType(t binance.OrderType) model.OrderType {
	if t == binance.OrderTypeMarket {
		return model.OrderTypeMarket
	}
	return model.OrderTypeLimit
}

func sideType(s model.OrderSide) binance.SideType {
	if s == model.SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

// newClientOrderID fits Binance's 36 character limit.
func newClientOrderID(side model.OrderSide) string {
	prefix := "b_"
	if side == model.SideSell {
		prefix = "s_"
	}
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func toLevel(price, size string) (model.Level, error) {
	p, err := parseDecimal("level price", price)
	if err != nil {
		return model.Level{}, err
	}
	s, err := parseDecimal("level size", size)
	if err != nil {
		return model.Level{}, err
	}
	return model.Level{Price: p, Size: s}, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed %s %q: %w", field, s, err)
	}
	return v, nil
}

func parseOrderID(id string) (int64, error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid order id %q", model.ErrOrderNotFound, id)
	}
	return v, nil
}
