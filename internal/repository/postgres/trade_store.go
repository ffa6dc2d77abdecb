package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"spot-trade-worker/internal/model"
)

// ErrTradeNotFound is returned when no row exists for a buy order id.
var ErrTradeNotFound = errors.New("trade not found")

// TradeStore is the Postgres ledger: one row per trade keyed by buy order id.
// Every write is an idempotent statement so the engine can repeat it.
type TradeStore struct {
	pool *Pool
	now  func() time.Time
}

func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool, now: time.Now}
}

func (s *TradeStore) RecordBuy(ctx context.Context, buy model.Order) error {
	query := `
		INSERT INTO trades (
			buy_order_id, market, buy_price, buy_volume, buy_fee, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (buy_order_id) DO UPDATE SET
			buy_price = EXCLUDED.buy_price,
			buy_volume = EXCLUDED.buy_volume,
			buy_fee = EXCLUDED.buy_fee,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		buy.ID,
		buy.Market.String(),
		buy.AvgPrice.String(),
		buy.FilledVolume.String(),
		buy.Fee.String(),
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("record buy %s: %w", buy.ID, err)
	}
	return nil
}

func (s *TradeStore) RecordSellPlaced(ctx context.Context, buyID string, sell model.Order) error {
	query := `
		UPDATE trades SET
			sell_order_id = $2,
			sell_price = $3,
			sell_volume = $4,
			sell_fee = 0,
			sell_status = $5,
			updated_at = $6
		WHERE buy_order_id = $1
	`
	return s.update(ctx, "record sell placed", buyID, query,
		buyID,
		sell.ID,
		sell.Price.String(),
		sell.Volume.String(),
		string(model.SellStatusPlaced),
		s.now(),
	)
}

// RecordSellCancelled counts each cancelled sell order once, however often
// the write is repeated.
func (s *TradeStore) RecordSellCancelled(ctx context.Context, buyID string, sell model.Order) error {
	query := `
		UPDATE trades SET
			cancelled_sells = cancelled_sells +
				CASE WHEN sell_status = $5 AND sell_order_id = $2 THEN 0 ELSE 1 END,
			sell_order_id = $2,
			sell_price = $3,
			sell_volume = $4,
			sell_fee = $6,
			sell_status = $5,
			updated_at = $7
		WHERE buy_order_id = $1
	`
	return s.update(ctx, "record sell cancelled", buyID, query,
		buyID,
		sell.ID,
		sell.Price.String(),
		sell.FilledVolume.String(),
		string(model.SellStatusCancelled),
		sell.Fee.String(),
		s.now(),
	)
}

func (s *TradeStore) RecordSellFinished(ctx context.Context, sell model.Order, outcome model.Outcome) error {
	closedAt := outcome.ResolvedAt
	if closedAt.IsZero() {
		closedAt = s.now()
	}
	query := `
		UPDATE trades SET
			sell_order_id = $2,
			sell_price = $3,
			sell_volume = $4,
			sell_fee = $5,
			sell_status = $6,
			sell_type = $7,
			profit = $8,
			closed_at = $9,
			updated_at = $10
		WHERE buy_order_id = $1
	`
	return s.update(ctx, "record sell finished", outcome.TradeID, query,
		outcome.TradeID,
		sell.ID,
		outcome.SellPrice.String(),
		outcome.SellVolume.String(),
		outcome.SellFee.String(),
		string(model.SellStatusFinished),
		string(outcome.SellType),
		outcome.Profit.String(),
		closedAt,
		s.now(),
	)
}

func (s *TradeStore) update(ctx context.Context, op, buyID, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, buyID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, buyID, ErrTradeNotFound)
	}
	return nil
}

// Get reads one trade row. Returns ErrTradeNotFound if it does not exist.
func (s *TradeStore) Get(ctx context.Context, buyID string) (*model.LedgerEntry, error) {
	query := `
		SELECT buy_order_id, market,
			buy_price::text, buy_volume::text, buy_fee::text,
			sell_order_id, sell_price::text, sell_volume::text, sell_fee::text,
			sell_status, sell_type, profit::text, cancelled_sells,
			created_at, updated_at, closed_at
		FROM trades
		WHERE buy_order_id = $1
	`
	e, err := scanTrade(s.pool.QueryRow(ctx, query, buyID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrTradeNotFound
		}
		return nil, fmt.Errorf("get trade %s: %w", buyID, err)
	}
	return e, nil
}

func scanTrade(row pgx.Row) (*model.LedgerEntry, error) {
	var (
		e                              model.LedgerEntry
		market, sellStatus, sellType   string
		buyPrice, buyVolume, buyFee    string
		sellPrice, sellVolume, sellFee string
		profit                         *string
		closedAt                       *time.Time
	)
	err := row.Scan(
		&e.BuyOrderID, &market,
		&buyPrice, &buyVolume, &buyFee,
		&e.SellOrderID, &sellPrice, &sellVolume, &sellFee,
		&sellStatus, &sellType, &profit, &e.CancelledSells,
		&e.CreatedAt, &e.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.Market, err = model.ParseMarket(market); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&e.BuyPrice, buyPrice},
		{&e.BuyVolume, buyVolume},
		{&e.BuyFee, buyFee},
		{&e.SellPrice, sellPrice},
		{&e.SellVolume, sellVolume},
		{&e.SellFee, sellFee},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("scan numeric %q: %w", f.src, err)
		}
	}
	if profit != nil {
		p, err := decimal.NewFromString(*profit)
		if err != nil {
			return nil, fmt.Errorf("scan profit %q: %w", *profit, err)
		}
		e.Profit = decimal.NewNullDecimal(p)
	}
	e.SellStatus = model.SellStatus(sellStatus)
	e.SellType = model.SellType(sellType)
	e.ClosedAt = closedAt
	return &e, nil
}
