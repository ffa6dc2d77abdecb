package repository

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"spot-trade-worker/internal/model"
)

const (
	tradesFile  = "trades.json"
	historyFile = "trades_history.json"
)

// TradeRepository is the file-backed ledger. Open trades live in trades.json
// keyed by buy order id; finished trades move to trades_history.json.
type TradeRepository struct {
	storage *Storage
	dir     string
	log     *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	trades []model.LedgerEntry
}

func NewTradeRepository(storage *Storage, dir string, log *slog.Logger) *TradeRepository {
	return &TradeRepository{
		storage: storage,
		dir:     dir,
		log:     log,
		now:     time.Now,
		trades:  []model.LedgerEntry{},
	}
}

func (r *TradeRepository) path(name string) string {
	return filepath.Join(r.dir, name)
}

func (r *TradeRepository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.storage.Exists(r.path(tradesFile)) {
		r.log.Info("trades.json not found, creating empty", "dir", r.dir)
		return r.storage.Write(r.path(tradesFile), []model.LedgerEntry{})
	}
	return r.storage.Read(r.path(tradesFile), &r.trades)
}

func (r *TradeRepository) RecordBuy(_ context.Context, buy model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := model.NewLedgerEntry(buy, r.now())
	if i := r.index(buy.ID); i >= 0 {
		entry.CreatedAt = r.trades[i].CreatedAt
		r.trades[i] = entry
	} else {
		r.trades = append(r.trades, entry)
	}
	return r.storage.Write(r.path(tradesFile), r.trades)
}

func (r *TradeRepository) RecordSellPlaced(_ context.Context, buyID string, sell model.Order) error {
	return r.update(buyID, func(e *model.LedgerEntry) {
		e.SellPlaced(sell, r.now())
	})
}

func (r *TradeRepository) RecordSellCancelled(_ context.Context, buyID string, sell model.Order) error {
	return r.update(buyID, func(e *model.LedgerEntry) {
		e.SellCancelled(sell, r.now())
	})
}

// RecordSellFinished closes the trade and archives it. A trade already in the
// history is accepted so a retried write succeeds.
func (r *TradeRepository) RecordSellFinished(_ context.Context, sell model.Order, outcome model.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(outcome.TradeID)
	if i < 0 {
		if _, ok := r.archived(outcome.TradeID); ok {
			return nil
		}
		return fmt.Errorf("trade not found: %s", outcome.TradeID)
	}

	entry := r.trades[i]
	entry.Finish(sell, outcome, r.now())
	r.trades[i] = entry
	if err := r.storage.Write(r.path(tradesFile), r.trades); err != nil {
		return err
	}
	if err := r.archive(entry); err != nil {
		return err
	}

	r.trades = append(r.trades[:i], r.trades[i+1:]...)
	return r.storage.Write(r.path(tradesFile), r.trades)
}

func (r *TradeRepository) update(buyID string, fn func(*model.LedgerEntry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(buyID)
	if i < 0 {
		return fmt.Errorf("trade not found: %s", buyID)
	}
	fn(&r.trades[i])
	return r.storage.Write(r.path(tradesFile), r.trades)
}

func (r *TradeRepository) index(buyID string) int {
	for i, e := range r.trades {
		if e.BuyOrderID == buyID {
			return i
		}
	}
	return -1
}

// Get returns an open or finished trade by buy order id.
func (r *TradeRepository) Get(buyID string) (model.LedgerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.index(buyID); i >= 0 {
		return r.trades[i], true
	}
	return r.archived(buyID)
}

// GetOpen returns a copy of the trades not yet finished.
func (r *TradeRepository) GetOpen() []model.LedgerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied := make([]model.LedgerEntry, len(r.trades))
	copy(copied, r.trades)
	return copied
}

func (r *TradeRepository) history() ([]model.LedgerEntry, error) {
	var history []model.LedgerEntry
	if !r.storage.Exists(r.path(historyFile)) {
		return history, nil
	}
	if err := r.storage.Read(r.path(historyFile), &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (r *TradeRepository) archived(buyID string) (model.LedgerEntry, bool) {
	history, err := r.history()
	if err != nil {
		r.log.Error("Failed to read trade history", "error", err)
		return model.LedgerEntry{}, false
	}
	for _, e := range history {
		if e.BuyOrderID == buyID {
			return e, true
		}
	}
	return model.LedgerEntry{}, false
}

// archive appends a finished trade to the history file: read, append, write.
func (r *TradeRepository) archive(entry model.LedgerEntry) error {
	history, err := r.history()
	if err != nil {
		return err
	}
	for _, e := range history {
		if e.BuyOrderID == entry.BuyOrderID {
			return nil
		}
	}
	history = append(history, entry)
	return r.storage.Write(r.path(historyFile), history)
}
