package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level is one price level of the order book.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type OrderBook struct {
	Market Market    `json:"market"`
	Bids   []Level   `json:"bids"`
	Asks   []Level   `json:"asks"`
	Time   time.Time `json:"time"`
}

// BestBid returns the highest bid. Levels are scanned rather than trusted to be sorted.
func (b OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	best := b.Bids[0].Price
	for _, l := range b.Bids[1:] {
		if l.Price.GreaterThan(best) {
			best = l.Price
		}
	}
	return best, true
}

// BestAsk returns the lowest ask.
func (b OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	best := b.Asks[0].Price
	for _, l := range b.Asks[1:] {
		if l.Price.LessThan(best) {
			best = l.Price
		}
	}
	return best, true
}

// HighestAskBetween returns the highest ask strictly inside (floor, ceiling).
func (b OrderBook) HighestAskBetween(floor, ceiling decimal.Decimal) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, l := range b.Asks {
		if !l.Price.LessThan(ceiling) || !l.Price.GreaterThan(floor) {
			continue
		}
		if !found || l.Price.GreaterThan(best) {
			best = l.Price
			found = true
		}
	}
	return best, found
}
