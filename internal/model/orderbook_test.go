package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func levels(prices ...string) []Level {
	out := make([]Level, 0, len(prices))
	for _, p := range prices {
		out = append(out, Level{Price: dec(p), Size: dec("1")})
	}
	return out
}

func TestOrderBook_BestPrices(t *testing.T) {
	b := OrderBook{Bids: levels("998", "999.5", "990"), Asks: levels("1001", "1000.5", "1010")}

	bid, ok := b.BestBid()
	assert.True(t, ok)
	assert.Equal(t, "999.5", bid.String())

	ask, ok := b.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, "1000.5", ask.String())

	_, ok = OrderBook{}.BestBid()
	assert.False(t, ok)
	_, ok = OrderBook{}.BestAsk()
	assert.False(t, ok)
}

func TestOrderBook_HighestAskBetween(t *testing.T) {
	tests := []struct {
		name  string
		asks  []Level
		want  string
		found bool
	}{
		{name: "picks highest inside", asks: levels("1000", "1004", "1007", "1012"), want: "1007", found: true},
		{name: "bounds are exclusive", asks: levels("1000", "1010"), found: false},
		{name: "empty side", asks: nil, found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := OrderBook{Asks: tt.asks}.HighestAskBetween(dec("1000"), dec("1010"))
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestSymbolFilters_Snap(t *testing.T) {
	f := SymbolFilters{TickSize: dec("0.01"), StepSize: dec("0.001")}
	assert.Equal(t, "1010.12", f.SnapPrice(dec("1010.129")).String())
	assert.Equal(t, "99.999", f.SnapVolume(dec("99.9999999")).String())

	var none SymbolFilters
	assert.Equal(t, "1.23456", none.SnapVolume(dec("1.23456")).String())
}

func TestPhaseConfig_Validate(t *testing.T) {
	valid := PhaseConfig{
		Phase1: Phase1Config{Wait: 30 * time.Minute, ProfitPercent: dec("1"), LossPercent: dec("0.5")},
		Phase2: Phase2Config{Wait: time.Hour, LossPercent: dec("2")},
	}
	assert.NoError(t, valid.Validate())
	assert.Equal(t, 90*time.Minute, valid.Total())

	tests := []struct {
		name   string
		mutate func(c *PhaseConfig)
	}{
		{name: "phase1 wait", mutate: func(c *PhaseConfig) { c.Phase1.Wait = 0 }},
		{name: "phase2 wait", mutate: func(c *PhaseConfig) { c.Phase2.Wait = -time.Second }},
		{name: "profit", mutate: func(c *PhaseConfig) { c.Phase1.ProfitPercent = dec("0") }},
		{name: "phase1 loss", mutate: func(c *PhaseConfig) { c.Phase1.LossPercent = dec("-1") }},
		{name: "phase2 loss", mutate: func(c *PhaseConfig) { c.Phase2.LossPercent = dec("100") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
