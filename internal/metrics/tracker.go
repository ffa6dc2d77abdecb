package metrics

import (
	"log/slog"
	"time"
)

// Tracker keeps min/max/avg latency of supervision ticks for one phase.
type Tracker struct {
	Label     string
	MinTime   time.Duration
	MaxTime   time.Duration
	TotalTime time.Duration
	Count     int64
}

func NewTracker(label string) *Tracker {
	return &Tracker{
		Label:   label,
		MinTime: time.Duration(1<<63 - 1), // Max duration
	}
}

func (t *Tracker) Track(d time.Duration) {
	t.Count++
	t.TotalTime += d
	if d < t.MinTime {
		t.MinTime = d
	}
	if d > t.MaxTime {
		t.MaxTime = d
	}
}

func (t *Tracker) Avg() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.TotalTime / time.Duration(t.Count)
}

// LogSummary writes one line with the tick statistics. No-op before the first tick.
func (t *Tracker) LogSummary(log *slog.Logger) {
	if t.Count == 0 {
		return
	}
	log.Info("Tick Metrics",
		"phase", t.Label,
		"ticks", t.Count,
		"min_ms", t.MinTime.Milliseconds(),
		"max_ms", t.MaxTime.Milliseconds(),
		"avg_ms", t.Avg().Milliseconds(),
	)
}
