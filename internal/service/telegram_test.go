package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-trade-worker/internal/model"
)

var ethUSDT = model.Market{Base: "ETH", Quote: "USDT"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type telegramStub struct {
	mu       sync.Mutex
	paths    []string
	payloads []map[string]string
}

func (s *telegramStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p map[string]string
	_ = json.NewDecoder(r.Body).Decode(&p)
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func TestTelegramNotifier_SendsEvent(t *testing.T) {
	stub := &telegramStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	n := NewTelegramNotifier("worker_eth", "tok", "42", discardLogger())
	n.baseURL = srv.URL
	n.now = func() time.Time { return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) }

	n.Notify(context.Background(), model.EventLossOutcome, ethUSDT, "sell_3")
	n.Wait()

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.payloads, 1)
	assert.Equal(t, "/bottok/sendMessage", stub.paths[0])
	p := stub.payloads[0]
	assert.Equal(t, "42", p["chat_id"])
	assert.Equal(t, "Markdown", p["parse_mode"])
	assert.Contains(t, p["text"], `worker\_eth - ETH-USDT`)
	assert.Contains(t, p["text"], `🔴 Evento: LOSS\_OUTCOME`)
	assert.Contains(t, p["text"], `sell\_3`)
	assert.Contains(t, p["text"], "05/01/2026, 09:00:00")
}

func TestTelegramNotifier_NotifyDoesNotBlockOnSlowAPI(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("w", "tok", "42", discardLogger())
	n.baseURL = srv.URL

	done := make(chan struct{})
	go func() {
		n.Notify(context.Background(), model.EventTradeAborted, ethUSDT, "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on the HTTP call")
	}
	close(release)
	n.Wait()
}

func TestTelegramNotifier_SkipsWithoutCredentials(t *testing.T) {
	n := NewTelegramNotifier("w", "", "", discardLogger())
	n.baseURL = "http://127.0.0.1:0"

	n.Notify(context.Background(), model.EventBuyFilled, ethUSDT, "1")
	n.Wait()
}
