package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"spot-trade-worker/internal/model"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends operator alerts to one chat. Sends run in the
// background so a slow or failing Telegram never holds up a trade.
type TelegramNotifier struct {
	app     string
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     *slog.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

func NewTelegramNotifier(app, token, chatID string, log *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		app:     app,
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
		now:     time.Now,
	}
}

func (s *TelegramNotifier) Notify(_ context.Context, kind model.EventKind, market model.Market, orderID string) {
	if orderID == "" {
		orderID = "-"
	}
	msg := fmt.Sprintf(
		"🤖 %s - %s - Binance\n"+
			"%s Evento: %s\n"+
			"🆔 Ordem: %s\n"+
			"📅 Data: %s",
		s.escapeMarkdown(s.app),
		market,
		eventEmoji(kind),
		s.escapeMarkdown(string(kind)),
		s.escapeMarkdown(orderID),
		s.now().Format("02/01/2006, 15:04:05"),
	)
	s.SendMessage(msg)
}

func eventEmoji(kind model.EventKind) string {
	switch kind {
	case model.EventBuyFilled:
		return "🟢"
	case model.EventLiquidation:
		return "🚨"
	case model.EventLossOutcome:
		return "🔴"
	case model.EventAcquisitionFailed:
		return "❌"
	default:
		return "⚠️"
	}
}

func (s *TelegramNotifier) SendMessage(text string) {
	if s.token == "" || s.chatID == "" {
		s.log.Warn("Telegram credentials not set, skipping message")
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	payload := map[string]string{
		"chat_id":    s.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("Failed to marshal Telegram payload", "error", err)
		return
	}

	// Send async
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := s.client.Post(url, "application/json", bytes.NewBuffer(jsonPayload))
		if err != nil {
			s.log.Error("Failed to send Telegram message", "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			s.log.Error("Telegram API error", "status", resp.Status)
		}
	}()
}

// Wait blocks until in-flight messages are delivered or failed. Called
// before the process exits.
func (s *TelegramNotifier) Wait() {
	s.wg.Wait()
}

func (s *TelegramNotifier) escapeMarkdown(text string) string {
	// Replace _ with \_ to prevent Markdown parsing errors
	return strings.ReplaceAll(text, "_", "\\_")
}
