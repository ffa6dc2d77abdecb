package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"spot-trade-worker/internal/model"
)

// jetStream is the slice of nats.JetStreamContext the publisher needs.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// OutcomePublisher hands each trade Outcome to the Manager over a JetStream
// stream. Messages carry the trade id as Nats-Msg-Id so a repeated publish is
// deduplicated by the server.
type OutcomePublisher struct {
	nc     *nats.Conn
	js     jetStream
	prefix string
	log    *slog.Logger
}

func NewOutcomePublisher(url, stream, prefix, app string, log *slog.Logger) (*OutcomePublisher, error) {
	nc, err := nats.Connect(url, nats.Name(app))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:     stream,
		Subjects: []string{prefix + ".>"},
	}
	if _, err := js.AddStream(cfg); err != nil {
		// Stream exists with another config; bring it in line.
		if _, err := js.UpdateStream(cfg); err != nil {
			log.Warn("failed to create or update stream", "stream", stream, "error", err)
		}
	}

	return &OutcomePublisher{nc: nc, js: js, prefix: prefix, log: log}, nil
}

func (p *OutcomePublisher) subject(m model.Market) string {
	return p.prefix + "." + m.String()
}

func (p *OutcomePublisher) Publish(ctx context.Context, outcome model.Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	subject := p.subject(outcome.Market)
	ack, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(outcome.TradeID))
	if err != nil {
		return fmt.Errorf("publish outcome %s: %w", outcome.TradeID, err)
	}
	p.log.Info("📨 Outcome published",
		"subject", subject,
		"stream", ack.Stream,
		"seq", ack.Sequence,
		"duplicate", ack.Duplicate)
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *OutcomePublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
