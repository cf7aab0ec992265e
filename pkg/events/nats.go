// Package events publishes coordination outcomes to NATS subjects.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher sends JSON payloads under a subject prefix.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewPublisher connects to NATS. An empty url yields a nil publisher.
func NewPublisher(url, prefix string, logger *zap.Logger) (*Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url, nats.Name("memo-registry-api"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("nats publisher initialized", zap.String("url", url), zap.String("prefix", prefix))
	return &Publisher{conn: nc, prefix: strings.Trim(prefix, "."), logger: logger}, nil
}

// Subject joins the configured prefix with name.
func (p *Publisher) Subject(name string) string {
	if p == nil || p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

// Publish marshals payload and publishes it under prefix.name.
func (p *Publisher) Publish(ctx context.Context, name string, payload interface{}) error {
	if p == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", name, err)
	}
	subject := p.Subject(name)
	if err := p.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject))
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.conn.Drain()
}
