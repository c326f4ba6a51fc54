package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"srphub.org/internal/obs"
)

// Exchange is the durable topic exchange request lifecycle events are
// published to. Routing keys follow the "request.<operation>" scheme, e.g.
// request.submit or request.pay, so payment tooling can bind narrowly.
const Exchange = "srp_events"

// RequestEvent is the payload published on every request lifecycle change.
type RequestEvent struct {
	RequestID  int64           `json:"request_id"`
	DivisionID int64           `json:"division_id"`
	UserID     int64           `json:"user_id"`
	Status     string          `json:"status"`
	Payout     decimal.Decimal `json:"payout"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event RequestEvent) error
	Close()
}

// Producer holds the broker connection and channel for publishing messages.
type Producer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Fallback is a no-op publisher used when the broker is unavailable or not
// configured. The engine never depends on event delivery.
type Fallback struct{}

func (Fallback) Publish(ctx context.Context, routingKey string, event RequestEvent) error {
	obs.LogRequest(map[string]any{
		"level":       "warn",
		"component":   "events",
		"msg":         "publish skipped",
		"routing_key": routingKey,
		"request_id":  event.RequestID,
	})
	return nil
}

func (Fallback) Close() {}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "\"'"))
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewProducer connects to the broker and opens a publishing channel.
func NewProducer(amqpURL string) (*Producer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang indefinitely.
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Producer{conn: conn, channel: ch}, nil
}

// Publish sends the event to the srp_events exchange under the routing key.
// A broken channel is reopened once before the error is reported.
func (p *Producer) Publish(ctx context.Context, routingKey string, event RequestEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	}
	err = p.channel.PublishWithContext(ctx, Exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	if p.conn == nil {
		return err
	}
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return err
	}
	p.channel = ch
	if exErr := p.channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); exErr != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, Exchange, routingKey, false, false, msg)
}

// Close gracefully closes the channel and connection.
func (p *Producer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
