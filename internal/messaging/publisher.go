// Package messaging publishes committed contract events to RabbitMQ
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"subfee/internal/config"
)

// Publisher sends one message under a routing key
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close() error
}

// AMQPPublisher publishes JSON messages to a durable topic exchange
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *zap.Logger
}

// LogPublisher only logs what it is given. It is used when no broker is
// configured or reachable at startup.
type LogPublisher struct {
	logger *zap.Logger
}

// New connects to the configured broker, falling back to a LogPublisher
func New(cfg config.MessagingConfig, logger *zap.Logger) Publisher {
	if cfg.URL == "" {
		logger.Info("No AMQP url configured, events are only logged")
		return NewLogPublisher(logger)
	}
	p, err := NewAMQPPublisher(cfg.URL, cfg.Exchange, logger)
	if err != nil {
		logger.Warn("Failed to connect to AMQP broker, events are only logged", zap.Error(err))
		return NewLogPublisher(logger)
	}
	return p
}

// NewLogPublisher returns the fallback publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

// Publish implements Publisher
func (p *LogPublisher) Publish(_ context.Context, routingKey string, body any) error {
	p.logger.Debug("Event", zap.String("routing_key", routingKey), zap.Any("body", body))
	return nil
}

// Close implements Publisher
func (p *LogPublisher) Close() error { return nil }

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPPublisher dials the broker and declares the exchange
func NewAMQPPublisher(rawURL, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	p := &AMQPPublisher{conn: conn, exchange: exchange, logger: logger.Named("amqp")}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	p.channel = ch
	return nil
}

// Publish implements Publisher. A failed publish reopens the channel and is
// retried once.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.logger.Warn("Publish failed, reopening channel",
		zap.String("routing_key", routingKey),
		zap.Error(err))

	if chErr := p.openChannel(); chErr != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

// Close implements Publisher
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var chErr error
	if p.channel != nil {
		chErr = p.channel.Close()
	}
	if err := p.conn.Close(); err != nil {
		return err
	}
	return chErr
}
