// Package amqp connects the engine to a RabbitMQ broker: inbound chat
// messages are consumed from a queue and outbound actions are published
// to a topic exchange.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aretw0/chatflow/internal/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds the broker settings.
type Config struct {
	URL          string
	Exchange     string
	InboundQueue string
	Workers      int
}

// Client owns one broker connection with a publishing channel.
type Client struct {
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	config Config
	logger *slog.Logger
}

// Dial connects to the broker and declares the exchange.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp URL is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if u, err := url.Parse(cfg.URL); err == nil {
		logger.Info("Connecting to AMQP broker", "host", u.Host)
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout(ctx))})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	return &Client{conn: conn, pubCh: ch, config: cfg, logger: logger}, nil
}

const defaultDialTimeout = 30 * time.Second

// dialTimeout bounds the dial by ctx's deadline; amqp.Dial takes no context.
func dialTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < defaultDialTimeout {
			return d
		}
	}
	return defaultDialTimeout
}

// Dispatcher returns a dispatcher publishing on the client's channel.
func (c *Client) Dispatcher(opts ...DispatcherOption) *Dispatcher {
	opts = append([]DispatcherOption{WithDispatcherLogger(c.logger)}, opts...)
	return NewDispatcher(c.pubCh, c.config.Exchange, opts...)
}

// Consume serves the inbound queue with handler until ctx is done.
func (c *Client) Consume(ctx context.Context, handler MessageHandler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	consumer := NewConsumer(handler, ConsumerConfig{
		Exchange: c.config.Exchange,
		Queue:    c.config.InboundQueue,
		Workers:  c.config.Workers,
	}, c.logger)
	return consumer.Run(ctx, ch)
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	_ = c.pubCh.Close()
	return c.conn.Close()
}
