package amqp

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPoison marks a delivery that can never be processed.
var ErrPoison = errors.New("poison message")

// ErrDeliveriesClosed is returned by Serve when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

// MessageHandler processes one inbound chat message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, ev domain.InboundEvent) (*chatflow.Result, error)
}

// Channel is the subset of *amqp.Channel the Consumer needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// ConsumerConfig describes the inbound topology.
type ConsumerConfig struct {
	Exchange   string
	Queue      string
	BindingKey string
	Workers    int
	Prefetch   int
}

// Consumer feeds inbound message envelopes to a MessageHandler.
// Deliveries of one chat always go to the same worker, so their order is kept.
type Consumer struct {
	handler MessageHandler
	config  ConsumerConfig
	logger  *slog.Logger
}

// NewConsumer creates a consumer. Zero Workers or Prefetch fall back to defaults.
func NewConsumer(handler MessageHandler, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Workers * 4
	}
	if cfg.BindingKey == "" {
		cfg.BindingKey = "chatflow.inbound.#"
	}
	return &Consumer{handler: handler, config: cfg, logger: logger}
}

// Run declares the inbound queue on ch and serves it until ctx is done.
func (c *Consumer) Run(ctx context.Context, ch Channel) error {
	if err := ch.Qos(c.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	if err := ch.ExchangeDeclare(c.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", c.config.Exchange, err)
	}
	if _, err := ch.QueueDeclare(c.config.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", c.config.Queue, err)
	}
	if err := ch.QueueBind(c.config.Queue, c.config.BindingKey, c.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %q: %w", c.config.Queue, err)
	}
	deliveries, err := ch.Consume(c.config.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", c.config.Queue, err)
	}

	c.logger.Info("Consumer started", "queue", c.config.Queue, "workers", c.config.Workers, "prefetch", c.config.Prefetch)
	return c.Serve(ctx, deliveries)
}

type job struct {
	delivery amqp.Delivery
	env      Envelope[domain.InboundEvent]
}

// Serve processes deliveries with the worker pool until ctx is done or the channel closes.
// In-flight messages are finished before it returns.
func (c *Consumer) Serve(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	queues := make([]chan job, c.config.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan job)
		wg.Add(1)
		go func(jobs <-chan job) {
			defer wg.Done()
			for j := range jobs {
				c.process(ctx, j)
			}
		}(queues[i])
	}
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			env, err := DecodeInbound(d.Body)
			if err != nil {
				c.logger.Warn("Dropping malformed delivery", "message_id", d.MessageId, "err", err)
				_ = d.Nack(false, false)
				continue
			}
			select {
			case queues[shard(env.Data.ChatID, len(queues))] <- job{delivery: d, env: env}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, j job) {
	ev := j.env.Data
	ctx = WithCorrelationID(ctx, j.env.Meta.ID)

	_, err := c.handler.HandleMessage(ctx, ev)
	switch {
	case err == nil:
		_ = j.delivery.Ack(false)
	case errors.Is(err, domain.ErrFlowCycleOverflow):
		// Redelivering would overflow again.
		c.logger.Warn("Message ended in cycle overflow", "chat_id", ev.ChatID, "err", err)
		_ = j.delivery.Ack(false)
	default:
		c.logger.Error("Message handling failed, requeueing", "chat_id", ev.ChatID, "err", err)
		_ = j.delivery.Nack(false, true)
	}
}

func shard(chatID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	return int(h.Sum32() % uint32(n))
}
