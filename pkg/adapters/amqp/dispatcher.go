package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/ports"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the subset of *amqp.Channel the Dispatcher needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dispatcher publishes outbound actions to a topic exchange.
// It implements ports.Dispatcher.
type Dispatcher struct {
	mu       sync.Mutex
	pub      Publisher
	exchange string
	producer string
	logger   *slog.Logger
	now      func() time.Time
}

var _ ports.Dispatcher = (*Dispatcher)(nil)

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithProducer sets meta.producer on published envelopes.
func WithProducer(name string) DispatcherOption {
	return func(d *Dispatcher) { d.producer = name }
}

// WithDispatcherClock injects the time source. Intended for tests.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher publishing to exchange through pub.
func NewDispatcher(pub Publisher, exchange string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pub:      pub,
		exchange: exchange,
		producer: "chatflow",
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) SendText(ctx context.Context, chatID, text string) error {
	return d.Publish(ctx, domain.TextAction(chatID, text))
}

func (d *Dispatcher) SendMedia(ctx context.Context, chatID string, media domain.MediaContent) error {
	return d.Publish(ctx, domain.Action{Type: domain.ActionSendMedia, ChatID: chatID, Media: &media})
}

func (d *Dispatcher) SendInteractiveList(ctx context.Context, chatID string, list domain.InteractiveList) error {
	return d.Publish(ctx, domain.Action{Type: domain.ActionSendInteractiveList, ChatID: chatID, List: &list})
}

// Publish sends one action as a persistent JSON envelope.
func (d *Dispatcher) Publish(ctx context.Context, action domain.Action) error {
	env := NewActionEnvelope(ctx, action, d.producer, d.now())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	err = d.pub.PublishWithContext(ctx, d.exchange, env.Meta.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         d.producer,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", env.Meta.Type, d.exchange, err)
	}
	d.logger.Debug("Action published", "chat_id", action.ChatID, "type", action.Type, "id", env.Meta.ID)
	return nil
}
