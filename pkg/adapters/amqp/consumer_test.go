package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/pkg/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome string

const (
	acked    outcome = "ack"
	requeued outcome = "requeue"
	dropped  outcome = "drop"
)

type fakeAcker struct {
	mu       sync.Mutex
	outcomes map[uint64]outcome
}

func newFakeAcker() *fakeAcker {
	return &fakeAcker{outcomes: make(map[uint64]outcome)}
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.set(tag, acked)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	if requeue {
		a.set(tag, requeued)
	} else {
		a.set(tag, dropped)
	}
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) set(tag uint64, o outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[tag] = o
}

func (a *fakeAcker) get(tag uint64) outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcomes[tag]
}

func (a *fakeAcker) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outcomes)
}

type fakeHandler struct {
	mu           sync.Mutex
	seen         map[string][]string
	correlations []string
}

func (h *fakeHandler) HandleMessage(ctx context.Context, ev domain.InboundEvent) (*chatflow.Result, error) {
	h.mu.Lock()
	if h.seen == nil {
		h.seen = make(map[string][]string)
	}
	h.seen[ev.ChatID] = append(h.seen[ev.ChatID], ev.Text)
	if id, ok := CorrelationID(ctx); ok {
		h.correlations = append(h.correlations, id)
	}
	h.mu.Unlock()

	switch ev.ChatID {
	case "broken":
		return nil, errors.New("store unavailable")
	case "loop":
		return &chatflow.Result{ChatID: ev.ChatID}, &domain.CycleOverflowError{ChatID: ev.ChatID, Hops: 50}
	}
	return &chatflow.Result{ChatID: ev.ChatID}, nil
}

func delivery(acker amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: acker, DeliveryTag: tag, Body: []byte(body)}
}

func inbound(id, chatID, text string) string {
	return fmt.Sprintf(`{"meta":{"id":%q,"type":"chatflow.inbound.message"},"data":{"chat_id":%q,"text":%q}}`, id, chatID, text)
}

func TestConsumer_AckPolicy(t *testing.T) {
	acker := newFakeAcker()
	handler := &fakeHandler{}
	c := NewConsumer(handler, ConsumerConfig{Queue: "q", Workers: 3}, nil)

	deliveries := make(chan amqp.Delivery, 8)
	deliveries <- delivery(acker, 1, inbound("m1", "c1", "hola"))
	deliveries <- delivery(acker, 2, `{"data":`)
	deliveries <- delivery(acker, 3, inbound("m3", "broken", "hola"))
	deliveries <- delivery(acker, 4, inbound("m4", "loop", "hola"))
	deliveries <- delivery(acker, 5, `{"data":{"text":"no chat"}}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, deliveries) }()

	require.Eventually(t, func() bool { return acker.count() == 5 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, acked, acker.get(1))
	assert.Equal(t, dropped, acker.get(2), "malformed payloads are not requeued")
	assert.Equal(t, requeued, acker.get(3), "handler errors are retried")
	assert.Equal(t, acked, acker.get(4), "cycle overflow would repeat on redelivery")
	assert.Equal(t, dropped, acker.get(5))

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.ElementsMatch(t, []string{"m1", "m3", "m4"}, handler.correlations)
}

func TestConsumer_KeepsPerChatOrder(t *testing.T) {
	acker := newFakeAcker()
	handler := &fakeHandler{}
	c := NewConsumer(handler, ConsumerConfig{Queue: "q", Workers: 4}, nil)

	const perChat = 20
	chats := []string{"a", "b", "c"}
	deliveries := make(chan amqp.Delivery, perChat*len(chats))
	var tag uint64
	for i := 0; i < perChat; i++ {
		for _, chat := range chats {
			tag++
			deliveries <- delivery(acker, tag, inbound(fmt.Sprint(tag), chat, fmt.Sprint(i)))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, deliveries) }()

	require.Eventually(t, func() bool { return acker.count() == int(tag) }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	for _, chat := range chats {
		require.Len(t, handler.seen[chat], perChat)
		for i, text := range handler.seen[chat] {
			assert.Equal(t, fmt.Sprint(i), text, chat)
		}
	}
}

func TestConsumer_ServeReturnsWhenChannelCloses(t *testing.T) {
	c := NewConsumer(&fakeHandler{}, ConsumerConfig{Queue: "q"}, nil)
	deliveries := make(chan amqp.Delivery)
	close(deliveries)
	assert.ErrorIs(t, c.Serve(context.Background(), deliveries), ErrDeliveriesClosed)
}

type fakeChannel struct {
	calls      []string
	deliveries chan amqp.Delivery
	bindErr    error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, "exchange "+name+" "+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.calls = append(f.calls, "queue "+name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, "bind "+name+" "+key+" "+exchange)
	return f.bindErr
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.calls = append(f.calls, fmt.Sprintf("qos %d", prefetchCount))
	return nil
}

func (f *fakeChannel) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.calls = append(f.calls, fmt.Sprintf("consume %s autoAck=%v", queue, autoAck))
	return f.deliveries, nil
}

func TestConsumer_RunDeclaresTopology(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	close(ch.deliveries)
	c := NewConsumer(&fakeHandler{}, ConsumerConfig{Exchange: "chatflow", Queue: "chatflow.inbound", Workers: 2}, nil)

	err := c.Run(context.Background(), ch)
	assert.ErrorIs(t, err, ErrDeliveriesClosed)
	assert.Equal(t, []string{
		"qos 8",
		"exchange chatflow topic",
		"queue chatflow.inbound",
		"bind chatflow.inbound chatflow.inbound.# chatflow",
		"consume chatflow.inbound autoAck=false",
	}, ch.calls)
}

func TestConsumer_RunTopologyError(t *testing.T) {
	ch := &fakeChannel{bindErr: errors.New("access refused")}
	c := NewConsumer(&fakeHandler{}, ConsumerConfig{Exchange: "chatflow", Queue: "q"}, nil)

	err := c.Run(context.Background(), ch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access refused")
}

func TestShard_IsStable(t *testing.T) {
	for _, chat := range []string{"a", "5511999", "chat-42"} {
		first := shard(chat, 7)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 7)
		assert.Equal(t, first, shard(chat, 7))
	}
}
