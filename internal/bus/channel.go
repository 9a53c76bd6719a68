// Package bus carries ledger and score events between the API, the service
// and the re-scoring worker.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/notenetra/creditscore/internal/domain"
)

// ChannelBus is the in-process event bus of the community tier. Every
// subscription owns a buffered queue drained by one goroutine, so a slow
// handler never blocks Publish; when a queue is full the message is dropped
// for that subscriber and counted.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	byTopic    map[string][]*channelSubscription
	closed     bool
	dropped    atomic.Int64
}

type channelSubscription struct {
	bus      *ChannelBus
	id       string
	tenantID string
	topic    string
	queue    chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChannelBus creates a channel bus whose subscriptions buffer up to
// bufferSize messages each.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		byTopic:    make(map[string][]*channelSubscription),
	}
}

// Publish queues a message for every subscription of topic that covers
// tenantID.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkPublishTenant(tenantID); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := newMessage(tenantID, topic, payload)
	for _, sub := range b.byTopic[topic] {
		if !delivers(sub.tenantID, tenantID) {
			continue
		}
		select {
		case sub.queue <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped, subscriber queue full",
				"tenant_id", tenantID,
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}
	return nil
}

// Subscribe starts delivering topic messages for tenantID, or for every
// tenant when tenantID is domain.AllTenants. The subscription ends when ctx
// is cancelled, on Unsubscribe or on Close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkSubscribeTenant(tenantID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:      b,
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		queue:    make(chan *domain.Message, b.bufferSize),
		ctx:      subCtx,
		cancel:   cancel,
	}
	b.byTopic[topic] = append(b.byTopic[topic], sub)

	go sub.drain(handler)
	return sub, nil
}

func (s *channelSubscription) drain(handler domain.MessageHandler) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if err := handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"tenant_id", msg.TenantID,
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// queue was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping reports whether the bus is open.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close ends every subscription. Queues stay open so that a Publish racing
// with Close never sends on a closed channel.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.byTopic {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.byTopic = make(map[string][]*channelSubscription)
	return nil
}

func (b *ChannelBus) detach(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.byTopic[sub.topic]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.byTopic, sub.topic)
	} else {
		b.byTopic[sub.topic] = subs
	}
}

// Unsubscribe stops delivery and detaches from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.detach(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
