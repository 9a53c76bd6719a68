package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/notenetra/creditscore/internal/domain"
)

// tenantHeader carries the tenant on every Kafka record so consumers can
// filter without decoding the envelope.
const tenantHeader = "tenant_id"

// KafkaBus implements EventBus on Kafka. Topics are shared across tenants;
// records are keyed by tenant so one merchant's events stay ordered within a
// partition, and each subscription only delivers the tenants it covers.
type KafkaBus struct {
	mu      sync.Mutex
	cfg     domain.EventBusConfig
	writer  *kafka.Writer
	readers map[string]*kafkaSubscription
	closed  bool
}

type kafkaSubscription struct {
	bus      *KafkaBus
	id       string
	tenantID string
	topic    string
	reader   *kafka.Reader
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewKafkaBus creates a Kafka-backed event bus.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = "creditscore"
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}

	slog.Info("Kafka bus configured",
		"brokers", cfg.KafkaBrokers,
		"group_id", cfg.KafkaGroupID,
	)

	return &KafkaBus{
		cfg:     cfg,
		writer:  writer,
		readers: make(map[string]*kafkaSubscription),
	}, nil
}

// Publish writes a message to the Kafka topic, keyed by tenant.
func (b *KafkaBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkPublishTenant(tenantID); err != nil {
		return err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := newMessage(tenantID, topic, payload)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(tenantID),
		Value:   data,
		Headers: []kafka.Header{{Key: tenantHeader, Value: []byte(tenantID)}},
	})
}

// Subscribe starts a consumer-group reader for the topic. Messages of
// tenants the subscription does not cover are committed and skipped.
func (b *KafkaBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkSubscribeTenant(tenantID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.KafkaBrokers,
		GroupID:  consumerGroup(b.cfg.KafkaGroupID, tenantID),
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		bus:      b,
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		reader:   reader,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	b.readers[sub.id] = sub

	go sub.consume(subCtx, handler)
	return sub, nil
}

func (s *kafkaSubscription) consume(ctx context.Context, handler domain.MessageHandler) {
	defer close(s.done)

	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("kafka fetch failed", "topic", s.topic, "error", err)
			continue
		}

		if delivers(s.tenantID, tenantOf(m)) {
			var msg domain.Message
			if err := json.Unmarshal(m.Value, &msg); err != nil {
				slog.Error("failed to unmarshal kafka message",
					"topic", m.Topic,
					"offset", m.Offset,
					"error", err,
				)
			} else if err := handler(ctx, &msg); err != nil {
				slog.Error("handler error",
					"topic", m.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			slog.Warn("kafka commit failed", "topic", s.topic, "offset", m.Offset, "error", err)
		}
	}
}

// consumerGroup gives every tenant its own offsets, so a tenant's worker
// never consumes events meant for another.
func consumerGroup(base, tenantID string) string {
	if tenantID == domain.AllTenants {
		return base + ".all"
	}
	return base + "." + tenantID
}

func tenantOf(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == tenantHeader {
			return string(h.Value)
		}
	}
	return string(m.Key)
}

// Ping dials the first reachable broker.
func (b *KafkaBus) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range b.cfg.KafkaBrokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

// Close stops every reader and the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*kafkaSubscription, 0, len(b.readers))
	for _, s := range b.readers {
		subs = append(subs, s)
	}
	b.readers = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return b.writer.Close()
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	return s.reader.Close()
}

// Unsubscribe stops the reader.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	_, ok := s.bus.readers[s.id]
	delete(s.bus.readers, s.id)
	s.bus.mu.Unlock()

	if !ok {
		return nil
	}
	return s.stop()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
