package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/notenetra/creditscore/internal/domain"
)

// NATS headers carrying the message envelope. The payload travels as the
// message body, unwrapped.
const (
	headerTenant      = "Creditscore-Tenant"
	headerTopic       = "Creditscore-Topic"
	headerPublishedAt = "Creditscore-Published-At"
)

// subjectRoot prefixes every subject; topics already start with it.
const subjectRoot = "creditscore"

// NATSBus is the pro tier event bus. Subjects are
// creditscore.<tenant>.<event>, so an all-tenant subscription is a single
// wildcard subject. With a queue group configured, replicas of the worker
// share each tenant's events instead of all re-scoring the same merchant.
type NATSBus struct {
	mu     sync.Mutex
	conn   *nats.Conn
	subs   map[*natsSubscription]struct{}
	queue  string
	closed bool
}

type natsSubscription struct {
	bus   *NATSBus
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS, retrying up to NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects <= 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait <= 0 {
		cfg.NATSReconnectWait = 5
	}

	conn, err := connectNATS(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"queue_group", cfg.NATSQueueGroup,
	)

	return &NATSBus{
		conn:  conn,
		subs:  make(map[*natsSubscription]struct{}),
		queue: cfg.NATSQueueGroup,
	}, nil
}

func connectNATS(cfg domain.EventBusConfig) (*nats.Conn, error) {
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	opts := []nats.Option{
		nats.Name("creditscore"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err := nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		if attempt < cfg.NATSMaxReconnects {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, lastErr)
}

// natsSubject maps a tenant and topic to a subject. Tenant IDs become a
// single subject token, so they may not contain dots, wildcards or spaces;
// domain.AllTenants maps to the token wildcard.
func natsSubject(tenantID, topic string) (string, error) {
	token := tenantID
	if tenantID != domain.AllTenants {
		if err := domain.CheckTenantID(tenantID); err != nil {
			return "", err
		}
	}
	event := strings.TrimPrefix(topic, subjectRoot+".")
	return subjectRoot + "." + token + "." + event, nil
}

// Publish sends payload as the message body with the envelope in headers.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkPublishTenant(tenantID); err != nil {
		return err
	}
	subject, err := natsSubject(tenantID, topic)
	if err != nil {
		return err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := newMessage(tenantID, topic, payload)
	return b.conn.PublishMsg(toNATS(subject, msg))
}

func toNATS(subject string, msg *domain.Message) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = msg.Payload
	m.Header.Set(nats.MsgIdHdr, msg.ID)
	m.Header.Set(headerTenant, msg.TenantID)
	m.Header.Set(headerTopic, msg.Topic)
	m.Header.Set(headerPublishedAt, strconv.FormatInt(msg.Timestamp, 10))
	return m
}

// fromNATS rebuilds the envelope. A message without headers, published by
// another client, takes its tenant from the subject.
func fromNATS(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		ID:       m.Header.Get(nats.MsgIdHdr),
		TenantID: m.Header.Get(headerTenant),
		Topic:    m.Header.Get(headerTopic),
		Payload:  m.Data,
		Metadata: map[string]string{"subject": m.Subject},
	}
	msg.Timestamp, _ = strconv.ParseInt(m.Header.Get(headerPublishedAt), 10, 64)

	if msg.TenantID == "" || msg.Topic == "" {
		parts := strings.SplitN(m.Subject, ".", 3)
		if len(parts) == 3 && parts[0] == subjectRoot {
			if msg.TenantID == "" {
				msg.TenantID = parts[1]
			}
			if msg.Topic == "" {
				msg.Topic = subjectRoot + "." + parts[2]
			}
		}
	}
	return msg
}

// Subscribe listens on the tenant's subject, or on every tenant's subject
// for domain.AllTenants.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkSubscribeTenant(tenantID); err != nil {
		return nil, err
	}
	subject, err := natsSubject(tenantID, topic)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	deliver := func(m *nats.Msg) {
		msg := fromNATS(m)
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"tenant_id", msg.TenantID,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var natsSub *nats.Subscription
	if b.queue != "" {
		natsSub, err = b.conn.QueueSubscribe(subject, b.queue, deliver)
	} else {
		natsSub, err = b.conn.Subscribe(subject, deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	sub := &natsSubscription{bus: b, topic: topic, sub: natsSub}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Ping flushes the connection.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains pending deliveries and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.subs = make(map[*natsSubscription]struct{})

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	return nil
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
