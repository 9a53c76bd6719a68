package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (community), NATS (pro) or Kafka.
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AllTenants subscribes to a topic across every tenant. It cannot be
// published to.
const AllTenants = "*"

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string `mapstructure:"type"`

	// Channel settings (community tier)
	ChannelBufferSize int `mapstructure:"channelbuffersize"`

	// NATS settings (pro tier)
	NATSUrl           string `mapstructure:"natsurl"`
	NATSToken         string `mapstructure:"natstoken"`
	NATSMaxReconnects int    `mapstructure:"natsmaxreconnects"`
	NATSReconnectWait int    `mapstructure:"natsreconnectwait"` // seconds

	// NATSQueueGroup, when set, load-balances each subscription across all
	// processes sharing the group instead of fanning out to every one.
	NATSQueueGroup string `mapstructure:"natsqueuegroup"`

	// Kafka settings
	KafkaBrokers []string `mapstructure:"kafkabrokers"`
	KafkaGroupID string   `mapstructure:"kafkagroupid"`
}

// Standard topic names for the scoring pipeline.
const (
	TopicLedgerAppended = "creditscore.ledger.appended"
	TopicScoreComputed  = "creditscore.score.computed"
	TopicScoreRecorded  = "creditscore.score.recorded"
)

// LedgerAppendedEvent is published after records are added to a ledger.
type LedgerAppendedEvent struct {
	TenantID   string `json:"tenantId"`
	MerchantID string `json:"merchantId"`
	TraceID    string `json:"traceId,omitempty"`
	Appended   int    `json:"appended"`

	// AsOf, when set, is the epoch to score for (RFC 3339). Empty means now.
	AsOf string `json:"asOf,omitempty"`
}

// ScoreEvent is published on score.computed and score.recorded.
type ScoreEvent struct {
	TenantID   string      `json:"tenantId"`
	MerchantID string      `json:"merchantId"`
	TraceID    string      `json:"traceId,omitempty"`
	Epoch      *time.Time  `json:"epoch,omitempty"`
	Result     ScoreResult `json:"result"`
}
