package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notenetra/creditscore/internal/domain"
)

// ErrClosed is returned by every operation on a closed bus.
var ErrClosed = errors.New("bus is closed")

// New opens the bus cfg.Type names: in-process channels, NATS, or Kafka
// where a deployment already runs it as the backbone.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	case "kafka":
		return NewKafkaBus(cfg)
	}
	return nil, fmt.Errorf("unknown event bus type %q", cfg.Type)
}

// checkPublishTenant rejects tenants a message cannot be addressed to.
func checkPublishTenant(tenantID string) error {
	switch tenantID {
	case "":
		return fmt.Errorf("tenantID is required")
	case domain.AllTenants:
		return fmt.Errorf("cannot publish to all tenants")
	}
	return nil
}

func checkSubscribeTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return nil
}

// delivers reports whether a subscription for subTenant receives a message
// published for msgTenant.
func delivers(subTenant, msgTenant string) bool {
	return subTenant == domain.AllTenants || subTenant == msgTenant
}

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
