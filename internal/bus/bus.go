package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/repricer/internal/domain"
)

var (
	errSellerRequired = errors.New("sellerID is required")
	errClosed         = errors.New("bus is closed")
)

// New creates a new event bus based on configuration.
// "channel" returns an in-process ChannelBus, "nats" a NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		b, err := NewNATSBus(cfg)
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(sellerID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:          uuid.NewString(),
		SellerID:    sellerID,
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
}

// DecodeTrigger reads a RunTrigger payload. The message seller wins over the payload.
func DecodeTrigger(msg *domain.Message) (domain.RunTrigger, error) {
	var trigger domain.RunTrigger
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &trigger); err != nil {
			return trigger, fmt.Errorf("invalid run trigger: %w", err)
		}
	}
	trigger.SellerID = msg.SellerID
	return trigger, nil
}
