package domain

import (
	"context"
	"time"
)

// Topics carried by the event bus. Subjects append the seller: "<topic>.<seller>".
const (
	// TopicRuleExecute carries a RunTrigger for one rule from the external scheduler.
	TopicRuleExecute = "repricer.rule.execute"

	// TopicBatchExecute carries a RunTrigger without a rule: run every active rule,
	// or only the due ones.
	TopicBatchExecute = "repricer.batch.execute"

	// TopicRuleExecuted carries the ExecutionLog of every completed run.
	TopicRuleExecuted = "repricer.rule.executed"
)

// EventBus moves scheduler triggers in and run notifications out. Every
// operation is scoped to one seller.
type EventBus interface {
	Publish(ctx context.Context, sellerID string, topic string, payload []byte) error

	// Subscribe delivers the seller's messages on topic to handler until the
	// subscription is cancelled or the bus closes.
	Subscribe(ctx context.Context, sellerID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around a published payload.
type Message struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"sellerId"`
	Topic       string    `json:"topic"`
	Payload     []byte    `json:"payload,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// RunTrigger asks for an immediate execution.
type RunTrigger struct {
	RuleID      string `json:"ruleId,omitempty"`
	SellerID    string `json:"sellerId,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`

	// DueOnly restricts a batch trigger to rules whose schedule is due.
	DueOnly bool `json:"dueOnly,omitempty"`
}

// EventBusConfig selects and tunes the bus. Type is "channel" or "nats".
type EventBusConfig struct {
	Type string `mapstructure:"type"`

	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup is shared by replicas consuming scheduler triggers.
	NATSQueueGroup string `mapstructure:"nats_queue_group"`
}
