// Package bus provides event bus implementations for the repricer.
package bus

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/opensource-finance/repricer/internal/domain"
)

// DefaultChannelBuffer is the per-subscriber queue length used when none is configured.
const DefaultChannelBuffer = 1000

type route struct {
	seller string
	topic  string
}

// ChannelBus is the in-process EventBus for single-node deployments. It mirrors
// NATS delivery: trigger topics go to one subscriber in turn, other topics fan
// out to all of them. A subscriber whose queue is full misses the message.
type ChannelBus struct {
	mu       sync.RWMutex
	buffer   int
	routes   map[route][]*channelSubscription
	next     map[route]int
	closed   bool
	inflight sync.WaitGroup
}

type channelSubscription struct {
	id      string
	route   route
	handler domain.MessageHandler
	queue   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscribers each buffer bufferSize messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = DefaultChannelBuffer
	}
	return &ChannelBus{
		buffer: bufferSize,
		routes: make(map[route][]*channelSubscription),
		next:   make(map[route]int),
	}
}

func (b *ChannelBus) Publish(ctx context.Context, sellerID string, topic string, payload []byte) error {
	if sellerID == "" {
		return errSellerRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}

	rt := route{sellerID, topic}
	subs := b.routes[rt]
	if len(subs) == 0 {
		return nil
	}
	if triggerTopics[topic] {
		i := b.next[rt] % len(subs)
		b.next[rt] = i + 1
		subs = subs[i : i+1]
	}

	msg := newMessage(sellerID, topic, payload)
	for _, sub := range subs {
		select {
		case sub.queue <- msg:
		default:
			slog.Warn("subscriber queue full, message dropped",
				"topic", topic,
				"seller_id", sellerID,
				"subscription_id", sub.id,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

func (b *ChannelBus) Subscribe(ctx context.Context, sellerID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if sellerID == "" {
		return nil, errSellerRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.NewString(),
		route:   route{sellerID, topic},
		handler: handler,
		queue:   make(chan *domain.Message, b.buffer),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}
	b.routes[sub.route] = append(b.routes[sub.route], sub)

	b.inflight.Add(1)
	go sub.consume()
	return sub, nil
}

func (s *channelSubscription) consume() {
	defer s.bus.inflight.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", s.route.topic,
					"seller_id", s.route.seller,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	return nil
}

// Close stops every subscriber and waits for running handlers to return.
// Queued messages are discarded. It must not be called from a handler.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	clear(b.routes)
	clear(b.next)
	b.mu.Unlock()

	b.inflight.Wait()
	return nil
}

func (b *ChannelBus) detach(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := slices.DeleteFunc(b.routes[sub.route], func(s *channelSubscription) bool { return s == sub })
	if len(subs) == 0 {
		delete(b.routes, sub.route)
		delete(b.next, sub.route)
		return
	}
	b.routes[sub.route] = subs
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.detach(s)
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.route.topic
}

var _ domain.EventBus = (*ChannelBus)(nil)
