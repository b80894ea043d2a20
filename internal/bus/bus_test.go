package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/repricer/internal/domain"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	sellerID := "seller-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, sellerID, domain.TopicRuleExecuted, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, sellerID, domain.TopicRuleExecuted, []byte(`{"ruleId":"rule-1"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != `{"ruleId":"rule-1"}` {
				t.Errorf("unexpected payload %s", msg.Payload)
			}
			if msg.SellerID != sellerID {
				t.Errorf("expected sellerID %s, got %s", sellerID, msg.SellerID)
			}
			if msg.ID == "" || msg.PublishedAt.IsZero() {
				t.Errorf("expected envelope id and publish time, got %+v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("SellerIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "seller-a", domain.TopicRuleExecute, func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "seller-b", domain.TopicRuleExecute, func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "seller-a", domain.TopicRuleExecute, nil)
		waitFor(t, func() bool { return received1.Load() == 1 })

		time.Sleep(20 * time.Millisecond)
		if received2.Load() != 0 {
			t.Errorf("seller-b should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("RequiresSellerID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty sellerID")
		}

		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty sellerID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, sellerID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, sellerID, "unsub.topic", []byte("msg1"))
		waitFor(t, func() bool { return count.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.mu.RLock()
		_, stillRegistered := bus.routes[route{sellerID, "unsub.topic"}]
		bus.mu.RUnlock()
		if stillRegistered {
			t.Error("expected subscription to be removed")
		}

		bus.Publish(ctx, sellerID, "unsub.topic", []byte("msg2"))
		time.Sleep(20 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, sellerID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, sellerID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, sellerID, "multi.topic", []byte("broadcast"))
		waitFor(t, func() bool { return count1.Load() == 1 && count2.Load() == 1 })
	})

	t.Run("TriggersGoToOneSubscriber", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "seller-rr", domain.TopicRuleExecute, func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "seller-rr", domain.TopicRuleExecute, func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		for i := 0; i < 4; i++ {
			bus.Publish(ctx, "seller-rr", domain.TopicRuleExecute, nil)
		}
		waitFor(t, func() bool { return count1.Load()+count2.Load() == 4 })
		if count1.Load() != 2 || count2.Load() != 2 {
			t.Errorf("expected triggers split 2/2, got %d/%d", count1.Load(), count2.Load())
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, sellerID, domain.TopicBatchExecute, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != domain.TopicBatchExecute {
			t.Errorf("expected topic %s, got %s", domain.TopicBatchExecute, sub.Topic())
		}
	})
}

func TestChannelBusDropsWhenBufferFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	var handled atomic.Int32

	bus.Subscribe(ctx, "seller-001", "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	// One message blocks the handler, one fills the buffer, the rest are dropped.
	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, "seller-001", "slow.topic", nil); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	waitFor(t, func() bool { return handled.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := handled.Load(); n > 2 {
		t.Errorf("expected at most 2 handled messages, got %d", n)
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "seller-001", "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "seller-001", "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestDecodeTrigger(t *testing.T) {
	t.Run("MessageSellerWins", func(t *testing.T) {
		payload, _ := json.Marshal(domain.RunTrigger{RuleID: "rule-1", SellerID: "someone-else", RequestedBy: "cron"})
		trigger, err := DecodeTrigger(&domain.Message{SellerID: "seller-001", Payload: payload})
		if err != nil {
			t.Fatalf("DecodeTrigger failed: %v", err)
		}
		if trigger.RuleID != "rule-1" || trigger.SellerID != "seller-001" || trigger.RequestedBy != "cron" {
			t.Errorf("unexpected trigger: %+v", trigger)
		}
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		trigger, err := DecodeTrigger(&domain.Message{SellerID: "seller-001"})
		if err != nil {
			t.Fatalf("DecodeTrigger failed: %v", err)
		}
		if trigger.RuleID != "" || trigger.SellerID != "seller-001" {
			t.Errorf("unexpected trigger: %+v", trigger)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		if _, err := DecodeTrigger(&domain.Message{SellerID: "s", Payload: []byte("{")}); err == nil {
			t.Error("expected error for malformed payload")
		}
	})
}

func TestNATSSubject(t *testing.T) {
	if got := subject(domain.TopicRuleExecute, "seller-001"); got != "repricer.rule.execute.seller-001" {
		t.Errorf("unexpected subject %s", got)
	}

	for topic, queued := range map[string]bool{
		domain.TopicRuleExecute:  true,
		domain.TopicBatchExecute: true,
		domain.TopicRuleExecuted: false,
	} {
		if triggerTopics[topic] != queued {
			t.Errorf("topic %s: expected queued=%v", topic, queued)
		}
	}
}
