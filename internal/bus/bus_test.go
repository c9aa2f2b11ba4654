package bus

import (
	"testing"

	"go.uber.org/zap"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := New(zap.NewNop().Sugar())

	var got []string
	b.Subscribe("email.sent", func(name string, payload any) {
		got = append(got, name+":"+payload.(string))
	})
	b.Subscribe("email.sent", func(name string, payload any) {
		got = append(got, "second")
	})
	b.Subscribe("email.failed", func(name string, payload any) {
		t.Error("unrelated subscriber should not be called")
	})

	b.Publish("email.sent", "msg-1")

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0] != "email.sent:msg-1" {
		t.Errorf("unexpected first delivery: %s", got[0])
	}
}

func TestWildcardReceivesEverything(t *testing.T) {
	b := New(zap.NewNop().Sugar())

	var names []string
	b.Subscribe(Wildcard, func(name string, payload any) {
		names = append(names, name)
	})

	b.Publish("email.sent", nil)
	b.Publish("user.created", nil)

	if len(names) != 2 || names[0] != "email.sent" || names[1] != "user.created" {
		t.Fatalf("wildcard saw %v", names)
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := New(zap.NewNop().Sugar())

	called := false
	b.Subscribe("email.sent", func(name string, payload any) {
		panic("boom")
	})
	b.Subscribe("email.sent", func(name string, payload any) {
		called = true
	})

	b.Publish("email.sent", nil)

	if !called {
		t.Fatal("sibling subscriber was not called after panic")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(zap.NewNop().Sugar())

	calls := 0
	id := b.Subscribe("email.sent", func(name string, payload any) {
		calls++
	})

	b.Publish("email.sent", nil)
	b.Unsubscribe("email.sent", id)
	b.Publish("email.sent", nil)

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
