package stream

import (
	"encoding/json"
	"testing"
)

func TestPublishReachesSubscribers(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(4)
	defer h.Unsubscribe(sub)

	h.Publish(NewEvent(EventSessionCreated, map[string]string{"id": "s1"}))
	evt := <-sub
	if evt.Type != EventSessionCreated {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	var data map[string]string
	if err := json.Unmarshal(evt.Data, &data); err != nil || data["id"] != "s1" {
		t.Fatalf("unexpected data: %s (%v)", evt.Data, err)
	}
	if evt.At == "" {
		t.Fatal("expected timestamp")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(1)
	defer h.Unsubscribe(sub)

	h.Publish(NewEvent(EventAuditAppended, nil))
	h.Publish(NewEvent(EventAuditAppended, nil)) // buffer full, dropped
	if len(sub) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(sub))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(0)
	if h.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.SubscriberCount())
	}
	h.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	if h.SubscriberCount() != 0 {
		t.Fatal("subscriber not removed")
	}
	// double unsubscribe is a no-op
	h.Unsubscribe(sub)
}

func TestNewEventNilData(t *testing.T) {
	evt := NewEvent("ready", nil)
	if evt.Data != nil {
		t.Fatalf("expected nil data, got %s", evt.Data)
	}
}
