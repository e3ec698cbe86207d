package messaging

import (
	"os"
	"testing"
	"time"
)

// newTestClient connects to the NATS server named by NATS_URL (or the
// default local one), skipping the test when none is reachable.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.URL = v
	}
	cfg.Name = "guardbot-test"
	cfg.MaxReconnects = 0

	c, err := NewNATSClient(cfg, nil)
	if err != nil {
		t.Skipf("NATS not available at %s, skipping: %v", cfg.URL, err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestEventsRoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 1)
	if err := c.SubscribeEvents("", func(data []byte) { got <- data }); err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	if err := c.Flush(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := c.PublishEvent([]byte(`{"kind":"private_message","user_id":"1"}`)); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case data := <-got:
		if string(data) != `{"kind":"private_message","user_id":"1"}` {
			t.Errorf("received %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestActionsRoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 1)
	if err := c.SubscribeActions(func(data []byte) { got <- data }); err != nil {
		t.Fatalf("SubscribeActions: %v", err)
	}
	if err := c.Flush(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := c.PublishAction([]byte(`{"type":"send_reply"}`)); err != nil {
		t.Fatalf("PublishAction: %v", err)
	}

	select {
	case data := <-got:
		if string(data) != `{"type":"send_reply"}` {
			t.Errorf("received %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("action not delivered")
	}
}

func TestUnsubscribe(t *testing.T) {
	c := newTestClient(t)

	if err := c.SubscribeReload(func([]byte) {}); err != nil {
		t.Fatal(err)
	}
	if err := c.Unsubscribe(SubjectReload); err != nil {
		t.Errorf("Unsubscribe: %v", err)
	}
	if err := c.Unsubscribe(SubjectReload); err == nil {
		t.Error("second Unsubscribe succeeded, want error")
	}
}
