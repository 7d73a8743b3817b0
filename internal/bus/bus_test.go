package bus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	b := New()

	var got []Event
	unsub := b.Subscribe(EventLoginsChanged, func(ev Event) {
		got = append(got, ev)
	})

	b.Publish(EventLoginsChanged)
	b.Publish(EventAccountChanged) // no subscriber, dropped
	b.Publish(EventLoginsChanged)

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}

	unsub()
	unsub() // second unsubscribe is a no-op
	b.Publish(EventLoginsChanged)

	if len(got) != 2 {
		t.Errorf("expected no delivery after unsubscribe, got %d", len(got))
	}
}

func TestMultipleSubscribers(t *testing.T) {
	b := New()

	var mu sync.Mutex
	count := 0
	for i := 0; i < 3; i++ {
		b.Subscribe(EventAccountChanged, func(Event) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	b.Publish(EventAccountChanged)

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("expected 3 deliveries, got %d", count)
	}
}

func TestLoginsWatcherPublishesOnWrite(t *testing.T) {
	dir := t.TempDir()
	loginsPath := filepath.Join(dir, "logins.db")
	if err := os.WriteFile(loginsPath, []byte("v1"), 0644); err != nil {
		t.Fatalf("failed to seed logins file: %v", err)
	}

	b := New()
	events := make(chan Event, 4)
	b.Subscribe(EventLoginsChanged, func(ev Event) { events <- ev })

	w, err := NewLoginsWatcher(loginsPath, b, nil)
	if err != nil {
		t.Fatalf("NewLoginsWatcher failed: %v", err)
	}
	w.debounce = 50 * time.Millisecond

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	// A burst of writes collapses into one event.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(loginsPath, []byte("v2"), 0644); err != nil {
			t.Fatalf("failed to write logins file: %v", err)
		}
	}

	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for logins-changed event")
	}

	// The burst already flushed; no second event should be pending.
	select {
	case <-events:
		t.Error("burst of writes produced more than one event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLoginsWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	loginsPath := filepath.Join(dir, "logins.db")
	if err := os.WriteFile(loginsPath, []byte("v1"), 0644); err != nil {
		t.Fatalf("failed to seed logins file: %v", err)
	}

	b := New()
	events := make(chan Event, 1)
	b.Subscribe(EventLoginsChanged, func(ev Event) { events <- ev })

	w, err := NewLoginsWatcher(loginsPath, b, nil)
	if err != nil {
		t.Fatalf("NewLoginsWatcher failed: %v", err)
	}
	w.debounce = 50 * time.Millisecond

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "places.db"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write sibling file: %v", err)
	}

	select {
	case <-events:
		t.Error("sibling file write produced a logins-changed event")
	case <-time.After(300 * time.Millisecond):
	}
}
