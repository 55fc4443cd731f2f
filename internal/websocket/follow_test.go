package websocket

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/clubdesk/internal/bridge"
)

func TestFeedURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":     "ws://localhost:8080/ws",
		"https://desk.example.com/": "wss://desk.example.com/ws",
		"http://host/api":           "ws://host/api/ws",
	}
	for in, want := range tests {
		got, err := feedURL(in)
		if err != nil || got != want {
			t.Errorf("feedURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := feedURL("ftp://host"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

func TestFollowPublishesOtherDesksEvents(t *testing.T) {
	hub := NewHub(slog.Default())
	server := httptest.NewServer(HandleWebSocket(hub, slog.Default()))
	defer server.Close()

	bus := bridge.New(slog.Default())
	got := make(chan bridge.Event, 4)
	bus.Subscribe(func(ev bridge.Event) { got <- ev })

	var schedules atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, FollowConfig{
			BaseURL:  server.URL,
			ClientID: "desk-1",
			NewBackoff: func() retry.Backoff {
				schedules.Add(1)
				return retry.NewConstant(10 * time.Millisecond)
			},
		}, bus, slog.Default())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("desk never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	own := bridge.Refunded("mine")
	own.Origin = "desk-1"
	hub.Broadcast(own)
	other := bridge.Refunded("theirs")
	other.Origin = "desk-2"
	hub.Broadcast(other)

	select {
	case ev := <-got:
		if ev.PassID != "theirs" {
			t.Errorf("published %q, want only the other desk's event", ev.PassID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for relayed event")
	}
	if n := schedules.Load(); n < 2 {
		t.Errorf("backoff schedules = %d, want a fresh one after connecting", n)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not stop on cancel")
	}
}

func TestResettableBackoffRestartsSchedule(t *testing.T) {
	b := newResettable(func() retry.Backoff {
		return retry.WithCappedDuration(time.Second, retry.NewExponential(10*time.Millisecond))
	})

	var last time.Duration
	for range 8 {
		last, _ = b.Next()
	}
	if last != time.Second {
		t.Fatalf("delay after 8 failures = %v, want the 1s cap", last)
	}

	b.reset()
	if next, stop := b.Next(); stop || next != 10*time.Millisecond {
		t.Errorf("delay after reset = %v (stop %v), want 10ms", next, stop)
	}
}
