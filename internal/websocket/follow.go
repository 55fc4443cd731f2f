package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/clubdesk/internal/bridge"
)

// FollowConfig describes the server feed a desk follows.
type FollowConfig struct {
	// BaseURL is the passd HTTP base URL; the scheme is switched to ws/wss.
	BaseURL string
	Token   string
	// ClientID identifies this desk. Events it caused were already published
	// locally and are skipped.
	ClientID string
	// NewBackoff builds the reconnect schedule. A fresh one is started
	// every time the feed connects, so delays only grow across consecutive
	// failures. Nil reconnects at a constant interval.
	NewBackoff func() retry.Backoff
}

// Follow reads the server's event feed and publishes each event on bus. It
// reconnects until ctx is cancelled or the backoff gives up.
func Follow(ctx context.Context, cfg FollowConfig, bus *bridge.Bus, logger *slog.Logger) error {
	feedURL, err := feedURL(cfg.BaseURL)
	if err != nil {
		return err
	}
	newBackoff := cfg.NewBackoff
	if newBackoff == nil {
		newBackoff = func() retry.Backoff { return retry.NewConstant(defaultReconnect) }
	}
	backoff := newResettable(newBackoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := followOnce(ctx, feedURL, cfg, bus, logger, backoff.reset)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("event feed disconnected", "error", err)
		return retry.RetryableError(err)
	})
}

func followOnce(ctx context.Context, feedURL string, cfg FollowConfig, bus *bridge.Bus, logger *slog.Logger, onConnect func()) error {
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	if cfg.ClientID != "" {
		header.Set("X-Client-ID", cfg.ClientID)
	}
	conn, _, err := ws.Dial(ctx, feedURL, &ws.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial event feed: %w", err)
	}
	defer conn.CloseNow()
	logger.Info("event feed connected", "url", feedURL)
	onConnect()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("bad event frame", "error", err)
			continue
		}
		if msg.Type != bridge.EventName {
			continue
		}
		if cfg.ClientID != "" && msg.Event.Origin == cfg.ClientID {
			continue
		}
		bus.Publish(msg.Event)
	}
}

// resettableBackoff delegates to a backoff that is rebuilt on reset.
type resettableBackoff struct {
	mu         sync.Mutex
	newBackoff func() retry.Backoff
	cur        retry.Backoff
}

func newResettable(newBackoff func() retry.Backoff) *resettableBackoff {
	return &resettableBackoff{newBackoff: newBackoff, cur: newBackoff()}
}

func (b *resettableBackoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur.Next()
}

func (b *resettableBackoff) reset() {
	b.mu.Lock()
	b.cur = b.newBackoff()
	b.mu.Unlock()
}

func feedURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}
