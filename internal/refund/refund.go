// Package refund voids a pass with a two-step confirmation and an optimistic
// removal from the inventory cache.
package refund

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukerupert/clubdesk/internal/bridge"
	"github.com/dukerupert/clubdesk/internal/clock"
	"github.com/dukerupert/clubdesk/internal/inventory"
	"github.com/dukerupert/clubdesk/internal/passapi"
)

// DefaultNoticeTTL is how long a success notice stays visible.
const DefaultNoticeTTL = 4 * time.Second

var (
	ErrNothingSelected = errors.New("no pass selected for refund")
	ErrBusy            = errors.New("a refund is already in flight")
)

// Refunder is the part of the pass API the workflow needs.
type Refunder interface {
	Refund(ctx context.Context, passID string) error
}

// Notice is a transient confirmation shown after a refund succeeds.
type Notice struct {
	PassID    string    `json:"passId"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// View is a rendering snapshot.
type View struct {
	Selected  string         `json:"selected,omitempty"`
	InFlight  string         `json:"inFlight,omitempty"`
	Error     *passapi.Error `json:"error,omitempty"`
	Notice    *Notice        `json:"notice,omitempty"`
	ErrorPass string         `json:"errorPass,omitempty"`
}

// Workflow guards refunds of one console view.
type Workflow struct {
	mu     sync.Mutex
	api    Refunder
	cache  *inventory.Cache
	bus    *bridge.Bus
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger

	selected  string
	inFlight  string
	err       *passapi.Error
	errorPass string
	notice    *Notice

	onChange func(View)
	closed   atomic.Bool
}

// New creates a refund workflow. A zero ttl uses DefaultNoticeTTL.
func New(api Refunder, cache *inventory.Cache, bus *bridge.Bus, clk clock.Clock, ttl time.Duration, logger *slog.Logger) *Workflow {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{api: api, cache: cache, bus: bus, clock: clk, ttl: ttl, logger: logger}
}

// OnChange registers a callback invoked after every transition.
func (w *Workflow) OnChange(fn func(View)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Close freezes the workflow; completions arriving later are dropped.
func (w *Workflow) Close() {
	w.closed.Store(true)
}

// View returns a snapshot. An expired notice is not reported.
func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

func (w *Workflow) viewLocked() View {
	v := View{Selected: w.selected, InFlight: w.inFlight, ErrorPass: w.errorPass}
	if w.err != nil {
		e := *w.err
		v.Error = &e
	}
	if w.notice != nil && w.clock.Now().Before(w.notice.ExpiresAt) {
		n := *w.notice
		v.Notice = &n
	}
	return v
}

func (w *Workflow) transition(fn func()) {
	if w.closed.Load() {
		return
	}
	w.mu.Lock()
	fn()
	cb := w.onChange
	v := w.viewLocked()
	w.mu.Unlock()
	if cb != nil {
		cb(v)
	}
}

// Select is the first step: it marks passID as pending confirmation.
func (w *Workflow) Select(passID string) {
	w.transition(func() {
		w.selected = passID
		w.err = nil
		w.errorPass = ""
	})
}

// Cancel clears a pending selection.
func (w *Workflow) Cancel() {
	w.transition(func() { w.selected = "" })
}

// Confirm refunds the selected pass. The pass leaves the cache before the
// request is sent and is restored if the server refuses.
func (w *Workflow) Confirm(ctx context.Context) error {
	passID, err := w.claim()
	if err != nil {
		return err
	}

	mut := w.cache.Begin()
	mut.Remove(passID)

	if err := w.api.Refund(ctx, passID); err != nil {
		mut.Rollback()
		e := *passapi.AsError(err)
		apiErr := &e
		if apiErr.Kind != passapi.KindNetwork {
			apiErr.Kind = passapi.KindRefund
		}
		w.logger.Warn("refund failed", "pass_id", passID, "kind", apiErr.Kind, "error", apiErr.Message)
		w.transition(func() {
			w.inFlight = ""
			w.err = apiErr
			w.errorPass = passID
		})
		return apiErr
	}
	mut.Commit()

	ev := bridge.Refunded(passID)
	ev.Origin = w.cache.ID()
	w.bus.Publish(ev)

	w.logger.Info("pass refunded", "pass_id", passID)
	w.transition(func() {
		w.inFlight = ""
		w.notice = &Notice{
			PassID:    passID,
			Message:   "Pass refunded.",
			ExpiresAt: w.clock.Now().Add(w.ttl),
		}
	})
	return nil
}

// claim takes the selected pass and marks it in flight in one step, so two
// overlapping confirmations cannot both send a refund.
func (w *Workflow) claim() (string, error) {
	w.mu.Lock()
	passID := w.selected
	switch {
	case passID == "":
		w.mu.Unlock()
		return "", ErrNothingSelected
	case w.inFlight != "":
		w.mu.Unlock()
		return "", ErrBusy
	}
	w.selected = ""
	w.inFlight = passID
	w.err = nil
	w.errorPass = ""
	cb := w.onChange
	v := w.viewLocked()
	w.mu.Unlock()

	if cb != nil && !w.closed.Load() {
		cb(v)
	}
	return passID, nil
}

// DismissNotice hides the success notice before it expires.
func (w *Workflow) DismissNotice() {
	w.transition(func() { w.notice = nil })
}

// DismissError clears a refund error.
func (w *Workflow) DismissError() {
	w.transition(func() {
		w.err = nil
		w.errorPass = ""
	})
}
