// Package redemption orchestrates finding a pass, redeeming it against the
// pass API with an optimistic inventory update, and recovering from the
// redemption error taxonomy.
package redemption

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/clubdesk/internal/bridge"
	"github.com/dukerupert/clubdesk/internal/inventory"
	"github.com/dukerupert/clubdesk/internal/model"
	"github.com/dukerupert/clubdesk/internal/passapi"
	"github.com/dukerupert/clubdesk/internal/passid"
)

// State is the workflow state.
type State string

const (
	StateIdle        State = "idle"
	StateSearching   State = "searching"
	StateResults     State = "results"
	StateNoResults   State = "no-results"
	StateSearchError State = "search-error"
	StateRedeeming   State = "redeeming"
	StateSuccess     State = "success"
	StateError       State = "error"
)

// Mode is how the operator is identifying the pass.
type Mode string

const (
	ModeEmail  Mode = "email"
	ModeManual Mode = "manual"
	ModeScan   Mode = "scan"
)

var (
	ErrNoForcePending = errors.New("no force redemption pending for this pass")
	ErrNoOutcome      = errors.New("no redemption to book a guest for")
)

// API is the part of the pass API the workflow needs.
type API interface {
	Search(ctx context.Context, email string) ([]model.Pass, error)
	Redeem(ctx context.Context, passID string, opts passapi.RedeemOptions) (*model.RedeemResult, error)
	History(ctx context.Context, passID string) ([]model.RedemptionLogEntry, error)
}

// Hooks hand the operator off to flows outside this workflow.
type Hooks struct {
	SellNewPass  func(email string)
	BookForGuest func(holder model.PassHolder)
}

// Options configures a Workflow.
type Options struct {
	// Location is recorded with every redemption, e.g. "pro shop".
	Location string
	Hooks    Hooks
}

// Outcome describes a confirmed redemption.
type Outcome struct {
	PassID        string            `json:"passId"`
	Holder        *model.PassHolder `json:"passHolder,omitempty"`
	RemainingUses int               `json:"remainingUses"`
	RedeemedAt    time.Time         `json:"redeemedAt"`
	Forced        bool              `json:"forced,omitempty"`
}

// Rich reports whether the server identified the holder, which enables the
// book-for-guest hand-off.
func (o Outcome) Rich() bool {
	return o.Holder != nil
}

// View is a rendering snapshot of the workflow.
type View struct {
	State           State                                 `json:"state"`
	Mode            Mode                                  `json:"mode"`
	Email           string                                `json:"email,omitempty"`
	ShowEmailSearch bool                                  `json:"showEmailSearch"`
	Results         []model.Pass                          `json:"results,omitempty"`
	Failure         *Failure                              `json:"failure,omitempty"`
	Outcome         *Outcome                              `json:"outcome,omitempty"`
	Actions         []Action                              `json:"actions,omitempty"`
	ConfirmingForce []string                              `json:"confirmingForce,omitempty"`
	History         map[string][]model.RedemptionLogEntry `json:"history,omitempty"`
	HistoryOpen     []string                              `json:"historyOpen,omitempty"`
	HistoryErrors   map[string]*Failure                   `json:"historyErrors,omitempty"`
}

// Workflow is the redemption state machine of one console view.
type Workflow struct {
	mu     sync.Mutex
	api    API
	cache  *inventory.Cache
	bus    *bridge.Bus
	opts   Options
	logger *slog.Logger

	state    State
	mode     Mode
	email    string
	searched bool
	results  []model.Pass
	failure  *Failure
	outcome  *Outcome
	retry    func(context.Context) error

	// Force confirmation is keyed by pass id so two passes that both hit
	// ALREADY_REDEEMED_TODAY cannot confirm each other.
	forceConfirm map[string]bool

	history     map[string][]model.RedemptionLogEntry
	historyOpen map[string]bool
	historyErr  map[string]*Failure
	flights     singleflight.Group

	onChange func(View)
	closed   atomic.Bool
}

// New creates a workflow redeeming through api and mutating cache.
func New(api API, cache *inventory.Cache, bus *bridge.Bus, opts Options, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		api:          api,
		cache:        cache,
		bus:          bus,
		opts:         opts,
		logger:       logger,
		state:        StateIdle,
		mode:         ModeEmail,
		forceConfirm: make(map[string]bool),
		history:      make(map[string][]model.RedemptionLogEntry),
		historyOpen:  make(map[string]bool),
		historyErr:   make(map[string]*Failure),
	}
}

// OnChange registers a callback invoked with a fresh View after every transition.
func (w *Workflow) OnChange(fn func(View)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Close marks the owning view as gone. Completions that arrive afterwards
// leave the workflow untouched.
func (w *Workflow) Close() {
	w.closed.Store(true)
}

// View returns a snapshot for rendering.
func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

func (w *Workflow) viewLocked() View {
	v := View{
		State:           w.state,
		Mode:            w.mode,
		Email:           w.email,
		ShowEmailSearch: w.mode != ModeManual,
		Results:         slices.Clone(w.results),
		History:         maps.Clone(w.history),
		HistoryErrors:   maps.Clone(w.historyErr),
	}
	if w.failure != nil {
		f := *w.failure
		v.Failure = &f
		v.Actions = Recovery(f.Kind)
		if w.forceConfirm[f.PassID] {
			v.Actions = []Action{ActionConfirmForce, ActionCancelForce}
		}
	}
	if w.outcome != nil {
		o := *w.outcome
		v.Outcome = &o
		v.Actions = []Action{ActionStartOver}
		if o.Rich() {
			v.Actions = append(v.Actions, ActionBookForGuest)
		}
	}
	for id, ok := range w.forceConfirm {
		if ok {
			v.ConfirmingForce = append(v.ConfirmingForce, id)
		}
	}
	slices.Sort(v.ConfirmingForce)
	for id, open := range w.historyOpen {
		if open {
			v.HistoryOpen = append(v.HistoryOpen, id)
		}
	}
	slices.Sort(v.HistoryOpen)
	return v
}

// transition mutates state under the lock and notifies. It is a no-op once
// the workflow is closed.
func (w *Workflow) transition(fn func()) {
	if w.closed.Load() {
		return
	}
	w.mu.Lock()
	fn()
	cb := w.onChange
	var v View
	if cb != nil {
		v = w.viewLocked()
	}
	w.mu.Unlock()

	if cb != nil {
		cb(v)
	}
}

// EnterManualMode switches to typed pass-ID entry and hides the email search.
func (w *Workflow) EnterManualMode() {
	w.transition(func() {
		w.resetLocked()
		w.mode = ModeManual
	})
}

// EnterScanMode switches to camera entry.
func (w *Workflow) EnterScanMode() {
	w.transition(func() {
		w.resetLocked()
		w.mode = ModeScan
	})
}

// EnterEmailMode switches back to searching by purchaser email.
func (w *Workflow) EnterEmailMode() {
	w.transition(func() {
		w.resetLocked()
		w.mode = ModeEmail
	})
}

// StartOver clears results, errors, and outcomes but keeps the entry mode.
func (w *Workflow) StartOver() {
	w.transition(w.resetLocked)
}

func (w *Workflow) resetLocked() {
	w.state = StateIdle
	w.email = ""
	w.searched = false
	w.results = nil
	w.failure = nil
	w.outcome = nil
	w.retry = nil
	clear(w.forceConfirm)
}

// SearchByEmail looks up passes with remaining uses bought by email.
func (w *Workflow) SearchByEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	w.transition(func() {
		w.mode = ModeEmail
		w.state = StateSearching
		w.email = email
		w.failure = nil
		w.outcome = nil
		w.retry = func(ctx context.Context) error { return w.SearchByEmail(ctx, email) }
	})

	passes, err := w.api.Search(ctx, email)
	if err != nil {
		f := newFailure(err, "")
		w.transition(func() {
			w.state = StateSearchError
			w.failure = f
			w.results = nil
			w.searched = false
		})
		return passapi.AsError(err)
	}

	w.cache.Correct(passes)
	w.transition(func() {
		w.results = passes
		w.searched = true
		if len(passes) == 0 {
			w.state = StateNoResults
		} else {
			w.state = StateResults
		}
	})
	return nil
}

// SubmitCode takes scanned or typed text. Empty or garbled input is ignored;
// a member code fails immediately without contacting the server.
func (w *Workflow) SubmitCode(ctx context.Context, raw string) error {
	id, err := passid.Normalize(raw)
	if passid.Ignorable(err) {
		w.logger.Debug("ignored pass input", "reason", err)
		return nil
	}
	if errors.Is(err, passid.ErrWrongCodeType) {
		apiErr := &passapi.Error{Kind: passapi.KindInvalidQRType, Message: defaultMessage(passapi.KindInvalidQRType)}
		w.transition(func() {
			w.state = StateError
			w.failure = newFailure(apiErr, "")
			w.outcome = nil
			w.retry = nil
		})
		return apiErr
	}
	return w.redeem(ctx, id, false)
}

// Redeem consumes one use of passID.
func (w *Workflow) Redeem(ctx context.Context, passID string) error {
	return w.redeem(ctx, passID, false)
}

// RedeemAnyway is the first step of a forced redemption after
// ALREADY_REDEEMED_TODAY: it asks for explicit confirmation.
func (w *Workflow) RedeemAnyway(passID string) error {
	w.mu.Lock()
	ok := w.failure != nil && w.failure.Kind == passapi.KindAlreadyRedeemedToday && w.failure.PassID == passID
	w.mu.Unlock()
	if !ok {
		return ErrNoForcePending
	}
	w.transition(func() { w.forceConfirm[passID] = true })
	return nil
}

// CancelForce abandons a pending forced redemption.
func (w *Workflow) CancelForce(passID string) {
	w.transition(func() { delete(w.forceConfirm, passID) })
}

// ConfirmForceRedeem is the second step: it redeems passID with the force flag.
func (w *Workflow) ConfirmForceRedeem(ctx context.Context, passID string) error {
	w.mu.Lock()
	ok := w.forceConfirm[passID]
	delete(w.forceConfirm, passID)
	w.mu.Unlock()
	if !ok {
		return ErrNoForcePending
	}
	return w.redeem(ctx, passID, true)
}

// Retry re-issues the request that produced the current error.
func (w *Workflow) Retry(ctx context.Context) error {
	w.mu.Lock()
	fn := w.retry
	w.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// SellNewPass hands off to the point-of-sale flow, prefilled with the email
// the operator was working with.
func (w *Workflow) SellNewPass() {
	w.mu.Lock()
	email := w.email
	if email == "" && w.failure != nil && w.failure.Details != nil {
		email = w.failure.Details.Email
	}
	w.mu.Unlock()
	if w.opts.Hooks.SellNewPass != nil {
		w.opts.Hooks.SellNewPass(email)
	}
}

// SwitchToEmailSearch is the PASS_NOT_FOUND recovery path.
func (w *Workflow) SwitchToEmailSearch() {
	w.EnterEmailMode()
}

// BookForGuest hands a rich redemption off to the booking flow.
func (w *Workflow) BookForGuest() error {
	w.mu.Lock()
	o := w.outcome
	w.mu.Unlock()
	if o == nil || !o.Rich() {
		return ErrNoOutcome
	}
	if w.opts.Hooks.BookForGuest != nil {
		w.opts.Hooks.BookForGuest(*o.Holder)
	}
	return nil
}

func (w *Workflow) redeem(ctx context.Context, passID string, force bool) error {
	var fromSearch bool
	var email string
	w.transition(func() {
		w.state = StateRedeeming
		w.failure = nil
		w.outcome = nil
		w.retry = func(ctx context.Context) error { return w.redeem(ctx, passID, force) }
		fromSearch = w.mode == ModeEmail && w.searched
		email = w.email
	})

	mut := w.cache.Begin()
	mut.Redeem(passID)

	res, err := w.api.Redeem(ctx, passID, passapi.RedeemOptions{Force: force, Location: w.opts.Location})
	if err != nil {
		mut.Rollback()
		f := newFailure(err, passID)
		w.logger.Info("redeem failed", "pass_id", passID, "force", force, "kind", f.Kind)
		w.transition(func() {
			w.state = StateError
			w.failure = f
		})
		return passapi.AsError(err)
	}
	mut.Commit()

	ev := bridge.Redeemed(passID, res.RemainingUses)
	ev.Origin = w.cache.ID()
	if res.PassHolder != nil {
		ev.PurchaserEmail = res.PassHolder.Email
		ev.PurchaserName = res.PassHolder.Name()
		ev.ProductType = res.PassHolder.ProductType
	}
	w.bus.Publish(ev)

	w.logger.Info("pass redeemed", "pass_id", passID, "force", force, "remaining", res.RemainingUses)
	w.transition(func() {
		w.state = StateSuccess
		w.retry = nil
		w.outcome = &Outcome{
			PassID:        passID,
			Holder:        res.PassHolder,
			RemainingUses: res.RemainingUses,
			RedeemedAt:    res.RedeemedAt,
			Forced:        force,
		}
		delete(w.forceConfirm, passID)
		if logs, ok := w.history[passID]; ok {
			entry := model.RedemptionLogEntry{
				RedeemedAt: res.RedeemedAt,
				RedeemedBy: res.RedeemedBy,
				Location:   w.opts.Location,
			}
			w.history[passID] = append([]model.RedemptionLogEntry{entry}, logs...)
		}
	})

	if fromSearch && !w.closed.Load() {
		w.refreshSearch(ctx, email)
	}
	return nil
}

// refreshSearch re-runs the active email search in place so the result list
// shows the new remaining-use count without leaving the success state.
func (w *Workflow) refreshSearch(ctx context.Context, email string) {
	passes, err := w.api.Search(ctx, email)
	if err != nil {
		w.logger.Warn("refresh search after redeem", "email", email, "error", err)
		return
	}
	w.cache.Correct(passes)
	w.transition(func() {
		if w.email == email {
			w.results = passes
		}
	})
}

// ToggleHistory shows or hides the redemption history of passID. The log is
// fetched once per pass for the lifetime of the view.
func (w *Workflow) ToggleHistory(ctx context.Context, passID string) error {
	w.mu.Lock()
	_, cached := w.history[passID]
	w.mu.Unlock()
	if cached {
		w.transition(func() { w.historyOpen[passID] = !w.historyOpen[passID] })
		return nil
	}

	v, err, _ := w.flights.Do(passID, func() (any, error) {
		return w.api.History(ctx, passID)
	})
	if err != nil {
		apiErr := passapi.AsError(err)
		f := newFailure(apiErr, passID)
		w.transition(func() { w.historyErr[passID] = f })
		return apiErr
	}

	logs, _ := v.([]model.RedemptionLogEntry)
	if logs == nil {
		logs = []model.RedemptionLogEntry{}
	}
	w.transition(func() {
		w.history[passID] = logs
		w.historyOpen[passID] = true
		delete(w.historyErr, passID)
	})
	return nil
}
