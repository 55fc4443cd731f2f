// Package console assembles one mounted redemption view: its inventory cache,
// redemption and refund workflows, scanner session, bridge subscription, and
// overlay layer. Several views may be open at once; they converge only
// through the bridge and full refreshes.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/clubdesk/internal/bridge"
	"github.com/dukerupert/clubdesk/internal/clock"
	"github.com/dukerupert/clubdesk/internal/inventory"
	"github.com/dukerupert/clubdesk/internal/model"
	"github.com/dukerupert/clubdesk/internal/overlay"
	"github.com/dukerupert/clubdesk/internal/passid"
	"github.com/dukerupert/clubdesk/internal/redemption"
	"github.com/dukerupert/clubdesk/internal/refund"
	"github.com/dukerupert/clubdesk/internal/scanner"
)

// Variant is how a view is presented.
type Variant string

const (
	VariantModal Variant = "modal"
	VariantCard  Variant = "card"
)

// ErrClosed is returned by operations on a closed view.
var ErrClosed = errors.New("console view closed")

// API is everything a view needs from the pass API.
type API interface {
	redemption.API
	refund.Refunder
	Unredeemed(ctx context.Context) ([]model.Pass, error)
	Sell(ctx context.Context, req model.SellPassRequest) (*model.Pass, error)
}

// Options configures a View.
type Options struct {
	Variant   Variant
	Location  string
	Hooks     redemption.Hooks
	Clock     clock.Clock
	NoticeTTL time.Duration
	// ScanStatus receives scanner state changes.
	ScanStatus scanner.StatusCallback
}

// View is one mounted console.
type View struct {
	id       string
	variant  Variant
	api      API
	bus      *bridge.Bus
	overlays *overlay.Manager
	logger   *slog.Logger

	Cache      *inventory.Cache
	Redemption *redemption.Workflow
	Refund     *refund.Workflow
	Scanner    *scanner.Manager

	mu          sync.Mutex
	opened      bool
	closed      bool
	unsubscribe func()
	layer       *overlay.Layer
}

// New builds a view. overlays may be nil for views that never stack.
func New(api API, bus *bridge.Bus, camera scanner.Camera, overlays *overlay.Manager, opts Options, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Variant == "" {
		opts.Variant = VariantCard
	}
	id := fmt.Sprintf("%s-%s", opts.Variant, uuid.NewString())
	logger = logger.With("view", id)

	cache := inventory.New(id, logger.With("component", "inventory"))
	return &View{
		id:       id,
		variant:  opts.Variant,
		api:      api,
		bus:      bus,
		overlays: overlays,
		logger:   logger,
		Cache:    cache,
		Redemption: redemption.New(api, cache, bus, redemption.Options{
			Location: opts.Location,
			Hooks:    opts.Hooks,
		}, logger.With("component", "redemption")),
		Refund:  refund.New(api, cache, bus, opts.Clock, opts.NoticeTTL, logger.With("component", "refund")),
		Scanner: scanner.NewManager(camera, opts.ScanStatus, logger.With("component", "scanner")),
	}
}

// ID returns the view id, which is also the origin stamped on its broadcasts.
func (v *View) ID() string { return v.id }

// Variant returns the presentation variant.
func (v *View) Variant() Variant { return v.variant }

// Layer returns the overlay layer of a modal view.
func (v *View) Layer() (overlay.Layer, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.layer == nil {
		return overlay.Layer{}, false
	}
	return *v.layer, true
}

// Open mounts the view: it subscribes to the bridge, takes an overlay layer
// for the modal variant, and loads the unredeemed list.
func (v *View) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if !v.opened {
		v.opened = true
		v.unsubscribe = v.Cache.Subscribe(v.bus)
		if v.variant == VariantModal && v.overlays != nil {
			l := v.overlays.Push(v.id)
			v.layer = &l
		}
	}
	v.mu.Unlock()

	v.logger.Debug("view opened")
	return v.Refresh(ctx)
}

// Refresh replaces the cache with the server's unredeemed list.
func (v *View) Refresh(ctx context.Context) error {
	passes, err := v.api.Unredeemed(ctx)
	if err != nil {
		return fmt.Errorf("refresh unredeemed passes: %w", err)
	}
	if v.isClosed() {
		return ErrClosed
	}
	v.Cache.Replace(passes)
	return nil
}

// StartScan arms the camera. The first decoded code is submitted to the
// redemption workflow after the camera is released.
func (v *View) StartScan(ctx context.Context) error {
	if v.isClosed() {
		return ErrClosed
	}
	v.Redemption.EnterScanMode()
	return v.Scanner.StartMatching(ctx, scannable, func(text string) {
		if err := v.Redemption.SubmitCode(ctx, text); err != nil {
			v.logger.Debug("scanned code not redeemed", "error", err)
		}
	})
}

// scannable reports whether a decode should end the scan: a pass code, or a
// member code that the workflow rejects. Partial or garbled reads are not.
func scannable(text string) bool {
	_, err := passid.Normalize(text)
	return !passid.Ignorable(err)
}

// SwitchToManual stops any scan and switches to typed entry.
func (v *View) SwitchToManual() {
	v.Scanner.Stop()
	v.Redemption.EnterManualMode()
}

// SwitchToEmail stops any scan and switches to email search.
func (v *View) SwitchToEmail() {
	v.Scanner.Stop()
	v.Redemption.EnterEmailMode()
}

// SellPass records a sale and announces it on the bridge so every open view,
// this one included, lists the new pass.
func (v *View) SellPass(ctx context.Context, req model.SellPassRequest) (*model.Pass, error) {
	if v.isClosed() {
		return nil, ErrClosed
	}
	p, err := v.api.Sell(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sell pass: %w", err)
	}
	v.bus.Publish(bridge.Purchased(p.ID, p.PurchaserEmail, p.PurchaserName(), p.ProductType, p.Quantity, p.PurchasedAt))
	v.logger.Info("pass sold", "pass_id", p.ID, "quantity", p.Quantity)
	return p, nil
}

// Close unmounts the view. The camera is released synchronously and
// in-flight completions become no-ops. Safe to call more than once.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	unsub := v.unsubscribe
	v.unsubscribe = nil
	layer := v.layer
	v.layer = nil
	v.mu.Unlock()

	v.Scanner.Close()
	v.Redemption.Close()
	v.Refund.Close()
	if unsub != nil {
		unsub()
	}
	if layer != nil {
		v.overlays.Remove(layer.ID)
	}
	v.logger.Debug("view closed")
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
