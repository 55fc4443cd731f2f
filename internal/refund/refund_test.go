package refund

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/clubdesk/internal/bridge"
	"github.com/dukerupert/clubdesk/internal/clock"
	"github.com/dukerupert/clubdesk/internal/inventory"
	"github.com/dukerupert/clubdesk/internal/model"
	"github.com/dukerupert/clubdesk/internal/passapi"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeRefunder struct {
	err   error
	calls []string
	// during runs inside Refund before it returns.
	during func()
}

func (f *fakeRefunder) Refund(ctx context.Context, passID string) error {
	f.calls = append(f.calls, passID)
	if f.during != nil {
		f.during()
	}
	return f.err
}

func setup(api *fakeRefunder) (*Workflow, *inventory.Cache, *bridge.Bus, *clock.Manual) {
	bus := bridge.New(slog.Default())
	cache := inventory.New("card-1", slog.Default())
	cache.Replace([]model.Pass{
		{ID: "a", Quantity: 2, RemainingUses: 2, PurchasedAt: now},
		{ID: "b", Quantity: 1, RemainingUses: 1, PurchasedAt: now.Add(-time.Hour)},
	})
	clk := clock.NewManual(now)
	return New(api, cache, bus, clk, 3*time.Second, slog.Default()), cache, bus, clk
}

func listIDs(c *inventory.Cache) []string {
	var out []string
	for _, p := range c.List() {
		out = append(out, p.ID)
	}
	return out
}

func TestConfirmRequiresSelection(t *testing.T) {
	api := &fakeRefunder{}
	w, _, _, _ := setup(api)

	if err := w.Confirm(context.Background()); !errors.Is(err, ErrNothingSelected) {
		t.Errorf("error = %v, want %v", err, ErrNothingSelected)
	}
	w.Select("a")
	w.Cancel()
	if err := w.Confirm(context.Background()); !errors.Is(err, ErrNothingSelected) {
		t.Errorf("after cancel error = %v, want %v", err, ErrNothingSelected)
	}
	if len(api.calls) != 0 {
		t.Errorf("refund calls = %v, want none", api.calls)
	}
}

func TestRefundSuccessRemovesAndBroadcasts(t *testing.T) {
	api := &fakeRefunder{}
	w, cache, bus, clk := setup(api)

	var events []bridge.Event
	bus.Subscribe(func(ev bridge.Event) { events = append(events, ev) })

	w.Select("a")
	if got := w.View().Selected; got != "a" {
		t.Errorf("selected = %q", got)
	}
	if err := w.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if got := listIDs(cache); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("list = %v, want [b]", got)
	}
	if len(events) != 1 || events[0].Action != bridge.ActionRefunded || events[0].PassID != "a" || events[0].Origin != "card-1" {
		t.Errorf("events = %+v", events)
	}

	v := w.View()
	if v.Notice == nil || v.Notice.PassID != "a" {
		t.Fatalf("notice = %+v", v.Notice)
	}
	clk.Advance(3 * time.Second)
	if w.View().Notice != nil {
		t.Error("expected notice to expire")
	}
}

func TestRefundFailureRestoresSnapshot(t *testing.T) {
	api := &fakeRefunder{err: &passapi.Error{Kind: passapi.KindNotActive, Message: "already refunded"}}
	w, cache, bus, _ := setup(api)
	before := cache.List()

	var inFlight []string
	api.during = func() { inFlight = listIDs(cache) }

	published := 0
	bus.Subscribe(func(bridge.Event) { published++ })

	w.Select("a")
	err := w.Confirm(context.Background())
	if passapi.KindOf(err) != passapi.KindRefund {
		t.Errorf("kind = %s, want %s", passapi.KindOf(err), passapi.KindRefund)
	}
	if !reflect.DeepEqual(inFlight, []string{"b"}) {
		t.Errorf("in-flight list = %v, want [b]", inFlight)
	}
	if !reflect.DeepEqual(cache.List(), before) {
		t.Errorf("list = %+v, want %+v", cache.List(), before)
	}
	if published != 0 {
		t.Errorf("published = %d, want 0", published)
	}

	v := w.View()
	if v.Error == nil || v.Error.Message != "already refunded" || v.ErrorPass != "a" {
		t.Errorf("view = %+v", v)
	}
	w.DismissError()
	if w.View().Error != nil {
		t.Error("expected error dismissed")
	}
}

func TestRefundNetworkErrorKeepsKind(t *testing.T) {
	api := &fakeRefunder{err: errors.New("dial tcp: connection refused")}
	w, _, _, _ := setup(api)
	w.Select("b")

	if got := passapi.KindOf(w.Confirm(context.Background())); got != passapi.KindNetwork {
		t.Errorf("kind = %s, want %s", got, passapi.KindNetwork)
	}
}

func TestSiblingViewConverges(t *testing.T) {
	api := &fakeRefunder{}
	w, _, bus, _ := setup(api)

	sibling := inventory.New("modal-1", slog.Default())
	sibling.Replace([]model.Pass{
		{ID: "a", Quantity: 2, RemainingUses: 2, PurchasedAt: now},
		{ID: "b", Quantity: 1, RemainingUses: 1, PurchasedAt: now.Add(-time.Hour)},
	})
	defer sibling.Subscribe(bus)()

	w.Select("a")
	w.Confirm(context.Background())

	if got := listIDs(sibling); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("sibling list = %v, want [b]", got)
	}
}

func TestClosedDropsCompletion(t *testing.T) {
	api := &fakeRefunder{}
	w, _, _, _ := setup(api)
	api.during = w.Close

	w.Select("a")
	w.Confirm(context.Background())
	if v := w.View(); v.InFlight != "a" || v.Notice != nil {
		t.Errorf("view = %+v, want frozen in flight", v)
	}
}

func TestConfirmWhileInFlightIsBusy(t *testing.T) {
	api := &fakeRefunder{}
	w, _, _, _ := setup(api)

	started := make(chan struct{})
	release := make(chan struct{})
	api.during = func() {
		close(started)
		<-release
	}

	w.Select("a")
	done := make(chan error, 1)
	go func() { done <- w.Confirm(context.Background()) }()
	<-started

	w.Select("b")
	if err := w.Confirm(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second confirm error = %v, want %v", err, ErrBusy)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if !reflect.DeepEqual(api.calls, []string{"a"}) {
		t.Errorf("refund calls = %v, want [a]", api.calls)
	}
}

func TestConcurrentConfirmsRefundOnce(t *testing.T) {
	api := &fakeRefunder{}
	w, _, _, _ := setup(api)
	release := make(chan struct{})
	api.during = func() { <-release }

	w.Select("a")
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- w.Confirm(context.Background())
		}()
	}

	refused := 0
	for range 7 {
		err := <-errs
		if !errors.Is(err, ErrBusy) && !errors.Is(err, ErrNothingSelected) {
			t.Errorf("refused confirm error = %v", err)
		}
		refused++
	}
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("winning confirm error = %v", err)
		}
	}

	if refused != 7 || len(api.calls) != 1 {
		t.Errorf("refused = %d, refund calls = %v; want 7 and one call", refused, api.calls)
	}
}

func TestDismissNotice(t *testing.T) {
	w, _, _, _ := setup(&fakeRefunder{})
	w.Select("a")
	w.Confirm(context.Background())
	w.DismissNotice()
	if w.View().Notice != nil {
		t.Error("expected notice dismissed")
	}
}
