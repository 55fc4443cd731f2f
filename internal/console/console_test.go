package console

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/clubdesk/internal/bridge"
	"github.com/dukerupert/clubdesk/internal/model"
	"github.com/dukerupert/clubdesk/internal/overlay"
	"github.com/dukerupert/clubdesk/internal/passapi"
	"github.com/dukerupert/clubdesk/internal/redemption"
	"github.com/dukerupert/clubdesk/internal/scanner"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeServer keeps authoritative pass state in memory.
type fakeServer struct {
	mu     sync.Mutex
	passes map[string]*model.Pass
	order  []string
}

func newFakeServer(passes ...model.Pass) *fakeServer {
	s := &fakeServer{passes: make(map[string]*model.Pass)}
	for i := range passes {
		p := passes[i]
		s.passes[p.ID] = &p
		s.order = append(s.order, p.ID)
	}
	return s
}

func (s *fakeServer) Search(ctx context.Context, email string) ([]model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Pass{}
	for _, id := range s.order {
		if p := s.passes[id]; p.PurchaserEmail == email && p.RemainingUses > 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeServer) Unredeemed(ctx context.Context) ([]model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Pass{}
	for _, id := range s.order {
		if p := s.passes[id]; p.RemainingUses > 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeServer) Redeem(ctx context.Context, passID string, opts passapi.RedeemOptions) (*model.RedeemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passes[passID]
	if !ok {
		return nil, &passapi.Error{Kind: passapi.KindNotFound}
	}
	if p.RemainingUses <= 0 {
		return nil, &passapi.Error{Kind: passapi.KindExhausted}
	}
	p.RemainingUses--
	return &model.RedeemResult{RemainingUses: p.RemainingUses, RedeemedAt: now}, nil
}

func (s *fakeServer) Refund(ctx context.Context, passID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passes[passID]
	if !ok {
		return &passapi.Error{Kind: passapi.KindRefund, Message: "not found"}
	}
	p.RemainingUses = 0
	return nil
}

func (s *fakeServer) History(ctx context.Context, passID string) ([]model.RedemptionLogEntry, error) {
	return nil, nil
}

func (s *fakeServer) Sell(ctx context.Context, req model.SellPassRequest) (*model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &model.Pass{
		ID:             "new-" + req.Email,
		ProductType:    req.ProductType,
		Quantity:       req.Quantity,
		RemainingUses:  req.Quantity,
		PurchaserEmail: req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		PurchasedAt:    now.Add(time.Hour),
	}
	s.passes[p.ID] = p
	s.order = append([]string{p.ID}, s.order...)
	return p, nil
}

type fakeStream struct{ closed bool }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeCamera struct {
	stream   *fakeStream
	onDecode func(string)
}

func (c *fakeCamera) Open(ctx context.Context, onDecode func(string), onError func(error)) (scanner.Stream, error) {
	c.stream = &fakeStream{}
	c.onDecode = onDecode
	return c.stream, nil
}

func seed() *fakeServer {
	return newFakeServer(
		model.Pass{ID: "d", Quantity: 1, RemainingUses: 1, PurchaserEmail: "dee@example.com", PurchasedAt: now},
		model.Pass{ID: "a", Quantity: 3, RemainingUses: 2, PurchaserEmail: "ann@example.com", PurchasedAt: now.Add(-time.Hour)},
		model.Pass{ID: "c", Quantity: 1, RemainingUses: 1, PurchaserEmail: "cal@example.com", PurchasedAt: now.Add(-2 * time.Hour)},
	)
}

func ids(v *View) []string {
	var out []string
	for _, p := range v.Cache.List() {
		out = append(out, p.ID)
	}
	return out
}

func openView(t *testing.T, srv *fakeServer, bus *bridge.Bus, cam scanner.Camera, overlays *overlay.Manager, variant Variant) *View {
	t.Helper()
	v := New(srv, bus, cam, overlays, Options{Variant: variant, Location: "pro shop"}, slog.Default())
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open %s: %v", variant, err)
	}
	t.Cleanup(v.Close)
	return v
}

func TestScanRedeemsAndSiblingConverges(t *testing.T) {
	srv := seed()
	bus := bridge.New(slog.Default())
	cam := &fakeCamera{}
	modal := openView(t, srv, bus, cam, overlay.NewManager(nil), VariantModal)
	card := openView(t, srv, bus, &fakeCamera{}, nil, VariantCard)

	if err := modal.StartScan(context.Background()); err != nil {
		t.Fatalf("start scan: %v", err)
	}
	cam.onDecode("PASS:d")
	cam.onDecode("PASS:d")

	if !cam.stream.closed {
		t.Error("expected camera released")
	}
	if got := modal.Redemption.View().State; got != redemption.StateSuccess {
		t.Fatalf("state = %s, want success", got)
	}
	want := []string{"a", "c"}
	if got := ids(modal); !reflect.DeepEqual(got, want) {
		t.Errorf("modal = %v, want %v", got, want)
	}
	if got := ids(card); !reflect.DeepEqual(got, want) {
		t.Errorf("card = %v, want %v", got, want)
	}
}

func TestGarbledScanKeepsCameraArmed(t *testing.T) {
	srv := seed()
	cam := &fakeCamera{}
	v := openView(t, srv, bridge.New(slog.Default()), cam, nil, VariantCard)

	if err := v.StartScan(context.Background()); err != nil {
		t.Fatalf("start scan: %v", err)
	}
	cam.onDecode("%%garbled%%")
	cam.onDecode("")

	if cam.stream.closed {
		t.Fatal("camera released by a garbled read")
	}
	if got := v.Scanner.Status().State; got != scanner.StateArmed {
		t.Fatalf("scanner = %s, want armed", got)
	}
	if got := v.Redemption.View().Mode; got != redemption.ModeScan {
		t.Errorf("mode = %s, want scan", got)
	}

	cam.onDecode("PASS:d")
	if !cam.stream.closed {
		t.Error("expected camera released after a pass code")
	}
	if got := v.Redemption.View().State; got != redemption.StateSuccess {
		t.Errorf("state = %s, want success", got)
	}
	if _, ok := v.Cache.Get("d"); ok {
		t.Error("expected d redeemed out of the list")
	}
}

func TestMemberScanEndsSession(t *testing.T) {
	srv := seed()
	cam := &fakeCamera{}
	v := openView(t, srv, bridge.New(slog.Default()), cam, nil, VariantCard)

	v.StartScan(context.Background())
	cam.onDecode("MEMBER:42")

	if !cam.stream.closed {
		t.Error("expected camera released after a member code")
	}
	rv := v.Redemption.View()
	if rv.State != redemption.StateError || rv.Failure.Kind != passapi.KindInvalidQRType {
		t.Errorf("view = %+v", rv)
	}
}

func TestSellPassReachesEveryView(t *testing.T) {
	srv := seed()
	bus := bridge.New(slog.Default())
	modal := openView(t, srv, bus, &fakeCamera{}, nil, VariantModal)
	card := openView(t, srv, bus, &fakeCamera{}, nil, VariantCard)

	p, err := card.SellPass(context.Background(), model.SellPassRequest{
		ProductType: "day-pass-golf", Quantity: 2, Email: "eve@example.com", FirstName: "Eve", LastName: "Ng",
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	for _, v := range []*View{modal, card} {
		got, ok := v.Cache.Get(p.ID)
		if !ok {
			t.Fatalf("%s: sold pass missing", v.Variant())
		}
		if got.FirstName != "Eve" || got.LastName != "Ng" || got.RemainingUses != 2 {
			t.Errorf("%s: pass = %+v", v.Variant(), got)
		}
		if ids(v)[0] != p.ID {
			t.Errorf("%s: sold pass not at head: %v", v.Variant(), ids(v))
		}
	}
}

func TestRefundConvergesAcrossViews(t *testing.T) {
	srv := seed()
	bus := bridge.New(slog.Default())
	modal := openView(t, srv, bus, &fakeCamera{}, nil, VariantModal)
	card := openView(t, srv, bus, &fakeCamera{}, nil, VariantCard)

	card.Refund.Select("a")
	if err := card.Refund.Confirm(context.Background()); err != nil {
		t.Fatalf("refund: %v", err)
	}
	want := []string{"d", "c"}
	if got := ids(modal); !reflect.DeepEqual(got, want) {
		t.Errorf("modal = %v, want %v", got, want)
	}
	if got := ids(card); !reflect.DeepEqual(got, want) {
		t.Errorf("card = %v, want %v", got, want)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	srv := seed()
	bus := bridge.New(slog.Default())
	released := 0
	overlays := overlay.NewManager(func() { released++ })
	cam := &fakeCamera{}

	v := New(srv, bus, cam, overlays, Options{Variant: VariantModal}, slog.Default())
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := v.Layer(); !ok || overlays.Depth() != 1 {
		t.Fatal("expected modal to take an overlay layer")
	}
	if bus.SubscriberCount() != 1 {
		t.Errorf("subscribers = %d, want 1", bus.SubscriberCount())
	}
	v.StartScan(context.Background())

	v.Close()
	v.Close()

	if !cam.stream.closed {
		t.Error("expected camera released on close")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d, want 0", bus.SubscriberCount())
	}
	if overlays.Depth() != 0 || released != 1 {
		t.Errorf("depth = %d released = %d", overlays.Depth(), released)
	}
	if err := v.StartScan(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("scan after close error = %v", err)
	}
	if err := v.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("open after close error = %v", err)
	}
}

func TestSwitchToManualStopsScan(t *testing.T) {
	srv := seed()
	cam := &fakeCamera{}
	v := openView(t, srv, bridge.New(slog.Default()), cam, nil, VariantCard)

	v.StartScan(context.Background())
	v.SwitchToManual()

	if !cam.stream.closed {
		t.Error("expected camera released")
	}
	rv := v.Redemption.View()
	if rv.Mode != redemption.ModeManual || rv.ShowEmailSearch {
		t.Errorf("view = %+v", rv)
	}
}
