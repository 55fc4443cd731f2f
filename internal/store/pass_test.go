package store

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/clubdesk/internal/clock"
	"github.com/dukerupert/clubdesk/internal/database"
	"github.com/dukerupert/clubdesk/internal/model"
)

func setupPassTestDB(t *testing.T, loc *time.Location) (*PassStore, *clock.Manual) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	clk := clock.NewManual(time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC))
	return NewPassStore(db, clk, loc), clk
}

func sell(t *testing.T, s *PassStore, email string, qty int) *model.Pass {
	t.Helper()
	p, err := s.Create(model.SellPassRequest{
		ProductType: "day-pass-golf",
		Quantity:    qty,
		Email:       email,
		FirstName:   "Ann",
		LastName:    "Lee",
	})
	if err != nil {
		t.Fatalf("create pass: %v", err)
	}
	return p
}

func redeemErr(err error) *RedeemError {
	var re *RedeemError
	if errors.As(err, &re) {
		return re
	}
	return nil
}

func TestPassCreate(t *testing.T) {
	s, _ := setupPassTestDB(t, nil)

	p := sell(t, s, "ann@example.com", 3)
	if p.ID == "" {
		t.Error("expected generated id")
	}
	if p.RemainingUses != 3 || p.Quantity != 3 {
		t.Errorf("uses = %d/%d, want 3/3", p.RemainingUses, p.Quantity)
	}
	if p.PurchaserName() != "Ann Lee" {
		t.Errorf("name = %q", p.PurchaserName())
	}

	if _, err := s.Create(model.SellPassRequest{ProductType: "x", Quantity: 0, Email: "a@b.c"}); !errors.Is(err, ErrInvalidPass) {
		t.Errorf("zero quantity error = %v, want %v", err, ErrInvalidPass)
	}
}

func TestPassSearchByEmail(t *testing.T) {
	s, clk := setupPassTestDB(t, nil)

	older := sell(t, s, "ann@example.com", 1)
	clk.Advance(time.Hour)
	newer := sell(t, s, "ann@example.com", 2)
	sell(t, s, "bob@example.com", 1)

	spent := sell(t, s, "ann@example.com", 1)
	if _, err := s.Redeem(RedeemInput{PassID: spent.ID, RedeemedBy: "sam"}); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	passes, err := s.SearchByEmail("ANN@example.com")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(passes) != 2 {
		t.Fatalf("got %d passes, want 2", len(passes))
	}
	if passes[0].ID != newer.ID || passes[1].ID != older.ID {
		t.Errorf("order = [%s %s], want newest first", passes[0].ID, passes[1].ID)
	}

	none, err := s.SearchByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", none)
	}
}

func TestPassRedeemSequence(t *testing.T) {
	s, clk := setupPassTestDB(t, nil)
	p := sell(t, s, "ann@example.com", 2)

	res, err := s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "sam", Location: "pro shop"})
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if res.RemainingUses != 1 {
		t.Errorf("remaining = %d, want 1", res.RemainingUses)
	}
	if res.PassHolder == nil || res.PassHolder.Email != "ann@example.com" {
		t.Errorf("holder = %+v", res.PassHolder)
	}

	_, err = s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "sam"})
	re := redeemErr(err)
	if re == nil || !errors.Is(err, ErrAlreadyRedeemedToday) {
		t.Fatalf("second redeem error = %v, want %v", err, ErrAlreadyRedeemedToday)
	}
	if re.Details == nil || re.Details.RedeemedTodayAt == nil || re.Details.UsedCount != 1 || re.Details.TotalUses != 2 {
		t.Errorf("details = %+v", re.Details)
	}

	res, err = s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "sam", Force: true})
	if err != nil {
		t.Fatalf("forced redeem: %v", err)
	}
	if res.RemainingUses != 0 {
		t.Errorf("remaining = %d, want 0", res.RemainingUses)
	}

	clk.Advance(24 * time.Hour)
	_, err = s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "sam"})
	if !errors.Is(err, ErrPassExhausted) {
		t.Errorf("exhausted error = %v, want %v", err, ErrPassExhausted)
	}

	if _, err := s.Redeem(RedeemInput{PassID: "missing"}); !errors.Is(err, ErrPassNotFound) {
		t.Errorf("missing error = %v, want %v", err, ErrPassNotFound)
	}
}

func TestPassSameDayUsesLocation(t *testing.T) {
	denver, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s, clk := setupPassTestDB(t, denver)
	// 2026-05-01 22:00 in Denver.
	clk.Set(time.Date(2026, 5, 2, 4, 0, 0, 0, time.UTC))
	p := sell(t, s, "ann@example.com", 3)

	if _, err := s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "sam"}); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// 23:30 the same local day.
	clk.Advance(90 * time.Minute)
	if _, err := s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "sam"}); !errors.Is(err, ErrAlreadyRedeemedToday) {
		t.Errorf("same local day error = %v", err)
	}
	// 00:30 the next local day.
	clk.Advance(time.Hour)
	if _, err := s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "sam"}); err != nil {
		t.Errorf("next local day: %v", err)
	}
}

func TestPassRefund(t *testing.T) {
	s, _ := setupPassTestDB(t, nil)
	p := sell(t, s, "ann@example.com", 2)

	if err := s.Refund(p.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if err := s.Refund(p.ID); !errors.Is(err, ErrPassNotActive) {
		t.Errorf("second refund error = %v, want %v", err, ErrPassNotActive)
	}
	if err := s.Refund("missing"); !errors.Is(err, ErrPassNotFound) {
		t.Errorf("missing refund error = %v, want %v", err, ErrPassNotFound)
	}

	_, err := s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "sam"})
	if !errors.Is(err, ErrPassNotActive) {
		t.Errorf("redeem refunded error = %v, want %v", err, ErrPassNotActive)
	}

	unredeemed, err := s.ListUnredeemed(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(unredeemed) != 0 {
		t.Errorf("unredeemed = %+v, want none", unredeemed)
	}
}

func TestPassHistory(t *testing.T) {
	s, clk := setupPassTestDB(t, nil)
	p := sell(t, s, "ann@example.com", 3)

	s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "sam", Location: "pro shop"})
	clk.Advance(48 * time.Hour)
	s.Redeem(RedeemInput{PassID: p.ID, RedeemedBy: "kim"})

	logs, err := s.History(p.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d entries, want 2", len(logs))
	}
	if logs[0].RedeemedBy != "kim" || logs[1].Location != "pro shop" {
		t.Errorf("logs = %+v, want newest first", logs)
	}

	if _, err := s.History("missing"); !errors.Is(err, ErrPassNotFound) {
		t.Errorf("missing error = %v", err)
	}
}
