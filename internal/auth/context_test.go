package auth

import (
	"context"
	"testing"
)

func TestWithStaffAndFromContext(t *testing.T) {
	ctx := WithStaff(context.Background(), StaffContext{StaffID: 1, StaffName: "Sam", SessionID: 3})
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected StaffContext in context")
	}
	if got.StaffID != 1 || got.SessionID != 3 {
		t.Errorf("got %+v", got)
	}
	if StaffName(ctx) != "Sam" {
		t.Errorf("StaffName = %q, want Sam", StaffName(ctx))
	}
}

func TestFromContextMissing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected false for missing StaffContext")
	}
	if StaffName(context.Background()) != "" {
		t.Error("expected empty name for missing StaffContext")
	}
}
