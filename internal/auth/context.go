// Package auth carries the authenticated staff member through a request context.
package auth

import "context"

type contextKey struct{}

type StaffContext struct {
	StaffID   int64
	StaffName string
	SessionID int64
}

func WithStaff(ctx context.Context, sc StaffContext) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

func FromContext(ctx context.Context) (StaffContext, bool) {
	sc, ok := ctx.Value(contextKey{}).(StaffContext)
	return sc, ok
}

// StaffName returns the name recorded as redeemedBy, or "" when unauthenticated.
func StaffName(ctx context.Context) string {
	sc, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return sc.StaffName
}
