package passapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/clubdesk/internal/model"
)

// Kind is the closed set of error codes the console knows how to recover from.
type Kind string

const (
	KindNotFound             Kind = "PASS_NOT_FOUND"
	KindExhausted            Kind = "PASS_EXHAUSTED"
	KindAlreadyRedeemedToday Kind = "ALREADY_REDEEMED_TODAY"
	KindNotActive            Kind = "PASS_NOT_ACTIVE"
	KindSearch               Kind = "SEARCH_ERROR"
	KindHistory              Kind = "HISTORY_ERROR"
	KindNetwork              Kind = "NETWORK_ERROR"
	KindRefund               Kind = "REFUND_ERROR"
	KindInvalidQRType        Kind = "INVALID_QR_TYPE"
	KindUnknown              Kind = "UNKNOWN"
)

// ParseKind maps a server errorCode onto a Kind, falling back to KindUnknown.
func ParseKind(code string) Kind {
	switch k := Kind(code); k {
	case KindNotFound, KindExhausted, KindAlreadyRedeemedToday, KindNotActive,
		KindSearch, KindHistory, KindNetwork, KindRefund, KindInvalidQRType:
		return k
	}
	return KindUnknown
}

// Error is a classified failure, optionally carrying pass details for the
// recovery view.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Details *model.PassDetails
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError classifies err. Errors that are not already an *Error are transport
// failures and become KindNetwork carrying the underlying message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "request timed out"
	}
	return &Error{Kind: KindNetwork, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

// errorBody is the JSON failure shape returned by the pass API.
type errorBody struct {
	Error       string             `json:"error"`
	ErrorCode   string             `json:"errorCode,omitempty"`
	PassDetails *model.PassDetails `json:"passDetails,omitempty"`
}
