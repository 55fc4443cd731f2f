package redemption

import (
	"github.com/dukerupert/clubdesk/internal/model"
	"github.com/dukerupert/clubdesk/internal/passapi"
)

// Action is a recovery affordance offered with an error.
type Action string

const (
	ActionEmailSearch  Action = "email-search"
	ActionSellNewPass  Action = "sell-new-pass"
	ActionStartOver    Action = "start-over"
	ActionRedeemAnyway Action = "redeem-anyway"
	ActionTryAgain     Action = "try-again"
	ActionManualEntry  Action = "manual-entry"
	ActionBookForGuest Action = "book-for-guest"
	ActionConfirmForce Action = "confirm-force-redeem"
	ActionCancelForce  Action = "cancel-force-redeem"
)

// Recovery returns the affordances the console shows for an error kind.
func Recovery(kind passapi.Kind) []Action {
	switch kind {
	case passapi.KindNotFound:
		return []Action{ActionEmailSearch, ActionSellNewPass}
	case passapi.KindExhausted, passapi.KindNotActive:
		return []Action{ActionSellNewPass, ActionStartOver}
	case passapi.KindAlreadyRedeemedToday:
		return []Action{ActionRedeemAnyway, ActionStartOver}
	case passapi.KindInvalidQRType:
		return []Action{ActionStartOver, ActionManualEntry}
	default:
		return []Action{ActionTryAgain, ActionStartOver}
	}
}

// Failure is the error state shown by the console.
type Failure struct {
	Kind    passapi.Kind       `json:"errorCode"`
	Message string             `json:"error"`
	PassID  string             `json:"passId,omitempty"`
	Details *model.PassDetails `json:"passDetails,omitempty"`
}

func newFailure(err error, passID string) *Failure {
	apiErr := passapi.AsError(err)
	f := &Failure{
		Kind:    apiErr.Kind,
		Message: apiErr.Message,
		PassID:  passID,
		Details: apiErr.Details,
	}
	if f.Message == "" {
		f.Message = defaultMessage(f.Kind)
	}
	return f
}

func defaultMessage(kind passapi.Kind) string {
	switch kind {
	case passapi.KindNotFound:
		return "Pass not found. Check the code or search by email."
	case passapi.KindExhausted:
		return "This pass has no uses left."
	case passapi.KindAlreadyRedeemedToday:
		return "This pass was already redeemed today."
	case passapi.KindNotActive:
		return "This pass is not active."
	case passapi.KindSearch:
		return "Search failed. Try again."
	case passapi.KindHistory:
		return "Could not load redemption history."
	case passapi.KindNetwork:
		return "Network error. Check the connection and try again."
	case passapi.KindRefund:
		return "Refund failed."
	case passapi.KindInvalidQRType:
		return "This is a member QR code, not a day pass. Scan the guest's pass instead."
	}
	return "Something went wrong."
}
