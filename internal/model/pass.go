package model

import "time"

// Pass is a purchased entitlement with a fixed number of uses.
type Pass struct {
	ID             string    `json:"id"`
	ProductType    string    `json:"productType"`
	Quantity       int       `json:"quantity"`
	RemainingUses  int       `json:"remainingUses"`
	PurchaserEmail string    `json:"purchaserEmail"`
	FirstName      string    `json:"purchaserFirstName,omitempty"`
	LastName       string    `json:"purchaserLastName,omitempty"`
	PurchasedAt    time.Time `json:"purchasedAt"`
}

// PurchaserName joins the purchaser's first and last name, falling back to the email.
func (p Pass) PurchaserName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	}
	return p.PurchaserEmail
}

// UsedCount returns the number of uses already consumed.
func (p Pass) UsedCount() int {
	return p.Quantity - p.RemainingUses
}

// RedemptionLogEntry records one consumed use. Entries are append-only.
type RedemptionLogEntry struct {
	RedeemedAt time.Time `json:"redeemedAt"`
	RedeemedBy string    `json:"redeemedBy"`
	Location   string    `json:"location,omitempty"`
}

// PassHolder identifies who a redeemed pass belongs to.
type PassHolder struct {
	Email       string `json:"email"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	ProductType string `json:"productType,omitempty"`
}

// Name returns the holder's display name.
func (h PassHolder) Name() string {
	if h.FirstName == "" && h.LastName == "" {
		return h.Email
	}
	if h.LastName == "" {
		return h.FirstName
	}
	if h.FirstName == "" {
		return h.LastName
	}
	return h.FirstName + " " + h.LastName
}

// PassDetails accompanies a redemption error so the console can render a
// tailored recovery view.
type PassDetails struct {
	Name            string     `json:"name,omitempty"`
	Email           string     `json:"email,omitempty"`
	UsedCount       int        `json:"usedCount"`
	TotalUses       int        `json:"totalUses"`
	RemainingUses   int        `json:"remainingUses"`
	LastRedeemedAt  *time.Time `json:"lastRedemption,omitempty"`
	RedeemedTodayAt *time.Time `json:"todayRedemption,omitempty"`
}

// RedeemResult is the success body of a redeem call.
type RedeemResult struct {
	PassHolder    *PassHolder `json:"passHolder,omitempty"`
	RemainingUses int         `json:"remainingUses"`
	RedeemedAt    time.Time   `json:"redeemedAt"`
	RedeemedBy    string      `json:"redeemedBy,omitempty"`
}

// SellPassRequest describes a new pass sold at the front desk.
type SellPassRequest struct {
	ProductType string `json:"productType"`
	Quantity    int    `json:"quantity"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
}

// Staff is a front-desk operator allowed to redeem and refund passes.
type Staff struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	PINHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// StaffSession is a bearer token issued to a staff member.
type StaffSession struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	StaffID   int64     `json:"staff_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
