// Package bridge is the in-process publish/subscribe channel that announces
// day-pass purchases, redemptions, and refunds to every open console view.
package bridge

import (
	"log/slog"
	"sync"
	"time"
)

// EventName is the channel name every payload is published under.
const EventName = "day-pass-update"

// Action identifies what happened to a pass.
type Action string

const (
	ActionPurchased Action = "day_pass_purchased"
	ActionRedeemed  Action = "day_pass_redeemed"
	ActionRefunded  Action = "day_pass_refunded"
)

// Event is the payload of a day-pass-update.
type Event struct {
	Action         Action     `json:"action"`
	PassID         string     `json:"passId"`
	PurchaserEmail string     `json:"purchaserEmail,omitempty"`
	PurchaserName  string     `json:"purchaserName,omitempty"`
	ProductType    string     `json:"productType,omitempty"`
	RemainingUses  *int       `json:"remainingUses,omitempty"`
	Quantity       *int       `json:"quantity,omitempty"`
	PurchasedAt    *time.Time `json:"purchasedAt,omitempty"`

	// Uses is how many uses a redemption consumed. Nil means one.
	Uses *int `json:"uses,omitempty"`

	// Origin is the id of the view that caused the event, empty for
	// publishers that are not views.
	Origin string `json:"origin,omitempty"`
}

// Handler receives events. Handlers run on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously to every subscriber in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers h and returns a function that removes it. The returned
// function is safe to call more than once.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish hands ev to every current subscriber and returns once all of them ran.
// Handlers may publish or unsubscribe without deadlocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	b.logger.Debug("publish", "event", EventName, "action", ev.Action, "pass_id", ev.PassID, "subscribers", len(subs))

	for _, s := range subs {
		s.handler(ev)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Purchased builds a purchase event from the sold pass fields.
func Purchased(passID, email, name, productType string, quantity int, purchasedAt time.Time) Event {
	q := quantity
	r := quantity
	at := purchasedAt
	return Event{
		Action:         ActionPurchased,
		PassID:         passID,
		PurchaserEmail: email,
		PurchaserName:  name,
		ProductType:    productType,
		Quantity:       &q,
		RemainingUses:  &r,
		PurchasedAt:    &at,
	}
}

// Redeemed builds a redemption event carrying the server-confirmed remaining uses.
func Redeemed(passID string, remaining int) Event {
	r := remaining
	return Event{Action: ActionRedeemed, PassID: passID, RemainingUses: &r}
}

// Refunded builds a refund event.
func Refunded(passID string) Event {
	return Event{Action: ActionRefunded, PassID: passID}
}
