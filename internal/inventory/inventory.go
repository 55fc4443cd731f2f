// Package inventory holds a view's local projection of passes that still have
// uses left. The list is a cache: it is replaced by full refreshes, patched by
// bridge events, and mutated optimistically by the redemption and refund
// workflows.
package inventory

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/clubdesk/internal/bridge"
	"github.com/dukerupert/clubdesk/internal/model"
)

// Cache is an ordered, most-recent-first list of unredeemed passes.
type Cache struct {
	mu       sync.RWMutex
	id       string
	passes   []model.Pass
	version  uint64
	onChange func([]model.Pass)
	logger   *slog.Logger
}

// New creates an empty cache owned by the view with the given id.
func New(id string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{id: id, logger: logger}
}

// ID returns the owning view id. Bridge events with this origin are skipped.
func (c *Cache) ID() string {
	return c.id
}

// OnChange registers a callback invoked with a copy of the list after every change.
func (c *Cache) OnChange(fn func([]model.Pass)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// List returns a copy of the current list.
func (c *Cache) List() []model.Pass {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.passes)
}

// Get returns the cached pass with the given id.
func (c *Cache) Get(id string) (model.Pass, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := indexOf(c.passes, id); i >= 0 {
		return c.passes[i], true
	}
	return model.Pass{}, false
}

// Len returns the number of cached passes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.passes)
}

// Version increases on every change.
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Replace swaps the whole list, dropping passes without remaining uses and
// ordering by purchase time, newest first.
func (c *Cache) Replace(passes []model.Pass) {
	next := make([]model.Pass, 0, len(passes))
	for _, p := range passes {
		if p.RemainingUses > 0 {
			next = append(next, p)
		}
	}
	slices.SortStableFunc(next, newestFirst)

	c.update(func([]model.Pass) []model.Pass { return next })
}

// Correct merges fresher copies into the list, typically search results.
// Cached entries are overwritten, unknown passes are added, and passes
// reported with no remaining uses are dropped. The list stays ordered by
// purchase time, newest first.
func (c *Cache) Correct(passes []model.Pass) {
	c.update(func(cur []model.Pass) []model.Pass {
		for _, p := range passes {
			i := indexOf(cur, p.ID)
			switch {
			case p.RemainingUses <= 0:
				if i >= 0 {
					cur = slices.Delete(cur, i, i+1)
				}
			case i >= 0:
				cur[i] = p
			default:
				cur = append(cur, p)
			}
		}
		slices.SortStableFunc(cur, newestFirst)
		return cur
	})
}

// Apply folds a bridge event into the list. Events that originated from this
// cache's own view are ignored because the view already applied them.
func (c *Cache) Apply(ev bridge.Event) {
	if ev.Origin != "" && ev.Origin == c.id {
		return
	}

	switch ev.Action {
	case bridge.ActionPurchased:
		c.update(func(cur []model.Pass) []model.Pass {
			return upsertHead(cur, passFromEvent(ev))
		})
	case bridge.ActionRedeemed:
		uses := 1
		if ev.Uses != nil {
			uses = *ev.Uses
		}
		c.update(func(cur []model.Pass) []model.Pass {
			return decrement(cur, ev.PassID, uses)
		})
	case bridge.ActionRefunded:
		c.update(func(cur []model.Pass) []model.Pass {
			return remove(cur, ev.PassID)
		})
	default:
		c.logger.Warn("unknown bridge action", "action", ev.Action, "pass_id", ev.PassID)
	}
}

// Subscribe keeps the cache in sync with bus until the returned function is called.
func (c *Cache) Subscribe(bus *bridge.Bus) (unsubscribe func()) {
	return bus.Subscribe(c.Apply)
}

// update applies fn to a private copy of the list and installs the result.
func (c *Cache) update(fn func([]model.Pass) []model.Pass) {
	c.mu.Lock()
	next := fn(slices.Clone(c.passes))
	c.passes = next
	c.version++
	cb := c.onChange
	var snapshot []model.Pass
	if cb != nil {
		snapshot = slices.Clone(next)
	}
	c.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

func newestFirst(a, b model.Pass) int {
	return b.PurchasedAt.Compare(a.PurchasedAt)
}

func indexOf(passes []model.Pass, id string) int {
	return slices.IndexFunc(passes, func(p model.Pass) bool { return p.ID == id })
}

func upsertHead(cur []model.Pass, p model.Pass) []model.Pass {
	if i := indexOf(cur, p.ID); i >= 0 {
		cur = slices.Delete(cur, i, i+1)
	}
	if p.RemainingUses <= 0 {
		return cur
	}
	return slices.Insert(cur, 0, p)
}

func decrement(cur []model.Pass, id string, uses int) []model.Pass {
	i := indexOf(cur, id)
	if i < 0 {
		return cur
	}
	cur[i].RemainingUses -= uses
	if cur[i].RemainingUses <= 0 {
		return slices.Delete(cur, i, i+1)
	}
	return cur
}

func remove(cur []model.Pass, id string) []model.Pass {
	if i := indexOf(cur, id); i >= 0 {
		return slices.Delete(cur, i, i+1)
	}
	return cur
}

func passFromEvent(ev bridge.Event) model.Pass {
	p := model.Pass{
		ID:             ev.PassID,
		ProductType:    ev.ProductType,
		PurchaserEmail: ev.PurchaserEmail,
	}
	p.FirstName, p.LastName, _ = strings.Cut(ev.PurchaserName, " ")
	if ev.Quantity != nil {
		p.Quantity = *ev.Quantity
	}
	p.RemainingUses = p.Quantity
	if ev.RemainingUses != nil {
		p.RemainingUses = *ev.RemainingUses
	}
	if ev.PurchasedAt != nil {
		p.PurchasedAt = *ev.PurchasedAt
	} else {
		p.PurchasedAt = time.Now().UTC()
	}
	return p
}
