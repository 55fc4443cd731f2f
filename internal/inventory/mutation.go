package inventory

import (
	"errors"
	"slices"

	"github.com/dukerupert/clubdesk/internal/model"
)

// ErrMutationDone is returned when a finished mutation is applied again.
var ErrMutationDone = errors.New("mutation already committed or rolled back")

// Mutation is one optimistic change: the list is captured on Begin, the
// speculative change is applied immediately, and the change is either kept
// (Commit) or undone by restoring the captured list (Rollback).
type Mutation struct {
	cache    *Cache
	snapshot []model.Pass
	done     bool
}

// Begin captures the current list for a later rollback.
func (c *Cache) Begin() *Mutation {
	c.mu.RLock()
	snap := slices.Clone(c.passes)
	c.mu.RUnlock()
	return &Mutation{cache: c, snapshot: snap}
}

// Snapshot returns a copy of the list captured by Begin.
func (m *Mutation) Snapshot() []model.Pass {
	return slices.Clone(m.snapshot)
}

// Redeem speculatively consumes one use of the pass, dropping it at zero.
func (m *Mutation) Redeem(passID string) error {
	if m.done {
		return ErrMutationDone
	}
	m.cache.update(func(cur []model.Pass) []model.Pass {
		return decrement(cur, passID, 1)
	})
	return nil
}

// Remove speculatively drops the pass.
func (m *Mutation) Remove(passID string) error {
	if m.done {
		return ErrMutationDone
	}
	m.cache.update(func(cur []model.Pass) []model.Pass {
		return remove(cur, passID)
	})
	return nil
}

// Commit keeps the speculative state. The list is not re-fetched.
func (m *Mutation) Commit() {
	m.done = true
}

// Rollback restores the captured list exactly. It is a no-op after Commit or
// a previous Rollback.
func (m *Mutation) Rollback() {
	if m.done {
		return
	}
	m.done = true
	snap := slices.Clone(m.snapshot)
	m.cache.update(func([]model.Pass) []model.Pass { return snap })
}
