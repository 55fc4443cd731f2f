package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/clubdesk/internal/clock"
	"github.com/dukerupert/clubdesk/internal/model"
)

var (
	ErrPassNotFound         = errors.New("pass not found")
	ErrPassNotActive        = errors.New("pass is not active")
	ErrPassExhausted        = errors.New("pass has no remaining uses")
	ErrAlreadyRedeemedToday = errors.New("pass already redeemed today")
	ErrInvalidPass          = errors.New("invalid pass")
)

// RedeemError is a refused redemption with the pass details the console
// renders alongside it.
type RedeemError struct {
	Err     error
	Details *model.PassDetails
}

func (e *RedeemError) Error() string { return e.Err.Error() }
func (e *RedeemError) Unwrap() error { return e.Err }

const (
	statusActive   = "active"
	statusRefunded = "refunded"
)

type PassStore struct {
	db    *sql.DB
	clock clock.Clock
	loc   *time.Location
}

// NewPassStore creates a pass store. loc decides where a calendar day starts
// for the once-per-day redemption guard.
func NewPassStore(db *sql.DB, clk clock.Clock, loc *time.Location) *PassStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PassStore{db: db, clock: clk, loc: loc}
}

type passRow struct {
	model.Pass
	Status string
}

func scanPass(scanner interface{ Scan(...any) error }) (*passRow, error) {
	var p passRow
	err := scanner.Scan(
		&p.ID, &p.ProductType, &p.Quantity, &p.RemainingUses,
		&p.PurchaserEmail, &p.FirstName, &p.LastName, &p.Status, &p.PurchasedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const passCols = `id, product_type, quantity, remaining_uses, purchaser_email, first_name, last_name, status, purchased_at`

// Create records a sold pass with a fresh id and all uses remaining.
func (s *PassStore) Create(req model.SellPassRequest) (*model.Pass, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Quantity <= 0 || strings.TrimSpace(req.ProductType) == "" {
		return nil, ErrInvalidPass
	}

	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO passes (id, product_type, quantity, remaining_uses, purchaser_email, first_name, last_name, purchased_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, strings.TrimSpace(req.ProductType), req.Quantity, req.Quantity, email,
		strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName), s.clock.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert pass: %w", err)
	}
	return s.GetByID(id)
}

// GetByID returns the pass, or nil if it does not exist. Refunded passes are
// returned too.
func (s *PassStore) GetByID(id string) (*model.Pass, error) {
	row, err := s.get(s.db, id)
	if row == nil {
		return nil, err
	}
	return &row.Pass, nil
}

func (s *PassStore) get(q querier, id string) (*passRow, error) {
	p, err := scanPass(q.QueryRow(`SELECT `+passCols+` FROM passes WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pass: %w", err)
	}
	return p, nil
}

// SearchByEmail returns active passes with remaining uses bought by email,
// newest first. The match is case-insensitive.
func (s *PassStore) SearchByEmail(email string) ([]model.Pass, error) {
	return s.list(
		`SELECT `+passCols+` FROM passes
		 WHERE purchaser_email = ? AND status = ? AND remaining_uses > 0
		 ORDER BY purchased_at DESC`,
		strings.TrimSpace(email), statusActive,
	)
}

// ListUnredeemed returns the most recent active passes with remaining uses.
func (s *PassStore) ListUnredeemed(limit int) ([]model.Pass, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(
		`SELECT `+passCols+` FROM passes
		 WHERE status = ? AND remaining_uses > 0
		 ORDER BY purchased_at DESC LIMIT ?`,
		statusActive, limit,
	)
}

func (s *PassStore) list(query string, args ...any) ([]model.Pass, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	passes := []model.Pass{}
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		passes = append(passes, p.Pass)
	}
	return passes, rows.Err()
}

// RedeemInput describes one redemption attempt.
type RedeemInput struct {
	PassID     string
	RedeemedBy string
	Location   string
	// Force consumes a use even if the pass was already redeemed today.
	Force bool
}

// Redeem consumes one use. Checks run in order: existence, active, remaining
// uses, then the same-day guard unless forced. Refusals are *RedeemError.
func (s *PassStore) Redeem(in RedeemInput) (*model.RedeemResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin redeem: %w", err)
	}
	defer tx.Rollback()

	p, err := s.get(tx, in.PassID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &RedeemError{Err: ErrPassNotFound}
	}

	last, err := lastRedemption(tx, p.ID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	details := &model.PassDetails{
		Name:           p.PurchaserName(),
		Email:          p.PurchaserEmail,
		UsedCount:      p.UsedCount(),
		TotalUses:      p.Quantity,
		RemainingUses:  p.RemainingUses,
		LastRedeemedAt: last,
	}

	switch {
	case p.Status != statusActive:
		return nil, &RedeemError{Err: ErrPassNotActive, Details: details}
	case p.RemainingUses <= 0:
		return nil, &RedeemError{Err: ErrPassExhausted, Details: details}
	case last != nil && s.sameDay(*last, now) && !in.Force:
		details.RedeemedTodayAt = last
		return nil, &RedeemError{Err: ErrAlreadyRedeemedToday, Details: details}
	}

	if _, err := tx.Exec(
		`UPDATE passes SET remaining_uses = remaining_uses - 1 WHERE id = ? AND remaining_uses > 0`,
		p.ID,
	); err != nil {
		return nil, fmt.Errorf("consume use: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO redemption_logs (pass_id, redeemed_at, redeemed_by, location, forced) VALUES (?, ?, ?, ?, ?)`,
		p.ID, now, in.RedeemedBy, in.Location, in.Force,
	); err != nil {
		return nil, fmt.Errorf("insert redemption log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit redeem: %w", err)
	}

	return &model.RedeemResult{
		PassHolder: &model.PassHolder{
			Email:       p.PurchaserEmail,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			ProductType: p.ProductType,
		},
		RemainingUses: p.RemainingUses - 1,
		RedeemedAt:    now,
		RedeemedBy:    in.RedeemedBy,
	}, nil
}

func (s *PassStore) sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(s.loc).Date()
	by, bm, bd := b.In(s.loc).Date()
	return ay == by && am == bm && ad == bd
}

func lastRedemption(q querier, passID string) (*time.Time, error) {
	var at time.Time
	err := q.QueryRow(
		`SELECT redeemed_at FROM redemption_logs WHERE pass_id = ? ORDER BY redeemed_at DESC, id DESC LIMIT 1`,
		passID,
	).Scan(&at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last redemption: %w", err)
	}
	return &at, nil
}

// Refund voids the whole pass. Refunding twice yields ErrPassNotActive.
func (s *PassStore) Refund(id string) error {
	res, err := s.db.Exec(
		`UPDATE passes SET status = ?, refunded_at = ? WHERE id = ? AND status = ?`,
		statusRefunded, s.clock.Now().UTC(), id, statusActive,
	)
	if err != nil {
		return fmt.Errorf("refund pass: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	p, err := s.GetByID(id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrPassNotFound
	}
	return ErrPassNotActive
}

// History returns the redemption log of a pass, newest first.
func (s *PassStore) History(id string) ([]model.RedemptionLogEntry, error) {
	p, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPassNotFound
	}

	rows, err := s.db.Query(
		`SELECT redeemed_at, redeemed_by, location FROM redemption_logs WHERE pass_id = ? ORDER BY redeemed_at DESC, id DESC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list redemption logs: %w", err)
	}
	defer rows.Close()

	logs := []model.RedemptionLogEntry{}
	for rows.Next() {
		var e model.RedemptionLogEntry
		if err := rows.Scan(&e.RedeemedAt, &e.RedeemedBy, &e.Location); err != nil {
			return nil, fmt.Errorf("scan redemption log: %w", err)
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}
