package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/clubdesk/internal/clock"
	"github.com/dukerupert/clubdesk/internal/model"
)

// SessionTTL is the lifetime of a staff bearer token, about one shift.
const SessionTTL = 12 * time.Hour

type SessionStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewSessionStore(db *sql.DB, clk clock.Clock) *SessionStore {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &SessionStore{db: db, clock: clk}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.StaffSession, error) {
	var s model.StaffSession
	err := scanner.Scan(&s.ID, &s.Token, &s.StaffID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const sessionCols = `id, token, staff_id, expires_at, created_at`

// Create generates a new session with a crypto-random token.
func (s *SessionStore) Create(staffID int64) (*model.StaffSession, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	expiresAt := s.clock.Now().UTC().Add(SessionTTL)

	result, err := s.db.Exec(
		`INSERT INTO staff_sessions (token, staff_id, expires_at) VALUES (?, ?, ?)`,
		token, staffID, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return scanSession(s.db.QueryRow(`SELECT `+sessionCols+` FROM staff_sessions WHERE id = ?`, id))
}

// GetByToken returns the session for the given token, or nil if expired or not found.
func (s *SessionStore) GetByToken(token string) (*model.StaffSession, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionCols+` FROM staff_sessions WHERE token = ? AND expires_at > ?`,
		token, s.clock.Now().UTC(),
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM staff_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes expired sessions and returns how many were removed.
func (s *SessionStore) DeleteExpired() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM staff_sessions WHERE expires_at <= ?`, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
