package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/clubdesk/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid staff name or PIN")
	ErrInvalidPIN         = errors.New("PIN must be 4 to 8 digits")
)

type StaffStore struct {
	db *sql.DB
}

func NewStaffStore(db *sql.DB) *StaffStore {
	return &StaffStore{db: db}
}

func scanStaff(scanner interface{ Scan(...any) error }) (*model.Staff, error) {
	var st model.Staff
	err := scanner.Scan(&st.ID, &st.Name, &st.PINHash, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

const staffCols = `id, name, pin_hash, created_at`

func validPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 8 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Create adds a staff member with a bcrypt-hashed PIN.
func (s *StaffStore) Create(name, pin string) (*model.Staff, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("staff name is required")
	}
	if !validPIN(pin) {
		return nil, ErrInvalidPIN
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}

	result, err := s.db.Exec(`INSERT INTO staff (name, pin_hash) VALUES (?, ?)`, name, string(hash))
	if err != nil {
		return nil, fmt.Errorf("insert staff: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *StaffStore) GetByID(id int64) (*model.Staff, error) {
	st, err := scanStaff(s.db.QueryRow(`SELECT `+staffCols+` FROM staff WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get staff: %w", err)
	}
	return st, nil
}

func (s *StaffStore) GetByName(name string) (*model.Staff, error) {
	st, err := scanStaff(s.db.QueryRow(`SELECT `+staffCols+` FROM staff WHERE name = ?`, strings.TrimSpace(name)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get staff by name: %w", err)
	}
	return st, nil
}

// Authenticate checks a PIN against the stored hash.
func (s *StaffStore) Authenticate(name, pin string) (*model.Staff, error) {
	st, err := s.GetByName(name)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(st.PINHash), []byte(pin)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return st, nil
}

func (s *StaffStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM staff`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count staff: %w", err)
	}
	return n, nil
}
