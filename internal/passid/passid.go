// Package passid turns scanned or typed text into a canonical pass identifier.
package passid

import (
	"errors"
	"regexp"
	"strings"
)

const (
	passPrefix   = "PASS:"
	memberPrefix = "MEMBER:"
)

var (
	// ErrWrongCodeType means a member code was presented where a pass was expected.
	ErrWrongCodeType = errors.New("INVALID_QR_TYPE")

	// ErrEmpty and ErrUnrecognized are returned for input the caller should ignore.
	ErrEmpty        = errors.New("empty pass identifier")
	ErrUnrecognized = errors.New("unrecognized pass identifier")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// Normalize strips a "PASS:" prefix and returns the bare identifier. Bare
// identifiers typed by hand are accepted as-is. A "MEMBER:" code yields
// ErrWrongCodeType.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmpty
	}

	switch {
	case hasPrefixFold(s, memberPrefix):
		return "", ErrWrongCodeType
	case hasPrefixFold(s, passPrefix):
		s = strings.TrimSpace(s[len(passPrefix):])
		if s == "" {
			return "", ErrEmpty
		}
	}

	if !idPattern.MatchString(s) {
		return "", ErrUnrecognized
	}
	return s, nil
}

// Ignorable reports whether err is one the workflow drops without a state change.
func Ignorable(err error) bool {
	return errors.Is(err, ErrEmpty) || errors.Is(err, ErrUnrecognized)
}

// Encode returns the payload printed into a pass QR code.
func Encode(id string) string {
	return passPrefix + id
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
