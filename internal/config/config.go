// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server configures cmd/passd.
type Server struct {
	Port           string
	DBPath         string
	LogLevel       string
	LogFormat      string
	Location       *time.Location
	BootstrapStaff string
	BootstrapPIN   string
	PostmarkToken  string
	MailFrom       string
}

// Desk configures the cmd/passdesk operator console.
type Desk struct {
	APIURL   string
	Staff    string
	PIN      string
	LogLevel string
	Retries  uint64
	Timeout  time.Duration
	Location string
}

// LoadServer reads PASSD_* variables.
func LoadServer() (Server, error) {
	cfg := Server{
		Port:           getenv("PASSD_PORT", "8080"),
		DBPath:         getenv("PASSD_DB_PATH", "passd.db"),
		LogLevel:       getenv("PASSD_LOG_LEVEL", "info"),
		LogFormat:      getenv("PASSD_LOG_FORMAT", "text"),
		BootstrapStaff: os.Getenv("PASSD_BOOTSTRAP_STAFF"),
		BootstrapPIN:   os.Getenv("PASSD_BOOTSTRAP_PIN"),
		PostmarkToken:  os.Getenv("PASSD_POSTMARK_TOKEN"),
		MailFrom:       os.Getenv("PASSD_MAIL_FROM"),
	}

	tz := getenv("PASSD_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Server{}, fmt.Errorf("PASSD_TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	if (cfg.BootstrapStaff == "") != (cfg.BootstrapPIN == "") {
		return Server{}, fmt.Errorf("PASSD_BOOTSTRAP_STAFF and PASSD_BOOTSTRAP_PIN must be set together")
	}
	if cfg.PostmarkToken != "" && cfg.MailFrom == "" {
		return Server{}, fmt.Errorf("PASSD_MAIL_FROM is required when PASSD_POSTMARK_TOKEN is set")
	}
	return cfg, nil
}

// LoadDesk reads PASSDESK_* variables.
func LoadDesk() (Desk, error) {
	cfg := Desk{
		APIURL:   getenv("PASSDESK_API_URL", "http://localhost:8080"),
		Staff:    os.Getenv("PASSDESK_STAFF"),
		PIN:      os.Getenv("PASSDESK_PIN"),
		LogLevel: getenv("PASSDESK_LOG_LEVEL", "warn"),
		Location: getenv("PASSDESK_LOCATION", "front desk"),
	}

	retries, err := strconv.ParseUint(getenv("PASSDESK_RETRIES", "2"), 10, 64)
	if err != nil {
		return Desk{}, fmt.Errorf("PASSDESK_RETRIES: %w", err)
	}
	cfg.Retries = retries

	timeout, err := time.ParseDuration(getenv("PASSDESK_TIMEOUT", "10s"))
	if err != nil {
		return Desk{}, fmt.Errorf("PASSDESK_TIMEOUT: %w", err)
	}
	cfg.Timeout = timeout
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
