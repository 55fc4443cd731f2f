package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/clubdesk/internal/bridge"
	"github.com/dukerupert/clubdesk/internal/clock"
	"github.com/dukerupert/clubdesk/internal/handler"
	"github.com/dukerupert/clubdesk/internal/middleware"
	"github.com/dukerupert/clubdesk/internal/store"
	ws "github.com/dukerupert/clubdesk/internal/websocket"
)

const (
	loginLimit  = 10
	loginWindow = time.Minute
)

// Options tunes the pass server.
type Options struct {
	// Location decides where a day starts for the once-per-day guard.
	Location *time.Location
	Clock    clock.Clock
	// Mailer sends sale receipts when set.
	Mailer handler.Mailer
}

type Server struct {
	db           *sql.DB
	bus          *bridge.Bus
	hub          *ws.Hub
	stopRelay    func()
	passH        *handler.PassHandler
	authH        *handler.AuthHandler
	staffStore   *store.StaffStore
	sessionStore *store.SessionStore
	rateLimiter  *middleware.RateLimiter
	logger       *slog.Logger
}

func New(db *sql.DB, opts Options, logger *slog.Logger) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}

	bus := bridge.New(logger.With("component", "bridge"))
	hub := ws.NewHub(logger.With("component", "websocket"))

	passStore := store.NewPassStore(db, opts.Clock, opts.Location)
	staffStore := store.NewStaffStore(db)
	sessionStore := store.NewSessionStore(db, opts.Clock)

	return &Server{
		db:           db,
		bus:          bus,
		hub:          hub,
		stopRelay:    hub.Relay(bus),
		passH:        handler.NewPassHandler(passStore, bus, opts.Mailer, logger.With("component", "pass")),
		authH:        handler.NewAuthHandler(staffStore, sessionStore, logger.With("component", "auth")),
		staffStore:   staffStore,
		sessionStore: sessionStore,
		rateLimiter:  middleware.NewRateLimiter(opts.Clock),
		logger:       logger,
	}
}

// Bus returns the server-side event bus. Everything published on it reaches
// connected desks.
func (s *Server) Bus() *bridge.Bus {
	return s.bus
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// StaffStore returns the staff store for bootstrapping accounts.
func (s *Server) StaffStore() *store.StaffStore {
	return s.staffStore
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Close detaches the websocket relay from the bus.
func (s *Server) Close() {
	s.stopRelay()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	outerMux.HandleFunc("POST /api/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	requireStaff := middleware.RequireStaff(s.sessionStore, s.staffStore)
	outerMux.Handle("/", requireStaff(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, loginLimit, loginWindow)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/logout", s.authH.Logout)

	mux.HandleFunc("GET /passes/search", s.passH.Search)
	mux.HandleFunc("GET /passes/unredeemed", s.passH.Unredeemed)
	mux.HandleFunc("POST /passes", s.passH.Sell)
	mux.HandleFunc("POST /passes/{id}/redeem", s.passH.Redeem)
	mux.HandleFunc("POST /passes/{id}/refund", s.passH.Refund)
	mux.HandleFunc("GET /passes/{id}/history", s.passH.History)
	mux.HandleFunc("GET /passes/{id}/qr", s.passH.QR)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}
