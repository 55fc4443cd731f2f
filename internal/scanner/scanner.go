// Package scanner owns the lifecycle of a camera scanning session: camera
// acquisition, permission state, a single delivered decode, and teardown.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State represents the scanner session state.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting-permission"
	StateGranted              State = "granted"
	StateDenied               State = "denied"
	StateArmed                State = "armed"
	StateError                State = "error"
)

var (
	// ErrNoCamera is returned by a Camera when no video input exists.
	ErrNoCamera = errors.New("no camera device")
	// ErrPermissionDenied is returned by a Camera when the operator refused access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("scanner closed")
)

const (
	MessageNoCamera         = "No camera found on this device. Enter the pass ID manually instead."
	MessagePermissionDenied = "Camera access was denied. Allow camera access in your browser settings or enter the pass ID manually."
	MessageCameraError      = "Unable to start the camera. Try again or enter the pass ID manually."
)

// Stream is an acquired camera feed. Close releases the device.
type Stream interface {
	Close() error
}

// Camera acquires the video device and runs the decoder. onDecode receives
// decoded text and may fire many times for the same physical code. onError
// receives transient decode noise.
type Camera interface {
	Open(ctx context.Context, onDecode func(text string), onError func(error)) (Stream, error)
}

// Status holds the current scanner status.
type Status struct {
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
	// Manual entry is offered from every state.
	ManualAvailable bool `json:"manual_available"`
}

// StatusCallback is called whenever the scanner state changes.
type StatusCallback func(Status)

// Manager runs at most one scanning session at a time on its camera.
type Manager struct {
	mu       sync.Mutex
	camera   Camera
	status   Status
	callback StatusCallback
	session  *session
	closed   bool
	logger   *slog.Logger
}

// NewManager creates a scanner manager for camera.
func NewManager(camera Camera, cb StatusCallback, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		camera:   camera,
		callback: cb,
		status:   Status{State: StateIdle, ManualAvailable: true},
		logger:   logger,
	}
}

// Status returns the current scanner status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start stops any previous session, acquires the camera, and arms a new
// session. onCode receives the first decoded text of the session, after the
// camera has been released. Start blocks while the camera is acquired.
func (m *Manager) Start(ctx context.Context, onCode func(text string)) error {
	return m.StartMatching(ctx, nil, onCode)
}

// StartMatching is Start with a filter: decodes for which accept returns
// false are dropped and the session stays armed. A nil accept takes every
// decode.
func (m *Manager) StartMatching(ctx context.Context, accept func(text string) bool, onCode func(text string)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	prev := m.session
	s := &session{manager: m, accept: accept, onCode: onCode}
	m.session = s
	m.setState(Status{State: StateRequestingPermission})
	m.mu.Unlock()

	if prev != nil {
		prev.teardown()
	}

	stream, err := m.camera.Open(ctx, s.decode, s.decodeError)
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.session != s {
			return nil
		}
		m.session = nil
		m.setState(statusForError(err))
		m.logger.Warn("camera acquisition failed", "error", err)
		return err
	}

	if !s.attach(stream) {
		// Stopped, replaced, or already decoded while the camera was acquired.
		return nil
	}

	m.mu.Lock()
	if m.session == s {
		m.setState(Status{State: StateGranted})
		m.setState(Status{State: StateArmed})
	}
	m.mu.Unlock()
	return nil
}

// Stop tears down the active session, if any. Safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	if s != nil || m.status.State != StateIdle {
		m.setState(Status{State: StateIdle})
	}
	m.mu.Unlock()

	if s != nil {
		s.teardown()
	}
}

// Close stops the session and refuses new ones. Used when the owning view goes away.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Stop()
}

// Active reports whether a session is acquiring or armed.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

func (m *Manager) setState(s Status) {
	s.ManualAvailable = true
	m.status = s
	if m.callback != nil {
		m.callback(s)
	}
}

// finish is called by a session that delivered its decode.
func (m *Manager) finish(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == s {
		m.session = nil
		m.setState(Status{State: StateIdle})
	}
}

func statusForError(err error) Status {
	switch {
	case errors.Is(err, ErrNoCamera):
		return Status{State: StateError, Message: MessageNoCamera}
	case errors.Is(err, ErrPermissionDenied):
		return Status{State: StateDenied, Message: MessagePermissionDenied}
	default:
		return Status{State: StateError, Message: MessageCameraError}
	}
}

// session is one armed period. consumed is the one-shot latch: it is set
// before teardown starts so concurrent decode callbacks cannot both pass.
type session struct {
	manager  *Manager
	accept   func(string) bool
	onCode   func(string)
	consumed atomic.Bool

	mu       sync.Mutex
	stream   Stream
	tornDown bool
}

func (s *session) attach(stream Stream) bool {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		stream.Close()
		return false
	}
	s.stream = stream
	s.mu.Unlock()
	return true
}

// teardown releases the camera and closes the latch so late decodes are
// dropped. Idempotent.
func (s *session) teardown() {
	s.consumed.Store(true)

	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return
	}
	s.tornDown = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.manager.logger.Warn("release camera", "error", err)
		}
	}
}

func (s *session) decode(text string) {
	if s.accept != nil && !s.accept(text) {
		s.manager.logger.Debug("unrecognised decode ignored", "length", len(text))
		return
	}
	if !s.consumed.CompareAndSwap(false, true) {
		return
	}
	s.teardown()
	s.manager.finish(s)
	if s.onCode != nil {
		s.onCode(text)
	}
}

func (s *session) decodeError(err error) {
	// Decode noise is expected while a code is out of focus.
	s.manager.logger.Debug("decode error", "error", err)
}
