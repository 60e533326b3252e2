package propagation

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/store"
)

// ErrSessionClosed is returned when installing on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Session is the state of one signed-in application session: the store as
// handed over at sign-in, the store exposed to the rest of the application
// and the installed pipelines. A new Session is created at every sign-in and
// closed at sign-out.
type Session struct {
	id  string
	raw store.Store

	installMu sync.Mutex

	mu       sync.Mutex
	public   store.Store
	installs map[string]*Installation
	closed   bool
}

// NewSession opens a session over raw.
func NewSession(raw store.Store) *Session {
	return &Session{
		id:       uuid.NewString(),
		raw:      raw,
		public:   raw,
		installs: make(map[string]*Installation),
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Raw returns the unwrapped store.
func (s *Session) Raw() store.Store { return s.raw }

// Store returns the store exposed to the application, including any
// protective wrappers.
func (s *Session) Store() store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.public
}

// ProtectWrites makes the public store reject writes to layers. Pipelines
// installed on the session keep writing through the capability they captured.
func (s *Session) ProtectWrites(layers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.public = store.Protect(s.public, layers...)
}

// Installation returns the pipeline installed for a source layer.
func (s *Session) Installation(layer string) (*Installation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installs[strings.ToLower(layer)]
	return inst, ok
}

// Installations returns the number of installed pipelines.
func (s *Session) Installations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.installs)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// install runs build once per source layer. Later calls return the existing
// installation and whether it was created by this call. Installs are
// serialised; build may use the session.
func (s *Session) install(layer string, build func() (*Installation, error)) (*Installation, bool, error) {
	key := strings.ToLower(layer)

	s.installMu.Lock()
	defer s.installMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrSessionClosed
	}
	if inst, ok := s.installs[key]; ok {
		s.mu.Unlock()
		return inst, false, nil
	}
	s.mu.Unlock()

	inst, err := build()
	if err != nil {
		return nil, false, err
	}
	inst.release = func() { s.forget(key, inst) }

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err := inst.Uninstall(); err != nil {
			inst.logger.Warn("uninstall after concurrent close failed", "error", err)
		}
		return nil, false, ErrSessionClosed
	}
	s.installs[key] = inst
	s.mu.Unlock()
	return inst, true, nil
}

func (s *Session) forget(key string, inst *Installation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installs[key] == inst {
		delete(s.installs, key)
	}
}

// Close uninstalls every pipeline and rejects further installs. It returns
// the first uninstall error.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	installs := make([]*Installation, 0, len(s.installs))
	for _, inst := range s.installs {
		installs = append(installs, inst)
	}
	s.mu.Unlock()

	var firstErr error
	for _, inst := range installs {
		if err := inst.Uninstall(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
