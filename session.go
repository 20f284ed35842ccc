package photolib

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// SessionMode is the library access mode of a session.
type SessionMode int

const (
	// SingleLibrary permits access to the system default library only.
	SingleLibrary SessionMode = iota
	// MultiLibrary permits any number of explicitly addressed libraries.
	MultiLibrary
)

func (m SessionMode) String() string {
	switch m {
	case SingleLibrary:
		return "single-library"
	case MultiLibrary:
		return "multi-library"
	default:
		return "unknown"
	}
}

// Session tracks the library mode and the open handles of one process.
// The platform allows at most one session worth of state per process, so a
// program should create a single Session and share it.
//
// The mode starts at SingleLibrary. EnableMultiLibraryMode is the only
// transition and there is no operation going back: once the switch
// succeeds the session stays in MultiLibrary mode for its lifetime.
type Session struct {
	provider Provider
	gate     *authGate

	mu      sync.Mutex
	mode    SessionMode
	handles map[string]*Library // keyed by cleaned path
}

// NewSession returns a session backed by provider, in SingleLibrary mode
// with no open handles.
func NewSession(provider Provider) *Session {
	return &Session{
		provider: provider,
		gate:     &authGate{provider: provider},
		handles:  make(map[string]*Library),
	}
}

// EnableMultiLibraryMode switches the session to MultiLibrary mode. The
// switch is idempotent and cannot be undone. Returns
// ErrInvalidModeTransition when the platform rejects the switch; the
// session then stays in its current mode.
func (s *Session) EnableMultiLibraryMode(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == MultiLibrary {
		return nil
	}
	if err := s.provider.EnterMultiLibraryMode(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModeTransition, err)
	}
	s.mode = MultiLibrary
	return nil
}

// MultiLibraryModeActive reports whether the session is in MultiLibrary
// mode.
func (s *Session) MultiLibraryModeActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode == MultiLibrary
}

// AuthorizationStatus reports the current platform grant.
func (s *Session) AuthorizationStatus(ctx context.Context) AuthStatus {
	return s.gate.Status(ctx)
}

// RequestAuthorization runs the platform consent flow for level and
// returns the resulting grant.
func (s *Session) RequestAuthorization(ctx context.Context, level AccessLevel) (AuthStatus, error) {
	return s.gate.Request(ctx, level)
}

// Open binds to the library at path. An empty path binds the system
// default library. In SingleLibrary mode only the default library may be
// opened; any other path fails with ErrModeViolation. Opening a path that
// already has a live handle fails with ErrAlreadyOpen, except for the
// default library, whose handle is shared and reference counted.
func (s *Session) Open(ctx context.Context, path string) (*Library, error) {
	sysPath, err := s.provider.SystemLibraryPath()
	if err != nil {
		return nil, fmt.Errorf("failed to locate system library: %w", err)
	}
	if path == "" {
		path = sysPath
	}
	key := filepath.Clean(path)
	isDefault := key == filepath.Clean(sysPath)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == SingleLibrary && !isDefault {
		return nil, fmt.Errorf("cannot open %s in single-library mode: %w", path, ErrModeViolation)
	}
	if lib, ok := s.handles[key]; ok {
		if isDefault {
			lib.refs++
			return lib, nil
		}
		return nil, fmt.Errorf("%s: %w", path, ErrAlreadyOpen)
	}
	store, err := s.provider.OpenLibrary(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open library at %s: %w", path, err)
	}
	lib := newLibrary(s, store, key, isDefault)
	s.handles[key] = lib
	return lib, nil
}

// Create builds a new empty library at path and binds to it. Requires
// MultiLibrary mode; fails with ErrModeViolation otherwise and with
// ErrAlreadyExists when a library is already present at path.
func (s *Session) Create(ctx context.Context, path string) (*Library, error) {
	key := filepath.Clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != MultiLibrary {
		return nil, fmt.Errorf("cannot create %s in single-library mode: %w", path, ErrModeViolation)
	}
	if _, ok := s.handles[key]; ok {
		return nil, fmt.Errorf("%s: %w", path, ErrAlreadyExists)
	}
	store, err := s.provider.CreateLibrary(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create library at %s: %w", path, err)
	}
	lib := newLibrary(s, store, key, false)
	s.handles[key] = lib
	return lib, nil
}

// release drops one reference to lib and tears the handle down when the
// last reference goes. Called from Library.Close.
func (s *Session) release(lib *Library) error {
	s.mu.Lock()
	if lib.refs > 1 {
		lib.refs--
		s.mu.Unlock()
		return nil
	}
	lib.refs = 0
	delete(s.handles, lib.path)
	s.mu.Unlock()

	lib.markClosed()
	if err := lib.store.Close(); err != nil {
		return fmt.Errorf("failed to close store for %s: %w", lib.path, err)
	}
	return nil
}
