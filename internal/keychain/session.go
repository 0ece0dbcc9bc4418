package keychain

import (
	"errors"
	"fmt"
	"log/slog"
)

// Session resolves one configured container name to an open handle.
// Handles are never cached: every Open reaches the backend again.
type Session struct {
	backend  Backend
	name     string
	settings Settings
	prompt   bool
	logger   *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSettings sets the locking policy applied by Init.
func WithSettings(s Settings) SessionOption {
	return func(se *Session) {
		se.settings = s
	}
}

// WithPrompt controls whether Init lets the OS prompt for a passphrase.
func WithPrompt(prompt bool) SessionOption {
	return func(se *Session) {
		se.prompt = prompt
	}
}

// NewSession creates a session for the named container on backend.
// Init applies DefaultSettings and prompts unless told otherwise.
func NewSession(backend Backend, name string, opts ...SessionOption) *Session {
	s := &Session{
		backend:  backend,
		name:     name,
		settings: DefaultSettings,
		prompt:   true,
		logger:   slog.With("component", "session", "container", name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the container name.
func (s *Session) Name() string { return s.name }

// Open opens the container. It fails with ErrNotFound if Init was never run.
func (s *Session) Open() (Container, error) {
	c, err := s.backend.OpenContainer(s.name)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("container opened")
	return c, nil
}

// Init creates the container and applies the session settings. Running it
// against an existing container fails with ErrContainerExists.
func (s *Session) Init() (err error) {
	c, err := s.backend.CreateContainer(s.name, s.prompt)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := c.ApplySettings(s.settings); err != nil {
		return fmt.Errorf("applying settings to %s: %w", s.name, err)
	}
	s.logger.Debug("container initialized", "lock_on_sleep", s.settings.LockOnSleep, "lock_interval", s.settings.LockInterval)
	return nil
}
