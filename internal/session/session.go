// Package session tracks the login state of the surrounding application.
// The engine only ever sees the opaque token; how credentials are verified
// or persisted is not this package's concern.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidCredentials = errors.New("session: invalid credentials")

// Session is the authenticated state handed to the engine as an opaque
// token.
type Session struct {
	User      string
	Token     string
	CreatedAt time.Time
}

// Authenticator verifies credentials. The default accepts any non-empty
// pair; callers with a real account backend supply their own.
type Authenticator func(user, password string) error

// Manager owns the current session. Safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	current *Session
	auth    Authenticator
}

func NewManager(auth Authenticator) *Manager {
	if auth == nil {
		auth = func(user, password string) error {
			if strings.TrimSpace(user) == "" || password == "" {
				return ErrInvalidCredentials
			}
			return nil
		}
	}
	return &Manager{auth: auth}
}

// Login verifies the credentials and installs a fresh session.
func (m *Manager) Login(user, password string) (Session, error) {
	if err := m.auth(user, password); err != nil {
		return Session{}, err
	}
	session := Session{
		User:      strings.TrimSpace(user),
		Token:     uuid.NewString(),
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.current = &session
	m.mu.Unlock()
	return session, nil
}

// Logout clears the current session.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Current returns the active session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Token returns the active token or the empty string. The engine forwards
// it without inspecting it.
func (m *Manager) Token() string {
	session, ok := m.Current()
	if !ok {
		return ""
	}
	return session.Token
}
