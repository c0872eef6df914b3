package session

import (
	"errors"
	"testing"
)

func TestLoginInstallsSession(t *testing.T) {
	m := NewManager(nil)

	if _, ok := m.Current(); ok {
		t.Fatalf("fresh manager must have no session")
	}
	if m.Token() != "" {
		t.Fatalf("fresh manager must have an empty token")
	}

	session, err := m.Login("alice", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.User != "alice" || session.Token == "" {
		t.Fatalf("unexpected session: %+v", session)
	}

	current, ok := m.Current()
	if !ok || current.Token != session.Token {
		t.Fatalf("current session mismatch: %+v", current)
	}
	if m.Token() != session.Token {
		t.Fatalf("token accessor mismatch")
	}
}

func TestLoginRejectsEmptyCredentials(t *testing.T) {
	m := NewManager(nil)
	for _, creds := range [][2]string{{"", "secret"}, {"  ", "secret"}, {"alice", ""}} {
		if _, err := m.Login(creds[0], creds[1]); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for %q/%q, got %v", creds[0], creds[1], err)
		}
	}
	if _, ok := m.Current(); ok {
		t.Fatalf("failed login must not install a session")
	}
}

func TestReloginRotatesToken(t *testing.T) {
	m := NewManager(nil)
	first, _ := m.Login("alice", "secret")
	second, _ := m.Login("alice", "secret")
	if first.Token == second.Token {
		t.Fatalf("relogin must issue a fresh token")
	}
}

func TestLogoutClearsSession(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Login("alice", "secret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Logout()
	if _, ok := m.Current(); ok {
		t.Fatalf("logout must clear the session")
	}
	if m.Token() != "" {
		t.Fatalf("logout must clear the token")
	}
}

func TestCustomAuthenticator(t *testing.T) {
	denied := errors.New("denied")
	m := NewManager(func(user, password string) error {
		if user != "bob" {
			return denied
		}
		return nil
	})
	if _, err := m.Login("alice", "x"); !errors.Is(err, denied) {
		t.Fatalf("expected custom denial, got %v", err)
	}
	if _, err := m.Login("bob", "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
