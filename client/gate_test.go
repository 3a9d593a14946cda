package client

import (
	"context"
	"errors"
	"testing"
)

type fakeSessions struct {
	password string
	token    string
	err      error
	set      []string
}

func (f *fakeSessions) OpenSession(_ context.Context, password string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if password != f.password {
		return "", ErrWrongPassword
	}
	return f.token, nil
}

func (f *fakeSessions) SetToken(token string) { f.set = append(f.set, token) }

func TestGateStartsLocked(t *testing.T) {
	if !NewGate(&fakeSessions{}).Locked() {
		t.Fatalf("expected new gate to be locked")
	}
}

func TestGateWrongPasswordStaysLocked(t *testing.T) {
	s := &fakeSessions{password: "open sesame", token: "tok"}
	g := NewGate(s)

	for _, pw := range []string{"", "guess", "open sesame!"} {
		if err := g.Unlock(context.Background(), pw); !errors.Is(err, ErrWrongPassword) {
			t.Fatalf("Unlock(%q): expected ErrWrongPassword, got %v", pw, err)
		}
		if !g.Locked() {
			t.Fatalf("expected gate to stay locked after %q", pw)
		}
	}
	if len(s.set) != 0 {
		t.Fatalf("expected no token installed, got %v", s.set)
	}
}

func TestGateUnlockInstallsToken(t *testing.T) {
	s := &fakeSessions{password: "open sesame", token: "tok"}
	g := NewGate(s)

	if err := g.Unlock(context.Background(), "guess"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected wrong password first, got %v", err)
	}
	if err := g.Unlock(context.Background(), "open sesame"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if g.Locked() {
		t.Fatalf("expected gate to be open")
	}
	if len(s.set) != 1 || s.set[0] != "tok" {
		t.Fatalf("expected token installed once, got %v", s.set)
	}
}

func TestGateTransportFailure(t *testing.T) {
	boom := errors.New("connection refused")
	g := NewGate(&fakeSessions{err: boom})

	err := g.Unlock(context.Background(), "anything")
	if !errors.Is(err, boom) || errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if !g.Locked() {
		t.Fatalf("expected gate locked after failure")
	}
}
