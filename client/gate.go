package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrWrongPassword is returned by Gate.Unlock when the server rejects the
// password.
var ErrWrongPassword = errors.New("wrong password")

// Sessions opens server sessions and installs their token for later calls.
// An empty token means the server runs without a password.
type Sessions interface {
	OpenSession(ctx context.Context, password string) (string, error)
	SetToken(token string)
}

// Gate starts locked and opens once the server accepts a password.
type Gate struct {
	sessions Sessions

	mu     sync.Mutex
	locked bool
}

func NewGate(s Sessions) *Gate {
	return &Gate{sessions: s, locked: true}
}

// Unlock sends password to the server. Any failure leaves the gate locked.
func (g *Gate) Unlock(ctx context.Context, password string) error {
	token, err := g.sessions.OpenSession(ctx, password)
	if err != nil {
		if errors.Is(err, ErrWrongPassword) {
			return ErrWrongPassword
		}
		return fmt.Errorf("open session: %w", err)
	}
	g.sessions.SetToken(token)

	g.mu.Lock()
	g.locked = false
	g.mu.Unlock()
	return nil
}

func (g *Gate) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}
