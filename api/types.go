package api

import (
	"context"
	"time"

	"bashbook/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	Load(ctx context.Context) ([]domain.Guest, error)
	Replace(ctx context.Context, guests []domain.Guest) error
	Delete(ctx context.Context, id string) (int, error)
}

// Notifier receives a change after every successful write.
type Notifier interface {
	Notify(ctx context.Context, change domain.Change) error
}

// Authenticator is implemented by types able to open and validate sessions.
type Authenticator interface {
	// Enabled reports whether requests must carry a session.
	Enabled() bool
	Unlock(password string) (token string, expires time.Time, err error)
	SubjectFromAuthHeader(string) (string, error)
}
