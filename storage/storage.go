package storage

import (
	"context"
	"errors"

	"bashbook/domain"
)

// ErrUnreadable is returned when the stored list is missing or malformed.
var ErrUnreadable = errors.New("guest list unreadable")

// Store persists the whole guest list.
type Store interface {
	// Load returns the stored list in insertion order.
	Load(ctx context.Context) ([]domain.Guest, error)
	// Replace overwrites the stored list with guests. Last write wins.
	Replace(ctx context.Context, guests []domain.Guest) error
	// Delete removes the first guest with id and returns the remaining count.
	// A missing id is not an error.
	Delete(ctx context.Context, id string) (int, error)
}
