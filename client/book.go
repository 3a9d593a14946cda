// Package client holds the in-memory guest list a front-end renders, and
// pushes every mutation to a BashBook server.
package client

import (
	"context"
	"fmt"
	"sync"

	"bashbook/domain"
)

// Persister stores the list on behalf of a Book.
type Persister interface {
	Load(ctx context.Context) ([]domain.Guest, error)
	Replace(ctx context.Context, guests []domain.Guest) error
	Delete(ctx context.Context, id string) error
}

// Confirm is asked before a guest is removed. Returning false cancels.
type Confirm func(guest domain.Guest) bool

// Book is the view-model of the guest list. Mutations update memory first and
// then push; a failed push is returned and kept in LastError but never rolled
// back.
//
// Pushes run one at a time and each full-list push sends the newest list, so
// a push that is still retrying can never land after a newer one.
type Book struct {
	persister Persister

	// pushMu is taken before mu.
	pushMu sync.Mutex

	mu      sync.Mutex
	guests  []domain.Guest
	search  string
	version uint64
	synced  uint64
	pushErr error
	lastErr error
}

func NewBook(p Persister) *Book {
	if p == nil {
		panic("client: nil persister")
	}
	return &Book{persister: p, guests: []domain.Guest{}}
}

// Load replaces the in-memory list with the stored one. On failure the
// current list is kept.
func (b *Book) Load(ctx context.Context) error {
	b.pushMu.Lock()
	defer b.pushMu.Unlock()

	guests, err := b.persister.Load(ctx)
	if err != nil {
		err = fmt.Errorf("load guests: %w", err)
		b.setErr(err)
		return err
	}
	b.mu.Lock()
	b.guests = domain.Clone(guests)
	b.synced = b.version
	b.pushErr = nil
	b.lastErr = nil
	b.mu.Unlock()
	return nil
}

// Add appends a guest called name and pushes the full list.
func (b *Book) Add(ctx context.Context, name string) (domain.Guest, error) {
	guest := b.Append(name)
	return guest, b.Sync(ctx)
}

// Toggle flips the checked-in flag of id and pushes the full list. Nothing is
// pushed when id is unknown.
func (b *Book) Toggle(ctx context.Context, id string) (bool, error) {
	if !b.Flip(id) {
		return false, nil
	}
	return true, b.Sync(ctx)
}

// Delete asks confirm about the guest with id and, when it agrees, removes
// the guest and pushes a delete for that id only.
func (b *Book) Delete(ctx context.Context, id string, confirm Confirm) (bool, error) {
	b.mu.Lock()
	guest, ok := domain.Find(b.guests, id)
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	if confirm != nil && !confirm(guest) {
		return false, nil
	}
	if _, removed := b.Remove(id); !removed {
		return false, nil
	}
	return true, b.SyncDelete(ctx, id)
}

// Append adds a guest to the in-memory list without pushing it.
func (b *Book) Append(name string) domain.Guest {
	b.mu.Lock()
	defer b.mu.Unlock()
	var guest domain.Guest
	b.guests, guest = domain.Append(b.guests, name)
	b.version++
	return guest
}

// Flip toggles id in memory without pushing. It reports whether id exists.
func (b *Book) Flip(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, ok := domain.Toggle(b.guests, id)
	if !ok {
		return false
	}
	b.guests = next
	b.version++
	return true
}

// Remove drops id from memory without pushing.
func (b *Book) Remove(id string) (domain.Guest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	guest, ok := domain.Find(b.guests, id)
	if !ok {
		return domain.Guest{}, false
	}
	b.guests, _ = domain.Remove(b.guests, id)
	b.version++
	return guest, true
}

// Sync pushes the current list. When a push already covered every local
// change it returns that push's result without sending anything.
func (b *Book) Sync(ctx context.Context) error {
	b.pushMu.Lock()
	defer b.pushMu.Unlock()

	b.mu.Lock()
	if b.version <= b.synced {
		err := b.pushErr
		b.mu.Unlock()
		return err
	}
	version := b.version
	snapshot := domain.Clone(b.guests)
	b.mu.Unlock()

	err := b.persister.Replace(ctx, snapshot)
	if err != nil {
		err = fmt.Errorf("save guests: %w", err)
	}
	b.mu.Lock()
	b.synced = version
	b.pushErr = err
	b.lastErr = err
	b.mu.Unlock()
	return err
}

// SyncDelete asks the server to remove id. A success leaves the error of an
// earlier failed full-list push in place.
func (b *Book) SyncDelete(ctx context.Context, id string) error {
	b.pushMu.Lock()
	defer b.pushMu.Unlock()

	if err := b.persister.Delete(ctx, id); err != nil {
		err = fmt.Errorf("delete guest %s: %w", id, err)
		b.setErr(err)
		return err
	}
	b.mu.Lock()
	b.lastErr = b.pushErr
	b.mu.Unlock()
	return nil
}

func (b *Book) SetSearch(term string) {
	b.mu.Lock()
	b.search = term
	b.mu.Unlock()
}

func (b *Book) Search() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.search
}

// Visible returns the guests matching the search term, pending ones first.
func (b *Book) Visible() []domain.Guest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.DisplayOrder(domain.Filter(b.guests, b.search))
}

// Guests returns the list in stored order.
func (b *Book) Guests() []domain.Guest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.Clone(b.guests)
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.guests)
}

func (b *Book) Stats() (checkedIn, pending int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.Stats(b.guests)
}

// LastError is the error of the most recent push or load, nil after a
// success.
func (b *Book) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *Book) setErr(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}
