package domain

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Guest represents a single invitee on the check-in list.
type Guest struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// NewGuest creates a not-yet-checked-in guest with a fresh identifier.
// The name is stored as given; empty and duplicate names are allowed.
func NewGuest(name string) Guest {
	return Guest{ID: uuid.NewString(), Text: name}
}

// Append returns a copy of list with a new guest named name at the end.
func Append(list []Guest, name string) ([]Guest, Guest) {
	g := NewGuest(name)
	out := make([]Guest, 0, len(list)+1)
	out = append(out, list...)
	out = append(out, g)
	return out, g
}

// Toggle returns a copy of list with the checked-in flag of id flipped.
// The second result is false when no guest has that id.
func Toggle(list []Guest, id string) ([]Guest, bool) {
	out := Clone(list)
	for i := range out {
		if out[i].ID == id {
			out[i].Completed = !out[i].Completed
			return out, true
		}
	}
	return out, false
}

// Remove returns a copy of list without the first guest whose id matches.
func Remove(list []Guest, id string) ([]Guest, bool) {
	for i := range list {
		if list[i].ID != id {
			continue
		}
		out := make([]Guest, 0, len(list)-1)
		out = append(out, list[:i]...)
		out = append(out, list[i+1:]...)
		return out, true
	}
	return Clone(list), false
}

// Find returns the guest with id.
func Find(list []Guest, id string) (Guest, bool) {
	for _, g := range list {
		if g.ID == id {
			return g, true
		}
	}
	return Guest{}, false
}

// Filter keeps guests whose name contains term. Matching is case sensitive
// and an empty term keeps everything.
func Filter(list []Guest, term string) []Guest {
	out := make([]Guest, 0, len(list))
	for _, g := range list {
		if strings.Contains(g.Text, term) {
			out = append(out, g)
		}
	}
	return out
}

// DisplayOrder sorts a copy of list so guests still expected come first.
// Relative order inside each group is preserved.
func DisplayOrder(list []Guest) []Guest {
	out := Clone(list)
	sort.SliceStable(out, func(i, j int) bool {
		return !out[i].Completed && out[j].Completed
	})
	return out
}

// Stats counts checked-in and pending guests.
func Stats(list []Guest) (checkedIn, pending int) {
	for _, g := range list {
		if g.Completed {
			checkedIn++
		} else {
			pending++
		}
	}
	return
}

// Clone returns an independent copy of list. A nil list clones to an empty one
// so it serialises as [] rather than null.
func Clone(list []Guest) []Guest {
	out := make([]Guest, len(list))
	copy(out, list)
	return out
}
