package domain

// Change types published on the change feed.
const (
	ChangeGuestsReplaced = "guests-replaced"
	ChangeGuestDeleted   = "guest-deleted"
)

// Change describes a successful write to the guest list.
type Change struct {
	Type      string `json:"type"`
	GuestID   string `json:"guestId,omitempty"`
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
}
