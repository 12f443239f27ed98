package domain

// EventKind classifies a row-level change notification.
type EventKind string

const (
	// EventInsert carries the full new record in Bookmark.
	EventInsert EventKind = "insert"
	// EventDelete carries only the removed id in ID.
	EventDelete EventKind = "delete"
	// EventOther is any kind this data model has no reaction to
	// (there is no update operation). Accepted, never applied.
	EventOther EventKind = "other"
)

// Event is one change-feed notification for a single owner's collection.
// This is also the wire envelope published on the feed channel.
type Event struct {
	Kind     EventKind `json:"kind"`
	Bookmark *Bookmark `json:"bookmark,omitempty"`
	ID       string    `json:"id,omitempty"`
}

// RecordID returns the id of the affected record regardless of kind.
func (e Event) RecordID() string {
	if e.Bookmark != nil {
		return e.Bookmark.ID
	}
	return e.ID
}
