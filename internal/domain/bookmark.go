package domain

import "time"

// Bookmark represents a single saved URL owned by one user.
//
// It is NOT tied to Redis or any transport. The store assigns ID and
// CreatedAt; everything else is set from validated user input.
//
// A Bookmark is uniquely identified by its ID. Within one owner's
// collection the canonical URL should also be unique, enforced by
// canonicalization plus dedup at the synchronizer level.
type Bookmark struct {
	// ID is the server-assigned unique identifier (a ULID, so ids of
	// bookmarks created later sort lexicographically after earlier ones).
	ID string `json:"id"`

	// Title is non-empty, trimmed display text.
	Title string `json:"title"`

	// URL is the canonical absolute URL. See CanonicalURL.
	URL string `json:"url"`

	// Owner is the identifier of the owning user.
	Owner string `json:"owner"`

	// CreatedAt is the server-side creation timestamp.
	// Collections are ordered by CreatedAt, newest first.
	CreatedAt time.Time `json:"created_at"`
}
