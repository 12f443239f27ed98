package domain

import "errors"

// Validation failures are rejected synchronously and never reach the store.
var (
	ErrEmptyTitle   = errors.New("empty title")
	ErrEmptyURL     = errors.New("empty url")
	ErrInvalidURL   = errors.New("invalid url")
	ErrDuplicateURL = errors.New("duplicate url")
)

// Store and stream failures, converted at the synchronizer boundary.
var (
	ErrFetchFailed  = errors.New("bulk fetch failed")
	ErrInsertFailed = errors.New("insert failed")
	ErrDeleteFailed = errors.New("delete failed")
	ErrStreamClosed = errors.New("change stream closed")
)

// Synchronizer state errors.
var (
	ErrNotFound    = errors.New("bookmark not found")
	ErrAddInFlight = errors.New("add already in flight")
	ErrNotReady    = errors.New("collection not ready")
	ErrDisposed    = errors.New("synchronizer disposed")
)

// IsValidation reports whether err is a synchronous input rejection.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyTitle) ||
		errors.Is(err, ErrEmptyURL) ||
		errors.Is(err, ErrInvalidURL) ||
		errors.Is(err, ErrDuplicateURL)
}
