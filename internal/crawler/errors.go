package crawler

import "errors"

var (
	// ErrDuplicate reports that a page with the same URL is already stored.
	ErrDuplicate = errors.New("page already stored")
	// ErrNoRecord reports an operation on a record that does not exist.
	ErrNoRecord = errors.New("record not found")
)
