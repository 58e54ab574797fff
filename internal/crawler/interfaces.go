package crawler

import (
	"context"
	"io"
	"net/http"
	"time"
)

// PageStore hands out per-task sessions against the persistence backend.
type PageStore interface {
	Acquire(ctx context.Context) (Session, error)
	Close(ctx context.Context) error
}

// Session is a storage handle owned by exactly one task until Release.
type Session interface {
	// InsertPage stores rec and returns its id, or ErrDuplicate when the URL exists.
	InsertPage(ctx context.Context, rec PageRecord) (RecordID, error)
	// InsertAttachments stores all valid attachments in one bulk operation and
	// returns how many were inserted.
	InsertAttachments(ctx context.Context, atts []Attachment) (int, error)
	// DeletePage removes a record and its attachments.
	DeletePage(ctx context.Context, id RecordID) error
	Release()
}

// BlobStore writes downloaded files below a root directory.
type BlobStore interface {
	Exists(path string) bool
	// Location returns where path is (or would be) stored.
	Location(path string) string
	Put(ctx context.Context, path string, data io.Reader) (string, error)
}

// Fetcher retrieves pages and streams downloads.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
	Open(ctx context.Context, rawURL string) (io.ReadCloser, http.Header, error)
}

// Gate admits outbound requests under a per-origin ceiling. The returned
// release func must be called once the request is done.
type Gate interface {
	Acquire(ctx context.Context, rawURL string) (func(), error)
}

// Publisher pushes ingestion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
