package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/omu-rag/newsingest/internal/crawler"
)

// MockBlobStore is a mock implementation of crawler.BlobStore for testing.
type MockBlobStore struct {
	mock.Mock
}

// Exists is the mock implementation of the Exists method.
func (m *MockBlobStore) Exists(path string) bool {
	args := m.Called(path)
	return args.Bool(0)
}

// Location is the mock implementation of the Location method.
func (m *MockBlobStore) Location(path string) string {
	args := m.Called(path)
	return args.String(0)
}

// Put is the mock implementation of the Put method.
func (m *MockBlobStore) Put(ctx context.Context, path string, data io.Reader) (string, error) {
	args := m.Called(ctx, path, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

// MockSession is a mock implementation of crawler.Session for testing.
type MockSession struct {
	mock.Mock
}

// InsertPage is the mock implementation of the InsertPage method.
func (m *MockSession) InsertPage(ctx context.Context, rec crawler.PageRecord) (crawler.RecordID, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(crawler.RecordID), args.Error(1) //nolint:wrapcheck
}

// InsertAttachments is the mock implementation of the InsertAttachments method.
func (m *MockSession) InsertAttachments(ctx context.Context, atts []crawler.Attachment) (int, error) {
	args := m.Called(ctx, atts)
	return args.Int(0), args.Error(1) //nolint:wrapcheck
}

// DeletePage is the mock implementation of the DeletePage method.
func (m *MockSession) DeletePage(ctx context.Context, id crawler.RecordID) error {
	args := m.Called(ctx, id)
	return args.Error(0) //nolint:wrapcheck
}

// Release is the mock implementation of the Release method.
func (m *MockSession) Release() {
	m.Called()
}
