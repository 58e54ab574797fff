package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/omu-rag/newsingest/internal/crawler"
)

// PageStore keeps page records and attachments in memory.
type PageStore struct {
	mu          sync.RWMutex
	seq         int
	pages       map[crawler.RecordID]crawler.PageRecord
	byURL       map[string]crawler.RecordID
	attachments map[crawler.RecordID][]crawler.Attachment
}

var _ crawler.PageStore = (*PageStore)(nil)

// NewPageStore constructs a PageStore.
func NewPageStore() *PageStore {
	return &PageStore{
		pages:       make(map[crawler.RecordID]crawler.PageRecord),
		byURL:       make(map[string]crawler.RecordID),
		attachments: make(map[crawler.RecordID][]crawler.Attachment),
	}
}

// Acquire returns a session over the shared maps.
func (s *PageStore) Acquire(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire memory session: %w", err)
	}
	return &session{store: s}, nil
}

// Close is a no-op.
func (s *PageStore) Close(context.Context) error {
	return nil
}

// Pages returns a snapshot of stored records.
func (s *PageStore) Pages() []crawler.PageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.PageRecord, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	return out
}

// PageByURL returns the record stored for url.
func (s *PageStore) PageByURL(url string) (crawler.PageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return crawler.PageRecord{}, false
	}
	return s.pages[id], true
}

// Attachments returns the attachments stored for a record.
func (s *PageStore) Attachments(id crawler.RecordID) []crawler.Attachment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Attachment(nil), s.attachments[id]...)
}

type session struct {
	store *PageStore
}

func (ss *session) InsertPage(_ context.Context, rec crawler.PageRecord) (crawler.RecordID, error) {
	s := ss.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[rec.URL]; exists {
		return "", crawler.ErrDuplicate
	}
	s.seq++
	rec.ID = crawler.RecordID(fmt.Sprintf("mem-%d", s.seq))
	s.pages[rec.ID] = rec
	s.byURL[rec.URL] = rec.ID
	return rec.ID, nil
}

func (ss *session) InsertAttachments(_ context.Context, atts []crawler.Attachment) (int, error) {
	s := ss.store
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, att := range atts {
		if !att.Valid() {
			continue
		}
		if _, ok := s.pages[att.PageRecordID]; !ok {
			continue
		}
		if containsURL(s.attachments[att.PageRecordID], att.OriginalURL) {
			continue
		}
		inserted++
		att.ID = fmt.Sprintf("%s-att-%d", att.PageRecordID, len(s.attachments[att.PageRecordID])+1)
		s.attachments[att.PageRecordID] = append(s.attachments[att.PageRecordID], att)
	}
	return inserted, nil
}

func (ss *session) DeletePage(_ context.Context, id crawler.RecordID) error {
	s := ss.store
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pages[id]
	if !ok {
		return crawler.ErrNoRecord
	}
	delete(s.pages, id)
	delete(s.byURL, rec.URL)
	delete(s.attachments, id)
	return nil
}

func (ss *session) Release() {}

func containsURL(atts []crawler.Attachment, url string) bool {
	for _, a := range atts {
		if a.OriginalURL == url {
			return true
		}
	}
	return false
}
