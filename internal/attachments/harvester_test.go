package attachments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/fetcher"
	"github.com/omu-rag/newsingest/internal/storage"
	"github.com/omu-rag/newsingest/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testClock = fixedClock{now: time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)}

const pageHTML = `<html><body><div class="news-wrapper">
  <a href="/files/Rapor%202024.pdf">rapor</a>
  <a href="/files/Rapor%202024.pdf#sayfa2">rapor tekrar</a>
  <a href="/files/duyuru.DOCX">duyuru</a>
  <a href="/files/oidb-form.pdf">oidb</a>
  <a href="/files/foto.png">foto</a>
  <a href="mailto:x@omu.edu.tr">mail</a>
  <a href="https://elsewhere.example.org/ek.pdf">dis</a>
  <a href="/files/%21%21.pdf">isimsiz</a>
</div></body></html>`

type server struct {
	*httptest.Server
	hits atomic.Int32
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("data:" + r.URL.Path))
	}))
	t.Cleanup(s.Close)
	return s
}

func setup(t *testing.T, srv *server) (*Harvester, *memory.BlobStore, *memory.PageStore, crawler.Session, Page) {
	t.Helper()
	blobs := memory.NewBlobStore()
	pages := memory.NewPageStore()
	sess, err := pages.Acquire(context.Background())
	require.NoError(t, err)

	dept := crawler.Department{ID: "bilgisayar-muhendisligi", BaseURL: srv.URL}
	pageURL := srv.URL + "/haberler/bahar"
	id, err := sess.InsertPage(context.Background(), crawler.PageRecord{URL: pageURL, Department: dept.ID})
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	require.NoError(t, err)

	h := New(Config{}, fetcher.New(fetcher.Config{}, nil, nil), blobs, testClock, nil)
	return h, blobs, pages, sess, Page{Doc: doc, RecordID: id, Department: dept, URL: pageURL, Year: "2024"}
}

func TestHarvestDownloadsEligibleLinks(t *testing.T) {
	srv := newServer(t)
	h, blobs, pages, sess, page := setup(t, srv)

	res := h.Harvest(context.Background(), sess, page)
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 3, res.Downloaded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, int32(3), srv.hits.Load())

	data, ok := blobs.Get("2024/bilgisayar-muhendisligi/pdf/Rapor 2024.pdf")
	require.True(t, ok)
	assert.Equal(t, "data:/files/Rapor 2024.pdf", string(data))
	assert.True(t, blobs.Exists("2024/bilgisayar-muhendisligi/docx/duyuru.docx"))

	atts := pages.Attachments(page.RecordID)
	require.Len(t, atts, 3)
	names := make([]string, 0, len(atts))
	for _, a := range atts {
		names = append(names, a.FileName)
		assert.Equal(t, "bilgisayar-muhendisligi", a.Department)
		assert.Equal(t, testClock.now, a.DownloadedAt)
		assert.NotContains(t, a.OriginalURL, "oidb")
	}
	assert.Contains(t, names, "Rapor 2024.pdf")
	assert.Contains(t, names, "duyuru.docx")
	assert.Contains(t, names, SafeName("", srv.URL+"/files/%21%21.pdf")+".pdf")
}

func TestHarvestIsIdempotent(t *testing.T) {
	srv := newServer(t)
	h, blobs, pages, sess, page := setup(t, srv)

	first := h.Harvest(context.Background(), sess, page)
	require.NoError(t, first.Err)
	hits := srv.hits.Load()
	puts := blobs.Puts()

	second := h.Harvest(context.Background(), sess, page)
	require.NoError(t, second.Err)
	assert.Equal(t, 3, second.Existing)
	assert.Zero(t, second.Downloaded)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, hits, srv.hits.Load())
	assert.Equal(t, puts, blobs.Puts())
	assert.Len(t, pages.Attachments(page.RecordID), 3)
}

func TestCandidatesHostPolicy(t *testing.T) {
	srv := newServer(t)
	h, _, _, _, page := setup(t, srv)

	var res Result
	cands := h.candidates(h.logger, page, &res)
	assert.Len(t, cands, 3)
	assert.Equal(t, 1, res.Skipped)

	h = New(Config{AllowedHosts: []string{"Elsewhere.example.org"}}, nil, nil, testClock, nil)
	res = Result{}
	cands = h.candidates(h.logger, page, &res)
	assert.Len(t, cands, 4)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, srv.hits.Load())
}

func TestCandidatesCustomExtensions(t *testing.T) {
	srv := newServer(t)
	h := New(Config{Extensions: []string{".DOCX"}}, nil, nil, testClock, nil)
	_, _, _, _, page := setup(t, srv)

	var res Result
	cands := h.candidates(h.logger, page, &res)
	require.Len(t, cands, 1)
	assert.Equal(t, "duyuru", cands[0].name)
	assert.Equal(t, "docx", cands[0].ext)
}

func TestHarvestFailedDownloadIsNotRecorded(t *testing.T) {
	srv := newServer(t)
	h, _, pages, sess, page := setup(t, srv)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<a href="/files/missing.pdf">x</a><a href="/files/var.pdf">y</a>`))
	require.NoError(t, err)
	page.Doc = doc

	res := h.Harvest(context.Background(), sess, page)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, pages.Attachments(page.RecordID), 1)
	assert.Equal(t, "var.pdf", pages.Attachments(page.RecordID)[0].FileName)
}

func TestHarvestWithoutRecordIDDoesNothing(t *testing.T) {
	srv := newServer(t)
	h, _, _, sess, page := setup(t, srv)
	page.RecordID = ""

	res := h.Harvest(context.Background(), sess, page)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, srv.hits.Load())
}

func TestHarvestInsertError(t *testing.T) {
	srv := newServer(t)
	h, _, _, _, page := setup(t, srv)
	sess := new(storage.MockSession)
	sess.On("InsertAttachments", mock.Anything, mock.Anything).Return(0, errors.New("db down"))

	res := h.Harvest(context.Background(), sess, page)
	require.Error(t, res.Err)
	assert.Equal(t, 3, res.Downloaded)
	sess.AssertNumberOfCalls(t, "InsertAttachments", 1)
}

func TestStoreDocument(t *testing.T) {
	blobs := memory.NewBlobStore()
	pages := memory.NewPageStore()
	sess, err := pages.Acquire(context.Background())
	require.NoError(t, err)
	id, err := sess.InsertPage(context.Background(), crawler.PageRecord{URL: "https://x.omu.edu.tr/a.pdf"})
	require.NoError(t, err)

	h := New(Config{}, nil, blobs, testClock, nil)
	dept := crawler.Department{ID: "kimya-muhendisligi"}
	att, err := h.StoreDocument(context.Background(), sess, id, dept, "https://x.omu.edu.tr/a.pdf", "Yönetmelik.PDF", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "memory://2024/kimya-muhendisligi/pdf/Yönetmelik.pdf", att.LocalFilePath)
	assert.Equal(t, "Yönetmelik.pdf", att.FileName)
	assert.Len(t, pages.Attachments(id), 1)

	_, err = h.StoreDocument(context.Background(), sess, id, dept, "https://x.omu.edu.tr/a.pdf", "Yönetmelik.pdf", []byte("%PDF-1.7"))
	require.ErrorIs(t, err, ErrNotStored)
	assert.Equal(t, 1, blobs.Puts())
}

func TestStoreDocumentWriteFailure(t *testing.T) {
	blobs := new(storage.MockBlobStore)
	blobs.On("Location", mock.Anything).Return("")
	blobs.On("Exists", mock.Anything).Return(false)
	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("disk full"))
	sess := new(storage.MockSession)

	h := New(Config{}, nil, blobs, testClock, nil)
	_, err := h.StoreDocument(context.Background(), sess, "id-1", crawler.Department{ID: "d"}, "https://x/a.pdf", "a.pdf", nil)
	require.Error(t, err)
	sess.AssertNotCalled(t, "InsertAttachments", mock.Anything, mock.Anything)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "Ders Programı_2024-güz", SafeName("Ders Programı_2024-güz", "u"))
	assert.Equal(t, "abc", SafeName("a/b\\c?", "u"))
	got := SafeName("***", "https://x/a.pdf")
	assert.True(t, strings.HasPrefix(got, "untitled_"))
	assert.Len(t, got, len("untitled_")+12)
	assert.Equal(t, got, SafeName("", "https://x/a.pdf"))
}

func TestDocumentName(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="karar.pdf"`)
	assert.Equal(t, "karar.pdf", DocumentName(h, "https://x/dl?id=3"))
	assert.Equal(t, "yönerge.pdf", DocumentName(nil, "https://x/docs/y%C3%B6nerge.pdf"))
	assert.Equal(t, "document.pdf", DocumentName(nil, "https://x/"))
}
