package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omu-rag/newsingest/internal/api"
	"github.com/omu-rag/newsingest/internal/app"
	"github.com/omu-rag/newsingest/internal/config"
	pubmemory "github.com/omu-rag/newsingest/internal/publisher/memory"
	"github.com/omu-rag/newsingest/internal/storage/memory"
)

func departmentSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/haberler/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/haberler/":
			fmt.Fprint(w, `<article class="news-item"><a href="/haberler/sempozyum">x</a></article>
				<article class="news-item"><a href="/dosyalar/takvim.pdf">y</a></article>`)
		case "/haberler/sempozyum":
			fmt.Fprint(w, `<h1 class="heading-title">Sempozyum</h1>
				<div class="news-wrapper"><p class="meta">Yazar: ali | Tarih: 2 Şubat 2024</p><p>Metin</p>
				<a href="/dosyalar/bildiri.docx">bildiri</a></div>`)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/dosyalar/", func(w http.ResponseWriter, r *http.Request) {
		if filepath.Ext(r.URL.Path) == ".pdf" {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.5"))
			return
		}
		_, _ = w.Write([]byte("docx"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, base string) config.Config {
	t.Helper()
	return config.Config{
		Crawler: config.CrawlerConfig{Concurrency: 4, UserAgent: "test", ListingParallelism: 2},
		HTTP: config.HTTPConfig{
			ListingTimeout:  5 * time.Second,
			PageTimeout:     5 * time.Second,
			DownloadTimeout: 5 * time.Second,
			MaxPageBytes:    1 << 20,
		},
		Attachments: config.AttachmentsConfig{Root: t.TempDir()},
		Storage:     config.StorageConfig{Backend: "memory"},
		PubSub:      config.PubSubConfig{Topic: "page-ingested"},
		Departments: map[string]string{"harita-muhendisligi": base},
	}
}

func TestCrawlEndToEnd(t *testing.T) {
	srv := departmentSite(t)
	cfg := testConfig(t, srv.URL)
	store := memory.NewPageStore()
	pub := pubmemory.New()

	a, err := app.NewApp(context.Background(), cfg, nil, app.WithPageStore(store), app.WithPublisher(pub))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	rep := a.Crawl(context.Background(), 0)
	assert.Equal(t, 2, rep.Total.Stored)
	assert.Equal(t, 1, rep.Total.Documents)
	assert.Equal(t, 2, rep.Total.Attachments)
	assert.Len(t, store.Pages(), 2)
	assert.Len(t, pub.ByTopic("page-ingested"), 2)
	assert.Equal(t, api.StateFinished, a.Tracker().Snapshot().State)

	year := time.Now().Format("2006")
	_, err = os.Stat(filepath.Join(cfg.Attachments.Root, "2024", "harita-muhendisligi", "docx", "bildiri.docx"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Attachments.Root, year, "harita-muhendisligi", "pdf", "takvim.pdf"))
	require.NoError(t, err)

	again := a.Crawl(context.Background(), 0)
	assert.Equal(t, 2, again.Total.Duplicates)
	assert.Len(t, store.Pages(), 2)
}

func TestNewAppMemoryBackend(t *testing.T) {
	cfg := testConfig(t, "https://example.com")
	cfg.PubSub = config.PubSubConfig{}

	a, err := app.NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.PageStore{}, a.Store())
	require.NoError(t, a.Close(context.Background()))
}

func TestNewAppUnknownBackend(t *testing.T) {
	cfg := testConfig(t, "https://example.com")
	cfg.Storage.Backend = "cassandra"

	_, err := app.NewApp(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestPostgresConfig(t *testing.T) {
	pg := app.PostgresConfig(config.DBConfig{Host: "db", User: "u", Name: "omu", PagesTable: "pages"})
	assert.Equal(t, "db", pg.Host)
	assert.Equal(t, "pages", pg.Tables.Pages)
}

type closeCountingStore struct {
	*memory.PageStore
	closed int
}

func (s *closeCountingStore) Close(ctx context.Context) error {
	s.closed++
	return s.PageStore.Close(ctx)
}

func TestNewAppClosesStoreWhenLaterServiceFails(t *testing.T) {
	cfg := testConfig(t, "https://example.com")
	cfg.Attachments.Root = ""
	store := &closeCountingStore{PageStore: memory.NewPageStore()}

	_, err := app.NewApp(context.Background(), cfg, nil, app.WithPageStore(store))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init attachment store")
	assert.Equal(t, 1, store.closed)
}
