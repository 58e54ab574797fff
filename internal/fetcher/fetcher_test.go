package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omu-rag/newsingest/internal/crawler"
)

func TestFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>merhaba</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "test-agent"}, nil, nil)
	resp, err := f.Fetch(context.Background(), srv.URL+"/haberler/x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, crawler.KindHTML, resp.Kind)
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType())
	assert.Contains(t, string(resp.Body), "merhaba")
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(Config{}, nil, nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindHTTP, fe.Kind)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := New(Config{PageTimeout: 50 * time.Millisecond}, nil, nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Config{}, nil, nil).Fetch(context.Background(), addr)
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestFetchBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	_, err := New(Config{MaxPageBytes: 1024}, nil, nil).Fetch(context.Background(), srv.URL)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		url         string
		body        []byte
		want        crawler.ContentKind
	}{
		{"header", "application/pdf", "https://x/doc", nil, crawler.KindPDF},
		{"header with params", "Application/PDF; name=a.pdf", "https://x/doc", nil, crawler.KindPDF},
		{"suffix", "application/octet-stream", "https://x/files/Duyuru.PDF", nil, crawler.KindPDF},
		{"magic bytes", "text/html", "https://x/view?id=3", []byte("%PDF-1.7\n..."), crawler.KindPDF},
		{"html", "text/html", "https://x/haberler/a", []byte("<html>"), crawler.KindHTML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.contentType, tt.url, tt.body))
		})
	}
}

func TestFetchSniffsPDFMagic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	resp, err := New(Config{}, nil, nil).Fetch(context.Background(), srv.URL+"/download?id=9")
	require.NoError(t, err)
	assert.Equal(t, crawler.KindPDF, resp.Kind)
}

type countingGate struct {
	acquired atomic.Int32
	released atomic.Int32
}

func (g *countingGate) Acquire(context.Context, string) (func(), error) {
	g.acquired.Add(1)
	return func() { g.released.Add(1) }, nil
}

func TestOpenStreamsThroughGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("binary-payload"))
	}))
	defer srv.Close()

	gate := &countingGate{}
	f := New(Config{}, NewTransport(gate), nil)
	body, hdr, err := f.Open(context.Background(), srv.URL+"/a.docx")
	require.NoError(t, err)
	require.NotNil(t, hdr)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "binary-payload", string(data))
	assert.Equal(t, int32(0), gate.released.Load(), "slot held until body is closed")

	require.NoError(t, body.Close())
	assert.Equal(t, int32(1), gate.acquired.Load())
	assert.Equal(t, int32(1), gate.released.Load())
}

func TestOpenHTTPErrorReleasesGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	gate := &countingGate{}
	_, _, err := New(Config{}, NewTransport(gate), nil).Open(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, KindHTTP, KindOf(err))
	assert.Equal(t, int32(1), gate.released.Load())
}

func TestNilGateRejectsCancelledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1/", nil)
	require.NoError(t, err)

	_, err = NewTransport(nil).RoundTrip(req)
	require.ErrorIs(t, err, context.Canceled)
}
