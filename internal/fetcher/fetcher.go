// Package fetcher retrieves department pages and attachment downloads over
// HTTP. Failures are returned as typed *Error values; nothing is retried.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/metrics"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultPageTimeout     = 20 * time.Second
	DefaultDownloadTimeout = 60 * time.Second
	DefaultMaxPageBytes    = 50 << 20
	DefaultUserAgent       = "newsingest/1.0 (+https://www.omu.edu.tr)"
)

var pdfMagic = []byte("%PDF-")

// Config controls request behavior.
type Config struct {
	UserAgent       string
	PageTimeout     time.Duration
	DownloadTimeout time.Duration
	MaxPageBytes    int64
}

// Fetcher implements crawler.Fetcher with net/http.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher on top of transport. A nil transport uses NewTransport(nil).
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = DefaultMaxPageBytes
	}
	if transport == nil {
		transport = NewTransport(nil)
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: logger,
	}
}

// Fetch performs a GET bounded by the page timeout and classifies the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.PageTimeout)
	defer cancel()

	start := time.Now()
	resp, err := f.do(ctx, rawURL)
	if err != nil {
		f.observe(rawURL, "page", err, 0, time.Since(start))
		return crawler.FetchResponse{}, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close response body", zap.String("url", rawURL), zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxPageBytes+1))
	if err != nil {
		fetchErr := classifyTransportError(rawURL, fmt.Errorf("read body: %w", err))
		f.observe(rawURL, "page", fetchErr, len(body), time.Since(start))
		return crawler.FetchResponse{}, fetchErr
	}
	if int64(len(body)) > f.cfg.MaxPageBytes {
		fetchErr := &Error{Kind: KindNetwork, URL: rawURL, Err: fmt.Errorf("body exceeds %d bytes", f.cfg.MaxPageBytes)}
		f.observe(rawURL, "page", fetchErr, len(body), time.Since(start))
		return crawler.FetchResponse{}, fetchErr
	}

	result := crawler.FetchResponse{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		Duration:   time.Since(start),
	}
	result.Kind = Classify(result.ContentType(), result.FinalURL, body)
	f.observe(rawURL, string(result.Kind), nil, len(body), result.Duration)
	f.logger.Debug("fetched page",
		zap.String("url", rawURL),
		zap.Int("status", result.StatusCode),
		zap.String("kind", string(result.Kind)),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// Open starts a streaming download bounded by the download timeout. The caller
// must close the returned body.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.DownloadTimeout)
	start := time.Now()
	resp, err := f.do(ctx, rawURL)
	if err != nil {
		cancel()
		f.observe(rawURL, "download", err, 0, time.Since(start))
		return nil, nil, err
	}
	f.observe(rawURL, "download", nil, 0, time.Since(start))
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, resp.Header.Clone(), nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(rawURL, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, &Error{Kind: KindHTTP, URL: rawURL, Status: resp.StatusCode}
	}
	return resp, nil
}

func (f *Fetcher) observe(rawURL, kind string, err error, n int, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	metrics.ObserveFetch(rawURL, kind, outcome, n, d)
}

// Classify decides whether a response is a bare PDF or an HTML page.
func Classify(contentType, rawURL string, body []byte) crawler.ContentKind {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return crawler.KindPDF
	}
	if u, err := url.Parse(rawURL); err == nil && crawler.Extension(u) == "pdf" {
		return crawler.KindPDF
	}
	if bytes.HasPrefix(body, pdfMagic) {
		return crawler.KindPDF
	}
	return crawler.KindHTML
}
