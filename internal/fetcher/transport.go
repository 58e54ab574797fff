package fetcher

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/policy/simple"
)

// NewTransport returns the pooled transport used for every outbound request.
// Each request holds a gate slot until its body is closed. A nil gate admits
// everything that is not already cancelled.
func NewTransport(gate crawler.Gate) http.RoundTripper {
	if gate == nil {
		gate = simple.New()
	}
	return &gatedTransport{base: newHTTPTransport(), gate: gate}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}

type gatedTransport struct {
	base http.RoundTripper
	gate crawler.Gate
}

func (t *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("gated transport received nil request")
	}
	release, err := t.gate.Acquire(req.Context(), req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("gate admission: %w", err)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		release()
		return nil, fmt.Errorf("gated roundtrip: %w", err)
	}
	if resp.Body == nil {
		release()
		return resp, nil
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// releasingBody frees the gate slot on the first Close.
type releasingBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// cancelOnClose cancels the download context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel func()
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
