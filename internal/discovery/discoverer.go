// Package discovery collects article URLs from department news listings using
// gocolly.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/metrics"
)

// DefaultSelector matches article links on a listing page.
const DefaultSelector = "article.news-item a[href]"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Parallelism caps concurrent listing requests per host.
	Parallelism int
	Delay       time.Duration
	Selector    string
}

// Result is what one department's listings yielded.
type Result struct {
	URLs     []string
	Listings int
	Failures int
}

// Discoverer visits listing pages and gathers article links. It is safe for
// concurrent use: every Discover call runs its own collector, so the listing
// limit applies per department and no collector state is shared.
type Discoverer struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnScraped(colly.ScrapedCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Discoverer. A nil transport keeps colly's default.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	if cfg.Selector == "" {
		cfg.Selector = DefaultSelector
	}
	return &Discoverer{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
	}
}

// collection accumulates callback results; colly runs callbacks concurrently.
type collection struct {
	mu       sync.Mutex
	urls     map[string]struct{}
	failures int
}

func (c *collection) add(u string) {
	c.mu.Lock()
	c.urls[u] = struct{}{}
	c.mu.Unlock()
}

func (c *collection) fail() {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

// Discover visits every listing URL of dept and returns the deduplicated set
// of article URLs. A listing that cannot be fetched counts as a failure and
// does not stop the others.
func (d *Discoverer) Discover(ctx context.Context, dept crawler.Department, listings []string) (Result, error) {
	log := d.logger.With(zap.String("department", dept.ID))
	found := &collection{urls: make(map[string]struct{})}

	collector, err := d.buildCollector()
	if err != nil {
		return Result{}, err
	}
	d.configureCollectorHooks(collector, log, dept, found)

	if err := d.runCollector(ctx, collector, log, dept, listings, found); err != nil {
		return Result{}, err
	}

	urls := make([]string, 0, len(found.urls))
	for u := range found.urls {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	log.Info("listing discovery finished",
		zap.Int("listings", len(listings)),
		zap.Int("failures", found.failures),
		zap.Int("urls", len(urls)),
	)
	return Result{URLs: urls, Listings: len(listings), Failures: found.failures}, nil
}

// buildCollector creates a fully configured collector for one Discover call.
// Clones of a shared collector would share its HTTP backend and limit rules.
func (d *Discoverer) buildCollector() (*colly.Collector, error) {
	opts := []colly.CollectorOption{colly.Async(true), colly.AllowURLRevisit()}
	if d.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(d.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.DetectCharset = true
	collector.SetRequestTimeout(d.cfg.Timeout)
	if d.transport != nil {
		collector.WithTransport(d.transport)
	}
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: d.cfg.Parallelism,
		Delay:       d.cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configure listing limits: %w", err)
	}
	return collector, nil
}

func (d *Discoverer) configureCollectorHooks(
	hooks collectorHooks,
	log *zap.Logger,
	dept crawler.Department,
	found *collection,
) {
	hooks.OnHTML(d.cfg.Selector, func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if href == "" {
			return
		}
		u, err := crawler.ResolveURL(dept.BaseURL, href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		found.add(u.String())
	})

	hooks.OnScraped(func(r *colly.Response) {
		metrics.ObserveListing(dept.ID, "ok")
	})

	hooks.OnError(func(r *colly.Response, err error) {
		found.fail()
		metrics.ObserveListing(dept.ID, "failed")
		listing := ""
		status := 0
		if r != nil {
			status = r.StatusCode
			if r.Request != nil {
				listing = r.Request.URL.String()
			}
		}
		log.Warn("listing fetch failed",
			zap.String("url", listing),
			zap.Int("status", status),
			zap.Error(err),
		)
	})
}

func (d *Discoverer) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	log *zap.Logger,
	dept crawler.Department,
	listings []string,
	found *collection,
) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("listing discovery canceled: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, listing := range listings {
			if ctx.Err() != nil {
				break
			}
			if err := collector.Visit(listing); err != nil {
				found.fail()
				metrics.ObserveListing(dept.ID, "failed")
				log.Warn("listing visit rejected", zap.String("url", listing), zap.Error(err))
			}
		}
		collector.Wait()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("listing discovery canceled: %w", ctx.Err())
	case <-done:
		return nil
	}
}
