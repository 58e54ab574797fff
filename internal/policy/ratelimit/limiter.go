// Package ratelimit enforces a per-origin request ceiling: a bounded number of
// in-flight requests per host plus a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/metrics"
)

// Limiter manages per-domain concurrency and rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	semaphores   map[string]*semaphore.Weighted
	defaultRate  rate.Limit
	defaultBurst int
	perHost      int64
	logger       *zap.Logger
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is the steady request rate per host. Zero or less disables it.
	DefaultRPS   float64
	DefaultBurst int
	// PerHostConcurrency bounds in-flight requests per host. Zero or less means 1.
	PerHostConcurrency int
}

// New creates a new Limiter.
func New(cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	perHost := int64(cfg.PerHostConcurrency)
	if perHost <= 0 {
		perHost = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		semaphores:   make(map[string]*semaphore.Weighted),
		defaultRate:  r,
		defaultBurst: burst,
		perHost:      perHost,
		logger:       logger,
	}
}

var _ crawler.Gate = (*Limiter)(nil)

// Acquire blocks until the host of rawURL has a free slot and a token. The
// returned release func frees the slot and is safe to call more than once.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) (func(), error) {
	domain := crawler.Hostname(rawURL)
	sem, limiter := l.forHost(domain)

	start := time.Now()
	if err := sem.Acquire(ctx, 1); err != nil {
		return func() {}, fmt.Errorf("acquire host slot %s: %w", domain, err)
	}
	var once sync.Once
	release := func() { once.Do(func() { sem.Release(1) }) }

	if err := limiter.Wait(ctx); err != nil {
		release()
		return func() {}, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return release, nil
}

func (l *Limiter) forHost(domain string) (*semaphore.Weighted, *rate.Limiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	sem, ok := l.semaphores[domain]
	if !ok {
		sem = semaphore.NewWeighted(l.perHost)
		l.semaphores[domain] = sem
		l.logger.Debug("created host gate",
			zap.String("host", domain),
			zap.Int64("limit", l.perHost),
		)
	}
	return sem, limiter
}
