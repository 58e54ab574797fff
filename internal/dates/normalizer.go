// Package dates turns free-form Turkish date strings into calendar dates.
package dates

import (
	"strings"
	"time"

	dateparser "github.com/markusmobius/go-dateparser"
	"go.uber.org/zap"

	"github.com/omu-rag/newsingest/internal/crawler"
)

// Layout is the canonical rendering of a normalized date.
const Layout = "2006-01-02"

// Normalizer parses localized date strings relative to an injected clock.
type Normalizer struct {
	clock     crawler.Clock
	logger    *zap.Logger
	languages []string
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used for "today" and relative phrases.
func WithClock(c crawler.Clock) Option {
	return func(n *Normalizer) {
		if c != nil {
			n.clock = c
		}
	}
}

// WithLanguages overrides the parser languages (default Turkish only).
func WithLanguages(langs ...string) Option {
	return func(n *Normalizer) {
		if len(langs) > 0 {
			n.languages = langs
		}
	}
}

// New constructs a Normalizer.
func New(logger *zap.Logger, opts ...Option) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Normalizer{
		clock:     crawler.SystemClock{},
		logger:    logger,
		languages: []string{"tr"},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns the calendar date in raw, or false when raw is empty,
// unparseable, or later than today.
func (n *Normalizer) Normalize(raw string) (day time.Time, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		n.logger.Debug("empty date string")
		return time.Time{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("date parser panicked", zap.String("raw", raw), zap.Any("panic", r))
			day, ok = time.Time{}, false
		}
	}()

	now := n.clock.Now()
	if iso, found := parseISO(raw); found {
		return n.notFuture(raw, iso, now)
	}

	cfg := &dateparser.Configuration{
		Languages:   n.languages,
		CurrentTime: now,
		DateOrder:   dateparser.DMY,
	}
	parsed, err := dateparser.Parse(cfg, raw)
	if err != nil || parsed.Time.IsZero() {
		n.logger.Warn("unparseable date", zap.String("raw", raw), zap.Error(err))
		return time.Time{}, false
	}

	return n.notFuture(raw, truncate(parsed.Time), now)
}

func (n *Normalizer) notFuture(raw string, day, now time.Time) (time.Time, bool) {
	if day.After(truncate(now)) {
		n.logger.Warn("rejecting future date",
			zap.String("raw", raw),
			zap.String("parsed", Format(day)),
		)
		return time.Time{}, false
	}
	return day, true
}

// parseISO handles the machine-readable forms found in datetime attributes.
// The calendar day is taken as written, before any zone conversion.
func parseISO(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, Layout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// Format renders a date as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Year returns the four-digit year of d, or the unknown-year marker when d is nil.
func Year(d *time.Time) string {
	if d == nil || d.IsZero() {
		return crawler.UnknownYear
	}
	return d.Format("2006")
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
