// Package extract pulls the structured fields of a department news article out
// of its HTML.
package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/omu-rag/newsingest/internal/crawler"
)

// Selectors used by the department sites.
const (
	titleSelectors   = "h1.heading-title"
	titleFallback    = "h1"
	contentSelector  = "div.news-wrapper"
	metaSelector     = "p.meta"
	metaLineSelector = "p.meta.text-muted"
	facultySelector  = `a:contains("Fakültesi")`
	timeSelector     = "time[datetime]"
)

// Field names reported in Fields.Degraded.
const (
	FieldTitle   = "title"
	FieldContent = "content"
	FieldAuthor  = "author"
	FieldDate    = "date"
	FieldFaculty = "faculty"
)

// DefaultFallbackRunes caps the whole-body excerpt used when no content
// container exists.
const DefaultFallbackRunes = 2000

var (
	authorLabels = []string{"yazar:", "author:"}
	dateLabels   = []string{"yayınlanma tarihi:", "tarih:", "date:"}
)

// DateNormalizer converts raw date text into a calendar date.
type DateNormalizer interface {
	Normalize(raw string) (time.Time, bool)
}

// Fields are the extracted values of one page. String fields are never empty;
// a field that could not be extracted carries its sentinel.
type Fields struct {
	Title    string
	Content  string
	Author   string
	DateRaw  string
	Date     *time.Time
	Faculty  string
	Degraded []string
}

// Extractor parses news article pages.
type Extractor struct {
	logger        *zap.Logger
	dates         DateNormalizer
	fallbackRunes int
	titleCaser    cases.Caser
}

// New constructs an Extractor. A nil normalizer leaves Fields.Date unset.
func New(logger *zap.Logger, dates DateNormalizer) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		logger:        logger,
		dates:         dates,
		fallbackRunes: DefaultFallbackRunes,
		titleCaser:    cases.Title(language.Turkish),
	}
}

// Parse builds a goquery document from decoded HTML.
func Parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Extract parses html and extracts its fields. A document that cannot be parsed
// yields all sentinels.
func (e *Extractor) Extract(pageURL, html string) Fields {
	doc, err := Parse(html)
	if err != nil {
		e.logger.Warn("html parse failed", zap.String("url", pageURL), zap.Error(err))
		return sentinelFields()
	}
	return e.ExtractDocument(pageURL, doc)
}

// ExtractDocument extracts fields from an already parsed document without
// modifying it. Each field is extracted independently.
func (e *Extractor) ExtractDocument(pageURL string, doc *goquery.Document) Fields {
	var f Fields
	log := e.logger.With(zap.String("url", pageURL))

	f.Title = e.guard(log, &f, FieldTitle, crawler.TitleNotFound, func() string {
		return extractTitle(doc)
	})
	f.Content = e.guard(log, &f, FieldContent, crawler.ContentNotFound, func() string {
		return e.extractContent(log, &f, doc)
	})

	var rawDate string
	f.Author = e.guard(log, &f, FieldAuthor, crawler.AuthorNotFound, func() string {
		author, date := splitMeta(doc.Find(metaLineSelector).First().Text())
		if author == "" && date == "" {
			author, date = splitMeta(doc.Find(metaSelector).First().Text())
		}
		rawDate = date
		return e.titleCase(author)
	})
	e.extractDate(log, &f, doc, rawDate)

	f.Faculty = e.guard(log, &f, FieldFaculty, crawler.FacultyNotFound, func() string {
		return collapseSpaces(doc.Find(facultySelector).First().Text())
	})
	return f
}

// guard runs fn under a recover and substitutes sentinel when it panics or
// returns an empty string.
func (e *Extractor) guard(log *zap.Logger, f *Fields, field, sentinel string, fn func() string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("field extraction panicked", zap.String("field", field), zap.Any("panic", r))
			out = sentinel
			f.Degraded = append(f.Degraded, field)
		}
	}()
	out = strings.TrimSpace(fn())
	if out == "" {
		log.Warn("field not found", zap.String("field", field))
		f.Degraded = append(f.Degraded, field)
		return sentinel
	}
	return out
}

func (e *Extractor) extractDate(log *zap.Logger, f *Fields, doc *goquery.Document, raw string) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("field extraction panicked", zap.String("field", FieldDate), zap.Any("panic", r))
			f.Date = nil
			f.Degraded = append(f.Degraded, FieldDate)
		}
	}()
	if raw == "" {
		if v, ok := doc.Find(timeSelector).First().Attr("datetime"); ok {
			raw = strings.TrimSpace(v)
		}
	}
	f.DateRaw = raw
	if raw == "" {
		f.Degraded = append(f.Degraded, FieldDate)
		return
	}
	if e.dates == nil {
		return
	}
	if day, ok := e.dates.Normalize(raw); ok {
		f.Date = &day
		return
	}
	f.Degraded = append(f.Degraded, FieldDate)
}

func (e *Extractor) titleCase(s string) string {
	s = collapseSpaces(s)
	if s == "" {
		return ""
	}
	return e.titleCaser.String(s)
}

func extractTitle(doc *goquery.Document) string {
	if t := collapseSpaces(doc.Find(titleSelectors).First().Text()); t != "" {
		return t
	}
	return collapseSpaces(doc.Find(titleFallback).First().Text())
}

func (e *Extractor) extractContent(log *zap.Logger, f *Fields, doc *goquery.Document) string {
	container := doc.Find(contentSelector).First()
	if container.Length() > 0 {
		clone := container.Clone()
		clone.Find(metaSelector).Remove()
		return blockText(clone)
	}

	body := collapseSpaces(blockText(doc.Find("body").First()))
	if body == "" {
		return ""
	}
	log.Warn("content container missing, using body excerpt",
		zap.String("selector", contentSelector),
		zap.Int("max_runes", e.fallbackRunes),
	)
	f.Degraded = append(f.Degraded, FieldContent)
	return truncateRunes(body, e.fallbackRunes)
}

func sentinelFields() Fields {
	return Fields{
		Title:    crawler.TitleNotFound,
		Content:  crawler.ContentNotFound,
		Author:   crawler.AuthorNotFound,
		Faculty:  crawler.FacultyNotFound,
		Degraded: []string{FieldTitle, FieldContent, FieldAuthor, FieldDate, FieldFaculty},
	}
}
