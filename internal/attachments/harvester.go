// Package attachments discovers, downloads and records the document files
// linked from a persisted news page.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/hash/sha256"
	"github.com/omu-rag/newsingest/internal/metrics"
)

// Default candidate filters.
var (
	DefaultExtensions     = []string{"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx"}
	DefaultExcludeMarkers = []string{"oidb"}
)

// ErrNotStored reports that a document attachment was not recorded.
var ErrNotStored = errors.New("attachment not stored")

// Config controls which links are harvested.
type Config struct {
	Extensions     []string
	ExcludeMarkers []string
	// AllowedHosts are third-party hosts downloads may come from besides the
	// department's own site.
	AllowedHosts []string
}

// Page is one persisted page whose links are harvested.
type Page struct {
	Doc        *goquery.Document
	RecordID   crawler.RecordID
	Department crawler.Department
	URL        string
	Year       string
}

// Result counts what happened to a page's candidates.
type Result struct {
	Candidates int
	Downloaded int
	Existing   int
	Skipped    int
	Failed     int
	Inserted   int
	Err        error
}

// Harvester downloads attachments into a blob store and records them.
type Harvester struct {
	extensions map[string]bool
	excludes   []string
	allowed    map[string]bool
	fetcher    crawler.Fetcher
	blobs      crawler.BlobStore
	clock      crawler.Clock
	logger     *zap.Logger
}

// New constructs a Harvester. Empty filter lists fall back to the defaults.
func New(cfg Config, fetcher crawler.Fetcher, blobs crawler.BlobStore, clock crawler.Clock, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	excludes := cfg.ExcludeMarkers
	if excludes == nil {
		excludes = DefaultExcludeMarkers
	}
	h := &Harvester{
		extensions: make(map[string]bool, len(exts)),
		excludes:   excludes,
		allowed:    make(map[string]bool, len(cfg.AllowedHosts)),
		fetcher:    fetcher,
		blobs:      blobs,
		clock:      clock,
		logger:     logger,
	}
	for _, e := range exts {
		h.extensions[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))] = true
	}
	for _, host := range cfg.AllowedHosts {
		h.allowed[strings.ToLower(strings.TrimSpace(host))] = true
	}
	return h
}

type candidate struct {
	url  *url.URL
	ext  string
	name string
}

// Harvest downloads every eligible attachment of page and persists the
// successful ones in a single bulk insert. It does nothing for a page
// without a record id.
func (h *Harvester) Harvest(ctx context.Context, sess crawler.Session, page Page) Result {
	var res Result
	if page.RecordID == "" || page.Doc == nil {
		return res
	}
	log := h.logger.With(
		zap.String("url", page.URL),
		zap.String("department", page.Department.ID),
	)
	year := page.Year
	if year == "" {
		year = crawler.UnknownYear
	}

	cands := h.candidates(log, page, &res)
	res.Candidates = len(cands)

	staged := make([]crawler.Attachment, 0, len(cands))
	for _, c := range cands {
		rel := RelativePath(year, page.Department.ID, c.ext, c.name)
		location, existed, err := h.ensure(ctx, c.url.String(), rel)
		switch {
		case err != nil:
			res.Failed++
			metrics.ObserveAttachment("failed")
			log.Warn("attachment download failed", zap.String("attachment", c.url.String()), zap.Error(err))
			continue
		case existed:
			res.Existing++
			metrics.ObserveAttachment("existing")
		default:
			res.Downloaded++
			metrics.ObserveAttachment("downloaded")
		}
		staged = append(staged, crawler.Attachment{
			PageRecordID:  page.RecordID,
			OriginalURL:   c.url.String(),
			FileName:      c.name + "." + c.ext,
			FileType:      c.ext,
			LocalFilePath: location,
			Department:    page.Department.ID,
			DownloadedAt:  h.clock.Now().UTC(),
		})
	}
	if len(staged) == 0 {
		return res
	}

	n, err := sess.InsertAttachments(ctx, staged)
	res.Inserted = n
	if err != nil {
		res.Err = err
		log.Error("attachment insert failed", zap.Int("staged", len(staged)), zap.Error(err))
		return res
	}
	log.Info("attachments stored", zap.Int("staged", len(staged)), zap.Int("inserted", n))
	return res
}

// StoreDocument saves the bytes of a page that is itself a document as that
// page's sole attachment. Any error means the page should be rolled back.
func (h *Harvester) StoreDocument(
	ctx context.Context,
	sess crawler.Session,
	id crawler.RecordID,
	dept crawler.Department,
	docURL, fileName string,
	body []byte,
) (crawler.Attachment, error) {
	if id == "" {
		return crawler.Attachment{}, fmt.Errorf("store document %s: %w", docURL, ErrNotStored)
	}
	ext := "pdf"
	stem := fileName
	if strings.HasSuffix(strings.ToLower(stem), "."+ext) {
		stem = stem[:len(stem)-len(ext)-1]
	}
	name := SafeName(stem, docURL)
	rel := RelativePath(strconv.Itoa(h.clock.Now().Year()), dept.ID, ext, name)

	location := h.blobs.Location(rel)
	if !h.blobs.Exists(rel) {
		var err error
		location, err = h.blobs.Put(ctx, rel, bytes.NewReader(body))
		if err != nil {
			metrics.ObserveAttachment("failed")
			return crawler.Attachment{}, fmt.Errorf("write document %s: %w", rel, err)
		}
		metrics.ObserveAttachment("downloaded")
	} else {
		metrics.ObserveAttachment("existing")
	}

	att := crawler.Attachment{
		PageRecordID:  id,
		OriginalURL:   docURL,
		FileName:      name + "." + ext,
		FileType:      ext,
		LocalFilePath: location,
		Department:    dept.ID,
		DownloadedAt:  h.clock.Now().UTC(),
	}
	n, err := sess.InsertAttachments(ctx, []crawler.Attachment{att})
	if err != nil {
		return crawler.Attachment{}, fmt.Errorf("record document %s: %w", docURL, err)
	}
	if n != 1 {
		return crawler.Attachment{}, fmt.Errorf("record document %s: %w", docURL, ErrNotStored)
	}
	return att, nil
}

// ensure downloads rawURL into rel unless a file is already there.
func (h *Harvester) ensure(ctx context.Context, rawURL, rel string) (location string, existed bool, err error) {
	if h.blobs.Exists(rel) {
		return h.blobs.Location(rel), true, nil
	}
	body, _, err := h.fetcher.Open(ctx, rawURL)
	if err != nil {
		return "", false, err
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			h.logger.Debug("close download body", zap.String("attachment", rawURL), zap.Error(cerr))
		}
	}()
	start := time.Now()
	location, err = h.blobs.Put(ctx, rel, body)
	if err != nil {
		return "", false, err
	}
	h.logger.Debug("attachment saved",
		zap.String("attachment", rawURL),
		zap.String("path", location),
		zap.Duration("duration", time.Since(start)),
	)
	return location, false, nil
}

func (h *Harvester) candidates(log *zap.Logger, page Page, res *Result) []candidate {
	deptURL, _ := url.Parse(page.Department.BaseURL)
	pageURL, _ := url.Parse(page.URL)
	seen := make(map[string]bool)
	var out []candidate

	page.Doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || h.excluded(href) {
			return
		}
		u, err := crawler.ResolveURL(page.URL, href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		ext := crawler.Extension(u)
		if !h.extensions[ext] {
			return
		}
		key := u.String()
		if seen[key] {
			return
		}
		seen[key] = true

		if !crawler.SameHost(u, deptURL) && !crawler.SameHost(u, pageURL) && !h.allowed[strings.ToLower(u.Hostname())] {
			res.Skipped++
			metrics.ObserveAttachment("skipped")
			log.Info("skipping off-site attachment", zap.String("attachment", key))
			return
		}
		out = append(out, candidate{url: u, ext: ext, name: SafeName(baseName(u), key)})
	})
	return out
}

func (h *Harvester) excluded(href string) bool {
	lower := strings.ToLower(href)
	for _, marker := range h.excludes {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// RelativePath is the deterministic location of an attachment below the root.
func RelativePath(year, department, ext, name string) string {
	return fmt.Sprintf("%s/%s/%s/%s.%s", year, department, ext, name, ext)
}

// SafeName keeps letters, digits, spaces, underscores and hyphens of name. An
// empty result becomes a placeholder derived from rawURL.
func SafeName(name, rawURL string) string {
	var b strings.Builder
	for _, r := range name {
		if isNameRune(r) {
			b.WriteRune(r)
		}
	}
	safe := strings.TrimSpace(b.String())
	if safe == "" {
		return "untitled_" + sha256.Short(rawURL, 12)
	}
	return safe
}

func baseName(u *url.URL) string {
	p := u.Path
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.LastIndex(p, "."); i >= 0 {
		p = p[:i]
	}
	return p
}
