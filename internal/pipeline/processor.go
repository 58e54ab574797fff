// Package pipeline turns one discovered URL into persisted records: fetch,
// classify, decode, extract, store, then harvest attachments.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/omu-rag/newsingest/internal/attachments"
	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/dates"
	"github.com/omu-rag/newsingest/internal/encoding"
	"github.com/omu-rag/newsingest/internal/extract"
	"github.com/omu-rag/newsingest/internal/metrics"
)

// PDFAuthor is the author stored on records created from direct documents.
const PDFAuthor = "N/A"

// EventPageIngested is the event type published after a page is stored.
const EventPageIngested = "page.ingested"

var tracer = otel.Tracer("github.com/omu-rag/newsingest/internal/pipeline")

// Config controls Processor behavior.
type Config struct {
	// Topic receives page-ingested events. Empty disables publishing.
	Topic string
}

// Event is the payload published for each newly stored page.
type Event struct {
	Type        string           `json:"type"`
	RecordID    crawler.RecordID `json:"record_id"`
	Department  string           `json:"department"`
	URL         string           `json:"url"`
	Title       string           `json:"title"`
	IsPDF       bool             `json:"is_pdf"`
	Attachments int              `json:"attachments"`
	ScrapedAt   string           `json:"scraped_at"`
}

// Attributes are the message attributes brokers can filter on.
func (e Event) Attributes() map[string]string {
	return map[string]string{"event_type": e.Type, "department": e.Department}
}

// Processor executes the per-page pipeline.
type Processor struct {
	store     crawler.PageStore
	fetcher   crawler.Fetcher
	extractor *extract.Extractor
	harvester *attachments.Harvester
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Processor. The publisher may be nil.
func New(
	store crawler.PageStore,
	fetcher crawler.Fetcher,
	extractor *extract.Extractor,
	harvester *attachments.Harvester,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	return &Processor{
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		harvester: harvester,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process handles one page URL of dept. It never panics on bad input and
// reports the result as an Outcome.
func (p *Processor) Process(ctx context.Context, dept crawler.Department, url string) (out crawler.Outcome) {
	out = crawler.Outcome{Department: dept.ID, URL: url, Status: crawler.OutcomeFailed}
	log := p.logger.With(zap.String("department", dept.ID), zap.String("url", url))

	ctx, span := tracer.Start(ctx, "pipeline.Process", trace.WithAttributes(
		attribute.String("department", dept.ID),
		attribute.String("url.full", url),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("outcome", string(out.Status)),
			attribute.Int("attachments", out.Attachments),
		)
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, "page failed")
		}
		span.End()
		metrics.ObservePage(dept.ID, string(out.Status))
	}()

	resp, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		out.Err = fmt.Errorf("fetch page: %w", err)
		log.Error("page fetch failed", zap.Error(err))
		return out
	}

	// The session is taken only once the page body is in hand.
	sess, err := p.store.Acquire(ctx)
	if err != nil {
		out.Err = fmt.Errorf("acquire session: %w", err)
		log.Error("storage session unavailable", zap.Error(err))
		return out
	}
	defer sess.Release()

	if resp.Kind == crawler.KindPDF {
		out.IsPDF = true
		return p.processDocument(ctx, log, sess, dept, url, resp, out)
	}
	return p.processHTML(ctx, log, sess, dept, url, resp, out)
}

func (p *Processor) processHTML(
	ctx context.Context,
	log *zap.Logger,
	sess crawler.Session,
	dept crawler.Department,
	url string,
	resp crawler.FetchResponse,
	out crawler.Outcome,
) crawler.Outcome {
	decoded := encoding.Resolve(resp.Body, resp.ContentType())
	if decoded.Source != encoding.SourceHeader {
		log.Debug("page encoding inferred",
			zap.String("encoding", decoded.Encoding),
			zap.String("source", string(decoded.Source)),
		)
	}

	var (
		doc    *goquery.Document
		fields extract.Fields
	)
	doc, err := extract.Parse(decoded.Text)
	if err != nil {
		fields = p.extractor.Extract(url, decoded.Text)
	} else {
		fields = p.extractor.ExtractDocument(url, doc)
	}

	rec := crawler.PageRecord{
		Title:      fields.Title,
		Content:    fields.Content,
		Author:     fields.Author,
		Date:       fields.Date,
		Department: dept.ID,
		Faculty:    fields.Faculty,
		URL:        url,
		ScrapedAt:  p.clock.Now().UTC(),
	}
	id, err := sess.InsertPage(ctx, rec)
	switch {
	case errors.Is(err, crawler.ErrDuplicate):
		out.Status = crawler.OutcomeDuplicate
		log.Info("page already stored, skipping")
		return out
	case err != nil:
		out.Err = fmt.Errorf("insert page: %w", err)
		log.Error("page insert failed", zap.Error(err))
		return out
	}
	rec.ID = id
	out.Status = crawler.OutcomeStored
	out.RecordID = id
	log.Info("page stored",
		zap.String("record_id", string(id)),
		zap.Strings("degraded", fields.Degraded),
	)

	if doc != nil && p.harvester != nil {
		res := p.harvester.Harvest(ctx, sess, attachments.Page{
			Doc:        doc,
			RecordID:   id,
			Department: dept,
			URL:        url,
			Year:       dates.Year(fields.Date),
		})
		out.Attachments = res.Inserted
		if res.Err != nil {
			log.Warn("attachments not recorded", zap.Error(res.Err))
		}
	}

	p.publish(ctx, log, rec, out)
	return out
}

func (p *Processor) processDocument(
	ctx context.Context,
	log *zap.Logger,
	sess crawler.Session,
	dept crawler.Department,
	url string,
	resp crawler.FetchResponse,
	out crawler.Outcome,
) crawler.Outcome {
	name := attachments.DocumentName(resp.Headers, url)
	now := p.clock.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	rec := crawler.PageRecord{
		Title:       "[PDF] " + documentTitle(name, url),
		Content:     crawler.PDFContentMarker,
		Author:      PDFAuthor,
		Date:        &day,
		Department:  dept.ID,
		Faculty:     crawler.FacultyNotFound,
		URL:         url,
		ScrapedAt:   now,
		IsPDFSource: true,
	}
	id, err := sess.InsertPage(ctx, rec)
	switch {
	case errors.Is(err, crawler.ErrDuplicate):
		out.Status = crawler.OutcomeDuplicate
		log.Info("document already stored, skipping")
		return out
	case err != nil:
		out.Err = fmt.Errorf("insert document page: %w", err)
		log.Error("document page insert failed", zap.Error(err))
		return out
	}
	rec.ID = id

	if p.harvester == nil {
		out.Err = errors.New("no attachment harvester configured")
		p.rollback(ctx, log, sess, id)
		return out
	}
	if _, err := p.harvester.StoreDocument(ctx, sess, id, dept, url, name, resp.Body); err != nil {
		out.Err = err
		log.Error("document attachment failed, rolling back", zap.Error(err))
		p.rollback(ctx, log, sess, id)
		return out
	}

	out.Status = crawler.OutcomeStored
	out.RecordID = id
	out.Attachments = 1
	log.Info("document stored", zap.String("record_id", string(id)), zap.String("file", name))
	p.publish(ctx, log, rec, out)
	return out
}

func (p *Processor) rollback(ctx context.Context, log *zap.Logger, sess crawler.Session, id crawler.RecordID) {
	if err := sess.DeletePage(ctx, id); err != nil {
		log.Error("rollback failed", zap.String("record_id", string(id)), zap.Error(err))
	}
}

func (p *Processor) publish(ctx context.Context, log *zap.Logger, rec crawler.PageRecord, out crawler.Outcome) {
	if p.cfg.Topic == "" || p.publisher == nil {
		return
	}
	evt := Event{
		Type:        EventPageIngested,
		RecordID:    rec.ID,
		Department:  rec.Department,
		URL:         rec.URL,
		Title:       rec.Title,
		IsPDF:       rec.IsPDFSource,
		Attachments: out.Attachments,
		ScrapedAt:   rec.ScrapedAt.Format(time.RFC3339),
	}
	msgID, err := p.publisher.Publish(ctx, p.cfg.Topic, evt)
	if err != nil {
		log.Warn("ingest event not published", zap.Error(err))
		return
	}
	log.Debug("ingest event published", zap.String("message_id", msgID))
}

// documentTitle strips the extension and unsafe characters from a document
// file name.
func documentTitle(name, url string) string {
	return attachments.SafeName(strings.TrimSuffix(name, path.Ext(name)), url)
}
