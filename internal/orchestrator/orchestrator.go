// Package orchestrator runs a full crawl: listing discovery for every
// department, then bounded parallel page processing, then aggregation.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/discovery"
	"github.com/omu-rag/newsingest/internal/metrics"
)

// DefaultConcurrency bounds both phases when none is configured.
const DefaultConcurrency = 10

// Discoverer finds article URLs on a department's listing pages.
type Discoverer interface {
	Discover(ctx context.Context, dept crawler.Department, listings []string) (discovery.Result, error)
}

// PageProcessor handles one discovered page.
type PageProcessor interface {
	Process(ctx context.Context, dept crawler.Department, url string) crawler.Outcome
}

// Config controls a crawl run.
type Config struct {
	Concurrency int
	Pagination  int
}

// Orchestrator drives the two crawl phases.
type Orchestrator struct {
	departments []crawler.Department
	discoverer  Discoverer
	processor   PageProcessor
	clock       crawler.Clock
	cfg         Config
	logger      *zap.Logger
}

// New constructs an Orchestrator. Departments are visited in ID order.
func New(
	departments []crawler.Department,
	discoverer Discoverer,
	processor PageProcessor,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Pagination < 0 {
		cfg.Pagination = 0
	}
	depts := append([]crawler.Department(nil), departments...)
	sort.Slice(depts, func(i, j int) bool { return depts[i].ID < depts[j].ID })
	return &Orchestrator{
		departments: depts,
		discoverer:  discoverer,
		processor:   processor,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}
}

type job struct {
	dept crawler.Department
	url  string
}

// Run executes the crawl and returns its report. Individual listing or page
// failures are counted, never returned.
func (o *Orchestrator) Run(ctx context.Context) Report {
	started := o.clock.Now()
	o.logger.Info("crawl started",
		zap.Int("departments", len(o.departments)),
		zap.Int("pagination", o.cfg.Pagination),
		zap.Int("concurrency", o.cfg.Concurrency),
	)

	found := o.discover(ctx)
	var jobs []job
	for i, dept := range o.departments {
		for _, u := range found[i].URLs {
			jobs = append(jobs, job{dept: dept, url: u})
		}
	}
	o.logger.Info("discovery finished", zap.Int("pages", len(jobs)))

	outcomes := o.process(ctx, jobs)

	report := aggregate(o.departments, found, outcomes)
	report.StartedAt = started
	report.FinishedAt = o.clock.Now()
	for _, d := range report.Departments {
		o.logger.Info("department summary",
			zap.String("department", d.Department),
			zap.Int("listings", d.Listings),
			zap.Int("listing_failures", d.ListingFailures),
			zap.Int("discovered", d.Discovered),
			zap.Int("stored", d.Stored),
			zap.Int("duplicates", d.Duplicates),
			zap.Int("failed", d.Failed),
			zap.Int("attachments", d.Attachments),
		)
	}
	o.logger.Info("crawl finished",
		zap.Int("stored", report.Total.Stored),
		zap.Int("failed", report.Total.Failed),
		zap.Duration("duration", report.Duration()),
	)
	return report
}

// discover runs phase 1. Each task writes only its own slot.
func (o *Orchestrator) discover(ctx context.Context) []discovery.Result {
	results := make([]discovery.Result, len(o.departments))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, dept := range o.departments {
		g.Go(func() error {
			listings := crawler.ListingURLs(dept.BaseURL, o.cfg.Pagination)
			results[i] = discovery.Result{Listings: len(listings), Failures: len(listings)}
			defer o.recoverTask("discovery", dept.ID, dept.BaseURL)

			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()

			res, err := o.discoverer.Discover(ctx, dept, listings)
			if err != nil {
				o.logger.Error("department discovery failed", zap.String("department", dept.ID), zap.Error(err))
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// process runs phase 2 over every discovered page.
func (o *Orchestrator) process(ctx context.Context, jobs []job) []crawler.Outcome {
	outcomes := make([]crawler.Outcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			outcomes[i] = crawler.Outcome{Department: j.dept.ID, URL: j.url, Status: crawler.OutcomeFailed}
			defer func() {
				if r := recover(); r != nil {
					outcomes[i].Status = crawler.OutcomeFailed
					outcomes[i].Err = fmt.Errorf("page task panicked: %v", r)
					o.logger.Error("page task panicked",
						zap.String("department", j.dept.ID),
						zap.String("url", j.url),
						zap.Any("panic", r),
					)
				}
			}()
			if err := ctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}

			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			outcomes[i] = o.processor.Process(ctx, j.dept, j.url)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) recoverTask(phase, department, url string) {
	if r := recover(); r != nil {
		o.logger.Error("task panicked",
			zap.String("phase", phase),
			zap.String("department", department),
			zap.String("url", url),
			zap.Any("panic", r),
		)
	}
}
