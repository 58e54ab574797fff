package orchestrator

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/discovery"
)

// DepartmentReport counts what one department's crawl produced.
type DepartmentReport struct {
	Department      string
	Listings        int
	ListingFailures int
	Discovered      int
	Stored          int
	Duplicates      int
	Failed          int
	Documents       int
	Attachments     int
}

// Report summarizes a crawl run.
type Report struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Departments []DepartmentReport
	Total       DepartmentReport
	// Failures lists the failed page outcomes.
	Failures []crawler.Outcome
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func aggregate(depts []crawler.Department, found []discovery.Result, outcomes []crawler.Outcome) Report {
	byID := make(map[string]*DepartmentReport, len(depts))
	rep := Report{Departments: make([]DepartmentReport, len(depts))}
	for i, d := range depts {
		rep.Departments[i] = DepartmentReport{
			Department:      d.ID,
			Listings:        found[i].Listings,
			ListingFailures: found[i].Failures,
			Discovered:      len(found[i].URLs),
		}
		byID[d.ID] = &rep.Departments[i]
	}

	for _, out := range outcomes {
		d, ok := byID[out.Department]
		if !ok {
			continue
		}
		switch out.Status {
		case crawler.OutcomeStored:
			d.Stored++
			if out.IsPDF {
				d.Documents++
			}
		case crawler.OutcomeDuplicate:
			d.Duplicates++
		default:
			d.Failed++
			rep.Failures = append(rep.Failures, out)
		}
		d.Attachments += out.Attachments
	}

	rep.Total.Department = "TOTAL"
	for _, d := range rep.Departments {
		rep.Total.Listings += d.Listings
		rep.Total.ListingFailures += d.ListingFailures
		rep.Total.Discovered += d.Discovered
		rep.Total.Stored += d.Stored
		rep.Total.Duplicates += d.Duplicates
		rep.Total.Failed += d.Failed
		rep.Total.Documents += d.Documents
		rep.Total.Attachments += d.Attachments
	}
	return rep
}

// Render writes the report as a table.
func (r Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Department", "Listings", "Listing Errors", "Discovered", "Stored", "Duplicates", "Failed", "PDF Pages", "Attachments"})
	for _, d := range r.Departments {
		t.AppendRow(row(d))
	}
	t.AppendFooter(row(r.Total))
	t.Render()
}

func row(d DepartmentReport) table.Row {
	return table.Row{
		d.Department, d.Listings, d.ListingFailures, d.Discovered,
		d.Stored, d.Duplicates, d.Failed, d.Documents, d.Attachments,
	}
}
