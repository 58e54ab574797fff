package crawler

import (
	"net/http"
	"time"
)

// Sentinel texts substituted when a field cannot be extracted.
const (
	TitleNotFound   = "Başlık Bulunamadı"
	ContentNotFound = "İçerik Bulunamadı"
	AuthorNotFound  = "Yazar Bulunamadı"
	FacultyNotFound = "Fakülte Bilgisi Bulunamadı"

	// PDFContentMarker is the content of a record whose source is a bare PDF.
	PDFContentMarker = "[PDF Document]"
	// UnknownYear is the year path segment used when a page has no date.
	UnknownYear = "unknown_year"
)

// Department maps a short identifier to the department's site.
type Department struct {
	ID      string `json:"id" mapstructure:"id"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// RecordID identifies a persisted PageRecord. Its format belongs to the storage
// backend and must be treated as opaque.
type RecordID string

// PageRecord is the canonical persisted representation of one crawled article or
// direct-PDF document.
type PageRecord struct {
	ID          RecordID   `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Author      string     `json:"author"`
	Date        *time.Time `json:"date,omitempty"`
	Department  string     `json:"department"`
	Faculty     string     `json:"faculty,omitempty"`
	URL         string     `json:"url"`
	ScrapedAt   time.Time  `json:"scraped_at"`
	IsPDFSource bool       `json:"is_pdf_source"`
}

// Attachment is a downloaded file referenced by or constituting a PageRecord.
type Attachment struct {
	ID            string    `json:"id"`
	PageRecordID  RecordID  `json:"page_record_id"`
	OriginalURL   string    `json:"original_url"`
	FileName      string    `json:"file_name"`
	FileType      string    `json:"file_type"`
	LocalFilePath string    `json:"local_file_path"`
	Department    string    `json:"department"`
	DownloadedAt  time.Time `json:"downloaded_at"`
}

// Valid reports whether the attachment carries everything a store needs.
func (a Attachment) Valid() bool {
	return a.PageRecordID != "" && a.OriginalURL != "" && a.LocalFilePath != ""
}

// ContentKind is the fetch-time classification of a response body.
type ContentKind string

// Content kinds routed by the page pipeline.
const (
	KindHTML ContentKind = "html"
	KindPDF  ContentKind = "pdf"
)

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Kind       ContentKind
}

// ContentType returns the declared Content-Type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// OutcomeStatus reports how a single page job ended.
type OutcomeStatus string

// Page job outcomes counted by the orchestrator.
const (
	OutcomeStored    OutcomeStatus = "stored"
	OutcomeDuplicate OutcomeStatus = "duplicate"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is the task-local result of processing one page URL.
type Outcome struct {
	Department  string
	URL         string
	Status      OutcomeStatus
	RecordID    RecordID
	IsPDF       bool
	Attachments int
	Err         error
}
