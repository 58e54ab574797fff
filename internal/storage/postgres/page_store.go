// Package postgres provides the Postgres-backed page store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/id/uuid"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names created by the embedded migrations.
const (
	DefaultPagesTable       = "page_records"
	DefaultAttachmentsTable = "attachments"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Tables          Tables
}

// Tables names the tables the store writes to.
type Tables struct {
	Pages       string
	Attachments string
}

// ConnString returns the DSN, building a URL from the discrete fields when
// DSN is empty.
func (c Config) ConnString() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	if c.Host == "" || c.User == "" || c.Name == "" {
		return "", fmt.Errorf("db.host, db.user and db.name are required when db.dsn is empty")
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String(), nil
}

func (t Tables) withDefaults() (Tables, error) {
	if t.Pages == "" {
		t.Pages = DefaultPagesTable
	}
	if t.Attachments == "" {
		t.Attachments = DefaultAttachmentsTable
	}
	for _, name := range []string{t.Pages, t.Attachments} {
		if !validTableName.MatchString(name) {
			return Tables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

// querier is the subset of pgx shared by *pgxpool.Conn and pgxmock.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PageStore hands out one pooled connection per session.
type PageStore struct {
	acquire func(context.Context) (querier, func(), error)
	close   func()
	tables  Tables
	sb      squirrel.StatementBuilderType
	newID   func() (string, error)
}

var _ crawler.PageStore = (*PageStore)(nil)

// NewPageStore connects a pgx pool using cfg.
func NewPageStore(ctx context.Context, cfg Config) (*PageStore, error) {
	tables, err := cfg.Tables.withDefaults()
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.ConnString()
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := newStore(tables, pool.Close)
	store.acquire = func(ctx context.Context) (querier, func(), error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire postgres connection: %w", err)
		}
		return conn, conn.Release, nil
	}
	return store, nil
}

// NewPageStoreWithPool constructs a store whose sessions all share q
// (primarily for testing with pgxmock).
func NewPageStoreWithPool(q querier, tables Tables) (*PageStore, error) {
	if q == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables, err := tables.withDefaults()
	if err != nil {
		return nil, err
	}
	store := newStore(tables, func() {})
	store.acquire = func(context.Context) (querier, func(), error) {
		return q, func() {}, nil
	}
	return store, nil
}

func newStore(tables Tables, closeFn func()) *PageStore {
	return &PageStore{
		close:  closeFn,
		tables: tables,
		sb:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		newID:  uuid.New().NewID,
	}
}

// Acquire checks out a connection for the calling task.
func (s *PageStore) Acquire(ctx context.Context) (crawler.Session, error) {
	q, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &session{store: s, q: q, release: release}, nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close(context.Context) error {
	if s != nil && s.close != nil {
		s.close()
	}
	return nil
}

type session struct {
	store   *PageStore
	q       querier
	release func()
}

func (ss *session) InsertPage(ctx context.Context, rec crawler.PageRecord) (crawler.RecordID, error) {
	s := ss.store
	id, err := s.newID()
	if err != nil {
		return "", err
	}
	var faculty *string
	if rec.Faculty != "" {
		faculty = &rec.Faculty
	}
	sql, args, err := s.sb.Insert(s.tables.Pages).
		Columns("id", "title", "content", "author", "published_on", "department",
			"faculty", "url", "scraped_at", "is_pdf_source").
		Values(id, rec.Title, rec.Content, rec.Author, rec.Date, rec.Department,
			faculty, rec.URL, rec.ScrapedAt, rec.IsPDFSource).
		Suffix("ON CONFLICT (url) DO NOTHING RETURNING id::text").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert page query: %w", err)
	}

	var got string
	if err := ss.q.QueryRow(ctx, sql, args...).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", crawler.ErrDuplicate
		}
		return "", fmt.Errorf("insert page: %w", err)
	}
	return crawler.RecordID(got), nil
}

func (ss *session) InsertAttachments(ctx context.Context, atts []crawler.Attachment) (int, error) {
	s := ss.store
	q := s.sb.Insert(s.tables.Attachments).
		Columns("id", "page_record_id", "original_url", "file_name", "file_type",
			"local_file_path", "department", "downloaded_at")
	staged := 0
	for _, att := range atts {
		if !att.Valid() {
			continue
		}
		id, err := s.newID()
		if err != nil {
			return 0, err
		}
		q = q.Values(id, string(att.PageRecordID), att.OriginalURL, att.FileName, att.FileType,
			att.LocalFilePath, att.Department, att.DownloadedAt)
		staged++
	}
	if staged == 0 {
		return 0, nil
	}
	sql, args, err := q.Suffix("ON CONFLICT (page_record_id, original_url) DO NOTHING RETURNING id::text").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert attachments query: %w", err)
	}

	rows, err := ss.q.Query(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("insert attachments: %w", err)
	}
	defer rows.Close()
	inserted := 0
	for rows.Next() {
		inserted++
	}
	if err := rows.Err(); err != nil {
		return inserted, fmt.Errorf("insert attachments: %w", err)
	}
	return inserted, nil
}

func (ss *session) DeletePage(ctx context.Context, id crawler.RecordID) error {
	s := ss.store
	sql, args, err := s.sb.Delete(s.tables.Pages).Where(squirrel.Eq{"id": string(id)}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete page query: %w", err)
	}
	tag, err := ss.q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNoRecord
	}
	return nil
}

func (ss *session) Release() {
	if ss.release != nil {
		ss.release()
		ss.release = nil
	}
}
