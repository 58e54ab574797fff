package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omu-rag/newsingest/internal/crawler"
)

func newMockStore(t *testing.T) (*PageStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewPageStoreWithPool(mock, Tables{})
	require.NoError(t, err)
	return store, mock
}

// anyArgs matches n query arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func samplePage() crawler.PageRecord {
	day := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	return crawler.PageRecord{
		Title:      "Bahar Şenliği",
		Content:    "metin",
		Author:     "Test Author",
		Date:       &day,
		Department: "bilgisayar-muhendisligi",
		Faculty:    "Mühendislik Fakültesi",
		URL:        "https://bil-muhendislik.omu.edu.tr/haberler/bahar",
		ScrapedAt:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestInsertPageReturnsID(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	rec := samplePage()

	mock.ExpectQuery("INSERT INTO page_records").
		WithArgs(pgxmock.AnyArg(), rec.Title, rec.Content, rec.Author, pgxmock.AnyArg(), rec.Department,
			pgxmock.AnyArg(), rec.URL, pgxmock.AnyArg(), false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("01900000-0000-7000-8000-000000000001"))

	sess, err := store.Acquire(context.Background())
	require.NoError(t, err)
	defer sess.Release()

	id, err := sess.InsertPage(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, crawler.RecordID("01900000-0000-7000-8000-000000000001"), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPageDuplicateURL(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	rec := samplePage()

	mock.ExpectQuery("INSERT INTO page_records").
		WithArgs(anyArgs(10)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("01900000-0000-7000-8000-000000000001"))
	mock.ExpectQuery("INSERT INTO page_records .* ON CONFLICT \\(url\\) DO NOTHING").
		WithArgs(pgxmock.AnyArg(), rec.Title, rec.Content, rec.Author, pgxmock.AnyArg(), rec.Department,
			pgxmock.AnyArg(), rec.URL, pgxmock.AnyArg(), false).
		WillReturnError(pgx.ErrNoRows)

	sess, err := store.Acquire(context.Background())
	require.NoError(t, err)

	_, err = sess.InsertPage(context.Background(), rec)
	require.NoError(t, err)
	id, err := sess.InsertPage(context.Background(), rec)
	require.ErrorIs(t, err, crawler.ErrDuplicate)
	assert.Empty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPageFailure(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO page_records").
		WithArgs(anyArgs(10)...).
		WillReturnError(errors.New("connection reset"))

	sess, _ := store.Acquire(context.Background())
	_, err := sess.InsertPage(context.Background(), samplePage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NotErrorIs(t, err, crawler.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAttachmentsPartialSuccess(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	page := crawler.RecordID("01900000-0000-7000-8000-000000000001")

	atts := []crawler.Attachment{
		{PageRecordID: page, OriginalURL: "https://x/1.pdf", FileName: "1", FileType: "pdf", LocalFilePath: "a/1.pdf", DownloadedAt: now},
		{PageRecordID: page, OriginalURL: "https://x/2.pdf", FileName: "2", FileType: "pdf", LocalFilePath: "a/2.pdf", DownloadedAt: now},
		{PageRecordID: page, OriginalURL: "https://x/old.pdf", FileName: "old", FileType: "pdf", LocalFilePath: "a/old.pdf", DownloadedAt: now},
		{PageRecordID: "", OriginalURL: "https://x/3.pdf", LocalFilePath: "a/3.pdf"},
		{PageRecordID: page, OriginalURL: "https://x/4.pdf"},
	}

	// Three valid rows reach the database; the already stored one conflicts.
	args := make([]any, 0, 24)
	for _, att := range atts[:3] {
		args = append(args, pgxmock.AnyArg(), string(page), att.OriginalURL, att.FileName, att.FileType,
			att.LocalFilePath, att.Department, att.DownloadedAt)
	}
	mock.ExpectQuery("INSERT INTO attachments .* ON CONFLICT \\(page_record_id, original_url\\) DO NOTHING").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("att-1").AddRow("att-2"))

	sess, _ := store.Acquire(context.Background())
	n, err := sess.InsertAttachments(context.Background(), atts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAttachmentsNothingValid(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	sess, _ := store.Acquire(context.Background())
	n, err := sess.InsertAttachments(context.Background(), []crawler.Attachment{{OriginalURL: "https://x/1.pdf"}})
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePage(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM page_records").
		WithArgs("rec-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM page_records").
		WithArgs("rec-2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	sess, _ := store.Acquire(context.Background())
	require.NoError(t, sess.DeletePage(context.Background(), "rec-1"))
	require.ErrorIs(t, sess.DeletePage(context.Background(), "rec-2"), crawler.ErrNoRecord)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigConnString(t *testing.T) {
	dsn, err := Config{Host: "db", User: "app", Password: "p@ss", Name: "scraped_data"}.ConnString()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:p%40ss@db:5432/scraped_data?sslmode=disable", dsn)

	dsn, err = Config{DSN: "postgres://x"}.ConnString()
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", dsn)

	_, err = Config{Host: "db"}.ConnString()
	assert.Error(t, err)
}

func TestInvalidTableName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPageStoreWithPool(mock, Tables{Pages: "pages; DROP TABLE x"})
	assert.Error(t, err)
}
