// Package mongostore provides the MongoDB-backed page store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/omu-rag/newsingest/internal/crawler"
)

// Defaults matching the collections the chatbot reads from.
const (
	DefaultDatabase              = "scraped_data"
	DefaultPagesCollection       = "page_contents"
	DefaultAttachmentsCollection = "page_attachments"
)

// Config controls the MongoDB connection.
type Config struct {
	URI                   string
	Database              string
	PagesCollection       string
	AttachmentsCollection string
	ConnectTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.PagesCollection == "" {
		c.PagesCollection = DefaultPagesCollection
	}
	if c.AttachmentsCollection == "" {
		c.AttachmentsCollection = DefaultAttachmentsCollection
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

type pageDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Title       string             `bson:"title"`
	Content     string             `bson:"content"`
	Author      string             `bson:"author"`
	Date        string             `bson:"date,omitempty"`
	Department  string             `bson:"department"`
	Faculty     string             `bson:"faculty,omitempty"`
	URL         string             `bson:"url"`
	ScrapedAt   time.Time          `bson:"scraped_at"`
	IsPDFSource bool               `bson:"is_pdf_source"`
}

type attachmentDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	PageRecordID  primitive.ObjectID `bson:"page_record_id"`
	OriginalURL   string             `bson:"original_url"`
	FileName      string             `bson:"file_name"`
	FileType      string             `bson:"file_type"`
	LocalFilePath string             `bson:"local_file_path"`
	Department    string             `bson:"department"`
	DownloadedAt  time.Time          `bson:"downloaded_at"`
}

// PageStore writes pages and attachments to two collections. The driver's
// client is safe for concurrent use and pools its own connections.
type PageStore struct {
	client      *mongo.Client
	pages       *mongo.Collection
	attachments *mongo.Collection
	logger      *zap.Logger
}

var _ crawler.PageStore = (*PageStore)(nil)

// New connects to MongoDB, verifies the connection and ensures indexes.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*PageStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo.uri is required")
	}
	cfg = cfg.withDefaults()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := NewWithDatabase(client.Database(cfg.Database), cfg, logger)
	store.client = client
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// NewWithDatabase builds a store on an existing database handle (primarily for
// testing with mtest).
func NewWithDatabase(db *mongo.Database, cfg Config, logger *zap.Logger) *PageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &PageStore{
		pages:       db.Collection(cfg.PagesCollection),
		attachments: db.Collection(cfg.AttachmentsCollection),
		logger:      logger,
	}
}

// EnsureIndexes creates the uniqueness constraints the store relies on.
func (s *PageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.pages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create url index: %w", err)
	}
	_, err = s.attachments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "page_record_id", Value: 1}, {Key: "original_url", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create attachment index: %w", err)
	}
	return nil
}

// Acquire returns a session bound to the store's collections.
func (s *PageStore) Acquire(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire mongo session: %w", err)
	}
	return &session{store: s}, nil
}

// Close disconnects the client when the store owns it.
func (s *PageStore) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

type session struct {
	store *PageStore
}

func (ss *session) InsertPage(ctx context.Context, rec crawler.PageRecord) (crawler.RecordID, error) {
	doc := pageDoc{
		Title:       rec.Title,
		Content:     rec.Content,
		Author:      rec.Author,
		Department:  rec.Department,
		Faculty:     rec.Faculty,
		URL:         rec.URL,
		ScrapedAt:   rec.ScrapedAt,
		IsPDFSource: rec.IsPDFSource,
	}
	if rec.Date != nil {
		doc.Date = rec.Date.Format("2006-01-02")
	}
	res, err := ss.store.pages.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", crawler.ErrDuplicate
		}
		return "", fmt.Errorf("insert page: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert page: unexpected id type %T", res.InsertedID)
	}
	return crawler.RecordID(oid.Hex()), nil
}

func (ss *session) InsertAttachments(ctx context.Context, atts []crawler.Attachment) (int, error) {
	docs := make([]any, 0, len(atts))
	for _, att := range atts {
		if !att.Valid() {
			continue
		}
		pageID, err := primitive.ObjectIDFromHex(string(att.PageRecordID))
		if err != nil {
			ss.store.logger.Warn("attachment has non-mongo page id",
				zap.String("page_record_id", string(att.PageRecordID)))
			continue
		}
		docs = append(docs, attachmentDoc{
			PageRecordID:  pageID,
			OriginalURL:   att.OriginalURL,
			FileName:      att.FileName,
			FileType:      att.FileType,
			LocalFilePath: att.LocalFilePath,
			Department:    att.Department,
			DownloadedAt:  att.DownloadedAt,
		})
	}
	if len(docs) == 0 {
		return 0, nil
	}

	res, err := ss.store.attachments.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && bwe.WriteConcernError == nil {
			inserted := len(docs) - len(bwe.WriteErrors)
			ss.store.logger.Warn("attachment bulk insert partially failed",
				zap.Int("inserted", inserted),
				zap.Int("failed", len(bwe.WriteErrors)),
			)
			return inserted, nil
		}
		return 0, fmt.Errorf("insert attachments: %w", err)
	}
	return len(res.InsertedIDs), nil
}

func (ss *session) DeletePage(ctx context.Context, id crawler.RecordID) error {
	oid, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return crawler.ErrNoRecord
	}
	res, err := ss.store.pages.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if res.DeletedCount == 0 {
		return crawler.ErrNoRecord
	}
	if _, err := ss.store.attachments.DeleteMany(ctx, bson.M{"page_record_id": oid}); err != nil {
		return fmt.Errorf("delete page attachments: %w", err)
	}
	return nil
}

func (ss *session) Release() {}
