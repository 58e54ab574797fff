// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/omu-rag/newsingest/internal/crawler"
	"github.com/omu-rag/newsingest/internal/storage"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	Storage     StorageConfig     `mapstructure:"storage"`
	DB          DBConfig          `mapstructure:"db"`
	Mongo       MongoConfig       `mapstructure:"mongo"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	// Departments maps a department key to its site base URL.
	Departments map[string]string `mapstructure:"departments"`

	// Warnings are non-fatal problems found while loading.
	Warnings []string `mapstructure:"-"`
}

// CrawlerConfig governs the crawl phases.
type CrawlerConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	Pagination         int           `mapstructure:"pagination"`
	UserAgent          string        `mapstructure:"user_agent"`
	ListingParallelism int           `mapstructure:"listing_parallelism"`
	ListingDelay       time.Duration `mapstructure:"listing_delay"`
}

// HTTPConfig bounds outbound requests.
type HTTPConfig struct {
	ListingTimeout     time.Duration `mapstructure:"listing_timeout"`
	PageTimeout        time.Duration `mapstructure:"page_timeout"`
	DownloadTimeout    time.Duration `mapstructure:"download_timeout"`
	MaxPageBytes       int64         `mapstructure:"max_page_bytes"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	Burst              int           `mapstructure:"burst"`
	PerHostConcurrency int           `mapstructure:"per_host_concurrency"`
}

// AttachmentsConfig controls harvesting.
type AttachmentsConfig struct {
	Root           string   `mapstructure:"root"`
	Extensions     []string `mapstructure:"extensions"`
	ExcludeMarkers []string `mapstructure:"exclude_markers"`
	AllowedHosts   []string `mapstructure:"allowed_hosts"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	PagesTable      string        `mapstructure:"pages_table"`
	AttachmentTable string        `mapstructure:"attachments_table"`
	// AutoMigrate applies pending schema migrations before a crawl.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// MongoConfig controls access to MongoDB.
type MongoConfig struct {
	URI                   string `mapstructure:"uri"`
	Database              string `mapstructure:"database"`
	PagesCollection       string `mapstructure:"pages_collection"`
	AttachmentsCollection string `mapstructure:"attachments_collection"`
}

// PubSubConfig holds metadata for page-ingested notifications. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	Stderr      bool   `mapstructure:"stderr"`
}

// MetricsConfig configures the observability listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultDepartments are the engineering faculty sites crawled when the
// configuration names none.
var DefaultDepartments = map[string]string{
	"bilgisayar-muhendisligi":           "https://bil-muhendislik.omu.edu.tr",
	"cevre-muhendisligi":                "https://cev-muhendislik.omu.edu.tr",
	"elektrik-elektronik-muhendisligi":  "https://eem-muhendislik.omu.edu.tr",
	"insaat-muhendisligi":               "https://ins-muhendislik.omu.edu.tr",
	"endustri-muhendisligi":             "https://end-muhendislik.omu.edu.tr",
	"gida-muhendisligi":                 "https://gida-muhendislik.omu.edu.tr",
	"harita-muhendisligi":               "https://hrt-muhendislik.omu.edu.tr",
	"kimya-muhendisligi":                "https://kim-muhendislik.omu.edu.tr",
	"makine-muhendisligi":               "https://mak-muhendislik.omu.edu.tr",
	"metalurji-ve-malzeme-muhendisligi": "https://mlz-muhendislik.omu.edu.tr",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var warnings []string
	pagination, warn := normalizePagination(v.Get("crawler.pagination"))
	if warn != "" {
		warnings = append(warnings, warn)
	}
	v.Set("crawler.pagination", pagination)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Departments) == 0 {
		cfg.Departments = maps.Clone(DefaultDepartments)
	}
	cfg.Warnings = warnings

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("crawler.pagination", 0)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; omu-newsingest/1.0)")
	v.SetDefault("crawler.listing_parallelism", 2)
	v.SetDefault("crawler.listing_delay", "0s")
	v.SetDefault("http.listing_timeout", "15s")
	v.SetDefault("http.page_timeout", "20s")
	v.SetDefault("http.download_timeout", "60s")
	v.SetDefault("http.max_page_bytes", 50<<20)
	v.SetDefault("http.requests_per_second", 2.0)
	v.SetDefault("http.burst", 4)
	v.SetDefault("http.per_host_concurrency", 4)
	v.SetDefault("attachments.root", "assets")
	v.SetDefault("attachments.extensions", []string{"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx"})
	v.SetDefault("attachments.exclude_markers", []string{"oidb"})
	v.SetDefault("attachments.allowed_hosts", []string{})
	v.SetDefault("storage.backend", string(storage.BackendPostgres))
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.pages_table", "page_records")
	v.SetDefault("db.attachments_table", "attachments")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("mongo.database", "scraped_data")
	v.SetDefault("mongo.pages_collection", "page_contents")
	v.SetDefault("mongo.attachments_collection", "page_attachments")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "scraper.log")
	v.SetDefault("logging.stderr", true)
	v.SetDefault("metrics.addr", "")
}

// normalizePagination turns a raw pagination value into a non-negative depth.
// Anything unusable becomes 0 with a warning.
func normalizePagination(raw any) (int, string) {
	if raw == nil {
		return 0, ""
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Sprintf("crawler.pagination %q is not an integer, using 0", fmt.Sprint(raw))
	}
	if n < 0 {
		return 0, fmt.Sprintf("crawler.pagination %d is negative, using 0", n)
	}
	return n, ""
}

// NormalizePagination applies the pagination rules to a command-line value.
func NormalizePagination(raw string) (int, string) {
	return normalizePagination(strings.TrimSpace(raw))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.HTTP.ListingTimeout <= 0 || c.HTTP.PageTimeout <= 0 || c.HTTP.DownloadTimeout <= 0 {
		return fmt.Errorf("http timeouts must be > 0")
	}
	if c.HTTP.DownloadTimeout < c.HTTP.PageTimeout || c.HTTP.PageTimeout < c.HTTP.ListingTimeout {
		return fmt.Errorf("http timeouts must satisfy download_timeout >= page_timeout >= listing_timeout")
	}
	if c.HTTP.MaxPageBytes <= 0 {
		return fmt.Errorf("http.max_page_bytes must be > 0")
	}
	if strings.TrimSpace(c.Attachments.Root) == "" {
		return fmt.Errorf("attachments.root must be set")
	}
	if err := c.validateDepartments(); err != nil {
		return err
	}

	backend, err := storage.ParseBackend(c.Storage.Backend)
	if err != nil {
		return fmt.Errorf("storage.backend: %w", err)
	}
	switch backend {
	case storage.BackendPostgres:
		if c.DB.DSN == "" {
			var missing []string
			for key, val := range map[string]string{"db.host": c.DB.Host, "db.user": c.DB.User, "db.name": c.DB.Name} {
				if strings.TrimSpace(val) == "" {
					missing = append(missing, key)
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				return fmt.Errorf("postgres backend requires db.dsn or %s", strings.Join(missing, ", "))
			}
		}
	case storage.BackendMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo backend requires mongo.uri")
		}
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

func (c Config) validateDepartments() error {
	if len(c.Departments) == 0 {
		return errors.New("at least one department is required")
	}
	for id, base := range c.Departments {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("department %q has invalid base url %q", id, base)
		}
	}
	return nil
}

// DepartmentList returns the configured departments sorted by key.
func (c Config) DepartmentList() []crawler.Department {
	out := make([]crawler.Department, 0, len(c.Departments))
	for id, base := range c.Departments {
		out = append(out, crawler.Department{ID: id, BaseURL: strings.TrimRight(base, "/")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
