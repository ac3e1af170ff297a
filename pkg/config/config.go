// Configuration loading for a2atrace from file, environment and defaults
// Environment variables use the A2ATRACE_ prefix with dots as underscores
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/andrewh/a2atrace/pkg/tracetree"
	"github.com/spf13/viper"
)

// Source kinds.
const (
	KindPhoenix       = "phoenix"
	KindFile          = "file"
	KindElasticsearch = "elasticsearch"
	KindSQLite        = "sqlite"
)

// DefaultEntrySpan is the A2A server span that anchors an agent request.
const DefaultEntrySpan = "a2a.server.request_handlers.default_request_handler.DefaultRequestHandler._run_event_stream"

// Config is the root configuration.
type Config struct {
	Agent         string                    `mapstructure:"agent"`
	Source        SourceConfig              `mapstructure:"source"`
	Phoenix       PhoenixConfig             `mapstructure:"phoenix"`
	File          FileConfig                `mapstructure:"file"`
	Elasticsearch ElasticsearchConfig       `mapstructure:"elasticsearch"`
	Store         StoreConfig               `mapstructure:"store"`
	Trace         TraceConfig               `mapstructure:"trace"`
	Layout        tracetree.LayoutConstants `mapstructure:"layout"`
	Server        ServerConfig              `mapstructure:"server"`
	Ingest        IngestConfig              `mapstructure:"ingest"`
	Profiling     ProfilingConfig           `mapstructure:"profiling"`
	Log           LogConfig                 `mapstructure:"log"`
}

// SourceConfig selects the span repository.
type SourceConfig struct {
	Kind  string `mapstructure:"kind"`
	Limit int    `mapstructure:"limit"`
}

// PhoenixConfig points at a Phoenix REST API.
type PhoenixConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FileConfig reads spans from a local file.
type FileConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// ElasticsearchConfig points at an index of span documents.
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// StoreConfig locates the SQLite span store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// TraceConfig tunes root selection and tree filtering.
type TraceConfig struct {
	EntrySpan      string `mapstructure:"entry_span"`
	ExcludePattern string `mapstructure:"exclude_pattern"`
	ExcludePolicy  string `mapstructure:"exclude_policy"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheMaxCost int64         `mapstructure:"cache_max_cost"`
}

// IngestConfig enables the OTLP/gRPC receiver when Addr is set.
type IngestConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProfilingConfig enables continuous profiling when PyroscopeURL is set.
type ProfilingConfig struct {
	PyroscopeURL string `mapstructure:"pyroscope_url"`
}

// LogConfig sets the zap log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	layout := tracetree.DefaultLayout()

	v.SetDefault("agent", "")
	v.SetDefault("source.kind", KindPhoenix)
	v.SetDefault("source.limit", 1000)
	v.SetDefault("phoenix.url", "http://localhost:6006")
	v.SetDefault("phoenix.timeout", "30s")
	v.SetDefault("file.path", "")
	v.SetDefault("file.format", string(span.FormatAuto))
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "spans")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("store.path", "a2atrace.db")
	v.SetDefault("trace.entry_span", DefaultEntrySpan)
	v.SetDefault("trace.exclude_pattern", "a2a.server")
	v.SetDefault("trace.exclude_policy", "promote")
	v.SetDefault("layout.node_width", layout.NodeWidth)
	v.SetDefault("layout.node_height", layout.NodeHeight)
	v.SetDefault("layout.level_height", layout.LevelHeight)
	v.SetDefault("layout.spacing", layout.Spacing)
	v.SetDefault("layout.padding", layout.Padding)
	v.SetDefault("server.addr", ":8088")
	v.SetDefault("server.cache_ttl", "5s")
	v.SetDefault("server.cache_max_cost", 100_000)
	v.SetDefault("ingest.addr", "")
	v.SetDefault("profiling.pyroscope_url", "")
	v.SetDefault("log.level", "warn")
}

// New returns a viper instance with defaults, env overrides and the
// config search path set up. An explicit path replaces the search.
func New(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("a2atrace")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "a2atrace"))
		}
	}

	v.SetEnvPrefix("a2atrace")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// Load reads the config file if there is one and decodes v.
// A missing file is fine when none was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated values and required fields.
func (c *Config) Validate() error {
	kinds := []string{KindPhoenix, KindFile, KindElasticsearch, KindSQLite}
	if !slices.Contains(kinds, c.Source.Kind) {
		return fmt.Errorf("unknown source kind %q, valid kinds: %s", c.Source.Kind, strings.Join(kinds, ", "))
	}
	if c.Source.Limit <= 0 {
		return fmt.Errorf("source.limit must be positive, got %d", c.Source.Limit)
	}
	formats := []string{string(span.FormatAuto), string(span.FormatPhoenix), string(span.FormatStdouttrace), string(span.FormatOTLP)}
	if !slices.Contains(formats, c.File.Format) {
		return fmt.Errorf("unknown file format %q, valid formats: %s", c.File.Format, strings.Join(formats, ", "))
	}
	if c.Source.Kind == KindFile && c.File.Path == "" {
		return errors.New("file source needs a path\n\nSet file.path or pass --input spans.json")
	}
	if c.Source.Kind == KindElasticsearch && len(c.Elasticsearch.Addresses) == 0 {
		return errors.New("elasticsearch source needs at least one address")
	}
	if _, err := c.Trace.Policy(); err != nil {
		return err
	}
	if c.Layout.NodeWidth <= 0 || c.Layout.NodeHeight <= 0 {
		return fmt.Errorf("layout node size must be positive, got %gx%g", c.Layout.NodeWidth, c.Layout.NodeHeight)
	}
	return nil
}

// Policy parses the configured exclusion policy.
func (t TraceConfig) Policy() (tracetree.ExcludePolicy, error) {
	return tracetree.ParseExcludePolicy(t.ExcludePolicy)
}

// Options returns pipeline options for a correlation key.
func (c *Config) Options(key string) tracetree.Options {
	policy, _ := c.Trace.Policy()
	return tracetree.Options{
		CorrelationKey: key,
		EntrySpanName:  c.Trace.EntrySpan,
		ExcludePattern: c.Trace.ExcludePattern,
		ExcludePolicy:  policy,
		Layout:         c.Layout,
	}
}
