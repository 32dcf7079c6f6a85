// Package config loads and validates the service configuration.
//
// Configuration is a single YAML file. Every field has a workable
// default so `memd serve` runs with no file at all: local filesystem
// storage, SQLite records, in-process pipelines, no auth.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the configuration file location.
const EnvConfigPath = "MEMD_CONFIG"

// Defaults.
const (
	DefaultListenAddr    = ":9001"
	DefaultDataDir       = "./data"
	DefaultRecordsDSN    = "./data/records.db"
	DefaultAuthHeader    = "Authorization"
	DefaultMaxRetries    = 10
	DefaultWorkers       = 0 // 0 means GOMAXPROCS
	DefaultSearchLimit   = 10
	DefaultFactBudget    = 4000
	DefaultAnswerTimeout = 30 * time.Second
	DefaultVisibility    = 30 * time.Second
)

// Config is the root of the YAML file.
type Config struct {
	Service  Service  `yaml:"service"`
	Storage  Storage  `yaml:"storage"`
	Records  Records  `yaml:"records"`
	Queue    Queue    `yaml:"queue"`
	Pipeline Pipeline `yaml:"pipeline"`
	Search   Search   `yaml:"search"`
	Log      Log      `yaml:"log"`
}

// Service configures the HTTP surface.
type Service struct {
	ListenAddr string `yaml:"listen_addr"`
	// AuthHeader is the header carrying the access key.
	AuthHeader string `yaml:"auth_header"`
	// AccessKey1 and AccessKey2 are both accepted, enabling zero-downtime
	// key rotation. Both empty disables auth.
	AccessKey1 string `yaml:"access_key1"`
	AccessKey2 string `yaml:"access_key2"`
}

// Storage configures the document store.
type Storage struct {
	// Dir is the filesystem root for indexes, documents and artifacts.
	Dir string `yaml:"dir"`
}

// Records configures the record store.
type Records struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`
	// DSN is the SQLite database path.
	DSN string `yaml:"dsn"`
	// VectorSize pins the embedding dimension. 0 means take it from the
	// embedder.
	VectorSize int `yaml:"vector_size"`
}

// Queue configures work distribution.
type Queue struct {
	// Backend is "memory" or "redis". Memory implies the in-process
	// orchestrator; redis the distributed one.
	Backend    string        `yaml:"backend"`
	RedisAddr  string        `yaml:"redis_addr"`
	Visibility time.Duration `yaml:"visibility"`
}

// Pipeline configures ingestion.
type Pipeline struct {
	MaxRetries int `yaml:"max_retries"`
	Workers    int `yaml:"workers"`
	// TargetTokens and OverlapTokens size the partition chunks.
	TargetTokens  int `yaml:"target_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
	// Summarize appends the summarize steps to the default chain.
	Summarize bool `yaml:"summarize"`
}

// Search configures retrieval.
type Search struct {
	Limit         int           `yaml:"limit"`
	MinRelevance  float64       `yaml:"min_relevance"`
	FactBudget    int           `yaml:"fact_budget"`
	AnswerTimeout time.Duration `yaml:"answer_timeout"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a fully defaulted configuration.
func Default() Config {
	return Config{
		Service: Service{
			ListenAddr: DefaultListenAddr,
			AuthHeader: DefaultAuthHeader,
		},
		Storage: Storage{Dir: DefaultDataDir},
		Records: Records{Backend: "sqlite", DSN: DefaultRecordsDSN},
		Queue:   Queue{Backend: "memory", Visibility: DefaultVisibility},
		Pipeline: Pipeline{
			MaxRetries: DefaultMaxRetries,
			Workers:    DefaultWorkers,
		},
		Search: Search{
			Limit:         DefaultSearchLimit,
			FactBudget:    DefaultFactBudget,
			AnswerTimeout: DefaultAnswerTimeout,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// Load reads path, or the MEMD_CONFIG location when path is empty, and
// overlays it on the defaults. A missing file yields pure defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks bounds and cross-field consistency.
func (c Config) Validate() error {
	switch c.Records.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("records.backend must be sqlite or memory, got %q", c.Records.Backend)
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("queue.backend must be memory or redis, got %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "redis" && c.Queue.RedisAddr == "" {
		return errors.New("queue.redis_addr required for the redis backend")
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must not be negative")
	}
	if c.Pipeline.OverlapTokens < 0 || (c.Pipeline.TargetTokens > 0 && c.Pipeline.OverlapTokens >= c.Pipeline.TargetTokens) {
		return errors.New("pipeline.overlap_tokens must be non-negative and below target_tokens")
	}
	if c.Search.MinRelevance < 0 || c.Search.MinRelevance > 1 {
		return errors.New("search.min_relevance must be in [0, 1]")
	}
	if c.Service.AccessKey1 == "" && c.Service.AccessKey2 != "" {
		return errors.New("service.access_key2 set without access_key1")
	}
	return nil
}

// AuthEnabled reports whether requests must carry an access key.
func (c Config) AuthEnabled() bool {
	return c.Service.AccessKey1 != "" || c.Service.AccessKey2 != ""
}
