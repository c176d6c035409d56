// Package config loads vecdb settings from a TOML file and VECDB_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full vecdb configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// StoreConfig configures library defaults.
type StoreConfig struct {
	DefaultIndex     string `toml:"default_index"`
	Centroids        int    `toml:"centroids"`
	Probe            int    `toml:"probe"`
	EmbedConcurrency int    `toml:"embed_concurrency"`
}

// SnapshotConfig selects the durability backend.
type SnapshotConfig struct {
	Backend string `toml:"backend"` // none, memory, file, sqlite, badger
	Path    string `toml:"path"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string  `toml:"provider"` // hash, cohere, openai
	Model     string  `toml:"model,omitempty"`
	APIKey    string  `toml:"api_key,omitempty"`
	BaseURL   string  `toml:"base_url,omitempty"`
	Dimension int     `toml:"dimension"`
	RateLimit float64 `toml:"rate_limit"` // requests per second, 0 disables
	Burst     int     `toml:"burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// Default returns a configuration that runs fully offline.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8000"},
		Store: StoreConfig{
			DefaultIndex:     "flat",
			Centroids:        8,
			Probe:            2,
			EmbedConcurrency: 4,
		},
		Snapshot:  SnapshotConfig{Backend: "file", Path: "vecdb.json"},
		Embedding: EmbeddingConfig{Provider: "hash", Dimension: 256, Burst: 1},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and then applies the environment. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Save writes cfg to path as TOML, creating the directory if needed.
func (c Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("config: create dir: %w", err)
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Marshal encodes cfg as TOML.
func (c Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return data, nil
}

// ApplyEnv overrides fields from VECDB_* variables. The provider-specific
// COHERE_API_KEY and OPENAI_API_KEY are used when no key is set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	str("VECDB_ADDR", &c.Server.Addr)
	str("VECDB_DEFAULT_INDEX", &c.Store.DefaultIndex)
	num("VECDB_CENTROIDS", &c.Store.Centroids)
	num("VECDB_PROBE", &c.Store.Probe)
	num("VECDB_EMBED_CONCURRENCY", &c.Store.EmbedConcurrency)
	str("VECDB_SNAPSHOT_BACKEND", &c.Snapshot.Backend)
	str("VECDB_SNAPSHOT_PATH", &c.Snapshot.Path)
	str("VECDB_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("VECDB_EMBEDDING_MODEL", &c.Embedding.Model)
	str("VECDB_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	str("VECDB_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	num("VECDB_EMBEDDING_DIMENSION", &c.Embedding.Dimension)
	num("VECDB_EMBEDDING_BURST", &c.Embedding.Burst)
	if v, ok := lookup("VECDB_EMBEDDING_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: VECDB_EMBEDDING_RATE_LIMIT: %w", err))
		} else {
			c.Embedding.RateLimit = f
		}
	}
	str("VECDB_LOG_LEVEL", &c.Log.Level)
	str("VECDB_LOG_FORMAT", &c.Log.Format)

	if c.Embedding.APIKey == "" {
		switch strings.ToLower(c.Embedding.Provider) {
		case "cohere":
			str("COHERE_API_KEY", &c.Embedding.APIKey)
		case "openai":
			str("OPENAI_API_KEY", &c.Embedding.APIKey)
		}
	}
	return errors.Join(errs...)
}

// Validate checks enumerations and ranges.
func (c Config) Validate() error {
	var errs []error
	oneOf := func(field, v string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(v, a) {
				return
			}
		}
		errs = append(errs, fmt.Errorf("config: %s must be one of %s, got %q", field, strings.Join(allowed, ", "), v))
	}

	oneOf("store.default_index", c.Store.DefaultIndex, "flat", "linear", "tree", "kdtree", "kd-tree", "cluster", "clustered", "ivf")
	oneOf("snapshot.backend", c.Snapshot.Backend, "none", "memory", "file", "sqlite", "badger")
	oneOf("embedding.provider", c.Embedding.Provider, "hash", "cohere", "openai")
	oneOf("log.level", c.Log.Level, "debug", "info", "warn", "warning", "error")
	oneOf("log.format", c.Log.Format, "text", "json")

	if c.Store.Centroids < 1 {
		errs = append(errs, errors.New("config: store.centroids must be at least 1"))
	}
	if c.Store.Probe < 1 {
		errs = append(errs, errors.New("config: store.probe must be at least 1"))
	}
	if c.Store.EmbedConcurrency < 1 {
		errs = append(errs, errors.New("config: store.embed_concurrency must be at least 1"))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, errors.New("config: embedding.dimension must be non-negative"))
	}
	if c.Embedding.RateLimit < 0 {
		errs = append(errs, errors.New("config: embedding.rate_limit must be non-negative"))
	}
	switch strings.ToLower(c.Snapshot.Backend) {
	case "file", "sqlite", "badger":
		if c.Snapshot.Path == "" {
			errs = append(errs, fmt.Errorf("config: snapshot.path is required for backend %q", c.Snapshot.Backend))
		}
	}
	return errors.Join(errs...)
}
