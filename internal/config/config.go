package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Match     MatchConfig
	Web       WebConfig
	Thumbs    ThumbsConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
	// StoreTimeout bounds every store operation so the recognition loop
	// never blocks indefinitely on an unreachable database.
	StoreTimeout time.Duration
}

type EmbeddingConfig struct {
	URL string // embedding service base URL, defaults to http://localhost:8000
	Dim int    // embedding dimension, defaults to 128
}

type MatchConfig struct {
	// Threshold is the maximum distance at which a probe matches an
	// identity, in the embedding's native distance units.
	Threshold float64
	// RefineThreshold is the tighter bound below which a verified
	// sighting is folded back into the matched centroid.
	RefineThreshold float64
	// RefineEnabled gates the fold-on-verify coupling entirely. A match
	// that barely clears the threshold pulls the centroid toward the
	// probe, so deployments that fear impostor drift turn this off.
	RefineEnabled bool
	// HNSWEnabled switches verification to the in-memory ANN index once
	// HNSWMinIdentities is reached.
	HNSWEnabled       bool
	HNSWMinIdentities int
}

type WebConfig struct {
	Host string
	Port int
}

type ThumbsConfig struct {
	Dir  string // directory for identity thumbnails
	Size int    // square edge length in pixels (default 160)
}

// defaults mirrors the embedded defaults.yaml structure.
type defaults struct {
	Match struct {
		Threshold       float64 `yaml:"threshold"`
		RefineThreshold float64 `yaml:"refine_threshold"`
		RefineEnabled   bool    `yaml:"refine_enabled"`
	} `yaml:"match"`
	HNSW struct {
		Enabled       bool `yaml:"enabled"`
		MinIdentities int  `yaml:"min_identities"`
	} `yaml:"hnsw"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean, accepting the forms
// strconv.ParseBool accepts.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func Load() *Config {
	var def defaults
	if err := yaml.Unmarshal(defaultsYAML, &def); err != nil {
		// Embedded file, cannot fail in practice.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
			StoreTimeout: time.Duration(envInt("STORE_TIMEOUT_MS", 5000)) * time.Millisecond,
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
			Dim: envInt("EMBEDDING_DIM", 128),
		},
		Match: MatchConfig{
			Threshold:         envFloat("MATCH_THRESHOLD", def.Match.Threshold),
			RefineThreshold:   envFloat("MATCH_REFINE_THRESHOLD", def.Match.RefineThreshold),
			RefineEnabled:     envBool("MATCH_REFINE_ENABLED", def.Match.RefineEnabled),
			HNSWEnabled:       envBool("MATCH_HNSW_ENABLED", def.HNSW.Enabled),
			HNSWMinIdentities: envInt("MATCH_HNSW_MIN_IDENTITIES", def.HNSW.MinIdentities),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
		Thumbs: ThumbsConfig{
			Dir:  envString("THUMBS_DIR", "images"),
			Size: envInt("THUMBS_SIZE", 160),
		},
	}
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}
