// Package config loads and validates service configuration via Viper.
// Every knob can come from a config file or a SHOPASSIST_* environment
// variable (dots become underscores).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Qdrant  QdrantConfig  `mapstructure:"qdrant"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Vertex  VertexConfig  `mapstructure:"vertex"`
	Sync    SyncConfig    `mapstructure:"sync"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

// MongoConfig controls the metadata store. An empty URI selects the
// in-memory store, which only makes sense for local development.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// QdrantConfig controls the vector index.
type QdrantConfig struct {
	Addr       string `mapstructure:"addr"`
	Collection string `mapstructure:"collection"`
}

// NATSConfig controls job event publishing. An empty URL disables it.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// ScraperConfig controls the upstream content API client.
type ScraperConfig struct {
	Host              string  `mapstructure:"host"`
	APIKey            string  `mapstructure:"api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	DefaultMaxPosts   int     `mapstructure:"default_max_posts"`
}

// VertexConfig controls the annotation and embedding clients.
type VertexConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Project           string  `mapstructure:"project"`
	Location          string  `mapstructure:"location"`
	EmbedModel        string  `mapstructure:"embed_model"`
	GeminiModel       string  `mapstructure:"gemini_model"`
	AccessToken       string  `mapstructure:"access_token"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// SyncConfig controls the background sync daemon.
type SyncConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// Interval returns the sync cadence as a duration.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOPASSIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("mongo.database", "shopassist")
	v.SetDefault("qdrant.addr", "localhost:6334")
	v.SetDefault("qdrant.collection", "posts")
	v.SetDefault("scraper.host", "instagram-scraper-api2.p.rapidapi.com")
	v.SetDefault("scraper.requests_per_second", 0.5)
	v.SetDefault("scraper.default_max_posts", 50)
	v.SetDefault("vertex.base_url", "https://us-central1-aiplatform.googleapis.com")
	v.SetDefault("vertex.location", "us-central1")
	v.SetDefault("vertex.embed_model", "text-embedding-005")
	v.SetDefault("vertex.gemini_model", "gemini-2.0-flash")
	v.SetDefault("vertex.requests_per_second", 1)
	v.SetDefault("sync.interval_minutes", 240)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Qdrant.Addr == "" {
		return fmt.Errorf("qdrant.addr must be set")
	}
	if c.Qdrant.Collection == "" {
		return fmt.Errorf("qdrant.collection must be set")
	}
	if c.Scraper.RequestsPerSecond <= 0 {
		return fmt.Errorf("scraper.requests_per_second must be > 0")
	}
	if c.Scraper.DefaultMaxPosts <= 0 {
		return fmt.Errorf("scraper.default_max_posts must be > 0")
	}
	if c.Sync.IntervalMinutes <= 0 {
		return fmt.Errorf("sync.interval_minutes must be > 0")
	}
	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database must be set when mongo.uri is set")
	}
	return nil
}
