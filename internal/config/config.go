package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"web/clustermanager/cluster"
)

var (
	ErrInvalidMaxSessions = errors.New("max sessions must be a positive integer")
	ErrMissingAddr        = errors.New("server address must not be empty")
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Cluster  cluster.Options `yaml:"cluster"`
	Sessions SessionsConfig  `yaml:"sessions"`
	Source   SourceConfig    `yaml:"source"`
	Log      LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	APIBase         string        `yaml:"api_base"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type SessionsConfig struct {
	MaxSessions     int           `yaml:"max_sessions"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// SourceConfig names where the default point set comes from. When both are
// set the SQL source wins.
type SourceConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Query  string `yaml:"query"`
	File   string `yaml:"file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			APIBase:         "/api",
			ShutdownTimeout: 10 * time.Second,
		},
		Cluster: cluster.DefaultOptions(),
		Sessions: SessionsConfig{
			MaxSessions:     10,
			IdleTimeout:     30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Source: SourceConfig{
			Driver: "postgres",
			Query:  "SELECT id, latitude, longitude, title, snippet FROM points",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load layers the defaults, the YAML file at path (skipped when empty), the
// .env files and the environment, then validates the result. Variables
// already present in the environment win over .env entries.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "CLUSTER_ADDR")
	setString(&c.Server.APIBase, "CLUSTER_API_BASE")
	setString(&c.Source.Driver, "CLUSTER_SOURCE_DRIVER")
	setString(&c.Source.DSN, "CLUSTER_SOURCE_DSN")
	setString(&c.Source.Query, "CLUSTER_SOURCE_QUERY")
	setString(&c.Source.File, "CLUSTER_POINTS_FILE")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	ints := []struct {
		key string
		dst *int
	}{
		{"CLUSTER_BUCKET_CAPACITY", &c.Cluster.BucketCapacity},
		{"CLUSTER_MIN_CLUSTER_SIZE", &c.Cluster.MinClusterSize},
		{"CLUSTER_WORKERS", &c.Cluster.Workers},
		{"CLUSTER_MAX_TILES", &c.Cluster.MaxTiles},
		{"CLUSTER_MAX_SESSIONS", &c.Sessions.MaxSessions},
	}
	for _, v := range ints {
		if err := setInt(v.dst, v.key); err != nil {
			return err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CLUSTER_SESSION_IDLE_TIMEOUT", &c.Sessions.IdleTimeout},
		{"CLUSTER_SESSION_CLEANUP_INTERVAL", &c.Sessions.CleanupInterval},
		{"CLUSTER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout},
	}
	for _, v := range durations {
		if err := setDuration(v.dst, v.key); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate rejects misconfiguration; nothing is clamped.
func (c Config) Validate() error {
	if err := c.Cluster.Validate(); err != nil {
		return err
	}
	if c.Sessions.MaxSessions <= 0 {
		return ErrInvalidMaxSessions
	}
	if c.Server.Addr == "" {
		return ErrMissingAddr
	}
	return nil
}
