// Package config loads service configuration from an optional TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the service
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Repository RepositoryConfig `toml:"repository"`
	Database   DatabaseConfig   `toml:"database"`
	Compilers  CompilersConfig  `toml:"compilers"`
	Chains     ChainsConfig     `toml:"chains"`
	Logging    LoggingConfig    `toml:"logging"`
}

// ServerConfig holds the ops HTTP listener settings (health and metrics)
type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
}

// RepositoryConfig holds filesystem repository settings
type RepositoryConfig struct {
	Path    string `toml:"path"`
	Version string `toml:"version"` // written into manifest.json
	// MirrorAPI is the endpoint of the mirror filesystem daemon.
	// Empty disables mirroring.
	MirrorAPI string `toml:"mirror_api"`
}

// DatabaseConfig holds relational store settings
type DatabaseConfig struct {
	Type     string         `toml:"type"` // "postgres" or "sqlite", empty disables
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string `toml:"url"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// CompilersConfig holds compiler provisioning settings
type CompilersConfig struct {
	CacheDir         string `toml:"cache_dir"`
	SolcRepo         string `toml:"solc_repo"`
	SoljsonRepo      string `toml:"soljson_repo"`
	VyperRepo        string `toml:"vyper_repo"`
	DownloadRetries  int    `toml:"download_retries"`
	DownloadTimeout  int    `toml:"download_timeout_seconds"` // first attempt; doubles per retry
	OutputLimitMB    int    `toml:"output_limit_mb"`
	Prewarm          bool   `toml:"prewarm"`
	PrewarmBatchSize int    `toml:"prewarm_batch_size"`
	DownloadRPS      int    `toml:"download_rps"`
}

// ChainsConfig holds chain registry settings
type ChainsConfig struct {
	Path string `toml:"path"` // chains.yaml
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// Load loads configuration from the TOML file at path (when non-empty),
// then applies environment variable overrides on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	// If DATABASE_URL is set, default to postgres
	if cfg.Database.Postgres.URL != "" && cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 9090,
		},
		Repository: RepositoryConfig{
			Path:    "./data/repository",
			Version: "0.1",
		},
		Database: DatabaseConfig{
			SQLite: SQLiteConfig{Path: "./data/verifactory.db"},
		},
		Compilers: CompilersConfig{
			CacheDir:         "./data/compilers",
			SolcRepo:         "https://binaries.soliditylang.org",
			SoljsonRepo:      "https://binaries.soliditylang.org/bin",
			VyperRepo:        "https://github.com/vyperlang/vyper/releases/download",
			DownloadRetries:  3,
			DownloadTimeout:  10,
			OutputLimitMB:    256,
			PrewarmBatchSize: 10,
			DownloadRPS:      20,
		},
		Chains: ChainsConfig{
			Path: "./chains.yaml",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Server.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.Server.MetricsEnabled)

	cfg.Repository.Path = getEnv("REPOSITORY_PATH", cfg.Repository.Path)
	cfg.Repository.Version = getEnv("REPOSITORY_VERSION", cfg.Repository.Version)
	cfg.Repository.MirrorAPI = getEnv("REPOSITORY_MIRROR_API", cfg.Repository.MirrorAPI)

	cfg.Database.Type = getEnv("DATABASE_TYPE", cfg.Database.Type)
	cfg.Database.Postgres.URL = getEnv("DATABASE_URL", cfg.Database.Postgres.URL)
	cfg.Database.SQLite.Path = getEnv("SQLITE_PATH", cfg.Database.SQLite.Path)

	cfg.Compilers.CacheDir = getEnv("COMPILERS_CACHE_DIR", cfg.Compilers.CacheDir)
	cfg.Compilers.SolcRepo = getEnv("SOLC_REPO", cfg.Compilers.SolcRepo)
	cfg.Compilers.SoljsonRepo = getEnv("SOLJSON_REPO", cfg.Compilers.SoljsonRepo)
	cfg.Compilers.VyperRepo = getEnv("VYPER_REPO", cfg.Compilers.VyperRepo)
	cfg.Compilers.DownloadRetries = getEnvInt("COMPILER_DOWNLOAD_RETRIES", cfg.Compilers.DownloadRetries)
	cfg.Compilers.DownloadTimeout = getEnvInt("COMPILER_DOWNLOAD_TIMEOUT", cfg.Compilers.DownloadTimeout)
	cfg.Compilers.OutputLimitMB = getEnvInt("COMPILER_OUTPUT_LIMIT_MB", cfg.Compilers.OutputLimitMB)
	cfg.Compilers.Prewarm = getEnvBool("COMPILER_PREWARM", cfg.Compilers.Prewarm)
	cfg.Compilers.PrewarmBatchSize = getEnvInt("COMPILER_PREWARM_BATCH", cfg.Compilers.PrewarmBatchSize)
	cfg.Compilers.DownloadRPS = getEnvInt("COMPILER_DOWNLOAD_RPS", cfg.Compilers.DownloadRPS)

	cfg.Chains.Path = getEnv("CHAINS_PATH", cfg.Chains.Path)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
