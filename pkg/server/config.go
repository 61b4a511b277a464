package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/aeolun/squadrelay/pkg/logger"
	"github.com/aeolun/squadrelay/pkg/trace"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Directory DirectorySection `toml:"directory"`
	Limits    LimitsSection    `toml:"limits"`
	History   HistorySection   `toml:"history"`
	Logger    logger.Config    `toml:"logger"`
	Tracing   trace.Config     `toml:"tracing"`
}

type ServerSection struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Name        string `toml:"name"`
	Region      string `toml:"region"`
	StaticDir   string `toml:"static_dir"`
	MetricsAddr string `toml:"metrics_addr"`
}

type DirectorySection struct {
	TTLSeconds           int `toml:"ttl_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

type LimitsSection struct {
	SendQueueSize        int `toml:"send_queue_size"`
	WriteTimeoutSeconds  int `toml:"write_timeout_seconds"`
	PongTimeoutSeconds   int `toml:"pong_timeout_seconds"`
	StatsIntervalSeconds int `toml:"stats_interval_seconds"`
}

type HistorySection struct {
	DatabasePath           string `toml:"database_path"`
	RetentionHours         int    `toml:"retention_hours"`
	CleanupIntervalMinutes int    `toml:"cleanup_interval_minutes"`
}

// EnvConfig holds the environment overrides. PORT, SERVER_NAME and
// RENDER_REGION are what hosting platforms set.
type EnvConfig struct {
	Port        int    `env:"PORT"`
	Name        string `env:"SERVER_NAME"`
	Region      string `env:"RENDER_REGION"`
	StaticDir   string `env:"SQUADRELAY_STATIC_DIR"`
	MetricsAddr string `env:"SQUADRELAY_METRICS_ADDR"`
	HistoryPath string `env:"SQUADRELAY_HISTORY_DB"`
	LogLevel    string `env:"SQUADRELAY_LOG_LEVEL"`
	LogFormat   string `env:"SQUADRELAY_LOG_FORMAT"`
	Tracing     *bool  `env:"SQUADRELAY_TRACING"`
	OTLPAddr    string `env:"SQUADRELAY_OTLP_ENDPOINT"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	def := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			Port:        def.Port,
			Name:        def.ServerName,
			StaticDir:   "public",
			MetricsAddr: def.MetricsAddr,
		},
		Directory: DirectorySection{
			TTLSeconds:           int(def.DirectoryTTL / time.Second),
			SweepIntervalSeconds: int(def.SweepInterval / time.Second),
		},
		Limits: LimitsSection{
			SendQueueSize:        def.SendQueueSize,
			WriteTimeoutSeconds:  int(def.WriteTimeout / time.Second),
			PongTimeoutSeconds:   int(def.PongTimeout / time.Second),
			StatsIntervalSeconds: int(def.StatsInterval / time.Second),
		},
		History: HistorySection{
			RetentionHours:         int(def.HistoryRetention / time.Hour),
			CleanupIntervalMinutes: int(def.HistoryCleanupInterval / time.Minute),
		},
		Logger:  logger.DefaultConfig(),
		Tracing: trace.DefaultConfig(),
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		config := DefaultTOMLConfig()
		// An unwritable location is not fatal; run on defaults
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# SquadRelay Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error; variables already set are not overridden.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ParseEnv reads the environment overrides
func ParseEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return EnvConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays set environment values onto the file configuration
func (c *TOMLConfig) ApplyEnv(e EnvConfig) {
	if e.Port != 0 {
		c.Server.Port = e.Port
	}
	if e.Name != "" {
		c.Server.Name = e.Name
	}
	if e.Region != "" {
		c.Server.Region = e.Region
	}
	if e.StaticDir != "" {
		c.Server.StaticDir = e.StaticDir
	}
	if e.MetricsAddr != "" {
		c.Server.MetricsAddr = e.MetricsAddr
	}
	if e.HistoryPath != "" {
		c.History.DatabasePath = e.HistoryPath
	}
	if e.LogLevel != "" {
		c.Logger.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		c.Logger.Format = e.LogFormat
	}
	if e.Tracing != nil {
		c.Tracing.Enabled = *e.Tracing
	}
	if e.OTLPAddr != "" {
		c.Tracing.Endpoint = e.OTLPAddr
	}
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	cfg.Host = c.Server.Host
	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}
	if strings.TrimSpace(c.Server.Name) != "" {
		cfg.ServerName = c.Server.Name
	}
	cfg.Region = strings.TrimSpace(c.Server.Region)
	cfg.StaticDir = c.Server.StaticDir
	cfg.MetricsAddr = c.Server.MetricsAddr

	if c.Directory.TTLSeconds > 0 {
		cfg.DirectoryTTL = time.Duration(c.Directory.TTLSeconds) * time.Second
	}
	if c.Directory.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(c.Directory.SweepIntervalSeconds) * time.Second
	}

	if c.Limits.SendQueueSize > 0 {
		cfg.SendQueueSize = c.Limits.SendQueueSize
	}
	if c.Limits.WriteTimeoutSeconds > 0 {
		cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
	}
	if c.Limits.PongTimeoutSeconds > 0 {
		cfg.PongTimeout = time.Duration(c.Limits.PongTimeoutSeconds) * time.Second
	}
	if c.Limits.StatsIntervalSeconds > 0 {
		cfg.StatsInterval = time.Duration(c.Limits.StatsIntervalSeconds) * time.Second
	}

	cfg.HistoryPath = c.History.DatabasePath
	if path, err := c.GetHistoryPath(); err == nil {
		cfg.HistoryPath = path
	}
	if c.History.RetentionHours > 0 {
		cfg.HistoryRetention = time.Duration(c.History.RetentionHours) * time.Hour
	}
	if c.History.CleanupIntervalMinutes > 0 {
		cfg.HistoryCleanupInterval = time.Duration(c.History.CleanupIntervalMinutes) * time.Minute
	}

	return cfg
}

// GetHistoryPath returns the history database path with ~ expanded
func (c *TOMLConfig) GetHistoryPath() (string, error) {
	if c.History.DatabasePath == "" {
		return "", nil
	}
	return expandHome(c.History.DatabasePath)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
