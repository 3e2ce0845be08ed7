package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Pool    PoolConfig    `yaml:"pool" json:"pool"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds the listener configuration
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	Port            int           `yaml:"port" json:"port"`
	Path            string        `yaml:"path" json:"path"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// CacheConfig holds stream cache configuration
type CacheConfig struct {
	Directory       string        `yaml:"directory" json:"directory"`
	IdleTTL         time.Duration `yaml:"idleTtl" json:"idleTtl"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" json:"cleanupInterval"`
}

// PoolConfig holds buffer pool configuration
type PoolConfig struct {
	BufferSize int `yaml:"bufferSize" json:"bufferSize"`
	PoolSize   int `yaml:"poolSize" json:"poolSize"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// DefaultConfig Default configuration values
var DefaultConfig = Config{
	Server: ServerConfig{
		Address:         "0.0.0.0",
		Port:            8080,
		Path:            "/audio",
		ShutdownTimeout: 10 * time.Second,
	},
	Cache: CacheConfig{
		Directory:       "./cache",
		IdleTTL:         24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
	},
	Pool: PoolConfig{
		BufferSize: 64 * 1024,
		PoolSize:   100,
	},
	Logging: LoggingConfig{
		Level: "INFO",
	},
}

// LoadConfig loads configuration from multiple sources in order of precedence:
// 1. Environment variables (highest precedence)
// 2. Configuration file
// 3. Default values (lowest precedence)
func LoadConfig() (*Config, string, error) {
	config := DefaultConfig

	path, err := loadFromFile(&config)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config file: %w", err)
	}

	loadFromEnv(&config)

	if e := config.Validate(); e != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", e)
	}

	return &config, path, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(config *Config) (string, error) {
	configPaths := []string{
		os.Getenv("STREAMCACHE_CONFIG_PATH"), // Custom path from environment
		"./config.yaml",                      // Current directory
		"./config/config.yaml",               // Config subdirectory
		"/etc/streamcache/config.yaml",       // System-wide
	}

	for _, path := range configPaths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		return path, nil
	}

	return "built-in defaults (no config file found)", nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) {
	if val := os.Getenv("STREAMCACHE_SERVER_ADDRESS"); val != "" {
		config.Server.Address = val
	}
	if val := os.Getenv("STREAMCACHE_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.Port = port
		}
	}
	if val := os.Getenv("STREAMCACHE_SERVER_PATH"); val != "" {
		config.Server.Path = val
	}
	if val := os.Getenv("STREAMCACHE_SHUTDOWN_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			config.Server.ShutdownTimeout = timeout
		}
	}

	if val := os.Getenv("STREAMCACHE_CACHE_DIR"); val != "" {
		config.Cache.Directory = val
	}
	if val := os.Getenv("STREAMCACHE_IDLE_TTL"); val != "" {
		if ttl, err := time.ParseDuration(val); err == nil {
			config.Cache.IdleTTL = ttl
		}
	}
	if val := os.Getenv("STREAMCACHE_CLEANUP_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			config.Cache.CleanupInterval = interval
		}
	}

	if val := os.Getenv("STREAMCACHE_POOL_BUFFER_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.Pool.BufferSize = size
		}
	}
	if val := os.Getenv("STREAMCACHE_POOL_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.Pool.PoolSize = size
		}
	}

	if val := os.Getenv("STREAMCACHE_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Path == "" || c.Server.Path[0] != '/' {
		return fmt.Errorf("server path must start with '/': %q", c.Server.Path)
	}
	if c.Cache.Directory == "" {
		return fmt.Errorf("cache directory must not be empty")
	}
	if c.Cache.IdleTTL <= 0 {
		return fmt.Errorf("idle TTL must be positive: %v", c.Cache.IdleTTL)
	}
	if c.Cache.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive: %v", c.Cache.CleanupInterval)
	}
	if c.Pool.BufferSize <= 0 {
		return fmt.Errorf("pool buffer size must be positive: %d", c.Pool.BufferSize)
	}
	if c.Pool.PoolSize < 0 {
		return fmt.Errorf("pool size must be non-negative: %d", c.Pool.PoolSize)
	}
	return nil
}
