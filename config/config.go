package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Server
	ServerPort string `yaml:"serverPort"`

	// Storage
	DataDir     string `yaml:"dataDir"`
	DownloadDir string `yaml:"downloadDir"`
	ResourceDir string `yaml:"resourceDir"`

	// Jobs
	MaxConcurrentJobs int           `yaml:"maxConcurrentJobs"`
	JobRetention      time.Duration `yaml:"jobRetention"`

	// Remote platform
	RemoteBaseURL   string `yaml:"remoteBaseUrl"`
	HistoryPages    int    `yaml:"historyPages"`
	HistoryPageSize int    `yaml:"historyPageSize"`

	// Artifact mirror, disabled when Bucket is empty
	S3 S3Config `yaml:"s3"`
}

// S3Config selects the bucket downloaded artifacts are copied to.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		ServerPort:        "8080",
		DataDir:           "data",
		DownloadDir:       "downloads",
		ResourceDir:       "resource_files",
		MaxConcurrentJobs: 6,
		RemoteBaseURL:     "https://www.runninghub.ai",
		HistoryPages:      3,
		HistoryPageSize:   20,
	}
}

// Load loads configuration from a .env file, an optional YAML file and
// environment variables, in that order of increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if err := cfg.loadFile(getEnv("CONFIG_FILE", "config.yaml")); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.DownloadDir = getEnv("DOWNLOAD_DIR", c.DownloadDir)
	c.ResourceDir = getEnv("RESOURCE_DIR", c.ResourceDir)
	c.RemoteBaseURL = getEnv("REMOTE_BASE_URL", c.RemoteBaseURL)
	c.S3.Bucket = getEnv("S3_BUCKET", c.S3.Bucket)
	c.S3.Region = getEnv("S3_REGION", c.S3.Region)
	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Prefix = getEnv("S3_PREFIX", c.S3.Prefix)

	var err error
	if c.MaxConcurrentJobs, err = getEnvInt("MAX_CONCURRENT_JOBS", c.MaxConcurrentJobs); err != nil {
		return err
	}
	if c.HistoryPages, err = getEnvInt("HISTORY_PAGES", c.HistoryPages); err != nil {
		return err
	}
	if c.HistoryPageSize, err = getEnvInt("HISTORY_PAGE_SIZE", c.HistoryPageSize); err != nil {
		return err
	}
	if c.JobRetention, err = getEnvDuration("JOB_RETENTION", c.JobRetention); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
