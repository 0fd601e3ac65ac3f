package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Executor selects how per-file tasks run: in child processes or on
// goroutines inside the server. Chosen once at startup.
const (
	ExecutorProcess = "process"
	ExecutorThread  = "thread"
)

var validExecutors = map[string]bool{
	ExecutorProcess: true,
	ExecutorThread:  true,
}

type Config struct {
	ListenAddr  string   `yaml:"listen_addr"`
	APIKeys     []string `yaml:"api_keys"`
	CORSOrigins []string `yaml:"cors_origins"`
	StoreDir    string   `yaml:"store_dir"`
	Executor    string   `yaml:"executor"`
	Workers     int      `yaml:"workers"`
	RateRPS     float64  `yaml:"rate_rps"`
	RateBurst   int      `yaml:"rate_burst"`
	JobTTLHours int      `yaml:"job_ttl_hours"`
	WebhookURL  string   `yaml:"webhook_url"`
}

const defaultFile = "stampd.yaml"

// Load resolves configuration in three layers: built-in defaults, then
// the YAML file, then STAMPD_* environment overrides. An empty path
// falls back to STAMPD_CONFIG, then to stampd.yaml if it exists.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("STAMPD_CONFIG")
	}
	cfg := &Config{
		ListenAddr:  ":8080",
		StoreDir:    "stampd-data",
		Executor:    ExecutorProcess,
		RateRPS:     1,
		RateBurst:   5,
		JobTTLHours: 24,
	}

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TemplatesDB is the sqlite file holding watermark templates.
func (c *Config) TemplatesDB() string {
	return filepath.Join(c.StoreDir, "stampd.db")
}

// ImagesDir holds uploaded watermark images.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.StoreDir, "images")
}

// FontsDir holds uploaded fonts.
func (c *Config) FontsDir() string {
	return filepath.Join(c.StoreDir, "fonts")
}

func (c *Config) loadFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.ListenAddr = getEnv("STAMPD_LISTEN_ADDR", c.ListenAddr)
	c.StoreDir = getEnv("STAMPD_STORE_DIR", c.StoreDir)
	c.Executor = getEnv("STAMPD_EXECUTOR", c.Executor)
	c.WebhookURL = getEnv("STAMPD_WEBHOOK_URL", c.WebhookURL)

	if raw := os.Getenv("STAMPD_API_KEYS"); raw != "" {
		c.APIKeys = splitList(raw)
	}
	if raw := os.Getenv("STAMPD_CORS_ORIGINS"); raw != "" {
		c.CORSOrigins = splitList(raw)
	}

	var err error
	c.Workers, err = getEnvInt("STAMPD_WORKERS", c.Workers)
	if err != nil {
		return fmt.Errorf("STAMPD_WORKERS: %w", err)
	}
	c.RateBurst, err = getEnvInt("STAMPD_RATE_BURST", c.RateBurst)
	if err != nil {
		return fmt.Errorf("STAMPD_RATE_BURST: %w", err)
	}
	c.JobTTLHours, err = getEnvInt("STAMPD_JOB_TTL_HOURS", c.JobTTLHours)
	if err != nil {
		return fmt.Errorf("STAMPD_JOB_TTL_HOURS: %w", err)
	}
	c.RateRPS, err = getEnvFloat("STAMPD_RATE_RPS", c.RateRPS)
	if err != nil {
		return fmt.Errorf("STAMPD_RATE_RPS: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if !validExecutors[c.Executor] {
		return fmt.Errorf("executor %q must be one of: process, thread", c.Executor)
	}
	if c.Workers < 0 {
		return errors.New("workers must be >= 0 (0 means one per CPU)")
	}
	if c.RateRPS < 0 {
		return errors.New("rate_rps must be >= 0 (0 disables rate limiting)")
	}
	if c.RateBurst < 1 {
		return errors.New("rate_burst must be >= 1")
	}
	if c.JobTTLHours < 0 {
		return errors.New("job_ttl_hours must be >= 0")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return f, nil
}
