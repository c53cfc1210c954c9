package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort     = "8080"
	DefaultEndpoint = "http://127.0.0.1:8000/predict/"
	// DefaultMaxBytes is the largest accepted image
	DefaultMaxBytes int64 = 10 * 1024 * 1024

	messageOverhead = 64 * 1024
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port            string   `json:"port" yaml:"port"`
		StaticDir       string   `json:"static_dir" yaml:"static_dir"`
		Debug           bool     `json:"debug" yaml:"debug"`
		AllowedOrigins  []string `json:"allowed_origins" yaml:"allowed_origins"`
		MaxMessageBytes int64    `json:"max_message_bytes" yaml:"max_message_bytes"`
	} `json:"server" yaml:"server"`

	Classifier struct {
		Type       string   `json:"type" yaml:"type"` // only "remote" for now
		Endpoint   string   `json:"endpoint" yaml:"endpoint"`
		HealthPath string   `json:"health_path" yaml:"health_path"`
		Timeout    Duration `json:"timeout" yaml:"timeout"` // zero means no timeout
	} `json:"classifier" yaml:"classifier"`

	Upload struct {
		MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
	} `json:"upload" yaml:"upload"`

	Notices struct {
		TTL Duration `json:"ttl" yaml:"ttl"`
	} `json:"notices" yaml:"notices"`

	Chat struct {
		MinDelay Duration `json:"min_delay" yaml:"min_delay"`
		MaxDelay Duration `json:"max_delay" yaml:"max_delay"`
	} `json:"chat" yaml:"chat"`
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = DefaultPort
	cfg.Server.StaticDir = "./static"
	cfg.Server.MaxMessageBytes = 2 * DefaultMaxBytes
	cfg.Classifier.Type = "remote"
	cfg.Classifier.Endpoint = DefaultEndpoint
	cfg.Classifier.HealthPath = "/health"
	cfg.Upload.MaxBytes = DefaultMaxBytes
	cfg.Notices.TTL = Duration{5 * time.Second}
	cfg.Chat.MinDelay = Duration{time.Second}
	cfg.Chat.MaxDelay = Duration{3 * time.Second}
	return cfg
}

// LoadConfig loads configuration from a JSON or YAML file, then applies
// .env and FRESHNESS_* environment overrides. An empty path yields the
// defaults plus overrides.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		switch strings.ToLower(filepath.Ext(configPath)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = json.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// A missing .env is fine
	_ = godotenv.Load()
	config.applyEnvOverrides()

	// Handle missing values
	if config.Server.StaticDir == "" {
		config.Server.StaticDir = "./static"
	}
	if config.Classifier.Type == "" {
		config.Classifier.Type = "remote"
	}
	if config.Classifier.HealthPath == "" {
		config.Classifier.HealthPath = "/health"
	}
	if config.Server.MaxMessageBytes == 0 {
		config.Server.MaxMessageBytes = 2 * config.Upload.MaxBytes
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FRESHNESS_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("FRESHNESS_STATIC_DIR"); v != "" {
		c.Server.StaticDir = v
	}
	if v := os.Getenv("FRESHNESS_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.Debug = b
		}
	}
	if v := os.Getenv("FRESHNESS_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("FRESHNESS_CLASSIFIER_ENDPOINT"); v != "" {
		c.Classifier.Endpoint = v
	}
	if v := os.Getenv("FRESHNESS_CLASSIFIER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Classifier.Timeout = Duration{d}
		}
	}
}

// Validate checks the values the rest of the program relies on
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is not set")
	}
	u, err := url.Parse(c.Classifier.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("classifier endpoint %q is not an http(s) URL", c.Classifier.Endpoint)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be positive, got %d", c.Upload.MaxBytes)
	}
	// A file right at the limit has to fit through the websocket as base64
	if need := MinMessageBytes(c.Upload.MaxBytes); c.Server.MaxMessageBytes < need {
		return fmt.Errorf("server max_message_bytes %d cannot carry a %d byte image, need at least %d",
			c.Server.MaxMessageBytes, c.Upload.MaxBytes, need)
	}
	if c.Notices.TTL.Duration <= 0 {
		return fmt.Errorf("notices ttl must be positive")
	}
	if c.Chat.MinDelay.Duration < 0 || c.Chat.MaxDelay.Duration < c.Chat.MinDelay.Duration {
		return fmt.Errorf("chat delay range [%s, %s) is invalid", c.Chat.MinDelay, c.Chat.MaxDelay)
	}
	return nil
}

// MinMessageBytes is the smallest websocket read limit that still carries a
// base64 encoded image of maxBytes plus its JSON envelope
func MinMessageBytes(maxBytes int64) int64 {
	return int64(base64.StdEncoding.EncodedLen(int(maxBytes))) + messageOverhead
}

// GetConfigPath returns the path to the configuration file, or "" when none exists
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("FRESHNESS_CONFIG"); path != "" {
		return path
	}

	candidates := []string{
		filepath.Join("config", "config.json"),
		filepath.Join("config", "config.yaml"),
		"config.json",
		"config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
