package ml

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/franckalain/freshness/internal/config"
)

// RemoteConfig holds configuration for the remote classifier
type RemoteConfig struct {
	Endpoint   string        // full URL of the predict route
	HealthPath string        // resolved against Endpoint
	Timeout    time.Duration // zero leaves the transport default
}

// RemoteConfigFrom extracts the classifier section of the application config
func RemoteConfigFrom(cfg *config.Config) RemoteConfig {
	return RemoteConfig{
		Endpoint:   cfg.Classifier.Endpoint,
		HealthPath: cfg.Classifier.HealthPath,
		Timeout:    cfg.Classifier.Timeout.Duration,
	}
}

// Load fills unset values from the environment and the defaults
func (c *RemoteConfig) Load() error {
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("FRESHNESS_CLASSIFIER_ENDPOINT")
	}
	if c.Endpoint == "" {
		c.Endpoint = config.DefaultEndpoint
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid classifier endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid classifier endpoint %q: scheme must be http or https", c.Endpoint)
	}
	return nil
}

// HealthURL returns the classifier's health route
func (c *RemoteConfig) HealthURL() (string, error) {
	base, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid classifier endpoint: %w", err)
	}
	ref, err := url.Parse(c.HealthPath)
	if err != nil {
		return "", fmt.Errorf("invalid health path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
