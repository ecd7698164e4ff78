// Package config holds scraper configuration.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-syzbot/logging"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL     string
	Release     Release
	OutputDir   string
	LogLevel    string
	Interval    time.Duration
	Timeout     time.Duration
	MaxBodySize int
	UserAgent   string
	MetricsAddr string
	Mirror      string // s3://bucket/prefix or gs://bucket/prefix

	// Static S3 credentials. Empty means the default AWS chain.
	MirrorAccessKeyID     string
	MirrorSecretAccessKey string
}

// DefaultConfig returns the defaults for the public syzbot dashboard.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://syzkaller.appspot.com",
		Release:     ReleaseUpstream,
		OutputDir:   "output",
		LogLevel:    "INFO",
		Interval:    2 * time.Second,
		Timeout:     10 * time.Second,
		MaxBodySize: 0,
		UserAgent:   "go-scrape-syzbot/1.0 (+https://github.com/aluiziolira/go-scrape-syzbot)",
		MetricsAddr: "",
		Mirror:      "",
	}
}

// Origin is the base URL without a trailing slash.
func (c *Config) Origin() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// ListingURL is the release listing page.
func (c *Config) ListingURL() string {
	return c.Origin() + c.Release.Path()
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if _, err := ParseRelease(string(c.Release)); err != nil {
		return err
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max body size cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Mirror != "" {
		u, err := url.Parse(c.Mirror)
		if err != nil {
			return fmt.Errorf("invalid mirror URI: %w", err)
		}
		if u.Scheme != "s3" && u.Scheme != "gs" {
			return fmt.Errorf("mirror URI must use s3:// or gs://, got %q", c.Mirror)
		}
		if u.Host == "" {
			return fmt.Errorf("mirror URI must name a bucket")
		}
	}
	if (c.MirrorAccessKeyID == "") != (c.MirrorSecretAccessKey == "") {
		return fmt.Errorf("mirror access key id and secret must be set together")
	}

	return nil
}
