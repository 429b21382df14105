// Package httpclient provides a factory for the HTTP clients used by the
// protocol collaborators (indexers, download clients).
package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"time"
)

// Default configuration values
const (
	DefaultTimeout             = 60 * time.Second
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
)

// Config holds HTTP client configuration options.
type Config struct {
	// Timeout is the maximum time for the entire request (default: 60s)
	Timeout time.Duration

	// MaxIdleConnsPerHost controls the maximum idle connections per host (default: 10)
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections stay open (default: 90s)
	IdleConnTimeout time.Duration

	// CookieJar enables a per-client cookie jar for session-based APIs
	// such as qBittorrent's.
	CookieJar bool
}

// New creates a new HTTP client with the given configuration.
// If cfg is nil, default values are used.
func New(cfg *Config) *http.Client {
	if cfg == nil {
		cfg = &Config{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxIdleConns := cfg.MaxIdleConnsPerHost
	if maxIdleConns <= 0 {
		maxIdleConns = DefaultMaxIdleConnsPerHost
	}

	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout <= 0 {
		idleConnTimeout = DefaultIdleConnTimeout
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: maxIdleConns,
			IdleConnTimeout:     idleConnTimeout,
		},
		Timeout: timeout,
	}

	if cfg.CookieJar {
		jar, err := cookiejar.New(nil)
		if err == nil {
			client.Jar = jar
		}
	}
	return client
}

// Default returns an HTTP client with default configuration.
func Default() *http.Client {
	return New(nil)
}

// WithTimeout creates a simple HTTP client with only a timeout configured.
func WithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
