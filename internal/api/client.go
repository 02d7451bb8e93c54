// Package api provides the shared HTTP client and JSON/form helpers used by
// the captcha providers and the Telegram client.
//
// All outbound calls reuse one pooled transport so that repeated solver
// polls and Telegram long polls keep their connections alive.
package api

import (
	"net/http"
	"sync"
	"time"
)

var (
	mu           sync.RWMutex
	sharedClient = NewHTTPClient(30 * time.Second)
)

// GetHTTPClient returns the shared HTTP client instance.
func GetHTTPClient() *http.Client {
	mu.RLock()
	defer mu.RUnlock()
	return sharedClient
}

// SetHTTPClient replaces the shared client. Used at startup to apply the
// configured timeout, and by tests.
func SetHTTPClient(client *http.Client) {
	mu.Lock()
	defer mu.Unlock()
	sharedClient = client
}

// NewHTTPClient creates a new HTTP client with connection pooling.
//
// Connection pool configuration:
//   - MaxIdleConns: 100 across all hosts
//   - MaxIdleConnsPerHost: 10, solver and Telegram hosts share the pool
//   - IdleConnTimeout: 90 seconds
//
// Parameters:
//   - timeout: Maximum time for a complete request (including reading response)
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}
