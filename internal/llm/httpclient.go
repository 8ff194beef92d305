package llm

import (
	"net"
	"net/http"
	"time"
)

// defaultHTTPTimeout bounds a single provider call when no context deadline
// is set. Structured generation of a full exercise is slow.
const defaultHTTPTimeout = 180 * time.Second

// newLLMHTTPClient creates an HTTP client tuned for long, non-streaming
// completion calls
func newLLMHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		MaxConnsPerHost:     10,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
