package pool

import (
	"net"
	"net/http"
	"time"
)

func newTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout:   10 * time.Second,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewScrapeClient returns a client for page and API requests. Individual
// requests still carry their own deadline through the context.
func NewScrapeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: newTransport(timeout),
		Timeout:   timeout,
	}
}

// NewStreamClient returns a client for long media transfers: no overall
// timeout, and compression disabled so byte counts match Content-Length
func NewStreamClient(headerTimeout time.Duration) *http.Client {
	t := newTransport(headerTimeout)
	t.DisableCompression = true
	return &http.Client{Transport: t}
}
