package prober

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a whole probe, from dial to response headers.
const DefaultTimeout = 5 * time.Second

// ConnectionPolicy describes how the shared probe client talks to targets.
// Every field exists so a probe pays the full DNS + TCP + TLS + HTTP cost;
// the policy is built once at startup and never changed afterwards.
type ConnectionPolicy struct {
	Timeout             time.Duration
	HTTP1Only           bool
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TCPKeepAlive        bool

	// DialContext replaces the TCP dialer. Used by tests to route allow-listed
	// hosts to local endpoints.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
	// TLSClientConfig overrides the TLS settings of the transport.
	TLSClientConfig *tls.Config
}

// DefaultPolicy returns the fixed probe policy: HTTP/1.1 only, no pooling,
// no keep-alive and a 5 second request timeout.
func DefaultPolicy() ConnectionPolicy {
	return ConnectionPolicy{
		Timeout:             DefaultTimeout,
		HTTP1Only:           true,
		MaxIdleConnsPerHost: 0,
		IdleConnTimeout:     0,
		TCPKeepAlive:        false,
	}
}

// NewClient builds the single HTTP client shared by all probes.
func NewClient(p ConnectionPolicy) *http.Client {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	if !p.TCPKeepAlive {
		dialer.KeepAlive = -1
	}
	dial := dialer.DialContext
	if p.DialContext != nil {
		dial = p.DialContext
	}

	transport := &http.Transport{
		DialContext:         dial,
		TLSClientConfig:     p.TLSClientConfig,
		TLSHandshakeTimeout: timeout,
		// Zero idle connections per host means nothing may be parked for reuse,
		// which net/http only guarantees with keep-alives switched off.
		DisableKeepAlives:   p.MaxIdleConnsPerHost <= 0,
		MaxIdleConnsPerHost: p.MaxIdleConnsPerHost,
		IdleConnTimeout:     p.IdleConnTimeout,
	}
	if p.HTTP1Only {
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
