// Package probertest routes allow-listed hosts to local endpoints so probes
// can be exercised without touching the real network.
package probertest

import (
	"context"
	"crypto/tls"
	"net"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"netmonitor/internal/prober"
)

// Network is a fake resolver plus dialer. Hosts without a route refuse connections.
type Network struct {
	mu     sync.RWMutex
	routes map[string]string
	dials  atomic.Int64
}

// NewNetwork returns a Network with no routes.
func NewNetwork() *Network {
	return &Network{routes: make(map[string]string)}
}

// Route sends connections for host to addr ("ip:port").
func (n *Network) Route(host, addr string) {
	n.mu.Lock()
	n.routes[host] = addr
	n.mu.Unlock()
}

// RouteServer sends connections for host to srv.
func (n *Network) RouteServer(host string, srv *httptest.Server) {
	n.Route(host, srv.Listener.Addr().String())
}

// Dials reports how many connections were attempted.
func (n *Network) Dials() int64 {
	return n.dials.Load()
}

// DialContext implements the dial hook of prober.ConnectionPolicy.
func (n *Network) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	n.dials.Add(1)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	n.mu.RLock()
	target, ok := n.routes[host]
	n.mu.RUnlock()
	if !ok {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	var d net.Dialer
	return d.DialContext(ctx, network, target)
}

// Policy returns the default probe policy wired to this network, trusting any
// certificate and bounded by timeout.
func (n *Network) Policy(timeout time.Duration) prober.ConnectionPolicy {
	p := prober.DefaultPolicy()
	p.Timeout = timeout
	p.DialContext = n.DialContext
	p.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local test endpoints
	return p
}

// Recorder collects samples handed to a prober.
type Recorder struct {
	mu      sync.Mutex
	samples []prober.Sample
}

// Record implements prober.Recorder.
func (r *Recorder) Record(s prober.Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

// Samples returns a copy of everything recorded so far.
func (r *Recorder) Samples() []prober.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]prober.Sample, len(r.samples))
	copy(out, r.samples)
	return out
}
