package prober_test

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"netmonitor/internal/models"
	"netmonitor/internal/prober"
	"netmonitor/internal/prober/probertest"
)

func newTLSServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(h)
	// Offer h2 so a client that asked for it would get it.
	srv.EnableHTTP2 = true
	srv.TLS = &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func hangUntilClosed(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}

func newProber(n *probertest.Network, timeout time.Duration, rec prober.Recorder) *prober.Prober {
	client := prober.NewClient(n.Policy(timeout))
	return prober.New(client, prober.DefaultAllowList(), prober.Options{Recorder: rec})
}

func TestProbeRejectsUnlistedTarget(t *testing.T) {
	cases := []string{
		"example.com",
		"WWW.GOOGLE.COM",
		"https://8.8.8.8",
		"8.8.8.8/",
		"8.8.8.8:443",
		" 1.1.1.1",
		"",
	}

	network := probertest.NewNetwork()
	rec := &probertest.Recorder{}
	p := newProber(network, time.Second, rec)

	for _, target := range cases {
		t.Run(target, func(t *testing.T) {
			res, err := p.Probe(context.Background(), target)
			if err == nil {
				t.Fatalf("expected validation error, got result %+v", res)
			}
			var vErr *prober.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error %T is not a ValidationError", err)
			}
			if vErr.Target != target {
				t.Errorf("ValidationError.Target = %q, want %q", vErr.Target, target)
			}
			if !errors.Is(err, prober.ErrTargetNotAllowed) {
				t.Errorf("errors.Is(err, ErrTargetNotAllowed) = false")
			}
			if !strings.Contains(err.Error(), "'"+target+"'") {
				t.Errorf("error %q does not mention %q", err.Error(), target)
			}
		})
	}

	if got := network.Dials(); got != 0 {
		t.Errorf("rejected targets dialed %d time(s), want 0", got)
	}
	if got := len(rec.Samples()); got != 0 {
		t.Errorf("rejected targets recorded %d sample(s), want 0", got)
	}
}

func TestProbeSuccess(t *testing.T) {
	var (
		method atomic.Value
		proto  atomic.Int32
	)
	srv := newTLSServer(t, func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		proto.Store(int32(r.ProtoMajor))
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	})

	network := probertest.NewNetwork()
	network.RouteServer("8.8.8.8", srv)
	rec := &probertest.Recorder{}
	p := newProber(network, 2*time.Second, rec)

	res, err := p.Probe(context.Background(), "8.8.8.8")
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, want true")
	}
	if res.LatencyMs < 10 || res.LatencyMs >= 2000 {
		t.Errorf("LatencyMs = %d, want within [10, 2000)", res.LatencyMs)
	}
	if got := method.Load(); got != http.MethodHead {
		t.Errorf("server saw method %v, want HEAD", got)
	}
	if got := proto.Load(); got != 1 {
		t.Errorf("server saw HTTP/%d, want HTTP/1.x", got)
	}

	samples := rec.Samples()
	if len(samples) != 1 {
		t.Fatalf("recorded %d samples, want 1", len(samples))
	}
	if samples[0].Target != "8.8.8.8" || samples[0].Failure != "" || samples[0].Result() != res {
		t.Errorf("unexpected sample %+v for result %+v", samples[0], res)
	}
}

func TestProbeNon2xxKeepsLatency(t *testing.T) {
	cases := []struct {
		name   string
		target string
		status int
	}{
		{"service unavailable", "1.1.1.1", http.StatusServiceUnavailable},
		{"not found", "9.9.9.9", http.StatusNotFound},
		{"redirect is not followed", "www.cloudflare.com", http.StatusFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTLSServer(t, func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(5 * time.Millisecond)
				if tc.status == http.StatusFound {
					w.Header().Set("Location", "https://elsewhere.invalid/")
				}
				w.WriteHeader(tc.status)
			})
			network := probertest.NewNetwork()
			network.RouteServer(tc.target, srv)
			p := newProber(network, 2*time.Second, nil)

			res, err := p.Probe(context.Background(), tc.target)
			if err != nil {
				t.Fatalf("Probe error: %v", err)
			}
			if res.Success {
				t.Errorf("Success = true for status %d", tc.status)
			}
			if res.LatencyMs < 5 {
				t.Errorf("LatencyMs = %d, want measured latency >= 5", res.LatencyMs)
			}
			if got := network.Dials(); got != 1 {
				t.Errorf("dials = %d, want 1", got)
			}
		})
	}
}

func TestProbeTimeoutReportsZeroLatency(t *testing.T) {
	srv := newTLSServer(t, hangUntilClosed)
	network := probertest.NewNetwork()
	network.RouteServer("www.google.com", srv)
	rec := &probertest.Recorder{}

	const timeout = 300 * time.Millisecond
	p := newProber(network, timeout, rec)

	start := time.Now()
	res, err := p.Probe(context.Background(), "www.google.com")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if res != (models.ProbeResult{}) {
		t.Errorf("result = %+v, want {false 0}", res)
	}
	if elapsed < timeout-50*time.Millisecond {
		t.Errorf("returned after %v, earlier than timeout %v", elapsed, timeout)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("returned after %v, far past timeout %v", elapsed, timeout)
	}

	samples := rec.Samples()
	if len(samples) != 1 || samples[0].Failure != string(prober.FailureTimeout) {
		t.Errorf("samples = %+v, want one timeout sample", samples)
	}
}

func TestProbeTransportFailures(t *testing.T) {
	untrusted := newTLSServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		name   string
		target string
		policy func(n *probertest.Network) prober.ConnectionPolicy
		want   prober.FailureKind
	}{
		{
			name:   "connection refused",
			target: "9.9.9.9",
			policy: func(n *probertest.Network) prober.ConnectionPolicy { return n.Policy(time.Second) },
			want:   prober.FailureRefused,
		},
		{
			name:   "certificate not trusted",
			target: "208.67.222.222",
			policy: func(n *probertest.Network) prober.ConnectionPolicy {
				n.RouteServer("208.67.222.222", untrusted)
				p := n.Policy(time.Second)
				p.TLSClientConfig = nil
				return p
			},
			want: prober.FailureTLS,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			network := probertest.NewNetwork()
			rec := &probertest.Recorder{}
			client := prober.NewClient(tc.policy(network))
			p := prober.New(client, prober.DefaultAllowList(), prober.Options{Recorder: rec})

			res, err := p.Probe(context.Background(), tc.target)
			if err != nil {
				t.Fatalf("transport failure surfaced as error: %v", err)
			}
			if res.Success || res.LatencyMs != 0 {
				t.Errorf("result = %+v, want {false 0}", res)
			}
			samples := rec.Samples()
			if len(samples) != 1 {
				t.Fatalf("recorded %d samples, want 1", len(samples))
			}
			if got := prober.FailureKind(samples[0].Failure); got != tc.want {
				t.Errorf("failure kind = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCanceledContextIsNotRecorded(t *testing.T) {
	srv := newTLSServer(t, hangUntilClosed)

	cases := []struct {
		name   string
		cancel func(cancel context.CancelFunc)
	}{
		{"canceled before the request", func(cancel context.CancelFunc) { cancel() }},
		{"canceled mid request", func(cancel context.CancelFunc) {
			time.AfterFunc(50*time.Millisecond, cancel)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			network := probertest.NewNetwork()
			network.RouteServer("1.1.1.1", srv)
			rec := &probertest.Recorder{}
			p := newProber(network, 2*time.Second, rec)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			tc.cancel(cancel)

			res, err := p.Probe(ctx, "1.1.1.1")
			if err != nil {
				t.Fatalf("Probe error: %v", err)
			}
			if res != (models.ProbeResult{}) {
				t.Errorf("result = %+v, want {false 0}", res)
			}
			if samples := rec.Samples(); len(samples) != 0 {
				t.Errorf("samples = %+v, want none for a canceled caller", samples)
			}
		})
	}
}

func TestProbeOpensFreshConnectionEachCall(t *testing.T) {
	var newConns atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			newConns.Add(1)
		}
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	network := probertest.NewNetwork()
	network.RouteServer("www.cloudflare.com", srv)
	p := newProber(network, 2*time.Second, nil)

	const calls = 3
	for i := 0; i < calls; i++ {
		res, err := p.Probe(context.Background(), "www.cloudflare.com")
		if err != nil {
			t.Fatalf("Probe %d error: %v", i, err)
		}
		if !res.Success {
			t.Fatalf("Probe %d failed: %+v", i, res)
		}
	}

	if got := network.Dials(); got != calls {
		t.Errorf("client dialed %d time(s), want %d", got, calls)
	}
	if got := newConns.Load(); got != calls {
		t.Errorf("server accepted %d connection(s), want %d", got, calls)
	}
}

func TestProbeAllIndependent(t *testing.T) {
	fast := newTLSServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	slow := newTLSServer(t, hangUntilClosed)

	network := probertest.NewNetwork()
	network.RouteServer("8.8.8.8", fast)
	network.RouteServer("www.google.com", fast)
	network.RouteServer("1.1.1.1", slow)

	const timeout = 500 * time.Millisecond
	p := newProber(network, timeout, nil)

	targets := []string{"8.8.8.8", "1.1.1.1", "www.google.com", "example.com"}
	start := time.Now()
	outcomes := p.ProbeAll(context.Background(), targets)
	elapsed := time.Since(start)

	if len(outcomes) != len(targets) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(targets))
	}
	for i, o := range outcomes {
		if o.Target != targets[i] {
			t.Errorf("outcome %d target = %q, want %q", i, o.Target, targets[i])
		}
	}

	for _, i := range []int{0, 2} {
		o := outcomes[i]
		if o.Err != nil || !o.Result.Success {
			t.Errorf("%s: outcome %+v, want success", o.Target, o)
		}
		if o.Result.LatencyMs >= uint64(timeout/time.Millisecond) {
			t.Errorf("%s: latency %dms was held up by the slow target", o.Target, o.Result.LatencyMs)
		}
	}
	if o := outcomes[1]; o.Err != nil || o.Result != (models.ProbeResult{}) {
		t.Errorf("slow target outcome %+v, want {false 0} without error", o)
	}
	if o := outcomes[3]; !errors.Is(o.Err, prober.ErrTargetNotAllowed) {
		t.Errorf("unlisted target error = %v, want ErrTargetNotAllowed", o.Err)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("fan-out took %v, want about %v", elapsed, timeout)
	}
}

func TestRepeatedCallsKeepResultShape(t *testing.T) {
	srv := newTLSServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	network := probertest.NewNetwork()
	network.RouteServer("9.9.9.9", srv)
	rec := &probertest.Recorder{}

	const timeout = time.Second
	p := newProber(network, timeout, rec)

	const calls = 5
	results := make([]models.ProbeResult, 0, calls)
	for i := 0; i < calls; i++ {
		res, err := p.Probe(context.Background(), "9.9.9.9")
		if err != nil {
			t.Fatalf("call %d error: %v", i, err)
		}
		if !res.Success {
			t.Errorf("call %d: Success = false", i)
		}
		if res.LatencyMs < 5 || res.LatencyMs >= uint64(timeout/time.Millisecond) {
			t.Errorf("call %d: LatencyMs = %d, want within [5, %d)", i, res.LatencyMs, timeout/time.Millisecond)
		}
		if got := network.Dials(); got != int64(i+1) {
			t.Errorf("call %d: dials = %d, want %d", i, got, i+1)
		}
		results = append(results, res)
	}

	samples := rec.Samples()
	if len(samples) != calls {
		t.Fatalf("recorded %d samples, want %d", len(samples), calls)
	}
	for i, s := range samples {
		if s.Target != "9.9.9.9" || s.Failure != "" || s.Result() != results[i] {
			t.Errorf("sample %d = %+v, want result %+v", i, s, results[i])
		}
		if s.CheckedAt.IsZero() {
			t.Errorf("sample %d has no timestamp", i)
		}
	}
}
