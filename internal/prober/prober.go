// Package prober measures how long a fresh HTTPS connection to an
// allow-listed host takes.
//
// A probe validates the requested target against a fixed AllowList, issues a
// HEAD request to https://<target> over a brand-new connection and reports
// whether a 2xx response came back together with the elapsed milliseconds.
// Transport failures are folded into the result as {false, 0}; only a
// rejected target is returned as an error.
//
// Prober holds no mutable state and is safe for concurrent use.
package prober

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"netmonitor/internal/models"
)

// Recorder receives every completed network probe. Calls abandoned because
// the caller's context was canceled are not recorded. Implementations must be
// safe for concurrent use.
type Recorder interface {
	Record(sample models.Sample)
}

// Sample is what a Recorder receives for each network probe.
type Sample = models.Sample

// Options carries the optional collaborators of a Prober.
type Options struct {
	Logger   *slog.Logger
	Recorder Recorder
}

// Prober runs latency probes against allow-listed targets.
type Prober struct {
	client   *http.Client
	allow    *AllowList
	logger   *slog.Logger
	recorder Recorder
}

// New creates a prober around a shared client built with NewClient.
func New(client *http.Client, allow *AllowList, opts Options) *Prober {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		client:   client,
		allow:    allow,
		logger:   logger,
		recorder: opts.Recorder,
	}
}

// AllowList exposes the targets this prober accepts.
func (p *Prober) AllowList() *AllowList {
	return p.allow
}

// Probe validates target and times a HEAD request to it.
func (p *Prober) Probe(ctx context.Context, target string) (models.ProbeResult, error) {
	if !p.allow.Contains(target) {
		p.logger.Warn("probe_target_rejected", "target", target)
		return models.ProbeResult{}, &ValidationError{Target: target}
	}

	result, kind, err := p.roundTrip(ctx, target)
	if err != nil {
		p.logger.Debug("probe_transport_failed", "target", target, "kind", string(kind), "error", err)
	} else {
		p.logger.Debug("probe_completed", "target", target, "success", result.Success, "latency_ms", result.LatencyMs)
	}

	// A canceled caller says nothing about the target's reachability.
	if p.recorder != nil && kind != FailureCanceled {
		p.recorder.Record(models.Sample{
			Target:    target,
			Success:   result.Success,
			LatencyMs: result.LatencyMs,
			Failure:   string(kind),
			CheckedAt: time.Now().UTC(),
		})
	}
	return result, nil
}

func (p *Prober) roundTrip(ctx context.Context, target string) (models.ProbeResult, FailureKind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, targetURL(target), nil)
	if err != nil {
		return models.ProbeResult{}, FailureOther, err
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return models.ProbeResult{}, ClassifyFailure(err), err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return models.ProbeResult{
		Success:   resp.StatusCode >= 200 && resp.StatusCode <= 299,
		LatencyMs: uint64(elapsed / time.Millisecond),
	}, FailureNone, nil
}

func targetURL(target string) string {
	if addr, err := netip.ParseAddr(target); err == nil && addr.Is6() {
		return "https://[" + target + "]"
	}
	return "https://" + target
}
