package metrics

import (
	"math"
	"sort"
	"time"

	"netmonitor/internal/models"
)

// DefaultAlertThreshold is the number of consecutive failures that raises an alert.
const DefaultAlertThreshold = 3

// TargetStats summarises the recent probes of one target.
type TargetStats struct {
	Target              string   `json:"target"`
	TotalProbes         int      `json:"total_probes"`
	Passing             int      `json:"passing"`
	Failing             int      `json:"failing"`
	SuccessPercent      float64  `json:"success_percent"`
	MinLatencyMs        *uint64  `json:"min_latency_ms,omitempty"`
	AvgLatencyMs        *float64 `json:"avg_latency_ms,omitempty"`
	MaxLatencyMs        *uint64  `json:"max_latency_ms,omitempty"`
	LastLatencyMs       *uint64  `json:"last_latency_ms,omitempty"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	Alert               bool     `json:"alert"`
	LastChecked         string   `json:"last_checked,omitempty"`
}

// ComputeTargetStats aggregates samples (oldest first) for a single target.
// Latency figures only use successful samples: non-2xx responses and
// transport failures are counted but left out of min/avg/max and last.
func ComputeTargetStats(target string, samples []models.Sample, alertThreshold int) TargetStats {
	if alertThreshold <= 0 {
		alertThreshold = DefaultAlertThreshold
	}
	stats := TargetStats{Target: target, TotalProbes: len(samples)}
	if len(samples) == 0 {
		return stats
	}

	var (
		sum    uint64
		lo, hi uint64
	)
	for _, s := range samples {
		if !s.Success {
			stats.Failing++
			continue
		}
		if stats.Passing == 0 || s.LatencyMs < lo {
			lo = s.LatencyMs
		}
		if stats.Passing == 0 || s.LatencyMs > hi {
			hi = s.LatencyMs
		}
		sum += s.LatencyMs
		stats.Passing++
	}

	stats.SuccessPercent = round2(float64(stats.Passing) / float64(len(samples)) * 100)
	if stats.Passing > 0 {
		avg := round2(float64(sum) / float64(stats.Passing))
		stats.MinLatencyMs = &lo
		stats.MaxLatencyMs = &hi
		stats.AvgLatencyMs = &avg
	}

	for i := len(samples) - 1; i >= 0 && !samples[i].Success; i-- {
		stats.ConsecutiveFailures++
	}
	stats.Alert = stats.ConsecutiveFailures >= alertThreshold

	last := samples[len(samples)-1]
	if last.Success {
		v := last.LatencyMs
		stats.LastLatencyMs = &v
	}
	if !last.CheckedAt.IsZero() {
		stats.LastChecked = last.CheckedAt.UTC().Format(time.RFC3339)
	}
	return stats
}

// ComputeAll aggregates every target in a history snapshot, sorted by target.
func ComputeAll(snapshot map[string][]models.Sample, alertThreshold int) []TargetStats {
	if len(snapshot) == 0 {
		return nil
	}
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]TargetStats, 0, len(keys))
	for _, k := range keys {
		out = append(out, ComputeTargetStats(k, snapshot[k], alertThreshold))
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
