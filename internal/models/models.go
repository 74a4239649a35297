package models

import (
	"time"
)

// ProbeResult is the record returned to callers of a single probe.
type ProbeResult struct {
	Success   bool   `json:"success"`
	LatencyMs uint64 `json:"latency_ms"`
}

// Sample is a probe outcome kept in the recent-history window.
type Sample struct {
	Target    string    `json:"target"`
	Success   bool      `json:"success"`
	LatencyMs uint64    `json:"latency_ms"`
	Failure   string    `json:"failure,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Result strips the diagnostic fields from a sample.
func (s Sample) Result() ProbeResult {
	return ProbeResult{Success: s.Success, LatencyMs: s.LatencyMs}
}
