package history

import (
	"sync"
	"time"

	"netmonitor/internal/models"
)

// DefaultSize is how many samples are kept per target.
const DefaultSize = 200

// Window keeps the most recent probe samples per target in memory.
// It implements prober.Recorder.
type Window struct {
	size int

	mu      sync.RWMutex
	samples map[string][]models.Sample
}

// NewWindow creates a window holding up to size samples per target.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{
		size:    size,
		samples: make(map[string][]models.Sample),
	}
}

// Size returns the per-target capacity.
func (w *Window) Size() int {
	return w.size
}

// Record appends a sample, evicting the oldest once the target is at capacity.
func (w *Window) Record(s models.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	history := append(w.samples[s.Target], s)
	if len(history) > w.size {
		history = history[len(history)-w.size:]
	}
	w.samples[s.Target] = history
}

// History returns up to limit of the newest samples for target, oldest first.
// A non-positive limit returns everything.
func (w *Window) History(target string, limit int) []models.Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	history := w.samples[target]
	if len(history) == 0 {
		return nil
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]models.Sample, len(history))
	copy(out, history)
	return out
}

// HistorySince returns up to limit of the newest samples for target whose
// timestamp is at or after cutoff, oldest first. A zero cutoff matches every
// sample and a non-positive limit returns every match.
//
// Samples are filtered one by one: timestamps are taken by the caller before
// Record, so concurrent writers can append them slightly out of order.
func (w *Window) HistorySince(target string, cutoff time.Time, limit int) []models.Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []models.Sample
	for _, s := range w.samples[target] {
		if s.CheckedAt.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Snapshot copies every target's samples.
func (w *Window) Snapshot() map[string][]models.Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string][]models.Sample, len(w.samples))
	for k, v := range w.samples {
		cp := make([]models.Sample, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
