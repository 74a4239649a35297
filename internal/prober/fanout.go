package prober

import (
	"context"
	"sync"

	"netmonitor/internal/models"
)

// Outcome pairs a target with the result or rejection of its probe.
type Outcome struct {
	Target string             `json:"target"`
	Result models.ProbeResult `json:"result"`
	Err    error              `json:"-"`
}

// ProbeAll probes every target concurrently and returns outcomes in input order.
// A slow or failing target never delays the result slot of another.
func (p *Prober) ProbeAll(ctx context.Context, targets []string) []Outcome {
	out := make([]Outcome, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			res, err := p.Probe(ctx, target)
			out[i] = Outcome{Target: target, Result: res, Err: err}
		}(i, target)
	}
	wg.Wait()
	return out
}
