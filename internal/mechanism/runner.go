package mechanism

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilmc/vigil/internal/weights"
)

// Mechanism is one scoring track driven by the runner.
type Mechanism interface {
	Name() string
	RunCycle(ctx context.Context) CycleStats
	DenseWeights() []float64
}

// Runner drives every mechanism on a shared cadence and offers each
// mechanism's weight vector to the submission manager after its cycle.
type Runner struct {
	mechanisms []Mechanism
	manager    *weights.Manager
	interval   time.Duration
	minAllowed int
	quantile   float64

	mu        sync.Mutex
	lastStats map[string]CycleStats
	lastRound time.Time
}

// NewRunner creates a runner. interval is the pause between cycles.
func NewRunner(mechanisms []Mechanism, manager *weights.Manager, interval time.Duration, minAllowed int, quantile float64) *Runner {
	return &Runner{
		mechanisms: mechanisms,
		manager:    manager,
		interval:   interval,
		minAllowed: minAllowed,
		quantile:   quantile,
		lastStats:  make(map[string]CycleStats),
	}
}

// Run loops until the context is done. A cycle always runs to completion;
// cancellation takes effect between cycles and through the per-call timeouts
// inside them.
func (r *Runner) Run(ctx context.Context) {
	log.Info().Int("mechanisms", len(r.mechanisms)).Msg("Validation loop started")

	for {
		for _, m := range r.mechanisms {
			r.runOnce(ctx, m)
		}
		r.mu.Lock()
		r.lastRound = time.Now()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			log.Info().Msg("Validation loop stopped")
			return
		case <-time.After(r.interval):
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, m Mechanism) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("mechanism", m.Name()).Msg("Cycle panicked")
		}
	}()

	stats := m.RunCycle(ctx)

	r.mu.Lock()
	r.lastStats[m.Name()] = stats
	r.mu.Unlock()

	if r.manager != nil {
		vector := weights.Derive(m.DenseWeights(), r.minAllowed, r.quantile)
		r.manager.Offer(ctx, m.Name(), vector)
	}
}

// LastStats returns the most recent cycle stats per mechanism.
func (r *Runner) LastStats() map[string]CycleStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]CycleStats, len(r.lastStats))
	for name, stats := range r.lastStats {
		out[name] = stats
	}
	return out
}

// LastRound returns when the last full round of cycles completed.
func (r *Runner) LastRound() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRound
}
