package scoring

import (
	"math"

	"github.com/vigilmc/vigil/internal/config"
)

// Smooth applies exponential smoothing of a freshly computed score against
// the previous cycle's score. The single-step change is bounded by half the
// raw delta, at least MinChange, at most MaxChange; changes below MinChange
// are suppressed entirely so the weight vector does not churn on noise.
// With no previous score the new score passes through unchanged.
func Smooth(cfg config.Scoring, newScore int, previous *int) int {
	if previous == nil {
		return newScore
	}
	prev := *previous

	smoothed := int(math.Round(cfg.SmoothAlpha*float64(newScore) + (1-cfg.SmoothAlpha)*float64(prev)))

	maxChange := math.Min(
		float64(cfg.MaxChange),
		math.Max(float64(cfg.MinChange), math.Abs(float64(newScore-prev))*0.5),
	)
	if diff := float64(smoothed - prev); math.Abs(diff) > maxChange {
		if diff > 0 {
			smoothed = prev + int(maxChange)
		} else {
			smoothed = prev - int(maxChange)
		}
	}

	if math.Abs(float64(smoothed-prev)) < float64(cfg.MinChange) {
		return prev
	}

	if smoothed < cfg.MinScore {
		return cfg.MinScore
	}
	if smoothed > cfg.MaxScore {
		return cfg.MaxScore
	}
	return smoothed
}
