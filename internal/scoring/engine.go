package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/models"
)

// Result is the outcome of one score computation. Faulted marks a score that
// fell back to the neutral default because a sub-computation failed, so
// callers can tell "computed and low" from "failed and defaulted".
type Result struct {
	Score      int
	Raw        float64
	Components models.Components
	Faulted    bool
	Err        error
}

// Engine computes the multi-component reputation score for one entity.
// Component weights are validated at startup; the engine assumes each group
// sums to 1.0.
type Engine struct {
	cfg config.Scoring

	required []string
	bonus    []string
}

// NewEngine creates an engine with the given immutable configuration.
func NewEngine(cfg config.Scoring) *Engine {
	return &Engine{
		cfg:      cfg,
		required: cfg.RequiredTags,
		bonus:    cfg.BonusTags,
	}
}

// Score computes the combined score for a validated report, its history
// window ordered oldest to newest and the normalized player power value.
// A faulted sub-computation yields the neutral default score instead of
// propagating.
func (e *Engine) Score(report models.Report, history []models.Report, power float64) Result {
	infra, infraErr := e.infrastructure(report)
	part, partErr := e.participation(report)
	rely, relyErr := e.reliability(report, history, power)

	if err := firstError(infraErr, partErr, relyErr); err != nil {
		log.Warn().Err(err).Str("server_id", report.ServerID).Msg("Score computation faulted")
		return Result{
			Score:   e.cfg.DefaultScore,
			Faulted: true,
			Err:     err,
		}
	}

	raw := e.cfg.WeightInfrastructure*infra +
		e.cfg.WeightParticipation*part +
		e.cfg.WeightReliability*rely

	return Result{
		Score: e.normalize(raw),
		Raw:   raw,
		Components: models.Components{
			Infrastructure: infra,
			Participation:  part,
			Reliability:    rely,
			RawCombined:    raw,
		},
	}
}

// infrastructure scores tick performance against the ideal rate. Rates below
// the broken threshold keep only a tenth of their value.
func (e *Engine) infrastructure(report models.Report) (float64, error) {
	if e.cfg.IdealTickRate <= 0 {
		return 0, fmt.Errorf("ideal tick rate not positive: %g", e.cfg.IdealTickRate)
	}

	tick := report.Payload.TickRate()
	clamped := clamp(tick, 0, e.cfg.MaxTickRate)

	score := math.Min(1.0, clamped/e.cfg.IdealTickRate)
	if tick < e.cfg.MinTickRate {
		score *= 0.1
	}

	return clamp(e.cfg.WeightInfraTick*score, 0, 1), nil
}

// participation scores capability compliance and player activity.
func (e *Engine) participation(report models.Report) (float64, error) {
	payload := report.Payload

	installed := make(map[string]struct{}, len(payload.Plugins))
	for _, plugin := range payload.Plugins {
		installed[strings.TrimSpace(plugin)] = struct{}{}
	}

	compliance := 0.6
	for _, tag := range e.required {
		if _, ok := installed[tag]; !ok {
			compliance = 0
			break
		}
	}

	if len(e.bonus) > 0 {
		present := 0
		for _, tag := range e.bonus {
			if _, ok := installed[tag]; ok {
				present++
			}
		}
		compliance += math.Min(0.4, float64(present)/float64(len(e.bonus))*0.4)
	}
	compliance = math.Min(1.0, compliance)

	players := 0.0
	count := payload.PlayerCount()
	if count >= e.cfg.MinPlayersForBonus && e.cfg.PlayersSaturation > 0 {
		raw := math.Min(float64(count)/float64(e.cfg.PlayersSaturation), 1.0)
		if payload.MaxPlayers > 0 {
			ratio := float64(count) / float64(payload.MaxPlayers)
			switch {
			case ratio >= e.cfg.OptimalRatioMin && ratio <= e.cfg.OptimalRatioMax:
				raw *= 1.2
			case ratio > e.cfg.NearSaturationRatio:
				raw *= 0.8
			}
		}
		players = math.Min(1.0, raw)
	}

	score := e.cfg.WeightPartCompliance*compliance + e.cfg.WeightPartPlayers*players
	return clamp(score, 0, 1), nil
}

// reliability combines normalized player power with tick stability and
// recovery behavior over the history window. With too little history it
// falls back to a conservative uptime-based estimate.
func (e *Engine) reliability(report models.Report, history []models.Report, power float64) (float64, error) {
	if len(history) < e.cfg.MinHistoryForRely {
		if e.cfg.UptimeBonusHours <= 0 {
			return 0, fmt.Errorf("uptime bonus hours not positive: %g", e.cfg.UptimeBonusHours)
		}
		hours := report.Payload.SystemInfo.UptimeHours()
		return math.Min(hours/(e.cfg.UptimeBonusHours/2), 1.0) * 0.5, nil
	}

	stability := e.stability(history)
	recovery := e.recovery(history)

	score := e.cfg.WeightRelyPlayerPower*clamp(power, 0, 1) +
		e.cfg.WeightRelyStability*stability +
		e.cfg.WeightRelyRecovery*recovery

	return clamp(score, 0, 1), nil
}

// stability maps the coefficient of variation of recent tick rates onto
// [0, 1]. Too few samples yield the neutral 0.5, too few valid samples the
// pessimistic 0.1.
func (e *Engine) stability(history []models.Report) float64 {
	if len(history) < e.cfg.StabilityWindow {
		return 0.5
	}

	recent := history[len(history)-e.cfg.StabilityWindow:]
	valid := make([]float64, 0, len(recent))
	for _, report := range recent {
		tick := report.Payload.TickRate()
		if tick >= e.cfg.MinTickRate && tick <= e.cfg.MaxTickRate {
			valid = append(valid, tick)
		}
	}
	if len(valid) < 3 {
		return 0.1
	}

	mean := meanOf(valid)
	if mean <= 0 {
		return 0
	}

	cv := stdevOf(valid, mean) / mean
	stability := math.Max(0, 1.0-cv/e.cfg.MaxVariation)
	if mean >= e.cfg.IdealTickRate*0.9 {
		stability = math.Min(1.0, stability*1.1)
	}
	return stability
}

// recovery penalizes tick dips that never resolved or resolved slowly. Each
// dip multiplies the running score downward, never upward.
func (e *Engine) recovery(history []models.Report) float64 {
	if len(history) < 10 {
		return 1.0
	}

	recent := history
	if len(recent) > 30 {
		recent = recent[len(recent)-30:]
	}

	score := 1.0
	for i, report := range recent {
		if report.Payload.TickRate() >= e.cfg.RecoveryTick {
			continue
		}
		minutes, recovered := e.recoveryTime(recent[i:])
		switch {
		case !recovered:
			score *= 0.5
		case minutes > e.cfg.MaxRecoveryTime.Minutes():
			score *= 0.7
		default:
			score *= 1.0 - (minutes/e.cfg.MaxRecoveryTime.Minutes())*0.3
		}
	}

	return clamp(score, 0, 1)
}

// recoveryTime measures the minutes until a run of consecutive good samples
// follows the dip at the head of the slice. Returns false when the run never
// completes within the available samples.
func (e *Engine) recoveryTime(afterDip []models.Report) (float64, bool) {
	if len(afterDip) < e.cfg.RecoverySamples {
		return 0, false
	}

	good := 0
	start := afterDip[0].ClientTimestampMS
	for _, report := range afterDip[1:] {
		if report.Payload.TickRate() >= e.cfg.RecoveryTick {
			good++
			if good >= e.cfg.RecoverySamples {
				return float64(report.ClientTimestampMS-start) / 60_000, true
			}
		} else {
			good = 0
		}
	}
	return 0, false
}

// normalize maps a raw [0, 1] score onto the integer output range.
func (e *Engine) normalize(raw float64) int {
	clamped := clamp(raw, 0, 1)
	span := e.cfg.MaxScore - e.cfg.MinScore
	score := e.cfg.MinScore + int(math.Round(float64(span)*clamped))

	if score < e.cfg.MinScore {
		return e.cfg.MinScore
	}
	if score > e.cfg.MaxScore {
		return e.cfg.MaxScore
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
