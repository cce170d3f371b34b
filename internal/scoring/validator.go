package scoring

import (
	"time"

	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/models"
)

// ZeroReason is the machine-readable justification attached when a score is
// forced to zero.
type ZeroReason string

const (
	ReasonScanMissing  ZeroReason = "scan_missing"
	ReasonScanOffline  ZeroReason = "scan_offline"
	ReasonNoReports    ZeroReason = "no_reports"
	ReasonReportsStale ZeroReason = "reports_stale"
	ReasonCapacity     ZeroReason = "capacity_mismatch"
	ReasonPlayerCount  ZeroReason = "player_count_mismatch"
)

// Decision is the validator verdict for one entity in one cycle. Exactly one
// of three outcomes holds: Skip (insufficient data, entity omitted), Zero
// (score forced to zero with a reason), or pass (Report and History set).
type Decision struct {
	Skip   bool
	Zero   bool
	Reason ZeroReason

	// Scan context captured for vote evidence on mismatch decisions.
	ScanPlayers    *int
	ScanMaxPlayers *int

	Report  *models.Report
	History []models.Report
}

// Validator gates an entity's self-reports against the independent scan.
type Validator struct {
	cfg config.Scoring
	now func() time.Time
}

// NewValidator creates a validator with the given tolerances.
func NewValidator(cfg config.Scoring) *Validator {
	return &Validator{cfg: cfg, now: time.Now}
}

// Validate applies the anti-spoof checks in fixed order; the first match
// wins. scan is nil when the entity was never observed this cycle, reports
// are ordered newest first, hadScore tells whether a previous non-zero score
// exists for the entity.
func (v *Validator) Validate(scan *models.ScanResult, reports []models.Report, hadScore bool) Decision {
	if scan == nil {
		return Decision{Zero: true, Reason: ReasonScanMissing}
	}
	if !scan.Online {
		return Decision{Zero: true, Reason: ReasonScanOffline}
	}

	if len(reports) == 0 {
		// Only entities with an established score are downgraded. A brand-new
		// entity without reports is simply not scored yet.
		if hadScore {
			return Decision{Zero: true, Reason: ReasonNoReports}
		}
		return Decision{Skip: true}
	}

	now := v.now()
	fresh := make([]models.Report, 0, len(reports))
	for _, report := range reports {
		if report.Age(now) <= v.cfg.Freshness {
			fresh = append(fresh, report)
		}
	}
	if len(fresh) == 0 {
		return Decision{Zero: true, Reason: ReasonReportsStale}
	}

	latest := fresh[0]

	if scan.MaxPlayers != nil {
		diff := latest.Payload.MaxPlayers - *scan.MaxPlayers
		if diff < 0 {
			diff = -diff
		}
		if diff > v.cfg.CapacityTolerance {
			return Decision{
				Zero:           true,
				Reason:         ReasonCapacity,
				ScanPlayers:    scan.Players,
				ScanMaxPlayers: scan.MaxPlayers,
			}
		}
	}

	if scan.Players != nil && latest.Payload.PlayerCount() > *scan.Players+v.cfg.PlayerTolerance {
		return Decision{
			Zero:           true,
			Reason:         ReasonPlayerCount,
			ScanPlayers:    scan.Players,
			ScanMaxPlayers: scan.MaxPlayers,
		}
	}

	return Decision{
		Report:         &latest,
		History:        fresh,
		ScanPlayers:    scan.Players,
		ScanMaxPlayers: scan.MaxPlayers,
	}
}
