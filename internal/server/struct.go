package server

import (
	"time"

	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/geoip"
	"github.com/vigilmc/vigil/internal/mechanism"
	"github.com/vigilmc/vigil/internal/models"
	"github.com/vigilmc/vigil/internal/scanner"
	"github.com/vigilmc/vigil/internal/storage"
	"github.com/vigilmc/vigil/internal/weights"
)

// Tracker exposes one scoring mechanism's cached scores to the status API.
type Tracker interface {
	Name() string
	Snapshot() map[string]models.ScoreCacheEntry
}

// Prober exposes the scanner's cached observations and cycle metrics.
type Prober interface {
	Snapshot() []models.ScanResult
	LastMetrics() scanner.Metrics
}

// CycleSource exposes the validation loop's last run statistics.
type CycleSource interface {
	LastStats() map[string]mechanism.CycleStats
	LastRound() time.Time
}

// WeightSource exposes the weight submission cadence per mechanism.
type WeightSource interface {
	States() map[string]weights.State
}

// VoteReader reads the persisted vote audit trail.
type VoteReader interface {
	RecentVotes(serverID string, limit int) ([]storage.VoteRow, error)
}

// Server holds the dependencies, configuration, and runtime state required
// to serve the status API.
type Server struct {
	// trackers are the scoring mechanisms whose caches the API exposes.
	trackers []Tracker

	// scan provides the latest cross-validation observations.
	scan Prober

	// cycles provides the validation loop's last run statistics.
	// It can be nil before the first cycle wiring.
	cycles CycleSource

	// weights provides the weight submission cadence per mechanism.
	// It can be nil when no submitter is configured.
	weights WeightSource

	// votes reads the persisted vote audit trail. Can be nil when the
	// database is unavailable.
	votes VoteReader

	// geoip provides functionality for resolving scan addresses to country
	// codes. It can be nil if the GeoIP database is not initialized.
	geoip *geoip.Provider

	// scoring holds the active scoring parameters, summarized on the
	// status endpoint.
	scoring config.Scoring

	// authToken is the secret token required to access the API endpoints.
	authToken string

	// maxBody specifies the maximum allowed size (in bytes) for incoming
	// HTTP request bodies.
	maxBody int64

	// hardLimitCount is the maximum number of requests allowed per IP
	// address within the hardLimitWin duration.
	hardLimitCount int

	// hardLimitWin is the time window duration for the hard rate limiter.
	hardLimitWin time.Duration

	// trustProxy indicates whether the server should trust headers like
	// X-Forwarded-For when determining the client's real IP address.
	trustProxy bool
}
