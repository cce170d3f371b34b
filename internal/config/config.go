// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/vigilmc/vigil/internal/logger"
	"github.com/vigilmc/vigil/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	Server    Server        `group:"Server Options" env-namespace:"VIGIL"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"VIGIL_DB"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"VIGIL_GEOIP"`
	Collector Collector     `group:"Collector Options" namespace:"collector" env-namespace:"VIGIL_COLLECTOR"`
	Scanner   Scanner       `group:"Scanner Options" namespace:"scanner" env-namespace:"VIGIL_SCANNER"`
	Scoring   Scoring       `group:"Scoring Options" namespace:"scoring" env-namespace:"VIGIL_SCORING"`
	Weights   Weights       `group:"Weights Options" namespace:"weights" env-namespace:"VIGIL_WEIGHTS"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"VIGIL_RATE_LIMIT"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"VIGIL_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds status API server configuration.
type Server struct {
	Address     string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Status API listen address" default:":8080"`
	AuthToken   string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Status API authentication token"`
	TrustProxy  bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
	MaxBodySize int64  `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming requests" default:"512"`
}

// Storage holds database configuration.
type Storage struct {
	Path string `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"vigil.db"`

	// Retention is how long persisted scores outlive their last update before
	// the maintenance sweep removes them.
	Retention time.Duration `long:"retention" env:"RETENTION" description:"Drop persisted scores not updated within this duration" default:"168h"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file" default:"vigil.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// Collector holds configuration for the report/catalog collector service client.
type Collector struct {
	URL          string        `short:"c" long:"url" env:"URL" description:"Collector service base URL"`
	APIKey       string        `long:"api-key" env:"API_KEY" description:"Collector API bearer token"`
	Timeout      time.Duration `long:"timeout" env:"TIMEOUT" description:"Collector request timeout" default:"10s"`
	ReportsLimit int           `long:"reports-limit" env:"REPORTS_LIMIT" description:"Max reports fetched per entity" default:"25"`

	// MappingsInterval throttles mapping refreshes; the upstream ids endpoint
	// allows 5 requests per minute.
	MappingsInterval time.Duration `long:"mappings-interval" env:"MAPPINGS_INTERVAL" description:"Minimum interval between mapping refreshes" default:"12500ms"`
}

// Scanner holds cross-validation scanner configuration.
type Scanner struct {
	Timeout  time.Duration `long:"timeout" env:"TIMEOUT" description:"Per-provider probe timeout" default:"3s"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Minimum interval between full catalog scans" default:"60s"`
	Workers  int           `long:"workers" env:"WORKERS" description:"Concurrent probe workers" default:"8"`
}

// Scoring holds every tunable of the reputation scoring engine. The weight
// groups must each sum to 1.0; Parse fails fast otherwise.
type Scoring struct {
	IdealTickRate float64 `long:"ideal-tick-rate" env:"IDEAL_TICK_RATE" description:"Ideal ticks per second" default:"20.0"`
	MinTickRate   float64 `long:"min-tick-rate" env:"MIN_TICK_RATE" description:"Tick rate below which a server counts as broken" default:"5.0"`
	MaxTickRate   float64 `long:"max-tick-rate" env:"MAX_TICK_RATE" description:"Upper clamp for observed tick rate" default:"20.0"`

	WeightInfrastructure float64 `long:"w-infra" env:"W_INFRA" description:"Infrastructure component weight" default:"0.20"`
	WeightParticipation  float64 `long:"w-part" env:"W_PART" description:"Participation component weight" default:"0.20"`
	WeightReliability    float64 `long:"w-rely" env:"W_RELY" description:"Reliability component weight" default:"0.60"`

	WeightInfraTick       float64 `long:"w-infra-tick" env:"W_INFRA_TICK" description:"Tick performance sub-weight" default:"1.0"`
	WeightPartCompliance  float64 `long:"w-part-compliance" env:"W_PART_COMPLIANCE" description:"Compliance sub-weight" default:"0.8571428571428571"`
	WeightPartPlayers     float64 `long:"w-part-players" env:"W_PART_PLAYERS" description:"Players sub-weight" default:"0.14285714285714285"`
	WeightRelyPlayerPower float64 `long:"w-rely-player-power" env:"W_RELY_PLAYER_POWER" description:"Player power sub-weight" default:"0.90"`
	WeightRelyStability   float64 `long:"w-rely-stability" env:"W_RELY_STABILITY" description:"Tick stability sub-weight" default:"0.05"`
	WeightRelyRecovery    float64 `long:"w-rely-recovery" env:"W_RELY_RECOVERY" description:"Recovery sub-weight" default:"0.05"`

	MinScore     int     `long:"min-score" env:"MIN_SCORE" description:"Lower bound of the score range" default:"0"`
	MaxScore     int     `long:"max-score" env:"MAX_SCORE" description:"Upper bound of the score range" default:"1000"`
	DefaultScore int     `long:"default-score" env:"DEFAULT_SCORE" description:"Neutral score used when a computation faults" default:"100"`
	SmoothAlpha  float64 `long:"smooth-alpha" env:"SMOOTH_ALPHA" description:"EMA smoothing factor" default:"0.2"`
	MinChange    int     `long:"min-change" env:"MIN_CHANGE" description:"Score changes below this are suppressed" default:"1"`
	MaxChange    int     `long:"max-change" env:"MAX_CHANGE" description:"Hard ceiling on a single-cycle score change" default:"200"`

	RequiredTags []string `long:"required-tag" env:"REQUIRED_TAGS" env-delim:"," description:"Capability tags required for base compliance" default:"VigilAgent" default:"LuckPerms" default:"CraftingStore" default:"PlayerPoints"`
	BonusTags    []string `long:"bonus-tag" env:"BONUS_TAGS" env-delim:"," description:"Capability tags granting the compliance bonus" default:"ViaVersion" default:"ViaBackwards" default:"ViaRewind"`

	MinPlayersForBonus  int     `long:"min-players-for-bonus" env:"MIN_PLAYERS_FOR_BONUS" description:"Minimum active players before the player bonus applies" default:"5"`
	PlayersSaturation   int     `long:"players-saturation" env:"PLAYERS_SATURATION" description:"Player count at which the player bonus saturates" default:"200"`
	OptimalRatioMin     float64 `long:"optimal-ratio-min" env:"OPTIMAL_RATIO_MIN" description:"Lower bound of the optimal occupancy band" default:"0.2"`
	OptimalRatioMax     float64 `long:"optimal-ratio-max" env:"OPTIMAL_RATIO_MAX" description:"Upper bound of the optimal occupancy band" default:"0.8"`
	NearSaturationRatio float64 `long:"near-saturation-ratio" env:"NEAR_SATURATION_RATIO" description:"Occupancy ratio above which the player bonus is penalized" default:"0.95"`

	HistoryLimit      int           `long:"history-limit" env:"HISTORY_LIMIT" description:"Per-entity report history capacity" default:"60"`
	MinHistoryForRely int           `long:"min-history-for-rely" env:"MIN_HISTORY_FOR_RELY" description:"History size below which reliability falls back to uptime" default:"5"`
	UptimeBonusHours  float64       `long:"uptime-bonus-hours" env:"UPTIME_BONUS_HOURS" description:"Uptime hours at which the reliability fallback saturates" default:"72"`
	StabilityWindow   int           `long:"stability-window" env:"STABILITY_WINDOW" description:"Samples used for the tick stability score" default:"20"`
	MaxVariation      float64       `long:"max-variation" env:"MAX_VARIATION" description:"Coefficient of variation mapping to zero stability" default:"0.3"`
	RecoveryTick      float64       `long:"recovery-tick" env:"RECOVERY_TICK" description:"Tick rate below which a dip needs recovery" default:"18.0"`
	RecoverySamples   int           `long:"recovery-samples" env:"RECOVERY_SAMPLES" description:"Consecutive good samples counting as recovered" default:"10"`
	MaxRecoveryTime   time.Duration `long:"max-recovery-time" env:"MAX_RECOVERY_TIME" description:"Recovery time budget after a tick dip" default:"30m"`

	Freshness time.Duration `long:"freshness" env:"FRESHNESS" description:"Reports older than this are stale" default:"6h"`

	// Anti-spoof tolerances. Capacity must match the scan exactly by default
	// and reported players may exceed the scan by at most PlayerTolerance.
	// Asymmetric on purpose; confirm with the product owner before changing.
	CapacityTolerance int `long:"capacity-tolerance" env:"CAPACITY_TOLERANCE" description:"Allowed difference between reported and observed max capacity" default:"0"`
	PlayerTolerance   int `long:"player-tolerance" env:"PLAYER_TOLERANCE" description:"Allowed excess of reported players over observed players" default:"5"`

	CacheTTL time.Duration `long:"cache-ttl" env:"CACHE_TTL" description:"Staleness threshold for cached scores" default:"1h"`
}

// Weights holds weight vector derivation and submission configuration.
type Weights struct {
	UpdateInterval time.Duration `long:"update-interval" env:"UPDATE_INTERVAL" description:"Minimum interval between weight submissions" default:"1200s"`
	RetryInterval  time.Duration `long:"retry-interval" env:"RETRY_INTERVAL" description:"Retry interval after a failed or empty submission" default:"60s"`

	MinAllowed      int     `long:"min-allowed" env:"MIN_ALLOWED" description:"Minimum count of non-zero weights before fallback applies" default:"3"`
	ExcludeQuantile float64 `long:"exclude-quantile" env:"EXCLUDE_QUANTILE" description:"Fraction of lowest positive weights to exclude" default:"0"`

	Registry string `long:"registry" env:"REGISTRY" description:"Path to the entity registry JSON (ordered hotkey list)"`
}

// RateLimit holds status API rate limiting configuration.
type RateLimit struct {
	HardLimitCount int           `long:"hard-count" env:"HARD_COUNT" description:"Hard IP limit: requests count" default:"8"`
	HardLimitWin   time.Duration `long:"hard-window" env:"HARD_WINDOW" description:"Hard IP limit: window duration" default:"1m"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if cfg.Collector.URL == "" {
		fmt.Fprintln(os.Stderr,
			"Required flag `-c, --collector-url' or environment variable `VIGIL_COLLECTOR_URL` was not specified!")
		os.Exit(1)
	}
	if cfg.Collector.APIKey == "" {
		fmt.Fprintln(os.Stderr,
			"Required flag `--collector-api-key' or environment variable `VIGIL_COLLECTOR_API_KEY` was not specified!")
		os.Exit(1)
	}

	if err := cfg.Scoring.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid scoring configuration: %v\n", err)
		os.Exit(1)
	}

	return &cfg
}

// Validate checks the weight group invariants and value bounds. It is called
// once at startup so a broken weight distribution never reaches the engine.
func (s *Scoring) Validate() error {
	const eps = 1e-3

	if total := s.WeightInfrastructure + s.WeightParticipation + s.WeightReliability; math.Abs(total-1.0) > eps {
		return fmt.Errorf("primary weights must sum to 1.0, got %g", total)
	}
	if math.Abs(s.WeightInfraTick-1.0) > eps {
		return fmt.Errorf("infrastructure weights must sum to 1.0, got %g", s.WeightInfraTick)
	}
	if total := s.WeightPartCompliance + s.WeightPartPlayers; math.Abs(total-1.0) > eps {
		return fmt.Errorf("participation weights must sum to 1.0, got %g", total)
	}
	if total := s.WeightRelyPlayerPower + s.WeightRelyStability + s.WeightRelyRecovery; math.Abs(total-1.0) > eps {
		return fmt.Errorf("reliability weights must sum to 1.0, got %g", total)
	}

	if s.IdealTickRate <= 0 || s.IdealTickRate > 30 {
		return fmt.Errorf("ideal tick rate must be in (0, 30], got %g", s.IdealTickRate)
	}
	if s.SmoothAlpha <= 0 || s.SmoothAlpha > 1 {
		return fmt.Errorf("smoothing alpha must be in (0, 1], got %g", s.SmoothAlpha)
	}
	if s.MaxScore <= s.MinScore {
		return fmt.Errorf("max score (%d) must be greater than min score (%d)", s.MaxScore, s.MinScore)
	}
	if s.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", s.HistoryLimit)
	}
	if s.CapacityTolerance < 0 || s.PlayerTolerance < 0 {
		return fmt.Errorf("anti-spoof tolerances must be non-negative")
	}

	return nil
}
