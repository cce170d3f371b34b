package server

import (
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vigilmc/vigil/internal/mechanism"
	"github.com/vigilmc/vigil/internal/models"
	"github.com/vigilmc/vigil/internal/scanner"
	"github.com/vigilmc/vigil/internal/scoring"
	"github.com/vigilmc/vigil/internal/vars"
	"github.com/vigilmc/vigil/internal/weights"
)

// scoredServer is one entity's cached score as exposed by the API.
type scoredServer struct {
	ServerID       string            `json:"server_id"`
	Score          int               `json:"score"`
	RawScore       int               `json:"raw_score"`
	Classification string            `json:"classification"`
	Components     models.Components `json:"components"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// mechanismScores groups one mechanism's scored servers.
type mechanismScores struct {
	Mechanism string         `json:"mechanism"`
	Servers   []scoredServer `json:"servers"`
}

// scanEntry is one scan observation annotated with its GeoIP country.
type scanEntry struct {
	models.ScanResult
	Country string `json:"country,omitempty"`
}

// scoringSummary is the subset of scoring parameters exposed on the status
// endpoint, so operators can confirm what a running instance scores with.
type scoringSummary struct {
	WeightInfrastructure float64 `json:"weight_infrastructure"`
	WeightParticipation  float64 `json:"weight_participation"`
	WeightReliability    float64 `json:"weight_reliability"`
	MinScore             int     `json:"min_score"`
	MaxScore             int     `json:"max_score"`
	DefaultScore         int     `json:"default_score"`
	SmoothAlpha          float64 `json:"smooth_alpha"`
	Freshness            string  `json:"freshness"`
	CapacityTolerance    int     `json:"capacity_tolerance"`
	PlayerTolerance      int     `json:"player_tolerance"`
	ExcellentThreshold   int     `json:"excellent_threshold"`
	GoodThreshold        int     `json:"good_threshold"`
	PoorThreshold        int     `json:"poor_threshold"`
}

// statusResponse is the /api/status body.
type statusResponse struct {
	Build       vars.BuildInfo                  `json:"build"`
	Mechanisms  map[string]mechanism.CycleStats `json:"mechanisms"`
	LastRound   time.Time                       `json:"last_round,omitempty"`
	ScanMetrics scanner.Metrics                 `json:"scan_metrics"`
	Weights     map[string]weights.State        `json:"weights,omitempty"`
	Scoring     scoringSummary                  `json:"scoring"`
}

// handleHealthz reports liveness. Unauthenticated.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStatus returns build info and the last validation cycle statistics.
// This endpoint is protected by AdminAuthMiddleware.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Build:      vars.Info(),
		Mechanisms: map[string]mechanism.CycleStats{},
		Scoring: scoringSummary{
			WeightInfrastructure: s.scoring.WeightInfrastructure,
			WeightParticipation:  s.scoring.WeightParticipation,
			WeightReliability:    s.scoring.WeightReliability,
			MinScore:             s.scoring.MinScore,
			MaxScore:             s.scoring.MaxScore,
			DefaultScore:         s.scoring.DefaultScore,
			SmoothAlpha:          s.scoring.SmoothAlpha,
			Freshness:            s.scoring.Freshness.String(),
			CapacityTolerance:    s.scoring.CapacityTolerance,
			PlayerTolerance:      s.scoring.PlayerTolerance,
			ExcellentThreshold:   scoring.ExcellentThreshold,
			GoodThreshold:        scoring.GoodThreshold,
			PoorThreshold:        scoring.PoorThreshold,
		},
	}
	if s.cycles != nil {
		resp.Mechanisms = s.cycles.LastStats()
		resp.LastRound = s.cycles.LastRound()
	}
	if s.scan != nil {
		resp.ScanMetrics = s.scan.LastMetrics()
	}
	if s.weights != nil {
		resp.Weights = s.weights.States()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleScores returns every mechanism's cached scores with their
// classification. Query params: ?mechanism=minecraft to filter.
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("mechanism")

	out := make([]mechanismScores, 0, len(s.trackers))
	for _, tracker := range s.trackers {
		if filter != "" && tracker.Name() != filter {
			continue
		}

		snapshot := tracker.Snapshot()
		servers := make([]scoredServer, 0, len(snapshot))
		for id, entry := range snapshot {
			servers = append(servers, scoredServer{
				ServerID:       id,
				Score:          entry.Score,
				RawScore:       entry.RawScore,
				Classification: scoring.Classify(entry.Score),
				Components:     entry.Components,
				UpdatedAt:      entry.UpdatedAt,
			})
		}
		sort.Slice(servers, func(i, j int) bool { return servers[i].ServerID < servers[j].ServerID })

		out = append(out, mechanismScores{Mechanism: tracker.Name(), Servers: servers})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleScan returns the latest cross-validation observations, annotated
// with GeoIP countries when the database is available.
func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	results := s.scan.Snapshot()

	out := make([]scanEntry, 0, len(results))
	for _, res := range results {
		entry := scanEntry{ScanResult: res}
		if s.geoip != nil && res.Address != "" {
			host := res.Address
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			entry.Country = s.geoip.CountryCode(host)
		}
		out = append(out, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleVotes returns the audited verdict history for one entity.
// Query params: ?server_id=<uuid>&limit=20
func (s *Server) handleVotes(w http.ResponseWriter, r *http.Request) {
	if s.votes == nil {
		http.Error(w, "Vote audit unavailable", http.StatusServiceUnavailable)
		return
	}

	serverID := r.URL.Query().Get("server_id")
	if serverID == "" {
		http.Error(w, "Missing server_id", http.StatusBadRequest)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.votes.RecentVotes(serverID, limit)
	if err != nil {
		log.Error().Err(err).Str("server_id", serverID).Msg("Failed to fetch votes")
		http.Error(w, "Database Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}
