// Package server implements the status API HTTP server, middleware, and
// request handlers.
package server

import (
	"net/http"

	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/geoip"
)

// New creates a new Server instance with the provided dependencies.
func New(cfg *config.Config, trackers []Tracker, scan Prober, cycles CycleSource, wts WeightSource, votes VoteReader, geo *geoip.Provider) *Server {
	return &Server{
		trackers:       trackers,
		scan:           scan,
		cycles:         cycles,
		weights:        wts,
		votes:          votes,
		geoip:          geo,
		scoring:        cfg.Scoring,
		authToken:      cfg.Server.AuthToken,
		maxBody:        cfg.Server.MaxBodySize,
		trustProxy:     cfg.Server.TrustProxy,
		hardLimitCount: cfg.RateLimit.HardLimitCount,
		hardLimitWin:   cfg.RateLimit.HardLimitWin,
	}
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(s.handleHealthz))
	mux.Handle("GET /api/status", AdminAuthMiddleware(s.authToken, http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /api/scores", AdminAuthMiddleware(s.authToken, http.HandlerFunc(s.handleScores)))
	mux.Handle("GET /api/scan", AdminAuthMiddleware(s.authToken, http.HandlerFunc(s.handleScan)))
	mux.Handle("GET /api/votes", AdminAuthMiddleware(s.authToken, http.HandlerFunc(s.handleVotes)))

	return s.LoggingMiddleware(s.RateLimitMiddleware(mux))
}
