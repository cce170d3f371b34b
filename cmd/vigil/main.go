// main is the entry point of the Vigil validator.
// It initializes the configuration, logger, database, GeoIP provider, the
// validation loop, and starts the status API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vigilmc/vigil/internal/chain"
	"github.com/vigilmc/vigil/internal/collector"
	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/geoip"
	"github.com/vigilmc/vigil/internal/logger"
	"github.com/vigilmc/vigil/internal/mechanism"
	"github.com/vigilmc/vigil/internal/scanner"
	"github.com/vigilmc/vigil/internal/server"
	"github.com/vigilmc/vigil/internal/storage"
	"github.com/vigilmc/vigil/internal/vars"
	"github.com/vigilmc/vigil/internal/votes"
	"github.com/vigilmc/vigil/internal/weights"
)

// scoreStore adapts the storage repository to the mechanism's store interface.
type scoreStore struct {
	repo *storage.Repository
}

func (s scoreStore) UpsertScore(row mechanism.StoreRow) error {
	return s.repo.UpsertScore(storage.ScoreRow{
		Mechanism: row.Mechanism,
		ServerID:  row.ServerID,
		Hotkey:    row.Hotkey,
		Entry:     row.Entry,
	})
}

func (s scoreStore) LoadScores(name string) ([]mechanism.StoreRow, error) {
	rows, err := s.repo.LoadScores(name)
	if err != nil {
		return nil, err
	}

	out := make([]mechanism.StoreRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, mechanism.StoreRow{
			Mechanism: row.Mechanism,
			ServerID:  row.ServerID,
			Hotkey:    row.Hotkey,
			Entry:     row.Entry,
		})
	}
	return out, nil
}

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Str("version", vars.Version).Msg("Starting vigil validator...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// GeoIP Update
	log.Info().Msg("Checking GeoIP database...")
	if err := geoip.EnsureDB(cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
		log.Error().Err(err).Msg("Failed to download GeoIP database")
	}

	geoProvider, err := geoip.Open(cfg.GeoIP.Path)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
		geoProvider = nil
	} else {
		defer func() {
			if err := geoProvider.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing GeoIP provider")
			}
		}()
	}

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()
	go store.RunRetention(ctx, cfg.Storage.Retention)

	// Entity registry
	var registry chain.Registry
	if cfg.Weights.Registry != "" {
		loaded, err := chain.LoadRegistry(cfg.Weights.Registry)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Weights.Registry).Msg("Failed to load entity registry")
		}
		registry = loaded
	} else {
		log.Warn().Msg("No entity registry configured, nothing will be scored")
		registry = chain.NewStaticRegistry(nil)
	}

	// Collector, scanner and the mechanism wiring
	api := collector.New(cfg.Collector)
	scan := scanner.NewDefault(cfg.Scanner)
	voteClient := votes.NewClient(api, store, vars.Version, cfg.Scoring.PlayerTolerance)
	minecraft := mechanism.NewMinecraft(*cfg, api, scan, registry, scoreStore{repo: store}, voteClient)

	manager := weights.NewManager(cfg.Weights, chain.LogSubmitter{})
	runner := mechanism.NewRunner(
		[]mechanism.Mechanism{minecraft},
		manager,
		cfg.Scanner.Interval,
		cfg.Weights.MinAllowed,
		cfg.Weights.ExcludeQuantile,
	)
	go runner.Run(ctx)

	// Status API
	srv := server.New(cfg, []server.Tracker{minecraft}, scan, runner, manager, store, geoProvider)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Run(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the validation loop and the retention sweep
	cancel()

	// Shut down HTTP
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Validator exited")
}
