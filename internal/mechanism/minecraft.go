// Package mechanism runs the independent scoring tracks. Each mechanism owns
// its own score cache and cycle cadence and emits one weight vector.
package mechanism

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilmc/vigil/internal/chain"
	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/models"
	"github.com/vigilmc/vigil/internal/scanner"
	"github.com/vigilmc/vigil/internal/scoring"
	"github.com/vigilmc/vigil/internal/votes"
)

// Collector is the slice of the collector client a mechanism consumes.
type Collector interface {
	Catalog(ctx context.Context) ([]models.CatalogEntry, error)
	Reports(ctx context.Context, serverID string, limit int) ([]models.Report, error)
	Mappings(ctx context.Context, hotkeys []string) (map[string][]string, error)
	ReportsLimit() int
}

// Scan is the slice of the scanner a mechanism consumes.
type Scan interface {
	Refresh(ctx context.Context, entries []models.CatalogEntry, wanted []string) scanner.Outcome
}

// ScoreStore persists scores across restarts. Optional.
type ScoreStore interface {
	UpsertScore(row StoreRow) error
	LoadScores(mechanism string) ([]StoreRow, error)
}

// StoreRow mirrors the persisted score record without importing storage.
type StoreRow struct {
	Mechanism string
	ServerID  string
	Hotkey    string
	Entry     models.ScoreCacheEntry
}

// CycleStats summarizes one mechanism cycle.
type CycleStats struct {
	Entities  int           `json:"entities"`
	Scored    int           `json:"scored"`
	Zeroed    int           `json:"zeroed"`
	Skipped   int           `json:"skipped"`
	Votes     votes.Summary `json:"votes"`
	ScanState string        `json:"scan_state"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Minecraft is the Minecraft scoring track: cross-validated telemetry
// scoring over the collector catalog.
type Minecraft struct {
	name      string
	cfg       config.Config
	api       Collector
	scan      Scan
	registry  chain.Registry
	store     ScoreStore
	votes     *votes.Client
	engine    *scoring.Engine
	validator *scoring.Validator
	now       func() time.Time

	mu           sync.Mutex
	cache        map[string]models.ScoreCacheEntry
	hotkeyByID   map[string]string
	mappings     map[string][]string
	lastMappings time.Time
	lastCleanup  time.Time
}

// NewMinecraft creates the Minecraft mechanism. store may be nil.
func NewMinecraft(
	cfg config.Config,
	api Collector,
	scan Scan,
	registry chain.Registry,
	store ScoreStore,
	voteClient *votes.Client,
) *Minecraft {
	m := &Minecraft{
		name:       "minecraft",
		cfg:        cfg,
		api:        api,
		scan:       scan,
		registry:   registry,
		store:      store,
		votes:      voteClient,
		engine:     scoring.NewEngine(cfg.Scoring),
		validator:  scoring.NewValidator(cfg.Scoring),
		now:        time.Now,
		cache:      make(map[string]models.ScoreCacheEntry),
		hotkeyByID: make(map[string]string),
		mappings:   make(map[string][]string),
	}
	m.restore()
	return m
}

// Name returns the mechanism identifier.
func (m *Minecraft) Name() string { return m.name }

// restore loads persisted scores into the cache so restarts do not reset
// every entity's smoothing baseline.
func (m *Minecraft) restore() {
	if m.store == nil {
		return
	}

	rows, err := m.store.LoadScores(m.name)
	if err != nil {
		log.Error().Err(err).Str("mechanism", m.name).Msg("Failed to restore persisted scores")
		return
	}
	for _, row := range rows {
		m.cache[row.ServerID] = row.Entry
		if row.Hotkey != "" {
			m.hotkeyByID[row.ServerID] = row.Hotkey
		}
	}
	if len(rows) > 0 {
		log.Info().Int("count", len(rows)).Str("mechanism", m.name).Msg("Restored persisted scores")
	}
}

// RunCycle executes one full scoring cycle: mapping refresh, catalog fetch,
// scan refresh, per-entity validation and scoring, a single-writer cache
// commit, persistence and vote submission. Failures degrade to zero scores
// or omissions, never abort the cycle.
func (m *Minecraft) RunCycle(ctx context.Context) CycleStats {
	start := m.now()
	stats := CycleStats{}

	m.refreshMappings(ctx)

	wanted := m.mappedServerIDs()
	if len(wanted) == 0 {
		log.Warn().Str("mechanism", m.name).Msg("No mapped servers to score")
		return stats
	}
	stats.Entities = len(wanted)

	catalog, err := m.api.Catalog(ctx)
	if err != nil {
		log.Error().Err(err).Str("mechanism", m.name).Msg("Failed to fetch catalog")
		return stats
	}
	for _, entry := range catalog {
		if entry.Hotkey != "" {
			m.mu.Lock()
			m.hotkeyByID[entry.ID] = entry.Hotkey
			m.mu.Unlock()
		}
	}

	outcome := m.scan.Refresh(ctx, catalog, wanted)
	stats.ScanState = outcome.Status

	// Gather every entity's reports once; the latest fresh report feeds the
	// power aggregation before any anti-spoof filtering.
	reportsByID := make(map[string][]models.Report, len(wanted))
	latestFresh := make(map[string]models.Report)
	now := m.now()
	for _, id := range wanted {
		reports, err := m.api.Reports(ctx, id, m.api.ReportsLimit())
		if err != nil {
			log.Debug().Err(err).Str("server_id", id).Msg("Failed to fetch reports")
		}
		reportsByID[id] = reports
		for _, report := range reports {
			if report.Age(now) <= m.cfg.Scoring.Freshness {
				latestFresh[id] = report
				break
			}
		}
	}

	power := scoring.NormalizedPower(latestFresh)

	// Score into a scratch map first; the cache sees the whole cycle at once.
	updates := make(map[string]models.ScoreCacheEntry)
	var voteEntries []votes.Input

	for _, id := range wanted {
		decision := m.validator.Validate(outcome.Results[id], reportsByID[id], m.previousScore(id) > 0)

		switch {
		case decision.Skip:
			stats.Skipped++
			continue

		case decision.Zero:
			stats.Zeroed++
			updates[id] = models.ScoreCacheEntry{UpdatedAt: now}
			voteEntries = append(voteEntries, m.voteInput(id, decision, reportsByID[id], 0))
			continue
		}

		window := scoring.HistoryFromReports(m.cfg.Scoring.HistoryLimit, decision.History)
		result := m.engine.Score(*decision.Report, window.Snapshot(), power[id])

		prev := m.previousEntry(id)
		var prevScore *int
		if prev != nil {
			prevScore = &prev.Score
		}
		smoothed := scoring.Smooth(m.cfg.Scoring, result.Score, prevScore)

		updates[id] = models.ScoreCacheEntry{
			Score:      smoothed,
			RawScore:   result.Score,
			Components: result.Components,
			UpdatedAt:  now,
		}
		stats.Scored++

		if !result.Faulted {
			voteEntries = append(voteEntries, m.voteInput(id, decision, reportsByID[id], smoothed))
		}
	}

	m.commit(updates)
	m.cleanupStale(now)

	if m.votes != nil {
		stats.Votes = m.votes.SubmitAll(ctx, voteEntries)
	}

	stats.Elapsed = m.now().Sub(start)
	log.Info().
		Str("mechanism", m.name).
		Int("entities", stats.Entities).
		Int("scored", stats.Scored).
		Int("zeroed", stats.Zeroed).
		Int("skipped", stats.Skipped).
		Dur("elapsed", stats.Elapsed).
		Msg("Cycle complete")

	return stats
}

// refreshMappings pulls the hotkey to server-id mapping, throttled to the
// collector's rate budget but forced when a registry hotkey has no mapping
// yet.
func (m *Minecraft) refreshMappings(ctx context.Context) {
	hotkeys := m.registry.Hotkeys()
	if len(hotkeys) == 0 {
		return
	}

	m.mu.Lock()
	force := false
	for _, hk := range hotkeys {
		if _, ok := m.mappings[hk]; !ok {
			force = true
			break
		}
	}
	throttled := !m.lastMappings.IsZero() && m.now().Sub(m.lastMappings) < m.cfg.Collector.MappingsInterval
	m.mu.Unlock()

	if throttled && !force {
		return
	}

	mapped, err := m.api.Mappings(ctx, hotkeys)
	if err != nil {
		log.Error().Err(err).Str("mechanism", m.name).Msg("Failed to refresh mappings")
		if mapped == nil {
			return
		}
	}

	m.mu.Lock()
	for hk, ids := range mapped {
		m.mappings[hk] = ids
		for _, id := range ids {
			m.hotkeyByID[id] = hk
		}
	}
	m.lastMappings = m.now()
	m.mu.Unlock()
}

// mappedServerIDs returns the sorted union of server ids mapped to registry
// hotkeys.
func (m *Minecraft) mappedServerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, hk := range m.registry.Hotkeys() {
		for _, id := range m.mappings[hk] {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (m *Minecraft) previousEntry(id string) *models.ScoreCacheEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.cache[id]; ok {
		return &entry
	}
	return nil
}

func (m *Minecraft) previousScore(id string) int {
	if entry := m.previousEntry(id); entry != nil {
		return entry.Score
	}
	return 0
}

// commit applies a completed cycle's results to the cache in one pass and
// persists them.
func (m *Minecraft) commit(updates map[string]models.ScoreCacheEntry) {
	m.mu.Lock()
	for id, entry := range updates {
		m.cache[id] = entry
	}
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	for id, entry := range updates {
		row := StoreRow{
			Mechanism: m.name,
			ServerID:  id,
			Hotkey:    m.hotkeyFor(id),
			Entry:     entry,
		}
		if err := m.store.UpsertScore(row); err != nil {
			log.Error().Err(err).Str("server_id", id).Msg("Failed to persist score")
		}
	}
}

// cleanupStale evicts cache entries whose last update exceeded the TTL.
// Runs at most once per hour.
func (m *Minecraft) cleanupStale(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCleanup.IsZero() && now.Sub(m.lastCleanup) < time.Hour {
		return
	}
	m.lastCleanup = now

	removed := 0
	for id, entry := range m.cache {
		if now.Sub(entry.UpdatedAt) > m.cfg.Scoring.CacheTTL {
			delete(m.cache, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("mechanism", m.name).Msg("Evicted stale cached scores")
	}
}

// voteInput assembles the verdict input for one entity's decision.
func (m *Minecraft) voteInput(id string, d scoring.Decision, reports []models.Report, score int) votes.Input {
	in := votes.Input{
		ServerID:       id,
		Reason:         d.Reason,
		Score:          score,
		ScanPlayers:    d.ScanPlayers,
		ScanMaxPlayers: d.ScanMaxPlayers,
	}

	if d.Reason == scoring.ReasonScanOffline {
		online := false
		in.ScanOnline = &online
	}

	if d.Report != nil {
		players := d.Report.Payload.PlayerCount()
		maxPlayers := d.Report.Payload.MaxPlayers
		in.ReportPlayers = &players
		in.ReportMaxPlayers = &maxPlayers
	} else if len(reports) > 0 {
		players := reports[0].Payload.PlayerCount()
		maxPlayers := reports[0].Payload.MaxPlayers
		in.ReportPlayers = &players
		in.ReportMaxPlayers = &maxPlayers
	}

	return in
}

// hotkeyFor returns the owning hotkey for a server id, when known.
func (m *Minecraft) hotkeyFor(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hotkeyByID[id]
}

// DenseWeights converts the score cache into a dense per-uid weight array
// in [0, 1], ordered by the registry.
func (m *Minecraft) DenseWeights() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	dense := make([]float64, m.registry.Size())

	// An owner with several servers keeps the best score among them.
	for id, entry := range m.cache {
		hk, ok := m.hotkeyByID[id]
		if !ok {
			continue
		}
		uid, ok := m.registry.UID(hk)
		if !ok || uid >= len(dense) {
			continue
		}

		w := float64(entry.Score) / float64(m.cfg.Scoring.MaxScore)
		if w > 1 {
			w = 1
		}
		if w < 0 {
			w = 0
		}
		if w > dense[uid] {
			dense[uid] = w
		}
	}

	return dense
}

// Snapshot returns the current score cache keyed by server id.
func (m *Minecraft) Snapshot() map[string]models.ScoreCacheEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.ScoreCacheEntry, len(m.cache))
	for id, entry := range m.cache {
		out[id] = entry
	}
	return out
}
