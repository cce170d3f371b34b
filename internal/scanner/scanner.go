package scanner

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/models"
)

// ProviderStats aggregates attempt counts and cumulative latency for one
// provider within the last performed cycle.
type ProviderStats struct {
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Metrics summarizes one scan cycle.
type Metrics struct {
	TotalElapsed  time.Duration            `json:"total_elapsed"`
	AvgPerAddress time.Duration            `json:"avg_per_address"`
	PerProvider   map[string]ProviderStats `json:"per_provider"`
	Retries       map[string]int           `json:"retries"`
	Disabled      []string                 `json:"disabled"`
}

// Outcome is the result of one Refresh call. Results holds an entry for every
// requested server id; a nil value means the id is in the Missing set.
// Attempted and Missing are distinct on purpose: an id can be attempted and
// still end up missing when every provider failed to resolve its address.
type Outcome struct {
	Status    string
	Results   map[string]*models.ScanResult
	Attempted []string
	Missing   []string
	Metrics   Metrics
	LastRun   time.Time
}

// Scanner drives cross-validation scans over the collector catalog. Scan
// results are cached between cycles and reused verbatim while the minimum
// interval has not elapsed, unless a brand-new address shows up.
type Scanner struct {
	providers []Provider
	interval  time.Duration
	timeout   time.Duration
	workers   int
	now       func() time.Time

	mu        sync.Mutex
	lastScan  time.Time
	results   map[string]*models.ScanResult
	attempted map[string]struct{}
	missing   map[string]struct{}
	metrics   Metrics
}

// New creates a scanner over the given provider pool.
func New(cfg config.Scanner, providers []Provider) *Scanner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Scanner{
		providers: providers,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		workers:   workers,
		now:       time.Now,
		results:   make(map[string]*models.ScanResult),
		attempted: make(map[string]struct{}),
		missing:   make(map[string]struct{}),
	}
}

// NewDefault creates a scanner with the six built-in providers.
func NewDefault(cfg config.Scanner) *Scanner {
	client := &http.Client{Timeout: cfg.Timeout}
	return New(cfg, DefaultProviders(client))
}

// Refresh ensures scan data exists for every catalog entry among the wanted
// server ids. It reuses the previous cycle's cached results when the minimum
// interval has not elapsed and no wanted id is new; otherwise it performs a
// full scan cycle.
func (s *Scanner) Refresh(ctx context.Context, entries []models.CatalogEntry, wanted []string) Outcome {
	wantedSet := make(map[string]struct{}, len(wanted))
	for _, id := range wanted {
		if id != "" {
			wantedSet[id] = struct{}{}
		}
	}
	if len(wantedSet) == 0 {
		return Outcome{Status: "no_servers"}
	}

	s.mu.Lock()
	fresh := false
	if !s.lastScan.IsZero() && s.now().Sub(s.lastScan) < s.interval {
		fresh = true
		for id := range wantedSet {
			if _, ok := s.results[id]; !ok {
				fresh = false
				break
			}
		}
	}
	if fresh {
		outcome := s.cachedOutcomeLocked(wantedSet)
		s.mu.Unlock()
		return outcome
	}
	s.mu.Unlock()

	return s.scan(ctx, entries, wantedSet)
}

// Result returns the cached scan result for one server id, nil when the id
// is currently classified as missing or was never scanned.
func (s *Scanner) Result(serverID string) *models.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[serverID]
}

// Snapshot returns a copy of all cached scan results.
func (s *Scanner) Snapshot() []models.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ScanResult, 0, len(s.results))
	for _, res := range s.results {
		if res != nil {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// LastMetrics returns the metrics of the last performed cycle.
func (s *Scanner) LastMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Scanner) cachedOutcomeLocked(wanted map[string]struct{}) Outcome {
	outcome := Outcome{
		Status:  "cached",
		Results: make(map[string]*models.ScanResult, len(wanted)),
		Metrics: s.metrics,
		LastRun: s.lastScan,
	}
	for id := range wanted {
		outcome.Results[id] = s.results[id]
		if _, ok := s.attempted[id]; ok {
			outcome.Attempted = append(outcome.Attempted, id)
		}
		if _, ok := s.missing[id]; ok {
			outcome.Missing = append(outcome.Missing, id)
		}
	}
	sort.Strings(outcome.Attempted)
	sort.Strings(outcome.Missing)
	return outcome
}

// scan performs one full cycle: address resolution from the catalog, the
// round-robin first pass, the unused-provider retry pass and result merging.
func (s *Scanner) scan(ctx context.Context, entries []models.CatalogEntry, wanted map[string]struct{}) Outcome {
	now := s.now()

	feed := make(map[string]models.CatalogEntry, len(entries))
	for _, entry := range entries {
		if _, ok := wanted[entry.ID]; ok {
			feed[entry.ID] = entry
		}
	}

	results := make(map[string]*models.ScanResult, len(wanted))
	attempted := make(map[string]struct{})
	missing := make(map[string]struct{})

	addressToID := make(map[string]string)
	var addresses []string

	for id := range wanted {
		entry, ok := feed[id]
		if !ok {
			missing[id] = struct{}{}
			results[id] = nil
			continue
		}

		address := entry.Address()
		if address == "" {
			log.Warn().Str("server_id", id).Msg("Missing network coordinates in catalog entry")
			missing[id] = struct{}{}
			results[id] = nil
			continue
		}

		if other, dup := addressToID[address]; dup {
			log.Warn().
				Str("address", address).
				Str("server_id", id).
				Str("conflicts_with", other).
				Msg("Duplicate address in catalog")
			missing[id] = struct{}{}
			results[id] = nil
			continue
		}

		addressToID[address] = id
		addresses = append(addresses, address)
		attempted[id] = struct{}{}
	}

	// Deterministic round-robin assignment regardless of map iteration order.
	sort.Strings(addresses)

	observations, metrics := s.runCycle(ctx, addresses)

	for _, address := range addresses {
		id := addressToID[address]
		entry := feed[id]

		res := &models.ScanResult{
			Address:   address,
			ServerID:  id,
			Hotkey:    entry.Hotkey,
			ScannedAt: now,
		}

		obs, ok := observations[address]
		if !ok {
			// Every provider failed: the address was attempted but remains
			// unverified, which downstream treats as an offline observation.
			res.Online = false
			results[id] = res
			continue
		}

		res.Provider = obs.provider
		res.Online = obs.data.Online == nil || *obs.data.Online
		res.Players = obs.data.Players
		res.MaxPlayers = obs.data.MaxPlayers
		if obs.data.PingMS != nil {
			res.PingMS = *obs.data.PingMS
		}
		results[id] = res
	}

	s.mu.Lock()
	s.lastScan = now
	s.metrics = metrics
	for id, res := range results {
		s.results[id] = res
	}
	s.attempted = attempted
	s.missing = missing
	s.mu.Unlock()

	outcome := Outcome{
		Status:  "performed",
		Results: results,
		Metrics: metrics,
		LastRun: now,
	}
	for id := range attempted {
		outcome.Attempted = append(outcome.Attempted, id)
	}
	for id := range missing {
		outcome.Missing = append(outcome.Missing, id)
	}
	sort.Strings(outcome.Attempted)
	sort.Strings(outcome.Missing)

	log.Info().
		Int("addresses", len(addresses)).
		Int("missing", len(outcome.Missing)).
		Dur("elapsed", metrics.TotalElapsed).
		Strs("disabled", metrics.Disabled).
		Msg("Scan cycle complete")

	return outcome
}

// providerObs couples an observation with the provider that produced it.
type providerObs struct {
	provider string
	data     models.Observation
}

// cycleState is the per-cycle mutable scan state. Provider disablement lives
// here so a cycle is a pure function of its inputs and the previous
// disablement never leaks across cycles.
type cycleState struct {
	mu           sync.Mutex
	disabled     map[string]struct{}
	tried        map[string]map[string]struct{}
	observations map[string]providerObs
	failed       []string
	stats        map[string]*ProviderStats
	retries      map[string]int
}

// runCycle executes the two scan passes over the address list with bounded
// concurrency and returns the successful observations plus cycle metrics.
func (s *Scanner) runCycle(ctx context.Context, addresses []string) (map[string]providerObs, Metrics) {
	state := &cycleState{
		disabled:     make(map[string]struct{}),
		tried:        make(map[string]map[string]struct{}),
		observations: make(map[string]providerObs),
		stats:        make(map[string]*ProviderStats, len(s.providers)),
		retries:      make(map[string]int, len(s.providers)),
	}
	for _, p := range s.providers {
		state.stats[p.Name()] = &ProviderStats{}
		state.retries[p.Name()] = 0
	}

	start := time.Now()

	if len(addresses) > 0 {
		s.firstPass(ctx, state, addresses)
		s.retryPass(ctx, state)
	}

	metrics := Metrics{
		TotalElapsed: time.Since(start),
		PerProvider:  make(map[string]ProviderStats, len(state.stats)),
		Retries:      state.retries,
	}
	if len(addresses) > 0 {
		metrics.AvgPerAddress = metrics.TotalElapsed / time.Duration(len(addresses))
	}
	for name, stat := range state.stats {
		metrics.PerProvider[name] = *stat
	}
	for name := range state.disabled {
		metrics.Disabled = append(metrics.Disabled, name)
	}
	sort.Strings(metrics.Disabled)

	return state.observations, metrics
}

// firstPass probes every address once with a worker pool, assigning providers
// round-robin by address position so the full pool is covered before any
// provider repeats.
func (s *Scanner) firstPass(ctx context.Context, state *cycleState, addresses []string) {
	type job struct {
		address string
		index   int
	}

	jobs := make(chan job)
	var wg sync.WaitGroup

	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				provider := s.pickProvider(state, j.index)
				if provider == nil {
					log.Warn().Str("address", j.address).Msg("All providers disabled this cycle")
					state.markFailed(j.address)
					continue
				}
				if !s.attempt(ctx, state, provider, j.address, false) {
					state.markFailed(j.address)
				}
			}
		}()
	}

	for i, address := range addresses {
		jobs <- job{address: address, index: i}
	}
	close(jobs)
	wg.Wait()
}

// retryPass walks the failed addresses sequentially, trying every provider
// that has not yet been used for that address and is not disabled, in the
// fixed priority order, until one succeeds.
func (s *Scanner) retryPass(ctx context.Context, state *cycleState) {
	state.mu.Lock()
	failed := append([]string(nil), state.failed...)
	state.mu.Unlock()

	for _, address := range failed {
		for _, provider := range s.providers {
			if !state.allow(address, provider.Name()) {
				continue
			}
			if s.attempt(ctx, state, provider, address, true) {
				break
			}
		}
	}
}

// pickProvider selects the provider at the rotation offset, skipping
// currently disabled providers. Returns nil when all are disabled.
func (s *Scanner) pickProvider(state *cycleState, start int) Provider {
	state.mu.Lock()
	defer state.mu.Unlock()

	for offset := 0; offset < len(s.providers); offset++ {
		candidate := s.providers[(start+offset)%len(s.providers)]
		if _, off := state.disabled[candidate.Name()]; !off {
			return candidate
		}
	}
	return nil
}

// attempt runs one probe with the configured timeout and records its result.
func (s *Scanner) attempt(ctx context.Context, state *cycleState, provider Provider, address string, retry bool) bool {
	name := provider.Name()
	state.markTried(address, name)

	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	obs, err := provider.Probe(probeCtx, address)
	elapsed := time.Since(start)

	state.recordStat(name, elapsed)

	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			log.Warn().
				Str("provider", name).
				Str("address", address).
				Msg("Provider rate limited, disabling for remainder of cycle")
			state.disable(name)
		} else {
			log.Debug().
				Err(err).
				Str("provider", name).
				Str("address", address).
				Dur("elapsed", elapsed).
				Msg("Probe failed")
		}
		return false
	}

	state.record(address, providerObs{provider: name, data: obs}, retry)

	players := -1
	if obs.Players != nil {
		players = *obs.Players
	}
	log.Debug().
		Str("provider", name).
		Str("address", address).
		Int("players", players).
		Dur("elapsed", elapsed).
		Msg("Probe succeeded")

	return true
}

func (st *cycleState) markTried(address, provider string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.tried[address] == nil {
		st.tried[address] = make(map[string]struct{})
	}
	st.tried[address][provider] = struct{}{}
}

func (st *cycleState) allow(address, provider string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, off := st.disabled[provider]; off {
		return false
	}
	_, used := st.tried[address][provider]
	return !used
}

func (st *cycleState) disable(provider string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.disabled[provider] = struct{}{}
}

func (st *cycleState) markFailed(address string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failed = append(st.failed, address)
}

func (st *cycleState) record(address string, obs providerObs, retry bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.observations[address]; !exists {
		st.observations[address] = obs
	}
	if retry {
		st.retries[obs.provider]++
	}
}

func (st *cycleState) recordStat(provider string, elapsed time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if stat, ok := st.stats[provider]; ok {
		stat.Attempts++
		stat.Elapsed += elapsed
	}
}
