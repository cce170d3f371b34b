package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/models"
)

type fakeProvider struct {
	name string

	mu        sync.Mutex
	calls     []string
	fail      bool
	rateLimit bool
	players   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Probe(_ context.Context, address string) (models.Observation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, address)
	f.mu.Unlock()

	if f.rateLimit {
		return models.Observation{}, ErrRateLimited
	}
	if f.fail {
		return models.Observation{}, context.DeadlineExceeded
	}

	players := f.players
	online := true
	return models.Observation{Online: &online, Players: &players}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() config.Scanner {
	return config.Scanner{
		Timeout:  time.Second,
		Interval: time.Minute,
		Workers:  2,
	}
}

func entry(id, ip string, port int) models.CatalogEntry {
	return models.CatalogEntry{ID: id, Hotkey: "hk-" + id, IP: ip, Port: &port}
}

func TestRefreshRoundRobinCoversProviders(t *testing.T) {
	providers := []Provider{
		&fakeProvider{name: "a", players: 1},
		&fakeProvider{name: "b", players: 2},
		&fakeProvider{name: "c", players: 3},
	}
	s := New(testConfig(), providers)

	entries := []models.CatalogEntry{
		entry("s1", "10.0.0.1", 25565),
		entry("s2", "10.0.0.2", 25565),
		entry("s3", "10.0.0.3", 25565),
	}
	out := s.Refresh(context.Background(), entries, []string{"s1", "s2", "s3"})

	require.Equal(t, "performed", out.Status)
	require.Len(t, out.Results, 3)
	assert.Empty(t, out.Missing)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, out.Attempted)

	// Three addresses over three providers: each provider probes exactly once.
	for _, p := range providers {
		assert.Equal(t, 1, p.(*fakeProvider).callCount(), p.Name())
	}

	for _, res := range out.Results {
		require.NotNil(t, res)
		assert.True(t, res.Online)
		require.NotNil(t, res.Players)
		assert.NotEmpty(t, res.Provider)
	}
}

func TestRefreshRetriesWithUnusedProviders(t *testing.T) {
	broken := &fakeProvider{name: "broken", fail: true}
	healthy := &fakeProvider{name: "healthy", players: 7}
	s := New(testConfig(), []Provider{broken, healthy})

	out := s.Refresh(context.Background(),
		[]models.CatalogEntry{entry("s1", "10.0.0.1", 25565)},
		[]string{"s1"})

	require.Equal(t, "performed", out.Status)
	res := out.Results["s1"]
	require.NotNil(t, res)
	assert.True(t, res.Online)
	assert.Equal(t, "healthy", res.Provider)
	assert.Equal(t, 1, out.Metrics.Retries["healthy"])
}

func TestRefreshDisablesRateLimitedProvider(t *testing.T) {
	limited := &fakeProvider{name: "limited", rateLimit: true}
	healthy := &fakeProvider{name: "healthy", players: 4}
	cfg := testConfig()
	cfg.Workers = 1
	s := New(cfg, []Provider{limited, healthy})

	entries := []models.CatalogEntry{
		entry("s1", "10.0.0.1", 25565),
		entry("s2", "10.0.0.2", 25565),
		entry("s3", "10.0.0.3", 25565),
	}
	out := s.Refresh(context.Background(), entries, []string{"s1", "s2", "s3"})

	require.Equal(t, "performed", out.Status)
	assert.Contains(t, out.Metrics.Disabled, "limited")
	// Once disabled the provider must not be picked again this cycle.
	assert.Equal(t, 1, limited.callCount())

	for id, res := range out.Results {
		require.NotNil(t, res, id)
		assert.Equal(t, "healthy", res.Provider)
	}
}

func TestRefreshAllProvidersFailMarksOffline(t *testing.T) {
	s := New(testConfig(), []Provider{
		&fakeProvider{name: "a", fail: true},
		&fakeProvider{name: "b", fail: true},
	})

	out := s.Refresh(context.Background(),
		[]models.CatalogEntry{entry("s1", "10.0.0.1", 25565)},
		[]string{"s1"})

	res := out.Results["s1"]
	require.NotNil(t, res)
	assert.False(t, res.Online)
	assert.Empty(t, res.Provider)
	assert.Contains(t, out.Attempted, "s1")
	assert.NotContains(t, out.Missing, "s1")
}

func TestRefreshMissingAndDuplicateAddresses(t *testing.T) {
	s := New(testConfig(), []Provider{&fakeProvider{name: "a", players: 1}})

	port := 25565
	entries := []models.CatalogEntry{
		entry("feed-ok", "10.0.0.1", 25565),
		{ID: "no-coords", Hotkey: "hk"},
		{ID: "dup", Hotkey: "hk2", IP: "10.0.0.1", Port: &port},
	}
	out := s.Refresh(context.Background(), entries,
		[]string{"feed-ok", "no-coords", "dup", "absent"})

	assert.ElementsMatch(t, []string{"no-coords", "dup", "absent"}, out.Missing)
	assert.ElementsMatch(t, []string{"feed-ok"}, out.Attempted)
	assert.Nil(t, out.Results["absent"])
	assert.Nil(t, out.Results["no-coords"])
	assert.NotNil(t, out.Results["feed-ok"])
}

func TestRefreshReusesCacheWithinInterval(t *testing.T) {
	p := &fakeProvider{name: "a", players: 1}
	s := New(testConfig(), []Provider{p})

	entries := []models.CatalogEntry{entry("s1", "10.0.0.1", 25565)}

	first := s.Refresh(context.Background(), entries, []string{"s1"})
	require.Equal(t, "performed", first.Status)
	require.Equal(t, 1, p.callCount())

	second := s.Refresh(context.Background(), entries, []string{"s1"})
	assert.Equal(t, "cached", second.Status)
	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, first.LastRun, second.LastRun)
}

func TestRefreshForcesScanForNewAddress(t *testing.T) {
	p := &fakeProvider{name: "a", players: 1}
	s := New(testConfig(), []Provider{p})

	first := []models.CatalogEntry{entry("s1", "10.0.0.1", 25565)}
	s.Refresh(context.Background(), first, []string{"s1"})
	require.Equal(t, 1, p.callCount())

	// A brand-new id bypasses the interval cache.
	both := append(first, entry("s2", "10.0.0.2", 25565))
	out := s.Refresh(context.Background(), both, []string{"s1", "s2"})
	assert.Equal(t, "performed", out.Status)
	assert.NotNil(t, out.Results["s2"])
}

func TestRefreshNoServers(t *testing.T) {
	s := New(testConfig(), []Provider{&fakeProvider{name: "a"}})
	out := s.Refresh(context.Background(), nil, nil)
	assert.Equal(t, "no_servers", out.Status)
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		address string
		host    string
		port    *int
	}{
		{"play.example.com:25565", "play.example.com", intPtr(25565)},
		{"play.example.com", "play.example.com", nil},
		{"10.0.0.1:1234", "10.0.0.1", intPtr(1234)},
		{"strange:port", "strange", nil},
	}
	for _, tt := range tests {
		host, port := splitHostPort(tt.address)
		assert.Equal(t, tt.host, host, tt.address)
		if tt.port == nil {
			assert.Nil(t, port, tt.address)
		} else {
			require.NotNil(t, port, tt.address)
			assert.Equal(t, *tt.port, *port, tt.address)
		}
	}
}
