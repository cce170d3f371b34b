package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/models"
)

func defaultScoring() config.Scoring {
	return config.Scoring{
		IdealTickRate: 20.0,
		MinTickRate:   5.0,
		MaxTickRate:   20.0,

		WeightInfrastructure: 0.20,
		WeightParticipation:  0.20,
		WeightReliability:    0.60,

		WeightInfraTick:       1.0,
		WeightPartCompliance:  0.8571428571428571,
		WeightPartPlayers:     0.14285714285714285,
		WeightRelyPlayerPower: 0.90,
		WeightRelyStability:   0.05,
		WeightRelyRecovery:    0.05,

		MinScore:     0,
		MaxScore:     1000,
		DefaultScore: 100,
		SmoothAlpha:  0.2,
		MinChange:    1,
		MaxChange:    200,

		RequiredTags: []string{"VigilAgent", "LuckPerms", "CraftingStore", "PlayerPoints"},
		BonusTags:    []string{"ViaVersion", "ViaBackwards", "ViaRewind"},

		MinPlayersForBonus:  5,
		PlayersSaturation:   200,
		OptimalRatioMin:     0.2,
		OptimalRatioMax:     0.8,
		NearSaturationRatio: 0.95,

		HistoryLimit:      60,
		MinHistoryForRely: 5,
		UptimeBonusHours:  72,
		StabilityWindow:   20,
		MaxVariation:      0.3,
		RecoveryTick:      18.0,
		RecoverySamples:   10,
		MaxRecoveryTime:   30 * time.Minute,

		Freshness:         6 * time.Hour,
		CapacityTolerance: 0,
		PlayerTolerance:   5,
		CacheTTL:          time.Hour,
	}
}

func playerList(n int) []models.ActivePlayer {
	players := make([]models.ActivePlayer, n)
	for i := range players {
		players[i] = models.ActivePlayer{
			Name: fmt.Sprintf("player%d", i),
			UUID: fmt.Sprintf("00000000-0000-0000-0000-%012d", i+1),
		}
	}
	return players
}

func telemetry(tickMillis, players, maxPlayers int, plugins []string) models.Report {
	return models.Report{
		ServerID:          "srv-1",
		ClientTimestampMS: time.Now().UnixMilli(),
		Payload: models.Payload{
			ActivePlayers: playerList(players),
			MaxPlayers:    maxPlayers,
			Plugins:       plugins,
			SystemInfo:    models.SystemInfo{UptimeMS: 72 * 3600 * 1000},
			TickMillis:    tickMillis,
		},
	}
}

func steadyHistory(n, tickMillis int) []models.Report {
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	history := make([]models.Report, n)
	for i := range history {
		history[i] = telemetry(tickMillis, 10, 100, nil)
		history[i].ClientTimestampMS = base.Add(time.Duration(i) * time.Minute).UnixMilli()
	}
	return history
}

func TestScoreAlwaysInRange(t *testing.T) {
	engine := NewEngine(defaultScoring())

	cases := []struct {
		name       string
		tickMillis int
		players    int
		max        int
		power      float64
	}{
		{"idle", 20000, 0, 20, 0},
		{"busy", 19500, 180, 200, 1.0},
		{"broken tick", 1000, 5, 100, 0.5},
		{"zero tick", 0, 0, 1, 0},
		{"overloaded", 20000, 50000, 50000, 2.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := telemetry(tc.tickMillis, tc.players, tc.max, nil)
			res := engine.Score(report, steadyHistory(30, tc.tickMillis), tc.power)
			require.NoError(t, res.Err)
			assert.GreaterOrEqual(t, res.Score, 0)
			assert.LessOrEqual(t, res.Score, 1000)
		})
	}
}

func TestScoreHealthyServer(t *testing.T) {
	cfg := defaultScoring()
	engine := NewEngine(cfg)

	report := telemetry(19500, 50, 100, cfg.RequiredTags)
	res := engine.Score(report, []models.Report{report}, 0)

	require.NoError(t, res.Err)
	assert.False(t, res.Faulted)
	assert.Greater(t, res.Score, 0)
	assert.InDelta(t, 0.975, res.Components.Infrastructure, 1e-9)

	// Compliance 0.6 with no bonus tags, players 50/200 with the optimal
	// occupancy bonus.
	wantPart := cfg.WeightPartCompliance*0.6 + cfg.WeightPartPlayers*0.3
	assert.InDelta(t, wantPart, res.Components.Participation, 1e-9)
}

func TestInfrastructurePenalizesBrokenTick(t *testing.T) {
	engine := NewEngine(defaultScoring())

	healthy, err := engine.infrastructure(telemetry(19500, 0, 20, nil))
	require.NoError(t, err)
	broken, err := engine.infrastructure(telemetry(4000, 0, 20, nil))
	require.NoError(t, err)

	assert.InDelta(t, 0.975, healthy, 1e-9)
	assert.InDelta(t, 0.02, broken, 1e-9)
}

func TestParticipationRequiresAllTags(t *testing.T) {
	cfg := defaultScoring()
	engine := NewEngine(cfg)

	missing := append([]string{}, cfg.RequiredTags[1:]...)
	part, err := engine.participation(telemetry(20000, 0, 20, missing))
	require.NoError(t, err)
	assert.Zero(t, part)

	full := append(append([]string{}, cfg.RequiredTags...), cfg.BonusTags...)
	part, err = engine.participation(telemetry(20000, 0, 20, full))
	require.NoError(t, err)
	assert.InDelta(t, cfg.WeightPartCompliance*1.0, part, 1e-9)
}

func TestParticipationOccupancyBand(t *testing.T) {
	cfg := defaultScoring()
	engine := NewEngine(cfg)

	// 196 of 200 declared slots sits above the near-saturation threshold.
	crowded, err := engine.participation(telemetry(20000, 196, 200, cfg.RequiredTags))
	require.NoError(t, err)
	optimal, err := engine.participation(telemetry(20000, 100, 200, cfg.RequiredTags))
	require.NoError(t, err)

	wantCrowded := cfg.WeightPartCompliance*0.6 + cfg.WeightPartPlayers*(196.0/200.0*0.8)
	wantOptimal := cfg.WeightPartCompliance*0.6 + cfg.WeightPartPlayers*(100.0/200.0*1.2)
	assert.InDelta(t, wantCrowded, crowded, 1e-9)
	assert.InDelta(t, wantOptimal, optimal, 1e-9)
}

func TestReliabilityFallsBackToUptime(t *testing.T) {
	engine := NewEngine(defaultScoring())

	report := telemetry(20000, 0, 20, nil)
	report.Payload.SystemInfo.UptimeMS = 36 * 3600 * 1000

	rely, err := engine.reliability(report, steadyHistory(2, 20000), 1.0)
	require.NoError(t, err)
	// 36h against the 36h half-bonus window, halved.
	assert.InDelta(t, 0.5, rely, 1e-9)
}

func TestReliabilityDominatedByPlayerPower(t *testing.T) {
	engine := NewEngine(defaultScoring())
	report := telemetry(20000, 0, 20, nil)
	history := steadyHistory(30, 20000)

	low, err := engine.reliability(report, history, 0)
	require.NoError(t, err)
	high, err := engine.reliability(report, history, 1.0)
	require.NoError(t, err)

	assert.InDelta(t, 0.90, high-low, 1e-9)
}

func TestStabilityNeedsWindow(t *testing.T) {
	engine := NewEngine(defaultScoring())

	assert.InDelta(t, 0.5, engine.stability(steadyHistory(5, 20000)), 1e-9)

	// A perfectly flat window at the ideal rate earns the full bonus.
	assert.InDelta(t, 1.0, engine.stability(steadyHistory(20, 20000)), 1e-9)
}

func TestStabilityTooFewValidSamples(t *testing.T) {
	engine := NewEngine(defaultScoring())

	// Every sample below the broken threshold is discarded.
	assert.InDelta(t, 0.1, engine.stability(steadyHistory(20, 1000)), 1e-9)
}

func TestRecoveryPenalizesUnresolvedDips(t *testing.T) {
	engine := NewEngine(defaultScoring())

	assert.InDelta(t, 1.0, engine.recovery(steadyHistory(30, 20000)), 1e-9)

	// A dip near the end never accumulates enough good samples to recover.
	dipped := steadyHistory(30, 20000)
	dipped[25] = telemetry(10000, 10, 100, nil)
	dipped[25].ClientTimestampMS = dipped[24].ClientTimestampMS + 60_000
	assert.InDelta(t, 0.5, engine.recovery(dipped), 1e-9)
}

func TestRecoveryWithinBudget(t *testing.T) {
	engine := NewEngine(defaultScoring())

	history := steadyHistory(30, 20000)
	history[5] = telemetry(10000, 10, 100, nil)
	history[5].ClientTimestampMS = history[4].ClientTimestampMS + 60_000

	// Ten good one-minute samples follow the dip: recovery in 10 minutes of
	// the 30 minute budget costs 10% of the multiplier.
	assert.InDelta(t, 0.9, engine.recovery(history), 1e-9)
}

func TestNormalizeClamps(t *testing.T) {
	engine := NewEngine(defaultScoring())
	assert.Equal(t, 0, engine.normalize(-0.5))
	assert.Equal(t, 1000, engine.normalize(1.5))
	assert.Equal(t, 500, engine.normalize(0.5))
}
