package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilmc/vigil/internal/models"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := New(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func scoreRow(serverID string, score int, updatedAt time.Time) ScoreRow {
	return ScoreRow{
		Mechanism: "minecraft",
		ServerID:  serverID,
		Hotkey:    "hk-" + serverID,
		Entry: models.ScoreCacheEntry{
			Score:    score,
			RawScore: score,
			Components: models.Components{
				Infrastructure: 0.9,
				Participation:  0.5,
				Reliability:    0.7,
			},
			UpdatedAt: updatedAt,
		},
	}
}

func TestUpsertAndLoadScores(t *testing.T) {
	repo := testRepo(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.UpsertScore(scoreRow("srv-1", 640, now)))
	require.NoError(t, repo.UpsertScore(scoreRow("srv-2", 120, now)))

	// Upsert replaces, not duplicates.
	require.NoError(t, repo.UpsertScore(scoreRow("srv-1", 700, now.Add(time.Minute))))

	rows, err := repo.LoadScores("minecraft")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "srv-1", rows[0].ServerID)
	assert.Equal(t, 700, rows[0].Entry.Score)
	assert.InDelta(t, 0.9, rows[0].Entry.Components.Infrastructure, 1e-9)
	assert.Equal(t, "hk-srv-1", rows[0].Hotkey)
}

func TestLoadScoresIsolatesMechanisms(t *testing.T) {
	repo := testRepo(t)
	now := time.Now()

	require.NoError(t, repo.UpsertScore(scoreRow("srv-1", 640, now)))

	other := scoreRow("srv-1", 900, now)
	other.Mechanism = "tcl"
	require.NoError(t, repo.UpsertScore(other))

	rows, err := repo.LoadScores("minecraft")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 640, rows[0].Entry.Score)
}

func TestDeleteStaleScores(t *testing.T) {
	repo := testRepo(t)
	now := time.Now()

	require.NoError(t, repo.UpsertScore(scoreRow("old", 100, now.Add(-200*time.Hour))))
	require.NoError(t, repo.UpsertScore(scoreRow("new", 200, now)))

	deleted, err := repo.DeleteStaleScores(now.Add(-168 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rows, err := repo.LoadScores("minecraft")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].ServerID)
}

func TestInsertAndReadVotes(t *testing.T) {
	repo := testRepo(t)

	vote := models.Vote{
		Verdict:       "suspicious",
		Reason:        "Scanner observed max player capacity 80 while collector report indicated 100.",
		Expected:      map[string]any{"max_players": 80},
		Got:           map[string]any{"max_players": 100},
		ClientVersion: "1.0.0",
	}
	require.NoError(t, repo.InsertVote("srv-1", vote, 201))
	require.NoError(t, repo.InsertVote("srv-1", models.Vote{Verdict: "trusted", Reason: "aligned"}, 200))
	require.NoError(t, repo.InsertVote("srv-2", models.Vote{Verdict: "trusted", Reason: "aligned"}, 200))

	rows, err := repo.RecentVotes("srv-1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "trusted", rows[0].Verdict)
	assert.Equal(t, "suspicious", rows[1].Verdict)
	assert.Equal(t, 201, rows[1].Status)
}
