package votes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilmc/vigil/internal/models"
	"github.com/vigilmc/vigil/internal/scoring"
)

type fakePoster struct {
	status int
	err    error
	votes  []models.Vote
}

func (f *fakePoster) SubmitVote(_ context.Context, _ string, vote models.Vote) (int, error) {
	f.votes = append(f.votes, vote)
	if f.err != nil {
		return 0, f.err
	}
	return f.status, nil
}

func (f *fakePoster) EvidenceURL(serverID string) string {
	return "https://collector.test/validators/servers/" + serverID + "/reports"
}

func intRef(v int) *int    { return &v }
func boolRef(v bool) *bool { return &v }

func TestBuildCapacityMismatch(t *testing.T) {
	c := NewClient(&fakePoster{}, nil, "1.2.3", 5)

	vote, ok := c.Build(Input{
		ServerID:         "srv-1",
		Reason:           scoring.ReasonCapacity,
		ReportMaxPlayers: intRef(100),
		ScanMaxPlayers:   intRef(80),
	})

	require.True(t, ok)
	assert.Equal(t, "suspicious", vote.Verdict)
	assert.Contains(t, vote.Reason, "max player capacity 80")
	assert.Contains(t, vote.Reason, "indicated 100")
	assert.Equal(t, 80, vote.Expected["max_players"])
	assert.Equal(t, 100, vote.Got["max_players"])
	assert.Equal(t, "1.2.3", vote.ClientVersion)
	assert.Contains(t, vote.Evidence, "/validators/servers/srv-1/reports")
}

func TestBuildPlayerCountMismatch(t *testing.T) {
	c := NewClient(&fakePoster{}, nil, "1.2.3", 5)

	vote, ok := c.Build(Input{
		ServerID:      "srv-1",
		Reason:        scoring.ReasonPlayerCount,
		ReportPlayers: intRef(40),
		ScanPlayers:   intRef(10),
	})

	require.True(t, ok)
	assert.Equal(t, "suspicious", vote.Verdict)
	assert.Contains(t, vote.Reason, "player count 40")
	assert.Contains(t, vote.Reason, "observation 10")
	assert.Equal(t, 5, vote.Expected["tolerance"])
}

func TestBuildOfflineCompactsAbsentValues(t *testing.T) {
	c := NewClient(&fakePoster{}, nil, "1.2.3", 5)

	vote, ok := c.Build(Input{
		ServerID:   "srv-1",
		Reason:     scoring.ReasonScanOffline,
		ScanOnline: boolRef(false),
	})

	require.True(t, ok)
	assert.Equal(t, true, vote.Expected["online"])
	assert.Equal(t, false, vote.Got["scanner_online"])
	// Absent report players must not serialize as null.
	_, present := vote.Got["report_players"]
	assert.False(t, present)
}

func TestBuildTrusted(t *testing.T) {
	c := NewClient(&fakePoster{}, nil, "1.2.3", 5)

	vote, ok := c.Build(Input{
		ServerID:         "srv-1",
		Score:            640,
		ReportPlayers:    intRef(50),
		ReportMaxPlayers: intRef(100),
		ScanPlayers:      intRef(50),
		ScanMaxPlayers:   intRef(100),
	})

	require.True(t, ok)
	assert.Equal(t, "trusted", vote.Verdict)
	assert.Contains(t, vote.Reason, "player counts matched at 50")
	assert.Contains(t, vote.Reason, "max player capacity matched at 100")
}

func TestBuildSkipsZeroScoreWithoutReason(t *testing.T) {
	c := NewClient(&fakePoster{}, nil, "1.2.3", 5)

	_, ok := c.Build(Input{ServerID: "srv-1", Score: 0})
	assert.False(t, ok)
}

func TestSubmitAllCountsOutcomes(t *testing.T) {
	poster := &fakePoster{status: 201}
	c := NewClient(poster, nil, "1.2.3", 5)

	entries := []Input{
		{ServerID: "a", Reason: scoring.ReasonScanMissing},
		{ServerID: "b", Score: 0}, // no vote
		{ServerID: "c", Score: 700},
	}

	summary := c.SubmitAll(context.Background(), entries)
	assert.Equal(t, 2, summary.Submitted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Errors)
	assert.Len(t, poster.votes, 2)
}

func TestSubmitAllRecordsErrors(t *testing.T) {
	poster := &fakePoster{err: errors.New("connection refused")}
	c := NewClient(poster, nil, "1.2.3", 5)

	summary := c.SubmitAll(context.Background(), []Input{
		{ServerID: "a", Reason: scoring.ReasonScanMissing},
	})
	assert.Equal(t, 1, summary.Errors)

	poster = &fakePoster{status: 403}
	c = NewClient(poster, nil, "1.2.3", 5)
	summary = c.SubmitAll(context.Background(), []Input{
		{ServerID: "a", Reason: scoring.ReasonScanMissing},
	})
	assert.Equal(t, 1, summary.Errors)
}
