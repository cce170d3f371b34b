package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilmc/vigil/internal/models"
)

func numberedReport(counter int64) models.Report {
	return models.Report{ServerID: "srv-1", Counter: counter}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.Push(numberedReport(i))
	}

	require.Equal(t, 3, h.Len())
	snapshot := h.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, int64(3), snapshot[0].Counter)
	assert.Equal(t, int64(5), snapshot[2].Counter)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(5), latest.Counter)
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory(3)
	assert.Zero(t, h.Len())
	assert.Empty(t, h.Snapshot())

	_, ok := h.Latest()
	assert.False(t, ok)
}

func TestHistorySnapshotIsACopy(t *testing.T) {
	h := NewHistory(2)
	h.Push(numberedReport(1))

	snapshot := h.Snapshot()
	snapshot[0].Counter = 99

	latest, _ := h.Latest()
	assert.Equal(t, int64(1), latest.Counter)
}

func TestHistoryFromReportsNewestFirst(t *testing.T) {
	newestFirst := []models.Report{
		numberedReport(5),
		numberedReport(4),
		numberedReport(3),
		numberedReport(2),
		numberedReport(1),
	}

	h := HistoryFromReports(3, newestFirst)
	snapshot := h.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, int64(3), snapshot[0].Counter)
	assert.Equal(t, int64(5), snapshot[2].Counter)
}

func TestClassifyBands(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{1000, "excellent"},
		{850, "excellent"},
		{849, "good"},
		{650, "good"},
		{649, "average"},
		{300, "average"},
		{299, "poor"},
		{0, "poor"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %d", tt.score)
	}
}
