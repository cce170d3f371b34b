// Package scoring turns validated telemetry reports into smoothed, bounded
// reputation scores.
package scoring

import "github.com/vigilmc/vigil/internal/models"

// History is a fixed-capacity sliding window of reports for one entity.
// The capacity is a contract: once full, pushing a new report evicts the
// oldest one. The zero value is not usable, call NewHistory.
type History struct {
	buf   []models.Report
	start int
	count int
}

// NewHistory creates a history window with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]models.Report, capacity)}
}

// Push appends a report, evicting the oldest when the window is full.
func (h *History) Push(r models.Report) {
	if h.count < len(h.buf) {
		h.buf[(h.start+h.count)%len(h.buf)] = r
		h.count++
		return
	}
	h.buf[h.start] = r
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of reports currently held.
func (h *History) Len() int { return h.count }

// Cap returns the window capacity.
func (h *History) Cap() int { return len(h.buf) }

// Latest returns the most recently pushed report, or false when empty.
func (h *History) Latest() (models.Report, bool) {
	if h.count == 0 {
		return models.Report{}, false
	}
	return h.buf[(h.start+h.count-1)%len(h.buf)], true
}

// Snapshot returns the window contents ordered oldest to newest. The slice
// is a copy; mutating it does not affect the window.
func (h *History) Snapshot() []models.Report {
	out := make([]models.Report, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

// HistoryFromReports builds a window from reports ordered newest first, the
// order the collector returns them in. Reports beyond the capacity are
// dropped from the old end.
func HistoryFromReports(capacity int, newestFirst []models.Report) *History {
	h := NewHistory(capacity)
	for i := len(newestFirst) - 1; i >= 0; i-- {
		h.Push(newestFirst[i])
	}
	return h
}
