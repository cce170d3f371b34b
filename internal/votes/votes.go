// Package votes builds and submits verdict payloads derived from validation
// decisions.
package votes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilmc/vigil/internal/models"
	"github.com/vigilmc/vigil/internal/scoring"
)

// Poster is the slice of the collector client used for vote submission.
type Poster interface {
	SubmitVote(ctx context.Context, serverID string, vote models.Vote) (int, error)
	EvidenceURL(serverID string) string
}

// Input is everything known about one entity's cycle outcome that a verdict
// can be built from. An empty Reason means the entity passed validation.
type Input struct {
	ServerID string
	Reason   scoring.ZeroReason
	Score    int

	ReportPlayers    *int
	ReportMaxPlayers *int
	ScanPlayers      *int
	ScanMaxPlayers   *int
	ScanOnline       *bool
}

// Summary counts the outcomes of one submission batch.
type Summary struct {
	Submitted int `json:"submitted"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Recorder persists submitted votes for auditing. Optional.
type Recorder interface {
	InsertVote(serverID string, vote models.Vote, status int) error
}

// Client constructs and submits votes against the collector.
type Client struct {
	api             Poster
	recorder        Recorder
	clientVersion   string
	playerTolerance int
	now             func() time.Time
}

// NewClient creates a vote client. recorder may be nil.
func NewClient(api Poster, recorder Recorder, clientVersion string, playerTolerance int) *Client {
	return &Client{
		api:             api,
		recorder:        recorder,
		clientVersion:   clientVersion,
		playerTolerance: playerTolerance,
		now:             time.Now,
	}
}

// SubmitAll builds and submits a vote for every entry that yields one.
// Failures are counted, never propagated; a vote is fire-and-forget.
func (c *Client) SubmitAll(ctx context.Context, entries []Input) Summary {
	var summary Summary
	for _, entry := range entries {
		vote, ok := c.Build(entry)
		if !ok {
			summary.Skipped++
			continue
		}

		status, err := c.api.SubmitVote(ctx, entry.ServerID, vote)
		if err != nil {
			log.Error().Err(err).Str("server_id", entry.ServerID).Msg("Failed to submit vote")
			summary.Errors++
			continue
		}

		if c.recorder != nil {
			if err := c.recorder.InsertVote(entry.ServerID, vote, status); err != nil {
				log.Error().Err(err).Str("server_id", entry.ServerID).Msg("Failed to record vote")
			}
		}

		if status < 200 || status >= 300 {
			log.Error().Int("status", status).Str("server_id", entry.ServerID).Msg("Vote rejected")
			summary.Errors++
			continue
		}
		summary.Submitted++
	}
	return summary
}

// Build constructs the vote payload for one entry. Returns false when the
// entry warrants no vote (insufficient data, zero score without a reason).
func (c *Client) Build(in Input) (models.Vote, bool) {
	var (
		verdict  string
		reason   string
		expected = map[string]any{}
		got      = map[string]any{}
	)

	switch {
	case in.Reason != "":
		verdict = "suspicious"
		reason, expected, got = c.suspicious(in)
	case in.Score > 0:
		verdict = "trusted"
		reason, expected, got = c.trusted(in)
	default:
		return models.Vote{}, false
	}

	if reason == "" {
		return models.Vote{}, false
	}

	return models.Vote{
		Verdict:       verdict,
		Reason:        reason,
		Evidence:      c.api.EvidenceURL(in.ServerID),
		Expected:      compact(expected),
		Got:           compact(got),
		ObservedAt:    c.now().UTC().Format(time.RFC3339),
		ClientVersion: c.clientVersion,
	}, true
}

func (c *Client) suspicious(in Input) (string, map[string]any, map[string]any) {
	expected := map[string]any{}
	got := map[string]any{}

	switch in.Reason {
	case scoring.ReasonCapacity:
		var reason string
		switch {
		case in.ScanMaxPlayers != nil && in.ReportMaxPlayers != nil:
			reason = fmt.Sprintf(
				"Scanner observed max player capacity %d while collector report indicated %d.",
				*in.ScanMaxPlayers, *in.ReportMaxPlayers)
		case in.ReportMaxPlayers != nil:
			reason = fmt.Sprintf(
				"Collector report indicated max player capacity %d, but the scanner value was unavailable.",
				*in.ReportMaxPlayers)
		default:
			reason = "Scanner and collector disagreed on max player capacity."
		}
		expected["max_players"] = deref(in.ScanMaxPlayers)
		got["max_players"] = deref(in.ReportMaxPlayers)
		return reason, expected, got

	case scoring.ReasonPlayerCount:
		var reason string
		if in.ScanPlayers != nil && in.ReportPlayers != nil {
			reason = fmt.Sprintf(
				"Collector report returned player count %d, exceeding scanner observation %d by more than %d.",
				*in.ReportPlayers, *in.ScanPlayers, c.playerTolerance)
		} else {
			reason = "Collector report player counts exceeded scanner observations beyond the configured tolerance."
		}
		expected["players"] = deref(in.ScanPlayers)
		expected["tolerance"] = c.playerTolerance
		got["players"] = deref(in.ReportPlayers)
		return reason, expected, got

	case scoring.ReasonScanOffline:
		expected["online"] = true
		got["scanner_online"] = deref(in.ScanOnline)
		got["report_players"] = deref(in.ReportPlayers)
		return "Scanner reported the server offline while collector telemetry remained available.",
			expected, got

	case scoring.ReasonScanMissing:
		return "Scanner did not return data for this server during the validation window.",
			expected, got

	case scoring.ReasonNoReports:
		return "Collector returned no fresh reports for this server during the validation window.",
			expected, got

	case scoring.ReasonReportsStale:
		got["report_age_hours"] = 6
		return "Collector reports were older than 6 hours, suggesting stale or missing telemetry.",
			expected, got

	default:
		return fmt.Sprintf("Server flagged as suspicious due to %s.", in.Reason), expected, got
	}
}

func (c *Client) trusted(in Input) (string, map[string]any, map[string]any) {
	var parts []string
	if in.ScanPlayers != nil && in.ReportPlayers != nil {
		parts = append(parts, fmt.Sprintf("player counts matched at %d", *in.ReportPlayers))
	}
	if in.ScanMaxPlayers != nil && in.ReportMaxPlayers != nil {
		parts = append(parts, fmt.Sprintf("max player capacity matched at %d", *in.ReportMaxPlayers))
	}

	reason := "Scanner and collector metrics aligned within thresholds during this cycle."
	if len(parts) > 0 {
		reason = "Scanner and collector metrics aligned: " + strings.Join(parts, ", ") + "."
	}

	expected := map[string]any{
		"players":     deref(in.ScanPlayers),
		"max_players": deref(in.ScanMaxPlayers),
	}
	got := map[string]any{
		"players":     deref(in.ReportPlayers),
		"max_players": deref(in.ReportMaxPlayers),
	}
	return reason, expected, got
}

// compact drops nil values so absent observations never serialize as null.
func compact(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, val := range values {
		if val != nil {
			out[key] = val
		}
	}
	return out
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
