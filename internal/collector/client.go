// Package collector implements the HTTP client for the report/catalog
// collector service: catalog feed, per-entity report pages, hotkey-to-entity
// mappings and vote submission.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/vigilmc/vigil/internal/config"
	"github.com/vigilmc/vigil/internal/models"
)

// mappingChunks caps how many requests a single mapping refresh may issue.
const mappingChunks = 5

// StatusError reports a non-2xx collector response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector returned status %d: %s", e.Status, e.Body)
}

// Client talks to the collector service. All methods take a context and
// return explicit errors; rate limiting on the mappings endpoint is handled
// internally because the upstream allows only 5 requests per minute.
type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	reportsLimit int
	mapLimiter   *rate.Limiter
}

// New creates a collector client from configuration.
func New(cfg config.Collector) *Client {
	interval := cfg.MappingsInterval
	if interval <= 0 {
		interval = 12500 * time.Millisecond
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		apiKey:       cfg.APIKey,
		http:         &http.Client{Timeout: cfg.Timeout},
		reportsLimit: cfg.ReportsLimit,
		mapLimiter:   rate.NewLimiter(rate.Every(interval), 1),
	}
}

// BaseURL returns the configured collector base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ReportsLimit returns the default per-entity report fetch limit.
func (c *Client) ReportsLimit() int {
	return c.reportsLimit
}

type itemsEnvelope struct {
	Items []json.RawMessage `json:"items"`
}

func (c *Client) get(ctx context.Context, url string, authorized bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: truncate(body, 256)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}

	return nil
}

// Catalog fetches the current public server catalog. Entries without an id
// are dropped. The endpoint is unauthenticated.
func (c *Client) Catalog(ctx context.Context) ([]models.CatalogEntry, error) {
	var envelope itemsEnvelope
	if err := c.get(ctx, c.baseURL+"/servers", false, &envelope); err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}

	entries := make([]models.CatalogEntry, 0, len(envelope.Items))
	for _, raw := range envelope.Items {
		var entry models.CatalogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Debug().Err(err).Msg("Skipping malformed catalog entry")
			continue
		}
		if entry.ID == "" {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Reports fetches up to limit reports for one entity, newest first. Reports
// that fail to decode are skipped individually.
func (c *Client) Reports(ctx context.Context, serverID string, limit int) ([]models.Report, error) {
	if serverID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	if limit <= 0 {
		limit = c.reportsLimit
	}

	url := fmt.Sprintf("%s/validators/servers/%s/reports?limit=%d", c.baseURL, serverID, limit)

	var envelope itemsEnvelope
	if err := c.get(ctx, url, true, &envelope); err != nil {
		return nil, fmt.Errorf("fetch reports for %s: %w", serverID, err)
	}

	reports := make([]models.Report, 0, len(envelope.Items))
	for _, raw := range envelope.Items {
		var report models.Report
		if err := json.Unmarshal(raw, &report); err != nil {
			log.Debug().Err(err).Str("server_id", serverID).Msg("Skipping malformed report")
			continue
		}
		reports = append(reports, report)
	}

	return reports, nil
}

// Mappings resolves owner hotkeys to their registered entity ids. Hotkeys are
// deduplicated preserving order and split into at most five chunked requests;
// each chunk waits on the shared rate limiter. A partial result with the
// first error status is returned when some chunks fail.
func (c *Client) Mappings(ctx context.Context, hotkeys []string) (map[string][]string, error) {
	unique := dedupe(hotkeys)
	if len(unique) == 0 {
		return nil, fmt.Errorf("no hotkeys to resolve")
	}

	chunkCount := min(mappingChunks, len(unique))
	chunkSize := (len(unique) + chunkCount - 1) / chunkCount

	mappings := make(map[string][]string)
	var firstErr error

	for start := 0; start < len(unique); start += chunkSize {
		end := min(start+chunkSize, len(unique))

		if err := c.mapLimiter.Wait(ctx); err != nil {
			return mappings, err
		}

		if err := c.mappingsChunk(ctx, unique[start:end], mappings); err != nil {
			log.Error().Err(err).Int("offset", start).Msg("Mapping chunk failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(mappings) == 0 && firstErr != nil {
		return nil, firstErr
	}

	return mappings, nil
}

func (c *Client) mappingsChunk(ctx context.Context, hotkeys []string, out map[string][]string) error {
	query := url.Values{"hotkeys": {strings.Join(hotkeys, ",")}}

	var envelope itemsEnvelope
	if err := c.get(ctx, c.baseURL+"/validators/servers/ids?"+query.Encode(), true, &envelope); err != nil {
		return err
	}

	for _, raw := range envelope.Items {
		var item struct {
			ID     string `json:"id"`
			Hotkey string `json:"hotkey"`
		}
		if err := json.Unmarshal(raw, &item); err != nil || item.ID == "" || item.Hotkey == "" {
			continue
		}
		out[item.Hotkey] = append(out[item.Hotkey], item.ID)
	}

	return nil
}

// SubmitVote posts a verdict for one entity. The returned status is the HTTP
// status of the attempt; transport failures return status 0 and an error.
func (c *Client) SubmitVote(ctx context.Context, serverID string, vote models.Vote) (int, error) {
	if serverID == "" {
		return 0, fmt.Errorf("server id is required")
	}

	body, err := json.Marshal(vote)
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/validators/servers/%s/vote", c.baseURL, serverID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

// EvidenceURL returns the public URL pointing at an entity's report history,
// attached to votes as supporting evidence.
func (c *Client) EvidenceURL(serverID string) string {
	return c.baseURL + "/validators/servers/" + serverID + "/reports"
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func truncate(body []byte, n int) string {
	s := string(body)
	if len(s) > n {
		return s[:n] + " (truncated, " + strconv.Itoa(len(s)) + " bytes total)"
	}
	return s
}
