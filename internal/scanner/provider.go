// Package scanner cross-validates catalog addresses against a rotating pool
// of independent third-party status providers.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vigilmc/vigil/internal/models"
)

// ErrRateLimited marks a provider response carrying a rate-limit signal.
// The scanner disables the provider for the remainder of the cycle.
var ErrRateLimited = errors.New("provider rate limited")

// Provider is one third-party status source. Probe translates the provider's
// own response shape into the common observation record.
type Provider interface {
	Name() string
	Probe(ctx context.Context, address string) (models.Observation, error)
}

// splitHostPort splits "host:port" into its parts. Addresses without a valid
// port component are returned with a nil port.
func splitHostPort(address string) (string, *int) {
	if strings.Count(address, ":") != 1 {
		return address, nil
	}

	host, portStr, _ := strings.Cut(address, ":")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, nil
	}

	return host, &port
}

// fetchJSON executes a GET against a provider endpoint and decodes the JSON
// body into out. HTTP 429 maps to ErrRateLimited.
func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", url, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", url, err)
	}

	return nil
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
