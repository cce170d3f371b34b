// Package models defines the data structures exchanged with the collector
// service, the scan providers and the persistence layer.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NullPlayerID is the sentinel identifier reported for players whose stable
// identity is unknown. It never counts as an identity.
const NullPlayerID = "00000000-0000-0000-0000-000000000000"

// Capacity and tick bounds accepted from telemetry payloads. Values outside
// are clamped or defaulted during decoding, never rejected.
const (
	minCapacity       = 1
	maxCapacity       = 50000
	defaultCapacity   = 20
	maxTickMillis     = 25000
	defaultTickMillis = 50
)

// ActivePlayer is one player slot in a telemetry payload. Collectors may send
// either a plain name string or an object with a stable identifier and an
// optional engagement power value.
type ActivePlayer struct {
	Name  string  `json:"name"`
	UUID  string  `json:"uuid"`
	Power float64 `json:"power,omitempty"`
}

// UnmarshalJSON accepts both the object form and the legacy bare-name form.
func (p *ActivePlayer) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*p = ActivePlayer{Name: name, UUID: NullPlayerID}
		return nil
	}

	type alias ActivePlayer
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	*p = ActivePlayer(a)
	if p.Name == "" {
		p.Name = "Unknown"
	}
	if !validUUID(p.UUID) {
		p.UUID = NullPlayerID
	}
	if p.Power < 0 {
		p.Power = 0
	}

	return nil
}

func validUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	dashes := 0
	for _, r := range s {
		if r == '-' {
			dashes++
		}
	}
	return dashes == 4
}

// MemoryInfo describes the memory section of a telemetry payload.
type MemoryInfo struct {
	FreeBytes  int64 `json:"free_memory_bytes"`
	UsedBytes  int64 `json:"used_memory_bytes"`
	TotalBytes int64 `json:"total_memory_bytes"`
}

// FreeRatio returns the free memory fraction, zero when totals are unknown.
func (m MemoryInfo) FreeRatio() float64 {
	if m.TotalBytes <= 0 {
		return 0
	}
	ratio := float64(m.FreeBytes) / float64(m.TotalBytes)
	if ratio > 1 {
		return 1
	}
	return ratio
}

// SystemInfo describes the host running the reporting server.
type SystemInfo struct {
	CPUCores   int        `json:"cpu_cores"`
	CPUThreads int        `json:"cpu_threads"`
	CPUModel   string     `json:"cpu_model"`
	OSName     string     `json:"os_name"`
	OSVersion  string     `json:"os_version"`
	OSArch     string     `json:"os_arch"`
	UptimeMS   int64      `json:"uptime_ms"`
	MemoryRAM  MemoryInfo `json:"memory_ram_info"`
}

// UptimeHours converts the reported uptime into hours.
func (s SystemInfo) UptimeHours() float64 {
	return float64(s.UptimeMS) / (1000 * 60 * 60)
}

// Payload is the body of one self-reported telemetry snapshot.
type Payload struct {
	ActivePlayers []ActivePlayer `json:"active_players"`
	MaxPlayers    int            `json:"max_players"`
	Plugins       []string       `json:"plugins"`
	SystemInfo    SystemInfo     `json:"system_info"`
	TickMillis    int            `json:"tps_millis"`
	UptimeMS      int64          `json:"uptime_ms"`
	MemoryRAM     MemoryInfo     `json:"memory_ram_info"`
}

// UnmarshalJSON decodes a payload defensively: absent or absurd values fall
// back to safe defaults rather than failing the whole report.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias struct {
		ActivePlayers []ActivePlayer  `json:"active_players"`
		MaxPlayers    *int            `json:"max_players"`
		Plugins       json.RawMessage `json:"plugins"`
		SystemInfo    SystemInfo      `json:"system_info"`
		TickMillis    *int            `json:"tps_millis"`
		UptimeMS      int64           `json:"uptime_ms"`
		MemoryRAM     MemoryInfo      `json:"memory_ram_info"`
	}

	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	p.ActivePlayers = a.ActivePlayers
	p.SystemInfo = a.SystemInfo
	p.UptimeMS = a.UptimeMS
	p.MemoryRAM = a.MemoryRAM

	p.MaxPlayers = defaultCapacity
	if a.MaxPlayers != nil {
		p.MaxPlayers = *a.MaxPlayers
	}
	if p.MaxPlayers < minCapacity {
		p.MaxPlayers = minCapacity
	} else if p.MaxPlayers > maxCapacity {
		p.MaxPlayers = maxCapacity
	}

	p.TickMillis = defaultTickMillis
	if a.TickMillis != nil && *a.TickMillis >= 0 && *a.TickMillis <= maxTickMillis {
		p.TickMillis = *a.TickMillis
	}

	p.Plugins = decodePlugins(a.Plugins)

	return nil
}

// decodePlugins accepts a JSON list of strings or a single bare string.
func decodePlugins(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	out := list[:0]
	for _, plugin := range list {
		if plugin != "" {
			out = append(out, plugin)
		}
	}
	return out
}

// TickRate converts the reported tick interval into ticks per second,
// capped at the protocol maximum of 20.
func (p Payload) TickRate() float64 {
	if p.TickMillis <= 0 {
		return 0
	}
	rate := float64(p.TickMillis) / 1000.0
	if rate > 20 {
		return 20
	}
	return rate
}

// PlayerCount returns the number of reported active players.
func (p Payload) PlayerCount() int {
	return len(p.ActivePlayers)
}

// Report is one self-reported telemetry snapshot from an entity. Reports are
// immutable; newer reports supersede older ones.
type Report struct {
	ID                string  `json:"id"`
	ServerID          string  `json:"server_id"`
	Counter           int64   `json:"counter"`
	ClientTimestampMS int64   `json:"client_timestamp_ms"`
	Payload           Payload `json:"payload"`
	CreatedAt         string  `json:"created_at"`
}

// Age returns the report age relative to now.
func (r Report) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.ClientTimestampMS))
}

// CatalogEntry is one server in the collector's public catalog feed.
type CatalogEntry struct {
	ID            string `json:"id"`
	Hotkey        string `json:"hotkey"`
	IP            string `json:"ip"`
	Hostname      string `json:"hostname"`
	Port          *int   `json:"port"`
	ActivePlayers *int   `json:"active_players"`
	MaxPlayers    *int   `json:"max_players"`
}

// Address returns the host:port scan address, or an empty string when the
// entry lacks network coordinates.
func (e CatalogEntry) Address() string {
	host := e.IP
	if host == "" {
		host = e.Hostname
	}
	if host == "" || e.Port == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", host, *e.Port)
}

// Observation is the raw per-provider probe result. Pointer fields
// distinguish "absent from the response" from legitimate zero values.
type Observation struct {
	Online     *bool
	Players    *int
	MaxPlayers *int
	PingMS     *float64
}

// ScanResult is the authoritative independent observation for one address in
// one cycle. Players and MaxPlayers stay nil when no provider reported them.
type ScanResult struct {
	Address    string    `json:"address"`
	ServerID   string    `json:"server_id"`
	Hotkey     string    `json:"hotkey,omitempty"`
	Online     bool      `json:"online"`
	Players    *int      `json:"players"`
	MaxPlayers *int      `json:"max_players"`
	PingMS     float64   `json:"ping_ms"`
	Provider   string    `json:"provider"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Components is the named score breakdown emitted alongside every score.
type Components struct {
	Infrastructure float64 `json:"infrastructure"`
	Participation  float64 `json:"participation"`
	Reliability    float64 `json:"reliability"`
	RawCombined    float64 `json:"raw_combined"`
}

// ScoreCacheEntry is the last computed score for an entity.
type ScoreCacheEntry struct {
	Score      int        `json:"score"`
	RawScore   int        `json:"raw_score"`
	Components Components `json:"components"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Vote is the verdict payload submitted to the collector for one entity.
type Vote struct {
	Verdict       string         `json:"verdict"`
	Reason        string         `json:"reason"`
	Evidence      string         `json:"report_evidence"`
	Expected      map[string]any `json:"value_expected"`
	Got           map[string]any `json:"value_got"`
	ObservedAt    string         `json:"observed_at"`
	ClientVersion string         `json:"client_version"`
}
