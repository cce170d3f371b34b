package weights

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/vigilmc/vigil/internal/config"
)

// Submitter delivers one integer weight vector to the consensus layer for
// one mechanism. Implementations live outside this package.
type Submitter interface {
	SetWeights(ctx context.Context, mechanism string, uids []int, values []uint16) error
}

// mechanismState tracks the submission cadence for one mechanism.
type mechanismState struct {
	lastUpdate  time.Time
	lastAttempt time.Time
	nextUpdate  time.Time
	lastDigest  uint64
}

// Manager schedules weight submissions per mechanism, enforcing the update
// interval, the retry interval after failed or empty submissions, and
// digest-based idempotence: a vector bit-identical to the last successfully
// submitted one is skipped.
type Manager struct {
	cfg       config.Weights
	submitter Submitter
	now       func() time.Time

	mu     sync.Mutex
	states map[string]*mechanismState
}

// NewManager creates a submission manager.
func NewManager(cfg config.Weights, submitter Submitter) *Manager {
	return &Manager{
		cfg:       cfg,
		submitter: submitter,
		now:       time.Now,
		states:    make(map[string]*mechanismState),
	}
}

// Offer submits the vector for a mechanism if its cadence allows. Returns
// true when a submission was actually performed.
func (m *Manager) Offer(ctx context.Context, mechanism string, v Vector) bool {
	now := m.now()

	m.mu.Lock()
	state, ok := m.states[mechanism]
	if !ok {
		state = &mechanismState{}
		m.states[mechanism] = state
	}
	if !m.shouldUpdateLocked(state, now) {
		m.mu.Unlock()
		return false
	}
	state.lastAttempt = now
	m.mu.Unlock()

	uids, vals, err := ConvertForEmit(v)
	if err != nil {
		log.Error().Err(err).Str("mechanism", mechanism).Msg("Weight vector rejected")
		m.scheduleRetry(mechanism, now)
		return false
	}
	if len(vals) == 0 {
		log.Warn().Str("mechanism", mechanism).Msg("No weights to set")
		m.scheduleRetry(mechanism, now)
		return false
	}

	d := digest(uids, vals)

	m.mu.Lock()
	if state.lastDigest != 0 && state.lastDigest == d {
		// Identical to the last accepted vector. Treat as submitted so the
		// cadence advances without touching the chain.
		state.lastUpdate = now
		state.nextUpdate = now.Add(m.cfg.UpdateInterval)
		m.mu.Unlock()
		log.Debug().Str("mechanism", mechanism).Msg("Weight vector unchanged, skipping submission")
		return false
	}
	m.mu.Unlock()

	if err := m.submitter.SetWeights(ctx, mechanism, uids, vals); err != nil {
		log.Error().Err(err).Str("mechanism", mechanism).Msg("Failed to set weights")
		m.scheduleRetry(mechanism, now)
		return false
	}

	m.mu.Lock()
	state.lastUpdate = m.now()
	state.nextUpdate = state.lastUpdate.Add(m.cfg.UpdateInterval)
	state.lastDigest = d
	m.mu.Unlock()

	log.Info().
		Str("mechanism", mechanism).
		Int("uids", len(uids)).
		Msg("Weights updated")
	return true
}

// State is a point-in-time view of one mechanism's submission cadence.
type State struct {
	LastUpdate  time.Time `json:"last_update"`
	LastAttempt time.Time `json:"last_attempt"`
	NextUpdate  time.Time `json:"next_update"`
}

// States reports the cadence state of every mechanism seen so far.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.states))
	for name, s := range m.states {
		out[name] = State{
			LastUpdate:  s.lastUpdate,
			LastAttempt: s.lastAttempt,
			NextUpdate:  s.nextUpdate,
		}
	}
	return out
}

// shouldUpdateLocked applies the cadence rules for one mechanism.
func (m *Manager) shouldUpdateLocked(state *mechanismState, now time.Time) bool {
	if now.Before(state.nextUpdate) {
		return false
	}
	if !state.lastUpdate.IsZero() && now.Sub(state.lastUpdate) < m.cfg.UpdateInterval {
		return false
	}
	return true
}

func (m *Manager) scheduleRetry(mechanism string, attempt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[mechanism]; ok {
		state.nextUpdate = attempt.Add(m.cfg.RetryInterval)
	}
}

// digest hashes the integer wire representation for idempotence checks.
func digest(uids []int, vals []uint16) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for i := range uids {
		binary.LittleEndian.PutUint64(buf[:], uint64(uids[i]))
		_, _ = h.Write(buf[:])
		binary.LittleEndian.PutUint16(buf[:2], vals[i])
		_, _ = h.Write(buf[:2])
	}
	return h.Sum64()
}
