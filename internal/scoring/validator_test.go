package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilmc/vigil/internal/models"
)

func scanOnline(players, maxPlayers int) *models.ScanResult {
	return &models.ScanResult{
		ServerID:   "srv-1",
		Online:     true,
		Players:    &players,
		MaxPlayers: &maxPlayers,
		Provider:   "mcstatus",
	}
}

func TestValidateScanMissing(t *testing.T) {
	v := NewValidator(defaultScoring())

	d := v.Validate(nil, []models.Report{telemetry(20000, 10, 100, nil)}, true)
	assert.True(t, d.Zero)
	assert.Equal(t, ReasonScanMissing, d.Reason)
}

func TestValidateScanOffline(t *testing.T) {
	v := NewValidator(defaultScoring())

	scan := scanOnline(10, 100)
	scan.Online = false
	d := v.Validate(scan, []models.Report{telemetry(20000, 10, 100, nil)}, true)
	assert.True(t, d.Zero)
	assert.Equal(t, ReasonScanOffline, d.Reason)
}

func TestValidateNoReports(t *testing.T) {
	v := NewValidator(defaultScoring())

	// An established entity losing its reports is a downgrade event.
	d := v.Validate(scanOnline(10, 100), nil, true)
	assert.True(t, d.Zero)
	assert.Equal(t, ReasonNoReports, d.Reason)

	// A brand-new entity without reports is simply skipped.
	d = v.Validate(scanOnline(10, 100), nil, false)
	assert.True(t, d.Skip)
	assert.False(t, d.Zero)
}

func TestValidateStaleReports(t *testing.T) {
	v := NewValidator(defaultScoring())

	old := telemetry(20000, 10, 100, nil)
	old.ClientTimestampMS = time.Now().Add(-7 * time.Hour).UnixMilli()

	d := v.Validate(scanOnline(10, 100), []models.Report{old}, false)
	assert.True(t, d.Zero)
	assert.Equal(t, ReasonReportsStale, d.Reason)
}

func TestValidateCapacityMismatch(t *testing.T) {
	v := NewValidator(defaultScoring())

	d := v.Validate(scanOnline(50, 80), []models.Report{telemetry(19500, 50, 100, nil)}, false)
	assert.True(t, d.Zero)
	assert.Equal(t, ReasonCapacity, d.Reason)
	require.NotNil(t, d.ScanMaxPlayers)
	assert.Equal(t, 80, *d.ScanMaxPlayers)
}

func TestValidatePlayerCountMismatch(t *testing.T) {
	v := NewValidator(defaultScoring())

	// 20 reported against 10 observed exceeds the +5 tolerance.
	d := v.Validate(scanOnline(10, 100), []models.Report{telemetry(20000, 20, 100, nil)}, false)
	assert.True(t, d.Zero)
	assert.Equal(t, ReasonPlayerCount, d.Reason)

	// 14 reported against 10 stays within tolerance.
	d = v.Validate(scanOnline(10, 100), []models.Report{telemetry(20000, 14, 100, nil)}, false)
	assert.False(t, d.Zero)
	require.NotNil(t, d.Report)
}

func TestValidateUnknownScanFieldsAreTolerated(t *testing.T) {
	v := NewValidator(defaultScoring())

	// A provider that omits player fields must not trigger a mismatch.
	scan := &models.ScanResult{ServerID: "srv-1", Online: true, Provider: "xdefcon"}
	d := v.Validate(scan, []models.Report{telemetry(20000, 50, 100, nil)}, false)
	assert.False(t, d.Zero)
	require.NotNil(t, d.Report)
}

func TestValidatePassKeepsFreshHistoryOnly(t *testing.T) {
	v := NewValidator(defaultScoring())

	fresh := telemetry(19500, 10, 100, nil)
	stale := telemetry(19500, 10, 100, nil)
	stale.ClientTimestampMS = time.Now().Add(-8 * time.Hour).UnixMilli()

	d := v.Validate(scanOnline(10, 100), []models.Report{fresh, stale}, false)
	require.False(t, d.Zero)
	require.NotNil(t, d.Report)
	assert.Len(t, d.History, 1)
	assert.Equal(t, fresh.ClientTimestampMS, d.Report.ClientTimestampMS)
}

func TestValidateDecisionOrder(t *testing.T) {
	v := NewValidator(defaultScoring())

	// Offline wins over every report-level problem.
	scan := scanOnline(10, 80)
	scan.Online = false
	d := v.Validate(scan, []models.Report{telemetry(19500, 50, 100, nil)}, true)
	assert.Equal(t, ReasonScanOffline, d.Reason)

	// Capacity mismatch wins over player-count mismatch.
	d = v.Validate(scanOnline(10, 80), []models.Report{telemetry(19500, 50, 100, nil)}, true)
	assert.Equal(t, ReasonCapacity, d.Reason)
}
