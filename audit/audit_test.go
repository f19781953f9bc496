package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/revenue-ledger/audit"
)

// =============================================================================
// BUFFERING
// =============================================================================

func TestLogEvent_Buffers_UntilCapacity(t *testing.T) {
	// GIVEN: A trail with capacity 3
	// WHEN: Logging two ordinary events
	// THEN: Nothing reaches the sink until the third triggers a flush

	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{BufferCapacity: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, trail.LogEvent(ctx, audit.EventEntryCreated, nil, audit.EventOptions{}))
	}
	assert.Equal(t, 2, trail.BufferedCount())

	events, err := sink.QueryEvents(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, events, "buffered events not yet delivered")

	require.NoError(t, trail.LogEvent(ctx, audit.EventEntryCreated, nil, audit.EventOptions{}))
	assert.Zero(t, trail.BufferedCount(), "capacity reached triggers a flush")

	events, err = sink.QueryEvents(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestLogEvent_Critical_BypassesBuffer(t *testing.T) {
	// GIVEN: A trail with a large buffer
	// WHEN: Logging a critical event
	// THEN: It is persisted synchronously; the buffer never sees it

	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{BufferCapacity: 100})
	ctx := context.Background()

	require.NoError(t, trail.LogEvent(ctx, audit.EventUnauthorized, nil, audit.EventOptions{
		Level: audit.LevelCritical, Risk: audit.RiskCritical,
	}))
	assert.Zero(t, trail.BufferedCount())

	events, err := sink.QueryEvents(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.LevelCritical, events[0].Level)
}

func TestLogEvent_Immediate_BypassesBuffer(t *testing.T) {
	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{BufferCapacity: 100})

	require.NoError(t, trail.LogEvent(context.Background(), audit.EventSettlementCreated, nil, audit.EventOptions{
		Immediate: true,
	}))
	assert.Zero(t, trail.BufferedCount())
}

func TestLogEvent_AssignsIDAndDefaults(t *testing.T) {
	sink := audit.NewMemorySink()
	fixed := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	trail := audit.NewTrail(sink, audit.Options{Now: func() time.Time { return fixed }})
	ctx := context.Background()

	require.NoError(t, trail.LogEvent(ctx, audit.EventEntryCreated, nil, audit.EventOptions{UserID: "u-1"}))
	require.NoError(t, trail.Flush(ctx))

	events, err := sink.QueryEvents(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, audit.LevelInfo, events[0].Level, "level defaults to info")
	assert.Equal(t, audit.RiskLow, events[0].Risk, "risk defaults to low")
	assert.Equal(t, fixed, events[0].Timestamp)
}

// =============================================================================
// FLUSH
// =============================================================================

func TestFlush_FailureReinstatesBuffer(t *testing.T) {
	// GIVEN: A sink that rejects appends
	// WHEN: Flushing buffered events
	// THEN: The flush errors and the events are put back for the next attempt

	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{BufferCapacity: 100})
	ctx := context.Background()

	require.NoError(t, trail.LogEvent(ctx, audit.EventEntryCreated, nil, audit.EventOptions{}))
	require.NoError(t, trail.LogEvent(ctx, audit.EventStatusChanged, nil, audit.EventOptions{}))

	sink.FailAppends = true
	assert.Error(t, trail.Flush(ctx))
	assert.Equal(t, 2, trail.BufferedCount(), "failed batch is reinstated")

	sink.FailAppends = false
	require.NoError(t, trail.Flush(ctx))
	assert.Zero(t, trail.BufferedCount())

	events, err := sink.QueryEvents(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 2, "events delivered exactly once")
}

func TestStop_DrainsBuffer(t *testing.T) {
	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{BufferCapacity: 100, FlushInterval: time.Hour})
	ctx := context.Background()

	trail.Start()
	require.NoError(t, trail.LogEvent(ctx, audit.EventEntryCreated, nil, audit.EventOptions{}))
	trail.Stop()

	events, err := sink.QueryEvents(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// Stop twice is safe
	trail.Stop()
}

// =============================================================================
// SPECIALIZED LOGGERS
// =============================================================================

func TestLogUnauthorized_AlwaysImmediate(t *testing.T) {
	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{BufferCapacity: 100})
	ctx := context.Background()

	trail.LogUnauthorized(ctx, "u-evil", "create settlement", nil)
	assert.Zero(t, trail.BufferedCount())

	events, err := sink.QueryEvents(ctx, audit.Filter{Types: []string{audit.EventUnauthorized}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.RiskCritical, events[0].Risk)
	assert.Equal(t, false, events[0].Details["success"])
	assert.Equal(t, "create settlement", events[0].Details["operation"])
}

func TestLogMigration_LevelTracksOutcome(t *testing.T) {
	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{})
	ctx := context.Background()

	trail.LogMigration(ctx, "pay-1", true, nil)
	trail.LogMigration(ctx, "pay-2", false, map[string]any{"error": "boom"})
	require.NoError(t, trail.Flush(ctx))

	events, err := sink.QueryEvents(ctx, audit.Filter{Types: []string{audit.EventMigrationRun}})
	require.NoError(t, err)
	require.Len(t, events, 2)

	byPayment := map[string]audit.Event{}
	for _, ev := range events {
		byPayment[ev.ResourceID] = ev
	}
	assert.Equal(t, audit.LevelInfo, byPayment["pay-1"].Level)
	assert.Equal(t, audit.LevelError, byPayment["pay-2"].Level)
	assert.Equal(t, false, byPayment["pay-2"].Details["success"])
}

// =============================================================================
// COMPLIANCE REPORT
// =============================================================================

func TestGenerateComplianceReport(t *testing.T) {
	// GIVEN: A mix of routine, high-risk, security, and failed events
	// WHEN: Generating a report over the full range
	// THEN: Counts, classifications, and the score reflect the mix

	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{})
	ctx := context.Background()

	trail.LogEntryCreated(ctx, "u-1", "ent-1", nil)
	trail.LogEntryCreated(ctx, "u-1", "ent-2", nil)
	trail.LogSettlement(ctx, audit.EventSettlementCreated, "u-2", "stl-1", nil) // high risk
	trail.LogUnauthorized(ctx, "u-evil", "run migrations", nil)                 // security + failed

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	report, err := trail.GenerateComplianceReport(ctx, from, to)
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalEvents, "report flushes the buffer first")
	assert.Equal(t, 2, report.CountsByType[audit.EventEntryCreated])
	assert.Len(t, report.SecurityEvents, 1)
	assert.Len(t, report.HighRiskEvents, 2, "settlement and unauthorized are both high risk or above")
	assert.Len(t, report.FailedOperations, 1)
	assert.Equal(t, 2, report.ActivityByUser["u-1"])

	// 100 - 100*(2 high-risk + 1 security)/4
	assert.InDelta(t, 25.0, report.ComplianceScore, 0.001)
}

func TestGenerateComplianceReport_Empty(t *testing.T) {
	trail := audit.NewTrail(audit.NewMemorySink(), audit.Options{})

	report, err := trail.GenerateComplianceReport(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Zero(t, report.TotalEvents)
	assert.Equal(t, 100.0, report.ComplianceScore)
}

// =============================================================================
// SUSPICIOUS ACTIVITY
// =============================================================================

func TestDetectSuspiciousActivity_FailedAccess(t *testing.T) {
	// GIVEN: A user with more denied attempts than the threshold
	// WHEN: Running detection
	// THEN: The pattern is reported and a critical event is persisted

	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{})
	ctx := context.Background()

	for i := 0; i <= audit.FailedAccessThreshold; i++ {
		trail.LogUnauthorized(ctx, "u-evil", "create settlement", nil)
	}

	report, err := trail.DetectSuspiciousActivity(ctx, "u-evil", time.Hour)
	require.NoError(t, err)
	require.True(t, report.Suspicious)

	var kinds []string
	for _, p := range report.Patterns {
		kinds = append(kinds, p.Kind)
	}
	assert.Contains(t, kinds, "failed_access")

	flagged, err := sink.QueryEvents(ctx, audit.Filter{Types: []string{audit.EventSuspicious}})
	require.NoError(t, err)
	assert.Len(t, flagged, 1, "detection itself is audited")
}

func TestDetectSuspiciousActivity_QuietUser(t *testing.T) {
	sink := audit.NewMemorySink()
	trail := audit.NewTrail(sink, audit.Options{})
	ctx := context.Background()

	trail.LogEntryCreated(ctx, "u-1", "ent-1", nil)

	report, err := trail.DetectSuspiciousActivity(ctx, "u-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, report.Suspicious)
	assert.Empty(t, report.Patterns)
}
