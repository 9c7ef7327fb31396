package data

import (
	"context"
	"testing"
	"time"

	"DualLane/internal/conf"
	"DualLane/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// setupAuditTestDB creates a test database connection with sqlmock.
func setupAuditTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	cleanup := func() {
		sqlDB.Close()
	}
	return gormDB, mock, cleanup
}

func sampleEvent(id uint64, prevHash, hash string) *model.AuditEvent {
	return &model.AuditEvent{
		EventID:          id,
		Timestamp:        time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		EventType:        model.AuditEventOperationOutcome,
		RequestID:        "req-1",
		ComplianceStatus: model.ComplianceCompliant,
		Payload: model.AuditPayload{
			Outcome: &model.OutcomePayload{Path: model.PathDirect, Success: true, Attempts: 1, LatencyMs: 42},
		},
		PreviousEventHash: prevHash,
		EventHash:         hash,
	}
}

func TestAuditStore_AppendPersists(t *testing.T) {
	db, mock, dbCleanup := setupAuditTestDB(t)
	defer dbCleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `audit_events`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store, cleanup, err := NewAuditStore(&conf.Audit{ChannelBuffer: 10}, db, log.DefaultLogger)
	require.NoError(t, err)

	err = store.Append(sampleEvent(0, "", "hash-0"))
	require.NoError(t, err)

	// Cleanup drains the channel, forcing the write through.
	cleanup()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStore_ListChain(t *testing.T) {
	db, mock, dbCleanup := setupAuditTestDB(t)
	defer dbCleanup()

	columns := []string{
		"id", "event_id", "event_time", "event_type", "request_id",
		"compliance_status", "payload", "previous_event_hash", "event_hash", "created_at",
	}
	ts := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(columns).
		AddRow(1, 0, ts, "OPERATION_OUTCOME", "req-1", "compliant",
			`{"outcome":{"path":"direct","success":true,"attempts":1,"latency_ms":42}}`, "", "hash-0", ts).
		AddRow(2, 1, ts, "FALLBACK_TRIGGERED", "req-2", "warning",
			`{"fallback":{"from_route":"direct","to_route":"broker","reason":"primary path failed irrecoverably","root_cause":"timeout"}}`, "hash-0", "hash-1", ts)

	mock.ExpectQuery("SELECT (.+) FROM `audit_events`").WillReturnRows(rows)

	store, cleanup, err := NewAuditStore(nil, db, log.DefaultLogger)
	require.NoError(t, err)
	defer cleanup()

	events, err := store.ListChain(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, uint64(0), events[0].EventID)
	assert.Equal(t, model.AuditEventOperationOutcome, events[0].EventType)
	require.NotNil(t, events[0].Payload.Outcome)
	assert.Equal(t, int64(42), events[0].Payload.Outcome.LatencyMs)

	assert.Equal(t, "hash-0", events[1].PreviousEventHash)
	require.NotNil(t, events[1].Payload.Fallback)
	assert.Equal(t, model.PathBroker, events[1].Payload.Fallback.ToRoute)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStore_ListByTimeRange(t *testing.T) {
	db, mock, dbCleanup := setupAuditTestDB(t)
	defer dbCleanup()

	columns := []string{
		"id", "event_id", "event_time", "event_type", "request_id",
		"compliance_status", "payload", "previous_event_hash", "event_hash", "created_at",
	}
	ts := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(columns).
		AddRow(1, 0, ts, "ROUTING_DECISION", "req-1", "compliant",
			`{"routing":{"decision":{"selected_path":"direct","reason":"emergency priority prefers direct path","fallback_available":true,"estimated_latency_ms":150,"correlation_id":"req-1","primary_path_healthy":true,"fallback_path_healthy":true}}}`,
			"", "hash-0", ts)

	mock.ExpectQuery("SELECT (.+) FROM `audit_events` WHERE event_time >= (.+) AND event_time <= (.+)").
		WillReturnRows(rows)

	store, cleanup, err := NewAuditStore(nil, db, log.DefaultLogger)
	require.NoError(t, err)
	defer cleanup()

	events, err := store.ListByTimeRange(context.Background(), ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Payload.Routing)
	assert.Equal(t, model.PathDirect, events[0].Payload.Routing.Decision.SelectedPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRecordRoundTrip(t *testing.T) {
	event := sampleEvent(7, "hash-6", "hash-7")

	record, err := toRecord(event)
	require.NoError(t, err)
	assert.Equal(t, event.EventID, record.EventID)
	assert.Equal(t, "OPERATION_OUTCOME", record.EventType)
	assert.JSONEq(t, `{"outcome":{"path":"direct","success":true,"attempts":1,"latency_ms":42}}`, record.Payload)

	back, err := toEvent(*record)
	require.NoError(t, err)
	assert.Equal(t, *event, back)
}

func TestAuditRecordReadbackNormalizesToUTC(t *testing.T) {
	event := sampleEvent(3, "hash-2", "hash-3")

	record, err := toRecord(event)
	require.NoError(t, err)

	// A DSN without loc=UTC hands timestamps back in another zone.
	record.Timestamp = record.Timestamp.In(time.FixedZone("CST", 8*3600))

	back, err := toEvent(*record)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, back.Timestamp.Location())
	assert.True(t, back.Timestamp.Equal(event.Timestamp))
	assert.Equal(t, *event, back)
}

func TestAuditStore_AppendRejectsWhenChannelFull(t *testing.T) {
	db, mock, dbCleanup := setupAuditTestDB(t)
	defer dbCleanup()

	// Slow the writer down so the buffer backs up.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `audit_events`").
		WillDelayFor(200 * time.Millisecond).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `audit_events`").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	store, cleanup, err := NewAuditStore(&conf.Audit{ChannelBuffer: 1}, db, log.DefaultLogger)
	require.NoError(t, err)

	require.NoError(t, store.Append(sampleEvent(0, "", "hash-0")))
	// Give the writer a moment to dequeue the first event and block on it.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.Append(sampleEvent(1, "hash-0", "hash-1")))

	err = store.Append(sampleEvent(2, "hash-1", "hash-2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel full")

	cleanup()
}
