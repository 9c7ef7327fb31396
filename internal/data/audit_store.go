package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"DualLane/internal/conf"
	"DualLane/internal/model"
	pkgerrors "DualLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// AuditEventRecord is the GORM model for the audit_events table.
// The event payload is stored as its canonical JSON form so the hash can be
// recomputed from the row alone.
type AuditEventRecord struct {
	ID                int64     `gorm:"primaryKey;column:id"`
	EventID           uint64    `gorm:"column:event_id;uniqueIndex;not null"`
	Timestamp         time.Time `gorm:"column:event_time;type:datetime(6);not null;index"`
	EventType         string    `gorm:"column:event_type;type:varchar(50);not null;index"`
	RequestID         string    `gorm:"column:request_id;type:varchar(64);not null;index"`
	ComplianceStatus  string    `gorm:"column:compliance_status;type:varchar(20);not null"`
	Payload           string    `gorm:"column:payload;type:json"`
	PreviousEventHash string    `gorm:"column:previous_event_hash;type:char(64)"`
	EventHash         string    `gorm:"column:event_hash;type:char(64);not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (AuditEventRecord) TableName() string {
	return "audit_events"
}

// AuditStore implements biz.AuditRepo. Writes go through a bounded channel
// and a background goroutine so a slow database never blocks request
// handling; a full channel rejects the event and the caller counts it.
type AuditStore struct {
	db      *gorm.DB
	eventCh chan *AuditEventRecord
	done    chan struct{}
	logger  *log.Helper
}

// NewAuditStore creates the audit event store and starts its writer.
// The returned cleanup drains the channel before shutdown.
func NewAuditStore(c *conf.Audit, db *gorm.DB, logger log.Logger) (*AuditStore, func(), error) {
	buffer := 1000
	if c != nil && c.ChannelBuffer > 0 {
		buffer = int(c.ChannelBuffer)
	}

	s := &AuditStore{
		db:      db,
		eventCh: make(chan *AuditEventRecord, buffer),
		done:    make(chan struct{}),
		logger:  log.NewHelper(logger),
	}
	go s.run()

	cleanup := func() {
		s.logger.Info("closing audit event store")
		close(s.eventCh)
		<-s.done
	}
	return s, cleanup, nil
}

// run drains the event channel into the database.
func (s *AuditStore) run() {
	defer close(s.done)
	for record := range s.eventCh {
		ctx := context.Background()
		if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
			// A duplicate event ID means the chain already holds this event
			// (a writer restart replayed it); anything else is a real loss.
			dbErr := pkgerrors.ClassifyDBError(err)
			if dbErr.Type == pkgerrors.ErrorTypeDuplicateKey {
				s.logger.Warnw("msg", "audit event already persisted",
					"event_id", record.EventID)
				continue
			}
			s.logger.Errorw("msg", "failed to write audit event",
				"event_id", record.EventID,
				"event_type", record.EventType,
				"error_type", dbErr.Type,
				"error", err)
		}
	}
}

// toRecord converts a domain event to its storage form.
func toRecord(event *model.AuditEvent) (*AuditEventRecord, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	return &AuditEventRecord{
		EventID:           event.EventID,
		Timestamp:         event.Timestamp,
		EventType:         event.EventType.String(),
		RequestID:         event.RequestID,
		ComplianceStatus:  string(event.ComplianceStatus),
		Payload:           string(payload),
		PreviousEventHash: event.PreviousEventHash,
		EventHash:         event.EventHash,
	}, nil
}

// toEvent converts a stored record back into a domain event.
func toEvent(record AuditEventRecord) (model.AuditEvent, error) {
	var payload model.AuditPayload
	if record.Payload != "" {
		if err := json.Unmarshal([]byte(record.Payload), &payload); err != nil {
			return model.AuditEvent{}, fmt.Errorf("failed to unmarshal audit payload for event %d: %w", record.EventID, err)
		}
	}
	// Hashes are computed over UTC timestamps. Normalize here so a DSN
	// configured with a non-UTC loc cannot break hash recomputation.
	return model.AuditEvent{
		EventID:           record.EventID,
		Timestamp:         record.Timestamp.UTC(),
		EventType:         model.AuditEventType(record.EventType),
		RequestID:         record.RequestID,
		ComplianceStatus:  model.ComplianceStatus(record.ComplianceStatus),
		Payload:           payload,
		PreviousEventHash: record.PreviousEventHash,
		EventHash:         record.EventHash,
	}, nil
}

// Append enqueues an event for persistence (non-blocking).
func (s *AuditStore) Append(event *model.AuditEvent) error {
	record, err := toRecord(event)
	if err != nil {
		return err
	}

	select {
	case s.eventCh <- record:
		return nil
	default:
		return fmt.Errorf("audit event channel full, event %d dropped", event.EventID)
	}
}

// ListByTimeRange returns stored events within [start, end] ordered by event ID.
func (s *AuditStore) ListByTimeRange(ctx context.Context, start, end time.Time) ([]model.AuditEvent, error) {
	var records []AuditEventRecord
	err := s.db.WithContext(ctx).
		Where("event_time >= ? AND event_time <= ?", start, end).
		Order("event_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	return recordsToEvents(records)
}

// ListChain returns all stored events ordered by event ID.
func (s *AuditStore) ListChain(ctx context.Context) ([]model.AuditEvent, error) {
	var records []AuditEventRecord
	err := s.db.WithContext(ctx).
		Order("event_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load audit chain: %w", err)
	}
	return recordsToEvents(records)
}

func recordsToEvents(records []AuditEventRecord) ([]model.AuditEvent, error) {
	events := make([]model.AuditEvent, 0, len(records))
	for _, r := range records {
		event, err := toEvent(r)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
