// Package audit appends immutable records of committed engine transitions.
// Recording happens after the primary state write and is best-effort: a
// sink failure degrades auditing, it never rolls back or blocks the
// transition. Silent failure is not allowed either, so every sink error
// is logged with full event context.
package audit

import (
	"context"
	"fmt"
	"os"
	"time"

	"taskrouter/backend/internal/models"
	"taskrouter/backend/internal/monitoring"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Sink is the append-only destination for audit events. The engine never
// reads events back through it.
type Sink interface {
	Append(ctx context.Context, event *models.AuditEvent) error
}

// GormSink writes audit rows to the database.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Append(ctx context.Context, event *models.AuditEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Recorder fills in event identity/origin/timestamp and hands the event to
// the sink. Record returns the sink error so callers can surface a
// degraded-audit warning, but a committed transition stays committed.
type Recorder struct {
	sink   Sink
	origin string
}

func NewRecorder(sink Sink) *Recorder {
	origin, err := os.Hostname()
	if err != nil {
		origin = "unknown"
	}
	return &Recorder{sink: sink, origin: origin}
}

func (r *Recorder) Record(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.Must(uuid.NewV4())
	}
	event.Origin = r.origin
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := r.sink.Append(ctx, event); err != nil {
		log.WithFields(log.Fields{
			"subject":   event.Subject,
			"action":    event.Action,
			"entity_id": event.EntityID,
		}).WithError(err).Warn("audit degraded: event not recorded")
		monitoring.RecordAuditFailure()
		return err
	}
	return nil
}
