package models

import (
	"time"

	"github.com/gofrs/uuid"
)

// AuditAction mirrors the kind of change applied to the subject row.
type AuditAction string

const (
	AuditInsert AuditAction = "insert"
	AuditUpdate AuditAction = "update"
	AuditDelete AuditAction = "delete"
)

// AuditEvent is an append-only record of a committed change. Rows are
// written once by the recorder and never mutated or deleted by the engine.
// ActorID is nil for system-originated changes (the expiry sweep).
type AuditEvent struct {
	ID       uuid.UUID   `json:"id" gorm:"primaryKey;type:uuid"`
	Subject  string      `json:"subject" gorm:"not null;index"`
	Action   AuditAction `json:"action" gorm:"not null"`
	EntityID uuid.UUID   `json:"entity_id" gorm:"type:uuid;not null;index"`
	ActorID  *uuid.UUID  `json:"actor_id,omitempty" gorm:"type:uuid"`
	Origin   string      `json:"origin"`
	Detail   string      `json:"detail" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}

// IsSystemEvent reports whether the change was made by the system rather
// than a user actor.
func (e *AuditEvent) IsSystemEvent() bool {
	return e.ActorID == nil
}
