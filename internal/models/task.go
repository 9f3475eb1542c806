package models

import (
	"time"

	"github.com/gofrs/uuid"
)

// TaskStatus is the closed set of lifecycle states. Transitions between
// them are only ever made through the engine's transition table.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
	StatusObserved  TaskStatus = "observed"
	StatusExpired   TaskStatus = "expired"
	StatusArchived  TaskStatus = "archived"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

type Task struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	IssuerID    uuid.UUID `json:"issuer_id" gorm:"type:uuid;not null;index"`
	RecipientID uuid.UUID `json:"recipient_id" gorm:"type:uuid;not null;index"`

	Title       string       `json:"title" gorm:"not null"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status" gorm:"not null;default:'pending';index"`
	Priority    TaskPriority `json:"priority" gorm:"not null;default:'normal'"`

	DueAt               *time.Time `json:"due_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	LateDeliveryAllowed bool       `json:"late_delivery_allowed" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Comments []Comment `json:"comments,omitempty" gorm:"foreignKey:TaskID"`
}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusObserved, StatusExpired, StatusArchived:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may leave this state.
func (s TaskStatus) Terminal() bool {
	return s == StatusArchived
}

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Expirable reports whether the sweep may force this task into the
// expired state. Tasks without a due date never expire.
func (t *Task) Expirable(now time.Time) bool {
	if t.DueAt == nil {
		return false
	}
	switch t.Status {
	case StatusCompleted, StatusArchived, StatusExpired:
		return false
	}
	// inclusive boundary: due exactly at "now" counts as overdue
	return !t.DueAt.After(now)
}
