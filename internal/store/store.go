// Package store holds the persistence contracts the engine depends on and
// their gorm implementations. The engine never touches gorm directly; it
// sees these interfaces and the two sentinel errors below.
package store

import (
	"context"
	"errors"
	"time"

	"taskrouter/backend/internal/models"

	"github.com/gofrs/uuid"
)

var (
	// ErrNotFound is returned when the referenced row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStaleState is returned by Put when the task's status at write
	// time no longer matches the expected prior status.
	ErrStaleState = errors.New("task state changed since read")
)

// TaskStore is the durable home of tasks. Put is a compare-and-swap on the
// task's status: the write succeeds only if the stored status still equals
// expectedPrior, which is how racing transitions on one task serialize.
type TaskStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Create(ctx context.Context, task *models.Task) error
	Put(ctx context.Context, task *models.Task, expectedPrior models.TaskStatus) error
	Delete(ctx context.Context, id uuid.UUID) error

	QueryByIssuer(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
	QueryByRecipient(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
	QueryExpirable(ctx context.Context, now time.Time) ([]models.Task, error)

	AppendComment(ctx context.Context, comment *models.Comment) error
	ListComments(ctx context.Context, taskID uuid.UUID) ([]models.Comment, error)
}

// Directory resolves users and roles. Read-only from the engine's side.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetRole(ctx context.Context, id uuid.UUID) (*models.Role, error)
}
