package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskrouter/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type GormTaskStore struct {
	db *gorm.DB
}

func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

func (s *GormTaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

func (s *GormTaskStore) Create(ctx context.Context, task *models.Task) error {
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Put writes the mutable fields of task, guarded on the status the caller
// last read. Zero rows affected means the task either vanished or moved to
// a different status since that read.
func (s *GormTaskStore) Put(ctx context.Context, task *models.Task, expectedPrior models.TaskStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", task.ID, expectedPrior).
		Updates(map[string]interface{}{
			"status":       task.Status,
			"recipient_id": task.RecipientID,
			"completed_at": task.CompletedAt,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("put task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Task{}).
			Where("id = ?", task.ID).Count(&count).Error; err == nil && count == 0 {
			return ErrNotFound
		}
		return ErrStaleState
	}
	return nil
}

func (s *GormTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormTaskStore) QueryByIssuer(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("issuer_id = ?", userID).
		Order("created_at DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("query by issuer: %w", err)
	}
	return tasks, nil
}

func (s *GormTaskStore) QueryByRecipient(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Order("created_at DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("query by recipient: %w", err)
	}
	return tasks, nil
}

// QueryExpirable returns tasks eligible for the expiry sweep: a due date
// at or before now, in a state the sweep may still act on. The predicate
// excludes already-expired tasks, which is what makes the sweep idempotent.
func (s *GormTaskStore) QueryExpirable(ctx context.Context, now time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("due_at IS NOT NULL AND due_at <= ?", now).
		Where("status NOT IN ?", []models.TaskStatus{
			models.StatusCompleted, models.StatusArchived, models.StatusExpired,
		}).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("query expirable: %w", err)
	}
	return tasks, nil
}

func (s *GormTaskStore) AppendComment(ctx context.Context, comment *models.Comment) error {
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return fmt.Errorf("append comment: %w", err)
	}
	return nil
}

func (s *GormTaskStore) ListComments(ctx context.Context, taskID uuid.UUID) ([]models.Comment, error) {
	var comments []models.Comment
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).Preload("Role").First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

func (d *GormDirectory) GetRole(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	var role models.Role
	err := d.db.WithContext(ctx).First(&role, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return &role, nil
}

// Migrate creates the schema for all engine-owned tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Task{},
		&models.Comment{},
		&models.AuditEvent{},
	)
}
