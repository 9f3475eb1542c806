package store

import (
	"context"
	"fmt"
	"time"

	"taskrouter/backend/internal/cache"
	"taskrouter/backend/internal/models"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	taskTTL  = 30 * time.Minute
	inboxTTL = 5 * time.Minute
)

// CachedTaskStore layers the redis read cache over another TaskStore.
// Reads try the cache first; every committed write invalidates the task
// and the inbox/outbox listings of both participants. Cache errors are
// logged and otherwise ignored.
type CachedTaskStore struct {
	inner TaskStore
	cache *cache.RedisCache
}

func NewCachedTaskStore(inner TaskStore, c *cache.RedisCache) *CachedTaskStore {
	return &CachedTaskStore{inner: inner, cache: c}
}

func taskKey(id uuid.UUID) string {
	return fmt.Sprintf("task:%s", id)
}

func issuerKey(id uuid.UUID) string {
	return fmt.Sprintf("outbox:%s", id)
}

func recipientKey(id uuid.UUID) string {
	return fmt.Sprintf("inbox:%s", id)
}

func (s *CachedTaskStore) invalidate(ctx context.Context, task *models.Task) {
	keys := []string{
		taskKey(task.ID),
		issuerKey(task.IssuerID),
		recipientKey(task.RecipientID),
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.WithError(err).Warn("cache invalidation failed")
	}
}

func (s *CachedTaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var cached models.Task
	if err := s.cache.Get(ctx, taskKey(id), &cached); err == nil {
		return &cached, nil
	}

	task, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, taskKey(id), task, taskTTL); err != nil {
		log.WithError(err).Warn("cache set failed")
	}
	return task, nil
}

func (s *CachedTaskStore) Create(ctx context.Context, task *models.Task) error {
	if err := s.inner.Create(ctx, task); err != nil {
		return err
	}
	s.invalidate(ctx, task)
	return nil
}

func (s *CachedTaskStore) Put(ctx context.Context, task *models.Task, expectedPrior models.TaskStatus) error {
	if err := s.inner.Put(ctx, task, expectedPrior); err != nil {
		return err
	}
	s.invalidate(ctx, task)
	return nil
}

func (s *CachedTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	task, err := s.inner.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.inner.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, task)
	return nil
}

func (s *CachedTaskStore) QueryByIssuer(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	var cached []models.Task
	if err := s.cache.Get(ctx, issuerKey(userID), &cached); err == nil {
		return cached, nil
	}

	tasks, err := s.inner.QueryByIssuer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, issuerKey(userID), tasks, inboxTTL); err != nil {
		log.WithError(err).Warn("cache set failed")
	}
	return tasks, nil
}

func (s *CachedTaskStore) QueryByRecipient(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	var cached []models.Task
	if err := s.cache.Get(ctx, recipientKey(userID), &cached); err == nil {
		return cached, nil
	}

	tasks, err := s.inner.QueryByRecipient(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, recipientKey(userID), tasks, inboxTTL); err != nil {
		log.WithError(err).Warn("cache set failed")
	}
	return tasks, nil
}

// QueryExpirable always goes to the store: the sweep must see the current
// state, never a cached one.
func (s *CachedTaskStore) QueryExpirable(ctx context.Context, now time.Time) ([]models.Task, error) {
	return s.inner.QueryExpirable(ctx, now)
}

func (s *CachedTaskStore) AppendComment(ctx context.Context, comment *models.Comment) error {
	if err := s.inner.AppendComment(ctx, comment); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, taskKey(comment.TaskID)); err != nil {
		log.WithError(err).Warn("cache invalidation failed")
	}
	return nil
}

func (s *CachedTaskStore) ListComments(ctx context.Context, taskID uuid.UUID) ([]models.Comment, error) {
	return s.inner.ListComments(ctx, taskID)
}
