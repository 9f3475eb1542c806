package store_test

import (
	"context"
	"testing"
	"time"

	"taskrouter/backend/internal/cache"
	"taskrouter/backend/internal/models"
	"taskrouter/backend/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type CachedStoreTestSuite struct {
	suite.Suite
	db     *gorm.DB
	redis  *miniredis.Miniredis
	cached *store.CachedTaskStore
}

func TestCachedStoreTestSuite(t *testing.T) {
	suite.Run(t, new(CachedStoreTestSuite))
}

func (s *CachedStoreTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	s.Require().NoError(err)
	s.Require().NoError(store.Migrate(db))
	s.db = db

	s.redis = miniredis.RunT(s.T())
	redisCache := cache.NewRedisCache(&cache.Config{Addr: s.redis.Addr()})
	s.cached = store.NewCachedTaskStore(store.NewGormTaskStore(db), redisCache)
}

func (s *CachedStoreTestSuite) newTask() *models.Task {
	task := &models.Task{
		ID:          uuid.Must(uuid.NewV4()),
		IssuerID:    uuid.Must(uuid.NewV4()),
		RecipientID: uuid.Must(uuid.NewV4()),
		Title:       "fixture",
		Status:      models.StatusPending,
		Priority:    models.PriorityNormal,
		CreatedAt:   time.Now().UTC(),
	}
	s.Require().NoError(s.cached.Create(context.Background(), task))
	return task
}

func (s *CachedStoreTestSuite) TestGetServesFromCache() {
	task := s.newTask()

	// first read populates the cache
	_, err := s.cached.Get(context.Background(), task.ID)
	s.Require().NoError(err)

	// remove the row underneath; the cached copy still answers
	s.Require().NoError(s.db.Delete(&models.Task{}, "id = ?", task.ID).Error)

	got, err := s.cached.Get(context.Background(), task.ID)
	s.Require().NoError(err)
	s.Equal(task.ID, got.ID)
}

func (s *CachedStoreTestSuite) TestPutInvalidatesTask() {
	task := s.newTask()

	_, err := s.cached.Get(context.Background(), task.ID)
	s.Require().NoError(err)

	task.Status = models.StatusCompleted
	now := time.Now().UTC()
	task.CompletedAt = &now
	s.Require().NoError(s.cached.Put(context.Background(), task, models.StatusPending))

	got, err := s.cached.Get(context.Background(), task.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
}

func (s *CachedStoreTestSuite) TestPutInvalidatesInbox() {
	task := s.newTask()

	inbox, err := s.cached.QueryByRecipient(context.Background(), task.RecipientID)
	s.Require().NoError(err)
	s.Require().Len(inbox, 1)
	s.Equal(models.StatusPending, inbox[0].Status)

	task.Status = models.StatusCompleted
	s.Require().NoError(s.cached.Put(context.Background(), task, models.StatusPending))

	inbox, err = s.cached.QueryByRecipient(context.Background(), task.RecipientID)
	s.Require().NoError(err)
	s.Require().Len(inbox, 1)
	s.Equal(models.StatusCompleted, inbox[0].Status)
}

func (s *CachedStoreTestSuite) TestCasFailurePassesThrough() {
	task := s.newTask()
	task.Status = models.StatusCompleted

	err := s.cached.Put(context.Background(), task, models.StatusObserved)
	s.ErrorIs(err, store.ErrStaleState)
}

func (s *CachedStoreTestSuite) TestExpirableBypassesCache() {
	past := time.Now().UTC().Add(-time.Hour)
	task := &models.Task{
		ID:          uuid.Must(uuid.NewV4()),
		IssuerID:    uuid.Must(uuid.NewV4()),
		RecipientID: uuid.Must(uuid.NewV4()),
		Title:       "overdue",
		Status:      models.StatusPending,
		Priority:    models.PriorityNormal,
		DueAt:       &past,
		CreatedAt:   past,
	}
	s.Require().NoError(s.cached.Create(context.Background(), task))

	expirable, err := s.cached.QueryExpirable(context.Background(), time.Now().UTC())
	s.Require().NoError(err)
	s.Len(expirable, 1)
}

func (s *CachedStoreTestSuite) TestSurvivesRedisOutage() {
	task := s.newTask()
	s.redis.Close()

	got, err := s.cached.Get(context.Background(), task.ID)
	s.Require().NoError(err)
	s.Equal(task.ID, got.ID)
}
