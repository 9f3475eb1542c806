package audit_test

import (
	"context"
	"errors"
	"testing"

	"taskrouter/backend/internal/audit"
	"taskrouter/backend/internal/models"
	"taskrouter/backend/internal/store"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type failingSink struct {
	err error
}

func (s *failingSink) Append(ctx context.Context, event *models.AuditEvent) error {
	return s.err
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	return db
}

func TestRecordPersistsEvent(t *testing.T) {
	db := newTestDB(t)
	recorder := audit.NewRecorder(audit.NewGormSink(db))

	actorID := uuid.Must(uuid.NewV4())
	entityID := uuid.Must(uuid.NewV4())
	err := recorder.Record(context.Background(), &models.AuditEvent{
		Subject:  "tasks",
		Action:   models.AuditUpdate,
		EntityID: entityID,
		ActorID:  &actorID,
		Detail:   `{"status":{"from":"pending","to":"completed"}}`,
	})
	require.NoError(t, err)

	var event models.AuditEvent
	require.NoError(t, db.First(&event, "entity_id = ?", entityID).Error)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.NotEmpty(t, event.Origin)
	assert.False(t, event.CreatedAt.IsZero())
	assert.Equal(t, models.AuditUpdate, event.Action)
	require.NotNil(t, event.ActorID)
	assert.Equal(t, actorID, *event.ActorID)
}

func TestRecordSystemEventHasNoActor(t *testing.T) {
	db := newTestDB(t)
	recorder := audit.NewRecorder(audit.NewGormSink(db))

	entityID := uuid.Must(uuid.NewV4())
	err := recorder.Record(context.Background(), &models.AuditEvent{
		Subject:  "tasks",
		Action:   models.AuditUpdate,
		EntityID: entityID,
	})
	require.NoError(t, err)

	var event models.AuditEvent
	require.NoError(t, db.First(&event, "entity_id = ?", entityID).Error)
	assert.Nil(t, event.ActorID)
	assert.True(t, event.IsSystemEvent())
}

func TestRecordSinkFailureIsSurfaced(t *testing.T) {
	sinkErr := errors.New("disk full")
	recorder := audit.NewRecorder(&failingSink{err: sinkErr})

	err := recorder.Record(context.Background(), &models.AuditEvent{
		Subject:  "tasks",
		Action:   models.AuditInsert,
		EntityID: uuid.Must(uuid.NewV4()),
	})
	assert.ErrorIs(t, err, sinkErr)
}
