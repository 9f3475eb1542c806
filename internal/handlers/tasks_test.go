package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskrouter/backend/internal/engine"
	"taskrouter/backend/internal/handlers"
	"taskrouter/backend/internal/middleware"
	"taskrouter/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type mockEngine struct {
	task     *models.Task
	tasks    []models.Task
	comments []models.Comment
	err      error

	lastCreate  engine.CreateRequest
	lastComment string
	deleted     bool
}

func (m *mockEngine) Create(ctx context.Context, req engine.CreateRequest) (*models.Task, error) {
	m.lastCreate = req
	return m.task, m.err
}

func (m *mockEngine) Complete(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error) {
	return m.task, m.err
}

func (m *mockEngine) Return(ctx context.Context, actorID, taskID uuid.UUID, comment string) (*models.Task, error) {
	m.lastComment = comment
	return m.task, m.err
}

func (m *mockEngine) Observe(ctx context.Context, actorID, taskID uuid.UUID, comment string) (*models.Task, error) {
	return m.task, m.err
}

func (m *mockEngine) Reassign(ctx context.Context, actorID, taskID, newRecipientID uuid.UUID) (*models.Task, error) {
	return m.task, m.err
}

func (m *mockEngine) Archive(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error) {
	return m.task, m.err
}

func (m *mockEngine) AdminDelete(ctx context.Context, actorID, taskID uuid.UUID) error {
	m.deleted = true
	return m.err
}

func (m *mockEngine) Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return m.task, m.err
}

func (m *mockEngine) Inbox(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	return m.tasks, m.err
}

func (m *mockEngine) Outbox(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	return m.tasks, m.err
}

func (m *mockEngine) Comments(ctx context.Context, taskID uuid.UUID) ([]models.Comment, error) {
	return m.comments, m.err
}

func fixtureTask() *models.Task {
	return &models.Task{
		ID:          uuid.Must(uuid.NewV4()),
		IssuerID:    uuid.Must(uuid.NewV4()),
		RecipientID: uuid.Must(uuid.NewV4()),
		Title:       "inventory count",
		Status:      models.StatusPending,
		Priority:    models.PriorityNormal,
		CreatedAt:   time.Now().UTC(),
	}
}

func setupTaskRouter(mock *mockEngine, authenticated bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := handlers.NewTaskHandler(mock)
	router := gin.New()

	if authenticated {
		router.Use(func(c *gin.Context) {
			c.Set(middleware.ActorKey, uuid.Must(uuid.NewV4()))
			c.Next()
		})
	}

	router.POST("/tasks", handler.CreateTask)
	router.GET("/tasks/:id", handler.GetTask)
	router.POST("/tasks/:id/complete", handler.CompleteTask)
	router.POST("/tasks/:id/return", handler.ReturnTask)
	router.POST("/tasks/:id/reassign", handler.ReassignTask)
	router.POST("/tasks/:id/archive", handler.ArchiveTask)
	router.DELETE("/tasks/:id", handler.DeleteTask)
	router.GET("/inbox", handler.GetInbox)
	return router
}

func do(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateTask(t *testing.T) {
	mock := &mockEngine{task: fixtureTask()}
	router := setupTaskRouter(mock, true)

	w := do(router, "POST", "/tasks", map[string]interface{}{
		"recipient_id": uuid.Must(uuid.NewV4()).String(),
		"title":        "inventory count",
	})
	if w.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, w.Code)
	}
	if mock.lastCreate.Title != "inventory count" {
		t.Errorf("engine received title %q", mock.lastCreate.Title)
	}
	if !mock.lastCreate.LateDeliveryAllowed {
		t.Error("late delivery should default to allowed")
	}
}

func TestCreateTaskUnauthenticated(t *testing.T) {
	router := setupTaskRouter(&mockEngine{task: fixtureTask()}, false)

	w := do(router, "POST", "/tasks", map[string]interface{}{
		"recipient_id": uuid.Must(uuid.NewV4()).String(),
		"title":        "inventory count",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestCreateTaskMissingTitle(t *testing.T) {
	router := setupTaskRouter(&mockEngine{task: fixtureTask()}, true)

	w := do(router, "POST", "/tasks", map[string]interface{}{
		"recipient_id": uuid.Must(uuid.NewV4()).String(),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestEngineErrorMapping(t *testing.T) {
	tests := []struct {
		kind engine.ErrorKind
		want int
	}{
		{engine.KindValidation, http.StatusBadRequest},
		{engine.KindPermissionDenied, http.StatusForbidden},
		{engine.KindNotFound, http.StatusNotFound},
		{engine.KindInvalidStateTransition, http.StatusConflict},
		{engine.KindLateCompletionDenied, http.StatusConflict},
		{engine.KindConcurrentModification, http.StatusConflict},
	}

	for _, tt := range tests {
		mock := &mockEngine{err: &engine.Error{Kind: tt.kind, Rule: "status", Msg: "nope"}}
		router := setupTaskRouter(mock, true)

		w := do(router, "POST", "/tasks/"+uuid.Must(uuid.NewV4()).String()+"/complete", nil)
		if w.Code != tt.want {
			t.Errorf("kind %s: expected status %d, got %d", tt.kind, tt.want, w.Code)
		}
	}
}

func TestCompleteTask(t *testing.T) {
	task := fixtureTask()
	task.Status = models.StatusCompleted
	router := setupTaskRouter(&mockEngine{task: task}, true)

	w := do(router, "POST", "/tasks/"+task.ID.String()+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestCompleteTaskInvalidID(t *testing.T) {
	router := setupTaskRouter(&mockEngine{task: fixtureTask()}, true)

	w := do(router, "POST", "/tasks/not-a-uuid/complete", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestReturnTaskPassesComment(t *testing.T) {
	mock := &mockEngine{task: fixtureTask()}
	router := setupTaskRouter(mock, true)

	w := do(router, "POST", "/tasks/"+uuid.Must(uuid.NewV4()).String()+"/return",
		map[string]string{"comment": "missing data"})
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if mock.lastComment != "missing data" {
		t.Errorf("engine received comment %q", mock.lastComment)
	}
}

func TestReassignTaskInvalidRecipient(t *testing.T) {
	router := setupTaskRouter(&mockEngine{task: fixtureTask()}, true)

	w := do(router, "POST", "/tasks/"+uuid.Must(uuid.NewV4()).String()+"/reassign",
		map[string]string{"recipient_id": "not-a-uuid"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	mock := &mockEngine{}
	router := setupTaskRouter(mock, true)

	w := do(router, "DELETE", "/tasks/"+uuid.Must(uuid.NewV4()).String(), nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if !mock.deleted {
		t.Error("engine delete was not invoked")
	}
}

func TestGetInbox(t *testing.T) {
	mock := &mockEngine{tasks: []models.Task{*fixtureTask(), *fixtureTask()}}
	router := setupTaskRouter(mock, true)

	w := do(router, "GET", "/inbox", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		Tasks []models.Task `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(resp.Tasks))
	}
}
