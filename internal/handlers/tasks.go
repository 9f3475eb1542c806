package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"taskrouter/backend/internal/engine"
	"taskrouter/backend/internal/middleware"
	"taskrouter/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

// TaskEngine is the slice of the lifecycle engine the HTTP layer consumes.
type TaskEngine interface {
	Create(ctx context.Context, req engine.CreateRequest) (*models.Task, error)
	Complete(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error)
	Return(ctx context.Context, actorID, taskID uuid.UUID, comment string) (*models.Task, error)
	Observe(ctx context.Context, actorID, taskID uuid.UUID, comment string) (*models.Task, error)
	Reassign(ctx context.Context, actorID, taskID, newRecipientID uuid.UUID) (*models.Task, error)
	Archive(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error)
	AdminDelete(ctx context.Context, actorID, taskID uuid.UUID) error
	Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	Inbox(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
	Outbox(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
	Comments(ctx context.Context, taskID uuid.UUID) ([]models.Comment, error)
}

type TaskHandler struct {
	engine TaskEngine
}

func NewTaskHandler(eng TaskEngine) *TaskHandler {
	return &TaskHandler{engine: eng}
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	actorID, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var input struct {
		Recipient           string     `json:"recipient_id" binding:"required"`
		Title               string     `json:"title" binding:"required"`
		Description         string     `json:"description"`
		Priority            string     `json:"priority"`
		DueAt               *time.Time `json:"due_at"`
		LateDeliveryAllowed *bool      `json:"late_delivery_allowed"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recipientID, err := uuid.FromString(input.Recipient)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient id"})
		return
	}

	lateAllowed := true
	if input.LateDeliveryAllowed != nil {
		lateAllowed = *input.LateDeliveryAllowed
	}

	task, err := h.engine.Create(c.Request.Context(), engine.CreateRequest{
		Actor:               actorID,
		Recipient:           recipientID,
		Title:               input.Title,
		Description:         input.Description,
		Priority:            models.TaskPriority(input.Priority),
		DueAt:               input.DueAt,
		LateDeliveryAllowed: lateAllowed,
	})
	if err != nil {
		handleEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}
	task, err := h.engine.Get(c.Request.Context(), taskID)
	if err != nil {
		handleEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) CompleteTask(c *gin.Context) {
	h.transition(c, h.engine.Complete)
}

func (h *TaskHandler) ArchiveTask(c *gin.Context) {
	h.transition(c, h.engine.Archive)
}

func (h *TaskHandler) transition(c *gin.Context, op func(context.Context, uuid.UUID, uuid.UUID) (*models.Task, error)) {
	actorID, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}
	task, err := op(c.Request.Context(), actorID, taskID)
	if err != nil {
		handleEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) ReturnTask(c *gin.Context) {
	h.commented(c, h.engine.Return)
}

func (h *TaskHandler) ObserveTask(c *gin.Context) {
	h.commented(c, h.engine.Observe)
}

func (h *TaskHandler) commented(c *gin.Context, op func(context.Context, uuid.UUID, uuid.UUID, string) (*models.Task, error)) {
	actorID, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}
	var input struct {
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, err := op(c.Request.Context(), actorID, taskID, input.Comment)
	if err != nil {
		handleEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) ReassignTask(c *gin.Context) {
	actorID, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}
	var input struct {
		Recipient string `json:"recipient_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recipientID, err := uuid.FromString(input.Recipient)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient id"})
		return
	}

	task, err := h.engine.Reassign(c.Request.Context(), actorID, taskID, recipientID)
	if err != nil {
		handleEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	actorID, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}
	if err := h.engine.AdminDelete(c.Request.Context(), actorID, taskID); err != nil {
		handleEngineError(c, err)
		return
	}
	c.JSON(http.StatusNoContent, nil)
}

func (h *TaskHandler) GetInbox(c *gin.Context) {
	actorID, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	tasks, err := h.engine.Inbox(c.Request.Context(), actorID)
	if err != nil {
		handleEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *TaskHandler) GetOutbox(c *gin.Context) {
	actorID, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	tasks, err := h.engine.Outbox(c.Request.Context(), actorID)
	if err != nil {
		handleEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *TaskHandler) GetComments(c *gin.Context) {
	taskID, ok := pathTaskID(c)
	if !ok {
		return
	}
	comments, err := h.engine.Comments(c.Request.Context(), taskID)
	if err != nil {
		handleEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func pathTaskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return uuid.Nil, false
	}
	return id, true
}

// handleEngineError maps the engine's error taxonomy onto HTTP statuses.
// Store internals stay wrapped inside the engine error and are not echoed.
func handleEngineError(c *gin.Context, err error) {
	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process task request"})
		return
	}

	status := http.StatusInternalServerError
	switch engErr.Kind {
	case engine.KindValidation:
		status = http.StatusBadRequest
	case engine.KindPermissionDenied:
		status = http.StatusForbidden
	case engine.KindNotFound:
		status = http.StatusNotFound
	case engine.KindInvalidStateTransition, engine.KindLateCompletionDenied:
		status = http.StatusConflict
	case engine.KindConcurrentModification:
		// the caller should re-read and retry
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{
		"error":   string(engErr.Kind),
		"rule":    engErr.Rule,
		"message": engErr.Msg,
	})
}
