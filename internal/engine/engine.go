// Package engine implements the task lifecycle state machine. Every
// mutation of a task flows through one of its operations: permissions and
// state preconditions are validated in full before any write, the write
// itself is a compare-and-swap on the task's status, and each committed
// transition is recorded to the audit trail.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"taskrouter/backend/internal/audit"
	"taskrouter/backend/internal/models"
	"taskrouter/backend/internal/policy"
	"taskrouter/backend/internal/store"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
)

// transitions is the closed set of legal (from, to) state pairs. Any pair
// not listed here is rejected as InvalidStateTransition, including
// self-transitions.
var transitions = map[models.TaskStatus]map[models.TaskStatus]bool{
	models.StatusPending: {
		models.StatusCompleted: true,
		models.StatusExpired:   true,
		models.StatusObserved:  true,
	},
	models.StatusCompleted: {
		models.StatusArchived: true,
		models.StatusObserved: true,
	},
	models.StatusObserved: {
		models.StatusPending: true,
	},
	models.StatusExpired: {
		models.StatusCompleted: true,
	},
	models.StatusArchived: {},
}

func canTransition(from, to models.TaskStatus) bool {
	return transitions[from][to]
}

type Engine struct {
	tasks    store.TaskStore
	dir      store.Directory
	policy   *policy.Policy
	recorder *audit.Recorder

	// Clock supplies the current time; replaceable in tests.
	Clock func() time.Time
}

func New(tasks store.TaskStore, dir store.Directory, pol *policy.Policy, recorder *audit.Recorder) *Engine {
	return &Engine{
		tasks:    tasks,
		dir:      dir,
		policy:   pol,
		recorder: recorder,
		Clock:    time.Now,
	}
}

type CreateRequest struct {
	Actor               uuid.UUID
	Recipient           uuid.UUID
	Title               string
	Description         string
	Priority            models.TaskPriority
	DueAt               *time.Time
	LateDeliveryAllowed bool
}

// loadActor resolves the acting user and enforces that it exists and is
// active. An inactive user may appear as a historical issuer or recipient
// on stored tasks, but may never act.
func (e *Engine) loadActor(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := e.dir.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "actor", "user %s does not exist", id)
		}
		return nil, &Error{Kind: KindNotFound, Rule: "actor", Msg: "actor lookup failed", Err: err}
	}
	if !user.IsActive {
		return nil, newError(KindPermissionDenied, "inactive_actor", "user %s is not active", id)
	}
	return user, nil
}

func (e *Engine) loadTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	task, err := e.tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "task", "task %s does not exist", id)
		}
		return nil, &Error{Kind: KindNotFound, Rule: "task", Msg: "task lookup failed", Err: err}
	}
	return task, nil
}

// put applies the compare-and-swap write and translates store failures
// into the engine's taxonomy.
func (e *Engine) put(ctx context.Context, task *models.Task, prior models.TaskStatus) error {
	err := e.tasks.Put(ctx, task, prior)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrStaleState) {
		return newError(KindConcurrentModification, "status",
			"task %s changed from %s since it was read; retry with fresh data", task.ID, prior)
	}
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFound, "task", "task %s does not exist", task.ID)
	}
	return &Error{Kind: KindConcurrentModification, Rule: "status", Msg: "task write failed", Err: err}
}

// record emits an audit event for a committed change. A recorder failure
// degrades auditing but never the operation; the recorder has already
// logged it by the time this returns.
func (e *Engine) record(ctx context.Context, action models.AuditAction, entityID uuid.UUID, actor *uuid.UUID, detail map[string]interface{}) {
	payload, err := json.Marshal(detail)
	if err != nil {
		payload = []byte("{}")
	}
	_ = e.recorder.Record(ctx, &models.AuditEvent{
		Subject:  "tasks",
		Action:   action,
		EntityID: entityID,
		ActorID:  actor,
		Detail:   string(payload),
	})
}

// Create validates the issuer's dispatch rights and the routing rules,
// then persists a new task in the pending state.
//
// A due date is accepted as long as it does not fall on a calendar day
// before the creation day; a task created with a due timestamp earlier the
// same day is legal and simply becomes sweepable immediately.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.Task, error) {
	actor, err := e.loadActor(ctx, req.Actor)
	if err != nil {
		return nil, err
	}

	if req.Title == "" {
		return nil, newError(KindValidation, "title", "title must not be empty")
	}
	if req.Recipient == req.Actor {
		return nil, newError(KindValidation, "recipient", "a task cannot be assigned to its issuer")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.Valid() {
		return nil, newError(KindValidation, "priority", "unknown priority %q", priority)
	}

	now := e.Clock().UTC()
	if req.DueAt != nil {
		due := req.DueAt.UTC()
		if due.Truncate(24 * time.Hour).Before(now.Truncate(24 * time.Hour)) {
			return nil, newError(KindValidation, "due_at", "due date is before the creation date")
		}
	}

	recipient, err := e.dir.GetUser(ctx, req.Recipient)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "recipient", "user %s does not exist", req.Recipient)
		}
		return nil, &Error{Kind: KindNotFound, Rule: "recipient", Msg: "recipient lookup failed", Err: err}
	}
	if !recipient.IsActive {
		return nil, newError(KindValidation, "recipient", "recipient %s is not active", req.Recipient)
	}

	if d := e.policy.CanInitiate(actor.Role.Name); !d.Allowed {
		return nil, newError(KindPermissionDenied, d.Rule, "role %q may not create tasks", actor.Role.Name)
	}
	if d := e.policy.CanRoute(actor.Role.Name, recipient.Role.Name); !d.Allowed {
		return nil, newError(KindPermissionDenied, d.Rule,
			"role %q may not route tasks to role %q", actor.Role.Name, recipient.Role.Name)
	}

	task := &models.Task{
		ID:                  uuid.Must(uuid.NewV4()),
		IssuerID:            req.Actor,
		RecipientID:         req.Recipient,
		Title:               req.Title,
		Description:         req.Description,
		Status:              models.StatusPending,
		Priority:            priority,
		DueAt:               req.DueAt,
		LateDeliveryAllowed: req.LateDeliveryAllowed,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.tasks.Create(ctx, task); err != nil {
		return nil, &Error{Kind: KindConcurrentModification, Rule: "task", Msg: "task create failed", Err: err}
	}

	e.record(ctx, models.AuditInsert, task.ID, &req.Actor, map[string]interface{}{
		"status":    task.Status,
		"recipient": task.RecipientID,
		"priority":  task.Priority,
		"due_at":    task.DueAt,
	})
	return task, nil
}

// Complete marks a pending or expired task done. Completing an expired
// task is a late delivery and is refused when the issuer disallowed it.
func (e *Engine) Complete(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error) {
	if _, err := e.loadActor(ctx, actorID); err != nil {
		return nil, err
	}
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.RecipientID != actorID {
		return nil, newError(KindPermissionDenied, "not_recipient", "only the task recipient may complete it")
	}

	prior := task.Status
	if !canTransition(prior, models.StatusCompleted) {
		return nil, newError(KindInvalidStateTransition, "status",
			"cannot complete a task in state %q", prior)
	}
	if prior == models.StatusExpired && !task.LateDeliveryAllowed {
		return nil, newError(KindLateCompletionDenied, "late_delivery",
			"task expired and late delivery is not allowed")
	}

	now := e.Clock().UTC()
	task.Status = models.StatusCompleted
	task.CompletedAt = &now
	if err := e.put(ctx, task, prior); err != nil {
		return nil, err
	}

	e.record(ctx, models.AuditUpdate, task.ID, &actorID, map[string]interface{}{
		"status": map[string]models.TaskStatus{"from": prior, "to": task.Status},
	})
	return task, nil
}

// Return sends a pending task back to its issuer with a mandatory
// explanatory comment. The comment and the state change are one logical
// unit: the state write follows the comment write, and if it fails the
// operation fails as a whole (the comment may remain as an orphan).
func (e *Engine) Return(ctx context.Context, actorID, taskID uuid.UUID, comment string) (*models.Task, error) {
	if _, err := e.loadActor(ctx, actorID); err != nil {
		return nil, err
	}
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.RecipientID != actorID {
		return nil, newError(KindPermissionDenied, "not_recipient", "only the task recipient may return it")
	}
	if task.Status != models.StatusPending {
		return nil, newError(KindInvalidStateTransition, "status",
			"cannot return a task in state %q", task.Status)
	}
	if comment == "" {
		return nil, newError(KindValidation, "comment", "a return requires a comment")
	}

	return e.commentAndTransition(ctx, task, actorID, comment, models.StatusObserved)
}

// Observe rejects a completed task: the issuer sends it back to the
// recipient with a comment explaining what is wrong.
func (e *Engine) Observe(ctx context.Context, actorID, taskID uuid.UUID, comment string) (*models.Task, error) {
	if _, err := e.loadActor(ctx, actorID); err != nil {
		return nil, err
	}
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IssuerID != actorID {
		return nil, newError(KindPermissionDenied, "not_issuer", "only the task issuer may observe it")
	}
	if task.Status != models.StatusCompleted {
		return nil, newError(KindInvalidStateTransition, "status",
			"cannot observe a task in state %q", task.Status)
	}
	if comment == "" {
		return nil, newError(KindValidation, "comment", "an observation requires a comment")
	}

	return e.commentAndTransition(ctx, task, actorID, comment, models.StatusObserved)
}

func (e *Engine) commentAndTransition(ctx context.Context, task *models.Task, actorID uuid.UUID, comment string, to models.TaskStatus) (*models.Task, error) {
	err := e.tasks.AppendComment(ctx, &models.Comment{
		ID:        uuid.Must(uuid.NewV4()),
		TaskID:    task.ID,
		AuthorID:  actorID,
		Body:      comment,
		CreatedAt: e.Clock().UTC(),
	})
	if err != nil {
		return nil, &Error{Kind: KindConcurrentModification, Rule: "comment", Msg: "comment write failed", Err: err}
	}

	prior := task.Status
	task.Status = to
	if err := e.put(ctx, task, prior); err != nil {
		return nil, err
	}

	e.record(ctx, models.AuditUpdate, task.ID, &actorID, map[string]interface{}{
		"status":  map[string]models.TaskStatus{"from": prior, "to": to},
		"comment": comment,
	})
	return task, nil
}

// Reassign routes an observed task back into pending, optionally to a new
// recipient, clearing any completion mark from the previous attempt.
func (e *Engine) Reassign(ctx context.Context, actorID, taskID, newRecipientID uuid.UUID) (*models.Task, error) {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IssuerID != actorID {
		return nil, newError(KindPermissionDenied, "not_issuer", "only the task issuer may reassign it")
	}
	if task.Status != models.StatusObserved {
		return nil, newError(KindInvalidStateTransition, "status",
			"cannot reassign a task in state %q", task.Status)
	}
	if newRecipientID == actorID {
		return nil, newError(KindValidation, "recipient", "a task cannot be assigned to its issuer")
	}

	recipient, err := e.dir.GetUser(ctx, newRecipientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindNotFound, "recipient", "user %s does not exist", newRecipientID)
		}
		return nil, &Error{Kind: KindNotFound, Rule: "recipient", Msg: "recipient lookup failed", Err: err}
	}
	if !recipient.IsActive {
		return nil, newError(KindValidation, "recipient", "recipient %s is not active", newRecipientID)
	}
	if d := e.policy.CanRoute(actor.Role.Name, recipient.Role.Name); !d.Allowed {
		return nil, newError(KindPermissionDenied, d.Rule,
			"role %q may not route tasks to role %q", actor.Role.Name, recipient.Role.Name)
	}

	prior := task.Status
	oldRecipient := task.RecipientID
	task.Status = models.StatusPending
	task.RecipientID = newRecipientID
	task.CompletedAt = nil
	if err := e.put(ctx, task, prior); err != nil {
		return nil, err
	}

	e.record(ctx, models.AuditUpdate, task.ID, &actorID, map[string]interface{}{
		"status":    map[string]models.TaskStatus{"from": prior, "to": task.Status},
		"recipient": map[string]uuid.UUID{"from": oldRecipient, "to": newRecipientID},
	})
	return task, nil
}

// Archive closes out a completed task. Archived is terminal.
func (e *Engine) Archive(ctx context.Context, actorID, taskID uuid.UUID) (*models.Task, error) {
	if _, err := e.loadActor(ctx, actorID); err != nil {
		return nil, err
	}
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IssuerID != actorID {
		return nil, newError(KindPermissionDenied, "not_issuer", "only the task issuer may archive it")
	}

	prior := task.Status
	if !canTransition(prior, models.StatusArchived) {
		return nil, newError(KindInvalidStateTransition, "status",
			"cannot archive a task in state %q", prior)
	}

	task.Status = models.StatusArchived
	if err := e.put(ctx, task, prior); err != nil {
		return nil, err
	}

	e.record(ctx, models.AuditUpdate, task.ID, &actorID, map[string]interface{}{
		"status": map[string]models.TaskStatus{"from": prior, "to": task.Status},
	})
	return task, nil
}

// SweepExpirations forces every overdue task into the expired state and
// returns how many it transitioned. It is driven by the sweeper with the
// system identity; audit rows carry a null actor. Safe to run repeatedly
// and concurrently: the store query already excludes ineligible states,
// and a task that loses the CAS race is simply skipped (whoever won has
// already moved it).
func (e *Engine) SweepExpirations(ctx context.Context, now time.Time) (int, error) {
	tasks, err := e.tasks.QueryExpirable(ctx, now)
	if err != nil {
		return 0, &Error{Kind: KindNotFound, Rule: "sweep", Msg: "expirable query failed", Err: err}
	}

	swept := 0
	for i := range tasks {
		if ctx.Err() != nil {
			// canceled mid-batch: already committed transitions stand
			return swept, ctx.Err()
		}
		task := &tasks[i]
		if !task.Expirable(now) {
			continue
		}

		prior := task.Status
		task.Status = models.StatusExpired
		if err := e.put(ctx, task, prior); err != nil {
			if IsConcurrentModification(err) || IsNotFound(err) {
				log.WithField("task_id", task.ID).Debug("sweep lost race for task, skipping")
				continue
			}
			return swept, err
		}

		e.record(ctx, models.AuditUpdate, task.ID, nil, map[string]interface{}{
			"status": map[string]models.TaskStatus{"from": prior, "to": models.StatusExpired},
			"due_at": task.DueAt,
		})
		swept++
	}
	return swept, nil
}

// AdminDelete removes a task outright, bypassing the state machine. It is
// restricted to the privileged dispatcher tier and still leaves an audit
// trail of the deletion.
func (e *Engine) AdminDelete(ctx context.Context, actorID, taskID uuid.UUID) error {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return err
	}
	if d := e.policy.CanAdminister(actor.Role.Name); !d.Allowed {
		return newError(KindPermissionDenied, d.Rule, "role %q may not delete tasks", actor.Role.Name)
	}

	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := e.tasks.Delete(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotFound, "task", "task %s does not exist", taskID)
		}
		return &Error{Kind: KindConcurrentModification, Rule: "task", Msg: "task delete failed", Err: err}
	}

	e.record(ctx, models.AuditDelete, taskID, &actorID, map[string]interface{}{
		"status": task.Status,
		"title":  task.Title,
	})
	return nil
}

// Get returns a task by id without any mutation.
func (e *Engine) Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return e.loadTask(ctx, taskID)
}

// Inbox lists the tasks addressed to a user.
func (e *Engine) Inbox(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	return e.tasks.QueryByRecipient(ctx, userID)
}

// Outbox lists the tasks a user has issued.
func (e *Engine) Outbox(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	return e.tasks.QueryByIssuer(ctx, userID)
}

// Comments lists a task's comments in append order.
func (e *Engine) Comments(ctx context.Context, taskID uuid.UUID) ([]models.Comment, error) {
	if _, err := e.loadTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.tasks.ListComments(ctx, taskID)
}
