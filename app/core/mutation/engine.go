package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/sjson"

	"tasksync/app/core/activity"
	"tasksync/app/core/dispatch"
	"tasksync/app/core/notify"
	"tasksync/app/core/persistence"
	"tasksync/app/core/task"
	"tasksync/app/pkg/logger"
)

// Engine applies single field-level changes optimistically and settles
// them against the persistence adapter: commit on success, versioned
// rollback on failure or timeout. Activity and notifications fire only
// after commit, never speculatively.
type Engine struct {
	store    *task.Store
	adapter  persistence.Adapter
	recorder activity.Recorder
	notifier notify.Dispatcher
	pool     *dispatch.Pool

	timeout         time.Duration
	retries         int
	followUpDefault time.Duration
}

type EngineOptions struct {
	Timeout time.Duration
	Retries int
	// FollowUpDefault is the waiting-for-response deadline offset used
	// when a patch does not carry its own. Zero means 48h.
	FollowUpDefault time.Duration
}

func NewEngine(store *task.Store, adapter persistence.Adapter, recorder activity.Recorder, notifier notify.Dispatcher, pool *dispatch.Pool, opts EngineOptions) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.FollowUpDefault <= 0 {
		opts.FollowUpDefault = 48 * time.Hour
	}
	return &Engine{
		store:           store,
		adapter:         adapter,
		recorder:        recorder,
		notifier:        notifier,
		pool:            pool,
		timeout:         opts.Timeout,
		retries:         opts.Retries,
		followUpDefault: opts.FollowUpDefault,
	}
}

func (e *Engine) Store() *task.Store {
	return e.store
}

// Apply dispatches one field patch. The optimistic write is visible in
// the store before Apply returns; the returned handle resolves when the
// background persistence call settles. A validation failure returns an
// error immediately and writes nothing.
func (e *Engine) Apply(ctx context.Context, actor string, taskID string, patch FieldPatch) (*Handle, error) {
	if patch == nil {
		return nil, &ValidationError{Reason: "nil patch"}
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var (
		wire     map[string]interface{}
		taskText string
	)
	prior, version, ok := e.store.ApplyField(taskID, patch.Field(), patch.snapshot, func(t *task.Task) {
		wire = patch.apply(t, now, e.followUpDefault)
		taskText = t.Text
		t.UpdatedAt = now
	})
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown task %s", taskID)}
	}

	record := Record{
		TaskID:   taskID,
		Field:    patch.Field(),
		Prior:    prior,
		Proposed: wire,
		Version:  version,
		State:    StatePending,
	}
	handle := newHandle()

	doc, err := encodeWire(wire)
	if err != nil {
		e.rollback(&record, patch)
		return nil, fmt.Errorf("mutation: encode patch for %s: %w", taskID, err)
	}

	_, err = e.pool.SubmitContext(ctx, dispatch.Call{
		AttemptTimeout: e.timeout,
		MaxRetries:     e.retries,
		Run: func(runCtx context.Context) error {
			return e.adapter.Update(runCtx, taskID, doc)
		},
		Settle: func(persistErr error) {
			e.settle(&record, patch, actor, taskText, persistErr)
			handle.resolve(Result{Record: record, Err: persistErr})
		},
	})
	if err != nil {
		e.rollback(&record, patch)
		return nil, fmt.Errorf("mutation: dispatch for %s: %w", taskID, err)
	}
	return handle, nil
}

// Delete removes a task optimistically and reinserts the full snapshot
// if the remote delete fails.
func (e *Engine) Delete(ctx context.Context, actor string, taskID string) (*Handle, error) {
	snapshot, ok := e.store.Remove(taskID)
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown task %s", taskID)}
	}

	record := Record{
		TaskID: taskID,
		Field:  "task",
		Prior:  snapshot.Task,
		State:  StatePending,
	}
	handle := newHandle()

	_, err := e.pool.SubmitContext(ctx, dispatch.Call{
		AttemptTimeout: e.timeout,
		MaxRetries:     e.retries,
		Run: func(runCtx context.Context) error {
			return e.adapter.Delete(runCtx, taskID)
		},
		Settle: func(persistErr error) {
			if persistErr != nil {
				e.store.Restore(snapshot)
				record.State = StateRolledBack
			} else {
				record.State = StateCommitted
				e.recorder.Log(activity.Event{
					Action: activity.ActionDelete,
					TaskID: taskID,
					Actor:  actor,
					Before: activity.EncodeValue(snapshot.Task),
				})
			}
			handle.resolve(Result{Record: record, Err: persistErr})
		},
	})
	if err != nil {
		e.store.Restore(snapshot)
		return nil, fmt.Errorf("mutation: dispatch delete for %s: %w", taskID, err)
	}
	return handle, nil
}

func (e *Engine) settle(record *Record, patch FieldPatch, actor string, taskText string, persistErr error) {
	if persistErr != nil {
		e.rollback(record, patch)
		return
	}

	record.State = StateCommitted
	e.recorder.Log(activity.Event{
		Action: activity.ActionUpdate,
		TaskID: record.TaskID,
		Actor:  actor,
		Field:  record.Field,
		Before: activity.EncodeValue(record.Prior),
		After:  activity.EncodeValue(record.Proposed),
	})
	e.notifyCommitted(patch, record, actor, taskText)
}

func (e *Engine) rollback(record *Record, patch FieldPatch) {
	outcome := e.store.RollbackField(record.TaskID, record.Field, record.Version, func(t *task.Task) {
		patch.restore(t, record.Prior)
	})
	record.State = StateRolledBack
	if outcome == task.RollbackStale {
		// A later write already advanced this field; restoring the
		// snapshot would clobber it.
		logger.Info("mutation: skipped stale rollback of %s on task %s", record.Field, record.TaskID)
	}
}

// notifyCommitted fires the post-commit side effects for the fields that
// carry them: reassignment and privacy changes.
func (e *Engine) notifyCommitted(patch FieldPatch, record *Record, actor string, taskText string) {
	if e.notifier == nil {
		return
	}
	switch p := patch.(type) {
	case AssigneePatch:
		if p.Assignee == "" {
			return
		}
		e.notifier.Notify(notify.Event{
			Kind:     notify.KindAssignment,
			TaskID:   record.TaskID,
			TaskText: taskText,
			Actor:    actor,
			Target:   p.Assignee,
			Detail:   fmt.Sprintf("assigned by %s", actor),
		})
	case PrivacyPatch:
		detail := "task made private"
		if !p.Private {
			detail = "task made visible"
		}
		e.notifier.Notify(notify.Event{
			Kind:   notify.KindPrivacy,
			TaskID: record.TaskID,
			Actor:  actor,
			Detail: detail,
		})
	}
}

func encodeWire(wire map[string]interface{}) ([]byte, error) {
	doc := []byte(`{}`)
	for field, value := range wire {
		next, err := sjson.SetBytes(doc, field, value)
		if err != nil {
			return nil, err
		}
		doc = next
	}
	return doc, nil
}
