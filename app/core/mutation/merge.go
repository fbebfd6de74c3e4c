package mutation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tasksync/app/core/activity"
	"tasksync/app/core/dispatch"
	"tasksync/app/core/persistence"
	"tasksync/app/core/task"
	"tasksync/app/pkg/logger"
)

// MergeResolver combines two tasks believed to be the same work item.
// The merged fields land on the existing task as one indivisible unit,
// persisted as one batch patch and reverted wholesale on failure. The
// incoming task is discarded only after the merge commits; its
// attachments are carried over as a secondary dependent mutation whose
// failure is logged but never unwinds the merge.
type MergeResolver struct {
	store    *task.Store
	adapter  persistence.Adapter
	recorder activity.Recorder
	engine   *Engine
	pool     *dispatch.Pool
	timeout  time.Duration
	retries  int
}

func NewMergeResolver(store *task.Store, adapter persistence.Adapter, recorder activity.Recorder, engine *Engine, pool *dispatch.Pool, opts EngineOptions) *MergeResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &MergeResolver{
		store:    store,
		adapter:  adapter,
		recorder: recorder,
		engine:   engine,
		pool:     pool,
		timeout:  opts.Timeout,
		retries:  opts.Retries,
	}
}

// mergedFields is the deterministic combination of the two candidates.
type mergedFields struct {
	Notes    string         `json:"notes"`
	Subtasks []task.Subtask `json:"subtasks"`
	Priority task.Priority  `json:"priority"`
	DueDate  *time.Time     `json:"due_date"`
}

// combineFields applies the merge rules without touching any store:
// notes concatenated below a timestamped separator, subtasks joined
// existing-first with each side's order preserved, the more urgent
// priority, the earlier non-null due date.
func combineFields(existing task.Task, incoming task.Task, now time.Time) mergedFields {
	out := mergedFields{
		Notes:    combineNotes(existing, incoming, now),
		Priority: task.MoreUrgent(existing.Priority, incoming.Priority),
		DueDate:  earlierDue(existing.DueDate, incoming.DueDate),
	}
	out.Subtasks = make([]task.Subtask, 0, len(existing.Subtasks)+len(incoming.Subtasks))
	out.Subtasks = append(out.Subtasks, existing.Subtasks...)
	out.Subtasks = append(out.Subtasks, incoming.Subtasks...)
	return out
}

func combineNotes(existing task.Task, incoming task.Task, now time.Time) string {
	var b strings.Builder
	b.WriteString(existing.Notes)
	b.WriteString(fmt.Sprintf("\n--- merged %s ---\n", now.Format("2006-01-02 15:04")))
	b.WriteString(incoming.Text)
	if strings.TrimSpace(incoming.Notes) != "" {
		b.WriteString("\n")
		b.WriteString(incoming.Notes)
	}
	return b.String()
}

func earlierDue(a, b *time.Time) *time.Time {
	if a == nil {
		return copyTime(b)
	}
	if b == nil {
		return copyTime(a)
	}
	if b.Before(*a) {
		return copyTime(b)
	}
	return copyTime(a)
}

// Merge folds incoming into existing. The handle resolves when the merge
// itself settles; discard and attachment carry-over happen after commit.
func (m *MergeResolver) Merge(ctx context.Context, actor string, existingID string, incomingID string) (*Handle, error) {
	if existingID == incomingID {
		return nil, &ValidationError{Reason: "cannot merge a task with itself"}
	}
	incoming, ok := m.store.Get(incomingID)
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown task %s", incomingID)}
	}

	now := time.Now().UTC()
	var merged mergedFields
	prior, ok := m.store.Replace(existingID, func(t *task.Task) {
		merged = combineFields(*t, incoming, now)
		t.Notes = merged.Notes
		t.Subtasks = copySubtasks(merged.Subtasks)
		t.Priority = merged.Priority
		t.DueDate = copyTime(merged.DueDate)
		t.UpdatedAt = now
	})
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown task %s", existingID)}
	}

	doc, err := encodeWire(map[string]interface{}{
		"notes":    merged.Notes,
		"subtasks": merged.Subtasks,
		"priority": merged.Priority,
		"due_date": merged.DueDate,
	})
	if err != nil {
		m.store.RestoreTask(prior)
		return nil, fmt.Errorf("mutation: encode merge patch: %w", err)
	}

	record := Record{
		TaskID:   existingID,
		Field:    "merge",
		Prior:    prior,
		Proposed: merged,
		State:    StatePending,
	}
	handle := newHandle()

	_, err = m.pool.SubmitContext(ctx, dispatch.Call{
		AttemptTimeout: m.timeout,
		MaxRetries:     m.retries,
		Run: func(runCtx context.Context) error {
			return m.adapter.Update(runCtx, existingID, doc)
		},
		Settle: func(persistErr error) {
			if persistErr != nil {
				m.store.RestoreTask(prior)
				record.State = StateRolledBack
				handle.resolve(Result{Record: record, Err: persistErr})
				return
			}

			record.State = StateCommitted
			m.recorder.Log(activity.Event{
				Action: activity.ActionMerge,
				TaskID: existingID,
				Actor:  actor,
				Before: activity.EncodeValue(map[string]string{"merged_from": incomingID}),
				After:  activity.EncodeValue(merged),
			})
			m.discardIncoming(actor, incomingID)
			m.carryOverAttachments(actor, existingID, incoming.Attachments)
			handle.resolve(Result{Record: record, Err: nil})
		},
	})
	if err != nil {
		m.store.RestoreTask(prior)
		return nil, fmt.Errorf("mutation: dispatch merge for %s: %w", existingID, err)
	}
	return handle, nil
}

// discardIncoming removes the absorbed candidate after the merge commit.
// It runs on a pool worker, so the remote delete gets its own deadline.
func (m *MergeResolver) discardIncoming(actor string, incomingID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.adapter.Delete(ctx, incomingID); err != nil {
		// The merge stands; the leftover candidate can be re-merged or
		// deleted later.
		logger.Error("mutation: discard merged task %s failed: %v", incomingID, err)
		return
	}
	m.store.Remove(incomingID)
	m.recorder.Log(activity.Event{
		Action: activity.ActionDelete,
		TaskID: incomingID,
		Actor:  actor,
		Before: activity.EncodeValue(map[string]string{"discarded_after_merge": incomingID}),
	})
}

func (m *MergeResolver) carryOverAttachments(actor string, existingID string, incoming []task.Attachment) {
	if len(incoming) == 0 {
		return
	}
	existing, ok := m.store.Get(existingID)
	if !ok {
		return
	}
	combined := make([]task.Attachment, 0, len(existing.Attachments)+len(incoming))
	combined = append(combined, existing.Attachments...)
	combined = append(combined, incoming...)

	h, err := m.engine.Apply(context.Background(), actor, existingID, AttachmentsPatch{Attachments: combined})
	if err != nil {
		logger.Error("mutation: attachment carry-over to %s failed: %v", existingID, err)
		return
	}
	go func() {
		result := <-h.Done()
		if result.Err != nil {
			logger.Error("mutation: attachment carry-over to %s rolled back: %v", existingID, result.Err)
		}
	}()
}
