package mutation

import (
	"context"
	"fmt"
	"time"

	"tasksync/app/core/activity"
	"tasksync/app/core/dispatch"
	"tasksync/app/core/persistence"
	"tasksync/app/core/task"
)

// ReorderCoordinator turns a drag-reorder into one atomic batch mutation.
// Its rollback unit is the whole scope ordering: a partially applied
// ordering is not a meaningful state, so failure restores the full prior
// snapshot, and success emits a single activity entry.
type ReorderCoordinator struct {
	store    *task.Store
	adapter  persistence.Adapter
	recorder activity.Recorder
	pool     *dispatch.Pool
	timeout  time.Duration
	retries  int
}

func NewReorderCoordinator(store *task.Store, adapter persistence.Adapter, recorder activity.Recorder, pool *dispatch.Pool, opts EngineOptions) *ReorderCoordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &ReorderCoordinator{
		store:    store,
		adapter:  adapter,
		recorder: recorder,
		pool:     pool,
		timeout:  opts.Timeout,
		retries:  opts.Retries,
	}
}

// Reorder assigns display orders 0..n-1 following orderedIDs, which must
// be a permutation of the scope's current members.
func (r *ReorderCoordinator) Reorder(ctx context.Context, actor string, scopeID string, orderedIDs []string) (*Handle, error) {
	if len(orderedIDs) == 0 {
		return nil, &ValidationError{Reason: "empty ordering"}
	}

	prior, err := r.store.ApplyOrdering(scopeID, orderedIDs)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	patches := make([]persistence.OrderPatch, len(orderedIDs))
	for pos, id := range orderedIDs {
		patches[pos] = persistence.OrderPatch{TaskID: id, DisplayOrder: pos}
	}

	record := Record{
		TaskID:   scopeKey(scopeID),
		Field:    "display_order",
		Prior:    prior,
		Proposed: patches,
		State:    StatePending,
	}
	handle := newHandle()

	_, err = r.pool.SubmitContext(ctx, dispatch.Call{
		AttemptTimeout: r.timeout,
		MaxRetries:     r.retries,
		Run: func(runCtx context.Context) error {
			return r.adapter.BatchReorder(runCtx, patches)
		},
		Settle: func(persistErr error) {
			if persistErr != nil {
				// All-or-nothing: the whole scope goes back to the
				// snapshot, never a per-item mix.
				r.store.RestoreOrdering(scopeID, prior)
				record.State = StateRolledBack
			} else {
				record.State = StateCommitted
				r.recorder.Log(activity.Event{
					Action: activity.ActionReorder,
					TaskID: scopeKey(scopeID),
					Actor:  actor,
					Field:  "display_order",
					Before: activity.EncodeValue(prior),
					After:  activity.EncodeValue(patches),
				})
			}
			handle.resolve(Result{Record: record, Err: persistErr})
		},
	})
	if err != nil {
		r.store.RestoreOrdering(scopeID, prior)
		return nil, fmt.Errorf("mutation: dispatch reorder for %s: %w", scopeID, err)
	}
	return handle, nil
}

func scopeKey(scopeID string) string {
	return "scope:" + scopeID
}
