package mutation

import (
	"context"
	"fmt"
)

// State is a mutation record's lifecycle position.
type State string

const (
	StatePending    State = "pending"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// Record tracks one optimistic change from dispatch to settlement. The
// prior-value snapshot is taken under the store lock at dispatch time, so
// it reflects every earlier optimistic write, not the task at creation.
type Record struct {
	TaskID   string
	Field    string
	Prior    interface{}
	Proposed interface{}
	// Version is the field version the optimistic write produced. A
	// rollback presenting a stale version is skipped.
	Version uint64
	State   State
}

// Result is the settled outcome delivered to the caller: the final
// record plus the persistence error when the change was rolled back.
type Result struct {
	Record Record
	Err    error
}

func (r Result) Committed() bool {
	return r.Record.State == StateCommitted
}

// Handle resolves exactly once, when the mutation's persistence call
// settles.
type Handle struct {
	done chan Result
}

func newHandle() *Handle {
	return &Handle{done: make(chan Result, 1)}
}

func (h *Handle) resolve(r Result) {
	h.done <- r
}

// Done exposes the settlement channel for select-based callers.
func (h *Handle) Done() <-chan Result {
	return h.done
}

// Wait blocks until the mutation settles or the context ends.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-h.done:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ValidationError rejects a mutation before any optimistic write, so it
// never needs a rollback.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mutation: %s", e.Reason)
}
