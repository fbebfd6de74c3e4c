package mutation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tasksync/app/core/task"
)

func TestBulkPartialSuccess(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	bulk := NewBulkCoordinator(f.engine)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		item := f.seed(t, task.New("inbox", fmt.Sprintf("task %d", i)))
		ids = append(ids, item.ID)
	}
	f.adapter.failTask[ids[2]] = errors.New("not reachable")

	result := bulk.ApplyToSet(context.Background(), "dana", ids, StatusPatch{Status: task.StatusDone})

	if len(result.Succeeded) != 4 {
		t.Fatalf("expected 4 successes, got %d", len(result.Succeeded))
	}
	if len(result.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(result.Failed))
	}
	if _, ok := result.Failed[ids[2]]; !ok {
		t.Fatalf("expected failure for %s, got %v", ids[2], result.Failed)
	}

	for i, id := range ids {
		got, _ := f.store.Get(id)
		want := task.StatusDone
		if i == 2 {
			want = task.StatusTodo
		}
		if got.Status != want {
			t.Fatalf("task %d: expected %s, got %s", i, want, got.Status)
		}
	}
}

func TestBulkUnknownIDsLandInFailed(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	bulk := NewBulkCoordinator(f.engine)

	real := f.seed(t, task.New("inbox", "present"))
	result := bulk.ApplyToSet(context.Background(), "dana", []string{real.ID, "ghost"}, PriorityPatch{Priority: task.PriorityHigh})

	if len(result.Succeeded) != 1 || result.Succeeded[0] != real.ID {
		t.Fatalf("expected only %s to succeed, got %v", real.ID, result.Succeeded)
	}
	var verr *ValidationError
	if !errors.As(result.Failed["ghost"], &verr) {
		t.Fatalf("expected validation failure for ghost, got %v", result.Failed["ghost"])
	}
}

func TestBulkInvalidPatchFailsEverySelection(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	bulk := NewBulkCoordinator(f.engine)

	a := f.seed(t, task.New("inbox", "a"))
	b := f.seed(t, task.New("inbox", "b"))

	result := bulk.ApplyToSet(context.Background(), "dana", []string{a.ID, b.ID}, StatusPatch{Status: "paused"})

	if len(result.Succeeded) != 0 {
		t.Fatalf("expected no successes, got %v", result.Succeeded)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("expected both to fail, got %v", result.Failed)
	}
	if f.adapter.updateCount() != 0 {
		t.Fatalf("invalid patch must not reach persistence, got %d calls", f.adapter.updateCount())
	}
}

func TestBulkEmptySelection(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{})
	bulk := NewBulkCoordinator(f.engine)

	result := bulk.ApplyToSet(context.Background(), "dana", nil, StatusPatch{Status: task.StatusDone})
	if len(result.Succeeded) != 0 || len(result.Failed) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}
