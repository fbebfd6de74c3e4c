package mutation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tasksync/app/core/task"
)

type mergeFixture struct {
	*engineFixture
	resolver *MergeResolver
}

func newMergeFixture(t *testing.T) *mergeFixture {
	t.Helper()
	f := newEngineFixture(t, EngineOptions{})
	return &mergeFixture{
		engineFixture: f,
		resolver:      NewMergeResolver(f.store, f.adapter, f.recorder, f.engine, f.pool, EngineOptions{}),
	}
}

func TestMergeCombinationRules(t *testing.T) {
	f := newMergeFixture(t)

	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := task.New("inbox", "call the vendor")
	existing.Priority = task.PriorityMedium
	existing.Subtasks = []task.Subtask{{ID: "a", Text: "find number", Priority: task.PriorityMedium}}
	existing.Notes = "left a voicemail"
	incoming := task.New("inbox", "vendor call about renewal")
	incoming.Priority = task.PriorityUrgent
	incoming.DueDate = &due
	incoming.Subtasks = []task.Subtask{{ID: "b", Text: "confirm pricing", Priority: task.PriorityHigh}}

	f.seed(t, existing)
	f.seed(t, incoming)

	h, err := f.resolver.Merge(context.Background(), "dana", existing.ID, incoming.ID)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	result := waitSettled(t, h)
	if !result.Committed() {
		t.Fatalf("expected commit, got %v", result.Err)
	}

	got, _ := f.store.Get(existing.ID)
	if got.Priority != task.PriorityUrgent {
		t.Fatalf("expected the more urgent priority, got %s", got.Priority)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Fatalf("expected incoming due date, got %v", got.DueDate)
	}
	if len(got.Subtasks) != 2 || got.Subtasks[0].ID != "a" || got.Subtasks[1].ID != "b" {
		t.Fatalf("expected subtasks [a b], got %+v", got.Subtasks)
	}
	if !strings.HasPrefix(got.Notes, "left a voicemail") {
		t.Fatalf("existing notes must be retained: %q", got.Notes)
	}
	if !strings.Contains(got.Notes, "--- merged ") {
		t.Fatalf("expected timestamped separator in notes: %q", got.Notes)
	}
	if !strings.Contains(got.Notes, "vendor call about renewal") {
		t.Fatalf("incoming text must be appended: %q", got.Notes)
	}
}

func TestMergeKeepsEarlierOfTwoDueDates(t *testing.T) {
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	existing := task.New("inbox", "x")
	existing.DueDate = &later
	incoming := task.New("inbox", "y")
	incoming.DueDate = &earlier

	merged := combineFields(existing, incoming, time.Now())
	if merged.DueDate == nil || !merged.DueDate.Equal(earlier) {
		t.Fatalf("expected earlier date, got %v", merged.DueDate)
	}

	// One-sided dates carry over.
	incoming.DueDate = nil
	merged = combineFields(existing, incoming, time.Now())
	if merged.DueDate == nil || !merged.DueDate.Equal(later) {
		t.Fatalf("expected surviving date, got %v", merged.DueDate)
	}
}

func TestMergeDiscardsIncomingAfterCommit(t *testing.T) {
	f := newMergeFixture(t)
	existing := f.seed(t, task.New("inbox", "keep me"))
	incoming := f.seed(t, task.New("inbox", "absorb me"))

	h, err := f.resolver.Merge(context.Background(), "dana", existing.ID, incoming.ID)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	waitSettled(t, h)

	if _, ok := f.store.Get(incoming.ID); ok {
		t.Fatal("expected incoming task discarded after commit")
	}
	deleted := f.adapter.deletedIDs()
	if len(deleted) != 1 || deleted[0] != incoming.ID {
		t.Fatalf("expected remote delete of incoming, got %v", deleted)
	}
}

func TestMergeRollbackIsWholesale(t *testing.T) {
	f := newMergeFixture(t)

	existing := task.New("inbox", "keep me")
	existing.Notes = "original notes"
	existing.Priority = task.PriorityLow
	existing.Subtasks = []task.Subtask{{ID: "a", Text: "one", Priority: task.PriorityLow}}
	incoming := task.New("inbox", "absorb me")
	incoming.Priority = task.PriorityUrgent

	f.seed(t, existing)
	f.seed(t, incoming)
	f.adapter.failTask[existing.ID] = errors.New("down")

	h, err := f.resolver.Merge(context.Background(), "dana", existing.ID, incoming.ID)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	result := waitSettled(t, h)
	if result.Record.State != StateRolledBack {
		t.Fatalf("expected rollback, got %s", result.Record.State)
	}

	got, _ := f.store.Get(existing.ID)
	if got.Notes != "original notes" || got.Priority != task.PriorityLow || len(got.Subtasks) != 1 {
		t.Fatalf("merge rollback left residue: %+v", got)
	}
	if _, ok := f.store.Get(incoming.ID); !ok {
		t.Fatal("incoming must survive a failed merge")
	}
	if len(f.recorder.all()) != 0 {
		t.Fatal("failed merge must not log activity")
	}
}

func TestMergeCarriesOverIncomingAttachments(t *testing.T) {
	f := newMergeFixture(t)

	existing := task.New("inbox", "keep me")
	existing.Attachments = []task.Attachment{{ID: "att-1", Name: "brief.pdf"}}
	incoming := task.New("inbox", "absorb me")
	incoming.Attachments = []task.Attachment{{ID: "att-2", Name: "photo.png"}}

	f.seed(t, existing)
	f.seed(t, incoming)

	h, err := f.resolver.Merge(context.Background(), "dana", existing.ID, incoming.ID)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	waitSettled(t, h)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := f.store.Get(existing.ID)
		if len(got.Attachments) == 2 {
			if got.Attachments[0].ID != "att-1" || got.Attachments[1].ID != "att-2" {
				t.Fatalf("unexpected attachment order: %+v", got.Attachments)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("attachment carry-over never landed: %+v", got.Attachments)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMergeSurvivesAttachmentCarryOverFailure(t *testing.T) {
	f := newMergeFixture(t)

	existing := f.seed(t, task.New("inbox", "keep me"))
	incoming := task.New("inbox", "absorb me")
	incoming.Attachments = []task.Attachment{{ID: "att-9", Name: "late.bin"}}
	f.seed(t, incoming)

	// The merge patch itself lands, but the dependent attachments
	// mutation fails.
	f.adapter.failField["attachments"] = errors.New("blob store down")

	h, err := f.resolver.Merge(context.Background(), "dana", existing.ID, incoming.ID)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	result := waitSettled(t, h)
	if !result.Committed() {
		t.Fatalf("carry-over failure must not fail the merge: %v", result.Err)
	}

	// The merge stands and the attachments rollback leaves the existing
	// list untouched.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := f.store.Get(existing.ID)
		if len(got.Attachments) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed carry-over should roll back attachments: %+v", got.Attachments)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMergeValidation(t *testing.T) {
	f := newMergeFixture(t)
	existing := f.seed(t, task.New("inbox", "real"))

	var verr *ValidationError
	if _, err := f.resolver.Merge(context.Background(), "dana", existing.ID, existing.ID); !errors.As(err, &verr) {
		t.Fatalf("expected self-merge rejection, got %v", err)
	}
	if _, err := f.resolver.Merge(context.Background(), "dana", existing.ID, "ghost"); !errors.As(err, &verr) {
		t.Fatalf("expected unknown incoming rejection, got %v", err)
	}
	if _, err := f.resolver.Merge(context.Background(), "dana", "ghost", existing.ID); !errors.As(err, &verr) {
		t.Fatalf("expected unknown existing rejection, got %v", err)
	}
}
