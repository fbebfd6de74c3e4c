package activity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tasksync/app/core/db"
)

func newTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	database, err := db.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewSQLiteRecorder(database)
}

func TestLogAndRecent(t *testing.T) {
	recorder := newTestRecorder(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recorder.Log(Event{
		Action:    ActionUpdate,
		TaskID:    "t1",
		Actor:     "dana",
		Field:     "status",
		Before:    EncodeValue("todo"),
		After:     EncodeValue("done"),
		CreatedAt: base,
	})
	recorder.Log(Event{
		Action:    ActionReorder,
		TaskID:    "scope:inbox",
		Actor:     "dana",
		CreatedAt: base.Add(time.Minute),
	})

	events, err := recorder.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Action != ActionReorder {
		t.Fatalf("expected newest first, got %s", events[0].Action)
	}

	var after string
	if err := json.Unmarshal(events[1].After, &after); err != nil {
		t.Fatalf("decode after value: %v", err)
	}
	if after != "done" {
		t.Fatalf("unexpected after value: %s", after)
	}
}

func TestCountForTask(t *testing.T) {
	recorder := newTestRecorder(t)

	recorder.Log(Event{Action: ActionUpdate, TaskID: "t1", Actor: "a", Field: "text"})
	recorder.Log(Event{Action: ActionUpdate, TaskID: "t1", Actor: "a", Field: "status"})
	recorder.Log(Event{Action: ActionUpdate, TaskID: "t2", Actor: "a", Field: "status"})

	count, err := recorder.CountForTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events for t1, got %d", count)
	}
}

func TestEncodeValueFallsBackToNull(t *testing.T) {
	if got := string(EncodeValue(make(chan int))); got != "null" {
		t.Fatalf("expected null fallback, got %s", got)
	}
}
