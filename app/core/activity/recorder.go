package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"tasksync/app/core/db"
	"tasksync/app/pkg/logger"
)

const (
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionReorder = "reorder"
	ActionMerge   = "merge"
)

// Event is one committed change. Before and After hold JSON-encoded
// values of the affected field, or whole payloads for compound actions.
type Event struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	TaskID    string          `json:"task_id"`
	Actor     string          `json:"actor"`
	Field     string          `json:"field,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recorder receives events after a mutation commits. Implementations are
// fire-and-forget: a recording failure never unwinds a committed change.
type Recorder interface {
	Log(event Event)
}

// EncodeValue renders a field value for an event, falling back to null so
// an unencodable value never blocks the log call.
func EncodeValue(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// SQLiteRecorder appends events to the local activity table.
type SQLiteRecorder struct {
	db *db.DB
}

func NewSQLiteRecorder(database *db.DB) *SQLiteRecorder {
	return &SQLiteRecorder{db: database}
}

func (r *SQLiteRecorder) Log(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Conn().Exec(`
INSERT INTO activity (id, action, task_id, actor, field, before, after, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Action, event.TaskID, event.Actor, event.Field,
		[]byte(event.Before), []byte(event.After), event.CreatedAt.Unix())
	if err != nil {
		logger.Error("activity: log %s on %s failed: %v", event.Action, event.TaskID, err)
	}
}

// Recent returns the latest events, newest first.
func (r *SQLiteRecorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Conn().QueryContext(ctx, `
SELECT id, action, task_id, actor, COALESCE(field, ''), before, after, created_at
FROM activity ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e         Event
			before    []byte
			after     []byte
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.TaskID, &e.Actor, &e.Field, &before, &after, &createdAt); err != nil {
			return nil, err
		}
		e.Before = json.RawMessage(before)
		e.After = json.RawMessage(after)
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		items = append(items, e)
	}
	return items, rows.Err()
}

// CountForTask reports how many events were recorded against one task.
func (r *SQLiteRecorder) CountForTask(ctx context.Context, taskID string) (int, error) {
	var count int
	err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM activity WHERE task_id = ?`, taskID).Scan(&count)
	return count, err
}

// LogRecorder writes events to the process log, for setups that do not
// keep an activity table.
type LogRecorder struct{}

func (LogRecorder) Log(event Event) {
	logger.Info("activity: %s task=%s actor=%s field=%s", event.Action, event.TaskID, event.Actor, event.Field)
}
