package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"tasksync/app/core/db"
	"tasksync/app/core/task"
)

// SQLiteAdapter persists tasks as JSON documents in the local sqlite
// store. Field patches are folded into the stored document inside one
// transaction.
type SQLiteAdapter struct {
	db *db.DB
}

func NewSQLiteAdapter(database *db.DB) *SQLiteAdapter {
	return &SQLiteAdapter{db: database}
}

func (a *SQLiteAdapter) Update(ctx context.Context, taskID string, patch []byte) error {
	tx, err := a.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, taskID).Scan(&doc)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return err
	}

	updated, err := applyPatch(doc, patch)
	if err != nil {
		return err
	}

	order := gjson.GetBytes(updated, "display_order").Int()
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET doc = ?, display_order = ?, updated_at = ? WHERE id = ?`,
		updated, order, time.Now().Unix(), taskID); err != nil {
		return err
	}
	return tx.Commit()
}

func (a *SQLiteAdapter) BatchReorder(ctx context.Context, patches []OrderPatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := a.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, p := range patches {
		patch, err := json.Marshal(map[string]int{"display_order": p.DisplayOrder})
		if err != nil {
			return err
		}
		var doc []byte
		err = tx.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, p.TaskID).Scan(&doc)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, p.TaskID)
		}
		if err != nil {
			return err
		}
		updated, err := applyPatch(doc, patch)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET doc = ?, display_order = ?, updated_at = ? WHERE id = ?`,
			updated, p.DisplayOrder, now, p.TaskID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (a *SQLiteAdapter) Delete(ctx context.Context, taskID string) error {
	_, err := a.db.Conn().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	return err
}

func (a *SQLiteAdapter) SaveTask(ctx context.Context, t task.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = a.db.Conn().ExecContext(ctx, `
INSERT INTO tasks (id, scope_id, doc, display_order, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET scope_id = excluded.scope_id, doc = excluded.doc, display_order = excluded.display_order, updated_at = excluded.updated_at`,
		t.ID, t.ScopeID, doc, t.DisplayOrder, time.Now().Unix())
	return err
}

func (a *SQLiteAdapter) LoadAll(ctx context.Context) ([]task.Task, error) {
	rows, err := a.db.Conn().QueryContext(ctx, `SELECT doc FROM tasks ORDER BY scope_id, display_order ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]task.Task, 0, 16)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t task.Task
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, fmt.Errorf("persistence: decode task doc: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}
