package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/tidwall/gjson"

	"tasksync/app/core/task"
)

// PostgresAdapter is the shared-deployment counterpart of SQLiteAdapter:
// same document model, same patch semantics, rows locked FOR UPDATE while
// a patch is folded in.
type PostgresAdapter struct {
	conn *sql.DB
}

func NewPostgresAdapter(dsn string) (*PostgresAdapter, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	a := &PostgresAdapter{conn: conn}
	if err := a.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to init postgres schema: %w", err)
	}
	return a, nil
}

func (a *PostgresAdapter) Close() error {
	return a.conn.Close()
}

func (a *PostgresAdapter) initSchema(ctx context.Context) error {
	_, err := a.conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	scope_id TEXT NOT NULL,
	doc JSONB NOT NULL,
	display_order INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return err
	}
	_, err = a.conn.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_scope_order ON tasks(scope_id, display_order ASC)`)
	return err
}

func (a *PostgresAdapter) Update(ctx context.Context, taskID string, patch []byte) error {
	tx, err := a.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&doc)
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
		`UPDATE tasks SET doc = $1, display_order = $2, updated_at = now() WHERE id = $3`,
		updated, order, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

func (a *PostgresAdapter) BatchReorder(ctx context.Context, patches []OrderPatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := a.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range patches {
		res, err := tx.ExecContext(ctx, `
UPDATE tasks SET doc = jsonb_set(doc, '{display_order}', to_jsonb($1::int)), display_order = $1, updated_at = now()
WHERE id = $2`, p.DisplayOrder, p.TaskID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, p.TaskID)
		}
	}
	return tx.Commit()
}

func (a *PostgresAdapter) Delete(ctx context.Context, taskID string) error {
	_, err := a.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	return err
}

func (a *PostgresAdapter) SaveTask(ctx context.Context, t task.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = a.conn.ExecContext(ctx, `
INSERT INTO tasks (id, scope_id, doc, display_order, updated_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	scope_id = EXCLUDED.scope_id,
	doc = EXCLUDED.doc,
	display_order = EXCLUDED.display_order,
	updated_at = EXCLUDED.updated_at`,
		t.ID, t.ScopeID, doc, t.DisplayOrder, time.Now().UTC())
	return err
}

func (a *PostgresAdapter) LoadAll(ctx context.Context) ([]task.Task, error) {
	rows, err := a.conn.QueryContext(ctx, `SELECT doc FROM tasks ORDER BY scope_id, display_order ASC`)
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
