package persistence

import (
	"fmt"

	"tasksync/app/core/db"
)

// Backend pairs the mutation-path Adapter with the Loader used for store
// hydration and new-task creation. Both sides address the same remote
// store; splitting them would hydrate tasks that mutations never reach.
type Backend struct {
	Adapter Adapter
	Loader  Loader
	close   func() error
}

// Close releases the backend's connection when it owns one.
func (b Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend selects the persistence backend by name. An empty name
// falls back to the local sqlite database.
func OpenBackend(name string, dsn string, database *db.DB) (Backend, error) {
	switch name {
	case "postgres":
		pg, err := NewPostgresAdapter(dsn)
		if err != nil {
			return Backend{}, err
		}
		return Backend{Adapter: pg, Loader: pg, close: pg.Close}, nil
	case "", "sqlite":
		local := NewSQLiteAdapter(database)
		return Backend{Adapter: local, Loader: local}, nil
	default:
		return Backend{}, fmt.Errorf("persistence: unknown backend %q", name)
	}
}
