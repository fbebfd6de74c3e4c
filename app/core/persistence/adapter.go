package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"tasksync/app/core/task"
)

var (
	ErrTaskNotFound = errors.New("persistence: task not found")
	ErrEmptyPatch   = errors.New("persistence: empty patch")
)

// OrderPatch is one task's new position within a reorder batch.
type OrderPatch struct {
	TaskID       string `json:"task_id"`
	DisplayOrder int    `json:"display_order"`
}

// Adapter is the remote-store boundary the mutation layer writes through.
// Patches cross it as JSON documents of field -> new value; callers bound
// every call with a context deadline and treat any error, including a
// deadline hit, as a persistence failure.
type Adapter interface {
	Update(ctx context.Context, taskID string, patch []byte) error
	BatchReorder(ctx context.Context, patches []OrderPatch) error
	Delete(ctx context.Context, taskID string) error
}

// Loader is implemented by bundled adapters that can hydrate the
// in-memory store at boot and persist whole new tasks.
type Loader interface {
	SaveTask(ctx context.Context, t task.Task) error
	LoadAll(ctx context.Context) ([]task.Task, error)
}

// applyPatch folds a field patch document into a stored task document.
// Raw values are spliced in unparsed so types survive the round trip.
func applyPatch(doc []byte, patch []byte) ([]byte, error) {
	parsed := gjson.ParseBytes(patch)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("persistence: patch is not a JSON object")
	}

	var applyErr error
	count := 0
	parsed.ForEach(func(key, value gjson.Result) bool {
		count++
		next, err := sjson.SetRawBytes(doc, key.String(), []byte(value.Raw))
		if err != nil {
			applyErr = fmt.Errorf("persistence: set %s: %w", key.String(), err)
			return false
		}
		doc = next
		return true
	})
	if applyErr != nil {
		return nil, applyErr
	}
	if count == 0 {
		return nil, ErrEmptyPatch
	}
	return doc, nil
}
