package mutation

import (
	"context"
)

// BulkResult distinguishes per-id outcomes of a multi-select operation so
// the caller can present partial success.
type BulkResult struct {
	Succeeded []string
	Failed    map[string]error
}

// BulkCoordinator applies one patch across a set of selected tasks.
// Every task is mutated independently through the engine: one task's
// persistence failure rolls back that task only and never blocks or
// unwinds the others.
type BulkCoordinator struct {
	engine *Engine
}

func NewBulkCoordinator(engine *Engine) *BulkCoordinator {
	return &BulkCoordinator{engine: engine}
}

// ApplyToSet dispatches the patch for every id, waits for all in-flight
// mutations to settle, and returns the aggregate.
func (b *BulkCoordinator) ApplyToSet(ctx context.Context, actor string, taskIDs []string, patch FieldPatch) BulkResult {
	result := BulkResult{
		Succeeded: make([]string, 0, len(taskIDs)),
		Failed:    make(map[string]error),
	}

	handles := make(map[string]*Handle, len(taskIDs))
	for _, id := range taskIDs {
		h, err := b.engine.Apply(ctx, actor, id, patch)
		if err != nil {
			result.Failed[id] = err
			continue
		}
		handles[id] = h
	}

	for id, h := range handles {
		settled, err := h.Wait(ctx)
		if err != nil {
			result.Failed[id] = err
			continue
		}
		if settled.Err != nil {
			result.Failed[id] = settled.Err
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}
