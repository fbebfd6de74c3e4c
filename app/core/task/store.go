package task

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("task: not found")

// RollbackOutcome reports what a versioned field rollback actually did.
type RollbackOutcome int

const (
	RollbackRestored RollbackOutcome = iota
	// RollbackStale means a later write advanced the field after the
	// snapshot was taken, so the restore was skipped to avoid clobbering it.
	RollbackStale
	RollbackMissing
)

type OrderEntry struct {
	TaskID       string
	DisplayOrder int
}

// Store is the in-memory authoritative task collection. All reads hand out
// deep copies; all writes go through explicit accessors under one lock, so
// optimistic apply and rollback are single critical sections.
//
// Each (task, field) pair carries a monotonic version counter. A rollback
// presents the version its optimistic write produced and is skipped when a
// later write has advanced the field past it.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	versions map[string]map[string]uint64
}

func NewStore() *Store {
	return &Store{
		tasks:    make(map[string]*Task),
		versions: make(map[string]map[string]uint64),
	}
}

func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Insert adds a task. A task without a display order is appended at the
// end of its scope.
func (s *Store) Insert(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task: duplicate id %s", t.ID)
	}
	if t.DisplayOrder < 0 || s.orderTakenLocked(t.ScopeID, t.DisplayOrder) {
		t.DisplayOrder = s.nextOrderLocked(t.ScopeID)
	}
	stored := t.Clone()
	s.tasks[t.ID] = &stored
	return nil
}

// Removed is a delete snapshot: the task's final state plus its field
// version counters. Restoring the counters keeps rollbacks of mutations
// that were still in flight when the task was removed from going stale.
type Removed struct {
	Task     Task
	versions map[string]uint64
}

// Remove deletes a task and returns its removal snapshot for use in
// rollback.
func (s *Store) Remove(id string) (Removed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Removed{}, false
	}
	snapshot := Removed{Task: t.Clone(), versions: s.versions[id]}
	delete(s.tasks, id)
	delete(s.versions, id)
	return snapshot, true
}

// Restore reinserts a previously removed task with its original display
// order and field versions, used to roll back a failed delete.
func (s *Store) Restore(rm Removed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := rm.Task.Clone()
	s.tasks[rm.Task.ID] = &stored
	if len(rm.versions) > 0 {
		s.versions[rm.Task.ID] = rm.versions
	}
}

// ListScope returns the tasks of one scope ordered by display order.
func (s *Store) ListScope(scopeID string) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Task, 0, 8)
	for _, t := range s.tasks {
		if t.ScopeID == scopeID {
			items = append(items, t.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].DisplayOrder < items[j].DisplayOrder
	})
	return items
}

// All returns every task, ordered by scope then display order.
func (s *Store) All() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		items = append(items, t.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ScopeID != items[j].ScopeID {
			return items[i].ScopeID < items[j].ScopeID
		}
		return items[i].DisplayOrder < items[j].DisplayOrder
	})
	return items
}

// ApplyField captures the field's current value via read, applies write,
// and bumps the field's version, all in one critical section. The
// returned snapshot and version feed the mutation record.
func (s *Store) ApplyField(id string, field string, read func(Task) interface{}, write func(*Task)) (interface{}, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, 0, false
	}
	snapshot := read(t.Clone())
	write(t)
	version := s.bumpLocked(id, field)
	return snapshot, version, true
}

// RollbackField restores a field from its snapshot unless a later write
// has already advanced the field past the given version.
func (s *Store) RollbackField(id string, field string, version uint64, restore func(*Task)) RollbackOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return RollbackMissing
	}
	if s.versionLocked(id, field) != version {
		return RollbackStale
	}
	restore(t)
	s.bumpLocked(id, field)
	return RollbackRestored
}

// FieldVersion returns the current version of a task field.
func (s *Store) FieldVersion(id string, field string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked(id, field)
}

// OrderSnapshot captures the full current ordering of a scope.
func (s *Store) OrderSnapshot(scopeID string) []OrderEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderSnapshotLocked(scopeID)
}

// ApplyOrdering assigns display orders 0..n-1 following orderedIDs, which
// must be a permutation of the scope's current members. It returns the
// prior full-scope snapshot for rollback.
func (s *Store) ApplyOrdering(scopeID string, orderedIDs []string) ([]OrderEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make(map[string]*Task)
	for _, t := range s.tasks {
		if t.ScopeID == scopeID {
			members[t.ID] = t
		}
	}
	if len(orderedIDs) != len(members) {
		return nil, fmt.Errorf("task: ordering lists %d ids, scope %s has %d tasks", len(orderedIDs), scopeID, len(members))
	}
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if seen[id] {
			return nil, fmt.Errorf("task: duplicate id %s in ordering", id)
		}
		if _, ok := members[id]; !ok {
			return nil, fmt.Errorf("task: id %s is not in scope %s", id, scopeID)
		}
		seen[id] = true
	}

	prior := s.orderSnapshotLocked(scopeID)
	for pos, id := range orderedIDs {
		members[id].DisplayOrder = pos
		s.bumpLocked(id, "display_order")
	}
	return prior, nil
}

// RestoreOrdering puts a whole scope back to a prior ordering snapshot.
// Tasks that left the store since the snapshot are skipped.
func (s *Store) RestoreOrdering(scopeID string, snapshot []OrderEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range snapshot {
		t, ok := s.tasks[entry.TaskID]
		if !ok || t.ScopeID != scopeID {
			continue
		}
		t.DisplayOrder = entry.DisplayOrder
		s.bumpLocked(entry.TaskID, "display_order")
	}
}

// Replace swaps a task's full state under the lock, returning the prior
// state. Used by the merge resolver, whose rollback unit is the whole task.
func (s *Store) Replace(id string, write func(*Task)) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	prior := t.Clone()
	write(t)
	s.bumpLocked(id, "task")
	return prior, true
}

// RestoreTask puts a task's full prior state back, for merge rollback.
func (s *Store) RestoreTask(prior Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[prior.ID]
	if !ok {
		return false
	}
	restored := prior.Clone()
	*t = restored
	s.bumpLocked(prior.ID, "task")
	return true
}

func (s *Store) orderSnapshotLocked(scopeID string) []OrderEntry {
	entries := make([]OrderEntry, 0, 8)
	for _, t := range s.tasks {
		if t.ScopeID == scopeID {
			entries = append(entries, OrderEntry{TaskID: t.ID, DisplayOrder: t.DisplayOrder})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DisplayOrder < entries[j].DisplayOrder
	})
	return entries
}

func (s *Store) nextOrderLocked(scopeID string) int {
	next := 0
	for _, t := range s.tasks {
		if t.ScopeID == scopeID && t.DisplayOrder >= next {
			next = t.DisplayOrder + 1
		}
	}
	return next
}

func (s *Store) orderTakenLocked(scopeID string, order int) bool {
	for _, t := range s.tasks {
		if t.ScopeID == scopeID && t.DisplayOrder == order {
			return true
		}
	}
	return false
}

func (s *Store) bumpLocked(id string, field string) uint64 {
	fields, ok := s.versions[id]
	if !ok {
		fields = make(map[string]uint64)
		s.versions[id] = fields
	}
	fields[field]++
	return fields[field]
}

func (s *Store) versionLocked(id string, field string) uint64 {
	if fields, ok := s.versions[id]; ok {
		return fields[field]
	}
	return 0
}
