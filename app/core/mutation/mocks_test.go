package mutation

import (
	"context"
	"sync"

	"github.com/tidwall/gjson"

	"tasksync/app/core/activity"
	"tasksync/app/core/notify"
	"tasksync/app/core/persistence"
)

type updateCall struct {
	TaskID string
	Patch  []byte
}

// fakeAdapter is a scriptable persistence boundary: failures can be
// pinned to a task id or to any patch touching a given field, and calls
// can be delayed or held until their context deadline fires.
type fakeAdapter struct {
	mu       sync.Mutex
	updates  []updateCall
	reorders [][]persistence.OrderPatch
	deletes  []string

	failTask    map[string]error
	failField   map[string]error
	failReorder error
	failDelete  map[string]error

	hangUntilCtx bool
	holdPath     string
	holdValue    string
	holdCh       chan struct{}
	failPath     string
	failValue    string
	failErr      error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		failTask:   make(map[string]error),
		failField:  make(map[string]error),
		failDelete: make(map[string]error),
	}
}

// hold blocks every update whose patch sets path to value until release
// is called, so a test can order settlements deterministically.
func (f *fakeAdapter) hold(path, value string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdPath = path
	f.holdValue = value
	f.holdCh = make(chan struct{})
	ch := f.holdCh
	return func() { close(ch) }
}

// failOn fails every update whose patch sets path to value.
func (f *fakeAdapter) failOn(path, value string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPath = path
	f.failValue = value
	f.failErr = err
}

func (f *fakeAdapter) Update(ctx context.Context, taskID string, patch []byte) error {
	f.mu.Lock()
	hang := f.hangUntilCtx
	holdPath := f.holdPath
	holdValue := f.holdValue
	holdCh := f.holdCh
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if holdPath != "" && gjson.GetBytes(patch, holdPath).String() == holdValue {
		select {
		case <-holdCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTask[taskID]; ok {
		return err
	}
	if f.failPath != "" && gjson.GetBytes(patch, f.failPath).String() == f.failValue {
		return f.failErr
	}
	for field, err := range f.failField {
		if gjson.GetBytes(patch, field).Exists() {
			return err
		}
	}
	f.updates = append(f.updates, updateCall{TaskID: taskID, Patch: append([]byte(nil), patch...)})
	return nil
}

func (f *fakeAdapter) BatchReorder(ctx context.Context, patches []persistence.OrderPatch) error {
	f.mu.Lock()
	hang := f.hangUntilCtx
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReorder != nil {
		return f.failReorder
	}
	f.reorders = append(f.reorders, append([]persistence.OrderPatch(nil), patches...))
	return nil
}

func (f *fakeAdapter) Delete(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failDelete[taskID]; ok {
		return err
	}
	f.deletes = append(f.deletes, taskID)
	return nil
}

func (f *fakeAdapter) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakeAdapter) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []activity.Event
}

func (f *fakeRecorder) Log(event activity.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRecorder) all() []activity.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]activity.Event(nil), f.events...)
}

func (f *fakeRecorder) countFor(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.events {
		if e.TaskID == taskID {
			count++
		}
	}
	return count
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Notify(event notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) all() []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Event(nil), f.events...)
}
