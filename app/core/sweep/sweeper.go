package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tasksync/app/core/mutation"
	"tasksync/app/core/notify"
	"tasksync/app/core/task"
	"tasksync/app/pkg/logger"
)

var ErrSweeperStarted = errors.New("sweep: already started")

// actor recorded on every write the sweeper makes.
const sweepActor = "system"

// PassStats counts what one sweep pass produced.
type PassStats struct {
	RemindersFired  int
	FollowUpsRaised int
	RecurredTasks   int
	Errors          int
}

// Sweeper periodically scans the store for time-triggered work: due
// reminders, elapsed waiting-for-response follow-ups, and completed
// recurring tasks whose next occurrence is due. Every change it makes
// goes through the mutation engine, so a persistence failure rolls the
// change back and the next pass retries it.
type Sweeper struct {
	mu       sync.Mutex
	store    *task.Store
	engine   *mutation.Engine
	notifier notify.Dispatcher
	interval time.Duration
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(store *task.Store, engine *mutation.Engine, notifier notify.Dispatcher, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		engine:   engine,
		notifier: notifier,
		interval: interval,
	}
}

func (s *Sweeper) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSweeperStarted
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.started = true

	s.wg.Add(1)
	go s.runLoop(ctx)
	return nil
}

func (s *Sweeper) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	cancel()
	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("sweep: stop timeout after %s", timeout)
	}
}

func (s *Sweeper) runLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.Sweep(ctx)
			if stats.RemindersFired+stats.FollowUpsRaised+stats.RecurredTasks+stats.Errors > 0 {
				logger.Info("sweep: reminders=%d follow_ups=%d recurred=%d errors=%d",
					stats.RemindersFired, stats.FollowUpsRaised, stats.RecurredTasks, stats.Errors)
			}
		}
	}
}

// Sweep runs one pass over every task and waits for all resulting
// mutations to settle before returning.
func (s *Sweeper) Sweep(ctx context.Context) PassStats {
	now := time.Now().UTC()
	var stats PassStats

	for _, item := range s.store.All() {
		if item.Status != task.StatusDone && reminderDue(item, now) {
			if s.fireReminder(ctx, item) {
				stats.RemindersFired++
			} else {
				stats.Errors++
			}
		}
		if followUpElapsed(item, now) {
			if s.raiseFollowUp(ctx, item) {
				stats.FollowUpsRaised++
			} else {
				stats.Errors++
			}
		}
		if recurrenceDue(item, now) {
			if s.advanceRecurrence(ctx, item, now) {
				stats.RecurredTasks++
			} else {
				stats.Errors++
			}
		}
	}
	return stats
}

func reminderDue(item task.Task, now time.Time) bool {
	return item.ReminderAt != nil && !item.ReminderSent && !item.ReminderAt.After(now)
}

// WaitingSince is required: the follow-up notification reports it, and a
// hydrated doc can carry waiting_for_response without it.
func followUpElapsed(item task.Task, now time.Time) bool {
	return item.WaitingForResponse && !item.FollowUpFlagged &&
		item.WaitingSince != nil &&
		item.FollowUpAt != nil && !item.FollowUpAt.After(now)
}

func recurrenceDue(item task.Task, now time.Time) bool {
	return item.Recurrence != task.RecurrenceNone &&
		item.Status == task.StatusDone &&
		item.DueDate != nil && !item.DueDate.After(now)
}

func (s *Sweeper) fireReminder(ctx context.Context, item task.Task) bool {
	if !s.settle(ctx, item.ID, mutation.ReminderSentPatch{Sent: true}) {
		return false
	}
	s.notifier.Notify(notify.Event{
		Kind:     notify.KindReminder,
		TaskID:   item.ID,
		TaskText: item.Text,
		Target:   item.Assignee,
		Detail:   fmt.Sprintf("reminder due at %s", item.ReminderAt.Format(time.RFC3339)),
	})
	return true
}

func (s *Sweeper) raiseFollowUp(ctx context.Context, item task.Task) bool {
	if !s.settle(ctx, item.ID, mutation.FollowUpFlaggedPatch{Flagged: true}) {
		return false
	}
	s.notifier.Notify(notify.Event{
		Kind:     notify.KindFollowUp,
		TaskID:   item.ID,
		TaskText: item.Text,
		Target:   item.Assignee,
		Detail:   fmt.Sprintf("no response via %s since %s", item.ContactType, item.WaitingSince.Format(time.RFC3339)),
	})
	return true
}

// advanceRecurrence reopens a completed recurring task at its next
// occurrence after now. Reminders on the prior occurrence rearm through
// the reminder patch when one is set.
func (s *Sweeper) advanceRecurrence(ctx context.Context, item task.Task, now time.Time) bool {
	next := item.Recurrence.NextAfter(*item.DueDate)
	for !next.After(now) {
		next = item.Recurrence.NextAfter(next)
	}

	if !s.settle(ctx, item.ID, mutation.DueDatePatch{Due: &next}) {
		return false
	}
	if !s.settle(ctx, item.ID, mutation.StatusPatch{Status: task.StatusTodo}) {
		return false
	}
	if item.ReminderAt != nil {
		offset := item.DueDate.Sub(*item.ReminderAt)
		rearmed := next.Add(-offset)
		if !s.settle(ctx, item.ID, mutation.ReminderPatch{At: &rearmed}) {
			return false
		}
	}
	return true
}

func (s *Sweeper) settle(ctx context.Context, taskID string, patch mutation.FieldPatch) bool {
	h, err := s.engine.Apply(ctx, sweepActor, taskID, patch)
	if err != nil {
		logger.Error("sweep: apply %s to %s: %v", patch.Field(), taskID, err)
		return false
	}
	result, err := h.Wait(ctx)
	if err != nil {
		logger.Error("sweep: wait %s on %s: %v", patch.Field(), taskID, err)
		return false
	}
	if result.Err != nil {
		logger.Error("sweep: %s on %s rolled back: %v", patch.Field(), taskID, result.Err)
		return false
	}
	return true
}
