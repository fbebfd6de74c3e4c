package notify

import (
	"tasksync/app/pkg/logger"
)

const (
	KindAssignment = "assignment"
	KindPrivacy    = "privacy"
	KindReminder   = "reminder"
	KindFollowUp   = "follow_up"
)

// Event is one user-facing notification. Only committed changes produce
// events; the mutation layer never notifies speculatively.
type Event struct {
	Kind     string
	TaskID   string
	TaskText string
	Actor    string
	Target   string
	Detail   string
}

type Dispatcher interface {
	Notify(event Event)
}

// LogDispatcher records notifications in the process log. Real transports
// (mail, chat) sit behind the same interface outside this core.
type LogDispatcher struct{}

func (LogDispatcher) Notify(event Event) {
	logger.Info("notify: %s task=%s target=%s detail=%s", event.Kind, event.TaskID, event.Target, event.Detail)
}
