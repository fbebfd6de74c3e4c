package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the total-order rank of a priority. Urgent ranks lowest,
// so the smaller rank always wins a merge.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// MoreUrgent returns the more urgent of two priorities.
func MoreUrgent(a, b Priority) Priority {
	if b.Rank() < a.Rank() {
		return b
	}
	return a
}

type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

// NextAfter returns the next occurrence of t for this recurrence, or the
// zero time when the task does not recur.
func (r Recurrence) NextAfter(t time.Time) time.Time {
	switch r {
	case RecurrenceDaily:
		return t.AddDate(0, 0, 1)
	case RecurrenceWeekly:
		return t.AddDate(0, 0, 7)
	case RecurrenceMonthly:
		return t.AddDate(0, 1, 0)
	}
	return time.Time{}
}

type Subtask struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	Completed        bool     `json:"completed"`
	Priority         Priority `json:"priority"`
	EstimatedMinutes int      `json:"estimated_minutes,omitempty"`
}

type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Task struct {
	ID      string `json:"id"`
	ScopeID string `json:"scope_id"`
	Text    string `json:"text"`
	Status  Status `json:"status"`

	Priority Priority `json:"priority"`
	Assignee string   `json:"assignee,omitempty"`

	DueDate      *time.Time `json:"due_date,omitempty"`
	ReminderAt   *time.Time `json:"reminder_at,omitempty"`
	ReminderSent bool       `json:"reminder_sent"`

	WaitingForResponse bool       `json:"waiting_for_response"`
	WaitingSince       *time.Time `json:"waiting_since,omitempty"`
	ContactType        string     `json:"contact_type,omitempty"`
	FollowUpAfterHours int        `json:"follow_up_after_hours,omitempty"`
	FollowUpAt         *time.Time `json:"follow_up_at,omitempty"`
	FollowUpFlagged    bool       `json:"follow_up_flagged"`

	Notes       string       `json:"notes,omitempty"`
	Subtasks    []Subtask    `json:"subtasks,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Recurrence   Recurrence `json:"recurrence"`
	IsPrivate    bool       `json:"is_private"`
	DisplayOrder int        `json:"display_order"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a fresh task in the given scope. Display order is assigned
// by the store on insert.
func New(scopeID string, text string) Task {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "Untitled task"
	}
	now := time.Now().UTC()
	return Task{
		ID:         uuid.NewString(),
		ScopeID:    scopeID,
		Text:       text,
		Status:     StatusTodo,
		Priority:   PriorityMedium,
		Recurrence: RecurrenceNone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy. Slices are copied so callers can never
// mutate store-owned state through a returned task.
func (t Task) Clone() Task {
	out := t
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	if t.ReminderAt != nil {
		d := *t.ReminderAt
		out.ReminderAt = &d
	}
	if t.WaitingSince != nil {
		d := *t.WaitingSince
		out.WaitingSince = &d
	}
	if t.FollowUpAt != nil {
		d := *t.FollowUpAt
		out.FollowUpAt = &d
	}
	if t.Subtasks != nil {
		out.Subtasks = make([]Subtask, len(t.Subtasks))
		copy(out.Subtasks, t.Subtasks)
	}
	if t.Attachments != nil {
		out.Attachments = make([]Attachment, len(t.Attachments))
		copy(out.Attachments, t.Attachments)
	}
	return out
}
