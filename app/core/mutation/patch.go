package mutation

import (
	"fmt"
	"strings"
	"time"

	"tasksync/app/core/task"
)

// FieldPatch is one member of the closed set of mutable-field changes.
// The set is sealed: every variant lives in this file, so an invalid
// patch shape is a compile error, not a runtime surprise.
//
// snapshot and apply both run inside the store's write lock; apply
// returns the wire fields (field name -> new value) that cross the
// persistence boundary for this change.
type FieldPatch interface {
	Field() string
	Validate() error

	snapshot(t task.Task) interface{}
	apply(t *task.Task, now time.Time, followUpDefault time.Duration) map[string]interface{}
	restore(t *task.Task, prior interface{})
}

type TextPatch struct {
	Text string
}

func (p TextPatch) Field() string { return "text" }

func (p TextPatch) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return &ValidationError{Reason: "text cannot be empty"}
	}
	return nil
}

func (p TextPatch) snapshot(t task.Task) interface{} { return t.Text }

func (p TextPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.Text = p.Text
	return map[string]interface{}{"text": p.Text}
}

func (p TextPatch) restore(t *task.Task, prior interface{}) { t.Text = prior.(string) }

type StatusPatch struct {
	Status task.Status
}

func (p StatusPatch) Field() string { return "status" }

func (p StatusPatch) Validate() error {
	if !p.Status.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("invalid status %q", p.Status)}
	}
	return nil
}

func (p StatusPatch) snapshot(t task.Task) interface{} { return t.Status }

func (p StatusPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.Status = p.Status
	return map[string]interface{}{"status": p.Status}
}

func (p StatusPatch) restore(t *task.Task, prior interface{}) { t.Status = prior.(task.Status) }

type PriorityPatch struct {
	Priority task.Priority
}

func (p PriorityPatch) Field() string { return "priority" }

func (p PriorityPatch) Validate() error {
	if !p.Priority.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("invalid priority %q", p.Priority)}
	}
	return nil
}

func (p PriorityPatch) snapshot(t task.Task) interface{} { return t.Priority }

func (p PriorityPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.Priority = p.Priority
	return map[string]interface{}{"priority": p.Priority}
}

func (p PriorityPatch) restore(t *task.Task, prior interface{}) { t.Priority = prior.(task.Priority) }

type AssigneePatch struct {
	Assignee string
}

func (p AssigneePatch) Field() string { return "assignee" }

func (p AssigneePatch) Validate() error { return nil }

func (p AssigneePatch) snapshot(t task.Task) interface{} { return t.Assignee }

func (p AssigneePatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.Assignee = p.Assignee
	return map[string]interface{}{"assignee": p.Assignee}
}

func (p AssigneePatch) restore(t *task.Task, prior interface{}) { t.Assignee = prior.(string) }

type DueDatePatch struct {
	Due *time.Time
}

func (p DueDatePatch) Field() string { return "due_date" }

func (p DueDatePatch) Validate() error { return nil }

func (p DueDatePatch) snapshot(t task.Task) interface{} { return t.DueDate }

func (p DueDatePatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.DueDate = copyTime(p.Due)
	return map[string]interface{}{"due_date": p.Due}
}

func (p DueDatePatch) restore(t *task.Task, prior interface{}) {
	t.DueDate = copyTime(prior.(*time.Time))
}

// ReminderPatch sets or clears the reminder. Setting a new reminder also
// rearms it: reminder_sent drops back to false in the same patch.
type ReminderPatch struct {
	At *time.Time
}

type reminderState struct {
	At   *time.Time `json:"at"`
	Sent bool       `json:"sent"`
}

func (p ReminderPatch) Field() string { return "reminder" }

func (p ReminderPatch) Validate() error { return nil }

func (p ReminderPatch) snapshot(t task.Task) interface{} {
	return reminderState{At: t.ReminderAt, Sent: t.ReminderSent}
}

func (p ReminderPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.ReminderAt = copyTime(p.At)
	t.ReminderSent = false
	return map[string]interface{}{"reminder_at": p.At, "reminder_sent": false}
}

func (p ReminderPatch) restore(t *task.Task, prior interface{}) {
	state := prior.(reminderState)
	t.ReminderAt = copyTime(state.At)
	t.ReminderSent = state.Sent
}

// ReminderSentPatch marks a fired reminder so it never fires twice.
type ReminderSentPatch struct {
	Sent bool
}

func (p ReminderSentPatch) Field() string { return "reminder_sent" }

func (p ReminderSentPatch) Validate() error { return nil }

func (p ReminderSentPatch) snapshot(t task.Task) interface{} { return t.ReminderSent }

func (p ReminderSentPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.ReminderSent = p.Sent
	return map[string]interface{}{"reminder_sent": p.Sent}
}

func (p ReminderSentPatch) restore(t *task.Task, prior interface{}) { t.ReminderSent = prior.(bool) }

// WaitingPatch is the compound waiting-for-response change: entering the
// waiting state stamps waiting_since and computes the follow-up deadline
// from the hour offset in the same atomic patch, never as a second
// mutation. Leaving it clears all of that.
type WaitingPatch struct {
	Waiting     bool
	ContactType string
	// FollowUpAfterHours of 0 takes the configured default.
	FollowUpAfterHours int
}

type waitingState struct {
	Waiting     bool       `json:"waiting"`
	Since       *time.Time `json:"since"`
	ContactType string     `json:"contact_type"`
	AfterHours  int        `json:"after_hours"`
	FollowUpAt  *time.Time `json:"follow_up_at"`
	Flagged     bool       `json:"flagged"`
}

func (p WaitingPatch) Field() string { return "waiting_for_response" }

func (p WaitingPatch) Validate() error {
	if p.FollowUpAfterHours < 0 {
		return &ValidationError{Reason: "follow-up offset cannot be negative"}
	}
	if !p.Waiting && (p.ContactType != "" || p.FollowUpAfterHours != 0) {
		return &ValidationError{Reason: "clearing waiting state takes no contact or offset"}
	}
	return nil
}

func (p WaitingPatch) snapshot(t task.Task) interface{} {
	return waitingState{
		Waiting:     t.WaitingForResponse,
		Since:       t.WaitingSince,
		ContactType: t.ContactType,
		AfterHours:  t.FollowUpAfterHours,
		FollowUpAt:  t.FollowUpAt,
		Flagged:     t.FollowUpFlagged,
	}
}

func (p WaitingPatch) apply(t *task.Task, now time.Time, followUpDefault time.Duration) map[string]interface{} {
	if !p.Waiting {
		t.WaitingForResponse = false
		t.WaitingSince = nil
		t.ContactType = ""
		t.FollowUpAfterHours = 0
		t.FollowUpAt = nil
		t.FollowUpFlagged = false
		return map[string]interface{}{
			"waiting_for_response":  false,
			"waiting_since":         nil,
			"contact_type":          "",
			"follow_up_after_hours": 0,
			"follow_up_at":          nil,
			"follow_up_flagged":     false,
		}
	}

	hours := p.FollowUpAfterHours
	if hours == 0 {
		hours = int(followUpDefault / time.Hour)
	}
	since := now
	followUp := now.Add(time.Duration(hours) * time.Hour)

	t.WaitingForResponse = true
	t.WaitingSince = &since
	t.ContactType = p.ContactType
	t.FollowUpAfterHours = hours
	t.FollowUpAt = &followUp
	t.FollowUpFlagged = false
	return map[string]interface{}{
		"waiting_for_response":  true,
		"waiting_since":         since,
		"contact_type":          p.ContactType,
		"follow_up_after_hours": hours,
		"follow_up_at":          followUp,
		"follow_up_flagged":     false,
	}
}

func (p WaitingPatch) restore(t *task.Task, prior interface{}) {
	state := prior.(waitingState)
	t.WaitingForResponse = state.Waiting
	t.WaitingSince = copyTime(state.Since)
	t.ContactType = state.ContactType
	t.FollowUpAfterHours = state.AfterHours
	t.FollowUpAt = copyTime(state.FollowUpAt)
	t.FollowUpFlagged = state.Flagged
}

// FollowUpFlaggedPatch marks an elapsed follow-up deadline as surfaced.
type FollowUpFlaggedPatch struct {
	Flagged bool
}

func (p FollowUpFlaggedPatch) Field() string { return "follow_up_flagged" }

func (p FollowUpFlaggedPatch) Validate() error { return nil }

func (p FollowUpFlaggedPatch) snapshot(t task.Task) interface{} { return t.FollowUpFlagged }

func (p FollowUpFlaggedPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.FollowUpFlagged = p.Flagged
	return map[string]interface{}{"follow_up_flagged": p.Flagged}
}

func (p FollowUpFlaggedPatch) restore(t *task.Task, prior interface{}) {
	t.FollowUpFlagged = prior.(bool)
}

type NotesPatch struct {
	Notes string
}

func (p NotesPatch) Field() string { return "notes" }

func (p NotesPatch) Validate() error { return nil }

func (p NotesPatch) snapshot(t task.Task) interface{} { return t.Notes }

func (p NotesPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.Notes = p.Notes
	return map[string]interface{}{"notes": p.Notes}
}

func (p NotesPatch) restore(t *task.Task, prior interface{}) { t.Notes = prior.(string) }

type SubtasksPatch struct {
	Subtasks []task.Subtask
}

func (p SubtasksPatch) Field() string { return "subtasks" }

func (p SubtasksPatch) Validate() error {
	for _, s := range p.Subtasks {
		if strings.TrimSpace(s.Text) == "" {
			return &ValidationError{Reason: "subtask text cannot be empty"}
		}
		if s.Priority != "" && !s.Priority.Valid() {
			return &ValidationError{Reason: fmt.Sprintf("invalid subtask priority %q", s.Priority)}
		}
	}
	return nil
}

func (p SubtasksPatch) snapshot(t task.Task) interface{} { return t.Subtasks }

func (p SubtasksPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.Subtasks = copySubtasks(p.Subtasks)
	return map[string]interface{}{"subtasks": p.Subtasks}
}

func (p SubtasksPatch) restore(t *task.Task, prior interface{}) {
	t.Subtasks = copySubtasks(prior.([]task.Subtask))
}

type AttachmentsPatch struct {
	Attachments []task.Attachment
}

func (p AttachmentsPatch) Field() string { return "attachments" }

func (p AttachmentsPatch) Validate() error {
	for _, a := range p.Attachments {
		if strings.TrimSpace(a.ID) == "" {
			return &ValidationError{Reason: "attachment reference needs an id"}
		}
	}
	return nil
}

func (p AttachmentsPatch) snapshot(t task.Task) interface{} { return t.Attachments }

func (p AttachmentsPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.Attachments = copyAttachments(p.Attachments)
	return map[string]interface{}{"attachments": p.Attachments}
}

func (p AttachmentsPatch) restore(t *task.Task, prior interface{}) {
	t.Attachments = copyAttachments(prior.([]task.Attachment))
}

type RecurrencePatch struct {
	Recurrence task.Recurrence
}

func (p RecurrencePatch) Field() string { return "recurrence" }

func (p RecurrencePatch) Validate() error {
	if !p.Recurrence.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("invalid recurrence %q", p.Recurrence)}
	}
	return nil
}

func (p RecurrencePatch) snapshot(t task.Task) interface{} { return t.Recurrence }

func (p RecurrencePatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.Recurrence = p.Recurrence
	return map[string]interface{}{"recurrence": p.Recurrence}
}

func (p RecurrencePatch) restore(t *task.Task, prior interface{}) {
	t.Recurrence = prior.(task.Recurrence)
}

type PrivacyPatch struct {
	Private bool
}

func (p PrivacyPatch) Field() string { return "is_private" }

func (p PrivacyPatch) Validate() error { return nil }

func (p PrivacyPatch) snapshot(t task.Task) interface{} { return t.IsPrivate }

func (p PrivacyPatch) apply(t *task.Task, _ time.Time, _ time.Duration) map[string]interface{} {
	t.IsPrivate = p.Private
	return map[string]interface{}{"is_private": p.Private}
}

func (p PrivacyPatch) restore(t *task.Task, prior interface{}) { t.IsPrivate = prior.(bool) }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := *t
	return &d
}

func copySubtasks(in []task.Subtask) []task.Subtask {
	if in == nil {
		return nil
	}
	out := make([]task.Subtask, len(in))
	copy(out, in)
	return out
}

func copyAttachments(in []task.Attachment) []task.Attachment {
	if in == nil {
		return nil
	}
	out := make([]task.Attachment, len(in))
	copy(out, in)
	return out
}
