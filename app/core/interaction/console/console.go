package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"tasksync/app/core/activity"
	"tasksync/app/core/mutation"
	"tasksync/app/core/task"
)

// ActivitySource serves the activity command. The sqlite recorder
// satisfies it; a nil source disables the command.
type ActivitySource interface {
	Recent(ctx context.Context, limit int) ([]activity.Event, error)
}

// Console is the interactive command loop over the mutation layer. Every
// change it makes is optimistic: the list reflects it immediately and a
// later rollback message means the backend refused it.
type Console struct {
	store    *task.Store
	engine   *mutation.Engine
	reorder  *mutation.ReorderCoordinator
	merger   *mutation.MergeResolver
	bulk     *mutation.BulkCoordinator
	source   ActivitySource
	actor    string
	scope    string
	in       io.Reader
	out      io.Writer
	creation func(t task.Task) error
}

type Options struct {
	Actor        string
	DefaultScope string
	In           io.Reader
	Out          io.Writer
	// Creation persists a newly added task. The add command inserts into
	// the store first and removes again when persistence fails.
	Creation func(t task.Task) error
}

func New(store *task.Store, engine *mutation.Engine, reorder *mutation.ReorderCoordinator, merger *mutation.MergeResolver, bulk *mutation.BulkCoordinator, source ActivitySource, opts Options) *Console {
	if strings.TrimSpace(opts.Actor) == "" {
		opts.Actor = "local_user"
	}
	if strings.TrimSpace(opts.DefaultScope) == "" {
		opts.DefaultScope = "inbox"
	}
	return &Console{
		store:    store,
		engine:   engine,
		reorder:  reorder,
		merger:   merger,
		bulk:     bulk,
		source:   source,
		actor:    opts.Actor,
		scope:    opts.DefaultScope,
		in:       opts.In,
		out:      opts.Out,
		creation: opts.Creation,
	}
}

func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	fmt.Fprintln(c.out, ">> tasksync console started. Type 'help' for commands, 'exit' to quit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Fprint(c.out, "> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				fmt.Fprintln(c.out, "Exiting console...")
				return nil
			}
			c.dispatch(ctx, line)
		}
	}
}

func (c *Console) dispatch(ctx context.Context, line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "help":
		c.printHelp()
	case "scope":
		err = c.cmdScope(args)
	case "list":
		err = c.cmdList(args)
	case "add":
		err = c.cmdAdd(args)
	case "set":
		err = c.cmdSet(ctx, args)
	case "done":
		err = c.cmdDone(ctx, args)
	case "delete":
		err = c.cmdDelete(ctx, args)
	case "reorder":
		err = c.cmdReorder(ctx, args)
	case "merge":
		err = c.cmdMerge(ctx, args)
	case "bulk":
		err = c.cmdBulk(ctx, args)
	case "activity":
		err = c.cmdActivity(ctx, args)
	default:
		err = fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `commands:
  scope [name]                 show or switch the active list scope
  list                         show the active scope in display order
  add <text>                   create a task in the active scope
  set <id> <field> <value>     change one field (text|status|priority|assignee|due|reminder|notes|waiting|private)
  done <id>                    mark a task done
  delete <id>                  delete a task
  reorder <id> <id> ...        reset the whole scope order, every task listed once
  merge <keep-id> <other-id>   fold a duplicate into the kept task
  bulk <field> <value> <id>... apply one change to several tasks
  activity [n]                 show the n most recent activity entries
  exit                         quit`)
}

func (c *Console) cmdScope(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(c.out, "active scope: %s\n", c.scope)
		return nil
	}
	c.scope = args[0]
	fmt.Fprintf(c.out, "active scope: %s\n", c.scope)
	return nil
}

func (c *Console) cmdList(args []string) error {
	scope := c.scope
	if len(args) > 0 {
		scope = args[0]
	}
	items := c.store.ListScope(scope)
	if len(items) == 0 {
		fmt.Fprintf(c.out, "scope %s is empty\n", scope)
		return nil
	}
	for _, item := range items {
		fmt.Fprintln(c.out, formatTask(item))
	}
	return nil
}

func (c *Console) cmdAdd(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: add <text>")
	}
	item := task.New(c.scope, strings.Join(args, " "))
	if err := c.store.Insert(item); err != nil {
		return err
	}
	if c.creation != nil {
		if err := c.creation(item); err != nil {
			c.store.Remove(item.ID)
			return fmt.Errorf("create rejected: %w", err)
		}
	}
	stored, _ := c.store.Get(item.ID)
	fmt.Fprintln(c.out, formatTask(stored))
	return nil
}

func (c *Console) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: set <id> <field> <value>")
	}
	id, err := c.resolveID(args[0])
	if err != nil {
		return err
	}
	patch, err := parsePatch(args[1], strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	return c.applyAndReport(ctx, id, patch)
}

func (c *Console) cmdDone(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: done <id>")
	}
	id, err := c.resolveID(args[0])
	if err != nil {
		return err
	}
	return c.applyAndReport(ctx, id, mutation.StatusPatch{Status: task.StatusDone})
}

func (c *Console) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <id>")
	}
	id, err := c.resolveID(args[0])
	if err != nil {
		return err
	}
	h, err := c.engine.Delete(ctx, c.actor, id)
	if err != nil {
		return err
	}
	return c.report(ctx, h)
}

func (c *Console) cmdReorder(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: reorder <id> <id> ...")
	}
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		id, err := c.resolveID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	h, err := c.reorder.Reorder(ctx, c.actor, c.scope, ids)
	if err != nil {
		return err
	}
	return c.report(ctx, h)
}

func (c *Console) cmdMerge(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: merge <keep-id> <other-id>")
	}
	keep, err := c.resolveID(args[0])
	if err != nil {
		return err
	}
	other, err := c.resolveID(args[1])
	if err != nil {
		return err
	}
	h, err := c.merger.Merge(ctx, c.actor, keep, other)
	if err != nil {
		return err
	}
	return c.report(ctx, h)
}

func (c *Console) cmdBulk(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: bulk <field> <value> <id> ...")
	}
	patch, err := parsePatch(args[0], args[1])
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(args)-2)
	for _, arg := range args[2:] {
		id, err := c.resolveID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	result := c.bulk.ApplyToSet(ctx, c.actor, ids, patch)
	fmt.Fprintf(c.out, "bulk: %d succeeded, %d failed\n", len(result.Succeeded), len(result.Failed))
	for id, ferr := range result.Failed {
		fmt.Fprintf(c.out, "  %s: %v\n", shortID(id), ferr)
	}
	return nil
}

func (c *Console) cmdActivity(ctx context.Context, args []string) error {
	if c.source == nil {
		return fmt.Errorf("activity log not available")
	}
	limit := 20
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &limit); err != nil || limit <= 0 {
			return fmt.Errorf("usage: activity [n]")
		}
	}
	events, err := c.source.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Fprintf(c.out, "%s %-8s task=%s actor=%s field=%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Action, shortID(e.TaskID), e.Actor, e.Field)
	}
	return nil
}

func (c *Console) applyAndReport(ctx context.Context, id string, patch mutation.FieldPatch) error {
	h, err := c.engine.Apply(ctx, c.actor, id, patch)
	if err != nil {
		return err
	}
	return c.report(ctx, h)
}

func (c *Console) report(ctx context.Context, h *mutation.Handle) error {
	result, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	if result.Err != nil {
		fmt.Fprintf(c.out, "rolled back: %v\n", result.Err)
		return nil
	}
	fmt.Fprintln(c.out, "committed")
	return nil
}

// resolveID accepts a full task id or an unambiguous prefix of one.
func (c *Console) resolveID(arg string) (string, error) {
	if _, ok := c.store.Get(arg); ok {
		return arg, nil
	}
	var matches []string
	for _, item := range c.store.All() {
		if strings.HasPrefix(item.ID, arg) {
			matches = append(matches, item.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no task matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("ambiguous id %q (%d matches)", arg, len(matches))
	}
}

func parsePatch(field string, value string) (mutation.FieldPatch, error) {
	switch field {
	case "text":
		return mutation.TextPatch{Text: value}, nil
	case "status":
		return mutation.StatusPatch{Status: task.Status(value)}, nil
	case "priority":
		return mutation.PriorityPatch{Priority: task.Priority(value)}, nil
	case "assignee":
		if value == "-" {
			value = ""
		}
		return mutation.AssigneePatch{Assignee: value}, nil
	case "due":
		at, err := parseWhen(value)
		if err != nil {
			return nil, err
		}
		return mutation.DueDatePatch{Due: at}, nil
	case "reminder":
		at, err := parseWhen(value)
		if err != nil {
			return nil, err
		}
		return mutation.ReminderPatch{At: at}, nil
	case "notes":
		return mutation.NotesPatch{Notes: value}, nil
	case "waiting":
		if value == "off" || value == "false" {
			return mutation.WaitingPatch{Waiting: false}, nil
		}
		// The value is the contact type; the follow-up deadline comes
		// from the configured default.
		return mutation.WaitingPatch{Waiting: true, ContactType: value}, nil
	case "private":
		return mutation.PrivacyPatch{Private: value == "on" || value == "true"}, nil
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}
}

// parseWhen reads "2006-01-02", "2006-01-02 15:04", or "-" for clearing.
func parseWhen(value string) (*time.Time, error) {
	if value == "-" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02", time.RFC3339} {
		if at, err := time.Parse(layout, value); err == nil {
			at = at.UTC()
			return &at, nil
		}
	}
	return nil, fmt.Errorf("cannot parse time %q", value)
}

func formatTask(item task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%3d [%s] %-11s %-6s %s", item.DisplayOrder, shortID(item.ID), item.Status, item.Priority, item.Text)
	if item.Assignee != "" {
		fmt.Fprintf(&b, " @%s", item.Assignee)
	}
	if item.DueDate != nil {
		fmt.Fprintf(&b, " due:%s", item.DueDate.Format("2006-01-02"))
	}
	if item.WaitingForResponse {
		b.WriteString(" waiting")
		if item.FollowUpFlagged {
			b.WriteString("!")
		}
	}
	if item.IsPrivate {
		b.WriteString(" private")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
