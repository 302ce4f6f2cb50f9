package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/scheduler"
	"github.com/syne-agent/syne/internal/store"
)

func registerScheduleTools(r *Registry, d *Deps) {
	r.Register(&Tool{
		Name: "schedule_task",
		Description: "Schedule a future or recurring task. When it fires, the payload is injected " +
			"into this chat as a system prompt and you act on it. " +
			"Types: once (RFC3339 time), interval (seconds, min 60), cron (5-field expression).",
		Parameters: schema(obj(
			"name", obj("type", "string", "description", "short human-readable name"),
			"schedule_type", obj("type", "string", "enum", []any{"once", "interval", "cron"}),
			"schedule_value", obj("type", "string"),
			"payload", obj("type", "string", "description", "what to do when the task fires"),
		), "name", "schedule_type", "schedule_value", "payload"),
		MinAccess: store.AccessFamily,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			scheduleType := strArg(args, "schedule_type", "")
			scheduleValue := strArg(args, "schedule_value", "")
			payload := strArg(args, "payload", "")
			if strings.Contains(payload, scheduler.UpdateCheckPayload) {
				return Errf("Error: that payload is reserved")
			}
			if err := scheduler.Validate(scheduleType, scheduleValue); err != nil {
				return Errf("Error: %v", err)
			}
			next, err := scheduler.NextRun(scheduleType, scheduleValue, time.Now())
			if err != nil {
				return Errf("Error: %v", err)
			}

			createdBy := ""
			if inv.User != nil {
				createdBy = inv.User.DisplayName
			}
			task := &store.ScheduledTask{
				Name:          strArg(args, "name", ""),
				ScheduleType:  scheduleType,
				ScheduleValue: scheduleValue,
				Payload:       payload,
				Platform:      inv.Platform,
				ChatID:        inv.ChatID,
				Enabled:       true,
				NextRun:       &next,
				CreatedBy:     createdBy,
			}
			if err := d.DB.Tasks.Create(ctx, task); err != nil {
				return Errf("Error: %v", err)
			}
			return Ok("Task %q scheduled (id %s), first run %s.",
				task.Name, task.ID, next.Format(time.RFC1123))
		},
	})

	r.Register(&Tool{
		Name:        "list_tasks",
		Description: "List scheduled tasks for this chat.",
		Parameters: schema(obj(
			"all", obj("type", "boolean", "description", "owners may list tasks of every chat"),
		)),
		MinAccess: store.AccessFamily,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			platform, chatID := inv.Platform, inv.ChatID
			if boolArg(args, "all", false) && inv.Access.AtLeast(store.AccessOwner) {
				platform, chatID = "", ""
			}
			taskList, err := d.DB.Tasks.List(ctx, platform, chatID)
			if err != nil {
				return Errf("Error: %v", err)
			}
			if len(taskList) == 0 {
				return Ok("No scheduled tasks.")
			}
			var b strings.Builder
			for _, t := range taskList {
				next := "paused"
				if t.Enabled && t.NextRun != nil {
					next = "next " + t.NextRun.Format(time.RFC1123)
				}
				fmt.Fprintf(&b, "%s [%s %s] %s, runs %d, id %s\n",
					t.Name, t.ScheduleType, t.ScheduleValue, next, t.RunCount, t.ID)
			}
			return Ok("%s", strings.TrimRight(b.String(), "\n"))
		},
	})

	r.Register(&Tool{
		Name:        "cancel_task",
		Description: "Cancel (delete) a scheduled task by id.",
		Parameters: schema(obj(
			"id", obj("type", "string"),
		), "id"),
		MinAccess: store.AccessFamily,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			id, err := uuid.Parse(strArg(args, "id", ""))
			if err != nil {
				return Errf("Error: id must be a task id")
			}
			task, err := d.DB.Tasks.Get(ctx, id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return Errf("Error: no task with id %s", id)
				}
				return Errf("Error: %v", err)
			}
			// Non-owners may only cancel tasks of their own chat.
			if !inv.Access.AtLeast(store.AccessOwner) &&
				(task.Platform != inv.Platform || task.ChatID != inv.ChatID) {
				return Errf("Error: that task belongs to another chat")
			}
			if err := d.DB.Tasks.Delete(ctx, id); err != nil {
				return Errf("Error: %v", err)
			}
			return Ok("Task %q cancelled.", task.Name)
		},
	})
}
