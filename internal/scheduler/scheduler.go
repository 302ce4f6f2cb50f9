// Package scheduler fires durable tasks from the scheduled_tasks table.
// A single goroutine polls for due work; firing injects the task payload
// into the owning chat's conversation as if the system had spoken.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/store"
)

// PollInterval is how often due tasks are checked. Schedules are therefore
// accurate to within one interval.
const PollInterval = 30 * time.Second

// UpdateCheckPayload is the reserved payload of the built-in update check
// task; it never reaches the model.
const UpdateCheckPayload = "__syne_update_check__"

// FireFunc injects a due task's payload into its chat.
type FireFunc func(ctx context.Context, task *store.ScheduledTask)

// TaskSource is the slice of the task store the scheduler drives.
type TaskSource interface {
	Due(ctx context.Context, now time.Time) ([]*store.ScheduledTask, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	MarkRun(ctx context.Context, id uuid.UUID, ranAt time.Time, nextRun *time.Time) error
}

// Scheduler owns the polling loop.
type Scheduler struct {
	tasks TaskSource
	fire  FireFunc

	// updateCheck handles the reserved payload out of band.
	updateCheck FireFunc
}

// New builds a scheduler. Callbacks run on their own goroutines; the poll
// loop never waits on them.
func New(tasks TaskSource, fire FireFunc) *Scheduler {
	return &Scheduler{tasks: tasks, fire: fire}
}

// OnUpdateCheck installs the handler for the reserved update-check payload.
// The handler receives the task so results land in the chat that created it.
func (s *Scheduler) OnUpdateCheck(fn FireFunc) {
	s.updateCheck = fn
}

// Run polls until ctx is done. An immediate first pass catches tasks that
// came due while the process was down.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.tasks.Due(ctx, now)
	if err != nil {
		slog.Error("scheduler poll failed", "error", err)
		return
	}
	for _, task := range due {
		s.fireOne(ctx, task, now)
	}
}

func (s *Scheduler) fireOne(ctx context.Context, task *store.ScheduledTask, now time.Time) {
	slog.Info("task due", "task", task.Name, "type", task.ScheduleType)

	// Reschedule before executing, so a slow callback never delays the
	// next tick or re-fires the same task.
	if task.ScheduleType == store.ScheduleOnce {
		if err := s.tasks.Delete(ctx, task.ID); err != nil {
			slog.Error("once task not deleted", "task", task.Name, "error", err)
			return
		}
	} else {
		next, err := NextRun(task.ScheduleType, task.ScheduleValue, now)
		if err != nil {
			slog.Error("task disabled, schedule unusable", "task", task.Name, "error", err)
			if derr := s.tasks.SetEnabled(ctx, task.ID, false); derr != nil {
				slog.Error("task not disabled", "task", task.Name, "error", derr)
			}
			return
		}
		if err := s.tasks.MarkRun(ctx, task.ID, now, &next); err != nil {
			slog.Error("task run not recorded", "task", task.Name, "error", err)
		}
	}

	fn := s.fire
	if task.Payload == UpdateCheckPayload {
		fn = s.updateCheck
	}
	if fn == nil {
		return
	}
	go fn(ctx, task)
}

// NextRun computes the next firing time after now for a schedule.
func NextRun(scheduleType, scheduleValue string, now time.Time) (time.Time, error) {
	switch scheduleType {
	case store.ScheduleOnce:
		at, err := time.Parse(time.RFC3339, scheduleValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("once schedule needs RFC3339 time: %w", err)
		}
		return at, nil
	case store.ScheduleInterval:
		secs, err := strconv.Atoi(scheduleValue)
		if err != nil || secs <= 0 {
			return time.Time{}, fmt.Errorf("interval schedule needs positive seconds, got %q", scheduleValue)
		}
		return now.Add(time.Duration(secs) * time.Second), nil
	case store.ScheduleCron:
		next, err := gronx.NextTickAfter(scheduleValue, now, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", scheduleValue, err)
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", scheduleType)
	}
}

// Validate checks a schedule without creating a task.
func Validate(scheduleType, scheduleValue string) error {
	switch scheduleType {
	case store.ScheduleOnce:
		at, err := time.Parse(time.RFC3339, scheduleValue)
		if err != nil {
			return fmt.Errorf("once schedule needs an RFC3339 time")
		}
		if at.Before(time.Now()) {
			return fmt.Errorf("once schedule is in the past")
		}
	case store.ScheduleInterval:
		secs, err := strconv.Atoi(scheduleValue)
		if err != nil || secs <= 0 {
			return fmt.Errorf("interval schedule needs positive seconds")
		}
		if secs < 60 {
			return fmt.Errorf("interval below 60 seconds is not allowed")
		}
	case store.ScheduleCron:
		g := gronx.New()
		if !g.IsValid(scheduleValue) {
			return fmt.Errorf("invalid cron expression %q", scheduleValue)
		}
	default:
		return fmt.Errorf("schedule type must be once, interval, or cron")
	}
	return nil
}
