package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/store"
)

// fakeTaskSource records store calls in order.
type fakeTaskSource struct {
	mu      sync.Mutex
	events  []string
	nextRun *time.Time
}

func (f *fakeTaskSource) record(ev string) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeTaskSource) eventList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeTaskSource) Due(context.Context, time.Time) ([]*store.ScheduledTask, error) {
	return nil, nil
}

func (f *fakeTaskSource) Delete(_ context.Context, _ uuid.UUID) error {
	f.record("delete")
	return nil
}

func (f *fakeTaskSource) SetEnabled(_ context.Context, _ uuid.UUID, enabled bool) error {
	f.record("disable")
	return nil
}

func (f *fakeTaskSource) MarkRun(_ context.Context, _ uuid.UUID, _ time.Time, nextRun *time.Time) error {
	f.record("markrun")
	f.mu.Lock()
	f.nextRun = nextRun
	f.mu.Unlock()
	return nil
}

func TestFireOneDoesNotWaitOnCallback(t *testing.T) {
	src := &fakeTaskSource{}
	release := make(chan struct{})
	defer close(release)
	var fired sync.WaitGroup
	fired.Add(1)
	s := New(src, func(context.Context, *store.ScheduledTask) {
		fired.Done()
		<-release
	})
	task := &store.ScheduledTask{
		ID: uuid.New(), Name: "water plants",
		ScheduleType: store.ScheduleInterval, ScheduleValue: "3600",
	}

	done := make(chan struct{})
	go func() {
		s.fireOne(context.Background(), task, time.Now())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fireOne waited on a blocked callback")
	}

	// The next run was recorded while the callback was still blocked.
	if ev := src.eventList(); len(ev) != 1 || ev[0] != "markrun" {
		t.Errorf("events = %v, want [markrun]", ev)
	}
	if src.nextRun == nil {
		t.Fatal("next run not recorded")
	}
	fired.Wait()
}

func TestFireOneDeletesOnceTaskBeforeFiring(t *testing.T) {
	src := &fakeTaskSource{}
	var got *store.ScheduledTask
	var fired sync.WaitGroup
	fired.Add(1)
	s := New(src, func(_ context.Context, task *store.ScheduledTask) {
		got = task
		fired.Done()
	})
	task := &store.ScheduledTask{
		ID: uuid.New(), Name: "remind once",
		ScheduleType: store.ScheduleOnce,
		ScheduleValue: time.Now().Add(-time.Minute).Format(time.RFC3339),
	}
	s.fireOne(context.Background(), task, time.Now())
	fired.Wait()

	if ev := src.eventList(); len(ev) != 1 || ev[0] != "delete" {
		t.Errorf("events = %v, want [delete]", ev)
	}
	if got == nil || got.ID != task.ID {
		t.Error("callback did not receive the task")
	}
}

func TestFireOneDisablesUnusableSchedule(t *testing.T) {
	src := &fakeTaskSource{}
	s := New(src, func(context.Context, *store.ScheduledTask) {
		t.Error("unusable schedule must not fire")
	})
	task := &store.ScheduledTask{
		ID: uuid.New(), Name: "broken",
		ScheduleType: store.ScheduleCron, ScheduleValue: "not a cron",
	}
	s.fireOne(context.Background(), task, time.Now())

	if ev := src.eventList(); len(ev) != 1 || ev[0] != "disable" {
		t.Errorf("events = %v, want [disable]", ev)
	}
}

func TestNextRunInterval(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	next, err := NextRun(store.ScheduleInterval, "3600", now)
	if err != nil {
		t.Fatal(err)
	}
	if want := now.Add(time.Hour); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextRunOnce(t *testing.T) {
	at := "2026-05-02T08:30:00Z"
	next, err := NextRun(store.ScheduleOnce, at, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if next.Format(time.RFC3339) != at {
		t.Errorf("next = %v, want %s", next, at)
	}
}

func TestNextRunCron(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC)
	next, err := NextRun(store.ScheduleCron, "0 9 * * *", now)
	if err != nil {
		t.Fatal(err)
	}
	if next.Hour() != 9 || next.Minute() != 0 {
		t.Errorf("next = %v, want 09:00", next)
	}
	if !next.After(now) {
		t.Errorf("next = %v is not after %v", next, now)
	}
}

func TestNextRunErrors(t *testing.T) {
	now := time.Now()
	cases := []struct {
		typ, val string
	}{
		{store.ScheduleInterval, "not-a-number"},
		{store.ScheduleInterval, "-5"},
		{store.ScheduleOnce, "tomorrow"},
		{store.ScheduleCron, "not a cron"},
		{"weekly", "monday"},
	}
	for _, c := range cases {
		if _, err := NextRun(c.typ, c.val, now); err == nil {
			t.Errorf("NextRun(%q, %q) succeeded, want error", c.typ, c.val)
		}
	}
}

func TestValidate(t *testing.T) {
	future := time.Now().Add(time.Hour).Format(time.RFC3339)
	past := time.Now().Add(-time.Hour).Format(time.RFC3339)

	tests := []struct {
		name    string
		typ     string
		val     string
		wantErr string
	}{
		{"valid once", store.ScheduleOnce, future, ""},
		{"past once", store.ScheduleOnce, past, "past"},
		{"valid interval", store.ScheduleInterval, "300", ""},
		{"tight interval", store.ScheduleInterval, "5", "60 seconds"},
		{"valid cron", store.ScheduleCron, "*/15 * * * *", ""},
		{"bad cron", store.ScheduleCron, "99 99 * * *", "invalid cron"},
		{"unknown type", "hourly", "1", "schedule type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.typ, tt.val)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate(%s, %s) = %v, want nil", tt.typ, tt.val, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate(%s, %s) = %v, want error containing %q", tt.typ, tt.val, err, tt.wantErr)
			}
		})
	}
}
