// Package subagents runs bounded background workers that each own a private
// conversation. Results come back to the parent chat through a delivery
// callback rather than a shared session.
package subagents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syne-agent/syne/internal/store"
)

// DefaultMaxConcurrent bounds simultaneous workers unless config overrides.
const DefaultMaxConcurrent = 2

// DefaultTimeout bounds one worker run.
const DefaultTimeout = 5 * time.Minute

// RunFunc executes a task in an isolated conversation and returns the final
// text plus token usage. The worker inherits the access level of whoever
// spawned it, never more. Wired by the agent at startup so this package
// never imports the conversation loop.
type RunFunc func(ctx context.Context, task string, access store.AccessLevel) (result string, inTokens, outTokens int, err error)

// DeliverFunc pushes a finished worker's result back to the chat that
// spawned it.
type DeliverFunc func(platform, chatID, text string)

// RunStore is the persistence slice the manager needs.
type RunStore interface {
	Create(ctx context.Context, r *store.SubagentRun) error
	Finish(ctx context.Context, runID uuid.UUID, status, result, errText string, inTokens, outTokens int) error
	Recent(ctx context.Context, limit int) ([]*store.SubagentRun, error)
}

type worker struct {
	cancel  context.CancelFunc
	session uuid.UUID
}

// Manager tracks live workers and enforces the concurrency cap.
type Manager struct {
	store   RunStore
	run     RunFunc
	deliver DeliverFunc
	timeout time.Duration

	mu     sync.Mutex
	max    int
	active map[uuid.UUID]worker
}

// NewManager builds a manager. maxConcurrent <= 0 selects the default.
func NewManager(s RunStore, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Manager{
		store:   s,
		max:     maxConcurrent,
		timeout: DefaultTimeout,
		active:  make(map[uuid.UUID]worker),
	}
}

// Wire installs the run and delivery callbacks. Must happen before Spawn.
func (m *Manager) Wire(run RunFunc, deliver DeliverFunc) {
	m.run = run
	m.deliver = deliver
}

// SetMaxConcurrent adjusts the cap at runtime.
func (m *Manager) SetMaxConcurrent(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.max = n
	m.mu.Unlock()
}

// ActiveCount returns the number of live workers.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Spawn starts a background worker for task. The rejection when the cap is
// reached is synchronous so the model learns immediately; everything after
// acceptance is asynchronous.
func (m *Manager) Spawn(ctx context.Context, parentSession uuid.UUID, task, platform, chatID string, access store.AccessLevel) (uuid.UUID, error) {
	if m.run == nil {
		return uuid.Nil, fmt.Errorf("subagent manager not wired")
	}

	m.mu.Lock()
	if len(m.active) >= m.max {
		n := len(m.active)
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("subagent limit reached (%d running, max %d); wait for one to finish or cancel it", n, m.max)
	}
	// Reserve the slot before releasing the lock.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	placeholder := uuid.New()
	m.active[placeholder] = worker{cancel: cancel, session: parentSession}
	m.mu.Unlock()

	run := &store.SubagentRun{ParentSessionID: parentSession, Task: task}
	if err := m.store.Create(ctx, run); err != nil {
		m.release(placeholder)
		cancel()
		return uuid.Nil, fmt.Errorf("record subagent run: %w", err)
	}

	m.mu.Lock()
	delete(m.active, placeholder)
	m.active[run.RunID] = worker{cancel: cancel, session: parentSession}
	m.mu.Unlock()

	go m.execute(runCtx, cancel, run, platform, chatID, access)
	slog.Info("subagent spawned", "run_id", run.RunID, "parent", parentSession, "access", access)
	return run.RunID, nil
}

func (m *Manager) execute(ctx context.Context, cancel context.CancelFunc, run *store.SubagentRun, platform, chatID string, access store.AccessLevel) {
	defer cancel()
	defer m.release(run.RunID)

	result, inTok, outTok, err := m.run(ctx, run.Task, access)

	finishCtx, finishCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer finishCancel()

	switch {
	case ctx.Err() == context.Canceled:
		m.finish(finishCtx, run.RunID, store.RunCancelled, "", "cancelled", inTok, outTok)
		return
	case ctx.Err() == context.DeadlineExceeded:
		m.finish(finishCtx, run.RunID, store.RunFailed, "", "timed out", inTok, outTok)
		m.deliverResult(platform, chatID, fmt.Sprintf("Background task %q timed out.", shorten(run.Task)))
		return
	case err != nil:
		m.finish(finishCtx, run.RunID, store.RunFailed, "", err.Error(), inTok, outTok)
		m.deliverResult(platform, chatID, fmt.Sprintf("Background task %q failed: %v", shorten(run.Task), err))
		return
	}

	m.finish(finishCtx, run.RunID, store.RunCompleted, result, "", inTok, outTok)
	m.deliverResult(platform, chatID, result)
}

func (m *Manager) finish(ctx context.Context, id uuid.UUID, status, result, errText string, inTok, outTok int) {
	if err := m.store.Finish(ctx, id, status, result, errText, inTok, outTok); err != nil {
		slog.Error("subagent finish not recorded", "run_id", id, "error", err)
	}
}

func (m *Manager) deliverResult(platform, chatID, text string) {
	if m.deliver != nil && text != "" {
		m.deliver(platform, chatID, text)
	}
}

func (m *Manager) release(id uuid.UUID) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Cancel stops a live worker. Finished workers return ErrNotFound.
func (m *Manager) Cancel(runID uuid.UUID) error {
	m.mu.Lock()
	w, ok := m.active[runID]
	m.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	w.cancel()
	return nil
}

// CancelBySession stops every live worker spawned from one session and
// returns how many were cancelled.
func (m *Manager) CancelBySession(sessionID uuid.UUID) int {
	m.mu.Lock()
	var cancels []context.CancelFunc
	for _, w := range m.active {
		if w.session == sessionID {
			cancels = append(cancels, w.cancel)
		}
	}
	m.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

// List returns recent runs with live ones first.
func (m *Manager) List(ctx context.Context, limit int) ([]*store.SubagentRun, error) {
	return m.store.Recent(ctx, limit)
}

func shorten(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
