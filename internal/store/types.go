package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// AccessLevel orders who may do what. owner > family > public; pending and
// blocked are handled before dispatch and never reach tools.
type AccessLevel string

const (
	AccessOwner   AccessLevel = "owner"
	AccessFamily  AccessLevel = "family"
	AccessPublic  AccessLevel = "public"
	AccessPending AccessLevel = "pending"
	AccessBlocked AccessLevel = "blocked"
)

// Rank returns the ordering position for access comparisons.
// pending and blocked rank below every grantable level.
func (a AccessLevel) Rank() int {
	switch a {
	case AccessOwner:
		return 3
	case AccessFamily:
		return 2
	case AccessPublic:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether a grants at least the level min requires.
func (a AccessLevel) AtLeast(min AccessLevel) bool {
	return a.Rank() >= min.Rank()
}

// Min returns the lower of two access levels.
func (a AccessLevel) Min(b AccessLevel) AccessLevel {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// User is a person known on some platform.
type User struct {
	ID          uuid.UUID      `json:"id"`
	Platform    string         `json:"platform"`
	PlatformID  string         `json:"platform_id"`
	DisplayName string         `json:"display_name"`
	AccessLevel AccessLevel    `json:"access_level"`
	Founder     bool           `json:"founder"` // first owner on the platform; immutable
	Preferences map[string]any `json:"preferences,omitempty"`
	Aliases     map[string]any `json:"aliases,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PreferredModel returns the user's chat model override, if any.
func (u *User) PreferredModel() string {
	if u == nil || u.Preferences == nil {
		return ""
	}
	if m, ok := u.Preferences["model"].(string); ok {
		return m
	}
	return ""
}

// GroupMember is one entry of Group.Settings["members"].
type GroupMember struct {
	Name     string `json:"name"`
	Alias    string `json:"alias,omitempty"`
	Access   string `json:"access,omitempty"`
	Username string `json:"username,omitempty"`
}

// Group is a multi-user chat the agent participates in.
type Group struct {
	ID              uuid.UUID      `json:"id"`
	Platform        string         `json:"platform"`
	PlatformGroupID string         `json:"platform_group_id"`
	Name            string         `json:"name"`
	Enabled         bool           `json:"enabled"`
	RequireMention  bool           `json:"require_mention"`
	AllowFrom       string         `json:"allow_from"` // "all" or "registered"
	Settings        map[string]any `json:"settings,omitempty"`
}

// ModelOverride returns the group-wide chat model override, if any.
func (g *Group) ModelOverride() string {
	if g == nil || g.Settings == nil {
		return ""
	}
	if m, ok := g.Settings["model"].(string); ok {
		return m
	}
	return ""
}

// Member looks up a member entry from the embedded members map.
func (g *Group) Member(memberID string) (GroupMember, bool) {
	if g == nil || g.Settings == nil {
		return GroupMember{}, false
	}
	members, ok := g.Settings["members"].(map[string]any)
	if !ok {
		return GroupMember{}, false
	}
	raw, ok := members[memberID]
	if !ok {
		return GroupMember{}, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return GroupMember{}, false
	}
	var m GroupMember
	if err := json.Unmarshal(data, &m); err != nil {
		return GroupMember{}, false
	}
	return m, true
}

// Session status values.
const (
	SessionActive   = "active"
	SessionArchived = "archived"
)

// Session is one conversation keyed by (platform, chat id).
// At most one active session exists per key.
type Session struct {
	ID           uuid.UUID `json:"id"`
	Platform     string    `json:"platform"`
	ChatID       string    `json:"chat_id"`
	Status       string    `json:"status"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// MetaCompactionSummary marks the synthetic assistant row a compaction leaves
// behind in place of the summarized prefix.
const MetaCompactionSummary = "compaction_summary"

// Message is one row of a session's history. Ordering within a session is
// (created_at, id); id is a bigserial so ties break deterministically.
type Message struct {
	ID         int64           `json:"id"`
	SessionID  uuid.UUID       `json:"session_id"`
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IsCompactionSummary reports whether this row is a compaction summary.
func (m *Message) IsCompactionSummary() bool {
	if m.Metadata == nil {
		return false
	}
	t, _ := m.Metadata["type"].(string)
	return t == MetaCompactionSummary
}

// Memory is one long-term memory row with its embedding.
type Memory struct {
	ID          uuid.UUID       `json:"id"`
	Content     string          `json:"content"`
	Category    string          `json:"category"`
	Embedding   pgvector.Vector `json:"-"`
	Source      string          `json:"source"`
	UserID      *uuid.UUID      `json:"user_id,omitempty"`
	Importance  float64         `json:"importance"`
	AccessCount int             `json:"access_count"`
	CreatedAt   time.Time       `json:"created_at"`
	AccessedAt  time.Time       `json:"accessed_at"`

	// Similarity is populated by nearest-neighbor queries (1 - cosine distance).
	Similarity float64 `json:"similarity,omitempty"`
}

// Ability is a tool-shaped plugin record.
type Ability struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Enabled     bool           `json:"enabled"`
	Config      map[string]any `json:"config,omitempty"`
	Source      string         `json:"source"` // "builtin" or "user"
}

// Schedule types.
const (
	ScheduleOnce     = "once"
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
)

// ScheduledTask is a durable time-triggered task. next_run is always
// populated while the task is enabled; once tasks are deleted after they run.
type ScheduledTask struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	ScheduleType  string     `json:"schedule_type"`
	ScheduleValue string     `json:"schedule_value"` // seconds for interval, cron expr, or RFC3339 for once
	Payload       string     `json:"payload"`
	Platform      string     `json:"platform"`
	ChatID        string     `json:"chat_id"`
	Enabled       bool       `json:"enabled"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	NextRun       *time.Time `json:"next_run,omitempty"`
	RunCount      int        `json:"run_count"`
	CreatedBy     string     `json:"created_by"`
}

// Sub-agent run status values.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// SubagentRun tracks one background conversation worker.
type SubagentRun struct {
	RunID           uuid.UUID  `json:"run_id"`
	ParentSessionID uuid.UUID  `json:"parent_session_id"`
	Task            string     `json:"task"`
	Status          string     `json:"status"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	InputTokens     int        `json:"input_tokens"`
	OutputTokens    int        `json:"output_tokens"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Identity is the agent's self-description.
type Identity struct {
	Name        string `json:"name"`
	Motto       string `json:"motto"`
	Backstory   string `json:"backstory"`
	Personality string `json:"personality"`
}

// SoulEntry is one free-form behavior line.
type SoulEntry struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

// Rule severity values.
const (
	SeverityHard = "hard"
	SeveritySoft = "soft"
)

// Rule is one numbered behavior rule. Codes prefixed SEC/MEM/IDT are
// immutable through tool calls.
type Rule struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Content  string `json:"content"`
}

// ConfigEntry is one row of the config table.
type ConfigEntry struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description,omitempty"`
}
