// Package agent is the conversation core: it consumes inbound messages,
// drives the tool loop against a provider, persists history, and publishes
// replies. Turns for the same chat run strictly in order; different chats
// run concurrently.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/syne-agent/syne/internal/abilities"
	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/comms"
	"github.com/syne-agent/syne/internal/memory"
	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
	"github.com/syne-agent/syne/internal/subagents"
	"github.com/syne-agent/syne/internal/tools"
)

var tracer = otel.Tracer("syne/agent")

// Conversation owns the message-handling pipeline.
type Conversation struct {
	db        *store.DB
	bus       *bus.MessageBus
	models    *providers.Registry
	tools     *tools.Registry
	loop      *Loop
	compactor *Compactor
	memory    *memory.Engine
	abilities *abilities.Registry
	subagents *subagents.Manager
	limits    Limits

	// evaluatorModel runs memory auto-capture; empty disables it.
	evaluatorModel string

	chatLocks       sync.Map // platform:chat_id to *sync.Mutex
	cancels         sync.Map // platform:chat_id to context.CancelFunc
	pendingNotified sync.Map
	lastUsage       sync.Map // session id to provider-reported input tokens
}

// Options configures a Conversation.
type Options struct {
	DB             *store.DB
	Bus            *bus.MessageBus
	Models         *providers.Registry
	Tools          *tools.Registry
	Memory         *memory.Engine
	Abilities      *abilities.Registry
	Subagents      *subagents.Manager
	Limits         Limits
	EvaluatorModel string
	SummarizerModel string
}

// New builds the conversation core.
func New(o Options) *Conversation {
	return &Conversation{
		db:             o.DB,
		bus:            o.Bus,
		models:         o.Models,
		tools:          o.Tools,
		loop:           NewLoop(o.Tools, o.Models),
		compactor:      NewCompactor(o.DB.Sessions, o.Models, o.SummarizerModel),
		memory:         o.Memory,
		abilities:      o.Abilities,
		subagents:      o.Subagents,
		limits:         o.Limits,
		evaluatorModel: o.EvaluatorModel,
	}
}

// Run consumes the inbound queue until ctx is done. Each message is handled
// on its own goroutine; the per-chat mutex serializes turns within a chat.
func (c *Conversation) Run(ctx context.Context) {
	for {
		msg, ok := c.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go c.Handle(ctx, &msg)
	}
}

func chatKey(platform, chatID string) string { return platform + ":" + chatID }

// Handle processes one inbound message end to end.
func (c *Conversation) Handle(ctx context.Context, msg *bus.InboundMessage) {
	key := chatKey(msg.Platform, msg.ChatID)
	muAny, _ := c.chatLocks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	c.cancels.Store(key, cancel)
	defer func() {
		cancel()
		c.cancels.Delete(key)
	}()

	ctx, span := tracer.Start(turnCtx, "agent.turn", trace.WithAttributes(
		attribute.String("platform", msg.Platform),
		attribute.Bool("group", msg.IsGroup),
	))
	defer span.End()

	if err := c.handleTurn(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		slog.Error("turn failed", "platform", msg.Platform, "chat", msg.ChatID, "error", err)
		c.sendError(msg, err)
	}
}

// CancelTurn aborts the in-flight turn of a chat, if any.
func (c *Conversation) CancelTurn(platform, chatID string) bool {
	if cancel, ok := c.cancels.Load(chatKey(platform, chatID)); ok {
		cancel.(context.CancelFunc)()
		return true
	}
	return false
}

// ClearSession archives the active session of a chat.
func (c *Conversation) ClearSession(ctx context.Context, platform, chatID string) error {
	return c.db.Sessions.Archive(ctx, platform, chatID)
}

func (c *Conversation) handleTurn(ctx context.Context, msg *bus.InboundMessage) error {
	user, access, err := c.resolveSender(ctx, msg)
	if err != nil {
		return err
	}
	if !c.gateAccess(ctx, msg, user, access) {
		return nil
	}
	if msg.IsGroup && !c.gateGroup(ctx, msg, user) {
		return nil
	}

	if c.abilities != nil {
		c.abilities.Preprocess(ctx, msg)
	}

	session, err := c.db.Sessions.Active(ctx, msg.Platform, msg.ChatID)
	if err != nil {
		return err
	}

	model := c.resolveModel(ctx, user, msg)
	promptIn, err := LoadPromptInput(ctx, c.db)
	if err != nil {
		return err
	}
	promptIn.Now = time.Now()
	promptIn.Platform = msg.Platform
	promptIn.IsGroup = msg.IsGroup
	promptIn.User = user
	promptIn.Access = access
	promptIn.MemoryEnabled = c.memory.Enabled()
	if c.tools != nil {
		promptIn.Tools = c.tools.Specs(access, msg.IsGroup)
		promptIn.OwnerOnlyTools = c.tools.OwnerOnlyNames()
	}
	if c.subagents != nil {
		promptIn.ActiveWorkers = c.subagents.ActiveCount()
	}
	if tasks, terr := c.db.Tasks.List(ctx, msg.Platform, msg.ChatID); terr == nil {
		promptIn.ActiveTasks = len(tasks)
	}
	if msg.IsGroup {
		if g, gerr := c.db.Groups.Get(ctx, msg.Platform, msg.ChatID); gerr == nil {
			promptIn.Group = g
		}
	}
	system := BuildSystemPrompt(promptIn)
	slog.Debug("system prompt built", "hash", PromptHash(system), "model", model)

	history, err := c.db.Sessions.Messages(ctx, session.ID)
	if err != nil {
		return err
	}

	info := c.models.Info(model)
	if heavy, reason := NeedsCompaction(system, history, c.reportedTokens(session.ID), info, c.limits); heavy {
		slog.Info("session heavy", "session", session.ID, "reason", reason)
		if compacted, cerr := c.compactor.Compact(ctx, session.ID, model); cerr != nil {
			slog.Warn("compaction failed, continuing with full history", "error", cerr)
		} else if compacted {
			before := len(history)
			if history, err = c.db.Sessions.Messages(ctx, session.ID); err != nil {
				return err
			}
			c.notifyCompaction(msg.Platform, msg.ChatID, before-len(history)+1)
		}
	}

	// The row keeps the sender's words verbatim; the context prefix
	// travels in metadata and is re-applied when history is rendered
	// for the provider.
	prefix := comms.ContextPrefix(msg, time.Now())
	userContent := joinPrefix(prefix, msg.Content)
	userRow := &store.Message{
		SessionID: session.ID,
		Role:      store.RoleUser,
		Content:   msg.Content,
		Metadata:  map[string]any{"context_prefix": prefix},
	}

	chatHistory := toChatMessages(history)
	userMsg := providers.ChatMessage{Role: providers.RoleUser, Content: userContent}
	for _, m := range msg.Media {
		if m.Type == "image" && len(m.Data) > 0 && info.Vision {
			userMsg.Images = append(userMsg.Images, providers.ImagePart{
				MimeType: m.MimeType, Data: m.Data,
			})
		}
	}
	chatHistory = append(chatHistory, userMsg)

	inv := &tools.Invocation{
		Platform:  msg.Platform,
		ChatID:    msg.ChatID,
		SessionID: session.ID,
		User:      user,
		Access:    access,
		IsGroup:   msg.IsGroup,
		GroupID:   msg.ChatID,
	}

	result, loopErr := c.loop.Run(ctx, &LoopRequest{
		Model:   model,
		System:  system,
		History: chatHistory,
		Params:  c.genParams(ctx, user),
		Inv:     inv,
	})

	// Persistence is all-or-user-only: a failed turn keeps the user's
	// message so the next turn sees it, but no partial assistant state.
	if loopErr != nil {
		if err := c.db.Sessions.Append(ctx, userRow); err != nil {
			slog.Error("user message not persisted after failed turn", "error", err)
		}
		return loopErr
	}

	rows := append([]*store.Message{userRow}, result.NewMessages...)
	if err := c.db.Sessions.AppendAll(ctx, rows); err != nil {
		return err
	}
	if result.Usage.InputTokens > 0 {
		c.lastUsage.Store(session.ID, result.Usage.InputTokens)
	}

	c.deliver(msg, result)

	if c.memory.Enabled() && c.evaluatorModel != "" && result.Text != "" {
		evalProvider, _, perr := c.models.Resolve(c.evaluatorModel)
		if perr == nil {
			capCtx, capCancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
			go func() {
				defer capCancel()
				c.memory.AutoCapture(capCtx, evalProvider, c.evaluatorModel,
					msg.Content, result.Text, inv.UserID())
			}()
		}
	}
	return nil
}

// deliver normalizes the final text and publishes outbound messages.
func (c *Conversation) deliver(msg *bus.InboundMessage, result *LoopResult) {
	out := comms.Normalize(result.Text)
	if out.Text == "" && len(out.MediaPaths) == 0 && len(out.Directives.Reactions) == 0 {
		return
	}

	reply := bus.OutboundMessage{
		Platform:  msg.Platform,
		ChatID:    msg.ChatID,
		Content:   out.Text,
		Reactions: out.Directives.Reactions,
	}
	// Platforms with integer message ids use ReplyToID/ReactToID; others
	// read the string ids from metadata.
	reply.Metadata = map[string]string{}
	if out.Directives.ReplyToCurrent {
		reply.ReplyToID = msg.MessageID
		reply.Metadata["reply_to_id"] = msg.Metadata["message_id"]
	} else if out.Directives.ReplyToID != "" {
		reply.Metadata["reply_to_id"] = out.Directives.ReplyToID
		if id, err := strconv.Atoi(out.Directives.ReplyToID); err == nil {
			reply.ReplyToID = id
		}
	}
	if len(out.Directives.Reactions) > 0 {
		reply.ReactToID = msg.MessageID
		reply.Metadata["react_to_id"] = msg.Metadata["message_id"]
	}
	if len(out.MediaPaths) > 0 {
		reply.MediaPath = out.MediaPaths[0]
	}
	if err := c.bus.PublishOutbound(reply); err != nil {
		slog.Error("reply not delivered", "error", err)
	}
}

func (c *Conversation) sendError(msg *bus.InboundMessage, err error) {
	text := "Something went wrong handling that; try again in a moment."
	switch providers.KindOf(err) {
	case providers.KindRateLimit:
		text = "The model is rate-limiting me right now; give me a minute and try again."
	case providers.KindAuth:
		text = "My model credentials are being rejected; the owner needs to check the configured API keys."
	case providers.KindTimeout:
		text = "The model took too long to answer; try again."
	}
	if perr := c.bus.PublishOutbound(bus.OutboundMessage{
		Platform: msg.Platform, ChatID: msg.ChatID, Content: text,
	}); perr != nil {
		slog.Error("error notice not delivered", "error", perr)
	}
}

// resolveModel applies the precedence user preference, then group override,
// then global default.
func (c *Conversation) resolveModel(ctx context.Context, user *store.User, msg *bus.InboundMessage) string {
	if m := user.PreferredModel(); m != "" {
		return m
	}
	if msg.IsGroup {
		if g, err := c.db.Groups.Get(ctx, msg.Platform, msg.ChatID); err == nil {
			if m := g.ModelOverride(); m != "" {
				return m
			}
		}
	}
	if m := c.db.Configs.GetString(ctx, "provider.active_model", ""); m != "" {
		return m
	}
	return c.models.DefaultModel()
}

func (c *Conversation) genParams(ctx context.Context, user *store.User) providers.GenParams {
	p := providers.GenParams{
		MaxTokens: c.db.Configs.GetInt(ctx, "agent.max_tokens", 4096),
	}
	if t := c.db.Configs.GetFloat(ctx, "agent.temperature", -1); t >= 0 {
		p.Temperature = &t
	}
	if user != nil && user.Preferences != nil {
		if tb, ok := user.Preferences["thinking_budget"].(float64); ok {
			budget := int(tb)
			p.ThinkingBudget = &budget
		}
	}
	return p
}

// InjectSystem runs a turn triggered by the system rather than a person:
// scheduled task payloads and sub-agent result deliveries.
func (c *Conversation) InjectSystem(ctx context.Context, platform, chatID, payload string) {
	msg := &bus.InboundMessage{
		Platform:    platform,
		ChatID:      chatID,
		SenderID:    "system",
		DisplayName: "system",
		Content:     payload,
		Metadata:    map[string]string{"system_injected": "true"},
	}
	c.HandleSystem(ctx, msg)
}

// HandleSystem is like Handle but skips sender registration and access
// gates; the turn runs with owner access on behalf of the system.
func (c *Conversation) HandleSystem(ctx context.Context, msg *bus.InboundMessage) {
	key := chatKey(msg.Platform, msg.ChatID)
	muAny, _ := c.chatLocks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	session, err := c.db.Sessions.Active(ctx, msg.Platform, msg.ChatID)
	if err != nil {
		slog.Error("system turn: session", "error", err)
		return
	}

	promptIn, err := LoadPromptInput(ctx, c.db)
	if err != nil {
		slog.Error("system turn: prompt", "error", err)
		return
	}
	promptIn.Now = time.Now()
	promptIn.Platform = msg.Platform
	promptIn.Access = store.AccessOwner
	promptIn.MemoryEnabled = c.memory.Enabled()
	system := BuildSystemPrompt(promptIn)

	history, err := c.db.Sessions.Messages(ctx, session.ID)
	if err != nil {
		slog.Error("system turn: history", "error", err)
		return
	}

	model := c.db.Configs.GetString(ctx, "provider.active_model", c.models.DefaultModel())
	content := "[scheduled] " + msg.Content
	userRow := &store.Message{SessionID: session.ID, Role: store.RoleUser, Content: content,
		Metadata: map[string]any{"system_injected": true}}

	chatHistory := append(toChatMessages(history),
		providers.ChatMessage{Role: providers.RoleUser, Content: content})

	inv := &tools.Invocation{
		Platform:  msg.Platform,
		ChatID:    msg.ChatID,
		SessionID: session.ID,
		Access:    store.AccessOwner,
	}
	result, loopErr := c.loop.Run(ctx, &LoopRequest{
		Model:   model,
		System:  system,
		History: chatHistory,
		Params:  providers.GenParams{MaxTokens: 4096},
		Inv:     inv,
	})
	if loopErr != nil {
		slog.Error("system turn failed", "error", loopErr)
		if err := c.db.Sessions.Append(ctx, userRow); err != nil {
			slog.Error("system turn: user row", "error", err)
		}
		return
	}

	rows := append([]*store.Message{userRow}, result.NewMessages...)
	if err := c.db.Sessions.AppendAll(ctx, rows); err != nil {
		slog.Error("system turn: persist", "error", err)
	}
	c.deliver(msg, result)
}

// reportedTokens returns the provider's input-token count from the
// session's last completion, or 0 when none was reported yet.
func (c *Conversation) reportedTokens(sessionID uuid.UUID) int {
	if v, ok := c.lastUsage.Load(sessionID); ok {
		return v.(int)
	}
	return 0
}

// notifyCompaction tells the chat its history was folded into a summary.
// Best effort; a full outbound queue must not stall the turn.
func (c *Conversation) notifyCompaction(platform, chatID string, folded int) {
	if folded <= 0 {
		return
	}
	if err := c.bus.PublishOutbound(bus.OutboundMessage{
		Platform: platform,
		ChatID:   chatID,
		Content:  fmt.Sprintf("(Compacted this conversation: %d older messages folded into a summary.)", folded),
	}); err != nil {
		slog.Warn("compaction notice not sent", "error", err)
	}
}

// DeliverWorkerResult pushes a finished sub-agent's output into its chat.
func (c *Conversation) DeliverWorkerResult(platform, chatID, text string) {
	if err := c.bus.PublishOutbound(bus.OutboundMessage{
		Platform: platform,
		ChatID:   chatID,
		Content:  "Background task finished:\n\n" + text,
	}); err != nil {
		slog.Error("worker result not delivered", "error", err)
	}
}

// RunSubagentTask executes a task in an isolated conversation and no session
// persistence. The worker runs with the access level of whoever spawned it.
// Used as the sub-agent manager's RunFunc.
func (c *Conversation) RunSubagentTask(ctx context.Context, task string, access store.AccessLevel) (string, int, int, error) {
	promptIn, err := LoadPromptInput(ctx, c.db)
	if err != nil {
		return "", 0, 0, err
	}
	promptIn.Now = time.Now()
	promptIn.Platform = "subagent"
	promptIn.Access = access
	promptIn.MemoryEnabled = c.memory.Enabled()
	if c.tools != nil {
		promptIn.Tools = c.tools.Specs(access, false)
		promptIn.OwnerOnlyTools = c.tools.OwnerOnlyNames()
	}
	system := BuildSystemPrompt(promptIn) +
		"\n## Worker mode\nYou are a background worker. Complete the task and respond with the final result only; you cannot ask questions.\n"

	model := c.db.Configs.GetString(ctx, "agent.subagent_model",
		c.db.Configs.GetString(ctx, "provider.active_model", c.models.DefaultModel()))

	inv := &tools.Invocation{
		Platform: "subagent",
		ChatID:   "worker",
		Access:   access,
	}
	result, err := c.loop.Run(ctx, &LoopRequest{
		Model:  model,
		System: system,
		History: []providers.ChatMessage{{
			Role: providers.RoleUser, Content: task,
		}},
		Params: providers.GenParams{MaxTokens: 4096},
		Inv:    inv,
	})
	if err != nil {
		return "", 0, 0, err
	}
	return result.Text, result.Usage.InputTokens, result.Usage.OutputTokens, nil
}

// toChatMessages converts stored rows to the provider's neutral history.
func toChatMessages(rows []*store.Message) []providers.ChatMessage {
	out := make([]providers.ChatMessage, 0, len(rows))
	for _, m := range rows {
		switch m.Role {
		case store.RoleTool:
			out = append(out, providers.ChatMessage{
				Role:       providers.RoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				ToolName:   m.ToolName,
			})
		case store.RoleAssistant:
			cm := providers.ChatMessage{Role: providers.RoleAssistant, Content: m.Content}
			if m.Metadata != nil {
				cm.ToolCalls = metaToolCalls(m.Metadata)
			}
			out = append(out, cm)
		default:
			content := m.Content
			if m.Metadata != nil {
				if p, ok := m.Metadata["context_prefix"].(string); ok {
					content = joinPrefix(p, m.Content)
				}
			}
			out = append(out, providers.ChatMessage{Role: providers.RoleUser, Content: content})
		}
	}
	return out
}

func joinPrefix(prefix, content string) string {
	switch {
	case prefix == "":
		return content
	case content == "":
		return prefix
	default:
		return prefix + "\n" + content
	}
}

func metaToolCalls(meta map[string]any) []providers.ToolCall {
	raw, ok := meta["tool_calls"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var parsed []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil
	}
	out := make([]providers.ToolCall, 0, len(parsed))
	for _, p := range parsed {
		out = append(out, providers.ToolCall{ID: p.ID, Name: p.Name, Arguments: p.Arguments})
	}
	return out
}
