package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/syne-agent/syne/internal/abilities"
	"github.com/syne-agent/syne/internal/agent"
	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/channels"
	"github.com/syne-agent/syne/internal/channels/cli"
	"github.com/syne-agent/syne/internal/channels/telegram"
	"github.com/syne-agent/syne/internal/channels/whatsapp"
	"github.com/syne-agent/syne/internal/config"
	"github.com/syne-agent/syne/internal/memory"
	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/scheduler"
	"github.com/syne-agent/syne/internal/security"
	"github.com/syne-agent/syne/internal/store"
	"github.com/syne-agent/syne/internal/subagents"
	"github.com/syne-agent/syne/internal/tools"
	"github.com/syne-agent/syne/internal/upgrade"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent (all enabled channels)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// runtimeDefaults are seeded into the config table on first start. Existing
// values are never overwritten; everything here is editable at runtime via
// the update_config tool.
var runtimeDefaults = map[string]any{
	"agent.max_tokens":             4096,
	"session.max_messages":         100,
	"session.compaction_threshold": 150000,
	"subagents.max_concurrent":     2,
	"exec.timeout_max":             300,
	"memory.auto_capture":          true,
	"update_check.enabled":         true,
	"telegram.require_mention":     true,
	"telegram.group_policy":        "allowlist",
	"whatsapp.require_mention":     true,
	"whatsapp.group_policy":        "allowlist",
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	if cfg.Database.DSN == "" {
		slog.Error("SYNE_POSTGRES_DSN environment variable is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	// Bring the schema up before opening the pool proper. A fresh or
	// outdated database is migrated in place; dirty or too-new is fatal.
	if err := ensureSchema(cfg); err != nil {
		slog.Error("schema check failed", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MinConns, cfg.Database.MaxConns)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Configs.SeedDefaults(ctx, runtimeDefaults); err != nil {
		slog.Warn("config defaults not seeded", "error", err)
	}
	if err := db.Identity.SeedRules(ctx, security.BuiltinRules); err != nil {
		slog.Warn("builtin rules not seeded", "error", err)
	}

	if err := os.MkdirAll(cfg.Workspace.Dir, 0o755); err != nil {
		slog.Error("workspace not writable", "dir", cfg.Workspace.Dir, "error", err)
		os.Exit(1)
	}

	// Provider registry, rebuilt whenever a credential.* key changes.
	registry := providers.NewRegistry(loadCredentials(ctx, db), loadModelCatalog(ctx, db),
		db.Configs.GetString(ctx, "provider.active_model", ""))
	rebuildModels := func(ctx context.Context) {
		registry.Rebuild(loadCredentials(ctx, db), loadModelCatalog(ctx, db),
			db.Configs.GetString(ctx, "provider.active_model", ""))
	}

	// Long-term memory rides on the embedding provider; without one the
	// engine stays dark and memory tools report being disabled.
	var embedder providers.Embedder
	if e, ok := registry.Embedder(); ok {
		embedder = e
	}
	mem := memory.NewEngine(db.Memories, embedder)
	if mem.Enabled() {
		if !db.HasVector(ctx) {
			slog.Error("memories need the pgvector extension: CREATE EXTENSION vector")
			os.Exit(1)
		}
		if err := mem.EnsureDimension(ctx); err != nil {
			slog.Error("embedding dimension check failed", "error", err)
			os.Exit(1)
		}
		if err := db.Memories.EnsureIndex(ctx); err != nil {
			slog.Warn("vector index not created", "error", err)
		}
	} else {
		slog.Info("long-term memory disabled (no embedding credentials)")
	}

	abilityReg := abilities.NewRegistry(db.Abilities)
	abilityReg.Add(abilities.Vision{})
	if err := abilityReg.Sync(ctx); err != nil {
		slog.Warn("ability sync failed", "error", err)
	}

	if n, err := db.Runs.FailOrphans(ctx); err != nil {
		slog.Warn("orphaned worker runs not cleaned", "error", err)
	} else if n > 0 {
		slog.Info("orphaned worker runs failed", "count", n)
	}
	workers := subagents.NewManager(db.Runs, db.Configs.GetInt(ctx, "subagents.max_concurrent", 2))

	msgBus := bus.New()
	defer msgBus.Close()

	toolReg := tools.NewRegistry()
	tools.RegisterBuiltins(toolReg, &tools.Deps{
		DB:               db,
		Memory:           mem,
		Models:           registry,
		Bus:              msgBus,
		Subagents:        workers,
		Workspace:        cfg.Workspace.Dir,
		SourceDir:        os.Getenv("SYNE_SOURCE_DIR"),
		RefreshAbilities: abilityReg.Sync,
		RebuildModels:    rebuildModels,
	})
	abilityReg.BindTools(toolReg)

	evaluatorModel := ""
	if db.Configs.GetBool(ctx, "memory.auto_capture", true) && mem.Enabled() {
		evaluatorModel = db.Configs.GetString(ctx, "memory.evaluator_model", registry.DefaultModel())
	}
	conv := agent.New(agent.Options{
		DB:        db,
		Bus:       msgBus,
		Models:    registry,
		Tools:     toolReg,
		Memory:    mem,
		Abilities: abilityReg,
		Subagents: workers,
		Limits: agent.Limits{
			MaxMessages:     db.Configs.GetInt(ctx, "session.max_messages", agent.DefaultMaxMessages),
			CompactionChars: db.Configs.GetInt(ctx, "session.compaction_threshold", agent.DefaultCompactionChars),
		},
		EvaluatorModel:  evaluatorModel,
		SummarizerModel: db.Configs.GetString(ctx, "session.summarizer_model", ""),
	})
	workers.Wire(conv.RunSubagentTask, conv.DeliverWorkerResult)

	sched := scheduler.New(db.Tasks, func(ctx context.Context, task *store.ScheduledTask) {
		conv.InjectSystem(ctx, task.Platform, task.ChatID, task.Payload)
	})
	sched.OnUpdateCheck(func(ctx context.Context, task *store.ScheduledTask) {
		runUpdateCheck(ctx, db, conv, task)
	})
	seedUpdateCheckTask(ctx, db)

	// Channels. Each one gets its own outbound drain goroutine.
	var started []channels.Channel
	startChannel := func(ch channels.Channel, err error) {
		if err != nil {
			slog.Error("channel setup failed", "error", err)
			return
		}
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel start failed", "platform", ch.Name(), "error", err)
			return
		}
		queue := msgBus.RegisterOutbound(ch.Name())
		go channels.RunOutbound(ctx, ch, queue)
		started = append(started, ch)
		slog.Info("channel enabled", "platform", ch.Name())
	}

	if tg := cfg.Snapshot().Channels.Telegram; tg.Enabled {
		if tg.Token == "" {
			tg.Token = db.Configs.GetString(ctx, "credential.telegram.bot_token", "")
		}
		if tg.Token == "" {
			slog.Warn("telegram enabled but no token; set SYNE_TELEGRAM_TOKEN or credential.telegram.bot_token")
		} else {
			startChannel(telegram.New(tg, msgBus, conv))
		}
	}
	if wa := cfg.Snapshot().Channels.WhatsApp; wa.Enabled {
		startChannel(whatsapp.New(wa, msgBus, conv), nil)
	}
	if cfg.Snapshot().Channels.CLI.Enabled {
		startChannel(cli.New(msgBus, conv), nil)
	}
	if len(started) == 0 {
		slog.Error("no channels enabled; nothing to do")
		os.Exit(1)
	}

	go func() {
		if err := config.Watch(ctx, cfgPath, cfg, nil); err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		}
	}()

	go sched.Run(ctx)
	go conv.Run(ctx)

	slog.Info("syne running",
		"version", upgrade.Version,
		"tools", len(toolReg.Names()),
		"memory", mem.Enabled(),
		"workspace", cfg.Workspace.Dir,
	)

	<-ctx.Done()
	slog.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, ch := range started {
		if err := ch.Stop(stopCtx); err != nil {
			slog.Warn("channel stop failed", "platform", ch.Name(), "error", err)
		}
	}
}

// ensureSchema migrates a fresh or outdated database and refuses to run
// against a dirty or newer-than-binary schema.
func ensureSchema(cfg *config.Config) error {
	m, err := newMigrator(cfg, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer m.Close()

	v, dirty, verr := m.Version()
	switch {
	case verr == migrate.ErrNilVersion:
		slog.Info("fresh database, applying migrations")
	case verr != nil:
		return verr
	case dirty:
		return errorsFromStatus(&upgrade.SchemaStatus{CurrentVersion: uint(v), Dirty: true})
	case uint(v) > upgrade.RequiredSchemaVersion:
		return errorsFromStatus(&upgrade.SchemaStatus{
			CurrentVersion: uint(v), RequiredVersion: upgrade.RequiredSchemaVersion})
	case uint(v) == upgrade.RequiredSchemaVersion:
		return nil
	}

	if err := m.Migrate(upgrade.RequiredSchemaVersion); err != nil && err != migrate.ErrNoChange {
		return err
	}
	slog.Info("migrations applied", "version", upgrade.RequiredSchemaVersion)
	return nil
}

type schemaError struct{ s *upgrade.SchemaStatus }

func (e *schemaError) Error() string { return upgrade.FormatError(e.s) }

func errorsFromStatus(s *upgrade.SchemaStatus) error {
	if s.RequiredVersion == 0 {
		s.RequiredVersion = upgrade.RequiredSchemaVersion
	}
	return &schemaError{s: s}
}

// loadCredentials assembles provider credentials from env (highest) and the
// credential.* config keys. Values are never logged.
func loadCredentials(ctx context.Context, db *store.DB) providers.Credentials {
	get := func(env, key string) string {
		if v := os.Getenv(env); v != "" {
			return v
		}
		return db.Configs.GetString(ctx, key, "")
	}
	return providers.Credentials{
		OpenAIKey:      get("SYNE_OPENAI_API_KEY", "credential.openai.api_key"),
		OpenAIBaseURL:  db.Configs.GetString(ctx, "credential.openai.base_url", ""),
		AnthropicKey:   get("SYNE_ANTHROPIC_API_KEY", "credential.anthropic.api_key"),
		OpenRouterKey:  get("SYNE_OPENROUTER_API_KEY", "credential.openrouter.api_key"),
		EmbeddingModel: db.Configs.GetString(ctx, "provider.active_embedding", "text-embedding-3-small"),
		EmbeddingDim:   db.Configs.GetInt(ctx, "provider.embedding_dimensions", 1536),
	}
}

// loadModelCatalog reads operator-defined model entries layered over the
// builtin catalog.
func loadModelCatalog(ctx context.Context, db *store.DB) []providers.ModelInfo {
	var extra []providers.ModelInfo
	if err := db.Configs.GetJSON(ctx, "provider.models", &extra); err != nil {
		return nil
	}
	return extra
}

// seedUpdateCheckTask creates the daily release check once. The operator can
// disable or delete it like any other task.
func seedUpdateCheckTask(ctx context.Context, db *store.DB) {
	if !db.Configs.GetBool(ctx, "update_check.enabled", true) {
		return
	}
	if db.Configs.GetBool(ctx, "update_check.seeded", false) {
		return
	}
	next, err := scheduler.NextRun(store.ScheduleCron, "0 9 * * *", time.Now())
	if err != nil {
		return
	}
	task := &store.ScheduledTask{
		Name:          "update-check",
		ScheduleType:  store.ScheduleCron,
		ScheduleValue: "0 9 * * *",
		Payload:       scheduler.UpdateCheckPayload,
		Enabled:       true,
		NextRun:       &next,
		CreatedBy:     "system",
	}
	if err := db.Tasks.Create(ctx, task); err != nil {
		slog.Warn("update check task not seeded", "error", err)
		return
	}
	if err := db.Configs.Set(ctx, "update_check.seeded", true); err != nil {
		slog.Warn("update check seed marker not stored", "error", err)
	}
}

// runUpdateCheck polls the release feed. A newer release is announced once
// per version, into the task's chat when it has one, otherwise to the
// founder owner's DM.
func runUpdateCheck(ctx context.Context, db *store.DB, conv *agent.Conversation, task *store.ScheduledTask) {
	rel, newer, err := upgrade.NewChecker("").Check(ctx)
	if err != nil {
		slog.Warn("update check failed", "error", err)
		return
	}
	if err := db.Configs.Set(ctx, "update_check.latest_version", rel.Tag); err != nil {
		slog.Warn("latest version not recorded", "error", err)
	}
	if !newer {
		return
	}
	if db.Configs.GetString(ctx, "update_check.notified_version", "") == rel.Tag {
		return
	}

	platform, chatID := task.Platform, task.ChatID
	if platform == "" || chatID == "" {
		platform, chatID = ownerChat(ctx, db)
	}
	if platform == "" || chatID == "" {
		slog.Info("new release available", "tag", rel.Tag, "url", rel.URL)
		return
	}
	if err := db.Configs.Set(ctx, "update_check.notified_version", rel.Tag); err != nil {
		slog.Warn("notified version not recorded", "error", err)
	}
	conv.InjectSystem(ctx, platform, chatID,
		"A new Syne release is out: "+rel.Tag+" (this instance runs "+upgrade.Version+"). "+
			"Let the owner know, with the release link: "+rel.URL)
}

// ownerChat finds the founder owner's DM on any platform with a live channel.
func ownerChat(ctx context.Context, db *store.DB) (platform, chatID string) {
	for _, p := range []string{"telegram", "whatsapp"} {
		users, err := db.Users.List(ctx, p)
		if err != nil {
			continue
		}
		for _, u := range users {
			if u.AccessLevel == store.AccessOwner {
				return p, u.PlatformID
			}
		}
	}
	return "", ""
}
