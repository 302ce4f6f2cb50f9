package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/syne-agent/syne/internal/config"
	"github.com/syne-agent/syne/internal/providers"
	"github.com/syne-agent/syne/internal/store"
	"github.com/syne-agent/syne/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, database, and provider health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("syne doctor")
	fmt.Printf("  Version:  %s (schema v%d)\n", upgrade.Version, upgrade.RequiredSchemaVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Database.DSN == "" {
		fmt.Printf("    %-10s SYNE_POSTGRES_DSN not set\n", "Status:")
		return
	}
	db, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MinConns, cfg.Database.MaxConns)
	if err != nil {
		fmt.Printf("    %-10s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	fmt.Printf("    %-10s connected\n", "Status:")

	s, err := upgrade.CheckSchema(db.SQL)
	switch {
	case err != nil:
		fmt.Printf("    %-10s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Dirty:
		fmt.Printf("    %-10s v%d (DIRTY, run: syne migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		fmt.Printf("    %-10s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Printf("    %-10s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Printf("    %-10s v%d (run: syne migrate up)\n", "Schema:", s.CurrentVersion)
	}

	if db.HasVector(ctx) {
		fmt.Printf("    %-10s installed\n", "pgvector:")
	} else {
		fmt.Printf("    %-10s MISSING (memory disabled; CREATE EXTENSION vector)\n", "pgvector:")
	}

	fmt.Println()
	fmt.Println("  Providers:")
	registry := providers.NewRegistry(loadCredentials(ctx, db), loadModelCatalog(ctx, db),
		db.Configs.GetString(ctx, "provider.active_model", ""))
	model := registry.DefaultModel()
	fmt.Printf("    %-10s %s\n", "Model:", model)
	if err := registry.Test(ctx, model); err != nil {
		fmt.Printf("    %-10s FAILED (%s)\n", "Chat:", err)
	} else {
		fmt.Printf("    %-10s OK\n", "Chat:")
	}
	if _, ok := registry.Embedder(); ok {
		fmt.Printf("    %-10s configured\n", "Embedder:")
	} else {
		fmt.Printf("    %-10s not configured\n", "Embedder:")
	}

	fmt.Println()
	fmt.Println("  Channels:")
	tg := cfg.Channels.Telegram
	token := tg.Token
	if token == "" {
		token = db.Configs.GetString(ctx, "credential.telegram.bot_token", "")
	}
	checkChannel("Telegram", tg.Enabled, token != "")
	checkChannel("WhatsApp", cfg.Channels.WhatsApp.Enabled, true)
	checkChannel("CLI", cfg.Channels.CLI.Enabled, true)
}

func checkChannel(name string, enabled, configured bool) {
	switch {
	case !enabled:
		fmt.Printf("    %-10s disabled\n", name+":")
	case !configured:
		fmt.Printf("    %-10s enabled, NO TOKEN\n", name+":")
	default:
		fmt.Printf("    %-10s enabled\n", name+":")
	}
}
