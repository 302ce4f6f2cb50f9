package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/syne-agent/syne/internal/security"
	"github.com/syne-agent/syne/internal/store"
)

const execOutputCap = 16 * 1024

func registerShellTools(r *Registry, d *Deps) {
	r.Register(&Tool{
		Name:        "exec",
		Description: "Run a shell command in the workspace. Destructive commands are blocked. Output is truncated after 16KB.",
		Parameters: schema(obj(
			"command", obj("type", "string", "description", "the command line to run"),
			"timeout_seconds", obj("type", "integer", "description", "default 60, max 300"),
		), "command"),
		MinAccess: store.AccessOwner,
		OwnerOnly: true,
		Timeout:   310 * time.Second,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			command := strArg(args, "command", "")
			if allowed, reason := security.CheckCommand(command); !allowed {
				return Errf("Error: command blocked: %s", reason)
			}

			maxTimeout := d.DB.Configs.GetInt(ctx, "exec.timeout_max", 300)
			timeout := intArg(args, "timeout_seconds", 60)
			if timeout <= 0 || timeout > maxTimeout {
				timeout = 60
			}
			runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", command)
			cmd.Dir = d.Workspace
			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out

			err := cmd.Run()
			text := out.String()
			if len(text) > execOutputCap {
				text = text[:execOutputCap] + "\n[output truncated]"
			}
			if runCtx.Err() == context.DeadlineExceeded {
				return Errf("Error: command timed out after %ds\n%s", timeout, text)
			}
			if err != nil {
				return Errf("Error: command failed: %v\n%s", err, text)
			}
			if strings.TrimSpace(text) == "" {
				return Ok("(no output)")
			}
			return Ok("%s", text)
		},
	})

	r.Register(&Tool{
		Name:        "file_write",
		Description: "Write a file inside the workspace. Paths outside the workspace are rejected.",
		Parameters: schema(obj(
			"path", obj("type", "string", "description", "path relative to the workspace"),
			"content", obj("type", "string"),
			"append", obj("type", "boolean", "description", "append instead of overwrite"),
		), "path", "content"),
		MinAccess: store.AccessOwner,
		OwnerOnly: true,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			path, err := security.CheckPath(d.Workspace, strArg(args, "path", ""))
			if err != nil {
				return Errf("Error: %v", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return Errf("Error: creating directory: %v", err)
			}

			content := strArg(args, "content", "")
			if boolArg(args, "append", false) {
				f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					return Errf("Error: %v", err)
				}
				defer f.Close()
				if _, err := f.WriteString(content); err != nil {
					return Errf("Error: %v", err)
				}
			} else if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return Errf("Error: %v", err)
			}
			return Ok("Wrote %d bytes to %s.", len(content), filepath.Base(path))
		},
	})

	r.Register(&Tool{
		Name:        "read_source",
		Description: "Read a file from the agent's own source checkout (read-only, for self-inspection).",
		Parameters: schema(obj(
			"path", obj("type", "string", "description", "path relative to the source root"),
		), "path"),
		MinAccess: store.AccessOwner,
		OwnerOnly: true,
		Handler: func(ctx context.Context, inv *Invocation, args map[string]any) Result {
			if d.SourceDir == "" {
				return Errf("Error: source directory is not configured")
			}
			path, err := security.CheckPath(d.SourceDir, strArg(args, "path", ""))
			if err != nil {
				return Errf("Error: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				return Errf("Error: %v", err)
			}
			if info.IsDir() {
				entries, err := os.ReadDir(path)
				if err != nil {
					return Errf("Error: %v", err)
				}
				var b strings.Builder
				for _, e := range entries {
					name := e.Name()
					if e.IsDir() {
						name += "/"
					}
					fmt.Fprintln(&b, name)
				}
				return Ok("%s", b.String())
			}
			if info.Size() > 256*1024 {
				return Errf("Error: file too large (%d bytes)", info.Size())
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return Errf("Error: %v", err)
			}
			return Ok("%s", string(data))
		},
	})
}
