package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/driptech/admin-session/config"
	"github.com/driptech/admin-session/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	In     io.Reader
	Out    io.Writer
}

func main() {
	logger := bootstrap.InitLogger("info", false)

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if _, err := fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		In:     os.Stdin,
		Out:    os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"hash-password": {
			name:        "hash-password",
			description: "Read a password from stdin and print a DEV_AUTH_PASSWORD_HASH value",
			run:         runHashPassword,
		},
		"migrate": {
			name:        "migrate",
			description: "Run user_roles database migrations",
			run:         runMigrations,
		},
		"grant-role": {
			name:        "grant-role",
			description: "Grant a privileged role to a user",
			run:         runGrantRole,
		},
		"revoke-role": {
			name:        "revoke-role",
			description: "Revoke a privileged role from a user",
			run:         runRevokeRole,
		},
		"list-roles": {
			name:        "list-roles",
			description: "Show the roles a user holds and the one the admin surface will use",
			run:         runListRoles,
		},
		"clear-session": {
			name:        "clear-session",
			description: "Delete the persisted admin session (forces sign-in on next start)",
			run:         runClearSession,
		},
	}
}

func printUsage(w io.Writer) error {
	if _, err := fmt.Fprint(w, "Usage: driptech-adminctl <command> [flags]\n\nAvailable commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "  %-16s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}
