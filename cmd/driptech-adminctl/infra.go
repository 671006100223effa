package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/driptech/admin-session/config"
	"github.com/driptech/admin-session/internal/adapters/devauth"
	"github.com/driptech/admin-session/internal/bootstrap"
	"github.com/driptech/admin-session/internal/migrate"
)

const defaultMigrationTimeout = 5 * time.Minute

func connectDB(ctx context.Context, cmdCtx *commandContext) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

func closeDB(cmdCtx *commandContext, db *sql.DB) {
	if err := db.Close(); err != nil {
		cmdCtx.Logger.Warn("db close failed", "error", err)
	}
}

func runHashPassword(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := readLine(cmdCtx.In)
	if err != nil {
		return err
	}
	hash, err := devauth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmdCtx.Out, hash)
	return err
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("read password: empty input")
	}
	return line, nil
}

type migrateOptions struct {
	Timeout time.Duration
	Status  bool
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	opts := migrateOptions{}
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum time to wait for migrations")
	fs.BoolVar(&opts.Status, "status", false, "List pending migrations without applying them")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.Timeout <= 0 {
		return opts, errors.New("--timeout must be positive")
	}
	return opts, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, err := connectDB(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)

	if opts.Status {
		pending, err := migrate.Pending(ctx, db)
		if err != nil {
			return err
		}
		return printPending(cmdCtx.Out, pending)
	}
	return bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
}

func printPending(w io.Writer, pending []migrate.Migration) error {
	if len(pending) == 0 {
		_, err := fmt.Fprintln(w, "schema is up to date")
		return err
	}
	for _, m := range pending {
		if _, err := fmt.Fprintf(w, "pending: %s\n", m.Version); err != nil {
			return err
		}
	}
	return nil
}

func runClearSession(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("clear-session", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmdCtx.Config.Session.Store == config.StoreMemory {
		return errors.New("SESSION_STORE=memory keeps nothing between restarts")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 30*time.Second)
	defer cancel()

	cfg := cmdCtx.Config
	cfg.Session.EventRelay = false
	cfg.Auth.RoleSource = config.RoleSourceStatic
	infra, err := bootstrap.InitInfrastructure(ctx, &cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := infra.Close(); cerr != nil {
			cmdCtx.Logger.Warn("infrastructure close failed", "error", cerr)
		}
	}()

	store, closeStore, err := bootstrap.BuildSessionStore(ctx, bootstrap.SessionStoreConfig{
		Session: cfg.Session,
		Infra:   infra,
		Logger:  cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			cmdCtx.Logger.Warn("session store close failed", "error", cerr)
		}
	}()

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	_, err = fmt.Fprintf(cmdCtx.Out, "cleared persisted session (%s store)\n", cfg.Session.Store)
	return err
}
