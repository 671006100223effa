package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/driptech/admin-session/internal/adapters/authroles"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

type roleOptions struct {
	UserID string
	Role   domainauth.Role
}

func parseRoleFlags(name string, args []string, needRole bool) (roleOptions, error) {
	var (
		opts roleOptions
		role string
	)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&opts.UserID, "user", "", "User ID (the identity provider subject)")
	if needRole {
		fs.StringVar(&role, "role", "", "Role: super_admin, admin or editor")
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return opts, errors.New("--user is required")
	}
	if needRole {
		opts.Role = domainauth.ParseRole(role)
		if !opts.Role.Privileged() {
			return opts, fmt.Errorf("--role %q is not one of super_admin, admin, editor", role)
		}
	}
	return opts, nil
}

type roleStore interface {
	Roles(ctx context.Context, userID string) ([]domainauth.Role, error)
	Grant(ctx context.Context, userID string, role domainauth.Role) error
	Revoke(ctx context.Context, userID string, role domainauth.Role) error
}

func withRoleStore(cmdCtx *commandContext, fn func(ctx context.Context, store roleStore) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 30*time.Second)
	defer cancel()

	db, err := connectDB(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)

	return fn(ctx, authroles.NewPostgresResolver(db))
}

func runGrantRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseRoleFlags("grant-role", args, true)
	if err != nil {
		return err
	}
	return withRoleStore(cmdCtx, func(ctx context.Context, store roleStore) error {
		return grantRole(ctx, store, cmdCtx.Out, opts)
	})
}

func runRevokeRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseRoleFlags("revoke-role", args, true)
	if err != nil {
		return err
	}
	return withRoleStore(cmdCtx, func(ctx context.Context, store roleStore) error {
		return revokeRole(ctx, store, cmdCtx.Out, opts)
	})
}

func runListRoles(cmdCtx *commandContext, args []string) error {
	opts, err := parseRoleFlags("list-roles", args, false)
	if err != nil {
		return err
	}
	return withRoleStore(cmdCtx, func(ctx context.Context, store roleStore) error {
		return listRoles(ctx, store, cmdCtx.Out, opts.UserID)
	})
}

func grantRole(ctx context.Context, store roleStore, out io.Writer, opts roleOptions) error {
	if err := store.Grant(ctx, opts.UserID, opts.Role); err != nil {
		return fmt.Errorf("grant %s to %s: %w", opts.Role, opts.UserID, err)
	}
	if _, err := fmt.Fprintf(out, "granted %s to %s\n", opts.Role, opts.UserID); err != nil {
		return err
	}
	return listRoles(ctx, store, out, opts.UserID)
}

func revokeRole(ctx context.Context, store roleStore, out io.Writer, opts roleOptions) error {
	if err := store.Revoke(ctx, opts.UserID, opts.Role); err != nil {
		return fmt.Errorf("revoke %s from %s: %w", opts.Role, opts.UserID, err)
	}
	if _, err := fmt.Fprintf(out, "revoked %s from %s\n", opts.Role, opts.UserID); err != nil {
		return err
	}
	return listRoles(ctx, store, out, opts.UserID)
}

func listRoles(ctx context.Context, store roleStore, out io.Writer, userID string) error {
	roles, err := store.Roles(ctx, userID)
	if err != nil {
		return fmt.Errorf("list roles for %s: %w", userID, err)
	}

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	effective := "none (access denied)"
	if best, ok := domainauth.HighestRole(roles); ok {
		effective = string(best)
	}
	_, err = fmt.Fprintf(out, "user: %s\nroles: %s\neffective: %s\n", userID, strings.Join(names, ", "), effective)
	return err
}
