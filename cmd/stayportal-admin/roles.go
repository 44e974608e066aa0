package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/darstays/stayportal/internal/adapters/devauth"
	"github.com/darstays/stayportal/internal/bootstrap"
	"github.com/darstays/stayportal/internal/data"
	domainauth "github.com/darstays/stayportal/internal/domain/auth"
	apperrors "github.com/darstays/stayportal/internal/errors"
)

// roleAdmin is the subset of data.RoleRepo the role commands use.
type roleAdmin interface {
	RoleFor(ctx context.Context, userID string) (domainauth.Role, bool, error)
	Grant(ctx context.Context, userID string, role domainauth.Role) (*data.RoleAssignment, error)
	Revoke(ctx context.Context, userID string) error
	List(ctx context.Context) ([]data.RoleAssignment, error)
}

type migrateOptions struct {
	Timeout time.Duration
	Pending bool
}

type subjectOptions struct {
	UserID   string
	DevEmail string
	Role     string
	Timeout  time.Duration
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)

	if opts.Pending {
		versions, pendingErr := data.PendingMigrations(ctx, db)
		if pendingErr != nil {
			return fmt.Errorf("list pending migrations: %w", pendingErr)
		}
		return printPending(cmdCtx.Out, versions)
	}

	cmdCtx.Logger.Info("running database migrations")

	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func printPending(w io.Writer, versions []string) error {
	if len(versions) == 0 {
		return writeln(w, "schema is up to date")
	}
	for _, v := range versions {
		if err := writeln(w, v); err != nil {
			return err
		}
	}
	return nil
}

func runGrantRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseSubjectFlags("grant-role", args, true)
	if err != nil {
		return err
	}
	return withRoleRepo(cmdCtx, opts.Timeout, func(ctx context.Context, repo roleAdmin) error {
		return grantRole(ctx, cmdCtx.Out, repo, opts)
	})
}

func runRevokeRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseSubjectFlags("revoke-role", args, false)
	if err != nil {
		return err
	}
	return withRoleRepo(cmdCtx, opts.Timeout, func(ctx context.Context, repo roleAdmin) error {
		return revokeRole(ctx, cmdCtx.Out, repo, opts)
	})
}

func runShowRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseSubjectFlags("show-role", args, false)
	if err != nil {
		return err
	}
	return withRoleRepo(cmdCtx, opts.Timeout, func(ctx context.Context, repo roleAdmin) error {
		return showRole(ctx, cmdCtx.Out, repo, opts)
	})
}

func runListRoles(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-roles", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	timeout := fs.Duration("timeout", defaultCommandTimeout, "Maximum duration for the query")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withRoleRepo(cmdCtx, *timeout, func(ctx context.Context, repo roleAdmin) error {
		return listRoles(ctx, cmdCtx.Out, repo)
	})
}

func grantRole(ctx context.Context, w io.Writer, repo roleAdmin, opts subjectOptions) error {
	role, ok := domainauth.ParseRole(strings.ToLower(opts.Role))
	if !ok {
		return apperrors.ValidationField("role", fmt.Sprintf("unknown role %q (valid: %s)", opts.Role, roleNames()))
	}
	userID, err := opts.subject()
	if err != nil {
		return err
	}
	assignment, err := repo.Grant(ctx, userID, role)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return writef(w, "granted %s to %s at %s\n",
		assignment.Role, assignment.UserID, assignment.GrantedAt.UTC().Format(time.RFC3339))
}

func revokeRole(ctx context.Context, w io.Writer, repo roleAdmin, opts subjectOptions) error {
	userID, err := opts.subject()
	if err != nil {
		return err
	}
	if err := repo.Revoke(ctx, userID); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return writef(w, "revoked role from %s\n", userID)
}

func showRole(ctx context.Context, w io.Writer, repo roleAdmin, opts subjectOptions) error {
	userID, err := opts.subject()
	if err != nil {
		return err
	}
	role, ok, err := repo.RoleFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup role: %w", err)
	}
	if !ok {
		return writef(w, "%s: guest (no role row)\n", userID)
	}
	return writef(w, "%s: %s (%s tier)\n", userID, role, role.Tier())
}

func listRoles(ctx context.Context, w io.Writer, repo roleAdmin) error {
	rows, err := repo.List(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return writeln(w, "no role assignments")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "USER ID\tROLE\tTIER\tGRANTED AT"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := writef(tw, "%s\t%s\t%s\t%s\n",
			row.UserID, row.Role, row.Role.Tier(), row.GrantedAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	return tw.Flush()
}

func (o subjectOptions) subject() (string, error) {
	if o.DevEmail != "" {
		return devauth.IDFor(o.DevEmail), nil
	}
	if _, err := uuid.Parse(o.UserID); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeValidation, "--user must be a UUID")
	}
	return strings.ToLower(o.UserID), nil
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)
	fs.BoolVar(&opts.Pending, "pending", false, "List unapplied migrations without applying them")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseSubjectFlags(name string, args []string, wantRole bool) (subjectOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts subjectOptions
	fs.StringVar(&opts.UserID, "user", "", "User id (UUID) issued by the auth backend")
	fs.StringVar(&opts.DevEmail, "dev-email", "", "Dev account email (AUTH_MODE=mock); derives the user id")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the command")
	if wantRole {
		fs.StringVar(&opts.Role, "role", "", "Role to grant: "+roleNames())
	}

	if err := fs.Parse(args); err != nil {
		return subjectOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	opts.DevEmail = strings.TrimSpace(opts.DevEmail)
	switch {
	case opts.UserID == "" && opts.DevEmail == "":
		return subjectOptions{}, errors.New("one of --user or --dev-email is required")
	case opts.UserID != "" && opts.DevEmail != "":
		return subjectOptions{}, errors.New("--user and --dev-email are mutually exclusive")
	}
	if wantRole && strings.TrimSpace(opts.Role) == "" {
		return subjectOptions{}, errors.New("--role is required")
	}
	if opts.Timeout <= 0 {
		return subjectOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func roleNames() string {
	roles := domainauth.AllRoles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func withRoleRepo(cmdCtx *commandContext, timeout time.Duration, fn func(context.Context, roleAdmin) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := connectDB(cmdCtx)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)

	return fn(ctx, data.NewRoleRepo(db))
}

func connectDB(cmdCtx *commandContext) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(cmdCtx.Ctx, cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

func closeDB(cmdCtx *commandContext, db *sql.DB) {
	if closeErr := db.Close(); closeErr != nil {
		cmdCtx.Logger.Warn("db close failed", "error", closeErr)
	}
}
