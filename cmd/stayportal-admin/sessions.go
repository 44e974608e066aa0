package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	redisadapter "github.com/darstays/stayportal/internal/adapters/redis"
	"github.com/darstays/stayportal/internal/bootstrap"
)

type clearSessionsOptions struct {
	BrowserID string
	All       bool
	DryRun    bool
	Yes       bool
	Timeout   time.Duration
}

// sessionAdmin is the subset of the Redis token store clear-sessions uses.
type sessionAdmin interface {
	Browsers(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, browserID string) error
	DeleteAll(ctx context.Context) (int, error)
}

func runClearSessions(cmdCtx *commandContext, args []string) error {
	opts, err := parseClearSessionsFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	redisClient, err := bootstrap.ConnectRedis(ctx, cmdCtx.Config.Redis, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	store := redisadapter.NewTokenStore(redisClient, redisadapter.WithPrefix(cmdCtx.Config.Redis.SessionPrefix))
	return clearSessions(ctx, cmdCtx.Out, store, opts)
}

func clearSessions(ctx context.Context, w io.Writer, store sessionAdmin, opts clearSessionsOptions) error {
	if !opts.All {
		if opts.DryRun {
			return writef(w, "would delete session for browser %s\n", opts.BrowserID)
		}
		if err := store.Delete(ctx, opts.BrowserID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return writef(w, "deleted session for browser %s\n", opts.BrowserID)
	}

	if opts.DryRun {
		ids, err := store.Browsers(ctx)
		if err != nil {
			return err
		}
		if err := writef(w, "would delete %d sessions\n", len(ids)); err != nil {
			return err
		}
		for _, id := range ids {
			if err := writef(w, "  %s\n", id); err != nil {
				return err
			}
		}
		return nil
	}

	n, err := store.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return writef(w, "deleted %d sessions\n", n)
}

func parseClearSessionsFlags(args []string) (clearSessionsOptions, error) {
	fs := flag.NewFlagSet("clear-sessions", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts clearSessionsOptions
	fs.StringVar(&opts.BrowserID, "browser", "", "Browser id (browser_id cookie value) to sign out")
	fs.BoolVar(&opts.All, "all", false, "Delete every persisted session (signs out every browser)")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Print what would be deleted")
	fs.BoolVar(&opts.Yes, "yes", false, "Confirm deleting every session with --all")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration for the command")

	if err := fs.Parse(args); err != nil {
		return clearSessionsOptions{}, err
	}

	opts.BrowserID = strings.TrimSpace(opts.BrowserID)
	switch {
	case opts.All && opts.BrowserID != "":
		return clearSessionsOptions{}, errors.New("--browser and --all are mutually exclusive")
	case !opts.All && opts.BrowserID == "":
		return clearSessionsOptions{}, errors.New("one of --browser or --all is required")
	case opts.All && !opts.DryRun && !opts.Yes:
		return clearSessionsOptions{}, errors.New("--all requires --yes (or --dry-run)")
	}
	if opts.Timeout <= 0 {
		return clearSessionsOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}
