// Package cli implements engram's command-line surface: one file per
// command, each wiring the already-built config/store/gitutil/chunker/
// dispatch/bootstrap/server packages into a runnable operation. Every
// command returns a single human-readable line and a non-zero exit code
// on failure, per spec.md §7.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/bootstrap"
	"github.com/rajeshgoli/engram/internal/chunker"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/dispatch"
	"github.com/rajeshgoli/engram/internal/drift"
	"github.com/rajeshgoli/engram/internal/gitutil"
	"github.com/rajeshgoli/engram/internal/ids"
	"github.com/rajeshgoli/engram/internal/server"
	"github.com/rajeshgoli/engram/internal/statemirror"
	"github.com/rajeshgoli/engram/internal/store"
)

// RootOptions holds flags shared by every subcommand.
type RootOptions struct {
	ConfigPath  string
	ProjectRoot string
	Format      string
	Verbose     bool
}

// NewRootCommand builds the engram cobra command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "engram",
		Short:         "engram maintains a project's living knowledge docs",
		Long:          "engram folds issues, documents, and session history into living knowledge docs, one chunk at a time.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config.yaml (default: .engram/config.yaml under --project-root)")
	cmd.PersistentFlags().StringVar(&opts.ProjectRoot, "project-root", "", "project root to resolve --config against (default: current directory)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format: text or json")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newBuildQueueCommand(opts))
	cmd.AddCommand(newNextChunkCommand(opts))
	cmd.AddCommand(newClearActiveChunkCommand(opts))
	cmd.AddCommand(newLintCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newFoldCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

// app bundles every object a command might need, built once from the
// loaded config. Commands construct only the pieces they use; the rest
// are cheap structs holding no open resources until Store is opened.
type app struct {
	cfg    *config.Config
	store  *store.Store
	repo   *gitutil.Repository
	logger *slog.Logger

	scanner *drift.Scanner
	alloc   *ids.Allocator
	sched   *chunker.Scheduler
	dispatcher *dispatch.Dispatcher
	mirror  statemirror.Backend
}

// loadConfig resolves opts.ConfigPath (or, when empty, .engram/config.yaml
// under opts.ProjectRoot or the current directory; parent directories are
// not searched) and parses it.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		root := opts.ProjectRoot
		if root == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("cli: getwd: %w", err)
			}
			root = cwd
		}
		path = filepath.Join(root, config.DefaultRelPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(opts *RootOptions) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openApp loads config, opens the store, and wires every downstream
// component. Callers must call app.Close() when done.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(opts)

	s, err := store.Open(ctx, filepath.Join(cfg.EngramDir(), "state.db"), logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open state store", err)
	}

	repo := gitutil.NewRepository(cfg.ProjectRoot)
	scanner := drift.New(repo, logger)
	alloc := ids.New(s)
	sched := chunker.New(s, scanner, alloc, repo, cfg)
	d := dispatch.New(s, sched, cfg, logger)

	mirror, err := statemirror.BuildFromDSN(cfg.Dispatch.StateBackendDSN)
	if err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build state mirror backend", err)
	}

	return &app{cfg: cfg, store: s, repo: repo, logger: logger, scanner: scanner, alloc: alloc, sched: sched, dispatcher: d, mirror: mirror}, nil
}

func (a *app) Close() error {
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	return a.store.Close()
}

func (a *app) bootstrapController() *bootstrap.Controller {
	return bootstrap.New(a.store, a.dispatcher, a.repo, a.cfg, a.logger)
}

func (a *app) serverLoop() *server.Loop {
	loop := server.New(a.store, a.dispatcher, a.scanner, a.repo, a.cfg, a.logger)
	if a.mirror != nil {
		loop.SetMirror(a.mirror)
	}
	return loop
}
