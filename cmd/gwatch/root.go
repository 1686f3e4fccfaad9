package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gwatchdev/gwatch/internal/config"
	"github.com/gwatchdev/gwatch/internal/dashboard"
	"github.com/gwatchdev/gwatch/internal/gitdiff"
	"github.com/gwatchdev/gwatch/internal/review"
	"github.com/gwatchdev/gwatch/internal/session"
	"github.com/gwatchdev/gwatch/internal/watcher"
)

var (
	flagConfigDir  string
	flagDebounceMs int
	flagDashboard  bool
	flagPort       int
)

var rootCmd = &cobra.Command{
	Use:   "gwatch [path]",
	Short: "Watch a git repository and keep a live diff of every change",
	Long: `gwatch watches a git working tree, detects writes within tens of
milliseconds, and maintains a hunk-level diff of each changed file
against HEAD, the index, or between the two.

Diff results, the event history, and the per-file review markers are
exposed as session snapshots; run with --dashboard to broadcast them
over WebSocket to subscribed clients.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "",
		"configuration directory (default: OS config dir + /gwatch)")
	rootCmd.Flags().IntVar(&flagDebounceMs, "debounce", 0,
		"quiet period in milliseconds before a change is diffed (overrides config)")
	rootCmd.Flags().BoolVar(&flagDashboard, "dashboard", false,
		"serve session snapshots over WebSocket")
	rootCmd.Flags().IntVar(&flagPort, "port", 0,
		"dashboard port (overrides config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	cfg, v, err := config.Load(flagConfigDir, log.Default())
	if err != nil {
		return err
	}
	if flagDebounceMs > 0 {
		cfg.Watcher.DebounceMs = flagDebounceMs
	}
	if flagPort > 0 {
		cfg.Dashboard.Port = flagPort
	}
	if flagDashboard {
		cfg.Dashboard.Enabled = true
	}

	logger := log.New(&lumberjack.Logger{
		Filename:   cfg.LogPath(),
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}, "[gwatch] ", log.LstdFlags)

	engine, err := gitdiff.NewEngine(path, logger)
	if err != nil {
		return err
	}
	root := engine.Root()
	logger.Printf("Watching repository %s", root)

	store, err := review.Open(cfg.ReviewDBPath(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("Error closing review store: %v", err)
		}
	}()

	filter := watcher.NewPathFilter(root, cfg.Watcher.IgnorePatterns, logger)
	w, err := watcher.New(root, filter, logger)
	if err != nil {
		return err
	}

	deb := watcher.NewDebouncer(
		time.Duration(cfg.Watcher.DebounceMs)*time.Millisecond,
		cfg.Watcher.MaxEventsBuffer,
		logger,
	)

	sess := session.New(session.Config{
		MaxEvents:    cfg.Watcher.MaxEventsBuffer,
		ContextLines: cfg.Display.ContextLines,
		Review:       store,
		Logger:       logger,
	})

	runner := session.NewRunner(session.RunnerConfig{
		Watcher:  w,
		Debounce: deb,
		Engine:   engine,
		Session:  sess,
		Logger:   logger,
	})

	if cfg.Dashboard.Enabled {
		dash := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Root:   root,
			Logger: logger,
		})
		if err := dash.Start(); err != nil {
			return err
		}
		defer func() {
			if err := dash.Stop(); err != nil {
				logger.Printf("Error stopping dashboard: %v", err)
			}
		}()
		runner.OnUpdate = dash.PublishSnapshot
	}

	// Config file edits apply to the running session without a restart.
	config.Watch(v, logger, func(updated *config.Config) {
		deb.SetQuietPeriod(time.Duration(updated.Watcher.DebounceMs) * time.Millisecond)
		sess.SetMaxEvents(updated.Watcher.MaxEventsBuffer)
		sess.SetContextLines(updated.Display.ContextLines)
		filter.SetPatterns(updated.Watcher.IgnorePatterns, logger)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runner.Run(ctx)
}
