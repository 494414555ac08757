package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/brrr/internal/codec"
	"github.com/rzbill/brrr/internal/config"
	"github.com/rzbill/brrr/internal/demotasks"
	"github.com/rzbill/brrr/internal/engine"
	"github.com/rzbill/brrr/internal/queue"
	"github.com/rzbill/brrr/internal/queue/memqueue"
	"github.com/rzbill/brrr/internal/queue/pebblequeue"
	"github.com/rzbill/brrr/internal/store"
	"github.com/rzbill/brrr/internal/store/memstore"
	"github.com/rzbill/brrr/internal/store/pebblestore"
	logpkg "github.com/rzbill/brrr/pkg/log"
)

// backends holds an opened Store and Queue plus however they need to be
// torn down on exit. The memory backend has nothing to close; pebble's
// adapters own on-disk resources that must be released cleanly.
type backends struct {
	store store.Store
	queue queue.Queue
	close func() error
}

func openBackends(cfg config.Config) (*backends, error) {
	b := &backends{close: func() error { return nil }}

	switch cfg.StoreBackend {
	case "", "memory":
		b.store = memstore.New()
	case "pebble":
		storeDir := filepath.Join(cfg.DataDir, "store")
		if err := os.MkdirAll(storeDir, 0o755); err != nil {
			return nil, fmt.Errorf("brrr: creating store dir: %w", err)
		}
		s, err := pebblestore.Open(pebblestore.Options{DataDir: storeDir, Fsync: pebblestore.FsyncModeAlways})
		if err != nil {
			return nil, fmt.Errorf("brrr: opening pebble store: %w", err)
		}
		b.store = s
		prevClose := b.close
		b.close = func() error {
			err := s.Close()
			if cerr := prevClose(); err == nil {
				err = cerr
			}
			return err
		}
	default:
		return nil, fmt.Errorf("brrr: unknown store backend %q", cfg.StoreBackend)
	}

	switch cfg.QueueBackend {
	case "", "memory":
		b.queue = memqueue.New()
	case "pebble":
		queueDir := filepath.Join(cfg.DataDir, "queue")
		if err := os.MkdirAll(queueDir, 0o755); err != nil {
			return nil, fmt.Errorf("brrr: creating queue dir: %w", err)
		}
		q, err := pebblequeue.Open(queueDir)
		if err != nil {
			return nil, fmt.Errorf("brrr: opening pebble queue: %w", err)
		}
		b.queue = q
		prevClose := b.close
		b.close = func() error {
			err := q.Release()
			if cerr := prevClose(); err == nil {
				err = cerr
			}
			return err
		}
	default:
		return nil, fmt.Errorf("brrr: unknown queue backend %q", cfg.QueueBackend)
	}

	return b, nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("brrr: loading config: %w", err)
	}
	config.FromEnv(&cfg)

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.StoreBackend = v
	}
	if v, _ := cmd.Flags().GetString("queue"); v != "" {
		cfg.QueueBackend = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, nil
}

func newLogger(cfg config.Config) logpkg.Logger {
	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		logger = logpkg.NewLogger(logpkg.WithOutput(logpkg.NewConsoleOutput()))
	}
	logpkg.RedirectStdLog(logger)
	return logger
}

func newEngine(cfg config.Config, b *backends, logger logpkg.Logger) *engine.Engine {
	return engine.New(b.store, b.queue, codec.NaiveCodec{}, engine.Options{
		SpawnLimit:        cfg.SpawnLimit,
		CasRetryLimit:     cfg.CasRetryLimit,
		EmptyPollInterval: time.Duration(cfg.EmptyPollIntervalMS) * time.Millisecond,
		Logger:            logger,
	})
}

func main() {
	root := &cobra.Command{
		Use:   "brrr",
		Short: "brrr runs and inspects a durable recursive task-execution engine",
	}
	root.PersistentFlags().String("config", "", "Path to a JSON config file")
	root.PersistentFlags().String("data-dir", "", "Data directory for the pebble backends (default: OS-specific)")
	root.PersistentFlags().String("store", "", "Store backend: memory|pebble (default: memory)")
	root.PersistentFlags().String("queue", "", "Queue backend: memory|pebble (default: memory)")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error (default: info)")
	root.PersistentFlags().String("log-format", "", "Log format: text|json (default: text)")

	root.AddCommand(newWorkerCmd())
	root.AddCommand(newScheduleCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newTaskCmd())
	root.AddCommand(newMonitorCmd())
	root.AddCommand(newResetCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newWorkerCmd() *cobra.Command {
	workerCmd := &cobra.Command{Use: "worker", Short: "Worker loop operations"}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Drain the queue and execute task bodies until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			b, err := openBackends(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := b.close(); err != nil {
					logger.Error("error closing backends", logpkg.Err(err))
				}
			}()

			e := newEngine(cfg, b, logger)
			demotasks.Register(e)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("worker starting",
				logpkg.Str("store_backend", cfg.StoreBackend), logpkg.Str("queue_backend", cfg.QueueBackend))

			if err := engine.NewWorker(e).Run(ctx); err != nil {
				return fmt.Errorf("brrr: worker loop: %w", err)
			}
			return nil
		},
	}
	workerCmd.AddCommand(runCmd)
	return workerCmd
}

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <task> <json-args>",
		Short: "Schedule a root workflow for task(args), unless already scheduled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			b, err := openBackends(cfg)
			if err != nil {
				return err
			}
			defer b.close()

			e := newEngine(cfg, b, logger)
			demotasks.Register(e)

			taskName, argsJSON := args[0], []byte(args[1])
			if !json.Valid(argsJSON) {
				return fmt.Errorf("brrr: args must be valid JSON, got %q", args[1])
			}

			rootID, err := e.Schedule(cmd.Context(), taskName, argsJSON)
			if err != nil {
				return fmt.Errorf("brrr: schedule: %w", err)
			}
			if rootID == "" {
				fmt.Println("already scheduled")
				return nil
			}
			fmt.Println(rootID)
			return nil
		},
	}
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <task> <json-args>",
		Short: "Read the memoized result of task(args), if it has completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			b, err := openBackends(cfg)
			if err != nil {
				return err
			}
			defer b.close()

			e := newEngine(cfg, b, logger)
			demotasks.Register(e)

			taskName, argsJSON := args[0], []byte(args[1])
			if !json.Valid(argsJSON) {
				return fmt.Errorf("brrr: args must be valid JSON, got %q", args[1])
			}

			valueBytes, err := e.Read(cmd.Context(), taskName, argsJSON)
			if err != nil {
				return fmt.Errorf("brrr: read: %w", err)
			}
			fmt.Println(string(valueBytes))
			return nil
		},
	}
}

func newTaskCmd() *cobra.Command {
	taskCmd := &cobra.Command{Use: "task", Short: "Task registry operations"}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the tasks this binary's worker knows how to run",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := engine.New(memstore.New(), memqueue.New(), codec.NaiveCodec{}, engine.Options{})
			for _, name := range demotasks.Register(e).Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
	taskCmd.AddCommand(listCmd)
	return taskCmd
}

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Poll and print queue depth once a second until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			b, err := openBackends(cfg)
			if err != nil {
				return err
			}
			defer b.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					info, err := b.queue.GetInfo(ctx)
					if err != nil {
						logger.Error("monitor: GetInfo failed", logpkg.Err(err))
						continue
					}
					fmt.Printf("queue length: %d\n", info.Length)
				}
			}
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the on-disk data directory used by the pebble backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DataDir == "" {
				return fmt.Errorf("brrr: no data directory configured")
			}
			return os.RemoveAll(cfg.DataDir)
		},
	}
}
