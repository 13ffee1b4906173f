package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/drift/internal/config"
	"github.com/bamsammich/drift/internal/filter"
	"github.com/bamsammich/drift/internal/ledger"
	"github.com/bamsammich/drift/internal/monitor"
	"github.com/bamsammich/drift/internal/stats"
	"github.com/bamsammich/drift/internal/traversal"
)

var version = "dev"

func main() {
	os.Exit(run())
}

type options struct {
	roots      []string
	stateDir   string
	interval   time.Duration
	maxBatch   int
	filters    []string
	poll       time.Duration
	once       bool
	reset      bool
	verbose    bool
	quiet      bool
	configPath string
}

func run() int {
	opts := options{}

	root := &cobra.Command{
		Use:     "drift",
		Short:   "Watch directory trees and emit a durable, resumable change feed",
		Version: version,
		Long: `drift continuously scans directory trees, detects added, deleted, and
modified entries by diffing numbered snapshots, and emits each change
exactly once per confirmed checkpoint on stdout as JSON lines. State
survives restarts: an interrupted feed resumes from the last confirmed
checkpoint without losing or duplicating changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return watch(cmd.Context(), opts, cmd.Flags())
		},
	}

	flags := root.Flags()
	flags.StringArrayVar(&opts.roots, "root", nil, "directory tree to monitor (repeatable)")
	flags.StringVar(&opts.stateDir, "state-dir", "", "directory for snapshots, recovery files, and the checkpoint ledger")
	flags.DurationVar(&opts.interval, "interval", monitor.DefaultScanInterval, "pause between scan cycles per root")
	flags.IntVar(&opts.maxBatch, "max-batch", 0, "maximum changes per delivered batch")
	flags.StringArrayVar(&opts.filters, "filter", nil, "filter rule ('+ pat' include, '- pat' or bare exclude; repeatable)")
	flags.DurationVar(&opts.poll, "poll", 2*time.Second, "pause between batch pulls")
	flags.BoolVar(&opts.once, "once", false, "drain the currently known changes and exit")
	flags.BoolVar(&opts.reset, "reset", false, "discard all persisted state and rescan from the beginning")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "errors only")
	flags.StringVar(&opts.configPath, "config", "", "config file (default: XDG config path)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("drift failed", "error", err)
		return 1
	}
	return 0
}

func setupLogging(opts options) {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	if opts.quiet {
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With("run", uuid.NewString()[:8]))
}

// loadOptions merges the config file under the command-line flags. A flag
// the user actually set always wins over the file.
func loadOptions(opts options, flags *pflag.FlagSet) (options, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return opts, err
	}

	if len(opts.roots) == 0 {
		opts.roots = cfg.Watch.Roots
	}
	if len(opts.roots) == 0 {
		return opts, errors.New("no roots to monitor (use --root or the config file)")
	}
	for i, r := range opts.roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return opts, fmt.Errorf("resolve root %s: %w", r, err)
		}
		opts.roots[i] = abs
	}

	if opts.stateDir == "" {
		if cfg.Watch.StateDir != nil {
			opts.stateDir = *cfg.Watch.StateDir
		} else {
			opts.stateDir = defaultStateDir()
		}
	}
	if len(opts.filters) == 0 {
		opts.filters = cfg.Watch.Filters
	}
	if !flags.Changed("max-batch") && cfg.Queue.MaxBatch != nil {
		opts.maxBatch = *cfg.Queue.MaxBatch
	}
	if !flags.Changed("interval") {
		opts.interval, err = cfg.ParseInterval(opts.interval)
		if err != nil {
			return opts, fmt.Errorf("config interval: %w", err)
		}
	}
	return opts, nil
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "drift")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "drift")
	}
	return filepath.Join(home, ".local", "state", "drift")
}

func watch(ctx context.Context, opts options, flags *pflag.FlagSet) error {
	setupLogging(opts)

	opts, err := loadOptions(opts, flags)
	if err != nil {
		return err
	}

	filters, err := filter.FromRules(opts.filters)
	if err != nil {
		return err
	}

	collector := &stats.Collector{}
	mgr, err := monitor.NewManager(monitor.Config{
		Roots:        opts.roots,
		StateDir:     opts.stateDir,
		Lister:       &monitor.FSLister{Filters: filters},
		ScanInterval: opts.interval,
		Stats:        collector,
	})
	if err != nil {
		return err
	}
	defer mgr.Stop()

	led, err := ledger.Open(filepath.Join(opts.stateDir, "ledger"), opts.roots)
	if err != nil {
		return err
	}
	defer led.Close()

	svc := traversal.NewService(mgr)
	tr := svc.Traverser()
	if opts.maxBatch > 0 {
		if err := tr.SetBatchHint(opts.maxBatch); err != nil {
			return err
		}
	}

	token := ""
	if opts.reset {
		slog.Info("resetting persisted state")
		if err := led.Remove(); err != nil && !os.IsNotExist(err) {
			return err
		}
		if _, err := tr.StartTraversal(); err != nil {
			return err
		}
	} else if saved, ok, loadErr := led.Load(); loadErr != nil {
		return loadErr
	} else if ok {
		token = saved
		slog.Info("resuming from saved checkpoint", "checkpoint", token)
	}

	out := json.NewEncoder(os.Stdout)
	emptyBatches := 0

	for {
		batch, err := tr.ResumeTraversal(token)
		if err != nil {
			return err
		}
		for _, entry := range batch.Entries {
			if err := out.Encode(entry); err != nil {
				return fmt.Errorf("emit change: %w", err)
			}
		}
		collector.AddBatchesDelivered(1)
		collector.AddChangesDelivered(int64(len(batch.Entries)))

		if next, ok := batch.Checkpoint(); ok {
			if err := led.Save(next); err != nil {
				return err
			}
			token = next
			emptyBatches = 0
		} else {
			emptyBatches++
		}

		// --once drains what the monitors have already found: stop after
		// the feed stays empty for a couple of pulls.
		if opts.once && emptyBatches >= 3 {
			break
		}

		select {
		case <-ctx.Done():
			logSummary(collector)
			return nil
		case <-time.After(opts.poll):
		}
	}

	logSummary(collector)
	return nil
}

func logSummary(collector *stats.Collector) {
	s := collector.Snapshot()
	slog.Info("watch summary",
		"cycles", s.CyclesCompleted,
		"records_scanned", s.RecordsScanned,
		"changes", s.TotalChanges(),
		"delivered", s.ChangesDelivered,
		"batches", s.BatchesDelivered,
	)
}
