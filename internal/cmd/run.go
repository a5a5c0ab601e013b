package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/harrison/ingestagent/internal/config"
	"github.com/harrison/ingestagent/internal/filelock"
	"github.com/harrison/ingestagent/internal/logger"
	"github.com/harrison/ingestagent/internal/metrics"
	"github.com/harrison/ingestagent/internal/mover"
	"github.com/harrison/ingestagent/internal/recorder"
	"github.com/harrison/ingestagent/internal/scanner"
	"github.com/harrison/ingestagent/internal/scheduler"
	"github.com/harrison/ingestagent/internal/seen"
	"github.com/harrison/ingestagent/internal/server"
	"github.com/harrison/ingestagent/internal/store"
	"github.com/harrison/ingestagent/internal/store/driver"
)

// runOptions are the run flags that do not live in the config file.
type runOptions struct {
	once   bool
	dryRun bool
}

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the ingestion agent",
		Long: `Start the ingestion agent.

Each round lists every watched directory, validates new files, moves the
valid ones into the destination directory and records one outcome per
file. Rounds repeat every poll interval until SIGINT or SIGTERM; the round
in progress is always finished first.

Examples:
  ingestagent run --config /etc/ingestagent/site.yaml
  ingestagent run --profile "Channel Four" --once
  ingestagent run --dry-run --log-level debug`,
		Args: cobra.NoArgs,
		RunE: runCommand,
	}

	cmd.Flags().Bool("once", false, "Run a single round and exit")
	cmd.Flags().Bool("dry-run", false, "Validate and log without moving or recording")
	cmd.Flags().Int("interval", 0, "Poll interval in seconds (overrides config)")
	cmd.Flags().String("log-dir", "", "Directory for log files (overrides config)")

	return cmd
}

func runCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, func(cfg *config.Config) error {
		var intervalPtr *int
		if cmd.Flags().Changed("interval") {
			interval, _ := cmd.Flags().GetInt("interval")
			intervalPtr = &interval
		}
		var logDirPtr *string
		if cmd.Flags().Changed("log-dir") {
			logDir, _ := cmd.Flags().GetString("log-dir")
			logDirPtr = &logDir
		}
		cfg.MergeWithFlags(intervalPtr, nil, logDirPtr)
		return nil
	})
	if err != nil {
		return err
	}

	var opts runOptions
	opts.once, _ = cmd.Flags().GetBool("once")
	opts.dryRun, _ = cmd.Flags().GetBool("dry-run")

	log, closeLog, err := newLogger(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runAgent(ctx, cfg, opts, log, cmd.OutOrStdout())
}

// runAgent wires the pipeline from cfg and runs it until ctx is cancelled,
// or for one round with opts.once.
func runAgent(ctx context.Context, cfg *config.Config, opts runOptions, log logger.Logger, out io.Writer) error {
	rules, err := cfg.WatchRules()
	if err != nil {
		return err
	}

	lock, err := filelock.Acquire(cfg.LockPath())
	if err != nil {
		return fmt.Errorf("another agent is using this configuration: %w", err)
	}
	defer lock.Unlock()

	st, err := driver.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	timeout := cfg.Storage.Timeout()
	var rec *recorder.Recorder
	if !opts.dryRun {
		rec = recorder.New(st, timeout, log, m)
		report, err := rec.Reconcile(ctx)
		if err != nil {
			log.LogError("reconcile failed, continuing", "error", err)
		} else if report != (recorder.ReconcileReport{}) {
			log.LogInfo("reconciled move journal", "recovered", report.Recovered, "dropped", report.Dropped, "failed", report.Failed)
		}
	}

	set, err := seen.New(cfg.SeenCacheSize, st, timeout, log)
	if err != nil {
		return err
	}

	crossDevice, err := mover.ParseCrossDevicePolicy(cfg.CrossDevice)
	if err != nil {
		return err
	}
	policy, err := scheduler.ParsePolicy(cfg.Schedule)
	if err != nil {
		return err
	}

	pipeline, err := scheduler.NewPipeline(scheduler.PipelineConfig{
		Destination: cfg.Destination,
		Scan: scanner.Options{
			Settle:       cfg.Settle(),
			TempSuffixes: cfg.TempSuffixes,
		},
		Mover:    mover.New(crossDevice),
		Recorder: rec,
		Seen:     set,
		Logger:   log,
		Metrics:  m,
		DryRun:   opts.dryRun,
	})
	if err != nil {
		return err
	}

	schedCfg := scheduler.Config{
		Rules:       rules,
		Destination: cfg.Destination,
		Interval:    cfg.PollInterval(),
		Policy:      policy,
		MaxParallel: cfg.MaxParallelRules,
		Logger:      log,
		Metrics:     m,
	}

	if cfg.WatchEvents && !opts.once {
		dirs := make([]string, len(rules))
		for i, r := range rules {
			dirs[i] = r.Directory
		}
		w, err := scheduler.NewWatcher(dirs, scheduler.WakeDebounce(cfg.Settle()), log)
		if err != nil {
			log.LogWarn("filesystem events unavailable, polling only", "error", err)
		} else {
			defer w.Close()
			go w.Run(ctx)
			schedCfg.Wake = w.Wake()
		}
	}

	sched, err := scheduler.New(schedCfg, pipeline)
	if err != nil {
		return err
	}

	if cfg.MetricsListen != "" && !opts.once {
		srv := server.New(cfg.MetricsListen, reg, m, cfg.PollInterval(), log)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.LogError("status server failed", "addr", cfg.MetricsListen, "error", err)
			}
		}()
	}

	if opts.once {
		stats, err := sched.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Round %s: scanned %d, moved %d, rejected %d, move failures %d, record failures %d\n",
			stats.RoundID, stats.Scanned, stats.Moved, stats.Rejected, stats.MoveFailed, stats.RecordFailed)
		return nil
	}

	return sched.Run(ctx)
}

// openStore loads the store named in cfg for the read-only subcommands.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	return driver.Open(ctx, cfg.Storage)
}
