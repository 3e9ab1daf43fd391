package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tomasbasham/tierload"
	"github.com/tomasbasham/tierload/promhook"
)

var (
	configPath string // YAML config file
	flushOrder int    // Number of flushes printed in order
	linger     bool   // Keep serving metrics after the run

	flagValues = DefaultConfig()
	priorities []int
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "tierload-sim",
	Short: "Simulate priority-ordered batch loading",
}

// runCmd executes a simulation using the config file and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the load simulation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd.Flags())
		if err != nil {
			return err
		}

		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger := logrus.New()
		logger.SetLevel(level)
		logger.SetOutput(cmd.ErrOrStderr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var hook tierload.MetricsHook
		metricsDone := make(chan error, 1)
		serveCtx, stopServing := context.WithCancel(ctx)
		defer stopServing()

		if cfg.MetricsAddr != "" {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			hook = promhook.New(reg)

			go func() { metricsDone <- serveMetrics(serveCtx, cfg.MetricsAddr, reg, logger) }()
		} else {
			metricsDone <- nil
		}

		logger.WithFields(logrus.Fields{
			"max_priority": cfg.MaxPriority,
			"window":       cfg.Window,
			"workers":      cfg.Workers,
			"loads":        cfg.Loads,
		}).Info("starting simulation")

		report, err := Simulate(ctx, cfg, logger, hook)
		if err != nil {
			return err
		}
		if err := report.Print(cmd.OutOrStdout(), flushOrder); err != nil {
			return err
		}

		if !linger {
			stopServing()
		}
		return <-metricsDone
	},
}

// resolveConfig layers the config file, if any, over the defaults and then
// applies every flag set explicitly.
func resolveConfig(flags *pflag.FlagSet) (Config, error) {
	cfg := DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = LoadConfig(configPath, cfg); err != nil {
			return Config{}, err
		}
	}

	if flags.Changed("max-priority") {
		cfg.MaxPriority = flagValues.MaxPriority
	}
	if flags.Changed("window") {
		cfg.Window = flagValues.Window
	}
	if flags.Changed("max-batch-size") {
		cfg.MaxBatchSize = flagValues.MaxBatchSize
	}
	if flags.Changed("workers") {
		cfg.Workers = flagValues.Workers
	}
	if flags.Changed("loads") {
		cfg.Loads = flagValues.Loads
	}
	if flags.Changed("keys") {
		cfg.Keys = flagValues.Keys
	}
	if flags.Changed("priorities") {
		cfg.Priorities = nil
		for _, p := range priorities {
			cfg.Priorities = append(cfg.Priorities, tierload.Priority(p))
		}
	}
	if flags.Changed("seed") {
		cfg.Seed = flagValues.Seed
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagValues.LogLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = flagValues.MetricsAddr
	}

	return cfg, cfg.Validate()
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	runCmd.Flags().IntVar(&flushOrder, "flush-order", 50, "Number of flushes printed in dispatch order")
	runCmd.Flags().BoolVar(&linger, "linger", false, "Keep serving metrics until interrupted")

	// Scheduler
	runCmd.Flags().IntVar((*int)(&flagValues.MaxPriority), "max-priority", int(flagValues.MaxPriority), "Priority ceiling; higher priorities share the ceiling tier")
	runCmd.Flags().DurationVar(&flagValues.Window, "window", flagValues.Window, "Delay before a sweep runs")
	runCmd.Flags().IntVar(&flagValues.MaxBatchSize, "max-batch-size", 0, "Maximum keys per tier batch (0 for unlimited)")

	// Workload
	runCmd.Flags().IntVar(&flagValues.Workers, "workers", flagValues.Workers, "Number of concurrent workers")
	runCmd.Flags().IntVar(&flagValues.Loads, "loads", flagValues.Loads, "Total number of loads")
	runCmd.Flags().IntVar(&flagValues.Keys, "keys", flagValues.Keys, "Number of distinct keys per tier")
	runCmd.Flags().IntSliceVar(&priorities, "priorities", nil, "Priorities loads are spread over (default every priority up to the ceiling)")
	runCmd.Flags().Uint64Var(&flagValues.Seed, "seed", flagValues.Seed, "Seed for random load generation")

	runCmd.Flags().StringVar(&flagValues.LogLevel, "log-level", flagValues.LogLevel, "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&flagValues.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
