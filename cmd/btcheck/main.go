// btcheck creates files through a CephFS client, forces the MDS to flush,
// optionally kills it at chosen code points, and checks the backtrace
// ("parent" xattr) stored on each file's first object.
//
// Usage:
//
//	btcheck [scenario] [--config <file>] [--keep-going] [--continue-on-error] [--repeat N] [--json <file>]
//	btcheck list
//	btcheck history [--limit N] [--stats]
//	btcheck recheck <run-id> [--prune]
//	btcheck serve [--addr <addr>]
//
// The librados store and the libcephfs client are linked only with
// "go build -tags ceph", which needs cgo and the Ceph development headers.
// Without the tag use store.type rados-cli or xattr-dir and the posix client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fsprobe/btcheck/pkg/config"
	"github.com/fsprobe/btcheck/pkg/harness"
	"github.com/fsprobe/btcheck/pkg/metrics"
	"github.com/fsprobe/btcheck/pkg/scenario"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// Global flags
var (
	configPath      string
	logLevel        string
	keepGoing       bool
	continueOnError bool
	repeat          int
	jsonOutput      string
)

// errScenariosFailed makes the process exit non-zero without repeating the
// per-scenario errors already logged.
var errScenariosFailed = errors.New("one or more scenarios failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errScenariosFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "btcheck [scenario]",
	Short: "Verify CephFS backtraces after flushes and MDS failures",
	Long: `btcheck runs numbered scenarios against a CephFS cluster. Each scenario
creates a three-level path, forces the MDS journal out (optionally killing the
MDS at an injected fault point first), then reads the "parent" xattr of the
file's first RADOS object, decodes it with ceph-dencoder and compares it with
the ancestry the filesystem reported.

With no argument every enabled scenario runs in order; with an index only that
scenario runs.`,
	Version:       fmt.Sprintf("%s (commit: %s)", Version, Commit),
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE: runScenarios,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: built-in vstart settings)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.Flags().BoolVar(&keepGoing, "keep-going", false, "Continue after a verification failure")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Continue after any scenario error")
	rootCmd.Flags().IntVar(&repeat, "repeat", 0, "Run the selection N times (overrides run.repeat)")
	rootCmd.Flags().StringVar(&jsonOutput, "json", "", "Write the run summary to a JSON file")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(recheckCmd)
	rootCmd.AddCommand(serveCmd)
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// applyFlags lets command-line flags override the run section.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("keep-going") {
		cfg.Run.KeepGoing = keepGoing
	}
	if cmd.Flags().Changed("continue-on-error") {
		cfg.Run.ContinueOnError = continueOnError
	}
	if cmd.Flags().Changed("repeat") {
		cfg.Run.Repeat = repeat
	}
	if jsonOutput != "" {
		cfg.Report.SummaryPath = jsonOutput
	}
	return cfg.Validate()
}

func parseSelector(args []string) (*int, error) {
	if len(args) == 0 {
		return nil, nil
	}
	i, err := strconv.Atoi(args[0])
	if err != nil || i < 0 {
		return nil, fmt.Errorf("scenario must be a non-negative integer, got %q", args[0])
	}
	return &i, nil
}

func runScenarios(cmd *cobra.Command, args []string) error {
	selector, err := parseSelector(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		stopMetrics := make(chan struct{})
		defer close(stopMetrics)
		go func() {
			if err := metrics.MetricsServer(cfg.Metrics.Addr, stopMetrics); err != nil {
				log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server failed")
			}
		}()
	}

	stack, err := harness.New(ctx, cfg, cephOptions()...)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Warn().Err(err).Msg("cleanup failed")
		}
	}()

	env, err := stack.Env(ctx)
	if err != nil {
		return err
	}
	observers, err := stack.Observers(ctx)
	if err != nil {
		return err
	}

	runner := scenario.NewRunner(scenario.Builtins(), env, stack.RunOptions(), observers...)
	log.Info().Str("run", runner.RunID()).Str("mds", cfg.MDS.Name).
		Str("store", stack.Store.Type()).Msg("starting run")

	sum, err := runner.Run(ctx, selector)
	if err != nil {
		return err
	}

	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Warn().Err(err).Msg("failed to write metrics textfile")
		}
	}
	printSummary(sum)

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted: %w", ctx.Err())
	}
	if !sum.OK() {
		return errScenariosFailed
	}
	return nil
}

func printSummary(sum *scenario.Summary) {
	counts := sum.Counts()
	fmt.Printf("\nRun %s: %d passed, %d failed, %d errors, %d skipped\n",
		sum.RunID, counts[scenario.StatusPassed], counts[scenario.StatusFailed],
		counts[scenario.StatusError], counts[scenario.StatusSkipped])
	for _, r := range sum.Failures() {
		fmt.Printf("  [%s] round %d test %d (%s): %v\n", r.Status, r.Round, r.Index, r.Name, r.Err)
	}
	if sum.Halted {
		fmt.Println("  (stopped early; use --keep-going or --continue-on-error to run the rest)")
	}
}
