package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fsprobe/btcheck/pkg/artifacts"
	"github.com/fsprobe/btcheck/pkg/backend"
	"github.com/fsprobe/btcheck/pkg/backtrace"
	"github.com/fsprobe/btcheck/pkg/control"
	"github.com/fsprobe/btcheck/pkg/history"
	"github.com/fsprobe/btcheck/pkg/proc"
	"github.com/fsprobe/btcheck/pkg/scenario"
)

var (
	historyLimit int
	historyStats bool
	recheckPrune bool
	serveAddr    string
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "Show per-scenario pass/fail counts instead of runs")
	recheckCmd.Flags().BoolVar(&recheckPrune, "prune", false, "Delete the captures of failures that now verify")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tNAME\tSTATE\tDESCRIPTION")
		for _, s := range scenario.Builtins().List() {
			state := "enabled"
			if s.Disabled {
				state = "disabled: " + s.DisabledReason
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Index, s.Name, state, s.Description)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show previous runs recorded in history.path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.History.Path == "" {
			return fmt.Errorf("history.path is not configured")
		}
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if historyStats {
			stats, err := store.ScenarioStats()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "INDEX\tNAME\tRUNS\tPASSED\tFAILED\tERRORS\tSKIPPED\tLAST FAILURE")
			for _, st := range stats {
				last := "-"
				if !st.LastFailure.IsZero() {
					last = st.LastFailure.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
					st.Index, st.Name, st.Runs, st.Passed, st.Failed, st.Errored, st.Skipped, last)
			}
			return w.Flush()
		}

		runs, err := store.List(historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tROUNDS\tRESULT\tFAILURES")
		for _, r := range runs {
			result := "ok"
			if !r.OK() {
				result = "FAIL"
			}
			var failures []string
			for _, s := range r.Results {
				if s.Status == string(scenario.StatusFailed) || s.Status == string(scenario.StatusError) {
					failures = append(failures, fmt.Sprintf("%d/%s", s.Index, s.Status))
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%v\n", r.RunID, r.Started.Local().Format(time.RFC3339),
				r.Finished.Sub(r.Started).Round(time.Second), r.Rounds, result, failures)
		}
		return w.Flush()
	},
}

var recheckCmd = &cobra.Command{
	Use:   "recheck <run-id>",
	Short: "Re-decode and re-verify the failures captured for a run",
	Long: `recheck reads the artifacts captured for a failed run from artifacts.backend,
decodes the stored attributes with the configured ceph-dencoder and verifies
them against the expected chains again. No cluster access is needed. With
--prune, captures that now verify are deleted from the backend.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Artifacts.Backend.Type == "" {
			return fmt.Errorf("artifacts.backend is not configured")
		}
		ctx := context.Background()
		b, err := backend.FromConfig(ctx, cfg.Artifacts.Backend)
		if err != nil {
			return err
		}
		defer b.Close()

		runner := proc.NewExecRunner(cfg.Ceph.CommandTimeout)
		decoder := backtrace.NewDecoder(runner, cfg.Decoder.Tool, cfg.Decoder.Type, cfg.Decoder.TempDir)
		checks, err := artifacts.RecheckRun(ctx, b, args[0], decoder)
		if err != nil {
			return err
		}

		if recheckPrune {
			pruned, err := artifacts.Prune(ctx, b, checks)
			if err != nil {
				return err
			}
			log.Info().Str("run", args[0]).Int("pruned", pruned).Msg("pruned captures that now verify")
		}

		failed := 0
		for _, c := range checks {
			m := c.Manifest
			if c.Err == nil {
				fmt.Printf("round %d test %d (%s): now verifies\n", m.Round, m.Scenario, m.Name)
				continue
			}
			failed++
			fmt.Printf("round %d test %d (%s): %v\n", m.Round, m.Scenario, m.Name, c.Err)
		}
		log.Info().Str("run", args[0]).Int("checked", len(checks)).Int("failing", failed).Msg("recheck complete")
		if failed > 0 {
			return errScenariosFailed
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the results collector",
	Long: `serve accepts scenario events from runs configured with report.sink http
and serves them under /api/v1/live. When history.path is set, the collector
records each run when its closing event arrives and serves finished runs and
per-scenario statistics under /api/v1/runs and /api/v1/stats. Runs reporting
over http leave history.path to the collector, so both may share one config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sc := control.Config{Addr: cfg.Server.Addr, MaxRuns: cfg.Server.MaxRuns}
		if serveAddr != "" {
			sc.Addr = serveAddr
		}

		var hist control.History
		if cfg.History.Path != "" {
			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			hist = store
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return control.NewServer(sc, hist).Run(ctx)
	},
}
