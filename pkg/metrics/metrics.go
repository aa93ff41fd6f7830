package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scenario metrics
	ScenarioRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcheck_scenario_runs_total",
		Help: "Scenario executions by outcome",
	}, []string{"scenario", "status"})

	ScenarioDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btcheck_scenario_duration_seconds",
		Help:    "Wall time of a scenario including flush and verification",
		Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"scenario"})

	VerifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcheck_verify_failures_total",
		Help: "Backtrace verification failures by reason",
	}, []string{"reason"})

	// External tool metrics
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btcheck_command_duration_seconds",
		Help:    "Subprocess duration by tool",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 120},
	}, []string{"tool"})

	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcheck_command_errors_total",
		Help: "Subprocess failures by tool and kind",
	}, []string{"tool", "kind"})

	// MDS metrics
	AdminCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcheck_admin_commands_total",
		Help: "Administrative commands sent to the MDS",
	}, []string{"command", "status"})

	MDSWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "btcheck_mds_wait_seconds",
		Help:    "Time spent waiting for the MDS to report up:active",
		Buckets: []float64{.5, 1, 5, 10, 30, 60, 120, 300},
	})

	MDSRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcheck_mds_restarts_total",
		Help: "MDS restarts issued by the harness",
	}, []string{"method"})

	// Flush metrics
	FlushChurnOps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btcheck_flush_churn_ops_total",
		Help: "Create/unlink pairs issued to force journal trimming",
	})

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "btcheck_flush_duration_seconds",
		Help:    "Duration of a full journal flush including reconnect",
		Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
	})

	// Object store metrics
	StoreReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcheck_store_xattr_reads_total",
		Help: "Object xattr reads by store type and status",
	}, []string{"store", "status"})
)

// WriteTextfile writes the default registry in the node-exporter textfile
// format. The write is atomic.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// MetricsServer starts an HTTP server for /metrics on the given addr.
// It blocks until the provided stop channel is closed, then shuts down gracefully.
func MetricsServer(addr string, stop <-chan struct{}) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errCh:
		return err
	}
}
