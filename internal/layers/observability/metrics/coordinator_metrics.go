package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coordinatorsvc "github.com/yaoml/rethinkdb/internal/layers/coordinator"
)

// CoordinatorCollector exposes contract-coordinator reconcile activity as
// Prometheus metrics: a struct of pre-built collectors constructed once via
// promauto.With(reg), updated from an Observe call rather than implementing
// prometheus.Collector directly.
type CoordinatorCollector struct {
	contractsAdded   prometheus.Counter
	contractsRemoved prometheus.Counter
	branchesGCed     prometheus.Counter
	reconcileCount   prometheus.Counter
	reconcileSeconds prometheus.Histogram
}

// NewCoordinatorCollector creates a collector registered on the provided
// registry (default if nil), under the given metric namespace.
func NewCoordinatorCollector(reg prometheus.Registerer, namespace string) *CoordinatorCollector {
	if namespace == "" {
		namespace = "nyxdb"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	builder := promauto.With(reg)
	return &CoordinatorCollector{
		contractsAdded: builder.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinator_contracts_added_total",
			Help:      "Contracts published by a coordinator reconcile pass.",
		}),
		contractsRemoved: builder.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinator_contracts_removed_total",
			Help:      "Contracts superseded and dropped by a coordinator reconcile pass.",
		}),
		branchesGCed: builder.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinator_branches_gc_total",
			Help:      "Branch-history entries pruned for no longer being reachable from a live contract.",
		}),
		reconcileCount: builder.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coordinator_reconcile_total",
			Help:      "Coordinator reconcile invocations.",
		}),
		reconcileSeconds: builder.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "coordinator_reconcile_duration_seconds",
			Help:      "Wall-clock time spent in one coordinator reconcile pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Observe records one reconcile pass's outcome and the time it took.
func (c *CoordinatorCollector) Observe(result coordinatorsvc.ReconcileResult, elapsed time.Duration) {
	c.reconcileCount.Inc()
	c.reconcileSeconds.Observe(elapsed.Seconds())
	c.contractsAdded.Add(float64(result.ContractsAdded))
	c.contractsRemoved.Add(float64(result.ContractsRemoved))
	c.branchesGCed.Add(float64(result.BranchesRemoved))
}

// StartServer serves Prometheus metrics on the provided address until the context is canceled.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return fmt.Errorf("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
