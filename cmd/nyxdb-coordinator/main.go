package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/yaoml/rethinkdb/internal/branchhistory"
	"github.com/yaoml/rethinkdb/internal/config"
	"github.com/yaoml/rethinkdb/internal/contract"
	coordinatorgrpc "github.com/yaoml/rethinkdb/internal/layers/coordinator/grpc"
	coordinatorpkg "github.com/yaoml/rethinkdb/internal/layers/coordinator"
	"github.com/yaoml/rethinkdb/internal/layers/observability/metrics"
)

func main() {
	configPath := flag.String("config", "", "coordinator config file (yaml)")
	addr := flag.String("addr", "0.0.0.0:18090", "gRPC listen address")
	dataDir := flag.String("data", "/tmp/nyxdb-coordinator", "coordinator data directory")
	metricsAddr := flag.String("metrics", "", "prometheus metrics listen address (disabled if empty)")
	reconcileMs := flag.Int64("reconcile-interval-ms", 500, "coordinator reconcile tick interval")
	flag.Parse()

	cfg := &config.CoordinatorConfig{
		DataDir:             *dataDir,
		GRPC:                config.GRPCConfig{Address: *addr},
		ReconcileIntervalMs: *reconcileMs,
		MetricsAddress:      *metricsAddr,
	}
	if *configPath != "" {
		loaded, err := config.LoadCoordinatorConfig(*configPath)
		if err != nil {
			log.Fatalf("load coordinator config: %v", err)
		}
		cfg = loaded
	}

	initial := contract.RaftState{BranchHistory: branchhistory.NewStore()}
	service, err := coordinatorpkg.NewPersistentService(cfg.DataDir, initial)
	if err != nil {
		log.Fatalf("create coordinator service: %v", err)
	}
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsAddress != "" {
		if err := metrics.StartServer(ctx, cfg.MetricsAddress); err != nil {
			log.Fatalf("start metrics server: %v", err)
		}
	}
	collector := metrics.NewCoordinatorCollector(nil, "")
	go runReconcileLoop(ctx, service, collector, time.Duration(cfg.ReconcileIntervalMs)*time.Millisecond)

	grpcServer := grpc.NewServer()
	coordinatorgrpc.Register(grpcServer, service)

	lis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("coordinator server listening on %s", cfg.GRPC.Address)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()
	grpcServer.GracefulStop()
	_ = service.Close()
	log.Println("coordinator server stopped")
}

func runReconcileLoop(ctx context.Context, service *coordinatorpkg.Service, collector *metrics.CoordinatorCollector, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			result, err := service.Reconcile()
			if err != nil {
				log.Printf("reconcile: %v", err)
				continue
			}
			collector.Observe(result, time.Since(start))
		}
	}
}
