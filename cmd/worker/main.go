package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sampsyo/cluster-workers/internal/config"
	"github.com/sampsyo/cluster-workers/internal/infra/etcd"
	"github.com/sampsyo/cluster-workers/internal/logging"
	"github.com/sampsyo/cluster-workers/internal/provision"
	"github.com/sampsyo/cluster-workers/internal/tracing"
	"github.com/sampsyo/cluster-workers/pkg/funcs"
	"github.com/sampsyo/cluster-workers/pkg/worker"

	"github.com/google/uuid"
)

func main() {
	// 1. Init config, logger and tracer
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("cluster-workers-worker", cfg.TracingEnabled, os.Stderr)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	workerID := uuid.New().String()
	logger = logger.With("worker_id", workerID)

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. Locate the master
	resolveCtx, resolveCancel := context.WithTimeout(rootCtx, 30*time.Second)
	addr, err := provision.MasterAddr(resolveCtx, cfg, logger)
	resolveCancel()
	if err != nil {
		log.Fatalf("Failed to locate master: %v", err)
	}

	// 4. Announce this worker in etcd, when one is configured
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()

		presence := etcd.NewPresence(etcdClient, logger)
		host, _ := os.Hostname()
		if err := presence.Register(rootCtx, workerID, host, int64(cfg.LeaderElectionTTL.Seconds())); err != nil {
			logger.Warn("failed to announce worker", "error", err)
		}
		defer func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer deregCancel()
			if err := presence.Deregister(deregCtx); err != nil {
				logger.Error("failed to withdraw worker", "error", err)
			}
		}()
	}

	// 5. Register built-in functions and serve
	if err := worker.RegisterBuiltins(funcs.Default); err != nil {
		log.Fatalf("Failed to register built-in functions: %v", err)
	}
	executor := worker.NewExecutor(funcs.Default, cfg.SearchPathEnv, logger)

	logger.Info("starting worker", "master", addr, "functions", funcs.Default.Names())
	if err := worker.New(addr, executor, logger).Run(rootCtx); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
