package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "github.com/sampsyo/cluster-workers/internal/api/http"
	"github.com/sampsyo/cluster-workers/internal/config"
	"github.com/sampsyo/cluster-workers/internal/infra/etcd"
	"github.com/sampsyo/cluster-workers/internal/logging"
	"github.com/sampsyo/cluster-workers/internal/master"
	"github.com/sampsyo/cluster-workers/internal/tracing"

	"github.com/google/uuid"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger and tracer
	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("cluster-workers-master", cfg.TracingEnabled, os.Stderr)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	nodeID := uuid.New().String()
	logger.Info("starting master", "node_id", nodeID, "addr", cfg.ListenAddr())

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 4. Optionally claim the master role through etcd
	var directory *etcd.Directory
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			log.Fatalf("Failed to create etcd client: %v", err)
		}
		defer etcdClient.Close()

		election := etcd.NewElectionManager(etcdClient, nodeID, cfg.LeaderElectionTTL, logger)
		lost, err := election.Campaign(rootCtx, advertiseHost(cfg))
		if err != nil {
			if rootCtx.Err() != nil {
				return
			}
			log.Fatalf("Failed to become master: %v", err)
		}
		defer func() {
			resignCtx, resignCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer resignCancel()
			if err := election.Resign(resignCtx); err != nil {
				logger.Error("failed to resign", "error", err)
			}
		}()
		go func() {
			select {
			case <-lost:
				logger.Error("lost master election; shutting down")
				cancel()
			case <-rootCtx.Done():
			}
		}()

		directory = etcd.NewDirectory(etcdClient, logger)
		go directory.Watch(rootCtx)
	}

	// 5. Instantiate components
	dispatcher := master.NewDispatcher(logger)
	server := master.NewServer(cfg.ListenAddr(), dispatcher, logger)
	if err := server.Listen(); err != nil {
		log.Fatalf("Failed to start master: %v", err)
	}

	statusHandler := http_api.NewStatusHandler(server, nodeID, logger)
	if directory != nil {
		statusHandler.WithDirectory(directory)
	}
	mux := http.NewServeMux()
	statusHandler.RegisterRoutes(mux)

	if cfg.ReportSchedule != "" {
		reporter := master.NewReporter(cfg.ReportSchedule, server, logger)
		go func() {
			if err := reporter.Run(rootCtx); err != nil {
				logger.Error("status reporter stopped", "error", err)
			}
		}()
	}

	// 6. Start HTTP status server
	var httpServer *http.Server
	if cfg.HttpListenAddr != "" {
		logger.Info("starting HTTP status server", "addr", cfg.HttpListenAddr)
		httpServer = &http.Server{
			Addr:    cfg.HttpListenAddr,
			Handler: mux,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", "error", err)
				cancel()
			}
		}()
	}

	// 7. Serve until shutdown
	if err := server.Serve(rootCtx); err != nil {
		logger.Error("master failed", "error", err)
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
	}
	logger.Info("master shut down")
}

// advertiseHost is the host published to workers through etcd.
func advertiseHost(cfg *config.Config) string {
	if cfg.AdvertiseHost != "" {
		return cfg.AdvertiseHost
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return cfg.Host
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
