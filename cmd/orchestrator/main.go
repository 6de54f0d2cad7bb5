package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/agents"
	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/httpapi"
	"github.com/c4h-ai/orchestrator/internal/lineage"
	"github.com/c4h-ai/orchestrator/internal/llm"
	"github.com/c4h-ai/orchestrator/internal/orchestration"
	"github.com/c4h-ai/orchestrator/internal/ratecontrol"
	"github.com/c4h-ai/orchestrator/internal/scanner"
	"github.com/c4h-ai/orchestrator/internal/tracing"
	"github.com/c4h-ai/orchestrator/internal/workflow"
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	svc, err := config.LoadService("config/service.yaml")
	if err != nil {
		logger.Fatal("Failed to load service config", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      svc.Tracing.Enabled,
		OTLPEndpoint: svc.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing init failed", zap.Error(err))
	}

	// Workflow defaults with hot reload; overlays merge onto the snapshot
	// per submission.
	defaultsMgr, err := config.NewDefaultsManager(svc.Defaults.Path, logger)
	if err != nil {
		logger.Fatal("Failed to load workflow defaults", zap.Error(err))
	}
	if err := defaultsMgr.Start(ctx); err != nil {
		logger.Warn("Defaults hot-reload unavailable", zap.Error(err))
	}
	defer defaultsMgr.Stop()

	pool := ratecontrol.NewPool(logger)
	applyRateLimits(pool, defaultsMgr.Snapshot())
	adapter := llm.NewAdapter(logger, pool)

	store := workflow.NewStore()
	mirror := workflow.NewMirror(logger, svc.Storage.WorkflowRoot)

	sinks := []lineage.Sink{
		lineage.NewFileSink(svc.Storage.LineageRoot),
		mirror.Sink(),
	}
	if svc.Lineage.Remote.Enabled {
		sinks = append(sinks, lineage.NewHTTPSink(svc.Lineage.Remote.URL))
	}
	recorder := lineage.NewRecorder(logger, sinks)
	defer recorder.Close()

	var index *workflow.Index
	if svc.Index.Enabled {
		index, err = workflow.OpenIndex(logger, svc.Index.Driver, svc.Index.DSN)
		if err != nil {
			logger.Fatal("Failed to open workflow index", zap.Error(err))
		}
		defer index.Close()
	}

	var cache *workflow.Cache
	if svc.Redis.Enabled {
		cache = workflow.NewCache(logger, svc.Redis.Addr)
		defer cache.Close()
	}

	orch := orchestration.New(orchestration.Options{
		Logger:      logger,
		Registry:    agents.DefaultRegistry(),
		Adapter:     adapter,
		Scanner:     scanner.New(logger),
		Recorder:    recorder,
		Store:       store,
		Mirror:      mirror,
		Index:       index,
		Cache:       cache,
		Defaults:    defaultsMgr.Snapshot,
		BackupsRoot: svc.Storage.BackupsRoot,
	})

	handler := httpapi.NewHandler(httpapi.Options{
		Logger:       logger,
		Orchestrator: orch,
		Store:        store,
		Cache:        cache,
		Defaults:     defaultsMgr.Snapshot,
	})
	server := httpapi.NewServer(
		fmt.Sprintf(":%d", svc.Server.Port),
		handler,
		svc.Server.ReadTimeout,
		svc.Server.WriteTimeout,
	)

	// Retention sweep for terminal records.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case now := <-ticker.C:
				if removed := store.Sweep(svc.Storage.Retention.MaxAge, now); len(removed) > 0 {
					for _, id := range removed {
						mirror.Forget(id)
					}
					logger.Info("Swept terminal workflows", zap.Int("removed", len(removed)))
				}
			}
		}
	}()

	go func() {
		logger.Info("Workflow service listening", zap.Int("port", svc.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown incomplete", zap.Error(err))
	}
}

// applyRateLimits installs per-provider buckets configured under
// llm_config.providers.<name>.rate_limits.
func applyRateLimits(pool *ratecontrol.Pool, defaults config.Tree) {
	providers, err := defaults.GetTree("llm_config.providers")
	if err != nil || providers == nil {
		return
	}
	for name := range providers {
		limits, err := providers.GetTree(name + ".rate_limits")
		if err != nil || limits == nil {
			continue
		}
		pool.SetLimit(name, ratecontrol.Limit{
			RPM: limits.GetInt("requests_per_minute", 0),
			TPM: limits.GetInt("tokens_per_minute", 0),
		})
	}
}
