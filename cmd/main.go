// Code Analysis Engine Server
//
// Standalone gRPC server for the read-only code-analysis engine.
// This binary can be run as a sidecar process or remote service.
//
// Usage:
//
//	go run ./cmd -config config.yaml            # Serve
//	go run ./cmd -config config.yaml -index     # Reindex the repo, then serve
//	go build -o codeanalysis ./cmd && ./codeanalysis
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/grpc"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/kernel"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/llm"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/observability"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/pipeline"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/runtime"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/service"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/store"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/tools"
)

// zapLogger adapts a zap SugaredLogger to the engine's logger protocols.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func newZapLogger(level string) (*zapLogger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(level); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: logger.Sugar()}, nil
}

func (l *zapLogger) Debug(msg string, args ...any)         { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...any)          { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warning(msg string, args ...any)       { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)          { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any)         { l.sugar.Errorw(msg, args...) }
func (l *zapLogger) Bind(args ...any) commbus.Logger       { return &zapLogger{sugar: l.sugar.With(args...)} }

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration document")
	addr := flag.String("addr", "", "gRPC listen address override")
	reindex := flag.Bool("index", false, "reindex the repository before serving")
	otlpEndpoint := flag.String("otlp", "", "OTLP trace collector endpoint (disabled when empty)")
	flag.Parse()

	appCfg := config.DefaultAppConfig()
	if *configPath != "" {
		loaded, err := config.LoadAppConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		appCfg = loaded
	}
	if *addr != "" {
		appCfg.ListenAddress = *addr
	}

	logger, err := newZapLogger(appCfg.LogLevel)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	logger.Info("engine_starting", "address", appCfg.ListenAddress, "repo_root", appCfg.RepoRoot)

	// Execution config is global, set once before serving begins.
	exec := appCfg.ExecutionConfig()
	config.SetExecutionConfig(exec)

	// Tracing is optional; metrics are always on.
	if *otlpEndpoint != "" {
		shutdown, err := observability.InitTracer("codeanalysis-engine", *otlpEndpoint)
		if err != nil {
			logger.Warning("tracing_disabled", "error", err.Error())
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
		}
	}

	// Storage: the code index, session state, and event log.
	st, err := store.Open(appCfg.DatabasePath, store.Options{
		RepoRoot: appCfg.RepoRoot,
		Embedder: llm.NewHashEmbedder(store.EmbeddingDim),
	}, logger)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	if *reindex {
		stats, err := st.IndexRepo(context.Background(), appCfg.RepoRoot)
		if err != nil {
			log.Fatalf("indexing repository: %v", err)
		}
		logger.Info("index_ready", "files", stats.Files, "symbols", stats.Symbols)
	}

	// Token accounting for context bounds and prompt budgeting.
	counter, err := llm.NewTokenCounter()
	if err != nil {
		log.Fatalf("building token counter: %v", err)
	}

	// Tool layer: registered during startup, frozen before serving.
	registry, err := tools.BuildRegistry(st, counter, tools.ContextBoundsFromConfig(exec))
	if err != nil {
		log.Fatalf("building tool registry: %v", err)
	}

	// Kernel: admission, quotas, rate limits. The runtime only ever sees
	// the accountant handle.
	k := kernel.NewKernel(logger, &kernel.KernelConfig{
		DefaultQuota:     kernel.QuotaFromExecutionConfig(exec),
		DefaultRateLimit: kernel.DefaultRateLimitConfig(),
	})
	stopCleanup := k.StartCleanupLoop(kernel.DefaultCleanupConfig())
	defer stopCleanup()
	accountant := kernel.NewAccountant(k)

	// LLM provider adapter.
	provider, err := llm.NewProviderFromConfig(appCfg.LLM, logger)
	if err != nil {
		log.Fatalf("building llm provider: %v", err)
	}

	// Prompt registry: frozen after defaults load.
	prompts := pipeline.NewPromptRegistry()
	prompts.Freeze()

	// Pipeline: seven stages over the generic stage machinery.
	pipelineCfg := config.DefaultAnalysisPipeline(exec)
	stages, err := pipeline.BuildStages(pipelineCfg, pipeline.Deps{
		Exec:       exec,
		Logger:     logger,
		LLMFactory: llm.SingleProviderFactory(provider),
		Registry:   registry,
		Counter:    counter,
		Accountant: accountant,
		Sessions:   st,
		Prompts:    prompts,
	})
	if err != nil {
		log.Fatalf("building stages: %v", err)
	}

	runner, err := runtime.NewPipelineRunner(pipelineCfg, stages, logger, accountant)
	if err != nil {
		log.Fatalf("building runner: %v", err)
	}
	runner.Persistence = st

	// Bus and façade.
	bus := commbus.NewInMemoryCommBus(30*time.Second, logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))
	facade := service.NewFacade(runner, k, bus, st, logger)

	// gRPC front door.
	server := grpc.NewServer(grpc.NewAnalysisServer(facade, logger), logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(appCfg.ListenAddress)
	}()

	logger.Info("engine_ready", "address", appCfg.ListenAddress)
	fmt.Printf("\nCode Analysis Engine running on %s\n", appCfg.ListenAddress)
	fmt.Println("Press Ctrl+C to stop")

	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal_received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server_failed", "error", err.Error())
		}
	}

	server.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := k.Shutdown(shutdownCtx); err != nil {
		logger.Warning("kernel_shutdown_errors", "error", err.Error())
	}
	logger.Info("engine_stopped")
}
