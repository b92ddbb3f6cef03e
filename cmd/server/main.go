// Command server is the orchestration engine's entry point: it loads
// configuration, connects to Postgres, wires the workflow engine and both
// HTTP surfaces (tenant API and ops-only admin API), and runs until a
// shutdown signal arrives.
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

	"github.com/inspectflow/orchestrator/applications/adminapi"
	"github.com/inspectflow/orchestrator/applications/auth"
	"github.com/inspectflow/orchestrator/applications/httpapi"
	"github.com/inspectflow/orchestrator/domain/workflow"
	"github.com/inspectflow/orchestrator/infrastructure/config"
	"github.com/inspectflow/orchestrator/infrastructure/database"
	"github.com/inspectflow/orchestrator/infrastructure/health"
	"github.com/inspectflow/orchestrator/infrastructure/logging"
	"github.com/inspectflow/orchestrator/infrastructure/metrics"
	slmiddleware "github.com/inspectflow/orchestrator/infrastructure/middleware"
)

const serviceName = "orchestration-engine"

var version = "dev"

func main() {
	cfg := config.Load()
	logger := logging.NewFromEnv(serviceName)
	m := metrics.Init(serviceName, version)

	if cfg.DatabaseDSN == "" {
		log.Fatal("STORE_DSN is required")
	}
	if err := database.Migrate(cfg.DatabaseDSN); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolCfg := database.DefaultPoolConfig()
	poolCfg.DSN = cfg.DatabaseDSN
	poolCfg.MaxOpenConns = cfg.DatabaseMaxOpen
	poolCfg.MaxIdleConns = cfg.DatabaseMaxIdle
	poolCfg.ConnMaxLifetime = cfg.DatabaseConnMaxAge

	pool, err := database.Open(ctx, poolCfg, m)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	auditLog := database.NewAuditLog(pool.DB(), logger, m)
	retentionJob, err := database.StartAuditRetentionJob(auditLog, cfg.AuditRetentionDays)
	if err != nil {
		log.Fatalf("start audit retention job: %v", err)
	}
	defer retentionJob.Stop()
	store := workflow.NewPostgresStore(pool.DB(), m, auditLog)
	defStore := workflow.NewPostgresDefinitionStore(pool.DB(), m, auditLog)
	userStore := auth.NewUserStore(pool.DB())

	registry := workflow.NewRegistry()
	workflow.RegisterBuiltins(registry, nil)
	compiler := workflow.NewCompiler(registry)

	zapLogger, err := buildZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("build engine logger: %v", err)
	}

	engineCfg := workflow.DefaultEngineConfig()
	engineCfg.DefaultAgentTimeout = cfg.AgentDefaultTimeout
	engineCfg.CancelGracePeriod = cfg.ExecutionCancelGrace

	engine := workflow.NewEngine(registry, store, m, zapLogger, engineCfg, []byte(cfg.AuthSigningSecret))

	if err := recoverRunningExecutions(ctx, store, defStore, compiler, engine, logger); err != nil {
		logger.Error(ctx, "execution recovery failed", err, nil)
	}

	authManager := auth.NewManager(cfg.AuthSigningSecret, cfg.AuthTokenTTL)
	rateLimiter := slmiddleware.NewRateLimiterWithWindow(cfg.RateLimitPerMinute, time.Minute, cfg.RateLimitBurst, logger)

	tenantRouter := httpapi.NewRouter(httpapi.Deps{
		AuthManager:     authManager,
		Users:           userStore,
		Compiler:        compiler,
		Registry:        registry,
		Engine:          engine,
		Definitions:     defStore,
		Executions:      store,
		Audit:           httpapi.DatabaseAuditReader{Log: auditLog},
		Logger:          logger,
		Metrics:         m,
		RateLimiter:     rateLimiter,
		RateLimitPerMin: cfg.RateLimitPerMinute,
	})

	checker := health.NewChecker(5 * time.Second)
	checker.Register("database", health.DatabaseCheck(pool.Ping))
	checker.Register("agent_registry", health.AgentRegistryCheck(registry.Count))

	startedAt := time.Now()
	adminRouter := adminapi.NewRouter(adminapi.Deps{
		Checker:   checker,
		Metrics:   m,
		Service:   serviceName,
		Version:   version,
		StartedAt: startedAt,
	})

	tenantServer := buildServer(cfg.ListenAddr, tenantRouter)
	adminServer := buildServer(cfg.MetricsAddr, adminRouter)

	go runServer(tenantServer, logger, "tenant API")
	go runServer(adminServer, logger, "admin API")

	waitForShutdownSignal()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := tenantServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "tenant API shutdown error", err, nil)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "admin API shutdown error", err, nil)
	}
}

func buildServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func runServer(server *http.Server, logger *logging.Logger, name string) {
	logger.Info(context.Background(), fmt.Sprintf("starting %s", name), map[string]interface{}{"addr": server.Addr})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("%s listener failed: %v", name, err)
	}
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func buildZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// recoverRunningExecutions loads every non-terminal execution across all
// tenants, compiles the stored definition of each referenced workflow, and
// hands the engine the resulting graphs, keyed by workflow ID and the
// definition's version, so Recover can resume scheduling from the last
// checkpoint. Only the latest version of a definition is stored; an
// execution started against an earlier version finds no graph and is not
// resumed.
func recoverRunningExecutions(
	ctx context.Context,
	store workflow.Store,
	defStore workflow.DefinitionStore,
	compiler *workflow.Compiler,
	engine *workflow.Engine,
	logger *logging.Logger,
) error {
	running, err := store.ListRunning(ctx)
	if err != nil {
		return err
	}

	graphs := make(map[string]*workflow.CompiledGraph)
	for _, exec := range running {
		key := fmt.Sprintf("%s:%d", exec.WorkflowID, exec.WorkflowVersion)
		if _, ok := graphs[key]; ok {
			continue
		}

		def, err := defStore.Get(ctx, exec.TenantID, exec.WorkflowID)
		if err != nil {
			logger.Error(ctx, "recovery: failed to load workflow definition", err, map[string]interface{}{
				"workflowId": exec.WorkflowID,
			})
			continue
		}

		graph, report := compiler.Compile(*def)
		if report != nil {
			logger.Error(ctx, "recovery: workflow definition failed to recompile", nil, map[string]interface{}{
				"workflowId": exec.WorkflowID,
				"errors":     report.Error(),
			})
			continue
		}
		graphs[fmt.Sprintf("%s:%d", def.ID, def.Version)] = graph
	}

	return engine.Recover(ctx, graphs)
}
