package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/agents"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/analytics"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/audit"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/circuitbreaker"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/config"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/db"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/health"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/knowledge"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/llm"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/memory"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/orchestrator"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/streaming"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	console := flag.Bool("console", false, "read customer messages from stdin as a single interaction")
	flag.Parse()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, level, err := config.BuildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	loader.Watch(level, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// Health endpoints come up first so probes answer while the rest starts.
	hm := health.NewManager(cfg.Health.CheckInterval, logger)
	mux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", cfg.Service.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	var llmClient llm.Client = llm.Disabled{}
	if cfg.LLM.Enabled {
		httpClient := llm.NewHTTPClient(cfg.LLM.Config, logger)
		llmClient = httpClient
		_ = hm.RegisterChecker(health.NewBreakerHealthChecker("llm", httpClient.Breaker()))
	} else {
		logger.Info("LLM disabled; agents use deterministic analysis only")
	}

	var (
		redisCache    *circuitbreaker.RedisWrapper
		streamsClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisCache = circuitbreaker.NewRedisWrapper(redisv8.NewClient(&redisv8.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}), "callcenter", logger)
		defer redisCache.Close()
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(redisCache))

		streamsClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer streamsClient.Close()
	}

	kb := buildKnowledge(cfg.Knowledge, redisCache, logger)

	deps := orchestrator.Dependencies{
		Primary:    agents.NewPrimaryAgent(llmClient, kb, cfg.Agents, logger),
		Supervisor: agents.NewSupervisorAgent(llmClient, cfg.Agents, logger),
		Escalation: agents.NewEscalationAgent(logger),
		Memory: memory.NewStore(memory.Window{
			Messages:  cfg.Memory.WindowMessages,
			Decisions: cfg.Memory.WindowDecisions,
		}, logger),
		Analytics: analytics.NewEngine(logger),
		Events:    streaming.NewManager(cfg.Streaming.Config, streamsClient, logger),
	}
	if cfg.Memory.ArchiveEnabled && redisCache != nil {
		deps.Archiver = memory.NewArchiver(redisCache, cfg.Memory.ArchiveTTL, logger)
	}

	var sink audit.Sink
	if cfg.Database.Enabled {
		dbClient, err := db.NewClient(cfg.Database.Config, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database client", zap.Error(err))
		}
		defer dbClient.Close()
		_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.Wrapper()))
		deps.Store = dbClient
		sink = dbClient
	}
	deps.Audit = audit.NewLogger(logger, sink)

	orch, err := orchestrator.New(cfg.Orchestrator, deps, logger)
	if err != nil {
		logger.Fatal("Failed to create orchestrator", zap.Error(err))
	}
	_ = hm.RegisterChecker(health.NewCustomHealthChecker("orchestrator", false, time.Second, func(context.Context) health.CheckResult {
		return health.CheckResult{
			Status:  health.StatusHealthy,
			Message: fmt.Sprintf("%d active interactions", len(orch.ActiveInteractions())),
		}
	}))
	_ = hm.RegisterChecker(health.NewCustomHealthChecker("circuit_breakers", false, time.Second, breakerStatus))
	hm.Start(ctx)

	logger.Info("Call center orchestrator started",
		zap.String("service", cfg.Service.Name),
		zap.String("environment", cfg.Service.Environment),
		zap.String("config", loader.Path()),
	)

	if *console {
		if err := runConsole(ctx, orch, os.Stdin, os.Stdout); err != nil {
			logger.Error("Console session failed", zap.Error(err))
		}
		stop()
	}
	<-ctx.Done()
	logger.Info("Shutting down call center orchestrator")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	for _, id := range orch.ActiveInteractions() {
		if _, err := orch.EndInteraction(shutdownCtx, id, orchestrator.ResolutionAbandoned); err != nil {
			logger.Warn("Failed to end interaction on shutdown", zap.String("interaction_id", id), zap.Error(err))
		}
	}
	hm.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down admin HTTP server", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}
}

// breakerStatus reports degraded while any registered breaker is not closed.
func breakerStatus(context.Context) health.CheckResult {
	res := health.CheckResult{Status: health.StatusHealthy, Details: map[string]interface{}{}}
	var tripped []string
	for _, b := range circuitbreaker.GlobalMetricsCollector.Snapshot() {
		res.Details[b.Name+"/"+b.Service] = b.State.String()
		if b.State != circuitbreaker.StateClosed {
			tripped = append(tripped, b.Name)
		}
	}
	if len(tripped) > 0 {
		res.Status = health.StatusDegraded
		res.Message = "breakers not closed: " + strings.Join(tripped, ", ")
	}
	return res
}

func buildKnowledge(cfg config.KnowledgeConfig, shared *circuitbreaker.RedisWrapper, logger *zap.Logger) knowledge.Lookup {
	if cfg.Path == "" {
		return knowledge.Nop{}
	}
	base, err := knowledge.LoadYAMLBase(cfg.Path)
	if err != nil {
		logger.Warn("Knowledge base unavailable", zap.String("path", cfg.Path), zap.Error(err))
		return knowledge.Nop{}
	}
	logger.Info("Knowledge base loaded", zap.String("path", cfg.Path), zap.Int("articles", base.Len()))

	var cache knowledge.Cache
	if cfg.SharedCache && shared != nil {
		cache = knowledge.NewRedisCache(shared)
	}
	return knowledge.NewCachedLookup(base, knowledge.NewLocalLRU(cfg.CacheSize), cache, cfg.CacheTTL, logger)
}

// runConsole drives one interaction from line-oriented input until EOF.
func runConsole(ctx context.Context, orch *orchestrator.Orchestrator, in io.Reader, out io.Writer) error {
	st, err := orch.CreateInteraction(ctx, orchestrator.Interaction{Channel: orchestrator.ChannelChat})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "interaction %s started; type a message, or an empty line to finish\n", st.InteractionID)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		res, err := orch.ProcessMessage(ctx, st.InteractionID, line, nil)
		if err != nil {
			return err
		}
		switch res.FinalAction {
		case orchestrator.ActionRespond:
			fmt.Fprintf(out, "agent: %s\n", res.ResponseContent)
		case orchestrator.ActionEscalate:
			fmt.Fprintf(out, "agent: %s\n", res.HandoffMessage)
			if res.EscalationDecision != nil {
				fmt.Fprintf(out, "  [escalated: %s, priority %d]\n", res.EscalationDecision.EscalationType, res.EscalationDecision.Priority)
			}
		default:
			fmt.Fprintln(out, "agent: (no response)")
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	final, err := orch.EndInteraction(ctx, st.InteractionID, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "interaction ended: %s after %d turns\n", final.Interaction.Resolution, final.TurnCount)
	return nil
}
