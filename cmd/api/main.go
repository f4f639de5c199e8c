package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/healthtrack/symptomtracker/internal/api"
	"github.com/healthtrack/symptomtracker/internal/audit"
	"github.com/healthtrack/symptomtracker/internal/auth"
	"github.com/healthtrack/symptomtracker/internal/changes"
	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/config"
	"github.com/healthtrack/symptomtracker/internal/conversation"
	"github.com/healthtrack/symptomtracker/internal/database"
	"github.com/healthtrack/symptomtracker/internal/episodes"
	"github.com/healthtrack/symptomtracker/internal/llm"
	mw "github.com/healthtrack/symptomtracker/internal/middleware"
	inats "github.com/healthtrack/symptomtracker/internal/nats"
	iredis "github.com/healthtrack/symptomtracker/internal/redis"
	"github.com/healthtrack/symptomtracker/internal/retrieval"
	"github.com/healthtrack/symptomtracker/internal/server"
	"github.com/healthtrack/symptomtracker/internal/workflow"
	"github.com/healthtrack/symptomtracker/internal/workingmemory"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS
	natsClient, err := inats.NewClient(ctx, cfg.NATS)
	if err != nil {
		slog.Error("connecting to nats", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	publisher := inats.NewPublisher(natsClient.JetStream())
	consumerMgr := inats.NewConsumerManager(natsClient.JetStream())

	// LLM
	generator, embedder, err := llm.NewClients(cfg.LLM)
	if err != nil {
		slog.Error("creating llm clients", "error", err)
		os.Exit(1)
	}

	// Clinical core
	store := clinical.NewPostgresStore(pool)
	hydrator := workingmemory.NewHydrator(store, workingmemory.Windows{
		Episodes:         cfg.Memory.EpisodeWindow(),
		NegativeFindings: cfg.Memory.NegativeWindow(),
	})
	retrievalSvc := retrieval.NewService(retrieval.NewPostgresRepository(pool), embedder, retrieval.Options{
		Dimension:     cfg.Memory.EmbeddingDimension,
		MinSimilarity: cfg.Memory.SimilarityThreshold,
		Limit:         cfg.Memory.SearchLimit,
		BackfillBatch: cfg.Memory.BackfillBatch,
	})
	history := conversation.NewHistoryStore(redisClient, cfg.Memory.ShortTermMaxMsgs, cfg.Memory.ShortTermTTL)
	dispatcher := workflow.NewDispatcher(workflow.Deps{
		Store:     store,
		Linker:    episodes.NewLinker(store),
		Retriever: retrievalSvc,
		Generator: generator,
		History:   history,
	})

	// Conversation
	notifier := changes.NewNATSNotifier(publisher, changes.DefaultQueueSize)
	convSvc := conversation.NewService(
		conversation.NewPostgresRepository(pool),
		hydrator,
		dispatcher,
		retrievalSvc,
		notifier,
		conversation.WithHistory(history),
		conversation.WithAudit(publisher),
	)
	convHandler := conversation.NewHandler(convSvc)
	convConsumer := conversation.NewConsumer(convSvc, publisher, consumerMgr)

	// Audit
	auditRepo := audit.NewRepository(pool)
	auditConsumer := audit.NewConsumer(auditRepo, consumerMgr)
	auditHandler := audit.NewHandler(auditRepo)

	// Auth
	verifier := auth.NewVerifier(cfg.JWT.AccessSecret, cfg.JWT.Issuer)
	messageLimiter := mw.NewRateLimiter(redisClient, "messages", cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSec).
		WithUserKey(func(r *http.Request) (string, bool) {
			id, ok := auth.UserID(r.Context())
			return id.String(), ok
		})

	// Router
	router := api.NewRouter(
		api.Probes{DB: pool, NATS: natsClient, Redis: redisClient},
		api.RouterConfig{
			CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
			MessageRateLimiter: messageLimiter.Middleware,
		},
		api.HandlerSet{
			SendMessage:     convHandler.SendMessage,
			ListAuditLogs:   auditHandler.List,
			ClearEmbeddings: convHandler.ClearEmbeddings,
			AuthMiddleware:  auth.Middleware(verifier),
			AdminMiddleware: auth.RequireRole(auth.RoleAdmin),
		},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return notifier.Run(gctx) })
	g.Go(func() error { return convConsumer.Start(gctx) })
	g.Go(func() error { return auditConsumer.Start(gctx) })
	g.Go(func() error { return server.New(cfg.Server, router).Run(gctx) })

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
