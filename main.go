package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omnifin/backoffice/migrations"
	"github.com/omnifin/backoffice/pkg/audit"
	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/crypto"
	"github.com/omnifin/backoffice/pkg/database"
	"github.com/omnifin/backoffice/pkg/handlers"
	"github.com/omnifin/backoffice/pkg/llm"
	"github.com/omnifin/backoffice/pkg/logging"
	mcpserver "github.com/omnifin/backoffice/pkg/mcp"
	"github.com/omnifin/backoffice/pkg/mcp/tools"
	"github.com/omnifin/backoffice/pkg/middleware"
	"github.com/omnifin/backoffice/pkg/repositories"
	"github.com/omnifin/backoffice/pkg/services"
	"github.com/omnifin/backoffice/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis", cfg.Redis.Addr()),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("storage", cfg.Storage.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:             cfg.Database.ConnectionString(),
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MigratePool(migrations.FS, logger); err != nil {
		return err
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	// A nil *redis.Client must not become a non-nil interface.
	var cache redis.UniversalClient
	if redisClient != nil {
		defer redisClient.Close()
		cache = redisClient
	} else {
		logger.Info("Redis not configured, prompt cache disabled")
	}

	store, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	llmConfig := llm.ConfigFrom(cfg.AI)
	llmClient, transcriber, err := llm.New(llmConfig, logger)
	if err != nil {
		return err
	}
	if llmClient == nil {
		logger.Warn("No AI provider configured, replies use fallback templates")
	}

	sealer, err := crypto.NewKeySealer(cfg.CredentialsKey)
	if err != nil {
		return errors.New("CREDENTIALS_KEY must be set")
	}

	jwtManager, err := auth.NewJWTManager(ctx, &auth.JWTConfig{
		Secret:        []byte(cfg.Auth.JWTSecret),
		Issuer:        cfg.Auth.Issuer,
		TTL:           cfg.Auth.TokenTTL,
		JWKSEndpoints: cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return err
	}
	defer jwtManager.Close()

	auditor := audit.NewSecurityAuditor(logger)
	scopes := database.NewScopeProvider(db)

	// Repositories
	userRepo := repositories.NewUserRepository()
	groupRepo := repositories.NewGroupRepository()
	activityRepo := repositories.NewActivityRepository()
	statsRepo := repositories.NewStatsRepository()
	notificationRepo := repositories.NewNotificationRepository()
	settingRepo := repositories.NewSettingRepository()
	apiConfigRepo := repositories.NewAPIConfigRepository()
	fileRepo := repositories.NewFileRepository()
	knowledgeRepo := repositories.NewKnowledgeRepository()
	faqRepo := repositories.NewFAQRepository()
	promptRepo := repositories.NewPromptRepository()
	convRepo := repositories.NewConversationRepository()
	orderRepo := repositories.NewOrderRepository()

	// Services
	activityService := services.NewActivityService(activityRepo, logger)
	notificationService := services.NewNotificationService(notificationRepo, logger)
	userService := services.NewUserService(userRepo, jwtManager, activityService, notificationService, auditor, scopes, logger)
	groupService := services.NewGroupService(groupRepo, activityService, logger)
	settingService := services.NewSettingService(settingRepo, activityService, logger)
	apiConfigService := services.NewAPIConfigService(apiConfigRepo, sealer, activityService, logger)
	fileService := services.NewFileService(fileRepo, store, activityService, logger)
	healthService := services.NewHealthService(db, cache, store, logger)
	analyticsService := services.NewAnalyticsService(activityRepo, statsRepo, logger)
	knowledgeService := services.NewKnowledgeService(knowledgeRepo, faqRepo, activityService, logger)
	faqService := services.NewFAQService(faqRepo, activityService, logger)
	promptService := services.NewPromptService(promptRepo, services.NewPromptCache(cache, cfg.Redis.TTL, logger), activityService, logger)
	responder := services.NewResponder(convRepo, knowledgeRepo, llmClient, llmConfig, logger)
	chatService := services.NewChatService(convRepo, promptService, responder, transcriber, store, activityService, logger)
	conversationService := services.NewConversationService(convRepo, activityService, logger)
	orderService := services.NewOrderService(orderRepo, convRepo, store, activityService, notificationService, logger)

	if cfg.SeedPromptsPath != "" {
		if err := seedPrompts(ctx, scopes, promptRepo, cfg.SeedPromptsPath, logger); err != nil {
			return err
		}
	}

	authService := auth.NewAuthService(jwtManager, userService, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)
	scope := database.WithRequestScope(db, logger)

	// MCP server exposing knowledge tools
	recorder := mcpserver.NewToolCallRecorder(activityService, logger)
	mcpServer := mcpserver.NewServer("omnifin-backoffice", cfg.Version, recorder.Hooks(), logger)
	tools.RegisterKnowledgeTools(mcpServer.MCP(), &tools.KnowledgeToolDeps{
		Knowledge: knowledgeService,
		Prompts:   promptService,
	})

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewConfigHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewAuthHandler(userService, cfg, auditor, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewUsersHandler(userService, auditor, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewCoreHandler(groupService, apiConfigService, settingService, fileService, notificationService,
		analyticsService, healthService, cfg.Uploads, auditor, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewKnowledgeHandler(knowledgeService, promptService, faqService, auditor, logger).
		RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewOrdersHandler(orderService, cfg.Uploads, auditor, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewConversationsHandler(conversationService, auditor, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewChatHandler(chatService, cfg.Uploads, auditor, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewAnalyticsHandler(analyticsService, auditor, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux, authMiddleware, scope)

	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handlers.WithRequestInfo(middleware.RequestLogger(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting omnifin-backoffice",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// seedPrompts loads the configured prompt file on a connection not tied to a user.
func seedPrompts(ctx context.Context, scopes *database.ScopeProvider, repo repositories.PromptRepository, path string, logger *zap.Logger) error {
	scoped, cleanup, err := scopes.WithSystemScope(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := services.SeedPrompts(scoped, repo, path, logger)
	if err != nil {
		return err
	}
	logger.Info("Seeded prompts", zap.Int("count", n), zap.String("path", path))
	return nil
}
