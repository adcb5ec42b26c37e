package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"ai-companion-demo/backend/ai"
	"ai-companion-demo/backend/internal/chat"
	"ai-companion-demo/backend/internal/chatlog"
	"ai-companion-demo/backend/internal/conversation"
	"ai-companion-demo/backend/internal/service"
	"ai-companion-demo/backend/internal/session"
	"ai-companion-demo/backend/internal/ws"
	"ai-companion-demo/backend/pkg/cache"
	"ai-companion-demo/backend/pkg/config"
	"ai-companion-demo/backend/pkg/health"
	"ai-companion-demo/backend/pkg/jwt"
	"ai-companion-demo/backend/pkg/logger"
	"ai-companion-demo/backend/pkg/middleware"
	"ai-companion-demo/backend/pkg/resilience"
	"ai-companion-demo/backend/pkg/secrets"
	"ai-companion-demo/backend/shared/observability"
	"ai-companion-demo/backend/shared/redis"

	"github.com/cloudwego/eino/components/model"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.RedisClient
	Logger *logger.Logger

	Secrets     secrets.Manager
	SecretCache *cache.Cache
	Verifier    *jwt.Verifier
	RateLimiter *middleware.RateLimiter

	Metrics        *observability.Metrics
	MetricsHandler http.Handler

	LLMGuard   *ai.Guard
	ImageGuard *ai.Guard
	ChatModel  model.BaseChatModel
	Generation *service.GenerationService

	Registry *session.Registry
	ChatLogs *chatlog.Sink
	Chat     *chat.Service
	Hub      *ws.Hub

	Health     *health.Checker
	GRPCHealth *health.GRPCServer

	shutdownTracing observability.ShutdownFunc
	shutdownMetrics observability.ShutdownFunc
	cancel          context.CancelFunc
}

// New wires every component. db is opened by the caller; Redis, Vault and
// the providers are set up here.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, DB: db, Logger: log}

	if err := c.setupObservability(); err != nil {
		return nil, err
	}

	c.SecretCache = cache.New(cache.Options{
		TTL:         cfg.Cache.TTL,
		MaxItems:    cfg.Cache.MaxSize,
		PurgeWindow: cfg.Cache.PurgeWindow,
	})
	manager, err := secrets.NewManager(cfg, c.SecretCache, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}
	c.Secrets = manager

	c.Verifier = jwt.NewVerifier(manager.GetSecretWithDefault(ctx, "auth_jwt_secret", cfg.Security.AuthJWTSecret))
	c.RateLimiter = middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: time.Hour,
	})

	c.Redis, err = redis.NewRedisClient(redis.Options{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if err := c.setupProviders(ctx); err != nil {
		return nil, err
	}

	directory := conversation.NewGormDirectory(db)
	provider, err := conversation.NewChainProvider(ctx, c.ChatModel, directory, c.LLMGuard, cfg.LLM.HistoryLimit, log)
	if err != nil {
		return nil, err
	}
	c.Registry = session.NewRegistry(provider, c.Metrics)

	// A nil *RedisClient must not become a non-nil Spool
	var spool chatlog.Spool
	if c.Redis != nil {
		spool = c.Redis
	}
	c.ChatLogs = chatlog.NewSink(chatlog.NewGormRepository(db), spool, chatlog.Config{
		Workers:        cfg.ChatLog.Workers,
		QueueSize:      cfg.ChatLog.QueueSize,
		MaxRetries:     cfg.ChatLog.MaxRetries,
		WriteTimeout:   cfg.ChatLog.WriteTimeout,
		ReplayInterval: cfg.ChatLog.ReplayInterval,
		SpoolKey:       cfg.ChatLog.SpoolKey,
	}, c.Metrics, log)

	c.Chat = chat.NewService(c.Registry, c.ChatLogs, log)
	c.Hub = ws.NewHub(c.Chat, cfg.Security.AllowedOrigins, log)

	c.setupHealth()
	return c, nil
}

func (c *Container) setupObservability() error {
	cfg := c.Config

	setup, err := observability.SetupPrometheusMetrics(cfg.Observability.ServiceName)
	if err != nil {
		return err
	}
	c.MetricsHandler = setup.Handler
	c.shutdownMetrics = setup.Provider.Shutdown

	c.Metrics, err = observability.NewMetrics(setup.Provider)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	if cfg.Observability.TracingEnabled {
		c.shutdownTracing, err = observability.SetupTracing(cfg.Observability.ServiceName, os.Stdout)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) setupProviders(ctx context.Context) error {
	cfg := c.Config

	newBreaker := func(name string) *resilience.CircuitBreaker {
		return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: cfg.Provider.FailureThreshold,
			SuccessThreshold: cfg.Provider.SuccessThreshold,
			Timeout:          cfg.Provider.Timeout,
			RetryTimeout:     cfg.Provider.RetryTimeout,
		}, c.Logger)
	}
	c.LLMGuard = ai.NewGuard("llm", newBreaker("llm"), c.Metrics, c.Logger)
	c.ImageGuard = ai.NewGuard("image", newBreaker("image"), c.Metrics, c.Logger)

	// Keys from Vault win over the environment
	llmCfg := *cfg
	llmCfg.LLM.APIKey = c.Secrets.GetSecretWithDefault(ctx, "llm_api_key", cfg.LLM.APIKey)

	chatModel, err := ai.NewChatModel(ctx, &llmCfg)
	if err != nil {
		return err
	}
	c.ChatModel = chatModel

	images := ai.NewImageClient(ai.ImageClientConfig{
		BaseURL:      cfg.Image.BaseURL,
		APIKey:       c.Secrets.GetSecretWithDefault(ctx, "image_api_key", cfg.Image.APIKey),
		Model:        cfg.Image.Model,
		Size:         cfg.Image.Size,
		FetchRetries: cfg.Image.FetchRetry,
	}, c.ImageGuard, c.Logger)

	c.Generation = service.NewGenerationService(ai.NewCompletionService(chatModel, c.LLMGuard), images, c.Logger)
	return nil
}

func (c *Container) setupHealth() {
	c.Health = health.NewChecker(c.Logger, 30*time.Second)

	c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if c.Redis != nil {
		c.Health.RegisterRedisCheck(c.Redis.Ping)
		c.Health.RegisterBacklogCheck("chat_log_spool", "records awaiting replay", c.ChatLogs.SpoolDepth)
	}
	c.Health.RegisterGaugeCheck("sessions", "active sessions", c.Registry.Len)
	c.Health.RegisterGaugeCheck("connections", "open sockets", c.Hub.Len)
	for _, guard := range []*ai.Guard{c.LLMGuard, c.ImageGuard} {
		breaker := guard.Breaker()
		c.Health.RegisterBreakerCheck("provider_"+breaker.Name(), func() string {
			return string(breaker.GetState())
		})
	}

	if c.Config.Server.GRPCHealthPort != "" {
		c.GRPCHealth = health.NewGRPCServer(c.Health, c.Logger)
	}
}

// Start launches the background loops. They stop on Close or when ctx ends.
func (c *Container) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.SecretCache.Run(ctx)
	go c.RateLimiter.Run(ctx)
	go c.Health.Run(ctx)
	c.ChatLogs.Start(ctx)

	if c.GRPCHealth != nil {
		go func() {
			if err := c.GRPCHealth.Serve(ctx, ":"+c.Config.Server.GRPCHealthPort); err != nil {
				c.Logger.LogError(err, "gRPC health server stopped")
			}
		}()
	}
}

// Close disconnects sockets, drains the chat log queue and releases
// connections, in that order
func (c *Container) Close(ctx context.Context) error {
	var errs []error

	if err := c.Hub.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("socket shutdown: %w", err))
	}
	if err := c.ChatLogs.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("chat log drain: %w", err))
	}
	if c.cancel != nil {
		c.cancel()
	}

	if c.shutdownTracing != nil {
		if err := c.shutdownTracing(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.shutdownMetrics != nil {
		if err := c.shutdownMetrics(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
