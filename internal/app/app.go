// Package app arma el núcleo del chat a partir de la configuración.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"helpdesk-chat/internal/config"
	"helpdesk-chat/internal/db"
	"helpdesk-chat/internal/guardrail"
	"helpdesk-chat/internal/llm"
	"helpdesk-chat/internal/observability"
	"helpdesk-chat/internal/repository"
	"helpdesk-chat/internal/service"
	"helpdesk-chat/internal/storage"
)

// MessageStore es el repositorio de mensajes más su chequeo de salud.
type MessageStore interface {
	repository.MessageRepository
	Ping(ctx context.Context) error
}

// AttachmentStore guarda adjuntos y resuelve sus URLs.
type AttachmentStore interface {
	service.AttachmentSaver
	service.AttachmentURLResolver
}

// Options ajusta el armado según quién lo usa.
type Options struct {
	// SyncPersistence escribe el intercambio antes de volver, incluso en streaming.
	SyncPersistence bool
	// Bridge reemplaza el backend real; útil en tests.
	Bridge llm.Bridge
}

// Chat agrupa las piezas listas para servir.
type Chat struct {
	Relay       *service.Relay
	Attachments *service.AttachmentProcessor
	Models      *llm.ModelRegistry
	Metrics     *observability.ChatMetrics
	Registry    *prometheus.Registry
	Store       MessageStore
	Dispatcher  *service.AsyncDispatcher
	MediaDir    string

	closers []func()
}

// Build conecta store, caché, almacenamiento de adjuntos, filtro y backend.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Chat, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ch := &Chat{}

	store, err := ch.openStore(ctx, cfg)
	if err != nil {
		ch.Close()
		return nil, err
	}
	ch.Store = store

	attachments, err := ch.openAttachments(ctx, cfg)
	if err != nil {
		ch.Close()
		return nil, err
	}

	bindings := service.NewMemorySessionBindingStore()
	var rateCache service.RateCache
	if client := ch.openRedis(ctx, cfg, logger); client != nil {
		bindings = service.NewRedisSessionBindingStore(client)
		rateCache = service.NewRedisRateCache(client, cfg.RateCacheTTL)
	}

	recognizer, err := guardrail.NewDefaultRecognizer()
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("load guardrail patterns: %w", err)
	}
	gate := guardrail.NewGate(recognizer,
		guardrail.WithDenylist(cfg.GuardrailDenylist),
		guardrail.WithMinLength(cfg.GuardrailMinLength),
		guardrail.WithFailOpen(cfg.GuardrailFailOpen),
		guardrail.WithLogger(logger),
	)

	ch.Registry = prometheus.NewRegistry()
	ch.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ch.Metrics = observability.NewChatMetrics(ch.Registry)

	ch.Models = llm.NewModelRegistry(cfg.LLMModel, cfg.LLMAllowedModels)
	bridge := opts.Bridge
	if bridge == nil {
		bridge = llm.NewOpenAIBridge(llm.Options{
			BaseURL:      cfg.LLMBaseURL,
			APIKey:       cfg.LLMAPIKey,
			SystemPrompt: cfg.LLMSystemPrompt,
			Temperature:  cfg.LLMTemperature,
			MaxTokens:    cfg.LLMMaxTokens,
			Timeout:      cfg.LLMTimeout,
			StreamBuffer: cfg.LLMStreamBuffer,
		}, ch.Models, logger)
	}

	var dispatcher service.Dispatcher = service.SyncDispatcher{Logger: logger}
	if !opts.SyncPersistence {
		ch.Dispatcher = service.NewAsyncDispatcher(cfg.PersistTimeout, logger)
		dispatcher = ch.Dispatcher
	}

	rate := service.NewRateWindow(store, rateCache, cfg.ChatRateLimit, cfg.ChatRateWindow, logger)
	recorder := service.NewExchangeRecorder(service.NewMessageService(store), attachments, rate, ch.Metrics, logger)

	ch.Attachments = service.NewAttachmentProcessor(cfg.ChatMaxUploadBytes)
	ch.Relay = service.NewRelay(
		service.NewSessionResolver(bindings, cfg.SessionBindingTTL, logger),
		service.NewHistoryWindow(store, attachments, cfg.ChatHistoryLimit),
		rate,
		gate,
		ch.Attachments,
		bridge,
		ch.Models,
		recorder,
		dispatcher,
		ch.Metrics,
		logger,
	)
	return ch, nil
}

// Drain espera las escrituras pendientes del streaming.
func (c *Chat) Drain(ctx context.Context) error {
	if c.Dispatcher == nil {
		return nil
	}
	return c.Dispatcher.Wait(ctx)
}

// Close libera conexiones en orden inverso al de apertura.
func (c *Chat) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *Chat) openStore(ctx context.Context, cfg *config.Config) (MessageStore, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = conn.Close() })
		if err := db.MigrateSQLite(ctx, conn); err != nil {
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return repository.NewSQLiteMessageRepository(conn), nil
	default:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		if err := db.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return repository.NewPgMessageRepository(pool), nil
	}
}

func (c *Chat) openAttachments(ctx context.Context, cfg *config.Config) (AttachmentStore, error) {
	if cfg.AttachmentDriver == config.AttachmentDriverGCS {
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentials)
		if err != nil {
			return nil, fmt.Errorf("gcs store: %w", err)
		}
		c.closers = append(c.closers, func() { _ = gcs.Close() })
		return gcs, nil
	}
	local, err := storage.NewLocalStore(cfg.AttachmentDir, cfg.AttachmentBaseURL)
	if err != nil {
		return nil, err
	}
	c.MediaDir = local.Root()
	return local, nil
}

// openRedis devuelve nil si Redis no está configurado o no responde; el chat sigue sin caché.
func (c *Chat) openRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		logger.Warn("redis ping failed", zap.Error(err))
		_ = client.Close()
		return nil
	}
	c.closers = append(c.closers, func() { _ = client.Close() })
	return client
}
