package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"helpdesk-chat/internal/app"
	"helpdesk-chat/internal/config"
	apihttp "helpdesk-chat/internal/http"
	"helpdesk-chat/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	chat, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("build chat", zap.Error(err))
	}
	defer chat.Close()

	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}
	jwtSvc := service.NewJWTService(cfg.JWTSecret, 0)

	chatHandler := apihttp.NewChatHandler(logger, chat.Relay, chat.Attachments.MaxBytes(), cfg.SessionBindingTTL, cfg.CookieSecure)
	opts := apihttp.RouterOptions{
		Health:  chat.Store,
		Metrics: promhttp.HandlerFor(chat.Registry, promhttp.HandlerOpts{}),
	}
	if chat.MediaDir != "" && strings.HasPrefix(cfg.AttachmentBaseURL, "/") {
		opts.MediaPath = cfg.AttachmentBaseURL
		opts.MediaDir = chat.MediaDir
	}
	router, err := apihttp.NewRouter(logger, jwtSvc, chatHandler, chat.Models, opts)
	if err != nil {
		logger.Fatal("build router", zap.Error(err))
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PersistTimeout+5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
		// Las escrituras de streams ya cerrados siguen en curso.
		if err := chat.Drain(shutdownCtx); err != nil {
			logger.Warn("pending writes not drained", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}
