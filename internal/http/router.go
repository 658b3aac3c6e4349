package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"helpdesk-chat/internal/service"
)

// Pinger es cualquier dependencia que pueda reportar si está viva.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterOptions agrupa las rutas opcionales del servidor.
type RouterOptions struct {
	Health    Pinger
	Metrics   http.Handler
	MediaPath string
	MediaDir  string
}

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	chatH *ChatHandler,
	models ModelAllowList,
	opts RouterOptions,
) (*gin.Engine, error) {
	if err := RegisterChatValidators(models); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}

	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), recoveryMiddleware(logger), jsonContentTypeMiddleware())

	chat := r.Group("/chat", JWTAuthMiddleware(jwtSvc))
	chat.POST("", chatH.PostChat)
	chat.POST("/stream", chatH.StreamChat)
	chat.GET("/state", chatH.GetState)

	r.GET("/healthz", healthHandler(opts.Health))
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	if opts.MediaDir != "" && opts.MediaPath != "" {
		// El file server solo detecta el tipo si el header está vacío.
		media := r.Group(opts.MediaPath, func(c *gin.Context) {
			c.Writer.Header().Del("Content-Type")
			c.Next()
		})
		media.Static("/", opts.MediaDir)
	}

	return r, nil
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// recoveryMiddleware convierte un panic en un 500 JSON.
func recoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.Error("panic recovered",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", rec),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":  "server error",
			"detail": "unexpected error",
		})
	})
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
// El endpoint de streaming lo reemplaza al abrir el cuerpo.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}

func healthHandler(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
