package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"helpdesk-chat/internal/domain"
	"helpdesk-chat/internal/repository"
)

// RateStatus es el estado derivado de la ventana deslizante para una conversación.
type RateStatus struct {
	Count        int
	Limit        int
	Remaining    int
	LimitReached bool
	RetryAfter   time.Duration
}

// RemainingSeconds redondea RetryAfter hacia abajo en segundos.
func (s RateStatus) RemainingSeconds() int {
	return int(s.RetryAfter / time.Second)
}

// RateCache guarda el último conteo calculado por conversación.
// Set descarta el conteo si la generación cambió desde que se leyó con Generation.
type RateCache interface {
	Get(ctx context.Context, ref domain.ChatRef) (count int, oldest time.Time, ok bool)
	Generation(ctx context.Context, ref domain.ChatRef) (string, bool)
	Set(ctx context.Context, ref domain.ChatRef, generation string, count int, oldest time.Time)
	Invalidate(ctx context.Context, ref domain.ChatRef)
}

// RateWindow limita los mensajes de usuario por conversación dentro de una ventana móvil.
// Se recalcula contra el store en cada request; la caché es opcional.
type RateWindow struct {
	messageRepo repository.MessageRepository
	cache       RateCache
	limit       int
	window      time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewRateWindow(messageRepo repository.MessageRepository, cache RateCache, limit int, window time.Duration, logger *zap.Logger) *RateWindow {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateWindow{
		messageRepo: messageRepo,
		cache:       cache,
		limit:       limit,
		window:      window,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

func (w *RateWindow) Evaluate(ctx context.Context, ref domain.ChatRef) (RateStatus, error) {
	now := w.now()

	count, oldest, ok := w.cached(ctx, ref, now)
	if !ok {
		var generation string
		var cacheable bool
		if w.cache != nil {
			generation, cacheable = w.cache.Generation(ctx, ref)
		}
		var err error
		count, oldest, err = w.messageRepo.CountUserTurnsSince(ctx, ref.UserID, ref.ChatID, now.Add(-w.window))
		if err != nil {
			return RateStatus{}, fmt.Errorf("count user turns: %w", err)
		}
		if cacheable {
			w.cache.Set(ctx, ref, generation, count, oldest)
		}
	}

	status := RateStatus{
		Count:        count,
		Limit:        w.limit,
		Remaining:    w.limit - count,
		LimitReached: count >= w.limit,
	}
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	if status.LimitReached && !oldest.IsZero() {
		retry := oldest.Add(w.window).Sub(now)
		if retry > 0 {
			status.RetryAfter = retry
		}
	}
	return status, nil
}

// Invalidate descarta el conteo cacheado; se llama después de cada escritura.
func (w *RateWindow) Invalidate(ctx context.Context, ref domain.ChatRef) {
	if w == nil || w.cache == nil {
		return
	}
	w.cache.Invalidate(ctx, ref)
}

// cached devuelve el conteo en caché mientras ningún mensaje contado haya salido de la ventana.
func (w *RateWindow) cached(ctx context.Context, ref domain.ChatRef, now time.Time) (int, time.Time, bool) {
	if w.cache == nil {
		return 0, time.Time{}, false
	}
	count, oldest, ok := w.cache.Get(ctx, ref)
	if !ok {
		return 0, time.Time{}, false
	}
	if !oldest.IsZero() && oldest.Add(w.window).Before(now) {
		w.logger.Debug("rate cache entry aged out", zap.String("chat_id", ref.ChatID))
		return 0, time.Time{}, false
	}
	return count, oldest, true
}
