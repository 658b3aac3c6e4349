package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"helpdesk-chat/internal/domain"
)

func seedTurns(repo *memMessageRepo, ref domain.ChatRef, start time.Time, n int, step time.Duration) {
	for i := 0; i < n; i++ {
		repo.msgs = append(repo.msgs, domain.Message{
			UserID:      ref.UserID,
			ChatID:      ref.ChatID,
			UserMessage: fmt.Sprintf("pregunta %d", i),
			AIMessage:   "ok",
			CreatedAt:   start.Add(time.Duration(i) * step),
		})
	}
}

func TestRateWindow_Evaluate(t *testing.T) {
	ref := domain.ChatRef{UserID: "u1", ChatID: "c1"}
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	t.Run("bajo el límite", func(t *testing.T) {
		repo := &memMessageRepo{}
		seedTurns(repo, ref, now.Add(-time.Hour), 3, time.Minute)
		w := NewRateWindow(repo, nil, 10, 24*time.Hour, nil)
		w.now = func() time.Time { return now }

		status, err := w.Evaluate(context.Background(), ref)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Count != 3 || status.Remaining != 7 || status.LimitReached || status.RetryAfter != 0 {
			t.Fatalf("unexpected status %+v", status)
		}
	})

	t.Run("excluye vacíos, viejos y otras conversaciones", func(t *testing.T) {
		repo := &memMessageRepo{msgs: []domain.Message{
			{UserID: "u1", ChatID: "c1", UserMessage: "", AttachmentRef: "x", CreatedAt: now.Add(-time.Minute)},
			{UserID: "u1", ChatID: "c1", UserMessage: "viejo", CreatedAt: now.Add(-25 * time.Hour)},
			{UserID: "u1", ChatID: "c2", UserMessage: "otro chat", CreatedAt: now.Add(-time.Minute)},
			{UserID: "u2", ChatID: "c1", UserMessage: "otro usuario", CreatedAt: now.Add(-time.Minute)},
			{UserID: "u1", ChatID: "c1", UserMessage: "cuenta", CreatedAt: now.Add(-time.Minute)},
		}}
		w := NewRateWindow(repo, nil, 10, 24*time.Hour, nil)
		w.now = func() time.Time { return now }

		status, err := w.Evaluate(context.Background(), ref)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Count != 1 {
			t.Fatalf("expected count 1, got %+v", status)
		}
	})

	t.Run("límite alcanzado con espera", func(t *testing.T) {
		repo := &memMessageRepo{}
		oldest := now.Add(-20 * time.Hour)
		seedTurns(repo, ref, oldest, 10, time.Hour)
		w := NewRateWindow(repo, nil, 10, 24*time.Hour, nil)
		w.now = func() time.Time { return now }

		status, err := w.Evaluate(context.Background(), ref)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !status.LimitReached || status.Remaining != 0 {
			t.Fatalf("expected limit reached, got %+v", status)
		}
		if status.RetryAfter != 4*time.Hour || status.RemainingSeconds() != 4*3600 {
			t.Fatalf("expected 4h retry, got %s", status.RetryAfter)
		}
	})

	t.Run("error del repositorio", func(t *testing.T) {
		w := NewRateWindow(&memMessageRepo{countErr: errStoreDown}, nil, 10, time.Hour, nil)
		if _, err := w.Evaluate(context.Background(), ref); !errors.Is(err, errStoreDown) {
			t.Fatalf("expected wrapped error, got %v", err)
		}
	})
}

func TestRateWindow_CacheInvalidation(t *testing.T) {
	ref := domain.ChatRef{UserID: "u1", ChatID: "c1"}
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	repo := &memMessageRepo{}
	seedTurns(repo, ref, now.Add(-time.Hour), 2, time.Minute)

	kv := newMockRedisKVClient()
	cache := &redisRateCache{client: kv, ttl: time.Minute, prefix: "chat:rl:"}
	w := NewRateWindow(repo, cache, 3, 24*time.Hour, nil)
	w.now = func() time.Time { return now }
	ctx := context.Background()

	if s, _ := w.Evaluate(ctx, ref); s.Count != 2 {
		t.Fatalf("expected 2, got %+v", s)
	}
	if s, _ := w.Evaluate(ctx, ref); s.Count != 2 || repo.countCalls != 1 {
		t.Fatalf("expected cached count, calls=%d", repo.countCalls)
	}

	seedTurns(repo, ref, now.Add(-time.Second), 1, 0)
	w.Invalidate(ctx, ref)
	if len(kv.lastDel) != 1 || kv.lastDel[0] != "chat:rl:u1:c1" {
		t.Fatalf("unexpected invalidated keys %+v", kv.lastDel)
	}

	s, _ := w.Evaluate(ctx, ref)
	if s.Count != 3 || !s.LimitReached || repo.countCalls != 2 {
		t.Fatalf("expected fresh count 3 with limit reached, got %+v calls=%d", s, repo.countCalls)
	}
}

// writeDuringCountRepo simula una escritura que termina mientras Evaluate está contando.
type writeDuringCountRepo struct {
	*memMessageRepo
	onCount func()
}

func (r *writeDuringCountRepo) CountUserTurnsSince(ctx context.Context, userID, chatID string, since time.Time) (int, time.Time, error) {
	count, oldest, err := r.memMessageRepo.CountUserTurnsSince(ctx, userID, chatID, since)
	if r.onCount != nil {
		hook := r.onCount
		r.onCount = nil
		hook()
	}
	return count, oldest, err
}

func TestRateWindow_WriteDuringCountIsNotHidden(t *testing.T) {
	ref := domain.ChatRef{UserID: "u1", ChatID: "c1"}
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	repo := &writeDuringCountRepo{memMessageRepo: &memMessageRepo{}}
	seedTurns(repo.memMessageRepo, ref, now.Add(-time.Hour), 9, time.Minute)

	kv := newMockRedisKVClient()
	cache := &redisRateCache{client: kv, ttl: time.Minute, prefix: "chat:rl:"}
	w := NewRateWindow(repo, cache, 10, 24*time.Hour, nil)
	w.now = func() time.Time { return now }
	ctx := context.Background()

	repo.onCount = func() {
		seedTurns(repo.memMessageRepo, ref, now.Add(-time.Second), 1, 0)
		w.Invalidate(ctx, ref)
	}

	first, err := w.Evaluate(ctx, ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Count != 9 {
		t.Fatalf("expected pre-write count 9, got %+v", first)
	}
	if _, ok := kv.values["chat:rl:u1:c1"]; ok {
		t.Fatalf("stale count must not be cached after a concurrent invalidation")
	}

	second, err := w.Evaluate(ctx, ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Count != 10 || !second.LimitReached {
		t.Fatalf("expected 10 stored turns to reach the limit, got %+v", second)
	}
	if _, ok := kv.values["chat:rl:u1:c1"]; !ok {
		t.Fatalf("expected fresh count to be cached")
	}
}

func TestRateWindow_CacheSkippedWhenGenerationUnavailable(t *testing.T) {
	ref := domain.ChatRef{UserID: "u1", ChatID: "c1"}
	repo := &memMessageRepo{}
	kv := newMockRedisKVClient()
	kv.getErr = errors.New("boom")
	cache := &redisRateCache{client: kv, ttl: time.Minute, prefix: "chat:rl:"}
	w := NewRateWindow(repo, cache, 10, 24*time.Hour, nil)

	if _, err := w.Evaluate(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kv.values) != 0 {
		t.Fatalf("expected nothing cached, got %+v", kv.values)
	}
}

func TestRateWindow_CacheAgedOut(t *testing.T) {
	ref := domain.ChatRef{UserID: "u1", ChatID: "c1"}
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	repo := &memMessageRepo{}
	seedTurns(repo, ref, now.Add(-23*time.Hour), 1, 0)

	kv := newMockRedisKVClient()
	cache := &redisRateCache{client: kv, ttl: time.Hour, prefix: "chat:rl:"}
	w := NewRateWindow(repo, cache, 10, 24*time.Hour, nil)
	w.now = func() time.Time { return now }

	if s, _ := w.Evaluate(context.Background(), ref); s.Count != 1 {
		t.Fatalf("expected 1, got %+v", s)
	}
	now = now.Add(2 * time.Hour)
	if s, _ := w.Evaluate(context.Background(), ref); s.Count != 0 || repo.countCalls != 2 {
		t.Fatalf("expected aged-out entry to be recomputed, got %+v calls=%d", s, repo.countCalls)
	}
}

func TestRedisRateCache_FailsAsMiss(t *testing.T) {
	kv := newMockRedisKVClient()
	kv.getErr = errors.New("boom")
	cache := &redisRateCache{client: kv, ttl: time.Minute, prefix: "chat:rl:"}
	if _, _, ok := cache.Get(context.Background(), domain.ChatRef{UserID: "u", ChatID: "c"}); ok {
		t.Fatalf("expected miss on redis error")
	}

	kv = newMockRedisKVClient()
	kv.values["chat:rl:u:c"] = "garbage"
	cache.client = kv
	if _, _, ok := cache.Get(context.Background(), domain.ChatRef{UserID: "u", ChatID: "c"}); ok {
		t.Fatalf("expected miss on malformed value")
	}
}
