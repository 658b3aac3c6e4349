package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionBindingStore recuerda el chat activo de cada cliente entre requests.
type SessionBindingStore interface {
	Get(ctx context.Context, clientKey string) (string, bool, error)
	Bind(ctx context.Context, clientKey, chatID string, ttl time.Duration) error
}

type binding struct {
	chatID    string
	expiresAt time.Time
}

// memorySweepInterval espacia los barridos de entradas vencidas dentro de Bind.
const memorySweepInterval = time.Minute

type memorySessionBindingStore struct {
	mu        sync.Mutex
	items     map[string]binding
	now       func() time.Time
	lastSweep time.Time
}

func NewMemorySessionBindingStore() SessionBindingStore {
	return &memorySessionBindingStore{
		items: make(map[string]binding),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *memorySessionBindingStore) Get(_ context.Context, clientKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[clientKey]
	if !ok {
		return "", false, nil
	}
	if s.now().After(b.expiresAt) {
		delete(s.items, clientKey)
		return "", false, nil
	}
	return b.chatID, true, nil
}

func (s *memorySessionBindingStore) Bind(_ context.Context, clientKey, chatID string, ttl time.Duration) error {
	if strings.TrimSpace(clientKey) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastSweep) >= memorySweepInterval {
		s.sweep(now)
	}
	s.items[clientKey] = binding{chatID: chatID, expiresAt: now.Add(ttl)}
	return nil
}

// sweep borra las asociaciones vencidas; se llama con mu tomado.
func (s *memorySessionBindingStore) sweep(now time.Time) {
	for key, b := range s.items {
		if now.After(b.expiresAt) {
			delete(s.items, key)
		}
	}
	s.lastSweep = now
}

// redisKVClient es el subconjunto de *redis.Client que usan los stores.
type redisKVClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisSessionBindingStore struct {
	client redisKVClient
	prefix string
}

func NewRedisSessionBindingStore(client *redis.Client) SessionBindingStore {
	if client == nil {
		return nil
	}
	return &redisSessionBindingStore{
		client: client,
		prefix: "chat:bind:",
	}
}

func (s *redisSessionBindingStore) Get(ctx context.Context, clientKey string) (string, bool, error) {
	if strings.TrimSpace(clientKey) == "" {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	chatID, err := s.client.Get(ctx, s.prefix+clientKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return chatID, true, nil
}

func (s *redisSessionBindingStore) Bind(ctx context.Context, clientKey, chatID string, ttl time.Duration) error {
	if strings.TrimSpace(clientKey) == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return s.client.Set(ctx, s.prefix+clientKey, chatID, ttl).Err()
}
