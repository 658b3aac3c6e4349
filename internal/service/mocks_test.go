package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"helpdesk-chat/internal/domain"
)

// memMessageRepo replica la semántica de los repositorios reales en memoria.
type memMessageRepo struct {
	mu        sync.Mutex
	msgs      []domain.Message
	createErr error
	listErr   error
	countErr  error

	listCalls  int
	countCalls int
}

func (m *memMessageRepo) Create(_ context.Context, message domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.msgs = append(m.msgs, message)
	return nil
}

func (m *memMessageRepo) ListRecent(_ context.Context, userID, chatID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.UserID == userID && msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessageRepo) CountUserTurnsSince(_ context.Context, userID, chatID string, since time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countCalls++
	if m.countErr != nil {
		return 0, time.Time{}, m.countErr
	}
	var count int
	var oldest time.Time
	for _, msg := range m.msgs {
		if msg.UserID != userID || msg.ChatID != chatID || msg.UserMessage == "" || msg.CreatedAt.Before(since) {
			continue
		}
		count++
		if oldest.IsZero() || msg.CreatedAt.Before(oldest) {
			oldest = msg.CreatedAt
		}
	}
	return count, oldest, nil
}

func (m *memMessageRepo) saved() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

type mockRedisKVClient struct {
	values map[string]string

	lastSetKey string
	lastSetVal interface{}
	lastSetTTL time.Duration
	lastDel    []string

	getErr  error
	setErr  error
	delErr  error
	evalErr error
}

func newMockRedisKVClient() *mockRedisKVClient {
	return &mockRedisKVClient{values: make(map[string]string)}
}

func (m *mockRedisKVClient) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if m.getErr != nil {
		cmd.SetErr(m.getErr)
		return cmd
	}
	v, ok := m.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (m *mockRedisKVClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.lastSetKey = key
	m.lastSetVal = value
	m.lastSetTTL = expiration
	cmd := redis.NewStatusCmd(ctx)
	if m.setErr != nil {
		cmd.SetErr(m.setErr)
		return cmd
	}
	if s, ok := value.(string); ok {
		m.values[key] = s
	}
	cmd.SetVal("OK")
	return cmd
}

func (m *mockRedisKVClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.lastDel = keys
	cmd := redis.NewIntCmd(ctx)
	if m.delErr != nil {
		cmd.SetErr(m.delErr)
		return cmd
	}
	for _, k := range keys {
		delete(m.values, k)
	}
	cmd.SetVal(int64(len(keys)))
	return cmd
}

// Eval reproduce los scripts de la caché de conteos sobre el mapa en memoria.
func (m *mockRedisKVClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	if m.evalErr != nil {
		cmd.SetErr(m.evalErr)
		return cmd
	}
	switch script {
	case redisRateSetScript:
		gen, ok := m.values[keys[1]]
		if !ok {
			gen = "0"
		}
		if gen != args[0].(string) {
			cmd.SetVal(int64(0))
			return cmd
		}
		m.values[keys[0]] = args[1].(string)
		cmd.SetVal(int64(1))
	case redisRateInvalidateScript:
		n, _ := strconv.Atoi(m.values[keys[1]])
		m.values[keys[1]] = strconv.Itoa(n + 1)
		delete(m.values, keys[0])
		m.lastDel = []string{keys[0]}
		cmd.SetVal(int64(1))
	default:
		cmd.SetErr(errors.New("unexpected script"))
	}
	return cmd
}

var errStoreDown = errors.New("store down")
