package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medihelp/internal/redis"
)

// ErrChatInFlight is returned when a session already has a chat running.
var ErrChatInFlight = errors.New("chat already in flight for session")

const (
	guardKeyPrefix  = "medihelp:chat:"
	defaultGuardTTL = 5 * time.Minute
)

// Guard allows at most one in-flight chat per session key.
type Guard interface {
	// Acquire claims key. The returned release must be called once the chat
	// finishes; it is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, ErrChatInFlight
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// RedisGuard shares the in-flight set between server instances. Keys expire
// after ttl so a crashed instance cannot hold a session forever.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGuard{client: client, ttl: ttl, logger: logger}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := guardKeyPrefix + key
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, redisKey, token, g.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChatInFlight
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be gone
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := g.client.ReleaseIf(releaseCtx, redisKey, token); err != nil {
				g.logger.Warn("release chat guard", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
