package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	_ interfaces.CredentialCache = (*redisCredentialCache)(nil)
	_ interfaces.CredentialCache = (*MemoryCredentialCache)(nil)
)

// credentialTTL - сколько живут сохранённые учётные данные (refresh token Firebase не истекает сам).
const credentialTTL = 30 * 24 * time.Hour

type redisCredentialCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCredentialCache creates a Redis-backed CredentialCache.
func NewRedisCredentialCache(client *redis.Client, logger *zap.Logger) interfaces.CredentialCache {
	return &redisCredentialCache{
		client: client,
		logger: logger.Named("RedisCredentialCache"),
	}
}

func credentialKey(scope string) string {
	return fmt.Sprintf("credentials:%s", scope)
}

// Load implements interfaces.CredentialCache.
func (r *redisCredentialCache) Load(ctx context.Context, scope string) (*models.Identity, error) {
	key := credentialKey(scope)
	r.logger.Debug("Getting credentials from Redis", zap.String("key", key))
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNoSession
	}
	if err != nil {
		r.logger.Error("Failed to get credentials from redis", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get credentials from redis: %w", err)
	}

	var identity models.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		// Битую запись считаем отсутствующей, её перезапишет следующий вход
		r.logger.Warn("Corrupted credentials in redis, ignoring", zap.String("key", key), zap.Error(err))
		return nil, models.ErrNoSession
	}
	return &identity, nil
}

// Save implements interfaces.CredentialCache.
func (r *redisCredentialCache) Save(ctx context.Context, scope string, identity *models.Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	key := credentialKey(scope)
	if err := r.client.Set(ctx, key, data, credentialTTL).Err(); err != nil {
		r.logger.Error("Failed to set credentials in redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set credentials in redis: %w", err)
	}
	r.logger.Debug("Credentials stored in Redis", zap.String("key", key), zap.String("uid", identity.UID))
	return nil
}

// Delete implements interfaces.CredentialCache.
func (r *redisCredentialCache) Delete(ctx context.Context, scope string) error {
	key := credentialKey(scope)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Error("Failed to delete credentials from redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete credentials from redis: %w", err)
	}
	return nil
}

// MemoryCredentialCache хранит учётные данные только на время жизни процесса.
type MemoryCredentialCache struct {
	mu    sync.Mutex
	items map[string]models.Identity
}

func NewMemoryCredentialCache() *MemoryCredentialCache {
	return &MemoryCredentialCache{items: make(map[string]models.Identity)}
}

func (m *MemoryCredentialCache) Load(_ context.Context, scope string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.items[scope]
	if !ok {
		return nil, models.ErrNoSession
	}
	return &identity, nil
}

func (m *MemoryCredentialCache) Save(_ context.Context, scope string, identity *models.Identity) error {
	if identity == nil {
		return errors.New("nil identity")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[scope] = *identity
	return nil
}

func (m *MemoryCredentialCache) Delete(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, scope)
	return nil
}
