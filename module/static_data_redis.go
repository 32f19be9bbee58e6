package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by RedisStaticData.
// Keeping it as an interface enables miniredis-backed clients in tests.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisStaticDataConfig holds configuration for the staticdata.redis module.
type RedisStaticDataConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisStaticData is the staticdata.redis module. Values live at
// "<prefix><scope>:<key>" and never expire.
type RedisStaticData struct {
	name   string
	cfg    RedisStaticDataConfig
	client RedisClient
	logger modular.Logger
}

// NewRedisStaticData creates a new RedisStaticData module.
func NewRedisStaticData(name string, cfg RedisStaticDataConfig) *RedisStaticData {
	return &RedisStaticData{name: name, cfg: cfg, logger: &noopLogger{}}
}

// NewRedisStaticDataWithClient creates a store backed by a pre-built client.
func NewRedisStaticDataWithClient(name string, cfg RedisStaticDataConfig, client RedisClient) *RedisStaticData {
	return &RedisStaticData{name: name, cfg: cfg, client: client, logger: &noopLogger{}}
}

func (r *RedisStaticData) Name() string { return r.name }

func (r *RedisStaticData) Init(app modular.Application) error {
	r.logger = app.Logger()
	return nil
}

// Start connects to Redis and verifies the connection with PING.
func (r *RedisStaticData) Start(ctx context.Context) error {
	if r.client != nil {
		return nil
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:     r.cfg.Address,
		Password: r.cfg.Password,
		DB:       r.cfg.DB,
	})

	if err := r.client.Ping(ctx).Err(); err != nil {
		_ = r.client.Close()
		r.client = nil
		return fmt.Errorf("staticdata.redis %q: ping failed: %w", r.name, err)
	}

	r.logger.Info("Redis static data started", "name", r.name, "address", r.cfg.Address)
	return nil
}

// Stop closes the Redis connection.
func (r *RedisStaticData) Stop(_ context.Context) error {
	if r.client == nil {
		return nil
	}
	r.logger.Info("Redis static data stopped", "name", r.name)
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *RedisStaticData) Get(ctx context.Context, scope, key string) (string, bool, error) {
	if r.client == nil {
		return "", false, fmt.Errorf("staticdata.redis %q: not started", r.name)
	}
	val, err := r.client.Get(ctx, r.key(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("staticdata.redis %q: get %s: %w", r.name, key, err)
	}
	return val, true, nil
}

func (r *RedisStaticData) Set(ctx context.Context, scope, key, value string) error {
	if r.client == nil {
		return fmt.Errorf("staticdata.redis %q: not started", r.name)
	}
	if err := r.client.Set(ctx, r.key(scope, key), value, 0).Err(); err != nil {
		return fmt.Errorf("staticdata.redis %q: set %s: %w", r.name, key, err)
	}
	return nil
}

func (r *RedisStaticData) Delete(ctx context.Context, scope, key string) error {
	if r.client == nil {
		return fmt.Errorf("staticdata.redis %q: not started", r.name)
	}
	if err := r.client.Del(ctx, r.key(scope, key)).Err(); err != nil {
		return fmt.Errorf("staticdata.redis %q: delete %s: %w", r.name, key, err)
	}
	return nil
}

func (r *RedisStaticData) key(scope, key string) string {
	return r.cfg.Prefix + scope + ":" + key
}

func (r *RedisStaticData) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: r.name, Description: "Redis static data store", Instance: r},
	}
}

func (r *RedisStaticData) RequiresServices() []modular.ServiceDependency {
	return nil
}
