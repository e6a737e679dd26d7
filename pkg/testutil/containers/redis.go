//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisImage is the image shared by every suite.
const RedisImage = "redis:7-alpine"

// RedisContainer wraps a testcontainers Redis instance. URL is the
// redis:// form accepted by REDIS_URL; Addr is the bare host:port.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Addr      string
	Client    *redis.Client
}

// NewRedisContainer starts Redis logging at warning level. opts are passed
// through to the module, after the defaults.
func NewRedisContainer(t *testing.T, opts ...testcontainers.ContainerCustomizer) *RedisContainer {
	t.Helper()

	ctx := context.Background()

	opts = append([]testcontainers.ContainerCustomizer{
		tcredis.WithLogLevel(tcredis.LogLevelWarning),
	}, opts...)
	container, err := tcredis.Run(ctx, RedisImage, opts...)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	parsed, err := redis.ParseURL(url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to parse redis URL %q: %v", url, err)
	}

	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping redis: %v", err)
	}

	// Shared through Manager; Ryuk reaps the container.
	return &RedisContainer{
		Container: container,
		URL:       url,
		Addr:      parsed.Addr,
		Client:    client,
	}
}

// FlushAll removes every key.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}

// FlushPrefix removes the keys under prefix so suites sharing the instance
// only reset their own data.
func (r *RedisContainer) FlushPrefix(ctx context.Context, prefix string) error {
	iter := r.Client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s*: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return r.Client.Del(ctx, keys...).Err()
}
