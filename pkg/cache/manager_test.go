//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(context.Background())
	})

	return client
}

func TestManager_RoundTrip(t *testing.T) {
	m := NewManager(setupRedis(t))
	ctx := context.Background()

	key := Key{
		APIType: "wb_sales",
		From:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC),
	}

	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() on empty cache = %v, want ErrCacheMiss", err)
	}

	payload := []byte(`[{"saleID":"S1"},{"saleID":"S2"}]`)
	if err := m.Set(ctx, key, payload, 2, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entry, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(entry.Payload) != string(payload) {
		t.Errorf("Payload = %s, want %s", entry.Payload, payload)
	}
	if entry.Count != 2 {
		t.Errorf("Count = %d, want 2", entry.Count)
	}

	if err := m.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after delete = %v, want ErrCacheMiss", err)
	}
}

func TestManager_ZeroTTLSkipsStore(t *testing.T) {
	m := NewManager(setupRedis(t))
	ctx := context.Background()

	key := Key{
		APIType: "wb_stocks",
		From:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := m.Set(ctx, key, []byte(`[]`), 0, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := m.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() = %v, want ErrCacheMiss (zero TTL must not store)", err)
	}
}
