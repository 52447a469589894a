package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupMiniRedis creates a test Redis server using miniredis, the same
// in-process stand-in the teacher uses to exercise RedisCache without a
// real redis-server dependency.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cache := &RedisCache{
		client: client,
		logger: zerolog.Nop(),
	}

	return mr, cache
}

func TestRedisCacheSetGet(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("subject:42", "Spy x Family", 5*time.Minute)

	val, found := cache.Get("subject:42")
	if !found {
		t.Fatal("expected value to be found")
	}
	if val != "Spy x Family" {
		t.Errorf("expected 'Spy x Family', got %v", val)
	}

	stats := cache.Stats()
	if stats.Sets != 1 {
		t.Errorf("expected 1 set, got %d", stats.Sets)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
}

func TestRedisCacheGetMissing(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	val, found := cache.Get("nonexistent")
	if found {
		t.Error("expected value to not be found")
	}
	if val != nil {
		t.Errorf("expected nil value, got %v", val)
	}

	stats := cache.Stats()
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestRedisCacheTTLExpires(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("ttl-key", "ttl-value", 100*time.Millisecond)

	val, found := cache.Get("ttl-key")
	if !found {
		t.Fatal("expected value to be found immediately")
	}
	if val != "ttl-value" {
		t.Errorf("expected 'ttl-value', got %v", val)
	}

	mr.FastForward(200 * time.Millisecond)

	_, found = cache.Get("ttl-key")
	if found {
		t.Error("expected value to be expired")
	}
}

func TestRedisCacheDelete(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("delete-key", "delete-value", 5*time.Minute)

	_, found := cache.Get("delete-key")
	if !found {
		t.Fatal("expected value to exist before delete")
	}

	cache.Delete("delete-key")

	_, found = cache.Get("delete-key")
	if found {
		t.Error("expected value to be deleted")
	}
}

func TestRedisCacheClear(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("key1", "value1", 5*time.Minute)
	cache.Set("key2", "value2", 5*time.Minute)
	cache.Set("key3", "value3", 5*time.Minute)

	stats := cache.Stats()
	if stats.CurrentSize != 3 {
		t.Fatalf("expected 3 items, got %d", stats.CurrentSize)
	}

	cache.Clear()

	stats = cache.Stats()
	if stats.CurrentSize != 0 {
		t.Errorf("expected 0 items after clear, got %d", stats.CurrentSize)
	}

	_, found := cache.Get("key1")
	if found {
		t.Error("expected key1 to be gone after clear")
	}
}

func TestRedisCacheHealthCheck(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	if err := cache.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy connection, got %v", err)
	}

	mr.Close()
	if err := cache.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error after miniredis closed")
	}
}
