package redis

import (
	"context"
	"fmt"
	"testing"

	"github.com/ggoodman/mcp-users/storage"
	"github.com/ggoodman/mcp-users/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

func TestRedisDocumentConformance(t *testing.T) {
	// Skip test if Redis is not available
	probe := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 2})
	ctx := context.Background()
	if err := probe.Ping(ctx).Err(); err != nil {
		_ = probe.Close()
		t.Skipf("Redis not available: %v", err)
	}
	defer func() {
		probe.FlushDB(ctx)
		_ = probe.Close()
	}()

	n := 0
	storagetest.RunDocumentTests(t, func(t *testing.T) storage.Document {
		n++
		doc, err := New(Config{
			Client:     redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 2}),
			Key:        fmt.Sprintf("test:users:%s:%d", t.Name(), n),
			MaxRetries: 1000,
		})
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		return doc
	})
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
}
