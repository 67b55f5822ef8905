// Package redis stores a document under a single Redis key. Updates run as
// optimistic WATCH/MULTI transactions and announce themselves on a pub/sub
// channel so other processes sharing the key can observe changes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-users/storage"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis document.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// Key is the Redis key holding the document.
	// Default: "mcp:users:document"
	Key string

	// Channel is the pub/sub channel used to announce updates.
	// Default: Key + ":changed"
	Channel string

	// MaxRetries bounds how many times an update is retried after losing a
	// WATCH race to another writer.
	// Default: 16
	MaxRetries int
}

// Document implements storage.Document and storage.Watcher on Redis.
type Document struct {
	client     *redis.Client
	key        string
	channel    string
	maxRetries int
}

var (
	_ storage.Document = (*Document)(nil)
	_ storage.Watcher  = (*Document)(nil)
)

// New creates a Redis-backed document.
func New(config Config) (*Document, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.Key == "" {
		config.Key = "mcp:users:document"
	}
	if config.Channel == "" {
		config.Channel = config.Key + ":changed"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 16
	}

	return &Document{
		client:     config.Client,
		key:        config.Key,
		channel:    config.Channel,
		maxRetries: config.MaxRetries,
	}, nil
}

func (d *Document) Load(ctx context.Context) ([]byte, error) {
	b, err := d.client.Get(ctx, d.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", d.key, err)
	}
	return b, nil
}

func (d *Document) Update(ctx context.Context, fn storage.UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, d.key).Bytes()
		if errors.Is(err, redis.Nil) {
			cur = nil
		} else if err != nil {
			return fmt.Errorf("failed to get key %s: %w", d.key, err)
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, d.key, next, 0)
			pipe.Publish(ctx, d.channel, "updated")
			return nil
		})
		return err
	}

	for attempt := 0; attempt < d.maxRetries; attempt++ {
		err := d.client.Watch(ctx, txf, d.key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			slog.DebugContext(ctx, "redis.update.conflict", slog.String("key", d.key), slog.Int("attempt", attempt+1))
			continue
		}
		return err
	}
	return storage.ErrConflict
}

// Watch subscribes to the document's update channel until ctx is done.
// Only writes made through a Document publish; a raw SET on the key from
// another tool is not observed.
func (d *Document) Watch(ctx context.Context, onChange func()) error {
	sub := d.client.Subscribe(ctx, d.channel)
	defer func() {
		_ = sub.Close()
	}()

	// Wait for the subscription to be confirmed so no update is missed
	// between Watch returning control and the first publish.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", d.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			onChange()
		}
	}
}

// Close closes the underlying client.
func (d *Document) Close() error {
	return d.client.Close()
}
