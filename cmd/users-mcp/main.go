// Command users-mcp serves the users MCP server over stdin/stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ggoodman/mcp-users/internal/config"
	"github.com/ggoodman/mcp-users/internal/logctx"
	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/stdio"
	"github.com/ggoodman/mcp-users/storage"
	"github.com/ggoodman/mcp-users/storage/file"
	"github.com/ggoodman/mcp-users/storage/memory"
	"github.com/ggoodman/mcp-users/storage/redis"
	"github.com/ggoodman/mcp-users/userserver"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "users-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	lv := new(slog.LevelVar)
	level, _ := cfg.SlogLevel()
	lv.Set(level)
	log := newLogger(cfg.Logging.Format, lv)
	slog.SetDefault(log)

	doc, err := openDocument(ctx, cfg.Store)
	if err != nil {
		return err
	}

	srv, err := userserver.New(doc,
		userserver.WithServerInfo(mcp.ImplementationInfo{Name: cfg.Server.Name, Version: cfg.Server.Version}),
		userserver.WithInstructions(cfg.Server.Instructions),
		userserver.WithLogLevel(lv),
	)
	if err != nil {
		_ = doc.Close()
		return err
	}
	defer srv.Close()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	watchDone := make(chan struct{})
	if cfg.Store.Watch {
		go func() {
			defer close(watchDone)
			if err := srv.Watch(ctx); err != nil {
				log.ErrorContext(ctx, "watch.fail", slog.String("err", err.Error()))
			}
		}()
	} else {
		close(watchDone)
	}

	log.InfoContext(ctx, "users-mcp.start",
		slog.String("backend", cfg.Store.Backend),
		slog.Bool("watch", cfg.Store.Watch))

	err = stdio.NewHandler(srv.Capabilities(), stdio.WithLogger(log)).Serve(ctx)
	interrupted := ctx.Err() != nil

	stop()
	<-watchDone
	log.Info("users-mcp.stop", slog.Bool("interrupted", interrupted))
	if err != nil && !interrupted {
		return fmt.Errorf("serve stdio: %w", err)
	}
	return nil
}

func newLogger(format string, lv *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logctx.NewHandler(h))
}

func openDocument(ctx context.Context, cfg config.StoreConfig) (storage.Document, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(nil), nil
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		doc, err := redis.New(redis.Config{Client: client, Key: cfg.RedisKey})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return doc, nil
	default:
		var opts []file.Option
		if cfg.WatchDebounce > 0 {
			opts = append(opts, file.WithDebounce(cfg.WatchDebounce))
		}
		doc, err := file.New(cfg.Path, opts...)
		if err != nil {
			return nil, fmt.Errorf("open users file: %w", err)
		}
		return doc, nil
	}
}
