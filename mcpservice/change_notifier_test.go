package mcpservice

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ggoodman/mcp-users/mcp"
)

func TestChangeNotifier_CoalescesTicks(t *testing.T) {
	var cn ChangeNotifier
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := cn.Subscribe(ctx)
	_ = cn.Notify(ctx)
	_ = cn.Notify(ctx)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("expected a tick")
	}
	select {
	case <-ch:
		t.Fatalf("expected ticks to coalesce")
	default:
	}
}

func TestChangeNotifier_ContextCancelClosesChannel(t *testing.T) {
	var cn ChangeNotifier
	ctx, cancel := context.WithCancel(context.Background())
	ch := cn.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("channel not closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func TestChangeNotifier_Close(t *testing.T) {
	var cn ChangeNotifier
	ch := cn.Subscribe(context.Background())
	cn.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if _, ok := <-cn.Subscribe(context.Background()); ok {
		t.Fatalf("subscribe after close should be closed")
	}
	if err := cn.Notify(context.Background()); err != nil {
		t.Fatalf("Notify after close: %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[mcp.LoggingLevel]slog.Level{
		mcp.LoggingLevelDebug:     slog.LevelDebug,
		mcp.LoggingLevelInfo:      slog.LevelInfo,
		mcp.LoggingLevelNotice:    slog.LevelInfo,
		mcp.LoggingLevelWarning:   slog.LevelWarn,
		mcp.LoggingLevelError:     slog.LevelError,
		mcp.LoggingLevelEmergency: slog.LevelError,
	}
	for in, want := range cases {
		got, ok := SlogLevel(in)
		if !ok || got != want {
			t.Errorf("SlogLevel(%s) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := SlogLevel("loud"); ok {
		t.Fatalf("unknown level accepted")
	}
}

func TestSlogLevelVarLogging_SetLevel(t *testing.T) {
	var lv slog.LevelVar
	l := NewSlogLevelVarLogging(&lv)
	if err := l.SetLevel(context.Background(), testSession, mcp.LoggingLevelWarning); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if lv.Level() != slog.LevelWarn {
		t.Fatalf("level = %v", lv.Level())
	}
	if err := l.SetLevel(context.Background(), testSession, "loud"); err != ErrInvalidLoggingLevel {
		t.Fatalf("SetLevel invalid = %v", err)
	}
}
