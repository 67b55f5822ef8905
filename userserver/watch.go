package userserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/mcp-users/storage"
)

// Watch forwards changes of the underlying document, including edits made
// outside this process, to resource subscribers. It blocks until ctx is
// done. Backends that cannot watch make it a no-op wait.
func (s *Server) Watch(ctx context.Context) error {
	w, ok := s.doc.(storage.Watcher)
	if !ok {
		slog.InfoContext(ctx, "watch.unsupported")
		<-ctx.Done()
		return nil
	}

	slog.InfoContext(ctx, "watch.start")
	s.watching.Store(true)
	defer s.watching.Store(false)
	err := w.Watch(ctx, func() {
		slog.DebugContext(ctx, "watch.event")
		_ = s.changes.Notify(ctx)
	})
	if err != nil {
		return fmt.Errorf("watch users document: %w", err)
	}
	return nil
}
