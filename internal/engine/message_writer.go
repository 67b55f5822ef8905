package engine

import (
	"context"

	"github.com/ggoodman/mcp-users/internal/jsonrpc"
)

// MessageWriter delivers server-initiated messages (notifications) to the
// peer of a session. Implementations must be safe for concurrent use:
// resource updates arrive from watcher goroutines while a request is being
// answered.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg *jsonrpc.Request) error
}

type MessageWriterFunc func(ctx context.Context, msg *jsonrpc.Request) error

func (f MessageWriterFunc) WriteMessage(ctx context.Context, msg *jsonrpc.Request) error {
	return f(ctx, msg)
}
