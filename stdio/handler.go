package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ggoodman/mcp-users/internal/engine"
	"github.com/ggoodman/mcp-users/internal/jsonrpc"
	"github.com/ggoodman/mcp-users/mcpservice"
	"github.com/ggoodman/mcp-users/sessions"
)

const (
	initialLineBuffer  = 64 * 1024
	defaultMaxLineSize = 16 * 1024 * 1024
)

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("stdio: handler already served")

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout. It identifies the peer using a UserProvider, which
// defaults to the current OS user.
//
// The handler is transport-only; it delegates all MCP semantics to the
// provided mcpservice.ServerCapabilities through the request engine.
type Handler struct {
	srv          mcpservice.ServerCapabilities
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider
	maxLineSize  int

	wmu    sync.Mutex
	served atomic.Bool
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		srv:          srv,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: OSUserProvider{},
		maxLineSize:  defaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It may be called at most once per Handler.
//
// Each line is one JSON-RPC message. Requests are answered one at a time in
// arrival order; the next line is not processed until the previous response
// has been written. Notifications produced in the background (resource
// updates) share the writer under a mutex so lines never interleave.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.served.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}

	userID, err := h.userProvider.CurrentUserID()
	if err != nil {
		return fmt.Errorf("stdio: resolve user: %w", err)
	}

	sess := sessions.NewLocalSession(uuid.NewString(), userID)
	eng := engine.NewEngine(h.srv, engine.WithLogger(h.l))
	handle := engine.NewSessionHandle(sess, engine.MessageWriterFunc(func(ctx context.Context, msg *jsonrpc.Request) error {
		return h.write(msg)
	}))
	defer eng.CloseSession(context.WithoutCancel(ctx), handle)

	h.l.InfoContext(ctx, "stdio.serve.start", slog.String("session_id", sess.SessionID()), slog.String("user_id", userID))

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go h.readLines(ctx, lines, readErr)

	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
					return fmt.Errorf("stdio: read: %w", err)
				}
				h.l.InfoContext(ctx, "stdio.serve.eof")
				return nil
			}
			if err := h.handleLine(ctx, eng, handle, line); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) readLines(ctx context.Context, out chan<- []byte, errc chan<- error) {
	defer close(out)
	sc := bufio.NewScanner(h.r)
	sc.Buffer(make([]byte, 0, min(initialLineBuffer, h.maxLineSize)), h.maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := append([]byte(nil), line...)
		select {
		case out <- cp:
		case <-ctx.Done():
			errc <- nil
			return
		}
	}
	errc <- sc.Err()
}

// handleLine processes one frame. Only a failure to write stdout is
// returned; protocol errors are answered on the wire.
func (h *Handler) handleLine(ctx context.Context, eng *engine.Engine, sess *engine.SessionHandle, line []byte) error {
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		h.l.InfoContext(ctx, "stdio.decode.fail", slog.String("err", err.Error()))
		var id *jsonrpc.RequestID
		code := jsonrpc.ErrorCodeParseError
		text := "parse error"
		if errors.Is(err, jsonrpc.ErrInvalidMessage) {
			code = jsonrpc.ErrorCodeInvalidRequest
			text = "invalid request"
			if msg != nil {
				id = msg.ID
			}
		}
		return h.write(jsonrpc.NewErrorResponse(id, code, text, nil))
	}

	switch msg.Type() {
	case jsonrpc.TypeRequest:
		res, err := eng.HandleRequest(ctx, sess, msg.AsRequest())
		if err != nil {
			h.l.ErrorContext(ctx, "stdio.handle_request.fail", slog.String("err", err.Error()))
			res = jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		}
		return h.write(res)
	case jsonrpc.TypeNotification:
		eng.HandleNotification(ctx, sess, msg.AsRequest())
		return nil
	default:
		// The server never issues requests, so there is nothing to match a
		// response against.
		h.l.DebugContext(ctx, "stdio.response.ignored", slog.String("id", msg.ID.String()))
		return nil
	}
}

// write encodes v as one line on the output stream.
func (h *Handler) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stdio: encode: %w", err)
	}
	b = append(b, '\n')

	h.wmu.Lock()
	defer h.wmu.Unlock()
	if _, err := h.w.Write(b); err != nil {
		h.l.Error("stdio.write.fail", slog.String("err", err.Error()))
		return fmt.Errorf("stdio: write: %w", err)
	}
	return nil
}
