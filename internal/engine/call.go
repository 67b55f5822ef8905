package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-users/internal/jsonrpc"
)

// callState is the lifecycle of one inbound request.
//
//	Received -> Validated -> Executing -> Completed
//	    \            \            \
//	     +------------+------------+--> Failed
type callState int

const (
	stateReceived callState = iota
	stateValidated
	stateExecuting
	stateCompleted
	stateFailed
)

func (s callState) String() string {
	switch s {
	case stateReceived:
		return "received"
	case stateValidated:
		return "validated"
	case stateExecuting:
		return "executing"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("callState(%d)", int(s))
	}
}

func (s callState) terminal() bool { return s == stateCompleted || s == stateFailed }

// call tracks a single request through its states. Every transition is
// logged as engine.call.<state>.
type call struct {
	id     *jsonrpc.RequestID
	method string
	state  callState
	start  time.Time
	log    *slog.Logger
}

func newCall(ctx context.Context, log *slog.Logger, req *jsonrpc.Request) *call {
	c := &call{id: req.ID, method: req.Method, state: stateReceived, start: time.Now(), log: log}
	c.log.DebugContext(ctx, "engine.call.received")
	return c
}

// advance moves the call forward. Moving backwards or out of a terminal
// state is a programming error and is logged rather than applied.
func (c *call) advance(ctx context.Context, to callState) {
	if c.state.terminal() || to <= c.state {
		c.log.ErrorContext(ctx, "engine.call.bad_transition",
			slog.String("from", c.state.String()),
			slog.String("to", to.String()))
		return
	}
	c.state = to
	if !to.terminal() {
		c.log.DebugContext(ctx, "engine.call."+to.String())
	}
}

func (c *call) complete(ctx context.Context, result any) (*jsonrpc.Response, error) {
	res, err := jsonrpc.NewResultResponse(c.id, result)
	if err != nil {
		return c.fail(ctx, err)
	}
	c.advance(ctx, stateCompleted)
	c.log.InfoContext(ctx, "engine.call.completed", slog.Int64("dur_ms", time.Since(c.start).Milliseconds()))
	return res, nil
}

// fail maps err onto a JSON-RPC error object. The client sees a generic
// message for internal failures; the detail goes to the log only.
func (c *call) fail(ctx context.Context, err error) (*jsonrpc.Response, error) {
	from := c.state
	rpcErr := toRPCError(err)
	if !c.state.terminal() {
		c.state = stateFailed
	}
	level := slog.LevelInfo
	if rpcErr.Code == jsonrpc.ErrorCodeInternalError {
		level = slog.LevelError
	}
	c.log.Log(ctx, level, "engine.call.failed",
		slog.String("from", from.String()),
		slog.Int("code", int(rpcErr.Code)),
		slog.String("err", err.Error()),
		slog.Int64("dur_ms", time.Since(c.start).Milliseconds()))
	return jsonrpc.NewErrorResponse(c.id, rpcErr.Code, rpcErr.Message, rpcErr.Data), nil
}
