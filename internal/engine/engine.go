package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ggoodman/mcp-users/internal/jsonrpc"
	"github.com/ggoodman/mcp-users/internal/logctx"
	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/mcpservice"
	"github.com/ggoodman/mcp-users/sessions"
)

// Engine routes MCP requests to the capabilities of one server value. It is
// transport-agnostic: a transport decodes frames, hands requests and
// notifications to the engine and writes back whatever it returns.
type Engine struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger

	handlers map[string]handlerFunc

	// subscription tracking: sessionID -> uri -> cancel
	subMu      sync.Mutex
	subCancels map[string]map[string]mcpservice.CancelSubscription
}

// handlerFunc decodes params, advancing c to Validated, then runs the
// capability, advancing c to Executing. The returned value is the result
// payload.
type handlerFunc func(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error)

// NewEngine builds an engine over srv.
func NewEngine(srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		srv:        srv,
		log:        slog.Default(),
		subCancels: make(map[string]map[string]mcpservice.CancelSubscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.handlers = map[string]handlerFunc{
		string(mcp.PingMethod):                   e.handlePing,
		string(mcp.ToolsListMethod):              e.handleToolsList,
		string(mcp.ToolsCallMethod):              e.handleToolCall,
		string(mcp.PromptsListMethod):            e.handlePromptsList,
		string(mcp.PromptsGetMethod):             e.handlePromptsGet,
		string(mcp.ResourcesListMethod):          e.handleResourcesList,
		string(mcp.ResourcesTemplatesListMethod): e.handleResourcesTemplatesList,
		string(mcp.ResourcesReadMethod):          e.handleResourcesRead,
		string(mcp.ResourcesSubscribeMethod):     e.handleResourcesSubscribe,
		string(mcp.ResourcesUnsubscribeMethod):   e.handleResourcesUnsubscribe,
		string(mcp.LoggingSetLevelMethod):        e.handleSetLoggingLevel,
	}
	return e
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// HandleRequest answers one request. The returned response is never nil;
// the error is reserved for failures to build it.
//
// Until initialize succeeds only initialize and ping are answered.
func (e *Engine) HandleRequest(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	ctx = withRequestContext(ctx, sess, req, jsonrpc.TypeRequest)
	c := newCall(ctx, e.log, req)

	if req.Method == string(mcp.InitializeMethod) {
		if sess.Initialized() {
			return c.fail(ctx, errReinitialize)
		}
		res, err := e.initialize(ctx, sess, c, req.Params)
		if err != nil {
			return c.fail(ctx, err)
		}
		return c.complete(ctx, res)
	}

	if !sess.Initialized() && req.Method != string(mcp.PingMethod) {
		return c.fail(ctx, errNotInitialized)
	}

	h, ok := e.handlers[req.Method]
	if !ok {
		return c.fail(ctx, methodNotFound(req.Method))
	}
	res, err := h(ctx, sess, c, req.Params)
	if err != nil {
		return c.fail(ctx, err)
	}
	return c.complete(ctx, res)
}

// HandleNotification processes a client notification. Notifications never
// produce a response, so errors are only logged.
func (e *Engine) HandleNotification(ctx context.Context, sess *SessionHandle, note *jsonrpc.Request) {
	ctx = withRequestContext(ctx, sess, note, jsonrpc.TypeNotification)

	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		if !sess.Initialized() {
			e.log.WarnContext(ctx, "engine.session.initialized_early")
		}
		sess.markReady()
		e.log.InfoContext(ctx, "engine.session.initialized")
	case string(mcp.CancelledNotificationMethod):
		// Requests are answered one at a time, so by the time this is read
		// the request it names has already completed.
		var params mcp.CancelledNotification
		_ = json.Unmarshal(note.Params, &params)
		e.log.DebugContext(ctx, "engine.notification.cancelled",
			slog.Any("request_id", params.RequestID),
			slog.String("reason", params.Reason))
	default:
		e.log.DebugContext(ctx, "engine.notification.ignored")
	}
}

// CloseSession cancels every resource subscription the session holds.
func (e *Engine) CloseSession(ctx context.Context, sess *SessionHandle) {
	e.subMu.Lock()
	subs := e.subCancels[sess.SessionID()]
	delete(e.subCancels, sess.SessionID())
	e.subMu.Unlock()

	for uri, cancel := range subs {
		if err := cancel(ctx); err != nil {
			e.log.WarnContext(ctx, "engine.subscription.cancel_fail", slog.String("uri", uri), slog.String("err", err.Error()))
		}
	}
}

func (e *Engine) initialize(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (*mcp.InitializeResult, error) {
	var req mcp.InitializeRequest
	if err := decodeParams(params, &req, true); err != nil {
		return nil, err
	}
	if req.ProtocolVersion == "" {
		return nil, invalidParams("missing protocolVersion")
	}
	c.advance(ctx, stateValidated)
	c.advance(ctx, stateExecuting)

	negotiated := mcp.LatestProtocolVersion
	if v, ok, err := e.srv.GetPreferredProtocolVersion(ctx); err != nil {
		return nil, err
	} else if ok && v != "" {
		negotiated = v
	} else if mcp.IsSupportedProtocolVersion(req.ProtocolVersion) {
		negotiated = req.ProtocolVersion
	}

	sess.SetNegotiated(negotiated, sessions.ClientInfo{Name: req.ClientInfo.Name, Version: req.ClientInfo.Version})

	info, err := e.srv.GetServerInfo(ctx, sess)
	if err != nil {
		return nil, err
	}
	res := &mcp.InitializeResult{
		ProtocolVersion: negotiated,
		ServerInfo:      info,
	}
	if instr, ok, err := e.srv.GetInstructions(ctx, sess); err != nil {
		return nil, err
	} else if ok {
		res.Instructions = instr
	}

	if resCap, ok, err := e.srv.GetResourcesCapability(ctx, sess); err != nil {
		return nil, err
	} else if ok && resCap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{}
		if subCap, hasSub, err := resCap.GetSubscriptionCapability(ctx, sess); err != nil {
			return nil, err
		} else if hasSub && subCap != nil {
			entry.Subscribe = true
		}
		res.Capabilities.Resources = entry
	}
	if toolsCap, ok, err := e.srv.GetToolsCapability(ctx, sess); err != nil {
		return nil, err
	} else if ok && toolsCap != nil {
		res.Capabilities.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	if promptsCap, ok, err := e.srv.GetPromptsCapability(ctx, sess); err != nil {
		return nil, err
	} else if ok && promptsCap != nil {
		res.Capabilities.Prompts = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	if _, ok, err := e.srv.GetLoggingCapability(ctx, sess); err != nil {
		return nil, err
	} else if ok {
		res.Capabilities.Logging = &struct{}{}
	}

	sess.markInitialized()
	e.log.InfoContext(ctx, "engine.session.negotiated",
		slog.String("protocol_version", negotiated),
		slog.String("requested_version", req.ProtocolVersion),
		slog.String("client", req.ClientInfo.Name))
	return res, nil
}

// emitResourceUpdated builds the emit callback handed to a resource
// subscription for sess.
func (e *Engine) emitResourceUpdated(sess *SessionHandle) mcpservice.NotifyResourceUpdatedFunc {
	return func(ctx context.Context, uri string) {
		if sess.writer == nil {
			return
		}
		note, err := jsonrpc.NewNotification(string(mcp.ResourcesUpdatedNotificationMethod), mcp.ResourceUpdatedNotification{URI: uri})
		if err != nil {
			e.log.ErrorContext(ctx, "engine.resources.updated.encode_fail", slog.String("err", err.Error()))
			return
		}
		if err := sess.writer.WriteMessage(ctx, note); err != nil {
			e.log.WarnContext(ctx, "engine.resources.updated.write_fail", slog.String("uri", uri), slog.String("err", err.Error()))
			return
		}
		e.log.DebugContext(ctx, "engine.resources.updated", slog.String("uri", uri))
	}
}

// decodeParams unmarshals params into dst. Absent params are accepted
// unless required.
func decodeParams(params json.RawMessage, dst any, required bool) error {
	if len(params) == 0 || string(params) == "null" {
		if required {
			return invalidParams("missing params")
		}
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func withRequestContext(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request, typ string) context.Context {
	id := ""
	if req.ID != nil {
		id = req.ID.String()
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: id, Type: typ})
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.SessionID(),
		UserID:          sess.UserID(),
		ProtocolVersion: sess.ProtocolVersion(),
	})
}
