package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/mcpservice"
)

func (e *Engine) handlePing(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	c.advance(ctx, stateValidated)
	c.advance(ctx, stateExecuting)
	return &mcp.EmptyResult{}, nil
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.SetLevelRequest
	if err := decodeParams(params, &req, true); err != nil {
		return nil, err
	}
	if !mcp.IsValidLoggingLevel(req.Level) {
		return nil, invalidParams("unknown logging level " + string(req.Level))
	}
	c.advance(ctx, stateValidated)

	cap, ok, err := e.srv.GetLoggingCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok || cap == nil {
		return nil, methodNotFound(string(mcp.LoggingSetLevelMethod))
	}
	c.advance(ctx, stateExecuting)
	if err := cap.SetLevel(ctx, sess, req.Level); err != nil {
		return nil, err
	}
	return &mcp.EmptyResult{}, nil
}

func (e *Engine) handleToolsList(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.ListToolsRequest
	if err := decodeParams(params, &req, false); err != nil {
		return nil, err
	}
	c.advance(ctx, stateValidated)

	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok || cap == nil {
		return nil, methodNotFound(string(mcp.ToolsListMethod))
	}
	c.advance(ctx, stateExecuting)
	page, err := cap.ListTools(ctx, sess, cursorOf(req.Cursor))
	if err != nil {
		return nil, err
	}
	res := &mcp.ListToolsResult{Tools: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return res, nil
}

// handleToolCall validates the envelope here; argument validation against
// the tool's schema happens inside the capability and surfaces as an
// *mcpservice.InvalidParametersError. Failures of the tool itself come back
// as a result with IsError set, never as an error.
func (e *Engine) handleToolCall(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.CallToolRequestReceived
	if err := decodeParams(params, &req, true); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, invalidParams("missing tool name")
	}

	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok || cap == nil {
		return nil, methodNotFound(string(mcp.ToolsCallMethod))
	}
	c.advance(ctx, stateValidated)
	c.advance(ctx, stateExecuting)

	res, err := cap.CallTool(ctx, sess, &req)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		e.log.InfoContext(ctx, "engine.tool.reported_error", slog.String("tool", req.Name))
	}
	return res, nil
}

func (e *Engine) handlePromptsList(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.ListPromptsRequest
	if err := decodeParams(params, &req, false); err != nil {
		return nil, err
	}
	c.advance(ctx, stateValidated)

	cap, ok, err := e.srv.GetPromptsCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok || cap == nil {
		return nil, methodNotFound(string(mcp.PromptsListMethod))
	}
	c.advance(ctx, stateExecuting)
	page, err := cap.ListPrompts(ctx, sess, cursorOf(req.Cursor))
	if err != nil {
		return nil, err
	}
	res := &mcp.ListPromptsResult{Prompts: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return res, nil
}

func (e *Engine) handlePromptsGet(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.GetPromptRequestReceived
	if err := decodeParams(params, &req, true); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, invalidParams("missing prompt name")
	}

	cap, ok, err := e.srv.GetPromptsCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok || cap == nil {
		return nil, methodNotFound(string(mcp.PromptsGetMethod))
	}
	c.advance(ctx, stateValidated)
	c.advance(ctx, stateExecuting)
	return cap.GetPrompt(ctx, sess, &req)
}

func (e *Engine) handleResourcesList(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.ListResourcesRequest
	if err := decodeParams(params, &req, false); err != nil {
		return nil, err
	}
	c.advance(ctx, stateValidated)

	cap, err := e.resources(ctx, sess, mcp.ResourcesListMethod)
	if err != nil {
		return nil, err
	}
	c.advance(ctx, stateExecuting)
	page, err := cap.ListResources(ctx, sess, cursorOf(req.Cursor))
	if err != nil {
		return nil, err
	}
	res := &mcp.ListResourcesResult{Resources: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return res, nil
}

func (e *Engine) handleResourcesTemplatesList(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.ListResourceTemplatesRequest
	if err := decodeParams(params, &req, false); err != nil {
		return nil, err
	}
	c.advance(ctx, stateValidated)

	cap, err := e.resources(ctx, sess, mcp.ResourcesTemplatesListMethod)
	if err != nil {
		return nil, err
	}
	c.advance(ctx, stateExecuting)
	page, err := cap.ListResourceTemplates(ctx, sess, cursorOf(req.Cursor))
	if err != nil {
		return nil, err
	}
	res := &mcp.ListResourceTemplatesResult{ResourceTemplates: page.Items}
	if page.NextCursor != nil {
		res.NextCursor = *page.NextCursor
	}
	return res, nil
}

func (e *Engine) handleResourcesRead(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.ReadResourceRequest
	if err := decodeParams(params, &req, true); err != nil {
		return nil, err
	}
	if req.URI == "" {
		return nil, invalidParams("missing uri")
	}
	c.advance(ctx, stateValidated)

	cap, err := e.resources(ctx, sess, mcp.ResourcesReadMethod)
	if err != nil {
		return nil, err
	}
	c.advance(ctx, stateExecuting)
	contents, err := cap.ReadResource(ctx, sess, req.URI)
	if err != nil {
		return nil, err
	}
	if contents == nil {
		contents = []mcp.ResourceContents{}
	}
	return &mcp.ReadResourceResult{Contents: contents}, nil
}

func (e *Engine) handleResourcesSubscribe(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.SubscribeRequest
	if err := decodeParams(params, &req, true); err != nil {
		return nil, err
	}
	if req.URI == "" {
		return nil, invalidParams("missing uri")
	}
	c.advance(ctx, stateValidated)

	resCap, err := e.resources(ctx, sess, mcp.ResourcesSubscribeMethod)
	if err != nil {
		return nil, err
	}
	subCap, ok, err := resCap.GetSubscriptionCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok || subCap == nil {
		return nil, methodNotFound(string(mcp.ResourcesSubscribeMethod))
	}
	c.advance(ctx, stateExecuting)

	e.subMu.Lock()
	if _, exists := e.subCancels[sess.SessionID()][req.URI]; exists {
		e.subMu.Unlock()
		return &mcp.EmptyResult{}, nil
	}
	e.subMu.Unlock()

	cancel, err := subCap.Subscribe(ctx, sess, req.URI, e.emitResourceUpdated(sess))
	if err != nil {
		return nil, err
	}

	e.subMu.Lock()
	if e.subCancels[sess.SessionID()] == nil {
		e.subCancels[sess.SessionID()] = make(map[string]mcpservice.CancelSubscription)
	}
	e.subCancels[sess.SessionID()][req.URI] = cancel
	e.subMu.Unlock()

	e.log.InfoContext(ctx, "engine.subscription.added", slog.String("uri", req.URI))
	return &mcp.EmptyResult{}, nil
}

// handleResourcesUnsubscribe is idempotent: unsubscribing from a URI the
// session never subscribed to succeeds.
func (e *Engine) handleResourcesUnsubscribe(ctx context.Context, sess *SessionHandle, c *call, params json.RawMessage) (any, error) {
	var req mcp.UnsubscribeRequest
	if err := decodeParams(params, &req, true); err != nil {
		return nil, err
	}
	if req.URI == "" {
		return nil, invalidParams("missing uri")
	}
	c.advance(ctx, stateValidated)
	c.advance(ctx, stateExecuting)

	e.subMu.Lock()
	cancel, ok := e.subCancels[sess.SessionID()][req.URI]
	if ok {
		delete(e.subCancels[sess.SessionID()], req.URI)
	}
	e.subMu.Unlock()

	if ok {
		if err := cancel(ctx); err != nil {
			return nil, err
		}
		e.log.InfoContext(ctx, "engine.subscription.removed", slog.String("uri", req.URI))
	}
	return &mcp.EmptyResult{}, nil
}

func (e *Engine) resources(ctx context.Context, sess *SessionHandle, method mcp.Method) (mcpservice.ResourcesCapability, error) {
	cap, ok, err := e.srv.GetResourcesCapability(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !ok || cap == nil {
		return nil, methodNotFound(string(method))
	}
	return cap, nil
}

func cursorOf(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
