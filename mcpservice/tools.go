package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ggoodman/mcp-users/internal/logctx"
	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/sessions"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

func (t StaticTool) CapabilityKind() Kind   { return KindTool }
func (t StaticTool) CapabilityName() string { return t.Descriptor.Name }

// ToolRequest is the container for tool call input and request metadata.
// It is generic over the typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	title                     string
	annotations               mcp.ToolAnnotations
	hasAnnotations            bool
	allowAdditionalProperties bool
	failureMessage            string
	meta                      map[string]any
}

// DefaultToolFailureMessage is the text returned when a tool handler fails
// and the tool declared no message of its own.
const DefaultToolFailureMessage = "Tool execution failed"

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolTitle sets the human-friendly title, both on the tool and in its
// annotations.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) {
		c.title = title
		c.annotations.Title = title
		c.hasAnnotations = true
	}
}

// WithToolReadOnlyHint declares whether the tool leaves its environment unmodified.
func WithToolReadOnlyHint(v bool) ToolOption {
	return func(c *toolConfig) { c.annotations.ReadOnlyHint = mcp.Bool(v); c.hasAnnotations = true }
}

// WithToolDestructiveHint declares whether the tool may delete or overwrite data.
func WithToolDestructiveHint(v bool) ToolOption {
	return func(c *toolConfig) { c.annotations.DestructiveHint = mcp.Bool(v); c.hasAnnotations = true }
}

// WithToolIdempotentHint declares whether repeating a call with the same
// arguments has no further effect.
func WithToolIdempotentHint(v bool) ToolOption {
	return func(c *toolConfig) { c.annotations.IdempotentHint = mcp.Bool(v); c.hasAnnotations = true }
}

// WithToolOpenWorldHint declares whether the tool reaches entities outside
// the server process.
func WithToolOpenWorldHint(v bool) ToolOption {
	return func(c *toolConfig) { c.annotations.OpenWorldHint = mcp.Bool(v); c.hasAnnotations = true }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// calls carrying unknown fields are rejected as invalid parameters.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// WithToolMeta attaches _meta to the tool descriptor. It is not copied
// into call results.
func WithToolMeta(meta map[string]any) ToolOption {
	return func(c *toolConfig) { c.meta = cloneMeta(meta) }
}

// WithToolFailureMessage sets the text returned (with IsError) when the
// handler returns an error or panics. The underlying error is only logged.
func WithToolFailureMessage(msg string) ToolOption {
	return func(c *toolConfig) { c.failureMessage = msg }
}

// NewTool constructs a StaticTool from a typed args struct A. It:
//   - reflects a JSON Schema from A using invopop/jsonschema and advertises
//     it as the tool's input schema,
//   - validates every call's arguments against that schema before decoding,
//   - runs fn in a guarded scope where errors and panics become the tool's
//     failure message.
//
// It panics if the reflected schema cannot be compiled, which only happens
// for argument types that cannot be described as JSON.
func NewTool[A any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{failureMessage: DefaultToolFailureMessage}
	for _, opt := range opts {
		opt(&cfg)
	}
	input := reflectToMCPInputSchema[A](cfg.allowAdditionalProperties)
	validator, err := compileInputSchema(input)
	if err != nil {
		panic(fmt.Sprintf("mcpservice: tool %q: %v", name, err))
	}

	desc := mcp.Tool{
		Name:        name,
		Title:       cfg.title,
		Description: cfg.description,
		InputSchema: input,
		Meta:        cfg.meta,
	}
	if cfg.hasAnnotations {
		ann := cfg.annotations
		desc.Annotations = &ann
	}

	handler := func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		raw := req.Arguments
		if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			raw = json.RawMessage("{}")
		}

		var instance any
		if err := json.Unmarshal(raw, &instance); err != nil {
			return nil, &InvalidParametersError{Kind: KindTool, Name: name, Reason: err.Error()}
		}
		if err := validator.Validate(instance); err != nil {
			return nil, &InvalidParametersError{Kind: KindTool, Name: name, Reason: err.Error()}
		}

		var a A
		dec := json.NewDecoder(bytes.NewReader(raw))
		if !cfg.allowAdditionalProperties {
			dec.DisallowUnknownFields()
		}
		if err := dec.Decode(&a); err != nil {
			return nil, &InvalidParametersError{Kind: KindTool, Name: name, Reason: err.Error()}
		}

		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := runGuarded(ctx, func() error { return fn(ctx, session, w, r) }); err != nil {
			slog.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
			return failureResult(cfg.failureMessage), nil
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// runGuarded runs fn and converts a panic into an error.
func runGuarded(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "tool.call.panic", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

func failureResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.TextBlock(msg)}, IsError: true}
}

// ToolsContainer is an immutable set of tools built once at startup.
type ToolsContainer struct {
	tools  []mcp.Tool
	byName map[string]StaticTool
}

var _ ToolsCapability = (*ToolsContainer)(nil)

// NewToolsContainer builds a container from defs, preserving their order in
// listings. A repeated name fails with *DuplicateCapabilityError.
func NewToolsContainer(defs ...StaticTool) (*ToolsContainer, error) {
	tc := &ToolsContainer{
		tools:  make([]mcp.Tool, 0, len(defs)),
		byName: make(map[string]StaticTool, len(defs)),
	}
	for _, d := range defs {
		name := d.Descriptor.Name
		if name == "" {
			return nil, fmt.Errorf("tool declared without a name")
		}
		if _, exists := tc.byName[name]; exists {
			return nil, &DuplicateCapabilityError{Kind: KindTool, Name: name}
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("tool %q declared without a handler", name)
		}
		tc.tools = append(tc.tools, d.Descriptor)
		tc.byName[name] = d
	}
	return tc, nil
}

// Lookup returns the declaration registered under name.
func (tc *ToolsContainer) Lookup(name string) (StaticTool, error) {
	t, ok := tc.byName[name]
	if !ok {
		return StaticTool{}, &NotFoundError{Kind: KindTool, Name: name}
	}
	return t, nil
}

// ListTools implements ToolsCapability.
func (tc *ToolsContainer) ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	return pageSlice(tc.tools, defaultPageSize, cursor), nil
}

// CallTool implements ToolsCapability.
func (tc *ToolsContainer) CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, &InvalidParametersError{Kind: KindTool, Reason: "missing tool name"}
	}
	t, err := tc.Lookup(req.Name)
	if err != nil {
		return nil, err
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: req.Name})
	return t.Handler(ctx, session, req)
}
