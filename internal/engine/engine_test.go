package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-users/internal/jsonrpc"
	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/mcpservice"
	"github.com/ggoodman/mcp-users/sessions"
)

type echoArgs struct {
	Text string `json:"text"`
}

type helloArgs struct {
	Name string `json:"name"`
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []*jsonrpc.Request
	ch   chan struct{}
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{ch: make(chan struct{}, 16)}
}

func (w *recordingWriter) WriteMessage(ctx context.Context, msg *jsonrpc.Request) error {
	w.mu.Lock()
	w.msgs = append(w.msgs, msg)
	w.mu.Unlock()
	w.ch <- struct{}{}
	return nil
}

type fixture struct {
	eng      *Engine
	sess     *SessionHandle
	writer   *recordingWriter
	notifier *mcpservice.ChangeNotifier
}

func newFixture(t *testing.T, opts ...mcpservice.ServerOption) *fixture {
	t.Helper()

	notifier := &mcpservice.ChangeNotifier{}
	t.Cleanup(notifier.Close)

	tools, err := mcpservice.NewToolsContainer(
		mcpservice.NewTool[echoArgs]("echo", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
			return w.AppendText(r.Args().Text)
		}),
		mcpservice.NewTool[echoArgs]("broken", func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
			return errors.New("disk on fire")
		}, mcpservice.WithToolFailureMessage("Failed to save user")),
	)
	if err != nil {
		t.Fatalf("NewToolsContainer: %v", err)
	}
	prompts, err := mcpservice.NewPromptsContainer(
		mcpservice.NewTemplatePrompt[helloArgs]("hello", "Hello {{.Name}}"),
	)
	if err != nil {
		t.Fatalf("NewPromptsContainer: %v", err)
	}
	ok := func(ctx context.Context, s sessions.Session, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{{URI: req.URI, MimeType: "application/json", Text: "[]"}}, nil
	}
	failing := func(ctx context.Context, s sessions.Session, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
		return nil, errors.New("secret storage detail")
	}
	resources, err := mcpservice.NewResourcesContainer([]mcpservice.StaticResource{
		mcpservice.NewStaticResource(mcp.Resource{URI: "users://all", Name: "users"}, ok, mcpservice.WithResourceUpdates(notifier)),
		mcpservice.NewStaticResource(mcp.Resource{URI: "users://broken", Name: "broken"}, failing),
	}, nil)
	if err != nil {
		t.Fatalf("NewResourcesContainer: %v", err)
	}

	var lv slog.LevelVar
	base := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "test", Version: "0.0.1"}),
		mcpservice.WithToolsCapability(tools),
		mcpservice.WithPromptsCapability(prompts),
		mcpservice.WithResourcesCapability(resources),
		mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(&lv)),
	}
	srv := mcpservice.NewServer(append(base, opts...)...)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := newRecordingWriter()
	return &fixture{
		eng:      NewEngine(srv, WithLogger(log)),
		sess:     NewSessionHandle(sessions.NewLocalSession("s-1", "tester"), w),
		writer:   w,
		notifier: notifier,
	}
}

func (f *fixture) request(t *testing.T, id int, method string, params any) *jsonrpc.Response {
	t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method, ID: jsonrpc.NewRequestID(id)}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = b
	}
	res, err := f.eng.HandleRequest(context.Background(), f.sess, req)
	if err != nil {
		t.Fatalf("HandleRequest(%s): %v", method, err)
	}
	if res == nil {
		t.Fatalf("HandleRequest(%s) returned nil response", method)
	}
	return res
}

func (f *fixture) initialize(t *testing.T) *mcp.InitializeResult {
	t.Helper()
	res := f.request(t, 0, "initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "client", "version": "1"},
	})
	if res.Error != nil {
		t.Fatalf("initialize error: %+v", res.Error)
	}
	var out mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode initialize: %v", err)
	}
	f.eng.HandleNotification(context.Background(), f.sess, &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: "notifications/initialized"})
	return &out
}

func expectError(t *testing.T, res *jsonrpc.Response, code jsonrpc.ErrorCode) {
	t.Helper()
	if res.Error == nil {
		t.Fatalf("expected error %d, got result %s", code, res.Result)
	}
	if res.Error.Code != code {
		t.Fatalf("error code = %d (%s), want %d", res.Error.Code, res.Error.Message, code)
	}
}

func decodeResult[T any](t *testing.T, res *jsonrpc.Response) T {
	t.Helper()
	if res.Error != nil {
		t.Fatalf("unexpected error: %+v", res.Error)
	}
	var out T
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return out
}

func TestInitialize_NegotiatesAndAdvertises(t *testing.T) {
	f := newFixture(t, mcpservice.WithInstructions("be nice"))
	out := f.initialize(t)

	if out.ProtocolVersion != "2025-03-26" {
		t.Fatalf("protocol version = %q, want the client's supported version", out.ProtocolVersion)
	}
	if out.ServerInfo.Name != "test" || out.Instructions != "be nice" {
		t.Fatalf("unexpected server info: %+v", out)
	}
	caps := out.Capabilities
	if caps.Tools == nil || caps.Prompts == nil || caps.Logging == nil {
		t.Fatalf("missing capabilities: %+v", caps)
	}
	if caps.Resources == nil || !caps.Resources.Subscribe {
		t.Fatalf("resources.subscribe should be advertised: %+v", caps.Resources)
	}
	if f.sess.ProtocolVersion() != "2025-03-26" || f.sess.ClientInfo().Name != "client" {
		t.Fatalf("session not updated: %s %+v", f.sess.ProtocolVersion(), f.sess.ClientInfo())
	}
	if !f.sess.Ready() {
		t.Fatalf("session should be ready after notifications/initialized")
	}
}

func TestInitialize_UnsupportedVersionFallsBackToLatest(t *testing.T) {
	f := newFixture(t)
	res := f.request(t, 1, "initialize", map[string]any{"protocolVersion": "1999-01-01", "capabilities": map[string]any{}, "clientInfo": map[string]any{"name": "c", "version": "1"}})
	out := decodeResult[mcp.InitializeResult](t, res)
	if out.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("protocol version = %q", out.ProtocolVersion)
	}
}

func TestInitialize_PreferredVersionWins(t *testing.T) {
	f := newFixture(t, mcpservice.WithPreferredProtocolVersion("2024-11-05"))
	out := f.initialize(t)
	if out.ProtocolVersion != "2024-11-05" {
		t.Fatalf("protocol version = %q", out.ProtocolVersion)
	}
}

func TestInitialize_Twice(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	res := f.request(t, 9, "initialize", map[string]any{"protocolVersion": mcp.LatestProtocolVersion})
	expectError(t, res, jsonrpc.ErrorCodeInvalidRequest)
}

func TestRequestsBeforeInitialize(t *testing.T) {
	f := newFixture(t)
	expectError(t, f.request(t, 1, "tools/list", nil), jsonrpc.ErrorCodeInvalidRequest)

	res := f.request(t, 2, "ping", nil)
	if res.Error != nil || string(res.Result) != "{}" {
		t.Fatalf("ping before initialize: %+v %s", res.Error, res.Result)
	}
}

func TestUnknownMethod(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	expectError(t, f.request(t, 1, "users/delete", nil), jsonrpc.ErrorCodeMethodNotFound)
}

func TestResponseEchoesID(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	res := f.request(t, 42, "ping", nil)
	if res.ID.String() != "42" {
		t.Fatalf("id = %s", res.ID.String())
	}
}

func TestToolsCall(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	t.Run("success", func(t *testing.T) {
		out := decodeResult[mcp.CallToolResult](t, f.request(t, 1, "tools/call", map[string]any{"name": "echo", "arguments": map[string]any{"text": "hi"}}))
		if out.IsError || out.Content[0].Text != "hi" {
			t.Fatalf("unexpected result: %+v", out)
		}
	})
	t.Run("handler failure is a result", func(t *testing.T) {
		out := decodeResult[mcp.CallToolResult](t, f.request(t, 2, "tools/call", map[string]any{"name": "broken", "arguments": map[string]any{"text": "x"}}))
		if !out.IsError || out.Content[0].Text != "Failed to save user" {
			t.Fatalf("unexpected result: %+v", out)
		}
	})
	t.Run("invalid arguments", func(t *testing.T) {
		expectError(t, f.request(t, 3, "tools/call", map[string]any{"name": "echo", "arguments": map[string]any{"text": 1}}), jsonrpc.ErrorCodeInvalidParams)
	})
	t.Run("missing arguments", func(t *testing.T) {
		expectError(t, f.request(t, 4, "tools/call", map[string]any{"name": "echo"}), jsonrpc.ErrorCodeInvalidParams)
	})
	t.Run("unknown tool", func(t *testing.T) {
		expectError(t, f.request(t, 5, "tools/call", map[string]any{"name": "nope"}), jsonrpc.ErrorCodeInvalidParams)
	})
	t.Run("missing name", func(t *testing.T) {
		expectError(t, f.request(t, 6, "tools/call", map[string]any{}), jsonrpc.ErrorCodeInvalidParams)
	})
}

func TestPromptsGet(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	out := decodeResult[mcp.GetPromptResult](t, f.request(t, 1, "prompts/get", map[string]any{"name": "hello", "arguments": map[string]string{"name": "Ann"}}))
	if len(out.Messages) != 1 || out.Messages[0].Content.Text != "Hello Ann" || out.Messages[0].Role != mcp.RoleUser {
		t.Fatalf("unexpected prompt: %+v", out)
	}
	expectError(t, f.request(t, 2, "prompts/get", map[string]any{"name": "hello"}), jsonrpc.ErrorCodeInvalidParams)
	expectError(t, f.request(t, 3, "prompts/get", map[string]any{"name": "bye"}), jsonrpc.ErrorCodeInvalidParams)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	tools := decodeResult[mcp.ListToolsResult](t, f.request(t, 1, "tools/list", nil))
	if len(tools.Tools) != 2 || tools.Tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", tools.Tools)
	}
	prompts := decodeResult[mcp.ListPromptsResult](t, f.request(t, 2, "prompts/list", map[string]any{}))
	if len(prompts.Prompts) != 1 {
		t.Fatalf("prompts = %+v", prompts.Prompts)
	}
	res := decodeResult[mcp.ListResourcesResult](t, f.request(t, 3, "resources/list", nil))
	if len(res.Resources) != 2 {
		t.Fatalf("resources = %+v", res.Resources)
	}
	tpl := f.request(t, 4, "resources/templates/list", nil)
	if tpl.Error != nil || string(tpl.Result) != `{"resourceTemplates":[]}` {
		t.Fatalf("templates = %s", tpl.Result)
	}
}

func TestResourcesRead(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	out := decodeResult[mcp.ReadResourceResult](t, f.request(t, 1, "resources/read", map[string]string{"uri": "users://all"}))
	if len(out.Contents) != 1 || out.Contents[0].URI != "users://all" || out.Contents[0].Text != "[]" {
		t.Fatalf("unexpected contents: %+v", out)
	}

	expectError(t, f.request(t, 2, "resources/read", map[string]string{"uri": "users://nope"}), jsonrpc.ErrorCodeResourceNotFound)

	res := f.request(t, 3, "resources/read", map[string]string{"uri": "users://broken"})
	expectError(t, res, jsonrpc.ErrorCodeInternalError)
	if res.Error.Message != "internal error" {
		t.Fatalf("internal detail leaked: %q", res.Error.Message)
	}

	expectError(t, f.request(t, 4, "resources/read", map[string]string{}), jsonrpc.ErrorCodeInvalidParams)
}

func TestSetLevel(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	if res := f.request(t, 1, "logging/setLevel", map[string]string{"level": "debug"}); res.Error != nil {
		t.Fatalf("setLevel: %+v", res.Error)
	}
	expectError(t, f.request(t, 2, "logging/setLevel", map[string]string{"level": "loud"}), jsonrpc.ErrorCodeInvalidParams)
}

func TestSubscribeEmitsUpdatedNotification(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	if res := f.request(t, 1, "resources/subscribe", map[string]string{"uri": "users://all"}); res.Error != nil {
		t.Fatalf("subscribe: %+v", res.Error)
	}
	// idempotent
	if res := f.request(t, 2, "resources/subscribe", map[string]string{"uri": "users://all"}); res.Error != nil {
		t.Fatalf("re-subscribe: %+v", res.Error)
	}
	expectError(t, f.request(t, 3, "resources/subscribe", map[string]string{"uri": "users://nope"}), jsonrpc.ErrorCodeResourceNotFound)

	_ = f.notifier.Notify(context.Background())
	select {
	case <-f.writer.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("no notification written")
	}

	f.writer.mu.Lock()
	note := f.writer.msgs[0]
	f.writer.mu.Unlock()
	if note.Method != "notifications/resources/updated" || !note.IsNotification() {
		t.Fatalf("unexpected notification: %+v", note)
	}
	var params mcp.ResourceUpdatedNotification
	if err := json.Unmarshal(note.Params, &params); err != nil || params.URI != "users://all" {
		t.Fatalf("params = %s (%v)", note.Params, err)
	}

	if res := f.request(t, 4, "resources/unsubscribe", map[string]string{"uri": "users://all"}); res.Error != nil {
		t.Fatalf("unsubscribe: %+v", res.Error)
	}
	if res := f.request(t, 5, "resources/unsubscribe", map[string]string{"uri": "users://all"}); res.Error != nil {
		t.Fatalf("second unsubscribe: %+v", res.Error)
	}
}

func TestCloseSessionCancelsSubscriptions(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	if res := f.request(t, 1, "resources/subscribe", map[string]string{"uri": "users://all"}); res.Error != nil {
		t.Fatalf("subscribe: %+v", res.Error)
	}
	f.eng.CloseSession(context.Background(), f.sess)

	f.eng.subMu.Lock()
	n := len(f.eng.subCancels)
	f.eng.subMu.Unlock()
	if n != 0 {
		t.Fatalf("subscriptions left after close: %d", n)
	}
}

func TestCallStateTransitions(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	c := newCall(ctx, log, &jsonrpc.Request{Method: "ping", ID: jsonrpc.NewRequestID(1)})

	c.advance(ctx, stateValidated)
	c.advance(ctx, stateReceived) // backwards, ignored
	if c.state != stateValidated {
		t.Fatalf("state = %s", c.state)
	}
	c.advance(ctx, stateExecuting)
	if _, err := c.complete(ctx, &mcp.EmptyResult{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.state != stateCompleted {
		t.Fatalf("state = %s", c.state)
	}
	c.advance(ctx, stateFailed) // out of terminal, ignored
	if c.state != stateCompleted {
		t.Fatalf("state after terminal = %s", c.state)
	}
}

func TestToRPCError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want jsonrpc.ErrorCode
	}{
		{"invalid params", &mcpservice.InvalidParametersError{Kind: mcpservice.KindTool, Name: "x"}, jsonrpc.ErrorCodeInvalidParams},
		{"unknown tool", &mcpservice.NotFoundError{Kind: mcpservice.KindTool, Name: "x"}, jsonrpc.ErrorCodeInvalidParams},
		{"unknown prompt", &mcpservice.NotFoundError{Kind: mcpservice.KindPrompt, Name: "x"}, jsonrpc.ErrorCodeInvalidParams},
		{"unknown resource", &mcpservice.NotFoundError{Kind: mcpservice.KindResource, Name: "x"}, jsonrpc.ErrorCodeResourceNotFound},
		{"rpc error", jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "m"), jsonrpc.ErrorCodeMethodNotFound},
		{"other", errors.New("boom"), jsonrpc.ErrorCodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := toRPCError(tc.err).Code; got != tc.want {
				t.Fatalf("code = %d, want %d", got, tc.want)
			}
		})
	}
}
