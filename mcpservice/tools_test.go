package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/sessions"
)

var testSession = sessions.NewLocalSession("sess-1", "tester")

type emptyArgs struct{}

type personArgs struct {
	Name  string `json:"name" jsonschema:"description=Who to greet"`
	Email string `json:"email"`
}

func greetTool(opts ...ToolOption) StaticTool {
	return NewTool[personArgs]("greet", func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[personArgs]) error {
		return w.AppendText("hello " + r.Args().Name + " <" + r.Args().Email + ">")
	}, opts...)
}

func mustTools(t *testing.T, defs ...StaticTool) *ToolsContainer {
	t.Helper()
	c, err := NewToolsContainer(defs...)
	if err != nil {
		t.Fatalf("NewToolsContainer: %v", err)
	}
	return c
}

func TestNewTool_ReflectsInputSchema(t *testing.T) {
	c := mustTools(t, greetTool())
	page, err := c.ListTools(context.Background(), testSession, nil)
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(page.Items))
	}
	schema := page.Items[0].InputSchema
	if schema.Type != "object" || schema.AdditionalProperties {
		t.Fatalf("unexpected schema root: %+v", schema)
	}
	if schema.Properties["name"].Type != "string" || schema.Properties["name"].Description != "Who to greet" {
		t.Fatalf("unexpected name property: %+v", schema.Properties["name"])
	}
	if len(schema.Required) != 2 {
		t.Fatalf("expected both fields required, got %v", schema.Required)
	}
}

func TestNewTool_AnnotationsSurfaceInListing(t *testing.T) {
	c := mustTools(t, greetTool(
		WithToolTitle("Greet"),
		WithToolReadOnlyHint(false),
		WithToolDestructiveHint(false),
		WithToolIdempotentHint(false),
		WithToolOpenWorldHint(true),
	))
	page, _ := c.ListTools(context.Background(), testSession, nil)
	b, err := json.Marshal(page.Items[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw struct {
		Title       string         `json:"title"`
		Annotations map[string]any `json:"annotations"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw.Title != "Greet" {
		t.Fatalf("title = %q", raw.Title)
	}
	want := map[string]any{"title": "Greet", "readOnlyHint": false, "destructiveHint": false, "idempotentHint": false, "openWorldHint": true}
	for k, v := range want {
		if raw.Annotations[k] != v {
			t.Fatalf("annotations[%s] = %v, want %v (all: %s)", k, raw.Annotations[k], v, b)
		}
	}
}

func TestNewTool_NoAnnotationsOmitsField(t *testing.T) {
	c := mustTools(t, greetTool())
	page, _ := c.ListTools(context.Background(), testSession, nil)
	b, _ := json.Marshal(page.Items[0])
	if strings.Contains(string(b), "annotations") {
		t.Fatalf("annotations should be omitted: %s", b)
	}
}

func TestNewTool_WithMeta_IncludedInListing(t *testing.T) {
	tool := NewTool[emptyArgs]("echo", func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[emptyArgs]) error {
		return w.AppendText("ok")
	}, WithToolDescription("echo tool"), WithToolMeta(map[string]any{"category": "test"}))

	c := mustTools(t, tool)
	page, _ := c.ListTools(context.Background(), testSession, nil)
	if got := page.Items[0].Meta["category"]; got != "test" {
		t.Fatalf("expected category 'test', got %v", got)
	}

	res, err := c.CallTool(context.Background(), testSession, &mcp.CallToolRequestReceived{Name: "echo"})
	if err != nil {
		t.Fatalf("call error: %v", err)
	}
	if res.Meta != nil {
		b, _ := json.Marshal(res)
		t.Fatalf("descriptor meta leaked into result: %s", b)
	}
}

func TestCallTool_Success(t *testing.T) {
	c := mustTools(t, greetTool())
	res, err := c.CallTool(context.Background(), testSession, &mcp.CallToolRequestReceived{
		Name:      "greet",
		Arguments: json.RawMessage(`{"name":"Ann","email":"ann@example.com"}`),
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "hello Ann <ann@example.com>" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCallTool_InvalidArguments(t *testing.T) {
	c := mustTools(t, greetTool())
	cases := map[string]string{
		"missing field": `{"name":"Ann"}`,
		"wrong type":    `{"name":42,"email":"x"}`,
		"unknown field": `{"name":"Ann","email":"x","extra":true}`,
		"not an object": `["Ann"]`,
		"absent":        ``,
		"malformed":     `{"name":`,
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.CallTool(context.Background(), testSession, &mcp.CallToolRequestReceived{Name: "greet", Arguments: json.RawMessage(args)})
			var ipe *InvalidParametersError
			if !errors.As(err, &ipe) {
				t.Fatalf("CallTool error = %v, want *InvalidParametersError", err)
			}
			if ipe.Kind != KindTool || ipe.Name != "greet" {
				t.Fatalf("unexpected error detail: %+v", ipe)
			}
		})
	}
}

func TestCallTool_AllowAdditionalProperties(t *testing.T) {
	c := mustTools(t, greetTool(WithToolAllowAdditionalProperties(true)))
	res, err := c.CallTool(context.Background(), testSession, &mcp.CallToolRequestReceived{
		Name:      "greet",
		Arguments: json.RawMessage(`{"name":"Ann","email":"x","extra":1}`),
	})
	if err != nil || res.IsError {
		t.Fatalf("expected success with extra field, got res=%+v err=%v", res, err)
	}
}

func TestCallTool_UnknownTool(t *testing.T) {
	c := mustTools(t, greetTool())
	_, err := c.CallTool(context.Background(), testSession, &mcp.CallToolRequestReceived{Name: "nope"})
	if !errors.Is(err, ErrCapabilityNotFound) {
		t.Fatalf("CallTool error = %v, want ErrCapabilityNotFound", err)
	}
}

func TestCallTool_HandlerErrorBecomesFailureText(t *testing.T) {
	tool := NewTool[emptyArgs]("save", func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[emptyArgs]) error {
		_ = w.AppendText("partial output that must not leak")
		return errors.New("disk full")
	}, WithToolFailureMessage("Failed to save user"))
	c := mustTools(t, tool)

	res, err := c.CallTool(context.Background(), testSession, &mcp.CallToolRequestReceived{Name: "save", Arguments: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("CallTool returned protocol error %v, want failure content", err)
	}
	if !res.IsError || len(res.Content) != 1 || res.Content[0].Text != "Failed to save user" {
		t.Fatalf("unexpected failure result: %+v", res)
	}
}

func TestCallTool_PanicBecomesFailureText(t *testing.T) {
	tool := NewTool[emptyArgs]("boom", func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[emptyArgs]) error {
		panic("kaboom")
	})
	c := mustTools(t, tool)

	res, err := c.CallTool(context.Background(), testSession, &mcp.CallToolRequestReceived{Name: "boom"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError || res.Content[0].Text != DefaultToolFailureMessage {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestNewToolsContainer_RejectsDuplicates(t *testing.T) {
	_, err := NewToolsContainer(greetTool(), greetTool())
	var dup *DuplicateCapabilityError
	if !errors.As(err, &dup) {
		t.Fatalf("error = %v, want *DuplicateCapabilityError", err)
	}
	if dup.Kind != KindTool || dup.Name != "greet" {
		t.Fatalf("unexpected duplicate detail: %+v", dup)
	}
}

func TestListTools_Paginates(t *testing.T) {
	var defs []StaticTool
	for i := 0; i < defaultPageSize+3; i++ {
		defs = append(defs, NewTool[emptyArgs](fmt.Sprintf("t%02d", i), func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[emptyArgs]) error {
			return nil
		}))
	}
	c := mustTools(t, defs...)

	first, _ := c.ListTools(context.Background(), testSession, nil)
	if len(first.Items) != defaultPageSize || first.NextCursor == nil {
		t.Fatalf("first page: %d items, cursor %v", len(first.Items), first.NextCursor)
	}
	second, _ := c.ListTools(context.Background(), testSession, first.NextCursor)
	if len(second.Items) != 3 || second.NextCursor != nil {
		t.Fatalf("second page: %d items, cursor %v", len(second.Items), second.NextCursor)
	}
	if second.Items[0].Name != "t50" {
		t.Fatalf("second page starts at %s", second.Items[0].Name)
	}
}

func TestToolResponseWriter_FinalizedRejectsWrites(t *testing.T) {
	w := newToolResponseWriter(context.Background())
	_ = w.AppendText("a")
	res := w.Result()
	if err := w.AppendText("b"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("AppendText after Result = %v, want ErrFinalized", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("unexpected content: %+v", res.Content)
	}
}

func TestToolResponseWriter_EmptyContentIsNotNil(t *testing.T) {
	res := newToolResponseWriter(context.Background()).Result()
	b, _ := json.Marshal(res)
	if !strings.Contains(string(b), `"content":[]`) {
		t.Fatalf("expected empty content array, got %s", b)
	}
}

func TestCallTool_HandlerReportedErrorAndMeta(t *testing.T) {
	tool := NewTool[personArgs]("lookup", func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[personArgs]) error {
		w.SetMeta("source", "directory")
		w.SetMeta("", "ignored")
		w.SetError(true)
		return w.AppendText("no entry for " + r.Args().Email)
	})
	c := mustTools(t, tool)
	res, err := c.CallTool(context.Background(), testSession, &mcp.CallToolRequestReceived{
		Name:      "lookup",
		Arguments: json.RawMessage(`{"name":"Ann","email":"ann@example.com"}`),
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError || len(res.Content) != 1 || res.Content[0].Text != "no entry for ann@example.com" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Meta) != 1 || res.Meta["source"] != "directory" {
		t.Fatalf("unexpected meta: %+v", res.Meta)
	}
}

func TestNewTool_AnonymousArgsStruct(t *testing.T) {
	type anon = struct {
		Query string `json:"query" jsonschema:"description=Search text"`
	}
	tool := NewTool[anon]("search", func(ctx context.Context, s sessions.Session, w ToolResponseWriter, r *ToolRequest[anon]) error {
		return w.AppendText("searching " + r.Args().Query)
	})
	c := mustTools(t, tool)

	page, err := c.ListTools(context.Background(), testSession, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	schema := page.Items[0].InputSchema
	if schema.Properties["query"].Description != "Search text" || len(schema.Required) != 1 || schema.Required[0] != "query" {
		t.Fatalf("unexpected schema: %+v", schema)
	}

	res, err := c.CallTool(context.Background(), testSession, &mcp.CallToolRequestReceived{Name: "search", Arguments: json.RawMessage(`{"query":"ann"}`)})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Content[0].Text != "searching ann" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
