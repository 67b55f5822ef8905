package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/sessions"
)

// PromptHandler handles a prompt get request to produce messages.
type PromptHandler func(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with a handler that can materialize it.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

func (p StaticPrompt) CapabilityKind() Kind   { return KindPrompt }
func (p StaticPrompt) CapabilityName() string { return p.Descriptor.Name }

// PromptOption configures NewTemplatePrompt.
type PromptOption func(*promptConfig)

type promptConfig struct {
	title       string
	description string
	role        mcp.Role
}

// WithPromptTitle sets the human-friendly title shown in listings.
func WithPromptTitle(title string) PromptOption {
	return func(c *promptConfig) { c.title = title }
}

// WithPromptDescription sets the prompt description used in listings and
// echoed in prompts/get results.
func WithPromptDescription(desc string) PromptOption {
	return func(c *promptConfig) { c.description = desc }
}

// WithPromptRole sets the role of the rendered message. Defaults to user.
func WithPromptRole(role mcp.Role) PromptOption {
	return func(c *promptConfig) { c.role = role }
}

// NewTemplatePrompt declares a prompt whose arguments are the string fields
// of A and whose single message is text rendered from tmpl with the decoded
// arguments as dot. Arguments are checked before rendering: a missing
// required argument or an undeclared one is an *InvalidParametersError.
//
// It panics if tmpl does not parse.
func NewTemplatePrompt[A any](name, tmpl string, opts ...PromptOption) StaticPrompt {
	cfg := promptConfig{role: mcp.RoleUser}
	for _, opt := range opts {
		opt(&cfg)
	}
	t := template.Must(template.New(name).Option("missingkey=error").Parse(tmpl))
	args := reflectPromptArguments[A]()

	desc := mcp.Prompt{
		Name:        name,
		Title:       cfg.title,
		Description: cfg.description,
		Arguments:   args,
	}

	handler := func(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
		if err := checkPromptArguments(name, args, req.Arguments); err != nil {
			return nil, err
		}

		// Prompt arguments arrive as a string map; a JSON hop maps them onto
		// A's fields through the same tags that described them.
		raw, err := json.Marshal(req.Arguments)
		if err != nil {
			return nil, fmt.Errorf("encode prompt arguments: %w", err)
		}
		var a A
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, &InvalidParametersError{Kind: KindPrompt, Name: name, Reason: err.Error()}
		}

		var buf bytes.Buffer
		if err := t.Execute(&buf, a); err != nil {
			return nil, fmt.Errorf("render prompt %q: %w", name, err)
		}
		return &mcp.GetPromptResult{
			Description: cfg.description,
			Messages: []mcp.PromptMessage{{
				Role:    cfg.role,
				Content: mcp.TextBlock(buf.String()),
			}},
		}, nil
	}

	return StaticPrompt{Descriptor: desc, Handler: handler}
}

func checkPromptArguments(name string, declared []mcp.PromptArgument, got map[string]string) error {
	known := make(map[string]bool, len(declared))
	var missing []string
	for _, a := range declared {
		known[a.Name] = true
		if _, ok := got[a.Name]; a.Required && !ok {
			missing = append(missing, a.Name)
		}
	}
	var unknown []string
	for k := range got {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)

	switch {
	case len(missing) > 0:
		return &InvalidParametersError{Kind: KindPrompt, Name: name, Reason: "missing required argument(s): " + strings.Join(missing, ", ")}
	case len(unknown) > 0:
		return &InvalidParametersError{Kind: KindPrompt, Name: name, Reason: "unknown argument(s): " + strings.Join(unknown, ", ")}
	}
	return nil
}

// PromptsContainer is an immutable set of prompts built once at startup.
type PromptsContainer struct {
	prompts []mcp.Prompt
	byName  map[string]StaticPrompt
}

var _ PromptsCapability = (*PromptsContainer)(nil)

// NewPromptsContainer builds a container from defs. A repeated name fails
// with *DuplicateCapabilityError.
func NewPromptsContainer(defs ...StaticPrompt) (*PromptsContainer, error) {
	pc := &PromptsContainer{
		prompts: make([]mcp.Prompt, 0, len(defs)),
		byName:  make(map[string]StaticPrompt, len(defs)),
	}
	for _, d := range defs {
		name := d.Descriptor.Name
		if name == "" {
			return nil, fmt.Errorf("prompt declared without a name")
		}
		if _, exists := pc.byName[name]; exists {
			return nil, &DuplicateCapabilityError{Kind: KindPrompt, Name: name}
		}
		if d.Handler == nil {
			return nil, fmt.Errorf("prompt %q declared without a handler", name)
		}
		pc.prompts = append(pc.prompts, d.Descriptor)
		pc.byName[name] = d
	}
	return pc, nil
}

// Lookup returns the declaration registered under name.
func (pc *PromptsContainer) Lookup(name string) (StaticPrompt, error) {
	p, ok := pc.byName[name]
	if !ok {
		return StaticPrompt{}, &NotFoundError{Kind: KindPrompt, Name: name}
	}
	return p, nil
}

func (pc *PromptsContainer) ListPrompts(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Prompt], error) {
	return pageSlice(pc.prompts, defaultPageSize, cursor), nil
}

func (pc *PromptsContainer) GetPrompt(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error) {
	if req == nil || req.Name == "" {
		return nil, &InvalidParametersError{Kind: KindPrompt, Reason: "missing prompt name"}
	}
	p, err := pc.Lookup(req.Name)
	if err != nil {
		return nil, err
	}
	return p.Handler(ctx, session, req)
}
