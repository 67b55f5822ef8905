// Package userserver assembles the users MCP server: the record store, the
// prompt, tool and resources it exposes, and the change notifications that
// keep resource subscribers current.
package userserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/mcpservice"
	"github.com/ggoodman/mcp-users/sessions"
	"github.com/ggoodman/mcp-users/storage"
	"github.com/ggoodman/mcp-users/users"
)

const (
	FakeUserPromptName = "generate-fake-user"
	CreateUserToolName = "create-user"

	fakeUserPromptTemplate = "Generate a fake user with the name {{.Name}}. Provide the response in JSON format with the following fields: name, email, address, phone."
	createUserFailure      = "Failed to save user"
)

type fakeUserArgs struct {
	Name string `json:"name" jsonschema:"description=Name of the user to generate"`
}

// Server owns everything behind the MCP surface. Build one with New and
// hand Capabilities to a transport.
type Server struct {
	doc      storage.Document
	store    *users.Store
	changes  *mcpservice.ChangeNotifier
	registry *mcpservice.Registry
	caps     mcpservice.ServerCapabilities

	// watching is set while a document watcher is forwarding changes; the
	// store's own hook stays quiet then so each append notifies once.
	watching atomic.Bool
}

// Option configures New.
type Option func(*config)

type config struct {
	info         mcp.ImplementationInfo
	instructions string
	levelVar     *slog.LevelVar
}

// WithServerInfo sets the name and version reported during initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(c *config) { c.info = info }
}

// WithInstructions sets the instructions returned during initialize.
func WithInstructions(instr string) Option {
	return func(c *config) { c.instructions = instr }
}

// WithLogLevel lets clients adjust lv through logging/setLevel.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(c *config) { c.levelVar = lv }
}

// New builds the server over doc. It fails only when a declaration is
// malformed or declared twice.
func New(doc storage.Document, opts ...Option) (*Server, error) {
	cfg := config{info: mcp.ImplementationInfo{Name: "users", Version: "1.0.0"}}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{doc: doc, changes: &mcpservice.ChangeNotifier{}}
	s.store = users.NewStore(doc, users.WithChangeHook(func(ctx context.Context) {
		if s.watching.Load() {
			return
		}
		_ = s.changes.Notify(ctx)
	}))
	resolver := NewResolver(s.store)

	prompts, err := mcpservice.NewPromptsContainer(
		mcpservice.NewTemplatePrompt[fakeUserArgs](FakeUserPromptName, fakeUserPromptTemplate,
			mcpservice.WithPromptDescription("Generate a fake user based on a given name"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("declare prompts: %w", err)
	}

	tools, err := mcpservice.NewToolsContainer(
		mcpservice.NewTool[users.Fields](CreateUserToolName, s.createUser,
			mcpservice.WithToolDescription("Create a new user in the database"),
			mcpservice.WithToolTitle("Create user"),
			mcpservice.WithToolReadOnlyHint(false),
			mcpservice.WithToolDestructiveHint(false),
			mcpservice.WithToolIdempotentHint(false),
			mcpservice.WithToolOpenWorldHint(true),
			mcpservice.WithToolFailureMessage(createUserFailure),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("declare tools: %w", err)
	}

	profile, err := mcpservice.NewTemplateResource(mcp.ResourceTemplate{
		URITemplate: UserProfileURITmpl,
		Name:        "user-details",
		Title:       "User Details",
		Description: "Get user details from the database",
		MimeType:    jsonMimeType,
	}, resolver.Profile, mcpservice.WithResourceUpdates(s.changes))
	if err != nil {
		return nil, fmt.Errorf("declare resources: %w", err)
	}
	resources, err := mcpservice.NewResourcesContainer(
		[]mcpservice.StaticResource{
			mcpservice.NewStaticResource(mcp.Resource{
				URI:         AllUsersURI,
				Name:        "users",
				Title:       "Get all users",
				Description: "Get all users from the database",
				MimeType:    jsonMimeType,
			}, resolver.All, mcpservice.WithResourceUpdates(s.changes)),
		},
		[]mcpservice.TemplateResource{profile},
	)
	if err != nil {
		return nil, fmt.Errorf("declare resources: %w", err)
	}

	s.registry = &mcpservice.Registry{Tools: tools, Prompts: prompts, Resources: resources}

	serverOpts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(cfg.info),
		mcpservice.WithInstructions(cfg.instructions),
		mcpservice.WithPromptsCapability(prompts),
		mcpservice.WithToolsCapability(tools),
		mcpservice.WithResourcesCapability(resources),
	}
	if cfg.levelVar != nil {
		serverOpts = append(serverOpts, mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(cfg.levelVar)))
	}
	s.caps = mcpservice.NewServer(serverOpts...)
	return s, nil
}

// Capabilities is what a transport serves.
func (s *Server) Capabilities() mcpservice.ServerCapabilities { return s.caps }

// Registry exposes the declarations by (kind, name).
func (s *Server) Registry() *mcpservice.Registry { return s.registry }

// Store is the record store the capabilities read and write.
func (s *Server) Store() *users.Store { return s.store }

// Close stops change delivery and closes the document.
func (s *Server) Close() error {
	s.changes.Close()
	return s.doc.Close()
}

func (s *Server) createUser(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[users.Fields]) error {
	id, err := s.store.Append(ctx, r.Args())
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return w.AppendText(fmt.Sprintf("User with %d created successfully", id))
}
