package mcpservice

import (
	"context"

	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/sessions"
)

// ServerOption configures a concrete ServerCapabilities implementation.
type ServerOption func(*server)

type server struct {
	info               mcp.ImplementationInfo
	protocolVersion    string
	staticInstructions *string

	resources ResourcesCapability
	tools     ToolsCapability
	prompts   PromptsCapability
	logging   LoggingCapability
}

// NewServer builds a ServerCapabilities using functional options. Every
// capability is fixed at construction; nothing is selected per session.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the server info value.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *server) { s.info = info }
}

// WithPreferredProtocolVersion pins the protocol version offered during
// initialize regardless of what the client asks for.
func WithPreferredProtocolVersion(version string) ServerOption {
	return func(s *server) { s.protocolVersion = version }
}

// WithInstructions sets human-readable instructions returned during
// initialize. An empty string omits them.
func WithInstructions(instr string) ServerOption {
	return func(s *server) {
		if instr == "" {
			s.staticInstructions = nil
			return
		}
		s.staticInstructions = &instr
	}
}

// WithResourcesCapability wires the resources capability.
func WithResourcesCapability(cap ResourcesCapability) ServerOption {
	return func(s *server) { s.resources = cap }
}

// WithToolsCapability wires the tools capability.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *server) { s.tools = cap }
}

// WithPromptsCapability wires the prompts capability.
func WithPromptsCapability(cap PromptsCapability) ServerOption {
	return func(s *server) { s.prompts = cap }
}

// WithLoggingCapability wires the logging capability.
func WithLoggingCapability(cap LoggingCapability) ServerOption {
	return func(s *server) { s.logging = cap }
}

func (s *server) GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error) {
	return s.info, nil
}

func (s *server) GetPreferredProtocolVersion(ctx context.Context) (string, bool, error) {
	if s.protocolVersion != "" {
		return s.protocolVersion, true, nil
	}
	return "", false, nil
}

func (s *server) GetInstructions(ctx context.Context, session sessions.Session) (string, bool, error) {
	if s.staticInstructions != nil {
		return *s.staticInstructions, true, nil
	}
	return "", false, nil
}

func (s *server) GetResourcesCapability(ctx context.Context, session sessions.Session) (ResourcesCapability, bool, error) {
	return s.resources, s.resources != nil, nil
}

func (s *server) GetToolsCapability(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error) {
	return s.tools, s.tools != nil, nil
}

func (s *server) GetPromptsCapability(ctx context.Context, session sessions.Session) (PromptsCapability, bool, error) {
	return s.prompts, s.prompts != nil, nil
}

func (s *server) GetLoggingCapability(ctx context.Context, session sessions.Session) (LoggingCapability, bool, error) {
	return s.logging, s.logging != nil, nil
}
