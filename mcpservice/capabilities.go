package mcpservice

import (
	"context"

	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/sessions"
)

// ServerCapabilities is what the request engine consults to answer
// initialize and to route every later method.
//
// Capability discovery methods return (cap, ok, err). A false ok indicates
// that the capability is not offered; err is reserved for internal failures
// while determining support.
type ServerCapabilities interface {
	// GetServerInfo returns implementation information surfaced in the
	// initialize result.
	GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion returns the server's preferred protocol
	// version. If ok is false, the engine falls back to the client's
	// requested version when supported, and to mcp.LatestProtocolVersion
	// otherwise.
	GetPreferredProtocolVersion(ctx context.Context) (version string, ok bool, err error)

	// GetInstructions returns optional human-readable instructions included
	// in the initialize result.
	GetInstructions(ctx context.Context, session sessions.Session) (instructions string, ok bool, err error)

	GetResourcesCapability(ctx context.Context, session sessions.Session) (cap ResourcesCapability, ok bool, err error)
	GetToolsCapability(ctx context.Context, session sessions.Session) (cap ToolsCapability, ok bool, err error)
	GetPromptsCapability(ctx context.Context, session sessions.Session) (cap PromptsCapability, ok bool, err error)
	GetLoggingCapability(ctx context.Context, session sessions.Session) (cap LoggingCapability, ok bool, err error)
}

// ResourcesCapability defines the resource operations supported by the
// server. All methods MUST be safe for concurrent use.
type ResourcesCapability interface {
	// ListResources returns a page of fixed resources. A nil cursor requests
	// the first page. Template instances are never enumerated here.
	ListResources(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Resource], error)

	// ListResourceTemplates returns a page of resource templates.
	ListResourceTemplates(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.ResourceTemplate], error)

	// ReadResource returns the contents for a URI. A URI that no resource or
	// template answers yields an error matching ErrCapabilityNotFound.
	ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error)

	// GetSubscriptionCapability returns the optional subscription surface. The
	// engine uses ok to decide whether to advertise "subscribe".
	GetSubscriptionCapability(ctx context.Context, session sessions.Session) (cap ResourceSubscriptionCapability, ok bool, err error)
}

// CancelSubscription ends an active subscription. It MUST be idempotent.
type CancelSubscription func(ctx context.Context) error

// NotifyResourceUpdatedFunc is invoked when a subscribed URI may have new
// contents.
type NotifyResourceUpdatedFunc func(ctx context.Context, uri string)

// ResourceSubscriptionCapability delivers updates for individual URIs.
// Subscribe returns quickly; updates are delivered from another goroutine
// until the returned cancel func is called.
type ResourceSubscriptionCapability interface {
	Subscribe(ctx context.Context, session sessions.Session, uri string, emit NotifyResourceUpdatedFunc) (CancelSubscription, error)
}

// ToolsCapability defines the server's tools surface area.
type ToolsCapability interface {
	ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a named tool. Lookup failures and argument validation
	// failures are returned as errors (*NotFoundError, *InvalidParametersError);
	// failures inside the tool itself are reported in the result with
	// IsError set.
	CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}

// PromptsCapability defines the server's prompts surface area.
type PromptsCapability interface {
	ListPrompts(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Prompt], error)
	GetPrompt(ctx context.Context, session sessions.Session, req *mcp.GetPromptRequestReceived) (*mcp.GetPromptResult, error)
}

// LoggingCapability allows the client to adjust the server's logging level.
type LoggingCapability interface {
	SetLevel(ctx context.Context, session sessions.Session, level mcp.LoggingLevel) error
}
