// Package mcp contains the Model Context Protocol data types and constants
// used by the users server. It mirrors the wire representation of the
// protocol while keeping the surface Go-friendly (exported structs with json
// tags, string constants for method names and enumerations, small validation
// helpers).
//
// The package holds no transport logic. The stdio transport and the request
// engine import these types, and capability code in mcpservice builds results
// out of them.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsCallMethod). Only the methods the server answers are listed.
//
// # Tool Annotations
//
// ToolAnnotations carries the advisory behavior hints (read-only,
// destructive, idempotent, open-world). They are surfaced to the calling agent
// in tools/list and never enforced by the server.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{mcp.TextBlock("User with 1 created successfully")},
//	}
//
// # Compatibility
//
// LatestProtocolVersion is the revision the server prefers. During
// initialize the client's requested version is echoed back when
// IsSupportedProtocolVersion accepts it.
package mcp
