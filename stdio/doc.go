// Package stdio serves one MCP client over newline-delimited JSON-RPC on
// stdin and stdout.
//
//	Connection model : 1 process <-> 1 client
//	Identity         : OS user of the process
//	Framing          : one JSON object per line
//	Ordering         : requests answered sequentially, in arrival order
//
// Stdout is the protocol channel. Anything else the process prints,
// logs included, must go to stderr.
//
// Example:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "users", Version: "1.0.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
//	h := stdio.NewHandler(srv, stdio.WithLogger(logger))
//	if err := h.Serve(ctx); err != nil { ... }
package stdio
