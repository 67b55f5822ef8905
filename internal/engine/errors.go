package engine

import (
	"context"
	"errors"

	"github.com/ggoodman/mcp-users/internal/jsonrpc"
	"github.com/ggoodman/mcp-users/mcpservice"
)

var (
	errNotInitialized = jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "session not initialized")
	errReinitialize   = jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "session already initialized")
)

func invalidParams(reason string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "invalid params: " + reason}
}

func methodNotFound(method string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "method not found: " + method}
}

// toRPCError classifies an error raised while handling a request.
//
//	*jsonrpc.Error                     -> as is
//	*mcpservice.InvalidParametersError -> -32602
//	unknown tool or prompt             -> -32602
//	unknown resource URI               -> -32002
//	invalid logging level              -> -32602
//	anything else                      -> -32603 "internal error"
func toRPCError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var ipe *mcpservice.InvalidParametersError
	if errors.As(err, &ipe) {
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: ipe.Error()}
	}

	var nf *mcpservice.NotFoundError
	if errors.As(err, &nf) {
		if nf.Kind == mcpservice.KindResource {
			return &jsonrpc.Error{
				Code:    jsonrpc.ErrorCodeResourceNotFound,
				Message: "resource not found",
				Data:    map[string]string{"uri": nf.Name},
			}
		}
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: nf.Error()}
	}

	if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
		return invalidParams(err.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "request cancelled")
	}
	return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "internal error")
}
