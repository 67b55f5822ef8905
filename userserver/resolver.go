package userserver

import (
	"context"
	"errors"
	"strconv"

	"github.com/ggoodman/mcp-users/mcp"
	"github.com/ggoodman/mcp-users/mcpservice"
	"github.com/ggoodman/mcp-users/sessions"
	"github.com/ggoodman/mcp-users/users"
)

const (
	AllUsersURI        = "users://all"
	UserProfileURITmpl = "users://{userId}/profile"

	jsonMimeType = "application/json"
)

// ErrInvalidUserID is returned by ParseUserID for a placeholder that is not
// a positive decimal integer.
var ErrInvalidUserID = errors.New("invalid user id")

// ParseUserID parses the {userId} placeholder of a profile URI. Only plain
// decimal digits naming a positive id are accepted; signs, spaces and
// fractions are rejected.
func ParseUserID(raw string) (int, error) {
	if raw == "" {
		return 0, ErrInvalidUserID
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, ErrInvalidUserID
		}
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, ErrInvalidUserID
	}
	return id, nil
}

// Resolver answers reads of the users resources from the record store.
type Resolver struct {
	store *users.Store
}

// NewResolver returns a Resolver reading from store.
func NewResolver(store *users.Store) *Resolver {
	return &Resolver{store: store}
}

// All renders the whole collection.
func (r *Resolver) All(ctx context.Context, _ sessions.Session, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
	all, err := r.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.URI, all)
}

// Profile renders one record. An id that names no record, malformed ones
// included, is answered with an error object in the body rather than a
// protocol error.
func (r *Resolver) Profile(ctx context.Context, _ sessions.Session, req *mcpservice.ResourceRequest) ([]mcp.ResourceContents, error) {
	raw, _ := req.Var("userId")
	id, err := ParseUserID(raw)
	if err != nil {
		return jsonContents(req.URI, errorBody{Error: "User not found"})
	}

	u, err := r.store.FindByID(ctx, id)
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		return jsonContents(req.URI, errorBody{Error: "User not found"})
	case err != nil:
		return nil, err
	}
	return jsonContents(req.URI, u)
}

type errorBody struct {
	Error string `json:"error"`
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	text, err := users.MarshalPretty(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: jsonMimeType, Text: string(text)}}, nil
}
