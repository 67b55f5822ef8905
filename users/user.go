// Package users is the record store behind the users server: an ordered
// collection of user records with sequential ids, persisted as one
// pretty-printed JSON array in a storage.Document.
package users

import (
	"bytes"
	"encoding/json"
)

// User is a persisted user record. Field order matches the document layout.
type User struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// Fields are the caller-supplied attributes of a new user.
type Fields struct {
	Name    string `json:"name" jsonschema:"description=Full name of the user"`
	Email   string `json:"email" jsonschema:"description=Email address"`
	Address string `json:"address" jsonschema:"description=Postal address"`
	Phone   string `json:"phone" jsonschema:"description=Phone number"`
}

// MarshalPretty renders v as JSON indented by two spaces, without HTML
// escaping and without a trailing newline. Both the stored document and the
// resource payloads use this rendering.
func MarshalPretty(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
