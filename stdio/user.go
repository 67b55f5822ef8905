package stdio

import (
	"os/user"
)

// UserProvider resolves the user id recorded on the stdio session. Stdio
// carries no credentials; the principal is whoever launched the process.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider resolves the user ID using the operating system's current
// user: the username when available, the uid otherwise.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}

// StaticUserProvider always reports the same user id.
type StaticUserProvider string

func (s StaticUserProvider) CurrentUserID() (string, error) {
	return string(s), nil
}
