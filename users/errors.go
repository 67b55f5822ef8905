package users

import (
	"errors"
	"fmt"
)

// ErrUserNotFound is returned by FindByID when no record has the id.
var ErrUserNotFound = errors.New("user not found")

// StorageReadError reports that the storage medium could not be read or
// written.
type StorageReadError struct {
	Op  string
	Err error
}

func (e *StorageReadError) Error() string {
	return fmt.Sprintf("users: %s: storage unavailable: %v", e.Op, e.Err)
}

func (e *StorageReadError) Unwrap() error { return e.Err }

// StorageFormatError reports that the stored document is not a JSON array of
// user records with positive ids.
type StorageFormatError struct {
	Reason string
	Err    error
}

func (e *StorageFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("users: malformed document: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("users: malformed document: %s", e.Reason)
}

func (e *StorageFormatError) Unwrap() error { return e.Err }
