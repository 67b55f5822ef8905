package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/mcp-users/storage"
)

// Store reads and appends user records. It holds no cache: every call reads
// the document afresh, so edits made by other writers are always visible.
type Store struct {
	doc storage.Document

	// writeMu serializes Append within the process; the document's own atomic
	// update guards against writers outside it.
	writeMu  sync.Mutex
	onChange []func(ctx context.Context)
}

// Option configures a Store.
type Option func(*Store)

// WithChangeHook registers fn to run after every committed Append.
func WithChangeHook(fn func(ctx context.Context)) Option {
	return func(s *Store) {
		if fn != nil {
			s.onChange = append(s.onChange, fn)
		}
	}
}

// NewStore returns a Store over doc.
func NewStore(doc storage.Document, opts ...Option) *Store {
	s := &Store{doc: doc}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadAll returns every record in insertion order. A missing or empty
// document is an empty collection.
func (s *Store) LoadAll(ctx context.Context) ([]User, error) {
	raw, err := s.doc.Load(ctx)
	if err != nil {
		return nil, &StorageReadError{Op: "load", Err: err}
	}
	return decode(raw)
}

// Append stores a new record and returns its id, which is one more than the
// number of records present before the call.
func (s *Store) Append(ctx context.Context, f Fields) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id int
	err := s.doc.Update(ctx, func(cur []byte) ([]byte, error) {
		all, err := decode(cur)
		if err != nil {
			return nil, err
		}
		id = len(all) + 1
		all = append(all, User{
			ID:      id,
			Name:    f.Name,
			Email:   f.Email,
			Address: f.Address,
			Phone:   f.Phone,
		})
		return MarshalPretty(all)
	})
	if err != nil {
		var fe *StorageFormatError
		if errors.As(err, &fe) {
			return 0, err
		}
		return 0, &StorageReadError{Op: "append", Err: err}
	}

	slog.InfoContext(ctx, "users.append", slog.Int("id", id))
	for _, fn := range s.onChange {
		fn(ctx)
	}
	return id, nil
}

// FindByID returns the first record with the given id.
func (s *Store) FindByID(ctx context.Context, id int) (User, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return User{}, err
	}
	for _, u := range all {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func decode(raw []byte) ([]User, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []User{}, nil
	}
	if raw[0] != '[' {
		return nil, &StorageFormatError{Reason: "top-level value is not an array"}
	}

	var all []User
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, &StorageFormatError{Reason: "cannot decode records", Err: err}
	}
	for i, u := range all {
		if u.ID <= 0 {
			return nil, &StorageFormatError{Reason: fmt.Sprintf("record %d has non-positive id %d", i, u.ID)}
		}
	}
	if all == nil {
		all = []User{}
	}
	return all, nil
}
