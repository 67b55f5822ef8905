// Package memory provides an in-process storage.Document. Content does not
// survive the process; it is intended for tests and ephemeral servers.
package memory

import (
	"context"
	"sync"

	"github.com/ggoodman/mcp-users/storage"
)

// Document implements storage.Document and storage.Watcher in memory.
type Document struct {
	mu       sync.RWMutex
	data     []byte
	closed   bool
	watchers map[int]chan struct{}
	nextID   int
}

var (
	_ storage.Document = (*Document)(nil)
	_ storage.Watcher  = (*Document)(nil)
)

// New returns a Document holding a copy of initial (nil for absent).
func New(initial []byte) *Document {
	d := &Document{watchers: make(map[int]chan struct{})}
	if initial != nil {
		d.data = clone(initial)
	}
	return d
}

func (d *Document) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.ErrClosed
	}
	return clone(d.data), nil
}

func (d *Document) Update(ctx context.Context, fn storage.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return storage.ErrClosed
	}
	next, err := fn(clone(d.data))
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.data = clone(next)
	for _, ch := range d.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	d.mu.Unlock()
	return nil
}

// Watch calls onChange after every committed Update until ctx is done.
func (d *Document) Watch(ctx context.Context, onChange func()) error {
	ch := make(chan struct{}, 1)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return storage.ErrClosed
	}
	id := d.nextID
	d.nextID++
	d.watchers[id] = ch
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.watchers, id)
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			onChange()
		}
	}
}

func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, ch := range d.watchers {
		close(ch)
		delete(d.watchers, id)
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
