// Package file stores a document as a regular file. Writes go to a
// temporary sibling which is fsynced and renamed over the target, so a reader
// always observes either the previous or the next complete content.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-users/storage"
)

// Document implements storage.Document and storage.Watcher over a path on
// the local filesystem.
type Document struct {
	path     string
	perm     fs.FileMode
	debounce time.Duration

	mu     sync.Mutex
	closed bool
}

var (
	_ storage.Document = (*Document)(nil)
	_ storage.Watcher  = (*Document)(nil)
)

// Option configures a Document.
type Option func(*Document)

// WithPerm sets the mode used when the file is first created. Defaults to 0o644.
func WithPerm(perm fs.FileMode) Option {
	return func(d *Document) { d.perm = perm }
}

// WithDebounce sets how long Watch waits for a burst of filesystem events to
// settle before reporting a change. Defaults to 50ms; zero reports every event.
func WithDebounce(interval time.Duration) Option {
	return func(d *Document) { d.debounce = interval }
}

// New returns a Document for path. The parent directory is created if it
// does not exist; the file itself is created lazily on the first Update.
func New(path string, opts ...Option) (*Document, error) {
	if path == "" {
		return nil, errors.New("file: path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("file: resolve %q: %w", path, err)
	}
	d := &Document{path: abs, perm: 0o644, debounce: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(d)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("file: create parent of %q: %w", abs, err)
	}
	return d, nil
}

// Path returns the absolute path of the backing file.
func (d *Document) Path() string { return d.path }

func (d *Document) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.isClosed() {
		return nil, storage.ErrClosed
	}
	b, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read %q: %w", d.path, err)
	}
	return b, nil
}

func (d *Document) Update(ctx context.Context, fn storage.UpdateFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cur, err := os.ReadFile(d.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file: read %q: %w", d.path, err)
	}
	if errors.Is(err, fs.ErrNotExist) {
		cur = nil
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	return d.writeAtomic(next)
}

func (d *Document) writeAtomic(data []byte) error {
	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: write temp: %w", err)
	}
	if err := tmp.Chmod(d.perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close temp: %w", err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("file: replace %q: %w", d.path, err)
	}
	committed = true

	// Persist the directory entry too. Not every platform allows opening a
	// directory for sync, so failures here are ignored.
	if dh, err := os.Open(dir); err == nil {
		_ = dh.Sync()
		_ = dh.Close()
	}
	return nil
}

// Watch reports changes to the backing file until ctx is done. The parent
// directory is watched rather than the file because atomic replacement swaps
// the inode, which would silently end a watch on the file itself.
func (d *Document) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file: start watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(filepath.Dir(d.path)); err != nil {
		return fmt.Errorf("file: watch %q: %w", filepath.Dir(d.path), err)
	}

	db := &debouncer{interval: d.debounce, fire: onChange}
	defer db.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != d.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.DebugContext(ctx, "file.watch.event", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			db.trigger()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.DebugContext(ctx, "file.watch.error", slog.String("err", err.Error()))
		}
	}
}

func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Document) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	pending  bool
	stopped  bool
	interval time.Duration
	fire     func()
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.interval <= 0 {
		d.fire()
		return
	}
	if d.pending {
		return
	}
	d.pending = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.flush)
	} else {
		d.timer.Reset(d.interval)
	}
}

func (d *debouncer) flush() {
	d.mu.Lock()
	d.pending = false
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped {
		d.fire()
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
