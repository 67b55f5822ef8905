// Package storagetest is a conformance suite shared by every storage.Document
// backend.
package storagetest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-users/storage"
)

// Factory returns a fresh, empty document. The suite closes it.
type Factory func(t *testing.T) storage.Document

// RunDocumentTests exercises the storage.Document contract against a backend.
func RunDocumentTests(t *testing.T, newDoc Factory) {
	t.Helper()

	t.Run("LoadAbsent", func(t *testing.T) {
		doc := newDoc(t)
		defer doc.Close()

		b, err := doc.Load(context.Background())
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if b != nil {
			t.Fatalf("Load() of absent document = %q, want nil", b)
		}
	})

	t.Run("UpdateThenLoad", func(t *testing.T) {
		doc := newDoc(t)
		defer doc.Close()
		ctx := context.Background()

		if err := doc.Update(ctx, func(cur []byte) ([]byte, error) {
			if cur != nil {
				t.Errorf("first Update saw %q, want nil", cur)
			}
			return []byte("[]"), nil
		}); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
		if err := doc.Update(ctx, func(cur []byte) ([]byte, error) {
			if string(cur) != "[]" {
				t.Errorf("second Update saw %q, want []", cur)
			}
			return []byte(`[{"id":1}]`), nil
		}); err != nil {
			t.Fatalf("Update() error: %v", err)
		}

		b, err := doc.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if string(b) != `[{"id":1}]` {
			t.Fatalf("Load() = %q", b)
		}
	})

	t.Run("UpdateErrorLeavesContent", func(t *testing.T) {
		doc := newDoc(t)
		defer doc.Close()
		ctx := context.Background()

		if err := doc.Update(ctx, func([]byte) ([]byte, error) { return []byte("keep"), nil }); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
		boom := errors.New("boom")
		err := doc.Update(ctx, func([]byte) ([]byte, error) { return []byte("lost"), boom })
		if !errors.Is(err, boom) {
			t.Fatalf("Update() error = %v, want %v", err, boom)
		}
		b, err := doc.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if string(b) != "keep" {
			t.Fatalf("Load() after failed update = %q, want keep", b)
		}
	})

	t.Run("ConcurrentUpdatesSerialize", func(t *testing.T) {
		doc := newDoc(t)
		defer doc.Close()
		ctx := context.Background()

		const writers = 8
		const perWriter = 5
		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					errs <- doc.Update(ctx, func(cur []byte) ([]byte, error) {
						n := 0
						if cur != nil {
							var err error
							if n, err = strconv.Atoi(string(cur)); err != nil {
								return nil, err
							}
						}
						return []byte(strconv.Itoa(n + 1)), nil
					})
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("Update() error: %v", err)
			}
		}

		b, err := doc.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if got, want := string(b), strconv.Itoa(writers*perWriter); got != want {
			t.Fatalf("counter = %s, want %s (lost updates)", got, want)
		}
	})

	t.Run("WatchReportsUpdates", func(t *testing.T) {
		doc := newDoc(t)
		defer doc.Close()

		w, ok := doc.(storage.Watcher)
		if !ok {
			t.Skip("backend does not implement storage.Watcher")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		changed := make(chan struct{}, 16)
		ready := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			close(ready)
			done <- w.Watch(ctx, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
		}()
		<-ready

		// Watch setup is asynchronous; keep writing until a change is seen.
		deadline := time.After(5 * time.Second)
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		n := 0
		for {
			n++
			v := []byte(strconv.Itoa(n))
			if err := doc.Update(context.Background(), func([]byte) ([]byte, error) { return v, nil }); err != nil {
				t.Fatalf("Update() error: %v", err)
			}
			select {
			case <-changed:
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("Watch() returned error: %v", err)
				}
				return
			case <-deadline:
				t.Fatalf("no change reported after %d updates", n)
			case <-tick.C:
			}
		}
	})
}
