package mcpservice

import (
	"context"
	"sync"
)

// ChangeNotifier is a small in-process pub-sub for "something changed"
// signals. The users store notifies one after every append and the document
// watcher after every external edit; resource subscriptions listen on it.
//
// The zero value is ready to use.
type ChangeNotifier struct {
	mu     sync.Mutex
	subs   map[uint64]chan struct{}
	nextID uint64
	closed bool
}

// Notify signals every current subscriber. Sends never block: a subscriber
// that has not drained its previous signal simply sees one coalesced tick.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	if cn.closed {
		return nil
	}
	for _, ch := range cn.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that ticks after each Notify until ctx is done,
// at which point the subscription is removed and the channel closed.
func (cn *ChangeNotifier) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		close(ch)
		return ch
	}
	if cn.subs == nil {
		cn.subs = make(map[uint64]chan struct{})
	}
	id := cn.nextID
	cn.nextID++
	cn.subs[id] = ch
	cn.mu.Unlock()

	go func() {
		<-ctx.Done()
		cn.mu.Lock()
		if c, ok := cn.subs[id]; ok {
			delete(cn.subs, id)
			close(c)
		}
		cn.mu.Unlock()
	}()
	return ch
}

// Close closes every subscriber channel. Later Subscribe calls return an
// already-closed channel.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return
	}
	cn.closed = true
	for id, ch := range cn.subs {
		close(ch)
		delete(cn.subs, id)
	}
}

// ChangeSubscriber is anything that can hand out change ticks.
type ChangeSubscriber interface {
	Subscribe(ctx context.Context) <-chan struct{}
}

var _ ChangeSubscriber = (*ChangeNotifier)(nil)
