// Package notifier implements a channel/goroutine-based ports.Notifier: a
// one-directional fan-out from Emit to every registered subscriber. Unlike
// the core engines, this adapter is a legitimate place for concurrency — it
// sits outside the single-threaded event loop and exists purely to let
// external observers (a status API, a log sink, an alerting hook) receive
// artifact events without blocking the engine that emits them.
package notifier

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"go.uber.org/zap"
)

// Handler receives one artifact event. Handlers run in their own goroutine
// and must not block indefinitely; Bus does not enforce a timeout on them.
type Handler func(core.ArtifactEvent)

// Subscription is the handle returned by Subscribe, used to Unsubscribe.
type Subscription struct {
	id     uint64
	stream core.ArtifactStream // empty means "all streams"
}

type subscriberEntry struct {
	id      uint64
	stream  core.ArtifactStream
	handler Handler
}

// Bus is a non-blocking fan-out Notifier: Emit dispatches to each
// subscriber on its own goroutine so a slow or stuck handler never blocks
// the caller or other subscribers.
type Bus struct {
	mu          sync.RWMutex
	logger      *zap.Logger
	subscribers []subscriberEntry
	nextID      atomic.Uint64
	published   atomic.Uint64
}

// NewBus builds an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers handler for events on stream; an empty stream
// subscribes to every stream.
func (b *Bus) Subscribe(stream core.ArtifactStream, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID.Add(1)
	b.subscribers = append(b.subscribers, subscriberEntry{id: id, stream: stream, handler: handler})
	return &Subscription{id: id, stream: stream}
}

// Unsubscribe removes a previously registered subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, entry := range b.subscribers {
		if entry.id == sub.id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Emit implements ports.Notifier: it dispatches event to every matching
// subscriber in its own goroutine and returns immediately. ctx cancellation
// is advisory only — handlers already launched are not interrupted.
func (b *Bus) Emit(ctx context.Context, event core.ArtifactEvent) error {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, entry := range b.subscribers {
		if entry.stream != "" && entry.stream != event.Stream {
			continue
		}
		handler := entry.handler
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("notifier handler panicked", zap.Any("recovered", r))
				}
			}()
			handler(event)
		}()
	}
	return nil
}

// Stats reports how many events have been published since construction.
func (b *Bus) Stats() (published uint64) {
	return b.published.Load()
}
