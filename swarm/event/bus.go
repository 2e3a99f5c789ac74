// Package event provides fire-and-forget domain event publication.
// Publishing never blocks and never fails the originating call: slow or
// absent consumers cause events to be dropped, not calls to stall.
package event

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

// Publisher is the outbound event channel used by the coordination
// services. Implementations must not block in Publish.
type Publisher interface {
	Publish(evt types.Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(types.Event) {}

// Bus is an in-process publisher fanning events out to subscribers over
// buffered channels. A subscriber that falls behind loses events rather
// than backpressuring the producer.
type Bus struct {
	mu        sync.RWMutex
	subs      map[int]chan types.Event
	nextID    int
	bufSize   int
	closed    bool
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufSize int, logger *zap.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:    make(map[int]chan types.Event),
		bufSize: bufSize,
		logger:  logger.With(zap.String("component", "event_bus")),
	}
}

// Publish delivers evt to every subscriber without blocking. Events are
// dropped for subscribers whose buffer is full.
func (b *Bus) Publish(evt types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("type", string(evt.Type)),
			)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.Event, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close shuts the bus down. Subsequent Publish calls are no-ops.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for id, ch := range b.subs {
			delete(b.subs, id)
			close(ch)
		}
	})
}

// Multi fans a single Publish out to several publishers.
type Multi []Publisher

func (m Multi) Publish(evt types.Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(evt)
		}
	}
}
