// Package eventbus implements the per-world event bus: typed
// publish/subscribe over named channels, with isolated handler errors
// and per-channel FIFO delivery.
//
// Grounded on hector's pkg/registry.BaseRegistry[T] generic,
// mutex-guarded map pattern, adapted from a name->item registry into a
// channel->handlers registry with an async delivery queue per channel.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentworld/core/internal/logger"
	"github.com/agentworld/core/internal/worldmodel"
)

// Handler processes one event delivered on a channel. Handlers may be
// slow or fallible; the bus isolates both from other handlers and from
// the emitter.
type Handler func(ctx context.Context, event any)

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

type handlerEntry struct {
	id      uint64
	handler Handler
}

type channelState struct {
	mu       sync.Mutex
	handlers []handlerEntry
	queue    chan queuedEvent
}

type queuedEvent struct {
	ctx   context.Context
	event any
}

const channelQueueDepth = 256

// Bus is a single world's event emitter. Zero value is not usable; use
// New.
type Bus struct {
	worldID string
	log     *logger.Logger

	mu       sync.Mutex
	channels map[worldmodel.Channel]*channelState
	nextID   uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates an event bus scoped to one world.
func New(worldID string) *Bus {
	return &Bus{
		worldID:  worldID,
		log:      logger.For("eventbus").With("world_id", worldID),
		channels: map[worldmodel.Channel]*channelState{},
		closed:   make(chan struct{}),
	}
}

func (b *Bus) channel(ch worldmodel.Channel) *channelState {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.channels[ch]
	if !ok {
		cs = &channelState{queue: make(chan queuedEvent, channelQueueDepth)}
		b.channels[ch] = cs
		go b.drain(ch, cs)
	}
	return cs
}

// drain is the single per-channel worker that preserves FIFO delivery
// order for that channel.
func (b *Bus) drain(ch worldmodel.Channel, cs *channelState) {
	for {
		select {
		case <-b.closed:
			return
		case qe := <-cs.queue:
			cs.mu.Lock()
			handlers := append([]handlerEntry(nil), cs.handlers...)
			cs.mu.Unlock()
			for _, he := range handlers {
				b.invoke(ch, he, qe)
			}
		}
	}
}

// invoke calls a handler, isolating both panics and (if the handler
// chooses to report one via recover) errors from the emitter and from
// sibling handlers.
func (b *Bus) invoke(ch worldmodel.Channel, he handlerEntry, qe queuedEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				"channel", string(ch), "handler_id", he.id, "panic", fmt.Sprintf("%v", r))
		}
	}()
	he.handler(qe.ctx, qe.event)
}

// Emit publishes an event on a channel. Non-blocking: the event is
// queued and handlers run on the channel's worker goroutine. If the
// queue is full (a stalled handler backing up the channel), Emit drops
// the event and logs, rather than blocking the publisher indefinitely —
// publishing must never block.
func (b *Bus) Emit(ctx context.Context, ch worldmodel.Channel, event any) {
	cs := b.channel(ch)
	select {
	case cs.queue <- queuedEvent{ctx: ctx, event: event}:
	default:
		b.log.Warn("event channel queue full, dropping event", "channel", string(ch))
	}
}

// On registers a handler on a channel, returning an Unsubscribe func.
func (b *Bus) On(ch worldmodel.Channel, h Handler) Unsubscribe {
	cs := b.channel(ch)
	cs.mu.Lock()
	id := b.nextHandlerID()
	cs.handlers = append(cs.handlers, handlerEntry{id: id, handler: h})
	cs.mu.Unlock()

	return func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		for i, he := range cs.handlers {
			if he.id == id {
				cs.handlers = append(cs.handlers[:i], cs.handlers[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) nextHandlerID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

// Close stops all channel workers. Safe to call multiple times.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
