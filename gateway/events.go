package gateway

import (
	"encoding/json"
	"sync"
)

// Event is implemented by every event a shard or manager publishes:
// *ReadyEvent, *ResumedEvent, *DisconnectEvent, *ErrorEvent and *DispatchEvent.
type Event interface {
	Shard() int
	isEvent()
}

// ReadyEvent is published when a new session is established.
type ReadyEvent struct {
	ShardID   int
	SessionID string
	Data      json.RawMessage
}

// ResumedEvent is published when a session was resumed.
type ResumedEvent struct {
	ShardID int
}

// DisconnectEvent is published when the socket closed without the client asking for it.
type DisconnectEvent struct {
	ShardID int
	Code    int
	// Fatal is set when the shard will not reconnect.
	Fatal bool
}

// ErrorEvent reports an error. Errors wrapped in *GatewayError are fatal
// for the shard; anything else is recovered from.
type ErrorEvent struct {
	ShardID int
	Err     error
}

// DispatchEvent carries every op 0 frame, READY and RESUMED included.
type DispatchEvent struct {
	ShardID  int
	Name     string
	Sequence int64
	Data     json.RawMessage
}

func (e *ReadyEvent) Shard() int      { return e.ShardID }
func (e *ResumedEvent) Shard() int    { return e.ShardID }
func (e *DisconnectEvent) Shard() int { return e.ShardID }
func (e *ErrorEvent) Shard() int      { return e.ShardID }
func (e *DispatchEvent) Shard() int   { return e.ShardID }

func (*ReadyEvent) isEvent()      {}
func (*ResumedEvent) isEvent()    {}
func (*DisconnectEvent) isEvent() {}
func (*ErrorEvent) isEvent()      {}
func (*DispatchEvent) isEvent()   {}

// Handler receives events. Handlers run on the publishing goroutine and
// must not block.
type Handler func(Event)

// hub fans events out to subscribers in registration order.
type hub struct {
	mu       sync.RWMutex
	next     uint64
	handlers []subscription
}

type subscription struct {
	id uint64
	fn Handler
}

// Subscribe registers fn and returns a function removing it.
func (h *hub) Subscribe(fn Handler) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	h.handlers = append(h.handlers, subscription{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, sub := range h.handlers {
			if sub.id == id {
				h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
				return
			}
		}
	}
}

func (h *hub) publish(e Event) {
	h.mu.RLock()
	handlers := h.handlers
	h.mu.RUnlock()

	for _, sub := range handlers {
		sub.fn(e)
	}
}

func (h *hub) clear() {
	h.mu.Lock()
	h.handlers = nil
	h.mu.Unlock()
}
