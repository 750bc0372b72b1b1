package client

import (
	"context"
	"sync"

	"github.com/vango-dev/tether/pkg/protocol"
)

// outbox is the ordered queue of messages waiting for one connection's
// drain loop. Once closed it rejects pushes and hands back what was left.
type outbox struct {
	mu     sync.Mutex
	items  []protocol.AppMessage
	closed bool
	notify chan struct{}
}

func newOutbox(initial []protocol.AppMessage) *outbox {
	o := &outbox{
		items:  append([]protocol.AppMessage(nil), initial...),
		notify: make(chan struct{}, 1),
	}
	if len(o.items) > 0 {
		o.notify <- struct{}{}
	}
	return o
}

// push appends msg. It reports false if the outbox is closed.
func (o *outbox) push(msg protocol.AppMessage) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.items = append(o.items, msg)
	o.mu.Unlock()
	o.wake()
	return true
}

// pushFront puts back a message whose write failed.
func (o *outbox) pushFront(msg protocol.AppMessage) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.items = append([]protocol.AppMessage{msg}, o.items...)
	return true
}

// next blocks until a message is available, the outbox is closed or ctx
// is done.
func (o *outbox) next(ctx context.Context) (protocol.AppMessage, bool) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, false
		}
		if len(o.items) > 0 {
			msg := o.items[0]
			o.items[0] = nil
			o.items = o.items[1:]
			o.mu.Unlock()
			return msg, true
		}
		o.mu.Unlock()

		select {
		case <-o.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// close rejects further pushes and returns the undelivered messages.
func (o *outbox) close() []protocol.AppMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	items := o.items
	o.items = nil
	o.wake()
	return items
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func (o *outbox) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// carryOver keeps the messages worth replaying on the next connection.
// Liveness traffic is only meaningful on the connection it was made for.
func carryOver(items []protocol.AppMessage) []protocol.AppMessage {
	out := items[:0]
	for _, msg := range items {
		switch msg.(type) {
		case protocol.Ping, protocol.Heartbeat:
			continue
		}
		out = append(out, msg)
	}
	return out
}
