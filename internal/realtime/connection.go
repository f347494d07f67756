package realtime

import (
	"encoding/json"
	"sync"
	"time"
)

// Message is the wire shape pushed to a connection: the event payload plus
// the sequence number assigned for this connection's target scope.
type Message struct {
	EventID   string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"ts"`
}

// Connection is one admitted realtime channel. The registry owns the record
// for its lifetime; transport code only drains Outbound and watches Done.
// Outbound is a bounded queue so a slow client backs up its own channel,
// never the dispatcher.
type Connection struct {
	ID       string
	Subject  string
	Scopes   []string
	OpenedAt time.Time

	outbound  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id, subject string, scopes []string, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Connection{
		ID:       id,
		Subject:  subject,
		Scopes:   scopes,
		OpenedAt: time.Now(),
		outbound: make(chan Message, queueSize),
		done:     make(chan struct{}),
	}
}

// Outbound is the connection's delivery queue.
func (c *Connection) Outbound() <-chan Message {
	return c.outbound
}

// Done is closed when the connection is removed or evicted.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// trySend enqueues without blocking. False means the queue is full or the
// connection is closed; the caller treats the connection as dead.
func (c *Connection) trySend(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbound <- msg:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
