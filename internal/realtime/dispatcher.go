package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/lumina-api/internal/observability"
)

// ErrEmptyTarget is returned for an event with no resolvable target.
var ErrEmptyTarget = errors.New("event has no target")

// TargetSelector identifies which connections an event should reach:
// a single subject, a set of subjects, or every live connection.
type TargetSelector struct {
	Broadcast bool     `json:"broadcast,omitempty"`
	Subjects  []string `json:"subjects,omitempty"`
}

// TargetSubject addresses one subject.
func TargetSubject(subject string) TargetSelector {
	return TargetSelector{Subjects: []string{subject}}
}

// TargetSubjects addresses a set of subjects.
func TargetSubjects(subjects ...string) TargetSelector {
	return TargetSelector{Subjects: subjects}
}

// TargetBroadcast addresses every live connection.
func TargetBroadcast() TargetSelector {
	return TargetSelector{Broadcast: true}
}

// Event is an application event to fan out. Immutable once published;
// sequence numbers are assigned per target scope at publish time.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Target    TargetSelector  `json:"target"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"ts"`
}

// broadcastScope is the sequence scope shared by all broadcast events.
const broadcastScope = "*"

// Dispatcher resolves targets against the registry's membership at publish
// time and hands each resolved connection the event through its bounded
// outbound queue. Sequence assignment and enqueueing happen under one
// mutex so numbers within a target scope are handed out in delivery order;
// the enqueue itself never blocks, so the critical section stays short and
// no registry lock is held during delivery.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu  sync.Mutex
	seq map[string]uint64
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(registry *Registry, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		seq:      make(map[string]uint64),
	}
}

// Publish fans the event out to its targets. Per-connection delivery
// failures are swallowed: a connection whose queue is full or closed is
// evicted and its message dropped, and the publish succeeds regardless.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	if !event.Target.Broadcast && len(event.Target.Subjects) == 0 {
		return ErrEmptyTarget
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var dead []*Connection
	delivered := 0

	d.mu.Lock()
	if event.Target.Broadcast {
		seq := d.nextLocked(broadcastScope)
		for _, conn := range d.registry.Snapshot() {
			if conn.trySend(d.message(event, seq)) {
				delivered++
			} else {
				dead = append(dead, conn)
			}
		}
	} else {
		for _, subject := range event.Target.Subjects {
			seq := d.nextLocked(subject)
			for _, conn := range d.registry.LookupBySubject(subject) {
				if conn.trySend(d.message(event, seq)) {
					delivered++
				} else {
					dead = append(dead, conn)
				}
			}
		}
	}
	d.mu.Unlock()

	for _, conn := range dead {
		d.registry.removeConn(conn)
		d.logger.Warn("connection dropped during delivery",
			zap.String("connection_id", conn.ID),
			zap.String("subject", conn.Subject),
			zap.String("event_id", event.ID))
	}
	d.metrics.RecordEventPublished(event.Type, delivered, len(dead))
	return nil
}

func (d *Dispatcher) nextLocked(scope string) uint64 {
	d.seq[scope]++
	return d.seq[scope]
}

func (d *Dispatcher) message(event Event, seq uint64) Message {
	return Message{
		EventID:   event.ID,
		Type:      event.Type,
		Payload:   event.Payload,
		Seq:       seq,
		Timestamp: event.Timestamp,
	}
}
