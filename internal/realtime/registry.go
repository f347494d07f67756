package realtime

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/lumina-api/internal/auth"
)

// ErrAuthenticationFailed wraps the validator's failure kind when a
// connection is refused at admission.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrDuplicateConnection is returned when a connection id is already
// registered.
var ErrDuplicateConnection = errors.New("connection id already registered")

const shardCount = 32

type connShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

type subjectShard struct {
	mu       sync.RWMutex
	subjects map[string]map[string]*Connection
}

// Registry is the single owner of all live connection records. State is
// sharded by connection id and again by subject so unrelated connections
// never contend on one lock. Lock ordering is always subject shard before
// connection shard.
type Registry struct {
	validator *auth.Validator
	queueSize int
	logger    *zap.Logger

	conns    [shardCount]connShard
	subjects [shardCount]subjectShard
}

// NewRegistry builds a registry admitting connections through the given
// validator.
func NewRegistry(validator *auth.Validator, queueSize int, logger *zap.Logger) *Registry {
	r := &Registry{
		validator: validator,
		queueSize: queueSize,
		logger:    logger,
	}
	for i := range r.conns {
		r.conns[i].conns = make(map[string]*Connection)
	}
	for i := range r.subjects {
		r.subjects[i].subjects = make(map[string]map[string]*Connection)
	}
	return r
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

// Admit validates the presented token and registers a new connection. The
// token is always re-validated here, even when an upstream handler already
// checked it, so admission never trusts a stale check.
func (r *Registry) Admit(ctx context.Context, connectionID, tokenStr string) (*Connection, error) {
	identity, err := r.validator.Validate(ctx, tokenStr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	conn := newConnection(connectionID, identity.Identity.Subject, identity.Identity.Scopes, r.queueSize)

	ss := &r.subjects[shardIndex(conn.Subject)]
	cs := &r.conns[shardIndex(connectionID)]

	ss.mu.Lock()
	cs.mu.Lock()
	if _, exists := cs.conns[connectionID]; exists {
		cs.mu.Unlock()
		ss.mu.Unlock()
		return nil, ErrDuplicateConnection
	}
	cs.conns[connectionID] = conn
	bySubject := ss.subjects[conn.Subject]
	if bySubject == nil {
		bySubject = make(map[string]*Connection)
		ss.subjects[conn.Subject] = bySubject
	}
	bySubject[connectionID] = conn
	cs.mu.Unlock()
	ss.mu.Unlock()

	r.logger.Debug("connection admitted",
		zap.String("connection_id", connectionID),
		zap.String("subject", conn.Subject))
	return conn, nil
}

// Remove unregisters the connection and signals closure. Safe to call for
// ids that are already gone.
func (r *Registry) Remove(connectionID string) {
	cs := &r.conns[shardIndex(connectionID)]
	cs.mu.RLock()
	conn := cs.conns[connectionID]
	cs.mu.RUnlock()
	if conn == nil {
		return
	}
	r.removeConn(conn)
}

// removeConn unregisters exactly the given record. The identity re-check
// under the write lock keeps a stale caller from tearing down a connection
// that was re-admitted under the same id in the meantime.
func (r *Registry) removeConn(conn *Connection) {
	ss := &r.subjects[shardIndex(conn.Subject)]
	cs := &r.conns[shardIndex(conn.ID)]

	ss.mu.Lock()
	cs.mu.Lock()
	if cs.conns[conn.ID] != conn {
		cs.mu.Unlock()
		ss.mu.Unlock()
		return
	}
	delete(cs.conns, conn.ID)
	if bySubject := ss.subjects[conn.Subject]; bySubject != nil {
		delete(bySubject, conn.ID)
		if len(bySubject) == 0 {
			delete(ss.subjects, conn.Subject)
		}
	}
	cs.mu.Unlock()
	ss.mu.Unlock()

	conn.close()
	r.logger.Debug("connection removed", zap.String("connection_id", conn.ID))
}

// LookupBySubject returns a snapshot of the subject's live connections.
func (r *Registry) LookupBySubject(subject string) []*Connection {
	ss := &r.subjects[shardIndex(subject)]
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	bySubject := ss.subjects[subject]
	if len(bySubject) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(bySubject))
	for _, conn := range bySubject {
		out = append(out, conn)
	}
	return out
}

// EvictSubject atomically removes every connection belonging to the subject
// and signals closure on each. Returns the number evicted.
func (r *Registry) EvictSubject(subject string) int {
	ss := &r.subjects[shardIndex(subject)]
	ss.mu.Lock()
	bySubject := ss.subjects[subject]
	delete(ss.subjects, subject)
	for id := range bySubject {
		cs := &r.conns[shardIndex(id)]
		cs.mu.Lock()
		delete(cs.conns, id)
		cs.mu.Unlock()
	}
	ss.mu.Unlock()

	for _, conn := range bySubject {
		conn.close()
	}
	if len(bySubject) > 0 {
		r.logger.Info("subject evicted",
			zap.String("subject", subject),
			zap.Int("connections", len(bySubject)))
	}
	return len(bySubject)
}

// Snapshot returns every live connection, for broadcast resolution.
func (r *Registry) Snapshot() []*Connection {
	var out []*Connection
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		for _, conn := range cs.conns {
			out = append(out, conn)
		}
		cs.mu.RUnlock()
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	total := 0
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		total += len(cs.conns)
		cs.mu.RUnlock()
	}
	return total
}

// CloseAll removes and closes every connection; used at shutdown.
func (r *Registry) CloseAll() {
	for _, conn := range r.Snapshot() {
		r.Remove(conn.ID)
	}
}
