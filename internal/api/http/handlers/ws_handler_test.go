package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/lumina-api/internal/auth"
	"github.com/spec-kit/lumina-api/internal/config"
	"github.com/spec-kit/lumina-api/internal/domain"
	"github.com/spec-kit/lumina-api/internal/observability"
	"github.com/spec-kit/lumina-api/internal/realtime"
	"github.com/spec-kit/lumina-api/internal/revocation"
)

type fakeStream struct {
	mu        sync.Mutex
	controls  []int
	sent      []interface{}
	writeErr  error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{closed: make(chan struct{})}
}

func (f *fakeStream) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeStream) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeStream) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) controlTypes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.controls...)
}

func newWSFixture(t *testing.T) (*WSHandler, *realtime.Registry, *auth.Issuer) {
	t.Helper()
	cfg := config.AuthConfig{
		JWTSecret:             "test-secret",
		JWTKeyID:              "primary",
		AccessTokenTTLMinutes: 5,
		RefreshTokenTTLHours:  1,
	}
	codec := auth.NewCodec(cfg.JWTSecret, cfg.JWTKeyID)
	store := revocation.NewMemoryStore()
	issuer := auth.NewIssuer(codec, store, cfg)
	validator := auth.NewValidator(codec, store, cfg)
	registry := realtime.NewRegistry(validator, 16, zap.NewNop())
	handler := NewWSHandler(registry, zap.NewNop(), observability.NewMetrics(), time.Second)
	return handler, registry, issuer
}

func admitConnection(t *testing.T, registry *realtime.Registry, issuer *auth.Issuer, subject, connID string) *realtime.Connection {
	t.Helper()
	pair, err := issuer.Issue(context.Background(), domain.Identity{
		Subject: subject,
		Scopes:  []string{"events:subscribe"},
	})
	require.NoError(t, err)
	conn, err := registry.Admit(context.Background(), connID, pair.AccessToken)
	require.NoError(t, err)
	return conn
}

func TestEvictionClosesSocket(t *testing.T) {
	handler, registry, issuer := newWSFixture(t)
	conn := admitConnection(t, registry, issuer, "u1", "c1")

	stream := newFakeStream()
	done := make(chan struct{})
	go handler.writePump(stream, conn, done)

	registry.EvictSubject("u1")

	// The pump must close the socket itself; a client ignoring the close
	// frame would otherwise pin the read loop forever.
	select {
	case <-stream.closed:
	case <-time.After(time.Second):
		t.Fatal("socket left open after eviction")
	}
	<-done
	assert.Contains(t, stream.controlTypes(), websocket.CloseMessage)
}

func TestWriteFailureEvictsAndClosesSocket(t *testing.T) {
	handler, registry, issuer := newWSFixture(t)
	conn := admitConnection(t, registry, issuer, "u1", "c1")
	dispatcher := realtime.NewDispatcher(registry, zap.NewNop(), observability.NewMetrics())

	stream := newFakeStream()
	stream.writeErr = errors.New("broken pipe")
	done := make(chan struct{})
	go handler.writePump(stream, conn, done)

	require.NoError(t, dispatcher.Publish(context.Background(), realtime.Event{
		Type:   "ping",
		Target: realtime.TargetSubject("u1"),
	}))

	select {
	case <-stream.closed:
	case <-time.After(time.Second):
		t.Fatal("socket left open after write failure")
	}
	<-done
	assert.Empty(t, registry.LookupBySubject("u1"))
	select {
	case <-conn.Done():
	default:
		t.Fatal("connection record not closed")
	}
}
