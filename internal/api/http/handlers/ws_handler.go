package handlers

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/lumina-api/internal/observability"
	"github.com/spec-kit/lumina-api/internal/realtime"
)

// WSHandler upgrades realtime channels, admits them through the registry
// and pumps dispatched events out. The access token arrives as a handshake
// query parameter; a failed admission closes the socket with a policy
// violation code before any event flows.
type WSHandler struct {
	registry     *realtime.Registry
	logger       *zap.Logger
	metrics      *observability.Metrics
	writeTimeout time.Duration
}

// NewWSHandler constructs handler.
func NewWSHandler(registry *realtime.Registry, logger *zap.Logger, metrics *observability.Metrics, writeTimeout time.Duration) *WSHandler {
	return &WSHandler{registry: registry, logger: logger, metrics: metrics, writeTimeout: writeTimeout}
}

// Upgrade gates the route to websocket upgrade requests.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle returns the websocket endpoint handler.
func (h *WSHandler) Handle() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *WSHandler) serve(c *websocket.Conn) {
	token := c.Query("token")
	connectionID := uuid.NewString()

	conn, err := h.registry.Admit(context.Background(), connectionID, token)
	if err != nil {
		h.metrics.RecordAuthFailure("ws_admission")
		h.logger.Info("connection refused", zap.String("connection_id", connectionID), zap.Error(err))
		deadline := time.Now().Add(h.writeTimeout)
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"), deadline)
		_ = c.Close()
		return
	}

	h.metrics.ConnectionOpened()
	defer h.metrics.ConnectionClosed()
	defer h.registry.Remove(connectionID)

	writerDone := make(chan struct{})
	go h.writePump(c, conn, writerDone)

	// The read loop exists to observe client disconnects; inbound frames
	// carry no protocol meaning on this channel.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}

	h.registry.Remove(connectionID)
	<-writerDone
	_ = c.Close()
}

// wsStream is the slice of the websocket connection the write pump needs.
type wsStream interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

func (h *WSHandler) writePump(s wsStream, conn *realtime.Connection, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-conn.Done():
			deadline := time.Now().Add(h.writeTimeout)
			_ = s.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), deadline)
			// Closing the socket unblocks the read loop even when the client
			// ignores the close frame.
			_ = s.Close()
			return
		case msg := <-conn.Outbound():
			_ = s.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := s.WriteJSON(msg); err != nil {
				h.logger.Debug("write failed; evicting connection",
					zap.String("connection_id", conn.ID), zap.Error(err))
				h.registry.Remove(conn.ID)
				_ = s.Close()
				return
			}
		}
	}
}
