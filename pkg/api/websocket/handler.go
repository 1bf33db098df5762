package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aestiv/flowd/internal/domain"
	"github.com/aestiv/flowd/internal/ports"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for MVP
	},
}

// Handler streams hub events over WebSocket connections.
type Handler struct {
	hub    ports.EventHub
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub ports.EventHub, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
	}
}

// HandleExecutionStream streams the events of a single execution. A new
// subscriber first receives the retained backlog, then live events; the
// stream closes after the terminal status event.
func (h *Handler) HandleExecutionStream(c *gin.Context) {
	executionID := c.Param("id")

	sub, err := h.hub.Subscribe(c.Request.Context(), executionID)
	if err != nil {
		h.logger.Error("failed to subscribe to execution events",
			zap.String("execution_id", executionID),
			zap.Error(err))
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("execution_id", executionID),
		zap.String("client", c.ClientIP()))

	hello := gin.H{"type": "connected", "execution_id": executionID}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	h.stream(conn, sub)
}

// HandleFirehose streams every event from every execution. Intended for
// dashboards; there is no backlog replay on this stream.
func (h *Handler) HandleFirehose(c *gin.Context) {
	sub, err := h.hub.SubscribeAll(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to subscribe to event firehose", zap.Error(err))
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket firehose connection established",
		zap.String("client", c.ClientIP()))

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(gin.H{"type": "connected"}); err != nil {
		return
	}

	h.stream(conn, sub)
}

// stream pumps subscription events to the client until the subscription or
// the connection ends. A single goroutine owns all writes; the reader
// goroutine only forwards client pings.
func (h *Handler) stream(conn *websocket.Conn, sub ports.Subscription) {
	pong := make(chan struct{}, 1)
	closed := make(chan struct{})

	go func() {
		defer close(closed)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage && string(data) == "ping" {
				select {
				case pong <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				h.finish(conn, sub)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("failed to write event", zap.Error(err))
				return
			}

		case <-pong:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(gin.H{"type": "pong"}); err != nil {
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}

// finish tells the client why the event channel ended. A slow consumer that
// was dropped by the hub gets an overflow notice so it knows to resync via
// the status endpoint; a completed stream just closes normally.
func (h *Handler) finish(conn *websocket.Conn, sub ports.Subscription) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	if errors.Is(sub.Err(), ports.ErrSlowSubscriber) {
		h.logger.Warn("dropping slow WebSocket subscriber")
		_ = conn.WriteJSON(gin.H{"type": "status", "status": domain.StateOverflow})
		deadline := time.Now().Add(writeTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow"), deadline)
		return
	}

	deadline := time.Now().Add(writeTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
