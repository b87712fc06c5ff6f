package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"SignalFuse/internal/usecase"
	xlogger "SignalFuse/pkg/logger"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Greeter builds the first message a new subscriber receives.
type Greeter interface {
	Welcome() []byte
}

// Handler upgrades GET /ws and streams hub broadcasts to the client.
type Handler struct {
	hub      *usecase.Hub
	greeter  Greeter
	logger   *xlogger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *usecase.Hub, greeter Greeter, logger *xlogger.Logger) *Handler {
	return &Handler{
		hub:     hub,
		greeter: greeter,
		logger:  logger.With("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Serve)
}

func (h *Handler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	var greeting [][]byte
	if msg := h.greeter.Welcome(); msg != nil {
		greeting = append(greeting, msg)
	}
	sub := h.hub.Register(greeting...)
	h.logger.Debug("subscriber connected", xlogger.Any("id", sub.ID), xlogger.String("remote", c.RealIP()))

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
	return nil
}

// readPump drains client frames so control frames are processed. It
// unregisters the subscriber when the connection ends.
func (h *Handler) readPump(conn *websocket.Conn, sub *usecase.Subscriber) {
	defer func() {
		h.hub.Unregister(sub)
		_ = conn.Close()
		h.logger.Debug("subscriber disconnected", xlogger.Any("id", sub.ID))
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("subscriber read error", xlogger.Error(err))
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *usecase.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.hub.Unregister(sub)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Unregister(sub)
				return
			}
		}
	}
}
