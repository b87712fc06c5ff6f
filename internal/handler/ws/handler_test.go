package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"SignalFuse/internal/usecase"
	xlogger "SignalFuse/pkg/logger"
)

type staticGreeter string

func (g staticGreeter) Welcome() []byte { return []byte(g) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscriberReceivesWelcomeThenBroadcasts(t *testing.T) {
	hub := usecase.NewHub(4, nil)
	e := echo.New()
	NewHandler(hub, staticGreeter(`{"type":"WELCOME"}`), xlogger.Nop()).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil || string(msg) != `{"type":"WELCOME"}` {
		t.Fatalf("expected welcome, got %q (%v)", msg, err)
	}

	waitFor(t, func() bool { return hub.Len() == 1 })
	hub.Broadcast([]byte(`{"type":"MARKET_UPDATE"}`))
	_, msg, err = conn.ReadMessage()
	if err != nil || string(msg) != `{"type":"MARKET_UPDATE"}` {
		t.Fatalf("expected broadcast, got %q (%v)", msg, err)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitFor(t, func() bool { return hub.Len() == 0 })
}

func TestHubCloseEndsConnection(t *testing.T) {
	hub := usecase.NewHub(4, nil)
	e := echo.New()
	NewHandler(hub, staticGreeter(`hi`), xlogger.Nop()).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	waitFor(t, func() bool { return hub.Len() == 1 })

	hub.Close()
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}
