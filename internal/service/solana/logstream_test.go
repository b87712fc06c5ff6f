package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	drepo "SignalFuse/internal/domain/repository"
)

// rpcServer answers logsSubscribe with id 7, pushes a notification for it and
// records every method it receives.
func rpcServer(t *testing.T, methods chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			methods <- req.Method
			switch req.Method {
			case "logsSubscribe":
				_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 7})
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"logsNotification","params":{"subscription":7,"result":{"context":{"slot":1},"value":{"signature":"sig1","err":null,"logs":["Program log: Instruction: Withdraw"]}}}}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"logsNotification","params":{"subscription":7,"result":{"context":{"slot":2},"value":{"signature":"sig2","err":{"InstructionError":[0,"Custom"]},"logs":[]}}}}`))
			case "logsUnsubscribe":
				_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": true})
			}
		}
	}))
}

func TestLogStreamSubscribeAndNotify(t *testing.T) {
	methods := make(chan string, 8)
	srv := rpcServer(t, methods)
	defer srv.Close()

	ls := NewLogStream("ws"+strings.TrimPrefix(srv.URL, "http"), "", nil)
	defer ls.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := ls.SubscribeLogs(ctx, "EFTzno3x2oUc2QhVEQRupcx8FLTWiN7bNc1RvgNu621D")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if m := <-methods; m != "logsSubscribe" {
		t.Fatalf("unexpected method %s", m)
	}

	first := <-sub.Notifications()
	if first.Signature != "sig1" || first.Err != "" || len(first.Logs) != 1 {
		t.Fatalf("unexpected notification %+v", first)
	}
	second := <-sub.Notifications()
	if second.Err == "" {
		t.Fatalf("expected err to be carried, got %+v", second)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(second.Err), &decoded); err != nil {
		t.Fatalf("err should keep raw json: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if m := <-methods; m != "logsUnsubscribe" {
		t.Fatalf("unexpected method %s", m)
	}
	if _, ok := <-sub.Notifications(); ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe should be a no-op: %v", err)
	}
}

func TestLogStreamDropClosesSubscriptions(t *testing.T) {
	methods := make(chan string, 8)
	srv := rpcServer(t, methods)
	defer srv.Close()

	ls := NewLogStream("ws"+strings.TrimPrefix(srv.URL, "http"), "confirmed", nil)
	sub, err := ls.SubscribeLogs(context.Background(), "EFTzno3x2oUc2QhVEQRupcx8FLTWiN7bNc1RvgNu621D")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = ls.Close()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Notifications():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription channel not closed after stream close")
		}
	}
}

// scriptedServer hands every request to the test, which writes the replies
// itself through reply and push.
type scriptedServer struct {
	*httptest.Server
	reqs chan rpcRequest

	mu   sync.Mutex
	conn *websocket.Conn
}

func newScriptedServer(t *testing.T) *scriptedServer {
	t.Helper()
	ss := &scriptedServer{reqs: make(chan rpcRequest, 8)}
	upgrader := websocket.Upgrader{}
	ss.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ss.mu.Lock()
		ss.conn = conn
		ss.mu.Unlock()
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			ss.reqs <- req
		}
	}))
	return ss
}

func (ss *scriptedServer) url() string { return "ws" + strings.TrimPrefix(ss.URL, "http") }

func (ss *scriptedServer) next(t *testing.T, method string) rpcRequest {
	t.Helper()
	select {
	case req := <-ss.reqs:
		if req.Method != method {
			t.Fatalf("expected %s, got %s", method, req.Method)
		}
		return req
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s request", method)
		return rpcRequest{}
	}
}

func (ss *scriptedServer) push(t *testing.T, frame interface{}) {
	t.Helper()
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if err := ss.conn.WriteJSON(frame); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func (ss *scriptedServer) reply(t *testing.T, id uint64, result interface{}) {
	t.Helper()
	ss.push(t, map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": result})
}

func (ss *scriptedServer) notify(t *testing.T, subID uint64, signature string) {
	t.Helper()
	ss.push(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]interface{}{
			"subscription": subID,
			"result": map[string]interface{}{
				"value": map[string]interface{}{"signature": signature, "err": nil, "logs": []string{}},
			},
		},
	})
}

func subscribeAsync(ctx context.Context, ls *LogStream, address string) <-chan subResult {
	out := make(chan subResult, 1)
	go func() {
		sub, err := ls.SubscribeLogs(ctx, address)
		out <- subResult{sub: sub, err: err}
	}()
	return out
}

type subResult struct {
	sub drepo.LogSubscription
	err error
}

func (ls *LogStream) liveSubs() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.subs)
}

func TestLogStreamUnsubscribeDropsLateNotifications(t *testing.T) {
	ss := newScriptedServer(t)
	defer ss.Close()
	ls := NewLogStream(ss.url(), "", nil)
	defer ls.Close()
	ctx := context.Background()

	pending := subscribeAsync(ctx, ls, "EFTzno3x2oUc2QhVEQRupcx8FLTWiN7bNc1RvgNu621D")
	ss.reply(t, ss.next(t, "logsSubscribe").ID, 11)
	res := <-pending
	if res.err != nil {
		t.Fatalf("subscribe: %v", res.err)
	}
	old := res.sub

	unsubscribed := make(chan error, 1)
	go func() { unsubscribed <- old.Unsubscribe() }()
	req := ss.next(t, "logsUnsubscribe")
	if len(req.Params) != 1 || req.Params[0] != float64(11) {
		t.Fatalf("logsUnsubscribe should carry the subscription id, got %v", req.Params)
	}
	if n := ls.liveSubs(); n != 0 {
		t.Fatalf("subscription should be removed before the server answers, %d live", n)
	}
	ss.reply(t, req.ID, true)
	if err := <-unsubscribed; err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	// A notification for the old id is still on the wire; a fresh
	// subscription's notification marks when it has been processed.
	ss.notify(t, 11, "late")
	pending = subscribeAsync(ctx, ls, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	ss.reply(t, ss.next(t, "logsSubscribe").ID, 12)
	res = <-pending
	if res.err != nil {
		t.Fatalf("second subscribe: %v", res.err)
	}
	ss.notify(t, 12, "fresh")
	select {
	case n := <-res.sub.Notifications():
		if n.Signature != "fresh" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("fresh notification not delivered")
	}

	if n, ok := <-old.Notifications(); ok {
		t.Fatalf("notification delivered after unsubscribe: %+v", n)
	}
}

func TestLogStreamCancelledSubscribeIsReleased(t *testing.T) {
	ss := newScriptedServer(t)
	defer ss.Close()
	ls := NewLogStream(ss.url(), "", nil)
	defer ls.Close()

	ctx, cancel := context.WithCancel(context.Background())
	pending := subscribeAsync(ctx, ls, "EFTzno3x2oUc2QhVEQRupcx8FLTWiN7bNc1RvgNu621D")
	req := ss.next(t, "logsSubscribe")
	cancel()
	res := <-pending
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", res.err)
	}

	// The server answers after the caller gave up.
	ss.reply(t, req.ID, 21)
	unsub := ss.next(t, "logsUnsubscribe")
	if len(unsub.Params) != 1 || unsub.Params[0] != float64(21) {
		t.Fatalf("abandoned subscription id not released, got %v", unsub.Params)
	}
	ss.reply(t, unsub.ID, true)
	if n := ls.liveSubs(); n != 0 {
		t.Fatalf("abandoned subscription stayed registered, %d live", n)
	}
}
