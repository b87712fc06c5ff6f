package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalFuse/internal/domain/models"
	drepo "SignalFuse/internal/domain/repository"
	"SignalFuse/pkg/logger"

	"github.com/gorilla/websocket"
)

// ErrStreamClosed is returned for calls in flight when the socket drops.
var ErrStreamClosed = errors.New("log stream closed")

const (
	notificationBuffer = 64
	writeWait          = 10 * time.Second
)

// LogStream multiplexes logsSubscribe subscriptions over one JSON-RPC
// WebSocket connection. The connection is dialed lazily and redialed on the
// next call after it drops; subscriptions end (their channel closes) when it drops.
type LogStream struct {
	url        string
	commitment string
	dialer     *websocket.Dialer
	log        *logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]*pendingCall
	subs    map[uint64]*subscription

	writeMu sync.Mutex
}

type pendingCall struct {
	ch chan rpcResponse
	// onResult runs on the reader goroutine with mu held, before the next
	// frame is dispatched.
	onResult func(json.RawMessage) error
	// onAbandon undoes a successful result the caller stopped waiting for.
	onAbandon func(json.RawMessage)
	abandoned bool
}

// NewLogStream creates a LogStream for a Solana RPC WebSocket endpoint.
func NewLogStream(url, commitment string, log *logger.Logger) *LogStream {
	if commitment == "" {
		commitment = "confirmed"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LogStream{
		url:        url,
		commitment: commitment,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: websocket.DefaultDialer.Proxy},
		log:        log,
		pending:    make(map[uint64]*pendingCall),
		subs:       make(map[uint64]*subscription),
	}
}

var _ drepo.LogStream = (*LogStream)(nil)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcFrame struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	result json.RawMessage
	err    error
}

type logsNotificationParams struct {
	Subscription uint64 `json:"subscription"`
	Result       struct {
		Value struct {
			Signature string          `json:"signature"`
			Err       json.RawMessage `json:"err"`
			Logs      []string        `json:"logs"`
		} `json:"value"`
	} `json:"result"`
}

// SubscribeLogs opens a subscription for logs mentioning address.
func (s *LogStream) SubscribeLogs(ctx context.Context, address string) (drepo.LogSubscription, error) {
	sub := &subscription{stream: s, address: address, ch: make(chan models.LogNotification, notificationBuffer)}
	params := []interface{}{
		map[string][]string{"mentions": {address}},
		map[string]string{"commitment": s.commitment},
	}
	register := func(result json.RawMessage) error {
		if err := json.Unmarshal(result, &sub.id); err != nil {
			return fmt.Errorf("decode subscription id: %w", err)
		}
		s.subs[sub.id] = sub
		return nil
	}
	abandon := func(result json.RawMessage) {
		var id uint64
		if err := json.Unmarshal(result, &id); err != nil {
			return
		}
		s.mu.Lock()
		if s.subs[id] == sub {
			delete(s.subs, id)
		}
		sub.closeLocked()
		s.mu.Unlock()
		if err := s.release(id); err != nil {
			s.log.Warn("abandoned subscription not released", logger.String("address", address), logger.Error(err))
		}
	}
	_, err := s.call(ctx, "logsSubscribe", params, register, abandon)
	if err != nil {
		return nil, fmt.Errorf("logsSubscribe %s: %w", address, err)
	}
	return sub, nil
}

func (s *LogStream) call(
	ctx context.Context,
	method string,
	params []interface{},
	onResult func(json.RawMessage) error,
	onAbandon func(json.RawMessage),
) (json.RawMessage, error) {
	conn, err := s.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{ch: make(chan rpcResponse, 1), onResult: onResult, onAbandon: onAbandon}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.pending[id] = pc
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	s.writeMu.Unlock()
	if err != nil {
		s.forget(id)
		return nil, fmt.Errorf("write: %w", err)
	}

	select {
	case <-ctx.Done():
		s.abandon(id, pc)
		return nil, ctx.Err()
	case resp := <-pc.ch:
		return resp.result, resp.err
	}
}

// abandon gives up on call id. A reply that already landed is undone now; a
// later one is undone by dispatch.
func (s *LogStream) abandon(id uint64, pc *pendingCall) {
	s.mu.Lock()
	if _, waiting := s.pending[id]; waiting {
		if pc.onAbandon == nil {
			delete(s.pending, id)
		} else {
			pc.abandoned = true
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	resp := <-pc.ch
	if resp.err == nil && pc.onAbandon != nil {
		go pc.onAbandon(resp.result)
	}
}

func (s *LogStream) forget(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *LogStream) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}
	s.conn = conn
	go s.readLoop(conn)
	s.log.Info("solana log stream connected", logger.String("url", s.url))
	return conn, nil
}

func (s *LogStream) readLoop(conn *websocket.Conn) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			s.drop(conn, err)
			return
		}
		var f rpcFrame
		if err := json.Unmarshal(b, &f); err != nil {
			s.log.Warn("dropping malformed rpc frame", logger.Error(err))
			continue
		}
		s.dispatch(f)
	}
}

func (s *LogStream) dispatch(f rpcFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID != nil {
		pc, ok := s.pending[*f.ID]
		if !ok {
			return
		}
		delete(s.pending, *f.ID)
		if pc.abandoned {
			if f.Error == nil {
				go pc.onAbandon(f.Result)
			}
			return
		}
		resp := rpcResponse{result: f.Result}
		switch {
		case f.Error != nil:
			resp.err = fmt.Errorf("rpc error %d: %s", f.Error.Code, f.Error.Message)
		case pc.onResult != nil:
			resp.err = pc.onResult(f.Result)
		}
		pc.ch <- resp
		return
	}

	if f.Method != "logsNotification" {
		return
	}
	var p logsNotificationParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		s.log.Warn("dropping malformed logs notification", logger.Error(err))
		return
	}
	sub, ok := s.subs[p.Subscription]
	if !ok {
		return
	}
	n := models.LogNotification{
		Address:   sub.address,
		Signature: p.Result.Value.Signature,
		Logs:      p.Result.Value.Logs,
	}
	if e := p.Result.Value.Err; len(e) > 0 && string(e) != "null" {
		n.Err = string(e)
	}
	select {
	case sub.ch <- n:
	default:
		s.log.Warn("log subscriber lagging, notification dropped", logger.String("address", sub.address))
	}
}

// drop tears down a dead connection: pending calls fail and every
// subscription channel is closed.
func (s *LogStream) drop(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	s.conn = nil
	_ = conn.Close()
	for id, pc := range s.pending {
		pc.ch <- rpcResponse{err: fmt.Errorf("%w: %v", ErrStreamClosed, cause)}
		delete(s.pending, id)
	}
	for id, sub := range s.subs {
		sub.closeLocked()
		delete(s.subs, id)
	}
	s.log.Warn("solana log stream disconnected", logger.Error(cause))
}

// Close closes the connection and ends every subscription.
func (s *LogStream) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	s.drop(conn, ErrStreamClosed)
	return nil
}

func (s *LogStream) unsubscribe(sub *subscription) error {
	s.mu.Lock()
	_, live := s.subs[sub.id]
	delete(s.subs, sub.id)
	sub.closeLocked()
	s.mu.Unlock()
	if !live {
		return nil
	}
	if err := s.release(sub.id); err != nil {
		return fmt.Errorf("logsUnsubscribe %s: %w", sub.address, err)
	}
	return nil
}

// release drops subscription id on the server.
func (s *LogStream) release(id uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	_, err := s.call(ctx, "logsUnsubscribe", []interface{}{id}, nil, nil)
	return err
}

type subscription struct {
	stream  *LogStream
	id      uint64
	address string
	ch      chan models.LogNotification
	closed  bool
}

func (s *subscription) Notifications() <-chan models.LogNotification { return s.ch }

// Unsubscribe stops delivery immediately; the server side is released best effort.
func (s *subscription) Unsubscribe() error { return s.stream.unsubscribe(s) }

func (s *subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
