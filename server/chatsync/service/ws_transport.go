package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"

	"chatsync/server/chatsync/domain"
	"chatsync/server/chatsync/engine"
	commonlog "chatsync/server/common/log"
)

const (
	defaultWriteWait    = 5 * time.Second
	defaultDialTimeout  = 10 * time.Second
	maxReconnectBackoff = 30 * time.Second
)

const (
	frameJoinGroupPresence  = "joinGroupPresence"
	frameLeaveGroupPresence = "leaveGroupPresence"
	frameTyping             = "typing"
)

var ErrSenderUnavailable = errors.New("message sender is not configured")

type messageSender interface {
	SendChatMessage(ctx context.Context, groupID, clientMsgID, content string, attachments []domain.Attachment) (domain.ChatMessage, error)
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type groupPresencePayload struct {
	GroupID string `json:"groupId"`
}

type typingPayload struct {
	GroupID  string `json:"groupId"`
	IsTyping bool   `json:"isTyping"`
}

// WSTransport keeps the websocket session to the realtime gateway and
// implements engine.Transport. Sends go over REST through the sender.
type WSTransport struct {
	url       string
	dialer    *websocket.Dialer
	sender    messageSender
	writeWait time.Duration
	reconnect time.Duration
	parsers   fastjson.ParserPool

	mu      sync.Mutex
	sink    func(domain.Event)
	conn    *websocket.Conn
	userID  string
	token   string
	closing bool
	stop    chan struct{}

	writeMu sync.Mutex
}

type TransportOption interface {
	apply(*WSTransport)
}

type transportOptionFunc func(t *WSTransport)

func (f transportOptionFunc) apply(t *WSTransport) { f(t) }

func WithWriteWait(d time.Duration) TransportOption {
	return transportOptionFunc(func(t *WSTransport) {
		if d > 0 {
			t.writeWait = d
		}
	})
}

// WithReconnect redials after an unexpected drop, starting at backoff and
// doubling up to 30s. Zero disables reconnecting.
func WithReconnect(backoff time.Duration) TransportOption {
	return transportOptionFunc(func(t *WSTransport) {
		t.reconnect = backoff
	})
}

func WithDialer(d *websocket.Dialer) TransportOption {
	return transportOptionFunc(func(t *WSTransport) {
		if d != nil {
			t.dialer = d
		}
	})
}

func NewWSTransport(rawURL string, sender messageSender, opts ...TransportOption) *WSTransport {
	t := &WSTransport{
		url:       rawURL,
		dialer:    &websocket.Dialer{HandshakeTimeout: defaultDialTimeout, Proxy: http.ProxyFromEnvironment},
		sender:    sender,
		writeWait: defaultWriteWait,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt.apply(t)
	}
	return t
}

func (t *WSTransport) Listen(sink func(domain.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

func (t *WSTransport) Connect(ctx context.Context, userID, token string) (bool, error) {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return true, nil
	}
	if t.closing {
		t.closing = false
		t.stop = make(chan struct{})
	}
	t.userID = userID
	t.token = token
	t.mu.Unlock()

	if err := t.dial(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (t *WSTransport) dial(ctx context.Context) error {
	t.mu.Lock()
	userID, token := t.userID, t.token
	t.mu.Unlock()

	target, err := url.Parse(t.url)
	if err != nil {
		return fmt.Errorf("parse realtime url: %w", err)
	}
	query := target.Query()
	query.Set("user_id", userID)
	target.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := t.dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			commonlog.Errorf("event=chatsync_transport action=dial status=failed user_id=%s http_status=%d error=%v", userID, resp.StatusCode, err)
			return fmt.Errorf("dial realtime: status %d: %w", resp.StatusCode, err)
		}
		commonlog.Errorf("event=chatsync_transport action=dial status=failed user_id=%s error=%v", userID, err)
		return fmt.Errorf("dial realtime: %w", err)
	}

	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		_ = conn.Close()
		return engine.ErrNotConnected
	}
	if t.conn != nil {
		// Lost a race with a concurrent dial; keep the live session.
		t.mu.Unlock()
		_ = conn.Close()
		commonlog.Debugf("event=chatsync_transport action=dial status=duplicate user_id=%s", userID)
		return nil
	}
	t.conn = conn
	t.mu.Unlock()

	commonlog.Infof("event=chatsync_transport action=dial status=ok user_id=%s", userID)
	go t.readLoop(conn)
	t.emit(domain.Connected{})
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.handleDrop(conn, err)
			return
		}
		evt, err := t.decodeFrame(raw)
		if err != nil {
			commonlog.Warnf("event=chatsync_transport action=decode status=failed size=%d error=%v", len(raw), err)
			continue
		}
		t.emit(evt)
	}
}

func (t *WSTransport) handleDrop(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	closing := t.closing
	stop := t.stop
	t.mu.Unlock()
	_ = conn.Close()
	if closing {
		return
	}

	commonlog.Warnf("event=chatsync_transport action=read status=dropped error=%v", cause)
	t.emit(domain.Disconnected{Reason: cause.Error()})
	if t.reconnect > 0 {
		go t.reconnectLoop(stop)
	}
}

func (t *WSTransport) reconnectLoop(stop <-chan struct{}) {
	backoff := t.reconnect
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(backoff)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		if t.connected() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
		err := t.dial(ctx)
		cancel()
		if err == nil {
			commonlog.Infof("event=chatsync_transport action=reconnect status=ok attempt=%d", attempt)
			return
		}
		if errors.Is(err, engine.ErrNotConnected) {
			return
		}
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

func (t *WSTransport) connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *WSTransport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	if !t.closing {
		t.closing = true
		close(t.stop)
	}
	t.mu.Unlock()
	if conn == nil {
		return
	}

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"))
	t.writeMu.Unlock()
	_ = conn.Close()
}

func (t *WSTransport) JoinGroupPresence(ctx context.Context, groupID string) error {
	return t.write(outboundFrame{Event: frameJoinGroupPresence, Data: groupPresencePayload{GroupID: groupID}})
}

func (t *WSTransport) LeaveGroupPresence(ctx context.Context, groupID string) error {
	return t.write(outboundFrame{Event: frameLeaveGroupPresence, Data: groupPresencePayload{GroupID: groupID}})
}

func (t *WSTransport) SendTyping(ctx context.Context, groupID string, typing bool) error {
	return t.write(outboundFrame{Event: frameTyping, Data: typingPayload{GroupID: groupID, IsTyping: typing}})
}

// SendMessageViaAPI persists a message over REST with a fresh client_msg_id.
// The gateway fans the stored message out as a "message" event.
func (t *WSTransport) SendMessageViaAPI(ctx context.Context, groupID, content string, attachments []domain.Attachment) (domain.ChatMessage, error) {
	if t.sender == nil {
		return domain.ChatMessage{}, ErrSenderUnavailable
	}
	return t.sender.SendChatMessage(ctx, groupID, uuid.NewString(), content, attachments)
}

func (t *WSTransport) write(frame outboundFrame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return engine.ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		commonlog.Warnf("event=chatsync_transport action=write status=failed frame=%s error=%v", frame.Event, err)
		return fmt.Errorf("write %s frame: %w", frame.Event, err)
	}
	return nil
}

func (t *WSTransport) emit(evt domain.Event) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink(evt)
	}
}
