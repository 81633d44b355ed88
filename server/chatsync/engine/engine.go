// Package engine holds the per-session chat state: group directory, message
// store, presence sets, typing indicators and the notification bridge. It is
// a reducer over transport events plus the user actions that call the REST
// backend; it owns no network code of its own.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"chatsync/server/chatsync/domain"
	commonlog "chatsync/server/common/log"
)

var (
	ErrNotConnected    = errors.New("transport is not connected")
	ErrGroupNotFound   = errors.New("group not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyMessage    = errors.New("message content or attachment required")
	ErrInvalidGroup    = errors.New("group name and a valid type are required")
	ErrSuperseded      = errors.New("response superseded by a newer request")
	ErrPushUnsupported = errors.New("web push is not supported")
	ErrPushDenied      = errors.New("web push permission denied")
	ErrSessionClosed   = errors.New("session closed while the request was in flight")
)

const (
	defaultPageSize  = 50
	defaultTypingTTL = 5 * time.Second
)

// Transport is the persistent connection to the realtime backend.
type Transport interface {
	// Listen registers the single event sink. The engine calls it once.
	Listen(sink func(domain.Event))
	Connect(ctx context.Context, userID, token string) (bool, error)
	Disconnect()
	JoinGroupPresence(ctx context.Context, groupID string) error
	LeaveGroupPresence(ctx context.Context, groupID string) error
	SendMessageViaAPI(ctx context.Context, groupID, content string, attachments []domain.Attachment) (domain.ChatMessage, error)
	SendTyping(ctx context.Context, groupID string, typing bool) error
}

// API is the REST backend.
type API interface {
	GetChatGroups(ctx context.Context) ([]domain.ChatGroup, error)
	CreateChatGroup(ctx context.Context, input domain.CreateGroupInput) (domain.ChatGroup, error)
	GetChatMessages(ctx context.Context, groupID string, page, pageSize int) ([]domain.ChatMessage, error)
	EditChatMessage(ctx context.Context, messageID, content string) (domain.ChatMessage, error)
	DeleteChatMessage(ctx context.Context, messageID string) error
	MarkChatMessagesAsRead(ctx context.Context, groupID, messageID string) error
}

type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// PushPlatform is the host's push permission and subscription surface.
type PushPlatform interface {
	Supported() bool
	Permission(ctx context.Context) (domain.PushPermission, error)
	RequestPermission(ctx context.Context) (domain.PushPermission, error)
	Subscribed(ctx context.Context) (bool, error)
	Subscribe(ctx context.Context) error
	Unsubscribe(ctx context.Context) error
}

// TokenSource returns the current session token, or "" when none is available.
type TokenSource func() string

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// editFence orders concurrent edits of one message: a success applies only
// when no later-issued edit has been applied yet.
type editFence struct {
	issued   uint64
	applied  uint64
	inflight int
}

type typingEntry struct {
	user      domain.TypingUser
	expiresAt time.Time
}

type Engine struct {
	userID    string
	tokens    TokenSource
	transport Transport
	api       API
	notifier  Notifier
	push      PushPlatform
	typingTTL time.Duration
	pageSize  int
	now       func() time.Time

	listenOnce sync.Once
	// switchMu serializes presence channel switches across the transport calls.
	switchMu sync.Mutex

	mu          sync.RWMutex
	state       ConnState
	groups      []domain.ChatGroup
	messages    map[string][]domain.ChatMessage
	online      map[string]struct{}
	groupOnline map[string]map[string]struct{}
	typing      map[string]map[string]typingEntry
	activeGroup string
	pushState   domain.PushState

	// epoch changes on every reset; responses from an older epoch are dropped.
	epoch     uint64
	groupsSeq uint64
	loadSeq   map[string]uint64
	edits     map[string]*editFence
}

func New(userID string, tokens TokenSource, transport Transport, api API, opts ...Option) *Engine {
	e := &Engine{
		userID:    userID,
		tokens:    tokens,
		transport: transport,
		api:       api,
		notifier:  discardNotifier{},
		typingTTL: defaultTypingTTL,
		pageSize:  defaultPageSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	if e.push == nil {
		e.pushState = domain.PushStateUnsupported
	} else {
		e.pushState = domain.PushStateDefault
	}
	e.reset()
	return e
}

// reset drops every piece of session state. Callers hold e.mu or own e exclusively.
func (e *Engine) reset() {
	e.state = StateDisconnected
	e.groups = nil
	e.messages = map[string][]domain.ChatMessage{}
	e.online = map[string]struct{}{}
	e.groupOnline = map[string]map[string]struct{}{}
	e.typing = map[string]map[string]typingEntry{}
	e.activeGroup = ""
	e.loadSeq = map[string]uint64{}
	e.edits = map[string]*editFence{}
	e.epoch++
}

func (e *Engine) UserID() string {
	return e.userID
}

func (e *Engine) State() ConnState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) IsConnected() bool {
	return e.State() == StateConnected
}

// Groups returns a copy of the directory in display order.
func (e *Engine) Groups() []domain.ChatGroup {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.ChatGroup, len(e.groups))
	for i, g := range e.groups {
		out[i] = cloneGroup(g)
	}
	return out
}

func (e *Engine) Group(groupID string) (domain.ChatGroup, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx := e.groupIndex(groupID)
	if idx < 0 {
		return domain.ChatGroup{}, false
	}
	return cloneGroup(e.groups[idx]), true
}

// ActiveGroup returns the active group id, or "" when none is active.
func (e *Engine) ActiveGroup() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeGroup
}

func (e *Engine) Messages(groupID string) []domain.ChatMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.ChatMessage(nil), e.messages[groupID]...)
}

func (e *Engine) OnlineUsers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedKeys(e.online)
}

func (e *Engine) IsOnline(userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.online[userID]
	return ok
}

func (e *Engine) GroupOnline(groupID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedKeys(e.groupOnline[groupID])
}

// Dispatch applies one transport event. It is the sink handed to
// Transport.Listen and is safe to call from any goroutine.
func (e *Engine) Dispatch(evt domain.Event) {
	var alert *domain.Alert
	rejoin := false

	e.mu.Lock()
	e.pruneTyping()
	switch ev := evt.(type) {
	case domain.Connected:
		rejoin = e.state != StateConnected && e.activeGroup != ""
		e.state = StateConnected
	case domain.Disconnected:
		e.state = StateDisconnected
		commonlog.Infof("event=chatsync_session action=transport_disconnected user_id=%s reason=%q", e.userID, ev.Reason)
	case domain.OnlineUsersHere:
		e.replaceOnline(ev.Users)
	case domain.UserOnline:
		e.setOnline(ev.User.ID, true)
	case domain.UserOffline:
		e.setOnline(ev.User.ID, false)
	case domain.GroupPresenceHere:
		e.replaceGroupOnline(ev.GroupID, ev.Users)
	case domain.GroupUserOnline:
		e.setGroupOnline(ev.GroupID, ev.User.ID, true)
	case domain.GroupUserOffline:
		e.setGroupOnline(ev.GroupID, ev.User.ID, false)
	case domain.MessageReceived:
		alert = e.applyInbound(ev.Message)
	case domain.MessageUpdated:
		e.applyUpdated(ev.Message)
	case domain.UserJoined:
		e.addMember(ev.GroupID, ev.User)
	case domain.UserLeft:
		e.removeMember(ev.GroupID, ev.UserID)
	case domain.GroupCreated:
		e.putGroupFirst(ev.Group)
	case domain.UserTyping:
		e.applyTyping(ev)
	default:
		commonlog.Warnf("event=chatsync_dispatch action=ignore status=unknown_event type=%T", evt)
	}
	e.mu.Unlock()

	if rejoin {
		e.rejoinActive(context.Background())
	}
	if alert != nil {
		e.deliverAlert(context.Background(), *alert)
	}
}

// sameEpoch reports whether no reset happened since epoch was read. Callers hold e.mu.
func (e *Engine) sameEpoch(epoch uint64) bool {
	if e.epoch != epoch {
		commonlog.Debugf("event=chatsync_session action=apply status=session_closed user_id=%s", e.userID)
		return false
	}
	return true
}

func (e *Engine) groupIndex(groupID string) int {
	for i := range e.groups {
		if e.groups[i].ID == groupID {
			return i
		}
	}
	return -1
}

func cloneGroup(g domain.ChatGroup) domain.ChatGroup {
	out := g
	out.Members = append([]domain.GroupMember(nil), g.Members...)
	if g.LastMessage != nil {
		last := *g.LastMessage
		out.LastMessage = &last
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
