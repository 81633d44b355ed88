package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/server/chatsync/domain"
)

const selfID = "u-self"

var errBackend = errors.New("backend unavailable")

type fakeTransport struct {
	mu          sync.Mutex
	sink        func(domain.Event)
	listenCalls int
	connects    int
	disconnects int
	connectOK   bool
	connectErr  error
	joins       []string
	leaves      []string
	typing      []string
	sendErr     error
	nextID      int

	// emitOnConnect makes Connect deliver a Connected event before returning,
	// as the websocket transport does.
	emitOnConnect bool
	// joinGate, when set, blocks JoinGroupPresence until it is closed.
	joinGate     chan struct{}
	joinAttempts int
	// connectGate, when set, blocks Connect until it is closed.
	connectGate chan struct{}
	sendGate    chan struct{}
	sendCalls   int
}

func (t *fakeTransport) Listen(sink func(domain.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
	t.listenCalls++
}

func (t *fakeTransport) Connect(ctx context.Context, userID, token string) (bool, error) {
	t.mu.Lock()
	gate := t.connectGate
	t.mu.Unlock()
	if gate != nil {
		<-gate
	}
	t.mu.Lock()
	t.connects++
	ok, err := t.connectOK, t.connectErr
	sink := t.sink
	emit := t.emitOnConnect && ok && err == nil
	t.mu.Unlock()
	if emit && sink != nil {
		sink(domain.Connected{})
	}
	return ok, err
}

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
}

func (t *fakeTransport) JoinGroupPresence(ctx context.Context, groupID string) error {
	t.mu.Lock()
	t.joinAttempts++
	gate := t.joinGate
	t.mu.Unlock()
	if gate != nil {
		<-gate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joins = append(t.joins, groupID)
	return nil
}

func (t *fakeTransport) LeaveGroupPresence(ctx context.Context, groupID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves = append(t.leaves, groupID)
	return nil
}

func (t *fakeTransport) joined() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.joins...)
}

func (t *fakeTransport) left() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.leaves...)
}

// subscriptions lists groups joined more often than left.
func (t *fakeTransport) subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := map[string]int{}
	for _, g := range t.joins {
		count[g]++
	}
	for _, g := range t.leaves {
		count[g]--
	}
	var out []string
	for g, n := range count {
		if n > 0 {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

func (t *fakeTransport) SendMessageViaAPI(ctx context.Context, groupID, content string, attachments []domain.Attachment) (domain.ChatMessage, error) {
	t.mu.Lock()
	t.sendCalls++
	gate := t.sendGate
	t.mu.Unlock()
	if gate != nil {
		<-gate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return domain.ChatMessage{}, t.sendErr
	}
	t.nextID++
	return domain.ChatMessage{
		ID:          fmt.Sprintf("sent-%d", t.nextID),
		GroupID:     groupID,
		SenderID:    selfID,
		SenderName:  "Self",
		Content:     content,
		Attachments: attachments,
		Timestamp:   time.Date(2026, 1, 1, 0, 0, t.nextID, 0, time.UTC),
	}, nil
}

func (t *fakeTransport) SendTyping(ctx context.Context, groupID string, typing bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing = append(t.typing, fmt.Sprintf("%s:%t", groupID, typing))
	return nil
}

type fakeAPI struct {
	mu sync.Mutex

	groups     []domain.ChatGroup
	groupsErr  error
	groupsHook func() ([]domain.ChatGroup, error)

	created   domain.ChatGroup
	createErr error
	pages     map[int][]domain.ChatMessage
	pagesErr  error
	editErr   error
	editReply func(id, content string) domain.ChatMessage
	deleteErr error
	readErr   error
	readCalls []string

	// editWait blocks an edit with the given content until the channel is closed;
	// editFail fails it.
	editWait map[string]chan struct{}
	editFail map[string]error

	// gate, when set, blocks GetChatMessages until a value is received.
	gate chan struct{}
}

func (a *fakeAPI) GetChatGroups(ctx context.Context) ([]domain.ChatGroup, error) {
	a.mu.Lock()
	hook := a.groupsHook
	a.mu.Unlock()
	if hook != nil {
		return hook()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.groupsErr != nil {
		return nil, a.groupsErr
	}
	return append([]domain.ChatGroup(nil), a.groups...), nil
}

func (a *fakeAPI) CreateChatGroup(ctx context.Context, input domain.CreateGroupInput) (domain.ChatGroup, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return domain.ChatGroup{}, a.createErr
	}
	g := a.created
	g.Name = input.Name
	g.Type = input.Type
	return g, nil
}

func (a *fakeAPI) GetChatMessages(ctx context.Context, groupID string, page, pageSize int) ([]domain.ChatMessage, error) {
	a.mu.Lock()
	gate := a.gate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pagesErr != nil {
		return nil, a.pagesErr
	}
	return append([]domain.ChatMessage(nil), a.pages[page]...), nil
}

func (a *fakeAPI) EditChatMessage(ctx context.Context, messageID, content string) (domain.ChatMessage, error) {
	a.mu.Lock()
	wait := a.editWait[content]
	a.mu.Unlock()
	if wait != nil {
		<-wait
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.editFail[content]; err != nil {
		return domain.ChatMessage{}, err
	}
	if a.editErr != nil {
		return domain.ChatMessage{}, a.editErr
	}
	if a.editReply != nil {
		return a.editReply(messageID, content), nil
	}
	return domain.ChatMessage{}, nil
}

func (a *fakeAPI) DeleteChatMessage(ctx context.Context, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deleteErr
}

func (a *fakeAPI) MarkChatMessagesAsRead(ctx context.Context, groupID, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readCalls = append(a.readCalls, groupID+"/"+messageID)
	return a.readErr
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (n *recordingNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type fakePush struct {
	supported    bool
	permission   domain.PushPermission
	promptAnswer domain.PushPermission
	subscribed   bool
	prompts      int
	subscribeErr error
}

func (p *fakePush) Supported() bool { return p.supported }

func (p *fakePush) Permission(ctx context.Context) (domain.PushPermission, error) {
	return p.permission, nil
}

func (p *fakePush) RequestPermission(ctx context.Context) (domain.PushPermission, error) {
	p.prompts++
	p.permission = p.promptAnswer
	return p.permission, nil
}

func (p *fakePush) Subscribed(ctx context.Context) (bool, error) { return p.subscribed, nil }

func (p *fakePush) Subscribe(ctx context.Context) error {
	if p.subscribeErr != nil {
		return p.subscribeErr
	}
	p.subscribed = true
	return nil
}

func (p *fakePush) Unsubscribe(ctx context.Context) error {
	p.subscribed = false
	return nil
}

type harness struct {
	engine    *Engine
	transport *fakeTransport
	api       *fakeAPI
	notifier  *recordingNotifier
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{connectOK: true},
		api:       &fakeAPI{pages: map[int][]domain.ChatMessage{}},
		notifier:  &recordingNotifier{},
	}
	opts = append([]Option{WithNotifier(h.notifier)}, opts...)
	h.engine = New(selfID, func() string { return "token" }, h.transport, h.api, opts...)
	return h
}

// started connects the engine and loads the given directory.
func (h *harness) started(t *testing.T, groups ...domain.ChatGroup) {
	t.Helper()
	h.api.groups = groups
	require.True(t, h.engine.Start(context.Background()))
}

func group(id string, memberIDs ...string) domain.ChatGroup {
	g := domain.ChatGroup{ID: id, Name: "group " + id, Type: domain.GroupTypeProject}
	for _, uid := range memberIDs {
		g.Members = append(g.Members, domain.GroupMember{ID: "m-" + uid, UserID: uid, User: domain.UserProfile{ID: uid, Name: uid}})
	}
	return g
}

func message(id, groupID, senderID string) domain.ChatMessage {
	return domain.ChatMessage{ID: id, GroupID: groupID, SenderID: senderID, SenderName: senderID, Content: "body " + id}
}

func ids(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
