package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/server/chatsync/domain"
)

func TestUpsertReplacesInPlace(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))

	h.engine.Dispatch(domain.MessageReceived{Message: message("m1", "g1", "u2")})
	h.engine.Dispatch(domain.MessageReceived{Message: message("m2", "g1", "u2")})

	edited := message("m1", "g1", "u2")
	edited.Content = "edited"
	h.engine.Dispatch(domain.MessageUpdated{Message: edited})
	h.engine.Dispatch(domain.MessageUpdated{Message: edited})

	msgs := h.engine.Messages("g1")
	require.Equal(t, []string{"m1", "m2"}, ids(msgs))
	require.Equal(t, "edited", msgs[0].Content)
}

func TestDuplicateInboundMessageIsNotDuplicated(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))

	first := message("m1", "g1", "u2")
	second := first
	second.Content = "second wins"
	h.engine.Dispatch(domain.MessageReceived{Message: first})
	h.engine.Dispatch(domain.MessageReceived{Message: second})

	msgs := h.engine.Messages("g1")
	require.Len(t, msgs, 1)
	require.Equal(t, "second wins", msgs[0].Content)
}

func TestMessageUpdatedRefreshesLastMessage(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.engine.Dispatch(domain.MessageReceived{Message: message("m1", "g1", "u2")})

	edited := message("m1", "g1", "u2")
	edited.Content = "fixed typo"
	h.engine.Dispatch(domain.MessageUpdated{Message: edited})

	g, _ := h.engine.Group("g1")
	require.Equal(t, "fixed typo", g.LastMessage.Content)
	require.Equal(t, 1, g.UnreadCount, "updates never count as unread")
}

func TestPaginationPrependsOlderPages(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.api.pages[1] = []domain.ChatMessage{message("m3", "g1", "u2"), message("m4", "g1", "u2")}
	h.api.pages[2] = []domain.ChatMessage{message("m1", "g1", "u2"), message("m2", "g1", "u2"), message("m3", "g1", "u2")}
	ctx := context.Background()

	require.NoError(t, h.engine.LoadMessages(ctx, "g1", 1, 2))
	require.NoError(t, h.engine.LoadMessages(ctx, "g1", 2, 2))
	require.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(h.engine.Messages("g1")))

	require.NoError(t, h.engine.LoadMessages(ctx, "g1", 1, 2))
	require.Equal(t, []string{"m3", "m4"}, ids(h.engine.Messages("g1")), "page 1 is a fresh view")
}

func TestLoadFailureKeepsCache(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.api.pages[1] = []domain.ChatMessage{message("m1", "g1", "u2")}
	require.NoError(t, h.engine.LoadMessages(context.Background(), "g1", 0, 0))

	h.api.pagesErr = errBackend
	require.ErrorIs(t, h.engine.LoadMessages(context.Background(), "g1", 2, 0), errBackend)
	require.Equal(t, []string{"m1"}, ids(h.engine.Messages("g1")))
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.api.pages[1] = []domain.ChatMessage{message("m1", "g1", "u2")}
	gate := make(chan struct{})
	h.api.gate = gate

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = h.engine.LoadMessages(context.Background(), "g1", 1, 10)
	}()
	require.Eventually(t, func() bool {
		h.engine.mu.RLock()
		defer h.engine.mu.RUnlock()
		return h.engine.loadSeq["g1"] == 1
	}, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = h.engine.LoadMessages(context.Background(), "g1", 1, 10)
	}()
	require.Eventually(t, func() bool {
		h.engine.mu.RLock()
		defer h.engine.mu.RUnlock()
		return h.engine.loadSeq["g1"] == 2
	}, time.Second, time.Millisecond)

	gate <- struct{}{}
	gate <- struct{}{}
	wg.Wait()

	superseded := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrSuperseded)
			superseded++
		}
	}
	require.Equal(t, 1, superseded)
	require.Equal(t, []string{"m1"}, ids(h.engine.Messages("g1")))
}

func TestSendAppendsOnlyAfterConfirmation(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))

	msg, err := h.engine.SendMessage(context.Background(), "g1", "hello", nil)
	require.NoError(t, err)

	msgs := h.engine.Messages("g1")
	require.Equal(t, []string{msg.ID}, ids(msgs))
	g, _ := h.engine.Group("g1")
	require.Equal(t, msg.ID, g.LastMessage.ID)
	require.Zero(t, g.UnreadCount)

	// The transport echoes our own message back.
	h.engine.Dispatch(domain.MessageReceived{Message: msg})
	require.Len(t, h.engine.Messages("g1"), 1)
	g, _ = h.engine.Group("g1")
	require.Zero(t, g.UnreadCount)
	require.Zero(t, h.notifier.count())
}

func TestSendFailureLeavesNoEntry(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.transport.sendErr = errBackend

	_, err := h.engine.SendMessage(context.Background(), "g1", "hello", nil)
	require.ErrorIs(t, err, errBackend)
	require.Empty(t, h.engine.Messages("g1"))

	_, err = h.engine.SendMessage(context.Background(), "g1", "   ", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendAttachmentOnly(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))

	msg, err := h.engine.SendMessage(context.Background(), "g1", "", []domain.Attachment{{ID: "a1", FileName: "plan.pdf"}})
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)
}

func TestEditMapsAcrossGroups(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, WithClock(func() time.Time { return fixed }))
	h.started(t, group("g1"), group("g2"))
	h.engine.Dispatch(domain.MessageReceived{Message: message("a", "g1", "u2")})
	h.engine.Dispatch(domain.MessageReceived{Message: message("b", "g2", selfID)})
	h.engine.Dispatch(domain.MessageReceived{Message: message("c", "g2", "u2")})

	updated, err := h.engine.EditMessage(context.Background(), "b", "new text")
	require.NoError(t, err)
	require.Equal(t, "new text", updated.Content)
	require.Equal(t, fixed, *updated.EditedAt)

	require.Equal(t, []string{"b", "c"}, ids(h.engine.Messages("g2")))
	require.Equal(t, "new text", h.engine.Messages("g2")[0].Content)
	require.Equal(t, "body a", h.engine.Messages("g1")[0].Content)
}

func TestEditUsesServerCopy(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.engine.Dispatch(domain.MessageReceived{Message: message("a", "g1", selfID)})
	censored := "darn"
	h.api.editReply = func(id, content string) domain.ChatMessage {
		m := message(id, "g1", selfID)
		m.Content = "****"
		m.OriginalContent = &censored
		m.IsCensored = true
		return m
	}

	updated, err := h.engine.EditMessage(context.Background(), "a", "darn")
	require.NoError(t, err)
	require.True(t, updated.IsCensored)
	require.Equal(t, "****", h.engine.Messages("g1")[0].Content)
	g, _ := h.engine.Group("g1")
	require.Equal(t, "****", g.LastMessage.Content)
}

func TestEditFailureLeavesState(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.engine.Dispatch(domain.MessageReceived{Message: message("a", "g1", selfID)})
	h.api.editErr = errBackend

	_, err := h.engine.EditMessage(context.Background(), "a", "new")
	require.ErrorIs(t, err, errBackend)
	require.Equal(t, "body a", h.engine.Messages("g1")[0].Content)
}

func TestEditUnknownMessage(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))

	_, err := h.engine.EditMessage(context.Background(), "ghost", "new")
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDeleteRemovesAndRecomputesLastMessage(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.engine.Dispatch(domain.MessageReceived{Message: message("a", "g1", "u2")})
	h.engine.Dispatch(domain.MessageReceived{Message: message("b", "g1", "u2")})

	require.NoError(t, h.engine.DeleteMessage(context.Background(), "b"))
	require.Equal(t, []string{"a"}, ids(h.engine.Messages("g1")))
	g, _ := h.engine.Group("g1")
	require.Equal(t, "a", g.LastMessage.ID)

	require.NoError(t, h.engine.DeleteMessage(context.Background(), "a"))
	g, _ = h.engine.Group("g1")
	require.Nil(t, g.LastMessage)
}

func TestDeleteFailureLeavesState(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.engine.Dispatch(domain.MessageReceived{Message: message("a", "g1", "u2")})
	h.api.deleteErr = errBackend

	require.ErrorIs(t, h.engine.DeleteMessage(context.Background(), "a"), errBackend)
	require.Len(t, h.engine.Messages("g1"), 1)
}

func echoEdit(id, content string) domain.ChatMessage {
	m := message(id, "g1", selfID)
	m.Content = content
	return m
}

func waitEditsIssued(t *testing.T, e *Engine, messageID string, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		e.mu.RLock()
		defer e.mu.RUnlock()
		f := e.edits[messageID]
		return f != nil && f.issued == n
	}, time.Second, time.Millisecond)
}

func TestFailedLaterEditKeepsEarlierSuccess(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.engine.Dispatch(domain.MessageReceived{Message: message("a", "g1", selfID)})
	gate := make(chan struct{})
	h.api.editReply = echoEdit
	h.api.editWait = map[string]chan struct{}{"first": gate}
	h.api.editFail = map[string]error{"second": errBackend}

	first := make(chan error, 1)
	go func() {
		_, err := h.engine.EditMessage(context.Background(), "a", "first")
		first <- err
	}()
	waitEditsIssued(t, h.engine, "a", 1)

	_, err := h.engine.EditMessage(context.Background(), "a", "second")
	require.ErrorIs(t, err, errBackend)
	close(gate)

	require.NoError(t, <-first)
	require.Equal(t, "first", h.engine.Messages("g1")[0].Content)
	h.engine.mu.RLock()
	defer h.engine.mu.RUnlock()
	require.Empty(t, h.engine.edits)
}

func TestStaleEditIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.engine.Dispatch(domain.MessageReceived{Message: message("a", "g1", selfID)})
	gate := make(chan struct{})
	h.api.editReply = echoEdit
	h.api.editWait = map[string]chan struct{}{"first": gate}

	first := make(chan error, 1)
	go func() {
		_, err := h.engine.EditMessage(context.Background(), "a", "first")
		first <- err
	}()
	waitEditsIssued(t, h.engine, "a", 1)

	updated, err := h.engine.EditMessage(context.Background(), "a", "second")
	require.NoError(t, err)
	require.Equal(t, "second", updated.Content)
	close(gate)

	require.ErrorIs(t, <-first, ErrSuperseded)
	require.Equal(t, "second", h.engine.Messages("g1")[0].Content)
	g, _ := h.engine.Group("g1")
	require.Equal(t, "second", g.LastMessage.Content)
}

func TestLoadAfterCloseIsDropped(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	h.api.pages[1] = []domain.ChatMessage{message("m1", "g1", "u2")}
	gate := make(chan struct{})
	h.api.gate = gate

	done := make(chan error, 1)
	go func() { done <- h.engine.LoadMessages(context.Background(), "g1", 1, 10) }()
	require.Eventually(t, func() bool {
		h.engine.mu.RLock()
		defer h.engine.mu.RUnlock()
		return h.engine.loadSeq["g1"] == 1
	}, time.Second, time.Millisecond)

	h.engine.Close()
	gate <- struct{}{}

	require.ErrorIs(t, <-done, ErrSessionClosed)
	require.Empty(t, h.engine.Messages("g1"))
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	h := newHarness(t)
	h.started(t, group("g1"))
	gate := make(chan struct{})
	h.transport.sendGate = gate

	type result struct {
		msg domain.ChatMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := h.engine.SendMessage(context.Background(), "g1", "hello", nil)
		done <- result{msg, err}
	}()

	require.Eventually(t, func() bool {
		h.transport.mu.Lock()
		defer h.transport.mu.Unlock()
		return h.transport.sendCalls == 1
	}, time.Second, time.Millisecond)
	h.engine.Close()
	close(gate)

	res := <-done
	require.ErrorIs(t, res.err, ErrSessionClosed)
	require.Equal(t, "hello", res.msg.Content)
	require.Empty(t, h.engine.Messages("g1"))
}
