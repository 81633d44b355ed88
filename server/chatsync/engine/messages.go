package engine

import (
	"context"
	"fmt"
	"strings"

	"chatsync/server/chatsync/domain"
	commonlog "chatsync/server/common/log"
)

// Sends appear only after the backend confirms them: SendMessage never
// inserts a placeholder. Edits and deletes likewise touch local state only
// after the REST call succeeded. Inbound events are applied as they arrive.

// upsertMessage replaces the entry with msg.ID in place or appends msg.
// Positions never change, so edits cannot reorder a group's sequence.
func (e *Engine) upsertMessage(msg domain.ChatMessage) {
	cached := e.messages[msg.GroupID]
	for i := range cached {
		if cached[i].ID == msg.ID {
			updated := append([]domain.ChatMessage(nil), cached...)
			updated[i] = msg
			e.messages[msg.GroupID] = updated
			return
		}
	}
	e.messages[msg.GroupID] = append(cached, msg)
}

// applyInbound handles a "message" event and returns the alert to raise, if any.
func (e *Engine) applyInbound(msg domain.ChatMessage) *domain.Alert {
	e.upsertMessage(msg)
	e.clearTyping(msg.GroupID, msg.SenderID)
	group, resident := e.patchInbound(msg)

	if !ShouldAlert(e.userID, e.activeGroup, msg) {
		return nil
	}
	alert := domain.Alert{
		GroupID:    msg.GroupID,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Body:       msg.Content,
		CreatedAt:  e.now().UTC(),
	}
	if resident {
		alert.GroupName = group.Name
	}
	return &alert
}

func (e *Engine) applyUpdated(msg domain.ChatMessage) {
	e.upsertMessage(msg)
	if idx := e.groupIndex(msg.GroupID); idx >= 0 {
		g := &e.groups[idx]
		if g.LastMessage != nil && g.LastMessage.ID == msg.ID {
			isRead := g.LastMessage.IsRead
			g.LastMessage = msg.Summary()
			g.LastMessage.IsRead = isRead || msg.IsRead
		}
	}
}

// LoadMessages fetches one page of history. Page 1 replaces the cache,
// later pages are prepended as older history. Only the most recently issued
// load for a group is applied; earlier responses return ErrSuperseded.
func (e *Engine) LoadMessages(ctx context.Context, groupID string, page, pageSize int) error {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = e.pageSize
	}

	e.mu.Lock()
	e.loadSeq[groupID]++
	seq, epoch := e.loadSeq[groupID], e.epoch
	e.mu.Unlock()

	items, err := e.api.GetChatMessages(ctx, groupID, page, pageSize)
	if err != nil {
		commonlog.Errorf("event=chatsync_messages action=load status=failed user_id=%s group_id=%s page=%d error=%v", e.userID, groupID, page, err)
		return fmt.Errorf("load messages: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sameEpoch(epoch) {
		return ErrSessionClosed
	}
	if e.loadSeq[groupID] != seq {
		commonlog.Debugf("event=chatsync_messages action=load status=superseded user_id=%s group_id=%s page=%d", e.userID, groupID, page)
		return ErrSuperseded
	}

	fetched := uniqueByID(items, nil)
	if page == 1 {
		e.messages[groupID] = fetched
	} else {
		existing := e.messages[groupID]
		older := uniqueByID(fetched, existing)
		merged := make([]domain.ChatMessage, 0, len(older)+len(existing))
		merged = append(merged, older...)
		merged = append(merged, existing...)
		e.messages[groupID] = merged
	}
	commonlog.Debugf("event=chatsync_messages action=load status=ok user_id=%s group_id=%s page=%d count=%d", e.userID, groupID, page, len(fetched))
	return nil
}

// uniqueByID keeps the first occurrence of each id in items, skipping ids
// already present in exclude.
func uniqueByID(items, exclude []domain.ChatMessage) []domain.ChatMessage {
	seen := make(map[string]struct{}, len(items)+len(exclude))
	for _, m := range exclude {
		seen[m.ID] = struct{}{}
	}
	out := make([]domain.ChatMessage, 0, len(items))
	for _, m := range items {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// SendMessage sends through the transport and appends the confirmed message.
func (e *Engine) SendMessage(ctx context.Context, groupID, content string, attachments []domain.Attachment) (domain.ChatMessage, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	epoch := e.currentEpoch()

	msg, err := e.transport.SendMessageViaAPI(ctx, groupID, content, attachments)
	if err != nil {
		commonlog.Errorf("event=chatsync_messages action=send status=failed user_id=%s group_id=%s error=%v", e.userID, groupID, err)
		return domain.ChatMessage{}, fmt.Errorf("send message: %w", err)
	}
	if msg.GroupID == "" {
		msg.GroupID = groupID
	}

	e.mu.Lock()
	if !e.sameEpoch(epoch) {
		e.mu.Unlock()
		return msg, ErrSessionClosed
	}
	e.upsertMessage(msg)
	if idx := e.groupIndex(msg.GroupID); idx >= 0 {
		e.groups[idx].LastMessage = msg.Summary()
	}
	e.mu.Unlock()

	commonlog.Infof("event=chatsync_messages action=send status=ok user_id=%s group_id=%s message_id=%s", e.userID, msg.GroupID, msg.ID)
	return msg, nil
}

// EditMessage persists new content and rewrites the message in place in
// whichever cached group holds it. Concurrent edits of one message apply in
// issue order: a response is dropped with ErrSuperseded once a later-issued
// edit has been applied, and a failed edit never blocks an earlier success.
func (e *Engine) EditMessage(ctx context.Context, messageID, content string) (domain.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}

	e.mu.Lock()
	fence, ok := e.edits[messageID]
	if !ok {
		fence = &editFence{}
		e.edits[messageID] = fence
	}
	fence.issued++
	fence.inflight++
	seq, epoch := fence.issued, e.epoch
	e.mu.Unlock()

	updated, err := e.api.EditChatMessage(ctx, messageID, content)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sameEpoch(epoch) {
		if err != nil {
			return domain.ChatMessage{}, fmt.Errorf("edit message: %w", err)
		}
		return updated, ErrSessionClosed
	}
	fence.inflight--
	if fence.inflight == 0 {
		delete(e.edits, messageID)
	}
	if err != nil {
		commonlog.Errorf("event=chatsync_messages action=edit status=failed user_id=%s message_id=%s error=%v", e.userID, messageID, err)
		return domain.ChatMessage{}, fmt.Errorf("edit message: %w", err)
	}
	if seq < fence.applied {
		commonlog.Debugf("event=chatsync_messages action=edit status=superseded user_id=%s message_id=%s", e.userID, messageID)
		return updated, ErrSuperseded
	}
	fence.applied = seq

	now := e.now().UTC()
	var result domain.ChatMessage
	found := false
	for groupID, cached := range e.messages {
		for i := range cached {
			if cached[i].ID != messageID {
				continue
			}
			next := cached[i]
			if updated.ID == messageID {
				next = updated
				if next.GroupID == "" {
					next.GroupID = groupID
				}
			} else {
				next.Content = content
				next.EditedAt = &now
			}
			copied := append([]domain.ChatMessage(nil), cached...)
			copied[i] = next
			e.messages[groupID] = copied
			e.refreshLastMessage(groupID, next)
			result = next
			found = true
			break
		}
	}
	if !found {
		if updated.ID == messageID {
			return updated, nil
		}
		return domain.ChatMessage{}, ErrMessageNotFound
	}
	return result, nil
}

// DeleteMessage deletes on the backend and removes the message from every
// cached group.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	epoch := e.currentEpoch()
	if err := e.api.DeleteChatMessage(ctx, messageID); err != nil {
		commonlog.Errorf("event=chatsync_messages action=delete status=failed user_id=%s message_id=%s error=%v", e.userID, messageID, err)
		return fmt.Errorf("delete message: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sameEpoch(epoch) {
		return ErrSessionClosed
	}
	for groupID, cached := range e.messages {
		kept := make([]domain.ChatMessage, 0, len(cached))
		removed := false
		for _, m := range cached {
			if m.ID == messageID {
				removed = true
				continue
			}
			kept = append(kept, m)
		}
		if !removed {
			continue
		}
		e.messages[groupID] = kept
		if idx := e.groupIndex(groupID); idx >= 0 {
			g := &e.groups[idx]
			if g.LastMessage != nil && g.LastMessage.ID == messageID {
				g.LastMessage = nil
				if len(kept) > 0 {
					g.LastMessage = kept[len(kept)-1].Summary()
				}
			}
		}
	}
	return nil
}

func (e *Engine) refreshLastMessage(groupID string, msg domain.ChatMessage) {
	idx := e.groupIndex(groupID)
	if idx < 0 {
		return
	}
	g := &e.groups[idx]
	if g.LastMessage != nil && g.LastMessage.ID == msg.ID {
		g.LastMessage.Content = msg.Content
	}
}
