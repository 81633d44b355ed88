package engine

import (
	"context"
	"fmt"
	"strings"

	"chatsync/server/chatsync/domain"
	commonlog "chatsync/server/common/log"
)

// RefreshGroups replaces the directory with the backend's list. On failure
// the previous directory is kept and the error is returned for callers that
// care; a response older than a newer refresh is discarded.
func (e *Engine) RefreshGroups(ctx context.Context) error {
	e.mu.Lock()
	e.groupsSeq++
	seq, epoch := e.groupsSeq, e.epoch
	e.mu.Unlock()

	groups, err := e.api.GetChatGroups(ctx)
	if err != nil {
		commonlog.Errorf("event=chatsync_groups action=refresh status=failed user_id=%s error=%v", e.userID, err)
		return fmt.Errorf("refresh groups: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sameEpoch(epoch) {
		return ErrSessionClosed
	}
	if seq != e.groupsSeq {
		commonlog.Debugf("event=chatsync_groups action=refresh status=superseded user_id=%s", e.userID)
		return ErrSuperseded
	}
	e.groups = DeriveMembership(groups, e.online)
	commonlog.Infof("event=chatsync_groups action=refresh status=ok user_id=%s count=%d", e.userID, len(groups))
	return nil
}

// CreateGroup creates a group on the backend and places it first in the
// directory. The returned value equals Groups()[0] at return time.
func (e *Engine) CreateGroup(ctx context.Context, input domain.CreateGroupInput) (domain.ChatGroup, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" || !input.Type.Valid() {
		return domain.ChatGroup{}, ErrInvalidGroup
	}
	input.ParticipantIDs = dedupeAndTrim(input.ParticipantIDs)
	epoch := e.currentEpoch()

	created, err := e.api.CreateChatGroup(ctx, input)
	if err != nil {
		commonlog.Errorf("event=chatsync_groups action=create status=failed user_id=%s name=%q error=%v", e.userID, input.Name, err)
		return domain.ChatGroup{}, fmt.Errorf("create group: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sameEpoch(epoch) {
		return created, ErrSessionClosed
	}
	e.putGroupFirst(created)
	commonlog.Infof("event=chatsync_groups action=create status=ok user_id=%s group_id=%s", e.userID, created.ID)
	return cloneGroup(e.groups[0]), nil
}

// putGroupFirst prepends g, dropping any resident copy with the same id so a
// groupCreated echo never duplicates a locally created group.
func (e *Engine) putGroupFirst(g domain.ChatGroup) {
	g.Members = deriveMembers(g.Members, e.online)
	out := make([]domain.ChatGroup, 0, len(e.groups)+1)
	out = append(out, g)
	for _, existing := range e.groups {
		if existing.ID == g.ID {
			continue
		}
		out = append(out, existing)
	}
	e.groups = out
}

func (e *Engine) addMember(groupID string, member domain.GroupMember) {
	idx := e.groupIndex(groupID)
	if idx < 0 {
		return
	}
	userID := memberUserID(member)
	_, member.IsOnline = e.online[userID]

	g := &e.groups[idx]
	members := make([]domain.GroupMember, 0, len(g.Members)+1)
	replaced := false
	for _, m := range g.Members {
		if memberUserID(m) == userID {
			members = append(members, member)
			replaced = true
			continue
		}
		members = append(members, m)
	}
	if !replaced {
		members = append(members, member)
	}
	g.Members = members
}

func (e *Engine) removeMember(groupID, userID string) {
	idx := e.groupIndex(groupID)
	if idx < 0 {
		return
	}
	g := &e.groups[idx]
	members := make([]domain.GroupMember, 0, len(g.Members))
	for _, m := range g.Members {
		if memberUserID(m) == userID {
			continue
		}
		members = append(members, m)
	}
	g.Members = members
}

// patchInbound replaces the group's LastMessage and bumps its unread counter
// for messages from other users while the group is not active. It reports
// whether the group is resident.
func (e *Engine) patchInbound(msg domain.ChatMessage) (domain.ChatGroup, bool) {
	idx := e.groupIndex(msg.GroupID)
	if idx < 0 {
		return domain.ChatGroup{}, false
	}
	g := &e.groups[idx]
	g.LastMessage = msg.Summary()
	if msg.SenderID != e.userID && e.activeGroup != msg.GroupID {
		g.UnreadCount++
	}
	return *g, true
}

// MarkAsRead persists the read marker, then clears the group's unread
// counter and flags every cached message of the group as read.
func (e *Engine) MarkAsRead(ctx context.Context, groupID, messageID string) error {
	epoch := e.currentEpoch()
	if err := e.api.MarkChatMessagesAsRead(ctx, groupID, messageID); err != nil {
		commonlog.Errorf("event=chatsync_groups action=mark_read status=failed user_id=%s group_id=%s error=%v", e.userID, groupID, err)
		return fmt.Errorf("mark as read: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sameEpoch(epoch) {
		return ErrSessionClosed
	}
	if idx := e.groupIndex(groupID); idx >= 0 {
		g := &e.groups[idx]
		g.UnreadCount = 0
		if g.LastMessage != nil {
			g.LastMessage.IsRead = true
		}
	}
	cached := e.messages[groupID]
	if len(cached) > 0 {
		updated := make([]domain.ChatMessage, len(cached))
		for i, m := range cached {
			m.IsRead = true
			updated[i] = m
		}
		e.messages[groupID] = updated
	}
	return nil
}

func dedupeAndTrim(items []string) []string {
	result := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func (e *Engine) currentEpoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epoch
}
