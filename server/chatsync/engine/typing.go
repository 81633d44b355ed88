package engine

import (
	"context"
	"fmt"
	"sort"

	"chatsync/server/chatsync/domain"
)

// Typing indicators expire typingTTL after the last "typing" event of a
// user; nothing is persisted.

func (e *Engine) applyTyping(ev domain.UserTyping) {
	if ev.GroupID == "" || ev.User.ID == "" || ev.User.ID == e.userID {
		return
	}
	if !ev.IsTyping {
		e.clearTyping(ev.GroupID, ev.User.ID)
		return
	}
	users, ok := e.typing[ev.GroupID]
	if !ok {
		users = map[string]typingEntry{}
		e.typing[ev.GroupID] = users
	}
	users[ev.User.ID] = typingEntry{
		user:      domain.TypingUser{UserID: ev.User.ID, UserName: ev.User.Name, GroupID: ev.GroupID},
		expiresAt: e.now().Add(e.typingTTL),
	}
}

func (e *Engine) clearTyping(groupID, userID string) {
	users, ok := e.typing[groupID]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(e.typing, groupID)
	}
}

func (e *Engine) pruneTyping() {
	now := e.now()
	for groupID, users := range e.typing {
		for userID, entry := range users {
			if !now.Before(entry.expiresAt) {
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(e.typing, groupID)
		}
	}
}

// TypingUsers lists users currently typing in groupID, ordered by name.
func (e *Engine) TypingUsers(groupID string) []domain.TypingUser {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneTyping()
	users := e.typing[groupID]
	out := make([]domain.TypingUser, 0, len(users))
	for _, entry := range users {
		out = append(out, entry.user)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName == out[j].UserName {
			return out[i].UserID < out[j].UserID
		}
		return out[i].UserName < out[j].UserName
	})
	return out
}

// SendTyping tells the group that the current user started or stopped typing.
func (e *Engine) SendTyping(ctx context.Context, groupID string, typing bool) error {
	if !e.IsConnected() {
		return ErrNotConnected
	}
	if err := e.transport.SendTyping(ctx, groupID, typing); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}
	return nil
}
