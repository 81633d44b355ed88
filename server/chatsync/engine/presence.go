package engine

import (
	"chatsync/server/chatsync/domain"
)

// DeriveMembership returns a copy of groups in which every member's IsOnline
// equals membership of its user id in online. It is a full re-derivation, not
// a patch, so no flag survives from the input.
func DeriveMembership(groups []domain.ChatGroup, online map[string]struct{}) []domain.ChatGroup {
	out := make([]domain.ChatGroup, len(groups))
	for i, g := range groups {
		out[i] = g
		out[i].Members = deriveMembers(g.Members, online)
	}
	return out
}

func deriveMembers(members []domain.GroupMember, online map[string]struct{}) []domain.GroupMember {
	if members == nil {
		return nil
	}
	out := make([]domain.GroupMember, len(members))
	for i, m := range members {
		_, ok := online[memberUserID(m)]
		m.IsOnline = ok
		out[i] = m
	}
	return out
}

// memberUserID prefers the explicit user id and falls back to the embedded
// profile for payloads that only carry one of them.
func memberUserID(m domain.GroupMember) string {
	if m.UserID != "" {
		return m.UserID
	}
	return m.User.ID
}

func (e *Engine) rederive() {
	e.groups = DeriveMembership(e.groups, e.online)
}

func (e *Engine) replaceOnline(users []domain.User) {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		set[u.ID] = struct{}{}
	}
	e.online = set
	e.rederive()
}

func (e *Engine) setOnline(userID string, online bool) {
	if userID == "" {
		return
	}
	if online {
		e.online[userID] = struct{}{}
	} else {
		delete(e.online, userID)
	}
	e.rederive()
}

func (e *Engine) replaceGroupOnline(groupID string, users []domain.User) {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		set[u.ID] = struct{}{}
	}
	e.groupOnline[groupID] = set
}

func (e *Engine) setGroupOnline(groupID, userID string, online bool) {
	if groupID == "" || userID == "" {
		return
	}
	set, ok := e.groupOnline[groupID]
	if !ok {
		if !online {
			return
		}
		set = map[string]struct{}{}
		e.groupOnline[groupID] = set
	}
	if online {
		set[userID] = struct{}{}
	} else {
		delete(set, userID)
	}
}
