package engine

import (
	"context"
	"fmt"

	commonlog "chatsync/server/common/log"
)

// Connect opens the transport session. It returns false without error
// reporting when no token is available or the transport refuses; retrying is
// the caller's or the transport's business. Connecting an already connected
// engine is a successful no-op.
func (e *Engine) Connect(ctx context.Context) bool {
	token := ""
	if e.tokens != nil {
		token = e.tokens()
	}
	if token == "" {
		commonlog.Warnf("event=chatsync_session action=connect status=skipped reason=no_token user_id=%s", e.userID)
		return false
	}

	e.mu.Lock()
	switch e.state {
	case StateConnected:
		e.mu.Unlock()
		return true
	case StateConnecting:
		e.mu.Unlock()
		commonlog.Debugf("event=chatsync_session action=connect status=in_flight user_id=%s", e.userID)
		return false
	}
	e.state = StateConnecting
	epoch := e.epoch
	e.mu.Unlock()

	e.listenOnce.Do(func() {
		e.transport.Listen(e.Dispatch)
	})

	ok, err := e.transport.Connect(ctx, e.userID, token)

	e.mu.Lock()
	if err != nil || !ok {
		e.state = StateDisconnected
		e.mu.Unlock()
		commonlog.Errorf("event=chatsync_session action=connect status=failed user_id=%s error=%v", e.userID, err)
		return false
	}
	if !e.sameEpoch(epoch) {
		// Closed while dialing.
		e.state = StateDisconnected
		e.mu.Unlock()
		e.transport.Disconnect()
		return false
	}
	// A Connected event may already have flipped the state and re-joined.
	rejoin := e.state != StateConnected && e.activeGroup != ""
	e.state = StateConnected
	e.mu.Unlock()

	commonlog.Infof("event=chatsync_session action=connect status=ok user_id=%s", e.userID)
	if rejoin {
		e.rejoinActive(ctx)
	}
	return true
}

// rejoinActive subscribes a fresh connection to the active group's presence
// channel. A new connection carries no subscriptions.
func (e *Engine) rejoinActive(ctx context.Context) {
	e.switchMu.Lock()
	defer e.switchMu.Unlock()

	e.mu.RLock()
	groupID := e.activeGroup
	connected := e.state == StateConnected
	e.mu.RUnlock()
	if groupID == "" || !connected {
		return
	}
	if err := e.transport.JoinGroupPresence(ctx, groupID); err != nil {
		commonlog.Warnf("event=chatsync_presence action=rejoin status=failed user_id=%s group_id=%s error=%v", e.userID, groupID, err)
		return
	}
	commonlog.Debugf("event=chatsync_presence action=rejoin status=ok user_id=%s group_id=%s", e.userID, groupID)
}

// Start connects and, once connected, loads the group directory. A failed
// directory load is logged and leaves the engine connected.
func (e *Engine) Start(ctx context.Context) bool {
	if !e.Connect(ctx) {
		return false
	}
	_ = e.RefreshGroups(ctx)
	return true
}

// Disconnect closes the transport. It is safe to call on a disconnected engine.
func (e *Engine) Disconnect() {
	e.transport.Disconnect()
	e.mu.Lock()
	e.state = StateDisconnected
	e.mu.Unlock()
	commonlog.Infof("event=chatsync_session action=disconnect status=ok user_id=%s", e.userID)
}

// Close tears the session down on logout: the transport is disconnected and
// every cached group, message and presence entry is dropped.
func (e *Engine) Close() {
	e.Disconnect()
	e.mu.Lock()
	e.reset()
	e.mu.Unlock()
}

// SetActiveGroup makes groupID the active group, leaving the previous
// group's presence channel before joining the new one. An empty groupID
// clears the active group. Selecting the current active group does nothing.
// Switches are serialized so at most one group channel stays subscribed.
// While offline only the selection changes; the join happens on connect.
func (e *Engine) SetActiveGroup(ctx context.Context, groupID string) error {
	e.switchMu.Lock()
	defer e.switchMu.Unlock()

	e.mu.Lock()
	if groupID == e.activeGroup {
		e.mu.Unlock()
		return nil
	}
	if groupID != "" && e.groupIndex(groupID) < 0 {
		e.mu.Unlock()
		return ErrGroupNotFound
	}
	previous := e.activeGroup
	e.activeGroup = groupID
	connected := e.state == StateConnected
	e.mu.Unlock()

	if !connected {
		commonlog.Debugf("event=chatsync_presence action=switch status=offline user_id=%s from=%s to=%s", e.userID, previous, groupID)
		return nil
	}
	if previous != "" {
		if err := e.transport.LeaveGroupPresence(ctx, previous); err != nil {
			commonlog.Warnf("event=chatsync_presence action=leave status=failed user_id=%s group_id=%s error=%v", e.userID, previous, err)
		}
	}
	if groupID != "" {
		if err := e.transport.JoinGroupPresence(ctx, groupID); err != nil {
			commonlog.Warnf("event=chatsync_presence action=join status=failed user_id=%s group_id=%s error=%v", e.userID, groupID, err)
			return fmt.Errorf("join group presence: %w", err)
		}
	}
	return nil
}

// OpenAlert follows an alert's deep link to its group.
func (e *Engine) OpenAlert(ctx context.Context, groupID string) error {
	if _, ok := e.Group(groupID); !ok {
		return ErrGroupNotFound
	}
	return e.SetActiveGroup(ctx, groupID)
}
