package engine

import (
	"context"
	"fmt"

	"chatsync/server/chatsync/domain"
	commonlog "chatsync/server/common/log"
)

// ShouldAlert reports whether an inbound message warrants a local alert:
// never for the current user's own messages, otherwise only when the
// message's group is not the active one.
func ShouldAlert(currentUserID, activeGroupID string, msg domain.ChatMessage) bool {
	if msg.SenderID == currentUserID {
		return false
	}
	return activeGroupID == "" || activeGroupID != msg.GroupID
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, domain.Alert) error { return nil }

func (e *Engine) deliverAlert(ctx context.Context, alert domain.Alert) {
	if err := e.notifier.Notify(ctx, alert); err != nil {
		commonlog.Warnf("event=chatsync_alert action=notify status=failed user_id=%s group_id=%s message_id=%s error=%v", e.userID, alert.GroupID, alert.MessageID, err)
	}
}

func (e *Engine) PushState() domain.PushState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pushState
}

func (e *Engine) setPushState(s domain.PushState) {
	e.mu.Lock()
	e.pushState = s
	e.mu.Unlock()
}

// RefreshPushState re-reads permission and subscription from the platform.
func (e *Engine) RefreshPushState(ctx context.Context) (domain.PushState, error) {
	if e.push == nil || !e.push.Supported() {
		e.setPushState(domain.PushStateUnsupported)
		return domain.PushStateUnsupported, nil
	}
	perm, err := e.push.Permission(ctx)
	if err != nil {
		return e.PushState(), fmt.Errorf("query push permission: %w", err)
	}
	state := domain.PushStateDefault
	switch perm {
	case domain.PushPermissionDenied:
		state = domain.PushStateDenied
	case domain.PushPermissionGranted:
		subscribed, err := e.push.Subscribed(ctx)
		if err != nil {
			return e.PushState(), fmt.Errorf("query push subscription: %w", err)
		}
		state = domain.PushStateGrantedDisabled
		if subscribed {
			state = domain.PushStateGrantedEnabled
		}
	}
	e.setPushState(state)
	return state, nil
}

// EnableWebPush asks for permission when none was given yet and registers
// the push subscription. A denied permission is final.
func (e *Engine) EnableWebPush(ctx context.Context) (domain.PushState, error) {
	state, err := e.RefreshPushState(ctx)
	if err != nil {
		return state, err
	}
	switch state {
	case domain.PushStateUnsupported:
		return state, ErrPushUnsupported
	case domain.PushStateDenied:
		return state, ErrPushDenied
	case domain.PushStateGrantedEnabled:
		return state, nil
	case domain.PushStateDefault:
		perm, err := e.push.RequestPermission(ctx)
		if err != nil {
			return state, fmt.Errorf("request push permission: %w", err)
		}
		switch perm {
		case domain.PushPermissionDenied:
			e.setPushState(domain.PushStateDenied)
			commonlog.Infof("event=chatsync_push action=request_permission status=denied user_id=%s", e.userID)
			return domain.PushStateDenied, ErrPushDenied
		case domain.PushPermissionGranted:
		default:
			return state, nil
		}
	}

	if err := e.push.Subscribe(ctx); err != nil {
		e.setPushState(domain.PushStateGrantedDisabled)
		commonlog.Errorf("event=chatsync_push action=subscribe status=failed user_id=%s error=%v", e.userID, err)
		return domain.PushStateGrantedDisabled, fmt.Errorf("subscribe push: %w", err)
	}
	e.setPushState(domain.PushStateGrantedEnabled)
	commonlog.Infof("event=chatsync_push action=subscribe status=ok user_id=%s", e.userID)
	return domain.PushStateGrantedEnabled, nil
}

// DisableWebPush removes the push subscription while keeping the permission.
func (e *Engine) DisableWebPush(ctx context.Context) (domain.PushState, error) {
	state, err := e.RefreshPushState(ctx)
	if err != nil {
		return state, err
	}
	switch state {
	case domain.PushStateUnsupported:
		return state, ErrPushUnsupported
	case domain.PushStateGrantedEnabled:
	default:
		return state, nil
	}

	if err := e.push.Unsubscribe(ctx); err != nil {
		commonlog.Errorf("event=chatsync_push action=unsubscribe status=failed user_id=%s error=%v", e.userID, err)
		return state, fmt.Errorf("unsubscribe push: %w", err)
	}
	e.setPushState(domain.PushStateGrantedDisabled)
	commonlog.Infof("event=chatsync_push action=unsubscribe status=ok user_id=%s", e.userID)
	return domain.PushStateGrantedDisabled, nil
}
