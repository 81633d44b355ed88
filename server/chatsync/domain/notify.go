package domain

import "time"

type PushState string
type PushPermission string

const (
	PushStateUnsupported     PushState = "unsupported"
	PushStateDefault         PushState = "default"
	PushStateDenied          PushState = "denied"
	PushStateGrantedDisabled PushState = "granted-disabled"
	PushStateGrantedEnabled  PushState = "granted-enabled"
)

const (
	PushPermissionDefault PushPermission = "default"
	PushPermissionDenied  PushPermission = "denied"
	PushPermissionGranted PushPermission = "granted"
)

// Alert is a local notification raised for a message outside the active group.
type Alert struct {
	GroupID    string    `json:"groupId"`
	GroupName  string    `json:"groupName"`
	MessageID  string    `json:"messageId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}
