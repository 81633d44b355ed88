package api

import (
	"chatsync/server/chatsync/domain"
	"chatsync/server/chatsync/engine"
	"chatsync/server/common/transport/httpresp"
)

type ErrorResponse = httpresp.ErrorResponse
type OKResponse = httpresp.OKResponse
type TokenResponse = httpresp.TokenResponse

type ItemsResponse[T any] struct {
	Items []T `json:"items"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type SessionResponse struct {
	UserID        string           `json:"user_id"`
	State         engine.ConnState `json:"state"`
	Connected     bool             `json:"connected"`
	ActiveGroupID string           `json:"active_group_id,omitempty"`
}

type PresenceResponse struct {
	GroupID string   `json:"group_id,omitempty"`
	Online  []string `json:"online"`
}

type PushResponse struct {
	State domain.PushState `json:"state"`
}

func NewItemsResponse[T any](items []T) ItemsResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ItemsResponse[T]{Items: items}
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}

func NewErrorResponse(message string) ErrorResponse {
	return httpresp.NewErrorResponse(message)
}

func NewOKResponse() OKResponse {
	return httpresp.NewOKResponse()
}

func NewPresenceResponse(groupID string, online []string) PresenceResponse {
	if online == nil {
		online = []string{}
	}
	return PresenceResponse{GroupID: groupID, Online: online}
}
