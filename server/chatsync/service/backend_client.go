package service

import (
	"context"
	"net/url"
	"strconv"

	"chatsync/server/chatsync/domain"
	"chatsync/server/common/infra/backend"
)

const chatBasePath = "/api/v1/chat"

// BackendClient is the REST side of the chat backend. It implements
// engine.API and carries the send call used by WSTransport.
type BackendClient struct {
	client *backend.Client
}

func NewBackendClient(client *backend.Client) *BackendClient {
	return &BackendClient{client: client}
}

func (c *BackendClient) GetChatGroups(ctx context.Context) ([]domain.ChatGroup, error) {
	var out []domain.ChatGroup
	if err := c.client.Get(ctx, chatBasePath+"/groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BackendClient) CreateChatGroup(ctx context.Context, input domain.CreateGroupInput) (domain.ChatGroup, error) {
	if input.ParticipantIDs == nil {
		input.ParticipantIDs = []string{}
	}
	var out domain.ChatGroup
	if err := c.client.Post(ctx, chatBasePath+"/groups", input, &out); err != nil {
		return domain.ChatGroup{}, err
	}
	return out, nil
}

func (c *BackendClient) GetChatMessages(ctx context.Context, groupID string, page, pageSize int) ([]domain.ChatMessage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))
	var out []domain.ChatMessage
	if err := c.client.Get(ctx, chatBasePath+"/groups/"+url.PathEscape(groupID)+"/messages", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BackendClient) EditChatMessage(ctx context.Context, messageID, content string) (domain.ChatMessage, error) {
	payload := map[string]string{"content": content}
	var out domain.ChatMessage
	if err := c.client.Put(ctx, chatBasePath+"/messages/"+url.PathEscape(messageID), payload, &out); err != nil {
		return domain.ChatMessage{}, err
	}
	return out, nil
}

func (c *BackendClient) DeleteChatMessage(ctx context.Context, messageID string) error {
	return c.client.Delete(ctx, chatBasePath+"/messages/"+url.PathEscape(messageID))
}

func (c *BackendClient) MarkChatMessagesAsRead(ctx context.Context, groupID, messageID string) error {
	payload := map[string]string{}
	if messageID != "" {
		payload["messageId"] = messageID
	}
	return c.client.Post(ctx, chatBasePath+"/groups/"+url.PathEscape(groupID)+"/read", payload, nil)
}

type sendMessageRequest struct {
	ClientMsgID string              `json:"client_msg_id"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments"`
}

// SendChatMessage posts a message. clientMsgID lets the backend drop
// duplicates when a send is retried.
func (c *BackendClient) SendChatMessage(ctx context.Context, groupID, clientMsgID, content string, attachments []domain.Attachment) (domain.ChatMessage, error) {
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	payload := sendMessageRequest{ClientMsgID: clientMsgID, Content: content, Attachments: attachments}
	var out domain.ChatMessage
	if err := c.client.Post(ctx, chatBasePath+"/groups/"+url.PathEscape(groupID)+"/messages", payload, &out); err != nil {
		return domain.ChatMessage{}, err
	}
	return out, nil
}
