package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/server/chatsync/domain"
	"chatsync/server/common/infra/backend"
)

type recordedRequest struct {
	method string
	uri    string
	body   string
}

func newBackend(t *testing.T, reply func(w http.ResponseWriter, r *http.Request)) (*BackendClient, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, recordedRequest{method: r.Method, uri: r.URL.RequestURI(), body: string(body)})
		reply(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewBackendClient(backend.NewClient([]string{srv.URL})), &seen
}

func TestBackendClientRoutes(t *testing.T) {
	c, seen := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/chat/groups":
			_, _ = w.Write([]byte(`[{"id":"g1","name":"General","type":"PROJECT","members":[]}]`))
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":"m1","groupId":"g1","content":"hi"}]`))
		case r.Method == http.MethodPut:
			_, _ = w.Write([]byte(`{"id":"m1","groupId":"g1","content":"edited"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/chat/groups":
			_, _ = w.Write([]byte(`{"id":"g2","name":"New","type":"DIRECT","members":[]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/chat/groups/g1/messages":
			_, _ = w.Write([]byte(`{"id":"m2","groupId":"g1","content":"hello"}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	groups, err := c.GetChatGroups(ctx)
	require.NoError(t, err)
	require.Equal(t, "General", groups[0].Name)

	msgs, err := c.GetChatMessages(ctx, "g1", 2, 25)
	require.NoError(t, err)
	require.Equal(t, "m1", msgs[0].ID)

	created, err := c.CreateChatGroup(ctx, domain.CreateGroupInput{Name: "New", Type: domain.GroupTypeDirect})
	require.NoError(t, err)
	require.Equal(t, "g2", created.ID)

	edited, err := c.EditChatMessage(ctx, "m1", "edited")
	require.NoError(t, err)
	require.Equal(t, "edited", edited.Content)

	require.NoError(t, c.DeleteChatMessage(ctx, "m1"))
	require.NoError(t, c.MarkChatMessagesAsRead(ctx, "g1", "m1"))

	sent, err := c.SendChatMessage(ctx, "g1", "cid-1", "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "m2", sent.ID)

	got := *seen
	require.Len(t, got, 7)
	require.Equal(t, "GET /api/v1/chat/groups", got[0].method+" "+got[0].uri)
	require.Equal(t, "GET /api/v1/chat/groups/g1/messages?page=2&pageSize=25", got[1].method+" "+got[1].uri)
	require.JSONEq(t, `{"name":"New","type":"DIRECT","participantIds":[]}`, got[2].body)
	require.Equal(t, "PUT /api/v1/chat/messages/m1", got[3].method+" "+got[3].uri)
	require.JSONEq(t, `{"content":"edited"}`, got[3].body)
	require.Equal(t, "DELETE /api/v1/chat/messages/m1", got[4].method+" "+got[4].uri)
	require.Equal(t, "POST /api/v1/chat/groups/g1/read", got[5].method+" "+got[5].uri)
	require.JSONEq(t, `{"messageId":"m1"}`, got[5].body)

	var send map[string]any
	require.NoError(t, json.Unmarshal([]byte(got[6].body), &send))
	require.Equal(t, "cid-1", send["client_msg_id"])
	require.Equal(t, []any{}, send["attachments"])
}

func TestBackendClientSurfacesStatusErrors(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"not a member"}`))
	})

	_, err := c.EditChatMessage(context.Background(), "m1", "x")
	require.True(t, backend.IsStatus(err, http.StatusForbidden))
}
