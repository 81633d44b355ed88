package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chatsync/server/chatsync/domain"
	"chatsync/server/chatsync/engine"
	"chatsync/server/chatsync/service"
	commonauth "chatsync/server/common/auth"
	"chatsync/server/common/infra/backend"
	commonlog "chatsync/server/common/log"
	"chatsync/server/common/middleware"
	"chatsync/server/common/transport/httpresp"
)

const maxUploadMemory = 8 << 20

type attachmentUploader interface {
	Upload(ctx context.Context, groupID, fileName, contentType string, r io.Reader) (domain.Attachment, error)
}

// Handler exposes one engine session to local UI consumers.
type Handler struct {
	engine       *engine.Engine
	uploads      attachmentUploader
	auth         *commonauth.Service
	sessionToken func() string
}

func NewHandler(e *engine.Engine, uploads attachmentUploader, auth *commonauth.Service, sessionToken func() string) *Handler {
	return &Handler{engine: e, uploads: uploads, auth: auth, sessionToken: sessionToken}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, NewHealthResponse("ok")) })
	r.POST("/api/v1/auth/token", h.issueToken)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth), middleware.RequireUser(h.engine.UserID()))
	{
		api.GET("/session", h.getSession)
		api.POST("/session/connect", h.connect)
		api.POST("/session/disconnect", h.disconnect)

		api.GET("/groups", h.listGroups)
		api.POST("/groups", h.createGroup)
		api.POST("/groups/refresh", h.refreshGroups)
		api.PUT("/groups/active", h.setActiveGroup)
		api.DELETE("/groups/active", h.clearActiveGroup)
		api.GET("/groups/:id/messages", h.listMessages)
		api.POST("/groups/:id/messages/load", h.loadMessages)
		api.POST("/groups/:id/messages", h.sendMessage)
		api.POST("/groups/:id/read", h.markRead)
		api.POST("/groups/:id/attachments", h.uploadAttachment)
		api.POST("/groups/:id/open", h.openGroup)
		api.GET("/groups/:id/presence", h.groupPresence)
		api.GET("/groups/:id/typing", h.listTyping)
		api.POST("/groups/:id/typing", h.sendTyping)

		api.PUT("/messages/:id", h.editMessage)
		api.DELETE("/messages/:id", h.deleteMessage)

		api.GET("/presence", h.presence)

		api.GET("/push", h.pushState)
		api.POST("/push/enable", h.enablePush)
		api.POST("/push/disable", h.disablePush)
	}
}

// issueToken trades the backend session token for a local API token.
func (h *Handler) issueToken(c *gin.Context) {
	var req struct {
		SessionToken string `json:"session_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrInvalidRequest))
		return
	}
	current := ""
	if h.sessionToken != nil {
		current = h.sessionToken()
	}
	if current == "" || subtle.ConstantTimeCompare([]byte(current), []byte(strings.TrimSpace(req.SessionToken))) != 1 {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(httpresp.ErrInvalidToken))
		return
	}
	if _, err := commonauth.InspectSessionToken(current, h.engine.UserID(), time.Now()); err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return
	}
	token, err := h.auth.GenerateToken(h.engine.UserID(), "owner")
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewTokenResponse(token, h.engine.UserID()))
}

func (h *Handler) session() SessionResponse {
	state := h.engine.State()
	return SessionResponse{
		UserID:        h.engine.UserID(),
		State:         state,
		Connected:     state == engine.StateConnected,
		ActiveGroupID: h.engine.ActiveGroup(),
	}
}

func (h *Handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session())
}

func (h *Handler) connect(c *gin.Context) {
	if !h.engine.Start(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, h.session())
		return
	}
	c.JSON(http.StatusOK, h.session())
}

func (h *Handler) disconnect(c *gin.Context) {
	h.engine.Disconnect()
	c.JSON(http.StatusOK, h.session())
}

func (h *Handler) listGroups(c *gin.Context) {
	c.JSON(http.StatusOK, NewItemsResponse(h.engine.Groups()))
}

func (h *Handler) createGroup(c *gin.Context) {
	var req domain.CreateGroupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrInvalidRequest))
		return
	}
	group, err := h.engine.CreateGroup(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (h *Handler) refreshGroups(c *gin.Context) {
	if err := h.engine.RefreshGroups(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewItemsResponse(h.engine.Groups()))
}

func (h *Handler) setActiveGroup(c *gin.Context) {
	var req struct {
		GroupID string `json:"group_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrInvalidRequest))
		return
	}
	if err := h.engine.SetActiveGroup(c.Request.Context(), strings.TrimSpace(req.GroupID)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session())
}

func (h *Handler) clearActiveGroup(c *gin.Context) {
	if err := h.engine.SetActiveGroup(c.Request.Context(), ""); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session())
}

func (h *Handler) listMessages(c *gin.Context) {
	c.JSON(http.StatusOK, NewItemsResponse(h.engine.Messages(c.Param("id"))))
}

func (h *Handler) loadMessages(c *gin.Context) {
	var req struct {
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrInvalidRequest))
			return
		}
	}
	groupID := c.Param("id")
	if err := h.engine.LoadMessages(c.Request.Context(), groupID, req.Page, req.PageSize); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewItemsResponse(h.engine.Messages(groupID)))
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req struct {
		Content     string              `json:"content"`
		Attachments []domain.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrInvalidRequest))
		return
	}
	msg, err := h.engine.SendMessage(c.Request.Context(), c.Param("id"), req.Content, req.Attachments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) markRead(c *gin.Context) {
	var req struct {
		MessageID string `json:"message_id"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrInvalidRequest))
			return
		}
	}
	if err := h.engine.MarkAsRead(c.Request.Context(), c.Param("id"), req.MessageID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) uploadAttachment(c *gin.Context) {
	if h.uploads == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(httpresp.ErrUploadUnavailable))
		return
	}
	groupID := c.Param("id")
	if _, ok := h.engine.Group(groupID); !ok {
		c.JSON(http.StatusNotFound, NewErrorResponse(httpresp.ErrGroupNotFound))
		return
	}
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrFileRequired))
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrFileRequired))
		return
	}
	defer file.Close()

	att, err := h.uploads.Upload(c.Request.Context(), groupID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		commonlog.Errorf("event=chatsync_api action=upload status=failed group_id=%s file=%q error=%v", groupID, header.Filename, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, att)
}

func (h *Handler) openGroup(c *gin.Context) {
	if err := h.engine.OpenAlert(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session())
}

func (h *Handler) groupPresence(c *gin.Context) {
	groupID := c.Param("id")
	c.JSON(http.StatusOK, NewPresenceResponse(groupID, h.engine.GroupOnline(groupID)))
}

func (h *Handler) listTyping(c *gin.Context) {
	c.JSON(http.StatusOK, NewItemsResponse(h.engine.TypingUsers(c.Param("id"))))
}

func (h *Handler) sendTyping(c *gin.Context) {
	var req struct {
		IsTyping *bool `json:"is_typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrInvalidRequest))
		return
	}
	if err := h.engine.SendTyping(c.Request.Context(), c.Param("id"), *req.IsTyping); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) editMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(httpresp.ErrInvalidRequest))
		return
	}
	msg, err := h.engine.EditMessage(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.engine.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) presence(c *gin.Context) {
	c.JSON(http.StatusOK, NewPresenceResponse("", h.engine.OnlineUsers()))
}

func (h *Handler) pushState(c *gin.Context) {
	state, err := h.engine.RefreshPushState(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, PushResponse{State: state})
}

func (h *Handler) enablePush(c *gin.Context) {
	state, err := h.engine.EnableWebPush(c.Request.Context())
	if err != nil {
		writeErrorWith(c, err, PushResponse{State: state})
		return
	}
	c.JSON(http.StatusOK, PushResponse{State: state})
}

func (h *Handler) disablePush(c *gin.Context) {
	state, err := h.engine.DisableWebPush(c.Request.Context())
	if err != nil {
		writeErrorWith(c, err, PushResponse{State: state})
		return
	}
	c.JSON(http.StatusOK, PushResponse{State: state})
}

type pushErrorResponse struct {
	Error string           `json:"error"`
	State domain.PushState `json:"state"`
}

func writeErrorWith(c *gin.Context, err error, push PushResponse) {
	status, message := classify(err)
	c.JSON(status, pushErrorResponse{Error: message, State: push.State})
}

func writeError(c *gin.Context, err error) {
	status, message := classify(err)
	c.JSON(status, NewErrorResponse(message))
}

func classify(err error) (int, string) {
	var statusErr *backend.StatusError
	switch {
	case errors.Is(err, engine.ErrNotConnected):
		return http.StatusConflict, httpresp.ErrNotConnected
	case errors.Is(err, engine.ErrGroupNotFound):
		return http.StatusNotFound, httpresp.ErrGroupNotFound
	case errors.Is(err, engine.ErrMessageNotFound):
		return http.StatusNotFound, httpresp.ErrMessageNotFound
	case errors.Is(err, engine.ErrEmptyMessage):
		return http.StatusBadRequest, httpresp.ErrEmptyMessage
	case errors.Is(err, engine.ErrInvalidGroup):
		return http.StatusBadRequest, httpresp.ErrInvalidGroup
	case errors.Is(err, engine.ErrSuperseded):
		return http.StatusConflict, httpresp.ErrSuperseded
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusConflict, httpresp.ErrSessionClosed
	case errors.Is(err, engine.ErrPushUnsupported):
		return http.StatusNotImplemented, httpresp.ErrPushUnsupported
	case errors.Is(err, engine.ErrPushDenied):
		return http.StatusForbidden, httpresp.ErrPushDenied
	case errors.Is(err, service.ErrAttachmentTooLarge):
		return http.StatusBadRequest, service.ErrAttachmentTooLarge.Error()
	case errors.Is(err, service.ErrAttachmentEmpty):
		return http.StatusBadRequest, service.ErrAttachmentEmpty.Error()
	case errors.Is(err, service.ErrAttachmentRead):
		return http.StatusBadRequest, httpresp.ErrFileRequired
	case errors.Is(err, service.ErrAttachmentStorage):
		return http.StatusBadGateway, httpresp.ErrStorageFailed
	case errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError:
		if statusErr.Message != "" {
			return statusErr.StatusCode, statusErr.Message
		}
		return statusErr.StatusCode, http.StatusText(statusErr.StatusCode)
	default:
		return http.StatusBadGateway, httpresp.ErrBackendUnavailable
	}
}
