package httpresp

const (
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
	ErrForbidden          = "forbidden"
	ErrInvalidRequest     = "invalid request body"
	ErrNotConnected       = "chat transport is not connected"
	ErrGroupNotFound      = "group not found"
	ErrMessageNotFound    = "message not found"
	ErrEmptyMessage       = "message content or attachment is required"
	ErrInvalidGroup       = "group name and a valid type are required"
	ErrSuperseded         = "request superseded by a newer one"
	ErrSessionClosed      = "chat session was closed"
	ErrPushUnsupported    = "web push is not supported"
	ErrPushDenied         = "web push permission denied"
	ErrUploadUnavailable  = "attachment storage is not configured"
	ErrStorageFailed      = "attachment storage failed"
	ErrFileRequired       = "file is required"
	ErrBackendUnavailable = "chat backend unavailable"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewTokenResponse(accessToken string, userID string) TokenResponse {
	return TokenResponse{AccessToken: accessToken, UserID: userID}
}
