package domain

import "time"

type GroupType string
type MemberRole string

const (
	GroupTypeProject      GroupType = "PROJECT"
	GroupTypeProviderOnly GroupType = "PROVIDER_ONLY"
	GroupTypeDirect       GroupType = "DIRECT"
)

const (
	MemberRoleOwner    MemberRole = "OWNER"
	MemberRoleAdmin    MemberRole = "ADMIN"
	MemberRoleMember   MemberRole = "MEMBER"
	MemberRoleProvider MemberRole = "PROVIDER"
)

func (t GroupType) Valid() bool {
	switch t {
	case GroupTypeProject, GroupTypeProviderOnly, GroupTypeDirect:
		return true
	default:
		return false
	}
}

type User struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
}

type UserProfile struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
}

// GroupMember.IsOnline is derived from the global presence set and is never
// taken from the backend payload as authoritative.
type GroupMember struct {
	ID       string      `json:"id"`
	UserID   string      `json:"userId"`
	User     UserProfile `json:"user"`
	Role     MemberRole  `json:"role"`
	IsOnline bool        `json:"isOnline"`
	LastSeen *time.Time  `json:"lastSeen,omitempty"`
}

type LastMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"isRead"`
}

type ChatGroup struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        GroupType     `json:"type"`
	ProjectID   *string       `json:"projectId,omitempty"`
	Members     []GroupMember `json:"members"`
	LastMessage *LastMessage  `json:"lastMessage,omitempty"`
	UnreadCount int           `json:"unreadCount"`
	CreatedAt   time.Time     `json:"createdAt"`
}

type Attachment struct {
	ID           string `json:"id"`
	FileName     string `json:"fileName"`
	URL          string `json:"url,omitempty"`
	ObjectKey    string `json:"objectKey,omitempty"`
	ContentType  string `json:"contentType"`
	SizeBytes    int64  `json:"sizeBytes"`
	ThumbnailKey string `json:"thumbnailKey,omitempty"`
}

type ChatMessage struct {
	ID              string       `json:"id"`
	GroupID         string       `json:"groupId"`
	SenderID        string       `json:"senderId"`
	SenderName      string       `json:"senderName"`
	SenderAvatar    *string      `json:"senderAvatar,omitempty"`
	Content         string       `json:"content"`
	OriginalContent *string      `json:"originalContent,omitempty"`
	IsCensored      bool         `json:"isCensored"`
	Attachments     []Attachment `json:"attachments"`
	Timestamp       time.Time    `json:"timestamp"`
	IsRead          bool         `json:"isRead"`
	ReadBy          []string     `json:"readBy"`
	EditedAt        *time.Time   `json:"editedAt,omitempty"`
	ReplyTo         *string      `json:"replyTo,omitempty"`
}

// Summary is the denormalized LastMessage form of m.
func (m ChatMessage) Summary() *LastMessage {
	return &LastMessage{
		ID:        m.ID,
		Content:   m.Content,
		SenderID:  m.SenderID,
		Timestamp: m.Timestamp,
		IsRead:    m.IsRead,
	}
}

type TypingUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	GroupID  string `json:"groupId"`
}

type CreateGroupInput struct {
	Name           string    `json:"name"`
	Type           GroupType `json:"type"`
	ProjectID      *string   `json:"projectId,omitempty"`
	ParticipantIDs []string  `json:"participantIds"`
}
