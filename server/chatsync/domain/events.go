package domain

// Event is the closed set of inbound transport events. Only types in this
// package implement it.
type Event interface {
	EventName() string
	isEvent()
}

const (
	EventConnected         = "connected"
	EventDisconnected      = "disconnected"
	EventOnlineUsersHere   = "onlineUsersHere"
	EventUserOnline        = "userOnline"
	EventUserOffline       = "userOffline"
	EventGroupPresenceHere = "groupPresenceHere"
	EventGroupUserOnline   = "groupUserOnline"
	EventGroupUserOffline  = "groupUserOffline"
	EventMessage           = "message"
	EventMessageUpdated    = "messageUpdated"
	EventUserJoined        = "userJoined"
	EventUserLeft          = "userLeft"
	EventGroupCreated      = "groupCreated"
	EventUserTyping        = "userTyping"
)

type Connected struct{}

type Disconnected struct {
	Reason string `json:"reason,omitempty"`
}

type OnlineUsersHere struct {
	Users []User
}

type UserOnline struct {
	User User
}

type UserOffline struct {
	User User
}

type GroupPresenceHere struct {
	GroupID string `json:"groupId"`
	Users   []User `json:"users"`
}

type GroupUserOnline struct {
	GroupID string `json:"groupId"`
	User    User   `json:"user"`
}

type GroupUserOffline struct {
	GroupID string `json:"groupId"`
	User    User   `json:"user"`
}

type MessageReceived struct {
	Message ChatMessage
}

type MessageUpdated struct {
	Message ChatMessage
}

type UserJoined struct {
	GroupID string      `json:"groupId"`
	User    GroupMember `json:"user"`
}

type UserLeft struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type GroupCreated struct {
	Group ChatGroup
}

type UserTyping struct {
	GroupID  string `json:"groupId"`
	User     User   `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

func (Connected) EventName() string         { return EventConnected }
func (Disconnected) EventName() string      { return EventDisconnected }
func (OnlineUsersHere) EventName() string   { return EventOnlineUsersHere }
func (UserOnline) EventName() string        { return EventUserOnline }
func (UserOffline) EventName() string       { return EventUserOffline }
func (GroupPresenceHere) EventName() string { return EventGroupPresenceHere }
func (GroupUserOnline) EventName() string   { return EventGroupUserOnline }
func (GroupUserOffline) EventName() string  { return EventGroupUserOffline }
func (MessageReceived) EventName() string   { return EventMessage }
func (MessageUpdated) EventName() string    { return EventMessageUpdated }
func (UserJoined) EventName() string        { return EventUserJoined }
func (UserLeft) EventName() string          { return EventUserLeft }
func (GroupCreated) EventName() string      { return EventGroupCreated }
func (UserTyping) EventName() string        { return EventUserTyping }

func (Connected) isEvent()         {}
func (Disconnected) isEvent()      {}
func (OnlineUsersHere) isEvent()   {}
func (UserOnline) isEvent()        {}
func (UserOffline) isEvent()       {}
func (GroupPresenceHere) isEvent() {}
func (GroupUserOnline) isEvent()   {}
func (GroupUserOffline) isEvent()  {}
func (MessageReceived) isEvent()   {}
func (MessageUpdated) isEvent()    {}
func (UserJoined) isEvent()        {}
func (UserLeft) isEvent()          {}
func (GroupCreated) isEvent()      {}
func (UserTyping) isEvent()        {}
