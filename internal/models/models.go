package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

type UserStatus string

const (
	UserStatusCreated UserStatus = "created"
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a user in the system.
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl"`
	Presence    Presence   `json:"presence"`
	Status      UserStatus `json:"status"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

// ChatMember is one entry in the server-pushed online roster.
// The roster is replaced wholesale on every push, entries are never
// mutated individually.
type ChatMember struct {
	UserID string `json:"userId"`
}

type FriendshipState string

const (
	FriendshipPending  FriendshipState = "pending"
	FriendshipAccepted FriendshipState = "accepted"
)

// Friendship links two users. Requester is the user who sent the request.
type Friendship struct {
	Requester string          `json:"requester"`
	Recipient string          `json:"recipient"`
	State     FriendshipState `json:"state"`
	CreatedAt int64           `json:"createdAt"`
}

// Conversation is a direct-message thread between two friends.
type Conversation struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LastSeq int64  `json:"lastSeq"` // last message sequence number (used for backfill)
	Online  bool   `json:"online,omitempty"`
}

// Message represents a single chat message.
type Message struct {
	Seq            int64  `json:"seq"`
	Timestamp      int64  `json:"timestamp"` // Unix timestamp (seconds)
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Content        string `json:"content"`
	HTML           string `json:"html,omitempty"` // server-rendered markdown
}

// ClientEvent is a message sent from the client to the server.
type ClientEvent struct {
	Type           ClientEventType `json:"type"`
	UserID         string          `json:"userId,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Content        string          `json:"content,omitempty"`
	Typing         bool            `json:"typing,omitempty"`
}

// ServerEvent is a message pushed from the server to the client.
type ServerEvent struct {
	Type           ServerEventType `json:"type"`
	Users          []ChatMember    `json:"users,omitempty"` // full roster, getUsers only
	ConversationID string          `json:"conversationId,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	Typing         bool            `json:"typing,omitempty"`
	Messages       []Message       `json:"messages,omitempty"`
}

type ClientEventType string

const (
	ClientEventAddUser  ClientEventType = "addUser"
	ClientEventSend     ClientEventType = "sendMessage"
	ClientEventTyping   ClientEventType = "typing"
	ClientEventMarkRead ClientEventType = "markRead"
)

type ServerEventType string

const (
	ServerEventGetUsers   ServerEventType = "getUsers"
	ServerEventNewMessage ServerEventType = "newMessage"
	ServerEventTyping     ServerEventType = "typing"
	ServerEventMarkRead   ServerEventType = "markRead"
)
