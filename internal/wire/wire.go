// Package wire defines the realtime event protocol shared by the session
// client and the relay: typed event names and the JSON envelope every frame
// travels in.
package wire

import (
	"encoding/json"
	"time"
)

// Event names. Room-scoped unless noted.
const (
	EventJoinRoom       = "joinRoom"
	EventJoinedRoom     = "joinedRoom"
	EventLeaveRoom      = "leaveRoom"
	EventLeftRoom       = "leftRoom"
	EventSendMessage    = "sendMessage"
	EventMessageSent    = "messageSent"
	EventNewMessage     = "newMessage"
	EventTyping         = "typing"
	EventUserTyping     = "userTyping"
	EventGetOnlineUsers = "getOnlineUsers"
	EventOnlineUsers    = "onlineUsers"
	EventUserJoinedRoom = "userJoinedRoom"
	EventUserLeftRoom   = "userLeftRoom"
	EventPing           = "ping"
	EventPong           = "pong"
	EventError          = "error"
)

// Envelope wraps every frame on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Message is one chat message in a room's append-only log.
type Message struct {
	ID        string    `json:"id"`
	RoomRef   string    `json:"roomRef"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomPayload carries a room reference for join/leave requests and acks.
type RoomPayload struct {
	RoomRef string `json:"roomRef"`
}

// SendMessagePayload is the client's send request. ClientRef correlates the
// messageSent acknowledgment with the originating call.
type SendMessagePayload struct {
	RoomRef   string `json:"roomRef"`
	Content   string `json:"content"`
	ClientRef string `json:"clientRef"`
}

// MessageSentPayload acknowledges a send back to the sender only.
type MessageSentPayload struct {
	ClientRef string `json:"clientRef"`
	MessageID string `json:"messageId"`
}

// TypingPayload is both the client's advisory signal and, with UserID set,
// the broadcast form.
type TypingPayload struct {
	RoomRef  string `json:"roomRef"`
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// PresencePayload announces a join or leave broadcast.
type PresencePayload struct {
	RoomRef string `json:"roomRef"`
	UserID  string `json:"userId"`
}

// OnlineUsersPayload is the presence snapshot for a room.
type OnlineUsersPayload struct {
	RoomRef string   `json:"roomRef"`
	Users   []string `json:"users"`
}

// ErrorPayload carries a server-side rejection. ClientRef is set when the
// error answers a correlated request.
type ErrorPayload struct {
	ClientRef string `json:"clientRef,omitempty"`
	Message   string `json:"message"`
}
