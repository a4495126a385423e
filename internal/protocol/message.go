package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/soundstage-io/soundstage-backend/internal/models"
)

// Client -> server message types.
const (
	TypeJoinSession  = "join-session"
	TypeSyncUpdate   = "sync-update"
	TypeTrackControl = "track-control"
	TypeTrackComment = "track-comment"
	TypeChatMessage  = "chat-message"
)

// Server -> client message types.
const (
	TypeJoined     = "joined"
	TypeUserJoined = "user-joined"
	TypeUserLeft   = "user-left"
	TypeError      = "error"
)

// User identifies one collaborator for presence payloads.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Message is the self-describing envelope exchanged over the WebSocket.
// Fields are type-specific and omitted when unused. CRDT deltas and
// snapshots ride in Update as raw bytes (base64 in the JSON encoding).
type Message struct {
	Type        string          `json:"type"`
	SessionID   int64           `json:"sessionId,omitempty"`
	SessionCode string          `json:"sessionCode,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	Username    string          `json:"username,omitempty"`
	Update      []byte          `json:"update,omitempty"`
	Action      string          `json:"action,omitempty"`
	TrackID     string          `json:"trackId,omitempty"`
	Position    float64         `json:"position,omitempty"`
	Content     string          `json:"content,omitempty"`
	Timestamp   float64         `json:"timestamp,omitempty"`
	Message     string          `json:"message,omitempty"`
	SentAt      int64           `json:"sentAt,omitempty"`
	Comment     *models.Comment `json:"comment,omitempty"`
	Users       []User          `json:"users,omitempty"`
}

// Transport control actions accepted on track-control messages.
var controlActions = map[string]bool{
	"play":   true,
	"pause":  true,
	"stop":   true,
	"mute":   true,
	"unmute": true,
}

// Parse decodes an inbound frame into a Message.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message missing type")
	}
	return &msg, nil
}

// Validate checks the type-specific required fields of a client message.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeJoinSession:
		if m.SessionID == 0 {
			return fmt.Errorf("join-session requires sessionId")
		}
		if m.SessionCode == "" {
			return fmt.Errorf("join-session requires sessionCode")
		}
		if m.UserID == "" || m.Username == "" {
			return fmt.Errorf("join-session requires userId and username")
		}
	case TypeSyncUpdate:
		if len(m.Update) == 0 {
			return fmt.Errorf("sync-update requires update bytes")
		}
	case TypeTrackControl:
		if !controlActions[m.Action] {
			return fmt.Errorf("unsupported track-control action %q", m.Action)
		}
	case TypeTrackComment:
		if m.TrackID == "" || m.UserID == "" || m.Content == "" {
			return fmt.Errorf("track-comment requires trackId, userId, and content")
		}
	case TypeChatMessage:
		if m.UserID == "" || m.Message == "" {
			return fmt.Errorf("chat-message requires userId and message")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// Encode marshals a message for the wire.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// NewJoined builds the reply to a successful join: the full document
// snapshot plus the collaborators already in the session.
func NewJoined(sessionID int64, snapshot []byte, users []User) *Message {
	return &Message{Type: TypeJoined, SessionID: sessionID, Update: snapshot, Users: users}
}

// NewUserJoined announces a new collaborator to the rest of the session.
func NewUserJoined(user User) *Message {
	return &Message{Type: TypeUserJoined, UserID: user.UserID, Username: user.Username}
}

// NewUserLeft announces a departed collaborator.
func NewUserLeft(user User) *Message {
	return &Message{Type: TypeUserLeft, UserID: user.UserID, Username: user.Username}
}

// NewError builds an error reply for the offending client only.
func NewError(text string) *Message {
	return &Message{Type: TypeError, Message: text}
}

// NewComment wraps a persisted comment record for broadcast.
func NewComment(comment *models.Comment) *Message {
	return &Message{Type: TypeTrackComment, Comment: comment}
}
