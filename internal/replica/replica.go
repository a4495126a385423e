package replica

import (
	"fmt"
	"sync"

	"github.com/soundstage-io/soundstage-backend/internal/crdt"
	"github.com/soundstage-io/soundstage-backend/internal/models"
	"github.com/soundstage-io/soundstage-backend/internal/protocol"
)

// Transport carries encoded frames to the server.
type Transport interface {
	Send(data []byte) error
}

// Handlers are the callbacks the UI layer registers for server events. Nil
// callbacks are skipped.
type Handlers struct {
	OnSyncUpdate   func(delta []byte)
	OnTrackControl func(action, trackID string, position float64, userID string)
	OnComment      func(comment models.Comment)
	OnChatMessage  func(userID, username, message string, sentAt int64)
	OnUserJoined   func(userID, username string)
	OnUserLeft     func(userID, username string)
	OnError        func(message string)
}

// ChatLine is one entry of the ephemeral chat log.
type ChatLine struct {
	UserID   string
	Username string
	Message  string
	SentAt   int64
}

// Replica is the client-side mirror of one studio session: a local copy of
// the replicated document plus the ephemeral view state (chat log, active
// collaborators). It issues protocol messages through the transport and
// consumes the server's replies and broadcasts.
type Replica struct {
	mu            sync.Mutex
	doc           *crdt.Document
	transport     Transport
	handlers      Handlers
	chat          []ChatLine
	collaborators map[string]string // userID -> username
	sessionID     int64
	userID        string
	username      string
	joined        bool
}

// New creates a replica. The actor id must be unique per client; it seeds
// the document's write tiebreak.
func New(actorID string, transport Transport, handlers Handlers) *Replica {
	return &Replica{
		doc:           crdt.New(actorID),
		transport:     transport,
		handlers:      handlers,
		collaborators: make(map[string]string),
	}
}

// Join asks the server to admit this client to a session.
func (r *Replica) Join(sessionID int64, code, userID, username string) error {
	r.mu.Lock()
	r.sessionID = sessionID
	r.userID = userID
	r.username = username
	r.mu.Unlock()

	return r.send(&protocol.Message{
		Type:        protocol.TypeJoinSession,
		SessionID:   sessionID,
		SessionCode: code,
		UserID:      userID,
		Username:    username,
	})
}

// HandleFrame consumes one server frame, updating local state and invoking
// the registered callbacks.
func (r *Replica) HandleFrame(data []byte) error {
	msg, err := protocol.Parse(data)
	if err != nil {
		return err
	}

	switch msg.Type {
	case protocol.TypeJoined:
		if len(msg.Update) > 0 {
			if err := r.doc.ApplyDelta(msg.Update); err != nil {
				return fmt.Errorf("apply bootstrap snapshot: %w", err)
			}
		}
		r.mu.Lock()
		r.joined = true
		for _, u := range msg.Users {
			r.collaborators[u.UserID] = u.Username
		}
		r.mu.Unlock()

	case protocol.TypeSyncUpdate:
		if err := r.doc.ApplyDelta(msg.Update); err != nil {
			return fmt.Errorf("apply delta: %w", err)
		}
		if r.handlers.OnSyncUpdate != nil {
			r.handlers.OnSyncUpdate(msg.Update)
		}

	case protocol.TypeTrackControl:
		if r.handlers.OnTrackControl != nil {
			r.handlers.OnTrackControl(msg.Action, msg.TrackID, msg.Position, msg.UserID)
		}

	case protocol.TypeTrackComment:
		if msg.Comment != nil && r.handlers.OnComment != nil {
			r.handlers.OnComment(*msg.Comment)
		}

	case protocol.TypeChatMessage:
		line := ChatLine{UserID: msg.UserID, Username: msg.Username, Message: msg.Message, SentAt: msg.SentAt}
		r.mu.Lock()
		r.chat = append(r.chat, line)
		r.mu.Unlock()
		if r.handlers.OnChatMessage != nil {
			r.handlers.OnChatMessage(line.UserID, line.Username, line.Message, line.SentAt)
		}

	case protocol.TypeUserJoined:
		r.mu.Lock()
		r.collaborators[msg.UserID] = msg.Username
		r.mu.Unlock()
		if r.handlers.OnUserJoined != nil {
			r.handlers.OnUserJoined(msg.UserID, msg.Username)
		}

	case protocol.TypeUserLeft:
		r.mu.Lock()
		delete(r.collaborators, msg.UserID)
		r.mu.Unlock()
		if r.handlers.OnUserLeft != nil {
			r.handlers.OnUserLeft(msg.UserID, msg.Username)
		}

	case protocol.TypeError:
		if r.handlers.OnError != nil {
			r.handlers.OnError(msg.Message)
		}

	default:
		return fmt.Errorf("unexpected server message type %q", msg.Type)
	}
	return nil
}

// UpdateTrack applies track field edits locally and sends the delta.
func (r *Replica) UpdateTrack(trackID string, fields map[string]interface{}) error {
	return r.updateRegion(crdt.RegionTracks, trackID, fields)
}

// UpdateMixer applies mixer field edits locally and sends the delta.
func (r *Replica) UpdateMixer(trackID string, fields map[string]interface{}) error {
	return r.updateRegion(crdt.RegionMixer, trackID, fields)
}

// UpdateMaster applies master bus edits locally and sends the delta.
func (r *Replica) UpdateMaster(fields map[string]interface{}) error {
	return r.updateRegion(crdt.RegionMaster, crdt.MasterKey, fields)
}

func (r *Replica) updateRegion(region, key string, fields map[string]interface{}) error {
	delta, err := r.doc.SetFields(region, key, fields)
	if err != nil {
		return err
	}
	return r.SendDelta(delta)
}

// SendDelta ships an already-encoded delta to the server.
func (r *Replica) SendDelta(delta []byte) error {
	return r.send(&protocol.Message{Type: protocol.TypeSyncUpdate, Update: delta})
}

// SendTrackControl issues an ephemeral transport-control event.
func (r *Replica) SendTrackControl(action, trackID string, position float64) error {
	return r.send(&protocol.Message{
		Type:     protocol.TypeTrackControl,
		Action:   action,
		TrackID:  trackID,
		Position: position,
		UserID:   r.userID,
	})
}

// SendComment submits a track comment for persistence and broadcast.
func (r *Replica) SendComment(trackID, content string, timestamp float64) error {
	return r.send(&protocol.Message{
		Type:      protocol.TypeTrackComment,
		TrackID:   trackID,
		UserID:    r.userID,
		Content:   content,
		Timestamp: timestamp,
	})
}

// SendChatMessage submits a chat line; the server stamps the timestamp.
func (r *Replica) SendChatMessage(message string) error {
	return r.send(&protocol.Message{
		Type:     protocol.TypeChatMessage,
		UserID:   r.userID,
		Username: r.username,
		Message:  message,
	})
}

func (r *Replica) send(msg *protocol.Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	return r.transport.Send(frame)
}

// Joined reports whether the server has admitted this replica.
func (r *Replica) Joined() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined
}

// Tracks returns the materialized tracks region.
func (r *Replica) Tracks() map[string]map[string]interface{} {
	return r.doc.Region(crdt.RegionTracks)
}

// Mixer returns the materialized mixer region.
func (r *Replica) Mixer() map[string]map[string]interface{} {
	return r.doc.Region(crdt.RegionMixer)
}

// Master returns the materialized master region.
func (r *Replica) Master() map[string]interface{} {
	return r.doc.Region(crdt.RegionMaster)[crdt.MasterKey]
}

// Chat returns a copy of the chat log, oldest first.
func (r *Replica) Chat() []ChatLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatLine, len(r.chat))
	copy(out, r.chat)
	return out
}

// Collaborators returns the active users as last observed via presence
// events.
func (r *Replica) Collaborators() []protocol.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.User, 0, len(r.collaborators))
	for id, name := range r.collaborators {
		out = append(out, protocol.User{UserID: id, Username: name})
	}
	return out
}
