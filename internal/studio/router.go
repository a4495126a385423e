package studio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soundstage-io/soundstage-backend/internal/logging"
	"github.com/soundstage-io/soundstage-backend/internal/metrics"
	"github.com/soundstage-io/soundstage-backend/internal/protocol"
	"github.com/soundstage-io/soundstage-backend/internal/storage"
)

// Router dispatches parsed client messages to the right session: durable
// mutations go through the document merge, ephemeral events go straight to
// fan-out, and join requests go through session-code validation first.
type Router struct {
	registry *Registry
	sessions storage.SessionStore
	comments storage.CommentStore
	logger   logging.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	members map[Connection]*membership
}

type membership struct {
	session *Session
	user    protocol.User
}

// NewRouter creates a router over the given registry and stores.
func NewRouter(registry *Registry, sessions storage.SessionStore, comments storage.CommentStore, logger logging.Logger, m *metrics.Metrics) *Router {
	return &Router{
		registry: registry,
		sessions: sessions,
		comments: comments,
		logger:   logger,
		metrics:  m,
		members:  make(map[Connection]*membership),
	}
}

// HandleMessage processes one inbound frame from a connection. Protocol and
// validation failures are reported to the offending client only; the
// connection stays open and usable.
func (rt *Router) HandleMessage(ctx context.Context, conn Connection, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		rt.sendError(conn, "malformed message")
		return
	}
	if err := msg.Validate(); err != nil {
		rt.sendError(conn, err.Error())
		return
	}

	if rt.metrics != nil {
		rt.metrics.Messages.WithLabelValues(msg.Type, "in").Inc()
	}

	if msg.Type == protocol.TypeJoinSession {
		rt.handleJoin(ctx, conn, msg)
		return
	}

	member := rt.member(conn)
	if member == nil {
		rt.sendError(conn, "not joined to a session")
		return
	}

	switch msg.Type {
	case protocol.TypeSyncUpdate:
		rt.handleSyncUpdate(conn, member, msg)
	case protocol.TypeTrackControl:
		// Ephemeral: never merged into the document, forwarded verbatim to
		// the rest of the session.
		member.session.BroadcastExcept(conn, data)
	case protocol.TypeTrackComment:
		rt.handleTrackComment(ctx, conn, member, msg)
	case protocol.TypeChatMessage:
		rt.handleChat(conn, member, msg)
	}
}

// HandleDisconnect detaches a closed connection, announces the departure, and
// lets the registry garbage-collect an emptied session.
func (rt *Router) HandleDisconnect(conn Connection) {
	rt.mu.Lock()
	member, ok := rt.members[conn]
	if ok {
		delete(rt.members, conn)
	}
	rt.mu.Unlock()

	if !ok {
		return
	}

	user, removed := rt.registry.RemoveConnection(member.session.ID(), conn)
	if !removed {
		return
	}
	if frame, err := protocol.NewUserLeft(user).Encode(); err == nil {
		member.session.BroadcastAll(frame)
	}

	rt.logger.WithFields(logging.Fields{
		"session": member.session.ID(),
		"userId":  user.UserID,
	}).Info("Collaborator left session")

	if rt.metrics != nil {
		_, connections := rt.registry.Stats()
		rt.metrics.ActiveConnections.Set(float64(connections))
	}
}

func (rt *Router) handleJoin(ctx context.Context, conn Connection, msg *protocol.Message) {
	if rt.member(conn) != nil {
		rt.sendError(conn, "already joined a session")
		return
	}

	if _, err := rt.sessions.ValidateSessionCode(ctx, msg.SessionID, msg.SessionCode); err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			rt.sendError(conn, "unknown session")
		case errors.Is(err, storage.ErrSessionNotLive):
			rt.sendError(conn, "session is not live")
		case errors.Is(err, storage.ErrInvalidSessionCode):
			rt.sendError(conn, "invalid session code")
		default:
			rt.logger.WithError(err).Error("Session validation failed")
			rt.sendError(conn, "session validation failed")
		}
		return
	}

	user := protocol.User{UserID: msg.UserID, Username: msg.Username}
	session, snapshot, peers, err := rt.registry.Join(msg.SessionID, conn, user)
	if err != nil {
		rt.logger.WithError(err).Error("Join failed")
		rt.sendError(conn, "failed to join session")
		return
	}

	rt.mu.Lock()
	rt.members[conn] = &membership{session: session, user: user}
	rt.mu.Unlock()

	rt.reply(conn, protocol.NewJoined(msg.SessionID, snapshot, peers))
	if frame, err := protocol.NewUserJoined(user).Encode(); err == nil {
		session.BroadcastExcept(conn, frame)
	}

	rt.logger.WithFields(logging.Fields{
		"session":  msg.SessionID,
		"userId":   user.UserID,
		"username": user.Username,
	}).Info("Collaborator joined session")

	if rt.metrics != nil {
		_, connections := rt.registry.Stats()
		rt.metrics.ActiveConnections.Set(float64(connections))
	}
}

func (rt *Router) handleSyncUpdate(conn Connection, member *membership, msg *protocol.Message) {
	rebroadcast := &protocol.Message{
		Type:   protocol.TypeSyncUpdate,
		UserID: member.user.UserID,
		Update: msg.Update,
	}
	frame, err := rebroadcast.Encode()
	if err != nil {
		rt.logger.WithError(err).Error("Failed to encode sync-update rebroadcast")
		return
	}

	if err := member.session.MergeAndBroadcast(conn, msg.Update, frame); err != nil {
		rt.sendError(conn, "invalid sync update")
	}
}

func (rt *Router) handleTrackComment(ctx context.Context, conn Connection, member *membership, msg *protocol.Message) {
	comment, err := rt.comments.PersistComment(ctx, msg.TrackID, msg.UserID, msg.Content, msg.Timestamp)
	if err != nil {
		// A comment that failed to persist is never broadcast; the submitter
		// is told instead of the event vanishing.
		rt.logger.WithError(err).WithField("trackId", msg.TrackID).Error("Comment persistence failed")
		rt.sendError(conn, "failed to save comment")
		return
	}

	frame, err := protocol.NewComment(comment).Encode()
	if err != nil {
		rt.logger.WithError(err).Error("Failed to encode comment broadcast")
		return
	}
	// Includes the sender: delivery is the durability confirmation.
	member.session.BroadcastAll(frame)
}

func (rt *Router) handleChat(conn Connection, member *membership, msg *protocol.Message) {
	stamped := &protocol.Message{
		Type:     protocol.TypeChatMessage,
		UserID:   member.user.UserID,
		Username: member.user.Username,
		Message:  msg.Message,
		SentAt:   time.Now().UnixMilli(),
	}
	frame, err := stamped.Encode()
	if err != nil {
		rt.logger.WithError(err).Error("Failed to encode chat broadcast")
		return
	}
	member.session.BroadcastAll(frame)
}

func (rt *Router) member(conn Connection) *membership {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.members[conn]
}

func (rt *Router) reply(conn Connection, msg *protocol.Message) {
	frame, err := msg.Encode()
	if err != nil {
		rt.logger.WithError(err).Error("Failed to encode reply")
		return
	}
	if rt.metrics != nil {
		rt.metrics.Messages.WithLabelValues(msg.Type, "out").Inc()
	}
	if err := conn.Send(frame); err != nil && rt.metrics != nil {
		rt.metrics.BroadcastDrops.Inc()
	}
}

func (rt *Router) sendError(conn Connection, text string) {
	rt.reply(conn, protocol.NewError(text))
}
