package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundstage-io/soundstage-backend/internal/crdt"
	"github.com/soundstage-io/soundstage-backend/internal/models"
	"github.com/soundstage-io/soundstage-backend/internal/protocol"
	"github.com/soundstage-io/soundstage-backend/internal/storage/memory"
)

type failingCommentStore struct{}

func (failingCommentStore) PersistComment(context.Context, string, string, string, float64) (*models.Comment, error) {
	return nil, errors.New("database unavailable")
}

type routerHarness struct {
	router   *Router
	registry *Registry
	sessions *memory.SessionStore
	comments *memory.CommentStore
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	logger := newTestLogger()
	registry := NewRegistry(logger, nil)
	sessions := memory.NewSessionStore()
	comments := memory.NewCommentStore()
	return &routerHarness{
		router:   NewRouter(registry, sessions, comments, logger, nil),
		registry: registry,
		sessions: sessions,
		comments: comments,
	}
}

// startLiveSession creates a live session record and returns its id and code.
func (h *routerHarness) startLiveSession(t *testing.T) (int64, string) {
	t.Helper()
	session, err := h.sessions.CreateSession(context.Background(), "owner", "Demo Project", "AB12CD")
	require.NoError(t, err)
	return session.ID, "AB12CD"
}

func (h *routerHarness) handle(t *testing.T, conn *mockConn, msg *protocol.Message) {
	t.Helper()
	frame, err := msg.Encode()
	require.NoError(t, err)
	h.router.HandleMessage(context.Background(), conn, frame)
}

func (h *routerHarness) join(t *testing.T, sessionID int64, code, userID, username string) *mockConn {
	t.Helper()
	conn := &mockConn{id: fmt.Sprintf("conn-%s", userID)}
	h.handle(t, conn, &protocol.Message{
		Type:        protocol.TypeJoinSession,
		SessionID:   sessionID,
		SessionCode: code,
		UserID:      userID,
		Username:    username,
	})
	require.Equal(t, protocol.TypeJoined, conn.lastMessage(t).Type)
	return conn
}

func TestRouter_JoinRepliesWithSnapshotAndPresence(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)

	connA := h.join(t, id, code, "u1", "ana")
	joined := connA.lastMessage(t)
	assert.Equal(t, id, joined.SessionID)
	assert.Empty(t, joined.Users)

	var snapshot crdt.Delta
	require.NoError(t, json.Unmarshal(joined.Update, &snapshot))
	assert.Empty(t, snapshot.Entries)

	connB := h.join(t, id, code, "u2", "ben")
	joinedB := connB.lastMessage(t)
	require.Len(t, joinedB.Users, 1)
	assert.Equal(t, "u1", joinedB.Users[0].UserID)

	// A hears about B; B does not hear about itself.
	notice := connA.lastMessage(t)
	assert.Equal(t, protocol.TypeUserJoined, notice.Type)
	assert.Equal(t, "u2", notice.UserID)
	assert.Equal(t, "ben", notice.Username)
}

func TestRouter_JoinRejections(t *testing.T) {
	tests := []struct {
		name      string
		sessionID int64
		code      string
		wantErr   string
	}{
		{name: "unknown session", sessionID: 999, code: "AB12CD", wantErr: "unknown session"},
		{name: "wrong code", sessionID: 0, code: "WRONG1", wantErr: "invalid session code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouterHarness(t)
			id, _ := h.startLiveSession(t)
			if tt.sessionID == 0 {
				tt.sessionID = id
			}

			conn := &mockConn{id: "conn-x"}
			h.handle(t, conn, &protocol.Message{
				Type:        protocol.TypeJoinSession,
				SessionID:   tt.sessionID,
				SessionCode: tt.code,
				UserID:      "u1",
				Username:    "ana",
			})

			reply := conn.lastMessage(t)
			assert.Equal(t, protocol.TypeError, reply.Type)
			assert.Equal(t, tt.wantErr, reply.Message)

			// No partial state: the rejected connection joined nothing.
			sessions, connections := h.registry.Stats()
			assert.Equal(t, 0, sessions)
			assert.Equal(t, 0, connections)
		})
	}
}

func TestRouter_JoinRejectedWhenSessionEnded(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)
	require.NoError(t, h.sessions.EndSession(context.Background(), id))

	conn := &mockConn{id: "conn-x"}
	h.handle(t, conn, &protocol.Message{
		Type:        protocol.TypeJoinSession,
		SessionID:   id,
		SessionCode: code,
		UserID:      "u1",
		Username:    "ana",
	})

	reply := conn.lastMessage(t)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, "session is not live", reply.Message)
}

func TestRouter_SyncUpdateMergesAndSkipsSender(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)
	connA := h.join(t, id, code, "u1", "ana")
	connB := h.join(t, id, code, "u2", "ben")
	framesBefore := len(connB.frames())

	writer := crdt.New("client-b")
	delta, err := writer.Set(crdt.RegionMixer, "1", "volume", 0.4)
	require.NoError(t, err)

	h.handle(t, connB, &protocol.Message{Type: protocol.TypeSyncUpdate, Update: delta})

	// The other member receives the same delta.
	forwarded := connA.lastMessage(t)
	assert.Equal(t, protocol.TypeSyncUpdate, forwarded.Type)
	assert.Equal(t, []byte(delta), forwarded.Update)
	assert.Equal(t, "u2", forwarded.UserID)

	// The sender gets no echo.
	assert.Len(t, connB.frames(), framesBefore)

	// The session document converged on the merged value.
	session, ok := h.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, 0.4, session.Document().Region(crdt.RegionMixer)["1"]["volume"])
}

func TestRouter_InvalidDeltaReturnsErrorWithoutBroadcast(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)
	connA := h.join(t, id, code, "u1", "ana")
	connB := h.join(t, id, code, "u2", "ben")
	framesA := len(connA.frames())

	h.handle(t, connB, &protocol.Message{Type: protocol.TypeSyncUpdate, Update: []byte("not a delta")})

	assert.Equal(t, "invalid sync update", connB.lastMessage(t).Message)
	assert.Len(t, connA.frames(), framesA)
}

func TestRouter_TrackControlForwardedVerbatim(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)
	connA := h.join(t, id, code, "u1", "ana")
	connB := h.join(t, id, code, "u2", "ben")
	framesA := len(connA.frames())

	control := &protocol.Message{Type: protocol.TypeTrackControl, Action: "play", TrackID: "0", Position: 12.5, UserID: "u1"}
	raw, err := control.Encode()
	require.NoError(t, err)
	h.router.HandleMessage(context.Background(), connA, raw)

	// Forwarded byte-for-byte to the rest of the session, no echo, no merge.
	frames := connB.frames()
	require.NotEmpty(t, frames)
	assert.Equal(t, raw, frames[len(frames)-1])
	assert.Len(t, connA.frames(), framesA)

	session, ok := h.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, 0, session.Document().Len())
}

func TestRouter_TrackCommentEchoesPersistedRecord(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)
	connA := h.join(t, id, code, "u1", "ana")
	connB := h.join(t, id, code, "u2", "ben")

	h.handle(t, connA, &protocol.Message{
		Type:      protocol.TypeTrackComment,
		TrackID:   "1",
		UserID:    "u1",
		Content:   "tighten the kick here",
		Timestamp: 31.2,
	})

	// Both members receive the persisted record, including the sender: the
	// broadcast is the durability confirmation.
	for _, conn := range []*mockConn{connA, connB} {
		msg := conn.lastMessage(t)
		require.Equal(t, protocol.TypeTrackComment, msg.Type)
		require.NotNil(t, msg.Comment)
		assert.NotEmpty(t, msg.Comment.ID)
		assert.Equal(t, "tighten the kick here", msg.Comment.Content)
		assert.Equal(t, 31.2, msg.Comment.Timestamp)
	}

	require.Len(t, h.comments.GetComments("1"), 1)
}

func TestRouter_TrackCommentPersistenceFailure(t *testing.T) {
	h := newRouterHarness(t)
	h.router.comments = failingCommentStore{}
	id, code := h.startLiveSession(t)
	connA := h.join(t, id, code, "u1", "ana")
	connB := h.join(t, id, code, "u2", "ben")
	framesB := len(connB.frames())

	h.handle(t, connA, &protocol.Message{
		Type:      protocol.TypeTrackComment,
		TrackID:   "1",
		UserID:    "u1",
		Content:   "lost comment",
		Timestamp: 5.0,
	})

	// The comment is never broadcast; the submitter gets an error instead
	// of the original silent drop.
	reply := connA.lastMessage(t)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, "failed to save comment", reply.Message)
	assert.Len(t, connB.frames(), framesB)
}

func TestRouter_ChatStampedAndEchoed(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)
	connA := h.join(t, id, code, "u1", "ana")
	connB := h.join(t, id, code, "u2", "ben")

	h.handle(t, connA, &protocol.Message{Type: protocol.TypeChatMessage, UserID: "u1", Message: "sounding great"})

	for _, conn := range []*mockConn{connA, connB} {
		msg := conn.lastMessage(t)
		require.Equal(t, protocol.TypeChatMessage, msg.Type)
		assert.Equal(t, "sounding great", msg.Message)
		assert.Equal(t, "ana", msg.Username)
		assert.Positive(t, msg.SentAt)
	}
}

func TestRouter_SessionIsolation(t *testing.T) {
	h := newRouterHarness(t)
	idA, codeA := h.startLiveSession(t)
	sessionB, err := h.sessions.CreateSession(context.Background(), "owner2", "Other Project", "ZZ99XX")
	require.NoError(t, err)

	connA := h.join(t, idA, codeA, "u1", "ana")
	connOther := h.join(t, sessionB.ID, "ZZ99XX", "u3", "cleo")
	framesOther := len(connOther.frames())

	writer := crdt.New("client-a")
	delta, err := writer.Set(crdt.RegionMixer, "1", "volume", 0.9)
	require.NoError(t, err)
	h.handle(t, connA, &protocol.Message{Type: protocol.TypeSyncUpdate, Update: delta})
	h.handle(t, connA, &protocol.Message{Type: protocol.TypeChatMessage, UserID: "u1", Message: "hi"})
	h.handle(t, connA, &protocol.Message{Type: protocol.TypeTrackControl, Action: "stop", TrackID: "1", UserID: "u1"})

	// Nothing from session A reaches a member of session B.
	assert.Len(t, connOther.frames(), framesOther)
}

func TestRouter_RequiresJoinBeforeOtherMessages(t *testing.T) {
	h := newRouterHarness(t)
	conn := &mockConn{id: "conn-x"}

	h.handle(t, conn, &protocol.Message{Type: protocol.TypeChatMessage, UserID: "u1", Message: "hello?"})

	reply := conn.lastMessage(t)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, "not joined to a session", reply.Message)
}

func TestRouter_MalformedAndUnknownFrames(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)
	conn := h.join(t, id, code, "u1", "ana")

	h.router.HandleMessage(context.Background(), conn, []byte("{{{"))
	assert.Equal(t, "malformed message", conn.lastMessage(t).Message)

	h.handle(t, conn, &protocol.Message{Type: "teleport"})
	assert.Contains(t, conn.lastMessage(t).Message, "unknown message type")

	// The connection stays usable after protocol errors.
	h.handle(t, conn, &protocol.Message{Type: protocol.TypeChatMessage, UserID: "u1", Message: "still here"})
	assert.Equal(t, protocol.TypeChatMessage, conn.lastMessage(t).Type)
}

func TestRouter_DoubleJoinRejected(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)
	conn := h.join(t, id, code, "u1", "ana")

	h.handle(t, conn, &protocol.Message{
		Type:        protocol.TypeJoinSession,
		SessionID:   id,
		SessionCode: code,
		UserID:      "u1",
		Username:    "ana",
	})
	assert.Equal(t, "already joined a session", conn.lastMessage(t).Message)
}

func TestRouter_DisconnectBroadcastsUserLeftAndCleansUp(t *testing.T) {
	h := newRouterHarness(t)
	id, code := h.startLiveSession(t)
	connA := h.join(t, id, code, "u1", "ana")
	connB := h.join(t, id, code, "u2", "ben")

	h.router.HandleDisconnect(connB)

	left := connA.lastMessage(t)
	assert.Equal(t, protocol.TypeUserLeft, left.Type)
	assert.Equal(t, "u2", left.UserID)

	h.router.HandleDisconnect(connA)
	sessions, _ := h.registry.Stats()
	assert.Equal(t, 0, sessions)

	// Disconnecting twice is harmless.
	h.router.HandleDisconnect(connA)
}
