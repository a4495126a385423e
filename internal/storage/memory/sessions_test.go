package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundstage-io/soundstage-backend/internal/storage"
)

func TestSessionStore_CreateAndValidate(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	created, err := store.CreateSession(ctx, "owner-1", "Night Drive", "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", created.JoinCode)
	assert.True(t, created.Live)

	session, err := store.ValidateSessionCode(ctx, created.ID, "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, created.ID, session.ID)
	assert.Equal(t, "owner-1", session.OwnerID)

	// The stored record never exposes the plain code.
	stored, err := store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.JoinCode)
	assert.NotEmpty(t, stored.CodeHash)
}

func TestSessionStore_ValidateErrors(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	created, err := store.CreateSession(ctx, "owner-1", "Night Drive", "AB12CD")
	require.NoError(t, err)

	_, err = store.ValidateSessionCode(ctx, 999, "AB12CD")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	_, err = store.ValidateSessionCode(ctx, created.ID, "WRONG1")
	assert.ErrorIs(t, err, storage.ErrInvalidSessionCode)

	require.NoError(t, store.EndSession(ctx, created.ID))
	_, err = store.ValidateSessionCode(ctx, created.ID, "AB12CD")
	assert.ErrorIs(t, err, storage.ErrSessionNotLive)
}

func TestCommentStore_Persist(t *testing.T) {
	store := NewCommentStore()
	ctx := context.Background()

	comment, err := store.PersistComment(ctx, "track-1", "u1", "more reverb on the snare", 42.5)
	require.NoError(t, err)
	assert.NotEmpty(t, comment.ID)
	assert.Positive(t, comment.CreatedAt)

	comments := store.GetComments("track-1")
	require.Len(t, comments, 1)
	assert.Equal(t, "more reverb on the snare", comments[0].Content)
	assert.Equal(t, 42.5, comments[0].Timestamp)
}
