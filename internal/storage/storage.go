package storage

import (
	"context"
	"errors"

	"github.com/soundstage-io/soundstage-backend/internal/models"
)

var (
	// ErrSessionNotFound is returned when no session record exists for an id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotLive is returned when the session record exists but the
	// live flag has been cleared.
	ErrSessionNotLive = errors.New("session is not live")

	// ErrInvalidSessionCode is returned when the join code does not match.
	ErrInvalidSessionCode = errors.New("invalid session code")
)

// SessionStore owns the durable session records. The synchronization engine
// only calls ValidateSessionCode; the lifecycle methods back the REST surface
// that studio owners use to start and end a live session.
type SessionStore interface {
	CreateSession(ctx context.Context, ownerID, projectName, joinCode string) (*models.Session, error)
	EndSession(ctx context.Context, sessionID int64) error
	GetSession(ctx context.Context, sessionID int64) (*models.Session, error)
	ValidateSessionCode(ctx context.Context, sessionID int64, code string) (*models.Session, error)
}

// CommentStore persists track comments. A comment must be persisted before
// it is broadcast, so delivery doubles as the durability confirmation.
type CommentStore interface {
	PersistComment(ctx context.Context, trackID, userID, content string, timestamp float64) (*models.Comment, error)
}
