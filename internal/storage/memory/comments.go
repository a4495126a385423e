package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundstage-io/soundstage-backend/internal/models"
)

// CommentStore keeps track comments in memory, indexed by track.
type CommentStore struct {
	mu       sync.RWMutex
	comments map[string][]models.Comment // trackID -> comments
}

// NewCommentStore creates an empty in-memory comment store.
func NewCommentStore() *CommentStore {
	return &CommentStore{
		comments: make(map[string][]models.Comment),
	}
}

// PersistComment stores a comment and returns the persisted record.
func (s *CommentStore) PersistComment(ctx context.Context, trackID, userID, content string, timestamp float64) (*models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment := models.Comment{
		ID:        uuid.NewString(),
		TrackID:   trackID,
		UserID:    userID,
		Content:   content,
		Timestamp: timestamp,
		CreatedAt: time.Now().UnixMilli(),
	}
	s.comments[trackID] = append(s.comments[trackID], comment)
	return &comment, nil
}

// GetComments returns the comments recorded for a track, oldest first.
func (s *CommentStore) GetComments(trackID string) []models.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Comment, len(s.comments[trackID]))
	copy(out, s.comments[trackID])
	return out
}
