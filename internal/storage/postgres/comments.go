package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/soundstage-io/soundstage-backend/internal/logging"
	"github.com/soundstage-io/soundstage-backend/internal/models"
)

// CommentStore implements comment persistence on PostgreSQL. It is the
// production backend behind the track-comment durability guarantee.
type CommentStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewCommentStore opens the database connection and verifies it.
func NewCommentStore(dataSourceName string, logger logging.Logger) (*CommentStore, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection for comments: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database for comments: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to PostgreSQL for track comments")

	return &CommentStore{db: db, logger: logger}, nil
}

// PersistComment inserts a comment row and returns the persisted record.
func (s *CommentStore) PersistComment(ctx context.Context, trackID, userID, content string, timestamp float64) (*models.Comment, error) {
	comment := &models.Comment{
		ID:        uuid.NewString(),
		TrackID:   trackID,
		UserID:    userID,
		Content:   content,
		Timestamp: timestamp,
		CreatedAt: time.Now().UnixMilli(),
	}

	query := `
		INSERT INTO track_comments (id, track_id, user_id, content, track_position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, comment.ID, comment.TrackID, comment.UserID, comment.Content, comment.Timestamp, comment.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert track comment: %w", err)
	}

	return comment, nil
}

// GetComments returns the comments recorded for a track, oldest first.
func (s *CommentStore) GetComments(ctx context.Context, trackID string) ([]models.Comment, error) {
	query := `
		SELECT id, track_id, user_id, content, track_position, created_at
		FROM track_comments
		WHERE track_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to query track comments: %w", err)
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.TrackID, &c.UserID, &c.Content, &c.Timestamp, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan track comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// Close releases the database connection pool.
func (s *CommentStore) Close() error {
	return s.db.Close()
}
