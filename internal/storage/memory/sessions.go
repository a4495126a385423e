package memory

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/soundstage-io/soundstage-backend/internal/models"
	"github.com/soundstage-io/soundstage-backend/internal/storage"
)

// SessionStore keeps live session records in memory. It is the default
// backend for development and tests.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[int64]*models.Session
	nextID   int64
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[int64]*models.Session),
	}
}

// CreateSession mints a new live session. The join code is stored as a
// bcrypt hash; the plain code is returned once on the created record.
func (s *SessionStore) CreateSession(ctx context.Context, ownerID, projectName, joinCode string) (*models.Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(joinCode), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	session := &models.Session{
		ID:          s.nextID,
		OwnerID:     ownerID,
		ProjectName: projectName,
		CodeHash:    hash,
		Live:        true,
	}
	s.sessions[session.ID] = session

	out := *session
	out.JoinCode = joinCode
	return &out, nil
}

// EndSession clears the liveness flag and the stored code hash.
func (s *SessionStore) EndSession(ctx context.Context, sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrSessionNotFound
	}
	session.Live = false
	session.CodeHash = nil
	return nil
}

// GetSession returns a copy of the session record.
func (s *SessionStore) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	out := *session
	return &out, nil
}

// ValidateSessionCode checks a client-asserted id and join code against the
// stored record.
func (s *SessionStore) ValidateSessionCode(ctx context.Context, sessionID int64, code string) (*models.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	if !session.Live {
		return nil, storage.ErrSessionNotLive
	}
	if bcrypt.CompareHashAndPassword(session.CodeHash, []byte(code)) != nil {
		return nil, storage.ErrInvalidSessionCode
	}
	out := *session
	return &out, nil
}
