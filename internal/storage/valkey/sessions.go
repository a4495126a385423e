package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/valkey-io/valkey-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/soundstage-io/soundstage-backend/internal/logging"
	"github.com/soundstage-io/soundstage-backend/internal/models"
	"github.com/soundstage-io/soundstage-backend/internal/storage"
)

const (
	sessionKeyPrefix = "studio:session:"
	sessionIDCounter = "studio:session:next-id"
)

// SessionStore keeps live session records in Valkey so that the REST surface
// and the relay can share them across process restarts.
type SessionStore struct {
	client valkey.Client
	logger logging.Logger
}

// NewSessionStore connects to Valkey and verifies the connection.
func NewSessionStore(addr, password string, logger logging.Logger) (*SessionStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	if err := client.Do(context.Background(), client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach valkey: %w", err)
	}

	logger.WithField("addr", addr).Info("Connected to Valkey for session records")

	return &SessionStore{client: client, logger: logger}, nil
}

func sessionKey(id int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, id)
}

// CreateSession allocates an id, hashes the join code, and stores the record.
func (s *SessionStore) CreateSession(ctx context.Context, ownerID, projectName, joinCode string) (*models.Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(joinCode), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	id, err := s.client.Do(ctx, s.client.B().Incr().Key(sessionIDCounter).Build()).AsInt64()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate session id: %w", err)
	}

	session := &models.Session{
		ID:          id,
		OwnerID:     ownerID,
		ProjectName: projectName,
		CodeHash:    hash,
		Live:        true,
	}
	if err := s.writeSession(ctx, session); err != nil {
		return nil, err
	}

	out := *session
	out.JoinCode = joinCode
	return &out, nil
}

// EndSession clears the liveness flag and the stored code hash.
func (s *SessionStore) EndSession(ctx context.Context, sessionID int64) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	session.Live = false
	session.CodeHash = nil
	return s.writeSession(ctx, session)
}

// GetSession loads one session record.
func (s *SessionStore) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(sessionKey(sessionID)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session %d: %w", sessionID, err)
	}

	var record sessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode session %d: %w", sessionID, err)
	}
	return record.toModel(), nil
}

// ValidateSessionCode checks a client-asserted id and join code against the
// stored record.
func (s *SessionStore) ValidateSessionCode(ctx context.Context, sessionID int64, code string) (*models.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Live {
		return nil, storage.ErrSessionNotLive
	}
	if bcrypt.CompareHashAndPassword(session.CodeHash, []byte(code)) != nil {
		return nil, storage.ErrInvalidSessionCode
	}
	return session, nil
}

// Close releases the Valkey client.
func (s *SessionStore) Close() {
	s.client.Close()
}

func (s *SessionStore) writeSession(ctx context.Context, session *models.Session) error {
	record := sessionRecord{
		ID:          session.ID,
		OwnerID:     session.OwnerID,
		ProjectName: session.ProjectName,
		CodeHash:    session.CodeHash,
		Live:        session.Live,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session %d: %w", session.ID, err)
	}
	if err := s.client.Do(ctx, s.client.B().Set().Key(sessionKey(session.ID)).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to store session %d: %w", session.ID, err)
	}
	return nil
}

// sessionRecord is the stored shape; unlike models.Session it serializes the
// code hash.
type sessionRecord struct {
	ID          int64  `json:"id"`
	OwnerID     string `json:"ownerId"`
	ProjectName string `json:"projectName"`
	CodeHash    []byte `json:"codeHash,omitempty"`
	Live        bool   `json:"live"`
}

func (r sessionRecord) toModel() *models.Session {
	return &models.Session{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		ProjectName: r.ProjectName,
		CodeHash:    r.CodeHash,
		Live:        r.Live,
	}
}
