package studio

import (
	"sync"

	"github.com/soundstage-io/soundstage-backend/internal/logging"
	"github.com/soundstage-io/soundstage-backend/internal/metrics"
	"github.com/soundstage-io/soundstage-backend/internal/protocol"
)

// Registry owns the process-wide map from session id to session actor. It is
// the only state shared across connections; each session's document and
// connection set belong to that session alone.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions: make(map[int64]*Session),
		logger:   logger,
		metrics:  m,
	}
}

// ResolveOrCreate returns the session actor for an id, creating it atomically
// on the first join so concurrent joins for the same id share one document.
func (r *Registry) ResolveOrCreate(id int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(id)
}

// Join resolves the session actor for an id and adds the connection to it in
// one critical section. Resolution and membership are not separable: a
// last-member disconnect between the two would garbage-collect the actor the
// joiner resolved, leaving it stranded outside the registry.
func (r *Registry) Join(id int64, conn Connection, user protocol.User) (*Session, []byte, []protocol.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.resolveLocked(id)
	snapshot, peers, err := s.Join(conn, user)
	if err != nil {
		if s.ConnCount() == 0 {
			r.removeSessionLocked(id)
		}
		return nil, nil, nil, err
	}
	return s, snapshot, peers, nil
}

func (r *Registry) resolveLocked(id int64) *Session {
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := newSession(id, r.logger, r.metrics)
	r.sessions[id] = s
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.logger.WithField("session", id).Info("Studio session created")
	return s
}

func (r *Registry) removeSessionLocked(id int64) {
	delete(r.sessions, id)
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.logger.WithField("session", id).Info("Studio session removed")
}

// Get returns an existing session actor without creating one.
func (r *Registry) Get(id int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// RemoveConnection detaches a connection from its session. When the last
// connection leaves, the session and its document are discarded; a later join
// for the same id starts from an empty document.
func (r *Registry) RemoveConnection(id int64, conn Connection) (protocol.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return protocol.User{}, false
	}

	// The empty-set check runs even when the connection was not a member, so
	// a session that never gained one cannot linger in the map.
	user, remaining, removed := s.leave(conn)
	if remaining == 0 {
		r.removeSessionLocked(id)
	}
	if !removed {
		return protocol.User{}, false
	}
	return user, true
}

// Stats reports the current session and connection counts.
func (r *Registry) Stats() (sessions, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions = len(r.sessions)
	for _, s := range r.sessions {
		connections += s.ConnCount()
	}
	return sessions, connections
}
