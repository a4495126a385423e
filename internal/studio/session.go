package studio

import (
	"fmt"
	"sync"

	"github.com/soundstage-io/soundstage-backend/internal/crdt"
	"github.com/soundstage-io/soundstage-backend/internal/logging"
	"github.com/soundstage-io/soundstage-backend/internal/metrics"
	"github.com/soundstage-io/soundstage-backend/internal/protocol"
)

// Connection is the transport-side contract the relay needs from a client
// connection. Send must not block; a connection that cannot accept the
// message reports an error and the frame is dropped for that recipient.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Session is the actor owning one live studio: the replicated document and
// the set of member connections. Every merge and fan-out for the session is
// serialized under its mutex; different sessions are fully independent.
type Session struct {
	id      int64
	mu      sync.Mutex
	doc     *crdt.Document
	conns   map[Connection]protocol.User
	logger  logging.Logger
	metrics *metrics.Metrics
}

func newSession(id int64, logger logging.Logger, m *metrics.Metrics) *Session {
	return &Session{
		id:      id,
		doc:     crdt.New(fmt.Sprintf("relay-%d", id)),
		conns:   make(map[Connection]protocol.User),
		logger:  logger,
		metrics: m,
	}
}

// ID returns the session id.
func (s *Session) ID() int64 {
	return s.id
}

// Join adds a connection and returns the bootstrap snapshot plus the
// collaborators that were already present, atomically with the insert so the
// joiner misses no subsequent delta.
func (s *Session) Join(conn Connection, user protocol.User) ([]byte, []protocol.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.doc.Snapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot session %d: %w", s.id, err)
	}

	// Same distinct-by-user rule as Users: a collaborator connected twice is
	// one presence entry.
	seen := make(map[string]bool, len(s.conns))
	peers := make([]protocol.User, 0, len(s.conns))
	for _, u := range s.conns {
		if seen[u.UserID] {
			continue
		}
		seen[u.UserID] = true
		peers = append(peers, u)
	}
	s.conns[conn] = user

	return snapshot, peers, nil
}

// leave removes a connection and reports the departed user and how many
// connections remain. Called by the registry under its own lock.
func (s *Session) leave(conn Connection) (protocol.User, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.conns[conn]
	if !ok {
		return protocol.User{}, len(s.conns), false
	}
	delete(s.conns, conn)
	return user, len(s.conns), true
}

// MergeAndBroadcast merges a delta into the document and fans the rebroadcast
// frame to every member except the origin, in one critical section so two
// concurrent updates cannot interleave their merge and fan-out steps.
func (s *Session) MergeAndBroadcast(origin Connection, delta []byte, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.doc.ApplyDelta(delta); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.DeltaBytes.Observe(float64(len(delta)))
	}
	s.fanOut(origin, frame)
	return nil
}

// BroadcastExcept sends a frame to every member except the origin.
func (s *Session) BroadcastExcept(origin Connection, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fanOut(origin, frame)
}

// BroadcastAll sends a frame to every member including the origin.
func (s *Session) BroadcastAll(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fanOut(nil, frame)
}

// fanOut delivers best-effort: an unwritable peer is skipped silently, no
// retry and no queueing. The caller holds s.mu.
func (s *Session) fanOut(exclude Connection, frame []byte) {
	for conn := range s.conns {
		if conn == exclude {
			continue
		}
		if err := conn.Send(frame); err != nil {
			if s.metrics != nil {
				s.metrics.BroadcastDrops.Inc()
			}
			s.logger.WithFields(logging.Fields{
				"session": s.id,
				"conn":    conn.ID(),
			}).Debug("Dropped frame for unwritable peer")
		}
	}
}

// Users returns the distinct collaborators currently connected.
func (s *Session) Users() []protocol.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(s.conns))
	users := make([]protocol.User, 0, len(s.conns))
	for _, u := range s.conns {
		if seen[u.UserID] {
			continue
		}
		seen[u.UserID] = true
		users = append(users, u)
	}
	return users
}

// ConnCount returns the number of member connections.
func (s *Session) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Document exposes the session's replicated document for stats and tests.
func (s *Session) Document() *crdt.Document {
	return s.doc
}
