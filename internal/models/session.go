package models

// Session represents one live collaborative studio instance. The record is
// owned by the session store; the synchronization engine only reads it to
// validate joins.
type Session struct {
	ID          int64  `json:"id"`                    // Numeric identifier for the live session
	OwnerID     string `json:"ownerId"`               // User who started the live session
	ProjectName string `json:"projectName"`           // Display name of the studio project
	CodeHash    []byte `json:"-"`                     // bcrypt hash of the join code; never serialized
	Live        bool   `json:"live"`                  // Liveness flag; cleared when the session ends
	JoinCode    string `json:"joinCode,omitempty"`    // Plain code, only populated in the start-session reply
}

// Comment is a timestamped note pinned to a position inside a track. Comments
// are persisted before they are broadcast, so a delivered comment implies a
// successful write.
type Comment struct {
	ID        string  `json:"id"`
	TrackID   string  `json:"trackId"`
	UserID    string  `json:"userId"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"` // Position in the track, seconds
	CreatedAt int64   `json:"createdAt"` // Unix milliseconds, set by the store
}
