package live

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soundstage-io/soundstage-backend/internal/logging"
	"github.com/soundstage-io/soundstage-backend/internal/middleware"
	"github.com/soundstage-io/soundstage-backend/internal/storage"
	"github.com/soundstage-io/soundstage-backend/internal/studio"
	wsclient "github.com/soundstage-io/soundstage-backend/internal/ws"
)

// Join codes skip characters that read ambiguously when shared out loud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const codeLength = 6

// LiveHandler holds the dependencies for the live-session REST surface and
// the WebSocket entry point.
type LiveHandler struct {
	Sessions storage.SessionStore
	Registry *studio.Registry
	Router   *studio.Router
	Logger   logging.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StartSession handles POST /api/v1/live/start. The authenticated owner gets
// a fresh session id and a join code to share with collaborators; the code
// is returned exactly once.
func (h *LiveHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectName string `json:"projectName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProjectName == "" {
		http.Error(w, "projectName cannot be empty", http.StatusBadRequest)
		return
	}

	ownerID := middleware.UserID(r.Context())
	code, err := generateJoinCode()
	if err != nil {
		h.Logger.WithError(err).Error("Failed to generate join code")
		http.Error(w, "Failed to start session", http.StatusInternalServerError)
		return
	}

	session, err := h.Sessions.CreateSession(r.Context(), ownerID, req.ProjectName, code)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to create session")
		http.Error(w, "Failed to start session", http.StatusInternalServerError)
		return
	}

	h.Logger.WithFields(logging.Fields{
		"session": session.ID,
		"owner":   ownerID,
		"project": req.ProjectName,
	}).Info("Live session started")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session)
}

// EndSession handles POST /api/v1/live/end. Only the owner may end a
// session; ending clears the join code so no further joins validate.
func (h *LiveHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID int64 `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.Sessions.GetSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.Logger.WithError(err).Error("Failed to load session")
		http.Error(w, "Failed to end session", http.StatusInternalServerError)
		return
	}
	if session.OwnerID != middleware.UserID(r.Context()) {
		http.Error(w, "Only the session owner may end it", http.StatusForbidden)
		return
	}

	if err := h.Sessions.EndSession(r.Context(), req.SessionID); err != nil {
		h.Logger.WithError(err).Error("Failed to end session")
		http.Error(w, "Failed to end session", http.StatusInternalServerError)
		return
	}

	h.Logger.WithField("session", req.SessionID).Info("Live session ended")
	w.WriteHeader(http.StatusNoContent)
}

// SessionInfo handles GET /api/v1/live/info?session_id=N and reports the
// record plus the current collaborator count.
func (h *LiveHandler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
	if err != nil || sessionID == 0 {
		http.Error(w, "session_id is required as a numeric query parameter", http.StatusBadRequest)
		return
	}

	session, err := h.Sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		h.Logger.WithError(err).Error("Failed to load session")
		http.Error(w, "Failed to load session", http.StatusInternalServerError)
		return
	}

	activeUsers := 0
	if s, ok := h.Registry.Get(sessionID); ok {
		activeUsers = len(s.Users())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		ID          int64  `json:"id"`
		ProjectName string `json:"projectName"`
		Live        bool   `json:"live"`
		ActiveUsers int    `json:"activeUsers"`
	}{session.ID, session.ProjectName, session.Live, activeUsers})
}

// ServeWS upgrades the connection and hands it to the relay. Session
// membership is established later by the join-session message, not here.
func (h *LiveHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := wsclient.NewClient(uuid.NewString(), conn, h.Router, h.Logger)
	client.Start()
}

func generateJoinCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
