package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"skillswap-backend/internal/sessions"
	"skillswap-backend/internal/storage"
)

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MatchmakingStatus exposes diagnostics snapshots of the pool and invite
// tracker. Snapshots are copies, never live references.
func (a *API) MatchmakingStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"pool":    a.engine.SnapshotPool(),
		"invites": a.engine.SnapshotInvites(),
	}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		resp["user_state"] = a.engine.StateFor(userID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	s, err := a.engine.Session(id)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type completeSessionRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) CompleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	var req completeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	s, err := a.engine.CompleteSession(r.Context(), id, req.UserID)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.log.Error().Err(err).Str("session_id", id.String()).Msg("completing session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": s.ID,
		"status":     s.Status,
		"partner_id": s.Partner(req.UserID),
	})
}

type addFeedbackRequest struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
	SessionID  string `json:"session_id"`
}

// AddFeedback validates the rating against a completed session before
// delegating to the reputation store, which recomputes the mean in SQL.
func (a *API) AddFeedback(w http.ResponseWriter, r *http.Request) {
	var req addFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.FromUserID == "" || req.ToUserID == "" || req.SessionID == "" {
		http.Error(w, "missing required fields: from_user_id, to_user_id, session_id", http.StatusBadRequest)
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		http.Error(w, "rating must be between 1 and 5", http.StatusBadRequest)
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	s, err := a.engine.Session(sessionID)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.Status != sessions.StatusCompleted {
		http.Error(w, "session is not completed yet", http.StatusConflict)
		return
	}
	if s.Partner(req.FromUserID) != req.ToUserID {
		http.Error(w, "feedback does not match session participants", http.StatusBadRequest)
		return
	}

	fb := &storage.Feedback{
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Rating:     req.Rating,
		Comment:    req.Comment,
		SessionID:  sessionID,
	}
	if err := a.feedback.AddFeedback(r.Context(), fb); err != nil {
		if errors.Is(err, storage.ErrSelfFeedback) {
			http.Error(w, "you cannot give feedback to yourself", http.StatusBadRequest)
			return
		}
		a.log.Error().Err(err).Str("session_id", req.SessionID).Msg("storing feedback")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "Feedback added"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
