package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skillswap-backend/internal/invites"
	"skillswap-backend/internal/matchmaking"
	"skillswap-backend/internal/pool"
	"skillswap-backend/internal/sessions"
	"skillswap-backend/internal/storage"
)

// Engine is the matchmaking surface the HTTP layer consumes.
type Engine interface {
	CompleteSession(ctx context.Context, sessionID uuid.UUID, userID string) (*sessions.Session, error)
	Session(id uuid.UUID) (*sessions.Session, error)
	StateFor(userID string) matchmaking.State
	SnapshotPool() []pool.Entry
	SnapshotInvites() []invites.Invite
}

// FeedbackStore is the external reputation collaborator.
type FeedbackStore interface {
	AddFeedback(ctx context.Context, fb *storage.Feedback) error
}

type API struct {
	engine   Engine
	feedback FeedbackStore
	log      zerolog.Logger
}

func NewAPI(engine Engine, feedback FeedbackStore, log zerolog.Logger) *API {
	return &API{engine: engine, feedback: feedback, log: log}
}

func NewRouter(api *API, wsHandler http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(api.log))

	r.Get("/healthz", api.Health)
	r.Get("/matchmaking/status", api.MatchmakingStatus)
	r.Get("/sessions/{sessionID}", api.GetSession)
	r.Post("/sessions/{sessionID}/complete", api.CompleteSession)
	r.Post("/feedback", api.AddFeedback)
	r.HandleFunc("/ws", wsHandler)

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
