package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

var ErrSessionNotFound = errors.New("session not found")

// Session represents a matched pair's interaction, separate from the chat
// transcript itself. The orchestrator is the sole mutator of Status.
type Session struct {
	ID           uuid.UUID  `json:"id"`
	ParticipantA string     `json:"participant_a"`
	ParticipantB string     `json:"participant_b"`
	RoomRef      string     `json:"room_ref"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Partner returns the other participant's id, or "" if userID is not a
// participant.
func (s *Session) Partner(userID string) string {
	switch userID {
	case s.ParticipantA:
		return s.ParticipantB
	case s.ParticipantB:
		return s.ParticipantA
	}
	return ""
}

// RoomCreator is the external chat-storage collaborator. The orchestrator
// treats the returned room reference as opaque.
type RoomCreator interface {
	CreateRoom(ctx context.Context, participantA, participantB string) (string, error)
}

// Store persists session records. Persistence failures are logged, not
// fatal: the in-memory record is authoritative for the session lifecycle.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
	MarkSessionCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
}

type Orchestrator struct {
	rooms   RoomCreator
	store   Store
	retries int
	log     zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	now func() time.Time
}

func NewOrchestrator(rooms RoomCreator, store Store, retries int, log zerolog.Logger) *Orchestrator {
	if retries < 1 {
		retries = 1
	}
	return &Orchestrator{
		rooms:    rooms,
		store:    store,
		retries:  retries,
		log:      log,
		sessions: make(map[uuid.UUID]*Session),
		now:      time.Now,
	}
}

// CreateSession allocates a session for an already-deduplicated pairing. The
// matcher hands over exactly one pairing per match event; no matching logic
// lives here. Room creation is retried a bounded number of times before the
// failure is reported to the caller.
func (o *Orchestrator) CreateSession(ctx context.Context, userA, userB string) (*Session, error) {
	var roomRef string
	var err error
	for attempt := 1; attempt <= o.retries; attempt++ {
		roomRef, err = o.rooms.CreateRoom(ctx, userA, userB)
		if err == nil {
			break
		}
		o.log.Warn().Err(err).
			Int("attempt", attempt).
			Str("user_a", userA).
			Str("user_b", userB).
			Msg("chat room creation failed")
	}
	if err != nil {
		return nil, fmt.Errorf("creating chat room after %d attempts: %w", o.retries, err)
	}

	s := &Session{
		ID:           uuid.New(),
		ParticipantA: userA,
		ParticipantB: userB,
		RoomRef:      roomRef,
		Status:       StatusActive,
		CreatedAt:    o.now(),
	}

	o.mu.Lock()
	o.sessions[s.ID] = s
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.SaveSession(ctx, s); err != nil {
			o.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("persisting session")
		}
	}

	o.log.Info().
		Str("session_id", s.ID.String()).
		Str("room_ref", roomRef).
		Str("user_a", userA).
		Str("user_b", userB).
		Msg("session created")

	cp := *s
	return &cp, nil
}

// CompleteSession transitions the session to completed. Completing an
// already-completed session is a no-op, not an error.
func (o *Orchestrator) CompleteSession(ctx context.Context, id uuid.UUID, initiatingUserID string) (*Session, error) {
	o.mu.Lock()
	s, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	already := s.Status == StatusCompleted
	if !already {
		at := o.now()
		s.Status = StatusCompleted
		s.CompletedAt = &at
	}
	cp := *s
	o.mu.Unlock()

	if already {
		return &cp, nil
	}

	if o.store != nil {
		if err := o.store.MarkSessionCompleted(ctx, id, *cp.CompletedAt); err != nil {
			o.log.Error().Err(err).Str("session_id", id.String()).Msg("persisting session completion")
		}
	}

	o.log.Info().
		Str("session_id", id.String()).
		Str("ended_by", initiatingUserID).
		Msg("session completed")
	return &cp, nil
}

func (o *Orchestrator) Get(id uuid.UUID) (*Session, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}
