// Package matchmaking implements the pairing engine: it accepts
// connection-scoped intents, maintains the search pool and invite tracker,
// decides when two users become paired, and hands deduplicated pairings to
// the session orchestrator.
//
// One mutex guards the pool, the invite tracker and the match decision
// together. Find-candidate-and-remove-both happens entirely inside that
// critical section; session creation and notification happen outside it so
// a slow external call cannot stall other users' matching.
package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skillswap-backend/internal/invites"
	"skillswap-backend/internal/pool"
	"skillswap-backend/internal/sessions"
	"skillswap-backend/internal/storage"
)

// ProfileStore is the read-only lookup against the external profile store.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*storage.Profile, error)
}

// Partner is the counterpart info delivered with a match.
type Partner struct {
	UserID   string  `json:"user_id"`
	Username string  `json:"username"`
	Rating   float64 `json:"rating"`
}

// MatchPayload is pushed to both participants when a pairing succeeds.
type MatchPayload struct {
	SessionID string  `json:"session_id"`
	RoomID    string  `json:"room_id"`
	Partner   Partner `json:"partner"`
}

// Notifier delivers engine outcomes to a user's live connection.
type Notifier interface {
	MatchFound(userID string, payload MatchPayload)
	MatchFailed(userID string, reason string)
}

// EventPublisher mirrors engine outcomes onto the shared event bus so other
// surfaces can observe them. Optional; publish errors are logged, not fatal.
type EventPublisher interface {
	SessionCreated(ctx context.Context, s *sessions.Session) error
	PublishMatchFound(ctx context.Context, userID, sessionID, roomRef string) error
}

type ResultStatus string

const (
	ResultSearching ResultStatus = "searching"
	ResultMatched   ResultStatus = "matched"
)

// Result reports the outcome of a find-match intent. "Searching" is a valid
// outcome, not an error.
type Result struct {
	Status  ResultStatus      `json:"status"`
	Session *sessions.Session `json:"session,omitempty"`
	Partner *Partner          `json:"partner,omitempty"`
}

type Config struct {
	Policy      Policy
	GracePeriod time.Duration
	InviteTTL   time.Duration
}

type Engine struct {
	mu      sync.Mutex
	pool    *pool.Pool
	invites *invites.Tracker
	states  map[string]State
	stale   map[string]time.Time // searching users whose connection dropped
	active  map[string]uuid.UUID // user -> active session

	orchestrator *sessions.Orchestrator
	profiles     ProfileStore
	notifier     Notifier
	events       EventPublisher
	policy       Policy
	grace        time.Duration
	inviteTTL    time.Duration
	log          zerolog.Logger

	now func() time.Time
}

func NewEngine(orchestrator *sessions.Orchestrator, profiles ProfileStore, notifier Notifier, events EventPublisher, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		pool:         pool.New(),
		invites:      invites.NewTracker(),
		states:       make(map[string]State),
		stale:        make(map[string]time.Time),
		active:       make(map[string]uuid.UUID),
		orchestrator: orchestrator,
		profiles:     profiles,
		notifier:     notifier,
		events:       events,
		policy:       cfg.Policy,
		grace:        cfg.GracePeriod,
		inviteTTL:    cfg.InviteTTL,
		log:          log,
		now:          time.Now,
	}
}

// FindMatch enqueues the user (replacing any existing entry) and attempts a
// pairing. targetID restricts the search to one acceptable partner; pass ""
// for an open search. On a successful pairing both sides are notified; the
// returned Result carries the session for the caller's side.
func (e *Engine) FindMatch(ctx context.Context, userID, targetID string) (*Result, error) {
	if targetID == userID && targetID != "" {
		return nil, ErrSelfInvite
	}

	profile, err := e.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	if targetID != "" {
		if _, err := e.profiles.GetProfile(ctx, targetID); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, targetID)
		}
	}

	now := e.now()
	entry := pool.Entry{
		UserID:            userID,
		Username:          profile.Username,
		Rating:            profile.Rating,
		SkillsTeach:       profile.SkillsTeach,
		SkillsLearn:       profile.SkillsLearn,
		EnqueuedAt:        now,
		RequiredPartnerID: targetID,
	}

	e.mu.Lock()
	if e.states[userID] == StateMatched {
		e.mu.Unlock()
		return nil, ErrAlreadyMatched
	}
	e.pool.Enqueue(entry)
	e.states[userID] = StateSearching
	delete(e.stale, userID)

	candidate, found := e.findCandidate(entry)
	if found {
		// Atomic pairing decision: both entries leave the pool before the
		// lock is released, so no concurrent search can observe either
		// participant as available.
		if !e.pool.Dequeue(userID) || !e.pool.Dequeue(candidate.UserID) {
			e.log.Error().
				Bool("invariant", true).
				Str("user_id", userID).
				Str("candidate_id", candidate.UserID).
				Msg("matched entry missing from pool during removal")
			e.mu.Unlock()
			return nil, errInvariant
		}
		for _, inv := range e.invites.ResolveBetween(userID, candidate.UserID, now) {
			e.log.Info().
				Str("invite_id", inv.ID.String()).
				Str("from", inv.FromUserID).
				Str("to", inv.ToUserID).
				Msg("invite consumed by match")
		}
		e.states[userID] = StateMatched
		e.states[candidate.UserID] = StateMatched
		delete(e.stale, candidate.UserID)
	}
	e.mu.Unlock()

	if !found {
		return &Result{Status: ResultSearching}, nil
	}

	return e.establishSession(ctx, entry, candidate)
}

// establishSession runs after the atomic pairing decision, off the pool
// lock. If room creation ultimately fails, both participants return to idle
// (not re-enqueued) and are told the failure is recoverable.
func (e *Engine) establishSession(ctx context.Context, a, b pool.Entry) (*Result, error) {
	s, err := e.orchestrator.CreateSession(ctx, a.UserID, b.UserID)
	if err != nil {
		e.mu.Lock()
		delete(e.states, a.UserID)
		delete(e.states, b.UserID)
		e.mu.Unlock()

		e.notifier.MatchFailed(a.UserID, "chat room unavailable, please retry")
		e.notifier.MatchFailed(b.UserID, "chat room unavailable, please retry")
		return nil, fmt.Errorf("establishing session for %s and %s: %w", a.UserID, b.UserID, err)
	}

	e.mu.Lock()
	e.active[a.UserID] = s.ID
	e.active[b.UserID] = s.ID
	e.mu.Unlock()

	partnerOfA := Partner{UserID: b.UserID, Username: b.Username, Rating: b.Rating}
	partnerOfB := Partner{UserID: a.UserID, Username: a.Username, Rating: a.Rating}

	e.notifier.MatchFound(a.UserID, MatchPayload{SessionID: s.ID.String(), RoomID: s.RoomRef, Partner: partnerOfA})
	e.notifier.MatchFound(b.UserID, MatchPayload{SessionID: s.ID.String(), RoomID: s.RoomRef, Partner: partnerOfB})

	if e.events != nil {
		if err := e.events.SessionCreated(ctx, s); err != nil {
			e.log.Error().Err(err).Str("session_id", s.ID.String()).Msg("publishing session marker")
		}
		for _, uid := range []string{a.UserID, b.UserID} {
			if err := e.events.PublishMatchFound(ctx, uid, s.ID.String(), s.RoomRef); err != nil {
				e.log.Error().Err(err).Str("user_id", uid).Msg("publishing match event")
			}
		}
	}

	e.log.Info().
		Str("session_id", s.ID.String()).
		Str("user_a", a.UserID).
		Str("user_b", b.UserID).
		Msg("match established")

	return &Result{Status: ResultMatched, Session: s, Partner: &partnerOfA}, nil
}

// SendInvite registers a pending invite and inserts the sender into the pool
// targeted at the recipient. It never pairs by itself: a match fires only
// when the recipient performs a search action that resolves against the
// sender, so a unilateral invite cannot consume the target's matching
// capacity.
func (e *Engine) SendInvite(ctx context.Context, senderID, targetID string) (*invites.Invite, error) {
	if senderID == targetID {
		return nil, ErrSelfInvite
	}

	profile, err := e.profiles.GetProfile(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, senderID)
	}
	if _, err := e.profiles.GetProfile(ctx, targetID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, targetID)
	}

	now := e.now()

	e.mu.Lock()
	if e.states[senderID] == StateMatched {
		e.mu.Unlock()
		return nil, ErrAlreadyMatched
	}
	inv, superseded := e.invites.Create(senderID, targetID, now)
	e.pool.Enqueue(pool.Entry{
		UserID:            senderID,
		Username:          profile.Username,
		Rating:            profile.Rating,
		SkillsTeach:       profile.SkillsTeach,
		SkillsLearn:       profile.SkillsLearn,
		EnqueuedAt:        now,
		RequiredPartnerID: targetID,
	})
	e.states[senderID] = StateSearching
	delete(e.stale, senderID)
	e.mu.Unlock()

	if superseded != nil {
		e.log.Info().
			Str("invite_id", superseded.ID.String()).
			Str("superseded_by", inv.ID.String()).
			Msg("pending invite superseded")
	}
	e.log.Info().
		Str("invite_id", inv.ID.String()).
		Str("from", senderID).
		Str("to", targetID).
		Msg("invite sent")

	return &inv, nil
}

// CancelSearch removes the user from the pool and cancels their pending
// invites. Idempotent: cancelling with no active search is a no-op. Returns
// false when there was nothing to cancel, including when a concurrent match
// decision already won the race.
func (e *Engine) CancelSearch(userID string) bool {
	e.mu.Lock()
	if e.states[userID] == StateMatched {
		// The match decision already removed the entry; the user is told
		// they were matched, not cancelled.
		e.mu.Unlock()
		return false
	}
	removed := e.pool.Dequeue(userID)
	cancelled := e.invites.CancelAllFrom(userID, e.now())
	delete(e.stale, userID)
	delete(e.states, userID)
	e.mu.Unlock()

	if removed || len(cancelled) > 0 {
		e.log.Info().
			Str("user_id", userID).
			Int("invites_cancelled", len(cancelled)).
			Msg("search cancelled")
		return true
	}
	return false
}

// HandleDisconnect marks a searching user's state stale. The entry stays
// matchable until the grace period elapses, tolerating transient drops.
func (e *Engine) HandleDisconnect(userID string) {
	e.mu.Lock()
	if e.states[userID] == StateSearching {
		e.stale[userID] = e.now()
	}
	e.mu.Unlock()
}

// HandleReconnect clears a pending stale mark; the user's pool entry and
// invites survive untouched.
func (e *Engine) HandleReconnect(userID string) {
	e.mu.Lock()
	delete(e.stale, userID)
	e.mu.Unlock()
}

// SweepStale applies cancellation semantics to users whose connection has
// been gone longer than the grace period. Invoked periodically by the
// background processor.
func (e *Engine) SweepStale(now time.Time) int {
	e.mu.Lock()
	var expired []string
	for userID, droppedAt := range e.stale {
		if now.Sub(droppedAt) >= e.grace {
			expired = append(expired, userID)
		}
	}
	for _, userID := range expired {
		e.pool.Dequeue(userID)
		e.invites.CancelAllFrom(userID, now)
		delete(e.states, userID)
		delete(e.stale, userID)
	}
	e.mu.Unlock()

	for _, userID := range expired {
		e.log.Info().Str("user_id", userID).Msg("search cancelled after grace period")
	}
	return len(expired)
}

// ExpireInvites transitions stale pending invites to expired. The sender's
// targeted pool entry rides along: once the invite is gone it could never
// match, so it is removed rather than left to linger.
func (e *Engine) ExpireInvites(now time.Time) int {
	e.mu.Lock()
	expired := e.invites.ExpireOlderThan(e.inviteTTL, now)
	for _, inv := range expired {
		if entry, ok := e.pool.Get(inv.FromUserID); ok && entry.RequiredPartnerID == inv.ToUserID {
			e.pool.Dequeue(inv.FromUserID)
			delete(e.states, inv.FromUserID)
			delete(e.stale, inv.FromUserID)
		}
	}
	e.mu.Unlock()

	for _, inv := range expired {
		e.log.Info().
			Str("invite_id", inv.ID.String()).
			Str("from", inv.FromUserID).
			Str("to", inv.ToUserID).
			Msg("invite expired")
	}
	return len(expired)
}

// CompleteSession marks the session completed and returns both participants
// to idle. Idempotent; unknown ids fail with sessions.ErrSessionNotFound.
func (e *Engine) CompleteSession(ctx context.Context, sessionID uuid.UUID, userID string) (*sessions.Session, error) {
	s, err := e.orchestrator.CompleteSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	for _, participant := range []string{s.ParticipantA, s.ParticipantB} {
		if e.active[participant] == s.ID {
			delete(e.active, participant)
			if e.states[participant] == StateMatched {
				delete(e.states, participant)
			}
		}
	}
	e.mu.Unlock()

	return s, nil
}

// Session looks up a session by id.
func (e *Engine) Session(id uuid.UUID) (*sessions.Session, error) {
	return e.orchestrator.Get(id)
}

// StateFor reports the user's current state; unknown users are idle.
func (e *Engine) StateFor(userID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[userID]; ok {
		return s
	}
	return StateIdle
}

// SnapshotPool returns a point-in-time copy of the search pool for
// diagnostics.
func (e *Engine) SnapshotPool() []pool.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Snapshot()
}

// SnapshotInvites returns a point-in-time copy of tracked invites.
func (e *Engine) SnapshotInvites() []invites.Invite {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invites.Snapshot()
}
