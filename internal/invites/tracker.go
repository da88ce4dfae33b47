// Package invites tracks pending targeted-invite records. Like the search
// pool, the tracker is owned by the matchmaking engine and mutated only
// inside its critical section.
package invites

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConsumed  Status = "consumed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// ErrNotFoundOrResolved is returned by Consume when the invite id is unknown
// or the invite already left the pending state.
var ErrNotFoundOrResolved = errors.New("invite not found or already resolved")

// Invite is a directed, time-bounded pairing proposal.
type Invite struct {
	ID         uuid.UUID `json:"id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	CreatedAt  time.Time `json:"created_at"`
	Status     Status    `json:"status"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

type pairKey struct {
	from, to string
}

type Tracker struct {
	invites map[uuid.UUID]*Invite
	pending map[pairKey]uuid.UUID
}

func NewTracker() *Tracker {
	return &Tracker{
		invites: make(map[uuid.UUID]*Invite),
		pending: make(map[pairKey]uuid.UUID),
	}
}

// Create registers a pending invite for the ordered (from, to) pair. A prior
// pending invite between the same pair is superseded: it transitions to
// cancelled and is returned so callers can log it, never silently dropped.
func (t *Tracker) Create(fromUserID, toUserID string, now time.Time) (created Invite, superseded *Invite) {
	key := pairKey{from: fromUserID, to: toUserID}
	if prevID, ok := t.pending[key]; ok {
		prev := t.invites[prevID]
		prev.Status = StatusCancelled
		prev.ResolvedAt = now
		delete(t.pending, key)
		cp := *prev
		superseded = &cp
	}

	inv := &Invite{
		ID:         uuid.New(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		CreatedAt:  now,
		Status:     StatusPending,
	}
	t.invites[inv.ID] = inv
	t.pending[key] = inv.ID
	return *inv, superseded
}

// Consume transitions a pending invite to consumed, exactly once.
func (t *Tracker) Consume(id uuid.UUID, now time.Time) (Invite, error) {
	inv, ok := t.invites[id]
	if !ok || inv.Status != StatusPending {
		return Invite{}, ErrNotFoundOrResolved
	}
	inv.Status = StatusConsumed
	inv.ResolvedAt = now
	delete(t.pending, pairKey{from: inv.FromUserID, to: inv.ToUserID})
	return *inv, nil
}

// PendingBetween reports the pending invite for the ordered (from, to) pair,
// if any.
func (t *Tracker) PendingBetween(fromUserID, toUserID string) (Invite, bool) {
	id, ok := t.pending[pairKey{from: fromUserID, to: toUserID}]
	if !ok {
		return Invite{}, false
	}
	return *t.invites[id], true
}

// ResolveBetween consumes any pending invites between the two users, in
// either direction. Called when the pair matches.
func (t *Tracker) ResolveBetween(userA, userB string, now time.Time) []Invite {
	var resolved []Invite
	for _, key := range []pairKey{{from: userA, to: userB}, {from: userB, to: userA}} {
		if id, ok := t.pending[key]; ok {
			if inv, err := t.Consume(id, now); err == nil {
				resolved = append(resolved, inv)
			}
		}
	}
	return resolved
}

// CancelAllFrom cancels every pending invite sent by the user.
func (t *Tracker) CancelAllFrom(userID string, now time.Time) []Invite {
	var cancelled []Invite
	for key, id := range t.pending {
		if key.from != userID {
			continue
		}
		inv := t.invites[id]
		inv.Status = StatusCancelled
		inv.ResolvedAt = now
		delete(t.pending, key)
		cancelled = append(cancelled, *inv)
	}
	return cancelled
}

// ExpireOlderThan transitions pending invites created before now-ttl to
// expired. An expired invite is never consumable afterwards.
func (t *Tracker) ExpireOlderThan(ttl time.Duration, now time.Time) []Invite {
	cutoff := now.Add(-ttl)
	var expired []Invite
	for key, id := range t.pending {
		inv := t.invites[id]
		if inv.CreatedAt.After(cutoff) {
			continue
		}
		inv.Status = StatusExpired
		inv.ResolvedAt = now
		delete(t.pending, key)
		expired = append(expired, *inv)
	}
	return expired
}

// Snapshot returns copies of every tracked invite, oldest-first, for
// diagnostics.
func (t *Tracker) Snapshot() []Invite {
	out := make([]Invite, 0, len(t.invites))
	for _, inv := range t.invites {
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
