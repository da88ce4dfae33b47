// Package pool holds the in-memory set of users currently waiting to be
// matched. The pool is not safe for concurrent use on its own: the
// matchmaking engine owns it and serializes every mutation with the match
// decision under one lock, so find-candidate-and-remove-both stays
// indivisible.
package pool

import (
	"sort"
	"time"
)

// Entry is a waiting user's matchable record.
type Entry struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Rating      float64   `json:"rating"`
	SkillsTeach []string  `json:"skills_teach"`
	SkillsLearn []string  `json:"skills_learn"`
	EnqueuedAt  time.Time `json:"enqueued_at"`

	// RequiredPartnerID restricts the entry to a single acceptable partner.
	// Set for targeted searches (invite + auto-join), empty for open ones.
	RequiredPartnerID string `json:"required_partner_id,omitempty"`
}

type Pool struct {
	entries map[string]Entry
}

func New() *Pool {
	return &Pool{entries: make(map[string]Entry)}
}

// Enqueue inserts the entry, replacing any existing entry for the same user.
// A user never appears twice in the pool. Returns true when an existing
// entry was replaced.
func (p *Pool) Enqueue(e Entry) bool {
	_, replaced := p.entries[e.UserID]
	p.entries[e.UserID] = e
	return replaced
}

// Dequeue removes the user's entry and reports whether one was present.
func (p *Pool) Dequeue(userID string) bool {
	if _, ok := p.entries[userID]; !ok {
		return false
	}
	delete(p.entries, userID)
	return true
}

func (p *Pool) Get(userID string) (Entry, bool) {
	e, ok := p.entries[userID]
	return e, ok
}

func (p *Pool) Len() int {
	return len(p.entries)
}

// Snapshot returns copies of all entries ordered oldest-first. Callers get
// values, never live references.
func (p *Pool) Snapshot() []Entry {
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		e.SkillsTeach = append([]string(nil), e.SkillsTeach...)
		e.SkillsLearn = append([]string(nil), e.SkillsLearn...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}
