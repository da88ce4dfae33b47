package matchmaking

import "skillswap-backend/internal/pool"

// findCandidate scans the pool for the oldest eligible partner for x.
// Eligibility: the candidate is not x; if x targets a specific partner, only
// that partner qualifies; a candidate targeting someone other than x is
// skipped; the policy filter accepts the pair. Must be called with e.mu
// held.
func (e *Engine) findCandidate(x pool.Entry) (pool.Entry, bool) {
	for _, y := range e.pool.Snapshot() {
		if y.UserID == x.UserID {
			continue
		}
		if x.RequiredPartnerID != "" && y.UserID != x.RequiredPartnerID {
			continue
		}
		if y.RequiredPartnerID != "" && y.RequiredPartnerID != x.UserID {
			continue
		}
		if !e.policy.Compatible(x, y) {
			continue
		}
		return y, true
	}
	return pool.Entry{}, false
}
