package matchmaking

import "errors"

var (
	// ErrSelfInvite is returned when a user targets themselves, either via
	// an invite or a targeted search.
	ErrSelfInvite = errors.New("cannot invite yourself")

	// ErrUnknownUser is returned when the profile store has no record for
	// the requested user.
	ErrUnknownUser = errors.New("unknown user")

	// ErrAlreadyMatched is returned when a user with an active session
	// tries to search or invite again before completing it.
	ErrAlreadyMatched = errors.New("already in an active session")

	// errInvariant marks a broken atomicity contract. It aborts the
	// offending operation and is never surfaced as a user error.
	errInvariant = errors.New("matchmaking invariant violated")
)
