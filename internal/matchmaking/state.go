package matchmaking

// State is a user's client-visible position in the matchmaking state
// machine. It is an explicit, inspectable value rather than something
// inferred from event history.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateMatched   State = "matched"
)
