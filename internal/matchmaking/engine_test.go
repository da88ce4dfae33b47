package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap-backend/internal/invites"
	"skillswap-backend/internal/sessions"
	"skillswap-backend/internal/storage"
)

type fakeProfiles map[string]*storage.Profile

func (f fakeProfiles) GetProfile(_ context.Context, userID string) (*storage.Profile, error) {
	if p, ok := f[userID]; ok {
		return p, nil
	}
	return nil, storage.ErrProfileNotFound
}

func profile(id string, teach, learn []string) *storage.Profile {
	return &storage.Profile{
		ID:          id,
		Username:    id,
		Rating:      4.5,
		SkillsTeach: teach,
		SkillsLearn: learn,
	}
}

type fakeRooms struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (f *fakeRooms) CreateRoom(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("chat backend unavailable")
	}
	return fmt.Sprintf("room-%d", f.calls), nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	matched map[string][]MatchPayload
	failed  map[string][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		matched: make(map[string][]MatchPayload),
		failed:  make(map[string][]string),
	}
}

func (f *fakeNotifier) MatchFound(userID string, payload MatchPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matched[userID] = append(f.matched[userID], payload)
}

func (f *fakeNotifier) MatchFailed(userID string, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[userID] = append(f.failed[userID], reason)
}

func (f *fakeNotifier) matchesFor(userID string) []MatchPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MatchPayload(nil), f.matched[userID]...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, profiles fakeProfiles, rooms *fakeRooms) (*Engine, *fakeNotifier, *testClock) {
	t.Helper()
	notifier := newFakeNotifier()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	orchestrator := sessions.NewOrchestrator(rooms, nil, 3, zerolog.Nop())
	e := NewEngine(orchestrator, profiles, notifier, nil, Config{
		Policy:      DefaultPolicy(),
		GracePeriod: 30 * time.Second,
		InviteTTL:   2 * time.Minute,
	}, zerolog.Nop())
	e.now = clock.Now
	return e, notifier, clock
}

func TestOpenSearchPairsCompatibleUsers(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", []string{"Go"}, []string{"Piano"}),
		"y": profile("y", []string{"Piano"}, []string{"Go"}),
	}
	e, notifier, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	res, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	assert.Equal(t, ResultSearching, res.Status)
	assert.Equal(t, StateSearching, e.StateFor("x"))

	res, err = e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	require.Equal(t, ResultMatched, res.Status)
	assert.Equal(t, "x", res.Partner.UserID)

	xMatches := notifier.matchesFor("x")
	yMatches := notifier.matchesFor("y")
	require.Len(t, xMatches, 1)
	require.Len(t, yMatches, 1)
	assert.Equal(t, xMatches[0].RoomID, yMatches[0].RoomID, "both sides share one room")
	assert.Equal(t, xMatches[0].SessionID, yMatches[0].SessionID)
	assert.Equal(t, "y", xMatches[0].Partner.UserID)
	assert.Equal(t, "x", yMatches[0].Partner.UserID)
	assert.Equal(t, 4.5, xMatches[0].Partner.Rating)

	assert.Empty(t, e.SnapshotPool(), "both entries removed atomically")
	assert.Equal(t, StateMatched, e.StateFor("x"))
	assert.Equal(t, StateMatched, e.StateFor("y"))
}

func TestSkillOverlapFilterSkipsIncompatible(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", []string{"Go"}, []string{"Piano"}),
		"z": profile("z", []string{"Go"}, []string{"Piano"}),
	}
	e, _, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	res, err := e.FindMatch(ctx, "z", "")
	require.NoError(t, err)
	assert.Equal(t, ResultSearching, res.Status, "neither teaches what the other wants")
	assert.Len(t, e.SnapshotPool(), 2)
}

func TestEmptySkillSetsAcceptAnyPairing(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", []string{"Go"}, []string{"Piano"}),
	}
	e, _, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	res, err := e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	assert.Equal(t, ResultMatched, res.Status)
}

func TestOldestEligibleSearcherWins(t *testing.T) {
	profiles := fakeProfiles{
		"a": profile("a", []string{"Go"}, []string{"Piano"}),
		"c": profile("c", []string{"Go"}, []string{"Piano"}),
		"y": profile("y", []string{"Piano"}, []string{"Go"}),
	}
	e, notifier, clock := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "a", "")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = e.FindMatch(ctx, "c", "")
	require.NoError(t, err)
	clock.Advance(time.Second)

	res, err := e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	require.Equal(t, ResultMatched, res.Status)
	assert.Equal(t, "a", res.Partner.UserID, "oldest eligible candidate first")

	assert.Empty(t, notifier.matchesFor("c"))
	assert.Equal(t, StateSearching, e.StateFor("c"))
}

func TestThreeOpenSearchersPairOldestTwo(t *testing.T) {
	profiles := fakeProfiles{
		"a": profile("a", nil, nil),
		"b": profile("b", nil, nil),
		"c": profile("c", nil, nil),
	}
	e, notifier, clock := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "a", "")
	require.NoError(t, err)
	clock.Advance(time.Second)
	res, err := e.FindMatch(ctx, "b", "")
	require.NoError(t, err)
	assert.Equal(t, ResultMatched, res.Status)
	clock.Advance(time.Second)
	res, err = e.FindMatch(ctx, "c", "")
	require.NoError(t, err)
	assert.Equal(t, ResultSearching, res.Status)

	require.Len(t, notifier.matchesFor("a"), 1)
	require.Len(t, notifier.matchesFor("b"), 1)
	assert.Empty(t, notifier.matchesFor("c"))
	assert.Equal(t, StateSearching, e.StateFor("c"))
}

func TestInviteRequiresMutualOptIn(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
		"z": profile("z", nil, nil),
	}
	e, notifier, clock := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	// X invites Y and auto-joins the queue targeted at Y.
	_, err := e.SendInvite(ctx, "x", "y")
	require.NoError(t, err)
	res, err := e.FindMatch(ctx, "x", "y")
	require.NoError(t, err)
	assert.Equal(t, ResultSearching, res.Status, "invite alone never pairs")

	// An unrelated open searcher must not consume X.
	clock.Advance(time.Second)
	res, err = e.FindMatch(ctx, "z", "")
	require.NoError(t, err)
	assert.Equal(t, ResultSearching, res.Status)
	assert.Empty(t, notifier.matchesFor("x"))

	// Y's own open search resolves against X, not against Z who arrived
	// earlier.
	clock.Advance(time.Second)
	res, err = e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	require.Equal(t, ResultMatched, res.Status)
	assert.Equal(t, "x", res.Partner.UserID)
	assert.Equal(t, StateSearching, e.StateFor("z"))

	// The invite was consumed by the match.
	snap := e.SnapshotInvites()
	require.Len(t, snap, 1)
	assert.Equal(t, invites.StatusConsumed, snap[0].Status)
}

func TestInviteWithoutTargetActionNeverMatches(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
	}
	e, notifier, clock := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.SendInvite(ctx, "x", "y")
	require.NoError(t, err)
	_, err = e.FindMatch(ctx, "x", "y")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	assert.Empty(t, notifier.matchesFor("x"))
	assert.Empty(t, notifier.matchesFor("y"))
	assert.Equal(t, StateSearching, e.StateFor("x"))
	assert.Equal(t, StateIdle, e.StateFor("y"))
}

func TestExpiredInviteCleansUpTargetedEntry(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
	}
	e, _, clock := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.SendInvite(ctx, "x", "y")
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)
	assert.Equal(t, 1, e.ExpireInvites(clock.Now()))
	assert.Empty(t, e.SnapshotPool(), "sender's targeted entry removed with the invite")
	assert.Equal(t, StateIdle, e.StateFor("x"))

	// Y searching now finds nobody: no late match off an expired invite.
	res, err := e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	assert.Equal(t, ResultSearching, res.Status)
}

func TestInviteSupersession(t *testing.T) {
	profiles := fakeProfiles{
		"a": profile("a", nil, nil),
		"b": profile("b", nil, nil),
	}
	e, _, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	first, err := e.SendInvite(ctx, "a", "b")
	require.NoError(t, err)
	second, err := e.SendInvite(ctx, "a", "b")
	require.NoError(t, err)

	snap := e.SnapshotInvites()
	require.Len(t, snap, 2)
	byID := map[string]invites.Status{}
	for _, inv := range snap {
		byID[inv.ID.String()] = inv.Status
	}
	assert.Equal(t, invites.StatusCancelled, byID[first.ID.String()])
	assert.Equal(t, invites.StatusPending, byID[second.ID.String()])
}

func TestSelfInviteRejected(t *testing.T) {
	profiles := fakeProfiles{"a": profile("a", nil, nil)}
	e, _, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.SendInvite(ctx, "a", "a")
	assert.ErrorIs(t, err, ErrSelfInvite)
	_, err = e.FindMatch(ctx, "a", "a")
	assert.ErrorIs(t, err, ErrSelfInvite)
}

func TestUnknownUserRejected(t *testing.T) {
	profiles := fakeProfiles{"a": profile("a", nil, nil)}
	e, _, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "ghost", "")
	assert.ErrorIs(t, err, ErrUnknownUser)
	_, err = e.SendInvite(ctx, "a", "ghost")
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.Empty(t, e.SnapshotPool())
}

func TestCancelSearchIsIdempotent(t *testing.T) {
	profiles := fakeProfiles{"a": profile("a", nil, nil), "b": profile("b", nil, nil)}
	e, _, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "a", "")
	require.NoError(t, err)
	_, err = e.SendInvite(ctx, "a", "b")
	require.NoError(t, err)

	assert.True(t, e.CancelSearch("a"))
	assert.Equal(t, StateIdle, e.StateFor("a"))
	assert.Empty(t, e.SnapshotPool())

	assert.False(t, e.CancelSearch("a"), "second cancel is a no-op")
	assert.Equal(t, StateIdle, e.StateFor("a"))

	for _, inv := range e.SnapshotInvites() {
		assert.Equal(t, invites.StatusCancelled, inv.Status)
	}
}

func TestCancelLosesToConcurrentMatch(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
	}
	e, notifier, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	_, err = e.FindMatch(ctx, "y", "")
	require.NoError(t, err)

	// The match already removed x's entry; cancellation is a no-op and the
	// user stays matched.
	assert.False(t, e.CancelSearch("x"))
	assert.Equal(t, StateMatched, e.StateFor("x"))
	require.Len(t, notifier.matchesFor("x"), 1)
}

func TestRoomCreationFailureReturnsBothToIdle(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
	}
	rooms := &fakeRooms{failures: 100}
	e, notifier, _ := newTestEngine(t, profiles, rooms)
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	_, err = e.FindMatch(ctx, "y", "")
	require.Error(t, err)

	assert.Equal(t, StateIdle, e.StateFor("x"))
	assert.Equal(t, StateIdle, e.StateFor("y"))
	assert.Empty(t, e.SnapshotPool(), "participants are not re-enqueued")
	assert.Len(t, notifier.failed["x"], 1)
	assert.Len(t, notifier.failed["y"], 1)
	assert.Empty(t, notifier.matchesFor("x"))
}

func TestRoomCreationRetriesThenSucceeds(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
	}
	rooms := &fakeRooms{failures: 2}
	e, _, _ := newTestEngine(t, profiles, rooms)
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	res, err := e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	assert.Equal(t, ResultMatched, res.Status)
}

func TestDisconnectWithinGracePreservesEntry(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
	}
	e, _, clock := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	e.HandleDisconnect("x")

	clock.Advance(10 * time.Second)
	assert.Equal(t, 0, e.SweepStale(clock.Now()))

	res, err := e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	assert.Equal(t, ResultMatched, res.Status, "entry still matchable inside the grace period")
}

func TestDisconnectBeyondGraceCancelsSearch(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
	}
	e, _, clock := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	e.HandleDisconnect("x")

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, e.SweepStale(clock.Now()))
	assert.Empty(t, e.SnapshotPool())
	assert.Equal(t, StateIdle, e.StateFor("x"))

	res, err := e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	assert.Equal(t, ResultSearching, res.Status, "no late match after removal")
}

func TestReconnectClearsStaleMark(t *testing.T) {
	profiles := fakeProfiles{"x": profile("x", nil, nil)}
	e, _, clock := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	e.HandleDisconnect("x")
	e.HandleReconnect("x")

	clock.Advance(time.Hour)
	assert.Equal(t, 0, e.SweepStale(clock.Now()))
	assert.Len(t, e.SnapshotPool(), 1)
}

func TestCompleteSessionReturnsParticipantsToIdle(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
	}
	e, _, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	res, err := e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	require.Equal(t, ResultMatched, res.Status)

	s, err := e.CompleteSession(ctx, res.Session.ID, "x")
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCompleted, s.Status)
	assert.Equal(t, StateIdle, e.StateFor("x"))
	assert.Equal(t, StateIdle, e.StateFor("y"))

	// Completing again is a no-op, not an error.
	_, err = e.CompleteSession(ctx, res.Session.ID, "y")
	assert.NoError(t, err)
}

func TestMatchedUserCannotSearchOrInviteAgain(t *testing.T) {
	profiles := fakeProfiles{
		"x": profile("x", nil, nil),
		"y": profile("y", nil, nil),
		"z": profile("z", nil, nil),
	}
	e, _, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	_, err := e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	res, err := e.FindMatch(ctx, "y", "")
	require.NoError(t, err)
	require.Equal(t, ResultMatched, res.Status)

	_, err = e.FindMatch(ctx, "x", "")
	assert.ErrorIs(t, err, ErrAlreadyMatched)
	_, err = e.SendInvite(ctx, "y", "z")
	assert.ErrorIs(t, err, ErrAlreadyMatched)

	// The rejected intents left no trace: nobody re-entered the pool and
	// both participants still hold their single session.
	assert.Empty(t, e.SnapshotPool())
	assert.Equal(t, StateMatched, e.StateFor("x"))
	assert.Equal(t, StateMatched, e.StateFor("y"))

	// Completion clears the way for a fresh search.
	_, err = e.CompleteSession(ctx, res.Session.ID, "x")
	require.NoError(t, err)
	_, err = e.FindMatch(ctx, "x", "")
	require.NoError(t, err)
	assert.Equal(t, StateSearching, e.StateFor("x"))
}

func TestConcurrentSearchersNeverDoubleMatch(t *testing.T) {
	const n = 20
	profiles := fakeProfiles{}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("user-%02d", i)
		profiles[id] = profile(id, nil, nil)
	}
	e, notifier, _ := newTestEngine(t, profiles, &fakeRooms{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for id := range profiles {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := e.FindMatch(ctx, userID, "")
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	// No user appears in the pool more than once.
	seen := map[string]bool{}
	for _, entry := range e.SnapshotPool() {
		assert.False(t, seen[entry.UserID], "duplicate pool entry for %s", entry.UserID)
		seen[entry.UserID] = true
	}

	// Every matched user was matched exactly once, and partners agree on
	// the session.
	matchedUsers := 0
	for id := range profiles {
		payloads := notifier.matchesFor(id)
		require.LessOrEqual(t, len(payloads), 1, "user %s matched more than once", id)
		if len(payloads) == 0 {
			continue
		}
		matchedUsers++
		partner := payloads[0].Partner.UserID
		partnerPayloads := notifier.matchesFor(partner)
		require.Len(t, partnerPayloads, 1)
		assert.Equal(t, id, partnerPayloads[0].Partner.UserID)
		assert.Equal(t, payloads[0].SessionID, partnerPayloads[0].SessionID)
	}

	assert.Equal(t, n, matchedUsers+len(seen), "every user is either matched or still searching")
	assert.Equal(t, 0, matchedUsers%2)
}
