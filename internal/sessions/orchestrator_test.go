package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRooms struct {
	mu       sync.Mutex
	calls    int
	failures int // fail this many calls before succeeding
}

func (f *fakeRooms) CreateRoom(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("chat backend unavailable")
	}
	return "room-1", nil
}

type fakeStore struct {
	mu        sync.Mutex
	saved     []uuid.UUID
	completed []uuid.UUID
}

func (f *fakeStore) SaveSession(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, s.ID)
	return nil
}

func (f *fakeStore) MarkSessionCompleted(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func newTestOrchestrator(rooms *fakeRooms, retries int) (*Orchestrator, *fakeStore) {
	store := &fakeStore{}
	return NewOrchestrator(rooms, store, retries, zerolog.Nop()), store
}

func TestCreateSession(t *testing.T) {
	o, store := newTestOrchestrator(&fakeRooms{}, 3)

	s, err := o.CreateSession(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, "room-1", s.RoomRef)
	assert.Equal(t, "alice", s.ParticipantA)
	assert.Equal(t, "bob", s.ParticipantB)
	assert.Equal(t, []uuid.UUID{s.ID}, store.saved)
}

func TestCreateSessionRetriesRoomCreation(t *testing.T) {
	rooms := &fakeRooms{failures: 2}
	o, _ := newTestOrchestrator(rooms, 3)

	s, err := o.CreateSession(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "room-1", s.RoomRef)
	assert.Equal(t, 3, rooms.calls)
}

func TestCreateSessionGivesUpAfterBoundedRetries(t *testing.T) {
	rooms := &fakeRooms{failures: 100}
	o, store := newTestOrchestrator(rooms, 3)

	_, err := o.CreateSession(context.Background(), "alice", "bob")
	require.Error(t, err)
	assert.Equal(t, 3, rooms.calls)
	assert.Empty(t, store.saved)
}

func TestCompleteSessionIsIdempotent(t *testing.T) {
	o, store := newTestOrchestrator(&fakeRooms{}, 1)
	s, err := o.CreateSession(context.Background(), "alice", "bob")
	require.NoError(t, err)

	first, err := o.CompleteSession(context.Background(), s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, first.Status)
	require.NotNil(t, first.CompletedAt)

	second, err := o.CompleteSession(context.Background(), s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)

	assert.Equal(t, []uuid.UUID{s.ID}, store.completed, "completion persisted once")
}

func TestCompleteUnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeRooms{}, 1)

	_, err := o.CompleteSession(context.Background(), uuid.New(), "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPartner(t *testing.T) {
	s := &Session{ParticipantA: "alice", ParticipantB: "bob"}
	assert.Equal(t, "bob", s.Partner("alice"))
	assert.Equal(t, "alice", s.Partner("bob"))
	assert.Equal(t, "", s.Partner("mallory"))
}
