package runtime

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"collab-lab/domain"
	"collab-lab/domain/event"
	apperrors "collab-lab/errors"
	"collab-lab/sink"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newParticipant(id string) domain.Participant {
	return domain.Participant{
		ID:          id,
		DisplayName: "Participant " + id,
		SessionID:   uuid.New(),
	}
}

// nextEnvelope fails the test if the sink receives nothing in time.
func nextEnvelope(t *testing.T, s *sink.SessionSink) event.Envelope {
	t.Helper()
	select {
	case env := <-s.Events():
		return env
	case <-time.After(time.Second):
		t.Fatal("no envelope delivered in time")
		return event.Envelope{}
	}
}

func requireNoEnvelope(t *testing.T, s *sink.SessionSink) {
	t.Helper()
	select {
	case env := <-s.Events():
		t.Fatalf("unexpected envelope delivered: seq=%d kind=%s", env.Seq, env.Event.Kind())
	default:
	}
}

func TestRegistry_Join_CreatesRoomAndSnapshot(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), time.Minute)
	roomID := domain.RoomID("project-1")
	sinkA := sink.NewSessionSink(8)

	// When the first participant joins
	snapshot, err := registry.Join(roomID, newParticipant("alice"), sinkA)

	// Then the room exists with exactly that member
	req.NoError(err)
	req.Equal(roomID, snapshot.RoomID)
	req.Len(snapshot.Members, 1)
	req.Equal("alice", snapshot.Members[0].ParticipantID)
	req.Equal(domain.PresenceOnline, snapshot.Members[0].State)
	req.Empty(snapshot.Revisions)

	// And the joiner does not receive its own presence event
	requireNoEnvelope(t, sinkA)
}

func TestRegistry_Join_SecondMemberNotifiesFirst(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), time.Minute)
	roomID := domain.RoomID("project-1")
	sinkA := sink.NewSessionSink(8)
	sinkB := sink.NewSessionSink(8)

	// Given alice is in the room
	_, err := registry.Join(roomID, newParticipant("alice"), sinkA)
	req.NoError(err)

	// When bob joins
	snapshot, err := registry.Join(roomID, newParticipant("bob"), sinkB)
	req.NoError(err)

	// Then both appear in the snapshot
	req.Len(snapshot.Members, 2)

	// And alice receives presence_changed(online) for bob
	env := nextEnvelope(t, sinkA)
	presence, ok := env.Event.(event.PresenceChanged)
	req.True(ok)
	req.Equal("bob", presence.ParticipantID)
	req.Equal(domain.PresenceOnline, presence.State)
	req.False(presence.Offline)

	// And bob receives nothing about his own join
	requireNoEnvelope(t, sinkB)
}

func TestRegistry_Join_RejoinReplacesStaleEntry(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), time.Minute)
	roomID := domain.RoomID("project-1")
	staleSink := sink.NewSessionSink(8)
	freshSink := sink.NewSessionSink(8)

	// Given alice joined once
	_, err := registry.Join(roomID, newParticipant("alice"), staleSink)
	req.NoError(err)

	// When alice rejoins after a network blip
	snapshot, err := registry.Join(roomID, newParticipant("alice"), freshSink)
	req.NoError(err)

	// Then membership never double-counts
	req.Len(snapshot.Members, 1)

	// And the stale connection is closed with the replaced reason
	select {
	case <-staleSink.Done():
		req.Equal(event.ReasonReplaced, staleSink.Reason())
	case <-time.After(time.Second):
		t.Fatal("stale sink was not closed")
	}
}

func TestRegistry_Leave_NotifiesRemainingMembers(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), time.Minute)
	roomID := domain.RoomID("project-1")
	sinkA := sink.NewSessionSink(8)
	sinkB := sink.NewSessionSink(8)

	_, err := registry.Join(roomID, newParticipant("alice"), sinkA)
	req.NoError(err)
	_, err = registry.Join(roomID, newParticipant("bob"), sinkB)
	req.NoError(err)
	// Drain alice's join notification for bob
	nextEnvelope(t, sinkA)

	// When bob leaves
	registry.Leave(roomID, "bob", event.ReasonLeft)

	// Then alice is told bob went offline
	env := nextEnvelope(t, sinkA)
	presence, ok := env.Event.(event.PresenceChanged)
	req.True(ok)
	req.Equal("bob", presence.ParticipantID)
	req.True(presence.Offline)
	req.Equal(event.ReasonLeft, presence.Reason)

	members, err := registry.Members(roomID)
	req.NoError(err)
	req.Len(members, 1)
	req.Equal("alice", members[0].ParticipantID)
}

func TestRegistry_Leave_AbsentParticipantIsNoop(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), time.Minute)
	roomID := domain.RoomID("project-1")

	_, err := registry.Join(roomID, newParticipant("alice"), sink.NewSessionSink(8))
	req.NoError(err)

	// Leaving twice, or leaving a room that never existed, must not error
	registry.Leave(roomID, "ghost", event.ReasonLeft)
	registry.Leave(domain.RoomID("no-such-project"), "alice", event.ReasonLeft)

	members, err := registry.Members(roomID)
	req.NoError(err)
	req.Len(members, 1)
}

func TestRegistry_EmptyRoomTornDownAfterGracePeriod(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), 30*time.Millisecond)
	roomID := domain.RoomID("project-1")

	_, err := registry.Join(roomID, newParticipant("alice"), sink.NewSessionSink(8))
	req.NoError(err)
	registry.Leave(roomID, "alice", event.ReasonLeft)

	// The room survives the grace period window
	_, err = registry.Members(roomID)
	req.NoError(err)

	req.Eventually(func() bool {
		_, err := registry.Members(roomID)
		return err != nil
	}, time.Second, 10*time.Millisecond)

	_, err = registry.Members(roomID)
	req.ErrorIs(err, apperrors.ErrRoomNotFound)
}

func TestRegistry_RejoinWithinGracePeriodKeepsRoom(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), 50*time.Millisecond)
	roomID := domain.RoomID("project-1")

	_, err := registry.Join(roomID, newParticipant("alice"), sink.NewSessionSink(8))
	req.NoError(err)
	registry.Leave(roomID, "alice", event.ReasonLeft)

	// Rejoin before the grace period elapses disarms the teardown
	_, err = registry.Join(roomID, newParticipant("alice"), sink.NewSessionSink(8))
	req.NoError(err)

	time.Sleep(120 * time.Millisecond)
	members, err := registry.Members(roomID)
	req.NoError(err)
	req.Len(members, 1)
}

func TestRegistry_Join_RacingTeardownLandsInFreshRoom(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), time.Hour)
	roomID := domain.RoomID("project-1")

	_, err := registry.Join(roomID, newParticipant("alice"), sink.NewSessionSink(8))
	req.NoError(err)
	stale, ok := registry.lookup(roomID)
	req.True(ok)
	registry.Leave(roomID, "alice", event.ReasonLeft)

	// Reproduce the grace timer firing between the room lookup and the join
	// taking the room lock: the room is closed and unmapped while a joiner
	// still holds the stale pointer.
	registry.mu.Lock()
	delete(registry.rooms, roomID)
	registry.mu.Unlock()
	stale.mu.Lock()
	stale.closed = true
	stale.mu.Unlock()

	// The closed room refuses the join instead of admitting an orphan member
	_, ok = registry.joinRoom(stale, newParticipant("bob"), sink.NewSessionSink(8), time.Now().UTC())
	req.False(ok)

	// And the public path retries into a fresh, reachable room
	bobSink := sink.NewSessionSink(8)
	snapshot, err := registry.Join(roomID, newParticipant("bob"), bobSink)
	req.NoError(err)
	req.Len(snapshot.Members, 1)

	members, err := registry.Members(roomID)
	req.NoError(err)
	req.Equal("bob", members[0].ParticipantID)

	// Events reach bob through the fresh room
	_, err = registry.Join(roomID, newParticipant("carol"), sink.NewSessionSink(8))
	req.NoError(err)
	env := nextEnvelope(t, bobSink)
	presence, ok := env.Event.(event.PresenceChanged)
	req.True(ok)
	req.Equal("carol", presence.ParticipantID)
}

func TestRegistry_Members_UnknownRoom(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(testLogger(), time.Minute)

	_, err := registry.Members(domain.RoomID("missing"))
	req.ErrorIs(err, apperrors.ErrRoomNotFound)

	_, err = registry.Status(domain.RoomID("missing"))
	req.ErrorIs(err, apperrors.ErrRoomNotFound)
}
