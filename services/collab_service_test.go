package services

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collab-lab/auth"
	"collab-lab/domain"
	"collab-lab/domain/event"
	apperrors "collab-lab/errors"
	"collab-lab/runtime"
	"collab-lab/sink"
)

func newService(t *testing.T) *CollabService {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	registry := runtime.NewRegistry(log, time.Minute)
	presence := runtime.NewPresenceStore(log, registry, time.Second, 200*time.Millisecond)
	return NewCollabService(log, registry, presence,
		runtime.NewLedger(registry), runtime.NewBroadcaster(log, registry))
}

func memberClaim(participantID, projectID string) *auth.Claim {
	return &auth.Claim{
		ParticipantID: participantID,
		DisplayName:   "User " + participantID,
		ProjectID:     projectID,
		Member:        true,
	}
}

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

func TestCollabService_Join_HonorsClaim(t *testing.T) {
	req := require.New(t)
	svc := newService(t)

	// A claim for a different project is not authorized
	_, err := svc.Join("project-1", memberClaim("alice", "project-2"), sink.NewSessionSink(8))
	req.ErrorIs(err, apperrors.ErrNotAuthorized)

	// A failed upstream membership check is not authorized
	rejected := memberClaim("alice", "project-1")
	rejected.Member = false
	_, err = svc.Join("project-1", rejected, sink.NewSessionSink(8))
	req.ErrorIs(err, apperrors.ErrNotAuthorized)

	// A matching member claim is admitted
	snapshot, err := svc.Join("project-1", memberClaim("alice", "project-1"), sink.NewSessionSink(8))
	req.NoError(err)
	req.Len(snapshot.Members, 1)
	req.Equal("alice", snapshot.Members[0].ParticipantID)
	req.Equal("User alice", snapshot.Members[0].DisplayName)
}

func TestCollabService_MutationScenario(t *testing.T) {
	req := require.New(t)
	svc := newService(t)
	payload := json.RawMessage(`{"text":"It was a dark and stormy night."}`)

	sinkA := sink.NewSessionSink(16)
	sinkB := sink.NewSessionSink(16)
	_, err := svc.Join("project-1", memberClaim("alice", "project-1"), sinkA)
	req.NoError(err)
	_, err = svc.Join("project-1", memberClaim("bob", "project-1"), sinkB)
	req.NoError(err)
	nextEnvelope(t, sinkA) // bob joined

	// Alice mutates scene S at base revision 0
	revision, err := svc.ProposeMutation("project-1", "alice", "scene-s", 0, payload)
	req.NoError(err)
	req.Equal(int64(1), revision)

	// Bob receives scene_mutated with the new revision and payload
	env := nextEnvelope(t, sinkB)
	mutated, ok := env.Event.(event.SceneMutated)
	req.True(ok)
	req.Equal("alice", mutated.ParticipantID)
	req.Equal(domain.SceneID("scene-s"), mutated.Scene)
	req.Equal(int64(1), mutated.Revision)
	req.JSONEq(string(payload), string(mutated.Payload))

	// Bob proposing against the stale base gets a conflict naming alice
	_, err = svc.ProposeMutation("project-1", "bob", "scene-s", 0, payload)
	var conflict *apperrors.ConflictError
	req.ErrorAs(err, &conflict)
	req.Equal(int64(1), conflict.CurrentRevision)
	req.Equal("alice", conflict.LastWriter)
}

func TestCollabService_CommentAndCursorFanOut(t *testing.T) {
	req := require.New(t)
	svc := newService(t)

	sinkA := sink.NewSessionSink(16)
	sinkB := sink.NewSessionSink(16)
	_, err := svc.Join("project-1", memberClaim("alice", "project-1"), sinkA)
	req.NoError(err)
	_, err = svc.Join("project-1", memberClaim("bob", "project-1"), sinkB)
	req.NoError(err)
	nextEnvelope(t, sinkA)

	req.NoError(svc.AddComment("project-1", "alice", "scene", "scene-s", json.RawMessage(`{"body":"tighten this"}`)))
	env := nextEnvelope(t, sinkB)
	comment, ok := env.Event.(event.CommentAdded)
	req.True(ok)
	req.Equal("scene", comment.TargetType)
	req.Equal("scene-s", comment.TargetID)

	req.NoError(svc.MoveCursor("project-1", "bob", "scene-s", 42))
	env = nextEnvelope(t, sinkA)
	cursor, ok := env.Event.(event.CursorMoved)
	req.True(ok)
	req.Equal(42, cursor.Position)

	// Non-members cannot author anything
	req.ErrorIs(svc.AddComment("project-1", "stranger", "scene", "scene-s", nil), apperrors.ErrNotAMember)
	req.ErrorIs(svc.MoveCursor("project-1", "stranger", "scene-s", 1), apperrors.ErrNotAMember)
}

func TestCollabService_FreshJoinAfterDropGetsTrueSnapshot(t *testing.T) {
	req := require.New(t)
	svc := newService(t)

	// Alice's outbound queue is tiny and never drained
	slowSink := sink.NewSessionSink(1)
	_, err := svc.Join("project-1", memberClaim("alice", "project-1"), slowSink)
	req.NoError(err)
	sinkB := sink.NewSessionSink(64)
	_, err = svc.Join("project-1", memberClaim("bob", "project-1"), sinkB)
	req.NoError(err)

	// Bob's edits saturate alice's queue until she is dropped
	base := int64(0)
	for i := 0; i < 4; i++ {
		revision, err := svc.ProposeMutation("project-1", "bob", "scene-s", base, json.RawMessage(`{}`))
		req.NoError(err)
		base = revision
	}
	select {
	case <-slowSink.Done():
		req.Equal(event.ReasonSlowConsumer, slowSink.Reason())
	case <-time.After(time.Second):
		t.Fatal("slow consumer was not dropped")
	}
	svc.Leave("project-1", "alice")

	// A fresh join yields the room's true current revisions, not a replay
	freshSink := sink.NewSessionSink(64)
	snapshot, err := svc.Join("project-1", memberClaim("alice", "project-1"), freshSink)
	req.NoError(err)
	req.Equal(int64(4), snapshot.Revisions["scene-s"].Revision)
	req.Equal("bob", snapshot.Revisions["scene-s"].LastWriter)
	req.Len(snapshot.Members, 2)

	// And the live stream resumes from the snapshot's sequence number
	req.NoError(svc.SetPresence("project-1", "bob", domain.PresenceTyping, "scene-s"))
	env := nextEnvelope(t, freshSink)
	req.Equal(snapshot.Seq+1, env.Seq)
}

func TestCollabService_StatusReportsTyping(t *testing.T) {
	req := require.New(t)
	svc := newService(t)

	_, err := svc.Join("project-1", memberClaim("alice", "project-1"), sink.NewSessionSink(16))
	req.NoError(err)
	req.NoError(svc.SetPresence("project-1", "alice", domain.PresenceTyping, "scene-s"))

	status, err := svc.Status("project-1")
	req.NoError(err)
	req.Len(status.Members, 1)
	req.Len(status.Typing, 1)
	req.Equal("alice", status.Typing[0].ParticipantID)
	req.Equal(domain.SceneID("scene-s"), status.Typing[0].SceneID)

	members, err := svc.Members("project-1")
	req.NoError(err)
	req.Equal(domain.PresenceTyping, members[0].State)
}
