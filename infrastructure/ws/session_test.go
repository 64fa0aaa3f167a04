package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"collab-lab/auth"
	"collab-lab/runtime"
	"collab-lab/services"
)

var testSecret = []byte("collab-test-secret")

func newCollabServer(t *testing.T, cfg SessionConfig) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.DiscardHandler)
	registry := runtime.NewRegistry(log, time.Minute)
	presence := runtime.NewPresenceStore(log, registry, cfg.HeartbeatTimeout, cfg.HeartbeatTimeout/2)
	svc := services.NewCollabService(log, registry, presence,
		runtime.NewLedger(registry), runtime.NewBroadcaster(log, registry))

	ts := httptest.NewServer(NewServer(log, svc, cfg).Router())
	t.Cleanup(ts.Close)
	return ts
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Secret:           testSecret,
		BufferSize:       16,
		JoinTimeout:      2 * time.Second,
		HeartbeatTimeout: 2 * time.Second,
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func signedToken(t *testing.T, participantID, projectID string, member bool) string {
	t.Helper()
	token, err := auth.Sign(auth.Claim{
		ParticipantID: participantID,
		DisplayName:   "User " + participantID,
		ProjectID:     projectID,
		Member:        member,
	}, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func joinRoom(t *testing.T, conn *websocket.Conn, participantID, projectID string) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       "join",
		"token":      signedToken(t, participantID, projectID, true),
		"project_id": projectID,
	}))
	frame := readFrame(t, conn)
	require.Equal(t, "joined", frame["type"])
	return frame
}

func TestIsIdleTimeout(t *testing.T) {
	req := require.New(t)

	// A real read-deadline failure, as the websocket's net.Conn produces it
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	req.NoError(client.SetReadDeadline(time.Now().Add(-time.Second)))
	_, err := client.Read(make([]byte, 1))
	req.Error(err)
	req.True(isIdleTimeout(err))

	req.False(isIdleTimeout(fmt.Errorf("connection reset")))
}

func TestSession_FirstFrameMustBeJoin(t *testing.T) {
	req := require.New(t)
	ts := newCollabServer(t, testSessionConfig())
	conn := dialWS(t, ts)

	req.NoError(conn.WriteJSON(map[string]any{"type": "heartbeat"}))

	frame := readFrame(t, conn)
	req.Equal("error", frame["type"])
	req.Equal("auth_rejected", frame["code"])
}

func TestSession_RejectsInvalidToken(t *testing.T) {
	req := require.New(t)
	ts := newCollabServer(t, testSessionConfig())
	conn := dialWS(t, ts)

	req.NoError(conn.WriteJSON(map[string]any{
		"type":       "join",
		"token":      "not-a-token",
		"project_id": "project-1",
	}))

	frame := readFrame(t, conn)
	req.Equal("error", frame["type"])
	req.Equal("auth_rejected", frame["code"])
}

func TestSession_RejectsNonMemberClaim(t *testing.T) {
	req := require.New(t)
	ts := newCollabServer(t, testSessionConfig())
	conn := dialWS(t, ts)

	req.NoError(conn.WriteJSON(map[string]any{
		"type":       "join",
		"token":      signedToken(t, "alice", "project-1", false),
		"project_id": "project-1",
	}))

	frame := readFrame(t, conn)
	req.Equal("error", frame["type"])
	req.Equal("not_authorized", frame["code"])
}

func TestSession_JoinAckCarriesSnapshotAndStreamsEvents(t *testing.T) {
	req := require.New(t)
	ts := newCollabServer(t, testSessionConfig())

	// Alice's join ack carries the snapshot with herself as the only member
	connA := dialWS(t, ts)
	joined := joinRoom(t, connA, "alice", "project-1")
	snapshot, ok := joined["snapshot"].(map[string]any)
	req.True(ok)
	req.Equal("project-1", snapshot["room_id"])
	members, ok := snapshot["members"].([]any)
	req.True(ok)
	req.Len(members, 1)

	// Bob's snapshot has both; alice is streamed his presence_changed
	connB := dialWS(t, ts)
	joinedB := joinRoom(t, connB, "bob", "project-1")
	snapshotB := joinedB["snapshot"].(map[string]any)
	req.Len(snapshotB["members"].([]any), 2)

	frame := readFrame(t, connA)
	req.Equal("event", frame["type"])
	req.Equal("presence_changed", frame["kind"])
	req.Equal("bob", frame["participant_id"])

	// Bob's accepted mutation is acked to him and streamed to alice
	req.NoError(connB.WriteJSON(map[string]any{
		"type": "mutate", "scene_id": "scene-s",
		"base_revision": 0,
		"payload":       json.RawMessage(`{"text":"draft"}`),
	}))
	ack := readFrame(t, connB)
	req.Equal("ack", ack["type"])
	req.Equal(float64(1), ack["revision"])

	frame = readFrame(t, connA)
	req.Equal("event", frame["type"])
	req.Equal("scene_mutated", frame["kind"])
	req.Equal(float64(1), frame["revision"])

	// A stale proposal comes back as a conflict frame naming the last writer
	req.NoError(connA.WriteJSON(map[string]any{
		"type": "mutate", "scene_id": "scene-s",
		"base_revision": 0,
		"payload":       json.RawMessage(`{}`),
	}))
	conflict := readFrame(t, connA)
	req.Equal("conflict", conflict["type"])
	req.Equal(float64(1), conflict["current_revision"])
	req.Equal("bob", conflict["last_writer"])
}

func TestSession_LeaveFrameEndsSessionWithBye(t *testing.T) {
	req := require.New(t)
	ts := newCollabServer(t, testSessionConfig())

	connA := dialWS(t, ts)
	joinRoom(t, connA, "alice", "project-1")
	connB := dialWS(t, ts)
	joinRoom(t, connB, "bob", "project-1")
	readFrame(t, connA) // bob joined

	req.NoError(connB.WriteJSON(map[string]any{"type": "leave"}))

	bye := readFrame(t, connB)
	req.Equal("bye", bye["type"])
	req.Equal("left", bye["reason"])

	frame := readFrame(t, connA)
	req.Equal("presence_changed", frame["kind"])
	req.Equal(true, frame["offline"])
	req.Equal("left", frame["reason"])
}

func TestSession_SilentConnectionTimesOut(t *testing.T) {
	req := require.New(t)
	cfg := testSessionConfig()
	cfg.HeartbeatTimeout = 150 * time.Millisecond
	ts := newCollabServer(t, cfg)

	conn := dialWS(t, ts)
	joinRoom(t, conn, "alice", "project-1")

	// No heartbeat: the server's read deadline expires and the session ends
	bye := readFrame(t, conn)
	req.Equal("bye", bye["type"])
}
