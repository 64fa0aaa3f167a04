package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"collab-lab/auth"
	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/domain/event"
	apperrors "collab-lab/errors"
	"collab-lab/sink"
)

type SessionState string

const (
	StateConnecting    SessionState = "connecting"
	StateAuthenticated SessionState = "authenticated"
	StateJoined        SessionState = "joined"
	StateActive        SessionState = "active"
	StateIdle          SessionState = "idle"
	StateDisconnected  SessionState = "disconnected"
)

type SessionConfig struct {
	Secret           []byte
	BufferSize       int
	JoinTimeout      time.Duration
	HeartbeatTimeout time.Duration
}

// Session owns the lifecycle of one live connection:
// Connecting -> Authenticated -> Joined -> {Active, Idle} -> Disconnected.
// The first frame must be a join carrying the signed claim; after that, a
// read loop feeds operations into the service while a write loop drains the
// connection's sink. Whatever ends the session, Leave runs exactly once
// against the registry (which makes a second Leave a no-op anyway).
type Session struct {
	log      *slog.Logger
	svc      contract.ICollabService
	conn     *websocket.Conn
	sink     *sink.SessionSink
	cfg      SessionConfig
	outbound chan any

	state         SessionState
	roomID        domain.RoomID
	participantID string
}

func NewSession(log *slog.Logger, svc contract.ICollabService, conn *websocket.Conn, cfg SessionConfig) *Session {
	return &Session{
		log:      log,
		svc:      svc,
		conn:     conn,
		sink:     sink.NewSessionSink(cfg.BufferSize),
		cfg:      cfg,
		outbound: make(chan any, 16),
		state:    StateConnecting,
	}
}

func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()
	defer s.setState(StateDisconnected)

	claim, err := s.awaitJoin()
	if err != nil {
		s.rejectAndClose(err)
		return
	}
	s.setState(StateAuthenticated)

	s.roomID = domain.RoomID(claim.ProjectID)
	s.participantID = claim.ParticipantID
	snapshot, err := s.svc.Join(s.roomID, claim, s.sink)
	if err != nil {
		s.rejectAndClose(err)
		return
	}
	s.setState(StateJoined)

	// The join ack carries the full snapshot: resume is snapshot plus live
	// stream from Seq, never an event replay.
	if err := s.writeFrame(JoinedFrame{Type: "joined", Snapshot: snapshot}); err != nil {
		s.svc.Leave(s.roomID, s.participantID)
		s.sink.Close(event.ReasonLeft)
		return
	}
	s.setState(StateActive)

	writerDone := make(chan struct{})
	go s.writeLoop(ctx, writerDone)

	s.readLoop()

	s.svc.Leave(s.roomID, s.participantID)
	s.sink.Close(event.ReasonLeft)
	<-writerDone
}

// awaitJoin reads the first frame under the join deadline and validates the
// claim it carries. Anything else on the wire is an authentication failure.
func (s *Session) awaitJoin() (*auth.Claim, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.JoinTimeout))

	var frame ClientFrame
	if err := s.conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("%w: no join frame: %w", apperrors.ErrAuthRejected, err)
	}
	if frame.Type != OpJoin {
		return nil, fmt.Errorf("%w: first frame must be join, got %q", apperrors.ErrAuthRejected, frame.Type)
	}
	if err := frame.CheckFields(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAuthRejected, err)
	}

	claim, err := auth.Verify(frame.Token, s.cfg.Secret)
	if err != nil {
		return nil, err
	}
	if claim.ProjectID != frame.ProjectID {
		return nil, apperrors.ErrNotAuthorized
	}
	return claim, nil
}

func (s *Session) readLoop() {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))

		var frame ClientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if isIdleTimeout(err) {
				s.setState(StateIdle)
			}
			s.log.Debug("read loop ended",
				"participant_id", s.participantID, "error", err)
			return
		}
		if frame.Type == OpLeave {
			return
		}
		if err := frame.CheckFields(); err != nil {
			s.send(ErrorFrame{Type: "error", Code: "bad_request", Message: err.Error()})
			continue
		}
		s.handle(&frame)
	}
}

// isIdleTimeout reports whether a read failed because the heartbeat deadline
// elapsed. Deadline failures surface as net.Error timeouts wrapping
// os.ErrDeadlineExceeded, never as context errors.
func isIdleTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// handle dispatches one validated frame. Operation failures degrade that
// operation only; the connection stays up and the client is told what broke.
func (s *Session) handle(frame *ClientFrame) {
	var err error
	switch frame.Type {
	case OpHeartbeat:
		err = s.svc.Heartbeat(s.roomID, s.participantID)
		s.setState(StateActive)
	case OpPresence:
		err = s.svc.SetPresence(s.roomID, s.participantID,
			domain.PresenceState(frame.State), domain.SceneID(frame.SceneID))
	case OpTyping:
		state := domain.PresenceOnline
		if *frame.Typing {
			state = domain.PresenceTyping
		}
		err = s.svc.SetPresence(s.roomID, s.participantID, state, domain.SceneID(frame.SceneID))
	case OpMutate:
		var revision int64
		revision, err = s.svc.ProposeMutation(s.roomID, s.participantID,
			domain.SceneID(frame.SceneID), *frame.BaseRevision, frame.Payload)
		if err == nil {
			s.send(AckFrame{Type: "ack", Op: OpMutate, SceneID: frame.SceneID, Revision: revision})
			return
		}
		var conflict *apperrors.ConflictError
		if errors.As(err, &conflict) {
			s.send(ConflictFrame{
				Type:            "conflict",
				SceneID:         frame.SceneID,
				CurrentRevision: conflict.CurrentRevision,
				LastWriter:      conflict.LastWriter,
			})
			return
		}
	case OpComment:
		err = s.svc.AddComment(s.roomID, s.participantID, frame.TargetType, frame.TargetID, frame.Payload)
	case OpCursor:
		err = s.svc.MoveCursor(s.roomID, s.participantID, domain.SceneID(frame.SceneID), *frame.Position)
	}
	if err != nil {
		s.send(ErrorFrame{Type: "error", Code: apperrors.MapToWireCode(err), Message: err.Error()})
	}
}

// writeLoop is the single writer on the connection. It interleaves broadcast
// envelopes with direct replies, and ends the connection when the sink is
// closed (slow consumer, replaced by a reconnect, or evicted).
func (s *Session) writeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer s.conn.Close()

	for {
		select {
		case env := <-s.sink.Events():
			if err := s.writeFrame(toEventFrame(env)); err != nil {
				return
			}
		case frame := <-s.outbound:
			if err := s.writeFrame(frame); err != nil {
				return
			}
		case <-s.sink.Done():
			_ = s.writeFrame(ByeFrame{Type: "bye", Reason: s.sink.Reason()})
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) writeFrame(frame any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(frame)
}

// send queues a direct reply for the write loop. If the writer already quit,
// the sink's done channel keeps the reader from blocking forever.
func (s *Session) send(frame any) {
	select {
	case s.outbound <- frame:
	case <-s.sink.Done():
	}
}

func (s *Session) setState(state SessionState) {
	if s.state == state {
		return
	}
	s.log.Debug("session state change",
		"participant_id", s.participantID,
		"from", string(s.state),
		"to", string(state))
	s.state = state
}

// rejectAndClose surfaces a Connecting-phase failure and closes. There is no
// retry without new credentials.
func (s *Session) rejectAndClose(err error) {
	s.log.Warn("connection rejected", "error", err)
	_ = s.writeFrame(ErrorFrame{
		Type:    "error",
		Code:    apperrors.MapToWireCode(err),
		Message: err.Error(),
	})
}
