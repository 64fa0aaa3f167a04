package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"collab-lab/domain"
	"collab-lab/domain/event"
)

var validate = validator.New()

// Frame types, client to server.
const (
	OpJoin      = "join"
	OpHeartbeat = "heartbeat"
	OpPresence  = "presence"
	OpTyping    = "typing"
	OpMutate    = "mutate"
	OpComment   = "comment"
	OpCursor    = "cursor"
	OpLeave     = "leave"
)

// ClientFrame is the single inbound message shape; Type selects which fields
// matter. Message framing is JSON over the websocket, but the ordering and
// sequence-number semantics carried back are the compatibility contract, not
// this shape.
type ClientFrame struct {
	Type         string          `json:"type" validate:"required,oneof=join heartbeat presence typing mutate comment cursor leave"`
	Token        string          `json:"token,omitempty"`
	ProjectID    string          `json:"project_id,omitempty"`
	State        string          `json:"state,omitempty" validate:"omitempty,oneof=online typing away"`
	SceneID      string          `json:"scene_id,omitempty"`
	Typing       *bool           `json:"typing,omitempty"`
	BaseRevision *int64          `json:"base_revision,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	TargetType   string          `json:"target_type,omitempty" validate:"omitempty,oneof=project scene story_object"`
	TargetID     string          `json:"target_id,omitempty"`
	Position     *int            `json:"position,omitempty"`
}

// CheckFields enforces the per-operation requirements the flat shape cannot
// express with struct tags alone.
func (f *ClientFrame) CheckFields() error {
	if err := validate.Struct(f); err != nil {
		return err
	}
	switch f.Type {
	case OpJoin:
		if f.Token == "" || f.ProjectID == "" {
			return fmt.Errorf("join requires token and project_id")
		}
	case OpPresence:
		if f.State == "" {
			return fmt.Errorf("presence requires state")
		}
	case OpTyping:
		if f.Typing == nil {
			return fmt.Errorf("typing requires typing flag")
		}
	case OpMutate:
		if f.SceneID == "" || f.BaseRevision == nil {
			return fmt.Errorf("mutate requires scene_id and base_revision")
		}
		if *f.BaseRevision < 0 {
			return fmt.Errorf("base_revision must not be negative")
		}
	case OpComment:
		if f.TargetType == "" || f.TargetID == "" {
			return fmt.Errorf("comment requires target_type and target_id")
		}
	case OpCursor:
		if f.SceneID == "" || f.Position == nil {
			return fmt.Errorf("cursor requires scene_id and position")
		}
	}
	return nil
}

// Server to client frames. One struct per type keeps marshaling explicit.

type JoinedFrame struct {
	Type     string               `json:"type"` // "joined"
	Snapshot *domain.RoomSnapshot `json:"snapshot"`
}

type AckFrame struct {
	Type     string `json:"type"` // "ack"
	Op       string `json:"op"`
	SceneID  string `json:"scene_id,omitempty"`
	Revision int64  `json:"revision,omitempty"`
}

type ConflictFrame struct {
	Type            string `json:"type"` // "conflict"
	SceneID         string `json:"scene_id"`
	CurrentRevision int64  `json:"current_revision"`
	LastWriter      string `json:"last_writer,omitempty"`
}

type ErrorFrame struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ByeFrame struct {
	Type   string `json:"type"` // "bye"
	Reason string `json:"reason"`
}

// EventFrame is one broadcast envelope on the wire. Seq is the per-room
// total order; a client tracking Seq can detect it was disconnected (its
// next frame after a reconnect starts from the snapshot's Seq, never from a
// replay).
type EventFrame struct {
	Type          string          `json:"type"` // "event"
	Seq           uint64          `json:"seq"`
	Kind          string          `json:"kind"`
	RoomID        string          `json:"room_id"`
	ParticipantID string          `json:"participant_id"`
	DisplayName   string          `json:"display_name,omitempty"`
	State         string          `json:"state,omitempty"`
	Offline       bool            `json:"offline,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	SceneID       string          `json:"scene_id,omitempty"`
	Typing        *bool           `json:"typing,omitempty"`
	Revision      int64           `json:"revision,omitempty"`
	Position      *int            `json:"position,omitempty"`
	TargetType    string          `json:"target_type,omitempty"`
	TargetID      string          `json:"target_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	At            time.Time       `json:"at"`
}

func toEventFrame(env event.Envelope) EventFrame {
	frame := EventFrame{
		Type:          "event",
		Seq:           env.Seq,
		Kind:          string(env.Event.Kind()),
		RoomID:        string(env.Event.RoomID()),
		ParticipantID: env.Event.Origin(),
	}
	switch e := env.Event.(type) {
	case event.PresenceChanged:
		frame.DisplayName = e.DisplayName
		frame.State = string(e.State)
		frame.Offline = e.Offline
		frame.Reason = e.Reason
		frame.At = e.At
	case event.TypingChanged:
		frame.DisplayName = e.DisplayName
		frame.SceneID = string(e.Scene)
		frame.Typing = &e.Typing
		frame.At = e.At
	case event.SceneMutated:
		frame.SceneID = string(e.Scene)
		frame.Revision = e.Revision
		frame.Payload = e.Payload
		frame.At = e.At
	case event.CommentAdded:
		frame.TargetType = e.TargetType
		frame.TargetID = e.TargetID
		frame.Payload = e.Payload
		frame.At = e.At
	case event.CursorMoved:
		frame.SceneID = string(e.Scene)
		frame.Position = &e.Position
		frame.At = e.At
	}
	return frame
}
