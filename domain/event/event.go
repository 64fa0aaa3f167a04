package event

import (
	"encoding/json"
	"time"

	"collab-lab/domain"
)

type Kind string

const (
	KindPresenceChanged Kind = "presence_changed"
	KindTypingChanged   Kind = "typing_changed"
	KindSceneMutated    Kind = "scene_mutated"
	KindCommentAdded    Kind = "comment_added"
	KindCursorMoved     Kind = "cursor_moved"
)

// Reasons attached to presence_changed(offline) and sink closure.
const (
	ReasonLeft         = "left"
	ReasonTimeout      = "timeout"
	ReasonReplaced     = "replaced"
	ReasonSlowConsumer = "slow_consumer"
	ReasonIdle         = "idle"
)

type DomainEvent interface {
	RoomID() domain.RoomID
	Origin() string
	Kind() Kind
}

// Envelope carries one event plus the per-room sequence number assigned at
// publish time. Seq establishes the total order of events within a room; it
// is never shared across rooms.
type Envelope struct {
	Seq   uint64
	Event DomainEvent
}

type PresenceChanged struct {
	Room          domain.RoomID
	ParticipantID string
	DisplayName   string
	State         domain.PresenceState
	Offline       bool
	Reason        string
	At            time.Time
}

func (e PresenceChanged) RoomID() domain.RoomID { return e.Room }
func (e PresenceChanged) Origin() string        { return e.ParticipantID }
func (e PresenceChanged) Kind() Kind            { return KindPresenceChanged }

type TypingChanged struct {
	Room          domain.RoomID
	ParticipantID string
	DisplayName   string
	Scene         domain.SceneID
	Typing        bool
	At            time.Time
}

func (e TypingChanged) RoomID() domain.RoomID { return e.Room }
func (e TypingChanged) Origin() string        { return e.ParticipantID }
func (e TypingChanged) Kind() Kind            { return KindTypingChanged }

type SceneMutated struct {
	Room          domain.RoomID
	ParticipantID string
	Scene         domain.SceneID
	Revision      int64
	Payload       json.RawMessage
	At            time.Time
}

func (e SceneMutated) RoomID() domain.RoomID { return e.Room }
func (e SceneMutated) Origin() string        { return e.ParticipantID }
func (e SceneMutated) Kind() Kind            { return KindSceneMutated }

type CommentAdded struct {
	Room          domain.RoomID
	ParticipantID string
	TargetType    string
	TargetID      string
	Payload       json.RawMessage
	At            time.Time
}

func (e CommentAdded) RoomID() domain.RoomID { return e.Room }
func (e CommentAdded) Origin() string        { return e.ParticipantID }
func (e CommentAdded) Kind() Kind            { return KindCommentAdded }

type CursorMoved struct {
	Room          domain.RoomID
	ParticipantID string
	Scene         domain.SceneID
	Position      int
	At            time.Time
}

func (e CursorMoved) RoomID() domain.RoomID { return e.Room }
func (e CursorMoved) Origin() string        { return e.ParticipantID }
func (e CursorMoved) Kind() Kind            { return KindCursorMoved }
