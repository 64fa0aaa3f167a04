package domain

import "time"

// RoomID is the project identifier the room is scoped to.
type RoomID string

type SceneID string

// RevisionEntry versions one scene's mutation history. Revisions are strictly
// increasing and never reused; a write is accepted only against the current
// revision.
type RevisionEntry struct {
	Revision   int64     `json:"revision"`
	LastWriter string    `json:"last_writer"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoomSnapshot is the full state a client needs after a join or reconnect.
// There is no event replay: a reconnecting client resynchronizes from this
// snapshot and resumes the stream at Seq.
type RoomSnapshot struct {
	RoomID    RoomID                    `json:"room_id"`
	Members   []MemberSummary           `json:"members"`
	Revisions map[SceneID]RevisionEntry `json:"revisions"`
	Seq       uint64                    `json:"seq"`
	TakenAt   time.Time                 `json:"taken_at"`
}

// TypingSummary reports one currently-typing member and the scene they type in.
type TypingSummary struct {
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	SceneID       SceneID   `json:"scene_id,omitempty"`
	Since         time.Time `json:"since"`
}

// RoomStatus is the answer to a room status query: who is here, who is typing.
type RoomStatus struct {
	RoomID  RoomID          `json:"room_id"`
	Members []MemberSummary `json:"members"`
	Typing  []TypingSummary `json:"typing"`
}
