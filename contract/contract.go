//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"collab-lab/auth"
	"collab-lab/domain"
	"collab-lab/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is one subscriber's bounded outbound queue. Offer never blocks:
// a full queue returns ErrSlowConsumer and the broadcaster drops the
// subscriber rather than stalling the room. Close is idempotent.
type EventSink interface {
	Offer(env event.Envelope) error
	Close(reason string)
}

// IRegistry owns room lifecycle and membership.
type IRegistry interface {
	Join(roomID domain.RoomID, p domain.Participant, sink EventSink) (*domain.RoomSnapshot, error)
	Leave(roomID domain.RoomID, participantID string, reason string)
	Members(roomID domain.RoomID) ([]domain.MemberSummary, error)
	Status(roomID domain.RoomID) (*domain.RoomStatus, error)
}

// ISweeper evicts members whose heartbeat expired and reverts stale typing
// indicators. Returns the number of evicted members.
type ISweeper interface {
	SweepExpired(now time.Time) int
}

// ICollabService is the operation surface exposed to transports. Join
// authorizes against the pre-validated claim; everything else requires an
// existing membership.
type ICollabService interface {
	Join(roomID domain.RoomID, claim *auth.Claim, sink EventSink) (*domain.RoomSnapshot, error)
	Leave(roomID domain.RoomID, participantID string)
	Heartbeat(roomID domain.RoomID, participantID string) error
	SetPresence(roomID domain.RoomID, participantID string, state domain.PresenceState, scene domain.SceneID) error
	ProposeMutation(roomID domain.RoomID, participantID string, scene domain.SceneID, baseRevision int64, payload json.RawMessage) (int64, error)
	AddComment(roomID domain.RoomID, participantID, targetType, targetID string, payload json.RawMessage) error
	MoveCursor(roomID domain.RoomID, participantID string, scene domain.SceneID, position int) error
	Members(roomID domain.RoomID) ([]domain.MemberSummary, error)
	Status(roomID domain.RoomID) (*domain.RoomStatus, error)
}
