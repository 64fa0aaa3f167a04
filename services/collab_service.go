package services

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"collab-lab/auth"
	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/domain/event"
	apperrors "collab-lab/errors"
	"collab-lab/runtime"
)

// CollabService is the operation surface the transport layer talks to. It
// glues the registry, presence store, ledger and broadcaster together and
// enforces claim authorization on join.
type CollabService struct {
	log         *slog.Logger
	registry    *runtime.Registry
	presence    *runtime.PresenceStore
	ledger      *runtime.Ledger
	broadcaster *runtime.Broadcaster
}

func NewCollabService(log *slog.Logger, registry *runtime.Registry,
	presence *runtime.PresenceStore, ledger *runtime.Ledger,
	broadcaster *runtime.Broadcaster) *CollabService {
	return &CollabService{
		log:         log,
		registry:    registry,
		presence:    presence,
		ledger:      ledger,
		broadcaster: broadcaster,
	}
}

// Join admits a participant into the room named by their claim. The claim
// was validated upstream; here we only honor what it asserts. A claim for a
// different project, or one whose membership check failed, is NotAuthorized.
func (s *CollabService) Join(roomID domain.RoomID, claim *auth.Claim, sink contract.EventSink) (*domain.RoomSnapshot, error) {
	if claim == nil || !claim.Member || domain.RoomID(claim.ProjectID) != roomID {
		return nil, apperrors.ErrNotAuthorized
	}
	participant := domain.Participant{
		ID:          claim.ParticipantID,
		DisplayName: claim.DisplayName,
		AvatarURL:   claim.AvatarURL,
		SessionID:   uuid.New(),
	}
	return s.registry.Join(roomID, participant, sink)
}

func (s *CollabService) Leave(roomID domain.RoomID, participantID string) {
	s.registry.Leave(roomID, participantID, event.ReasonLeft)
}

func (s *CollabService) Heartbeat(roomID domain.RoomID, participantID string) error {
	return s.presence.Heartbeat(roomID, participantID)
}

func (s *CollabService) SetPresence(roomID domain.RoomID, participantID string, state domain.PresenceState, scene domain.SceneID) error {
	return s.presence.SetState(roomID, participantID, state, scene)
}

// ProposeMutation runs the optimistic-concurrency check. The ledger
// broadcasts scene_mutated inside its critical section on acceptance. On
// conflict the caller re-fetches current content and retries; nothing is
// merged server-side.
func (s *CollabService) ProposeMutation(roomID domain.RoomID, participantID string, scene domain.SceneID, baseRevision int64, payload json.RawMessage) (int64, error) {
	return s.ledger.ProposeMutation(roomID, participantID, scene, baseRevision, payload)
}

func (s *CollabService) AddComment(roomID domain.RoomID, participantID, targetType, targetID string, payload json.RawMessage) error {
	if err := s.requireMember(roomID, participantID); err != nil {
		return err
	}
	return s.broadcaster.Publish(event.CommentAdded{
		Room:          roomID,
		ParticipantID: participantID,
		TargetType:    targetType,
		TargetID:      targetID,
		Payload:       payload,
		At:            time.Now().UTC(),
	})
}

func (s *CollabService) MoveCursor(roomID domain.RoomID, participantID string, scene domain.SceneID, position int) error {
	if err := s.requireMember(roomID, participantID); err != nil {
		return err
	}
	return s.broadcaster.Publish(event.CursorMoved{
		Room:          roomID,
		ParticipantID: participantID,
		Scene:         scene,
		Position:      position,
		At:            time.Now().UTC(),
	})
}

func (s *CollabService) Members(roomID domain.RoomID) ([]domain.MemberSummary, error) {
	return s.registry.Members(roomID)
}

func (s *CollabService) Status(roomID domain.RoomID) (*domain.RoomStatus, error) {
	return s.registry.Status(roomID)
}

// requireMember reuses the heartbeat path as a membership probe: it refreshes
// liveness as a side effect, which is what we want for any explicit client
// action.
func (s *CollabService) requireMember(roomID domain.RoomID, participantID string) error {
	return s.presence.Heartbeat(roomID, participantID)
}
