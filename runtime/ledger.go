package runtime

import (
	"encoding/json"
	"time"

	"collab-lab/domain"
	"collab-lab/domain/event"
	apperrors "collab-lab/errors"
)

// Ledger tracks per-scene monotonic revisions for optimistic concurrency.
// It detects stale concurrent edits; it never merges and never retries. An
// accepted proposal broadcasts scene_mutated inside the same critical section
// that advanced the revision, so subscribers always observe revisions of one
// scene in increasing order.
type Ledger struct {
	reg *Registry
}

func NewLedger(reg *Registry) *Ledger {
	return &Ledger{reg: reg}
}

// CurrentRevision returns 0 for a scene never mutated through this layer,
// including scenes of rooms that do not exist yet.
func (l *Ledger) CurrentRevision(roomID domain.RoomID, scene domain.SceneID) int64 {
	rm, ok := l.reg.lookup(roomID)
	if !ok {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.revisions[scene].Revision
}

// ProposeMutation accepts the write iff baseRevision equals the stored
// revision, then increments it and broadcasts scene_mutated atomically under
// the room lock. Concurrent proposers racing on the same base see exactly one
// winner; every loser gets a ConflictError pointing at the winner's revision
// and must re-fetch. Conflicts broadcast nothing.
func (l *Ledger) ProposeMutation(roomID domain.RoomID, participantID string, scene domain.SceneID, baseRevision int64, payload json.RawMessage) (int64, error) {
	rm, ok := l.reg.lookup(roomID)
	if !ok {
		return 0, apperrors.ErrRoomNotFound
	}
	now := time.Now().UTC()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.members[participantID]; !ok {
		return 0, apperrors.ErrNotAMember
	}

	entry := rm.revisions[scene]
	if baseRevision != entry.Revision {
		return 0, &apperrors.ConflictError{
			CurrentRevision: entry.Revision,
			LastWriter:      entry.LastWriter,
		}
	}

	next := entry.Revision + 1
	rm.revisions[scene] = domain.RevisionEntry{
		Revision:   next,
		LastWriter: participantID,
		UpdatedAt:  now,
	}
	rm.publishLocked(event.SceneMutated{
		Room:          rm.id,
		ParticipantID: participantID,
		Scene:         scene,
		Revision:      next,
		Payload:       payload,
		At:            now,
	})
	return next, nil
}
