package runtime

import (
	"log/slog"
	"time"

	"collab-lab/domain"
	"collab-lab/domain/event"
	apperrors "collab-lab/errors"
)

// PresenceStore is the authoritative view of per-room participant state.
// It shares the room state owned by the Registry; every update happens under
// the room's single lock.
type PresenceStore struct {
	reg              *Registry
	log              *slog.Logger
	heartbeatTimeout time.Duration
	typingIdle       time.Duration
}

func NewPresenceStore(log *slog.Logger, reg *Registry, heartbeatTimeout, typingIdle time.Duration) *PresenceStore {
	return &PresenceStore{
		reg:              reg,
		log:              log,
		heartbeatTimeout: heartbeatTimeout,
		typingIdle:       typingIdle,
	}
}

// SetState updates a member's declared presence and always refreshes the
// heartbeat. Typing transitions are broadcast as typing_changed so clients
// drive indicators off a single event kind; online/away transitions are
// broadcast as presence_changed.
func (p *PresenceStore) SetState(roomID domain.RoomID, participantID string, state domain.PresenceState, scene domain.SceneID) error {
	rm, ok := p.reg.lookup(roomID)
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	now := time.Now().UTC()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.members[participantID]
	if !ok {
		return apperrors.ErrNotAMember
	}

	prev := m.state
	m.lastHeartbeat = now
	m.state = state

	switch state {
	case domain.PresenceTyping:
		m.typingScene = scene
		m.typingDeadline = now.Add(p.typingIdle)
		if prev != domain.PresenceTyping {
			m.typingSince = now
		}
		rm.publishLocked(event.TypingChanged{
			Room:          roomID,
			ParticipantID: participantID,
			DisplayName:   m.participant.DisplayName,
			Scene:         scene,
			Typing:        true,
			At:            now,
		})
	default:
		if prev == domain.PresenceTyping {
			rm.publishLocked(event.TypingChanged{
				Room:          roomID,
				ParticipantID: participantID,
				DisplayName:   m.participant.DisplayName,
				Scene:         m.typingScene,
				Typing:        false,
				At:            now,
			})
		}
		m.typingScene = ""
		if prev != state {
			rm.publishLocked(event.PresenceChanged{
				Room:          roomID,
				ParticipantID: participantID,
				DisplayName:   m.participant.DisplayName,
				State:         state,
				At:            now,
			})
		}
	}
	return nil
}

// Heartbeat refreshes the liveness timestamp without changing the declared
// state. A typing member's idle deadline is extended too, since the client
// is demonstrably alive.
func (p *PresenceStore) Heartbeat(roomID domain.RoomID, participantID string) error {
	rm, ok := p.reg.lookup(roomID)
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	now := time.Now().UTC()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.members[participantID]
	if !ok {
		return apperrors.ErrNotAMember
	}
	m.lastHeartbeat = now
	if m.state == domain.PresenceTyping {
		m.typingDeadline = now.Add(p.typingIdle)
	}
	return nil
}

// SweepExpired walks every room once. Members past the heartbeat timeout are
// forcibly evicted, indistinguishable from a leave except for the timeout
// reason. Typing members past the idle window revert to online so a frozen
// client never leaves a stuck indicator. Returns the eviction count.
func (p *PresenceStore) SweepExpired(now time.Time) int {
	p.reg.mu.RLock()
	rooms := make([]*room, 0, len(p.reg.rooms))
	for _, rm := range p.reg.rooms {
		rooms = append(rooms, rm)
	}
	p.reg.mu.RUnlock()

	evicted := 0
	for _, rm := range rooms {
		evicted += p.sweepRoom(rm, now)
	}
	return evicted
}

func (p *PresenceStore) sweepRoom(rm *room, now time.Time) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	evicted := 0
	for id, m := range rm.members {
		if now.Sub(m.lastHeartbeat) > p.heartbeatTimeout {
			delete(rm.members, id)
			if m.sink != nil {
				m.sink.Close(event.ReasonTimeout)
			}
			rm.publishLocked(event.PresenceChanged{
				Room:          rm.id,
				ParticipantID: id,
				DisplayName:   m.participant.DisplayName,
				Offline:       true,
				Reason:        event.ReasonTimeout,
				At:            now,
			})
			p.log.Info("participant evicted",
				"room_id", string(rm.id),
				"participant_id", id,
				"last_heartbeat", m.lastHeartbeat)
			evicted++
			continue
		}
		if m.state == domain.PresenceTyping && now.After(m.typingDeadline) {
			m.state = domain.PresenceOnline
			scene := m.typingScene
			m.typingScene = ""
			rm.publishLocked(event.TypingChanged{
				Room:          rm.id,
				ParticipantID: id,
				DisplayName:   m.participant.DisplayName,
				Scene:         scene,
				Typing:        false,
				At:            now,
			})
		}
	}
	if len(rm.members) == 0 && evicted > 0 {
		p.reg.scheduleTeardownLocked(rm)
	}
	return evicted
}
