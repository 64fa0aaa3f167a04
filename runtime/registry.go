package runtime

import (
	"log/slog"
	"sync"
	"time"

	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/domain/event"
	apperrors "collab-lab/errors"
)

// Registry owns the set of active rooms and their membership lifecycle.
// The outer RWMutex only guards the room map; it is never held while a room
// mutates, so rooms stay independent.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[domain.RoomID]*room
	log         *slog.Logger
	gracePeriod time.Duration
}

func NewRegistry(log *slog.Logger, gracePeriod time.Duration) *Registry {
	return &Registry{
		rooms:       make(map[domain.RoomID]*room),
		log:         log,
		gracePeriod: gracePeriod,
	}
}

func (r *Registry) lookup(roomID domain.RoomID) (*room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}

func (r *Registry) getOrCreate(roomID domain.RoomID) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm
	}
	rm := newRoom(roomID, r.log)
	r.rooms[roomID] = rm
	r.log.Info("room created", "room_id", string(roomID))
	return rm
}

// Join creates the room if absent and adds the participant. A re-join by the
// same participant ID (network blip, second tab) replaces the stale entry:
// the prior sink is closed with reason "replaced" and the membership set
// never double-counts. Returns the snapshot the client resynchronizes from.
//
// The grace timer can fire between the room lookup and taking the room lock,
// closing and unmapping the room we are holding. Joining that orphan would
// admit a member nobody can reach, so joinRoom refuses closed rooms and Join
// retries with a fresh lookup.
func (r *Registry) Join(roomID domain.RoomID, p domain.Participant, sink contract.EventSink) (*domain.RoomSnapshot, error) {
	now := time.Now().UTC()
	for {
		rm := r.getOrCreate(roomID)
		if snapshot, ok := r.joinRoom(rm, p, sink, now); ok {
			return snapshot, nil
		}
	}
}

func (r *Registry) joinRoom(rm *room, p domain.Participant, sink contract.EventSink, now time.Time) (*domain.RoomSnapshot, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return nil, false
	}
	if rm.teardown != nil {
		rm.teardown.Stop()
		rm.teardown = nil
	}

	if prior, ok := rm.members[p.ID]; ok && prior.sink != nil {
		prior.sink.Close(event.ReasonReplaced)
	}
	p.JoinedAt = now
	rm.members[p.ID] = &member{
		participant:   p,
		state:         domain.PresenceOnline,
		lastHeartbeat: now,
		sink:          sink,
	}

	rm.publishLocked(event.PresenceChanged{
		Room:          rm.id,
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		State:         domain.PresenceOnline,
		At:            now,
	})

	r.log.Info("participant joined",
		"room_id", string(rm.id),
		"participant_id", p.ID,
		"session_id", p.SessionID.String())
	return rm.snapshotLocked(now), true
}

// Leave removes the participant and notifies the room. Leaving a room or a
// membership that no longer exists is a no-op, not an error: voluntary
// disconnect, eviction and slow-consumer drops may race and only the first
// one wins. An emptied room is torn down after the grace period so rapid
// rejoin flapping does not churn room state.
func (r *Registry) Leave(roomID domain.RoomID, participantID string, reason string) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return
	}
	now := time.Now().UTC()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.members[participantID]
	if !ok {
		return
	}
	delete(rm.members, participantID)
	if m.sink != nil {
		m.sink.Close(reason)
	}

	rm.publishLocked(event.PresenceChanged{
		Room:          roomID,
		ParticipantID: participantID,
		DisplayName:   m.participant.DisplayName,
		Offline:       true,
		Reason:        reason,
		At:            now,
	})

	r.log.Info("participant left",
		"room_id", string(roomID),
		"participant_id", participantID,
		"reason", reason)

	if len(rm.members) == 0 {
		r.scheduleTeardownLocked(rm)
	}
}

// scheduleTeardownLocked arms the grace-period timer on an empty room. The
// timer re-checks emptiness under both locks when it fires; any join in the
// window disarms it. Marking the room closed before unmapping it lets a join
// that already holds the stale pointer detect the teardown and retry.
func (r *Registry) scheduleTeardownLocked(rm *room) {
	if rm.teardown != nil {
		rm.teardown.Stop()
	}
	rm.teardown = time.AfterFunc(r.gracePeriod, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		rm.mu.Lock()
		defer rm.mu.Unlock()
		if len(rm.members) > 0 {
			return
		}
		rm.closed = true
		delete(r.rooms, rm.id)
		r.log.Info("room torn down", "room_id", string(rm.id))
	})
}

// Members returns an ordered point-in-time snapshot, never a live view.
func (r *Registry) Members(roomID domain.RoomID) ([]domain.MemberSummary, error) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.summariesLocked(), nil
}

// Status reports membership plus who is currently typing, mirroring what a
// freshly joined client needs to render indicators.
func (r *Registry) Status(roomID domain.RoomID) (*domain.RoomStatus, error) {
	rm, ok := r.lookup(roomID)
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var typing []domain.TypingSummary
	for _, m := range rm.members {
		if m.state != domain.PresenceTyping {
			continue
		}
		typing = append(typing, domain.TypingSummary{
			ParticipantID: m.participant.ID,
			DisplayName:   m.participant.DisplayName,
			SceneID:       m.typingScene,
			Since:         m.typingSince,
		})
	}
	return &domain.RoomStatus{
		RoomID:  roomID,
		Members: rm.summariesLocked(),
		Typing:  typing,
	}, nil
}

// Stats feeds the telemetry worker.
type Stats struct {
	Rooms       int
	Members     int
	Subscribers int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	stats := Stats{Rooms: len(rooms)}
	for _, rm := range rooms {
		rm.mu.Lock()
		stats.Members += len(rm.members)
		for _, m := range rm.members {
			if m.sink != nil {
				stats.Subscribers++
			}
		}
		rm.mu.Unlock()
	}
	return stats
}
