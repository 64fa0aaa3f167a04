package runtime

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/domain/event"
)

// room holds everything shared for one project: membership, presence,
// revisions, subscribers, and the broadcast sequence counter. All of it sits
// under one mutex so no two mutations to the same room interleave, and
// unrelated rooms never contend.
type room struct {
	mu        sync.Mutex
	id        domain.RoomID
	members   map[string]*member
	revisions map[domain.SceneID]domain.RevisionEntry
	seq       uint64
	teardown  *time.Timer
	closed    bool
	log       *slog.Logger
}

type member struct {
	participant    domain.Participant
	state          domain.PresenceState
	typingScene    domain.SceneID
	typingSince    time.Time
	typingDeadline time.Time
	lastHeartbeat  time.Time
	sink           contract.EventSink
}

func newRoom(id domain.RoomID, log *slog.Logger) *room {
	return &room{
		id:        id,
		members:   make(map[string]*member),
		revisions: make(map[domain.SceneID]domain.RevisionEntry),
		log:       log.With("room_id", string(id)),
	}
}

// publishLocked assigns the next sequence number and offers the envelope to
// every subscribed member except the originator. Must be called with r.mu
// held; this is what makes sequence assignment and delivery atomic per room,
// so every subscriber observes the same gap-free order.
//
// A member whose sink is full is unsubscribed on the spot and its sink closed
// with slow_consumer: the session layer turns that into a disconnect. Events
// are never dropped silently for a subscriber that stays connected.
func (r *room) publishLocked(evt event.DomainEvent) {
	r.seq++
	env := event.Envelope{Seq: r.seq, Event: evt}

	for id, m := range r.members {
		if id == evt.Origin() || m.sink == nil {
			continue
		}
		if err := m.sink.Offer(env); err != nil {
			r.log.Warn("dropping slow consumer",
				"participant_id", id,
				"seq", env.Seq,
				"kind", string(evt.Kind()),
				"error", err)
			m.sink.Close(event.ReasonSlowConsumer)
			m.sink = nil
		}
	}
}

// snapshotLocked captures the full room state a joining or reconnecting
// client resynchronizes from. Must be called with r.mu held.
func (r *room) snapshotLocked(now time.Time) *domain.RoomSnapshot {
	revisions := make(map[domain.SceneID]domain.RevisionEntry, len(r.revisions))
	for sceneID, entry := range r.revisions {
		revisions[sceneID] = entry
	}
	return &domain.RoomSnapshot{
		RoomID:    r.id,
		Members:   r.summariesLocked(),
		Revisions: revisions,
		Seq:       r.seq,
		TakenAt:   now,
	}
}

func (r *room) summariesLocked() []domain.MemberSummary {
	summaries := lo.MapToSlice(r.members, func(_ string, m *member) domain.MemberSummary {
		return domain.MemberSummary{
			ParticipantID: m.participant.ID,
			DisplayName:   m.participant.DisplayName,
			AvatarURL:     m.participant.AvatarURL,
			State:         m.state,
			TypingScene:   m.typingScene,
			JoinedAt:      m.participant.JoinedAt,
			LastSeen:      m.lastHeartbeat,
		}
	})
	slices.SortFunc(summaries, func(a, b domain.MemberSummary) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})
	return summaries
}
