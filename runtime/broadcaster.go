package runtime

import (
	"log/slog"

	"collab-lab/domain/event"
	apperrors "collab-lab/errors"
)

// Broadcaster fans domain events out to a room's subscribers in sequence
// order. Sequence assignment and delivery happen together under the room
// lock (see room.publishLocked), which is what guarantees that any two
// subscribers receiving two events observe them in the same relative order.
// There is no ordering across rooms.
type Broadcaster struct {
	reg *Registry
	log *slog.Logger
}

func NewBroadcaster(log *slog.Logger, reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg, log: log}
}

// Publish assigns the room's next sequence number and delivers to every
// subscriber except the originating connection. Publishing to a room that no
// longer exists is an error; events are never buffered for absent rooms.
func (b *Broadcaster) Publish(evt event.DomainEvent) error {
	rm, ok := b.reg.lookup(evt.RoomID())
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.publishLocked(evt)
	return nil
}
