package sink

import (
	"sync"

	"collab-lab/domain/event"
	apperrors "collab-lab/errors"
)

// SessionSink is the bounded outbound queue of one live connection. The
// broadcaster offers envelopes under the room lock, so Offer must never
// block: a full buffer means the consumer already fell a whole queue behind
// and gets dropped instead of stalling the room.
type SessionSink struct {
	events chan event.Envelope
	done   chan struct{}
	once   sync.Once
	reason string
}

func NewSessionSink(bufferSize int) *SessionSink {
	return &SessionSink{
		events: make(chan event.Envelope, bufferSize),
		done:   make(chan struct{}),
	}
}

func (s *SessionSink) Offer(env event.Envelope) error {
	select {
	case <-s.done:
		return apperrors.ErrSinkClosed
	default:
	}
	select {
	case s.events <- env:
		return nil
	default:
		return apperrors.ErrSlowConsumer
	}
}

// Close marks the sink dead with a reason. Idempotent; the first reason wins.
// The writer side of the session observes Done and tears the connection down.
func (s *SessionSink) Close(reason string) {
	s.once.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

// Events is drained by the session's write loop. Envelopes already queued
// before Close are still delivered if the writer gets to them first.
func (s *SessionSink) Events() <-chan event.Envelope { return s.events }

func (s *SessionSink) Done() <-chan struct{} { return s.done }

// Reason is valid only after Done is closed.
func (s *SessionSink) Reason() string { return s.reason }
