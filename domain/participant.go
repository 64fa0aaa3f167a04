// Package domain contains core concepts of the collaboration system.
// This file defines Participant entities and presence states.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

type PresenceState string

const (
	PresenceOnline PresenceState = "online"
	PresenceTyping PresenceState = "typing"
	PresenceAway   PresenceState = "away"
)

// ValidPresenceState reports whether a client-declared state is one a
// participant may hold while connected. Offline is never declared, it is
// derived from leaving or eviction.
func ValidPresenceState(s PresenceState) bool {
	switch s {
	case PresenceOnline, PresenceTyping, PresenceAway:
		return true
	}
	return false
}

// Participant is the identity handed over by the auth layer for one live
// connection. SessionID distinguishes a reconnect from the prior connection
// of the same participant.
type Participant struct {
	ID          string
	DisplayName string
	AvatarURL   string
	SessionID   uuid.UUID
	JoinedAt    time.Time
}

// MemberSummary is a point-in-time view of one room member, safe to hand
// outside the room lock.
type MemberSummary struct {
	ParticipantID string        `json:"participant_id"`
	DisplayName   string        `json:"display_name"`
	AvatarURL     string        `json:"avatar_url,omitempty"`
	State         PresenceState `json:"state"`
	TypingScene   SceneID       `json:"typing_scene,omitempty"`
	JoinedAt      time.Time     `json:"joined_at"`
	LastSeen      time.Time     `json:"last_seen"`
}
