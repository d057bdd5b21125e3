package models

import "time"

// PresenceStatus is the ephemeral availability of a user.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// Valid reports whether the status is a known presence status.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// PresenceRecord is the in-memory presence entry for a user. Never
// persisted; staleness is bounded by the heartbeat sweep.
type PresenceRecord struct {
	UserID    int            `json:"user_id"`
	Status    PresenceStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}
