package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType distinguishes notifications published for a debate
type EventType string

const (
	EventTurn   EventType = "turn"
	EventStatus EventType = "status"
)

// Event is a notification emitted after a committed change to a debate
type Event struct {
	Type       EventType   `json:"type"`
	DebateID   uuid.UUID   `json:"debate_id"`
	Status     Status      `json:"status,omitempty"`
	StopReason *StopReason `json:"stop_reason,omitempty"`
	Turn       *Turn       `json:"turn,omitempty"`
	At         time.Time   `json:"at"`
}

// NewStatusEvent snapshots the debate status
func NewStatusEvent(d *Debate, at time.Time) Event {
	return Event{
		Type:       EventStatus,
		DebateID:   d.ID,
		Status:     d.Status,
		StopReason: d.StopReason,
		At:         at,
	}
}

// NewTurnEvent wraps a persisted turn
func NewTurnEvent(t *Turn, at time.Time) Event {
	return Event{
		Type:     EventTurn,
		DebateID: t.DebateID,
		Turn:     t,
		At:       at,
	}
}
