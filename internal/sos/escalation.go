package sos

import (
	"time"

	"github.com/google/uuid"
)

type Target string

const (
	TargetFamily      Target = "family"
	TargetPolice      Target = "police"
	TargetControlRoom Target = "control_room"
)

// Ladder is indexed by escalation level.
var Ladder = []Target{TargetFamily, TargetPolice, TargetControlRoom}

const MaxLevel = 2

type RecordStatus string

const (
	RecordSent         RecordStatus = "sent"
	RecordAcknowledged RecordStatus = "acknowledged"
)

type EscalationRecord struct {
	ID             uuid.UUID    `json:"id"`
	EventID        uuid.UUID    `json:"event_id"`
	Level          int          `json:"level"`
	Target         Target       `json:"target"`
	Status         RecordStatus `json:"status"`
	SentAt         time.Time    `json:"sent_at"`
	AcknowledgedAt *time.Time   `json:"acknowledged_at,omitempty"`
}

func TargetFor(level int) Target {
	if level < 0 {
		level = 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return Ladder[level]
}

// NextLevel returns the rung above current and whether a move happened.
// At the top rung it returns current, false.
func NextLevel(current int) (int, bool) {
	if current >= MaxLevel {
		return current, false
	}
	if current < 0 {
		return 0, true
	}
	return current + 1, true
}

func newRecord(eventID uuid.UUID, level int, at time.Time) *EscalationRecord {
	return &EscalationRecord{
		ID:      uuid.New(),
		EventID: eventID,
		Level:   level,
		Target:  TargetFor(level),
		Status:  RecordSent,
		SentAt:  at,
	}
}

// InitialEscalation is the level 0 record written alongside a new event.
func InitialEscalation(e *Event) *EscalationRecord {
	return newRecord(e.ID, 0, e.CreatedAt)
}

// Escalate moves an active event one rung up. It returns nil when the event
// is no longer active or already at the top rung.
func (e *Event) Escalate(at time.Time) *EscalationRecord {
	if !e.Status.Active() {
		return nil
	}
	next, moved := NextLevel(e.EscalationLevel)
	if !moved {
		return nil
	}
	e.EscalationLevel = next
	e.UpdatedAt = at
	return newRecord(e.ID, next, at)
}

// Acknowledge marks a sent record acknowledged. Acknowledged records are left untouched.
func (r *EscalationRecord) Acknowledge(at time.Time) bool {
	if r.Status == RecordAcknowledged {
		return false
	}
	r.Status = RecordAcknowledged
	r.AcknowledgedAt = &at
	return true
}
