// Package sos holds the emergency event lifecycle and escalation ladder.
package sos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusTriggered    Status = "triggered"
	StatusAcknowledged Status = "acknowledged"
	StatusResponding   Status = "responding"
	StatusResolved     Status = "resolved"
	StatusFalseAlarm   Status = "false_alarm"
)

// happy path order; false_alarm sits outside it
var rank = map[Status]int{
	StatusTriggered:    0,
	StatusAcknowledged: 1,
	StatusResponding:   2,
	StatusResolved:     3,
}

func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok || s == StatusFalseAlarm
}

func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalseAlarm
}

// Active reports whether the event still needs a response.
func (s Status) Active() bool {
	return s.Valid() && !s.Terminal()
}

type TriggerMode string

const (
	ModeButton      TriggerMode = "button"
	ModeSilent      TriggerMode = "silent"
	ModePanicWord   TriggerMode = "panic_word"
	ModeShake       TriggerMode = "shake"
	ModeVolume      TriggerMode = "volume"
	ModeAnomalyAuto TriggerMode = "anomaly_auto"
)

var TriggerModes = []TriggerMode{ModeButton, ModeSilent, ModePanicWord, ModeShake, ModeVolume, ModeAnomalyAuto}

func (m TriggerMode) Valid() bool {
	for _, v := range TriggerModes {
		if m == v {
			return true
		}
	}
	return false
}

const PriorityCritical = "critical"

var ErrInvalidTransition = errors.New("invalid sos status transition")

// ErrActiveExists is returned by stores when the user already has an open event.
var ErrActiveExists = errors.New("user already has an active sos event")

// ErrStaleStatus is returned by stores when the event left the status it was
// read in before the update was written.
var ErrStaleStatus = errors.New("sos event status changed concurrently")

// CanTransition reports whether an event in status from may move to status to.
func CanTransition(from, to Status) bool {
	if !from.Active() || !to.Valid() {
		return false
	}
	if to == StatusFalseAlarm {
		return true
	}
	return rank[to] > rank[from]
}

const (
	baseConfidenceButton = 95
	baseConfidenceOther  = 85
	descriptionBonus     = 5
)

// Confidence estimates how likely a trigger is a genuine emergency.
func Confidence(mode TriggerMode, hasDescription bool) int {
	c := baseConfidenceOther
	if mode == ModeButton {
		c = baseConfidenceButton
	}
	if hasDescription {
		c += descriptionBonus
	}
	if c > 100 {
		return 100
	}
	if c < 0 {
		return 0
	}
	return c
}

type Event struct {
	ID              uuid.UUID   `json:"id"`
	UserID          uuid.UUID   `json:"user_id"`
	TriggerMode     TriggerMode `json:"trigger_mode"`
	Status          Status      `json:"status"`
	Priority        string      `json:"priority"`
	Confidence      int         `json:"confidence"`
	Lat             float64     `json:"lat"`
	Lng             float64     `json:"lng"`
	Description     string      `json:"description,omitempty"`
	EscalationLevel int         `json:"escalation_level"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	AcknowledgedAt  *time.Time  `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	AcknowledgedBy  *uuid.UUID  `json:"acknowledged_by,omitempty"`
}

// NewEvent builds a freshly triggered event at escalation level 0.
func NewEvent(userID uuid.UUID, mode TriggerMode, lat, lng float64, description string, at time.Time) *Event {
	return &Event{
		ID:              uuid.New(),
		UserID:          userID,
		TriggerMode:     mode,
		Status:          StatusTriggered,
		Priority:        PriorityCritical,
		Confidence:      Confidence(mode, description != ""),
		Lat:             lat,
		Lng:             lng,
		Description:     description,
		EscalationLevel: 0,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

// Transition moves e to status to, stamping acknowledgement and resolution times.
func (e *Event) Transition(to Status, at time.Time) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	if e.AcknowledgedAt == nil && rank[to] >= rank[StatusAcknowledged] && to != StatusFalseAlarm {
		e.AcknowledgedAt = &at
	}
	if to.Terminal() {
		e.ResolvedAt = &at
	}
	e.Status = to
	e.UpdatedAt = at
	return nil
}
