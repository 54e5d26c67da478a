package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

// Repositories follow the database package convention: a missing row is
// reported as (nil, nil).

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, name, phone string, profile models.Profile) error
	IncrementFalseAlarmCount(ctx context.Context, userID uuid.UUID) error
	AddContact(ctx context.Context, userID uuid.UUID, contact models.Contact) error
	UpdateContact(ctx context.Context, userID uuid.UUID, contactID string, fn func(*models.Contact)) error
	DeleteContact(ctx context.Context, userID uuid.UUID, contactID string) error
}

type LocationRepository interface {
	CreateLocationPing(ctx context.Context, p *models.LocationPing) error
	GetLatestLocation(ctx context.Context, userID uuid.UUID) (*models.LocationPing, error)
	GetLocationHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.LocationPing, error)
	ListActiveTourists(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

type ZoneRepository interface {
	CreateZone(ctx context.Context, z *models.Zone) error
	ListZones(ctx context.Context, activeOnly bool) ([]models.Zone, error)
}

type ScoreRepository interface {
	CreateScoreRecord(ctx context.Context, r *models.ScoreRecord) error
	GetScoreHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoreRecord, error)
}

type IncidentRepository interface {
	CountIncidentsNear(ctx context.Context, p geo.Point, radiusM float64, since time.Time) (int, error)
}

type AnomalyRepository interface {
	CreateAnomalyLog(ctx context.Context, l *models.AnomalyLog) error
	GetAnomalyLogs(ctx context.Context, userID uuid.UUID, limit int) ([]models.AnomalyLog, error)
	CountAnomaliesSince(ctx context.Context, since time.Time) (int, error)
}

type SOSRepository interface {
	CreateSOSEvent(ctx context.Context, e *sos.Event, first *sos.EscalationRecord) error
	GetSOSEvent(ctx context.Context, id uuid.UUID) (*sos.Event, error)
	GetActiveSOSForUser(ctx context.Context, userID uuid.UUID) (*sos.Event, error)
	ListSOSEvents(ctx context.Context, status sos.Status, limit int) ([]sos.Event, error)
	ListEscalationCandidates(ctx context.Context, cutoff time.Time) ([]sos.Event, error)
	// UpdateSOSStatus fails with sos.ErrStaleStatus when the stored status is no longer from.
	UpdateSOSStatus(ctx context.Context, e *sos.Event, from sos.Status, ack bool) error
	AddEscalation(ctx context.Context, e *sos.Event, r *sos.EscalationRecord) (bool, error)
	ListEscalations(ctx context.Context, eventID uuid.UUID) ([]sos.EscalationRecord, error)
	CountSOSByStatus(ctx context.Context, since time.Time) (map[string]int, error)
}

type FIRRepository interface {
	CreateFIR(ctx context.Context, f *models.FIR, seal func(f *models.FIR, seq int64, prevHash string) error) error
	GetFIR(ctx context.Context, id uuid.UUID) (*models.FIR, error)
	GetFIRBefore(ctx context.Context, seq int64) (*models.FIR, error)
	ListFIRs(ctx context.Context, userID *uuid.UUID, status models.FIRStatus, limit int) ([]models.FIR, error)
	UpdateFIRStatus(ctx context.Context, id uuid.UUID, status models.FIRStatus, notes string, at time.Time) error
	CountFIRsByStatus(ctx context.Context) (map[string]int, error)
	CreateEvidence(ctx context.Context, ev *models.FIREvidence) error
	ListEvidence(ctx context.Context, firID uuid.UUID) ([]models.FIREvidence, error)
}

// StateStore keeps the live per-tourist state (redis in production).
type StateStore interface {
	SetUserState(ctx context.Context, state *models.UserState) error
	GetUserState(ctx context.Context, userID uuid.UUID) (*models.UserState, error)
}

// EscalationClaimer lets exactly one instance act on an escalation rung.
type EscalationClaimer interface {
	ClaimEscalation(ctx context.Context, eventID uuid.UUID, level int, ttl time.Duration) (bool, error)
}
