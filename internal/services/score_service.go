package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/scoring"
)

const (
	incidentRadiusM     = 1000
	incidentWindow      = 30 * 24 * time.Hour
	incidentPenalty     = 10
	falseAlarmPenalty   = 10
	minBehaviorScore    = 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ScoreSources answers the externally derived score components from zones,
// nearby incidents and the user's false alarm record.
type ScoreSources struct {
	zones     *ZoneService
	incidents IncidentRepository
	users     UserRepository
	now       func() time.Time
}

func NewScoreSources(zones *ZoneService, incidents IncidentRepository, users UserRepository) *ScoreSources {
	return &ScoreSources{zones: zones, incidents: incidents, users: users, now: time.Now}
}

func (s *ScoreSources) LocationScore(ctx context.Context, p geo.Point) (int, error) {
	return s.zones.LocationScore(ctx, p)
}

// IncidentScore is 100 minus 10 per SOS event or FIR within 1 km in the last 30 days.
func (s *ScoreSources) IncidentScore(ctx context.Context, p geo.Point) (int, error) {
	n, err := s.incidents.CountIncidentsNear(ctx, p, incidentRadiusM, s.now().Add(-incidentWindow))
	if err != nil {
		return 0, err
	}
	return max(0, 100-incidentPenalty*n), nil
}

// BehaviorScore is 100 minus 10 per past false alarm, never below 20.
func (s *ScoreSources) BehaviorScore(ctx context.Context, userID uuid.UUID) (int, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if u == nil {
		return 0, apperr.NotFound("user not found")
	}
	return max(minBehaviorScore, 100-falseAlarmPenalty*u.FalseAlarmCount), nil
}

// ScoreService computes safety scores and keeps the append-only history.
type ScoreService struct {
	engine  *scoring.Engine
	repo    ScoreRepository
	loc     *time.Location
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewScoreService(sources scoring.Sources, repo ScoreRepository, loc *time.Location, m *metrics.Metrics) *ScoreService {
	if loc == nil {
		loc = time.UTC
	}
	engine := scoring.NewEngine(sources)
	engine.OnFallback = m.ScoreFallback
	return &ScoreService{
		engine:  engine,
		repo:    repo,
		loc:     loc,
		metrics: m,
		log:     logger.Named("score"),
		now:     time.Now,
	}
}

// Compute scores the user at p. The breakdown is returned even when it
// cannot be written to the history.
func (s *ScoreService) Compute(ctx context.Context, userID uuid.UUID, p geo.Point, battery int) (*scoring.Breakdown, error) {
	at := s.now().In(s.loc)
	b, err := s.engine.Score(ctx, scoring.Input{
		UserID:       userID,
		Location:     p,
		BatteryLevel: battery,
		At:           at,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveScore(b.Composite)

	rec := &models.ScoreRecord{
		ID:              uuid.New(),
		UserID:          userID,
		Lat:             p.Lat,
		Lng:             p.Lng,
		Composite:       b.Composite,
		Label:           b.Label,
		Location:        b.Location,
		TimeOfDay:       b.TimeOfDay,
		RecentIncidents: b.RecentIncidents,
		UserBehavior:    b.UserBehavior,
		Battery:         b.Battery,
		ComputedAt:      at,
	}
	if err := s.repo.CreateScoreRecord(ctx, rec); err != nil {
		s.log.Error("failed to store score history",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
	return b, nil
}

func (s *ScoreService) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoreRecord, error) {
	return s.repo.GetScoreHistory(ctx, userID, clampLimit(limit))
}

// Latest returns the most recent score record or nil.
func (s *ScoreService) Latest(ctx context.Context, userID uuid.UUID) (*models.ScoreRecord, error) {
	recs, err := s.repo.GetScoreHistory(ctx, userID, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return min(limit, maxHistoryLimit)
}
