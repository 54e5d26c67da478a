package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

const (
	statsWindow         = 24 * time.Hour
	activeTouristWindow = time.Hour
	detailAnomalyLimit  = 10
)

// PoliceService backs the responder dashboard.
type PoliceService struct {
	users     UserRepository
	emergency SOSRepository
	anomalies AnomalyRepository
	firs      FIRRepository
	locations LocationRepository
	scores    ScoreRepository
	now       func() time.Time
}

func NewPoliceService(users UserRepository, emergency SOSRepository, anomalies AnomalyRepository,
	firs FIRRepository, locations LocationRepository, scores ScoreRepository) *PoliceService {
	return &PoliceService{
		users:     users,
		emergency: emergency,
		anomalies: anomalies,
		firs:      firs,
		locations: locations,
		scores:    scores,
		now:       time.Now,
	}
}

// Stats summarises the last day of SOS activity alongside current totals.
func (s *PoliceService) Stats(ctx context.Context) (*models.PoliceStats, error) {
	now := s.now()

	byStatus, err := s.emergency.CountSOSByStatus(ctx, now.Add(-statsWindow))
	if err != nil {
		return nil, err
	}
	// open events count regardless of age
	all, err := s.emergency.CountSOSByStatus(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	active := 0
	for status, n := range all {
		if sos.Status(status).Active() {
			active += n
		}
	}

	anomalies, err := s.anomalies.CountAnomaliesSince(ctx, now.Add(-statsWindow))
	if err != nil {
		return nil, err
	}
	firs, err := s.firs.CountFIRsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	tourists, err := s.locations.ListActiveTourists(ctx, now.Add(-activeTouristWindow))
	if err != nil {
		return nil, err
	}

	return &models.PoliceStats{
		SOSByStatus:      byStatus,
		ActiveSOS:        active,
		Anomalies24h:     anomalies,
		FIRsByStatus:     firs,
		ActiveTourists1h: len(tourists),
	}, nil
}

type TouristDetail struct {
	User            *models.User         `json:"user"`
	LastLocation    *models.LocationPing `json:"last_location,omitempty"`
	LatestScore     *models.ScoreRecord  `json:"latest_score,omitempty"`
	ActiveSOS       *sos.Event           `json:"active_sos,omitempty"`
	RecentAnomalies []models.AnomalyLog  `json:"recent_anomalies"`
}

func (s *PoliceService) TouristDetail(ctx context.Context, userID uuid.UUID) (*TouristDetail, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Role != models.RoleTourist {
		return nil, apperr.NotFound("tourist not found")
	}

	d := &TouristDetail{User: user}
	if d.LastLocation, err = s.locations.GetLatestLocation(ctx, userID); err != nil {
		return nil, err
	}
	scores, err := s.scores.GetScoreHistory(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(scores) > 0 {
		d.LatestScore = &scores[0]
	}
	if d.ActiveSOS, err = s.emergency.GetActiveSOSForUser(ctx, userID); err != nil {
		return nil, err
	}
	if d.RecentAnomalies, err = s.anomalies.GetAnomalyLogs(ctx, userID, detailAnomalyLimit); err != nil {
		return nil, err
	}
	return d, nil
}
