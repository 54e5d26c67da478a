package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/anomaly"
	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
)

// tourists with activity in this window are evaluated by the periodic sweep
const sweepWindow = 24 * time.Hour

type AnomalyService struct {
	users     UserRepository
	state     StateStore
	logs      AnomalyRepository
	emergency SOSRepository
	locations LocationRepository
	sos       *SOSService
	notifier  Notifier
	loc       *time.Location
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

type AnomalyDeps struct {
	Users     UserRepository
	State     StateStore
	Logs      AnomalyRepository
	Emergency SOSRepository
	Locations LocationRepository
	SOS       *SOSService
	Notifier  Notifier
	// Location is the zone the unusual-hours check reads the clock in.
	Location *time.Location
	Metrics  *metrics.Metrics
}

func NewAnomalyService(d AnomalyDeps) *AnomalyService {
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &AnomalyService{
		users:     d.Users,
		state:     d.State,
		logs:      d.Logs,
		emergency: d.Emergency,
		locations: d.Locations,
		sos:       d.SOS,
		notifier:  d.Notifier,
		loc:       d.Location,
		metrics:   d.Metrics,
		log:       logger.Named("anomaly"),
		now:       time.Now,
	}
}

type CheckResult struct {
	Signals    []anomaly.Signal `json:"signals"`
	AutoSOS    bool             `json:"auto_sos"`
	SOSEventID *uuid.UUID       `json:"sos_event_id,omitempty"`
}

// Check runs the detector against the user's live state, records every
// detected signal and raises an SOS when the auto-trigger policy says so.
func (s *AnomalyService) Check(ctx context.Context, userID uuid.UUID) (*CheckResult, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}

	st, err := s.state.GetUserState(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := &CheckResult{Signals: []anomaly.Signal{}}
	if st == nil {
		// nothing reported yet
		return result, nil
	}

	active, err := s.emergency.GetActiveSOSForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	signals := anomaly.DetectAll(anomaly.Context{
		Now:           s.now().In(s.loc),
		LastActivity:  st.LastActivity,
		Location:      st.LastLocation,
		PlannedRoute:  user.Profile.PlannedRoute,
		Speed:         st.Speed,
		TravelMode:    user.Profile.TravelMode,
		LastGPSUpdate: st.LastGPSUpdate,
		BatteryLevel:  st.BatteryLevel,
		ActiveSOS:     active != nil,
	})
	if len(signals) == 0 {
		return result, nil
	}
	result.Signals = signals

	log := s.log.With(zap.String("user_id", userID.String()))
	if anomaly.ShouldTriggerAutoSOS(signals) {
		e, err := s.sos.TriggerAuto(ctx, user, s.lastPoint(ctx, st), describe(signals))
		if err != nil {
			log.Error("auto sos failed", zap.Error(err))
		} else {
			result.AutoSOS = true
			result.SOSEventID = &e.ID
		}
	}

	needsCheck := false
	at := s.now()
	for _, sig := range signals {
		s.metrics.AnomalyDetected(string(sig.Type), string(sig.Severity))
		entry := &models.AnomalyLog{
			ID:               uuid.New(),
			UserID:           userID,
			Type:             string(sig.Type),
			Severity:         string(sig.Severity),
			Description:      sig.Description,
			Metadata:         models.Metadata(sig.Metadata),
			AutoSOSTriggered: result.AutoSOS && sig.ShouldTriggerSOS,
			DetectedAt:       at,
		}
		if entry.AutoSOSTriggered {
			entry.SOSEventID = result.SOSEventID
		}
		if err := s.logs.CreateAnomalyLog(ctx, entry); err != nil {
			log.Error("failed to store anomaly log", zap.String("type", entry.Type), zap.Error(err))
		}
		if sig.Severity == anomaly.SeverityHigh || sig.Severity == anomaly.SeverityCritical {
			needsCheck = true
		}
	}
	log.Info("anomalies detected", zap.Int("count", len(signals)), zap.Bool("auto_sos", result.AutoSOS))

	if needsCheck && !result.AutoSOS && active == nil {
		if err := s.notifier.SafetyCheck(ctx, user, signals[0].Description); err != nil {
			log.Warn("safety check push failed", zap.Error(err))
		}
	}
	return result, nil
}

// lastPoint falls back to the newest stored ping when the live state has no location.
func (s *AnomalyService) lastPoint(ctx context.Context, st *models.UserState) geo.Point {
	if st.LastLocation != nil {
		return *st.LastLocation
	}
	ping, err := s.locations.GetLatestLocation(ctx, st.UserID)
	if err != nil || ping == nil {
		return geo.Point{}
	}
	return ping.Point()
}

func describe(signals []anomaly.Signal) string {
	parts := make([]string, 0, len(signals))
	for _, sig := range signals {
		if sig.Severity == anomaly.SeverityCritical {
			parts = append(parts, sig.Description)
		}
	}
	return "Automatic SOS: " + strings.Join(parts, "; ")
}

// Sweep checks every tourist active in the last day and returns how many
// were evaluated.
func (s *AnomalyService) Sweep(ctx context.Context) (int, error) {
	ids, err := s.locations.ListActiveTourists(ctx, s.now().Add(-sweepWindow))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if _, err := s.Check(ctx, id); err != nil {
			s.log.Error("sweep check failed", zap.String("user_id", id.String()), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func (s *AnomalyService) Logs(ctx context.Context, userID uuid.UUID, limit int) ([]models.AnomalyLog, error) {
	return s.logs.GetAnomalyLogs(ctx, userID, clampLimit(limit))
}
