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
	"github.com/adedejiosvaldo/safetour/backend/internal/ratelimit"
)

const (
	SourceHTTP = "http"
	SourceSMS  = "sms"

	// pings stamped further ahead than this are rejected
	maxClockSkew = 5 * time.Minute
	maxSpeedKmh  = 1200
)

// AnomalyChecker evaluates a user after new telemetry arrives.
type AnomalyChecker interface {
	Check(ctx context.Context, userID uuid.UUID) (*CheckResult, error)
}

// LocationService ingests pings, keeps the live state current and reacts to
// geofence transitions.
type LocationService struct {
	locations LocationRepository
	users     UserRepository
	state     StateStore
	zones     *ZoneService
	notifier  Notifier
	limiter   *ratelimit.Store
	anomalies AnomalyChecker
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
	bg        tasks
}

type LocationDeps struct {
	Locations LocationRepository
	Users     UserRepository
	State     StateStore
	Zones     *ZoneService
	Notifier  Notifier
	Limiter   *ratelimit.Store // nil disables per-user ping limiting
	Anomalies AnomalyChecker   // optional
	Metrics   *metrics.Metrics
}

func NewLocationService(d LocationDeps) *LocationService {
	return &LocationService{
		locations: d.Locations,
		users:     d.Users,
		state:     d.State,
		zones:     d.Zones,
		notifier:  d.Notifier,
		limiter:   d.Limiter,
		anomalies: d.Anomalies,
		metrics:   d.Metrics,
		log:       logger.Named("location"),
		now:       time.Now,
	}
}

type PingInput struct {
	Location     geo.Point
	AccuracyM    int
	Speed        *float64
	BatteryLevel *int
	Timestamp    *time.Time
	Source       string
	Signature    string
}

func (in PingInput) validate(now time.Time) error {
	if !in.Location.Valid() {
		return apperr.Invalid("location out of range: lat=%v lng=%v", in.Location.Lat, in.Location.Lng)
	}
	if in.AccuracyM < 0 {
		return apperr.Invalid("accuracy_m must not be negative")
	}
	if in.BatteryLevel != nil && (*in.BatteryLevel < 0 || *in.BatteryLevel > 100) {
		return apperr.Invalid("battery_level must be within [0,100], got %d", *in.BatteryLevel)
	}
	if in.Speed != nil && (*in.Speed < 0 || *in.Speed > maxSpeedKmh) {
		return apperr.Invalid("speed must be within [0,%d] km/h", maxSpeedKmh)
	}
	if in.Timestamp != nil && in.Timestamp.After(now.Add(maxClockSkew)) {
		return apperr.Invalid("timestamp is in the future")
	}
	return nil
}

type PingResult struct {
	ID         uuid.UUID          `json:"id"`
	ZoneEvents []models.ZoneEvent `json:"zone_events"`
}

// Record stores a ping sent by the app, subject to the per-user rate limit.
func (s *LocationService) Record(ctx context.Context, userID uuid.UUID, in PingInput) (*PingResult, error) {
	if s.limiter != nil && !s.limiter.Allow(userID.String()) {
		s.metrics.RateLimited("location")
		return nil, apperr.TooManyRequests("location updates are too frequent")
	}
	in.Source = SourceHTTP
	return s.ingest(ctx, userID, in)
}

func (s *LocationService) ingest(ctx context.Context, userID uuid.UUID, in PingInput) (*PingResult, error) {
	now := s.now()
	if err := in.validate(now); err != nil {
		return nil, err
	}
	ts := now
	if in.Timestamp != nil {
		ts = *in.Timestamp
	}

	ping := &models.LocationPing{
		ID:           uuid.New(),
		UserID:       userID,
		Source:       in.Source,
		Lat:          in.Location.Lat,
		Lng:          in.Location.Lng,
		AccuracyM:    in.AccuracyM,
		Speed:        in.Speed,
		BatteryLevel: in.BatteryLevel,
		Timestamp:    ts,
		Signature:    in.Signature,
		CreatedAt:    now,
	}
	if err := s.locations.CreateLocationPing(ctx, ping); err != nil {
		return nil, err
	}
	s.metrics.LocationPing(in.Source)

	log := s.log.With(zap.String("user_id", userID.String()))

	st, err := s.state.GetUserState(ctx, userID)
	if err != nil {
		log.Warn("failed to read live state", zap.Error(err))
	}
	if st == nil {
		st = &models.UserState{UserID: userID}
	}

	// a ping older than the last fix (late SMS fallback) is stored in history
	// but does not move the live position back
	late := st.LastGPSUpdate != nil && ts.Before(*st.LastGPSUpdate)

	events, inside := []models.ZoneEvent{}, st.InZones
	if !late {
		events, inside, err = s.zones.Transitions(ctx, st.InZones, in.Location)
		if err != nil {
			// keep the previous membership so the next ping can still detect the change
			log.Warn("zone evaluation failed", zap.Error(err))
			events, inside = []models.ZoneEvent{}, st.InZones
		}
	}

	if ts.After(st.LastActivity) {
		st.LastActivity = ts
	}
	if !late {
		p := in.Location
		st.LastLocation = &p
		st.LastGPSUpdate = &ts
		st.Speed = in.Speed
		if in.BatteryLevel != nil {
			st.BatteryLevel = in.BatteryLevel
		}
	}
	st.InZones = inside
	st.UpdatedAt = now
	if err := s.state.SetUserState(ctx, st); err != nil {
		log.Error("failed to update live state", zap.Error(err))
	}

	s.warnRiskEntries(ctx, userID, events)

	if s.anomalies != nil {
		s.bg.Go(ctx, func(ctx context.Context) {
			if _, err := s.anomalies.Check(ctx, userID); err != nil {
				log.Error("anomaly check failed", zap.Error(err))
			}
		})
	}

	return &PingResult{ID: ping.ID, ZoneEvents: events}, nil
}

func (s *LocationService) warnRiskEntries(ctx context.Context, userID uuid.UUID, events []models.ZoneEvent) {
	var entered []models.ZoneEvent
	for _, e := range events {
		if e.Kind == models.ZoneRisk && e.Transition == models.ZoneEnter {
			entered = append(entered, e)
		}
	}
	if len(entered) == 0 {
		return
	}
	s.bg.Go(ctx, func(ctx context.Context) {
		user, err := s.users.GetUserByID(ctx, userID)
		if err != nil || user == nil {
			return
		}
		for _, e := range entered {
			s.log.Info("tourist entered risk zone",
				zap.String("user_id", userID.String()),
				zap.String("zone_id", e.ZoneID.String()),
				zap.Int("risk_level", e.RiskLevel),
			)
			zone := &models.Zone{ID: e.ZoneID, Name: e.ZoneName, Kind: e.Kind, RiskLevel: e.RiskLevel}
			if err := s.notifier.ZoneWarning(ctx, user, zone); err != nil {
				s.metrics.NotifyFailed("zone_warning")
			}
		}
	})
}

// CheckIn records an explicit "I'm OK" from the tourist.
func (s *LocationService) CheckIn(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	now := s.now()
	st, err := s.state.GetUserState(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if st == nil {
		st = &models.UserState{UserID: userID}
	}
	st.LastActivity = now
	st.LastCheckIn = &now
	st.UpdatedAt = now
	if err := s.state.SetUserState(ctx, st); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

func (s *LocationService) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.LocationPing, error) {
	return s.locations.GetLocationHistory(ctx, userID, clampLimit(limit))
}

func (s *LocationService) Latest(ctx context.Context, userID uuid.UUID) (*models.LocationPing, error) {
	return s.locations.GetLatestLocation(ctx, userID)
}

// State returns the live state or nil when the user has not reported yet.
func (s *LocationService) State(ctx context.Context, userID uuid.UUID) (*models.UserState, error) {
	return s.state.GetUserState(ctx, userID)
}

// Wait blocks until background work started by ingestion has finished.
func (s *LocationService) Wait() {
	s.bg.Wait()
}
