package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
)

const (
	activeZonesKey = "zones:active"

	// location score when the point is in no zone at all
	unzonedLocationScore = 85
	maxZoneRadiusM       = 50_000
)

// ZoneService manages geofences. Active zones are read through an
// in-process cache since every location ping consults them.
type ZoneService struct {
	repo    ZoneRepository
	cache   *cache.Cache
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewZoneService(repo ZoneRepository, ttl time.Duration, m *metrics.Metrics) *ZoneService {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ZoneService{
		repo:    repo,
		cache:   cache.New(ttl, 2*ttl),
		metrics: m,
		log:     logger.Named("zone"),
		now:     time.Now,
	}
}

type CreateZoneInput struct {
	Name      string
	Kind      models.ZoneKind
	Center    geo.Point
	RadiusM   float64
	RiskLevel int
	CreatedBy uuid.UUID
}

func (in CreateZoneInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Invalid("name is required")
	}
	if in.Kind != models.ZoneSafe && in.Kind != models.ZoneRisk {
		return apperr.Invalid("kind must be safe or risk")
	}
	if !in.Center.Valid() {
		return apperr.Invalid("zone centre out of range")
	}
	if in.RadiusM <= 0 || in.RadiusM > maxZoneRadiusM {
		return apperr.Invalid("radius_m must be within (0,%d]", maxZoneRadiusM)
	}
	if in.RiskLevel < 0 || in.RiskLevel > 100 {
		return apperr.Invalid("risk_level must be within [0,100]")
	}
	return nil
}

func (s *ZoneService) Create(ctx context.Context, in CreateZoneInput) (*models.Zone, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	createdBy := in.CreatedBy
	z := &models.Zone{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(in.Name),
		Kind:      in.Kind,
		Lat:       in.Center.Lat,
		Lng:       in.Center.Lng,
		RadiusM:   in.RadiusM,
		RiskLevel: in.RiskLevel,
		Active:    true,
		CreatedBy: &createdBy,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateZone(ctx, z); err != nil {
		return nil, err
	}
	s.cache.Delete(activeZonesKey)
	s.log.Info("zone created", zap.String("zone_id", z.ID.String()), zap.String("kind", string(z.Kind)))
	return z, nil
}

// List returns the active zones.
func (s *ZoneService) List(ctx context.Context) ([]models.Zone, error) {
	if v, ok := s.cache.Get(activeZonesKey); ok {
		return v.([]models.Zone), nil
	}
	zones, err := s.repo.ListZones(ctx, true)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(activeZonesKey, zones)
	return zones, nil
}

// Containing returns the active zones that contain p.
func (s *ZoneService) Containing(ctx context.Context, p geo.Point) ([]models.Zone, error) {
	zones, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var inside []models.Zone
	for _, z := range zones {
		if z.Circle().Contains(p) {
			inside = append(inside, z)
		}
	}
	return inside, nil
}

// LocationScore rates p from the zones around it: inside any risk zone the
// score is 100 minus the highest risk level, inside only safe zones it is 100.
func (s *ZoneService) LocationScore(ctx context.Context, p geo.Point) (int, error) {
	inside, err := s.Containing(ctx, p)
	if err != nil {
		return 0, err
	}
	if len(inside) == 0 {
		return unzonedLocationScore, nil
	}
	maxRisk, risky := 0, false
	for _, z := range inside {
		if z.Kind == models.ZoneRisk {
			risky = true
			if z.RiskLevel > maxRisk {
				maxRisk = z.RiskLevel
			}
		}
	}
	if !risky {
		return 100, nil
	}
	return 100 - maxRisk, nil
}

// Transitions compares the zones the user was in with the zones containing p.
// It returns the enter/exit events and the ids of the zones now containing p.
func (s *ZoneService) Transitions(ctx context.Context, previous []uuid.UUID, p geo.Point) ([]models.ZoneEvent, []uuid.UUID, error) {
	zones, err := s.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	was := make(map[uuid.UUID]bool, len(previous))
	for _, id := range previous {
		was[id] = true
	}

	events := []models.ZoneEvent{}
	var now []uuid.UUID
	for _, z := range zones {
		in := z.Circle().Contains(p)
		if in {
			now = append(now, z.ID)
		}
		switch {
		case in && !was[z.ID]:
			events = append(events, zoneEvent(z, models.ZoneEnter))
		case !in && was[z.ID]:
			events = append(events, zoneEvent(z, models.ZoneExit))
		}
	}
	for _, e := range events {
		s.metrics.ZoneEvent(string(e.Kind), string(e.Transition))
	}
	return events, now, nil
}

func zoneEvent(z models.Zone, t models.ZoneTransition) models.ZoneEvent {
	return models.ZoneEvent{
		ZoneID:     z.ID,
		ZoneName:   z.Name,
		Kind:       z.Kind,
		Transition: t,
		RiskLevel:  z.RiskLevel,
	}
}
