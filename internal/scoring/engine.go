// Package scoring combines independent risk signals into a single 0-100
// safety score for a tourist at a point in time.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
)

// Component weights in percent; they sum to 100.
const (
	WeightLocation        = 40
	WeightTimeOfDay       = 15
	WeightRecentIncidents = 20
	WeightUserBehavior    = 15
	WeightBattery         = 10
)

// Defaults used when an external source cannot answer.
const (
	DefaultLocationScore = 75
	DefaultIncidentScore = 90
	DefaultBehaviorScore = 80
)

type Components struct {
	Location        int `json:"location"`
	TimeOfDay       int `json:"time_of_day"`
	RecentIncidents int `json:"recent_incidents"`
	UserBehavior    int `json:"user_behavior"`
	Battery         int `json:"battery"`
}

type Breakdown struct {
	Composite int    `json:"composite"`
	Label     string `json:"label"`
	Components
}

// Compute returns round(Σ weight_i × score_i) for components already in [0,100].
func Compute(c Components) int {
	sum := WeightLocation*c.Location +
		WeightTimeOfDay*c.TimeOfDay +
		WeightRecentIncidents*c.RecentIncidents +
		WeightUserBehavior*c.UserBehavior +
		WeightBattery*c.Battery
	// sum is in hundredths; integer rounding is half-up for non-negative sums
	if sum >= 0 {
		return (sum + 50) / 100
	}
	return (sum - 50) / 100
}

// TimeOfDayScore maps a local hour (0-23) to a score.
func TimeOfDayScore(hour int) int {
	switch {
	case hour >= 6 && hour < 18:
		return 100
	case hour >= 18 && hour < 22:
		return 75
	case hour >= 22 || hour < 2:
		return 50
	default: // [2,6)
		return 25
	}
}

func BatteryScore(battery int) int {
	switch {
	case battery < 10:
		return 10
	case battery <= 20:
		return 40
	case battery <= 50:
		return 70
	default:
		return 100
	}
}

func Label(composite int) string {
	switch {
	case composite >= 80:
		return "Very Safe"
	case composite >= 60:
		return "Safe"
	case composite >= 40:
		return "Moderate"
	case composite >= 20:
		return "Unsafe"
	default:
		return "Very Unsafe"
	}
}

// Sources supplies the externally derived components. Any of them may fail;
// the engine substitutes the documented default.
type Sources interface {
	LocationScore(ctx context.Context, p geo.Point) (int, error)
	IncidentScore(ctx context.Context, p geo.Point) (int, error)
	BehaviorScore(ctx context.Context, userID uuid.UUID) (int, error)
}

type Input struct {
	UserID       uuid.UUID
	Location     geo.Point
	BatteryLevel int
	// At is the computation time in the tourist's local zone.
	At time.Time
}

func (in Input) Validate() error {
	if !in.Location.Valid() {
		return apperr.Invalid("location out of range: lat=%v lng=%v", in.Location.Lat, in.Location.Lng)
	}
	if in.BatteryLevel < 0 || in.BatteryLevel > 100 {
		return apperr.Invalid("battery_level must be within [0,100], got %d", in.BatteryLevel)
	}
	return nil
}

type Engine struct {
	sources Sources
	// OnFallback, when set, is told which component used its default.
	OnFallback func(component string)
}

func NewEngine(sources Sources) *Engine {
	return &Engine{sources: sources}
}

// Score validates in, gathers the components and computes the breakdown.
// Once in is valid it always produces a result.
func (e *Engine) Score(ctx context.Context, in Input) (*Breakdown, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	at := in.At
	if at.IsZero() {
		at = time.Now()
	}

	c := Components{
		TimeOfDay: TimeOfDayScore(at.Hour()),
		Battery:   BatteryScore(in.BatteryLevel),
	}

	c.Location = e.component(ctx, "location", DefaultLocationScore, func(ctx context.Context) (int, error) {
		return e.sources.LocationScore(ctx, in.Location)
	})
	c.RecentIncidents = e.component(ctx, "recent_incidents", DefaultIncidentScore, func(ctx context.Context) (int, error) {
		return e.sources.IncidentScore(ctx, in.Location)
	})
	c.UserBehavior = e.component(ctx, "user_behavior", DefaultBehaviorScore, func(ctx context.Context) (int, error) {
		return e.sources.BehaviorScore(ctx, in.UserID)
	})

	composite := Compute(c)
	return &Breakdown{
		Composite:  composite,
		Label:      Label(composite),
		Components: c,
	}, nil
}

func (e *Engine) component(ctx context.Context, name string, fallback int, fetch func(context.Context) (int, error)) int {
	if e.sources == nil {
		return fallback
	}
	v, err := fetch(ctx)
	if err == nil && (v < 0 || v > 100) {
		err = fmt.Errorf("score %d out of range", v)
	}
	if err != nil {
		logger.Named("score").Warn("component source failed, using default",
			zap.String("component", name),
			zap.Int("default", fallback),
			zap.Error(err),
		)
		if e.OnFallback != nil {
			e.OnFallback(name)
		}
		return fallback
	}
	return v
}
