// Package anomaly evaluates a tourist's current telemetry against a fixed set
// of independent checks and decides whether an emergency should be raised
// without user action.
package anomaly

import (
	"fmt"
	"time"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Type string

const (
	TypeInactivity     Type = "inactivity"
	TypeRouteDeviation Type = "route_deviation"
	TypeSpeedAnomaly   Type = "speed_anomaly"
	TypeGPSLoss        Type = "gps_loss"
	TypeUnusualHours   Type = "unusual_hours"
	TypeBatteryDrain   Type = "battery_drain"
)

// Thresholds.
const (
	InactivityThreshold     = 30 * time.Minute
	InactivityHighAfter     = 60 * time.Minute
	InactivityCriticalAfter = 120 * time.Minute

	RouteDeviationKm         = 2.0
	RouteDeviationCriticalKm = 5 * RouteDeviationKm

	GPSLossThreshold = 5 * time.Minute

	UnusualHoursStart    = 2
	UnusualHoursEnd      = 5
	UnusualRecentWindow  = 30 * time.Minute
	UnusualMovingSpeedKm = 5.0

	BatteryLowThreshold      = 15
	BatteryMediumThreshold   = 10
	BatteryHighThreshold     = 5
	GroundSpeedImplausibleKm = 200.0
)

// Travel modes and their plausible maximum speed in km/h.
const (
	ModeWalking         = "walking"
	ModeCycling         = "cycling"
	ModeDriving         = "driving"
	ModePublicTransport = "public_transport"
)

var modeMaxSpeed = map[string]float64{
	ModeWalking:         15,
	ModeCycling:         45,
	ModeDriving:         160,
	ModePublicTransport: 140,
}

const defaultMaxSpeed = 160.0

type Signal struct {
	Type             Type               `json:"type"`
	Severity         Severity           `json:"severity"`
	Detected         bool               `json:"detected"`
	Description      string             `json:"description"`
	Metadata         map[string]float64 `json:"metadata,omitempty"`
	ShouldTriggerSOS bool               `json:"should_trigger_sos"`
}

// Context is the telemetry snapshot a detection pass runs against.
// Optional values are nil when unknown; an unknown value never raises a signal.
type Context struct {
	Now           time.Time
	LastActivity  time.Time
	Location      *geo.Point
	PlannedRoute  []geo.Point
	Speed         *float64 // km/h
	TravelMode    string
	LastGPSUpdate *time.Time
	BatteryLevel  *int
	// ActiveSOS marks that the user already has an open emergency.
	ActiveSOS bool
}

func (c Context) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

type check func(Context) Signal

var checks = []check{
	checkInactivity,
	checkRouteDeviation,
	checkSpeed,
	checkGPSLoss,
	checkUnusualHours,
	checkBatteryDrain,
}

// Evaluate runs every check and returns all results, detected or not.
func Evaluate(ctx Context) []Signal {
	out := make([]Signal, 0, len(checks))
	for _, c := range checks {
		s := c(ctx)
		if s.Severity != SeverityCritical || ctx.ActiveSOS {
			s.ShouldTriggerSOS = false
		}
		out = append(out, s)
	}
	return out
}

// DetectAll returns only the detected signals, in check order.
func DetectAll(ctx Context) []Signal {
	var detected []Signal
	for _, s := range Evaluate(ctx) {
		if s.Detected {
			detected = append(detected, s)
		}
	}
	return detected
}

// ShouldTriggerAutoSOS reports whether any detected signal is critical and
// flagged for automatic escalation.
func ShouldTriggerAutoSOS(signals []Signal) bool {
	for _, s := range signals {
		if s.Detected && s.Severity == SeverityCritical && s.ShouldTriggerSOS {
			return true
		}
	}
	return false
}

func checkInactivity(c Context) Signal {
	s := Signal{Type: TypeInactivity, Severity: SeverityLow}
	if c.LastActivity.IsZero() {
		return s
	}
	elapsed := c.now().Sub(c.LastActivity)
	if elapsed < InactivityThreshold {
		return s
	}

	minutes := elapsed.Minutes()
	s.Detected = true
	s.Metadata = map[string]float64{"minutes_inactive": float64(int(minutes))}
	switch {
	case elapsed >= InactivityCriticalAfter:
		s.Severity = SeverityCritical
		s.ShouldTriggerSOS = true
	case elapsed >= InactivityHighAfter:
		s.Severity = SeverityHigh
	default:
		s.Severity = SeverityMedium
	}
	s.Description = fmt.Sprintf("No activity for %d minutes", int(minutes))
	return s
}

func checkRouteDeviation(c Context) Signal {
	s := Signal{Type: TypeRouteDeviation, Severity: SeverityLow}
	if c.Location == nil {
		return s
	}
	km, ok := geo.MinDistanceKm(*c.Location, c.PlannedRoute)
	if !ok || km <= RouteDeviationKm {
		return s
	}

	s.Detected = true
	s.Metadata = map[string]float64{"distance_km": roundTo(km, 2), "threshold_km": RouteDeviationKm}
	if km > RouteDeviationCriticalKm {
		s.Severity = SeverityCritical
		s.ShouldTriggerSOS = true
	} else {
		s.Severity = SeverityHigh
	}
	s.Description = fmt.Sprintf("%.1f km away from the planned route", km)
	return s
}

func checkSpeed(c Context) Signal {
	s := Signal{Type: TypeSpeedAnomaly, Severity: SeverityLow}
	if c.Speed == nil {
		return s
	}
	speed := *c.Speed
	max, known := modeMaxSpeed[c.TravelMode]
	if !known {
		max = defaultMaxSpeed
	}
	if speed <= max {
		return s
	}

	s.Detected = true
	s.Metadata = map[string]float64{"speed_kmh": roundTo(speed, 1), "mode_max_kmh": max}
	if speed > 2*max || speed > GroundSpeedImplausibleKm {
		s.Severity = SeverityHigh
	} else {
		s.Severity = SeverityMedium
	}
	mode := c.TravelMode
	if mode == "" {
		mode = "unknown"
	}
	s.Description = fmt.Sprintf("Speed %.0f km/h is inconsistent with travel mode %s", speed, mode)
	return s
}

func checkGPSLoss(c Context) Signal {
	s := Signal{Type: TypeGPSLoss, Severity: SeverityLow}
	if c.LastGPSUpdate == nil {
		return s
	}
	elapsed := c.now().Sub(*c.LastGPSUpdate)
	if elapsed <= GPSLossThreshold {
		return s
	}
	s.Detected = true
	s.Severity = SeverityMedium
	s.Metadata = map[string]float64{"minutes_since_fix": float64(int(elapsed.Minutes()))}
	s.Description = fmt.Sprintf("No GPS fix for %d minutes", int(elapsed.Minutes()))
	return s
}

func checkUnusualHours(c Context) Signal {
	s := Signal{Type: TypeUnusualHours, Severity: SeverityLow}
	now := c.now()
	hour := now.Hour()
	if hour < UnusualHoursStart || hour >= UnusualHoursEnd {
		return s
	}
	if c.LastActivity.IsZero() || now.Sub(c.LastActivity) > UnusualRecentWindow {
		return s
	}

	s.Detected = true
	s.Metadata = map[string]float64{"hour": float64(hour)}
	if c.Speed != nil && *c.Speed > UnusualMovingSpeedKm {
		s.Severity = SeverityMedium
		s.Description = fmt.Sprintf("Moving at %02d:%02d local time", hour, now.Minute())
	} else {
		s.Description = fmt.Sprintf("Active at %02d:%02d local time", hour, now.Minute())
	}
	return s
}

func checkBatteryDrain(c Context) Signal {
	s := Signal{Type: TypeBatteryDrain, Severity: SeverityLow}
	if c.BatteryLevel == nil || *c.BatteryLevel >= BatteryLowThreshold {
		return s
	}
	level := *c.BatteryLevel
	s.Detected = true
	s.Metadata = map[string]float64{"battery_level": float64(level)}
	switch {
	case level < BatteryHighThreshold:
		s.Severity = SeverityHigh
	case level < BatteryMediumThreshold:
		s.Severity = SeverityMedium
	}
	s.Description = fmt.Sprintf("Battery at %d%%", level)
	return s
}

func roundTo(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	return float64(int64(v*p+0.5)) / p
}
