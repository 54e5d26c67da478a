package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
)

type Role string

const (
	RoleTourist Role = "tourist"
	RolePolice  Role = "police"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleTourist || r == RolePolice || r == RoleAdmin
}

// User represents a registered account (tourist or responder)
type User struct {
	ID                uuid.UUID `json:"id" db:"id"`
	Email             string    `json:"email" db:"email"`
	PasswordHash      string    `json:"-" db:"password_hash"`
	Name              string    `json:"name" db:"name"`
	Phone             string    `json:"phone" db:"phone"`
	Role              Role      `json:"role" db:"role"`
	EmergencyContacts Contacts  `json:"emergency_contacts" db:"emergency_contacts"`
	Profile           Profile   `json:"profile" db:"profile"`
	FalseAlarmCount   int       `json:"false_alarm_count" db:"false_alarm_count"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Onboarded reports whether the tourist finished the onboarding flow.
func (u *User) Onboarded() bool {
	p := u.Profile
	return p.Nationality != "" && p.DocumentNumber != "" &&
		p.TripStart != nil && p.TripEnd != nil && len(u.EmergencyContacts) > 0
}

// Contact represents an emergency contact
type Contact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship,omitempty"`
}

// Contacts is a slice of contacts stored as JSONB
type Contacts []Contact

func (c Contacts) Value() (driver.Value, error) {
	if c == nil {
		c = Contacts{}
	}
	return json.Marshal(c)
}

func (c *Contacts) Scan(value interface{}) error {
	if value == nil {
		*c = Contacts{}
		return nil
	}
	return scanJSON(value, c)
}

// Profile holds onboarding and trip details, stored as JSONB
type Profile struct {
	Nationality    string      `json:"nationality,omitempty"`
	DocumentNumber string      `json:"document_number,omitempty"`
	BloodGroup     string      `json:"blood_group,omitempty"`
	MedicalNotes   string      `json:"medical_notes,omitempty"`
	TravelMode     string      `json:"travel_mode,omitempty"` // walking | cycling | driving | public_transport
	TripStart      *time.Time  `json:"trip_start,omitempty"`
	TripEnd        *time.Time  `json:"trip_end,omitempty"`
	PlannedRoute   []geo.Point `json:"planned_route,omitempty"`
	DeviceToken    string      `json:"device_token,omitempty"` // FCM registration token
}

func (p Profile) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Profile) Scan(value interface{}) error {
	if value == nil {
		*p = Profile{}
		return nil
	}
	return scanJSON(value, p)
}

// LocationPing represents a location/sensor update
type LocationPing struct {
	ID           uuid.UUID `json:"id" db:"id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	Source       string    `json:"source" db:"source"` // "http" | "sms"
	Lat          float64   `json:"lat" db:"lat"`
	Lng          float64   `json:"lng" db:"lng"`
	AccuracyM    int       `json:"accuracy_m" db:"accuracy_m"`
	Speed        *float64  `json:"speed,omitempty" db:"speed"` // km/h
	BatteryLevel *int      `json:"battery_level,omitempty" db:"battery_level"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	Signature    string    `json:"signature,omitempty" db:"signature"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func (l *LocationPing) Point() geo.Point {
	return geo.Point{Lat: l.Lat, Lng: l.Lng}
}

type ZoneKind string

const (
	ZoneSafe ZoneKind = "safe"
	ZoneRisk ZoneKind = "risk"
)

// Zone is a circular geofence
type Zone struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Kind      ZoneKind   `json:"kind" db:"kind"`
	Lat       float64    `json:"lat" db:"lat"`
	Lng       float64    `json:"lng" db:"lng"`
	RadiusM   float64    `json:"radius_m" db:"radius_m"`
	RiskLevel int        `json:"risk_level" db:"risk_level"`
	Active    bool       `json:"active" db:"active"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

func (z *Zone) Circle() geo.Circle {
	return geo.Circle{Center: geo.Point{Lat: z.Lat, Lng: z.Lng}, RadiusM: z.RadiusM}
}

type ZoneTransition string

const (
	ZoneEnter ZoneTransition = "enter"
	ZoneExit  ZoneTransition = "exit"
)

// ZoneEvent is produced when consecutive pings cross a geofence boundary
type ZoneEvent struct {
	ZoneID     uuid.UUID      `json:"zone_id"`
	ZoneName   string         `json:"zone_name"`
	Kind       ZoneKind       `json:"kind"`
	Transition ZoneTransition `json:"transition"`
	RiskLevel  int            `json:"risk_level"`
}

// ScoreRecord is one append-only row of score_history
type ScoreRecord struct {
	ID              uuid.UUID `json:"id" db:"id"`
	UserID          uuid.UUID `json:"user_id" db:"user_id"`
	Lat             float64   `json:"lat" db:"lat"`
	Lng             float64   `json:"lng" db:"lng"`
	Composite       int       `json:"composite" db:"composite"`
	Label           string    `json:"label" db:"label"`
	Location        int       `json:"location" db:"location_score"`
	TimeOfDay       int       `json:"time_of_day" db:"time_score"`
	RecentIncidents int       `json:"recent_incidents" db:"incident_score"`
	UserBehavior    int       `json:"user_behavior" db:"behavior_score"`
	Battery         int       `json:"battery" db:"battery_score"`
	ComputedAt      time.Time `json:"computed_at" db:"computed_at"`
}

// AnomalyLog is one detected signal, persisted for audit
type AnomalyLog struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	UserID           uuid.UUID  `json:"user_id" db:"user_id"`
	Type             string     `json:"type" db:"type"`
	Severity         string     `json:"severity" db:"severity"`
	Description      string     `json:"description" db:"description"`
	Metadata         Metadata   `json:"metadata" db:"metadata"`
	AutoSOSTriggered bool       `json:"auto_sos_triggered" db:"auto_sos_triggered"`
	SOSEventID       *uuid.UUID `json:"sos_event_id,omitempty" db:"sos_event_id"`
	DetectedAt       time.Time  `json:"detected_at" db:"detected_at"`
}

type Metadata map[string]float64

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	return scanJSON(value, m)
}

type FIRStatus string

const (
	FIRFiled       FIRStatus = "filed"
	FIRUnderReview FIRStatus = "under_review"
	FIRClosed      FIRStatus = "closed"
)

// CanMoveTo reports whether a report in status s may move to next.
func (s FIRStatus) CanMoveTo(next FIRStatus) bool {
	switch s {
	case FIRFiled:
		return next == FIRUnderReview || next == FIRClosed
	case FIRUnderReview:
		return next == FIRClosed
	}
	return false
}

// FIR is an electronic first information report
type FIR struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Seq          int64      `json:"seq" db:"seq"`
	Number       string     `json:"number" db:"number"`
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	SOSEventID   *uuid.UUID `json:"sos_event_id,omitempty" db:"sos_event_id"`
	IncidentType string     `json:"incident_type" db:"incident_type"`
	Description  string     `json:"description" db:"description"`
	Lat          float64    `json:"lat" db:"lat"`
	Lng          float64    `json:"lng" db:"lng"`
	IncidentAt   time.Time  `json:"incident_at" db:"incident_at"`
	Status       FIRStatus  `json:"status" db:"status"`
	Notes        string     `json:"notes,omitempty" db:"notes"`
	PrevHash     string     `json:"prev_hash" db:"prev_hash"`
	Hash         string     `json:"hash" db:"hash"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// FIREvidence is a file attached to an FIR and kept in object storage
type FIREvidence struct {
	ID          uuid.UUID `json:"id" db:"id"`
	FIRID       uuid.UUID `json:"fir_id" db:"fir_id"`
	ObjectKey   string    `json:"object_key" db:"object_key"`
	FileName    string    `json:"file_name" db:"file_name"`
	ContentType string    `json:"content_type" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
	SHA256      string    `json:"sha256" db:"sha256"`
	UploadedBy  uuid.UUID `json:"uploaded_by" db:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// PoliceStats is the dashboard summary
type PoliceStats struct {
	SOSByStatus      map[string]int `json:"sos_by_status"`
	ActiveSOS        int            `json:"active_sos"`
	Anomalies24h     int            `json:"anomalies_24h"`
	FIRsByStatus     map[string]int `json:"firs_by_status"`
	ActiveTourists1h int            `json:"active_tourists_1h"`
}

// UserState represents the live state of a tourist (stored in Redis)
type UserState struct {
	UserID        uuid.UUID   `json:"user_id"`
	LastActivity  time.Time   `json:"last_activity"`
	LastCheckIn   *time.Time  `json:"last_check_in,omitempty"`
	LastLocation  *geo.Point  `json:"last_location,omitempty"`
	LastGPSUpdate *time.Time  `json:"last_gps_update,omitempty"`
	Speed         *float64    `json:"speed,omitempty"`
	BatteryLevel  *int        `json:"battery_level,omitempty"`
	InZones       []uuid.UUID `json:"in_zones,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported jsonb source %T", value)
	}
}
