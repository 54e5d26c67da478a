package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adedejiosvaldo/safetour/backend/internal/anomaly"
	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
)

const (
	maxContacts     = 5
	maxRoutePoints  = 500
	maxProfileField = 200
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// ProfileService manages onboarding details and emergency contacts.
type ProfileService struct {
	users UserRepository
	now   func() time.Time
}

func NewProfileService(users UserRepository) *ProfileService {
	return &ProfileService{users: users, now: time.Now}
}

func (s *ProfileService) Get(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("user not found")
	}
	return u, nil
}

type ProfileInput struct {
	Name           *string
	Phone          *string
	Nationality    string
	DocumentNumber string
	BloodGroup     string
	MedicalNotes   string
	TravelMode     string
	TripStart      *time.Time
	TripEnd        *time.Time
	PlannedRoute   []geo.Point
	DeviceToken    string
}

func validTravelMode(m string) bool {
	switch m {
	case "", anomaly.ModeWalking, anomaly.ModeCycling, anomaly.ModeDriving, anomaly.ModePublicTransport:
		return true
	}
	return false
}

func (in ProfileInput) validate() error {
	for field, v := range map[string]string{
		"nationality":     in.Nationality,
		"document_number": in.DocumentNumber,
		"blood_group":     in.BloodGroup,
	} {
		if len(v) > maxProfileField {
			return apperr.Invalid("%s must be at most %d characters", field, maxProfileField)
		}
	}
	if in.Phone != nil && *in.Phone != "" && !phonePattern.MatchString(*in.Phone) {
		return apperr.Invalid("invalid phone number")
	}
	if !validTravelMode(in.TravelMode) {
		return apperr.Invalid("unknown travel_mode %q", in.TravelMode)
	}
	if in.TripStart != nil && in.TripEnd != nil && in.TripEnd.Before(*in.TripStart) {
		return apperr.Invalid("trip_end must not be before trip_start")
	}
	if len(in.PlannedRoute) > maxRoutePoints {
		return apperr.Invalid("planned_route must have at most %d points", maxRoutePoints)
	}
	for i, p := range in.PlannedRoute {
		if !p.Valid() {
			return apperr.Invalid("planned_route[%d] out of range", i)
		}
	}
	return nil
}

// Update replaces the profile. Name and phone are only changed when given.
func (s *ProfileService) Update(ctx context.Context, userID uuid.UUID, in ProfileInput) (*models.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	name, phone := u.Name, u.Phone
	if in.Name != nil && strings.TrimSpace(*in.Name) != "" {
		name = strings.TrimSpace(*in.Name)
	}
	if in.Phone != nil {
		phone = strings.TrimSpace(*in.Phone)
	}
	profile := models.Profile{
		Nationality:    strings.TrimSpace(in.Nationality),
		DocumentNumber: strings.TrimSpace(in.DocumentNumber),
		BloodGroup:     strings.TrimSpace(in.BloodGroup),
		MedicalNotes:   strings.TrimSpace(in.MedicalNotes),
		TravelMode:     in.TravelMode,
		TripStart:      in.TripStart,
		TripEnd:        in.TripEnd,
		PlannedRoute:   in.PlannedRoute,
		DeviceToken:    in.DeviceToken,
	}
	if profile.DeviceToken == "" {
		profile.DeviceToken = u.Profile.DeviceToken
	}

	if err := s.users.UpdateProfile(ctx, userID, name, phone, profile); err != nil {
		return nil, err
	}
	u.Name, u.Phone, u.Profile = name, phone, profile
	u.UpdatedAt = s.now()
	return u, nil
}

func (s *ProfileService) Contacts(ctx context.Context, userID uuid.UUID) (models.Contacts, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.EmergencyContacts, nil
}

type ContactInput struct {
	Name         string
	Phone        string
	Relationship string
}

func (s *ProfileService) AddContact(ctx context.Context, userID uuid.UUID, in ContactInput) (*models.Contact, error) {
	in.Name, in.Phone = strings.TrimSpace(in.Name), strings.TrimSpace(in.Phone)
	if in.Name == "" {
		return nil, apperr.Invalid("name is required")
	}
	if !phonePattern.MatchString(in.Phone) {
		return nil, apperr.Invalid("invalid phone number")
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(u.EmergencyContacts) >= maxContacts {
		return nil, apperr.Conflict("at most %d emergency contacts are allowed", maxContacts)
	}

	contact := models.Contact{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Phone:        in.Phone,
		Relationship: strings.TrimSpace(in.Relationship),
	}
	if err := s.users.AddContact(ctx, userID, contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// UpdateContact changes only the non-empty fields of in.
func (s *ProfileService) UpdateContact(ctx context.Context, userID uuid.UUID, contactID string, in ContactInput) error {
	in.Name, in.Phone = strings.TrimSpace(in.Name), strings.TrimSpace(in.Phone)
	if in.Phone != "" && !phonePattern.MatchString(in.Phone) {
		return apperr.Invalid("invalid phone number")
	}
	return s.users.UpdateContact(ctx, userID, contactID, func(c *models.Contact) {
		if in.Name != "" {
			c.Name = in.Name
		}
		if in.Phone != "" {
			c.Phone = in.Phone
		}
		if r := strings.TrimSpace(in.Relationship); r != "" {
			c.Relationship = r
		}
	})
}

func (s *ProfileService) DeleteContact(ctx context.Context, userID uuid.UUID, contactID string) error {
	return s.users.DeleteContact(ctx, userID, contactID)
}
