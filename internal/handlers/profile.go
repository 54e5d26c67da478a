package handlers

import (
	"net/http"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/gin-gonic/gin"

	"github.com/adedejiosvaldo/safetour/backend/internal/anomaly"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

type ProfileHandler struct {
	profiles *services.ProfileService
}

func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

type ProfileRequest struct {
	Name           *string     `json:"name"`
	Phone          *string     `json:"phone"`
	Nationality    string      `json:"nationality"`
	DocumentNumber string      `json:"document_number"`
	BloodGroup     string      `json:"blood_group"`
	MedicalNotes   string      `json:"medical_notes"`
	TravelMode     string      `json:"travel_mode"`
	TripStart      *time.Time  `json:"trip_start"`
	TripEnd        *time.Time  `json:"trip_end"`
	PlannedRoute   []geo.Point `json:"planned_route"`
	DeviceToken    string      `json:"device_token"`
}

var profileSchema = z.Struct(z.Shape{
	"MedicalNotes": z.String().Max(2000),
	"TravelMode": z.String().OneOf([]string{
		anomaly.ModeWalking, anomaly.ModeCycling, anomaly.ModeDriving, anomaly.ModePublicTransport,
	}),
})

type profileResponse struct {
	*models.User
	Onboarded bool `json:"onboarded"`
}

// GET /v1/profile
func (h *ProfileHandler) Get(c *gin.Context) {
	u, err := h.profiles.Get(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponse{User: u, Onboarded: u.Onboarded()})
}

// PUT /v1/profile
func (h *ProfileHandler) Update(c *gin.Context) {
	var req ProfileRequest
	if !bindJSON(c, &req, profileSchema) {
		return
	}

	u, err := h.profiles.Update(c.Request.Context(), userID(c), services.ProfileInput(req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponse{User: u, Onboarded: u.Onboarded()})
}
