package handlers

import (
	"net/http"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/gin-gonic/gin"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

type LocationHandler struct {
	locations *services.LocationService
}

func NewLocationHandler(locations *services.LocationService) *LocationHandler {
	return &LocationHandler{locations: locations}
}

type LocationRequest struct {
	Lat          *float64   `json:"lat" binding:"required"`
	Lng          *float64   `json:"lng" binding:"required"`
	AccuracyM    int        `json:"accuracy_m"`
	Speed        *float64   `json:"speed,omitempty"`
	BatteryLevel *int       `json:"battery_level,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

var locationSchema = z.Struct(z.Shape{
	"Lat":          z.Ptr(z.Float64().GTE(-90).LTE(90)),
	"Lng":          z.Ptr(z.Float64().GTE(-180).LTE(180)),
	"AccuracyM":    z.Int().GTE(0),
	"Speed":        z.Ptr(z.Float64().GTE(0)),
	"BatteryLevel": z.Ptr(z.Int().GTE(0).LTE(100)),
})

// POST /v1/location
func (h *LocationHandler) Record(c *gin.Context) {
	var req LocationRequest
	if !bindJSON(c, &req, locationSchema) {
		return
	}

	res, err := h.locations.Record(c.Request.Context(), userID(c), services.PingInput{
		Location:     geo.Point{Lat: *req.Lat, Lng: *req.Lng},
		AccuracyM:    req.AccuracyM,
		Speed:        req.Speed,
		BatteryLevel: req.BatteryLevel,
		Timestamp:    req.Timestamp,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// POST /v1/checkin
func (h *LocationHandler) CheckIn(c *gin.Context) {
	at, err := h.locations.CheckIn(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"checked_in_at": at,
	})
}

// GET /v1/location/history
func (h *LocationHandler) History(c *gin.Context) {
	pings, err := h.locations.History(c.Request.Context(), userID(c), limitQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pings": pings})
}

// GET /v1/location/status
func (h *LocationHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	latest, err := h.locations.Latest(ctx, userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	state, err := h.locations.State(ctx, userID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":       userID(c),
		"last_location": latest,
		"state":         state,
	})
}
