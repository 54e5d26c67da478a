package handlers

import (
	"net/http"
	"strconv"

	z "github.com/Oudwins/zog"
	"github.com/gin-gonic/gin"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

type ZoneHandler struct {
	zones *services.ZoneService
}

func NewZoneHandler(zones *services.ZoneService) *ZoneHandler {
	return &ZoneHandler{zones: zones}
}

type CreateZoneRequest struct {
	Name      string   `json:"name" binding:"required"`
	Kind      string   `json:"kind" binding:"required"`
	Lat       *float64 `json:"lat" binding:"required"`
	Lng       *float64 `json:"lng" binding:"required"`
	RadiusM   float64  `json:"radius_m"`
	RiskLevel int      `json:"risk_level"`
}

var createZoneSchema = z.Struct(z.Shape{
	"Name":      z.String().Max(200),
	"Kind":      z.String().OneOf([]string{string(models.ZoneSafe), string(models.ZoneRisk)}),
	"Lat":       z.Ptr(z.Float64().GTE(-90).LTE(90)),
	"Lng":       z.Ptr(z.Float64().GTE(-180).LTE(180)),
	"RadiusM":   z.Float64().GT(0),
	"RiskLevel": z.Int().GTE(0).LTE(100),
})

// POST /v1/zones
func (h *ZoneHandler) Create(c *gin.Context) {
	var req CreateZoneRequest
	if !bindJSON(c, &req, createZoneSchema) {
		return
	}

	zone, err := h.zones.Create(c.Request.Context(), services.CreateZoneInput{
		Name:      req.Name,
		Kind:      models.ZoneKind(req.Kind),
		Center:    geo.Point{Lat: *req.Lat, Lng: *req.Lng},
		RadiusM:   req.RadiusM,
		RiskLevel: req.RiskLevel,
		CreatedBy: userID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, zone)
}

// GET /v1/zones
func (h *ZoneHandler) List(c *gin.Context) {
	zones, err := h.zones.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if zones == nil {
		zones = []models.Zone{}
	}
	c.JSON(http.StatusOK, gin.H{"zones": zones})
}

// GET /v1/zones/check?lat=&lng=
func (h *ZoneHandler) Check(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	p := geo.Point{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !p.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng query parameters are required"})
		return
	}

	ctx := c.Request.Context()
	inside, err := h.zones.Containing(ctx, p)
	if err != nil {
		respondError(c, err)
		return
	}
	score, err := h.zones.LocationScore(ctx, p)
	if err != nil {
		respondError(c, err)
		return
	}
	if inside == nil {
		inside = []models.Zone{}
	}
	c.JSON(http.StatusOK, gin.H{
		"zones":          inside,
		"location_score": score,
	})
}
