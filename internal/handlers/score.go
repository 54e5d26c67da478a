package handlers

import (
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/gin-gonic/gin"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

type ScoreHandler struct {
	scores *services.ScoreService
}

func NewScoreHandler(scores *services.ScoreService) *ScoreHandler {
	return &ScoreHandler{scores: scores}
}

type ScoreRequest struct {
	Lat          *float64 `json:"lat" binding:"required"`
	Lng          *float64 `json:"lng" binding:"required"`
	BatteryLevel *int     `json:"battery_level" binding:"required"`
}

var scoreSchema = z.Struct(z.Shape{
	"Lat":          z.Ptr(z.Float64().GTE(-90).LTE(90)),
	"Lng":          z.Ptr(z.Float64().GTE(-180).LTE(180)),
	"BatteryLevel": z.Ptr(z.Int().GTE(0).LTE(100)),
})

// POST /v1/safety/score
func (h *ScoreHandler) Compute(c *gin.Context) {
	var req ScoreRequest
	if !bindJSON(c, &req, scoreSchema) {
		return
	}

	b, err := h.scores.Compute(c.Request.Context(), userID(c), geo.Point{Lat: *req.Lat, Lng: *req.Lng}, *req.BatteryLevel)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// GET /v1/safety/history
func (h *ScoreHandler) History(c *gin.Context) {
	records, err := h.scores.History(c.Request.Context(), userID(c), limitQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}
