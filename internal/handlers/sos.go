package handlers

import (
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/gin-gonic/gin"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

type SOSHandler struct {
	sos *services.SOSService
}

func NewSOSHandler(sosSvc *services.SOSService) *SOSHandler {
	return &SOSHandler{sos: sosSvc}
}

type TriggerSOSRequest struct {
	TriggerMode string   `json:"trigger_mode" binding:"required"`
	Lat         *float64 `json:"lat" binding:"required"`
	Lng         *float64 `json:"lng" binding:"required"`
	Description string   `json:"description"`
}

var userTriggerModes = []string{
	string(sos.ModeButton), string(sos.ModeSilent), string(sos.ModePanicWord), string(sos.ModeShake), string(sos.ModeVolume),
}

var triggerSOSSchema = z.Struct(z.Shape{
	"TriggerMode": z.String().OneOf(userTriggerModes),
	"Lat":         z.Ptr(z.Float64().GTE(-90).LTE(90)),
	"Lng":         z.Ptr(z.Float64().GTE(-180).LTE(180)),
	"Description": z.String().Max(1000),
})

type CancelSOSRequest struct {
	FalseAlarm bool `json:"false_alarm"`
}

type SOSStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

var sosStatusSchema = z.Struct(z.Shape{
	"Status": z.String().OneOf([]string{
		string(sos.StatusAcknowledged), string(sos.StatusResponding), string(sos.StatusResolved), string(sos.StatusFalseAlarm),
	}),
})

// POST /v1/sos
// An already open event is returned with 200 instead of raising a second one.
func (h *SOSHandler) Trigger(c *gin.Context) {
	var req TriggerSOSRequest
	if !bindJSON(c, &req, triggerSOSSchema) {
		return
	}

	e, created, err := h.sos.Trigger(c.Request.Context(), userID(c), services.TriggerInput{
		Mode:        sos.TriggerMode(req.TriggerMode),
		Location:    geo.Point{Lat: *req.Lat, Lng: *req.Lng},
		Description: req.Description,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"event":   e,
		"created": created,
	})
}

// GET /v1/sos/active
func (h *SOSHandler) Active(c *gin.Context) {
	e, err := h.sos.Active(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": e})
}

// GET /v1/sos/:id
func (h *SOSHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	e, err := h.sos.Get(c.Request.Context(), userID(c), role(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GET /v1/sos/:id/escalations
func (h *SOSHandler) Escalations(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	records, err := h.sos.Escalations(c.Request.Context(), userID(c), role(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalations": records})
}

// POST /v1/sos/:id/cancel
func (h *SOSHandler) Cancel(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req CancelSOSRequest
	// an empty body resolves the event
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, nil) {
		return
	}

	e, err := h.sos.Cancel(c.Request.Context(), userID(c), id, req.FalseAlarm)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// PATCH /v1/police/sos/:id
func (h *SOSHandler) UpdateStatus(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req SOSStatusRequest
	if !bindJSON(c, &req, sosStatusSchema) {
		return
	}

	e, err := h.sos.UpdateStatus(c.Request.Context(), userID(c), id, sos.Status(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GET /v1/police/sos?status=&limit=
func (h *SOSHandler) List(c *gin.Context) {
	events, err := h.sos.List(c.Request.Context(), sos.Status(c.Query("status")), limitQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
