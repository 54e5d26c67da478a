package handlers

import (
	"net/http"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

const maxEvidenceBytes = 25 << 20

type FIRHandler struct {
	firs *services.FIRService
}

func NewFIRHandler(firs *services.FIRService) *FIRHandler {
	return &FIRHandler{firs: firs}
}

type FileFIRRequest struct {
	IncidentType string     `json:"incident_type" binding:"required"`
	Description  string     `json:"description" binding:"required"`
	Lat          *float64   `json:"lat" binding:"required"`
	Lng          *float64   `json:"lng" binding:"required"`
	IncidentAt   time.Time  `json:"incident_at" binding:"required"`
	SOSEventID   *uuid.UUID `json:"sos_event_id,omitempty"`
}

var fileFIRSchema = z.Struct(z.Shape{
	"IncidentType": z.String().Max(100),
	"Description":  z.String().Max(5000),
	"Lat":          z.Ptr(z.Float64().GTE(-90).LTE(90)),
	"Lng":          z.Ptr(z.Float64().GTE(-180).LTE(180)),
})

type FIRStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

var firStatusSchema = z.Struct(z.Shape{
	"Status": z.String().OneOf([]string{string(models.FIRUnderReview), string(models.FIRClosed)}),
	"Notes":  z.String().Max(2000),
})

// POST /v1/fir
func (h *FIRHandler) File(c *gin.Context) {
	var req FileFIRRequest
	if !bindJSON(c, &req, fileFIRSchema) {
		return
	}

	f, err := h.firs.File(c.Request.Context(), userID(c), services.FileFIRInput{
		IncidentType: req.IncidentType,
		Description:  req.Description,
		Location:     geo.Point{Lat: *req.Lat, Lng: *req.Lng},
		IncidentAt:   req.IncidentAt,
		SOSEventID:   req.SOSEventID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

// GET /v1/fir
func (h *FIRHandler) List(c *gin.Context) {
	firs, err := h.firs.List(c.Request.Context(), userID(c), limitQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"firs": firs})
}

// GET /v1/fir/:id
func (h *FIRHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	f, err := h.firs.Get(ctx, userID(c), role(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	evidence, err := h.firs.Evidence(ctx, userID(c), role(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"fir":      f,
		"evidence": evidence,
	})
}

// GET /v1/fir/:id/verify
func (h *FIRHandler) Verify(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	res, err := h.firs.Verify(c.Request.Context(), userID(c), role(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /v1/fir/:id/evidence (multipart field "file")
func (h *FIRHandler) UploadEvidence(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxEvidenceBytes)
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "multipart field file is required",
			"details": err.Error(),
		})
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	ev, err := h.firs.AttachEvidence(c.Request.Context(), userID(c), role(c), id, services.EvidenceUpload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":   "success",
		"evidence": ev,
		"message":  "evidence uploaded successfully",
	})
}

// PATCH /v1/police/fir/:id
func (h *FIRHandler) UpdateStatus(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req FIRStatusRequest
	if !bindJSON(c, &req, firStatusSchema) {
		return
	}

	f, err := h.firs.UpdateStatus(c.Request.Context(), id, models.FIRStatus(req.Status), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// GET /v1/police/fir?status=&limit=
func (h *FIRHandler) ListAll(c *gin.Context) {
	firs, err := h.firs.ListAll(c.Request.Context(), models.FIRStatus(c.Query("status")), limitQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"firs": firs})
}
