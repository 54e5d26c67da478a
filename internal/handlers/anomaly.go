package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

type AnomalyHandler struct {
	anomalies *services.AnomalyService
}

func NewAnomalyHandler(anomalies *services.AnomalyService) *AnomalyHandler {
	return &AnomalyHandler{anomalies: anomalies}
}

// POST /v1/anomaly/check
func (h *AnomalyHandler) Check(c *gin.Context) {
	res, err := h.anomalies.Check(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /v1/anomaly/logs
func (h *AnomalyHandler) Logs(c *gin.Context) {
	logs, err := h.anomalies.Logs(c.Request.Context(), userID(c), limitQuery(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
