package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

type PoliceHandler struct {
	police *services.PoliceService
	live   *services.LiveHub
}

func NewPoliceHandler(police *services.PoliceService, live *services.LiveHub) *PoliceHandler {
	return &PoliceHandler{police: police, live: live}
}

// GET /v1/police/stats
func (h *PoliceHandler) Stats(c *gin.Context) {
	stats, err := h.police.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /v1/police/tourists/:id
func (h *PoliceHandler) Tourist(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	d, err := h.police.TouristDetail(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// GET /v1/police/live (websocket)
func (h *PoliceHandler) Live(c *gin.Context) {
	if err := h.live.Serve(c.Writer, c.Request, userID(c)); err != nil {
		// the upgrader has already written the response
		logger.Named("live").Debug("websocket upgrade failed", zap.Error(err))
	}
}
