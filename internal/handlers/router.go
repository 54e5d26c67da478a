package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

// Services is everything the router exposes.
type Services struct {
	Auth      *services.AuthService
	Profiles  *services.ProfileService
	Locations *services.LocationService
	Zones     *services.ZoneService
	Scores    *services.ScoreService
	Anomalies *services.AnomalyService
	SOS       *services.SOSService
	FIRs      *services.FIRService
	Police    *services.PoliceService
	SMS       *services.SMSIngest
	Live      *services.LiveHub
}

// NewRouter wires every route. metricsHandler may be nil.
func NewRouter(s Services, m *metrics.Metrics, metricsHandler http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(), Metrics(m))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "safetour-api",
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	authHandler := NewAuthHandler(s.Auth)
	profileHandler := NewProfileHandler(s.Profiles)
	contactsHandler := NewContactsHandler(s.Profiles)
	locationHandler := NewLocationHandler(s.Locations)
	zoneHandler := NewZoneHandler(s.Zones)
	scoreHandler := NewScoreHandler(s.Scores)
	anomalyHandler := NewAnomalyHandler(s.Anomalies)
	sosHandler := NewSOSHandler(s.SOS)
	firHandler := NewFIRHandler(s.FIRs)
	policeHandler := NewPoliceHandler(s.Police, s.Live)
	smsHandler := NewSMSHandler(s.SMS)

	v1 := router.Group("/v1")
	{
		v1.POST("/auth/register", authHandler.Register)
		v1.POST("/auth/login", authHandler.Login)

		// SMS webhook
		v1.POST("/sms/webhook", smsHandler.HandleIncomingSMS)
	}

	authed := v1.Group("", RequireAuth(s.Auth))
	{
		authed.GET("/profile", profileHandler.Get)
		authed.PUT("/profile", profileHandler.Update)

		authed.GET("/contacts", contactsHandler.GetContacts)
		authed.POST("/contacts", contactsHandler.AddContact)
		authed.PUT("/contacts/:contactId", contactsHandler.UpdateContact)
		authed.DELETE("/contacts/:contactId", contactsHandler.DeleteContact)

		authed.POST("/location", locationHandler.Record)
		authed.GET("/location/history", locationHandler.History)
		authed.GET("/location/status", locationHandler.Status)
		authed.POST("/checkin", locationHandler.CheckIn)

		authed.GET("/zones", zoneHandler.List)
		authed.GET("/zones/check", zoneHandler.Check)
		authed.POST("/zones", RequireRole(models.RolePolice, models.RoleAdmin), zoneHandler.Create)

		authed.POST("/safety/score", scoreHandler.Compute)
		authed.GET("/safety/history", scoreHandler.History)

		authed.POST("/anomaly/check", anomalyHandler.Check)
		authed.GET("/anomaly/logs", anomalyHandler.Logs)

		authed.POST("/sos", sosHandler.Trigger)
		authed.GET("/sos/active", sosHandler.Active)
		authed.GET("/sos/:id", sosHandler.Get)
		authed.GET("/sos/:id/escalations", sosHandler.Escalations)
		authed.POST("/sos/:id/cancel", sosHandler.Cancel)

		authed.POST("/fir", firHandler.File)
		authed.GET("/fir", firHandler.List)
		authed.GET("/fir/:id", firHandler.Get)
		authed.GET("/fir/:id/verify", firHandler.Verify)
		authed.POST("/fir/:id/evidence", firHandler.UploadEvidence)
	}

	police := authed.Group("/police", RequireRole(models.RolePolice, models.RoleAdmin))
	{
		police.GET("/stats", policeHandler.Stats)
		police.GET("/tourists/:id", policeHandler.Tourist)
		police.GET("/live", policeHandler.Live)

		police.GET("/sos", sosHandler.List)
		police.PATCH("/sos/:id", sosHandler.UpdateStatus)

		police.GET("/fir", firHandler.ListAll)
		police.PATCH("/fir/:id", firHandler.UpdateStatus)
	}

	return router
}
