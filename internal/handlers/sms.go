package handlers

import (
	"encoding/xml"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/services"
)

type SMSHandler struct {
	ingest *services.SMSIngest
	log    *zap.Logger
}

func NewSMSHandler(ingest *services.SMSIngest) *SMSHandler {
	return &SMSHandler{ingest: ingest, log: logger.Named("sms")}
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// POST /v1/sms/webhook
// Twilio sends SMS data as form parameters. Every outcome is answered with
// 200 and TwiML so Twilio does not retry.
func (h *SMSHandler) HandleIncomingSMS(c *gin.Context) {
	body := c.PostForm("Body")
	if body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty message body"})
		return
	}

	res, err := h.ingest.Handle(c.Request.Context(), body)
	if err != nil {
		h.log.Warn("sms rejected",
			zap.String("from", c.PostForm("From")),
			zap.Error(err),
		)
		reply(c, smsRejection(err))
		return
	}

	if res.SOSEventID != nil {
		reply(c, "SOS received. Help is being alerted.")
		return
	}
	reply(c, "Location received")
}

func smsRejection(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalid:
		return "Message received but could not be parsed"
	case apperr.CodeUnauthorized:
		return "Invalid signature"
	case apperr.CodeNotFound:
		return "User not found"
	default:
		return "Storage error"
	}
}

func reply(c *gin.Context, msg string) {
	c.XML(http.StatusOK, twiml{Message: msg})
}
