package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
	"github.com/adedejiosvaldo/safetour/backend/internal/utils"
)

const sigField = ";sig="

// SMSPing is a location report received over SMS when the app has no data connection.
type SMSPing struct {
	UserID       uuid.UUID
	Timestamp    time.Time
	Location     geo.Point
	BatteryLevel *int
	Speed        *float64
	SOS          bool
	Signature    string
	// Signed is the part of the message covered by Signature.
	Signed string
}

// SMSParser handles the compact SMS payload:
// uid=<uuid>;ts=2025-11-19T12:50:00Z;lat=28.6139;lng=77.2090;bat=40;spd=3.5;sos=1;sig=<base64>
type SMSParser struct{}

func NewSMSParser() *SMSParser {
	return &SMSParser{}
}

func (sp *SMSParser) Parse(body string) (*SMSPing, error) {
	body = strings.TrimSpace(body)
	idx := strings.LastIndex(body, sigField)
	if idx < 0 {
		return nil, fmt.Errorf("missing signature")
	}

	msg := &SMSPing{
		Signed:    body[:idx],
		Signature: strings.TrimSpace(body[idx+len(sigField):]),
	}
	if msg.Signature == "" {
		return nil, fmt.Errorf("missing signature")
	}

	var haveLat, haveLng bool
	for _, part := range strings.Split(msg.Signed, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])

		switch key {
		case "uid":
			userID, err := uuid.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID: %w", err)
			}
			msg.UserID = userID

		case "ts":
			ts, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp: %w", err)
			}
			msg.Timestamp = ts

		case "lat":
			lat, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid latitude: %w", err)
			}
			msg.Location.Lat, haveLat = lat, true

		case "lng":
			lng, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid longitude: %w", err)
			}
			msg.Location.Lng, haveLng = lng, true

		case "bat":
			if bat, err := strconv.Atoi(value); err == nil {
				msg.BatteryLevel = &bat
			}

		case "spd":
			if spd, err := strconv.ParseFloat(value, 64); err == nil {
				msg.Speed = &spd
			}

		case "sos":
			msg.SOS = value == "1" || value == "true"
		}
	}

	if msg.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user ID")
	}
	if msg.Timestamp.IsZero() {
		return nil, fmt.Errorf("missing timestamp")
	}
	if !haveLat || !haveLng {
		return nil, fmt.Errorf("missing coordinates")
	}
	return msg, nil
}

// BuildPayload creates the signed SMS body (for mobile client reference).
func (sp *SMSParser) BuildPayload(msg *SMSPing, secret string) string {
	parts := []string{
		fmt.Sprintf("uid=%s", msg.UserID),
		fmt.Sprintf("ts=%s", msg.Timestamp.UTC().Format(time.RFC3339)),
		fmt.Sprintf("lat=%.6f", msg.Location.Lat),
		fmt.Sprintf("lng=%.6f", msg.Location.Lng),
	}
	if msg.BatteryLevel != nil {
		parts = append(parts, fmt.Sprintf("bat=%d", *msg.BatteryLevel))
	}
	if msg.Speed != nil {
		parts = append(parts, fmt.Sprintf("spd=%.1f", *msg.Speed))
	}
	if msg.SOS {
		parts = append(parts, "sos=1")
	}
	signed := strings.Join(parts, ";")
	return signed + sigField + utils.SignString(signed, secret)
}

// SMSIngest turns verified SMS reports into pings and, when flagged, an SOS.
type SMSIngest struct {
	parser    *SMSParser
	secret    string
	locations *LocationService
	sos       *SOSService
	log       *zap.Logger
}

func NewSMSIngest(secret string, locations *LocationService, sosSvc *SOSService) *SMSIngest {
	return &SMSIngest{
		parser:    NewSMSParser(),
		secret:    secret,
		locations: locations,
		sos:       sosSvc,
		log:       logger.Named("sms"),
	}
}

type SMSResult struct {
	PingID     uuid.UUID
	SOSEventID *uuid.UUID
}

// Handle verifies and stores one inbound SMS. SMS reports bypass the ping
// rate limit since the sender is already on a degraded channel.
func (h *SMSIngest) Handle(ctx context.Context, body string) (*SMSResult, error) {
	msg, err := h.parser.Parse(body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalid, "could not parse message")
	}
	if !utils.VerifyStringSignature(msg.Signed, msg.Signature, h.secret) {
		return nil, apperr.Unauthorized("invalid signature")
	}

	user, err := h.locations.users.GetUserByID(ctx, msg.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}

	ts := msg.Timestamp
	ping, err := h.locations.ingest(ctx, msg.UserID, PingInput{
		Location:     msg.Location,
		Speed:        msg.Speed,
		BatteryLevel: msg.BatteryLevel,
		Timestamp:    &ts,
		Source:       SourceSMS,
		Signature:    msg.Signature,
	})
	if err != nil {
		return nil, err
	}
	res := &SMSResult{PingID: ping.ID}

	if msg.SOS {
		e, _, err := h.sos.Trigger(ctx, msg.UserID, TriggerInput{
			Mode:        sos.ModePanicWord,
			Location:    msg.Location,
			Description: "SOS received over SMS",
		})
		if err != nil {
			h.log.Error("sms sos failed", zap.String("user_id", msg.UserID.String()), zap.Error(err))
			return res, err
		}
		res.SOSEventID = &e.ID
	}
	return res, nil
}
