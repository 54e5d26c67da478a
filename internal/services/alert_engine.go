package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/config"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

//go:generate mockgen -destination=mock_deps_test.go -package=services . Notifier,SMSSender,PushSender,Dispatcher,messageWriter,Broadcaster,ObjectStore

// Notifier reaches the tourist and their emergency contacts.
type Notifier interface {
	SOSAlert(ctx context.Context, user *models.User, e *sos.Event) error
	SOSClosed(ctx context.Context, user *models.User, e *sos.Event) error
	ZoneWarning(ctx context.Context, user *models.User, zone *models.Zone) error
	SafetyCheck(ctx context.Context, user *models.User, reason string) error
}

type SMSSender interface {
	SendSMS(to, body string) error
}

type PushSender interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) error
}

var ErrNoContacts = errors.New("no emergency contacts configured")

// AlertEngine implements Notifier over SMS and push. Either channel may be nil.
type AlertEngine struct {
	sms  SMSSender
	push PushSender
	log  *zap.Logger
}

func NewAlertEngine(sms SMSSender, push PushSender) *AlertEngine {
	return &AlertEngine{sms: sms, push: push, log: logger.Named("notify")}
}

// SOSAlert texts every emergency contact and confirms to the tourist's device.
func (ae *AlertEngine) SOSAlert(ctx context.Context, user *models.User, e *sos.Event) error {
	ae.pushTo(ctx, user, "SOS sent", "Your emergency contacts and local police are being alerted.",
		map[string]string{"type": "sos_triggered", "event_id": e.ID.String()})

	if len(user.EmergencyContacts) == 0 {
		return ErrNoContacts
	}
	return ae.textContacts(user, buildSOSMessage(user, e))
}

func (ae *AlertEngine) SOSClosed(ctx context.Context, user *models.User, e *sos.Event) error {
	at := time.Now()
	if e.ResolvedAt != nil {
		at = *e.ResolvedAt
	}
	msg := fmt.Sprintf(
		"SafeTour update\n\n%s is safe. The emergency alert was closed at %s (%s).",
		user.Name, at.Format("Jan 2, 3:04 PM"), e.Status,
	)
	return ae.textContacts(user, msg)
}

func (ae *AlertEngine) ZoneWarning(ctx context.Context, user *models.User, zone *models.Zone) error {
	body := fmt.Sprintf("You entered %s, an area flagged as high risk (level %d). Stay alert and keep your phone charged.",
		zone.Name, zone.RiskLevel)
	return ae.pushTo(ctx, user, "Risk zone ahead", body,
		map[string]string{"type": "zone_warning", "zone_id": zone.ID.String()})
}

// SafetyCheck asks the tourist to confirm they are fine.
func (ae *AlertEngine) SafetyCheck(ctx context.Context, user *models.User, reason string) error {
	return ae.pushTo(ctx, user, "Are you safe?", reason+". Tap to check in.",
		map[string]string{"type": "safety_check"})
}

func (ae *AlertEngine) textContacts(user *models.User, msg string) error {
	if ae.sms == nil {
		ae.log.Debug("sms disabled, skipping contacts", zap.String("user_id", user.ID.String()))
		return nil
	}
	var errs []error
	for _, contact := range user.EmergencyContacts {
		if err := ae.sms.SendSMS(contact.Phone, msg); err != nil {
			errs = append(errs, fmt.Errorf("sms to %s: %w", contact.Phone, err))
		}
	}
	return errors.Join(errs...)
}

func (ae *AlertEngine) pushTo(ctx context.Context, user *models.User, title, body string, data map[string]string) error {
	token := user.Profile.DeviceToken
	if ae.push == nil || token == "" {
		return nil
	}
	if err := ae.push.Push(ctx, token, title, body, data); err != nil {
		ae.log.Warn("push failed", zap.String("user_id", user.ID.String()), zap.Error(err))
		return err
	}
	return nil
}

func buildSOSMessage(user *models.User, e *sos.Event) string {
	msg := fmt.Sprintf(
		"SAFETOUR SOS\n\n"+
			"%s triggered an emergency alert (%s) at %s.\n"+
			"Location: %.6f, %.6f\n"+
			"Map: %s\n",
		user.Name,
		e.TriggerMode,
		e.CreatedAt.Format("Jan 2, 3:04 PM"),
		e.Lat, e.Lng,
		mapLink(e.Lat, e.Lng),
	)
	if e.Description != "" {
		msg += "Note: " + e.Description + "\n"
	}
	if user.Phone != "" {
		msg += "\nPlease call them now: " + user.Phone
	}
	return msg
}

func mapLink(lat, lng float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%.6f,%.6f", lat, lng)
}

// TwilioSender sends SMS through the Twilio REST API
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(cfg *config.Config) *TwilioSender {
	return &TwilioSender{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		}),
		from: cfg.TwilioPhoneNumber,
	}
}

func (ts *TwilioSender) SendSMS(to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(ts.from)
	params.SetBody(body)

	resp, err := ts.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio SMS error: %w", err)
	}
	if resp.ErrorCode != nil {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return fmt.Errorf("twilio error code: %d, message: %s", *resp.ErrorCode, msg)
	}
	return nil
}

// FCMSender delivers push notifications through Firebase Cloud Messaging
type FCMSender struct {
	client *messaging.Client
}

func NewFCMSender(client *messaging.Client) *FCMSender {
	return &FCMSender{client: client}
}

func (fs *FCMSender) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	message := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Priority: messaging.PriorityHigh,
				Sound:    "default",
			},
		},
	}

	if _, err := fs.client.Send(ctx, message); err != nil {
		return fmt.Errorf("FCM error: %w", err)
	}
	return nil
}
