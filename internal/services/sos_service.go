package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/ratelimit"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

const maxDescriptionLen = 500

// SOSService owns the emergency lifecycle: triggering, status changes and
// escalation up the response ladder.
type SOSService struct {
	repo       SOSRepository
	users      UserRepository
	notifier   Notifier
	dispatcher Dispatcher
	live       Broadcaster
	claimer    EscalationClaimer
	quota      *ratelimit.Quota
	interval   time.Duration
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
	bg         tasks
}

type SOSDeps struct {
	Repo       SOSRepository
	Users      UserRepository
	Notifier   Notifier
	Dispatcher Dispatcher        // optional
	Live       Broadcaster       // optional
	Claimer    EscalationClaimer // optional
	Quota      *ratelimit.Quota  // nil disables the trigger limit
	// Interval is how long an unacknowledged rung waits before escalating.
	Interval time.Duration
	Metrics  *metrics.Metrics
}

func NewSOSService(d SOSDeps) *SOSService {
	if d.Interval <= 0 {
		d.Interval = 5 * time.Minute
	}
	return &SOSService{
		repo:       d.Repo,
		users:      d.Users,
		notifier:   d.Notifier,
		dispatcher: d.Dispatcher,
		live:       d.Live,
		claimer:    d.Claimer,
		quota:      d.Quota,
		interval:   d.Interval,
		metrics:    d.Metrics,
		log:        logger.Named("sos"),
		now:        time.Now,
	}
}

type TriggerInput struct {
	Mode        sos.TriggerMode
	Location    geo.Point
	Description string
}

func (in TriggerInput) validate() error {
	if !in.Mode.Valid() {
		return apperr.Invalid("unknown trigger_mode %q", in.Mode)
	}
	if in.Mode == sos.ModeAnomalyAuto {
		return apperr.Invalid("trigger_mode %q is reserved", in.Mode)
	}
	if !in.Location.Valid() {
		return apperr.Invalid("location out of range: lat=%v lng=%v", in.Location.Lat, in.Location.Lng)
	}
	if len(in.Description) > maxDescriptionLen {
		return apperr.Invalid("description must be at most %d characters", maxDescriptionLen)
	}
	return nil
}

// Trigger raises an emergency for the user. When the user already has an
// active event that event is returned and created is false.
func (s *SOSService) Trigger(ctx context.Context, userID uuid.UUID, in TriggerInput) (e *sos.Event, created bool, err error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		return nil, false, apperr.NotFound("user not found")
	}

	active, err := s.repo.GetActiveSOSForUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if active != nil {
		return active, false, nil
	}

	res, err := s.quota.Take(ctx, "sos:"+userID.String())
	if err != nil {
		// an emergency is never refused because the limiter is down
		s.log.Error("sos quota unavailable", zap.String("user_id", userID.String()), zap.Error(err))
	} else if !res.Allowed {
		s.metrics.RateLimited("sos")
		return nil, false, apperr.TooManyRequests("too many SOS triggers, retry after %s", res.Reset.UTC().Format(time.RFC3339))
	}

	e = sos.NewEvent(userID, in.Mode, in.Location.Lat, in.Location.Lng, in.Description, s.now())
	if existing, err := s.raise(ctx, user, e); err != nil || existing != nil {
		return existing, false, err
	}
	return e, true, nil
}

// TriggerAuto raises an anomaly_auto event on the user's behalf. It is not
// subject to the trigger quota and keeps the base confidence.
func (s *SOSService) TriggerAuto(ctx context.Context, user *models.User, p geo.Point, reason string) (*sos.Event, error) {
	active, err := s.repo.GetActiveSOSForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}
	e := sos.NewEvent(user.ID, sos.ModeAnomalyAuto, p.Lat, p.Lng, "", s.now())
	e.Description = reason
	if existing, err := s.raise(ctx, user, e); err != nil || existing != nil {
		return existing, err
	}
	s.metrics.AutoSOS()
	return e, nil
}

// raise stores e and alerts everyone concerned. When a concurrent trigger won
// the race for the user's single open event, that event is returned instead.
func (s *SOSService) raise(ctx context.Context, user *models.User, e *sos.Event) (*sos.Event, error) {
	if err := s.repo.CreateSOSEvent(ctx, e, sos.InitialEscalation(e)); err != nil {
		if !errors.Is(err, sos.ErrActiveExists) {
			return nil, err
		}
		active, err := s.repo.GetActiveSOSForUser(ctx, e.UserID)
		if err != nil {
			return nil, err
		}
		if active == nil {
			// closed again in the meantime
			return nil, apperr.Conflict("sos event changed concurrently, retry")
		}
		return active, nil
	}
	s.metrics.SOSTriggered(string(e.TriggerMode))
	s.log.Warn("sos triggered",
		zap.String("event_id", e.ID.String()),
		zap.String("user_id", e.UserID.String()),
		zap.String("mode", string(e.TriggerMode)),
		zap.Int("confidence", e.Confidence),
	)

	snapshot := *e
	s.bg.Go(ctx, func(ctx context.Context) {
		if err := s.notifier.SOSAlert(ctx, user, &snapshot); err != nil {
			s.metrics.NotifyFailed("sos_alert")
			s.log.Error("failed to alert contacts", zap.String("event_id", snapshot.ID.String()), zap.Error(err))
		}
	})
	s.announce(ctx, newUpdate(UpdateSOSTriggered, &snapshot, e.CreatedAt))
	return nil, nil
}

// announce publishes u to police dispatch and the live dashboard feed.
func (s *SOSService) announce(ctx context.Context, u EmergencyUpdate) {
	if s.live != nil {
		s.live.Broadcast(u)
	}
	if s.dispatcher == nil {
		return
	}
	s.bg.Go(ctx, func(ctx context.Context) {
		if err := s.dispatcher.Publish(ctx, u); err != nil {
			s.metrics.NotifyFailed("dispatch")
			s.log.Error("dispatch publish failed", zap.String("type", u.Type), zap.Error(err))
		}
	})
}

func canViewAll(role models.Role) bool {
	return role == models.RolePolice || role == models.RoleAdmin
}

// Get returns an event visible to the requester: its owner or a responder.
func (s *SOSService) Get(ctx context.Context, requester uuid.UUID, role models.Role, id uuid.UUID) (*sos.Event, error) {
	e, err := s.repo.GetSOSEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperr.NotFound("sos event not found")
	}
	if e.UserID != requester && !canViewAll(role) {
		return nil, apperr.Forbidden("not allowed to view this sos event")
	}
	return e, nil
}

// Active returns the user's open event or nil.
func (s *SOSService) Active(ctx context.Context, userID uuid.UUID) (*sos.Event, error) {
	return s.repo.GetActiveSOSForUser(ctx, userID)
}

// Cancel lets the owner close their own event, as resolved or as a false alarm.
func (s *SOSService) Cancel(ctx context.Context, userID, id uuid.UUID, falseAlarm bool) (*sos.Event, error) {
	e, err := s.repo.GetSOSEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperr.NotFound("sos event not found")
	}
	if e.UserID != userID {
		return nil, apperr.Forbidden("only the owner can cancel an sos event")
	}
	to := sos.StatusResolved
	if falseAlarm {
		to = sos.StatusFalseAlarm
	}
	if err := s.transition(ctx, e, to, nil); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateStatus applies a responder's status change.
func (s *SOSService) UpdateStatus(ctx context.Context, officer, id uuid.UUID, to sos.Status) (*sos.Event, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("unknown status %q", to)
	}
	e, err := s.repo.GetSOSEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, apperr.NotFound("sos event not found")
	}
	if err := s.transition(ctx, e, to, &officer); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SOSService) transition(ctx context.Context, e *sos.Event, to sos.Status, officer *uuid.UUID) error {
	wasAcked := e.AcknowledgedAt != nil
	from := e.Status
	if err := e.Transition(to, s.now()); err != nil {
		if errors.Is(err, sos.ErrInvalidTransition) {
			return apperr.Wrap(err, apperr.CodeConflict, err.Error())
		}
		return err
	}
	ack := !wasAcked && e.AcknowledgedAt != nil
	if ack && officer != nil {
		e.AcknowledgedBy = officer
	}
	if err := s.repo.UpdateSOSStatus(ctx, e, from, ack); err != nil {
		if errors.Is(err, sos.ErrStaleStatus) {
			return apperr.Wrap(err, apperr.CodeConflict, "sos event was updated by someone else, reload and retry")
		}
		return err
	}

	s.metrics.SOSTransition(string(to))
	s.log.Info("sos status changed",
		zap.String("event_id", e.ID.String()),
		zap.String("status", string(to)),
	)

	snapshot := *e
	if to == sos.StatusFalseAlarm {
		s.bg.Go(ctx, func(ctx context.Context) {
			if err := s.users.IncrementFalseAlarmCount(ctx, snapshot.UserID); err != nil {
				s.log.Error("failed to record false alarm", zap.String("user_id", snapshot.UserID.String()), zap.Error(err))
			}
		})
	}
	if to.Terminal() {
		s.bg.Go(ctx, func(ctx context.Context) {
			user, err := s.users.GetUserByID(ctx, snapshot.UserID)
			if err != nil || user == nil {
				s.log.Warn("cannot notify closure, user lookup failed", zap.String("user_id", snapshot.UserID.String()), zap.Error(err))
				return
			}
			if err := s.notifier.SOSClosed(ctx, user, &snapshot); err != nil {
				s.metrics.NotifyFailed("sos_closed")
				s.log.Error("failed to notify closure", zap.String("event_id", snapshot.ID.String()), zap.Error(err))
			}
		})
	}
	s.announce(ctx, newUpdate(UpdateSOSStatus, &snapshot, e.UpdatedAt))
	return nil
}

// EscalateDue moves every event that has waited on its current rung longer
// than the interval one rung up. It returns how many events escalated.
func (s *SOSService) EscalateDue(ctx context.Context) (int, error) {
	now := s.now()
	events, err := s.repo.ListEscalationCandidates(ctx, now.Add(-s.interval))
	if err != nil {
		return 0, err
	}

	escalated := 0
	for i := range events {
		e := &events[i]
		rec := e.Escalate(now)
		if rec == nil {
			continue
		}
		log := s.log.With(zap.String("event_id", e.ID.String()), zap.Int("level", rec.Level))

		if s.claimer != nil {
			ok, err := s.claimer.ClaimEscalation(ctx, e.ID, rec.Level, s.interval)
			if err != nil {
				log.Error("escalation claim failed", zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
		}

		applied, err := s.repo.AddEscalation(ctx, e, rec)
		if err != nil {
			log.Error("failed to escalate", zap.Error(err))
			continue
		}
		if !applied {
			continue
		}

		escalated++
		s.metrics.SOSEscalated(string(rec.Target))
		log.Warn("sos escalated", zap.String("target", string(rec.Target)))

		u := newUpdate(UpdateSOSEscalated, e, now)
		u.Target = rec.Target
		s.announce(ctx, u)
	}
	return escalated, nil
}

// List returns events for the dashboard; an empty status lists active events.
func (s *SOSService) List(ctx context.Context, status sos.Status, limit int) ([]sos.Event, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Invalid("unknown status %q", status)
	}
	return s.repo.ListSOSEvents(ctx, status, clampLimit(limit))
}

func (s *SOSService) Escalations(ctx context.Context, requester uuid.UUID, role models.Role, id uuid.UUID) ([]sos.EscalationRecord, error) {
	if _, err := s.Get(ctx, requester, role, id); err != nil {
		return nil, err
	}
	return s.repo.ListEscalations(ctx, id)
}

// Wait blocks until background notifications have finished.
func (s *SOSService) Wait() {
	s.bg.Wait()
}
