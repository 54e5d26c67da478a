package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/database/memdb"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/ratelimit"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

type sosFixture struct {
	db    *memdb.DB
	svc   *SOSService
	clock *clock
	user  *models.User
	reg   *prometheus.Registry

	mu         sync.Mutex
	broadcasts []EmergencyUpdate
	published  []EmergencyUpdate
}

func (f *sosFixture) updates() (live, dispatched []EmergencyUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EmergencyUpdate(nil), f.broadcasts...), append([]EmergencyUpdate(nil), f.published...)
}

func newSOSFixture(t *testing.T, notifier Notifier, quota *ratelimit.Quota) *sosFixture {
	ctrl := gomock.NewController(t)
	f := &sosFixture{db: memdb.New(), clock: &clock{t: t0}, reg: prometheus.NewRegistry()}
	f.user = seedTourist(t, f.db)
	if notifier == nil {
		notifier = quietNotifier(ctrl)
	}

	live := NewMockBroadcaster(ctrl)
	live.EXPECT().Broadcast(gomock.Any()).Do(func(u EmergencyUpdate) {
		f.mu.Lock()
		f.broadcasts = append(f.broadcasts, u)
		f.mu.Unlock()
	}).AnyTimes()
	dispatcher := NewMockDispatcher(ctrl)
	dispatcher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u EmergencyUpdate) error {
		f.mu.Lock()
		f.published = append(f.published, u)
		f.mu.Unlock()
		return nil
	}).AnyTimes()

	f.svc = NewSOSService(SOSDeps{
		Repo:       f.db,
		Users:      f.db,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Live:       live,
		Claimer:    f.db,
		Quota:      quota,
		Interval:   5 * time.Minute,
		Metrics:    metrics.New(f.reg),
	})
	f.svc.now = f.clock.now
	t.Cleanup(f.svc.Wait)
	return f
}

func (f *sosFixture) trigger(t *testing.T) *sos.Event {
	t.Helper()
	e, created, err := f.svc.Trigger(context.Background(), f.user.ID, TriggerInput{
		Mode:     sos.ModeButton,
		Location: connaughtPlace,
	})
	require.NoError(t, err)
	require.True(t, created)
	return e
}

func TestTriggerCreatesEventAndAlerts(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := NewMockNotifier(ctrl)
	alerted := make(chan *sos.Event, 1)
	notifier.EXPECT().SOSAlert(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User, e *sos.Event) error {
			alerted <- e
			return nil
		})

	f := newSOSFixture(t, notifier, nil)
	e, created, err := f.svc.Trigger(context.Background(), f.user.ID, TriggerInput{
		Mode:        sos.ModeSilent,
		Location:    connaughtPlace,
		Description: "  followed by two men  ",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, sos.StatusTriggered, e.Status)
	assert.Equal(t, "followed by two men", e.Description)
	assert.Equal(t, 90, e.Confidence)
	assert.Equal(t, t0, e.CreatedAt)

	f.svc.Wait()
	got := <-alerted
	assert.Equal(t, e.ID, got.ID)

	stored, err := f.db.GetSOSEvent(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	recs := f.db.Escalations()
	require.Len(t, recs, 1)
	assert.Equal(t, sos.TargetFamily, recs[0].Target)

	live, dispatched := f.updates()
	require.Len(t, live, 1)
	assert.Equal(t, UpdateSOSTriggered, live[0].Type)
	require.Len(t, dispatched, 1)
	assert.Equal(t, e.ID, dispatched[0].Event.ID)
	assert.Equal(t, 1.0, metricValue(t, f.reg, "safetour_sos_triggered_total", map[string]string{"mode": "silent"}))
}

func TestTriggerReturnsExistingActiveEvent(t *testing.T) {
	f := newSOSFixture(t, nil, nil)
	first := f.trigger(t)

	f.clock.advance(time.Minute)
	again, created, err := f.svc.Trigger(context.Background(), f.user.ID, TriggerInput{Mode: sos.ModeShake, Location: indiaGate})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestTriggerValidation(t *testing.T) {
	f := newSOSFixture(t, nil, nil)
	tests := []struct {
		name string
		in   TriggerInput
	}{
		{"unknown mode", TriggerInput{Mode: "scream", Location: connaughtPlace}},
		{"reserved mode", TriggerInput{Mode: sos.ModeAnomalyAuto, Location: connaughtPlace}},
		{"bad location", TriggerInput{Mode: sos.ModeButton, Location: geo.Point{Lat: 10, Lng: 200}}},
		{"long description", TriggerInput{Mode: sos.ModeButton, Location: connaughtPlace, Description: strings.Repeat("x", maxDescriptionLen+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.Trigger(context.Background(), f.user.ID, tt.in)
			assert.Equal(t, apperr.CodeInvalid, apperr.CodeOf(err))
		})
	}

	_, _, err := f.svc.Trigger(context.Background(), uuid.New(), TriggerInput{Mode: sos.ModeButton, Location: connaughtPlace})
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestTriggerQuota(t *testing.T) {
	ctx := context.Background()
	f := newSOSFixture(t, nil, ratelimit.NewQuota(nil, 1, time.Hour))
	e := f.trigger(t)
	_, err := f.svc.Cancel(ctx, f.user.ID, e.ID, false)
	require.NoError(t, err)

	_, _, err = f.svc.Trigger(ctx, f.user.ID, TriggerInput{Mode: sos.ModeButton, Location: connaughtPlace})
	assert.Equal(t, apperr.CodeTooManyRequests, apperr.CodeOf(err))
	assert.Equal(t, 1.0, metricValue(t, f.reg, "safetour_rate_limited_total", map[string]string{"limit": "sos"}))
}

func TestUpdateStatusAcknowledges(t *testing.T) {
	ctx := context.Background()
	f := newSOSFixture(t, nil, nil)
	officer := seedUser(t, f.db, models.RolePolice)
	e := f.trigger(t)

	f.clock.advance(2 * time.Minute)
	got, err := f.svc.UpdateStatus(ctx, officer.ID, e.ID, sos.StatusAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, sos.StatusAcknowledged, got.Status)
	require.NotNil(t, got.AcknowledgedBy)
	assert.Equal(t, officer.ID, *got.AcknowledgedBy)
	require.NotNil(t, got.AcknowledgedAt)
	assert.Equal(t, t0.Add(2*time.Minute), *got.AcknowledgedAt)

	recs := f.db.Escalations()
	require.Len(t, recs, 1)
	assert.Equal(t, sos.RecordAcknowledged, recs[0].Status)

	_, err = f.svc.UpdateStatus(ctx, officer.ID, e.ID, sos.StatusTriggered)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	_, err = f.svc.UpdateStatus(ctx, officer.ID, e.ID, "lost")
	assert.Equal(t, apperr.CodeInvalid, apperr.CodeOf(err))

	got, err = f.svc.UpdateStatus(ctx, officer.ID, e.ID, sos.StatusResolved)
	require.NoError(t, err)
	assert.NotNil(t, got.ResolvedAt)

	_, err = f.svc.UpdateStatus(ctx, officer.ID, e.ID, sos.StatusFalseAlarm)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestCancelAsFalseAlarm(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	notifier := NewMockNotifier(ctrl)
	notifier.EXPECT().SOSAlert(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	notifier.EXPECT().SOSClosed(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ *models.User, e *sos.Event) error {
			assert.Equal(t, sos.StatusFalseAlarm, e.Status)
			return nil
		})

	f := newSOSFixture(t, notifier, nil)
	e := f.trigger(t)

	stranger := seedTourist(t, f.db)
	_, err := f.svc.Cancel(ctx, stranger.ID, e.ID, true)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	got, err := f.svc.Cancel(ctx, f.user.ID, e.ID, true)
	require.NoError(t, err)
	assert.Equal(t, sos.StatusFalseAlarm, got.Status)
	f.svc.Wait()

	u, err := f.db.GetUserByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, u.FalseAlarmCount)

	active, err := f.svc.Active(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestGetVisibility(t *testing.T) {
	ctx := context.Background()
	f := newSOSFixture(t, nil, nil)
	e := f.trigger(t)
	stranger := seedTourist(t, f.db)
	officer := seedUser(t, f.db, models.RolePolice)

	_, err := f.svc.Get(ctx, f.user.ID, models.RoleTourist, e.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, stranger.ID, models.RoleTourist, e.ID)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
	_, err = f.svc.Get(ctx, officer.ID, models.RolePolice, e.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, officer.ID, models.RolePolice, uuid.New())
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	recs, err := f.svc.Escalations(ctx, officer.ID, models.RolePolice, e.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestEscalateDueClimbsLadder(t *testing.T) {
	ctx := context.Background()
	f := newSOSFixture(t, nil, nil)
	e := f.trigger(t)

	n, err := f.svc.EscalateDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is due before the interval passes")

	f.clock.advance(6 * time.Minute)
	n, err = f.svc.EscalateDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.EscalateDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the new rung waits a full interval")

	f.clock.advance(6 * time.Minute)
	n, err = f.svc.EscalateDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.clock.advance(6 * time.Minute)
	n, err = f.svc.EscalateDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "control room is the top rung")

	stored, err := f.db.GetSOSEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, sos.MaxLevel, stored.EscalationLevel)

	recs := f.db.Escalations()
	require.Len(t, recs, 3)
	assert.Equal(t, sos.TargetPolice, recs[1].Target)
	assert.Equal(t, sos.TargetControlRoom, recs[2].Target)

	live, _ := f.updates()
	var targets []sos.Target
	for _, u := range live {
		if u.Type == UpdateSOSEscalated {
			targets = append(targets, u.Target)
		}
	}
	assert.Equal(t, []sos.Target{sos.TargetPolice, sos.TargetControlRoom}, targets)
	assert.Equal(t, 1.0, metricValue(t, f.reg, "safetour_sos_escalations_total", map[string]string{"target": "police"}))
}

func TestEscalateDueSkipsAcknowledged(t *testing.T) {
	ctx := context.Background()
	f := newSOSFixture(t, nil, nil)
	officer := seedUser(t, f.db, models.RolePolice)
	e := f.trigger(t)
	_, err := f.svc.UpdateStatus(ctx, officer.ID, e.ID, sos.StatusAcknowledged)
	require.NoError(t, err)

	f.clock.advance(time.Hour)
	n, err := f.svc.EscalateDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListValidatesStatus(t *testing.T) {
	ctx := context.Background()
	f := newSOSFixture(t, nil, nil)
	f.trigger(t)

	events, err := f.svc.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = f.svc.List(ctx, sos.StatusResolved, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = f.svc.List(ctx, "lost", 0)
	assert.Equal(t, apperr.CodeInvalid, apperr.CodeOf(err))
}

// staleRepo serves a fixed snapshot of one event, as a request that read it
// before a concurrent update would see it.
type staleRepo struct {
	*memdb.DB
	snapshot sos.Event
}

func (r *staleRepo) GetSOSEvent(ctx context.Context, id uuid.UUID) (*sos.Event, error) {
	cp := r.snapshot
	return &cp, nil
}

func TestUpdateStatusRejectsStaleRead(t *testing.T) {
	ctx := context.Background()
	f := newSOSFixture(t, nil, nil)
	officer := seedUser(t, f.db, models.RolePolice)
	e := f.trigger(t)
	read := *e

	_, err := f.svc.Cancel(ctx, f.user.ID, e.ID, false)
	require.NoError(t, err)

	// the officer's request still holds the triggered copy
	f.svc.repo = &staleRepo{DB: f.db, snapshot: read}
	_, err = f.svc.UpdateStatus(ctx, officer.ID, e.ID, sos.StatusResponding)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	stored, err := f.db.GetSOSEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, sos.StatusResolved, stored.Status)
}

// racingRepo hides the user's open event from the first n lookups, the way a
// trigger that raced another one sees no active event.
type racingRepo struct {
	*memdb.DB
	hidden int
}

func (r *racingRepo) GetActiveSOSForUser(ctx context.Context, userID uuid.UUID) (*sos.Event, error) {
	if r.hidden > 0 {
		r.hidden--
		return nil, nil
	}
	return r.DB.GetActiveSOSForUser(ctx, userID)
}

func TestConcurrentTriggersShareOneEvent(t *testing.T) {
	ctx := context.Background()
	f := newSOSFixture(t, nil, nil)
	first := f.trigger(t)

	f.svc.repo = &racingRepo{DB: f.db, hidden: 1}
	again, created, err := f.svc.Trigger(ctx, f.user.ID, TriggerInput{Mode: sos.ModeShake, Location: indiaGate})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	f.svc.repo = &racingRepo{DB: f.db, hidden: 1}
	auto, err := f.svc.TriggerAuto(ctx, f.user, connaughtPlace, "no activity for 3h")
	require.NoError(t, err)
	assert.Equal(t, first.ID, auto.ID)

	open, err := f.db.ListSOSEvents(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	assert.Len(t, f.db.Escalations(), 1)
}

func TestStoreRejectsSecondActiveEvent(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	user := seedTourist(t, db)

	a := sos.NewEvent(user.ID, sos.ModeButton, connaughtPlace.Lat, connaughtPlace.Lng, "", t0)
	require.NoError(t, db.CreateSOSEvent(ctx, a, sos.InitialEscalation(a)))
	b := sos.NewEvent(user.ID, sos.ModeShake, connaughtPlace.Lat, connaughtPlace.Lng, "", t0)
	assert.ErrorIs(t, db.CreateSOSEvent(ctx, b, sos.InitialEscalation(b)), sos.ErrActiveExists)

	resolved := *a
	require.NoError(t, resolved.Transition(sos.StatusResolved, t0.Add(time.Minute)))
	require.NoError(t, db.UpdateSOSStatus(ctx, &resolved, sos.StatusTriggered, false))

	// a stale writer cannot move it back
	stale := *a
	require.NoError(t, stale.Transition(sos.StatusResponding, t0.Add(2*time.Minute)))
	assert.ErrorIs(t, db.UpdateSOSStatus(ctx, &stale, sos.StatusTriggered, false), sos.ErrStaleStatus)

	require.NoError(t, db.CreateSOSEvent(ctx, b, sos.InitialEscalation(b)))
}
