package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/database/memdb"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/ratelimit"
)

type checkRecorder struct {
	mu    sync.Mutex
	users []uuid.UUID
}

func (c *checkRecorder) Check(ctx context.Context, userID uuid.UUID) (*CheckResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
	return &CheckResult{}, nil
}

func (c *checkRecorder) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

type locationFixture struct {
	db     *memdb.DB
	zones  *ZoneService
	checks *checkRecorder
	svc    *LocationService
	user   *models.User
}

func newLocationFixture(t *testing.T, notifier Notifier, limiter *ratelimit.Store) *locationFixture {
	if notifier == nil {
		notifier = quietNotifier(gomock.NewController(t))
	}
	f := &locationFixture{db: memdb.New(), checks: &checkRecorder{}}
	f.zones = newZoneService(f.db)
	f.user = seedTourist(t, f.db)
	f.svc = NewLocationService(LocationDeps{
		Locations: f.db,
		Users:     f.db,
		State:     f.db,
		Zones:     f.zones,
		Notifier:  notifier,
		Limiter:   limiter,
		Anomalies: f.checks,
	})
	f.svc.now = func() time.Time { return t0 }
	t.Cleanup(f.svc.Wait)
	return f
}

func TestRecordUpdatesStateAndChecksAnomalies(t *testing.T) {
	ctx := context.Background()
	f := newLocationFixture(t, nil, nil)
	ts := t0.Add(-30 * time.Second)

	res, err := f.svc.Record(ctx, f.user.ID, PingInput{
		Location:     connaughtPlace,
		AccuracyM:    12,
		Speed:        ptr(4.5),
		BatteryLevel: ptr(64),
		Timestamp:    &ts,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.ID)
	assert.Empty(t, res.ZoneEvents)
	f.svc.Wait()

	latest, err := f.svc.Latest(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, SourceHTTP, latest.Source)
	assert.Equal(t, ts, latest.Timestamp)

	st, err := f.svc.State(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, ts, st.LastActivity)
	assert.Equal(t, connaughtPlace, *st.LastLocation)
	assert.Equal(t, 64, *st.BatteryLevel)
	assert.Equal(t, 4.5, *st.Speed)

	assert.Equal(t, 1, f.checks.calls())
}

func TestRecordWarnsOnRiskZoneEntry(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	notifier := NewMockNotifier(ctrl)

	f := newLocationFixture(t, notifier, nil)
	risk := mustZone(t, f.zones, "Paharganj lanes", models.ZoneRisk, connaughtPlace, 500, 70)
	mustZone(t, f.zones, "Hotel district", models.ZoneSafe, connaughtPlace, 800, 0)

	notifier.EXPECT().ZoneWarning(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User, z *models.Zone) error {
			assert.Equal(t, f.user.ID, u.ID)
			assert.Equal(t, risk.ID, z.ID)
			assert.Equal(t, 70, z.RiskLevel)
			return nil
		})

	res, err := f.svc.Record(ctx, f.user.ID, PingInput{Location: connaughtPlace})
	require.NoError(t, err)
	assert.Len(t, res.ZoneEvents, 2)
	f.svc.Wait()

	// still inside; no second warning
	res, err = f.svc.Record(ctx, f.user.ID, PingInput{Location: connaughtPlace})
	require.NoError(t, err)
	assert.Empty(t, res.ZoneEvents)
	f.svc.Wait()

	res, err = f.svc.Record(ctx, f.user.ID, PingInput{Location: indiaGate})
	require.NoError(t, err)
	require.Len(t, res.ZoneEvents, 2)
	for _, e := range res.ZoneEvents {
		assert.Equal(t, models.ZoneExit, e.Transition)
	}
}

func TestRecordRateLimited(t *testing.T) {
	f := newLocationFixture(t, nil, ratelimit.NewStore(0.001, 1))
	ctx := context.Background()

	_, err := f.svc.Record(ctx, f.user.ID, PingInput{Location: connaughtPlace})
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, f.user.ID, PingInput{Location: connaughtPlace})
	assert.Equal(t, apperr.CodeTooManyRequests, apperr.CodeOf(err))
	assert.Len(t, f.db.Pings(), 1)
}

func TestRecordValidation(t *testing.T) {
	f := newLocationFixture(t, nil, nil)
	future := t0.Add(10 * time.Minute)
	tests := []struct {
		name string
		in   PingInput
	}{
		{"bad location", PingInput{Location: geo.Point{Lat: -91}}},
		{"negative accuracy", PingInput{Location: connaughtPlace, AccuracyM: -1}},
		{"battery above 100", PingInput{Location: connaughtPlace, BatteryLevel: ptr(101)}},
		{"negative speed", PingInput{Location: connaughtPlace, Speed: ptr(-1.0)}},
		{"future timestamp", PingInput{Location: connaughtPlace, Timestamp: &future}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Record(context.Background(), f.user.ID, tt.in)
			assert.Equal(t, apperr.CodeInvalid, apperr.CodeOf(err))
		})
	}
	assert.Empty(t, f.db.Pings())
}

func TestRecordKeepsZoneMembershipWhenZonesUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newLocationFixture(t, nil, nil)
	previous := uuid.New()
	require.NoError(t, f.db.SetUserState(ctx, &models.UserState{UserID: f.user.ID, InZones: []uuid.UUID{previous}}))
	f.db.Fail["ListZones"] = true

	res, err := f.svc.Record(ctx, f.user.ID, PingInput{Location: indiaGate})
	require.NoError(t, err)
	assert.Empty(t, res.ZoneEvents)

	st, err := f.svc.State(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{previous}, st.InZones)
}

func TestRecordSurvivesStateStoreFailure(t *testing.T) {
	f := newLocationFixture(t, nil, nil)
	f.db.Fail["SetUserState"] = true

	_, err := f.svc.Record(context.Background(), f.user.ID, PingInput{Location: connaughtPlace})
	require.NoError(t, err)
	assert.Len(t, f.db.Pings(), 1)
}

func TestCheckIn(t *testing.T) {
	ctx := context.Background()
	f := newLocationFixture(t, nil, nil)

	at, err := f.svc.CheckIn(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, t0, at)

	st, err := f.svc.State(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, st.LastCheckIn)
	assert.Equal(t, t0, *st.LastCheckIn)
	assert.Equal(t, t0, st.LastActivity)
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newLocationFixture(t, nil, nil)
	for i := 3; i > 0; i-- {
		ts := t0.Add(-time.Duration(i) * time.Minute)
		_, err := f.svc.Record(ctx, f.user.ID, PingInput{Location: connaughtPlace, Timestamp: &ts})
		require.NoError(t, err)
	}

	pings, err := f.svc.History(ctx, f.user.ID, 2)
	require.NoError(t, err)
	require.Len(t, pings, 2)
	assert.Equal(t, t0.Add(-time.Minute), pings[0].Timestamp)
}

func TestRecordLatePingKeepsNewerPosition(t *testing.T) {
	ctx := context.Background()
	f := newLocationFixture(t, nil, nil)
	mustZone(t, f.zones, "India Gate lawns", models.ZoneRisk, indiaGate, 300, 60)
	fresh := t0.Add(-10 * time.Second)
	old := t0.Add(-5 * time.Minute)

	_, err := f.svc.Record(ctx, f.user.ID, PingInput{
		Location:     connaughtPlace,
		Speed:        ptr(3.0),
		BatteryLevel: ptr(60),
		Timestamp:    &fresh,
	})
	require.NoError(t, err)

	// an SMS fallback ping delivered after the app's newer fix
	res, err := f.svc.ingest(ctx, f.user.ID, PingInput{
		Location:     indiaGate,
		BatteryLevel: ptr(90),
		Timestamp:    &old,
		Source:       SourceSMS,
	})
	require.NoError(t, err)
	assert.Empty(t, res.ZoneEvents)
	f.svc.Wait()

	assert.Len(t, f.db.Pings(), 2)
	st, err := f.svc.State(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, connaughtPlace, *st.LastLocation)
	assert.Equal(t, fresh, *st.LastGPSUpdate)
	assert.Equal(t, fresh, st.LastActivity)
	assert.Equal(t, 60, *st.BatteryLevel)
	assert.Equal(t, 3.0, *st.Speed)
	assert.Empty(t, st.InZones)
}
