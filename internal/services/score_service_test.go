package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/database/memdb"
	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

func newScoreService(db *memdb.DB, m *metrics.Metrics) (*ScoreService, *ScoreSources, *ZoneService) {
	zones := newZoneService(db)
	sources := NewScoreSources(zones, db, db)
	sources.now = func() time.Time { return t0 }
	svc := NewScoreService(sources, db, time.UTC, m)
	svc.now = func() time.Time { return t0 }
	return svc, sources, zones
}

// closedEvent builds an already resolved event so one user can hold many.
func closedEvent(userID uuid.UUID, mode sos.TriggerMode, lat, lng float64, desc string, at time.Time) *sos.Event {
	e := sos.NewEvent(userID, mode, lat, lng, desc, at)
	e.Status = sos.StatusResolved
	return e
}

func TestIncidentScore(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	_, sources, _ := newScoreService(db, nil)
	user := seedTourist(t, db)

	score, err := sources.IncidentScore(ctx, connaughtPlace)
	require.NoError(t, err)
	assert.Equal(t, 100, score)

	for i := 0; i < 3; i++ {
		e := closedEvent(user.ID, sos.ModeButton, connaughtPlace.Lat, connaughtPlace.Lng, "", t0.Add(-time.Duration(i)*time.Hour))
		require.NoError(t, db.CreateSOSEvent(ctx, e, sos.InitialEscalation(e)))
	}
	// outside the window
	old := closedEvent(user.ID, sos.ModeButton, connaughtPlace.Lat, connaughtPlace.Lng, "", t0.Add(-31*24*time.Hour))
	require.NoError(t, db.CreateSOSEvent(ctx, old, sos.InitialEscalation(old)))
	// too far away
	far := closedEvent(user.ID, sos.ModeButton, indiaGate.Lat, indiaGate.Lng, "", t0)
	require.NoError(t, db.CreateSOSEvent(ctx, far, sos.InitialEscalation(far)))

	score, err = sources.IncidentScore(ctx, connaughtPlace)
	require.NoError(t, err)
	assert.Equal(t, 70, score)

	for i := 0; i < 10; i++ {
		e := closedEvent(user.ID, sos.ModeShake, connaughtPlace.Lat, connaughtPlace.Lng, "", t0)
		require.NoError(t, db.CreateSOSEvent(ctx, e, sos.InitialEscalation(e)))
	}
	score, err = sources.IncidentScore(ctx, connaughtPlace)
	require.NoError(t, err)
	assert.Equal(t, 0, score)
}

func TestBehaviorScore(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	_, sources, _ := newScoreService(db, nil)

	tests := []struct {
		falseAlarms int
		want        int
	}{
		{0, 100},
		{3, 70},
		{8, 20},
		{15, 20},
	}
	for _, tt := range tests {
		u := seedTourist(t, db, func(u *models.User) { u.FalseAlarmCount = tt.falseAlarms })
		score, err := sources.BehaviorScore(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, tt.want, score, "false alarms %d", tt.falseAlarms)
	}

	_, err := sources.BehaviorScore(ctx, uuid.New())
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestComputeStoresHistory(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	svc, _, _ := newScoreService(db, nil)
	user := seedTourist(t, db)

	b, err := svc.Compute(ctx, user.ID, connaughtPlace, 80)
	require.NoError(t, err)
	// 0.40*85 + 0.15*100 + 0.20*100 + 0.15*100 + 0.10*100
	assert.Equal(t, 94, b.Composite)
	assert.Equal(t, "Very Safe", b.Label)
	assert.Equal(t, 85, b.Location)

	latest, err := svc.Latest(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 94, latest.Composite)
	assert.Equal(t, t0, latest.ComputedAt)
	assert.Equal(t, connaughtPlace.Lat, latest.Lat)
}

func TestComputeFallsBackWhenSourceFails(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	reg := prometheus.NewRegistry()
	svc, _, _ := newScoreService(db, metrics.New(reg))
	user := seedTourist(t, db)
	db.Fail["CountIncidentsNear"] = true

	b, err := svc.Compute(ctx, user.ID, connaughtPlace, 80)
	require.NoError(t, err)
	assert.Equal(t, 90, b.RecentIncidents)
	assert.Equal(t, 92, b.Composite)
	assert.Equal(t, 1.0, metricValue(t, reg, "safetour_score_component_fallback_total",
		map[string]string{"component": "recent_incidents"}))
}

func TestComputeReturnsScoreWhenHistoryWriteFails(t *testing.T) {
	db := memdb.New()
	svc, _, _ := newScoreService(db, nil)
	user := seedTourist(t, db)
	db.Fail["CreateScoreRecord"] = true

	b, err := svc.Compute(context.Background(), user.ID, connaughtPlace, 80)
	require.NoError(t, err)
	assert.Equal(t, 94, b.Composite)
	assert.Empty(t, db.ScoreRecords())
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	db := memdb.New()
	svc, _, _ := newScoreService(db, nil)
	_, err := svc.Compute(context.Background(), uuid.New(), connaughtPlace, 120)
	assert.Equal(t, apperr.CodeInvalid, apperr.CodeOf(err))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultHistoryLimit, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, maxHistoryLimit, clampLimit(10_000))
}
