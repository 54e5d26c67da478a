package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
)

func TestContactsScan(t *testing.T) {
	var c Contacts
	require.NoError(t, c.Scan(nil))
	assert.NotNil(t, c)
	assert.Empty(t, c)

	require.NoError(t, c.Scan([]byte(`[{"id":"1","name":"Asha","phone":"+919800000001"}]`)))
	require.Len(t, c, 1)
	assert.Equal(t, "Asha", c[0].Name)

	require.NoError(t, c.Scan(`[{"id":"2","name":"Ravi","phone":"+919800000002"}]`))
	assert.Equal(t, "Ravi", c[0].Name)

	assert.Error(t, c.Scan(42))
}

func TestNilContactsValueIsEmptyArray(t *testing.T) {
	v, err := Contacts(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)
}

func TestProfileScanKeepsRoute(t *testing.T) {
	var p Profile
	raw := []byte(`{"nationality":"DE","travel_mode":"walking","planned_route":[{"lat":28.6,"lng":77.2}]}`)
	require.NoError(t, p.Scan(raw))
	assert.Equal(t, "DE", p.Nationality)
	assert.Equal(t, []geo.Point{{Lat: 28.6, Lng: 77.2}}, p.PlannedRoute)
}

func TestOnboarded(t *testing.T) {
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)

	u := &User{Profile: Profile{Nationality: "FR", DocumentNumber: "X123", TripStart: &start, TripEnd: &end}}
	assert.False(t, u.Onboarded(), "needs an emergency contact")

	u.EmergencyContacts = Contacts{{ID: "c1", Name: "Marie", Phone: "+33600000000"}}
	assert.True(t, u.Onboarded())

	u.Profile.DocumentNumber = ""
	assert.False(t, u.Onboarded())
}

func TestFIRStatusFlow(t *testing.T) {
	assert.True(t, FIRFiled.CanMoveTo(FIRUnderReview))
	assert.True(t, FIRFiled.CanMoveTo(FIRClosed))
	assert.True(t, FIRUnderReview.CanMoveTo(FIRClosed))
	assert.False(t, FIRUnderReview.CanMoveTo(FIRFiled))
	assert.False(t, FIRClosed.CanMoveTo(FIRUnderReview))
	assert.False(t, FIRFiled.CanMoveTo(FIRFiled))
}
