package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/database/memdb"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

const firSecret = "fir-chain-secret"

func newFIRService(db *memdb.DB, store ObjectStore) *FIRService {
	s := NewFIRService(db, db, store, firSecret, nil)
	s.now = func() time.Time { return t0.Add(123456789 * time.Nanosecond) }
	return s
}

func fileFIR(t *testing.T, s *FIRService, userID uuid.UUID, description string) *models.FIR {
	t.Helper()
	f, err := s.File(context.Background(), userID, FileFIRInput{
		IncidentType: "theft",
		Description:  description,
		Location:     connaughtPlace,
		IncidentAt:   t0.Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	return f
}

func TestFileChainsReports(t *testing.T) {
	db := memdb.New()
	s := newFIRService(db, nil)
	user := seedTourist(t, db)

	first := fileFIR(t, s, user.ID, "Phone snatched near the metro exit")
	second := fileFIR(t, s, user.ID, "Wallet taken from bag")

	assert.Equal(t, "FIR-2026-000001", first.Number)
	assert.Equal(t, "FIR-2026-000002", second.Number)
	assert.Empty(t, first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Len(t, first.Hash, 64)
	assert.Equal(t, models.FIRFiled, first.Status)
	// stored at database precision
	assert.Equal(t, 0, first.CreatedAt.Nanosecond()%1000)
}

func TestFileValidation(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	s := newFIRService(db, nil)
	user := seedTourist(t, db)
	other := seedTourist(t, db)

	valid := FileFIRInput{IncidentType: "assault", Description: "Pushed and threatened", Location: connaughtPlace, IncidentAt: t0}
	tests := []struct {
		name string
		edit func(*FileFIRInput)
	}{
		{"missing type", func(in *FileFIRInput) { in.IncidentType = " " }},
		{"missing description", func(in *FileFIRInput) { in.Description = "" }},
		{"long description", func(in *FileFIRInput) { in.Description = strings.Repeat("a", maxFIRDescriptionLen+1) }},
		{"missing incident time", func(in *FileFIRInput) { in.IncidentAt = time.Time{} }},
		{"future incident", func(in *FileFIRInput) { in.IncidentAt = t0.Add(time.Hour) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.edit(&in)
			_, err := s.File(ctx, user.ID, in)
			assert.Equal(t, apperr.CodeInvalid, apperr.CodeOf(err))
		})
	}

	e := sos.NewEvent(other.ID, sos.ModeButton, connaughtPlace.Lat, connaughtPlace.Lng, "", t0)
	require.NoError(t, db.CreateSOSEvent(ctx, e, sos.InitialEscalation(e)))
	in := valid
	in.SOSEventID = &e.ID
	_, err := s.File(ctx, user.ID, in)
	assert.Equal(t, apperr.CodeInvalid, apperr.CodeOf(err))

	f, err := s.File(ctx, other.ID, in)
	require.NoError(t, err)
	assert.Equal(t, e.ID, *f.SOSEventID)
}

func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	s := newFIRService(db, nil)
	user := seedTourist(t, db)
	first := fileFIR(t, s, user.ID, "Phone snatched near the metro exit")
	second := fileFIR(t, s, user.ID, "Wallet taken from bag")

	for _, f := range []*models.FIR{first, second} {
		res, err := s.Verify(ctx, user.ID, models.RoleTourist, f.ID)
		require.NoError(t, err)
		assert.True(t, res.Valid, f.Number)
	}

	db.TamperFIR(first.ID, func(f *models.FIR) { f.Description = "Nothing happened" })
	res, err := s.Verify(ctx, user.ID, models.RoleTourist, first.ID)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.ContentValid)
	assert.True(t, res.ChainValid)

	// resealing the edited report breaks the link from its successor
	db.TamperFIR(first.ID, func(f *models.FIR) { f.Hash = strings.Repeat("0", 64) })
	res, err = s.Verify(ctx, user.ID, models.RoleTourist, second.ID)
	require.NoError(t, err)
	assert.True(t, res.ContentValid)
	assert.False(t, res.ChainValid)
}

func TestStatusChangesKeepSeal(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	s := newFIRService(db, nil)
	user := seedTourist(t, db)
	f := fileFIR(t, s, user.ID, "Passport stolen from hotel room")

	got, err := s.UpdateStatus(ctx, f.ID, models.FIRUnderReview, "assigned to SI Kumar")
	require.NoError(t, err)
	assert.Equal(t, models.FIRUnderReview, got.Status)
	assert.Equal(t, "assigned to SI Kumar", got.Notes)

	_, err = s.UpdateStatus(ctx, f.ID, models.FIRFiled, "")
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
	_, err = s.UpdateStatus(ctx, uuid.New(), models.FIRClosed, "")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	res, err := s.Verify(ctx, user.ID, models.RoleTourist, f.ID)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	stored, err := db.GetFIR(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "assigned to SI Kumar", stored.Notes)
}

func TestFIRVisibilityAndListing(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	s := newFIRService(db, nil)
	user := seedTourist(t, db)
	stranger := seedTourist(t, db)
	officer := seedUser(t, db, models.RolePolice)
	f := fileFIR(t, s, user.ID, "Bag stolen")
	fileFIR(t, s, stranger.ID, "Harassed at market")

	_, err := s.Get(ctx, stranger.ID, models.RoleTourist, f.ID)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
	_, err = s.Get(ctx, officer.ID, models.RolePolice, f.ID)
	assert.NoError(t, err)

	mine, err := s.List(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.ID, mine[0].ID)

	all, err := s.ListAll(ctx, models.FIRFiled, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.ListAll(ctx, "archived", 0)
	assert.Equal(t, apperr.CodeInvalid, apperr.CodeOf(err))
}

func TestAttachEvidence(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := NewMockObjectStore(ctrl)
	db := memdb.New()
	s := newFIRService(db, store)
	user := seedTourist(t, db)
	f := fileFIR(t, s, user.ID, "Camera stolen")

	content := "jpeg bytes"
	sum := sha256.Sum256([]byte(content))
	store.EXPECT().
		Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(len(content)), "image/jpeg").
		DoAndReturn(func(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
			assert.True(t, strings.HasPrefix(key, "fir/"+f.ID.String()+"/"))
			assert.True(t, strings.HasSuffix(key, ".jpg"))
			_, err := io.Copy(io.Discard, r)
			return err
		})

	ev, err := s.AttachEvidence(ctx, user.ID, models.RoleTourist, f.ID, EvidenceUpload{
		FileName:    `C:\Users\asha\photo.jpg`,
		ContentType: "image/jpeg",
		Size:        int64(len(content)),
		Body:        strings.NewReader(content),
	})
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", ev.FileName)
	assert.Equal(t, hex.EncodeToString(sum[:]), ev.SHA256)
	assert.EqualValues(t, len(content), ev.Size)

	list, err := s.Evidence(ctx, user.ID, models.RoleTourist, f.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAttachEvidenceFailures(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	db := memdb.New()
	user := seedTourist(t, db)

	noStore := newFIRService(db, nil)
	f := fileFIR(t, noStore, user.ID, "Camera stolen")
	_, err := noStore.AttachEvidence(ctx, user.ID, models.RoleTourist, f.ID, EvidenceUpload{Body: strings.NewReader("x")})
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))

	store := NewMockObjectStore(ctrl)
	s := newFIRService(db, store)
	store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), "application/octet-stream").
		Return(errors.New("bucket unreachable"))
	_, err = s.AttachEvidence(ctx, user.ID, models.RoleTourist, f.ID, EvidenceUpload{FileName: "note", Body: strings.NewReader("x")})
	assert.Error(t, err)

	_, err = s.UpdateStatus(ctx, f.ID, models.FIRClosed, "")
	require.NoError(t, err)
	_, err = s.AttachEvidence(ctx, user.ID, models.RoleTourist, f.ID, EvidenceUpload{Body: strings.NewReader("x")})
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	list, err := s.Evidence(ctx, user.ID, models.RoleTourist, f.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
