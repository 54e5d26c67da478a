package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
	"github.com/adedejiosvaldo/safetour/backend/internal/metrics"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/utils"
)

const (
	maxIncidentTypeLen   = 64
	maxFIRDescriptionLen = 5000
	maxFIRNotesLen       = 2000
)

// FIRService files electronic FIRs. Each report is sealed with an HMAC
// chained to its predecessor so edits or deletions are detectable.
type FIRService struct {
	repo      FIRRepository
	emergency SOSRepository
	store     ObjectStore
	secret    string
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewFIRService builds the service. A nil store disables evidence uploads.
func NewFIRService(repo FIRRepository, emergency SOSRepository, store ObjectStore, secret string, m *metrics.Metrics) *FIRService {
	return &FIRService{
		repo:      repo,
		emergency: emergency,
		store:     store,
		secret:    secret,
		metrics:   m,
		log:       logger.Named("fir"),
		now:       time.Now,
	}
}

type FileFIRInput struct {
	IncidentType string
	Description  string
	Location     geo.Point
	IncidentAt   time.Time
	SOSEventID   *uuid.UUID
}

func (in FileFIRInput) validate(now time.Time) error {
	if in.IncidentType == "" || len(in.IncidentType) > maxIncidentTypeLen {
		return apperr.Invalid("incident_type is required and at most %d characters", maxIncidentTypeLen)
	}
	if in.Description == "" || len(in.Description) > maxFIRDescriptionLen {
		return apperr.Invalid("description is required and at most %d characters", maxFIRDescriptionLen)
	}
	if !in.Location.Valid() {
		return apperr.Invalid("location out of range: lat=%v lng=%v", in.Location.Lat, in.Location.Lng)
	}
	if in.IncidentAt.IsZero() {
		return apperr.Invalid("incident_at is required")
	}
	if in.IncidentAt.After(now.Add(maxClockSkew)) {
		return apperr.Invalid("incident_at is in the future")
	}
	return nil
}

// sealedFIR is the canonical content covered by the chain hash. Status and
// notes change during review and are not covered.
type sealedFIR struct {
	ID           uuid.UUID  `json:"id"`
	Seq          int64      `json:"seq"`
	Number       string     `json:"number"`
	UserID       uuid.UUID  `json:"user_id"`
	SOSEventID   *uuid.UUID `json:"sos_event_id"`
	IncidentType string     `json:"incident_type"`
	Description  string     `json:"description"`
	Lat          float64    `json:"lat"`
	Lng          float64    `json:"lng"`
	IncidentAt   time.Time  `json:"incident_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

func sealedContent(f *models.FIR) sealedFIR {
	return sealedFIR{
		ID:           f.ID,
		Seq:          f.Seq,
		Number:       f.Number,
		UserID:       f.UserID,
		SOSEventID:   f.SOSEventID,
		IncidentType: f.IncidentType,
		Description:  f.Description,
		Lat:          f.Lat,
		Lng:          f.Lng,
		IncidentAt:   f.IncidentAt.UTC(),
		CreatedAt:    f.CreatedAt.UTC(),
	}
}

func firNumber(year int, seq int64) string {
	return fmt.Sprintf("FIR-%d-%06d", year, seq)
}

func (s *FIRService) seal(f *models.FIR, seq int64, prevHash string) error {
	f.Seq = seq
	f.Number = firNumber(f.CreatedAt.Year(), seq)
	f.PrevHash = prevHash
	h, err := utils.ChainHash(sealedContent(f), prevHash, s.secret)
	if err != nil {
		return err
	}
	f.Hash = h
	return nil
}

func (s *FIRService) File(ctx context.Context, userID uuid.UUID, in FileFIRInput) (*models.FIR, error) {
	in.IncidentType = strings.TrimSpace(in.IncidentType)
	in.Description = strings.TrimSpace(in.Description)
	// postgres keeps microseconds; hash what will be read back
	now := s.now().UTC().Truncate(time.Microsecond)
	if err := in.validate(now); err != nil {
		return nil, err
	}

	if in.SOSEventID != nil {
		e, err := s.emergency.GetSOSEvent(ctx, *in.SOSEventID)
		if err != nil {
			return nil, err
		}
		if e == nil || e.UserID != userID {
			return nil, apperr.Invalid("sos_event_id does not reference one of your sos events")
		}
	}

	f := &models.FIR{
		ID:           uuid.New(),
		UserID:       userID,
		SOSEventID:   in.SOSEventID,
		IncidentType: in.IncidentType,
		Description:  in.Description,
		Lat:          in.Location.Lat,
		Lng:          in.Location.Lng,
		IncidentAt:   in.IncidentAt.UTC().Truncate(time.Microsecond),
		Status:       models.FIRFiled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateFIR(ctx, f, s.seal); err != nil {
		return nil, err
	}
	s.metrics.FIRFiled()
	s.log.Info("fir filed",
		zap.String("fir_id", f.ID.String()),
		zap.String("number", f.Number),
		zap.String("user_id", userID.String()),
	)
	return f, nil
}

// Get returns a report visible to the requester: its filer or a responder.
func (s *FIRService) Get(ctx context.Context, requester uuid.UUID, role models.Role, id uuid.UUID) (*models.FIR, error) {
	f, err := s.repo.GetFIR(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperr.NotFound("fir not found")
	}
	if f.UserID != requester && !canViewAll(role) {
		return nil, apperr.Forbidden("not allowed to view this fir")
	}
	return f, nil
}

// List returns the user's own reports, newest first.
func (s *FIRService) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.FIR, error) {
	return s.repo.ListFIRs(ctx, &userID, "", clampLimit(limit))
}

// ListAll is the responder view, optionally filtered by status.
func (s *FIRService) ListAll(ctx context.Context, status models.FIRStatus, limit int) ([]models.FIR, error) {
	switch status {
	case "", models.FIRFiled, models.FIRUnderReview, models.FIRClosed:
	default:
		return nil, apperr.Invalid("unknown status %q", status)
	}
	return s.repo.ListFIRs(ctx, nil, status, clampLimit(limit))
}

type VerifyResult struct {
	Valid        bool   `json:"valid"`
	ContentValid bool   `json:"content_valid"`
	ChainValid   bool   `json:"chain_valid"`
	Number       string `json:"number"`
	Hash         string `json:"hash"`
}

// Verify recomputes the report's seal and checks it links to its predecessor.
func (s *FIRService) Verify(ctx context.Context, requester uuid.UUID, role models.Role, id uuid.UUID) (*VerifyResult, error) {
	f, err := s.Get(ctx, requester, role, id)
	if err != nil {
		return nil, err
	}
	prev, err := s.repo.GetFIRBefore(ctx, f.Seq)
	if err != nil {
		return nil, err
	}
	expectedPrev := ""
	if prev != nil {
		expectedPrev = prev.Hash
	}

	res := &VerifyResult{
		ContentValid: utils.VerifyChainHash(sealedContent(f), f.PrevHash, f.Hash, s.secret),
		ChainValid:   f.PrevHash == expectedPrev,
		Number:       f.Number,
		Hash:         f.Hash,
	}
	res.Valid = res.ContentValid && res.ChainValid
	if !res.Valid {
		s.log.Warn("fir failed verification",
			zap.String("fir_id", f.ID.String()),
			zap.Bool("content_valid", res.ContentValid),
			zap.Bool("chain_valid", res.ChainValid),
		)
	}
	return res, nil
}

// UpdateStatus moves a report along filed -> under_review -> closed.
func (s *FIRService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.FIRStatus, notes string) (*models.FIR, error) {
	if len(notes) > maxFIRNotesLen {
		return nil, apperr.Invalid("notes must be at most %d characters", maxFIRNotesLen)
	}
	f, err := s.repo.GetFIR(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperr.NotFound("fir not found")
	}
	if !f.Status.CanMoveTo(status) {
		return nil, apperr.Conflict("cannot move fir from %s to %s", f.Status, status)
	}
	at := s.now()
	if err := s.repo.UpdateFIRStatus(ctx, id, status, notes, at); err != nil {
		return nil, err
	}
	f.Status = status
	if notes != "" {
		f.Notes = notes
	}
	f.UpdatedAt = at
	return f, nil
}

type EvidenceUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachEvidence streams a file to object storage and records its digest.
func (s *FIRService) AttachEvidence(ctx context.Context, requester uuid.UUID, role models.Role, firID uuid.UUID, up EvidenceUpload) (*models.FIREvidence, error) {
	if s.store == nil {
		return nil, apperr.Unavailable("evidence storage is not configured")
	}
	f, err := s.Get(ctx, requester, role, firID)
	if err != nil {
		return nil, err
	}
	if f.Status == models.FIRClosed {
		return nil, apperr.Conflict("fir %s is closed", f.Number)
	}

	name := path.Base(strings.ReplaceAll(up.FileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "evidence"
	}
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.New()
	key := fmt.Sprintf("fir/%s/%s%s", f.ID, id, path.Ext(name))
	hr := utils.NewHashingReader(up.Body)
	if err := s.store.Put(ctx, key, hr, up.Size, contentType); err != nil {
		return nil, err
	}

	ev := &models.FIREvidence{
		ID:          id,
		FIRID:       f.ID,
		ObjectKey:   key,
		FileName:    name,
		ContentType: contentType,
		Size:        hr.Size(),
		SHA256:      hr.Sum(),
		UploadedBy:  requester,
		UploadedAt:  s.now(),
	}
	if err := s.repo.CreateEvidence(ctx, ev); err != nil {
		return nil, err
	}
	s.log.Info("evidence attached", zap.String("fir_id", f.ID.String()), zap.String("object_key", key), zap.Int64("size", ev.Size))
	return ev, nil
}

func (s *FIRService) Evidence(ctx context.Context, requester uuid.UUID, role models.Role, firID uuid.UUID) ([]models.FIREvidence, error) {
	if _, err := s.Get(ctx, requester, role, firID); err != nil {
		return nil, err
	}
	return s.repo.ListEvidence(ctx, firID)
}
