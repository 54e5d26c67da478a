// Package memdb is an in-memory implementation of the repositories used by
// service and handler tests. It mirrors the postgres and redis semantics that
// callers rely on: missing rows are (nil, nil) and listings are newest first.
package memdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

// ErrInjected is returned by every operation named in Fail.
var ErrInjected = errors.New("memdb: injected failure")

type DB struct {
	mu sync.Mutex

	users       map[uuid.UUID]*models.User
	pings       []models.LocationPing
	zones       []models.Zone
	scores      []models.ScoreRecord
	anomalies   []models.AnomalyLog
	events      map[uuid.UUID]*sos.Event
	escalations []sos.EscalationRecord
	firs        []models.FIR
	firSeq      int64
	evidence    []models.FIREvidence
	states      map[uuid.UUID]models.UserState
	claims      map[string]bool

	// Fail makes the named operations return ErrInjected.
	Fail map[string]bool
}

func New() *DB {
	return &DB{
		users:  make(map[uuid.UUID]*models.User),
		events: make(map[uuid.UUID]*sos.Event),
		states: make(map[uuid.UUID]models.UserState),
		claims: make(map[string]bool),
		Fail:   make(map[string]bool),
	}
}

func (db *DB) fail(op string) error {
	if db.Fail[op] {
		return ErrInjected
	}
	return nil
}

// Users

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("CreateUser"); err != nil {
		return err
	}
	for _, u := range db.users {
		if strings.EqualFold(u.Email, user.Email) {
			return apperr.Conflict("email already registered")
		}
	}
	cp := *user
	cp.EmergencyContacts = append(models.Contacts{}, user.EmergencyContacts...)
	db.users[user.ID] = &cp
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("GetUserByID"); err != nil {
		return nil, err
	}
	u, ok := db.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.EmergencyContacts = append(models.Contacts{}, u.EmergencyContacts...)
	return &cp, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	db.mu.Lock()
	var id uuid.UUID
	for _, u := range db.users {
		if strings.EqualFold(u.Email, email) {
			id = u.ID
		}
	}
	db.mu.Unlock()
	if id == uuid.Nil {
		return nil, nil
	}
	return db.GetUserByID(ctx, id)
}

func (db *DB) UpdateProfile(ctx context.Context, userID uuid.UUID, name, phone string, profile models.Profile) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok {
		return apperr.NotFound("user not found")
	}
	u.Name, u.Phone, u.Profile = name, phone, profile
	return nil
}

func (db *DB) IncrementFalseAlarmCount(ctx context.Context, userID uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("IncrementFalseAlarmCount"); err != nil {
		return err
	}
	if u, ok := db.users[userID]; ok {
		u.FalseAlarmCount++
	}
	return nil
}

func (db *DB) AddContact(ctx context.Context, userID uuid.UUID, contact models.Contact) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok {
		return apperr.NotFound("user not found")
	}
	u.EmergencyContacts = append(u.EmergencyContacts, contact)
	return nil
}

func (db *DB) UpdateContact(ctx context.Context, userID uuid.UUID, contactID string, fn func(*models.Contact)) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok {
		return apperr.NotFound("user not found")
	}
	for i := range u.EmergencyContacts {
		if u.EmergencyContacts[i].ID == contactID {
			fn(&u.EmergencyContacts[i])
			return nil
		}
	}
	return apperr.NotFound("contact not found")
}

func (db *DB) DeleteContact(ctx context.Context, userID uuid.UUID, contactID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok {
		return apperr.NotFound("user not found")
	}
	for i, c := range u.EmergencyContacts {
		if c.ID == contactID {
			u.EmergencyContacts = append(u.EmergencyContacts[:i:i], u.EmergencyContacts[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("contact not found")
}

// Locations

func (db *DB) CreateLocationPing(ctx context.Context, p *models.LocationPing) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("CreateLocationPing"); err != nil {
		return err
	}
	db.pings = append(db.pings, *p)
	return nil
}

func (db *DB) userPings(userID uuid.UUID) []models.LocationPing {
	var out []models.LocationPing
	for _, p := range db.pings {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (db *DB) GetLatestLocation(ctx context.Context, userID uuid.UUID) (*models.LocationPing, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	pings := db.userPings(userID)
	if len(pings) == 0 {
		return nil, nil
	}
	return &pings[0], nil
}

func (db *DB) GetLocationHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.LocationPing, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	pings := db.userPings(userID)
	if pings == nil {
		pings = []models.LocationPing{}
	}
	return pings[:min(limit, len(pings))], nil
}

func (db *DB) ListActiveTourists(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("ListActiveTourists"); err != nil {
		return nil, err
	}
	seen := map[uuid.UUID]bool{}
	ids := []uuid.UUID{}
	for _, p := range db.pings {
		u, ok := db.users[p.UserID]
		if !ok || u.Role != models.RoleTourist || p.Timestamp.Before(since) || seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

// Zones

func (db *DB) CreateZone(ctx context.Context, z *models.Zone) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.zones = append(db.zones, *z)
	return nil
}

func (db *DB) ListZones(ctx context.Context, activeOnly bool) ([]models.Zone, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("ListZones"); err != nil {
		return nil, err
	}
	out := []models.Zone{}
	for _, z := range db.zones {
		if activeOnly && !z.Active {
			continue
		}
		out = append(out, z)
	}
	return out, nil
}

// Scores

func (db *DB) CreateScoreRecord(ctx context.Context, r *models.ScoreRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("CreateScoreRecord"); err != nil {
		return err
	}
	db.scores = append(db.scores, *r)
	return nil
}

func (db *DB) GetScoreHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoreRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := []models.ScoreRecord{}
	for i := len(db.scores) - 1; i >= 0 && len(out) < limit; i-- {
		if db.scores[i].UserID == userID {
			out = append(out, db.scores[i])
		}
	}
	return out, nil
}

// CountIncidentsNear counts SOS events and FIRs within radiusM of p since the given time.
func (db *DB) CountIncidentsNear(ctx context.Context, p geo.Point, radiusM float64, since time.Time) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("CountIncidentsNear"); err != nil {
		return 0, err
	}
	n := 0
	for _, e := range db.events {
		if !e.CreatedAt.Before(since) && geo.DistanceMeters(p, geo.Point{Lat: e.Lat, Lng: e.Lng}) <= radiusM {
			n++
		}
	}
	for _, f := range db.firs {
		if !f.IncidentAt.Before(since) && geo.DistanceMeters(p, geo.Point{Lat: f.Lat, Lng: f.Lng}) <= radiusM {
			n++
		}
	}
	return n, nil
}

// Anomalies

func (db *DB) CreateAnomalyLog(ctx context.Context, l *models.AnomalyLog) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("CreateAnomalyLog"); err != nil {
		return err
	}
	db.anomalies = append(db.anomalies, *l)
	return nil
}

func (db *DB) GetAnomalyLogs(ctx context.Context, userID uuid.UUID, limit int) ([]models.AnomalyLog, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := []models.AnomalyLog{}
	for i := len(db.anomalies) - 1; i >= 0 && len(out) < limit; i-- {
		if db.anomalies[i].UserID == userID {
			out = append(out, db.anomalies[i])
		}
	}
	return out, nil
}

func (db *DB) CountAnomaliesSince(ctx context.Context, since time.Time) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, a := range db.anomalies {
		if !a.DetectedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// SOS

func (db *DB) CreateSOSEvent(ctx context.Context, e *sos.Event, first *sos.EscalationRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("CreateSOSEvent"); err != nil {
		return err
	}
	if e.Status.Active() {
		for _, other := range db.events {
			if other.UserID == e.UserID && other.Status.Active() {
				return sos.ErrActiveExists
			}
		}
	}
	cp := *e
	db.events[e.ID] = &cp
	db.escalations = append(db.escalations, *first)
	return nil
}

func (db *DB) GetSOSEvent(ctx context.Context, id uuid.UUID) (*sos.Event, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.events[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (db *DB) sortedEvents(keep func(*sos.Event) bool) []sos.Event {
	out := []sos.Event{}
	for _, e := range db.events {
		if keep(e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (db *DB) GetActiveSOSForUser(ctx context.Context, userID uuid.UUID) (*sos.Event, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("GetActiveSOSForUser"); err != nil {
		return nil, err
	}
	events := db.sortedEvents(func(e *sos.Event) bool { return e.UserID == userID && e.Status.Active() })
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (db *DB) ListSOSEvents(ctx context.Context, status sos.Status, limit int) ([]sos.Event, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	events := db.sortedEvents(func(e *sos.Event) bool {
		if status == "" {
			return e.Status.Active()
		}
		return e.Status == status
	})
	return events[:min(limit, len(events))], nil
}

func (db *DB) lastSent(eventID uuid.UUID) time.Time {
	var last time.Time
	for _, r := range db.escalations {
		if r.EventID == eventID && r.SentAt.After(last) {
			last = r.SentAt
		}
	}
	return last
}

func (db *DB) ListEscalationCandidates(ctx context.Context, cutoff time.Time) ([]sos.Event, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	events := db.sortedEvents(func(e *sos.Event) bool {
		return e.Status == sos.StatusTriggered && e.EscalationLevel < sos.MaxLevel && db.lastSent(e.ID).Before(cutoff)
	})
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (db *DB) UpdateSOSStatus(ctx context.Context, e *sos.Event, from sos.Status, ack bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	stored, ok := db.events[e.ID]
	if !ok {
		return apperr.NotFound("sos event not found")
	}
	if stored.Status != from {
		return sos.ErrStaleStatus
	}
	stored.Status = e.Status
	stored.AcknowledgedBy = e.AcknowledgedBy
	stored.AcknowledgedAt = e.AcknowledgedAt
	stored.ResolvedAt = e.ResolvedAt
	stored.UpdatedAt = e.UpdatedAt
	if ack {
		for i := range db.escalations {
			if db.escalations[i].EventID == e.ID {
				db.escalations[i].Acknowledge(e.UpdatedAt)
			}
		}
	}
	return nil
}

func (db *DB) AddEscalation(ctx context.Context, e *sos.Event, r *sos.EscalationRecord) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("AddEscalation"); err != nil {
		return false, err
	}
	stored, ok := db.events[e.ID]
	if !ok || stored.EscalationLevel >= r.Level || stored.Status != sos.StatusTriggered {
		return false, nil
	}
	stored.EscalationLevel = r.Level
	stored.UpdatedAt = e.UpdatedAt
	db.escalations = append(db.escalations, *r)
	return true, nil
}

func (db *DB) ListEscalations(ctx context.Context, eventID uuid.UUID) ([]sos.EscalationRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := []sos.EscalationRecord{}
	for _, r := range db.escalations {
		if r.EventID == eventID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (db *DB) CountSOSByStatus(ctx context.Context, since time.Time) (map[string]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := map[string]int{}
	for _, e := range db.events {
		if !e.CreatedAt.Before(since) {
			out[string(e.Status)]++
		}
	}
	return out, nil
}

// FIRs

func (db *DB) CreateFIR(ctx context.Context, f *models.FIR, seal func(f *models.FIR, seq int64, prevHash string) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("CreateFIR"); err != nil {
		return err
	}
	prev := ""
	if n := len(db.firs); n > 0 {
		prev = db.firs[n-1].Hash
	}
	db.firSeq++
	if err := seal(f, db.firSeq, prev); err != nil {
		return err
	}
	db.firs = append(db.firs, *f)
	return nil
}

func (db *DB) GetFIR(ctx context.Context, id uuid.UUID) (*models.FIR, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := range db.firs {
		if db.firs[i].ID == id {
			cp := db.firs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (db *DB) GetFIRBefore(ctx context.Context, seq int64) (*models.FIR, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := len(db.firs) - 1; i >= 0; i-- {
		if db.firs[i].Seq < seq {
			cp := db.firs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (db *DB) ListFIRs(ctx context.Context, userID *uuid.UUID, status models.FIRStatus, limit int) ([]models.FIR, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := []models.FIR{}
	for i := len(db.firs) - 1; i >= 0 && len(out) < limit; i-- {
		f := db.firs[i]
		if (userID == nil || f.UserID == *userID) && (status == "" || f.Status == status) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (db *DB) UpdateFIRStatus(ctx context.Context, id uuid.UUID, status models.FIRStatus, notes string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := range db.firs {
		if db.firs[i].ID == id {
			db.firs[i].Status = status
			if notes != "" {
				db.firs[i].Notes = notes
			}
			db.firs[i].UpdatedAt = at
			return nil
		}
	}
	return apperr.NotFound("fir not found")
}

func (db *DB) CountFIRsByStatus(ctx context.Context) (map[string]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := map[string]int{}
	for _, f := range db.firs {
		out[string(f.Status)]++
	}
	return out, nil
}

func (db *DB) CreateEvidence(ctx context.Context, ev *models.FIREvidence) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.evidence = append(db.evidence, *ev)
	return nil
}

func (db *DB) ListEvidence(ctx context.Context, firID uuid.UUID) ([]models.FIREvidence, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := []models.FIREvidence{}
	for _, ev := range db.evidence {
		if ev.FIRID == firID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// TamperFIR rewrites a stored report in place, bypassing the seal.
func (db *DB) TamperFIR(id uuid.UUID, fn func(*models.FIR)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := range db.firs {
		if db.firs[i].ID == id {
			fn(&db.firs[i])
		}
	}
}

// Live state

func (db *DB) SetUserState(ctx context.Context, state *models.UserState) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.fail("SetUserState"); err != nil {
		return err
	}
	cp := *state
	cp.InZones = append([]uuid.UUID(nil), state.InZones...)
	db.states[state.UserID] = cp
	return nil
}

func (db *DB) GetUserState(ctx context.Context, userID uuid.UUID) (*models.UserState, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	st, ok := db.states[userID]
	if !ok {
		return nil, nil
	}
	st.InZones = append([]uuid.UUID(nil), st.InZones...)
	return &st, nil
}

func (db *DB) ClaimEscalation(ctx context.Context, eventID uuid.UUID, level int, ttl time.Duration) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := fmt.Sprintf("%s:%d", eventID, level)
	if db.claims[key] {
		return false, nil
	}
	db.claims[key] = true
	return true, nil
}

// Helpers for tests

// Escalations returns every stored escalation record.
func (db *DB) Escalations() []sos.EscalationRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]sos.EscalationRecord(nil), db.escalations...)
}

func (db *DB) AnomalyLogs() []models.AnomalyLog {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.AnomalyLog(nil), db.anomalies...)
}

func (db *DB) Pings() []models.LocationPing {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.LocationPing(nil), db.pings...)
}

func (db *DB) ScoreRecords() []models.ScoreRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.ScoreRecord(nil), db.scores...)
}

// SetEscalationSentAt backdates an event's escalation records.
func (db *DB) SetEscalationSentAt(eventID uuid.UUID, at time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := range db.escalations {
		if db.escalations[i].EventID == eventID {
			db.escalations[i].SentAt = at
		}
	}
}
