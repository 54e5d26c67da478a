package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
	"github.com/adedejiosvaldo/safetour/backend/internal/sos"
)

// SOS operations
const sosColumns = `id, user_id, trigger_mode, status, priority, confidence, lat, lng, description,
	escalation_level, acknowledged_by, acknowledged_at, resolved_at, created_at, updated_at`

func scanSOS(row pgx.Row) (*sos.Event, error) {
	var e sos.Event
	err := row.Scan(
		&e.ID, &e.UserID, &e.TriggerMode, &e.Status, &e.Priority, &e.Confidence, &e.Lat, &e.Lng, &e.Description,
		&e.EscalationLevel, &e.AcknowledgedBy, &e.AcknowledgedAt, &e.ResolvedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func insertEscalation(ctx context.Context, tx pgx.Tx, r *sos.EscalationRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sos_escalations (id, event_id, level, target, status, sent_at, acknowledged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.EventID, r.Level, r.Target, r.Status, r.SentAt, r.AcknowledgedAt)
	return err
}

// CreateSOSEvent stores a new event together with its first escalation record.
func (db *PostgresDB) CreateSOSEvent(ctx context.Context, e *sos.Event, first *sos.EscalationRecord) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sos_events (`+sosColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			e.ID, e.UserID, e.TriggerMode, e.Status, e.Priority, e.Confidence, e.Lat, e.Lng, e.Description,
			e.EscalationLevel, e.AcknowledgedBy, e.AcknowledgedAt, e.ResolvedAt, e.CreatedAt, e.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return sos.ErrActiveExists
		}
		if err != nil {
			return err
		}
		return insertEscalation(ctx, tx, first)
	})
}

func (db *PostgresDB) GetSOSEvent(ctx context.Context, id uuid.UUID) (*sos.Event, error) {
	e, err := scanSOS(db.pool.QueryRow(ctx, `SELECT `+sosColumns+` FROM sos_events WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (db *PostgresDB) GetActiveSOSForUser(ctx context.Context, userID uuid.UUID) (*sos.Event, error) {
	query := `
		SELECT ` + sosColumns + `
		FROM sos_events
		WHERE user_id = $1 AND status IN ('triggered', 'acknowledged', 'responding')
		ORDER BY created_at DESC
		LIMIT 1
	`
	e, err := scanSOS(db.pool.QueryRow(ctx, query, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (db *PostgresDB) querySOS(ctx context.Context, query string, args ...any) ([]sos.Event, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []sos.Event{}
	for rows.Next() {
		e, err := scanSOS(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// ListSOSEvents lists events newest first; an empty status lists active events.
func (db *PostgresDB) ListSOSEvents(ctx context.Context, status sos.Status, limit int) ([]sos.Event, error) {
	if status == "" {
		return db.querySOS(ctx, `
			SELECT `+sosColumns+` FROM sos_events
			WHERE status IN ('triggered', 'acknowledged', 'responding')
			ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	return db.querySOS(ctx, `
		SELECT `+sosColumns+` FROM sos_events
		WHERE status = $1
		ORDER BY created_at DESC LIMIT $2
	`, status, limit)
}

// ListEscalationCandidates returns events still waiting for acknowledgement whose
// latest escalation was sent before the cutoff and that can still move up the ladder.
func (db *PostgresDB) ListEscalationCandidates(ctx context.Context, cutoff time.Time) ([]sos.Event, error) {
	return db.querySOS(ctx, `
		SELECT `+sosColumns+` FROM sos_events e
		WHERE e.status = 'triggered'
		  AND e.escalation_level < $2
		  AND (SELECT MAX(sent_at) FROM sos_escalations s WHERE s.event_id = e.id) < $1
		ORDER BY e.created_at
	`, cutoff, sos.MaxLevel)
}

// UpdateSOSStatus persists the lifecycle fields of e, provided the stored
// event is still in status from. When ack is true the event's sent escalation
// records are acknowledged in the same transaction.
func (db *PostgresDB) UpdateSOSStatus(ctx context.Context, e *sos.Event, from sos.Status, ack bool) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sos_events
			SET status = $2, acknowledged_by = $3, acknowledged_at = $4, resolved_at = $5, updated_at = $6
			WHERE id = $1 AND status = $7
		`, e.ID, e.Status, e.AcknowledgedBy, e.AcknowledgedAt, e.ResolvedAt, e.UpdatedAt, from)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sos_events WHERE id = $1)`, e.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return apperr.NotFound("sos event not found")
			}
			return sos.ErrStaleStatus
		}
		if !ack {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE sos_escalations SET status = 'acknowledged', acknowledged_at = $2
			WHERE event_id = $1 AND status = 'sent'
		`, e.ID, e.UpdatedAt)
		return err
	})
}

// AddEscalation raises the event's level and appends the record. The level
// only moves up; a concurrent escalation of the same rung is a no-op.
func (db *PostgresDB) AddEscalation(ctx context.Context, e *sos.Event, r *sos.EscalationRecord) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sos_events SET escalation_level = $2, updated_at = $3
			WHERE id = $1 AND escalation_level < $2 AND status = 'triggered'
		`, e.ID, r.Level, e.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true
		return insertEscalation(ctx, tx, r)
	})
	return applied, err
}

func (db *PostgresDB) ListEscalations(ctx context.Context, eventID uuid.UUID) ([]sos.EscalationRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, event_id, level, target, status, sent_at, acknowledged_at
		FROM sos_escalations WHERE event_id = $1 ORDER BY level, sent_at
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []sos.EscalationRecord{}
	for rows.Next() {
		var r sos.EscalationRecord
		if err := rows.Scan(&r.ID, &r.EventID, &r.Level, &r.Target, &r.Status, &r.SentAt, &r.AcknowledgedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (db *PostgresDB) countBy(ctx context.Context, query string, args ...any) (map[string]int, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

func (db *PostgresDB) CountSOSByStatus(ctx context.Context, since time.Time) (map[string]int, error) {
	return db.countBy(ctx, `SELECT status, COUNT(*) FROM sos_events WHERE created_at >= $1 GROUP BY status`, since)
}

// FIR operations
const firColumns = `id, seq, number, user_id, sos_event_id, incident_type, description, lat, lng,
	incident_at, status, notes, prev_hash, hash, created_at, updated_at`

func scanFIR(row pgx.Row) (*models.FIR, error) {
	var f models.FIR
	err := row.Scan(
		&f.ID, &f.Seq, &f.Number, &f.UserID, &f.SOSEventID, &f.IncidentType, &f.Description, &f.Lat, &f.Lng,
		&f.IncidentAt, &f.Status, &f.Notes, &f.PrevHash, &f.Hash, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// firChainLock serialises FIR creation so each report links to its predecessor.
const firChainLock = 73011

// CreateFIR allocates the next sequence number, hands the predecessor's hash
// to seal and stores the sealed report, all under one advisory lock.
func (db *PostgresDB) CreateFIR(ctx context.Context, f *models.FIR, seal func(f *models.FIR, seq int64, prevHash string) error) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, firChainLock); err != nil {
			return err
		}

		var prevHash string
		err := tx.QueryRow(ctx, `SELECT hash FROM firs ORDER BY seq DESC LIMIT 1`).Scan(&prevHash)
		if err != nil && err != pgx.ErrNoRows {
			return err
		}

		var seq int64
		if err := tx.QueryRow(ctx, `SELECT nextval('fir_seq')`).Scan(&seq); err != nil {
			return err
		}
		if err := seal(f, seq, prevHash); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO firs (`+firColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
			f.ID, f.Seq, f.Number, f.UserID, f.SOSEventID, f.IncidentType, f.Description, f.Lat, f.Lng,
			f.IncidentAt, f.Status, f.Notes, f.PrevHash, f.Hash, f.CreatedAt, f.UpdatedAt,
		)
		return err
	})
}

func (db *PostgresDB) GetFIR(ctx context.Context, id uuid.UUID) (*models.FIR, error) {
	f, err := scanFIR(db.pool.QueryRow(ctx, `SELECT `+firColumns+` FROM firs WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return f, err
}

// GetFIRBefore returns the report immediately preceding seq in the chain.
func (db *PostgresDB) GetFIRBefore(ctx context.Context, seq int64) (*models.FIR, error) {
	f, err := scanFIR(db.pool.QueryRow(ctx, `
		SELECT `+firColumns+` FROM firs WHERE seq < $1 ORDER BY seq DESC LIMIT 1
	`, seq))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (db *PostgresDB) ListFIRs(ctx context.Context, userID *uuid.UUID, status models.FIRStatus, limit int) ([]models.FIR, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+firColumns+` FROM firs
		WHERE ($1::uuid IS NULL OR user_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY seq DESC LIMIT $3
	`, userID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	firs := []models.FIR{}
	for rows.Next() {
		f, err := scanFIR(rows)
		if err != nil {
			return nil, err
		}
		firs = append(firs, *f)
	}
	return firs, rows.Err()
}

func (db *PostgresDB) UpdateFIRStatus(ctx context.Context, id uuid.UUID, status models.FIRStatus, notes string, at time.Time) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE firs SET status = $2, notes = COALESCE(NULLIF($3, ''), notes), updated_at = $4 WHERE id = $1
	`, id, status, notes, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("fir not found")
	}
	return nil
}

func (db *PostgresDB) CountFIRsByStatus(ctx context.Context) (map[string]int, error) {
	return db.countBy(ctx, `SELECT status, COUNT(*) FROM firs GROUP BY status`)
}

func (db *PostgresDB) CreateEvidence(ctx context.Context, ev *models.FIREvidence) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO fir_evidence (id, fir_id, object_key, file_name, content_type, size, sha256, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, ev.FIRID, ev.ObjectKey, ev.FileName, ev.ContentType, ev.Size, ev.SHA256, ev.UploadedBy, ev.UploadedAt)
	return err
}

func (db *PostgresDB) ListEvidence(ctx context.Context, firID uuid.UUID) ([]models.FIREvidence, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, fir_id, object_key, file_name, content_type, size, sha256, uploaded_by, uploaded_at
		FROM fir_evidence WHERE fir_id = $1 ORDER BY uploaded_at
	`, firID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	evidence := []models.FIREvidence{}
	for rows.Next() {
		var ev models.FIREvidence
		if err := rows.Scan(
			&ev.ID, &ev.FIRID, &ev.ObjectKey, &ev.FileName, &ev.ContentType, &ev.Size, &ev.SHA256, &ev.UploadedBy, &ev.UploadedAt,
		); err != nil {
			return nil, err
		}
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}
