package database

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/adedejiosvaldo/safetour/backend/internal/geo"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
)

// Location operations
const pingColumns = `id, user_id, source, lat, lng, accuracy_m, speed, battery_level, timestamp, signature, created_at`

func scanPing(row pgx.Row) (*models.LocationPing, error) {
	var p models.LocationPing
	err := row.Scan(
		&p.ID, &p.UserID, &p.Source, &p.Lat, &p.Lng, &p.AccuracyM,
		&p.Speed, &p.BatteryLevel, &p.Timestamp, &p.Signature, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *PostgresDB) CreateLocationPing(ctx context.Context, p *models.LocationPing) error {
	query := `
		INSERT INTO location_pings (` + pingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := db.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Source, p.Lat, p.Lng, p.AccuracyM,
		p.Speed, p.BatteryLevel, p.Timestamp, p.Signature, p.CreatedAt,
	)
	return err
}

func (db *PostgresDB) GetLatestLocation(ctx context.Context, userID uuid.UUID) (*models.LocationPing, error) {
	query := `
		SELECT ` + pingColumns + `
		FROM location_pings
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`
	p, err := scanPing(db.pool.QueryRow(ctx, query, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (db *PostgresDB) GetLocationHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.LocationPing, error) {
	query := `
		SELECT ` + pingColumns + `
		FROM location_pings
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := db.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pings := []models.LocationPing{}
	for rows.Next() {
		p, err := scanPing(rows)
		if err != nil {
			return nil, err
		}
		pings = append(pings, *p)
	}
	return pings, rows.Err()
}

// ListActiveTourists returns tourists that reported a location since the given time.
func (db *PostgresDB) ListActiveTourists(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT lp.user_id
		FROM location_pings lp
		JOIN users u ON u.id = lp.user_id
		WHERE lp.timestamp >= $1 AND u.role = 'tourist'
	`
	rows, err := db.pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Zone operations
const zoneColumns = `id, name, kind, lat, lng, radius_m, risk_level, active, created_by, created_at`

func (db *PostgresDB) CreateZone(ctx context.Context, z *models.Zone) error {
	query := `
		INSERT INTO zones (` + zoneColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := db.pool.Exec(ctx, query,
		z.ID, z.Name, z.Kind, z.Lat, z.Lng, z.RadiusM, z.RiskLevel, z.Active, z.CreatedBy, z.CreatedAt,
	)
	return err
}

func (db *PostgresDB) ListZones(ctx context.Context, activeOnly bool) ([]models.Zone, error) {
	query := `SELECT ` + zoneColumns + ` FROM zones WHERE ($1 = FALSE OR active) ORDER BY created_at`
	rows, err := db.pool.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	zones := []models.Zone{}
	for rows.Next() {
		var z models.Zone
		if err := rows.Scan(
			&z.ID, &z.Name, &z.Kind, &z.Lat, &z.Lng, &z.RadiusM, &z.RiskLevel, &z.Active, &z.CreatedBy, &z.CreatedAt,
		); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// Score history operations
const scoreColumns = `id, user_id, lat, lng, composite, label, location_score, time_score, incident_score, behavior_score, battery_score, computed_at`

func (db *PostgresDB) CreateScoreRecord(ctx context.Context, r *models.ScoreRecord) error {
	query := `
		INSERT INTO score_history (` + scoreColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := db.pool.Exec(ctx, query,
		r.ID, r.UserID, r.Lat, r.Lng, r.Composite, r.Label,
		r.Location, r.TimeOfDay, r.RecentIncidents, r.UserBehavior, r.Battery, r.ComputedAt,
	)
	return err
}

func (db *PostgresDB) GetScoreHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoreRecord, error) {
	query := `
		SELECT ` + scoreColumns + `
		FROM score_history
		WHERE user_id = $1
		ORDER BY computed_at DESC
		LIMIT $2
	`
	rows, err := db.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.ScoreRecord{}
	for rows.Next() {
		var r models.ScoreRecord
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.Lat, &r.Lng, &r.Composite, &r.Label,
			&r.Location, &r.TimeOfDay, &r.RecentIncidents, &r.UserBehavior, &r.Battery, &r.ComputedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Anomaly log operations
func (db *PostgresDB) CreateAnomalyLog(ctx context.Context, l *models.AnomalyLog) error {
	query := `
		INSERT INTO anomaly_logs (id, user_id, type, severity, description, metadata, auto_sos_triggered, sos_event_id, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := db.pool.Exec(ctx, query,
		l.ID, l.UserID, l.Type, l.Severity, l.Description, l.Metadata, l.AutoSOSTriggered, l.SOSEventID, l.DetectedAt,
	)
	return err
}

func (db *PostgresDB) GetAnomalyLogs(ctx context.Context, userID uuid.UUID, limit int) ([]models.AnomalyLog, error) {
	query := `
		SELECT id, user_id, type, severity, description, metadata, auto_sos_triggered, sos_event_id, detected_at
		FROM anomaly_logs
		WHERE user_id = $1
		ORDER BY detected_at DESC
		LIMIT $2
	`
	rows, err := db.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.AnomalyLog{}
	for rows.Next() {
		var l models.AnomalyLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Type, &l.Severity, &l.Description, &l.Metadata, &l.AutoSOSTriggered, &l.SOSEventID, &l.DetectedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (db *PostgresDB) CountAnomaliesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM anomaly_logs WHERE detected_at >= $1`, since).Scan(&n)
	return n, err
}

// CountIncidentsNear counts SOS events and FIRs within radiusM of p since the given time.
// A bounding box narrows the rows in SQL; the exact great-circle check runs here.
func (db *PostgresDB) CountIncidentsNear(ctx context.Context, p geo.Point, radiusM float64, since time.Time) (int, error) {
	dLat := radiusM / geo.EarthRadiusMeters * 180 / math.Pi
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	dLng := 180.0
	if cosLat > 1e-6 {
		dLng = math.Min(180, dLat/cosLat)
	}

	query := `
		SELECT lat, lng FROM sos_events
		WHERE created_at >= $1 AND lat BETWEEN $2 AND $3 AND lng BETWEEN $4 AND $5
		UNION ALL
		SELECT lat, lng FROM firs
		WHERE incident_at >= $1 AND lat BETWEEN $2 AND $3 AND lng BETWEEN $4 AND $5
	`
	rows, err := db.pool.Query(ctx, query, since, p.Lat-dLat, p.Lat+dLat, p.Lng-dLng, p.Lng+dLng)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var q geo.Point
		if err := rows.Scan(&q.Lat, &q.Lng); err != nil {
			return 0, err
		}
		if geo.DistanceMeters(p, q) <= radiusM {
			n++
		}
	}
	return n, rows.Err()
}
