package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adedejiosvaldo/safetour/backend/internal/apperr"
	"github.com/adedejiosvaldo/safetour/backend/internal/models"
)

//go:embed schema.sql
var schema string

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	// Set connection pool settings
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() {
	db.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// User operations
const userColumns = `id, email, password_hash, name, phone, role, emergency_contacts, profile, false_alarm_count, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Phone, &user.Role,
		&user.EmergencyContacts, &user.Profile, &user.FalseAlarmCount, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := db.pool.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name, user.Phone, user.Role,
		user.EmergencyContacts, user.Profile, user.FalseAlarmCount, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.Conflict("email %s is already registered", user.Email)
	}
	return err
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.pool.QueryRow(ctx, query, id))
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(db.pool.QueryRow(ctx, query, email))
}

func (db *PostgresDB) UpdateProfile(ctx context.Context, userID uuid.UUID, name, phone string, profile models.Profile) error {
	query := `
		UPDATE users
		SET name = COALESCE(NULLIF($2, ''), name),
			phone = COALESCE(NULLIF($3, ''), phone),
			profile = $4,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := db.pool.Exec(ctx, query, userID, name, phone, profile)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

func (db *PostgresDB) IncrementFalseAlarmCount(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE users SET false_alarm_count = false_alarm_count + 1, updated_at = NOW() WHERE id = $1`
	_, err := db.pool.Exec(ctx, query, userID)
	return err
}

// Contact management operations
func (db *PostgresDB) AddContact(ctx context.Context, userID uuid.UUID, contact models.Contact) error {
	query := `
		UPDATE users
		SET emergency_contacts = emergency_contacts || $1::jsonb,
			updated_at = NOW()
		WHERE id = $2
	`
	tag, err := db.pool.Exec(ctx, query, models.Contacts{contact}, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

// UpdateContact applies fn to the contact with contactID and saves the list.
// The row is locked for the read-modify-write.
func (db *PostgresDB) UpdateContact(ctx context.Context, userID uuid.UUID, contactID string, fn func(*models.Contact)) error {
	return db.rewriteContacts(ctx, userID, func(contacts models.Contacts) (models.Contacts, bool) {
		for i := range contacts {
			if contacts[i].ID == contactID {
				fn(&contacts[i])
				return contacts, true
			}
		}
		return contacts, false
	})
}

func (db *PostgresDB) DeleteContact(ctx context.Context, userID uuid.UUID, contactID string) error {
	return db.rewriteContacts(ctx, userID, func(contacts models.Contacts) (models.Contacts, bool) {
		kept := make(models.Contacts, 0, len(contacts))
		for _, c := range contacts {
			if c.ID != contactID {
				kept = append(kept, c)
			}
		}
		return kept, len(kept) != len(contacts)
	})
}

func (db *PostgresDB) rewriteContacts(ctx context.Context, userID uuid.UUID, edit func(models.Contacts) (models.Contacts, bool)) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		var contacts models.Contacts
		err := tx.QueryRow(ctx, `SELECT emergency_contacts FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&contacts)
		if err == pgx.ErrNoRows {
			return apperr.NotFound("user not found")
		}
		if err != nil {
			return err
		}

		updated, found := edit(contacts)
		if !found {
			return apperr.NotFound("contact not found")
		}

		_, err = tx.Exec(ctx, `
			UPDATE users
			SET emergency_contacts = $1::jsonb,
				updated_at = NOW()
			WHERE id = $2
		`, updated, userID)
		return err
	})
}
