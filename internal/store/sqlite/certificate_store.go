package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/userpki/internal/models"
	"github.com/wolfeidau/userpki/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS certificates (
	serial_number TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	email         TEXT NOT NULL,
	public_key    TEXT NOT NULL,
	issuer        TEXT NOT NULL,
	valid_from    INTEGER NOT NULL,
	valid_to      INTEGER NOT NULL,
	signature     TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	CHECK (valid_from < valid_to)
);
CREATE INDEX IF NOT EXISTS idx_certificates_identity ON certificates (user_id, email, created_at);
CREATE INDEX IF NOT EXISTS idx_certificates_user ON certificates (user_id, created_at);
`

const selectCertificate = `SELECT serial_number, user_id, email, public_key, issuer, valid_from, valid_to, signature, created_at FROM certificates`

// Config holds settings for the SQLite store.
type Config struct {
	// Path is the database file; it is created if missing.
	Path string
}

// CertificateStore implements store.CertificateStore on a SQLite database.
// Timestamps are stored as unix nanoseconds and rowid breaks created_at ties.
type CertificateStore struct {
	db *sql.DB
}

// New wraps an open database without touching the schema.
func New(db *sql.DB) *CertificateStore {
	return &CertificateStore{db: db}
}

// Open opens the database at cfg.Path with WAL journaling and creates the schema.
func Open(ctx context.Context, cfg Config) (*CertificateStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", cfg.Path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", cfg.Path).Msg("SQLite certificate store ready")

	return s, nil
}

// EnsureSchema creates the certificates table and indexes if they do not exist.
func (s *CertificateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *CertificateStore) Close() error {
	return s.db.Close()
}

// Insert stores a certificate.
func (s *CertificateStore) Insert(ctx context.Context, cert *models.Certificate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO certificates (serial_number, user_id, email, public_key, issuer, valid_from, valid_to, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cert.SerialNumber,
		cert.UserID,
		cert.Email,
		cert.PublicKey,
		cert.Issuer,
		cert.ValidFrom.UnixNano(),
		cert.ValidTo.UnixNano(),
		cert.Signature,
		cert.CreatedAt.UnixNano(),
	)
	if err != nil {
		return mapSQLiteError(err)
	}

	log.Debug().Str("serial_number", cert.SerialNumber).Msg("certificate inserted")
	return nil
}

// FindByIdentity returns one certificate for (userID, email) chosen by sel.
func (s *CertificateStore) FindByIdentity(ctx context.Context, userID, email string, sel store.Selection) (*models.Certificate, error) {
	return s.queryOne(ctx, selectCertificate+` WHERE user_id = ? AND email = ? ORDER BY `+orderBy(sel)+` LIMIT 1`, userID, email)
}

// FindByUserID returns one certificate for userID chosen by sel.
func (s *CertificateStore) FindByUserID(ctx context.Context, userID string, sel store.Selection) (*models.Certificate, error) {
	return s.queryOne(ctx, selectCertificate+` WHERE user_id = ? ORDER BY `+orderBy(sel)+` LIMIT 1`, userID)
}

// Ping checks the database is reachable.
func (s *CertificateStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CertificateStore) queryOne(ctx context.Context, query string, args ...any) (*models.Certificate, error) {
	var (
		cert                          models.Certificate
		validFrom, validTo, createdAt int64
	)

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&cert.SerialNumber,
		&cert.UserID,
		&cert.Email,
		&cert.PublicKey,
		&cert.Issuer,
		&validFrom,
		&validTo,
		&cert.Signature,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query certificate: %w", mapSQLiteError(err))
	}

	cert.ValidFrom = time.Unix(0, validFrom).UTC()
	cert.ValidTo = time.Unix(0, validTo).UTC()
	cert.CreatedAt = time.Unix(0, createdAt).UTC()

	return &cert, nil
}

func orderBy(sel store.Selection) string {
	if sel.Newest() {
		return "created_at DESC, rowid DESC"
	}
	return "created_at ASC, rowid ASC"
}

// mapSQLiteError converts driver errors into store sentinels where one applies.
func mapSQLiteError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch {
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey,
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %w", store.ErrCertAlreadyExists, err)
	case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
		return fmt.Errorf("database busy: %w", err)
	default:
		return fmt.Errorf("sqlite error [%d]: %w", sqliteErr.Code, err)
	}
}
