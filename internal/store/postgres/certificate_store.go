package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/userpki/internal/models"
	"github.com/wolfeidau/userpki/internal/store"
)

const certificateColumns = `serial_number, user_id, email, public_key, issuer, valid_from, valid_to, signature, created_at`

// CertificateStore implements store.CertificateStore using PostgreSQL.
type CertificateStore struct {
	pool *pgxpool.Pool
}

// NewCertificateStore wraps an existing pool.
func NewCertificateStore(pool *pgxpool.Pool) *CertificateStore {
	return &CertificateStore{pool: pool}
}

// Open creates the pool, applies migrations when cfg.AutoMigrate is set and returns the store.
func Open(ctx context.Context, cfg *Config) (*CertificateStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("PostgreSQL certificate store ready")

	return NewCertificateStore(pool), nil
}

// Close releases the pool.
func (s *CertificateStore) Close() {
	s.pool.Close()
}

// Insert stores a certificate.
func (s *CertificateStore) Insert(ctx context.Context, cert *models.Certificate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		cert.SerialNumber,
		cert.UserID,
		cert.Email,
		cert.PublicKey,
		cert.Issuer,
		cert.ValidFrom,
		cert.ValidTo,
		cert.Signature,
		cert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert certificate: %w", mapPostgresError(err))
	}

	log.Debug().Str("serial_number", cert.SerialNumber).Msg("certificate inserted")
	return nil
}

// FindByIdentity returns one certificate for (userID, email) chosen by sel.
func (s *CertificateStore) FindByIdentity(ctx context.Context, userID, email string, sel store.Selection) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates
		WHERE user_id = $1 AND email = $2
		ORDER BY ` + orderBy(sel) + ` LIMIT 1`

	return s.queryOne(ctx, query, userID, email)
}

// FindByUserID returns one certificate for userID chosen by sel.
func (s *CertificateStore) FindByUserID(ctx context.Context, userID string, sel store.Selection) (*models.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates
		WHERE user_id = $1
		ORDER BY ` + orderBy(sel) + ` LIMIT 1`

	return s.queryOne(ctx, query, userID)
}

// Ping checks database connectivity.
func (s *CertificateStore) Ping(ctx context.Context) error {
	return mapPostgresError(s.pool.Ping(ctx))
}

func (s *CertificateStore) queryOne(ctx context.Context, query string, args ...any) (*models.Certificate, error) {
	row := s.pool.QueryRow(ctx, query, args...)

	cert, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrCertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query certificate: %w", mapPostgresError(err))
	}

	return cert, nil
}

// orderBy returns the ORDER BY clause for the selection; seq breaks created_at ties by insertion order.
func orderBy(sel store.Selection) string {
	if sel.Newest() {
		return "created_at DESC, seq DESC"
	}
	return "created_at ASC, seq ASC"
}

func scanCertificate(row pgx.Row) (*models.Certificate, error) {
	var cert models.Certificate
	err := row.Scan(
		&cert.SerialNumber,
		&cert.UserID,
		&cert.Email,
		&cert.PublicKey,
		&cert.Issuer,
		&cert.ValidFrom,
		&cert.ValidTo,
		&cert.Signature,
		&cert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	cert.ValidFrom = cert.ValidFrom.UTC()
	cert.ValidTo = cert.ValidTo.UTC()
	cert.CreatedAt = cert.CreatedAt.UTC()

	return &cert, nil
}
