package certificate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/userpki/internal/models"
	"github.com/wolfeidau/userpki/internal/pki"
	"github.com/wolfeidau/userpki/internal/store"
	"github.com/wolfeidau/userpki/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// VerificationResult is returned for a current certificate.
type VerificationResult struct {
	Valid       bool                `json:"valid"`
	Certificate *models.Certificate `json:"certificate"`
}

// Verifier looks up stored certificates and checks they are still current.
// It never writes to the store.
type Verifier struct {
	store     store.CertificateStore
	signer    pki.Signer
	selection store.Selection
	now       func() time.Time
}

// NewVerifier creates a Verifier. sel decides which record wins when an identity has several.
func NewVerifier(certStore store.CertificateStore, signer pki.Signer, sel store.Selection) *Verifier {
	return &Verifier{
		store:     certStore,
		signer:    signer,
		selection: sel,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify resolves a request to exactly one of: not found, expired, invalid signature or valid.
func (v *Verifier) Verify(ctx context.Context, userID, email string) (*VerificationResult, error) {
	if userID == "" || email == "" {
		return nil, fmt.Errorf("%w: user ID and email are required", ErrValidation)
	}

	result, err := v.verify(ctx, userID, email)
	telemetry.GetMetrics().VerificationsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", resultLabel(err))))

	return result, err
}

func (v *Verifier) verify(ctx context.Context, userID, email string) (*VerificationResult, error) {
	cert, err := v.find(ctx, "find_by_identity", func(ctx context.Context) (*models.Certificate, error) {
		return v.store.FindByIdentity(ctx, userID, email, v.selection)
	})
	if err != nil {
		return nil, err
	}

	if cert.IsExpiredAt(v.now()) {
		return nil, fmt.Errorf("%w: serial %s expired at %s", ErrExpired, cert.SerialNumber, cert.ValidTo.Format(time.RFC3339))
	}

	if err := v.signer.Verify(ctx, cert); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("serial_number", cert.SerialNumber).Msg("Certificate signature rejected")
		return nil, fmt.Errorf("%w: serial %s", ErrInvalidSignature, cert.SerialNumber)
	}

	return &VerificationResult{Valid: true, Certificate: cert}, nil
}

// GetPublicKey returns the public key bound to userID.
func (v *Verifier) GetPublicKey(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user ID is required", ErrValidation)
	}

	m := telemetry.GetMetrics()

	cert, err := v.find(ctx, "find_by_user", func(ctx context.Context) (*models.Certificate, error) {
		return v.store.FindByUserID(ctx, userID, v.selection)
	})
	if err == nil && cert.PublicKey == "" {
		err = fmt.Errorf("%w: no public key recorded for user", ErrNotFound)
	}
	m.PublicKeyLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultLabel(err))))
	if err != nil {
		return "", err
	}

	return cert.PublicKey, nil
}

// find runs a store lookup, converting store errors into the package taxonomy.
func (v *Verifier) find(ctx context.Context, op string, lookup func(context.Context) (*models.Certificate, error)) (*models.Certificate, error) {
	started := time.Now()
	cert, err := lookup(ctx)
	telemetry.RecordStoreOperation(ctx, op, started, err)

	switch {
	case err == nil:
		return cert, nil
	case errors.Is(err, store.ErrCertNotFound):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "error"
	}
}
