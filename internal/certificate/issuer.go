package certificate

import (
	"context"
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

// Issuer generates key pairs and persists certificates binding them to an identity.
type Issuer struct {
	keys   pki.KeyGenerator
	signer pki.Signer
	store  store.CertificateStore
	now    func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(keys pki.KeyGenerator, signer pki.Signer, certStore store.CertificateStore) *Issuer {
	return &Issuer{
		keys:   keys,
		signer: signer,
		store:  certStore,
		now:    time.Now,
	}
}

// WithClock overrides the time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue creates, signs and stores a certificate for the identity, returning it with the PEM private key.
// The private key is not retained; a failed store write means the caller must issue again.
func (i *Issuer) Issue(ctx context.Context, userID, email string) (*models.Certificate, string, error) {
	if userID == "" || email == "" {
		return nil, "", fmt.Errorf("%w: user ID and email are required", ErrValidation)
	}

	m := telemetry.GetMetrics()
	logger := zerolog.Ctx(ctx).With().Str("user_id", userID).Logger()

	started := time.Now()
	keyPair, err := i.keys.Generate(ctx)
	if err != nil {
		m.IssueErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "keygen")))
		return nil, "", fmt.Errorf("%w: failed to generate key pair: %w", ErrInternal, err)
	}
	m.KeyGenerationDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	serial, err := pki.NewSerialNumber()
	if err != nil {
		m.IssueErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "serial")))
		return nil, "", fmt.Errorf("%w: %w", ErrInternal, err)
	}

	validFrom := i.now()
	cert := &models.Certificate{
		SerialNumber: serial,
		UserID:       userID,
		Email:        email,
		PublicKey:    keyPair.PublicKey,
		Issuer:       models.IssuerName,
		ValidFrom:    validFrom,
		ValidTo:      validFrom.Add(models.ValidityPeriod),
	}

	cert.Signature, err = i.signer.Sign(ctx, cert)
	if err != nil {
		m.IssueErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "sign")))
		return nil, "", fmt.Errorf("%w: failed to sign certificate: %w", ErrInternal, err)
	}

	cert.CreatedAt = i.now()

	storeStarted := time.Now()
	err = i.store.Insert(ctx, cert)
	telemetry.RecordStoreOperation(ctx, "insert", storeStarted, err)
	if err != nil {
		m.IssueErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "store")))
		return nil, "", fmt.Errorf("%w: failed to store certificate: %w", ErrStorage, err)
	}

	m.CertificatesIssuedTotal.Add(ctx, 1)

	event := logger.Info().
		Str("serial_number", cert.SerialNumber).
		Time("valid_to", cert.ValidTo)
	if fingerprint, err := pki.Fingerprint(cert.PublicKey); err == nil {
		event = event.Str("key_fingerprint", fingerprint)
	}
	event.Msg("Certificate issued")

	return cert, keyPair.PrivateKey, nil
}
