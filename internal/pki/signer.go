package pki

import (
	"context"
	"errors"

	"github.com/wolfeidau/userpki/internal/models"
)

// ErrSignatureInvalid is returned by Signer.Verify when a certificate's signature does not check out.
var ErrSignatureInvalid = errors.New("certificate signature invalid")

// Signer produces and checks the signature token stored on a certificate.
// Implementations include PlaceholderSigner (no authenticity) and JWTSigner (ES256 over the certificate fields).
type Signer interface {
	// Sign returns the signature token for a fully populated certificate (everything except Signature).
	Sign(ctx context.Context, cert *models.Certificate) (string, error)

	// Verify checks cert.Signature against the certificate contents.
	// Returns an error wrapping ErrSignatureInvalid when the token does not match.
	Verify(ctx context.Context, cert *models.Certificate) error

	// Authentic reports whether signatures from this signer carry any authenticity guarantee.
	Authentic() bool
}
