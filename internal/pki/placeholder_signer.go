package pki

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/wolfeidau/userpki/internal/models"
)

const placeholderSignatureBytes = 32

// PlaceholderSigner fills the signature field with random bytes unconnected to the certificate.
// It keeps the certificate layout stable for clients but provides no authenticity at all.
type PlaceholderSigner struct{}

// NewPlaceholderSigner creates a PlaceholderSigner.
func NewPlaceholderSigner() *PlaceholderSigner {
	return &PlaceholderSigner{}
}

// Sign returns 32 random bytes, hex encoded.
func (s *PlaceholderSigner) Sign(ctx context.Context, cert *models.Certificate) (string, error) {
	b := make([]byte, placeholderSignatureBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random signature: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Verify accepts every token.
func (s *PlaceholderSigner) Verify(ctx context.Context, cert *models.Certificate) error {
	return nil
}

// Authentic always returns false.
func (s *PlaceholderSigner) Authentic() bool {
	return false
}
