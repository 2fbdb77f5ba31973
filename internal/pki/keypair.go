package pki

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/wolfeidau/userpki/internal/models"
)

const (
	// DefaultRSABits is the modulus size used for issued key pairs.
	DefaultRSABits = 2048

	minRSABits = 2048
)

// KeyGenerator produces fresh asymmetric key pairs.
// Implementations must be safe for concurrent use.
type KeyGenerator interface {
	Generate(ctx context.Context) (*models.KeyPair, error)
}

// RSAKeyGenerator generates RSA key pairs encoded as PEM SubjectPublicKeyInfo / PKCS#8.
// It holds no mutable state.
type RSAKeyGenerator struct {
	bits int
}

// NewRSAKeyGenerator creates a generator for the given modulus size.
// Zero selects DefaultRSABits; anything below 2048 bits is rejected.
func NewRSAKeyGenerator(bits int) (*RSAKeyGenerator, error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	if bits < minRSABits {
		return nil, fmt.Errorf("RSA modulus must be at least %d bits, got %d", minRSABits, bits)
	}
	return &RSAKeyGenerator{bits: bits}, nil
}

// Bits returns the modulus size.
func (g *RSAKeyGenerator) Bits() int {
	return g.bits
}

// Generate creates a new RSA key pair.
func (g *RSAKeyGenerator) Generate(ctx context.Context) (*models.KeyPair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, g.bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return &models.KeyPair{
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})),
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})),
	}, nil
}

// ParsePublicKeyPEM decodes a PEM encoded SubjectPublicKeyInfo block.
func ParsePublicKeyPEM(publicKeyPEM string) (any, []byte, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, nil, fmt.Errorf("failed to decode PEM block")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, nil, fmt.Errorf("unexpected PEM type %q", block.Type)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return pub, block.Bytes, nil
}

// ParsePrivateKeyPEM decodes a PEM encoded PKCS#8 private key.
func ParsePrivateKeyPEM(privateKeyPEM string) (any, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("unexpected PEM type %q", block.Type)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return key, nil
}
