package pki

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// SerialNumberBytes is the amount of entropy in a certificate serial number.
const SerialNumberBytes = 16

// NewSerialNumber returns a random, lowercase hex encoded serial number.
func NewSerialNumber() (string, error) {
	b := make([]byte, SerialNumberBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random serial: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Fingerprint computes the Base58 encoded SHA-256 of a PEM public key's DER bytes.
func Fingerprint(publicKeyPEM string) (string, error) {
	_, der, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(der)
	return base58.Encode(hash[:]), nil
}
