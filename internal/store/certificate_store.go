package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/userpki/internal/models"
)

// Selection decides which record wins when several certificates match a lookup.
type Selection string

const (
	// SelectLatest returns the most recently created matching certificate.
	SelectLatest Selection = "latest"
	// SelectFirst returns the earliest created matching certificate.
	SelectFirst Selection = "first"
)

// ParseSelection converts a flag value into a Selection.
func ParseSelection(s string) (Selection, error) {
	switch Selection(s) {
	case SelectLatest, SelectFirst:
		return Selection(s), nil
	case "":
		return SelectLatest, nil
	default:
		return "", fmt.Errorf("unknown selection policy %q (expected latest or first)", s)
	}
}

// Newest reports whether the selection prefers the newest record.
func (s Selection) Newest() bool {
	return s != SelectFirst
}

// CertificateStore persists issued certificates.
// Implementations never store private keys; the Certificate model has nowhere to put one.
type CertificateStore interface {
	// Insert stores a certificate. Returns ErrCertAlreadyExists if the serial number is taken.
	Insert(ctx context.Context, cert *models.Certificate) error

	// FindByIdentity returns one certificate matching userID and email, chosen by sel.
	FindByIdentity(ctx context.Context, userID, email string, sel Selection) (*models.Certificate, error)

	// FindByUserID returns one certificate issued to userID, chosen by sel.
	FindByUserID(ctx context.Context, userID string, sel Selection) (*models.Certificate, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// Errors
var (
	ErrCertNotFound      = errors.New("certificate not found")
	ErrCertAlreadyExists = errors.New("certificate already exists")
	ErrThrottled         = errors.New("AWS request throttled")
)
