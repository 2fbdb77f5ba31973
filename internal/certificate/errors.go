package certificate

import "errors"

// Errors returned by Issuer and Verifier. Callers classify with errors.Is.
var (
	ErrValidation       = errors.New("invalid request")
	ErrNotFound         = errors.New("certificate not found")
	ErrExpired          = errors.New("certificate expired")
	ErrInvalidSignature = errors.New("certificate signature invalid")
	ErrStorage          = errors.New("certificate store failure")
	ErrInternal         = errors.New("internal error")
)
